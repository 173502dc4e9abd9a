/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package signer

import (
	"bytes"
	"crypto"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/kentakayama/consent-over-http/internal/domain/model"
	"github.com/veraison/go-cose"
)

// Verifier checks consent signatures with a published verification key only.
type Verifier struct {
	key      *cose.Key
	kid      []byte
	verifier cose.Verifier
}

// NewVerifier builds a Verifier from a COSE_Key holding a public key.
func NewVerifier(key *cose.Key) (*Verifier, error) {
	if key == nil {
		return nil, errors.New("public key is nil")
	}
	alg, err := key.AlgorithmOrDefault()
	if err != nil {
		return nil, fmt.Errorf("detect algorithm id: %w", err)
	}
	if alg != Algorithm {
		return nil, fmt.Errorf("unsupported algorithm: %v", alg)
	}
	pub, err := key.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("creating crypto.PublicKey: %w", err)
	}
	verifier, err := cose.NewVerifier(alg, pub)
	if err != nil {
		return nil, fmt.Errorf("init verifier: %w", err)
	}
	kid, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("key thumbprint: %w", err)
	}
	return &Verifier{
		key:      key,
		kid:      kid,
		verifier: verifier,
	}, nil
}

// ParsePublicKey decodes a CBOR encoded COSE_Key and builds a Verifier from it.
func ParsePublicKey(data []byte) (*Verifier, error) {
	var key cose.Key
	if err := cbor.Unmarshal(data, &key); err != nil {
		return nil, fmt.Errorf("parse COSE_Key: %w", err)
	}
	return NewVerifier(&key)
}

// MarshalPublicKey encodes the verification key as a CBOR COSE_Key.
func (v *Verifier) MarshalPublicKey() ([]byte, error) {
	return cbor.Marshal(v.key)
}

// Verify recomputes the canonical encoding of c and checks signature against it.
func (v *Verifier) Verify(c model.Claims, signature []byte) bool {
	canonical, err := Canonicalize(c)
	if err != nil {
		return false
	}
	return v.VerifyCanonical(canonical, signature)
}

// VerifyCanonical checks signature against already canonical claim bytes.
func (v *Verifier) VerifyCanonical(canonical []byte, signature []byte) bool {
	if len(canonical) == 0 || len(signature) == 0 {
		return false
	}
	msg := Envelope(canonical, nil, signature)
	return msg.Verify(nil, v.verifier) == nil
}

// MatchesKeyID reports whether kid names this verifier's key.
func (v *Verifier) MatchesKeyID(kid []byte) bool {
	return bytes.Equal(v.kid, kid)
}

func (v *Verifier) Key() *cose.Key {
	return v.key
}

func (v *Verifier) KeyID() []byte {
	return v.kid
}
