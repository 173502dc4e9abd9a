/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/kentakayama/consent-over-http/internal/domain"
	"github.com/kentakayama/consent-over-http/internal/domain/model"
	"github.com/veraison/go-cose"
)

// Algorithm is the COSE algorithm consents are signed with.
const Algorithm = cose.AlgorithmEdDSA

// Signer owns the authority's Ed25519 keypair. It is created once at startup
// and is read-only afterwards.
type Signer struct {
	signer   cose.Signer
	verifier *Verifier
}

// Generate creates a Signer with a fresh keypair drawn from r (crypto/rand when nil).
// The error wraps domain.ErrKeyGeneration and is meant to abort startup.
func Generate(r io.Reader) (*Signer, error) {
	if r == nil {
		r = rand.Reader
	}
	pub, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyGeneration, err)
	}

	coseSigner, err := cose.NewSigner(Algorithm, priv)
	if err != nil {
		return nil, fmt.Errorf("%w: init signer: %v", domain.ErrKeyGeneration, err)
	}
	key, err := cose.NewKeyOKP(Algorithm, pub, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %v", domain.ErrKeyGeneration, err)
	}
	verifier, err := NewVerifier(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyGeneration, err)
	}

	return &Signer{
		signer:   coseSigner,
		verifier: verifier,
	}, nil
}

// Canonicalize is the package level Canonicalize.
func (s *Signer) Canonicalize(c model.Claims) ([]byte, error) {
	return Canonicalize(c)
}

// Sign signs the canonical encoding of c and returns the detached signature
// together with the digest of the same bytes.
func (s *Signer) Sign(c model.Claims) (signature []byte, digest []byte, err error) {
	canonical, err := Canonicalize(c)
	if err != nil {
		return nil, nil, err
	}

	msg := Envelope(canonical, s.verifier.KeyID(), nil)
	if err := msg.Sign(rand.Reader, nil, s.signer); err != nil {
		return nil, nil, fmt.Errorf("sign consent: %w", err)
	}
	return msg.Signature, Digest(canonical), nil
}

// Verify checks signature against the canonical encoding of c.
func (s *Signer) Verify(c model.Claims, signature []byte) bool {
	return s.verifier.Verify(c, signature)
}

// Verifier returns the verify-only half of the keypair.
func (s *Signer) Verifier() *Verifier {
	return s.verifier
}

// PublicKey returns the published verification key.
func (s *Signer) PublicKey() *cose.Key {
	return s.verifier.Key()
}

// KeyID is the COSE key thumbprint of the verification key.
func (s *Signer) KeyID() []byte {
	return s.verifier.KeyID()
}

// Envelope builds the COSE_Sign1 structure carrying canonical claims.
// Only the protected header is covered by the signature; kid is a hint.
func Envelope(canonical []byte, kid []byte, signature []byte) *cose.Sign1Message {
	msg := &cose.Sign1Message{
		Headers: cose.Headers{
			Protected: cose.ProtectedHeader{
				cose.HeaderLabelAlgorithm: Algorithm,
			},
			Unprotected: cose.UnprotectedHeader{},
		},
		Payload:   canonical,
		Signature: signature,
	}
	if len(kid) > 0 {
		msg.Headers.Unprotected[cose.HeaderLabelKeyID] = kid
	}
	return msg
}
