/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package token converts signed consents to and from their transportable
// form, a tagged COSE_Sign1 whose payload is the canonical claim encoding.
package token

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/kentakayama/consent-over-http/internal/domain"
	"github.com/kentakayama/consent-over-http/internal/domain/model"
	"github.com/kentakayama/consent-over-http/internal/signer"
	"github.com/kentakayama/consent-over-http/internal/util"
	"github.com/veraison/go-cose"
)

// Token is a decoded consent token.
type Token struct {
	Consent model.SignedConsent
	// KeyID is the unprotected kid hint, nil when absent.
	KeyID []byte
}

// Codec encodes consents. KeyID, when set, is written as the kid hint.
type Codec struct {
	KeyID []byte
}

// Encode returns the COSE_Sign1 form of c. The digest is not carried.
func (cd Codec) Encode(c model.SignedConsent) ([]byte, error) {
	canonical, err := signer.Canonicalize(c.Claims)
	if err != nil {
		return nil, err
	}
	if len(c.Signature) == 0 {
		return nil, fmt.Errorf("%w: missing signature", domain.ErrMalformedToken)
	}
	return signer.Envelope(canonical, cd.KeyID, c.Signature).MarshalCBOR()
}

// EncodeString is Encode in unpadded base64url, the form carried by QR codes and links.
func (cd Codec) EncodeString(c model.SignedConsent) (string, error) {
	b, err := cd.Encode(c)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Decode parses a token. The digest is recomputed from the claims. It does
// not check the signature; see signer.Verifier.
func Decode(data []byte) (*Token, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(data); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedToken, err)
	}
	alg, err := msg.Headers.Protected.Algorithm()
	if err != nil || alg != signer.Algorithm {
		return nil, fmt.Errorf("%w: unexpected algorithm", domain.ErrMalformedToken)
	}
	if len(msg.Signature) == 0 {
		return nil, fmt.Errorf("%w: missing signature", domain.ErrMalformedToken)
	}

	claims, err := signer.ParseCanonical(msg.Payload)
	if err != nil {
		return nil, err
	}

	t := &Token{
		Consent: model.SignedConsent{
			Claims:    claims,
			Signature: msg.Signature,
			Digest:    signer.Digest(msg.Payload),
		},
	}
	if kid, ok := msg.Headers.Unprotected[cose.HeaderLabelKeyID].([]byte); ok && len(kid) > 0 {
		t.KeyID = kid
	}
	return t, nil
}

// DecodeString is Decode for the base64url text form.
func DecodeString(s string) (*Token, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedToken, err)
	}
	return Decode(b)
}

// Inspect renders a token as indented JSON for humans: the decoded claims
// next to the raw COSE structure.
func Inspect(data []byte) (string, error) {
	t, err := Decode(data)
	if err != nil {
		return "", err
	}
	var envelope any
	if err := cbor.Unmarshal(data, &envelope); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrMalformedToken, err)
	}

	c := t.Consent
	view := map[string]any{
		"claims": map[string]any{
			"id":        c.Claims.ID,
			"createdAt": c.Claims.CreatedAt.Format(time.RFC3339),
			"expiresAt": c.Claims.ExpiresAt.Format(time.RFC3339),
			"scope":     c.Claims.Scope.Strings(),
		},
		"digest":   c.Digest,
		"envelope": envelope,
	}
	if t.KeyID != nil {
		view["kid"] = t.KeyID
	}
	return util.PrettyJSON(view)
}
