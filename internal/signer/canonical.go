/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package signer

import (
	"bytes"
	"crypto/sha512"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/kentakayama/consent-over-http/internal/domain"
	"github.com/kentakayama/consent-over-http/internal/domain/model"
)

// canonicalClaims is the wire form of model.Claims.
// Core Deterministic Encoding (RFC 8949 4.2.1) orders the keys by their
// encoded bytes: id, scope, createdAt, expiresAt.
// The times are pointers so that an absent key differs from Unix time 0.
type canonicalClaims struct {
	CreatedAt *int64   `cbor:"createdAt"`
	ExpiresAt *int64   `cbor:"expiresAt"`
	ID        string   `cbor:"id"`
	Scope     []string `cbor:"scope"`
}

var (
	canonicalEncMode = mustEncMode()
	canonicalDecMode = mustDecMode()
)

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

func mustDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		IndefLength:       cbor.IndefLengthForbidden,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}

// Canonicalize returns the unique byte encoding of the claims that is signed
// and verified. Scope order and duplicates do not affect the result.
func Canonicalize(c model.Claims) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	scope, err := model.NewScope(c.Scope.Strings()...)
	if err != nil {
		return nil, err
	}
	createdAt, expiresAt := c.CreatedAt.Unix(), c.ExpiresAt.Unix()
	return canonicalEncMode.Marshal(canonicalClaims{
		CreatedAt: &createdAt,
		ExpiresAt: &expiresAt,
		ID:        c.ID,
		Scope:     scope.Strings(),
	})
}

// ParseCanonical is the inverse of Canonicalize. Input that decodes but is
// not in canonical form is rejected, so a signature can only ever cover one
// encoding of a claim set.
func ParseCanonical(data []byte) (model.Claims, error) {
	var cc canonicalClaims
	if err := canonicalDecMode.Unmarshal(data, &cc); err != nil {
		return model.Claims{}, fmt.Errorf("%w: %v", domain.ErrMalformedToken, err)
	}
	if cc.ID == "" || cc.CreatedAt == nil || cc.ExpiresAt == nil || len(cc.Scope) == 0 {
		return model.Claims{}, fmt.Errorf("%w: missing claim", domain.ErrMalformedToken)
	}
	scope, err := model.NewScope(cc.Scope...)
	if err != nil {
		return model.Claims{}, fmt.Errorf("%w: %v", domain.ErrMalformedToken, err)
	}
	claims := model.Claims{
		ID:        cc.ID,
		CreatedAt: time.Unix(*cc.CreatedAt, 0).UTC(),
		ExpiresAt: time.Unix(*cc.ExpiresAt, 0).UTC(),
		Scope:     scope,
	}

	again, err := Canonicalize(claims)
	if err != nil {
		return model.Claims{}, fmt.Errorf("%w: %v", domain.ErrMalformedToken, err)
	}
	if !bytes.Equal(again, data) {
		return model.Claims{}, fmt.Errorf("%w: claims are not canonically encoded", domain.ErrMalformedToken)
	}
	return claims, nil
}

// Digest is the SHA-384 hash of a canonical encoding.
func Digest(canonical []byte) []byte {
	d := sha512.Sum384(canonical)
	return d[:]
}
