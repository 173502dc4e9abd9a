/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/kentakayama/consent-over-http/internal/domain"
)

// ConsentIDBytes is the amount of randomness behind a consent id (128 bits).
const ConsentIDBytes = 16

// Claims is the signed content of a consent.
type Claims struct {
	ID        string
	CreatedAt time.Time
	ExpiresAt time.Time
	Scope     Scope
}

// SignedConsent is a consent as issued: claims, their signature and the
// digest of their canonical encoding. The digest is informational only.
type SignedConsent struct {
	Claims    Claims
	Signature []byte
	Digest    []byte
}

// NewConsentID draws a fresh hex encoded id from r, or crypto/rand when r is nil.
func NewConsentID(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	b := make([]byte, ConsentIDBytes)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("%w: read random: %v", domain.ErrKeyGeneration, err)
	}
	return hex.EncodeToString(b), nil
}

// Timestamp normalizes t to whole seconds in UTC, the resolution claims are signed at.
func Timestamp(t time.Time) time.Time {
	return time.Unix(t.Unix(), 0).UTC()
}

// Validate checks the structural invariants of the claims.
func (c Claims) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: empty id", domain.ErrInvalidClaims)
	}
	if !c.ExpiresAt.After(c.CreatedAt) {
		return fmt.Errorf("%w: expiresAt must be after createdAt", domain.ErrInvalidClaims)
	}
	if len(c.Scope) == 0 {
		return fmt.Errorf("%w: empty scope", domain.ErrInvalidClaims)
	}
	return nil
}

// IsExpired reports whether the claims are expired at now. The expiry
// instant itself is already expired.
func (c Claims) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Clone returns a deep copy so callers never share mutable slices with a store.
func (s SignedConsent) Clone() SignedConsent {
	return SignedConsent{
		Claims: Claims{
			ID:        s.Claims.ID,
			CreatedAt: s.Claims.CreatedAt,
			ExpiresAt: s.Claims.ExpiresAt,
			Scope:     s.Claims.Scope.Clone(),
		},
		Signature: bytes.Clone(s.Signature),
		Digest:    bytes.Clone(s.Digest),
	}
}
