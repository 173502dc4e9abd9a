/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("consent not found")
	ErrDuplicateID     = errors.New("consent id already registered")
	ErrTampered        = errors.New("consent signature does not verify")
	ErrExpired         = errors.New("consent expired")
	ErrScopeDenied     = errors.New("capability not in consent scope")
	ErrMalformedToken  = errors.New("malformed consent token")
	ErrKeyGeneration   = errors.New("key generation failed")
	ErrInvalidScope    = errors.New("invalid consent scope")
	ErrInvalidTTL      = errors.New("invalid consent ttl")
	ErrInvalidClaims   = errors.New("invalid consent claims")
	ErrUnknownPlatform = errors.New("unknown agent platform")

	// ErrRevoked is reported as ErrNotFound on the redemption path, but stays
	// distinguishable for auditing.
	ErrRevoked = fmt.Errorf("%w: revoked", ErrNotFound)
)
