/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import "time"

// Status is the lifecycle state of a registered consent.
type Status int

const (
	StatusUnknown Status = iota
	StatusActive
	StatusExpired
	StatusRevoked
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusExpired:
		return "expired"
	case StatusRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// Entry is a registry record as seen by audit listings.
type Entry struct {
	Consent   SignedConsent
	RevokedAt *time.Time // nil if not revoked
}

// StatusAt evaluates the entry at now. Revocation wins over expiry.
func (e Entry) StatusAt(now time.Time) Status {
	if e.RevokedAt != nil {
		return StatusRevoked
	}
	if e.Consent.Claims.IsExpired(now) {
		return StatusExpired
	}
	return StatusActive
}
