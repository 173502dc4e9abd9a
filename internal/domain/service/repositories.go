/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package service

import (
	"context"
	"time"

	"github.com/kentakayama/consent-over-http/internal/domain/model"
)

// ConsentRegistry stores issued consents keyed by their id.
//
// Implementations must be safe for concurrent use and linearizable per id:
// of several concurrent Put calls for one id exactly one succeeds and the
// rest fail with domain.ErrDuplicateID. Reads never delete or modify entries.
type ConsentRegistry interface {
	// Put stores a new consent. An id is not accepted again while its entry,
	// revoked or not, is held; Sweep releases the ids it removes.
	Put(ctx context.Context, c model.SignedConsent) error
	// Get returns a private copy of the consent, domain.ErrNotFound when the id
	// is unknown or domain.ErrRevoked when it has been revoked.
	Get(ctx context.Context, id string) (model.SignedConsent, error)
	// IsExpired compares now with the stored expiry. Revoked entries are still
	// evaluated so that late audits remain possible.
	IsExpired(ctx context.Context, id string, now time.Time) (bool, error)
	// Revoke tombstones the entry. Revoking twice returns domain.ErrRevoked.
	Revoke(ctx context.Context, id string, at time.Time) error
	// Status reports the lifecycle state at now; unknown ids are StatusUnknown.
	Status(ctx context.Context, id string, now time.Time) (model.Status, error)
	// List returns every entry, revoked and expired ones included, ordered by creation.
	List(ctx context.Context) ([]model.Entry, error)
	// Sweep physically removes entries that expired at or before the given
	// instant, revoked tombstones included.
	Sweep(ctx context.Context, before time.Time) (int, error)
}
