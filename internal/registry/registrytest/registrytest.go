/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package registrytest holds behaviour tests shared by every ConsentRegistry
// implementation.
package registrytest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kentakayama/consent-over-http/internal/domain"
	"github.com/kentakayama/consent-over-http/internal/domain/model"
	"github.com/kentakayama/consent-over-http/internal/domain/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty registry for one subtest.
type Factory func(t *testing.T) service.ConsentRegistry

// Consent builds a structurally valid consent; the signature is a placeholder.
func Consent(id string, createdAt time.Time, ttl time.Duration) model.SignedConsent {
	createdAt = model.Timestamp(createdAt)
	return model.SignedConsent{
		Claims: model.Claims{
			ID:        id,
			CreatedAt: createdAt,
			ExpiresAt: createdAt.Add(ttl),
			Scope:     model.Scope{model.CapabilityScreenshot, model.CapabilityShell},
		},
		Signature: []byte("signature-" + id),
		Digest:    []byte("digest-" + id),
	}
}

// Run exercises the ConsentRegistry contract.
func Run(t *testing.T, newRegistry Factory) {
	t.Run("PutGet", func(t *testing.T) { testPutGet(t, newRegistry(t)) })
	t.Run("DuplicateID", func(t *testing.T) { testDuplicateID(t, newRegistry(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newRegistry(t)) })
	t.Run("IsExpired", func(t *testing.T) { testIsExpired(t, newRegistry(t)) })
	t.Run("Revoke", func(t *testing.T) { testRevoke(t, newRegistry(t)) })
	t.Run("StatusAndList", func(t *testing.T) { testStatusAndList(t, newRegistry(t)) })
	t.Run("Sweep", func(t *testing.T) { testSweep(t, newRegistry(t)) })
	t.Run("SweepReleasesRevokedID", func(t *testing.T) { testSweepReleasesRevokedID(t, newRegistry(t)) })
	t.Run("ConcurrentPut", func(t *testing.T) { testConcurrentPut(t, newRegistry(t)) })
	t.Run("ConcurrentDuplicatePut", func(t *testing.T) { testConcurrentDuplicatePut(t, newRegistry(t)) })
}

func testPutGet(t *testing.T, r service.ConsentRegistry) {
	ctx := context.Background()
	c := Consent("id-1", time.Now(), time.Hour)
	require.Nil(t, r.Put(ctx, c))

	got, err := r.Get(ctx, "id-1")
	require.Nil(t, err)
	assert.Equal(t, c, got)

	// the returned value is a snapshot, mutating it must not leak into the store
	got.Signature[0] ^= 0xff
	got.Claims.Scope[0] = model.CapabilityCamera
	again, err := r.Get(ctx, "id-1")
	require.Nil(t, err)
	assert.Equal(t, c, again)
}

func testDuplicateID(t *testing.T, r service.ConsentRegistry) {
	ctx := context.Background()
	require.Nil(t, r.Put(ctx, Consent("dup", time.Now(), time.Hour)))
	err := r.Put(ctx, Consent("dup", time.Now().Add(time.Minute), 2*time.Hour))
	assert.ErrorIs(t, err, domain.ErrDuplicateID)

	// a revoked id stays taken
	require.Nil(t, r.Revoke(ctx, "dup", time.Now()))
	err = r.Put(ctx, Consent("dup", time.Now(), time.Hour))
	assert.ErrorIs(t, err, domain.ErrDuplicateID)
}

func testNotFound(t *testing.T, r service.ConsentRegistry) {
	ctx := context.Background()
	_, err := r.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = r.IsExpired(ctx, "missing", time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = r.Revoke(ctx, "missing", time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, errors.Is(err, domain.ErrRevoked))
}

func testIsExpired(t *testing.T, r service.ConsentRegistry) {
	ctx := context.Background()
	c := Consent("exp", time.Now(), time.Hour)
	require.Nil(t, r.Put(ctx, c))

	expired, err := r.IsExpired(ctx, "exp", c.Claims.CreatedAt.Add(30*time.Minute))
	require.Nil(t, err)
	assert.False(t, expired)

	expired, err = r.IsExpired(ctx, "exp", c.Claims.ExpiresAt)
	require.Nil(t, err)
	assert.True(t, expired)

	// evaluating expiry must not remove the entry
	_, err = r.Get(ctx, "exp")
	assert.Nil(t, err)
}

func testRevoke(t *testing.T, r service.ConsentRegistry) {
	ctx := context.Background()
	c := Consent("rev", time.Now(), time.Hour)
	require.Nil(t, r.Put(ctx, c))
	require.Nil(t, r.Revoke(ctx, "rev", time.Now()))

	_, err := r.Get(ctx, "rev")
	assert.ErrorIs(t, err, domain.ErrRevoked)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, r.Revoke(ctx, "rev", time.Now()), domain.ErrRevoked)

	// the tombstone keeps the record for audits
	expired, err := r.IsExpired(ctx, "rev", c.Claims.ExpiresAt.Add(time.Second))
	require.Nil(t, err)
	assert.True(t, expired)
}

func testStatusAndList(t *testing.T, r service.ConsentRegistry) {
	ctx := context.Background()
	now := model.Timestamp(time.Now())
	active := Consent("a-active", now, time.Hour)
	expired := Consent("b-expired", now.Add(-2*time.Hour), time.Hour)
	revoked := Consent("c-revoked", now.Add(time.Second), time.Hour)
	for _, c := range []model.SignedConsent{active, expired, revoked} {
		require.Nil(t, r.Put(ctx, c))
	}
	require.Nil(t, r.Revoke(ctx, "c-revoked", now))

	for id, want := range map[string]model.Status{
		"a-active":  model.StatusActive,
		"b-expired": model.StatusExpired,
		"c-revoked": model.StatusRevoked,
		"missing":   model.StatusUnknown,
	} {
		got, err := r.Status(ctx, id, now)
		require.Nil(t, err)
		assert.Equal(t, want, got, id)
	}

	entries, err := r.List(ctx)
	require.Nil(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "b-expired", entries[0].Consent.Claims.ID)
	assert.Equal(t, "a-active", entries[1].Consent.Claims.ID)
	assert.Equal(t, "c-revoked", entries[2].Consent.Claims.ID)
	require.NotNil(t, entries[2].RevokedAt)
	assert.True(t, entries[2].RevokedAt.Equal(now))
	assert.Nil(t, entries[0].RevokedAt)
}

func testSweep(t *testing.T, r service.ConsentRegistry) {
	ctx := context.Background()
	now := model.Timestamp(time.Now())
	require.Nil(t, r.Put(ctx, Consent("old", now.Add(-2*time.Hour), time.Hour)))
	require.Nil(t, r.Put(ctx, Consent("edge", now.Add(-time.Hour), time.Hour)))
	require.Nil(t, r.Put(ctx, Consent("fresh", now, time.Hour)))

	removed, err := r.Sweep(ctx, now)
	require.Nil(t, err)
	assert.Equal(t, 2, removed)

	_, err = r.Get(ctx, "old")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = r.Get(ctx, "edge")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = r.Get(ctx, "fresh")
	assert.Nil(t, err)
}

func testSweepReleasesRevokedID(t *testing.T, r service.ConsentRegistry) {
	ctx := context.Background()
	now := model.Timestamp(time.Now())
	require.Nil(t, r.Put(ctx, Consent("reused", now.Add(-2*time.Hour), time.Hour)))
	require.Nil(t, r.Revoke(ctx, "reused", now.Add(-90*time.Minute)))

	// the tombstone still holds the id
	assert.ErrorIs(t, r.Put(ctx, Consent("reused", now, time.Hour)), domain.ErrDuplicateID)

	removed, err := r.Sweep(ctx, now)
	require.Nil(t, err)
	assert.Equal(t, 1, removed)

	require.Nil(t, r.Put(ctx, Consent("reused", now, time.Hour)))
	_, err = r.Get(ctx, "reused")
	assert.Nil(t, err)
}

func testConcurrentPut(t *testing.T, r service.ConsentRegistry) {
	ctx := context.Background()
	const workers, perWorker = 8, 25
	now := time.Now()

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				errs <- r.Put(ctx, Consent(fmt.Sprintf("w%d-%d", w, i), now, time.Hour))
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.Nil(t, err)
	}

	entries, err := r.List(ctx)
	require.Nil(t, err)
	assert.Len(t, entries, workers*perWorker)
}

func testConcurrentDuplicatePut(t *testing.T, r service.ConsentRegistry) {
	ctx := context.Background()
	const callers = 16
	now := time.Now()

	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- r.Put(ctx, Consent("same", now, time.Hour))
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrDuplicateID)
	}
	assert.Equal(t, 1, succeeded)
}
