/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kentakayama/consent-over-http/internal/domain"
	"github.com/kentakayama/consent-over-http/internal/domain/model"
	"github.com/kentakayama/consent-over-http/internal/domain/service"
)

type memoryEntry struct {
	consent   model.SignedConsent
	revokedAt *time.Time
}

// Memory is a process local ConsentRegistry.
type Memory struct {
	mu       sync.RWMutex
	consents map[string]*memoryEntry
}

var _ service.ConsentRegistry = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		consents: make(map[string]*memoryEntry),
	}
}

func (m *Memory) Put(_ context.Context, c model.SignedConsent) error {
	if err := c.Claims.Validate(); err != nil {
		return err
	}
	stored := c.Clone()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.consents[c.Claims.ID]; ok {
		return domain.ErrDuplicateID
	}
	m.consents[c.Claims.ID] = &memoryEntry{consent: stored}
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (model.SignedConsent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.consents[id]
	if !ok {
		return model.SignedConsent{}, domain.ErrNotFound
	}
	if e.revokedAt != nil {
		return model.SignedConsent{}, domain.ErrRevoked
	}
	return e.consent.Clone(), nil
}

func (m *Memory) IsExpired(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.consents[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	return e.consent.Claims.IsExpired(now), nil
}

func (m *Memory) Revoke(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.consents[id]
	if !ok {
		return domain.ErrNotFound
	}
	if e.revokedAt != nil {
		return domain.ErrRevoked
	}
	revokedAt := model.Timestamp(at)
	e.revokedAt = &revokedAt
	return nil
}

func (m *Memory) Status(_ context.Context, id string, now time.Time) (model.Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.consents[id]
	if !ok {
		return model.StatusUnknown, nil
	}
	return m.entry(e).StatusAt(now), nil
}

func (m *Memory) List(_ context.Context) ([]model.Entry, error) {
	m.mu.RLock()
	entries := make([]model.Entry, 0, len(m.consents))
	for _, e := range m.consents {
		entries = append(entries, m.entry(e))
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].Consent.Claims, entries[j].Consent.Claims
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return entries, nil
}

func (m *Memory) Sweep(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, e := range m.consents {
		if e.consent.Claims.IsExpired(before) {
			delete(m.consents, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored entries, revoked ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.consents)
}

func (m *Memory) entry(e *memoryEntry) model.Entry {
	out := model.Entry{Consent: e.consent.Clone()}
	if e.revokedAt != nil {
		at := *e.revokedAt
		out.RevokedAt = &at
	}
	return out
}
