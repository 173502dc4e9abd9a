/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package authority

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/kentakayama/consent-over-http/internal/agent"
	"github.com/kentakayama/consent-over-http/internal/audit"
	"github.com/kentakayama/consent-over-http/internal/domain"
	"github.com/kentakayama/consent-over-http/internal/domain/model"
	"github.com/kentakayama/consent-over-http/internal/infra/sqlite"
	"github.com/kentakayama/consent-over-http/internal/registry"
	"github.com/kentakayama/consent-over-http/internal/signer"
	"github.com/kentakayama/consent-over-http/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var issueTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	authority *Authority
	registry  *registry.Memory
	signer    *signer.Signer
	audit     *audit.MemorySink
	logs      *bytes.Buffer
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	s, err := signer.Generate(nil)
	require.Nil(t, err)
	catalog, err := agent.Default()
	require.Nil(t, err)

	f := &fixture{
		registry: registry.NewMemory(),
		signer:   s,
		audit:    audit.NewMemorySink(),
		logs:     &bytes.Buffer{},
	}
	opts = append([]Option{
		WithClock(func() time.Time { return issueTime }),
		WithAudit(f.audit),
		WithLogger(log.New(f.logs, "", 0)),
	}, opts...)
	f.authority, err = New(s, f.registry, catalog, opts...)
	require.Nil(t, err)
	return f
}

func scopeOf(t *testing.T, tags ...string) model.Scope {
	t.Helper()
	s, err := model.NewScope(tags...)
	require.Nil(t, err)
	return s
}

func TestAuthority_Scenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.authority.Issue(ctx, scopeOf(t, "screenshot"), time.Hour)
	require.Nil(t, err)
	id := issued.Consent.Claims.ID
	assert.Equal(t, issueTime, issued.Consent.Claims.CreatedAt)
	assert.Equal(t, issueTime.Add(time.Hour), issued.Consent.Claims.ExpiresAt)

	payload, err := f.authority.Redeem(ctx, id, model.CapabilityScreenshot, "linux", issueTime.Add(30*time.Minute))
	require.Nil(t, err)
	assert.Contains(t, string(payload), id)

	payload, err = f.authority.Redeem(ctx, id, model.CapabilityShell, "linux", issueTime.Add(30*time.Minute))
	assert.ErrorIs(t, err, domain.ErrScopeDenied)
	assert.Nil(t, payload)

	payload, err = f.authority.Redeem(ctx, id, model.CapabilityScreenshot, "linux", issueTime.Add(61*time.Minute))
	assert.ErrorIs(t, err, domain.ErrExpired)
	assert.Nil(t, payload)

	assert.Equal(t, 1, f.audit.Count(audit.KindIssued))
	assert.Equal(t, 1, f.audit.Count(audit.KindRedeemed))
	assert.Equal(t, 2, f.audit.Count(audit.KindDeclined))
}

func TestAuthority_ExpiryBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.authority.Issue(ctx, scopeOf(t, "camera"), time.Hour)
	require.Nil(t, err)
	c := issued.Consent.Claims

	_, err = f.authority.Redeem(ctx, c.ID, model.CapabilityCamera, "ios", c.ExpiresAt.Add(-time.Second))
	assert.Nil(t, err)
	_, err = f.authority.Redeem(ctx, c.ID, model.CapabilityCamera, "ios", c.ExpiresAt)
	assert.ErrorIs(t, err, domain.ErrExpired)
	_, err = f.authority.Redeem(ctx, c.ID, model.CapabilityCamera, "ios", c.ExpiresAt.Add(time.Second))
	assert.ErrorIs(t, err, domain.ErrExpired)
}

func TestAuthority_FractionalLifetime(t *testing.T) {
	f := newFixture(t, WithClock(func() time.Time { return issueTime.Add(700 * time.Millisecond) }))
	ctx := context.Background()

	ttl := time.Duration(1.0001 * float64(time.Hour))
	issued, err := f.authority.Issue(ctx, scopeOf(t, "screenshot"), ttl)
	require.Nil(t, err)
	c := issued.Consent.Claims
	assert.Equal(t, issueTime, c.CreatedAt)
	assert.Equal(t, issueTime.Add(3600*time.Second), c.ExpiresAt)

	decoded, err := token.Decode(issued.Token)
	require.Nil(t, err)
	assert.Equal(t, issued.Consent, decoded.Consent)

	stored, err := f.registry.Get(ctx, c.ID)
	require.Nil(t, err)
	assert.Equal(t, issued.Consent, stored)

	_, err = f.authority.Redeem(ctx, c.ID, model.CapabilityScreenshot, "linux", c.ExpiresAt.Add(-time.Second))
	assert.Nil(t, err)
	_, err = f.authority.Redeem(ctx, c.ID, model.CapabilityScreenshot, "linux", decoded.Consent.Claims.ExpiresAt.Add(200*time.Millisecond))
	assert.ErrorIs(t, err, domain.ErrExpired)
}

func TestAuthority_IssueValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.authority.Issue(ctx, nil, time.Hour)
	assert.ErrorIs(t, err, domain.ErrInvalidScope)

	_, err = f.authority.Issue(ctx, model.Scope{"keylogger"}, time.Hour)
	assert.ErrorIs(t, err, domain.ErrInvalidScope)

	_, err = f.authority.Issue(ctx, model.FullScope(), 25*time.Hour)
	assert.ErrorIs(t, err, domain.ErrInvalidTTL)

	_, err = f.authority.Issue(ctx, model.FullScope(), -time.Hour)
	assert.ErrorIs(t, err, domain.ErrInvalidTTL)

	issued, err := f.authority.Issue(ctx, model.FullScope(), 0)
	require.Nil(t, err)
	assert.Equal(t, issueTime.Add(DefaultTTL), issued.Consent.Claims.ExpiresAt)

	assert.Equal(t, 1, f.registry.Len())
}

func TestAuthority_MaxTTLOption(t *testing.T) {
	f := newFixture(t, WithMaxTTL(2*time.Hour), WithDefaultTTL(time.Hour))

	_, err := f.authority.Issue(context.Background(), model.FullScope(), 3*time.Hour)
	assert.ErrorIs(t, err, domain.ErrInvalidTTL)

	issued, err := f.authority.Issue(context.Background(), model.FullScope(), 0)
	require.Nil(t, err)
	assert.Equal(t, issueTime.Add(time.Hour), issued.Consent.Claims.ExpiresAt)
}

func TestNew_RejectsBadOptions(t *testing.T) {
	s, err := signer.Generate(nil)
	require.Nil(t, err)
	catalog, err := agent.Default()
	require.Nil(t, err)

	_, err = New(s, registry.NewMemory(), catalog, WithMaxTTL(time.Hour))
	assert.NotNil(t, err, "default ttl above max ttl")

	_, err = New(nil, registry.NewMemory(), catalog)
	assert.NotNil(t, err)
}

func TestAuthority_DistinctIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.authority.Issue(ctx, model.FullScope(), time.Hour)
	require.Nil(t, err)
	b, err := f.authority.Issue(ctx, model.FullScope(), time.Hour)
	require.Nil(t, err)

	assert.NotEqual(t, a.Consent.Claims.ID, b.Consent.Claims.ID)
	assert.Len(t, a.Consent.Claims.ID, 2*model.ConsentIDBytes)
}

func TestAuthority_DuplicateExternalID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.authority.IssueWithID(ctx, "external-1", model.FullScope(), time.Hour)
	require.Nil(t, err)
	_, err = f.authority.IssueWithID(ctx, "external-1", scopeOf(t, "shell"), time.Hour)
	assert.ErrorIs(t, err, domain.ErrDuplicateID)
	assert.Equal(t, 1, f.registry.Len())
}

func TestAuthority_RandomSourceFailure(t *testing.T) {
	f := newFixture(t, WithRandom(bytes.NewReader(nil)))

	_, err := f.authority.Issue(context.Background(), model.FullScope(), time.Hour)
	assert.ErrorIs(t, err, domain.ErrKeyGeneration)
	assert.Equal(t, 0, f.registry.Len())
}

func TestAuthority_NotFoundAndRevoked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := issueTime.Add(time.Minute)

	_, err := f.authority.Redeem(ctx, "unknown", model.CapabilityShell, "linux", now)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	issued, err := f.authority.Issue(ctx, model.FullScope(), time.Hour)
	require.Nil(t, err)
	id := issued.Consent.Claims.ID

	status, err := f.authority.Status(ctx, id)
	require.Nil(t, err)
	assert.Equal(t, model.StatusActive, status)

	require.Nil(t, f.authority.Revoke(ctx, id))
	_, err = f.authority.Redeem(ctx, id, model.CapabilityShell, "linux", now)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, err, domain.ErrRevoked)

	status, err = f.authority.Status(ctx, id)
	require.Nil(t, err)
	assert.Equal(t, model.StatusRevoked, status)

	assert.ErrorIs(t, f.authority.Revoke(ctx, id), domain.ErrRevoked)
	assert.Equal(t, 1, f.audit.Count(audit.KindRevoked))
}

func TestAuthority_UnknownPlatform(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.authority.Issue(ctx, model.FullScope(), time.Hour)
	require.Nil(t, err)

	payload, err := f.authority.Redeem(ctx, issued.Consent.Claims.ID, model.CapabilityShell, "amiga", issueTime)
	assert.ErrorIs(t, err, domain.ErrUnknownPlatform)
	assert.Nil(t, payload)
}

// tamperingRegistry hands out altered copies of what it stores, the way an
// externally mutated backend would.
type tamperingRegistry struct {
	*registry.Memory
	tamper func(*model.SignedConsent)
}

func (r tamperingRegistry) Get(ctx context.Context, id string) (model.SignedConsent, error) {
	c, err := r.Memory.Get(ctx, id)
	if err == nil {
		r.tamper(&c)
	}
	return c, err
}

func TestAuthority_Tampered(t *testing.T) {
	for name, tamper := range map[string]func(*model.SignedConsent){
		"extended expiry": func(c *model.SignedConsent) { c.Claims.ExpiresAt = c.Claims.ExpiresAt.Add(time.Hour) },
		"widened scope":   func(c *model.SignedConsent) { c.Claims.Scope = model.FullScope() },
		"flipped bit":     func(c *model.SignedConsent) { c.Signature[0] ^= 0x01 },
		"no signature":    func(c *model.SignedConsent) { c.Signature = nil },
		"inverted times":  func(c *model.SignedConsent) { c.Claims.CreatedAt = c.Claims.ExpiresAt.Add(time.Hour) },
	} {
		t.Run(name, func(t *testing.T) {
			s, err := signer.Generate(nil)
			require.Nil(t, err)
			catalog, err := agent.Default()
			require.Nil(t, err)
			sink := audit.NewMemorySink()
			var logs bytes.Buffer
			reg := tamperingRegistry{Memory: registry.NewMemory(), tamper: tamper}
			a, err := New(s, reg, catalog,
				WithClock(func() time.Time { return issueTime }),
				WithAudit(sink),
				WithLogger(log.New(&logs, "", 0)))
			require.Nil(t, err)

			ctx := context.Background()
			issued, err := a.Issue(ctx, scopeOf(t, "screenshot"), time.Hour)
			require.Nil(t, err)

			// a tampered entry is reported as such even when it would also be
			// expired or out of scope
			for _, now := range []time.Time{issueTime, issueTime.Add(2 * time.Hour)} {
				payload, err := a.Redeem(ctx, issued.Consent.Claims.ID, model.CapabilityShell, "linux", now)
				assert.ErrorIs(t, err, domain.ErrTampered)
				assert.False(t, errors.Is(err, domain.ErrExpired))
				assert.False(t, errors.Is(err, domain.ErrNotFound))
				assert.Nil(t, payload)
			}
			assert.Equal(t, 2, sink.Count(audit.KindTampered))
			assert.Equal(t, 0, sink.Count(audit.KindDeclined))
			assert.Contains(t, logs.String(), "SECURITY")
		})
	}
}

func TestAuthority_TamperedInSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.InitDB(ctx, sqlite.MemoryPath)
	require.Nil(t, err)
	defer sqlite.CloseDB(db)

	s, err := signer.Generate(nil)
	require.Nil(t, err)
	catalog, err := agent.Default()
	require.Nil(t, err)
	a, err := New(s, sqlite.NewConsentRepository(db), catalog,
		WithClock(func() time.Time { return issueTime }),
		WithLogger(log.New(io.Discard, "", 0)))
	require.Nil(t, err)

	issued, err := a.Issue(ctx, scopeOf(t, "location"), time.Hour)
	require.Nil(t, err)
	id := issued.Consent.Claims.ID

	_, err = a.Redeem(ctx, id, model.CapabilityLocation, "android", issueTime.Add(time.Minute))
	require.Nil(t, err)

	_, err = db.ExecContext(ctx, `UPDATE consents SET expires_at = expires_at + 3600 WHERE consent_id = ?`, id)
	require.Nil(t, err)

	_, err = a.Redeem(ctx, id, model.CapabilityLocation, "android", issueTime.Add(90*time.Minute))
	assert.ErrorIs(t, err, domain.ErrTampered)
}

func TestAuthority_Verify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.authority.Issue(ctx, model.FullScope(), time.Hour)
	require.Nil(t, err)

	assert.True(t, f.authority.Verify(issued.Token))
	assert.True(t, f.authority.VerifyString(issued.TokenText))

	// offline, with nothing but the published key
	published, err := f.authority.Verifier().MarshalPublicKey()
	require.Nil(t, err)
	v, err := signer.ParsePublicKey(published)
	require.Nil(t, err)
	assert.True(t, VerifyToken(v, issued.Token))

	// authenticity does not depend on registry state
	require.Nil(t, f.authority.Revoke(ctx, issued.Consent.Claims.ID))
	assert.True(t, f.authority.Verify(issued.Token))

	mutated := bytes.Clone(issued.Token)
	mutated[len(mutated)-1] ^= 0x01
	assert.False(t, f.authority.Verify(mutated))
	assert.False(t, f.authority.Verify([]byte("garbage")))
	assert.False(t, f.authority.VerifyString("garbage"))
	mutatedText := base64.RawURLEncoding.EncodeToString(mutated)
	assert.Equal(t, f.authority.Verify(mutated), f.authority.VerifyString(mutatedText))

	other := newFixture(t)
	assert.False(t, other.authority.Verify(issued.Token))
}

func TestAuthority_Sweep(t *testing.T) {
	now := issueTime
	s, err := signer.Generate(nil)
	require.Nil(t, err)
	catalog, err := agent.Default()
	require.Nil(t, err)
	reg := registry.NewMemory()
	a, err := New(s, reg, catalog,
		WithClock(func() time.Time { return now }),
		WithLogger(log.New(io.Discard, "", 0)))
	require.Nil(t, err)

	ctx := context.Background()
	_, err = a.Issue(ctx, model.FullScope(), time.Hour)
	require.Nil(t, err)
	_, err = a.Issue(ctx, model.FullScope(), 3*time.Hour)
	require.Nil(t, err)

	now = issueTime.Add(2 * time.Hour)
	n, err := a.Sweep(ctx)
	require.Nil(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, reg.Len())
}

func TestAuthority_ConcurrentIssue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const callers, perCaller = 10, 20

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[string]struct{})
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perCaller; j++ {
				issued, err := f.authority.Issue(ctx, model.FullScope(), time.Hour)
				if !assert.Nil(t, err) {
					return
				}
				mu.Lock()
				ids[issued.Consent.Claims.ID] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, ids, callers*perCaller)
	assert.Equal(t, callers*perCaller, f.registry.Len())
}

func TestAuthority_ConcurrentRedeemAndRevoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.authority.Issue(ctx, model.FullScope(), time.Hour)
	require.Nil(t, err)
	id := issued.Consent.Claims.ID

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.authority.Redeem(ctx, id, model.CapabilityShell, "linux", issueTime.Add(time.Minute))
			errs <- err
		}()
	}
	require.Nil(t, f.authority.Revoke(ctx, id))
	wg.Wait()
	close(errs)

	// each redemption saw either the live entry or the tombstone, nothing in between
	for err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, domain.ErrRevoked)
		}
	}
	assert.Equal(t, 0, f.audit.Count(audit.KindTampered))
}
