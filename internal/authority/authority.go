/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package authority

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/kentakayama/consent-over-http/internal/agent"
	"github.com/kentakayama/consent-over-http/internal/audit"
	"github.com/kentakayama/consent-over-http/internal/domain"
	"github.com/kentakayama/consent-over-http/internal/domain/model"
	"github.com/kentakayama/consent-over-http/internal/domain/service"
	"github.com/kentakayama/consent-over-http/internal/signer"
	"github.com/kentakayama/consent-over-http/internal/token"
)

const (
	DefaultMaxTTL = 24 * time.Hour
	DefaultTTL    = 24 * time.Hour
)

// Authority issues consents and redeems them for agent payloads.
type Authority struct {
	signer   *signer.Signer
	registry service.ConsentRegistry
	catalog  *agent.Catalog
	codec    token.Codec

	maxTTL     time.Duration
	defaultTTL time.Duration
	now        func() time.Time
	random     io.Reader
	audit      audit.Sink
	logger     *log.Logger
}

type Option func(*Authority)

// WithMaxTTL bounds the lifetime of issued consents.
func WithMaxTTL(d time.Duration) Option {
	return func(a *Authority) { a.maxTTL = d }
}

// WithDefaultTTL is used when Issue is called with a zero ttl.
func WithDefaultTTL(d time.Duration) Option {
	return func(a *Authority) { a.defaultTTL = d }
}

func WithClock(now func() time.Time) Option {
	return func(a *Authority) { a.now = now }
}

// WithRandom sets the source consent ids are drawn from.
func WithRandom(r io.Reader) Option {
	return func(a *Authority) { a.random = r }
}

func WithAudit(s audit.Sink) Option {
	return func(a *Authority) { a.audit = s }
}

func WithLogger(l *log.Logger) Option {
	return func(a *Authority) { a.logger = l }
}

// New wires an Authority. The signer is the process' trust root and is
// passed in explicitly; it is never looked up globally.
func New(s *signer.Signer, r service.ConsentRegistry, c *agent.Catalog, opts ...Option) (*Authority, error) {
	if s == nil || r == nil || c == nil {
		return nil, errors.New("authority: signer, registry and catalog are required")
	}
	a := &Authority{
		signer:     s,
		registry:   r,
		catalog:    c,
		codec:      token.Codec{KeyID: s.KeyID()},
		maxTTL:     DefaultMaxTTL,
		defaultTTL: DefaultTTL,
		now:        time.Now,
		audit:      audit.Discard{},
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.maxTTL <= 0 {
		return nil, fmt.Errorf("authority: max ttl must be positive, got %v", a.maxTTL)
	}
	if a.defaultTTL <= 0 || a.defaultTTL > a.maxTTL {
		return nil, fmt.Errorf("authority: default ttl %v must be in (0, %v]", a.defaultTTL, a.maxTTL)
	}
	return a, nil
}

// Issued is the result of a successful issuance.
type Issued struct {
	Consent model.SignedConsent
	// Token is the COSE_Sign1 encoding, TokenText its base64url form.
	Token     []byte
	TokenText string
}

// Issue creates, signs and registers a consent for scope, valid for ttl
// (the default ttl when zero).
func (a *Authority) Issue(ctx context.Context, scope model.Scope, ttl time.Duration) (*Issued, error) {
	id, err := model.NewConsentID(a.random)
	if err != nil {
		return nil, err
	}
	return a.IssueWithID(ctx, id, scope, ttl)
}

// IssueWithID is Issue with a caller supplied id. An id the registry still
// holds, revoked or not, fails with domain.ErrDuplicateID.
func (a *Authority) IssueWithID(ctx context.Context, id string, scope model.Scope, ttl time.Duration) (*Issued, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", domain.ErrInvalidClaims)
	}
	if ttl == 0 {
		ttl = a.defaultTTL
	}
	if ttl < time.Second || ttl > a.maxTTL {
		return nil, fmt.Errorf("%w: %v is outside [1s, %v]", domain.ErrInvalidTTL, ttl, a.maxTTL)
	}
	scope, err := model.NewScope(scope.Strings()...)
	if err != nil {
		return nil, err
	}

	// both instants at signing resolution, so the stored claims are the signed ones
	now := model.Timestamp(a.now())
	claims := model.Claims{
		ID:        id,
		CreatedAt: now,
		ExpiresAt: model.Timestamp(now.Add(ttl)),
		Scope:     scope,
	}
	sig, digest, err := a.signer.Sign(claims)
	if err != nil {
		return nil, err
	}
	consent := model.SignedConsent{Claims: claims, Signature: sig, Digest: digest}

	encoded, err := a.codec.Encode(consent)
	if err != nil {
		return nil, err
	}
	text, err := a.codec.EncodeString(consent)
	if err != nil {
		return nil, err
	}

	if err := a.registry.Put(ctx, consent); err != nil {
		return nil, fmt.Errorf("register consent %s: %w", id, err)
	}

	ev := audit.NewEvent(now, audit.KindIssued, id)
	ev.Reason = fmt.Sprintf("scope=%v ttl=%v", scope.Strings(), ttl)
	a.record(ctx, ev)

	return &Issued{
		Consent:   consent,
		Token:     encoded,
		TokenText: text,
	}, nil
}

// Redeem releases the payload for platform if the consent id is registered
// and not revoked, its signature still verifies, it is not expired at now
// and its scope holds capability. The checks run in that order on a single
// snapshot of the entry. No payload is ever produced on failure.
func (a *Authority) Redeem(ctx context.Context, id string, capability model.Capability, platform string, now time.Time) ([]byte, error) {
	c, err := a.registry.Get(ctx, id)
	if err != nil {
		a.decline(ctx, now, id, capability, platform, err)
		return nil, fmt.Errorf("redeem %s: %w", id, err)
	}

	if !a.signer.Verify(c.Claims, c.Signature) {
		a.logger.Printf("SECURITY: signature of consent %s does not verify, registry entry was altered", id)
		ev := audit.NewEvent(now, audit.KindTampered, id)
		ev.Capability = string(capability)
		ev.Platform = platform
		ev.Reason = domain.ErrTampered.Error()
		a.record(ctx, ev)
		return nil, fmt.Errorf("redeem %s: %w", id, domain.ErrTampered)
	}

	if c.Claims.IsExpired(now) {
		a.decline(ctx, now, id, capability, platform, domain.ErrExpired)
		return nil, fmt.Errorf("redeem %s: %w", id, domain.ErrExpired)
	}

	if !c.Claims.Scope.Has(capability) {
		a.decline(ctx, now, id, capability, platform, domain.ErrScopeDenied)
		return nil, fmt.Errorf("redeem %s: %w: %q", id, domain.ErrScopeDenied, capability)
	}

	payload, err := a.catalog.Render(platform, agent.NewParams(c.Claims, platform, capability))
	if err != nil {
		a.decline(ctx, now, id, capability, platform, err)
		return nil, fmt.Errorf("redeem %s: %w", id, err)
	}

	ev := audit.NewEvent(now, audit.KindRedeemed, id)
	ev.Capability = string(capability)
	ev.Platform = platform
	a.record(ctx, ev)
	return payload, nil
}

// Verify reports whether an encoded token was signed by this authority.
// It checks authenticity only; expiry and revocation are not considered.
func (a *Authority) Verify(encoded []byte) bool {
	return VerifyToken(a.signer.Verifier(), encoded)
}

// VerifyString is Verify for the base64url text form.
func (a *Authority) VerifyString(text string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(text)
	if err != nil {
		return false
	}
	return a.Verify(raw)
}

// VerifyToken checks an encoded token offline against a published key.
func VerifyToken(v *signer.Verifier, encoded []byte) bool {
	t, err := token.Decode(encoded)
	if err != nil {
		return false
	}
	return v.Verify(t.Consent.Claims, t.Consent.Signature)
}

// Revoke tombstones a consent so that it can no longer be redeemed.
func (a *Authority) Revoke(ctx context.Context, id string) error {
	now := a.now()
	if err := a.registry.Revoke(ctx, id, now); err != nil {
		return fmt.Errorf("revoke %s: %w", id, err)
	}
	a.record(ctx, audit.NewEvent(now, audit.KindRevoked, id))
	return nil
}

// Status reports the lifecycle state of a consent now.
func (a *Authority) Status(ctx context.Context, id string) (model.Status, error) {
	return a.registry.Status(ctx, id, a.now())
}

// Sweep removes consents that have expired by now from the registry.
func (a *Authority) Sweep(ctx context.Context) (int, error) {
	return a.registry.Sweep(ctx, a.now())
}

// RunSweeper calls Sweep every interval until ctx is done.
func (a *Authority) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.Sweep(ctx)
			if err != nil {
				a.logger.Printf("failed to sweep expired consents: %v", err)
				continue
			}
			if n > 0 {
				a.logger.Printf("swept %d expired consents", n)
			}
		}
	}
}

// Verifier returns the verify-only key material for publication.
func (a *Authority) Verifier() *signer.Verifier {
	return a.signer.Verifier()
}

// PublicKey returns the COSE_Key encoding of the verification key.
func (a *Authority) PublicKey() ([]byte, error) {
	return a.signer.Verifier().MarshalPublicKey()
}

// Platforms lists the platforms payloads can be rendered for.
func (a *Authority) Platforms() []string {
	return a.catalog.Platforms()
}

func (a *Authority) decline(ctx context.Context, now time.Time, id string, capability model.Capability, platform string, reason error) {
	ev := audit.NewEvent(now, audit.KindDeclined, id)
	ev.Capability = string(capability)
	ev.Platform = platform
	ev.Reason = reason.Error()
	a.record(ctx, ev)
}

func (a *Authority) record(ctx context.Context, ev audit.Event) {
	if err := a.audit.Record(ctx, ev); err != nil {
		a.logger.Printf("failed to record audit event %s: %v", ev.ID, err)
	}
}
