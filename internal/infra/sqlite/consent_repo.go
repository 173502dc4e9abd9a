/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/kentakayama/consent-over-http/internal/domain"
	"github.com/kentakayama/consent-over-http/internal/domain/model"
	"github.com/kentakayama/consent-over-http/internal/domain/service"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// ConsentRepository is a durable service.ConsentRegistry.
type ConsentRepository struct {
	db *sql.DB
}

var _ service.ConsentRegistry = (*ConsentRepository)(nil)

func NewConsentRepository(db *sql.DB) *ConsentRepository {
	return &ConsentRepository{db: db}
}

const consentColumns = `consent_id, created_at, expires_at, scope, signature, digest, revoked_at`

// Put inserts a new consent. The UNIQUE constraint on consent_id settles
// concurrent inserts of one id.
func (r *ConsentRepository) Put(ctx context.Context, c model.SignedConsent) error {
	if err := c.Claims.Validate(); err != nil {
		return err
	}
	scope, err := cbor.Marshal(c.Claims.Scope.Strings())
	if err != nil {
		return fmt.Errorf("encode scope: %w", err)
	}

	const q = `
		INSERT INTO consents (consent_id, created_at, expires_at, scope, signature, digest)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, q,
		c.Claims.ID, c.Claims.CreatedAt.Unix(), c.Claims.ExpiresAt.Unix(), scope, c.Signature, c.Digest)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
			return domain.ErrDuplicateID
		}
		return fmt.Errorf("insert consent: %w", err)
	}
	return nil
}

func (r *ConsentRepository) Get(ctx context.Context, id string) (model.SignedConsent, error) {
	e, err := r.find(ctx, id)
	if err != nil {
		return model.SignedConsent{}, err
	}
	if e.RevokedAt != nil {
		return model.SignedConsent{}, domain.ErrRevoked
	}
	return e.Consent, nil
}

func (r *ConsentRepository) IsExpired(ctx context.Context, id string, now time.Time) (bool, error) {
	e, err := r.find(ctx, id)
	if err != nil {
		return false, err
	}
	return e.Consent.Claims.IsExpired(now), nil
}

// Revoke marks a consent as revoked by setting revoked_at to the given Unix timestamp.
func (r *ConsentRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	const q = `
		UPDATE consents
		SET revoked_at = ?
		WHERE consent_id = ? AND revoked_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, q, at.Unix(), id)
	if err != nil {
		return fmt.Errorf("revoke consent: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 1 {
		return nil
	}

	// nothing updated: either unknown or already revoked
	if _, err := r.find(ctx, id); err != nil {
		return err
	}
	return domain.ErrRevoked
}

func (r *ConsentRepository) Status(ctx context.Context, id string, now time.Time) (model.Status, error) {
	e, err := r.find(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return model.StatusUnknown, nil
	}
	if err != nil {
		return model.StatusUnknown, err
	}
	return e.StatusAt(now), nil
}

func (r *ConsentRepository) List(ctx context.Context) ([]model.Entry, error) {
	q := `SELECT ` + consentColumns + ` FROM consents ORDER BY created_at, consent_id`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list consents: %w", err)
	}
	defer rows.Close()

	var entries []model.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list consents: %w", err)
	}
	return entries, nil
}

// Sweep deletes consents that expired at or before the given instant.
func (r *ConsentRepository) Sweep(ctx context.Context, before time.Time) (int, error) {
	const q = `DELETE FROM consents WHERE expires_at <= ?`
	res, err := r.db.ExecContext(ctx, q, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("sweep consents: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *ConsentRepository) find(ctx context.Context, id string) (*model.Entry, error) {
	q := `SELECT ` + consentColumns + ` FROM consents WHERE consent_id = ? LIMIT 1`
	e, err := scanEntry(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanEntry rebuilds the entry as stored. Claims are not validated here: a row
// altered behind the registry's back must still reach signature verification.
func scanEntry(row rowScanner) (*model.Entry, error) {
	var (
		e             model.Entry
		createdAt     int64
		expiresAt     int64
		scopeBytes    []byte
		revokedAtUnix sql.NullInt64
	)
	c := &e.Consent
	if err := row.Scan(&c.Claims.ID, &createdAt, &expiresAt, &scopeBytes, &c.Signature, &c.Digest, &revokedAtUnix); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan consent: %w", err)
	}

	var tags []string
	if err := cbor.Unmarshal(scopeBytes, &tags); err != nil {
		return nil, fmt.Errorf("decode scope of %s: %w", c.Claims.ID, err)
	}
	c.Claims.Scope = make(model.Scope, len(tags))
	for i, tag := range tags {
		c.Claims.Scope[i] = model.Capability(tag)
	}
	c.Claims.CreatedAt = time.Unix(createdAt, 0).UTC()
	c.Claims.ExpiresAt = time.Unix(expiresAt, 0).UTC()

	// Convert Unix timestamp to *time.Time
	if revokedAtUnix.Valid {
		t := time.Unix(revokedAtUnix.Int64, 0).UTC()
		e.RevokedAt = &t
	}
	return &e, nil
}
