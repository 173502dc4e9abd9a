/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// InitDB initializes the SQLite database and creates necessary tables.
func InitDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool.
	// Every connection to :memory: is a separate database, so keep exactly one.
	if dbPath == MemoryPath {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}

	// Create tables and indexes
	if err := createSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}

// dsn carries the connection-level pragmas in the DSN so that every pooled
// connection gets them, not only the first one.
func dsn(dbPath string) string {
	if dbPath == MemoryPath {
		return dbPath
	}
	params := url.Values{}
	params.Set("_foreign_keys", "on")
	params.Set("_journal_mode", "WAL")
	params.Set("_synchronous", "NORMAL")
	params.Set("_busy_timeout", "5000")
	return "file:" + dbPath + "?" + params.Encode()
}

// createSchema creates all necessary database tables.
func createSchema(ctx context.Context, db *sql.DB) error {
	schema := `
	-- Consents table
	CREATE TABLE IF NOT EXISTS consents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		consent_id TEXT UNIQUE NOT NULL,
		created_at INTEGER NOT NULL, -- unix seconds, as signed
		expires_at INTEGER NOT NULL, -- unix seconds, as signed
		scope BLOB NOT NULL,         -- CBOR array of capability tags
		signature BLOB NOT NULL,
		digest BLOB NOT NULL,
		revoked_at INTEGER           -- NULL if not revoked
	);

	-- Create index on consent_id for faster lookups
	CREATE INDEX IF NOT EXISTS idx_consents_consent_id ON consents(consent_id);
	CREATE INDEX IF NOT EXISTS idx_consents_expires_at ON consents(expires_at);
	CREATE INDEX IF NOT EXISTS idx_consents_revoked_at ON consents(revoked_at);
	`

	// Execute schema using transaction
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// CloseDB closes the database connection.
func CloseDB(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}
