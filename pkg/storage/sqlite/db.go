// SPDX-FileCopyrightText: Copyright 2025 EagleChat Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlite implements the gateway's stores on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/eaglechat/gateway/pkg/storage"
	"github.com/eaglechat/gateway/pkg/tenant"
)

// DB wraps the SQLite connection shared by the stores.
type DB struct {
	db *sql.DB
}

// Open connects to the database at dsn, applies pending migrations, and
// returns the wrapper. The serviceKey is accepted for interface parity
// with managed stores; SQLite ignores it.
func Open(ctx context.Context, dsn, serviceKey string) (*DB, error) {
	_ = serviceKey

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite handles one writer; a single connection avoids SQLITE_BUSY
	// and keeps per-row operations serialized as the design expects.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db}, nil
}

// DB exposes the underlying connection to the stores.
func (d *DB) DB() *sql.DB {
	return d.db
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// formatTime renders a timestamp the way every store column expects it.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime is the inverse of formatTime; empty input yields a zero time.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// isUniqueViolation checks for a SQLite UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE ||
			code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// duplicateKind maps a UNIQUE violation to the tenant invariant it
// tripped. SQLite names the offending column in the error text.
func duplicateKind(err error) tenant.DuplicateKind {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "site_url"):
		return tenant.DuplicateSite
	case strings.Contains(msg, "admin_email"):
		return tenant.DuplicateEmail
	case strings.Contains(msg, "api_key"):
		return tenant.DuplicateAPIKey
	default:
		return tenant.DuplicateID
	}
}

// rollback rolls back tx, ignoring errors (tx may already be committed).
func rollback(tx *sql.Tx) { _ = tx.Rollback() }
