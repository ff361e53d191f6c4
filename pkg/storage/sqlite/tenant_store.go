// SPDX-FileCopyrightText: Copyright 2025 EagleChat Authors
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/eaglechat/gateway/pkg/storage"
	"github.com/eaglechat/gateway/pkg/tenant"
)

// TenantStore implements storage.TenantStore using SQLite.
type TenantStore struct {
	wrapper *DB
	db      *sql.DB
}

// NewTenantStore creates a new SQLite-backed TenantStore.
func NewTenantStore(db *DB) *TenantStore {
	return &TenantStore{wrapper: db, db: db.DB()}
}

var _ storage.TenantStore = (*TenantStore)(nil)

// Close closes the underlying database connection.
func (s *TenantStore) Close() error {
	return s.wrapper.Close()
}

// Insert stores a new tenant. Uniqueness conflicts are reported as
// *tenant.DuplicateError naming the tripped invariant.
func (s *TenantStore) Insert(ctx context.Context, t *tenant.Tenant) error {
	meta, err := encodeMetadata(t.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tenants (
			tenant_id, api_key, site_url, admin_email, domain, site_hash,
			created_at, is_active, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		t.ID, t.APIKey, t.SiteURL, t.AdminEmail, t.Domain, t.SiteHash,
		formatTime(t.CreatedAt), meta,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &tenant.DuplicateError{Kind: duplicateKind(err)}
		}
		return fmt.Errorf("inserting tenant: %w", err)
	}
	return nil
}

// CheckAvailable reports duplicates among active tenants before the
// registration callback is attempted. The insert constraint remains the
// authority for racing registrations.
func (s *TenantStore) CheckAvailable(ctx context.Context, siteURL, adminEmail string) error {
	var siteTaken, emailTaken bool
	err := s.db.QueryRowContext(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM tenants WHERE site_url = ? AND is_active = 1),
			EXISTS (SELECT 1 FROM tenants WHERE admin_email = ? AND is_active = 1)`,
		siteURL, adminEmail,
	).Scan(&siteTaken, &emailTaken)
	if err != nil {
		return fmt.Errorf("checking tenant availability: %w", err)
	}
	if siteTaken {
		return &tenant.DuplicateError{Kind: tenant.DuplicateSite}
	}
	if emailTaken {
		return &tenant.DuplicateError{Kind: tenant.DuplicateEmail}
	}
	return nil
}

// tenantColumns is the SELECT column list shared by Get and lookups.
const tenantColumns = `tenant_id, api_key, site_url, admin_email, domain, site_hash,
		COALESCE(hmac_secret_sealed, ''), COALESCE(hmac_secret_updated_at, ''),
		COALESCE(anthropic_key_sealed, ''), COALESCE(openai_key_sealed, ''),
		COALESCE(provider_keys_updated_at, ''), created_at,
		COALESCE(last_seen_at, ''), is_active, metadata`

// Get retrieves an active tenant by id.
func (s *TenantStore) Get(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE tenant_id = ? AND is_active = 1`,
		tenantID,
	)
	return scanTenant(row)
}

// Validate checks credentials in constant time with respect to the key
// material and touches last_seen_at on success. A missing tenant burns a
// comparison against a dummy key so existence does not shorten the path.
func (s *TenantStore) Validate(ctx context.Context, tenantID, apiKey string) (bool, error) {
	var stored string
	err := s.db.QueryRowContext(ctx,
		`SELECT api_key FROM tenants WHERE tenant_id = ? AND is_active = 1`,
		tenantID,
	).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		subtle.ConstantTimeCompare([]byte(apiKey), dummyAPIKey)
		return false, nil
	case err != nil:
		return false, fmt.Errorf("looking up tenant: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(apiKey), []byte(stored)) != 1 {
		return false, nil
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE tenants SET last_seen_at = ? WHERE tenant_id = ?`,
		formatTime(time.Now()), tenantID,
	)
	if err != nil {
		return false, fmt.Errorf("touching last_seen_at: %w", err)
	}
	return true, nil
}

// dummyAPIKey keeps the comparison in Validate from vanishing when the
// tenant does not exist. Same length as a minted key, since
// ConstantTimeCompare returns immediately on a length mismatch.
var dummyAPIKey = []byte("eck_00000000000000000000000000000000000000000000")

// GetHMACContext returns the sealed HMAC secret and domain binding.
func (s *TenantStore) GetHMACContext(ctx context.Context, tenantID string) (*tenant.HMACContext, error) {
	var (
		sealed    sql.NullString
		domain    string
		siteHash  string
		updatedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT hmac_secret_sealed, domain, site_hash, hmac_secret_updated_at
		FROM tenants WHERE tenant_id = ? AND is_active = 1`,
		tenantID,
	).Scan(&sealed, &domain, &siteHash, &updatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, tenant.ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("loading hmac context: %w", err)
	}

	ts, err := parseTime(updatedAt.String)
	if err != nil {
		return nil, fmt.Errorf("parsing hmac_secret_updated_at: %w", err)
	}
	return &tenant.HMACContext{
		SealedSecret: sealed.String,
		Domain:       domain,
		SiteHash:     siteHash,
		UpdatedAt:    ts,
	}, nil
}

// SetHMACContext upserts the sealed HMAC secret and domain binding.
func (s *TenantStore) SetHMACContext(ctx context.Context, tenantID, sealedSecret, domain, siteHash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tenants
		SET hmac_secret_sealed = ?, domain = ?, site_hash = ?, hmac_secret_updated_at = ?
		WHERE tenant_id = ? AND is_active = 1`,
		sealedSecret, domain, siteHash, formatTime(time.Now()), tenantID,
	)
	if err != nil {
		return fmt.Errorf("storing hmac context: %w", err)
	}
	return requireRow(res)
}

// SetProviderKey stores a sealed provider key; nil clears it.
func (s *TenantStore) SetProviderKey(ctx context.Context, tenantID string, provider tenant.Provider, sealed *string) error {
	var column string
	switch provider {
	case tenant.ProviderAnthropic:
		column = "anthropic_key_sealed"
	case tenant.ProviderOpenAI:
		column = "openai_key_sealed"
	default:
		return fmt.Errorf("unknown provider: %s", provider)
	}

	var value sql.NullString
	if sealed != nil {
		value = sql.NullString{String: *sealed, Valid: true}
	}

	// The column name comes from the switch above, never from input.
	res, err := s.db.ExecContext(ctx, `
		UPDATE tenants
		SET `+column+` = ?, provider_keys_updated_at = ?
		WHERE tenant_id = ? AND is_active = 1`,
		value, formatTime(time.Now()), tenantID,
	)
	if err != nil {
		return fmt.Errorf("storing provider key: %w", err)
	}
	return requireRow(res)
}

// GetProviderKeys returns the sealed provider keys, nil where unset.
func (s *TenantStore) GetProviderKeys(ctx context.Context, tenantID string) (*storage.ProviderKeys, error) {
	var (
		anthropic sql.NullString
		openai    sql.NullString
		updatedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT anthropic_key_sealed, openai_key_sealed, provider_keys_updated_at
		FROM tenants WHERE tenant_id = ? AND is_active = 1`,
		tenantID,
	).Scan(&anthropic, &openai, &updatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, tenant.ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("loading provider keys: %w", err)
	}

	ts, err := parseTime(updatedAt.String)
	if err != nil {
		return nil, fmt.Errorf("parsing provider_keys_updated_at: %w", err)
	}

	keys := &storage.ProviderKeys{UpdatedAt: ts}
	if anthropic.Valid && anthropic.String != "" {
		keys.Anthropic = &anthropic.String
	}
	if openai.Valid && openai.String != "" {
		keys.OpenAI = &openai.String
	}
	return keys, nil
}

// Deactivate soft-deletes the tenant.
func (s *TenantStore) Deactivate(ctx context.Context, tenantID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET is_active = 0 WHERE tenant_id = ? AND is_active = 1`,
		tenantID,
	)
	if err != nil {
		return fmt.Errorf("deactivating tenant: %w", err)
	}
	return requireRow(res)
}

// requireRow converts a zero-row update into tenant.ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return tenant.ErrNotFound
	}
	return nil
}

func scanTenant(row *sql.Row) (*tenant.Tenant, error) {
	var (
		t                 tenant.Tenant
		hmacUpdatedAt     string
		providerUpdatedAt string
		createdAt         string
		lastSeenAt        string
		isActive          int
		metaBlob          string
	)
	err := row.Scan(
		&t.ID, &t.APIKey, &t.SiteURL, &t.AdminEmail, &t.Domain, &t.SiteHash,
		&t.HMACSecretSealed, &hmacUpdatedAt,
		&t.AnthropicKeySealed, &t.OpenAIKeySealed,
		&providerUpdatedAt, &createdAt, &lastSeenAt, &isActive, &metaBlob,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, tenant.ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("scanning tenant row: %w", err)
	}

	if t.HMACSecretUpdatedAt, err = parseTime(hmacUpdatedAt); err != nil {
		return nil, fmt.Errorf("parsing hmac_secret_updated_at: %w", err)
	}
	if t.ProviderKeysUpdatedAt, err = parseTime(providerUpdatedAt); err != nil {
		return nil, fmt.Errorf("parsing provider_keys_updated_at: %w", err)
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if t.LastSeenAt, err = parseTime(lastSeenAt); err != nil {
		return nil, fmt.Errorf("parsing last_seen_at: %w", err)
	}
	t.IsActive = isActive == 1

	if err := json.Unmarshal([]byte(metaBlob), &t.Metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	return &t, nil
}

func encodeMetadata(m map[string]string) (string, error) {
	if m == nil {
		m = map[string]string{}
	}
	blob, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}
	return string(blob), nil
}
