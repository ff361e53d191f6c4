// SPDX-FileCopyrightText: Copyright 2025 EagleChat Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage provides the persistence interfaces for the gateway.
package storage

import (
	"context"
	"time"

	"github.com/eaglechat/gateway/pkg/tenant"
)

// TenantStore owns the persistent tenant record. All operations are
// single-statement atomic; uniqueness is enforced by storage constraints,
// never by read-then-write. Inactive tenants are invisible to every
// lookup.
type TenantStore interface {
	// Insert stores a new tenant draft atomically. Conflicts surface as
	// *tenant.DuplicateError identifying the tripped invariant.
	Insert(ctx context.Context, t *tenant.Tenant) error

	// Get retrieves an active tenant by id.
	Get(ctx context.Context, tenantID string) (*tenant.Tenant, error)

	// CheckAvailable reports whether siteURL and adminEmail are free among
	// active tenants, returning *tenant.DuplicateError when taken. Racing
	// registrations are still resolved by the insert constraint; this is
	// the cheap pre-check that avoids burning a callback on a known
	// duplicate.
	CheckAvailable(ctx context.Context, siteURL, adminEmail string) error

	// Validate checks (tenant_id, api_key) in constant time with respect
	// to the key material and touches last_seen_at on success. It never
	// reports which field mismatched.
	Validate(ctx context.Context, tenantID, apiKey string) (bool, error)

	// GetHMACContext returns the sealed HMAC secret and the domain
	// binding material for the tenant.
	GetHMACContext(ctx context.Context, tenantID string) (*tenant.HMACContext, error)

	// SetHMACContext upserts the sealed HMAC secret and domain binding.
	SetHMACContext(ctx context.Context, tenantID, sealedSecret, domain, siteHash string) error

	// SetProviderKey stores a sealed provider key; nil clears it. Either
	// way provider_keys_updated_at is bumped.
	SetProviderKey(ctx context.Context, tenantID string, provider tenant.Provider, sealed *string) error

	// GetProviderKeys returns the sealed provider keys, nil where unset.
	GetProviderKeys(ctx context.Context, tenantID string) (*ProviderKeys, error)

	// Deactivate soft-deletes the tenant. Conversations are hidden by the
	// tenant filter rather than removed.
	Deactivate(ctx context.Context, tenantID string) error

	// Close releases any resources held by the store.
	Close() error
}

// ProviderKeys holds the sealed provider keys of one tenant.
type ProviderKeys struct {
	Anthropic *string
	OpenAI    *string
	UpdatedAt time.Time
}

// Message is one entry in a conversation's append-only log.
type Message struct {
	Role     string
	Content  string
	TS       time.Time
	Metadata map[string]string
}

// ConnInfo carries the request-origin attributes recorded on the
// conversation row.
type ConnInfo struct {
	UserIP    string
	UserAgent string
}

// ConversationStore persists tenant-scoped conversations. A conversation
// is identified by (tenant_id, session_id).
type ConversationStore interface {
	// Append adds a message, creating the conversation on first write.
	Append(ctx context.Context, tenantID, sessionID string, msg Message, conn ConnInfo) error

	// History returns the most recent messages in chronological order.
	// limit <= 0 means no limit.
	History(ctx context.Context, tenantID, sessionID string, limit int) ([]Message, error)

	// Close releases any resources held by the store.
	Close() error
}
