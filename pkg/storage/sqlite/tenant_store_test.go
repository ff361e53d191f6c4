// SPDX-FileCopyrightText: Copyright 2025 EagleChat Authors
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eaglechat/gateway/pkg/tenant"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "gateway.db")
	db, err := Open(context.Background(), dsn, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestTenant(t *testing.T, site string) *tenant.Tenant {
	t.Helper()

	siteURL, domain, err := tenant.NormalizeSiteURL(site)
	require.NoError(t, err)

	id := tenant.MintID()
	apiKey, err := tenant.MintAPIKey()
	require.NoError(t, err)

	return &tenant.Tenant{
		ID:         id,
		APIKey:     apiKey,
		SiteURL:    siteURL,
		AdminEmail: "admin@" + domain,
		Domain:     domain,
		SiteHash:   tenant.SiteHash(domain, id),
		CreatedAt:  time.Now(),
	}
}

func TestTenantStore_InsertAndGet(t *testing.T) {
	t.Parallel()

	store := NewTenantStore(openTestDB(t))
	ctx := context.Background()

	draft := newTestTenant(t, "https://shop.example.com")
	draft.Metadata = map[string]string{"plan": "free"}
	require.NoError(t, store.Insert(ctx, draft))

	got, err := store.Get(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, draft.ID, got.ID)
	assert.Equal(t, draft.APIKey, got.APIKey)
	assert.Equal(t, "https://shop.example.com", got.SiteURL)
	assert.Equal(t, "shop.example.com", got.Domain)
	assert.Equal(t, draft.SiteHash, got.SiteHash)
	assert.Equal(t, map[string]string{"plan": "free"}, got.Metadata)
	assert.True(t, got.IsActive)
	assert.Empty(t, got.HMACSecretSealed)

	_, err = store.Get(ctx, tenant.MintID())
	assert.ErrorIs(t, err, tenant.ErrNotFound)
}

func TestTenantStore_CheckAvailable(t *testing.T) {
	t.Parallel()

	store := NewTenantStore(openTestDB(t))
	ctx := context.Background()

	existing := newTestTenant(t, "https://shop.example.com")
	require.NoError(t, store.Insert(ctx, existing))

	err := store.CheckAvailable(ctx, existing.SiteURL, "fresh@elsewhere.example.com")
	dup, ok := tenant.IsDuplicate(err)
	require.True(t, ok)
	assert.Equal(t, tenant.DuplicateSite, dup.Kind)

	err = store.CheckAvailable(ctx, "https://other.example.com", existing.AdminEmail)
	dup, ok = tenant.IsDuplicate(err)
	require.True(t, ok)
	assert.Equal(t, tenant.DuplicateEmail, dup.Kind)

	assert.NoError(t, store.CheckAvailable(ctx, "https://other.example.com", "fresh@elsewhere.example.com"))

	// Deactivated tenants free up their site and email.
	require.NoError(t, store.Deactivate(ctx, existing.ID))
	assert.NoError(t, store.CheckAvailable(ctx, existing.SiteURL, existing.AdminEmail))
}

func TestTenantStore_DuplicateKinds(t *testing.T) {
	t.Parallel()

	store := NewTenantStore(openTestDB(t))
	ctx := context.Background()

	existing := newTestTenant(t, "https://shop.example.com")
	require.NoError(t, store.Insert(ctx, existing))

	tests := []struct {
		name     string
		mutate   func(*tenant.Tenant)
		wantKind tenant.DuplicateKind
	}{
		{
			name:     "same site_url",
			mutate:   func(d *tenant.Tenant) { d.SiteURL = existing.SiteURL },
			wantKind: tenant.DuplicateSite,
		},
		{
			name:     "same admin_email",
			mutate:   func(d *tenant.Tenant) { d.AdminEmail = existing.AdminEmail },
			wantKind: tenant.DuplicateEmail,
		},
		{
			name:     "same api_key",
			mutate:   func(d *tenant.Tenant) { d.APIKey = existing.APIKey },
			wantKind: tenant.DuplicateAPIKey,
		},
		{
			name:     "same tenant_id",
			mutate:   func(d *tenant.Tenant) { d.ID = existing.ID },
			wantKind: tenant.DuplicateID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			draft := newTestTenant(t, "https://"+string(tt.wantKind)+".example.com")
			tt.mutate(draft)

			err := store.Insert(ctx, draft)
			dup, ok := tenant.IsDuplicate(err)
			require.True(t, ok, "expected DuplicateError, got %v", err)
			assert.Equal(t, tt.wantKind, dup.Kind)
		})
	}
}

func TestTenantStore_ConcurrentInsert_OneWinner(t *testing.T) {
	t.Parallel()

	store := NewTenantStore(openTestDB(t))
	ctx := context.Background()

	const attempts = 2
	results := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			draft := newTestTenant(t, "https://race.example.com")
			draft.AdminEmail = tenant.MintID() + "@race.example.com"
			results[i] = store.Insert(ctx, draft)
		}(i)
	}
	wg.Wait()

	var successes, duplicates int
	for _, err := range results {
		if err == nil {
			successes++
			continue
		}
		dup, ok := tenant.IsDuplicate(err)
		require.True(t, ok, "unexpected error: %v", err)
		assert.Equal(t, tenant.DuplicateSite, dup.Kind)
		duplicates++
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, duplicates)
}

func TestTenantStore_Validate(t *testing.T) {
	t.Parallel()

	store := NewTenantStore(openTestDB(t))
	ctx := context.Background()

	draft := newTestTenant(t, "https://shop.example.com")
	require.NoError(t, store.Insert(ctx, draft))

	ok, err := store.Validate(ctx, draft.ID, draft.APIKey)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.Get(ctx, draft.ID)
	require.NoError(t, err)
	assert.False(t, got.LastSeenAt.IsZero(), "validate must touch last_seen_at")

	ok, err = store.Validate(ctx, draft.ID, "eck_wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.Validate(ctx, tenant.MintID(), draft.APIKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

// Rejection must look the same whether the tenant exists or not: both
// branches run a full constant-time comparison and report (false, nil).
// The dummy key has to stay minted-key length, or ConstantTimeCompare
// short-circuits the missing-tenant branch.
func TestTenantStore_ValidateRejectionUniform(t *testing.T) {
	t.Parallel()

	store := NewTenantStore(openTestDB(t))
	ctx := context.Background()

	draft := newTestTenant(t, "https://shop.example.com")
	require.NoError(t, store.Insert(ctx, draft))

	minted, err := tenant.MintAPIKey()
	require.NoError(t, err)
	require.Len(t, dummyAPIKey, len(minted))

	okExisting, err := store.Validate(ctx, draft.ID, minted)
	require.NoError(t, err)
	okMissing, err := store.Validate(ctx, tenant.MintID(), minted)
	require.NoError(t, err)
	assert.False(t, okExisting)
	assert.False(t, okMissing)
}

func TestTenantStore_HMACContext(t *testing.T) {
	t.Parallel()

	store := NewTenantStore(openTestDB(t))
	ctx := context.Background()

	draft := newTestTenant(t, "https://shop.example.com")
	require.NoError(t, store.Insert(ctx, draft))

	hctx, err := store.GetHMACContext(ctx, draft.ID)
	require.NoError(t, err)
	assert.Empty(t, hctx.SealedSecret)
	assert.Equal(t, draft.Domain, hctx.Domain)
	assert.True(t, hctx.UpdatedAt.IsZero())

	require.NoError(t, store.SetHMACContext(ctx, draft.ID, "v1:sealed", draft.Domain, draft.SiteHash))

	hctx, err = store.GetHMACContext(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, "v1:sealed", hctx.SealedSecret)
	assert.Equal(t, draft.SiteHash, hctx.SiteHash)
	assert.False(t, hctx.UpdatedAt.IsZero())

	err = store.SetHMACContext(ctx, tenant.MintID(), "v1:sealed", "x", "y")
	assert.ErrorIs(t, err, tenant.ErrNotFound)

	_, err = store.GetHMACContext(ctx, tenant.MintID())
	assert.ErrorIs(t, err, tenant.ErrNotFound)
}

func TestTenantStore_ProviderKeys(t *testing.T) {
	t.Parallel()

	store := NewTenantStore(openTestDB(t))
	ctx := context.Background()

	draft := newTestTenant(t, "https://shop.example.com")
	require.NoError(t, store.Insert(ctx, draft))

	keys, err := store.GetProviderKeys(ctx, draft.ID)
	require.NoError(t, err)
	assert.Nil(t, keys.Anthropic)
	assert.Nil(t, keys.OpenAI)

	sealed := "v1:anthropic-sealed"
	require.NoError(t, store.SetProviderKey(ctx, draft.ID, tenant.ProviderAnthropic, &sealed))

	keys, err = store.GetProviderKeys(ctx, draft.ID)
	require.NoError(t, err)
	require.NotNil(t, keys.Anthropic)
	assert.Equal(t, sealed, *keys.Anthropic)
	assert.Nil(t, keys.OpenAI)
	assert.False(t, keys.UpdatedAt.IsZero())

	// Clearing resets the slot and still bumps the timestamp.
	firstUpdate := keys.UpdatedAt
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, store.SetProviderKey(ctx, draft.ID, tenant.ProviderAnthropic, nil))

	keys, err = store.GetProviderKeys(ctx, draft.ID)
	require.NoError(t, err)
	assert.Nil(t, keys.Anthropic)
	assert.True(t, keys.UpdatedAt.After(firstUpdate))

	err = store.SetProviderKey(ctx, tenant.MintID(), tenant.ProviderOpenAI, &sealed)
	assert.ErrorIs(t, err, tenant.ErrNotFound)
}

func TestTenantStore_Deactivate(t *testing.T) {
	t.Parallel()

	store := NewTenantStore(openTestDB(t))
	ctx := context.Background()

	draft := newTestTenant(t, "https://shop.example.com")
	require.NoError(t, store.Insert(ctx, draft))
	require.NoError(t, store.Deactivate(ctx, draft.ID))

	_, err := store.Get(ctx, draft.ID)
	assert.ErrorIs(t, err, tenant.ErrNotFound)

	ok, err := store.Validate(ctx, draft.ID, draft.APIKey)
	require.NoError(t, err)
	assert.False(t, ok)

	// A deactivated site may register again.
	again := newTestTenant(t, "https://shop.example.com")
	assert.NoError(t, store.Insert(ctx, again))

	assert.ErrorIs(t, store.Deactivate(ctx, draft.ID), tenant.ErrNotFound)
}
