// SPDX-FileCopyrightText: Copyright 2025 EagleChat Authors
// SPDX-License-Identifier: Apache-2.0

package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/eaglechat/gateway/pkg/logger"
	"github.com/eaglechat/gateway/pkg/storage"
	"github.com/eaglechat/gateway/pkg/tenant"
	"github.com/eaglechat/gateway/pkg/vault"
)

// ProbeTimeout bounds one key validation call end to end.
const ProbeTimeout = 15 * time.Second

// maskStars is the fixed middle of every masked key. The mask never
// reveals key length.
const maskStars = "************"

// keyPrefixes are the syntactic prefixes checked before any probe.
// Anthropic must be checked before OpenAI since "sk-ant-" also matches
// "sk-".
var keyPrefixes = map[tenant.Provider]string{
	tenant.ProviderAnthropic: "sk-ant-",
	tenant.ProviderOpenAI:    "sk-",
}

// SealOpener is the vault surface the broker needs.
type SealOpener interface {
	Seal(plaintext string) (string, error)
	Open(ciphertext string) (string, error)
}

var _ SealOpener = (*vault.Vault)(nil)

// Broker owns tenant provider keys: probe on configure, seal at rest,
// decrypt on demand. It caches sealed ciphertext only; plaintext never
// outlives the call that asked for it.
type Broker struct {
	store   storage.TenantStore
	vault   SealOpener
	clients map[tenant.Provider]Client

	mu    sync.Mutex
	cache map[string]*storage.ProviderKeys
}

// NewBroker builds a Broker over the given provider clients.
func NewBroker(store storage.TenantStore, v SealOpener, anthropic, openai Client) *Broker {
	return &Broker{
		store: store,
		vault: v,
		clients: map[tenant.Provider]Client{
			tenant.ProviderAnthropic: anthropic,
			tenant.ProviderOpenAI:    openai,
		},
		cache: make(map[string]*storage.ProviderKeys),
	}
}

// Configure validates key against its provider and persists it sealed.
// Nothing is stored unless the probe passes. The probe runs outside the
// cache lock.
func (b *Broker) Configure(ctx context.Context, tenantID string, provider tenant.Provider, key string) error {
	prefix, ok := keyPrefixes[provider]
	if !ok {
		return fmt.Errorf("unknown provider: %s", provider)
	}
	if !strings.HasPrefix(key, prefix) {
		return fmt.Errorf("%w: %s keys must start with %q", ErrKeyFormat, provider, prefix)
	}

	probeCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()
	if err := b.clients[provider].Probe(probeCtx, key); err != nil {
		// The caller sees which provider failed, not just that one did.
		return fmt.Errorf("%s: %w", provider, err)
	}

	sealed, err := b.vault.Seal(key)
	if err != nil {
		return fmt.Errorf("sealing provider key: %w", err)
	}
	if err := b.store.SetProviderKey(ctx, tenantID, provider, &sealed); err != nil {
		return err
	}
	b.invalidate(tenantID)

	logger.Infow("provider key configured", "tenant_id", tenantID, "provider", provider)
	return nil
}

// Use returns the plaintext key for one outbound call. The caller must
// discard it when the call completes.
func (b *Broker) Use(ctx context.Context, tenantID string, provider tenant.Provider) (string, error) {
	keys, err := b.sealedKeys(ctx, tenantID)
	if err != nil {
		return "", err
	}

	var sealed *string
	switch provider {
	case tenant.ProviderAnthropic:
		sealed = keys.Anthropic
	case tenant.ProviderOpenAI:
		sealed = keys.OpenAI
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}
	if sealed == nil {
		return "", fmt.Errorf("%s: %w", provider, ErrNoProviderKey)
	}

	plaintext, err := b.vault.Open(*sealed)
	if err != nil {
		return "", fmt.Errorf("opening sealed provider key: %w", err)
	}
	return plaintext, nil
}

// Mask returns the display form of the stored key: first 8 and last 4
// characters around a fixed star run. Short keys render as stars only.
func (b *Broker) Mask(ctx context.Context, tenantID string, provider tenant.Provider) (string, error) {
	plaintext, err := b.Use(ctx, tenantID, provider)
	if err != nil {
		return "", err
	}
	return MaskKey(plaintext), nil
}

// KeyStatus is the display view of one tenant's provider keys.
type KeyStatus struct {
	Anthropic *string   `json:"anthropic_key_mask"`
	OpenAI    *string   `json:"openai_key_mask"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status reports which providers are configured, with masked views.
func (b *Broker) Status(ctx context.Context, tenantID string) (*KeyStatus, error) {
	keys, err := b.sealedKeys(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	status := &KeyStatus{UpdatedAt: keys.UpdatedAt}
	if keys.Anthropic != nil {
		plaintext, err := b.vault.Open(*keys.Anthropic)
		if err != nil {
			return nil, fmt.Errorf("opening sealed provider key: %w", err)
		}
		mask := MaskKey(plaintext)
		status.Anthropic = &mask
	}
	if keys.OpenAI != nil {
		plaintext, err := b.vault.Open(*keys.OpenAI)
		if err != nil {
			return nil, fmt.Errorf("opening sealed provider key: %w", err)
		}
		mask := MaskKey(plaintext)
		status.OpenAI = &mask
	}
	return status, nil
}

// Verify re-probes the stored key without modifying it.
func (b *Broker) Verify(ctx context.Context, tenantID string, provider tenant.Provider) error {
	key, err := b.Use(ctx, tenantID, provider)
	if err != nil {
		return err
	}

	probeCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()
	if err := b.clients[provider].Probe(probeCtx, key); err != nil {
		return fmt.Errorf("%s: %w", provider, err)
	}
	return nil
}

// Remove clears the sealed key and bumps the update timestamp.
func (b *Broker) Remove(ctx context.Context, tenantID string, provider tenant.Provider) error {
	if _, ok := keyPrefixes[provider]; !ok {
		return fmt.Errorf("unknown provider: %s", provider)
	}
	if err := b.store.SetProviderKey(ctx, tenantID, provider, nil); err != nil {
		return err
	}
	b.invalidate(tenantID)

	logger.Infow("provider key removed", "tenant_id", tenantID, "provider", provider)
	return nil
}

// Chat resolves the tenant's key and proxies the conversation upstream.
func (b *Broker) Chat(ctx context.Context, tenantID string, provider tenant.Provider, req ChatRequest) (*ChatReply, error) {
	client, ok := b.clients[provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
	key, err := b.Use(ctx, tenantID, provider)
	if err != nil {
		return nil, err
	}
	reply, err := client.Chat(ctx, key, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", provider, err)
	}
	return reply, nil
}

// sealedKeys returns the tenant's sealed keys, from cache when warm.
func (b *Broker) sealedKeys(ctx context.Context, tenantID string) (*storage.ProviderKeys, error) {
	b.mu.Lock()
	cached, ok := b.cache[tenantID]
	b.mu.Unlock()
	if ok {
		return cached, nil
	}

	keys, err := b.store.GetProviderKeys(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.cache[tenantID] = keys
	b.mu.Unlock()
	return keys, nil
}

func (b *Broker) invalidate(tenantID string) {
	b.mu.Lock()
	delete(b.cache, tenantID)
	b.mu.Unlock()
}

// MaskKey renders a key for display: first 8 and last 4 characters with
// a fixed star run between. Keys of 12 characters or fewer are all stars.
func MaskKey(key string) string {
	if len(key) <= 12 {
		return maskStars
	}
	return key[:8] + maskStars + key[len(key)-4:]
}
