// SPDX-FileCopyrightText: Copyright 2025 EagleChat Authors
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"net/http"

	"github.com/eaglechat/gateway/pkg/providers"
	"github.com/eaglechat/gateway/pkg/register"
	"github.com/eaglechat/gateway/pkg/storage"
	"github.com/eaglechat/gateway/pkg/tenant"
)

// KeyRoutes handles provider-key management endpoints.
type KeyRoutes struct {
	store  storage.TenantStore
	broker *providers.Broker
}

// NewKeyRoutes builds the provider-key route handlers.
func NewKeyRoutes(store storage.TenantStore, broker *providers.Broker) *KeyRoutes {
	return &KeyRoutes{store: store, broker: broker}
}

type configureKeysRequest struct {
	credentials
	AnthropicAPIKey string `json:"anthropic_api_key"`
	OpenAIAPIKey    string `json:"openai_api_key"`
}

// ConfigureKeys probes and stores the submitted provider keys. Each key
// is validated against its provider before anything is persisted; the
// first failure aborts the request.
func (k *KeyRoutes) ConfigureKeys(w http.ResponseWriter, r *http.Request) {
	var req configureKeysRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := checkCredentials(r.Context(), k.store, req.credentials); err != nil {
		writeError(w, err)
		return
	}
	if req.AnthropicAPIKey == "" && req.OpenAIAPIKey == "" {
		writeError(w, &register.ValidationError{Field: "request", Reason: "at least one provider key is required"})
		return
	}

	if req.AnthropicAPIKey != "" {
		if err := k.broker.Configure(r.Context(), req.TenantID, tenant.ProviderAnthropic, req.AnthropicAPIKey); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.OpenAIAPIKey != "" {
		if err := k.broker.Configure(r.Context(), req.TenantID, tenant.ProviderOpenAI, req.OpenAIAPIKey); err != nil {
			writeError(w, err)
			return
		}
	}

	status, err := k.broker.Status(r.Context(), req.TenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// GetKeyStatus reports masked views of the tenant's stored keys.
func (k *KeyRoutes) GetKeyStatus(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := decode(r, &creds); err != nil {
		writeError(w, err)
		return
	}
	if err := checkCredentials(r.Context(), k.store, creds); err != nil {
		writeError(w, err)
		return
	}

	status, err := k.broker.Status(r.Context(), creds.TenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type providerRequest struct {
	credentials
	Provider string `json:"provider"`
}

func (p providerRequest) parsed() (tenant.Provider, error) {
	provider, err := tenant.ParseProvider(p.Provider)
	if err != nil {
		return "", &register.ValidationError{Field: "provider", Reason: err.Error()}
	}
	return provider, nil
}

// RemoveKey clears the tenant's stored key for one provider.
func (k *KeyRoutes) RemoveKey(w http.ResponseWriter, r *http.Request) {
	var req providerRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := checkCredentials(r.Context(), k.store, req.credentials); err != nil {
		writeError(w, err)
		return
	}

	provider, err := req.parsed()
	if err != nil {
		writeError(w, err)
		return
	}
	if err := k.broker.Remove(r.Context(), req.TenantID, provider); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

// VerifyKey re-probes the stored key without modifying it.
func (k *KeyRoutes) VerifyKey(w http.ResponseWriter, r *http.Request) {
	var req providerRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := checkCredentials(r.Context(), k.store, req.credentials); err != nil {
		writeError(w, err)
		return
	}

	provider, err := req.parsed()
	if err != nil {
		writeError(w, err)
		return
	}
	if err := k.broker.Verify(r.Context(), req.TenantID, provider); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}
