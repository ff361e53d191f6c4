// SPDX-FileCopyrightText: Copyright 2025 EagleChat Authors
// SPDX-License-Identifier: Apache-2.0

// Package v1 contains the HTTP handlers of the gateway API.
package v1

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/eaglechat/gateway/pkg/logger"
	"github.com/eaglechat/gateway/pkg/register"
	"github.com/eaglechat/gateway/pkg/storage"
	"github.com/eaglechat/gateway/pkg/tenant"
	"github.com/eaglechat/gateway/pkg/vault"
)

// hmacSecretBytes sizes a generated HMAC secret (hex-encoded on the wire).
const hmacSecretBytes = 32

// TenantRoutes handles onboarding and credential endpoints.
type TenantRoutes struct {
	store       storage.TenantStore
	vault       *vault.Vault
	coordinator *register.Coordinator
}

// NewTenantRoutes builds the tenant route handlers.
func NewTenantRoutes(store storage.TenantStore, v *vault.Vault, coordinator *register.Coordinator) *TenantRoutes {
	return &TenantRoutes{store: store, vault: v, coordinator: coordinator}
}

// credentials is the auth envelope every non-register endpoint carries.
type credentials struct {
	TenantID string `json:"tenant_id"`
	APIKey   string `json:"api_key"`
}

// checkCredentials validates (tenant_id, api_key), mapping a mismatch to
// the generic invalid-credentials error.
func checkCredentials(ctx context.Context, store storage.TenantStore, c credentials) error {
	if c.TenantID == "" || c.APIKey == "" {
		return tenant.ErrInvalidCredentials
	}
	ok, err := store.Validate(ctx, c.TenantID, c.APIKey)
	if err != nil {
		return fmt.Errorf("validating credentials: %w", err)
	}
	if !ok {
		return tenant.ErrInvalidCredentials
	}
	return nil
}

func decode(r *http.Request, into any) error {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return &register.ValidationError{Field: "request", Reason: "body must be valid JSON"}
	}
	return nil
}

// Register onboards a new site after callback attestation.
func (t *TenantRoutes) Register(w http.ResponseWriter, r *http.Request) {
	var req register.Request
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := t.coordinator.Register(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Validate checks a (tenant_id, api_key) pair.
func (t *TenantRoutes) Validate(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := decode(r, &creds); err != nil {
		writeError(w, err)
		return
	}
	if err := checkCredentials(r.Context(), t.store, creds); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

type configureHMACRequest struct {
	credentials
	HMACSecret string `json:"hmac_secret"`
}

type configureHMACResponse struct {
	HMACSecret string `json:"hmac_secret,omitempty"`
	Generated  bool   `json:"generated"`
}

// ConfigureHMAC stores a sealed HMAC secret for the tenant, generating a
// fresh one when the caller does not supply it. A generated secret goes
// back to the caller exactly once, in this response; a caller-supplied
// secret is never echoed.
func (t *TenantRoutes) ConfigureHMAC(w http.ResponseWriter, r *http.Request) {
	var req configureHMACRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := checkCredentials(r.Context(), t.store, req.credentials); err != nil {
		writeError(w, err)
		return
	}

	secret := req.HMACSecret
	generated := false
	if secret == "" {
		raw := make([]byte, hmacSecretBytes)
		if _, err := rand.Read(raw); err != nil {
			writeError(w, fmt.Errorf("generating hmac secret: %w", err))
			return
		}
		secret = hex.EncodeToString(raw)
		generated = true
	}

	record, err := t.store.Get(r.Context(), req.TenantID)
	if err != nil {
		writeError(w, err)
		return
	}

	sealed, err := t.vault.Seal(secret)
	if err != nil {
		writeError(w, fmt.Errorf("sealing hmac secret: %w", err))
		return
	}
	if err := t.store.SetHMACContext(r.Context(), req.TenantID, sealed, record.Domain, record.SiteHash); err != nil {
		writeError(w, err)
		return
	}

	logger.Infow("hmac secret configured", "tenant_id", req.TenantID, "generated", generated)

	resp := configureHMACResponse{Generated: generated}
	if generated {
		resp.HMACSecret = secret
	}
	writeJSON(w, http.StatusOK, resp)
}
