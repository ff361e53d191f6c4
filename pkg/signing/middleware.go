// SPDX-FileCopyrightText: Copyright 2025 EagleChat Authors
// SPDX-License-Identifier: Apache-2.0

package signing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/eaglechat/gateway/pkg/logger"
	"github.com/eaglechat/gateway/pkg/storage"
	"github.com/eaglechat/gateway/pkg/tenant"
	"github.com/eaglechat/gateway/pkg/vault"
)

// maxSignedBodySize bounds how much request body the verifier will read.
const maxSignedBodySize = 1024 * 1024

type contextKey struct{}

// TenantIDFromContext returns the tenant id attached by the verification
// middleware.
func TenantIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok
}

// SecretOpener opens a sealed HMAC secret. *vault.Vault satisfies it.
type SecretOpener interface {
	Open(ciphertext string) (string, error)
}

var _ SecretOpener = (*vault.Vault)(nil)

// Middleware verifies the HMAC envelope on protected routes. The body is
// read once, verified against the envelope headers, and re-buffered for
// the downstream handler.
type Middleware struct {
	store storage.TenantStore
	vault SecretOpener
	now   func() time.Time
}

// NewMiddleware builds the verification middleware.
func NewMiddleware(store storage.TenantStore, v SecretOpener) *Middleware {
	return &Middleware{store: store, vault: v, now: time.Now}
}

// Handler wraps next with envelope verification. Verification failures
// are deliberately indistinguishable on the wire; the detail goes to the
// log only.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature := r.Header.Get(SignatureHeader)
		timestamp := r.Header.Get(TimestampHeader)
		version := r.Header.Get(VersionHeader)
		if signature == "" || timestamp == "" || version == "" {
			writeJSONError(w, http.StatusBadRequest, "missing signature headers")
			return
		}
		// A timestamp that does not parse is a malformed envelope, not a
		// failed verification; reject it before any store work.
		if _, err := strconv.ParseInt(timestamp, 10, 64); err != nil {
			writeJSONError(w, http.StatusBadRequest, "malformed timestamp header")
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBodySize))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "unable to read request body")
			return
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		var envelope struct {
			TenantID string `json:"tenant_id"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil || envelope.TenantID == "" {
			writeJSONError(w, http.StatusBadRequest, "request body must be JSON with a tenant_id")
			return
		}

		hmacCtx, err := m.store.GetHMACContext(r.Context(), envelope.TenantID)
		if err != nil {
			if errors.Is(err, tenant.ErrNotFound) {
				// Same response as a bad signature so probing for tenant
				// ids learns nothing.
				writeJSONError(w, http.StatusUnauthorized, "signature verification failed")
				return
			}
			logger.Errorw("loading HMAC context", "tenant_id", envelope.TenantID, "error", err)
			writeJSONError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if hmacCtx.SealedSecret == "" {
			logger.Warnw("signed request rejected",
				"tenant_id", envelope.TenantID, "reason", ErrNotConfigured)
			writeJSONError(w, http.StatusUnauthorized, "signature verification failed")
			return
		}

		secret, err := m.vault.Open(hmacCtx.SealedSecret)
		if err != nil {
			logger.Errorw("opening sealed HMAC secret", "tenant_id", envelope.TenantID, "error", err)
			writeJSONError(w, http.StatusInternalServerError, "internal error")
			return
		}

		if err := Verify(secret, signature, timestamp, version, body, m.now()); err != nil {
			logger.Warnw("signature verification failed",
				"tenant_id", envelope.TenantID, "reason", err)
			writeJSONError(w, http.StatusUnauthorized, "signature verification failed")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, envelope.TenantID)))
	})
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
