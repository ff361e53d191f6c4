// SPDX-FileCopyrightText: Copyright 2025 EagleChat Authors
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/eaglechat/gateway/pkg/logger"
	"github.com/eaglechat/gateway/pkg/providers"
	"github.com/eaglechat/gateway/pkg/register"
	"github.com/eaglechat/gateway/pkg/storage"
	"github.com/eaglechat/gateway/pkg/tenant"
	"github.com/eaglechat/gateway/pkg/vault"
)

// errorResponse is the wire shape of every error reply.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorf("encoding response: %v", err)
	}
}

// writeError shapes a domain error into a status code and JSON body.
// Validation and domain errors go back verbatim; integrity and store
// failures become a generic 500 with the detail logged by the caller.
func writeError(w http.ResponseWriter, err error) {
	var (
		vErr  *register.ValidationError
		dup   *tenant.DuplicateError
		cbErr *register.CallbackError
	)

	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: vErr.Error(), Kind: "validation"})
	case errors.As(err, &dup):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: dup.Error(), Kind: "duplicate_" + string(dup.Kind)})
	case errors.As(err, &cbErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: cbErr.Error(), Kind: "callback_failed"})
	case errors.Is(err, tenant.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid credentials"})
	case errors.Is(err, tenant.ErrNotFound):
		// Indistinguishable from bad credentials on purpose.
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid credentials"})
	case errors.Is(err, providers.ErrKeyFormat),
		errors.Is(err, providers.ErrInvalidProviderKey),
		errors.Is(err, providers.ErrNoProviderKey):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: "provider_key"})
	case errors.Is(err, providers.ErrProbeUnavailable):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error(), Kind: "provider_unreachable"})
	case errors.Is(err, vault.ErrSealIntegrity):
		logger.Errorw("seal integrity failure", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	case errors.Is(err, storage.ErrUnavailable):
		logger.Errorw("store unavailable", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "storage temporarily unavailable, retry later"})
	default:
		logger.Errorw("unhandled request error", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
