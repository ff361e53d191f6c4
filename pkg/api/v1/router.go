// SPDX-FileCopyrightText: Copyright 2025 EagleChat Authors
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eaglechat/gateway/pkg/providers"
	"github.com/eaglechat/gateway/pkg/register"
	"github.com/eaglechat/gateway/pkg/signing"
	"github.com/eaglechat/gateway/pkg/storage"
	"github.com/eaglechat/gateway/pkg/vault"
)

// Deps are the collaborators the v1 API binds to wire endpoints.
type Deps struct {
	Store         storage.TenantStore
	Conversations storage.ConversationStore
	Vault         *vault.Vault
	Coordinator   *register.Coordinator
	Broker        *providers.Broker
}

// Router assembles the v1 API. Registration and key management
// authenticate with (tenant_id, api_key); chat endpoints additionally
// require a valid HMAC envelope.
func Router(d Deps) http.Handler {
	tenants := NewTenantRoutes(d.Store, d.Vault, d.Coordinator)
	keys := NewKeyRoutes(d.Store, d.Broker)
	chat := NewChatRoutes(d.Broker, d.Conversations)
	verifier := signing.NewMiddleware(d.Store, d.Vault)

	r := chi.NewRouter()
	r.Post("/register", tenants.Register)
	r.Post("/validate", tenants.Validate)
	r.Post("/configure-hmac", tenants.ConfigureHMAC)
	r.Post("/configure-keys", keys.ConfigureKeys)
	r.Post("/get-key-status", keys.GetKeyStatus)
	r.Post("/remove-key", keys.RemoveKey)
	r.Post("/verify-key", keys.VerifyKey)

	r.Group(func(g chi.Router) {
		g.Use(verifier.Handler)
		g.Post("/chat", chat.Chat)
		g.Post("/conversation-history", chat.History)
	})

	return r
}
