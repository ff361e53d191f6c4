// SPDX-FileCopyrightText: Copyright 2025 EagleChat Authors
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"net/http"
	"time"

	"github.com/eaglechat/gateway/pkg/logger"
	"github.com/eaglechat/gateway/pkg/providers"
	"github.com/eaglechat/gateway/pkg/ratelimit"
	"github.com/eaglechat/gateway/pkg/register"
	"github.com/eaglechat/gateway/pkg/signing"
	"github.com/eaglechat/gateway/pkg/storage"
	"github.com/eaglechat/gateway/pkg/tenant"
)

// chatHistoryWindow is how many prior messages are replayed upstream.
const chatHistoryWindow = 20

// ChatRoutes handles the HMAC-protected conversation endpoints.
type ChatRoutes struct {
	broker        *providers.Broker
	conversations storage.ConversationStore
}

// NewChatRoutes builds the chat route handlers.
func NewChatRoutes(broker *providers.Broker, conversations storage.ConversationStore) *ChatRoutes {
	return &ChatRoutes{broker: broker, conversations: conversations}
}

type chatRequest struct {
	TenantID     string `json:"tenant_id"`
	SessionID    string `json:"session_id"`
	Message      string `json:"message"`
	Provider     string `json:"provider"`
	SystemPrompt string `json:"system_prompt"`
	MaxTokens    int64  `json:"max_tokens"`
}

type chatResponse struct {
	Reply     string `json:"reply"`
	SessionID string `json:"session_id"`
	Provider  string `json:"provider"`
	Usage     struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

// Chat proxies one user message to the tenant's provider, replaying the
// recent conversation window, and records both turns.
func (c *ChatRoutes) Chat(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := signing.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, tenant.ErrInvalidCredentials)
		return
	}

	var req chatRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.SessionID == "" || req.Message == "" {
		writeError(w, &register.ValidationError{Field: "request", Reason: "session_id and message are required"})
		return
	}

	provider := tenant.ProviderAnthropic
	if req.Provider != "" {
		parsed, err := tenant.ParseProvider(req.Provider)
		if err != nil {
			writeError(w, &register.ValidationError{Field: "provider", Reason: err.Error()})
			return
		}
		provider = parsed
	}

	history, err := c.conversations.History(r.Context(), tenantID, req.SessionID, chatHistoryWindow)
	if err != nil {
		writeError(w, err)
		return
	}

	messages := make([]providers.ChatMessage, 0, len(history)+1)
	for _, msg := range history {
		messages = append(messages, providers.ChatMessage{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, providers.ChatMessage{Role: "user", Content: req.Message})

	reply, err := c.broker.Chat(r.Context(), tenantID, provider, providers.ChatRequest{
		System:    req.SystemPrompt,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	conn := storage.ConnInfo{
		UserIP:    ratelimit.ClientAddr(r),
		UserAgent: r.UserAgent(),
	}
	now := time.Now()
	if err := c.conversations.Append(r.Context(), tenantID, req.SessionID,
		storage.Message{Role: "user", Content: req.Message, TS: now}, conn); err != nil {
		logger.Errorw("recording user message", "tenant_id", tenantID, "error", err)
	}
	if err := c.conversations.Append(r.Context(), tenantID, req.SessionID,
		storage.Message{Role: "assistant", Content: reply.Text, TS: now.Add(time.Millisecond)}, conn); err != nil {
		logger.Errorw("recording assistant message", "tenant_id", tenantID, "error", err)
	}

	resp := chatResponse{Reply: reply.Text, SessionID: req.SessionID, Provider: string(provider)}
	resp.Usage.InputTokens = reply.InputTokens
	resp.Usage.OutputTokens = reply.OutputTokens
	writeJSON(w, http.StatusOK, resp)
}

type historyRequest struct {
	TenantID  string `json:"tenant_id"`
	SessionID string `json:"session_id"`
	Limit     int    `json:"limit"`
}

type historyMessage struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	TS      time.Time `json:"ts"`
}

// History returns the stored conversation in chronological order.
func (c *ChatRoutes) History(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := signing.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, tenant.ErrInvalidCredentials)
		return
	}

	var req historyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.SessionID == "" {
		writeError(w, &register.ValidationError{Field: "session_id", Reason: "session_id is required"})
		return
	}

	history, err := c.conversations.History(r.Context(), tenantID, req.SessionID, req.Limit)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]historyMessage, 0, len(history))
	for _, msg := range history {
		out = append(out, historyMessage{Role: msg.Role, Content: msg.Content, TS: msg.TS})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": req.SessionID,
		"messages":   out,
	})
}
