// SPDX-FileCopyrightText: Copyright 2025 EagleChat Authors
// SPDX-License-Identifier: Apache-2.0

// Package providers validates, stores, and uses tenant-supplied upstream
// API keys. Keys are probed against their provider before they are
// sealed; plaintext exists only in request scope.
package providers

import (
	"context"
	"net/http"
)

// ChatMessage is one turn of a conversation sent upstream.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a provider-neutral chat call.
type ChatRequest struct {
	System    string
	Messages  []ChatMessage
	MaxTokens int64
}

// ChatReply is the provider's answer plus token accounting.
type ChatReply struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Client is the upstream surface the broker needs from one provider.
type Client interface {
	// Probe makes the cheapest possible call that proves the key is
	// accepted. A nil error means the key is valid; rate limiting counts
	// as valid since the provider authenticated the key to produce it.
	Probe(ctx context.Context, key string) error

	// Chat sends a conversation and returns the reply.
	Chat(ctx context.Context, key string, req ChatRequest) (*ChatReply, error)
}

// probeVerdict maps an upstream status code to a broker error. nil means
// the key is good.
func probeVerdict(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrInvalidProviderKey
	case status == http.StatusTooManyRequests:
		// Authenticated, just throttled.
		return nil
	case status >= 200 && status <= 299:
		return nil
	default:
		return ErrProbeUnavailable
	}
}
