// SPDX-FileCopyrightText: Copyright 2025 EagleChat Authors
// SPDX-License-Identifier: Apache-2.0

package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eaglechat/gateway/pkg/networking"
	"github.com/eaglechat/gateway/pkg/storage"
	"github.com/eaglechat/gateway/pkg/tenant"
	"github.com/eaglechat/gateway/pkg/vault"
)

type fakeStore struct {
	storage.TenantStore

	keys map[string]*storage.ProviderKeys
}

func newFakeStore() *fakeStore {
	return &fakeStore{keys: make(map[string]*storage.ProviderKeys)}
}

func (s *fakeStore) SetProviderKey(_ context.Context, tenantID string, provider tenant.Provider, sealed *string) error {
	entry, ok := s.keys[tenantID]
	if !ok {
		entry = &storage.ProviderKeys{}
		s.keys[tenantID] = entry
	}
	switch provider {
	case tenant.ProviderAnthropic:
		entry.Anthropic = sealed
	case tenant.ProviderOpenAI:
		entry.OpenAI = sealed
	}
	entry.UpdatedAt = time.Now()
	return nil
}

func (s *fakeStore) GetProviderKeys(_ context.Context, tenantID string) (*storage.ProviderKeys, error) {
	entry, ok := s.keys[tenantID]
	if !ok {
		return nil, tenant.ErrNotFound
	}
	cp := *entry
	return &cp, nil
}

// anthropicMock serves the messages endpoint the SDK calls. acceptKey
// decides which bearer key is authorized.
func anthropicMock(t *testing.T, status *atomic.Int32, acceptKey string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)

		if forced := status.Load(); forced != 0 {
			http.Error(w, `{"type":"error","error":{"type":"api_error","message":"forced"}}`, int(forced))
			return
		}
		if r.Header.Get("X-Api-Key") != acceptKey {
			http.Error(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`, http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_01", "type": "message", "role": "assistant",
			"model": "claude-3-haiku-20240307",
			"content": [{"type": "text", "text": "pong"}],
			"stop_reason": "max_tokens",
			"usage": {"input_tokens": 3, "output_tokens": 1}
		}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func openAIMock(t *testing.T, acceptKey string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)

		if r.Header.Get("Authorization") != "Bearer "+acceptKey {
			http.Error(w, `{"error":{"message":"Incorrect API key provided"}}`, http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "gpt-3.5-turbo",
			"choices": [{"message": {"role": "assistant", "content": "pong"}}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 1}
		}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testBroker(t *testing.T, store storage.TenantStore, anthropicURL, openAIURL string) *Broker {
	t.Helper()

	v, err := vault.New([]byte("test-master-key"))
	require.NoError(t, err)

	httpClient := networking.NewClientBuilder().WithPrivateIPs(true).Build()
	return NewBroker(store, v,
		NewAnthropicClient(httpClient, anthropicURL),
		NewOpenAIClient(httpClient, openAIURL),
	)
}

func TestBroker_ConfigureAnthropic(t *testing.T) {
	t.Parallel()

	const goodKey = "sk-ant-REDACTED"
	var forced atomic.Int32
	upstream := anthropicMock(t, &forced, goodKey)

	store := newFakeStore()
	broker := testBroker(t, store, upstream.URL, "")
	ctx := context.Background()

	t.Run("wrong prefix rejected without probe", func(t *testing.T) {
		err := broker.Configure(ctx, "t1", tenant.ProviderAnthropic, "sk-0123456789abcdef")
		assert.ErrorIs(t, err, ErrKeyFormat)
		assert.Empty(t, store.keys)
	})

	t.Run("rejected key stores nothing", func(t *testing.T) {
		err := broker.Configure(ctx, "t1", tenant.ProviderAnthropic, "sk-ant-invalid")
		assert.ErrorIs(t, err, ErrInvalidProviderKey)
		assert.ErrorContains(t, err, "anthropic", "error must name the failing provider")
		assert.Empty(t, store.keys)
	})

	t.Run("provider outage stores nothing", func(t *testing.T) {
		forced.Store(http.StatusInternalServerError)
		err := broker.Configure(ctx, "t1", tenant.ProviderAnthropic, goodKey)
		assert.ErrorIs(t, err, ErrProbeUnavailable)
		assert.ErrorContains(t, err, "anthropic", "error must name the failing provider")
		assert.Empty(t, store.keys)
		forced.Store(0)
	})

	t.Run("accepted key is sealed at rest", func(t *testing.T) {
		require.NoError(t, broker.Configure(ctx, "t1", tenant.ProviderAnthropic, goodKey))

		sealed := store.keys["t1"].Anthropic
		require.NotNil(t, sealed)
		assert.NotContains(t, *sealed, goodKey, "plaintext must not reach storage")

		plaintext, err := broker.Use(ctx, "t1", tenant.ProviderAnthropic)
		require.NoError(t, err)
		assert.Equal(t, goodKey, plaintext)
	})

	t.Run("rate limited probe counts as valid", func(t *testing.T) {
		forced.Store(http.StatusTooManyRequests)
		err := broker.Configure(ctx, "t2", tenant.ProviderAnthropic, goodKey)
		assert.NoError(t, err)
		forced.Store(0)
	})
}

func TestBroker_ConfigureOpenAI(t *testing.T) {
	t.Parallel()

	const goodKey = "sk-0123456789abcdefghijklmnop"
	upstream := openAIMock(t, goodKey)

	store := newFakeStore()
	broker := testBroker(t, store, "", upstream.URL)
	ctx := context.Background()

	require.NoError(t, broker.Configure(ctx, "t1", tenant.ProviderOpenAI, goodKey))

	plaintext, err := broker.Use(ctx, "t1", tenant.ProviderOpenAI)
	require.NoError(t, err)
	assert.Equal(t, goodKey, plaintext)

	err = broker.Configure(ctx, "t1", tenant.ProviderOpenAI, "sk-wrongkey12345678")
	assert.ErrorIs(t, err, ErrInvalidProviderKey)
	assert.ErrorContains(t, err, "openai", "error must name the failing provider")
}

func TestBroker_MaskAndStatus(t *testing.T) {
	t.Parallel()

	const goodKey = "sk-ant-REDACTED"
	var forced atomic.Int32
	upstream := anthropicMock(t, &forced, goodKey)

	store := newFakeStore()
	broker := testBroker(t, store, upstream.URL, "")
	ctx := context.Background()

	require.NoError(t, broker.Configure(ctx, "t1", tenant.ProviderAnthropic, goodKey))

	mask, err := broker.Mask(ctx, "t1", tenant.ProviderAnthropic)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-a************wxyz", mask)

	status, err := broker.Status(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, status.Anthropic)
	assert.Equal(t, mask, *status.Anthropic)
	assert.Nil(t, status.OpenAI)
	assert.False(t, status.UpdatedAt.IsZero())

	_, err = broker.Mask(ctx, "t1", tenant.ProviderOpenAI)
	assert.ErrorIs(t, err, ErrNoProviderKey)
	assert.ErrorContains(t, err, "openai", "error must name the missing provider")
}

func TestMaskKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		key  string
		want string
	}{
		{name: "normal key", key: "sk-ant-REDACTED", want: "sk-ant-a************wxyz"},
		{name: "thirteen chars", key: "sk-0123456789", want: "sk-01234************6789"},
		{name: "twelve chars all stars", key: "sk-012345678", want: "************"},
		{name: "empty all stars", key: "", want: "************"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, MaskKey(tt.key))
		})
	}
}

func TestBroker_RemoveAndCache(t *testing.T) {
	t.Parallel()

	const goodKey = "sk-ant-REDACTED"
	var forced atomic.Int32
	upstream := anthropicMock(t, &forced, goodKey)

	store := newFakeStore()
	broker := testBroker(t, store, upstream.URL, "")
	ctx := context.Background()

	require.NoError(t, broker.Configure(ctx, "t1", tenant.ProviderAnthropic, goodKey))
	_, err := broker.Use(ctx, "t1", tenant.ProviderAnthropic)
	require.NoError(t, err)

	// Cache is warm: a write behind the broker's back is not observed.
	require.NoError(t, store.SetProviderKey(ctx, "t1", tenant.ProviderAnthropic, nil))
	_, err = broker.Use(ctx, "t1", tenant.ProviderAnthropic)
	assert.NoError(t, err)

	// Remove invalidates, so the cleared key is now visible.
	require.NoError(t, broker.Remove(ctx, "t1", tenant.ProviderAnthropic))
	_, err = broker.Use(ctx, "t1", tenant.ProviderAnthropic)
	assert.ErrorIs(t, err, ErrNoProviderKey)
}

func TestBroker_ChatProxiesConversation(t *testing.T) {
	t.Parallel()

	const goodKey = "sk-ant-REDACTED"
	var forced atomic.Int32
	upstream := anthropicMock(t, &forced, goodKey)

	store := newFakeStore()
	broker := testBroker(t, store, upstream.URL, "")
	ctx := context.Background()

	require.NoError(t, broker.Configure(ctx, "t1", tenant.ProviderAnthropic, goodKey))

	reply, err := broker.Chat(ctx, "t1", tenant.ProviderAnthropic, ChatRequest{
		System:   "You are a shop assistant.",
		Messages: []ChatMessage{{Role: "user", Content: "ping"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "pong", reply.Text)
	assert.Equal(t, int64(3), reply.InputTokens)
	assert.Equal(t, int64(1), reply.OutputTokens)

	_, err = broker.Chat(ctx, "t2", tenant.ProviderAnthropic, ChatRequest{
		Messages: []ChatMessage{{Role: "user", Content: "ping"}},
	})
	assert.ErrorIs(t, err, tenant.ErrNotFound)
}

func TestOpenAIClient_ChatIncludesSystemPrompt(t *testing.T) {
	t.Parallel()

	const goodKey = "sk-0123456789abcdefghijklmnop"
	var sawMessages []ChatMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openAIChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		sawMessages = req.Messages
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"gpt-3.5-turbo","choices":[{"message":{"content":"ok"}}],"usage":{}}`))
	}))
	t.Cleanup(srv.Close)

	client := NewOpenAIClient(networking.NewClientBuilder().WithPrivateIPs(true).Build(), srv.URL)
	reply, err := client.Chat(context.Background(), goodKey, ChatRequest{
		System:   "be brief",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", reply.Text)
	require.Len(t, sawMessages, 2)
	assert.Equal(t, "system", sawMessages[0].Role)
	assert.Equal(t, "user", sawMessages[1].Role)
}
