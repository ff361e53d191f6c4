// SPDX-FileCopyrightText: Copyright 2025 EagleChat Authors
// SPDX-License-Identifier: Apache-2.0

package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicProbeModel is the cheapest model accepted by every key tier.
const anthropicProbeModel = "claude-3-haiku-20240307"

// defaultChatMaxTokens bounds replies when the caller does not say.
const defaultChatMaxTokens = 1024

// AnthropicClient talks to the Anthropic API through the official SDK.
type AnthropicClient struct {
	httpClient *http.Client
	baseURL    string
	chatModel  string
}

var _ Client = (*AnthropicClient)(nil)

// NewAnthropicClient builds the client. baseURL is overridable for tests;
// empty means the public endpoint.
func NewAnthropicClient(httpClient *http.Client, baseURL string) *AnthropicClient {
	return &AnthropicClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		chatModel:  anthropicProbeModel,
	}
}

// WithChatModel overrides the model used for chat calls.
func (c *AnthropicClient) WithChatModel(model string) *AnthropicClient {
	c.chatModel = model
	return c
}

func (c *AnthropicClient) sdk(key string) anthropic.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithMaxRetries(0),
	}
	if c.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(c.httpClient))
	}
	if c.baseURL != "" {
		opts = append(opts, option.WithBaseURL(c.baseURL))
	}
	return anthropic.NewClient(opts...)
}

// Probe issues a one-token message to the cheapest model.
func (c *AnthropicClient) Probe(ctx context.Context, key string) error {
	client := c.sdk(key)
	_, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(anthropicProbeModel),
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	return anthropicVerdict(err)
}

// Chat proxies a conversation to the Anthropic messages API.
func (c *AnthropicClient) Chat(ctx context.Context, key string, req ChatRequest) (*ChatReply, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultChatMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.chatModel),
		MaxTokens: maxTokens,
		Messages:  make([]anthropic.MessageParam, 0, len(req.Messages)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	for _, msg := range req.Messages {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == "assistant" {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}

	client := c.sdk(key)
	msg, err := client.Messages.New(ctx, params)
	if err != nil {
		if verdict := anthropicVerdict(err); errors.Is(verdict, ErrInvalidProviderKey) {
			return nil, verdict
		}
		return nil, fmt.Errorf("anthropic chat call: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &ChatReply{
		Text:         text.String(),
		Model:        string(msg.Model),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}, nil
}

// anthropicVerdict translates an SDK error into a broker error.
func anthropicVerdict(err error) error {
	if err == nil {
		return nil
	}
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return probeVerdict(apierr.StatusCode)
	}
	return fmt.Errorf("%w: %v", ErrProbeUnavailable, err)
}
