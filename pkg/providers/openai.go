// SPDX-FileCopyrightText: Copyright 2025 EagleChat Authors
// SPDX-License-Identifier: Apache-2.0

package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/eaglechat/gateway/pkg/networking"
)

// openAIProbeModel is the cheapest model accepted by every key tier.
const openAIProbeModel = "gpt-3.5-turbo"

const openAIDefaultBaseURL = "https://api.openai.com/v1"

// OpenAIClient talks to the OpenAI chat completions API.
type OpenAIClient struct {
	httpClient *http.Client
	baseURL    string
	chatModel  string
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient builds the client. baseURL is overridable for tests;
// empty means the public endpoint.
func NewOpenAIClient(httpClient *http.Client, baseURL string) *OpenAIClient {
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}
	return &OpenAIClient{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		chatModel:  openAIProbeModel,
	}
}

// WithChatModel overrides the model used for chat calls.
func (c *OpenAIClient) WithChatModel(model string) *OpenAIClient {
	c.chatModel = model
	return c
}

type openAIChatRequest struct {
	Model     string        `json:"model"`
	MaxTokens int64         `json:"max_tokens,omitempty"`
	Messages  []ChatMessage `json:"messages"`
}

type openAIChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *OpenAIClient) completions(ctx context.Context, key string, req openAIChatRequest) (*openAIChatResponse, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+key)

	var resp openAIChatResponse
	err := networking.PostJSON(ctx, c.httpClient, c.baseURL+"/chat/completions", req, &resp, headers)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Probe issues a one-token completion to the cheapest model.
func (c *OpenAIClient) Probe(ctx context.Context, key string) error {
	_, err := c.completions(ctx, key, openAIChatRequest{
		Model:     openAIProbeModel,
		MaxTokens: 1,
		Messages:  []ChatMessage{{Role: "user", Content: "ping"}},
	})
	return openAIVerdict(err)
}

// Chat proxies a conversation to the chat completions API.
func (c *OpenAIClient) Chat(ctx context.Context, key string, req ChatRequest) (*ChatReply, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultChatMaxTokens
	}

	messages := make([]ChatMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, req.Messages...)

	resp, err := c.completions(ctx, key, openAIChatRequest{
		Model:     c.chatModel,
		MaxTokens: maxTokens,
		Messages:  messages,
	})
	if err != nil {
		if verdict := openAIVerdict(err); errors.Is(verdict, ErrInvalidProviderKey) {
			return nil, verdict
		}
		return nil, fmt.Errorf("openai chat call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai chat call: empty choices in response")
	}
	return &ChatReply{
		Text:         resp.Choices[0].Message.Content,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// openAIVerdict translates a transport error into a broker error.
func openAIVerdict(err error) error {
	if err == nil {
		return nil
	}
	var httpErr *networking.HTTPError
	if errors.As(err, &httpErr) {
		return probeVerdict(httpErr.StatusCode)
	}
	return fmt.Errorf("%w: %v", ErrProbeUnavailable, err)
}
