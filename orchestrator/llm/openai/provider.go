// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package openai implements the chat-completions wire protocol shared by
// OpenAI and OpenAI-compatible backends such as DeepSeek.
package openai

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/malike2356/abbis-sub018/orchestrator/llm"
)

const (
	// DefaultBaseURL is the OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is used when neither config nor options name one.
	DefaultModel = "gpt-4.1-mini"

	// DeepSeekBaseURL is the DeepSeek OpenAI-compatible endpoint.
	DeepSeekBaseURL = "https://api.deepseek.com/v1"

	// DeepSeekModel is the default DeepSeek model.
	DeepSeekModel = "deepseek-chat"

	DefaultTemperature = 0.2
	DefaultMaxTokens   = 512
	DefaultTimeout     = 30 * time.Second
)

// Provider keys served by this adapter.
const (
	KeyOpenAI   = "openai"
	KeyDeepSeek = "deepseek"
)

// Config contains configuration for the adapter.
type Config struct {
	Key          string        // Optional: provider key (default: openai)
	APIKey       string        // Required: bearer token
	BaseURL      string        // Optional: API base URL
	Model        string        // Optional: default model
	Organization string        // Optional: OpenAI-Organization header
	Timeout      time.Duration // Optional: HTTP timeout (default: 30s)
}

// Provider talks to a /chat/completions endpoint.
type Provider struct {
	key          string
	apiKey       string
	baseURL      string
	model        string
	organization string
	client       llm.HTTPClient
}

var _ llm.Provider = (*Provider)(nil)

// NewProvider validates cfg and fills in defaults for the given key.
func NewProvider(cfg Config) (*Provider, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Key))
	if key == "" {
		key = KeyOpenAI
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, llm.NewProviderError(key, llm.CategoryAuth, "API key is not configured")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL(key)
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel(key)
	}
	if cfg.BaseURL == "" || cfg.Model == "" {
		return nil, llm.NewProviderError(key, llm.CategoryValidation, "base URL and model are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Provider{
		key:          key,
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		model:        cfg.Model,
		organization: cfg.Organization,
		client:       llm.NewHTTPClient(cfg.Timeout),
	}, nil
}

// New is the llm.Factory for OpenAI-compatible keys.
func New(cfg llm.AdapterConfig) (llm.Provider, error) {
	p, err := NewProvider(Config{
		Key:          cfg.Key,
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
		Model:        cfg.Model,
		Organization: cfg.Setting("organization"),
		Timeout:      cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func defaultBaseURL(key string) string {
	switch key {
	case KeyOpenAI:
		return DefaultBaseURL
	case KeyDeepSeek:
		return DeepSeekBaseURL
	}
	return ""
}

func defaultModel(key string) string {
	switch key {
	case KeyOpenAI:
		return DefaultModel
	case KeyDeepSeek:
		return DeepSeekModel
	}
	return ""
}

// Key returns the provider key.
func (p *Provider) Key() string { return p.key }

// SupportsStreaming reports true.
func (p *Provider) SupportsStreaming() bool { return true }

// Model returns the configured default model.
func (p *Provider) Model() string { return p.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		Delta        chatMessage `json:"delta"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *Provider) buildRequest(messages []llm.Message, opts llm.Options, stream bool) (chatRequest, error) {
	usable := llm.FilterUsable(messages)
	if len(usable) == 0 {
		return chatRequest{}, llm.NewProviderError(p.key, llm.CategoryValidation, "no usable messages to send")
	}
	out := make([]chatMessage, 0, len(usable))
	for _, m := range usable {
		out = append(out, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	return chatRequest{
		Model:       opts.ModelOr(p.model),
		Messages:    out,
		Temperature: opts.TemperatureOr(DefaultTemperature),
		MaxTokens:   opts.MaxTokensOr(DefaultMaxTokens),
		Stream:      stream,
	}, nil
}

func (p *Provider) headers() map[string]string {
	h := map[string]string{"Authorization": "Bearer " + p.apiKey}
	if p.organization != "" {
		h["OpenAI-Organization"] = p.organization
	}
	return h
}

// Complete sends one non-streaming chat completion.
func (p *Provider) Complete(ctx context.Context, messages []llm.Message, opts llm.Options) (llm.Response, error) {
	req, err := p.buildRequest(messages, opts, false)
	if err != nil {
		return llm.Response{}, err
	}

	resp, err := llm.PostJSON(ctx, p.client, p.key, p.baseURL+"/chat/completions", p.headers(), req)
	if err != nil {
		return llm.Response{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	var out chatResponse
	var raw map[string]interface{}
	if err := llm.DecodeJSON(p.key, resp.Body, &out, &raw); err != nil {
		return llm.Response{}, err
	}

	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return llm.Response{}, llm.NewProviderError(p.key, llm.CategoryService, "provider returned no content")
	}

	r := llm.Response{
		ProviderKey: p.key,
		Messages:    []llm.Message{{Role: llm.RoleAssistant, Content: out.Choices[0].Message.Content}},
		RawPayload:  raw,
	}
	if out.Usage != nil {
		r.PromptTokens = out.Usage.PromptTokens
		r.CompletionTokens = out.Usage.CompletionTokens
	}
	return r, nil
}

// Stream sends a streaming chat completion and forwards each content delta.
func (p *Provider) Stream(ctx context.Context, messages []llm.Message, onDelta llm.StreamHandler, opts llm.Options) (llm.Response, error) {
	req, err := p.buildRequest(messages, opts, true)
	if err != nil {
		return llm.Response{}, err
	}

	headers := p.headers()
	headers["Accept"] = "text/event-stream"
	resp, err := llm.PostJSON(ctx, p.client, p.key, p.baseURL+"/chat/completions", headers, req)
	if err != nil {
		return llm.Response{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	err = llm.ScanLines(p.key, resp.Body, func(line string) (bool, error) {
		data, ok := llm.SSEData(line)
		if !ok {
			return false, nil
		}
		if data == "[DONE]" {
			return true, nil
		}
		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return false, nil
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			return false, nil
		}
		if err := onDelta(chunk.Choices[0].Delta.Content); err != nil {
			return false, llm.SinkError(p.key, err)
		}
		return false, nil
	})
	if err != nil {
		return llm.Response{}, err
	}
	return llm.Response{ProviderKey: p.key}, nil
}
