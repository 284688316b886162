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

// Package anthropic implements the Anthropic Messages API adapter. The
// request and response types are shared with the Bedrock adapter, which
// sends the same body through InvokeModel.
package anthropic

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/malike2356/abbis-sub018/orchestrator/llm"
)

const (
	// Key is the provider key.
	Key = "anthropic"

	// DefaultBaseURL is the default Anthropic API endpoint
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultAPIVersion is the Anthropic API version
	DefaultAPIVersion = "2023-06-01"

	// DefaultModel is used when neither config nor options name one.
	DefaultModel = "claude-3-5-haiku-20241022"

	DefaultTimeout     = 60 * time.Second
	DefaultMaxTokens   = 512
	DefaultTemperature = 0.2
)

// Config contains configuration for the Anthropic provider.
type Config struct {
	APIKey     string        // Required: Anthropic API key
	BaseURL    string        // Optional: API base URL (default: https://api.anthropic.com)
	APIVersion string        // Optional: anthropic-version header (default: 2023-06-01)
	Model      string        // Optional: default model
	Timeout    time.Duration // Optional: HTTP timeout (default: 60s)
}

// Provider implements llm.Provider for Claude.
type Provider struct {
	apiKey     string
	baseURL    string
	apiVersion string
	model      string
	client     llm.HTTPClient
}

var _ llm.Provider = (*Provider)(nil)

// NewProvider creates a new Anthropic provider instance.
func NewProvider(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, llm.NewProviderError(Key, llm.CategoryAuth, "API key is not configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Provider{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiVersion: cfg.APIVersion,
		model:      cfg.Model,
		client:     llm.NewHTTPClient(cfg.Timeout),
	}, nil
}

// New is the llm.Factory for anthropic.
func New(cfg llm.AdapterConfig) (llm.Provider, error) {
	p, err := NewProvider(Config{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		APIVersion: cfg.Setting("api_version"),
		Model:      cfg.Model,
		Timeout:    cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Key returns the provider key.
func (p *Provider) Key() string { return Key }

// SupportsStreaming reports true.
func (p *Provider) SupportsStreaming() bool { return true }

// Message is one turn in the Messages API.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the Messages API body. AnthropicVersion is only set for
// Bedrock, where the model travels outside the body.
type Request struct {
	AnthropicVersion string    `json:"anthropic_version,omitempty"`
	Model            string    `json:"model,omitempty"`
	Messages         []Message `json:"messages"`
	MaxTokens        int       `json:"max_tokens"`
	System           string    `json:"system,omitempty"`
	Temperature      *float64  `json:"temperature,omitempty"`
	Stream           bool      `json:"stream,omitempty"`
}

// Response is the Messages API result.
type Response struct {
	ID         string `json:"id"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Text concatenates the text blocks.
func (r Response) Text() string {
	var b strings.Builder
	for _, c := range r.Content {
		if c.Type == "" || c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// BuildRequest lifts system messages into the top-level system field.
// provider is used to attribute a VALIDATION error.
func BuildRequest(provider string, messages []llm.Message, opts llm.Options) (Request, error) {
	system, rest := llm.SplitSystem(llm.FilterUsable(messages))
	if len(rest) == 0 {
		return Request{}, llm.NewProviderError(provider, llm.CategoryValidation, "at least one user message is required")
	}
	out := make([]Message, 0, len(rest))
	for _, m := range rest {
		role := "user"
		if m.Role == llm.RoleAssistant {
			role = "assistant"
		}
		out = append(out, Message{Role: role, Content: m.Content})
	}
	return Request{
		Messages:    out,
		MaxTokens:   opts.MaxTokensOr(DefaultMaxTokens),
		System:      system,
		Temperature: llm.Float64(opts.TemperatureOr(DefaultTemperature)),
	}, nil
}

// ToResponse converts a decoded Messages API result.
func ToResponse(provider string, out Response, raw map[string]interface{}) (llm.Response, error) {
	text := out.Text()
	if text == "" {
		return llm.Response{}, llm.NewProviderError(provider, llm.CategoryService, "provider returned no content")
	}
	return llm.Response{
		ProviderKey:      provider,
		Messages:         []llm.Message{{Role: llm.RoleAssistant, Content: text}},
		RawPayload:       raw,
		PromptTokens:     out.Usage.InputTokens,
		CompletionTokens: out.Usage.OutputTokens,
	}, nil
}

func (p *Provider) headers() map[string]string {
	return map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": p.apiVersion,
	}
}

// Complete sends one Messages API request.
func (p *Provider) Complete(ctx context.Context, messages []llm.Message, opts llm.Options) (llm.Response, error) {
	req, err := BuildRequest(Key, messages, opts)
	if err != nil {
		return llm.Response{}, err
	}
	req.Model = opts.ModelOr(p.model)

	resp, err := llm.PostJSON(ctx, p.client, Key, p.baseURL+"/v1/messages", p.headers(), req)
	if err != nil {
		return llm.Response{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	var out Response
	var raw map[string]interface{}
	if err := llm.DecodeJSON(Key, resp.Body, &out, &raw); err != nil {
		return llm.Response{}, err
	}
	return ToResponse(Key, out, raw)
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type string `json:"type,omitempty"`
		Text string `json:"text,omitempty"`
	} `json:"delta,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Stream forwards text_delta events until message_stop.
func (p *Provider) Stream(ctx context.Context, messages []llm.Message, onDelta llm.StreamHandler, opts llm.Options) (llm.Response, error) {
	req, err := BuildRequest(Key, messages, opts)
	if err != nil {
		return llm.Response{}, err
	}
	req.Model = opts.ModelOr(p.model)
	req.Stream = true

	headers := p.headers()
	headers["Accept"] = "text/event-stream"
	resp, err := llm.PostJSON(ctx, p.client, Key, p.baseURL+"/v1/messages", headers, req)
	if err != nil {
		return llm.Response{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	err = llm.ScanLines(Key, resp.Body, func(line string) (bool, error) {
		data, ok := llm.SSEData(line)
		if !ok {
			return false, nil
		}
		var event streamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return false, nil
		}
		switch event.Type {
		case "content_block_delta":
			if event.Delta != nil && event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				if err := onDelta(event.Delta.Text); err != nil {
					return false, llm.SinkError(Key, err)
				}
			}
		case "error":
			cat := llm.CategoryService
			msg := "stream error"
			if event.Error != nil {
				msg = event.Error.Message
				if event.Error.Type == "rate_limit_error" {
					cat = llm.CategoryRateLimit
				}
			}
			return false, llm.NewProviderError(Key, cat, msg)
		case "message_stop":
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return llm.Response{}, err
	}
	return llm.Response{ProviderKey: Key}, nil
}
