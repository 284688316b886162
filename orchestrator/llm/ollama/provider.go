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

// Package ollama implements the adapter for self-hosted Ollama servers.
// No API key is required.
package ollama

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/malike2356/abbis-sub018/orchestrator/llm"
)

const (
	// Key is the provider key.
	Key = "ollama"

	DefaultBaseURL = "http://127.0.0.1:11434"
	DefaultModel   = "llama3"
	DefaultTimeout = 120 * time.Second
)

// Config contains configuration for the Ollama provider.
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Provider implements llm.Provider against /api/chat.
type Provider struct {
	baseURL string
	model   string
	client  llm.HTTPClient
}

var _ llm.Provider = (*Provider)(nil)

// NewProvider creates a provider. Defaults apply to every empty field.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, llm.NewProviderError(Key, llm.CategoryValidation, "base URL is not configured")
	}
	return &Provider{
		baseURL: base,
		model:   cfg.Model,
		client:  llm.NewHTTPClient(cfg.Timeout),
	}, nil
}

// New is the llm.Factory for ollama.
func New(cfg llm.AdapterConfig) (llm.Provider, error) {
	p, err := NewProvider(Config{BaseURL: cfg.BaseURL, Model: cfg.Model, Timeout: cfg.Timeout})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Key returns the provider key.
func (p *Provider) Key() string { return Key }

// SupportsStreaming reports true.
func (p *Provider) SupportsStreaming() bool { return true }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *chatOptions  `json:"options,omitempty"`
}

type chatResponse struct {
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	Error           string      `json:"error"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
}

func (p *Provider) buildRequest(messages []llm.Message, opts llm.Options, stream bool) (chatRequest, error) {
	usable := llm.FilterUsable(messages)
	if len(usable) == 0 {
		return chatRequest{}, llm.NewProviderError(Key, llm.CategoryValidation, "no usable messages to send")
	}
	req := chatRequest{Model: opts.ModelOr(p.model), Stream: stream}
	for _, m := range usable {
		req.Messages = append(req.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	if opts.Temperature != nil || opts.MaxTokens > 0 {
		req.Options = &chatOptions{Temperature: opts.Temperature, NumPredict: opts.MaxTokens}
	}
	return req, nil
}

// Complete sends a non-streaming chat request.
func (p *Provider) Complete(ctx context.Context, messages []llm.Message, opts llm.Options) (llm.Response, error) {
	req, err := p.buildRequest(messages, opts, false)
	if err != nil {
		return llm.Response{}, err
	}
	resp, err := llm.PostJSON(ctx, p.client, Key, p.baseURL+"/api/chat", nil, req)
	if err != nil {
		return llm.Response{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	var out chatResponse
	var raw map[string]interface{}
	if err := llm.DecodeJSON(Key, resp.Body, &out, &raw); err != nil {
		return llm.Response{}, err
	}
	if out.Error != "" {
		return llm.Response{}, llm.NewProviderError(Key, llm.CategoryService, out.Error)
	}
	if out.Message.Content == "" {
		return llm.Response{}, llm.NewProviderError(Key, llm.CategoryService, "provider returned no content")
	}
	return llm.Response{
		ProviderKey:      Key,
		Messages:         []llm.Message{{Role: llm.RoleAssistant, Content: out.Message.Content}},
		RawPayload:       raw,
		PromptTokens:     out.PromptEvalCount,
		CompletionTokens: out.EvalCount,
	}, nil
}

// Stream reads newline-delimited JSON objects until done.
func (p *Provider) Stream(ctx context.Context, messages []llm.Message, onDelta llm.StreamHandler, opts llm.Options) (llm.Response, error) {
	req, err := p.buildRequest(messages, opts, true)
	if err != nil {
		return llm.Response{}, err
	}
	resp, err := llm.PostJSON(ctx, p.client, Key, p.baseURL+"/api/chat", nil, req)
	if err != nil {
		return llm.Response{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	err = llm.ScanLines(Key, resp.Body, func(line string) (bool, error) {
		var chunk chatResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return false, nil
		}
		if chunk.Error != "" {
			return false, llm.NewProviderError(Key, llm.CategoryService, "streaming error: "+chunk.Error)
		}
		if chunk.Message.Content != "" {
			if err := onDelta(chunk.Message.Content); err != nil {
				return false, llm.SinkError(Key, err)
			}
		}
		return chunk.Done, nil
	})
	if err != nil {
		return llm.Response{}, err
	}
	return llm.Response{ProviderKey: Key}, nil
}
