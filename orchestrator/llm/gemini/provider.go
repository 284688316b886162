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

// Package gemini implements the Google Generative Language API adapter.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/malike2356/abbis-sub018/orchestrator/llm"
)

const (
	// Key is the provider key.
	Key = "gemini"

	// DefaultBaseURL includes the API version.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultModel is the default Gemini model.
	DefaultModel = "gemini-1.5-flash-latest"

	DefaultTemperature = 0.3
	DefaultMaxTokens   = 512
	DefaultTimeout     = 30 * time.Second
)

// Config contains configuration for the Gemini provider.
type Config struct {
	APIKey  string        // Required: Google API key
	BaseURL string        // Optional: API base URL including version
	Model   string        // Optional: default model
	Timeout time.Duration // Optional: HTTP timeout (default: 30s)
}

// Provider implements llm.Provider for Gemini.
type Provider struct {
	apiKey  string
	baseURL string
	model   string
	client  llm.HTTPClient
}

var _ llm.Provider = (*Provider)(nil)

// NewProvider creates a new Gemini provider instance.
func NewProvider(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, llm.NewProviderError(Key, llm.CategoryAuth, "API key is not configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Provider{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  llm.NewHTTPClient(cfg.Timeout),
	}, nil
}

// New is the llm.Factory for gemini.
func New(cfg llm.AdapterConfig) (llm.Provider, error) {
	p, err := NewProvider(Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
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

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func (r geminiResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, part := range r.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String()
}

// buildRequest flattens system messages into systemInstruction and
// relabels assistant turns as "model".
func buildRequest(messages []llm.Message, opts llm.Options) (geminiRequest, error) {
	system, rest := llm.SplitSystem(llm.FilterUsable(messages))

	req := geminiRequest{
		GenerationConfig: generationConfig{
			Temperature:     opts.TemperatureOr(DefaultTemperature),
			MaxOutputTokens: opts.MaxTokensOr(DefaultMaxTokens),
		},
	}
	for _, m := range rest {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		role := "user"
		if m.Role == llm.RoleAssistant {
			role = "model"
		}
		req.Contents = append(req.Contents, geminiContent{Role: role, Parts: []geminiPart{{Text: text}}})
	}
	if len(req.Contents) == 0 {
		return geminiRequest{}, llm.NewProviderError(Key, llm.CategoryValidation, "at least one user message is required")
	}
	if system != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}
	return req, nil
}

func (p *Provider) endpoint(model, method, extra string) string {
	return fmt.Sprintf("%s/models/%s:%s?%skey=%s",
		p.baseURL, url.PathEscape(model), method, extra, url.QueryEscape(p.apiKey))
}

// Complete calls generateContent.
func (p *Provider) Complete(ctx context.Context, messages []llm.Message, opts llm.Options) (llm.Response, error) {
	req, err := buildRequest(messages, opts)
	if err != nil {
		return llm.Response{}, err
	}

	resp, err := llm.PostJSON(ctx, p.client, Key, p.endpoint(opts.ModelOr(p.model), "generateContent", ""), nil, req)
	if err != nil {
		return llm.Response{}, scrub(err, p.apiKey)
	}
	defer func() { _ = resp.Body.Close() }()

	var out geminiResponse
	var raw map[string]interface{}
	if err := llm.DecodeJSON(Key, resp.Body, &out, &raw); err != nil {
		return llm.Response{}, err
	}

	content := out.text()
	if content == "" {
		return llm.Response{}, llm.NewProviderError(Key, llm.CategoryService, "provider returned no content")
	}

	r := llm.Response{
		ProviderKey: Key,
		Messages:    []llm.Message{{Role: llm.RoleAssistant, Content: content}},
		RawPayload:  raw,
	}
	if out.UsageMetadata != nil {
		r.PromptTokens = out.UsageMetadata.PromptTokenCount
		r.CompletionTokens = out.UsageMetadata.CandidatesTokenCount
	}
	return r, nil
}

// Stream calls streamGenerateContent with alt=sse.
func (p *Provider) Stream(ctx context.Context, messages []llm.Message, onDelta llm.StreamHandler, opts llm.Options) (llm.Response, error) {
	req, err := buildRequest(messages, opts)
	if err != nil {
		return llm.Response{}, err
	}

	headers := map[string]string{"Accept": "text/event-stream"}
	resp, err := llm.PostJSON(ctx, p.client, Key, p.endpoint(opts.ModelOr(p.model), "streamGenerateContent", "alt=sse&"), headers, req)
	if err != nil {
		return llm.Response{}, scrub(err, p.apiKey)
	}
	defer func() { _ = resp.Body.Close() }()

	err = llm.ScanLines(Key, resp.Body, func(line string) (bool, error) {
		data, ok := llm.SSEData(line)
		if !ok {
			return false, nil
		}
		var event geminiResponse
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return false, nil
		}
		if text := event.text(); text != "" {
			if err := onDelta(text); err != nil {
				return false, llm.SinkError(Key, err)
			}
		}
		return false, nil
	})
	if err != nil {
		return llm.Response{}, err
	}
	return llm.Response{ProviderKey: Key}, nil
}

// scrub removes the API key from transport error text, since Gemini
// carries it in the query string and url.Error echoes the URL.
func scrub(err error, apiKey string) error {
	pe, ok := err.(*llm.ProviderError)
	if !ok || apiKey == "" {
		return err
	}
	escaped := url.QueryEscape(apiKey)
	pe.Message = strings.ReplaceAll(strings.ReplaceAll(pe.Message, escaped, "***"), apiKey, "***")
	if pe.Cause != nil && strings.Contains(pe.Cause.Error(), escaped) {
		pe.Cause = scrubbedError{msg: strings.ReplaceAll(pe.Cause.Error(), escaped, "***"), err: pe.Cause}
	}
	return pe
}

type scrubbedError struct {
	msg string
	err error
}

func (e scrubbedError) Error() string { return e.msg }
func (e scrubbedError) Unwrap() error { return e.err }
