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

package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malike2356/abbis-sub018/orchestrator/llm"
)

// mockHTTPClient is a mock HTTP client for testing.
type mockHTTPClient struct {
	DoFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return m.DoFunc(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func newMockedProvider(t *testing.T, do func(req *http.Request) (*http.Response, error)) *Provider {
	t.Helper()
	p, err := NewProvider(Config{APIKey: "g-secret"})
	require.NoError(t, err)
	p.client = &mockHTTPClient{DoFunc: do}
	return p
}

func TestNewProvider(t *testing.T) {
	_, err := NewProvider(Config{})
	assert.Equal(t, llm.CategoryAuth, llm.CategoryOf(err))

	p, err := NewProvider(Config{APIKey: "k", BaseURL: "http://proxy/v1/"})
	require.NoError(t, err)
	assert.Equal(t, "http://proxy/v1", p.baseURL)
	assert.Equal(t, DefaultModel, p.model)
	assert.Equal(t, "gemini", p.Key())
}

func TestBuildRequest(t *testing.T) {
	req, err := buildRequest([]llm.Message{
		{Role: llm.RoleSystem, Content: "Be concise."},
		{Role: llm.RoleUser, Content: "Hi"},
		{Role: llm.RoleAssistant, Content: "Hello!"},
		{Role: llm.RoleSystem, Content: "Currency is GHS."},
		{Role: llm.RoleUser, Content: "   "},
		{Role: llm.RoleUser, Content: "Revenue?"},
	}, llm.Options{})
	require.NoError(t, err)

	require.NotNil(t, req.SystemInstruction)
	assert.Equal(t, "Be concise.\n\nCurrency is GHS.", req.SystemInstruction.Parts[0].Text)
	require.Len(t, req.Contents, 3)
	assert.Equal(t, "user", req.Contents[0].Role)
	assert.Equal(t, "model", req.Contents[1].Role)
	assert.Equal(t, "Revenue?", req.Contents[2].Parts[0].Text)
	assert.Equal(t, DefaultTemperature, req.GenerationConfig.Temperature)
	assert.Equal(t, DefaultMaxTokens, req.GenerationConfig.MaxOutputTokens)

	_, err = buildRequest([]llm.Message{{Role: llm.RoleSystem, Content: "only system"}}, llm.Options{})
	assert.Equal(t, llm.CategoryValidation, llm.CategoryOf(err))
}

func TestComplete(t *testing.T) {
	var sent geminiRequest
	p := newMockedProvider(t, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "/v1beta/models/gemini-1.5-pro:generateContent", req.URL.Path)
		assert.Equal(t, "g-secret", req.URL.Query().Get("key"))
		body, _ := io.ReadAll(req.Body)
		require.NoError(t, json.Unmarshal(body, &sent))
		return jsonResponse(200, `{"candidates":[{"content":{"role":"model","parts":[{"text":"Revenue is "},{"text":"GHS 12,000."}]},"finishReason":"STOP"}],
			"usageMetadata":{"promptTokenCount":40,"candidatesTokenCount":8,"totalTokenCount":48}}`), nil
	})

	resp, err := p.Complete(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "Revenue?"}},
		llm.Options{Model: "gemini-1.5-pro", MaxTokens: 100})
	require.NoError(t, err)
	assert.Equal(t, "Revenue is GHS 12,000.", resp.Content())
	assert.Equal(t, 40, resp.PromptTokens)
	assert.Equal(t, 8, resp.CompletionTokens)
	assert.Equal(t, 100, sent.GenerationConfig.MaxOutputTokens)
	assert.Nil(t, sent.SystemInstruction)
}

func TestComplete_Errors(t *testing.T) {
	tests := []struct {
		name    string
		resp    *http.Response
		doErr   error
		wantCat llm.Category
	}{
		{"api key invalid", jsonResponse(403, `{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`), nil, llm.CategoryAuth},
		{"quota", jsonResponse(429, `{"error":{"code":429,"message":"Resource exhausted"}}`), nil, llm.CategoryRateLimit},
		{"unavailable", jsonResponse(503, `{"error":{"message":"overloaded"}}`), nil, llm.CategoryService},
		{"no candidates", jsonResponse(200, `{"candidates":[]}`), nil, llm.CategoryService},
		{"transport", nil, errors.New(`Post "https://x/models/m:generateContent?key=g-secret": dial tcp: refused`), llm.CategoryService},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newMockedProvider(t, func(*http.Request) (*http.Response, error) { return tt.resp, tt.doErr })
			_, err := p.Complete(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "q"}}, llm.Options{})
			require.Error(t, err)
			assert.Equal(t, tt.wantCat, llm.CategoryOf(err))
			assert.NotContains(t, err.Error(), "g-secret")
		})
	}
}

func TestStream(t *testing.T) {
	var buf bytes.Buffer
	for _, chunk := range []string{"Two ", "pending ", "quotes."} {
		buf.WriteString(`data: {"candidates":[{"content":{"role":"model","parts":[{"text":"` + chunk + `"}]}}]}` + "\n\n")
	}
	p := newMockedProvider(t, func(req *http.Request) (*http.Response, error) {
		assert.True(t, strings.HasSuffix(req.URL.Path, ":streamGenerateContent"))
		assert.Equal(t, "sse", req.URL.Query().Get("alt"))
		return jsonResponse(200, buf.String()), nil
	})

	var deltas []string
	resp, err := p.Stream(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "Quotes?"}},
		func(d string) error { deltas = append(deltas, d); return nil }, llm.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Two ", "pending ", "quotes."}, deltas)
	assert.Equal(t, "gemini", resp.ProviderKey)
	assert.Empty(t, resp.Messages)
}
