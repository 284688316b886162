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

package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malike2356/abbis-sub018/orchestrator/llm"
)

var convo = []llm.Message{
	{Role: llm.RoleSystem, Content: "You are the ABBIS assistant."},
	{Role: llm.RoleUser, Content: "How many rigs are active?"},
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := NewProvider(Config{APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)
	return p
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantCat   llm.Category
		wantKey   string
		wantBase  string
		wantModel string
	}{
		{"missing key", Config{}, llm.CategoryAuth, "", "", ""},
		{"openai defaults", Config{APIKey: "sk"}, "", "openai", DefaultBaseURL, DefaultModel},
		{"deepseek defaults", Config{Key: "DeepSeek", APIKey: "sk"}, "", "deepseek", DeepSeekBaseURL, DeepSeekModel},
		{"custom key needs base url", Config{Key: "groq", APIKey: "sk"}, llm.CategoryValidation, "", "", ""},
		{"custom key with overrides", Config{Key: "groq", APIKey: "sk", BaseURL: "https://api.groq.com/openai/v1/", Model: "llama-3.1-8b"},
			"", "groq", "https://api.groq.com/openai/v1", "llama-3.1-8b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.cfg)
			if tt.wantCat != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCat, llm.CategoryOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKey, p.Key())
			assert.Equal(t, tt.wantBase, p.baseURL)
			assert.Equal(t, tt.wantModel, p.Model())
			assert.True(t, p.SupportsStreaming())
		})
	}
}

func TestNew_ReturnsNilInterfaceOnError(t *testing.T) {
	p, err := New(llm.AdapterConfig{Key: "openai"})
	require.Error(t, err)
	assert.Nil(t, p)
}

func TestComplete(t *testing.T) {
	var got chatRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = fmt.Fprint(w, `{"id":"c1","choices":[{"message":{"role":"assistant","content":"Four rigs."},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":21,"completion_tokens":3,"total_tokens":24}}`)
	})

	resp, err := p.Complete(context.Background(), convo, llm.Options{})
	require.NoError(t, err)

	assert.Equal(t, "openai", resp.ProviderKey)
	assert.Equal(t, "Four rigs.", resp.Content())
	assert.Equal(t, 21, resp.PromptTokens)
	assert.Equal(t, 3, resp.CompletionTokens)
	assert.Equal(t, 24, resp.TotalTokens())
	assert.Equal(t, "c1", resp.RawPayload["id"])

	assert.Equal(t, DefaultModel, got.Model)
	assert.Equal(t, DefaultTemperature, got.Temperature)
	assert.Equal(t, DefaultMaxTokens, got.MaxTokens)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
}

func TestComplete_OptionsOverride(t *testing.T) {
	var got chatRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
	})

	_, err := p.Complete(context.Background(), convo, llm.Options{
		Model: "gpt-4o", Temperature: llm.Float64(0), MaxTokens: 64,
	})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", got.Model)
	assert.Equal(t, 0.0, got.Temperature)
	assert.Equal(t, 64, got.MaxTokens)
}

func TestComplete_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantCat llm.Category
		wantMsg string
	}{
		{"unauthorized", 401, `{"error":{"message":"Incorrect API key provided"}}`, llm.CategoryAuth, "Incorrect API key provided"},
		{"forbidden", 403, `{"error":{"message":"region blocked"}}`, llm.CategoryAuth, "region blocked"},
		{"rate limited", 429, `{"error":{"message":"Rate limit reached"}}`, llm.CategoryRateLimit, "Rate limit reached"},
		{"server error", 500, `{"error":{"message":"oops"}}`, llm.CategoryService, "oops"},
		{"bad request", 400, `{"error":{"message":"bad"}}`, llm.CategoryService, "bad"},
		{"malformed body", 200, `{not json`, llm.CategoryService, ""},
		{"empty content", 200, `{"choices":[{"message":{"role":"assistant","content":""}}]}`, llm.CategoryService, "provider returned no content"},
		{"no choices", 200, `{"choices":[]}`, llm.CategoryService, "provider returned no content"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = fmt.Fprint(w, tt.body)
			})
			_, err := p.Complete(context.Background(), convo, llm.Options{})
			require.Error(t, err)

			var pe *llm.ProviderError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.wantCat, pe.Category)
			assert.Equal(t, "openai", pe.Provider)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, pe.Message)
			}
			assert.NotContains(t, pe.Error(), "sk-test")
		})
	}
}

func TestComplete_NoUsableMessages(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := p.Complete(context.Background(), []llm.Message{{Role: llm.RoleUser}}, llm.Options{})
	assert.Equal(t, llm.CategoryValidation, llm.CategoryOf(err))
}

func TestComplete_Timeout(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Complete(ctx, convo, llm.Options{})
	require.Error(t, err)
	assert.Equal(t, llm.CategoryService, llm.CategoryOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStream(t *testing.T) {
	var got chatRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, part := range []string{"Four", " rigs", ""} {
			_, _ = fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
			flusher.Flush()
		}
		_, _ = fmt.Fprint(w, ": keep-alive\n\ndata: [DONE]\n\n")
	})

	var deltas []string
	resp, err := p.Stream(context.Background(), convo, func(d string) error {
		deltas = append(deltas, d)
		return nil
	}, llm.Options{})
	require.NoError(t, err)

	assert.True(t, got.Stream)
	assert.Equal(t, []string{"Four", " rigs"}, deltas)
	assert.Equal(t, "openai", resp.ProviderKey)
	assert.Empty(t, resp.Messages)
	assert.Equal(t, 0, resp.TotalTokens())
}

func TestStream_SinkAbort(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 5; i++ {
			_, _ = fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"c%d\"}}]}\n\n", i)
		}
	})

	calls := 0
	_, err := p.Stream(context.Background(), convo, func(string) error {
		calls++
		return errors.New("client went away")
	}, llm.Options{})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, llm.CategoryService, llm.CategoryOf(err))
}

func TestStream_StatusError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := p.Stream(context.Background(), convo, func(string) error { return nil }, llm.Options{})
	assert.Equal(t, llm.CategoryRateLimit, llm.CategoryOf(err))
}
