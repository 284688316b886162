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

package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malike2356/abbis-sub018/orchestrator/llm"
)

func newTestProvider(t *testing.T, h http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	p, err := NewProvider(Config{APIKey: "ak-test", BaseURL: srv.URL})
	require.NoError(t, err)
	return p
}

func TestNewProvider_MissingKey(t *testing.T) {
	_, err := NewProvider(Config{})
	assert.Equal(t, llm.CategoryAuth, llm.CategoryOf(err))

	p, err := New(llm.AdapterConfig{Key: Key, APIKey: "k", Settings: map[string]interface{}{"api_version": "2024-01-01"}})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", p.(*Provider).apiVersion)
}

func TestBuildRequest(t *testing.T) {
	req, err := BuildRequest(Key, []llm.Message{
		{Role: llm.RoleSystem, Content: "You help drilling teams."},
		{Role: llm.RoleUser, Content: "Hello"},
		{Role: llm.RoleAssistant, Content: "Hi"},
	}, llm.Options{MaxTokens: 99})
	require.NoError(t, err)
	assert.Equal(t, "You help drilling teams.", req.System)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "assistant", req.Messages[1].Role)
	assert.Equal(t, 99, req.MaxTokens)

	_, err = BuildRequest(Key, []llm.Message{{Role: llm.RoleSystem, Content: "x"}}, llm.Options{})
	assert.Equal(t, llm.CategoryValidation, llm.CategoryOf(err))
}

func TestComplete(t *testing.T) {
	var got Request
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ak-test", r.Header.Get("x-api-key"))
		assert.Equal(t, DefaultAPIVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = fmt.Fprint(w, `{"id":"msg_1","model":"claude","content":[{"type":"text","text":"Three quotes are pending."}],
			"usage":{"input_tokens":50,"output_tokens":6}}`)
	})

	resp, err := p.Complete(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Content: "sys"},
		{Role: llm.RoleUser, Content: "Pending quotes?"},
	}, llm.Options{})
	require.NoError(t, err)
	assert.Equal(t, "Three quotes are pending.", resp.Content())
	assert.Equal(t, 56, resp.TotalTokens())
	assert.Equal(t, DefaultModel, got.Model)
	assert.Equal(t, "sys", got.System)
	assert.Empty(t, got.AnthropicVersion)
}

func TestComplete_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   llm.Category
	}{
		{401, llm.CategoryAuth},
		{429, llm.CategoryRateLimit},
		{529, llm.CategoryService},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = fmt.Fprint(w, `{"type":"error","error":{"type":"x","message":"nope"}}`)
			})
			_, err := p.Complete(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "q"}}, llm.Options{})
			assert.Equal(t, tt.want, llm.CategoryOf(err))
		})
	}
}

func TestStream(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"id\":\"m\"}}\n\n")
		for _, part := range []string{"Three ", "quotes"} {
			_, _ = fmt.Fprintf(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":%q}}\n\n", part)
		}
		_, _ = fmt.Fprint(w, "data: {\"type\":\"message_stop\"}\n\n")
	})

	var deltas []string
	resp, err := p.Stream(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "q"}},
		func(d string) error { deltas = append(deltas, d); return nil }, llm.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Three ", "quotes"}, deltas)
	assert.Equal(t, Key, resp.ProviderKey)
}

func TestStream_ErrorEvent(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "data: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n")
	})
	_, err := p.Stream(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "q"}},
		func(string) error { return nil }, llm.Options{})
	var pe *llm.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, llm.CategoryService, pe.Category)
	assert.Equal(t, "Overloaded", pe.Message)
}
