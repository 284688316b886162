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

package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malike2356/abbis-sub018/common/usage"
	"github.com/malike2356/abbis-sub018/orchestrator/governance"
	"github.com/malike2356/abbis-sub018/orchestrator/llm"
	"github.com/malike2356/abbis-sub018/orchestrator/llmcontext"
)

type fakeBus struct {
	resp  llm.Response
	err   error
	block bool

	mu       sync.Mutex
	calls    int
	messages []llm.Message
	opts     llm.Options
}

func (b *fakeBus) Complete(ctx context.Context, messages []llm.Message, opts llm.Options) (llm.Response, error) {
	b.mu.Lock()
	b.calls++
	b.messages = messages
	b.opts = opts
	b.mu.Unlock()
	if b.block {
		<-ctx.Done()
		return llm.Response{}, llm.AsProviderError("openai", ctx.Err())
	}
	if opts.OnDelta != nil && b.err == nil {
		if err := opts.OnDelta(b.resp.Content()); err != nil {
			return llm.Response{}, err
		}
	}
	return b.resp, b.err
}

func (b *fakeBus) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type fakeLimiter struct {
	err    error
	calls  int
	user   string
	action string
}

func (l *fakeLimiter) Check(_ context.Context, userID, action string) error {
	l.calls++
	l.user, l.action = userID, action
	return l.err
}

type fakeAssembler struct {
	out  []map[string]interface{}
	last llmcontext.Request
}

func (a *fakeAssembler) Assemble(_ context.Context, req llmcontext.Request) []map[string]interface{} {
	a.last = req
	return a.out
}

type fakeAuditor struct {
	mu      sync.Mutex
	records []usage.Record
	ctxErrs []error
}

func (a *fakeAuditor) Log(ctx context.Context, r usage.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, r)
	a.ctxErrs = append(a.ctxErrs, ctx.Err())
}

func (a *fakeAuditor) Records() []usage.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]usage.Record(nil), a.records...)
}

// steppingClock advances by step on every call.
func steppingClock(step time.Duration) func() time.Time {
	var mu sync.Mutex
	t := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := t
		t = t.Add(step)
		return now
	}
}

func okResponse() llm.Response {
	return llm.Response{
		ProviderKey:      "openai",
		Messages:         []llm.Message{{Role: llm.RoleAssistant, Content: "Three rigs are active."}},
		RawPayload:       map[string]interface{}{"model": "gpt-4o-mini"},
		PromptTokens:     1000,
		CompletionTokens: 500,
		LatencyMs:        3,
	}
}

var orgContext = []map[string]interface{}{
	{"type": "organisation", "payload": map[string]interface{}{"company_name": "Kwame Drilling"}, "priority": 20, "approx_tokens": 160, "sensitive": false},
	{"type": "current_page", "payload": map[string]interface{}{"path": "dashboard"}, "priority": 15, "approx_tokens": 150, "sensitive": false},
}

type harness struct {
	bus       *fakeBus
	limiter   *fakeLimiter
	assembler *fakeAssembler
	auditor   *fakeAuditor
	assistant *Assistant
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		bus:       &fakeBus{resp: okResponse()},
		limiter:   &fakeLimiter{},
		assembler: &fakeAssembler{out: orgContext},
		auditor:   &fakeAuditor{},
	}
	h.assistant = NewAssistant(h.bus, h.assembler, h.limiter, h.auditor,
		WithAssistantClock(steppingClock(150*time.Millisecond)),
		WithOrganisationName("Fallback Org"),
	)
	return h
}

var question = AssistantRequest{
	Messages: []llm.Message{
		{Role: llm.RoleUser, Content: "How many rigs are active?"},
		{Role: llm.RoleAssistant, Content: ""},
		{Role: "", Content: "orphan"},
	},
	Page: "dashboard",
}

func TestRunAssistant_LimiterRejectionSkipsProviderAndAudit(t *testing.T) {
	h := newHarness(t)
	quota := llm.NewProviderError("", llm.CategoryRateLimit, "hourly AI usage limit reached (5 of 5)").
		WithContext("window", governance.WindowHourly)
	h.limiter.err = quota

	_, err := h.assistant.RunAssistant(context.Background(), question, RunOptions{UserID: "7"})
	require.Error(t, err)
	assert.Same(t, quota, err)
	assert.Equal(t, 0, h.bus.Calls())
	assert.Empty(t, h.auditor.Records())
}

func TestRunAssistant_Success(t *testing.T) {
	h := newHarness(t)

	resp, err := h.assistant.RunAssistant(context.Background(), question, RunOptions{
		UserID:    "7",
		Role:      "manager",
		RequestID: "req-1",
		MaxTokens: 256,
	})
	require.NoError(t, err)

	assert.Equal(t, "7", h.limiter.user)
	assert.Equal(t, DefaultAction, h.limiter.action)
	assert.Equal(t, "dashboard", h.assembler.last.Page)

	require.Len(t, h.bus.messages, 2, "system message plus the one usable caller message")
	assert.Equal(t, llm.RoleSystem, h.bus.messages[0].Role)
	assert.Contains(t, h.bus.messages[0].Content, "Kwame Drilling")
	assert.Contains(t, h.bus.messages[0].Content, `"type": "current_page"`)
	assert.Equal(t, "How many rigs are active?", h.bus.messages[1].Content)
	assert.Equal(t, 256, h.bus.opts.MaxTokens)

	assert.Equal(t, int64(150), resp.LatencyMs, "wall clock around the bus call")
	assert.Equal(t, resp.PromptTokens+resp.CompletionTokens, resp.TotalTokens())
	assert.Equal(t, "Three rigs are active.", resp.Content())

	records := h.auditor.Records()
	require.Len(t, records, 1)
	rec := records[0]
	assert.True(t, rec.IsSuccess)
	assert.Equal(t, "openai", rec.Provider)
	assert.Equal(t, "gpt-4o-mini", rec.Model)
	assert.Equal(t, "manager", rec.Role)
	assert.Equal(t, 1500, rec.TotalTokens)
	require.NotNil(t, rec.LatencyMs)
	assert.Equal(t, int64(150), *rec.LatencyMs)
	assert.Equal(t, governance.HashMessages(question.Messages[:1]), rec.InputHash)
	assert.NotEmpty(t, rec.ContextSummary)
	assert.Equal(t, []string{"organisation", "current_page"}, rec.Metadata["context_types"])
	assert.Equal(t, "req-1", rec.Metadata["request_id"])
	assert.Equal(t, false, rec.Metadata["from_cache"])
	assert.InDelta(t, 0.00045, rec.Metadata["cost_usd"], 1e-9)
	opts, ok := rec.Metadata["options"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 256, opts["max_tokens"])
}

func TestRunAssistant_FallbackOrganisationName(t *testing.T) {
	h := newHarness(t)
	h.assembler.out = nil

	_, err := h.assistant.RunAssistant(context.Background(), question, RunOptions{UserID: "7"})
	require.NoError(t, err)
	assert.Contains(t, h.bus.messages[0].Content, "Fallback Org")
	assert.Contains(t, h.bus.messages[0].Content, "[]")
}

func TestRunAssistant_ProviderFailureIsAuditedAndReturned(t *testing.T) {
	h := newHarness(t)
	composite := llm.NewProviderError("", llm.CategoryService, "all AI providers failed").
		WithContext("providers", []string{"openai", "gemini"})
	h.bus.err = composite

	_, err := h.assistant.RunAssistant(context.Background(), question, RunOptions{UserID: "7", Action: "report_summary"})
	require.Error(t, err)
	assert.Same(t, composite, err, "the bus error is returned unchanged")

	records := h.auditor.Records()
	require.Len(t, records, 1)
	rec := records[0]
	assert.False(t, rec.IsSuccess)
	assert.Equal(t, "SERVICE", rec.ErrorCode)
	assert.Equal(t, "report_summary", rec.Action)
	assert.Equal(t, "all AI providers failed", rec.Metadata["error_message"])
	require.NotNil(t, rec.LatencyMs)
	assert.Zero(t, rec.TotalTokens)
}

func captureLog(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)
	fn()
	return buf.String()
}

func TestRunAssistant_LogsOutcome(t *testing.T) {
	h := newHarness(t)
	out := captureLog(t, func() {
		_, err := h.assistant.RunAssistant(context.Background(), question, RunOptions{UserID: "7", RequestID: "req-9"})
		require.NoError(t, err)
	})
	assert.Contains(t, out, `"message":"assistant request completed"`)
	assert.Contains(t, out, `"duration_ms":150`)
	assert.Contains(t, out, `"request_id":"req-9"`)

	h.bus.err = llm.NewProviderError("", llm.CategoryAuth, "all AI providers failed")
	out = captureLog(t, func() {
		_, err := h.assistant.RunAssistant(context.Background(), question, RunOptions{UserID: "7"})
		require.Error(t, err)
	})
	assert.Contains(t, out, `"level":"ERROR"`)
	assert.Contains(t, out, `"error_code":"AUTH"`)
}

func TestRunAssistant_ValidationFailureNotConvertedToSuccess(t *testing.T) {
	h := newHarness(t)
	h.bus.err = llm.NewProviderError("gemini", llm.CategoryValidation, "no usable message")

	resp, err := h.assistant.RunAssistant(context.Background(), question, RunOptions{UserID: "7"})
	require.Error(t, err)
	assert.Equal(t, llm.CategoryValidation, llm.CategoryOf(err))
	assert.Empty(t, resp.Messages)

	records := h.auditor.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "gemini", records[0].Provider)
}

func TestRunAssistant_CancellationStillWritesFailureAudit(t *testing.T) {
	h := newHarness(t)
	h.bus.block = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.assistant.RunAssistant(ctx, question, RunOptions{UserID: "7"})
		done <- err
	}()

	require.Eventually(t, func() bool { return h.bus.Calls() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	var err error
	select {
	case err = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunAssistant did not return after cancellation")
	}
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	records := h.auditor.Records()
	require.Len(t, records, 1)
	assert.False(t, records[0].IsSuccess)
	h.auditor.mu.Lock()
	assert.NoError(t, h.auditor.ctxErrs[0], "failure audit runs on a detached context")
	h.auditor.mu.Unlock()
}

func TestRunAssistant_StreamingOptionsForwarded(t *testing.T) {
	h := newHarness(t)
	var chunks []string

	_, err := h.assistant.RunAssistant(context.Background(), question, RunOptions{
		UserID:  "7",
		OnDelta: func(d string) error { chunks = append(chunks, d); return nil },
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Three rigs are active."}, chunks)
	assert.Equal(t, true, h.auditor.Records()[0].Metadata["options"].(map[string]interface{})["stream"])
}

func TestRunAssistant_PromptTemplateError(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	h.assistant.prompt = NewPromptTemplate(dir) // a directory cannot be read as a template

	_, err := h.assistant.RunAssistant(context.Background(), question, RunOptions{UserID: "7"})
	require.Error(t, err)
	assert.Equal(t, llm.CategoryInternal, llm.CategoryOf(err))
	assert.Equal(t, 0, h.bus.Calls())
	records := h.auditor.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "INTERNAL", records[0].ErrorCode)
}

func TestRunAssistant_NilCollaborators(t *testing.T) {
	bus := &fakeBus{resp: okResponse()}
	a := NewAssistant(bus, nil, nil, nil)

	resp, err := a.RunAssistant(context.Background(), question, RunOptions{UserID: "7"})
	require.NoError(t, err)
	assert.Equal(t, "openai", resp.ProviderKey)
	assert.True(t, strings.HasPrefix(bus.messages[0].Content, "You are ABBIS, an enterprise service delivery analyst assistant for the organisation."))
}
