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

package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockProvider is a scripted Provider for tests.
type MockProvider struct {
	key       string
	streaming bool
	err       error
	content   string
	chunks    []string
	chunkErr  error

	mu    sync.Mutex
	calls int
	last  []Message
}

func newMock(key string) *MockProvider {
	return &MockProvider{key: key, content: "answer from " + key}
}

func (m *MockProvider) failing(cat Category, msg string) *MockProvider {
	m.err = NewProviderError(m.key, cat, msg)
	return m
}

func (m *MockProvider) Key() string             { return m.key }
func (m *MockProvider) SupportsStreaming() bool { return m.streaming }

func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockProvider) Complete(ctx context.Context, messages []Message, opts Options) (Response, error) {
	m.mu.Lock()
	m.calls++
	m.last = messages
	m.mu.Unlock()
	if m.err != nil {
		return Response{}, m.err
	}
	return Response{
		ProviderKey:      m.key,
		Messages:         []Message{{Role: RoleAssistant, Content: m.content}},
		PromptTokens:     11,
		CompletionTokens: 7,
	}, nil
}

func (m *MockProvider) Stream(ctx context.Context, messages []Message, onDelta StreamHandler, opts Options) (Response, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	for _, c := range m.chunks {
		if err := onDelta(c); err != nil {
			return Response{}, SinkError(m.key, err)
		}
	}
	if m.chunkErr != nil {
		return Response{}, m.chunkErr
	}
	if m.err != nil {
		return Response{}, m.err
	}
	return Response{ProviderKey: m.key}, nil
}

func newTestBus(t *testing.T, failover []string, providers ...Provider) *Bus {
	t.Helper()
	reg, err := NewRegistry(providers...)
	require.NoError(t, err)
	return NewBus(reg, failover)
}

var hello = []Message{{Role: RoleUser, Content: "hello"}}

// ============================================================
// Candidate resolution
// ============================================================

func TestBus_Candidates(t *testing.T) {
	b := newTestBus(t, []string{"gemini", "openai"}, newMock("openai"))

	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{"single override wins", Options{Provider: " Ollama ", Providers: []string{"openai"}}, []string{"ollama"}},
		{"list override", Options{Providers: []string{"deepseek", "", "OPENAI", "deepseek"}}, []string{"deepseek", "openai"}},
		{"empty list falls through", Options{Providers: []string{" ", ""}}, []string{"gemini", "openai"}},
		{"configured order", Options{}, []string{"gemini", "openai"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, b.Candidates(tt.opts))
		})
	}

	b.Swap(b.Registry(), nil)
	assert.Equal(t, DefaultFailoverOrder, b.Candidates(Options{}))

	custom := NewBus(b.Registry(), nil, WithDefaultOrder("ollama", "ollama", "openai"))
	assert.Equal(t, []string{"ollama", "openai"}, custom.Candidates(Options{}))
}

// ============================================================
// Failover policy
// ============================================================

func TestBus_FirstSuccessWins(t *testing.T) {
	a, b2, c := newMock("a"), newMock("b"), newMock("c")
	bus := newTestBus(t, []string{"a", "b", "c"}, a, b2, c)

	resp, err := bus.Complete(context.Background(), hello, Options{})
	require.NoError(t, err)
	assert.Equal(t, "a", resp.ProviderKey)
	assert.Equal(t, 1, a.Calls())
	assert.Equal(t, 0, b2.Calls())
	assert.Equal(t, 0, c.Calls())
}

func TestBus_ValidationShortCircuits(t *testing.T) {
	a := newMock("a").failing(CategoryValidation, "no usable message")
	b2, c := newMock("b"), newMock("c")
	bus := newTestBus(t, []string{"a", "b", "c"}, a, b2, c)

	_, err := bus.Complete(context.Background(), hello, Options{})
	require.Error(t, err)

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, CategoryValidation, pe.Category)
	assert.Same(t, a.err, err)
	assert.Equal(t, 0, b2.Calls())
	assert.Equal(t, 0, c.Calls())
}

func TestBus_FailoverContinuation(t *testing.T) {
	a := newMock("a").failing(CategoryService, "503")
	b2, c := newMock("b"), newMock("c")
	bus := newTestBus(t, []string{"a", "b", "c"}, a, b2, c)

	resp, err := bus.Complete(context.Background(), hello, Options{})
	require.NoError(t, err)
	assert.Equal(t, "b", resp.ProviderKey)
	assert.Equal(t, 1, a.Calls())
	assert.Equal(t, 1, b2.Calls())
	assert.Equal(t, 0, c.Calls())
}

func TestBus_FailoverOnAuthAndRateLimit(t *testing.T) {
	a := newMock("a").failing(CategoryAuth, "bad key")
	b2 := newMock("b").failing(CategoryRateLimit, "slow down")
	c := newMock("c")
	bus := newTestBus(t, []string{"a", "b", "c"}, a, b2, c)

	resp, err := bus.Complete(context.Background(), hello, Options{})
	require.NoError(t, err)
	assert.Equal(t, "c", resp.ProviderKey)
}

func TestBus_Exhaustion(t *testing.T) {
	a := newMock("a").failing(CategoryService, "a down")
	b2 := newMock("b").failing(CategoryService, "b down")
	c := newMock("c").failing(CategoryRateLimit, "c throttled")
	bus := newTestBus(t, []string{"a", "b", "c"}, a, b2, c)

	_, err := bus.Complete(context.Background(), hello, Options{})
	require.Error(t, err)

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, CategoryRateLimit, pe.Category, "composite takes the last category")
	assert.Equal(t, []string{"a", "b", "c"}, pe.Context["providers"])

	failures, ok := pe.Context["failures"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, failures, 3)
	assert.Equal(t, "a", failures[0]["provider"])
	assert.Equal(t, "a down", failures[0]["message"])
	assert.Equal(t, "SERVICE", failures[0]["category"])
	assert.Equal(t, "c throttled", failures[2]["message"])
}

func TestBus_SkipsUnregistered(t *testing.T) {
	b2 := newMock("b")
	bus := newTestBus(t, []string{"missing", "b"}, b2)

	resp, err := bus.Complete(context.Background(), hello, Options{})
	require.NoError(t, err)
	assert.Equal(t, "b", resp.ProviderKey)
}

func TestBus_InternalErrors(t *testing.T) {
	t.Run("empty registry", func(t *testing.T) {
		bus := newTestBus(t, []string{"a"})
		_, err := bus.Complete(context.Background(), hello, Options{})
		assert.Equal(t, CategoryInternal, CategoryOf(err))
	})

	t.Run("empty candidate list", func(t *testing.T) {
		reg, err := NewRegistry(newMock("a"))
		require.NoError(t, err)
		bus := NewBus(reg, nil, WithDefaultOrder())
		_, err = bus.Complete(context.Background(), hello, Options{})
		assert.Equal(t, CategoryInternal, CategoryOf(err))
	})

	t.Run("no candidate registered", func(t *testing.T) {
		bus := newTestBus(t, nil, newMock("a"))
		_, err := bus.Complete(context.Background(), hello, Options{Provider: "zzz"})
		assert.Equal(t, CategoryInternal, CategoryOf(err))
	})
}

func TestBus_CancelledContext(t *testing.T) {
	a := newMock("a")
	bus := newTestBus(t, []string{"a"}, a)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := bus.Complete(ctx, hello, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, a.Calls())
}

func TestBus_AttemptObserver(t *testing.T) {
	var outcomes []string
	reg, err := NewRegistry(newMock("a").failing(CategoryService, "x"), newMock("b"))
	require.NoError(t, err)
	bus := NewBus(reg, []string{"a", "b"}, WithAttemptObserver(func(p, outcome string, _ Category, _ time.Duration) {
		outcomes = append(outcomes, p+":"+outcome)
	}))

	_, err = bus.Complete(context.Background(), hello, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a:failure", "b:success"}, outcomes)
}

// ============================================================
// Streaming
// ============================================================

func TestBus_StreamingProvider(t *testing.T) {
	a := newMock("a")
	a.streaming = true
	a.chunks = []string{"Hel", "lo"}
	bus := newTestBus(t, []string{"a"}, a)

	var got []string
	resp, err := bus.Complete(context.Background(), hello, Options{OnDelta: func(d string) error {
		got = append(got, d)
		return nil
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, got)
	assert.Equal(t, 0, resp.TotalTokens())
}

func TestBus_StreamingFallbackToComplete(t *testing.T) {
	a := newMock("a")
	bus := newTestBus(t, []string{"a"}, a)

	var got []string
	_, err := bus.Complete(context.Background(), hello, Options{OnDelta: func(d string) error {
		got = append(got, d)
		return nil
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"answer from a"}, got)
}

func TestBus_NoFailoverAfterPartialStream(t *testing.T) {
	a := newMock("a")
	a.streaming = true
	a.chunks = []string{"partial"}
	a.chunkErr = NewProviderError("a", CategoryService, "connection reset")
	b2 := newMock("b")
	bus := newTestBus(t, []string{"a", "b"}, a, b2)

	_, err := bus.Complete(context.Background(), hello, Options{OnDelta: func(string) error { return nil }})
	require.Error(t, err)
	assert.Equal(t, CategoryService, CategoryOf(err))
	assert.Equal(t, 0, b2.Calls())
}

func TestBus_StreamFailoverBeforeFirstChunk(t *testing.T) {
	a := newMock("a").failing(CategoryService, "refused")
	a.streaming = true
	b2 := newMock("b")
	b2.streaming = true
	b2.chunks = []string{"ok"}
	bus := newTestBus(t, []string{"a", "b"}, a, b2)

	resp, err := bus.Complete(context.Background(), hello, Options{OnDelta: func(string) error { return nil }})
	require.NoError(t, err)
	assert.Equal(t, "b", resp.ProviderKey)
}

// ============================================================
// Concurrency
// ============================================================

func TestBus_ConcurrentSwap(t *testing.T) {
	bus := newTestBus(t, []string{"a"}, newMock("a"))
	regB, err := NewRegistry(newMock("b"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := bus.Complete(context.Background(), hello, Options{})
			assert.NoError(t, err)
		}()
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				bus.Swap(regB, []string{"b"})
			}
		}(i)
	}
	wg.Wait()
}
