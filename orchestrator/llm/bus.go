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
	"fmt"
	"sync/atomic"
	"time"

	"github.com/malike2356/abbis-sub018/shared/logger"
)

// DefaultFailoverOrder is used when neither the caller nor configuration
// supplies an order.
var DefaultFailoverOrder = []string{"openai", "deepseek", "gemini", "ollama"}

// Attempt outcomes reported to an AttemptObserver.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AttemptObserver is notified after every provider attempt.
type AttemptObserver func(provider, outcome string, category Category, elapsed time.Duration)

type busState struct {
	registry      *Registry
	failoverOrder []string
}

// Bus executes one logical completion across the registered providers
// with ordered failover. Its registry and failover order are swapped
// together on refresh and never mutated in place.
type Bus struct {
	state        atomic.Pointer[busState]
	defaultOrder []string
	observer     AttemptObserver
	log          *logger.Logger
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithDefaultOrder replaces the built-in default order.
func WithDefaultOrder(keys ...string) BusOption {
	return func(b *Bus) { b.defaultOrder = NormalizeKeys(keys) }
}

// WithAttemptObserver installs a per-attempt hook.
func WithAttemptObserver(fn AttemptObserver) BusOption {
	return func(b *Bus) { b.observer = fn }
}

// WithBusLogger overrides the logger.
func WithBusLogger(l *logger.Logger) BusOption {
	return func(b *Bus) { b.log = l }
}

// NewBus creates a bus over registry with the configured failover order.
func NewBus(registry *Registry, failoverOrder []string, opts ...BusOption) *Bus {
	b := &Bus{
		defaultOrder: append([]string(nil), DefaultFailoverOrder...),
		log:          logger.New("llm_bus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.Swap(registry, failoverOrder)
	return b
}

// Swap atomically replaces the registry and configured failover order.
func (b *Bus) Swap(registry *Registry, failoverOrder []string) {
	b.state.Store(&busState{
		registry:      registry,
		failoverOrder: NormalizeKeys(failoverOrder),
	})
}

// Registry returns the current registry.
func (b *Bus) Registry() *Registry {
	return b.state.Load().registry
}

// FailoverOrder returns the configured failover order.
func (b *Bus) FailoverOrder() []string {
	return append([]string(nil), b.state.Load().failoverOrder...)
}

// Candidates resolves the provider order for one call: single override,
// then list override, then configured order, then the default.
func (b *Bus) Candidates(opts Options) []string {
	return b.candidates(b.state.Load(), opts)
}

func (b *Bus) candidates(st *busState, opts Options) []string {
	levels := [][]string{
		{opts.Provider},
		opts.Providers,
		st.failoverOrder,
		b.defaultOrder,
	}
	for _, level := range levels {
		if keys := NormalizeKeys(level); len(keys) > 0 {
			return keys
		}
	}
	return nil
}

// Complete runs the request through the candidate providers. The first
// success is returned. A VALIDATION failure is returned immediately; any
// other failure moves on to the next candidate. When every candidate
// fails the result is a composite error carrying the last category.
//
// With opts.OnDelta set the call streams. Once a chunk has reached the
// sink, a later failure is returned without trying another provider.
func (b *Bus) Complete(ctx context.Context, messages []Message, opts Options) (Response, error) {
	st := b.state.Load()
	if st.registry.Len() == 0 {
		return Response{}, NewProviderError("", CategoryInternal, "no AI providers are registered")
	}
	candidates := b.candidates(st, opts)
	if len(candidates) == 0 {
		return Response{}, NewProviderError("", CategoryInternal, "no AI providers are configured for this request")
	}

	delivered := false
	var sink StreamHandler
	if opts.OnDelta != nil {
		sink = func(delta string) error {
			delivered = true
			return opts.OnDelta(delta)
		}
	}

	var (
		failures  []map[string]interface{}
		attempted []string
		last      *ProviderError
	)

	for _, key := range candidates {
		p, ok := st.registry.Get(key)
		if !ok {
			b.log.Debug("", "", "skipping unregistered provider", map[string]interface{}{"provider": key})
			continue
		}
		if err := ctx.Err(); err != nil {
			return Response{}, NewProviderError(key, CategoryService, "request cancelled before provider call").WithCause(err)
		}

		start := time.Now()
		resp, err := b.invoke(ctx, p, messages, opts, sink)
		elapsed := time.Since(start)

		if err == nil {
			b.observe(key, OutcomeSuccess, "", elapsed)
			return resp, nil
		}

		pe := AsProviderError(key, err)
		b.observe(key, OutcomeFailure, pe.Category, elapsed)
		b.log.Warn("", "", "provider attempt failed", map[string]interface{}{
			"provider":   key,
			"category":   string(pe.Category),
			"error":      pe.Message,
			"elapsed_ms": elapsed.Milliseconds(),
		})

		if !pe.Category.Failover() || delivered || ctx.Err() != nil {
			return Response{}, pe
		}

		attempted = append(attempted, key)
		failures = append(failures, map[string]interface{}{
			"provider": key,
			"category": string(pe.Category),
			"message":  pe.Message,
			"context":  pe.Context,
		})
		last = pe
	}

	if last == nil {
		return Response{}, NewProviderError("", CategoryInternal, "none of the requested AI providers are registered").
			WithContext("candidates", candidates)
	}

	return Response{}, &ProviderError{
		Category: last.Category,
		Message:  fmt.Sprintf("all %d AI providers failed; last error: %s", len(attempted), last.Message),
		Context: map[string]interface{}{
			"providers": attempted,
			"failures":  failures,
		},
		Cause: last,
	}
}

func (b *Bus) invoke(ctx context.Context, p Provider, messages []Message, opts Options, sink StreamHandler) (Response, error) {
	if sink == nil {
		return p.Complete(ctx, messages, opts)
	}
	if p.SupportsStreaming() {
		return p.Stream(ctx, messages, sink, opts)
	}

	resp, err := p.Complete(ctx, messages, opts)
	if err != nil {
		return Response{}, err
	}
	if content := resp.Content(); content != "" {
		if err := sink(content); err != nil {
			return Response{}, NewProviderError(p.Key(), CategoryService, "stream consumer aborted").WithCause(err)
		}
	}
	return resp, nil
}

func (b *Bus) observe(provider, outcome string, category Category, elapsed time.Duration) {
	if b.observer != nil {
		b.observer(provider, outcome, category, elapsed)
	}
}
