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

package governance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/malike2356/abbis-sub018/orchestrator/llm"
	"github.com/malike2356/abbis-sub018/shared/logger"
)

// Default limits per user and action.
const (
	DefaultHourlyLimit = 60
	DefaultDailyLimit  = 500
)

// Window names reported in RATE_LIMIT context.
const (
	WindowHourly = "hourly"
	WindowDaily  = "daily"
)

// LimiterConfig configures a UsageLimiter. A limit <= 0 disables that
// window.
type LimiterConfig struct {
	HourlyLimit int
	DailyLimit  int
	// FailOpen admits requests when the counter cannot be read.
	FailOpen bool
}

// UsageLimiter rejects a request before any provider is contacted once the
// user has used up a trailing window.
type UsageLimiter struct {
	counter  WindowCounter
	cfg      LimiterConfig
	now      func() time.Time
	log      *logger.Logger
	onReject func(window string)
}

// LimiterOption configures a UsageLimiter.
type LimiterOption func(*UsageLimiter)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) LimiterOption {
	return func(l *UsageLimiter) { l.now = now }
}

// WithRejectHook is called with the window name on every rejection.
func WithRejectHook(fn func(window string)) LimiterOption {
	return func(l *UsageLimiter) { l.onReject = fn }
}

// NewUsageLimiter creates a limiter over counter.
func NewUsageLimiter(counter WindowCounter, cfg LimiterConfig, opts ...LimiterOption) *UsageLimiter {
	l := &UsageLimiter{
		counter: counter,
		cfg:     cfg,
		now:     time.Now,
		log:     logger.New("usage_limiter"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config returns the limiter's configuration.
func (l *UsageLimiter) Config() LimiterConfig { return l.cfg }

// Check returns nil when the user may proceed. The hourly window is
// checked first; the first exhausted window produces RATE_LIMIT with
// context {window, limit, count, action}.
func (l *UsageLimiter) Check(ctx context.Context, userID, action string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return llm.NewProviderError("", llm.CategoryInternal, "usage limiter requires an authenticated user")
	}

	now := l.now()
	windows := []struct {
		name  string
		limit int
		span  time.Duration
	}{
		{WindowHourly, l.cfg.HourlyLimit, time.Hour},
		{WindowDaily, l.cfg.DailyLimit, 24 * time.Hour},
	}
	for _, w := range windows {
		if w.limit <= 0 {
			continue
		}
		count, err := l.counter.Count(ctx, userID, action, now.Add(-w.span))
		if err != nil {
			if ctx.Err() != nil {
				return llm.AsProviderError("", ctx.Err())
			}
			if l.cfg.FailOpen {
				l.log.Warn(userID, "", "usage window unavailable, allowing request", map[string]interface{}{
					"window": w.name,
					"action": action,
					"error":  err.Error(),
				})
				return nil
			}
			return llm.NewProviderError("", llm.CategoryService, "usage quota could not be verified").
				WithContext("window", w.name).
				WithCause(err)
		}
		if count >= w.limit {
			if l.onReject != nil {
				l.onReject(w.name)
			}
			return llm.NewProviderError("", llm.CategoryRateLimit,
				fmt.Sprintf("%s AI usage limit reached (%d of %d)", w.name, count, w.limit)).
				WithContext("window", w.name).
				WithContext("limit", w.limit).
				WithContext("count", count).
				WithContext("action", action)
		}
	}
	return nil
}
