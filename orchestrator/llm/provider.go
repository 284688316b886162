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
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/malike2356/abbis-sub018/shared/secrets"
)

// Provider adapts one backend's wire protocol.
//
// Complete issues one request and returns the normalized result. Stream
// delivers text through onDelta as it arrives and returns a Response that
// carries no messages or token accounting. Both return *ProviderError.
type Provider interface {
	Key() string
	SupportsStreaming() bool
	Complete(ctx context.Context, messages []Message, opts Options) (Response, error)
	Stream(ctx context.Context, messages []Message, onDelta StreamHandler, opts Options) (Response, error)
}

// DefaultFailoverPriority applies when a stored config has none.
const DefaultFailoverPriority = 100

// Timeout bounds.
const (
	DefaultTimeoutSeconds = 30
	MinTimeoutSeconds     = 5
)

// ProviderConfig is the persisted configuration of one provider.
type ProviderConfig struct {
	Key              string                 `json:"key" yaml:"key"`
	Enabled          bool                   `json:"enabled" yaml:"enabled"`
	DailyLimit       *int                   `json:"daily_limit,omitempty" yaml:"daily_limit,omitempty"`
	MonthlyLimit     *int                   `json:"monthly_limit,omitempty" yaml:"monthly_limit,omitempty"`
	FailoverPriority int                    `json:"failover_priority" yaml:"failover_priority"`
	Secret           secrets.Value          `json:"secret" yaml:"-"`
	Model            string                 `json:"model,omitempty" yaml:"model,omitempty"`
	BaseURL          string                 `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	TimeoutSeconds   int                    `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	Settings         map[string]interface{} `json:"settings,omitempty" yaml:"settings,omitempty"`
	UpdatedAt        time.Time              `json:"updated_at,omitempty" yaml:"-"`
}

// String never includes secret material.
func (c ProviderConfig) String() string {
	return fmt.Sprintf("ProviderConfig{key=%s enabled=%t priority=%d model=%s base_url=%s secret=%s}",
		c.Key, c.Enabled, c.FailoverPriority, c.Model, c.BaseURL, c.Secret)
}

// Timeout returns the effective request timeout. Zero means "adapter default".
func (c ProviderConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	if c.TimeoutSeconds < MinTimeoutSeconds {
		return MinTimeoutSeconds * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Merge fills unset fields of c from defaults. Enabled, limits and
// priority always come from c.
func (c ProviderConfig) Merge(defaults ProviderConfig) ProviderConfig {
	out := c
	if out.Key == "" {
		out.Key = defaults.Key
	}
	out.Secret = c.Secret.Or(defaults.Secret)
	if out.Model == "" {
		out.Model = defaults.Model
	}
	if out.BaseURL == "" {
		out.BaseURL = defaults.BaseURL
	}
	if out.TimeoutSeconds == 0 {
		out.TimeoutSeconds = defaults.TimeoutSeconds
	}
	if len(defaults.Settings) > 0 {
		merged := make(map[string]interface{}, len(defaults.Settings)+len(c.Settings))
		for k, v := range defaults.Settings {
			merged[k] = v
		}
		for k, v := range c.Settings {
			merged[k] = v
		}
		out.Settings = merged
	}
	return out
}

// Setting returns a settings value rendered as a string.
func (c ProviderConfig) Setting(key string) string {
	v, ok := c.Settings[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// SortByPriority orders configs by failover priority, then key.
func SortByPriority(configs []ProviderConfig) {
	sort.SliceStable(configs, func(i, j int) bool {
		if configs[i].FailoverPriority != configs[j].FailoverPriority {
			return configs[i].FailoverPriority < configs[j].FailoverPriority
		}
		return configs[i].Key < configs[j].Key
	})
}

// NormalizeKeys trims and lower-cases keys, drops empties and duplicates,
// and keeps first-seen order.
func NormalizeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// ParseKeyList splits a comma separated provider list.
func ParseKeyList(s string) []string {
	return NormalizeKeys(strings.Split(s, ","))
}
