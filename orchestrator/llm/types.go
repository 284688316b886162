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

import "strings"

// Role identifies the author of a message.
type Role string

// Conversation roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation. Sequences of messages are ordered
// and the order is preserved through every adapter.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Usable reports whether the message has both a role and content.
func (m Message) Usable() bool {
	return m.Role != "" && m.Content != ""
}

// FilterUsable drops messages without a role or content, keeping order.
func FilterUsable(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Usable() {
			out = append(out, m)
		}
	}
	return out
}

// SplitSystem separates system messages from the rest of the conversation.
// System contents are joined with blank lines in their original order.
func SplitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

// Response is the normalized result of one completion. It is a value type:
// fields are never modified after an adapter returns it. Use the With*
// helpers to derive copies.
type Response struct {
	ProviderKey      string                 `json:"provider"`
	Messages         []Message              `json:"messages"`
	RawPayload       map[string]interface{} `json:"-"`
	PromptTokens     int                    `json:"prompt_tokens"`
	CompletionTokens int                    `json:"completion_tokens"`
	LatencyMs        int64                  `json:"latency_ms"`
	FromCache        bool                   `json:"from_cache"`
}

// TotalTokens is always PromptTokens + CompletionTokens.
func (r Response) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// WithLatency returns a copy of r with LatencyMs replaced.
func (r Response) WithLatency(ms int64) Response {
	out := r
	out.Messages = append([]Message(nil), r.Messages...)
	out.LatencyMs = ms
	return out
}

// Content returns the text of the last assistant message, if any.
func (r Response) Content() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleAssistant {
			return r.Messages[i].Content
		}
	}
	return ""
}

// StreamHandler receives incremental text. It runs on the network read path
// and must return quickly; a non-nil error aborts the stream.
type StreamHandler func(delta string) error

// Options enumerates every recognized per-call option. Zero values mean
// "use the adapter default".
type Options struct {
	// Provider forces a single provider key.
	Provider string
	// Providers overrides the failover order.
	Providers []string
	// Model overrides the adapter's configured model.
	Model string
	// Temperature overrides the adapter default when non-nil.
	Temperature *float64
	// MaxTokens caps completion length when > 0.
	MaxTokens int
	// OnDelta switches the call to streaming when non-nil.
	OnDelta StreamHandler
}

// TemperatureOr returns the requested temperature or def.
func (o Options) TemperatureOr(def float64) float64 {
	if o.Temperature != nil {
		return *o.Temperature
	}
	return def
}

// MaxTokensOr returns the requested token cap or def.
func (o Options) MaxTokensOr(def int) int {
	if o.MaxTokens > 0 {
		return o.MaxTokens
	}
	return def
}

// ModelOr returns the requested model or def.
func (o Options) ModelOr(def string) string {
	if m := strings.TrimSpace(o.Model); m != "" {
		return m
	}
	return def
}

// Float64 returns a pointer to v, for Options.Temperature.
func Float64(v float64) *float64 { return &v }
