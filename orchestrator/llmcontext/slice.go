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

package llmcontext

import (
	"context"
	"strings"
)

// Slice is one typed fragment of context.
type Slice struct {
	Type         string
	Payload      interface{}
	Priority     int
	ApproxTokens int
	Sensitive    bool
}

// Map returns the flat serialized form.
func (s Slice) Map() map[string]interface{} {
	return map[string]interface{}{
		"type":          s.Type,
		"payload":       s.Payload,
		"priority":      s.Priority,
		"approx_tokens": s.ApproxTokens,
		"sensitive":     s.Sensitive,
	}
}

// Request carries everything builders may look at. It is built once per
// assistant call.
type Request struct {
	UserID     string
	Username   string
	FullName   string
	Email      string
	Role       string
	Page       string
	EntityType string
	EntityID   string
	Hints      map[string]string
}

// Hint returns a trimmed hint value.
func (r Request) Hint(key string) string {
	return strings.TrimSpace(r.Hints[key])
}

// Builder contributes context slices.
type Builder interface {
	Key() string
	Supports(req Request) bool
	Build(ctx context.Context, req Request) ([]Slice, error)
}
