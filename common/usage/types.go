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

package usage

import "time"

// ContextSummaryLimit bounds Record.ContextSummary.
const ContextSummaryLimit = 255

// Record is one append-only usage row.
type Record struct {
	ID               string
	UserID           string
	Role             string
	Action           string
	Provider         string // empty when no provider answered
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	LatencyMs        *int64 // nil when the call never completed
	InputHash        string
	ContextSummary   string
	IsSuccess        bool
	ErrorCode        string
	Metadata         map[string]interface{}
	CreatedAt        time.Time
}

// ActionSummary aggregates usage rows for one action.
type ActionSummary struct {
	Action      string
	Requests    int
	Failures    int
	TotalTokens int
}
