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

/*
Package llmcontext gathers business context for an assistant request and
fits it into a token budget.

Builders each contribute zero or more Slices. The Assembler runs every
builder that supports the request, orders the slices by priority (lower
first) and walks them greedily: a slice that does not fit in the
remaining budget is skipped and the walk continues, so a later and
cheaper slice can still be included.

Sensitivity is carried on each slice for the caller; the assembler does
not filter on it.
*/
package llmcontext
