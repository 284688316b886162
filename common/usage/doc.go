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

// Package usage persists the AI usage log (ai_usage_logs): one row per
// assistant orchestration attempt. The same table backs the sliding-window
// quota counts and the per-user usage summaries shown to operators.
//
// Queries use $N placeholders and portable column types so the store runs
// on PostgreSQL (lib/pq) in production and SQLite (modernc.org/sqlite) for
// local development and the operator CLI.
package usage
