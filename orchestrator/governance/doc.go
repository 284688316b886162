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

// Package governance gates assistant requests on per-user quotas and
// records one usage row per orchestration attempt.
//
// The UsageLimiter counts prior actions in trailing hourly and daily
// windows through a WindowCounter (SQL over ai_usage_logs, or a Redis
// sorted set). The AuditLogger writes usage.Records through a bounded
// queue and never reports its own failures to the caller.
package governance
