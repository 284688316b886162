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
Command assistant runs the ABBIS AI assistant service.

The service assembles business context for a conversation, enforces per-user
usage limits, routes the prompt across the configured LLM providers with
failover and records every attempt in the usage log.

# Usage

	assistant

# Environment Variables

Required in production:
  - DATABASE_URL: PostgreSQL connection string (provider config, usage log)
  - JWT_SECRET: HS256 secret used to verify bearer tokens

Optional:
  - PORT: HTTP server port (default: 8081)
  - BUSINESS_DATABASE_DSN: MySQL DSN for entity and business intelligence context
  - REDIS_URL: Redis for sliding-window usage counts and the BI cache
  - AI_PROVIDERS / AI_PROVIDER_FAILOVER: provider keys to load and their order
  - AI_<PROVIDER>_API_KEY, AI_<PROVIDER>_MODEL, AI_<PROVIDER>_BASE_URL
  - AI_HOURLY_LIMIT / AI_DAILY_LIMIT: per-user quotas (0 disables)
  - ABBIS_CONFIG_FILE: YAML overlay with provider definitions

# Endpoints

	POST /api/v1/assistant          one completion
	POST /api/v1/assistant/stream   server-sent events
	GET  /api/v1/providers          loaded providers
	POST /api/v1/providers/refresh  reload provider config (admin)
	GET  /health
	GET  /prometheus
*/
package main

import "github.com/malike2356/abbis-sub018/orchestrator"

func main() {
	orchestrator.Run()
}
