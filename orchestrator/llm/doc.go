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
Package llm defines the provider contract used by the assistant and the
service bus that routes one completion across several providers.

# Provider Interface

Every backend adapter implements:

	type Provider interface {
		Key() string
		SupportsStreaming() bool
		Complete(ctx context.Context, messages []Message, opts Options) (Response, error)
		Stream(ctx context.Context, messages []Message, onDelta StreamHandler, opts Options) (Response, error)
	}

Adapters live in sub-packages (openai, gemini, ollama, anthropic, bedrock)
and are wired into a FactorySet explicitly by the providers package.

# Errors

All failures are *ProviderError values tagged with a Category:

  - RATE_LIMIT: quota exhausted or provider throttling (HTTP 429)
  - AUTH: missing or rejected credentials (HTTP 401/403)
  - SERVICE: transport errors, other non-2xx statuses, malformed bodies
  - VALIDATION: unusable input; never retried on another provider
  - INTERNAL: nothing registered or a violated precondition

# Failover

Bus.Complete resolves candidates (single override, list override,
configured order, default order), tries each registered one in turn and
returns the first success. A VALIDATION failure stops immediately. When
every candidate fails, the returned error carries the last category and a
"failures" context entry describing each attempt.

# Configuration lifecycle

Catalog.Init loads ProviderConfig rows once per process and Catalog.Refresh
rebuilds them on demand. Each build constructs a fresh Registry and swaps
it into the Bus atomically; secrets are revealed only while an adapter is
being constructed.
*/
package llm
