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
Package logger provides structured JSON logging for the assistant service.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (bus, limiter, audit, ...)
  - Instance ID and container name
  - User ID and request ID for correlation
  - Custom fields

# Usage

	log := logger.New("bus")
	log.Info("42", "req-456", "provider attempt failed", map[string]interface{}{
	    "provider": "openai",
	    "category": "SERVICE",
	})

# Verbosity

DEBUG entries are written only when LOG_LEVEL=debug or APP_ENV is a
development environment. SetVerbose overrides the environment at runtime.

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
