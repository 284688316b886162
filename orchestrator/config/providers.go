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

package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/malike2356/abbis-sub018/orchestrator/llm"
	"github.com/malike2356/abbis-sub018/shared/secrets"
)

// ProviderDefaults reads per-provider settings from the environment:
// AI_<KEY>_API_KEY, AI_<KEY>_MODEL, AI_<KEY>_BASE_URL, AI_<KEY>_TIMEOUT and
// AI_<KEY>_REGION. Keys with nothing set are omitted.
func ProviderDefaults(keys []string) map[string]llm.ProviderConfig {
	out := make(map[string]llm.ProviderConfig)
	for _, key := range llm.NormalizeKeys(keys) {
		prefix := "AI_" + envName(key) + "_"
		cfg := llm.ProviderConfig{Key: key}
		set := false

		if v := strings.TrimSpace(os.Getenv(prefix + "API_KEY")); v != "" {
			cfg.Secret = secrets.Plain(v)
			set = true
		}
		if v := strings.TrimSpace(os.Getenv(prefix + "MODEL")); v != "" {
			cfg.Model = v
			set = true
		}
		if v := strings.TrimSpace(os.Getenv(prefix + "BASE_URL")); v != "" {
			cfg.BaseURL = v
			set = true
		}
		if v := strings.TrimSpace(os.Getenv(prefix + "TIMEOUT")); v != "" {
			if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
				cfg.TimeoutSeconds = int(n)
				set = true
			}
		}
		if v := strings.TrimSpace(os.Getenv(prefix + "REGION")); v != "" {
			cfg.Settings = map[string]interface{}{"region": v}
			set = true
		}
		if set {
			out[key] = cfg
		}
	}
	return out
}

func envName(key string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
}
