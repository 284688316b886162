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
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/malike2356/abbis-sub018/orchestrator/llm"
	"github.com/malike2356/abbis-sub018/shared/secrets"
)

// File is the YAML overlay.
type File struct {
	Version      string                           `yaml:"version"`
	Assistant    AssistantFileConfig              `yaml:"assistant,omitempty"`
	LLMProviders map[string]LLMProviderFileConfig `yaml:"llm_providers,omitempty"`
}

// AssistantFileConfig overrides global settings. Environment variables take
// precedence over these values.
type AssistantFileConfig struct {
	TokenBudget    int      `yaml:"token_budget,omitempty"`
	HourlyLimit    int      `yaml:"hourly_limit,omitempty"`
	DailyLimit     int      `yaml:"daily_limit,omitempty"`
	Providers      []string `yaml:"providers,omitempty"`
	FailoverOrder  []string `yaml:"failover,omitempty"`
	PromptTemplate string   `yaml:"prompt_template,omitempty"`
}

// LLMProviderFileConfig is one provider entry in the overlay.
type LLMProviderFileConfig struct {
	Enabled      bool                   `yaml:"enabled"`
	Priority     int                    `yaml:"priority,omitempty"`
	DailyLimit   *int                   `yaml:"daily_limit,omitempty"`
	MonthlyLimit *int                   `yaml:"monthly_limit,omitempty"`
	Model        string                 `yaml:"model,omitempty"`
	BaseURL      string                 `yaml:"base_url,omitempty"`
	Timeout      int                    `yaml:"timeout,omitempty"`
	Settings     map[string]interface{} `yaml:"settings,omitempty"`
	Credentials  map[string]string      `yaml:"credentials,omitempty"`
}

// LoadFile reads and parses an overlay, expanding ${VAR} and
// ${VAR:-default} references first.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return ParseFile(data)
}

// ParseFile parses overlay content.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &f); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the overlay structure.
func (f *File) Validate() error {
	if f.Version == "" {
		return fmt.Errorf("config file must specify a version")
	}
	for name, p := range f.LLMProviders {
		if len(llm.NormalizeKeys([]string{name})) == 0 {
			return fmt.Errorf("llm provider entry with empty name")
		}
		if p.Priority < 0 {
			return fmt.Errorf("llm provider '%s' priority must not be negative", name)
		}
	}
	return nil
}

func (f *File) applyTo(cfg *Config) {
	a := f.Assistant
	if a.TokenBudget > 0 && os.Getenv("AI_CONTEXT_TOKEN_BUDGET") == "" {
		cfg.ContextTokenBudget = a.TokenBudget
	}
	if a.HourlyLimit != 0 && os.Getenv("AI_HOURLY_LIMIT") == "" {
		cfg.HourlyLimit = a.HourlyLimit
	}
	if a.DailyLimit != 0 && os.Getenv("AI_DAILY_LIMIT") == "" {
		cfg.DailyLimit = a.DailyLimit
	}
	if len(a.Providers) > 0 && len(cfg.Providers) == 0 {
		cfg.Providers = a.Providers
	}
	if len(a.FailoverOrder) > 0 && len(cfg.FailoverOrder) == 0 {
		cfg.FailoverOrder = a.FailoverOrder
	}
	if a.PromptTemplate != "" && os.Getenv("AI_PROMPT_TEMPLATE") == "" {
		cfg.PromptTemplatePath = a.PromptTemplate
	}
}

// ProviderConfigs converts the overlay's provider entries.
func (f *File) ProviderConfigs() []llm.ProviderConfig {
	out := make([]llm.ProviderConfig, 0, len(f.LLMProviders))
	for name, p := range f.LLMProviders {
		cfg := llm.ProviderConfig{
			Key:              strings.ToLower(strings.TrimSpace(name)),
			Enabled:          p.Enabled,
			DailyLimit:       p.DailyLimit,
			MonthlyLimit:     p.MonthlyLimit,
			FailoverPriority: p.Priority,
			Model:            p.Model,
			BaseURL:          p.BaseURL,
			TimeoutSeconds:   p.Timeout,
			Settings:         p.Settings,
		}
		if cfg.FailoverPriority == 0 {
			cfg.FailoverPriority = llm.DefaultFailoverPriority
		}
		switch {
		case p.Credentials["api_key_sealed"] != "":
			cfg.Secret = secrets.Sealed(p.Credentials["api_key_sealed"])
		case p.Credentials["api_key_secret_arn"] != "":
			cfg.Secret = secrets.Ref(p.Credentials["api_key_secret_arn"])
		case p.Credentials["api_key"] != "":
			cfg.Secret = secrets.Plain(p.Credentials["api_key"])
		}
		out = append(out, cfg)
	}
	llm.SortByPriority(out)
	return out
}

// FileStore serves provider configuration from the overlay. Each Load
// re-reads the file so a catalog refresh picks up edits.
type FileStore struct {
	path string
}

// NewFileStore creates a store over path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

var _ llm.ConfigStore = (*FileStore)(nil)

// Load implements llm.ConfigStore.
func (s *FileStore) Load(context.Context) ([]llm.ProviderConfig, error) {
	f, err := LoadFile(s.path)
	if err != nil {
		return nil, err
	}
	return f.ProviderConfigs(), nil
}

// envVarRegex matches ${VAR_NAME} or $VAR_NAME patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars supports ${VAR}, $VAR and ${VAR:-default}. Undefined
// variables expand to the empty string.
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		def := ""
		if idx := strings.Index(name, ":-"); idx != -1 {
			def = name[idx+2:]
			name = name[:idx]
		}
		if v := os.Getenv(name); v != "" {
			return v
		}
		return def
	})
}
