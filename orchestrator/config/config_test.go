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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malike2356/abbis-sub018/orchestrator/llm"
	"github.com/malike2356/abbis-sub018/shared/logger"
)

func unsetenv(t *testing.T, names ...string) {
	t.Helper()
	for _, n := range names {
		t.Setenv(n, "")
		require.NoError(t, os.Unsetenv(n))
	}
}

func TestLoad_Defaults(t *testing.T) {
	unsetenv(t, "AI_HOURLY_LIMIT", "AI_DAILY_LIMIT", "AI_USAGE_FAIL_OPEN", "AI_PROVIDERS", "ABBIS_CONFIG_FILE", "ABBIS_ENV_FILE")
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8081", cfg.Port)
	assert.Equal(t, 8000, cfg.ContextTokenBudget)
	assert.Equal(t, 60, cfg.HourlyLimit)
	assert.Equal(t, 500, cfg.DailyLimit)
	assert.Equal(t, 5*time.Minute, cfg.BICacheTTL)
	assert.True(t, cfg.AuditAsync)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Empty(t, cfg.Providers)
	assert.True(t, cfg.UsageFailOpen())
	assert.Nil(t, cfg.File())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	unsetenv(t, "ABBIS_CONFIG_FILE", "AI_ENCRYPTION_KEY")
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("AI_PROVIDERS", "gemini,openai")
	t.Setenv("AI_PROVIDER_FAILOVER", "openai,gemini")
	t.Setenv("AI_HOURLY_LIMIT", "5")
	t.Setenv("ABBIS_ENCRYPTION_KEY", "legacy-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"gemini", "openai"}, cfg.Providers)
	assert.Equal(t, []string{"openai", "gemini"}, cfg.FailoverOrder)
	assert.Equal(t, 5, cfg.HourlyLimit)
	assert.Equal(t, "legacy-key", cfg.EncryptionKey)
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.UsageFailOpen())
}

func TestLoad_DotEnvFile(t *testing.T) {
	unsetenv(t, "AI_DAILY_LIMIT", "ABBIS_CONFIG_FILE")
	t.Setenv("APP_ENV", "development")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("AI_DAILY_LIMIT=42\n"), 0600))
	t.Setenv("ABBIS_ENV_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.DailyLimit)
}

func TestLoad_DotEnvEnablesDebugLogging(t *testing.T) {
	unsetenv(t, "APP_ENV", "LOG_LEVEL", "JWT_SECRET", "ABBIS_CONFIG_FILE", "AI_USAGE_FAIL_OPEN")
	prev := logger.Verbose()
	t.Cleanup(func() { logger.SetVerbose(prev) })
	logger.SetVerbose(false)

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("APP_ENV=development\nLOG_LEVEL=debug\n"), 0600))
	t.Setenv("ABBIS_ENV_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.AppEnv)
	assert.True(t, cfg.UsageFailOpen())
	assert.True(t, logger.Verbose())
}

func TestConfig_Verbose(t *testing.T) {
	tests := []struct {
		name     string
		appEnv   string
		logLevel string
		want     bool
	}{
		{"production default", "production", "", false},
		{"production debug level", "production", "DEBUG", true},
		{"development", "development", "", true},
		{"local", "local", "info", true},
		{"staging", "staging", "info", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{AppEnv: tt.appEnv, LogLevel: tt.logLevel}
			assert.Equal(t, tt.want, c.Verbose())
		})
	}
}

func TestLoad_ProductionSilencesDebug(t *testing.T) {
	unsetenv(t, "LOG_LEVEL", "ABBIS_CONFIG_FILE", "ABBIS_ENV_FILE")
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "s3cret")
	prev := logger.Verbose()
	t.Cleanup(func() { logger.SetVerbose(prev) })
	logger.SetVerbose(true)

	_, err := Load()
	require.NoError(t, err)
	assert.False(t, logger.Verbose())
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		return &Config{AppEnv: "development", DatabaseDriver: "postgres", ContextTokenBudget: 8000, AuditQueueSize: 10}
	}
	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"zero budget", func(c *Config) { c.ContextTokenBudget = 0 }, "AI_CONTEXT_TOKEN_BUDGET"},
		{"zero queue", func(c *Config) { c.AuditQueueSize = 0 }, "AI_AUDIT_QUEUE_SIZE"},
		{"bad driver", func(c *Config) { c.DatabaseDriver = "oracle" }, "DATABASE_DRIVER"},
		{"production without jwt", func(c *Config) { c.AppEnv = "prod" }, "JWT_SECRET"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfig_UsageFailOpen(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		env  string
		flag *bool
		want bool
	}{
		{"development", nil, true},
		{"production", nil, false},
		{"production", &yes, true},
		{"development", &no, false},
	}
	for _, tt := range tests {
		c := &Config{AppEnv: tt.env, FailOpen: tt.flag}
		assert.Equal(t, tt.want, c.UsageFailOpen(), "env=%s", tt.env)
	}
}

const overlay = `
version: "1.0"
assistant:
  token_budget: 4000
  hourly_limit: 10
  failover: [ollama, openai]
llm_providers:
  openai:
    enabled: true
    priority: 20
    model: ${TEST_OPENAI_MODEL:-gpt-4.1-mini}
    credentials:
      api_key: ${TEST_OPENAI_KEY}
  ollama:
    enabled: true
    priority: 10
    base_url: http://ollama:11434
  gemini:
    enabled: false
    credentials:
      api_key_sealed: "c2VhbGVk"
`

func TestParseFile(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-test")
	unsetenv(t, "TEST_OPENAI_MODEL")

	f, err := ParseFile([]byte(overlay))
	require.NoError(t, err)

	configs := f.ProviderConfigs()
	require.Len(t, configs, 3)
	assert.Equal(t, "ollama", configs[0].Key)
	assert.Equal(t, "openai", configs[1].Key)
	assert.Equal(t, "gemini", configs[2].Key)
	assert.Equal(t, llm.DefaultFailoverPriority, configs[2].FailoverPriority)

	assert.Equal(t, "gpt-4.1-mini", configs[1].Model)
	key, err := configs[1].Secret.Reveal(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", key)
	assert.Equal(t, "sealed", configs[2].Secret.Source())
	assert.Equal(t, "http://ollama:11434", configs[0].BaseURL)
}

func TestParseFile_Invalid(t *testing.T) {
	_, err := ParseFile([]byte("llm_providers: {}\n"))
	assert.ErrorContains(t, err, "version")

	_, err = ParseFile([]byte("version: [\n"))
	assert.ErrorContains(t, err, "failed to parse")
}

func TestLoad_WithOverlay(t *testing.T) {
	unsetenv(t, "AI_CONTEXT_TOKEN_BUDGET", "AI_HOURLY_LIMIT", "AI_PROVIDER_FAILOVER", "ABBIS_ENV_FILE")
	t.Setenv("APP_ENV", "development")

	path := filepath.Join(t.TempDir(), "abbis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(overlay), 0600))
	t.Setenv("ABBIS_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.ContextTokenBudget)
	assert.Equal(t, 10, cfg.HourlyLimit)
	assert.Equal(t, []string{"ollama", "openai"}, cfg.FailoverOrder)
	require.NotNil(t, cfg.File())

	store := NewFileStore(path)
	configs, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, configs, 3)

	t.Setenv("ABBIS_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = Load()
	assert.Error(t, err)
}

func TestProviderDefaults(t *testing.T) {
	t.Setenv("AI_OPENAI_API_KEY", " sk-env ")
	t.Setenv("AI_OPENAI_MODEL", "gpt-4o")
	t.Setenv("AI_OLLAMA_TIMEOUT", "90")
	t.Setenv("AI_BEDROCK_REGION", "eu-west-1")
	unsetenv(t, "AI_GEMINI_API_KEY", "AI_GEMINI_MODEL", "AI_GEMINI_BASE_URL", "AI_GEMINI_TIMEOUT", "AI_GEMINI_REGION")

	d := ProviderDefaults([]string{"OpenAI", "ollama", "gemini", "bedrock"})

	key, err := d["openai"].Secret.Reveal(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "sk-env", key)
	assert.Equal(t, "gpt-4o", d["openai"].Model)
	assert.Equal(t, 90, d["ollama"].TimeoutSeconds)
	assert.Equal(t, "eu-west-1", d["bedrock"].Setting("region"))
	assert.NotContains(t, d, "gemini")
}
