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

// Package config loads assistant service configuration from a .env file,
// the process environment and an optional YAML overlay.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/malike2356/abbis-sub018/shared/logger"
)

// Config is the full service configuration.
type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"production"`
	LogLevel string `env:"LOG_LEVEL"`
	Port     string `env:"PORT" envDefault:"8081"`

	// DatabaseURL holds provider configuration and the usage log.
	// DatabaseDriver is "postgres" or "sqlite".
	DatabaseURL    string `env:"DATABASE_URL"`
	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"postgres"`
	// BusinessDSN is the MySQL database the context builders read.
	BusinessDSN string `env:"BUSINESS_DATABASE_DSN"`
	RedisURL    string `env:"REDIS_URL"`

	JWTSecret     string `env:"JWT_SECRET"`
	EncryptionKey string `env:"AI_ENCRYPTION_KEY"`
	AWSRegion     string `env:"AWS_REGION"`

	ContextTokenBudget int           `env:"AI_CONTEXT_TOKEN_BUDGET" envDefault:"8000"`
	HourlyLimit        int           `env:"AI_HOURLY_LIMIT" envDefault:"60"`
	DailyLimit         int           `env:"AI_DAILY_LIMIT" envDefault:"500"`
	FailOpen           *bool         `env:"AI_USAGE_FAIL_OPEN"`
	Providers          []string      `env:"AI_PROVIDERS" envSeparator:","`
	FailoverOrder      []string      `env:"AI_PROVIDER_FAILOVER" envSeparator:","`
	PromptTemplatePath string        `env:"AI_PROMPT_TEMPLATE" envDefault:"config/ai/assistant_prompt.txt"`
	BICacheTTL         time.Duration `env:"AI_BI_CACHE_TTL" envDefault:"5m"`

	AuditAsync        bool   `env:"AI_AUDIT_ASYNC" envDefault:"true"`
	AuditQueueSize    int    `env:"AI_AUDIT_QUEUE_SIZE" envDefault:"10000"`
	AuditFallbackPath string `env:"AI_AUDIT_FALLBACK_PATH"`

	CompanyName string   `env:"APP_COMPANY_NAME"`
	CORSOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	// ConfigFile points at the optional YAML overlay.
	ConfigFile string `env:"ABBIS_CONFIG_FILE"`

	file *File
}

// Load reads .env (if present), the environment and the YAML overlay, then
// validates the result. DEBUG logging follows the loaded LOG_LEVEL and
// APP_ENV, including values that came from .env.
func Load() (*Config, error) {
	loadDotEnv()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.EncryptionKey == "" {
		cfg.EncryptionKey = os.Getenv("ABBIS_ENCRYPTION_KEY")
	}

	if cfg.ConfigFile != "" {
		f, err := LoadFile(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg.file = f
		f.applyTo(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.SetVerbose(cfg.Verbose())
	return &cfg, nil
}

// loadDotEnv loads the first .env found. Existing variables win.
func loadDotEnv() {
	var paths []string
	if p := os.Getenv("ABBIS_ENV_FILE"); p != "" {
		paths = append(paths, p)
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".env"))
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
			return
		}
	}
}

// File returns the parsed YAML overlay, or nil when none was configured.
func (c *Config) File() *File { return c.file }

// Validate checks ranges and required combinations.
func (c *Config) Validate() error {
	if c.ContextTokenBudget <= 0 {
		return fmt.Errorf("AI_CONTEXT_TOKEN_BUDGET must be positive, got %d", c.ContextTokenBudget)
	}
	if c.AuditQueueSize <= 0 {
		return fmt.Errorf("AI_AUDIT_QUEUE_SIZE must be positive, got %d", c.AuditQueueSize)
	}
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", c.DatabaseDriver)
	}
	if c.IsProduction() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when APP_ENV=production")
	}
	return nil
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.AppEnv))
	return env == "production" || env == "prod"
}

// Verbose reports whether DEBUG logging should be on.
func (c *Config) Verbose() bool {
	return logger.VerboseFor(c.LogLevel, c.AppEnv)
}

// UsageFailOpen resolves the limiter's store-failure policy: open outside
// production unless AI_USAGE_FAIL_OPEN says otherwise.
func (c *Config) UsageFailOpen() bool {
	if c.FailOpen != nil {
		return *c.FailOpen
	}
	return !c.IsProduction()
}

// OrganisationName returns the configured company name, if any.
func (c *Config) OrganisationName() string {
	return strings.TrimSpace(c.CompanyName)
}
