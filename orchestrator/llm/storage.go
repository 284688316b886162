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

package llm

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/malike2356/abbis-sub018/shared/secrets"
)

// ConfigStore loads provider configurations.
type ConfigStore interface {
	Load(ctx context.Context) ([]ProviderConfig, error)
}

// Settings keys understood inside settings_json.
const (
	SettingAPIKey    = "api_key"
	SettingAPIKeyARN = "api_key_secret_arn"
	SettingModel     = "model"
	SettingBaseURL   = "base_url"
	SettingTimeout   = "timeout"
)

// PostgresStorage reads ai_provider_config. Queries are portable to SQLite.
type PostgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage creates a new SQL-backed storage.
func NewPostgresStorage(db *sql.DB) *PostgresStorage {
	return &PostgresStorage{db: db}
}

var _ ConfigStore = (*PostgresStorage)(nil)

// Load returns every row, enabled or not.
func (s *PostgresStorage) Load(ctx context.Context) ([]ProviderConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider_key, is_enabled, daily_limit, monthly_limit,
			   failover_priority, settings_json, updated_at
		FROM ai_provider_config`)
	if err != nil {
		return nil, fmt.Errorf("failed to load provider configs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var configs []ProviderConfig
	for rows.Next() {
		var (
			key                  string
			enabled              bool
			daily, monthly, prio sql.NullInt64
			settingsJSON         sql.NullString
			updatedAt            sql.NullTime
		)
		if err := rows.Scan(&key, &enabled, &daily, &monthly, &prio, &settingsJSON, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan provider config: %w", err)
		}

		cfg := ProviderConfig{
			Key:              strings.ToLower(strings.TrimSpace(key)),
			Enabled:          enabled,
			FailoverPriority: DefaultFailoverPriority,
			Settings:         map[string]interface{}{},
		}
		if daily.Valid {
			v := int(daily.Int64)
			cfg.DailyLimit = &v
		}
		if monthly.Valid {
			v := int(monthly.Int64)
			cfg.MonthlyLimit = &v
		}
		if prio.Valid {
			cfg.FailoverPriority = int(prio.Int64)
		}
		if updatedAt.Valid {
			cfg.UpdatedAt = updatedAt.Time
		}
		if settingsJSON.Valid && settingsJSON.String != "" {
			if err := json.Unmarshal([]byte(settingsJSON.String), &cfg.Settings); err != nil {
				return nil, fmt.Errorf("invalid settings_json for provider %q: %w", key, err)
			}
		}
		applySettings(&cfg)
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

// applySettings lifts well-known settings into typed fields and removes
// credential material from the free-form map.
func applySettings(cfg *ProviderConfig) {
	if sealed := cfg.Setting(SettingAPIKey); sealed != "" {
		cfg.Secret = secrets.Sealed(sealed)
	} else if arn := cfg.Setting(SettingAPIKeyARN); arn != "" {
		cfg.Secret = secrets.Ref(arn)
	}
	delete(cfg.Settings, SettingAPIKey)
	delete(cfg.Settings, SettingAPIKeyARN)
	cfg.Model = cfg.Setting(SettingModel)
	cfg.BaseURL = cfg.Setting(SettingBaseURL)
	if t := cfg.Setting(SettingTimeout); t != "" {
		if n, err := strconv.ParseFloat(t, 64); err == nil {
			cfg.TimeoutSeconds = int(n)
		}
	}
}

// Save upserts one provider row. Only sealed or referenced secrets are
// persisted; a plain secret is rejected.
func (s *PostgresStorage) Save(ctx context.Context, cfg ProviderConfig) error {
	if cfg.Key == "" {
		return errors.New("provider key is required")
	}
	if cfg.Secret.Source() == "plain" {
		return errors.New("refusing to persist an unsealed API key")
	}

	settings := make(map[string]interface{}, len(cfg.Settings)+5)
	for k, v := range cfg.Settings {
		settings[k] = v
	}
	if c := cfg.Secret.Ciphertext(); c != "" {
		settings[SettingAPIKey] = c
	}
	if arn := cfg.Secret.ARN(); arn != "" {
		settings[SettingAPIKeyARN] = arn
	}
	if cfg.Model != "" {
		settings[SettingModel] = cfg.Model
	}
	if cfg.BaseURL != "" {
		settings[SettingBaseURL] = cfg.BaseURL
	}
	if cfg.TimeoutSeconds > 0 {
		settings[SettingTimeout] = cfg.TimeoutSeconds
	}
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	priority := cfg.FailoverPriority
	if priority == 0 {
		priority = DefaultFailoverPriority
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ai_provider_config (
			provider_key, is_enabled, daily_limit, monthly_limit,
			failover_priority, settings_json, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP)
		ON CONFLICT (provider_key) DO UPDATE SET
			is_enabled = EXCLUDED.is_enabled,
			daily_limit = EXCLUDED.daily_limit,
			monthly_limit = EXCLUDED.monthly_limit,
			failover_priority = EXCLUDED.failover_priority,
			settings_json = EXCLUDED.settings_json,
			updated_at = CURRENT_TIMESTAMP`,
		cfg.Key, cfg.Enabled, nullInt(cfg.DailyLimit), nullInt(cfg.MonthlyLimit), priority, string(settingsJSON))
	if err != nil {
		return fmt.Errorf("failed to save provider %q: %w", cfg.Key, err)
	}
	return nil
}

// EnsureSchema creates ai_provider_config if missing.
func (s *PostgresStorage) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ai_provider_config (
			provider_key VARCHAR(50) PRIMARY KEY,
			is_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			daily_limit INTEGER,
			monthly_limit INTEGER,
			failover_priority INTEGER NOT NULL DEFAULT 100,
			settings_json TEXT,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("failed to create ai_provider_config: %w", err)
	}
	return nil
}

func nullInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
