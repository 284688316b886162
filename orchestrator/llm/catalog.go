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
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/malike2356/abbis-sub018/shared/secrets"
)

// StoreFunc adapts a function to ConfigStore.
type StoreFunc func(ctx context.Context) ([]ProviderConfig, error)

// Load implements ConfigStore.
func (f StoreFunc) Load(ctx context.Context) ([]ProviderConfig, error) { return f(ctx) }

// Snapshot is one immutable view of provider configuration.
type Snapshot struct {
	// Enabled configs ordered by failover priority then key.
	Enabled       []ProviderConfig
	FailoverOrder []string
	Registered    []string
	// Skipped maps provider key to the reason it was not instantiated.
	Skipped  map[string]string
	LoadedAt time.Time
	Registry *Registry
}

// Config returns the enabled config for key.
func (s *Snapshot) Config(key string) (ProviderConfig, bool) {
	for _, c := range s.Enabled {
		if c.Key == key {
			return c, true
		}
	}
	return ProviderConfig{}, false
}

// Catalog owns provider configuration for the process. Init loads it once;
// Refresh rebuilds it. Each build produces a new Snapshot and registry that
// replace the previous ones in a single atomic swap.
type Catalog struct {
	store     ConfigStore
	factories *FactorySet
	keyring   *secrets.Keyring
	bus       *Bus
	defaults  map[string]ProviderConfig
	failover  []string
	providers []string
	fallback  []string

	snapshot  atomic.Pointer[Snapshot]
	refreshMu sync.Mutex
	logger    *log.Logger
	onRefresh []func()
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithConfigStore sets the persisted configuration source.
func WithConfigStore(s ConfigStore) CatalogOption {
	return func(c *Catalog) { c.store = s }
}

// WithKeyring sets the keyring used to reveal secrets.
func WithKeyring(k *secrets.Keyring) CatalogOption {
	return func(c *Catalog) { c.keyring = k }
}

// WithEnvDefaults supplies per-provider defaults read from the environment.
func WithEnvDefaults(defaults map[string]ProviderConfig) CatalogOption {
	return func(c *Catalog) { c.defaults = defaults }
}

// WithFailoverOverride pins the failover order regardless of stored config.
func WithFailoverOverride(keys []string) CatalogOption {
	return func(c *Catalog) { c.failover = NormalizeKeys(keys) }
}

// WithProviderOverride pins the set of providers to instantiate.
func WithProviderOverride(keys []string) CatalogOption {
	return func(c *Catalog) { c.providers = NormalizeKeys(keys) }
}

// WithFallbackOrder replaces DefaultFailoverOrder for this catalog.
func WithFallbackOrder(keys []string) CatalogOption {
	return func(c *Catalog) { c.fallback = NormalizeKeys(keys) }
}

// WithCatalogLogger overrides the logger.
func WithCatalogLogger(l *log.Logger) CatalogOption {
	return func(c *Catalog) { c.logger = l }
}

// OnRefresh registers a hook run after every successful swap.
func OnRefresh(fn func()) CatalogOption {
	return func(c *Catalog) { c.onRefresh = append(c.onRefresh, fn) }
}

// NewCatalog creates a catalog that publishes into bus.
func NewCatalog(bus *Bus, factories *FactorySet, opts ...CatalogOption) *Catalog {
	c := &Catalog{
		bus:       bus,
		factories: factories,
		fallback:  append([]string(nil), DefaultFailoverOrder...),
		logger:    log.New(os.Stdout, "[LLM_CATALOG] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init performs the first load. A failing store is logged and treated as
// empty so environment-configured providers still come up.
func (c *Catalog) Init(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	configs, err := c.load(ctx)
	if err != nil {
		c.logger.Printf("Provider config store unavailable, continuing with environment defaults: %v", err)
		configs = nil
	}
	return c.publish(ctx, configs)
}

// Refresh reloads configuration. On error the previous snapshot stays.
func (c *Catalog) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	configs, err := c.load(ctx)
	if err != nil {
		return fmt.Errorf("refresh provider config: %w", err)
	}
	return c.publish(ctx, configs)
}

// Snapshot returns the current snapshot, or nil before Init.
func (c *Catalog) Snapshot() *Snapshot {
	return c.snapshot.Load()
}

func (c *Catalog) load(ctx context.Context) ([]ProviderConfig, error) {
	if c.store == nil {
		return nil, nil
	}
	return c.store.Load(ctx)
}

func (c *Catalog) publish(ctx context.Context, configs []ProviderConfig) error {
	snap, err := c.build(ctx, configs)
	if err != nil {
		return err
	}
	c.bus.Swap(snap.Registry, snap.FailoverOrder)
	c.snapshot.Store(snap)
	for _, fn := range c.onRefresh {
		fn()
	}
	c.logger.Printf("Provider catalog loaded: registered=%v failover=%v skipped=%d",
		snap.Registered, snap.FailoverOrder, len(snap.Skipped))
	return nil
}

func (c *Catalog) build(ctx context.Context, configs []ProviderConfig) (*Snapshot, error) {
	stored := make(map[string]ProviderConfig, len(configs))
	var enabled []ProviderConfig
	for _, cfg := range configs {
		keys := NormalizeKeys([]string{cfg.Key})
		if len(keys) == 0 {
			continue
		}
		cfg.Key = keys[0]
		if cfg.FailoverPriority == 0 {
			cfg.FailoverPriority = DefaultFailoverPriority
		}
		stored[cfg.Key] = cfg
		if cfg.Enabled {
			enabled = append(enabled, cfg)
		}
	}
	SortByPriority(enabled)

	enabledKeys := make([]string, 0, len(enabled))
	for _, cfg := range enabled {
		enabledKeys = append(enabledKeys, cfg.Key)
	}

	snap := &Snapshot{
		Enabled:       enabled,
		FailoverOrder: firstNonEmpty(c.failover, enabledKeys, c.fallback),
		Skipped:       make(map[string]string),
		LoadedAt:      time.Now(),
	}

	registry, err := NewRegistry()
	if err != nil {
		return nil, err
	}

	for _, key := range firstNonEmpty(c.providers, enabledKeys, c.fallback) {
		cfg, ok := stored[key]
		if ok && !cfg.Enabled {
			snap.Skipped[key] = "disabled"
			continue
		}
		if !ok {
			cfg = ProviderConfig{Key: key, Enabled: true, FailoverPriority: DefaultFailoverPriority}
		}
		cfg = cfg.Merge(c.defaults[key])

		if !c.factories.Has(key) {
			snap.Skipped[key] = "no adapter for provider"
			continue
		}

		apiKey, err := cfg.Secret.Reveal(ctx, c.keyring)
		if err != nil {
			snap.Skipped[key] = "secret unavailable"
			c.logger.Printf("Skipping provider %s: secret could not be revealed: %v", key, err)
			continue
		}

		p, err := c.factories.Create(AdapterConfig{
			Key:      key,
			APIKey:   apiKey,
			Model:    cfg.Model,
			BaseURL:  cfg.BaseURL,
			Timeout:  cfg.Timeout(),
			Settings: cfg.Settings,
		})
		if err != nil {
			var pe *ProviderError
			reason := err.Error()
			if errors.As(err, &pe) {
				reason = fmt.Sprintf("%s: %s", pe.Category, pe.Message)
			}
			snap.Skipped[key] = reason
			c.logger.Printf("Skipping provider %s: %s", key, reason)
			continue
		}
		if err := registry.Register(p); err != nil {
			snap.Skipped[key] = err.Error()
			continue
		}
	}

	snap.Registry = registry
	snap.Registered = registry.Keys()
	return snap, nil
}

func firstNonEmpty(lists ...[]string) []string {
	for _, l := range lists {
		if n := NormalizeKeys(l); len(n) > 0 {
			return n
		}
	}
	return nil
}
