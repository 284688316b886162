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
	"fmt"
	"sort"
	"sync"
	"time"
)

// AdapterConfig is handed to a factory with the secret already revealed.
// It is built per construction and never stored or logged.
type AdapterConfig struct {
	Key      string
	APIKey   string
	Model    string
	BaseURL  string
	Timeout  time.Duration
	Settings map[string]interface{}
}

// String never includes the API key.
func (c AdapterConfig) String() string {
	return fmt.Sprintf("AdapterConfig{key=%s model=%s base_url=%s timeout=%s}", c.Key, c.Model, c.BaseURL, c.Timeout)
}

// Setting returns a settings value rendered as a string.
func (c AdapterConfig) Setting(key string) string {
	return ProviderConfig{Settings: c.Settings}.Setting(key)
}

// Factory constructs a provider. It must fail fast with an AUTH or
// VALIDATION ProviderError when required configuration is missing.
type Factory func(cfg AdapterConfig) (Provider, error)

// FactorySet is the closed set of provider constructors known to the
// process. Keys are registered explicitly at startup.
type FactorySet struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewFactorySet creates an empty set.
func NewFactorySet() *FactorySet {
	return &FactorySet{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for key.
func (s *FactorySet) Register(key string, f Factory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factories[key] = f
}

// Has reports whether key has a factory.
func (s *FactorySet) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.factories[key]
	return ok
}

// Keys lists registered keys in sorted order.
func (s *FactorySet) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.factories))
	for k := range s.factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Create builds a provider for cfg.Key.
func (s *FactorySet) Create(cfg AdapterConfig) (Provider, error) {
	s.mu.RLock()
	f, ok := s.factories[cfg.Key]
	s.mu.RUnlock()
	if !ok {
		return nil, Errorf(cfg.Key, CategoryInternal, "no adapter registered for provider %q", cfg.Key)
	}
	p, err := f(cfg)
	if err != nil {
		return nil, AsProviderError(cfg.Key, err)
	}
	return p, nil
}
