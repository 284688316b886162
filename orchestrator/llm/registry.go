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
	"sync"
)

// Registry error codes.
const (
	ErrRegistryDuplicate = "DUPLICATE_PROVIDER"
	ErrRegistryInvalid   = "INVALID_PROVIDER"
)

// RegistryError is returned by Register.
type RegistryError struct {
	ProviderKey string
	Code        string
	Message     string
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("registry error [%s] for provider %q: %s", e.Code, e.ProviderKey, e.Message)
}

// Registry maps provider keys to constructed adapters. A registry is
// filled once while building a catalog snapshot and only read afterwards.
type Registry struct {
	providers map[string]Provider
	order     []string
	mu        sync.RWMutex
}

// NewRegistry creates a registry holding the given providers.
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a provider under its Key.
func (r *Registry) Register(p Provider) error {
	if p == nil || p.Key() == "" {
		return &RegistryError{Code: ErrRegistryInvalid, Message: "provider must be non-nil with a key"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := p.Key()
	if _, exists := r.providers[key]; exists {
		return &RegistryError{ProviderKey: key, Code: ErrRegistryDuplicate, Message: "already registered"}
	}
	r.providers[key] = p
	r.order = append(r.order, key)
	return nil
}

// Get returns the provider for key.
func (r *Registry) Get(key string) (Provider, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[key]
	return p, ok
}

// Has reports whether key is registered.
func (r *Registry) Has(key string) bool {
	_, ok := r.Get(key)
	return ok
}

// Keys lists providers in registration order.
func (r *Registry) Keys() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
