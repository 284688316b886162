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

package llmcontext

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultCacheTTL bounds how stale a cached business slice may be.
const DefaultCacheTTL = 5 * time.Minute

// SliceCache stores serialized slice payloads by name.
type SliceCache interface {
	// Get returns (nil, false, nil) on a miss.
	Get(ctx context.Context, name string) ([]byte, bool, error)
	Set(ctx context.Context, name string, payload []byte) error
}

// RedisSliceCache keeps payloads under ai:ctx:<prefix>:<name>.
type RedisSliceCache struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisSliceCache creates a cache. ttl <= 0 uses DefaultCacheTTL.
func NewRedisSliceCache(client redis.Cmdable, prefix string, ttl time.Duration) *RedisSliceCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisSliceCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisSliceCache) key(name string) string {
	return fmt.Sprintf("ai:ctx:%s:%s", c.prefix, name)
}

func (c *RedisSliceCache) Get(ctx context.Context, name string) ([]byte, bool, error) {
	b, err := c.client.Get(ctx, c.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached slice %s: %w", name, err)
	}
	return b, true, nil
}

func (c *RedisSliceCache) Set(ctx context.Context, name string, payload []byte) error {
	if err := c.client.Set(ctx, c.key(name), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache slice %s: %w", name, err)
	}
	return nil
}

// cached returns the payload for name from cache, computing and storing it
// on a miss. Cache failures fall through to compute.
func cached(ctx context.Context, cache SliceCache, name string, compute func(context.Context) (interface{}, error)) (interface{}, error) {
	if cache == nil {
		return compute(ctx)
	}
	if b, ok, err := cache.Get(ctx, name); err == nil && ok {
		var payload interface{}
		if err := json.Unmarshal(b, &payload); err == nil {
			return payload, nil
		}
	}
	payload, err := compute(ctx)
	if err != nil || isEmpty(payload) {
		return payload, err
	}
	if b, err := json.Marshal(payload); err == nil {
		_ = cache.Set(ctx, name, b)
	}
	return payload, nil
}

func isEmpty(v interface{}) bool {
	switch p := v.(type) {
	case nil:
		return true
	case []map[string]interface{}:
		return len(p) == 0
	case map[string]interface{}:
		return len(p) == 0
	case []interface{}:
		return len(p) == 0
	}
	return false
}
