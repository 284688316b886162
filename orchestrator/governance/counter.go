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

package governance

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/malike2356/abbis-sub018/common/usage"
)

// WindowCounter counts a user's prior actions since a point in time.
type WindowCounter interface {
	Count(ctx context.Context, userID, action string, since time.Time) (int, error)
}

// ActionRecorder is told about every recorded attempt. The Redis counter
// implements it so its windows stay in step with the usage log.
type ActionRecorder interface {
	RecordAction(ctx context.Context, userID, action string, at time.Time) error
}

// SQLCounter counts rows in ai_usage_logs.
type SQLCounter struct {
	store *usage.Store
}

// NewSQLCounter creates a counter over the usage store.
func NewSQLCounter(store *usage.Store) *SQLCounter {
	return &SQLCounter{store: store}
}

func (c *SQLCounter) Count(ctx context.Context, userID, action string, since time.Time) (int, error) {
	return c.store.CountSince(ctx, userID, action, since)
}

// RedisCounter keeps one sorted set per user and action, scored by unix
// milliseconds. Entries older than the retention are trimmed on write.
type RedisCounter struct {
	client    redis.Cmdable
	retention time.Duration
}

// DefaultRetention covers the longest window the limiter checks.
const DefaultRetention = 25 * time.Hour

// NewRedisCounter creates a counter. retention <= 0 uses DefaultRetention.
func NewRedisCounter(client redis.Cmdable, retention time.Duration) *RedisCounter {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisCounter{client: client, retention: retention}
}

func usageKey(userID, action string) string {
	return fmt.Sprintf("ai:usage:%s:%s", userID, action)
}

func (c *RedisCounter) Count(ctx context.Context, userID, action string, since time.Time) (int, error) {
	n, err := c.client.ZCount(ctx, usageKey(userID, action), fmt.Sprintf("%d", since.UnixMilli()), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count usage window: %w", err)
	}
	return int(n), nil
}

// RecordAction adds one attempt at time at.
func (c *RedisCounter) RecordAction(ctx context.Context, userID, action string, at time.Time) error {
	key := usageKey(userID, action)

	pipe := c.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("(%d", at.Add(-c.retention).UnixMilli()))
	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: fmt.Sprintf("%d-%s", at.UnixMilli(), uuid.NewString()),
	})
	pipe.Expire(ctx, key, c.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record usage for %s: %w", userID, err)
	}
	return nil
}
