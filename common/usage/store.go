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

package usage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

const insertRecordSQL = `
	INSERT INTO ai_usage_logs (
		id, user_id, role, action, provider, model,
		prompt_tokens, completion_tokens, total_tokens, latency_ms,
		input_hash, context_summary, is_success, error_code, metadata, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

const countSinceSQL = `
	SELECT COUNT(*) FROM ai_usage_logs
	WHERE user_id = $1 AND action = $2 AND created_at >= $3`

const summarySQL = `
	SELECT action,
		COUNT(*),
		SUM(CASE WHEN is_success THEN 0 ELSE 1 END),
		COALESCE(SUM(total_tokens), 0)
	FROM ai_usage_logs
	WHERE user_id = $1 AND created_at >= $2
	GROUP BY action
	ORDER BY action`

// Store reads and writes ai_usage_logs.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an open database handle
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Insert appends one record.
func (s *Store) Insert(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx, insertRecordSQL, recordArgs(r)...)
	if err != nil {
		log.Printf("[USAGE] Failed to record usage for action %s: %v", r.Action, err)
	}
	return err
}

// InsertBatch appends records in one transaction. The first failing row rolls
// the whole batch back and its error is returned, so callers can treat every
// record in the batch as unwritten.
func (s *Store) InsertBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin usage batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertRecordSQL)
	if err != nil {
		return fmt.Errorf("prepare usage batch: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, r := range records {
		if _, err := stmt.ExecContext(ctx, recordArgs(r)...); err != nil {
			return fmt.Errorf("insert usage row %d of %d: %w", i+1, len(records), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit usage batch: %w", err)
	}
	return nil
}

// CountSince counts rows for user and action created at or after since.
func (s *Store) CountSince(ctx context.Context, userID, action string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, countSinceSQL, userID, action, since.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	return count, nil
}

// Summary aggregates a user's usage per action since the given time.
func (s *Store) Summary(ctx context.Context, userID string, since time.Time) ([]ActionSummary, error) {
	rows, err := s.db.QueryContext(ctx, summarySQL, userID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("usage summary: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ActionSummary
	for rows.Next() {
		var a ActionSummary
		if err := rows.Scan(&a.Action, &a.Requests, &a.Failures, &a.TotalTokens); err != nil {
			return nil, fmt.Errorf("scan usage summary: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func recordArgs(r Record) []interface{} {
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	total := r.TotalTokens
	if total == 0 {
		total = r.PromptTokens + r.CompletionTokens
	}

	metadata := "{}"
	if len(r.Metadata) > 0 {
		if b, err := json.Marshal(r.Metadata); err == nil {
			metadata = string(b)
		}
	}

	var latency interface{}
	if r.LatencyMs != nil {
		latency = *r.LatencyMs
	}

	return []interface{}{
		id,
		r.UserID,
		nullString(r.Role),
		r.Action,
		nullString(r.Provider),
		nullString(r.Model),
		r.PromptTokens,
		r.CompletionTokens,
		total,
		latency,
		r.InputHash,
		Truncate(r.ContextSummary, ContextSummaryLimit),
		r.IsSuccess,
		nullString(r.ErrorCode),
		metadata,
		created.UTC(),
	}
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// nullString converts an empty string to NULL for database insertion
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
