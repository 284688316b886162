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
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Insert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	latency := int64(321)
	rec := Record{
		ID:               "rec-1",
		UserID:           "42",
		Role:             "admin",
		Action:           "assistant_chat",
		Provider:         "openai",
		Model:            "gpt-4.1-mini",
		PromptTokens:     10,
		CompletionTokens: 5,
		LatencyMs:        &latency,
		InputHash:        "abc",
		ContextSummary:   "[]",
		IsSuccess:        true,
		Metadata:         map[string]interface{}{"from_cache": false},
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ai_usage_logs")).
		WithArgs("rec-1", "42", "admin", "assistant_chat", "openai", "gpt-4.1-mini",
			10, 5, 15, int64(321), "abc", "[]", true, nil, `{"from_cache":false}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, NewStore(db).Insert(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InsertError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("INSERT INTO ai_usage_logs").WillReturnError(errors.New("disk full"))

	err = NewStore(db).Insert(context.Background(), Record{UserID: "1", Action: "a"})
	assert.Error(t, err)
}

func TestStore_InsertBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO ai_usage_logs")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err = NewStore(db).InsertBatch(context.Background(), []Record{
		{UserID: "1", Action: "assistant_chat"},
		{UserID: "2", Action: "assistant_chat"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InsertBatchRowFailureRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO ai_usage_logs")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WillReturnError(errors.New("constraint"))
	mock.ExpectRollback()

	err = NewStore(db).InsertBatch(context.Background(), []Record{
		{UserID: "1", Action: "assistant_chat"},
		{UserID: "2", Action: "assistant_chat"},
		{UserID: "3", Action: "assistant_chat"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 2 of 3")
	assert.Contains(t, err.Error(), "constraint")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InsertBatchEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, NewStore(db).InsertBatch(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CountSince(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	since := time.Now().Add(-time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM ai_usage_logs")).
		WithArgs("42", "assistant_chat", since.UTC()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := NewStore(db).CountSince(context.Background(), "42", "assistant_chat", since)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	mock.ExpectQuery("SELECT COUNT").WillReturnError(errors.New("gone"))
	_, err = NewStore(db).CountSince(context.Background(), "42", "assistant_chat", since)
	assert.Error(t, err)
}

func TestStore_Summary(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT action").
		WillReturnRows(sqlmock.NewRows([]string{"action", "count", "failures", "tokens"}).
			AddRow("assistant_chat", 4, 1, 900).
			AddRow("forecast", 1, 0, 0))

	out, err := NewStore(db).Summary(context.Background(), "42", time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, ActionSummary{Action: "assistant_chat", Requests: 4, Failures: 1, TotalTokens: 900}, out[0])
}

func TestStore_EnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS ai_usage_logs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, NewStore(db).EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "abc", 255, "abc"},
		{"exact", strings.Repeat("a", 255), 255, strings.Repeat("a", 255)},
		{"long", strings.Repeat("a", 300), 255, strings.Repeat("a", 255)},
		{"multibyte", strings.Repeat("é", 300), 255, strings.Repeat("é", 255)},
		{"zero", "abc", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(tt.in, tt.n))
		})
	}
}

func TestNullString(t *testing.T) {
	assert.Nil(t, nullString(""))
	require.NotNil(t, nullString("x"))
	assert.Equal(t, "x", *nullString("x"))
}
