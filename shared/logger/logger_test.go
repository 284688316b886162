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

package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureEntry(t *testing.T, fn func()) (LogEntry, bool) {
	t.Helper()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	fn()

	output := buf.String()
	jsonStart := strings.Index(output, "{")
	if jsonStart == -1 {
		return LogEntry{}, false
	}
	var entry LogEntry
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(output[jsonStart:])), &entry), output)
	return entry, true
}

func TestNew(t *testing.T) {
	t.Setenv("INSTANCE_ID", "instance-123")
	l := New("bus")
	assert.Equal(t, "bus", l.Component)
	assert.Equal(t, "instance-123", l.InstanceID)
	assert.NotEmpty(t, l.Container)

	t.Setenv("INSTANCE_ID", "")
	assert.Equal(t, "unknown", New("bus").InstanceID)
}

func TestLogLevels(t *testing.T) {
	SetVerbose(true)
	defer SetVerbose(false)

	tests := []struct {
		name    string
		logFunc func(*Logger, string, string, string, map[string]interface{})
		level   LogLevel
	}{
		{"info", (*Logger).Info, INFO},
		{"error", (*Logger).Error, ERROR},
		{"warn", (*Logger).Warn, WARN},
		{"debug", (*Logger).Debug, DEBUG},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New("test-component")
			entry, ok := captureEntry(t, func() {
				tt.logFunc(l, "42", "req-1", "hello", map[string]interface{}{"provider": "openai"})
			})
			require.True(t, ok)
			assert.Equal(t, tt.level, entry.Level)
			assert.Equal(t, "42", entry.UserID)
			assert.Equal(t, "req-1", entry.RequestID)
			assert.Equal(t, "hello", entry.Message)
			assert.Equal(t, "openai", entry.Fields["provider"])
			_, err := time.Parse(time.RFC3339Nano, entry.Timestamp)
			assert.NoError(t, err)
		})
	}
}

func TestDebugSuppressedWhenNotVerbose(t *testing.T) {
	SetVerbose(false)
	_, ok := captureEntry(t, func() {
		New("audit").Debug("", "", "dropped", nil)
	})
	assert.False(t, ok)
}

func TestVerboseFor(t *testing.T) {
	assert.True(t, VerboseFor("debug", "production"))
	assert.True(t, VerboseFor(" DEBUG ", ""))
	assert.True(t, VerboseFor("", "development"))
	assert.True(t, VerboseFor("info", "Local"))
	assert.False(t, VerboseFor("info", "production"))
	assert.False(t, VerboseFor("", ""))
}

func TestHelpers(t *testing.T) {
	l := New("orchestrator")

	entry, ok := captureEntry(t, func() {
		l.InfoWithDuration("7", "req-2", "done", 12.5, nil)
	})
	require.True(t, ok)
	assert.Equal(t, 12.5, entry.Fields["duration_ms"])

	entry, ok = captureEntry(t, func() {
		l.ErrorWithCode("7", "req-2", "failed", "SERVICE", errors.New("boom"), nil)
	})
	require.True(t, ok)
	assert.Equal(t, "SERVICE", entry.Fields["error_code"])
	assert.Equal(t, "boom", entry.Fields["error"])
}
