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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/malike2356/abbis-sub018/common/usage"
	"github.com/malike2356/abbis-sub018/orchestrator/llm"
	"github.com/malike2356/abbis-sub018/shared/logger"
)

// Audit defaults.
const (
	DefaultQueueSize      = 10000
	DefaultBatchSize      = 100
	DefaultFlushInterval  = time.Second
	DefaultDirectTimeout  = 2 * time.Second
	DefaultMirrorTimeout  = 250 * time.Millisecond
	defaultBatchWriteTime = 5 * time.Second
)

// RecordWriter persists usage records. *usage.Store implements it.
type RecordWriter interface {
	Insert(ctx context.Context, r usage.Record) error
	InsertBatch(ctx context.Context, records []usage.Record) error
}

// AuditConfig configures an AuditLogger.
type AuditConfig struct {
	// Async queues records for a background batch writer. When false every
	// record is written inline.
	Async         bool
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	// DirectTimeout bounds inline writes, including those made when the
	// queue is full.
	DirectTimeout time.Duration
	// MirrorTimeout bounds each ActionRecorder call.
	MirrorTimeout time.Duration
	// FallbackPath, when set, receives records that could not be written as
	// JSON lines.
	FallbackPath string
}

func (c AuditConfig) withDefaults() AuditConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.DirectTimeout <= 0 {
		c.DirectTimeout = DefaultDirectTimeout
	}
	if c.MirrorTimeout <= 0 {
		c.MirrorTimeout = DefaultMirrorTimeout
	}
	return c
}

// AuditLogger records one usage row per orchestration attempt. Log never
// returns an error and never panics into the caller.
type AuditLogger struct {
	writer   RecordWriter
	recorder ActionRecorder
	cfg      AuditConfig
	log      *logger.Logger

	queue  chan usage.Record
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	fallbackMu sync.Mutex
	fallback   *os.File

	queued  uint64
	written uint64
	failed  uint64
	onFail  func()
}

// AuditOption configures an AuditLogger.
type AuditOption func(*AuditLogger)

// WithActionRecorder mirrors every record into r, typically a RedisCounter.
// Queued records are mirrored by the background writer, not the caller.
func WithActionRecorder(r ActionRecorder) AuditOption {
	return func(a *AuditLogger) { a.recorder = r }
}

// WithFailureHook is called once per record that could not be persisted.
func WithFailureHook(fn func()) AuditOption {
	return func(a *AuditLogger) { a.onFail = fn }
}

// NewAuditLogger creates a logger and, in async mode, starts its writer.
// writer may be nil, in which case records are only mirrored and logged.
func NewAuditLogger(writer RecordWriter, cfg AuditConfig, opts ...AuditOption) (*AuditLogger, error) {
	cfg = cfg.withDefaults()
	a := &AuditLogger{
		writer: writer,
		cfg:    cfg,
		log:    logger.New("audit_logger"),
	}
	for _, opt := range opts {
		opt(a)
	}

	if cfg.FallbackPath != "" {
		f, err := os.OpenFile(cfg.FallbackPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit fallback file: %w", err)
		}
		a.fallback = f
	}

	if cfg.Async {
		a.queue = make(chan usage.Record, cfg.QueueSize)
		a.wg.Add(1)
		go a.run()
	}
	return a, nil
}

// Log records r. Missing ids, timestamps and totals are filled in; the
// context summary is truncated.
func (a *AuditLogger) Log(ctx context.Context, r usage.Record) {
	defer func() {
		if p := recover(); p != nil {
			a.log.Error(r.UserID, "", "audit logging panicked", map[string]interface{}{"panic": fmt.Sprint(p)})
		}
	}()

	r = normalize(r)

	a.mu.RLock()
	if a.queue != nil && !a.closed {
		select {
		case a.queue <- r:
			a.mu.RUnlock()
			atomic.AddUint64(&a.queued, 1)
			return
		default:
			a.log.Debug(r.UserID, "", "audit queue full, writing inline", nil)
		}
	}
	a.mu.RUnlock()

	a.mirror(ctx, r)
	a.writeDirect(ctx, r)
}

func normalize(r usage.Record) usage.Record {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.TotalTokens == 0 {
		r.TotalTokens = r.PromptTokens + r.CompletionTokens
	}
	r.ContextSummary = usage.Truncate(r.ContextSummary, usage.ContextSummaryLimit)
	return r
}

func (a *AuditLogger) mirror(ctx context.Context, r usage.Record) {
	if a.recorder == nil {
		return
	}
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.MirrorTimeout)
	defer cancel()
	if err := a.recorder.RecordAction(mctx, r.UserID, r.Action, r.CreatedAt); err != nil {
		a.log.Debug(r.UserID, "", "usage window mirror failed", map[string]interface{}{"error": err.Error()})
	}
}

// writeDirect runs detached from the caller's cancellation so a failure
// audit is still attempted after the request was cancelled.
func (a *AuditLogger) writeDirect(ctx context.Context, r usage.Record) {
	if a.writer == nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.DirectTimeout)
	defer cancel()
	if err := a.writer.Insert(wctx, r); err != nil {
		a.persistFailed([]usage.Record{r}, err)
		return
	}
	atomic.AddUint64(&a.written, 1)
}

func (a *AuditLogger) run() {
	defer a.wg.Done()

	batch := make([]usage.Record, 0, a.cfg.BatchSize)
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case r, ok := <-a.queue:
			if !ok {
				a.flush(batch)
				return
			}
			a.mirror(context.Background(), r)
			batch = append(batch, r)
			if len(batch) >= a.cfg.BatchSize {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				a.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (a *AuditLogger) flush(batch []usage.Record) {
	if len(batch) == 0 || a.writer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultBatchWriteTime)
	defer cancel()
	if err := a.writer.InsertBatch(ctx, batch); err != nil {
		a.persistFailed(append([]usage.Record(nil), batch...), err)
		return
	}
	atomic.AddUint64(&a.written, uint64(len(batch)))
}

func (a *AuditLogger) persistFailed(records []usage.Record, err error) {
	atomic.AddUint64(&a.failed, uint64(len(records)))
	for range records {
		if a.onFail != nil {
			a.onFail()
		}
	}
	a.log.Debug("", "", "usage records not persisted", map[string]interface{}{
		"count": len(records),
		"error": err.Error(),
	})

	a.fallbackMu.Lock()
	defer a.fallbackMu.Unlock()
	if a.fallback == nil {
		return
	}
	for _, r := range records {
		data, mErr := json.Marshal(r)
		if mErr != nil {
			continue
		}
		if _, wErr := fmt.Fprintf(a.fallback, "%s\n", data); wErr != nil {
			a.log.Debug(r.UserID, "", "audit fallback write failed", map[string]interface{}{"error": wErr.Error()})
			return
		}
	}
	_ = a.fallback.Sync()
}

// Close stops accepting queued records and waits for the writer to drain.
// Records logged after Close are written inline.
func (a *AuditLogger) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	if a.queue != nil {
		close(a.queue)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.closeFallback()
		return nil
	case <-ctx.Done():
		// The writer may still be flushing into the fallback file.
		go func() {
			<-done
			a.closeFallback()
		}()
		return ctx.Err()
	}
}

func (a *AuditLogger) closeFallback() {
	a.fallbackMu.Lock()
	defer a.fallbackMu.Unlock()
	if a.fallback != nil {
		_ = a.fallback.Close()
		a.fallback = nil
	}
}

// Stats returns queue counters.
func (a *AuditLogger) Stats() map[string]interface{} {
	pending := 0
	if a.queue != nil {
		pending = len(a.queue)
	}
	return map[string]interface{}{
		"async":   a.cfg.Async,
		"queued":  atomic.LoadUint64(&a.queued),
		"written": atomic.LoadUint64(&a.written),
		"failed":  atomic.LoadUint64(&a.failed),
		"pending": pending,
	}
}

// HashMessages returns the hex SHA-256 of the JSON-serialized messages.
func HashMessages(messages []llm.Message) string {
	data, err := json.Marshal(messages)
	if err != nil {
		data = []byte(fmt.Sprint(messages))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SummarizeContext serializes the assembled context and truncates it to
// usage.ContextSummaryLimit runes.
func SummarizeContext(assembled []map[string]interface{}) string {
	if len(assembled) == 0 {
		return ""
	}
	data, err := json.Marshal(assembled)
	if err != nil {
		return ""
	}
	return usage.Truncate(string(data), usage.ContextSummaryLimit)
}
