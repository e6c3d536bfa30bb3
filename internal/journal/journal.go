package journal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sqlscribe/sqlscribe/internal/storage"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 30 * time.Second
	defaultMaxPending    = 10000

	parquetContentType = "application/vnd.apache.parquet"
)

// Entry is the audit record of one answered or failed question.
type Entry struct {
	RequestID          string    `json:"request_id"`
	TraceID            string    `json:"trace_id,omitempty"`
	Question           string    `json:"question"`
	GeneratedSQL       string    `json:"generated_sql"`
	CorrectedSQL       string    `json:"corrected_sql"`
	ExecutedSQL        string    `json:"executed_sql,omitempty"`
	AppliedCorrections []string  `json:"applied_corrections"`
	AutoFixes          []string  `json:"auto_fixes"`
	ValidationIssues   []string  `json:"validation_issues"`
	Outcome            string    `json:"outcome"`
	Error              string    `json:"error,omitempty"`
	Attempts           int       `json:"attempts"`
	RowCount           int       `json:"row_count"`
	DurationMs         int64     `json:"duration_ms"`
	CreatedAt          time.Time `json:"created_at"`
}

type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	MaxPending    int
}

// Journal buffers entries in memory and writes them to object storage in
// parquet batches. Recording never blocks a request.
type Journal struct {
	store  storage.ObjectStore
	config Config
	logger *slog.Logger
	now    func() time.Time

	flushMu  sync.Mutex
	mu       sync.Mutex
	pending  []Entry
	sequence int
	dropped  int64
	full     chan struct{}
}

func New(store storage.ObjectStore, cfg Config, logger *slog.Logger) *Journal {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.MaxPending < cfg.BatchSize {
		cfg.MaxPending = defaultMaxPending
		if cfg.MaxPending < cfg.BatchSize {
			cfg.MaxPending = cfg.BatchSize
		}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Journal{
		store:  store,
		config: cfg,
		logger: logger,
		now:    time.Now,
		full:   make(chan struct{}, 1),
	}
}

// Record queues entry for the next flush. RequestID and CreatedAt are filled
// in when empty. Entries beyond MaxPending are dropped.
func (j *Journal) Record(entry Entry) {
	if entry.RequestID == "" {
		entry.RequestID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = j.now().UTC()
	}

	j.mu.Lock()
	if len(j.pending) >= j.config.MaxPending {
		j.dropped++
		j.mu.Unlock()
		j.logger.Warn("journal buffer full, dropping entry", slog.String("request_id", entry.RequestID))
		return
	}
	j.pending = append(j.pending, entry)
	reached := len(j.pending) >= j.config.BatchSize
	j.mu.Unlock()

	if reached {
		select {
		case j.full <- struct{}{}:
		default:
		}
	}
}

func (j *Journal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending)
}

// Dropped counts entries discarded because the buffer was full.
func (j *Journal) Dropped() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.dropped
}

// Run flushes on every interval tick and whenever a batch fills up. When ctx
// ends, the remaining entries are flushed once more before returning.
func (j *Journal) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := j.Flush(flushCtx)
			cancel()
			if err != nil {
				j.logger.Error("final journal flush failed", slog.Any("error", err))
			}
			return nil
		case <-ticker.C:
		case <-j.full:
		}
		if err := j.Flush(ctx); err != nil {
			j.logger.ErrorContext(ctx, "journal flush failed", slog.Any("error", err))
		}
	}
}

// Flush writes every pending entry. On failure the entries go back to the
// front of the buffer.
func (j *Journal) Flush(ctx context.Context) error {
	j.flushMu.Lock()
	defer j.flushMu.Unlock()

	j.mu.Lock()
	batch := j.pending
	j.pending = nil
	j.mu.Unlock()

	for len(batch) > 0 {
		size := j.config.BatchSize
		if size > len(batch) {
			size = len(batch)
		}
		if err := j.writeBatch(ctx, batch[:size]); err != nil {
			j.requeue(batch)
			return err
		}
		batch = batch[size:]
	}
	return nil
}

func (j *Journal) writeBatch(ctx context.Context, entries []Entry) error {
	data, err := EncodeParquet(entries)
	if err != nil {
		return err
	}
	key, err := storage.BuildJournalPath(j.now(), j.sequence)
	if err != nil {
		return err
	}
	if _, err := j.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{ContentType: parquetContentType}); err != nil {
		return fmt.Errorf("upload journal batch %q: %w", key, err)
	}
	j.sequence++
	j.logger.InfoContext(ctx, "journal batch written", slog.String("key", key), slog.Int("entries", len(entries)))
	return nil
}

func (j *Journal) requeue(entries []Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	merged := append(append(make([]Entry, 0, len(entries)+len(j.pending)), entries...), j.pending...)
	if over := len(merged) - j.config.MaxPending; over > 0 {
		j.dropped += int64(over)
		merged = merged[:j.config.MaxPending]
	}
	j.pending = merged
}

// Read decodes one stored batch.
func (j *Journal) Read(ctx context.Context, key string) ([]Entry, error) {
	reader, err := j.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get journal batch %q: %w", key, err)
	}
	defer func() { _ = reader.Close() }()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read journal batch %q: %w", key, err)
	}
	return DecodeParquet(data)
}

// Day returns up to limit entries flushed on the UTC day of day, oldest
// first.
func (j *Journal) Day(ctx context.Context, day time.Time, limit int) ([]Entry, error) {
	objects, err := j.store.List(ctx, storage.JournalDayPrefix(day))
	if err != nil {
		return nil, fmt.Errorf("list journal batches: %w", err)
	}
	sort.Slice(objects, func(a, b int) bool { return objects[a].Key < objects[b].Key })

	out := make([]Entry, 0)
	for _, object := range objects {
		entries, err := j.Read(ctx, object.Key)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
		if limit > 0 && len(out) >= limit {
			return out[:limit], nil
		}
	}
	return out, nil
}
