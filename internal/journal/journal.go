// Package journal batches notable decision records and archives them as
// JSONL objects in blob storage.
package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/updownbot/internal/blob/s3"
	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Kind is the key prefix of journal batches.
const Kind = "journal"

// Config holds journal parameters.
type Config struct {
	// MaxBuffered caps the in-memory backlog; the oldest records are dropped
	// beyond it.
	MaxBuffered int
	// BatchSize is the most records uploaded in one object.
	BatchSize int
	// FlushInterval is how often a batch is uploaded.
	FlushInterval time.Duration
	// Prefix overrides Kind as the key prefix.
	Prefix string
}

// Journal is a bounded buffer of decision records drained to blob storage.
// Append never blocks, so decision loops can call it from their tick.
type Journal struct {
	cfg    Config
	writer domain.BlobWriter
	logger *slog.Logger
	clock  func() time.Time

	mu      sync.Mutex
	buf     []domain.DecisionRecord
	dropped int

	kick chan struct{}
}

// New creates a Journal uploading through writer.
func New(cfg Config, writer domain.BlobWriter, logger *slog.Logger) *Journal {
	if cfg.MaxBuffered <= 0 {
		cfg.MaxBuffered = 500
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchSize > cfg.MaxBuffered {
		cfg.BatchSize = cfg.MaxBuffered
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 20 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = Kind
	}
	return &Journal{
		cfg:    cfg,
		writer: writer,
		logger: logger.With(slog.String("component", "journal")),
		clock:  time.Now,
		kick:   make(chan struct{}, 1),
	}
}

// Append buffers rec. A full batch wakes the uploader early.
func (j *Journal) Append(rec domain.DecisionRecord) {
	j.mu.Lock()
	if len(j.buf) >= j.cfg.MaxBuffered {
		j.buf = j.buf[1:]
		j.dropped++
	}
	j.buf = append(j.buf, rec)
	full := len(j.buf) >= j.cfg.BatchSize
	j.mu.Unlock()

	if full {
		select {
		case j.kick <- struct{}{}:
		default:
		}
	}
}

// Buffered returns the number of records waiting for upload.
func (j *Journal) Buffered() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.buf)
}

// Run uploads one batch per interval, or sooner when a batch fills, until
// ctx is cancelled. The remaining backlog is flushed on shutdown.
func (j *Journal) Run(ctx context.Context) error {
	j.logger.Info("journal started",
		slog.Duration("flush_interval", j.cfg.FlushInterval),
		slog.Int("batch_size", j.cfg.BatchSize),
	)
	defer j.logger.Info("journal stopped")

	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			j.FlushAll(flushCtx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			j.Flush(ctx)
		case <-j.kick:
			j.Flush(ctx)
		}
	}
}

// Flush uploads one batch. A failed batch is put back at the front of the
// buffer. It reports whether a batch was uploaded.
func (j *Journal) Flush(ctx context.Context) bool {
	j.mu.Lock()
	n := min(len(j.buf), j.cfg.BatchSize)
	batch := append([]domain.DecisionRecord(nil), j.buf[:n]...)
	j.buf = j.buf[n:]
	dropped := j.dropped
	j.dropped = 0
	j.mu.Unlock()

	if dropped > 0 {
		j.logger.Warn("journal backlog full, dropped records", slog.Int("dropped", dropped))
	}
	if len(batch) == 0 {
		return false
	}

	path := s3blob.BatchPath(j.cfg.Prefix, j.clock(), uuid.NewString()[:8])
	if err := s3blob.PutJSONL(ctx, j.writer, path, batch); err != nil {
		j.logger.Warn("journal upload failed, requeueing",
			slog.Int("records", len(batch)),
			slog.String("error", err.Error()),
		)
		j.requeue(batch)
		return false
	}
	j.logger.Debug("journal batch uploaded", slog.String("path", path), slog.Int("records", len(batch)))
	return true
}

// FlushAll uploads batches until the buffer is empty or an upload fails.
func (j *Journal) FlushAll(ctx context.Context) {
	for j.Buffered() > 0 {
		if !j.Flush(ctx) {
			return
		}
	}
}

func (j *Journal) requeue(batch []domain.DecisionRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()

	merged := append(batch, j.buf...)
	if over := len(merged) - j.cfg.MaxBuffered; over > 0 {
		merged = merged[over:]
		j.dropped += over
	}
	j.buf = merged
}
