package journal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

type memWriter struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    bool
}

func newMemWriter() *memWriter {
	return &memWriter{objects: map[string][]byte{}}
}

func (m *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("unavailable")
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	return nil
}

func (m *memWriter) lines() []domain.DecisionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.DecisionRecord
	for _, b := range m.objects {
		sc := bufio.NewScanner(bytes.NewReader(b))
		for sc.Scan() {
			var rec domain.DecisionRecord
			if err := json.Unmarshal(sc.Bytes(), &rec); err == nil {
				out = append(out, rec)
			}
		}
	}
	return out
}

func (m *memWriter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

func newTestJournal(cfg Config, w domain.BlobWriter) *Journal {
	return New(cfg, w, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func rec(slug string) domain.DecisionRecord {
	return domain.DecisionRecord{At: time.Unix(1767225600, 0).UTC(), Loop: "btc-5m", Slug: slug, State: "monitoring", Reason: "quorum"}
}

func TestFlushUploadsOneBatch(t *testing.T) {
	w := newMemWriter()
	j := newTestJournal(Config{BatchSize: 2, MaxBuffered: 10}, w)
	j.clock = func() time.Time { return time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC) }

	for _, s := range []string{"a", "b", "c"} {
		j.Append(rec(s))
	}
	require.True(t, j.Flush(context.Background()))
	assert.Equal(t, 1, j.Buffered())
	require.Equal(t, 1, w.count())
	for path := range w.objects {
		assert.True(t, strings.HasPrefix(path, "journal/2026/01/01/20260101T100000Z-"), path)
		assert.True(t, strings.HasSuffix(path, ".jsonl"))
	}

	j.FlushAll(context.Background())
	assert.Equal(t, 0, j.Buffered())
	assert.Len(t, w.lines(), 3)
	assert.False(t, j.Flush(context.Background()), "nothing to flush")
}

func TestAppendDropsOldestWhenFull(t *testing.T) {
	w := newMemWriter()
	j := newTestJournal(Config{BatchSize: 10, MaxBuffered: 3}, w)
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		j.Append(rec(s))
	}
	assert.Equal(t, 3, j.Buffered())
	j.FlushAll(context.Background())

	var slugs []string
	for _, r := range w.lines() {
		slugs = append(slugs, r.Slug)
	}
	assert.Equal(t, []string{"c", "d", "e"}, slugs)
}

func TestFailedUploadIsRequeued(t *testing.T) {
	w := newMemWriter()
	w.fail = true
	j := newTestJournal(Config{BatchSize: 2, MaxBuffered: 10}, w)
	j.Append(rec("a"))
	j.Append(rec("b"))
	j.Append(rec("c"))

	assert.False(t, j.Flush(context.Background()))
	assert.Equal(t, 3, j.Buffered())

	w.fail = false
	j.FlushAll(context.Background())
	assert.Equal(t, 0, j.Buffered())
	assert.Len(t, w.lines(), 3)
}

func TestRunFlushesOnShutdown(t *testing.T) {
	w := newMemWriter()
	j := newTestJournal(Config{FlushInterval: time.Hour}, w)
	j.Append(rec("a"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Len(t, w.lines(), 1)
}

func TestFullBatchWakesUploader(t *testing.T) {
	w := newMemWriter()
	j := newTestJournal(Config{BatchSize: 2, FlushInterval: time.Hour}, w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = j.Run(ctx) }()

	j.Append(rec("a"))
	j.Append(rec("b"))
	assert.Eventually(t, func() bool { return w.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}
