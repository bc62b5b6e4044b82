package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/updownbot/internal/blob/s3"
	"github.com/alanyoungcy/updownbot/internal/domain"
)

// JournalHandler serves archived decision journal batches.
type JournalHandler struct {
	blobs  domain.BlobReader
	prefix string
	logger *slog.Logger
}

// NewJournalHandler creates a JournalHandler for batches stored under
// prefix.
func NewJournalHandler(blobs domain.BlobReader, prefix string, logger *slog.Logger) *JournalHandler {
	return &JournalHandler{
		blobs:  blobs,
		prefix: strings.TrimSuffix(prefix, "/"),
		logger: logger.With(slog.String("handler", "journal")),
	}
}

type batchView struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Modified string `json:"modified"`
}

// ListBatches lists the batches written on a UTC day.
// GET /api/journal?day=YYYY-MM-DD (default: today)
func (h *JournalHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	day := time.Now().UTC()
	if v := r.URL.Query().Get("day"); v != "" {
		d, err := time.Parse(time.DateOnly, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "day must be YYYY-MM-DD")
			return
		}
		day = d
	}

	blobs, err := h.blobs.List(r.Context(), s3blob.DayPrefix(h.prefix, day))
	if err != nil {
		h.logger.Error("list journal batches failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list journal batches")
		return
	}
	views := make([]batchView, 0, len(blobs))
	for _, b := range blobs {
		views = append(views, batchView{
			Path:     b.Path,
			Size:     b.Size,
			Modified: b.LastModified.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"day":     day.Format(time.DateOnly),
		"batches": views,
	})
}

// GetBatch streams one batch as JSON lines. Only paths under the journal
// prefix are served.
// GET /api/journal/batch?path=
func (h *JournalHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if !strings.HasPrefix(path, h.prefix+"/") || strings.Contains(path, "..") {
		writeError(w, http.StatusBadRequest, "path must name a journal batch")
		return
	}

	rc, err := h.blobs.Get(r.Context(), path)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "journal batch not found")
		return
	}
	if err != nil {
		h.logger.Error("get journal batch failed", slog.String("path", path), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read journal batch")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("stream journal batch failed", slog.String("path", path), slog.String("error", err.Error()))
	}
}
