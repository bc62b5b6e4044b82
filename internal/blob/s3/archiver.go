package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// JSONLContentType is the content type of newline-delimited JSON objects.
const JSONLContentType = "application/x-ndjson"

// BatchPath builds the key of a batch of kind written at t, partitioned by
// UTC day:
//
//	journal/2026/01/01/20260101T100500Z-3f2a9c1e.jsonl
func BatchPath(kind string, t time.Time, id string) string {
	t = t.UTC()
	return fmt.Sprintf("%s/%s/%s-%s.jsonl", kind, t.Format("2006/01/02"), t.Format("20060102T150405Z"), id)
}

// DayPrefix returns the key prefix of all batches of kind written on day.
func DayPrefix(kind string, day time.Time) string {
	return fmt.Sprintf("%s/%s/", kind, day.UTC().Format("2006/01/02"))
}

// PutJSONL serialises records as JSONL and uploads them to path.
func PutJSONL[T any](ctx context.Context, w domain.BlobWriter, path string, records []T) error {
	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: marshal %s: %w", path, err)
	}
	if err := w.Put(ctx, path, bytes.NewReader(buf), JSONLContentType); err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", path, err)
	}
	return nil
}

// marshalJSONL encodes each record as one compact JSON line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
