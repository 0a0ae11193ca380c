package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
)

// Archiver moves closed trades older than a cutoff out of the primary store
// into JSONL files on S3, then deletes them from the store. The upload
// happens before the delete, so a failed upload leaves the rows in place.
type Archiver struct {
	writer *Writer
	store  domain.TradeStore
	logger *slog.Logger
}

// NewArchiver creates an Archiver that reads from store and writes through
// writer.
func NewArchiver(writer *Writer, store domain.TradeStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		store:  store,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// Run archives all trades closed strictly before the cutoff and removes them
// from the primary store. It returns the number of archived records.
func (a *Archiver) Run(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.store.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", before)
	if err := a.writer.Put(ctx, path, "application/x-ndjson", buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	deleted, err := a.store.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(trades)), fmt.Errorf("s3blob: archive trades prune: %w", err)
	}

	a.logger.Info("archived trades",
		slog.String("path", path),
		slog.Int("count", len(trades)),
		slog.Int64("pruned", deleted),
		slog.Time("before", before))

	return int64(len(trades)), nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/trades/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
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
