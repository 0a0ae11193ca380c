// Package ledger writes the human-facing trade log: one CSV row per
// position, appended at open and completed in place at close.
package ledger

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
)

// paramColumns is the strategy parameter snapshot appended to every row, in
// column order.
var paramColumns = []string{
	"delta_threshold",
	"min_delta_lifetime",
	"delta_cache_expiration",
	"position_size_usd",
	"max_price_impact_pct",
	"min_profit_usd",
	"take_profit_usd",
	"stop_loss_pct",
	"max_hold_time",
	"trailing_stop_pct",
	"initial_take_profit_pct",
	"order_timeout",
}

var header = append([]string{
	"ID",
	"Timestamp",
	"Symbol",
	"Final PnL",
	"Total Duration",
	"Delta Reason",
	"Delta Duration",
	"Delta PnL",
	"Failover Reason",
	"Failover Duration",
	"Failover PnL",
}, paramColumns...)

// CSVLedger implements domain.TradeLedger on a single CSV file. Opens append
// a stub row; closes rewrite the file with the matching row completed, so
// the log survives a crash with at least the open recorded.
type CSVLedger struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
}

var _ domain.TradeLedger = (*CSVLedger)(nil)

// NewCSVLedger creates the ledger and its parent directory.
func NewCSVLedger(path string, logger *slog.Logger) (*CSVLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create dir: %w", err)
	}
	l := &CSVLedger{
		path:   path,
		logger: logger.With(slog.String("component", "csv_ledger")),
	}
	if err := l.ensureHeader(); err != nil {
		return nil, err
	}
	return l, nil
}

// RecordOpen appends a stub row for a freshly opened position.
func (l *CSVLedger) RecordOpen(_ context.Context, rec domain.TradeRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("ledger: open: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(row(rec)); err != nil {
		return fmt.Errorf("ledger: write open row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("ledger: flush: %w", err)
	}
	return nil
}

// RecordClose completes the most recent row of the position in place. When
// no open row exists (e.g. the file was rotated away) the completed row is
// appended instead.
func (l *CSVLedger) RecordClose(ctx context.Context, rec domain.TradeRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.readAll()
	if err != nil {
		return err
	}

	updated := false
	for i := len(rows) - 1; i >= 1; i-- {
		if len(rows[i]) > 0 && rows[i][0] == rec.PositionID {
			rows[i] = row(rec)
			updated = true
			break
		}
	}
	if !updated {
		l.logger.WarnContext(ctx, "no open row for position, appending",
			slog.String("position_id", rec.PositionID))
		rows = append(rows, row(rec))
	}

	return l.writeAll(rows)
}

func (l *CSVLedger) ensureHeader() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := os.Stat(l.path); err == nil {
		return nil
	}
	return l.writeAll([][]string{header})
}

func (l *CSVLedger) readAll() ([][]string, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return [][]string{header}, nil
		}
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("ledger: read: %w", err)
	}
	if len(rows) == 0 {
		rows = [][]string{header}
	}
	return rows, nil
}

// writeAll replaces the file atomically via a sibling temp file.
func (l *CSVLedger) writeAll(rows [][]string) error {
	tmp := l.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("ledger: open temp: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("ledger: write: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("ledger: close temp: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("ledger: replace: %w", err)
	}
	return nil
}

func row(rec domain.TradeRecord) []string {
	cols := []string{
		rec.PositionID,
		rec.OpenedAt.UTC().Format(time.RFC3339),
		rec.Symbol,
		formatFloat(rec.FinalPnl),
		formatDuration(rec.TotalDuration),
		rec.PairExitReason,
		formatDuration(rec.PairDuration),
		formatFloat(rec.PairPnl),
		rec.FailoverExitReason,
		formatDuration(rec.FailoverDuration),
		formatFloat(rec.FailoverPnl),
	}
	for _, key := range paramColumns {
		cols = append(cols, rec.Params[key])
	}
	return cols
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%.4f", v)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return d.Round(time.Second).String()
}
