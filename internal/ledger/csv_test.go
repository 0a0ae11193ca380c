package ledger

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
)

func newTestLedger(t *testing.T) (*CSVLedger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trades.csv")
	l, err := NewCSVLedger(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewCSVLedger: %v", err)
	}
	return l, path
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return rows
}

func openRecord() domain.TradeRecord {
	return domain.TradeRecord{
		PositionID: "pos-1",
		Symbol:     "BTCUSDT",
		OpenedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Params: map[string]string{
			"delta_threshold":   "0.8",
			"position_size_usd": "300",
		},
	}
}

func TestHeaderWrittenOnce(t *testing.T) {
	l, path := newTestLedger(t)

	rows := readRows(t, path)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want header only", len(rows))
	}
	if len(rows[0]) != 23 {
		t.Errorf("header has %d columns, want 23", len(rows[0]))
	}
	if rows[0][0] != "ID" || rows[0][5] != "Delta Reason" {
		t.Errorf("unexpected header %v", rows[0])
	}

	// Reopening the same file must not duplicate the header.
	if _, err := NewCSVLedger(path, l.logger); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if rows := readRows(t, path); len(rows) != 1 {
		t.Errorf("rows after reopen = %d, want 1", len(rows))
	}
}

func TestOpenThenClose(t *testing.T) {
	l, path := newTestLedger(t)
	ctx := context.Background()

	if err := l.RecordOpen(ctx, openRecord()); err != nil {
		t.Fatalf("RecordOpen: %v", err)
	}

	rows := readRows(t, path)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want header + open stub", len(rows))
	}
	stub := rows[1]
	if stub[0] != "pos-1" || stub[2] != "BTCUSDT" {
		t.Errorf("stub = %v", stub)
	}
	if stub[5] != "" {
		t.Errorf("stub exit reason = %q, want empty", stub[5])
	}
	if stub[11] != "0.8" || stub[14] != "300" {
		t.Errorf("param snapshot = %q/%q, want 0.8/300", stub[11], stub[14])
	}

	closed := openRecord()
	closed.ClosedAt = closed.OpenedAt.Add(42 * time.Minute)
	closed.FinalPnl = -1.95
	closed.TotalDuration = 42 * time.Minute
	closed.PairExitReason = domain.ExitReasonStopLoss
	closed.PairDuration = 10 * time.Minute
	closed.PairPnl = -3.7
	closed.FailoverExitReason = domain.ExitReasonTrailingStop
	closed.FailoverDuration = 32 * time.Minute
	closed.FailoverPnl = 1.75

	if err := l.RecordClose(ctx, closed); err != nil {
		t.Fatalf("RecordClose: %v", err)
	}

	rows = readRows(t, path)
	if len(rows) != 2 {
		t.Fatalf("rows after close = %d, close must update in place", len(rows))
	}
	got := rows[1]
	if got[3] != "-1.9500" {
		t.Errorf("final pnl = %q, want -1.9500", got[3])
	}
	if got[5] != "sl" || got[8] != "trailing_stop_exit" {
		t.Errorf("reasons = %q/%q", got[5], got[8])
	}
	if got[6] != "10m0s" || got[9] != "32m0s" {
		t.Errorf("durations = %q/%q", got[6], got[9])
	}
}

func TestCloseUpdatesLatestMatchingRow(t *testing.T) {
	l, path := newTestLedger(t)
	ctx := context.Background()

	first := openRecord()
	first.ClosedAt = first.OpenedAt.Add(time.Minute)
	first.FinalPnl = 1
	first.TotalDuration = time.Minute
	first.PairExitReason = domain.ExitReasonTakeProfit
	if err := l.RecordOpen(ctx, openRecord()); err != nil {
		t.Fatal(err)
	}
	if err := l.RecordClose(ctx, first); err != nil {
		t.Fatal(err)
	}

	// Same symbol trades again under a new ID.
	second := openRecord()
	second.PositionID = "pos-2"
	if err := l.RecordOpen(ctx, second); err != nil {
		t.Fatal(err)
	}
	second.FinalPnl = 2.5
	second.PairExitReason = domain.ExitReasonTakeProfit
	if err := l.RecordClose(ctx, second); err != nil {
		t.Fatal(err)
	}

	rows := readRows(t, path)
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2 trades", len(rows))
	}
	if rows[1][3] != "1.0000" || rows[2][3] != "2.5000" {
		t.Errorf("pnls = %q/%q", rows[1][3], rows[2][3])
	}
}

func TestCloseWithoutOpenAppends(t *testing.T) {
	l, path := newTestLedger(t)

	rec := openRecord()
	rec.PairExitReason = domain.ExitReasonTimeout
	if err := l.RecordClose(context.Background(), rec); err != nil {
		t.Fatalf("RecordClose: %v", err)
	}
	rows := readRows(t, path)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want appended close", len(rows))
	}
}
