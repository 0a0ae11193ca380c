package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// QuoteCache implements domain.QuoteCache using Redis hashes. Each quote is
// stored at key "quote:{venue}:{symbol}" with fields "bid", "ask", and "ts"
// (Unix nanosecond timestamp).
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.rdb}
}

func quoteKey(venue domain.Venue, symbol string) string {
	return "quote:" + string(venue) + ":" + symbol
}

// SetQuote stores the latest best bid/ask for a symbol on one venue.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.Quote) error {
	key := quoteKey(q.Venue, q.Symbol)
	fields := map[string]interface{}{
		"bid": strconv.FormatFloat(q.Bid, 'f', -1, 64),
		"ask": strconv.FormatFloat(q.Ask, 'f', -1, 64),
		"ts":  strconv.FormatInt(q.ObservedAt.UnixNano(), 10),
	}
	if err := qc.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("redis: set quote %s %s: %w", q.Venue, q.Symbol, err)
	}
	return nil
}

// GetQuote retrieves the latest quote for a symbol on one venue.
// It returns domain.ErrNotFound when the key does not exist.
func (qc *QuoteCache) GetQuote(ctx context.Context, venue domain.Venue, symbol string) (domain.Quote, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(venue, symbol)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s %s: %w", venue, symbol, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, domain.ErrNotFound
	}

	q, err := quoteFromFields(venue, symbol, vals)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s %s: %w", venue, symbol, err)
	}
	return q, nil
}

// GetQuotes retrieves quotes for multiple symbols on one venue using a
// pipeline. Symbols whose keys do not exist are silently omitted.
func (qc *QuoteCache) GetQuotes(ctx context.Context, venue domain.Venue, symbols []string) (map[string]domain.Quote, error) {
	if len(symbols) == 0 {
		return map[string]domain.Quote{}, nil
	}

	pipe := qc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(symbols))
	for _, sym := range symbols {
		cmds[sym] = pipe.HGetAll(ctx, quoteKey(venue, sym))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes pipeline: %w", err)
	}

	result := make(map[string]domain.Quote, len(symbols))
	for sym, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		q, err := quoteFromFields(venue, sym, vals)
		if err != nil {
			continue
		}
		result[sym] = q
	}

	return result, nil
}

// quoteFromFields rebuilds a Quote from hash fields.
func quoteFromFields(venue domain.Venue, symbol string, vals map[string]string) (domain.Quote, error) {
	bid, err := strconv.ParseFloat(vals["bid"], 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("parse bid: %w", err)
	}
	ask, err := strconv.ParseFloat(vals["ask"], 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("parse ask: %w", err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("parse ts: %w", err)
	}

	return domain.Quote{
		Symbol:     symbol,
		Venue:      venue,
		Bid:        bid,
		Ask:        ask,
		ObservedAt: time.Unix(0, tsNano),
	}, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
