// Package bybit implements the Bybit v5 linear perpetuals API: a signed REST
// client and a public ticker WebSocket feed.
package bybit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/crypto"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
)

const (
	// settlementDelay is how long to wait before the first closed-pnl query.
	// Bybit settles closed positions asynchronously.
	settlementDelay = 3 * time.Second

	// closedPnlAttempts retries a zero closed-pnl read this many times.
	closedPnlAttempts = 3

	// closedPnlRetryPause separates closed-pnl retry attempts.
	closedPnlRetryPause = 2 * time.Second
)

// Client is the REST client for the Bybit v5 API, category "linear".
type Client struct {
	baseURL    string
	auth       *crypto.BybitAuth
	httpClient *http.Client
}

var _ domain.VenueClient = (*Client)(nil)

// NewClient creates a Bybit REST client. auth may be nil for public-only
// (market data) use; signed endpoints then return an error.
func NewClient(baseURL string, auth *crypto.BybitAuth) *Client {
	return &Client{
		baseURL: baseURL,
		auth:    auth,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name returns the venue identifier.
func (c *Client) Name() domain.Venue { return domain.VenueBybit }

// PlaceMarketOrder submits a market order via POST /v5/order/create.
// Market orders fill immediately or are rejected, so the requested qty is
// reported as filled on success.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side domain.Side, qty float64, reduceOnly bool) (domain.OrderResult, error) {
	req := map[string]any{
		"category":  "linear",
		"symbol":    symbol,
		"side":      string(side),
		"orderType": "Market",
		"qty":       strconv.FormatFloat(qty, 'f', -1, 64),
	}
	if reduceOnly {
		req["reduceOnly"] = true
	}

	body, err := c.doSignedPost(ctx, "/v5/order/create", req)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("bybit: place order %s %s: %w", side, symbol, err)
	}

	var res orderCreateResult
	if err := json.Unmarshal(body, &res); err != nil {
		return domain.OrderResult{}, fmt.Errorf("bybit: decode order result: %w", err)
	}

	return domain.OrderResult{OrderID: res.OrderID, FilledQty: qty}, nil
}

// PositionSize returns the absolute position size for symbol, or 0 when flat.
func (c *Client) PositionSize(ctx context.Context, symbol string) (float64, error) {
	entries, err := c.positions(ctx, symbol)
	if err != nil {
		return 0, err
	}

	var total float64
	for _, e := range entries {
		total += toFloat(e.Size)
	}
	return total, nil
}

// UnrealizedPnl returns the unrealized PnL of the leg held in the given
// direction. A long leg appears with side "Buy", a short leg with "Sell".
func (c *Client) UnrealizedPnl(ctx context.Context, symbol string, dir domain.Direction) (float64, error) {
	entries, err := c.positions(ctx, symbol)
	if err != nil {
		return 0, err
	}

	want := "Buy"
	if dir == domain.DirectionShort {
		want = "Sell"
	}

	for _, e := range entries {
		if e.Side == want && toFloat(e.Size) > 0 {
			return toFloat(e.UnrealisedPnl), nil
		}
	}
	return 0, nil
}

// ClosedPnl returns the realized PnL of the most recently closed leg in the
// given direction. It waits for settlement and retries while the venue still
// reports zero.
func (c *Client) ClosedPnl(ctx context.Context, symbol string, dir domain.Direction) (float64, error) {
	// A long is closed by a Sell order, a short by a Buy order.
	closeSide := "Sell"
	if dir == domain.DirectionShort {
		closeSide = "Buy"
	}

	if err := sleepCtx(ctx, settlementDelay); err != nil {
		return 0, err
	}

	var pnl float64
	for attempt := 0; attempt < closedPnlAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, closedPnlRetryPause); err != nil {
				return 0, err
			}
		}

		v, err := c.latestClosedPnl(ctx, symbol, closeSide)
		if err != nil {
			return 0, err
		}
		pnl = v
		if pnl != 0 {
			break
		}
	}

	return pnl, nil
}

// AvailableBalance returns the free USDT balance of the unified account.
func (c *Client) AvailableBalance(ctx context.Context) (float64, error) {
	params := url.Values{}
	params.Set("accountType", "UNIFIED")

	body, err := c.doSignedGet(ctx, "/v5/account/wallet-balance", params)
	if err != nil {
		return 0, fmt.Errorf("bybit: wallet balance: %w", err)
	}

	var res walletBalanceList
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, fmt.Errorf("bybit: decode wallet balance: %w", err)
	}

	if len(res.List) == 0 {
		return 0, fmt.Errorf("bybit: wallet balance: empty account list")
	}
	return toFloat(res.List[0].TotalAvailableBalance), nil
}

// FundingRate returns the current funding rate for symbol.
func (c *Client) FundingRate(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("category", "linear")
	params.Set("symbol", symbol)

	body, err := c.doPublicGet(ctx, "/v5/market/tickers", params)
	if err != nil {
		return 0, fmt.Errorf("bybit: funding rate %s: %w", symbol, err)
	}

	var res tickersList
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, fmt.Errorf("bybit: decode tickers: %w", err)
	}

	if len(res.List) == 0 {
		return 0, fmt.Errorf("bybit: funding rate %s: %w", symbol, domain.ErrNotFound)
	}
	return toFloat(res.List[0].FundingRate), nil
}

// OrderBook returns a depth snapshot via GET /v5/market/orderbook.
func (c *Client) OrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBookSnapshot, error) {
	params := url.Values{}
	params.Set("category", "linear")
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(depth))

	body, err := c.doPublicGet(ctx, "/v5/market/orderbook", params)
	if err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("bybit: orderbook %s: %w", symbol, err)
	}

	var res orderbookResult
	if err := json.Unmarshal(body, &res); err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("bybit: decode orderbook: %w", err)
	}

	snap := domain.OrderBookSnapshot{
		Symbol: symbol,
		Venue:  domain.VenueBybit,
		Bids:   make([]domain.BookLevel, 0, len(res.Bids)),
		Asks:   make([]domain.BookLevel, 0, len(res.Asks)),
	}
	for _, lvl := range res.Bids {
		snap.Bids = append(snap.Bids, domain.BookLevel{Price: toFloat(lvl[0]), Qty: toFloat(lvl[1])})
	}
	for _, lvl := range res.Asks {
		snap.Asks = append(snap.Asks, domain.BookLevel{Price: toFloat(lvl[0]), Qty: toFloat(lvl[1])})
	}

	return snap, nil
}

// Instruments returns specs for all trading linear instruments, following
// pagination cursors until exhausted. Contract value is always 1: Bybit
// linear contracts are sized directly in the base asset.
func (c *Client) Instruments(ctx context.Context) (map[string]domain.InstrumentSpecs, error) {
	specs := make(map[string]domain.InstrumentSpecs)
	cursor := ""

	for {
		params := url.Values{}
		params.Set("category", "linear")
		params.Set("limit", "1000")
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		body, err := c.doPublicGet(ctx, "/v5/market/instruments-info", params)
		if err != nil {
			return nil, fmt.Errorf("bybit: instruments: %w", err)
		}

		var res instrumentsResult
		if err := json.Unmarshal(body, &res); err != nil {
			return nil, fmt.Errorf("bybit: decode instruments: %w", err)
		}

		for _, ins := range res.List {
			if ins.Status != "Trading" {
				continue
			}
			specs[ins.Symbol] = domain.InstrumentSpecs{
				MinQty:        toFloat(ins.LotSizeFilter.MinOrderQty),
				StepQty:       toFloat(ins.LotSizeFilter.QtyStep),
				TickSize:      toFloat(ins.PriceFilter.TickSize),
				ContractValue: 1,
			}
		}

		if res.NextPageCursor == "" {
			break
		}
		cursor = res.NextPageCursor
	}

	return specs, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// positions fetches the position list for symbol.
func (c *Client) positions(ctx context.Context, symbol string) ([]positionEntry, error) {
	params := url.Values{}
	params.Set("category", "linear")
	params.Set("symbol", symbol)

	body, err := c.doSignedGet(ctx, "/v5/position/list", params)
	if err != nil {
		return nil, fmt.Errorf("bybit: position list %s: %w", symbol, err)
	}

	var res positionList
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("bybit: decode position list: %w", err)
	}
	return res.List, nil
}

// latestClosedPnl returns the closed PnL of the newest record whose closing
// order side matches closeSide, or 0 when no record exists yet.
func (c *Client) latestClosedPnl(ctx context.Context, symbol, closeSide string) (float64, error) {
	params := url.Values{}
	params.Set("category", "linear")
	params.Set("symbol", symbol)
	params.Set("limit", "50")

	body, err := c.doSignedGet(ctx, "/v5/position/closed-pnl", params)
	if err != nil {
		return 0, fmt.Errorf("bybit: closed pnl %s: %w", symbol, err)
	}

	var res closedPnlList
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, fmt.Errorf("bybit: decode closed pnl: %w", err)
	}

	var (
		best     float64
		bestTime int64
		found    bool
	)
	for _, e := range res.List {
		if e.Side != closeSide {
			continue
		}
		ts, _ := strconv.ParseInt(e.UpdatedTime, 10, 64)
		if !found || ts > bestTime {
			best = toFloat(e.ClosedPnl)
			bestTime = ts
			found = true
		}
	}
	return best, nil
}

// doPublicGet performs an unsigned GET against a market-data endpoint.
func (c *Client) doPublicGet(ctx context.Context, path string, params url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return c.do(req)
}

// doSignedGet performs a signed GET. The query string is part of the signed
// payload.
func (c *Client) doSignedGet(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if c.auth == nil {
		return nil, fmt.Errorf("bybit: API credentials not configured")
	}

	query := params.Encode()
	fullURL := c.baseURL + path
	if query != "" {
		fullURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	for k, v := range c.auth.Headers(query) {
		req.Header.Set(k, v)
	}

	return c.do(req)
}

// doSignedPost performs a signed POST with a JSON body.
func (c *Client) doSignedPost(ctx context.Context, path string, reqBody any) ([]byte, error) {
	if c.auth == nil {
		return nil, fmt.Errorf("bybit: API credentials not configured")
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	for k, v := range c.auth.Headers(string(jsonBody)) {
		req.Header.Set(k, v)
	}

	return c.do(req)
}

// do sends the request and unwraps the Bybit response envelope.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(respBody))
	}

	var env baseResponse
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.RetCode != 0 {
		if env.RetCode == 110007 || env.RetCode == 110012 {
			// Insufficient balance family.
			return nil, fmt.Errorf("retCode %d: %s: %w", env.RetCode, env.RetMsg, domain.ErrOrderRejected)
		}
		return nil, fmt.Errorf("retCode %d: %s", env.RetCode, env.RetMsg)
	}

	return env.Result, nil
}

// sleepCtx sleeps for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// truncate caps an error body for log-friendly messages.
func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
