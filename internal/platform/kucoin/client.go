// Package kucoin implements the KuCoin futures API: a signed REST client and
// the tickerV2 WebSocket feed. KuCoin futures symbols carry an "M" suffix
// (XBTUSDTM) and orders are sized in contracts, not base asset.
package kucoin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/crypto"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
	"github.com/google/uuid"
)

const (
	// settlementDelay is how long to wait before the first history query.
	// KuCoin settles closed positions asynchronously.
	settlementDelay = 3 * time.Second

	// closedPnlAttempts retries a zero closed-pnl read this many times.
	closedPnlAttempts = 3

	// closedPnlRetryPause separates closed-pnl retry attempts.
	closedPnlRetryPause = 2 * time.Second
)

// Client is the REST client for the KuCoin futures API.
type Client struct {
	baseURL    string
	auth       *crypto.KuCoinAuth
	leverage   string
	httpClient *http.Client
}

var _ domain.VenueClient = (*Client)(nil)

// NewClient creates a KuCoin futures REST client. auth may be nil for
// public-only (market data) use; signed endpoints then return an error.
func NewClient(baseURL string, auth *crypto.KuCoinAuth) *Client {
	return &Client{
		baseURL:  baseURL,
		auth:     auth,
		leverage: "3",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetLeverage sets the leverage sent with entry orders. KuCoin wants it as a
// string of a whole number; values below 1 are ignored.
func (c *Client) SetLeverage(lev float64) {
	if lev >= 1 {
		c.leverage = strconv.Itoa(int(lev))
	}
}

// Name returns the venue identifier.
func (c *Client) Name() domain.Venue { return domain.VenueKuCoin }

// PlaceMarketOrder submits a market order via POST /api/v1/orders. qty is in
// contracts and must be a whole number; KuCoin rejects fractional sizes.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side domain.Side, qty float64, reduceOnly bool) (domain.OrderResult, error) {
	size := math.Floor(qty)
	if size < 1 {
		return domain.OrderResult{}, fmt.Errorf("kucoin: place order %s: size %.4f below one contract: %w", symbol, qty, domain.ErrOrderRejected)
	}

	kcSide := "buy"
	if side == domain.SideSell {
		kcSide = "sell"
	}

	req := map[string]any{
		"clientOid":  uuid.NewString(),
		"symbol":     symbol,
		"side":       kcSide,
		"type":       "market",
		"size":       int64(size),
		"marginMode": "CROSS",
	}
	if reduceOnly {
		req["reduceOnly"] = true
	} else {
		req["leverage"] = c.leverage
	}

	body, err := c.doSigned(ctx, http.MethodPost, "/api/v1/orders", req)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("kucoin: place order %s %s: %w", kcSide, symbol, err)
	}

	var res orderCreateData
	if err := json.Unmarshal(body, &res); err != nil {
		return domain.OrderResult{}, fmt.Errorf("kucoin: decode order result: %w", err)
	}

	return domain.OrderResult{OrderID: res.OrderID, FilledQty: size}, nil
}

// PositionSize returns the absolute position size in contracts, or 0 when
// flat.
func (c *Client) PositionSize(ctx context.Context, symbol string) (float64, error) {
	pos, err := c.position(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return math.Abs(pos.CurrentQty), nil
}

// UnrealizedPnl returns the unrealized PnL of the leg held in the given
// direction. KuCoin reports one net position per symbol with signed qty.
func (c *Client) UnrealizedPnl(ctx context.Context, symbol string, dir domain.Direction) (float64, error) {
	pos, err := c.position(ctx, symbol)
	if err != nil {
		return 0, err
	}

	if dir == domain.DirectionLong && pos.CurrentQty <= 0 {
		return 0, nil
	}
	if dir == domain.DirectionShort && pos.CurrentQty >= 0 {
		return 0, nil
	}
	return pos.UnrealisedPnl, nil
}

// ClosedPnl returns the realized PnL of the most recently closed position.
// It waits for settlement and retries while the venue still reports zero.
func (c *Client) ClosedPnl(ctx context.Context, symbol string, dir domain.Direction) (float64, error) {
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

		v, err := c.latestClosedPnl(ctx, symbol)
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

// AvailableBalance returns the free USDT balance of the futures account.
func (c *Client) AvailableBalance(ctx context.Context) (float64, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v1/account-overview?currency=USDT", nil)
	if err != nil {
		return 0, fmt.Errorf("kucoin: account overview: %w", err)
	}

	var res accountOverviewData
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, fmt.Errorf("kucoin: decode account overview: %w", err)
	}
	return res.AvailableBalance, nil
}

// FundingRate returns the current funding rate for symbol.
func (c *Client) FundingRate(ctx context.Context, symbol string) (float64, error) {
	path := "/api/v1/funding-rate/" + url.PathEscape(symbol) + "/current"

	body, err := c.doPublicGet(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("kucoin: funding rate %s: %w", symbol, err)
	}

	var res fundingRateData
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, fmt.Errorf("kucoin: decode funding rate: %w", err)
	}
	return res.Value, nil
}

// OrderBook returns a depth snapshot. KuCoin exposes fixed depth-20 and
// depth-100 endpoints; the smallest one covering depth is used.
func (c *Client) OrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBookSnapshot, error) {
	endpoint := "/api/v1/level2/depth20"
	if depth > 20 {
		endpoint = "/api/v1/level2/depth100"
	}

	body, err := c.doPublicGet(ctx, endpoint+"?symbol="+url.QueryEscape(symbol))
	if err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("kucoin: orderbook %s: %w", symbol, err)
	}

	var res level2Data
	if err := json.Unmarshal(body, &res); err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("kucoin: decode orderbook: %w", err)
	}

	snap := domain.OrderBookSnapshot{
		Symbol: symbol,
		Venue:  domain.VenueKuCoin,
		Bids:   make([]domain.BookLevel, 0, len(res.Bids)),
		Asks:   make([]domain.BookLevel, 0, len(res.Asks)),
	}
	for _, lvl := range res.Bids {
		snap.Bids = append(snap.Bids, domain.BookLevel{Price: lvl[0], Qty: lvl[1]})
	}
	for _, lvl := range res.Asks {
		snap.Asks = append(snap.Asks, domain.BookLevel{Price: lvl[0], Qty: lvl[1]})
	}

	return snap, nil
}

// Instruments returns specs for all open contracts. The multiplier is the
// base-asset value of one contract and feeds quantity conversion.
func (c *Client) Instruments(ctx context.Context) (map[string]domain.InstrumentSpecs, error) {
	body, err := c.doPublicGet(ctx, "/api/v1/contracts/active")
	if err != nil {
		return nil, fmt.Errorf("kucoin: contracts: %w", err)
	}

	var contracts []contractEntry
	if err := json.Unmarshal(body, &contracts); err != nil {
		return nil, fmt.Errorf("kucoin: decode contracts: %w", err)
	}

	specs := make(map[string]domain.InstrumentSpecs, len(contracts))
	for _, ct := range contracts {
		if ct.Status != "Open" {
			continue
		}
		specs[ct.Symbol] = domain.InstrumentSpecs{
			MinQty:        ct.LotSize,
			StepQty:       ct.LotSize,
			TickSize:      ct.TickSize,
			ContractValue: ct.Multiplier,
		}
	}

	return specs, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// position fetches the single net position for symbol.
func (c *Client) position(ctx context.Context, symbol string) (positionData, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v1/position?symbol="+url.QueryEscape(symbol), nil)
	if err != nil {
		return positionData{}, fmt.Errorf("kucoin: position %s: %w", symbol, err)
	}

	var res positionData
	if err := json.Unmarshal(body, &res); err != nil {
		return positionData{}, fmt.Errorf("kucoin: decode position: %w", err)
	}
	return res, nil
}

// latestClosedPnl returns the PnL of the newest closed position record, or 0
// when history is empty.
func (c *Client) latestClosedPnl(ctx context.Context, symbol string) (float64, error) {
	path := "/api/v1/history-positions?symbol=" + url.QueryEscape(symbol) + "&limit=10"

	body, err := c.doSigned(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, fmt.Errorf("kucoin: history positions %s: %w", symbol, err)
	}

	var res historyPositionsData
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, fmt.Errorf("kucoin: decode history positions: %w", err)
	}

	var (
		best     float64
		bestTime int64
		found    bool
	)
	for _, e := range res.Items {
		if !found || e.CloseTime > bestTime {
			best = e.Pnl
			bestTime = e.CloseTime
			found = true
		}
	}
	return best, nil
}

// doPublicGet performs an unsigned GET against a market-data endpoint.
// pathWithQuery includes the query string.
func (c *Client) doPublicGet(ctx context.Context, pathWithQuery string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathWithQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return c.do(req)
}

// doSigned performs a signed request. pathWithQuery includes the query
// string; KuCoin signs over the full path.
func (c *Client) doSigned(ctx context.Context, method, pathWithQuery string, reqBody any) ([]byte, error) {
	if c.auth == nil {
		return nil, fmt.Errorf("kucoin: API credentials not configured")
	}

	var (
		bodyReader io.Reader
		bodyStr    string
	)
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
		bodyStr = string(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+pathWithQuery, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	for k, v := range c.auth.Headers(method, pathWithQuery, bodyStr) {
		req.Header.Set(k, v)
	}

	return c.do(req)
}

// do sends the request and unwraps the KuCoin response envelope.
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
	if env.Code != "200000" {
		if env.Code == "300018" || env.Code == "200004" {
			// Insufficient balance family.
			return nil, fmt.Errorf("code %s: %s: %w", env.Code, env.Msg, domain.ErrOrderRejected)
		}
		return nil, fmt.Errorf("code %s: %s", env.Code, env.Msg)
	}

	return env.Data, nil
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
