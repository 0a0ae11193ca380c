package kucoin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// readWait bounds the silence on the socket between pongs.
	readWait = 60 * time.Second

	// defaultPingInterval is used when bullet-public omits one.
	defaultPingInterval = 15 * time.Second

	// subscribeThrottle spaces out per-symbol subscribe commands so the
	// server does not drop them under a burst.
	subscribeThrottle = 100 * time.Millisecond

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second

	// tickerTopicPrefix is the market data topic for best bid/ask pushes.
	tickerTopicPrefix = "/contractMarket/tickerV2:"
)

// QuoteHandler is called for every best bid/ask update.
type QuoteHandler func(domain.Quote)

// WSClient streams best bid/ask tickers from the KuCoin futures WebSocket.
// Connecting requires a short-lived token from the bullet-public endpoint,
// so every (re)connect performs a REST round trip first.
type WSClient struct {
	restBaseURL string
	httpClient  *http.Client

	conn *websocket.Conn

	mu     sync.RWMutex
	closed bool

	pingInterval time.Duration

	// Symbols to re-subscribe after reconnect.
	symbols []string

	handlers  []QuoteHandler
	handlerMu sync.RWMutex

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewWSClient creates a client that negotiates its WebSocket endpoint via
// restBaseURL, e.g. "https://api-futures.kucoin.com".
func NewWSClient(restBaseURL string) *WSClient {
	return &WSClient{
		restBaseURL: restBaseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		pingInterval: defaultPingInterval,
		done:         make(chan struct{}),
	}
}

// Connect fetches a bullet-public token, dials the returned endpoint, and
// restores subscriptions.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("kucoin/ws: %w", domain.ErrWSDisconnect)
	}

	endpoint, pingInterval, err := w.negotiate(ctx)
	if err != nil {
		return fmt.Errorf("kucoin/ws: negotiate: %w", err)
	}
	if pingInterval > 0 {
		w.pingInterval = pingInterval
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("kucoin/ws: connect: %w", err)
	}

	w.conn = conn
	w.conn.SetReadDeadline(time.Now().Add(readWait))

	go w.readLoop()
	go w.pingLoop()

	for _, sym := range w.symbols {
		if err := w.sendSubscribe(sym); err != nil {
			return fmt.Errorf("kucoin/ws: restore subscription: %w", err)
		}
		time.Sleep(subscribeThrottle)
	}

	return nil
}

// Subscribe subscribes to tickerV2 updates for the given symbols. Commands
// are throttled to avoid server-side drops.
func (w *WSClient) Subscribe(ctx context.Context, symbols []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("kucoin/ws: not connected")
	}

	for _, sym := range symbols {
		if err := w.sendSubscribe(sym); err != nil {
			return fmt.Errorf("kucoin/ws: subscribe %s: %w", sym, err)
		}
		w.symbols = append(w.symbols, sym)
		time.Sleep(subscribeThrottle)
	}

	return nil
}

// OnQuote registers a handler called for every ticker update.
func (w *WSClient) OnQuote(handler QuoteHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Close shuts down the WebSocket connection and stops the loops.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}

	return nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// negotiate requests a connection token and endpoint from bullet-public.
func (w *WSClient) negotiate(ctx context.Context) (string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.restBaseURL+"/api/v1/bullet-public", nil)
	if err != nil {
		return "", 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	var env baseResponse
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", 0, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Code != "200000" {
		return "", 0, fmt.Errorf("code %s: %s", env.Code, env.Msg)
	}

	var bullet bulletData
	if err := json.Unmarshal(env.Data, &bullet); err != nil {
		return "", 0, fmt.Errorf("decode bullet data: %w", err)
	}
	if len(bullet.InstanceServers) == 0 {
		return "", 0, fmt.Errorf("no instance servers offered")
	}

	srv := bullet.InstanceServers[0]
	endpoint := srv.Endpoint + "?token=" + bullet.Token + "&connectId=" + uuid.NewString()

	return endpoint, time.Duration(srv.PingInterval) * time.Millisecond, nil
}

// sendSubscribe sends one tickerV2 subscribe command. Caller must hold w.mu.
func (w *WSClient) sendSubscribe(symbol string) error {
	return w.sendCommand(wsCommand{
		ID:       uuid.NewString(),
		Type:     "subscribe",
		Topic:    tickerTopicPrefix + symbol,
		Response: true,
	})
}

// sendCommand sends a JSON command to the WebSocket. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd wsCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads messages and dispatches ticker updates.
// On disconnect, it attempts to reconnect with exponential backoff.
func (w *WSClient) readLoop() {
	defer func() {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}

			w.reconnect()
			return // readLoop is restarted by reconnect -> Connect
		}

		conn.SetReadDeadline(time.Now().Add(readWait))
		w.handleMessage(message)
	}
}

// pingLoop sends application-level pings at the negotiated interval.
func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(w.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.Lock()
			if w.conn == nil {
				w.mu.Unlock()
				return
			}
			err := w.sendCommand(wsCommand{ID: uuid.NewString(), Type: "ping"})
			w.mu.Unlock()

			if err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw frame and dispatches ticker updates.
func (w *WSClient) handleMessage(raw []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return // silently drop unparseable messages
	}

	if env.Type != "message" || !strings.HasPrefix(env.Topic, tickerTopicPrefix) {
		return // welcome, ack, pong
	}

	var data wsTickerData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return
	}

	symbol := data.Symbol
	if symbol == "" {
		symbol = strings.TrimPrefix(env.Topic, tickerTopicPrefix)
	}

	q := domain.Quote{
		Symbol:     symbol,
		Venue:      domain.VenueKuCoin,
		Bid:        toFloat(data.BestBidPrice),
		Ask:        toFloat(data.BestAskPrice),
		ObservedAt: time.Now(),
	}
	if q.Bid <= 0 || q.Ask <= 0 {
		return
	}

	w.handlerMu.RLock()
	handlers := w.handlers
	w.handlerMu.RUnlock()

	for _, h := range handlers {
		h(q)
	}
}

// reconnect attempts to re-establish the connection with exponential
// backoff. Each attempt negotiates a fresh token. It blocks until
// successful or the client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
