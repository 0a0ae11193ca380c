package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// readWait bounds the silence on the socket; Bybit answers JSON pings,
	// so a healthy stream always produces traffic within this window.
	readWait = 60 * time.Second

	// pingPeriod sends application-level pings at this interval.
	pingPeriod = 20 * time.Second

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second

	// subscribeChunk is the max number of topics per subscribe command.
	subscribeChunk = 100
)

// QuoteHandler is called for every best bid/ask update.
type QuoteHandler func(domain.Quote)

// wsCommand is an outbound operation on the public stream.
type wsCommand struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

// WSClient streams best bid/ask tickers from the Bybit public linear
// WebSocket. Ticker deltas omit unchanged fields, so the client keeps the
// last quote per symbol and patches deltas onto it.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Symbols to re-subscribe after reconnect.
	symbols []string

	// Last full quote per symbol, for patching delta frames.
	last map[string]domain.Quote

	handlers  []QuoteHandler
	handlerMu sync.RWMutex

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewWSClient creates a client for the given public stream URL, e.g.
// "wss://stream.bybit.com/v5/public/linear".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		last:  make(map[string]domain.Quote),
		done:  make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and restores subscriptions.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("bybit/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("bybit/ws: connect: %w", err)
	}

	w.conn = conn
	w.conn.SetReadDeadline(time.Now().Add(readWait))

	go w.readLoop()
	go w.pingLoop()

	if len(w.symbols) > 0 {
		if err := w.sendSubscribe(w.symbols); err != nil {
			return fmt.Errorf("bybit/ws: restore subscription: %w", err)
		}
	}

	return nil
}

// Subscribe subscribes to ticker updates for the given symbols.
func (w *WSClient) Subscribe(ctx context.Context, symbols []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("bybit/ws: not connected")
	}

	if err := w.sendSubscribe(symbols); err != nil {
		return fmt.Errorf("bybit/ws: subscribe: %w", err)
	}

	w.symbols = append(w.symbols, symbols...)
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

// sendSubscribe sends subscribe commands in chunks. Caller must hold w.mu.
func (w *WSClient) sendSubscribe(symbols []string) error {
	for start := 0; start < len(symbols); start += subscribeChunk {
		end := start + subscribeChunk
		if end > len(symbols) {
			end = len(symbols)
		}

		args := make([]string, 0, end-start)
		for _, sym := range symbols[start:end] {
			args = append(args, "tickers."+sym)
		}

		if err := w.sendCommand(wsCommand{Op: "subscribe", Args: args}); err != nil {
			return err
		}
	}
	return nil
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

// pingLoop sends application-level pings; Bybit does not use WS-level pings.
func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
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
			err := w.sendCommand(wsCommand{Op: "ping"})
			w.mu.Unlock()

			if err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw message and dispatches ticker updates. Delta
// frames are merged with the previous quote so a missing bid or ask never
// zeroes out the symbol.
func (w *WSClient) handleMessage(raw []byte) {
	var op wsOpMessage
	if err := json.Unmarshal(raw, &op); err == nil && op.Op != "" {
		return // subscribe ack or pong
	}

	var msg wsTickerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return // silently drop unparseable messages
	}
	if !strings.HasPrefix(msg.Topic, "tickers.") {
		return
	}

	symbol := msg.Data.Symbol
	if symbol == "" {
		symbol = strings.TrimPrefix(msg.Topic, "tickers.")
	}

	w.mu.Lock()
	q := w.last[symbol]
	q.Symbol = symbol
	q.Venue = domain.VenueBybit
	if bid := toFloat(msg.Data.Bid1Price); bid > 0 {
		q.Bid = bid
	}
	if ask := toFloat(msg.Data.Ask1Price); ask > 0 {
		q.Ask = ask
	}
	q.ObservedAt = time.Now()
	w.last[symbol] = q
	w.mu.Unlock()

	if q.Bid <= 0 || q.Ask <= 0 {
		return // no full quote yet
	}

	w.handlerMu.RLock()
	handlers := w.handlers
	w.handlerMu.RUnlock()

	for _, h := range handlers {
		h(q)
	}
}

// reconnect attempts to re-establish the connection with exponential
// backoff. It blocks until successful or the client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
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
