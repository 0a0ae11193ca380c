// Package control runs the operator command listener: a Telegram bot that
// answers status queries and can stop the engine remotely.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
)

// PositionLister exposes the open pair positions.
type PositionLister interface {
	List() []*domain.Position
}

// FailoverLister exposes the active failover legs.
type FailoverLister interface {
	Active() []*domain.FailoverPosition
}

// BalanceReporter exposes the watchdog state.
type BalanceReporter interface {
	Blocked() bool
	Balances() map[domain.Venue]float64
	Required() float64
}

// Config tunes the bot.
type Config struct {
	BotToken     string
	ChatID       int64
	PollInterval time.Duration
}

// Bot long-polls the Telegram getUpdates API and reacts to /status,
// /positions, and /stop from the single authorized chat.
type Bot struct {
	cfg       Config
	positions PositionLister
	failovers FailoverLister
	balance   BalanceReporter
	shutdown  func()
	logger    *slog.Logger

	baseURL string
	client  *http.Client
	offset  int64
}

// NewBot creates a Bot. shutdown is invoked once when /stop arrives.
func NewBot(
	cfg Config,
	positions PositionLister,
	failovers FailoverLister,
	balance BalanceReporter,
	shutdown func(),
	logger *slog.Logger,
) *Bot {
	return &Bot{
		cfg:       cfg,
		positions: positions,
		failovers: failovers,
		balance:   balance,
		shutdown:  shutdown,
		logger:    logger.With(slog.String("component", "control_bot")),
		baseURL:   "https://api.telegram.org",
		client:    &http.Client{Timeout: 40 * time.Second},
	}
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

type updatesResponse struct {
	OK     bool     `json:"ok"`
	Result []update `json:"result"`
}

// Run polls for commands until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := b.poll(ctx); err != nil {
				b.logger.WarnContext(ctx, "poll failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (b *Bot) poll(ctx context.Context) error {
	updates, err := b.getUpdates(ctx)
	if err != nil {
		return err
	}

	for _, u := range updates {
		if u.UpdateID >= b.offset {
			b.offset = u.UpdateID + 1
		}
		if u.Message == nil {
			continue
		}
		if u.Message.Chat.ID != b.cfg.ChatID {
			b.logger.WarnContext(ctx, "command from unauthorized chat",
				slog.Int64("chat_id", u.Message.Chat.ID))
			continue
		}
		b.handle(ctx, strings.TrimSpace(u.Message.Text))
	}
	return nil
}

func (b *Bot) handle(ctx context.Context, text string) {
	cmd := text
	if i := strings.IndexAny(cmd, " @"); i > 0 {
		cmd = cmd[:i]
	}

	switch cmd {
	case "/stop":
		b.reply(ctx, "Stopping: closing all positions.")
		b.logger.WarnContext(ctx, "remote stop requested")
		b.shutdown()
	case "/status":
		b.reply(ctx, b.statusText())
	case "/positions":
		b.reply(ctx, b.positionsText())
	default:
		b.logger.DebugContext(ctx, "ignoring message", slog.String("text", text))
	}
}

func (b *Bot) statusText() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Open pairs: %d\n", len(b.positions.List())))
	sb.WriteString(fmt.Sprintf("Failover legs: %d\n", len(b.failovers.Active())))

	if b.balance.Blocked() {
		sb.WriteString("Entries: BLOCKED on balance\n")
	} else {
		sb.WriteString("Entries: allowed\n")
	}
	sb.WriteString(fmt.Sprintf("Required per venue: %.2f USDT\n", b.balance.Required()))
	for venue, bal := range b.balance.Balances() {
		sb.WriteString(fmt.Sprintf("%s: %.2f USDT\n", venue, bal))
	}
	return sb.String()
}

func (b *Bot) positionsText() string {
	positions := b.positions.List()
	failovers := b.failovers.Active()
	if len(positions) == 0 && len(failovers) == 0 {
		return "No open positions."
	}

	var sb strings.Builder
	for _, p := range positions {
		sb.WriteString(fmt.Sprintf("%s: long %s / short %s, notional %.0f, held %s\n",
			p.Symbol, p.LongVenue, p.ShortVenue, p.PositionNotional,
			time.Since(p.EntryTime).Round(time.Second)))
	}
	for _, fp := range failovers {
		sb.WriteString(fmt.Sprintf("%s [failover]: %s %s, pnl %.4f (max %.4f, stop %.4f)\n",
			fp.Symbol, fp.Venue, fp.Direction, fp.CurrentPnl, fp.MaxPnl, fp.TrailingStopPnl))
	}
	return sb.String()
}

func (b *Bot) getUpdates(ctx context.Context) ([]update, error) {
	q := url.Values{}
	q.Set("offset", strconv.FormatInt(b.offset, 10))
	q.Set("allowed_updates", `["message"]`)
	endpoint := fmt.Sprintf("%s/bot%s/getUpdates?%s", b.baseURL, b.cfg.BotToken, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("control: create request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("control: get updates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("control: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var parsed updatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("control: decode updates: %w", err)
	}
	if !parsed.OK {
		return nil, fmt.Errorf("control: telegram returned ok=false")
	}
	return parsed.Result, nil
}

func (b *Bot) reply(ctx context.Context, text string) {
	payload, err := json.Marshal(map[string]string{
		"chat_id": strconv.FormatInt(b.cfg.ChatID, 10),
		"text":    text,
	})
	if err != nil {
		return
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", b.baseURL, b.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		b.logger.WarnContext(ctx, "reply failed", slog.String("error", err.Error()))
		return
	}
	resp.Body.Close()
}
