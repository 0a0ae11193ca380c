package control

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
)

type fakePositions struct{ list []*domain.Position }

func (f *fakePositions) List() []*domain.Position { return f.list }

type fakeFailovers struct{ active []*domain.FailoverPosition }

func (f *fakeFailovers) Active() []*domain.FailoverPosition { return f.active }

type fakeBalance struct{ blocked bool }

func (f *fakeBalance) Blocked() bool                      { return f.blocked }
func (f *fakeBalance) Balances() map[domain.Venue]float64 { return map[domain.Venue]float64{} }
func (f *fakeBalance) Required() float64                  { return 330 }

type telegramStub struct {
	updates []update
	sent    []string
}

func (s *telegramStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			resp := updatesResponse{OK: true, Result: s.updates}
			s.updates = nil
			json.NewEncoder(w).Encode(resp)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			body, _ := io.ReadAll(r.Body)
			s.sent = append(s.sent, string(body))
			fmt.Fprint(w, `{"ok":true}`)
		default:
			http.NotFound(w, r)
		}
	})
}

func commandUpdate(id, chatID int64, text string) update {
	u := update{UpdateID: id}
	u.Message = &struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	}{Text: text}
	u.Message.Chat.ID = chatID
	return u
}

func newTestBot(t *testing.T, stub *telegramStub, shutdown func()) *Bot {
	t.Helper()
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	b := NewBot(
		Config{BotToken: "token", ChatID: 42, PollInterval: time.Second},
		&fakePositions{},
		&fakeFailovers{},
		&fakeBalance{},
		shutdown,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	b.baseURL = srv.URL
	return b
}

func TestStopCommandTriggersShutdown(t *testing.T) {
	stub := &telegramStub{updates: []update{commandUpdate(1, 42, "/stop")}}
	stopped := false
	b := newTestBot(t, stub, func() { stopped = true })

	if err := b.poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if !stopped {
		t.Error("shutdown not invoked")
	}
	if len(stub.sent) != 1 {
		t.Errorf("replies = %d, want acknowledgement", len(stub.sent))
	}
	if b.offset != 2 {
		t.Errorf("offset = %d, want 2", b.offset)
	}
}

func TestUnauthorizedChatIgnored(t *testing.T) {
	stub := &telegramStub{updates: []update{commandUpdate(1, 999, "/stop")}}
	stopped := false
	b := newTestBot(t, stub, func() { stopped = true })

	if err := b.poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if stopped {
		t.Error("shutdown invoked from unauthorized chat")
	}
	if len(stub.sent) != 0 {
		t.Error("replied to unauthorized chat")
	}
}

func TestStatusCommandReplies(t *testing.T) {
	stub := &telegramStub{updates: []update{commandUpdate(7, 42, "/status")}}
	b := newTestBot(t, stub, func() {})
	b.positions = &fakePositions{list: []*domain.Position{{Symbol: "BTCUSDT", EntryTime: time.Now()}}}

	if err := b.poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(stub.sent) != 1 {
		t.Fatalf("replies = %d, want 1", len(stub.sent))
	}
	if !strings.Contains(stub.sent[0], "Open pairs: 1") {
		t.Errorf("status reply = %s", stub.sent[0])
	}
}

func TestPositionsCommandEmpty(t *testing.T) {
	stub := &telegramStub{updates: []update{commandUpdate(3, 42, "/positions")}}
	b := newTestBot(t, stub, func() {})

	if err := b.poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(stub.sent) != 1 || !strings.Contains(stub.sent[0], "No open positions.") {
		t.Errorf("reply = %v", stub.sent)
	}
}
