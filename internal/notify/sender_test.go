package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTelegramSenderPostsMessage(t *testing.T) {
	var got telegramMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottoken-1/sendMessage" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := NewTelegramSender("token-1", "42")
	s.baseURL = srv.URL

	if err := s.Send(context.Background(), "Stop loss", "BTCUSDT split"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.ChatID != "42" {
		t.Errorf("chat_id = %s, want 42", got.ChatID)
	}
	if !strings.HasPrefix(got.Text, "*Stop loss*\n") {
		t.Errorf("text = %q, want bold title first", got.Text)
	}
}

func TestDiscordSenderClipsLongContent(t *testing.T) {
	var got discordMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)

	long := strings.Repeat("x", 3*discordMaxLen)
	if err := s.Send(context.Background(), "Balance blocked", long); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(got.Content) != discordMaxLen {
		t.Errorf("content length = %d, want clipped to %d", len(got.Content), discordMaxLen)
	}
}

func TestSenderReportsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad webhook", http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	if err := s.Send(context.Background(), "t", "m"); err == nil {
		t.Fatal("expected error on 403 reply")
	}
}
