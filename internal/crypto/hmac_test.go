package crypto

import (
	"strings"
	"testing"
)

func TestBybitHeadersAt(t *testing.T) {
	auth := &BybitAuth{Key: "test-key", Secret: "test-secret"}

	h := auth.HeadersAt("category=linear&symbol=BTCUSDT", 1700000000000)

	if got := h["X-BAPI-API-KEY"]; got != "test-key" {
		t.Errorf("api key header = %q, want %q", got, "test-key")
	}
	if got := h["X-BAPI-TIMESTAMP"]; got != "1700000000000" {
		t.Errorf("timestamp header = %q, want %q", got, "1700000000000")
	}
	if got := h["X-BAPI-RECV-WINDOW"]; got != "5000" {
		t.Errorf("recv window header = %q, want %q", got, "5000")
	}

	// Signature must be deterministic for a fixed timestamp and payload.
	again := auth.HeadersAt("category=linear&symbol=BTCUSDT", 1700000000000)
	if h["X-BAPI-SIGN"] != again["X-BAPI-SIGN"] {
		t.Errorf("signature not deterministic: %q vs %q", h["X-BAPI-SIGN"], again["X-BAPI-SIGN"])
	}
	if len(h["X-BAPI-SIGN"]) != 64 {
		t.Errorf("signature length = %d, want 64 hex chars", len(h["X-BAPI-SIGN"]))
	}

	// Changing the payload must change the signature.
	other := auth.HeadersAt("category=linear&symbol=ETHUSDT", 1700000000000)
	if h["X-BAPI-SIGN"] == other["X-BAPI-SIGN"] {
		t.Error("different payloads produced identical signatures")
	}
}

func TestKuCoinHeadersAt(t *testing.T) {
	auth := &KuCoinAuth{Key: "kc-key", Secret: "kc-secret", Passphrase: "kc-pass"}

	h := auth.HeadersAt("GET", "/api/v1/position?symbol=XBTUSDTM", "", 1700000000000)

	if got := h["KC-API-KEY"]; got != "kc-key" {
		t.Errorf("api key header = %q, want %q", got, "kc-key")
	}
	if got := h["KC-API-KEY-VERSION"]; got != "2" {
		t.Errorf("key version header = %q, want %q", got, "2")
	}
	if h["KC-API-SIGN"] == "" {
		t.Error("empty signature")
	}
	// The passphrase header must be HMAC-signed, never the plaintext.
	if h["KC-API-PASSPHRASE"] == "kc-pass" {
		t.Error("passphrase header contains plaintext passphrase")
	}

	// Method is part of the signed message.
	post := auth.HeadersAt("POST", "/api/v1/position?symbol=XBTUSDTM", "", 1700000000000)
	if h["KC-API-SIGN"] == post["KC-API-SIGN"] {
		t.Error("different methods produced identical signatures")
	}
}

func TestAuthStringRedacted(t *testing.T) {
	tests := []struct {
		name   string
		s      string
		secret string
	}{
		{"bybit", (&BybitAuth{Key: "abcdef123456", Secret: "secret-value-here"}).String(), "secret-value-here"},
		{"kucoin", (&KuCoinAuth{Key: "abcdef123456", Secret: "secret-value-here", Passphrase: "p"}).String(), "secret-value-here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if strings.Contains(tt.s, tt.secret) {
				t.Errorf("String() leaked secret: %s", tt.s)
			}
		})
	}
}
