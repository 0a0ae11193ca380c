package kucoin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/crypto"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
)

func testAuth() *crypto.KuCoinAuth {
	return &crypto.KuCoinAuth{Key: "k", Secret: "s", Passphrase: "p"}
}

func orderServer(t *testing.T, captured *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/orders" {
			t.Errorf("path = %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, captured); err != nil {
			t.Errorf("decode order body: %v", err)
		}
		w.Write([]byte(`{"code":"200000","data":{"orderId":"o-1"}}`))
	}))
}

func TestPlaceMarketOrderSendsConfiguredLeverage(t *testing.T) {
	var req map[string]any
	srv := orderServer(t, &req)
	defer srv.Close()

	c := NewClient(srv.URL, testAuth())
	c.SetLeverage(5)

	res, err := c.PlaceMarketOrder(context.Background(), "XBTUSDTM", domain.SideBuy, 10, false)
	if err != nil {
		t.Fatalf("PlaceMarketOrder: %v", err)
	}
	if res.OrderID != "o-1" {
		t.Errorf("order id = %s", res.OrderID)
	}
	if got := req["leverage"]; got != "5" {
		t.Errorf("leverage = %v, want \"5\"", got)
	}
	if _, ok := req["reduceOnly"]; ok {
		t.Error("entry order must not be reduce-only")
	}
}

func TestPlaceMarketOrderReduceOnlyOmitsLeverage(t *testing.T) {
	var req map[string]any
	srv := orderServer(t, &req)
	defer srv.Close()

	c := NewClient(srv.URL, testAuth())
	c.SetLeverage(5)

	if _, err := c.PlaceMarketOrder(context.Background(), "XBTUSDTM", domain.SideSell, 10, true); err != nil {
		t.Fatalf("PlaceMarketOrder: %v", err)
	}
	if _, ok := req["leverage"]; ok {
		t.Error("reduce-only close must not send leverage")
	}
	if got := req["reduceOnly"]; got != true {
		t.Errorf("reduceOnly = %v, want true", got)
	}
}

func TestPlaceMarketOrderRejectsSubContractSize(t *testing.T) {
	c := NewClient("http://unused", testAuth())

	_, err := c.PlaceMarketOrder(context.Background(), "XBTUSDTM", domain.SideBuy, 0.4, false)
	if err == nil {
		t.Fatal("expected rejection for size below one contract")
	}
}
