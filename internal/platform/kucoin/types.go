package kucoin

import (
	"encoding/json"
	"strconv"
)

// baseResponse is the envelope every KuCoin futures REST response uses.
// A code of "200000" means success.
type baseResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// orderCreateData is the data payload of POST /api/v1/orders.
type orderCreateData struct {
	OrderID string `json:"orderId"`
}

// positionData is the data payload of GET /api/v1/position.
// CurrentQty is in contracts and negative for short positions.
type positionData struct {
	Symbol        string  `json:"symbol"`
	CurrentQty    float64 `json:"currentQty"`
	AvgEntryPrice float64 `json:"avgEntryPrice"`
	UnrealisedPnl float64 `json:"unrealisedPnl"`
	IsOpen        bool    `json:"isOpen"`
}

// historyPositionsData is the data payload of GET /api/v1/history-positions.
type historyPositionsData struct {
	Items []historyPositionEntry `json:"items"`
}

type historyPositionEntry struct {
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"` // "LONG" or "SHORT"
	Pnl       float64 `json:"pnl"`
	CloseTime int64   `json:"closeTime"` // ms epoch
}

// accountOverviewData is the data payload of GET /api/v1/account-overview.
type accountOverviewData struct {
	Currency         string  `json:"currency"`
	AvailableBalance float64 `json:"availableBalance"`
}

// fundingRateData is the data payload of GET /api/v1/funding-rate/{symbol}/current.
type fundingRateData struct {
	Symbol string  `json:"symbol"`
	Value  float64 `json:"value"`
}

// level2Data is the data payload of GET /api/v1/level2/depth{20,100}.
// Levels are [price, contracts] number pairs.
type level2Data struct {
	Symbol string       `json:"symbol"`
	Bids   [][2]float64 `json:"bids"`
	Asks   [][2]float64 `json:"asks"`
}

// contractEntry is one element of GET /api/v1/contracts/active.
type contractEntry struct {
	Symbol     string  `json:"symbol"`
	Status     string  `json:"status"` // "Open" when tradable
	LotSize    float64 `json:"lotSize"`
	Multiplier float64 `json:"multiplier"`
	TickSize   float64 `json:"tickSize"`
}

// bulletData is the data payload of POST /api/v1/bullet-public.
type bulletData struct {
	Token           string `json:"token"`
	InstanceServers []struct {
		Endpoint     string `json:"endpoint"`
		PingInterval int64  `json:"pingInterval"` // ms
		PingTimeout  int64  `json:"pingTimeout"`  // ms
	} `json:"instanceServers"`
}

// wsEnvelope is the outer shape of every WebSocket frame.
type wsEnvelope struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"` // welcome, ack, pong, message
	Topic   string          `json:"topic,omitempty"`
	Subject string          `json:"subject,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// wsTickerData is the tickerV2 payload; prices arrive as decimal strings.
type wsTickerData struct {
	Symbol       string `json:"symbol"`
	BestBidPrice string `json:"bestBidPrice"`
	BestAskPrice string `json:"bestAskPrice"`
	Ts           int64  `json:"ts"`
}

// wsCommand is an outbound frame (subscribe, ping).
type wsCommand struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Topic    string `json:"topic,omitempty"`
	Response bool   `json:"response,omitempty"`
}

// toFloat parses a KuCoin decimal string, returning 0 for empty or
// malformed values.
func toFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
