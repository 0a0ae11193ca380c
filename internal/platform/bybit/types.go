package bybit

import (
	"encoding/json"
	"strconv"
)

// baseResponse is the envelope every Bybit v5 REST response uses.
type baseResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// orderCreateResult is the result payload of POST /v5/order/create.
type orderCreateResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// positionList is the result payload of GET /v5/position/list.
type positionList struct {
	List []positionEntry `json:"list"`
}

type positionEntry struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"` // "Buy", "Sell", or "" when flat
	Size          string `json:"size"`
	AvgPrice      string `json:"avgPrice"`
	UnrealisedPnl string `json:"unrealisedPnl"`
}

// closedPnlList is the result payload of GET /v5/position/closed-pnl.
type closedPnlList struct {
	List []closedPnlEntry `json:"list"`
}

type closedPnlEntry struct {
	Symbol      string `json:"symbol"`
	Side        string `json:"side"` // side of the CLOSING order
	ClosedPnl   string `json:"closedPnl"`
	UpdatedTime string `json:"updatedTime"` // ms epoch as string
}

// walletBalanceList is the result payload of GET /v5/account/wallet-balance.
type walletBalanceList struct {
	List []walletAccount `json:"list"`
}

type walletAccount struct {
	AccountType           string `json:"accountType"`
	TotalAvailableBalance string `json:"totalAvailableBalance"`
}

// tickersList is the result payload of GET /v5/market/tickers.
type tickersList struct {
	List []tickerEntry `json:"list"`
}

type tickerEntry struct {
	Symbol      string `json:"symbol"`
	Bid1Price   string `json:"bid1Price"`
	Ask1Price   string `json:"ask1Price"`
	FundingRate string `json:"fundingRate"`
}

// orderbookResult is the result payload of GET /v5/market/orderbook.
// Levels are [price, qty] string pairs, bids descending and asks ascending.
type orderbookResult struct {
	Symbol string      `json:"s"`
	Bids   [][2]string `json:"b"`
	Asks   [][2]string `json:"a"`
}

// instrumentsResult is the result payload of GET /v5/market/instruments-info.
type instrumentsResult struct {
	List           []instrumentEntry `json:"list"`
	NextPageCursor string            `json:"nextPageCursor"`
}

type instrumentEntry struct {
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	LotSizeFilter struct {
		MinOrderQty string `json:"minOrderQty"`
		QtyStep     string `json:"qtyStep"`
	} `json:"lotSizeFilter"`
	PriceFilter struct {
		TickSize string `json:"tickSize"`
	} `json:"priceFilter"`
}

// wsTickerMessage is a tickers.{symbol} push on the public linear stream.
// Delta frames omit fields that did not change, so zero values mean
// "unchanged", not "zero".
type wsTickerMessage struct {
	Topic string `json:"topic"`
	Type  string `json:"type"` // "snapshot" or "delta"
	Data  struct {
		Symbol    string `json:"symbol"`
		Bid1Price string `json:"bid1Price"`
		Ask1Price string `json:"ask1Price"`
	} `json:"data"`
}

// wsOpMessage is an operation acknowledgement (subscribe, pong).
type wsOpMessage struct {
	Op      string `json:"op"`
	Success bool   `json:"success"`
	RetMsg  string `json:"ret_msg"`
}

// toFloat parses a Bybit decimal string, returning 0 for empty or malformed
// values. Bybit omits fields it considers not applicable.
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
