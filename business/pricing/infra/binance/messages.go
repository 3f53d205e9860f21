// Package binance implements the BTC/USD oracle on top of Binance market data.
package binance

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// WSRequest is a stream control frame such as SUBSCRIBE.
type WSRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// combined wraps payloads delivered on /stream?streams=...
type combined struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// BookTicker is a best bid/ask update from <symbol>@bookTicker. The
// quantity fields must stay: encoding/json would otherwise match "B" and
// "A" case-insensitively onto the prices.
type BookTicker struct {
	Symbol string          `json:"s"`
	Bid    decimal.Decimal `json:"b"`
	BidQty decimal.Decimal `json:"B"`
	Ask    decimal.Decimal `json:"a"`
	AskQty decimal.Decimal `json:"A"`
}

// Mid is the midpoint of the best bid and ask.
func (b BookTicker) Mid() decimal.Decimal {
	return b.Bid.Add(b.Ask).Div(decimal.NewFromInt(2))
}

// TickerPrice is the /api/v3/ticker/price payload.
type TickerPrice struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

func bookTickerStream(symbol string) string {
	return strings.ToLower(symbol) + "@bookTicker"
}

// decodeBookTicker accepts raw and combined-stream payloads. ok is false for
// subscription acks, other event types and crossed or empty books.
func decodeBookTicker(raw []byte) (BookTicker, bool) {
	var wrapped combined
	if json.Unmarshal(raw, &wrapped) == nil && len(wrapped.Data) > 0 {
		raw = wrapped.Data
	}

	var bt BookTicker
	if err := json.Unmarshal(raw, &bt); err != nil || bt.Symbol == "" {
		return BookTicker{}, false
	}
	if !bt.Bid.IsPositive() || bt.Ask.LessThan(bt.Bid) {
		return BookTicker{}, false
	}
	return bt, true
}
