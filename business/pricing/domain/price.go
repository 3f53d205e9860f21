package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fd1az/pool-pricer/internal/asset"
)

// PriceEstimate is a single edge-derived USD estimate for a token.
type PriceEstimate struct {
	Target       asset.ID
	USDPrice     decimal.Decimal
	Confidence   float64
	HopCount     int
	SourcePoolID PoolID
	ViaToken     asset.ID
	Liquidity    decimal.Decimal
}

// PathRef names one edge that contributed to a PriceResult.
type PathRef struct {
	PoolID    PoolID          `json:"poolId"`
	Via       asset.ID        `json:"via"`
	USDPrice  decimal.Decimal `json:"usdPrice"`
	Liquidity decimal.Decimal `json:"liquidity"`
}

// PriceResult is the merged price of one token.
type PriceResult struct {
	TokenID        asset.ID        `json:"tokenId"`
	Symbol         string          `json:"symbol,omitempty"`
	USDPrice       decimal.Decimal `json:"usdPrice"`
	SBTCRatio      decimal.Decimal `json:"sbtcRatio"`
	Confidence     float64         `json:"confidence"`
	HopCount       int             `json:"hopCount"`
	PathsUsed      int             `json:"pathsUsed"`
	TotalLiquidity decimal.Decimal `json:"totalLiquidity"`
	LastUpdated    time.Time       `json:"lastUpdated"`
	Anchor         bool            `json:"anchor"`
	Cycle          int             `json:"cycle"`
	Paths          []PathRef       `json:"paths,omitempty"`
}

// UnpricedReason explains why a token has no price.
type UnpricedReason string

const (
	// ReasonUnreachable: no usable path from any anchor within the cycle cap.
	ReasonUnreachable UnpricedReason = "unreachable"
	// ReasonUnknownToken: the token never appeared in an accepted pool.
	ReasonUnknownToken UnpricedReason = "unknown_token"
)

// Quote is the outcome of a price lookup: either Priced or Unpriced.
type Quote interface {
	isQuote()
}

// Priced carries a computed price.
type Priced struct {
	PriceResult
}

// Unpriced marks a token with no price available. It is never a zero price.
type Unpriced struct {
	Token  asset.ID
	Reason UnpricedReason
}

func (Priced) isQuote()   {}
func (Unpriced) isQuote() {}
