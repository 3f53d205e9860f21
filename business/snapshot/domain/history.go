// Package domain holds the persisted shapes of published snapshots.
package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	pricing "github.com/fd1az/pool-pricer/business/pricing/domain"
	"github.com/fd1az/pool-pricer/internal/asset"
)

// PricePoint is one token's price as published by one run.
type PricePoint struct {
	Version        uint64
	ComputedAt     time.Time
	BlockNumber    uint64
	TokenID        asset.ID
	Symbol         string
	USDPrice       decimal.Decimal
	SBTCRatio      decimal.Decimal
	Confidence     float64
	HopCount       int
	PathsUsed      int
	TotalLiquidity decimal.Decimal
	Anchor         bool
}

// PointsFrom flattens a snapshot into one point per priced token, ordered by
// token id.
func PointsFrom(snap *pricing.Snapshot) []PricePoint {
	if snap == nil {
		return nil
	}
	out := make([]PricePoint, 0, len(snap.Tokens))
	for _, pr := range snap.Tokens {
		out = append(out, PricePoint{
			Version:        snap.Version,
			ComputedAt:     snap.ComputedAt,
			BlockNumber:    snap.Stats.BlockNumber,
			TokenID:        pr.TokenID,
			Symbol:         pr.Symbol,
			USDPrice:       pr.USDPrice,
			SBTCRatio:      pr.SBTCRatio,
			Confidence:     pr.Confidence,
			HopCount:       pr.HopCount,
			PathsUsed:      pr.PathsUsed,
			TotalLiquidity: pr.TotalLiquidity,
			Anchor:         pr.Anchor,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out
}

// RefreshReason records what started a run.
type RefreshReason string

const (
	ReasonStartup  RefreshReason = "startup"
	ReasonInterval RefreshReason = "interval"
	ReasonBlock    RefreshReason = "block"
	ReasonManual   RefreshReason = "manual"
)

// Status describes the coordinator's published state.
type Status struct {
	Version     uint64
	ComputedAt  time.Time
	Age         time.Duration
	LastAttempt time.Time
	LastError   string
	Refreshes   int64
	Failures    int64
}
