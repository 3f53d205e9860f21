package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Input is everything one run consumes.
type Input struct {
	Pools       []PoolEdge
	Tokens      TokenLookup
	Anchors     AnchorConfig
	BTCPrice    decimal.Decimal
	BlockNumber uint64
	Now         time.Time
}

// Price runs the full pipeline: seed anchors, build the graph, propagate,
// rank pools and assemble the snapshot. Configuration errors abort before
// any cycle runs; on any error no snapshot is returned.
func (e *Engine) Price(ctx context.Context, in Input) (*Snapshot, error) {
	anchors, err := SeedAnchors(in.Anchors, in.BTCPrice)
	if err != nil {
		return nil, err
	}

	g := BuildGraph(in.Pools, in.Tokens)

	run, err := e.Run(ctx, g, anchors)
	if err != nil {
		return nil, err
	}

	pools := RankLiquidity(g.Pools(), run.Prices, in.Tokens)

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	snap := Assemble(now, g, anchors, run, pools)
	snap.Stats.BlockNumber = in.BlockNumber
	return snap, nil
}
