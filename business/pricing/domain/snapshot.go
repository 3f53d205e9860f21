package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fd1az/pool-pricer/internal/asset"
)

// RunStats summarises one run.
type RunStats struct {
	Cycles         int           `json:"cycles"`
	Converged      bool          `json:"converged"`
	Estimates      int           `json:"estimates"`
	Accepted       int           `json:"accepted"`
	Discarded      int           `json:"discarded"`
	ThinEdges      int           `json:"thinEdges"`
	PoolsTotal     int           `json:"poolsTotal"`
	PoolsUsable    int           `json:"poolsUsable"`
	PoolsRejected  int           `json:"poolsRejected"`
	TokensPriced   int           `json:"tokensPriced"`
	TokensUnpriced int           `json:"tokensUnpriced"`
	BlockNumber    uint64        `json:"blockNumber,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// Snapshot is the complete, immutable result of one run. Consumers must not
// modify it; the coordinator publishes it by swapping a pointer.
type Snapshot struct {
	Version     uint64                   `json:"version"`
	ComputedAt  time.Time                `json:"computedAt"`
	BTCAnchor   asset.ID                 `json:"btcAnchor"`
	BTCPrice    decimal.Decimal          `json:"btcPrice"`
	Tokens      map[asset.ID]PriceResult `json:"tokens"`
	Pools       []AnnotatedPool          `json:"pools"`
	Unpriced    []asset.ID               `json:"unpriced"`
	Deviations  []AnchorDeviation        `json:"deviations,omitempty"`
	Diagnostics []Diagnostic             `json:"diagnostics,omitempty"`
	Stats       RunStats                 `json:"stats"`
}

// Assemble packages a finished run. Every result carries the same run
// timestamp and its price in BTC anchor units.
func Assemble(now time.Time, g *Graph, anchors *Anchors, run *RunResult, pools []AnnotatedPool) *Snapshot {
	btcPrice := anchors.BTCPrice()

	tokens := make(map[asset.ID]PriceResult, len(run.Prices))
	for id, pr := range run.Prices {
		pr.LastUpdated = now
		pr.SBTCRatio = quo(pr.USDPrice, btcPrice)
		if pr.Symbol == "" {
			if tok, ok := g.Token(id); ok {
				pr.Symbol = tok.Symbol()
			}
		}
		tokens[id] = pr
	}

	var unpriced []asset.ID
	for _, id := range g.Tokens() {
		if _, ok := tokens[id]; !ok {
			unpriced = append(unpriced, id)
		}
	}

	diags := g.Diagnostics()
	diags = append(diags, run.Diagnostics...)

	return &Snapshot{
		ComputedAt:  now,
		BTCAnchor:   anchors.BTCToken(),
		BTCPrice:    btcPrice,
		Tokens:      tokens,
		Pools:       pools,
		Unpriced:    unpriced,
		Deviations:  run.Deviations,
		Diagnostics: diags,
		Stats: RunStats{
			Cycles:         run.Cycles,
			Converged:      run.Converged,
			Estimates:      run.Estimates,
			Accepted:       run.Accepted,
			Discarded:      run.Discarded,
			ThinEdges:      run.ThinEdges,
			PoolsTotal:     len(g.edges) + g.RejectedCount(),
			PoolsUsable:    g.UsableCount(),
			PoolsRejected:  g.RejectedCount(),
			TokensPriced:   len(tokens),
			TokensUnpriced: len(unpriced),
		},
	}
}

// WithVersion returns a shallow copy carrying version v.
func (s *Snapshot) WithVersion(v uint64) *Snapshot {
	c := *s
	c.Version = v
	return &c
}

// Quote looks up a token. Unknown and unreachable tokens are Unpriced.
func (s *Snapshot) Quote(id asset.ID) Quote {
	if pr, ok := s.Tokens[id]; ok {
		return Priced{PriceResult: pr}
	}
	i := sort.Search(len(s.Unpriced), func(i int) bool { return s.Unpriced[i] >= id })
	if i < len(s.Unpriced) && s.Unpriced[i] == id {
		return Unpriced{Token: id, Reason: ReasonUnreachable}
	}
	return Unpriced{Token: id, Reason: ReasonUnknownToken}
}

// Age is the time elapsed since the snapshot was computed.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.ComputedAt)
}

// Priced returns the token results ordered by total liquidity descending,
// anchors first, then token id.
func (s *Snapshot) Priced() []PriceResult {
	out := make([]PriceResult, 0, len(s.Tokens))
	for _, pr := range s.Tokens {
		out = append(out, pr)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Anchor != b.Anchor {
			return a.Anchor
		}
		if c := a.TotalLiquidity.Cmp(b.TotalLiquidity); c != 0 {
			return c > 0
		}
		return a.TokenID < b.TokenID
	})
	return out
}
