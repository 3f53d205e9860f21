package domain

import (
	"math/big"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/fd1az/pool-pricer/internal/asset"
)

var hundred = decimal.NewFromInt(100)

// PoolAnnotation is the liquidity ranking of one pool.
type PoolAnnotation struct {
	LiquidityUSD      decimal.Decimal `json:"liquidityUsd"`
	LiquidityRelative decimal.Decimal `json:"liquidityRelative"`
	Rank              int             `json:"rank"`
}

// AnnotatedPool is a pool with its ranking.
type AnnotatedPool struct {
	PoolEdge
	PoolAnnotation
	SymbolA string `json:"symbolA,omitempty"`
	SymbolB string `json:"symbolB,omitempty"`
}

// PoolLiquidityUSD is the geometric mean of both sides' USD value. It is zero
// when either token is unpriced or either reserve is zero.
func PoolLiquidityUSD(p PoolEdge, prices map[asset.ID]PriceResult, tokens TokenLookup) decimal.Decimal {
	usdA, okA := sideUSD(p.TokenA, p.ReserveA, prices, tokens)
	usdB, okB := sideUSD(p.TokenB, p.ReserveB, prices, tokens)
	if !okA || !okB {
		return decimal.Zero
	}
	return GeometricMean(usdA, usdB)
}

func sideUSD(t asset.ID, reserve *big.Int, prices map[asset.ID]PriceResult, tokens TokenLookup) (decimal.Decimal, bool) {
	pr, ok := prices[t]
	if !ok || tokens == nil {
		return decimal.Zero, false
	}
	tok, ok := tokens.Get(t)
	if !ok {
		return decimal.Zero, false
	}
	amt, err := asset.NewAmount(tok, reserve)
	if err != nil || !amt.IsPositive() {
		return decimal.Zero, false
	}
	return amt.ValueIn(pr.USDPrice), true
}

// RankLiquidity annotates every pool, zero-reserve ones included, and orders
// them by liquidity descending then PoolID. LiquidityRelative is the share of
// the run's largest pool on a 0-100 scale.
func RankLiquidity(pools []PoolEdge, prices map[asset.ID]PriceResult, tokens TokenLookup) []AnnotatedPool {
	out := make([]AnnotatedPool, len(pools))
	maxLiq := decimal.Zero
	for i, p := range pools {
		liq := PoolLiquidityUSD(p, prices, tokens)
		out[i] = AnnotatedPool{
			PoolEdge:       p,
			PoolAnnotation: PoolAnnotation{LiquidityUSD: liq, LiquidityRelative: decimal.Zero},
			SymbolA:        symbolOf(p.TokenA, tokens),
			SymbolB:        symbolOf(p.TokenB, tokens),
		}
		if liq.GreaterThan(maxLiq) {
			maxLiq = liq
		}
	}

	if maxLiq.IsPositive() {
		for i := range out {
			out[i].LiquidityRelative = hundred.Mul(out[i].LiquidityUSD).DivRound(maxLiq, 8)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].LiquidityUSD.Cmp(out[j].LiquidityUSD); c != 0 {
			return c > 0
		}
		return out[i].ID < out[j].ID
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func symbolOf(t asset.ID, tokens TokenLookup) string {
	if tokens == nil {
		return ""
	}
	if tok, ok := tokens.Get(t); ok {
		return tok.Symbol()
	}
	return ""
}
