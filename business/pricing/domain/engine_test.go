package domain

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fd1az/pool-pricer/internal/apperror"
	"github.com/fd1az/pool-pricer/internal/asset"
)

func runEngine(t *testing.T, e *Engine, pools []PoolEdge) *RunResult {
	t.Helper()
	anchors, err := SeedAnchors(testAnchors(), btcPrice)
	require.NoError(t, err)
	res, err := e.Run(context.Background(), BuildGraph(pools, testRegistry(t)), anchors)
	require.NoError(t, err)
	return res
}

func TestEngine_TwoHopScenario(t *testing.T) {
	res := runEngine(t, testEngine(t, nil), scenarioPools())

	got := res.Prices[tkn]
	requireDecimal(t, "0.001", got.USDPrice)
	assert.InDelta(t, 0.85, got.Confidence, 1e-12)
	assert.Equal(t, 1, got.HopCount)
	assert.Equal(t, 1, got.PathsUsed)
	assert.Equal(t, 1, got.Cycle)

	got = res.Prices[tkn2]
	requireDecimal(t, "2", got.USDPrice)
	assert.InDelta(t, 0.85*0.85, got.Confidence, 1e-12)
	assert.Equal(t, 2, got.HopCount)
	assert.Equal(t, 1, got.PathsUsed)
	require.Len(t, got.Paths, 1)
	assert.Equal(t, PoolID("P2"), got.Paths[0].PoolID)
	assert.Equal(t, tkn, got.Paths[0].Via)

	assert.True(t, res.Converged)
	assert.Equal(t, 3, res.Cycles)
}

func TestEngine_PrefersDirectAnchorPath(t *testing.T) {
	res := runEngine(t, testEngine(t, nil), append(scenarioPools(), directPool()))

	got := res.Prices[tkn2]
	requireDecimal(t, "2", got.USDPrice)
	assert.InDelta(t, 0.85, got.Confidence, 1e-12)
	assert.Equal(t, 1, got.HopCount)
	require.Len(t, got.Paths, 1)
	assert.Equal(t, PoolID("P3"), got.Paths[0].PoolID)
	assert.Equal(t, usdc, got.Paths[0].Via)
}

func TestEngine_AnchorsAreInvariant(t *testing.T) {
	pools := append(scenarioPools(),
		// sBTC at 50k against USDC: an off-market cross pool.
		pool("X1", sbtc, units("2", 8), usdc, units("100000", 6)),
		pool("X2", tkn, units("1000", 6), usdc, units("5", 6)),
	)
	res := runEngine(t, testEngine(t, nil), pools)

	for id, want := range map[asset.ID]string{usdc: "1", sbtc: "60000"} {
		got := res.Prices[id]
		requireDecimal(t, want, got.USDPrice)
		assert.Equal(t, 1.0, got.Confidence)
		assert.Equal(t, 0, got.HopCount)
		assert.True(t, got.Anchor)
	}

	require.Len(t, res.Deviations, 1)
	dev := res.Deviations[0]
	assert.Equal(t, PoolID("X1"), dev.PoolID)
	assert.Equal(t, sbtc, dev.Base)
	assert.Equal(t, usdc, dev.Quoted)
	requireDecimal(t, "1.2", dev.Implied)
	assert.Equal(t, DeviationPremium, dev.Direction)

	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, apperror.CodeAnchorDeviation, res.Diagnostics[0].Code)
}

func TestEngine_DecimalNormalisation(t *testing.T) {
	tests := []struct {
		name string
		pool PoolEdge
		tok  asset.ID
		want string
	}{
		{
			name: "6_vs_8_decimals",
			pool: pool("p", usdc, units("30000", 6), sbtc, units("0.5", 8)),
			tok:  sbtc,
		},
		{
			name: "8_vs_6_decimals",
			pool: pool("p", sbtc, units("0.25", 8), tkn, units("3000", 6)),
			tok:  tkn,
			want: "5",
		},
		{
			name: "6_vs_18_decimals",
			pool: pool("p", usdc, units("1500", 6), tkn2, units("0.75", 18)),
			tok:  tkn2,
			want: "2000",
		},
		{
			name: "6_vs_0_decimals",
			pool: pool("p", usdc, units("7", 6), tkn3, units("4", 0)),
			tok:  tkn3,
			want: "1.75",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runEngine(t, testEngine(t, nil), []PoolEdge{tt.pool})
			if tt.tok == sbtc {
				// anchors are never repriced; the pool only cross-checks
				requireDecimal(t, "60000", res.Prices[sbtc].USDPrice)
				require.Len(t, res.Deviations, 1)
				requireDecimal(t, "60000", res.Deviations[0].Implied)
				return
			}
			requireDecimal(t, tt.want, res.Prices[tt.tok].USDPrice)
		})
	}
}

func TestImpliedPrice(t *testing.T) {
	// 2 units near at $3 against 4 units far => far is worth $1.5.
	requireDecimal(t, "1.5", ImpliedPrice(
		mustDec("3"), mustDec("2"), mustDec("4")))
	requireDecimal(t, "0", ImpliedPrice(mustDec("3"), mustDec("2"), mustDec("0")))
}

func TestImpliedPrice_KeepsTinyQuotients(t *testing.T) {
	requireDecimal(t, "1e-30", ImpliedPrice(mustDec("1"), mustDec("1"), mustDec("1e30")))
	requireDecimal(t, "2.5e-41", ImpliedPrice(mustDec("0.5"), mustDec("5e-6"), mustDec("1e35")))
}

func TestGeometricMean(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want string
	}{
		{name: "square", a: "4", b: "9", want: "6"},
		{name: "fraction", a: "0.25", b: "0.01", want: "0.05"},
		{name: "beyond_float64", a: "1e400", b: "1e400", want: "1e400"},
		{name: "below_float64", a: "1e-200", b: "1e-200", want: "1e-200"},
		{name: "mixed_magnitudes", a: "1e300", b: "1e-100", want: "1e100"},
		{name: "zero", a: "0", b: "5", want: "0"},
		{name: "negative", a: "-4", b: "9", want: "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireDecimal(t, tt.want, GeometricMean(mustDec(tt.a), mustDec(tt.b)))
		})
	}
}

func TestEngine_ExtremeReserves(t *testing.T) {
	uint112 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 112), big.NewInt(1))
	one := big.NewInt(1)

	tests := []struct {
		name string
		pool PoolEdge
		tok  asset.ID
		want string
	}{
		{
			name: "dust_both_sides",
			pool: pool("p", usdc, one, tkn2, one),
			tok:  tkn2,
			want: "1e12",
		},
		{
			name: "dust_zero_decimals",
			pool: pool("p", usdc, one, tkn3, one),
			tok:  tkn3,
			want: "0.000001",
		},
		{
			name: "max_reserves_both_sides",
			pool: pool("p", usdc, uint112, tkn2, uint112),
			tok:  tkn2,
			want: "1e12",
		},
		{
			name: "tiny_implied_price",
			pool: pool("p", usdc, units("1", 6), tkn3, units("1e30", 0)),
			tok:  tkn3,
			want: "1e-30",
		},
		{
			name: "huge_implied_price",
			pool: pool("p", usdc, uint112, tkn2, one),
			tok:  tkn2,
			want: decimal.NewFromBigInt(uint112, 12).String(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runEngine(t, testEngine(t, nil), []PoolEdge{tt.pool})
			got, ok := res.Prices[tt.tok]
			require.True(t, ok, "%s must be priced", tt.tok)
			assert.True(t, got.USDPrice.IsPositive())
			requireDecimal(t, tt.want, got.USDPrice)
		})
	}
}

func TestEngine_DeepChainOfLopsidedPools(t *testing.T) {
	reg := testRegistry(t)
	near := new(big.Int).Lsh(big.NewInt(1), 111)
	one := big.NewInt(1)

	var pools []PoolEdge
	prev := usdc
	var chain []asset.ID
	for i := 1; i <= 7; i++ {
		id := asset.ID(fmt.Sprintf("A%d", i))
		require.NoError(t, reg.Register(asset.MustNew(id, string(id), 18)))
		pools = append(pools, pool(fmt.Sprintf("hop%d", i), prev, near, id, one))
		chain = append(chain, id)
		prev = id
	}

	anchors, err := SeedAnchors(testAnchors(), btcPrice)
	require.NoError(t, err)
	res, err := testEngine(t, nil).Run(context.Background(), BuildGraph(pools, reg), anchors)
	require.NoError(t, err)

	last := decimal.NewFromInt(1)
	for i, id := range chain {
		got, ok := res.Prices[id]
		require.True(t, ok, "%s must be priced", id)
		assert.Equal(t, i+1, got.HopCount)
		assert.True(t, got.USDPrice.GreaterThan(last), "%s at %s not above %s", id, got.USDPrice, last)
		assert.True(t, got.TotalLiquidity.IsPositive())
		last = got.USDPrice
	}

	ranked := RankLiquidity(pools, res.Prices, reg)
	require.Len(t, ranked, len(pools))
	for _, r := range ranked {
		assert.True(t, r.LiquidityUSD.IsPositive(), "%s liquidity %s", r.ID, r.LiquidityUSD)
	}
}

func TestEngine_UnreachableTokensStayUnpriced(t *testing.T) {
	pools := append(scenarioPools(), pool("island", isl1, units("10", 18), isl2, units("20", 18)))
	res := runEngine(t, testEngine(t, nil), pools)

	for _, id := range []asset.ID{isl1, isl2} {
		_, ok := res.Prices[id]
		assert.False(t, ok, "%s must not be priced", id)
	}
	for _, pr := range res.Prices {
		assert.True(t, pr.USDPrice.IsPositive(), "%s priced at %s", pr.TokenID, pr.USDPrice)
	}
}

func TestEngine_LiquidityWeightedMerge(t *testing.T) {
	pools := []PoolEdge{
		pool("thin", usdc, units("1000", 6), tkn, units("1000", 6)),
		pool("deep", usdc, units("3000", 6), tkn, units("1000", 6)),
	}
	res := runEngine(t, testEngine(t, nil), pools)

	got := res.Prices[tkn]
	// (1 * 1000 + 3 * 3000) / 4000
	requireDecimal(t, "2.5", got.USDPrice)
	requireDecimal(t, "4000", got.TotalLiquidity)
	assert.Equal(t, 2, got.PathsUsed)
	assert.InDelta(t, 0.85, got.Confidence, 1e-12)
	assert.Equal(t, 1, got.HopCount)
}

func TestEngine_MinLiquidityThreshold(t *testing.T) {
	pools := []PoolEdge{
		pool("thin", usdc, units("1000", 6), tkn, units("1000", 6)),
		pool("deep", usdc, units("3000", 6), tkn, units("1000", 6)),
	}
	e := testEngine(t, func(p *Params) { p.MinLiquidityUSD = mustDec("2000") })
	res := runEngine(t, e, pools)

	got := res.Prices[tkn]
	requireDecimal(t, "3", got.USDPrice)
	assert.Equal(t, 1, got.PathsUsed)
	assert.Positive(t, res.ThinEdges)
}

func TestEngine_MonotonicConfidence(t *testing.T) {
	var events []string
	best := map[asset.ID]float64{}
	obs := ObserverFunc(func(cycle int, prev *PriceResult, next PriceResult) {
		if prev != nil {
			assert.GreaterOrEqual(t, next.Confidence, prev.Confidence, "cycle %d token %s", cycle, next.TokenID)
		}
		assert.GreaterOrEqual(t, next.Confidence, best[next.TokenID])
		best[next.TokenID] = next.Confidence
		events = append(events, fmt.Sprintf("%d:%s", cycle, next.TokenID))
	})

	pools := append(scenarioPools(), directPool(),
		pool("P4", tkn2, units("10", 18), tkn3, units("5", 0)),
		pool("P5", tkn3, units("5", 0), tkn, units("20000", 6)),
		pool("P6", usdc, units("50", 6), tkn3, units("10", 0)),
	)
	e := testEngine(t, func(p *Params) { p.Workers = 3 }, WithObserver(obs))
	res := runEngine(t, e, pools)

	assert.NotEmpty(t, events)
	for id, pr := range res.Prices {
		if !pr.Anchor {
			assert.Equal(t, best[id], pr.Confidence)
		}
	}
}

func TestEngine_TerminatesOnCyclicGraph(t *testing.T) {
	// TKN -> TKN2 -> TKN3 -> TKN loop hanging off USDC with inconsistent
	// ratios, so any echo would keep moving prices.
	pools := []PoolEdge{
		pool("a", usdc, units("100", 6), tkn, units("100", 6)),
		pool("b", tkn, units("100", 6), tkn2, units("50", 18)),
		pool("c", tkn2, units("10", 18), tkn3, units("7", 0)),
		pool("d", tkn3, units("3", 0), tkn, units("11", 6)),
	}
	e := testEngine(t, func(p *Params) { p.MaxCycles = 5 })

	first := runEngine(t, e, pools)
	assert.LessOrEqual(t, first.Cycles, 5)
	assert.True(t, first.Converged)

	second := runEngine(t, e, pools)
	require.Len(t, second.Prices, len(first.Prices))
	for id, pr := range first.Prices {
		assert.True(t, pr.USDPrice.Equal(second.Prices[id].USDPrice), "%s unstable", id)
		assert.Equal(t, pr.Confidence, second.Prices[id].Confidence)
	}
}

func TestEngine_MaxCyclesBound(t *testing.T) {
	pools := []PoolEdge{
		pool("a", usdc, units("100", 6), tkn, units("100", 6)),
		pool("b", tkn, units("100", 6), tkn2, units("50", 18)),
		pool("c", tkn2, units("10", 18), tkn3, units("7", 0)),
	}
	res := runEngine(t, testEngine(t, func(p *Params) { p.MaxCycles = 1 }), pools)

	assert.Equal(t, 1, res.Cycles)
	assert.False(t, res.Converged)
	assert.Contains(t, res.Prices, tkn)
	assert.NotContains(t, res.Prices, tkn2)
	assert.NotContains(t, res.Prices, tkn3)
}

func TestEngine_DeterministicAcrossWorkerCounts(t *testing.T) {
	pools := append(scenarioPools(), directPool(),
		pool("P4", tkn2, units("10", 18), tkn3, units("5", 0)),
		pool("P5", tkn3, units("5", 0), tkn, units("20000", 6)),
		pool("P6", usdc, units("50", 6), tkn3, units("10", 0)),
		pool("P7", usdc, units("51", 6), tkn3, units("10", 0)),
	)
	base := runEngine(t, testEngine(t, func(p *Params) { p.Workers = 1 }), pools)
	for _, w := range []int{2, 4, 16} {
		got := runEngine(t, testEngine(t, func(p *Params) { p.Workers = w }), pools)
		for id, pr := range base.Prices {
			assert.True(t, pr.USDPrice.Equal(got.Prices[id].USDPrice), "workers=%d token=%s", w, id)
			assert.Equal(t, pr.Paths, got.Prices[id].Paths)
		}
	}
}

func TestEngine_ContextErrors(t *testing.T) {
	anchors, err := SeedAnchors(testAnchors(), btcPrice)
	require.NoError(t, err)
	g := BuildGraph(scenarioPools(), testRegistry(t))
	e := testEngine(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Run(ctx, g, anchors)
	assert.True(t, apperror.IsCode(err, apperror.CodeRunFailed))

	ctx, cancel = context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, err = e.Run(ctx, g, anchors)
	assert.True(t, apperror.IsCode(err, apperror.CodeRunTimeout))
	assert.Equal(t, apperror.KindRunFailure, apperror.GetKind(err))
}

func TestEngine_Improves(t *testing.T) {
	e := testEngine(t, nil)
	cur := PriceResult{Confidence: 0.85, PathsUsed: 2, HopCount: 2}

	tests := []struct {
		name string
		cand PriceResult
		want bool
	}{
		{"higher_confidence", PriceResult{Confidence: 0.9, PathsUsed: 1, HopCount: 3}, true},
		{"lower_confidence_more_paths", PriceResult{Confidence: 0.7, PathsUsed: 9, HopCount: 1}, false},
		{"tie_more_paths", PriceResult{Confidence: 0.85, PathsUsed: 3, HopCount: 2}, true},
		{"tie_fewer_paths", PriceResult{Confidence: 0.85, PathsUsed: 1, HopCount: 1}, false},
		{"tie_fewer_hops", PriceResult{Confidence: 0.85, PathsUsed: 2, HopCount: 1}, true},
		{"identical", cur, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.improves(tt.cand, cur))
		})
	}
}

func TestNewEngine_RejectsBadParams(t *testing.T) {
	for name, mutate := range map[string]func(*Params){
		"zero_cycles":  func(p *Params) { p.MaxCycles = 0 },
		"decay_one":    func(p *Params) { p.Decay = 1 },
		"decay_zero":   func(p *Params) { p.Decay = 0 },
		"negative_liq": func(p *Params) { p.MinLiquidityUSD = mustDec("-1") },
		"negative_eps": func(p *Params) { p.ConfidenceEpsilon = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			p := DefaultParams()
			mutate(&p)
			_, err := NewEngine(p)
			assert.True(t, apperror.IsCode(err, apperror.CodeConfigurationError))
		})
	}

	p := DefaultParams()
	p.Workers = 0
	e, err := NewEngine(p)
	require.NoError(t, err)
	assert.Positive(t, e.Params().Workers)
}
