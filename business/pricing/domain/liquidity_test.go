package domain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fd1az/pool-pricer/internal/asset"
)

func priceTable(entries map[asset.ID]string) map[asset.ID]PriceResult {
	out := make(map[asset.ID]PriceResult, len(entries))
	for id, p := range entries {
		out[id] = PriceResult{TokenID: id, USDPrice: mustDec(p)}
	}
	return out
}

func TestPoolLiquidityUSD(t *testing.T) {
	reg := testRegistry(t)
	prices := priceTable(map[asset.ID]string{usdc: "1", sbtc: "60000", tkn: "0.5"})

	tests := []struct {
		name string
		pool PoolEdge
		want string
	}{
		{
			name: "balanced",
			pool: pool("p", usdc, units("60000", 6), sbtc, units("1", 8)),
			want: "60000",
		},
		{
			name: "imbalanced_geometric_mean",
			// $400 vs $100 => sqrt(40000)
			pool: pool("p", usdc, units("400", 6), tkn, units("200", 6)),
			want: "200",
		},
		{
			name: "unpriced_side",
			pool: pool("p", usdc, units("400", 6), tkn2, units("200", 18)),
			want: "0",
		},
		{
			name: "zero_reserve",
			pool: pool("p", usdc, big.NewInt(0), tkn, units("200", 6)),
			want: "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireDecimal(t, tt.want, PoolLiquidityUSD(tt.pool, prices, reg))
		})
	}
}

func TestPoolLiquidityUSD_Symmetric(t *testing.T) {
	reg := testRegistry(t)
	prices := priceTable(map[asset.ID]string{usdc: "1", sbtc: "60000", tkn: "0.0017", tkn2: "3.3"})

	pools := []PoolEdge{
		pool("a", usdc, units("12345.678901", 6), sbtc, units("0.12345678", 8)),
		pool("b", tkn, units("987654.321", 6), tkn2, units("17.000000000000000123", 18)),
		pool("c", sbtc, units("3", 8), tkn2, units("1", 18)),
	}
	for _, p := range pools {
		fwd := PoolLiquidityUSD(p, prices, reg)
		rev := PoolLiquidityUSD(p.Swapped(), prices, reg)
		assert.Truef(t, fwd.Equal(rev), "%s: %s != %s", p.ID, fwd, rev)
	}
}

func TestRankLiquidity(t *testing.T) {
	reg := testRegistry(t)
	prices := priceTable(map[asset.ID]string{usdc: "1", tkn: "1"})

	ranked := RankLiquidity([]PoolEdge{
		pool("small", usdc, units("100", 6), tkn, units("100", 6)),
		pool("big", usdc, units("400", 6), tkn, units("400", 6)),
		pool("empty", usdc, big.NewInt(0), tkn, units("1", 6)),
		pool("unpriced", usdc, units("100", 6), tkn2, units("1", 18)),
		pool("also-small", usdc, units("100", 6), tkn, units("100", 6)),
	}, prices, reg)

	require.Len(t, ranked, 5)
	ids := make([]PoolID, len(ranked))
	for i, p := range ranked {
		ids[i] = p.ID
		assert.Equal(t, i+1, p.Rank)
	}
	assert.Equal(t, []PoolID{"big", "also-small", "small", "empty", "unpriced"}, ids)

	requireDecimal(t, "100", ranked[0].LiquidityRelative)
	requireDecimal(t, "25", ranked[1].LiquidityRelative)
	requireDecimal(t, "0", ranked[3].LiquidityUSD)
	requireDecimal(t, "0", ranked[3].LiquidityRelative)
	assert.Equal(t, "USDC", ranked[0].SymbolA)
	assert.Equal(t, "TKN", ranked[0].SymbolB)
}

func TestRankLiquidity_AllZero(t *testing.T) {
	reg := testRegistry(t)
	ranked := RankLiquidity([]PoolEdge{
		pool("x", isl1, units("1", 18), isl2, units("1", 18)),
	}, map[asset.ID]PriceResult{}, reg)

	require.Len(t, ranked, 1)
	requireDecimal(t, "0", ranked[0].LiquidityRelative)
}
