package domain

import (
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fd1az/pool-pricer/internal/asset"
)

const (
	usdc asset.ID = "USDC"
	sbtc asset.ID = "SBTC"
	tkn  asset.ID = "TKN"
	tkn2 asset.ID = "TKN2"
	tkn3 asset.ID = "TKN3"
	isl1 asset.ID = "ISL1"
	isl2 asset.ID = "ISL2"
)

var (
	btcPrice = decimal.NewFromInt(60000)
	runAt    = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
)

func testRegistry(t *testing.T) *asset.Registry {
	t.Helper()
	reg := asset.NewRegistry()
	for _, a := range []*asset.Asset{
		asset.MustNew(usdc, "USDC", 6),
		asset.MustNew(sbtc, "sBTC", 8),
		asset.MustNew(tkn, "TKN", 6),
		asset.MustNew(tkn2, "TKN2", 18),
		asset.MustNew(tkn3, "TKN3", 0),
		asset.MustNew(isl1, "ISL1", 18),
		asset.MustNew(isl2, "ISL2", 18),
	} {
		require.NoError(t, reg.Register(a))
	}
	return reg
}

func testAnchors() AnchorConfig {
	return AnchorConfig{Stablecoins: []asset.ID{usdc}, BTCAnchor: sbtc}
}

// units converts whole tokens into atomic units.
func units(whole string, decimals int32) *big.Int {
	return decimal.RequireFromString(whole).Shift(decimals).BigInt()
}

func pool(id string, a asset.ID, ra *big.Int, b asset.ID, rb *big.Int) PoolEdge {
	return PoolEdge{ID: PoolID(id), TokenA: a, TokenB: b, ReserveA: ra, ReserveB: rb, LastUpdated: runAt}
}

// scenarioPools: P1 sBTC/TKN prices TKN at $0.001, P2 TKN/TKN2 prices TKN2
// at $2 through TKN.
func scenarioPools() []PoolEdge {
	return []PoolEdge{
		pool("P1", sbtc, units("1", 8), tkn, units("60000000", 6)),
		pool("P2", tkn, units("1000000", 6), tkn2, units("500", 18)),
	}
}

// directPool joins TKN2 to USDC at $2.
func directPool() PoolEdge {
	return pool("P3", tkn2, units("1000", 18), usdc, units("2000", 6))
}

func testEngine(t *testing.T, mutate func(*Params), opts ...EngineOption) *Engine {
	t.Helper()
	p := DefaultParams()
	if mutate != nil {
		mutate(&p)
	}
	e, err := NewEngine(p, opts...)
	require.NoError(t, err)
	return e
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func mustDec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
