package app

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fd1az/pool-pricer/business/pricing/domain"
	"github.com/fd1az/pool-pricer/internal/apperror"
	"github.com/fd1az/pool-pricer/internal/asset"
	"github.com/fd1az/pool-pricer/internal/logger"
)

type stubSource struct {
	set *domain.PoolSet
	err error
}

func (s *stubSource) FetchPools(context.Context) (*domain.PoolSet, error) {
	return s.set, s.err
}

type stubOracle struct {
	price decimal.Decimal
	err   error
}

func (o *stubOracle) BTCPrice(context.Context) (decimal.Decimal, error) {
	return o.price, o.err
}

const (
	usdc asset.ID = "USDC"
	wbtc asset.ID = "WBTC"
	tkn  asset.ID = "TKN"
)

func sourceSet() *domain.PoolSet {
	reg := asset.NewRegistry()
	_ = reg.Register(asset.MustNew(wbtc, "WBTC", 8))
	_ = reg.Register(asset.MustNew(tkn, "TKN", 18))
	return &domain.PoolSet{
		Pools: []domain.PoolEdge{
			{
				ID:       "p1",
				TokenA:   usdc,
				TokenB:   tkn,
				ReserveA: big.NewInt(2_000_000_000),                            // 2000 USDC
				ReserveB: new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18)), // 1000 TKN
			},
			{
				ID:       "p2",
				TokenA:   wbtc,
				TokenB:   usdc,
				ReserveA: big.NewInt(100_000_000),
				ReserveB: big.NewInt(60_000_000_000),
			},
		},
		Tokens:      reg,
		BlockNumber: 99,
	}
}

func newService(t *testing.T, src PoolSource, oracle OracleProvider) *PricingService {
	t.Helper()
	engine, err := domain.NewEngine(domain.DefaultParams())
	require.NoError(t, err)

	configured := asset.NewRegistry()
	require.NoError(t, configured.Register(asset.MustNew(usdc, "USDC", 6)))

	svc, err := NewPricingService(src, oracle,
		engine,
		domain.AnchorConfig{Stablecoins: []asset.ID{usdc}, BTCAnchor: wbtc},
		configured,
		logger.NewDiscard(),
	)
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return svc
}

func TestPricingService_Compute(t *testing.T) {
	svc := newService(t, &stubSource{set: sourceSet()}, &stubOracle{price: decimal.NewFromInt(60000)})

	snap, err := svc.Compute(context.Background())
	require.NoError(t, err)

	priced, ok := snap.Quote(tkn).(domain.Priced)
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(2).Equal(priced.USDPrice), "got %s", priced.USDPrice)
	assert.Equal(t, uint64(99), snap.Stats.BlockNumber)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), snap.ComputedAt)
	assert.Len(t, snap.Deviations, 1)
}

func TestPricingService_Compute_Failures(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name     string
		source   PoolSource
		oracle   OracleProvider
		wantCode apperror.Code
	}{
		{
			name:     "oracle_down",
			source:   &stubSource{set: sourceSet()},
			oracle:   &stubOracle{err: boom},
			wantCode: apperror.CodeOracleUnavailable,
		},
		{
			name:     "source_down",
			source:   &stubSource{err: boom},
			oracle:   &stubOracle{price: decimal.NewFromInt(60000)},
			wantCode: apperror.CodePoolSourceFailed,
		},
		{
			name:     "source_returns_nil_set",
			source:   &stubSource{},
			oracle:   &stubOracle{price: decimal.NewFromInt(60000)},
			wantCode: apperror.CodePoolSourceFailed,
		},
		{
			name:     "oracle_returns_zero",
			source:   &stubSource{set: sourceSet()},
			oracle:   &stubOracle{price: decimal.Zero},
			wantCode: apperror.CodeConfigurationError,
		},
		{
			name:     "circuit_open_kept",
			source:   &stubSource{set: sourceSet()},
			oracle:   &stubOracle{err: apperror.New(apperror.CodeCircuitOpen)},
			wantCode: apperror.CodeCircuitOpen,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := newService(t, tt.source, tt.oracle).Compute(context.Background())
			assert.Nil(t, snap)
			assert.Equal(t, tt.wantCode, apperror.GetCode(err))
		})
	}
}

func TestPricingService_ConfiguredMetadataWins(t *testing.T) {
	set := sourceSet()
	// The source claims USDC has 18 decimals; the configured 6 must win.
	require.NoError(t, set.Tokens.Register(asset.MustNew(usdc, "USDC", 18)))

	svc := newService(t, &stubSource{set: set}, &stubOracle{price: decimal.NewFromInt(60000)})
	snap, err := svc.Compute(context.Background())
	require.NoError(t, err)

	priced, ok := snap.Quote(tkn).(domain.Priced)
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(2).Equal(priced.USDPrice))
}
