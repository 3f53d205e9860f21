package domain

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fd1az/pool-pricer/internal/apperror"
	"github.com/fd1az/pool-pricer/internal/asset"
)

func scenarioInput(t *testing.T) Input {
	return Input{
		Pools: append(scenarioPools(),
			directPool(),
			pool("island", isl1, units("10", 18), isl2, units("20", 18)),
			pool("bad", tkn, units("1", 6), tkn, units("1", 6)),
		),
		Tokens:      testRegistry(t),
		Anchors:     testAnchors(),
		BTCPrice:    btcPrice,
		BlockNumber: 42,
		Now:         runAt,
	}
}

func TestEngine_Price(t *testing.T) {
	snap, err := testEngine(t, nil).Price(context.Background(), scenarioInput(t))
	require.NoError(t, err)

	assert.Equal(t, runAt, snap.ComputedAt)
	assert.Equal(t, sbtc, snap.BTCAnchor)
	requireDecimal(t, "60000", snap.BTCPrice)

	require.Len(t, snap.Tokens, 4)
	for _, pr := range snap.Tokens {
		assert.Equal(t, runAt, pr.LastUpdated)
	}
	requireDecimal(t, "1", snap.Tokens[sbtc].SBTCRatio)
	requireDecimal(t, "0.0000333333333333333333333333", snap.Tokens[tkn2].SBTCRatio)
	assert.Equal(t, "TKN2", snap.Tokens[tkn2].Symbol)

	assert.Equal(t, []asset.ID{isl1, isl2}, snap.Unpriced)
	assert.Len(t, snap.Pools, 4)
	assert.Equal(t, 1, snap.Pools[0].Rank)

	assert.Equal(t, uint64(42), snap.Stats.BlockNumber)
	assert.Equal(t, 5, snap.Stats.PoolsTotal)
	assert.Equal(t, 4, snap.Stats.PoolsUsable)
	assert.Equal(t, 1, snap.Stats.PoolsRejected)
	assert.Equal(t, 4, snap.Stats.TokensPriced)
	assert.Equal(t, 2, snap.Stats.TokensUnpriced)
	assert.True(t, snap.Stats.Converged)

	counts := CountBySeverity(snap.Diagnostics)
	assert.Equal(t, 1, counts[SeverityError])
}

func TestEngine_Price_ConfigurationErrorAbortsRun(t *testing.T) {
	calls := 0
	e := testEngine(t, nil, WithObserver(ObserverFunc(func(int, *PriceResult, PriceResult) { calls++ })))

	in := scenarioInput(t)
	in.BTCPrice = mustDec("0")
	snap, err := e.Price(context.Background(), in)

	assert.Nil(t, snap)
	assert.True(t, apperror.IsCode(err, apperror.CodeConfigurationError))
	assert.Zero(t, calls)
}

func TestSnapshot_Quote(t *testing.T) {
	snap, err := testEngine(t, nil).Price(context.Background(), scenarioInput(t))
	require.NoError(t, err)

	q, ok := snap.Quote(tkn).(Priced)
	require.True(t, ok)
	requireDecimal(t, "0.001", q.USDPrice)

	u, ok := snap.Quote(isl1).(Unpriced)
	require.True(t, ok)
	assert.Equal(t, ReasonUnreachable, u.Reason)

	u, ok = snap.Quote("MISSING").(Unpriced)
	require.True(t, ok)
	assert.Equal(t, ReasonUnknownToken, u.Reason)
}

func TestSnapshot_WithVersionLeavesOriginal(t *testing.T) {
	snap, err := testEngine(t, nil).Price(context.Background(), scenarioInput(t))
	require.NoError(t, err)

	v := snap.WithVersion(7)
	assert.Equal(t, uint64(7), v.Version)
	assert.Zero(t, snap.Version)
}

func TestSnapshot_PricedOrdering(t *testing.T) {
	snap, err := testEngine(t, nil).Price(context.Background(), scenarioInput(t))
	require.NoError(t, err)

	priced := snap.Priced()
	require.Len(t, priced, 4)
	assert.True(t, priced[0].Anchor)
	assert.True(t, priced[1].Anchor)
	assert.False(t, priced[2].Anchor)
}

func TestSnapshot_JSONRoundTrip(t *testing.T) {
	snap, err := testEngine(t, nil).Price(context.Background(), scenarioInput(t))
	require.NoError(t, err)

	raw, err := json.Marshal(snap)
	require.NoError(t, err)

	var back Snapshot
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.True(t, back.Tokens[tkn2].USDPrice.Equal(snap.Tokens[tkn2].USDPrice))
	assert.Equal(t, snap.Pools[0].ID, back.Pools[0].ID)
	assert.Equal(t, 0, back.Pools[0].ReserveA.Cmp(snap.Pools[0].ReserveA))
	assert.Equal(t, snap.Unpriced, back.Unpriced)
}
