package domain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fd1az/pool-pricer/internal/apperror"
	"github.com/fd1az/pool-pricer/internal/asset"
)

func TestBuildGraph_SkipsMalformedPools(t *testing.T) {
	reg := testRegistry(t)
	pools := []PoolEdge{
		pool("good", usdc, units("100", 6), tkn, units("100", 6)),
		pool("self", tkn, units("1", 6), tkn, units("1", 6)),
		pool("negative", usdc, big.NewInt(-1), tkn, units("1", 6)),
		pool("nil", usdc, nil, tkn, units("1", 6)),
		pool("empty-token", "", units("1", 6), tkn, units("1", 6)),
		pool("", usdc, units("1", 6), tkn, units("1", 6)),
		pool("unknown", usdc, units("1", 6), "NOPE", units("1", 6)),
	}

	g := BuildGraph(pools, reg)

	require.Len(t, g.Pools(), 1)
	assert.Equal(t, PoolID("good"), g.Pools()[0].ID)
	assert.Equal(t, 6, g.RejectedCount())

	codes := map[PoolID]apperror.Code{}
	for _, d := range g.Diagnostics() {
		assert.Equal(t, SeverityError, d.Severity)
		codes[d.PoolID] = d.Code
	}
	assert.Equal(t, apperror.CodeSelfPool, codes["self"])
	assert.Equal(t, apperror.CodeMalformedPool, codes["negative"])
	assert.Equal(t, apperror.CodeMalformedPool, codes["nil"])
	assert.Equal(t, apperror.CodeMalformedPool, codes["empty-token"])
	assert.Equal(t, apperror.CodeMalformedPool, codes[""])
	assert.Equal(t, apperror.CodeUnknownToken, codes["unknown"])
}

func TestBuildGraph_ZeroReserveKeptOutOfAdjacency(t *testing.T) {
	reg := testRegistry(t)
	g := BuildGraph([]PoolEdge{
		pool("empty", usdc, big.NewInt(0), tkn, units("10", 6)),
	}, reg)

	require.Len(t, g.Pools(), 1)
	assert.Empty(t, g.Neighbors(usdc))
	assert.Empty(t, g.Neighbors(tkn))
	assert.Equal(t, 0, g.UsableCount())
	assert.Equal(t, []asset.ID{tkn, usdc}, g.Tokens())

	diags := g.Diagnostics()
	require.Len(t, diags, 1)
	assert.Equal(t, apperror.CodeZeroReserve, diags[0].Code)
	assert.Equal(t, SeverityWarning, diags[0].Severity)
}

func TestBuildGraph_CompetingPoolsForOnePair(t *testing.T) {
	reg := testRegistry(t)
	g := BuildGraph([]PoolEdge{
		pool("b", tkn, units("10", 6), usdc, units("10", 6)),
		pool("a", usdc, units("10", 6), tkn, units("10", 6)),
	}, reg)

	adj := g.Neighbors(usdc)
	require.Len(t, adj, 2)
	assert.Equal(t, PoolID("a"), adj[0].Pool)
	assert.Equal(t, PoolID("b"), adj[1].Pool)
	assert.Equal(t, tkn, adj[0].Neighbor)
}

func TestBuildGraph_DuplicatePoolIDFirstInOrderWins(t *testing.T) {
	reg := testRegistry(t)
	g := BuildGraph([]PoolEdge{
		pool("dup", usdc, units("1", 6), tkn, units("1", 6)),
		pool("dup", usdc, units("2", 6), tkn2, units("2", 18)),
	}, reg)

	require.Len(t, g.Pools(), 1)
	assert.Equal(t, tkn, g.Pools()[0].TokenB)
	require.Len(t, g.Diagnostics(), 1)
	assert.Equal(t, apperror.CodeDuplicatePool, g.Diagnostics()[0].Code)
}

func TestBuildGraph_DoesNotAliasReserves(t *testing.T) {
	reg := testRegistry(t)
	reserve := units("5", 6)
	g := BuildGraph([]PoolEdge{pool("p", usdc, reserve, tkn, units("5", 6))}, reg)

	reserve.SetInt64(0)
	assert.Equal(t, 1, g.Pools()[0].ReserveA.Sign())
}

func TestBuildGraph_NormalizesDecimals(t *testing.T) {
	reg := testRegistry(t)
	g := BuildGraph([]PoolEdge{pool("p", sbtc, units("0.5", 8), tkn2, units("1234.5", 18))}, reg)

	adj := g.Neighbors(tkn2)
	require.Len(t, adj, 1)
	near, far := g.edgeAt(adj[0]).normalized(tkn2)
	requireDecimal(t, "1234.5", near)
	requireDecimal(t, "0.5", far)
}
