package domain

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/fd1az/pool-pricer/internal/apperror"
	"github.com/fd1az/pool-pricer/internal/asset"
)

// Adjacency is one usable edge seen from a token: the token on the other
// side and the pool joining them.
type Adjacency struct {
	Neighbor asset.ID
	Pool     PoolID
	edge     int
}

// edge is an accepted pool with both reserves normalised to whole units.
type edge struct {
	pool  PoolEdge
	normA decimal.Decimal
	normB decimal.Decimal
}

// normalized returns (reserve of t, reserve of the other side), both in
// whole-token units.
func (e edge) normalized(t asset.ID) (decimal.Decimal, decimal.Decimal) {
	if t == e.pool.TokenA {
		return e.normA, e.normB
	}
	return e.normB, e.normA
}

// Graph is the read-only token/pool index for a single run.
type Graph struct {
	edges       []edge
	adjacency   map[asset.ID][]Adjacency
	tokens      map[asset.ID]*asset.Asset
	diagnostics []Diagnostic
	rejected    int
}

// BuildGraph indexes pools by token. Malformed pools are skipped with a
// diagnostic. Zero-reserve pools are kept for liquidity reporting but left out
// of the adjacency index. Pools are processed in PoolID order so the result
// does not depend on input order; for duplicate ids the first in that order
// wins.
func BuildGraph(pools []PoolEdge, tokens TokenLookup) *Graph {
	sorted := make([]PoolEdge, len(pools))
	copy(sorted, pools)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	g := &Graph{
		adjacency: make(map[asset.ID][]Adjacency),
		tokens:    make(map[asset.ID]*asset.Asset),
	}
	seen := make(map[PoolID]struct{}, len(sorted))

	for _, p := range sorted {
		if d, ok := g.validate(p, tokens, seen); !ok {
			g.diagnostics = append(g.diagnostics, d)
			g.rejected++
			continue
		}
		seen[p.ID] = struct{}{}

		tokA, _ := tokens.Get(p.TokenA)
		tokB, _ := tokens.Get(p.TokenB)
		g.tokens[p.TokenA] = tokA
		g.tokens[p.TokenB] = tokB

		p = p.clone()
		e := edge{
			pool:  p,
			normA: asset.MustAmount(tokA, p.ReserveA).ToDecimal(),
			normB: asset.MustAmount(tokB, p.ReserveB).ToDecimal(),
		}
		g.edges = append(g.edges, e)
		idx := len(g.edges) - 1

		if !p.Usable() {
			g.diagnostics = append(g.diagnostics, poolDiagnostic(
				apperror.CodeZeroReserve, SeverityWarning, p.ID,
				"zero reserve; excluded from propagation"))
			continue
		}

		g.adjacency[p.TokenA] = append(g.adjacency[p.TokenA], Adjacency{Neighbor: p.TokenB, Pool: p.ID, edge: idx})
		g.adjacency[p.TokenB] = append(g.adjacency[p.TokenB], Adjacency{Neighbor: p.TokenA, Pool: p.ID, edge: idx})
	}

	return g
}

func (g *Graph) validate(p PoolEdge, tokens TokenLookup, seen map[PoolID]struct{}) (Diagnostic, bool) {
	switch {
	case p.ID == "":
		return poolDiagnostic(apperror.CodeMalformedPool, SeverityError, p.ID, "empty pool id"), false
	case p.TokenA.IsEmpty() || p.TokenB.IsEmpty():
		return poolDiagnostic(apperror.CodeMalformedPool, SeverityError, p.ID, "empty token id"), false
	case p.TokenA == p.TokenB:
		return poolDiagnostic(apperror.CodeSelfPool, SeverityError, p.ID,
			fmt.Sprintf("both sides are %s", p.TokenA)), false
	case p.ReserveA == nil || p.ReserveB == nil:
		return poolDiagnostic(apperror.CodeMalformedPool, SeverityError, p.ID, "missing reserve"), false
	case p.ReserveA.Sign() < 0 || p.ReserveB.Sign() < 0:
		return poolDiagnostic(apperror.CodeMalformedPool, SeverityError, p.ID, "negative reserve"), false
	}

	if _, dup := seen[p.ID]; dup {
		return poolDiagnostic(apperror.CodeDuplicatePool, SeverityError, p.ID, "duplicate pool id"), false
	}

	for _, t := range []asset.ID{p.TokenA, p.TokenB} {
		if tokens == nil {
			return Diagnostic{Code: apperror.CodeUnknownToken, Severity: SeverityError, PoolID: p.ID, TokenID: t,
				Message: "no token metadata"}, false
		}
		if _, ok := tokens.Get(t); !ok {
			return Diagnostic{Code: apperror.CodeUnknownToken, Severity: SeverityError, PoolID: p.ID, TokenID: t,
				Message: "token has no decimals metadata"}, false
		}
	}

	return Diagnostic{}, true
}

// Neighbors returns the usable edges of t in PoolID order.
func (g *Graph) Neighbors(t asset.ID) []Adjacency {
	return g.adjacency[t]
}

// Pools returns every accepted pool, zero-reserve ones included, in PoolID order.
func (g *Graph) Pools() []PoolEdge {
	out := make([]PoolEdge, len(g.edges))
	for i, e := range g.edges {
		out[i] = e.pool
	}
	return out
}

// Token returns metadata for a token that appears in an accepted pool.
func (g *Graph) Token(id asset.ID) (*asset.Asset, bool) {
	a, ok := g.tokens[id]
	return a, ok
}

// Tokens returns every token appearing in an accepted pool, sorted.
func (g *Graph) Tokens() []asset.ID {
	out := make([]asset.ID, 0, len(g.tokens))
	for id := range g.tokens {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Diagnostics returns the problems recorded while building.
func (g *Graph) Diagnostics() []Diagnostic {
	out := make([]Diagnostic, len(g.diagnostics))
	copy(out, g.diagnostics)
	return out
}

// UsableCount returns the number of pools in the adjacency index.
func (g *Graph) UsableCount() int {
	n := 0
	for _, e := range g.edges {
		if e.pool.Usable() {
			n++
		}
	}
	return n
}

// RejectedCount returns the number of malformed pools skipped.
func (g *Graph) RejectedCount() int {
	return g.rejected
}

func (g *Graph) edgeAt(a Adjacency) edge {
	return g.edges[a.edge]
}
