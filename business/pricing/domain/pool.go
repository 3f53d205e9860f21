// Package domain contains the price-discovery core: pool graph, anchors,
// propagation, liquidity ranking and snapshot assembly. It performs no I/O.
package domain

import (
	"math/big"
	"time"

	"github.com/fd1az/pool-pricer/internal/asset"
)

// PoolID uniquely identifies a liquidity pool.
type PoolID string

// PoolEdge is one liquidity pool between two tokens. Reserves are atomic
// units and must never be mutated while a run holds the pool.
type PoolEdge struct {
	ID          PoolID    `json:"poolId"`
	TokenA      asset.ID  `json:"tokenA"`
	TokenB      asset.ID  `json:"tokenB"`
	ReserveA    *big.Int  `json:"reserveA"`
	ReserveB    *big.Int  `json:"reserveB"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Usable reports whether both reserves are strictly positive.
func (p PoolEdge) Usable() bool {
	return p.ReserveA != nil && p.ReserveB != nil &&
		p.ReserveA.Sign() > 0 && p.ReserveB.Sign() > 0
}

// Other returns the token on the opposite side of t.
func (p PoolEdge) Other(t asset.ID) asset.ID {
	if t == p.TokenA {
		return p.TokenB
	}
	return p.TokenA
}

// Swapped returns the same pool with sides A and B exchanged.
func (p PoolEdge) Swapped() PoolEdge {
	return PoolEdge{
		ID:          p.ID,
		TokenA:      p.TokenB,
		TokenB:      p.TokenA,
		ReserveA:    p.ReserveB,
		ReserveB:    p.ReserveA,
		LastUpdated: p.LastUpdated,
	}
}

func (p PoolEdge) clone() PoolEdge {
	c := p
	if p.ReserveA != nil {
		c.ReserveA = new(big.Int).Set(p.ReserveA)
	}
	if p.ReserveB != nil {
		c.ReserveB = new(big.Int).Set(p.ReserveB)
	}
	return c
}

// PoolSet is one ingestion of pools plus the token metadata they reference.
type PoolSet struct {
	Pools       []PoolEdge
	Tokens      *asset.Registry
	BlockNumber uint64
	FetchedAt   time.Time
}

// TokenLookup resolves token metadata. *asset.Registry implements it.
type TokenLookup interface {
	Get(id asset.ID) (*asset.Asset, bool)
}
