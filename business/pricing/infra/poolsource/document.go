// Package poolsource reads pool lists from JSON documents on disk or over
// HTTP.
package poolsource

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/fd1az/pool-pricer/business/pricing/domain"
	"github.com/fd1az/pool-pricer/internal/asset"
)

// Document is the wire format shared by the file and HTTP sources. Reserves
// are decimal strings of atomic units so they survive JSON number limits.
type Document struct {
	BlockNumber uint64          `json:"blockNumber"`
	Tokens      []TokenDocument `json:"tokens"`
	Pools       []PoolDocument  `json:"pools"`
}

// TokenDocument is one token's metadata.
type TokenDocument struct {
	ID       string `json:"id"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name,omitempty"`
	Decimals int    `json:"decimals"`
}

// PoolDocument is one pool.
type PoolDocument struct {
	PoolID      string    `json:"poolId"`
	TokenA      string    `json:"tokenA"`
	TokenB      string    `json:"tokenB"`
	ReserveA    string    `json:"reserveA"`
	ReserveB    string    `json:"reserveB"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Decode parses raw into a PoolSet.
func Decode(raw []byte, fetchedAt time.Time) (*domain.PoolSet, []error, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("decode pool document: %w", err)
	}
	set, warnings := doc.ToPoolSet(fetchedAt)
	return set, warnings, nil
}

// ToPoolSet converts the document. Token entries that cannot be registered
// are returned as warnings. Unparseable reserves are left nil so the graph
// builder rejects the pool with a diagnostic.
func (d *Document) ToPoolSet(fetchedAt time.Time) (*domain.PoolSet, []error) {
	var warnings []error

	reg := asset.NewRegistry()
	for _, t := range d.Tokens {
		a, err := asset.New(asset.NewID(t.ID), t.Symbol, t.Decimals)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("token %q: %w", t.ID, err))
			continue
		}
		if t.Name != "" {
			a = a.WithName(t.Name)
		}
		if err := reg.Register(a); err != nil {
			warnings = append(warnings, err)
		}
	}

	pools := make([]domain.PoolEdge, 0, len(d.Pools))
	for _, p := range d.Pools {
		pools = append(pools, domain.PoolEdge{
			ID:          domain.PoolID(p.PoolID),
			TokenA:      asset.NewID(p.TokenA),
			TokenB:      asset.NewID(p.TokenB),
			ReserveA:    parseReserve(p.ReserveA),
			ReserveB:    parseReserve(p.ReserveB),
			LastUpdated: p.LastUpdated,
		})
	}

	return &domain.PoolSet{
		Pools:       pools,
		Tokens:      reg,
		BlockNumber: d.BlockNumber,
		FetchedAt:   fetchedAt,
	}, warnings
}

func parseReserve(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil
	}
	return v
}
