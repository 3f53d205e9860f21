// Package app contains application services and port definitions for the pricing context.
package app

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/fd1az/pool-pricer/business/pricing/domain"
)

// PoolSource delivers the current pool list and the metadata of the tokens
// it references.
type PoolSource interface {
	// FetchPools reads every pool with fresh reserves.
	FetchPools(ctx context.Context) (*domain.PoolSet, error)
}

// OracleProvider supplies the USD price of the BTC anchor.
type OracleProvider interface {
	// BTCPrice returns the current BTC/USD price.
	BTCPrice(ctx context.Context) (decimal.Decimal, error)
}
