// Package oracle holds oracle providers that need no external service.
package oracle

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/fd1az/pool-pricer/business/pricing/app"
	"github.com/fd1az/pool-pricer/internal/apperror"
)

var _ app.OracleProvider = (*Static)(nil)

// Static returns a fixed BTC price.
type Static struct {
	price decimal.Decimal
}

// NewStatic creates a fixed-price oracle. The price must be positive.
func NewStatic(price decimal.Decimal) (*Static, error) {
	if !price.IsPositive() {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithContext("static oracle price must be positive, got "+price.String()))
	}
	return &Static{price: price}, nil
}

// BTCPrice returns the configured price.
func (s *Static) BTCPrice(context.Context) (decimal.Decimal, error) {
	return s.price, nil
}
