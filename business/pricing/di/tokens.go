// Package di contains dependency injection tokens for the pricing context.
package di

import (
	"github.com/fd1az/pool-pricer/business/pricing/app"
	"github.com/fd1az/pool-pricer/business/pricing/domain"
	"github.com/fd1az/pool-pricer/internal/di"
)

// Public service tokens - exposed to other modules
var (
	PricingService = di.NewToken[*app.PricingService]("pricing.PricingService")
)

// Private dependency tokens - internal to pricing module
var (
	PoolSource     = di.NewToken[app.PoolSource]("pricing:poolSource")
	OracleProvider = di.NewToken[app.OracleProvider]("pricing:oracleProvider")
	Engine         = di.NewToken[*domain.Engine]("pricing:engine")
)

// Helper functions for type-safe access
func GetPricingService(c di.ServiceRegistry) *app.PricingService {
	return di.GetToken(c, PricingService)
}

func GetPoolSource(c di.ServiceRegistry) app.PoolSource {
	return di.GetToken(c, PoolSource)
}

func GetOracleProvider(c di.ServiceRegistry) app.OracleProvider {
	return di.GetToken(c, OracleProvider)
}

func GetEngine(c di.ServiceRegistry) *domain.Engine {
	return di.GetToken(c, Engine)
}
