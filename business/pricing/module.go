// Package pricing implements the pool-graph pricing bounded context.
package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/fd1az/pool-pricer/business/pricing/app"
	pricingDI "github.com/fd1az/pool-pricer/business/pricing/di"
	"github.com/fd1az/pool-pricer/business/pricing/domain"
	"github.com/fd1az/pool-pricer/business/pricing/infra/binance"
	"github.com/fd1az/pool-pricer/business/pricing/infra/oracle"
	"github.com/fd1az/pool-pricer/business/pricing/infra/poolsource"
	"github.com/fd1az/pool-pricer/business/pricing/infra/uniswap"
	"github.com/fd1az/pool-pricer/internal/asset"
	"github.com/fd1az/pool-pricer/internal/config"
	"github.com/fd1az/pool-pricer/internal/di"
	"github.com/fd1az/pool-pricer/internal/logger"
	"github.com/fd1az/pool-pricer/internal/monolith"
)

// Module implements the pricing bounded context.
type Module struct{}

// RegisterServices registers all pricing services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	// Register PoolSource - private dependency
	di.RegisterToken(c, pricingDI.PoolSource, func(sr di.ServiceRegistry) app.PoolSource {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		var backend uniswap.Backend
		if sr.Has("ethClient") {
			backend = sr.Get("ethClient").(*ethclient.Client)
		}
		src, err := NewPoolSource(cfg.Source, backend, log)
		if err != nil {
			panic("failed to create pool source: " + err.Error())
		}
		return src
	})

	// Register OracleProvider - private dependency
	di.RegisterToken(c, pricingDI.OracleProvider, func(sr di.ServiceRegistry) app.OracleProvider {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		o, err := NewOracle(cfg.Oracle, log)
		if err != nil {
			panic("failed to create oracle: " + err.Error())
		}
		return o
	})

	// Register Engine - private dependency
	di.RegisterToken(c, pricingDI.Engine, func(sr di.ServiceRegistry) *domain.Engine {
		cfg := sr.Get("config").(*config.Config)

		engine, err := domain.NewEngine(EngineParams(cfg.Pricing))
		if err != nil {
			panic("failed to create engine: " + err.Error())
		}
		return engine
	})

	// Register PricingService (public - exposed to other modules)
	di.RegisterToken(c, pricingDI.PricingService, func(sr di.ServiceRegistry) *app.PricingService {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		tokens := sr.Get("assetRegistry").(*asset.Registry)

		svc, err := app.NewPricingService(
			pricingDI.GetPoolSource(sr),
			pricingDI.GetOracleProvider(sr),
			pricingDI.GetEngine(sr),
			AnchorConfig(cfg.Pricing),
			tokens,
			log,
		)
		if err != nil {
			panic("failed to create pricing service: " + err.Error())
		}
		return svc
	})

	return nil
}

// Startup connects streaming collaborators and registers their cleanup.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	log := mono.Logger()
	services := mono.Services()

	src := pricingDI.GetPoolSource(services)
	if closer, ok := src.(interface{ Close() }); ok {
		mono.OnClose(func() error { closer.Close(); return nil })
	}

	o := pricingDI.GetOracleProvider(services)
	if closer, ok := o.(interface{ Close() error }); ok {
		mono.OnClose(closer.Close)
	}

	// Connect the stream oracle; the REST fallback serves until it is up.
	if connector, ok := o.(interface{ Connect(context.Context) error }); ok {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if err := connector.Connect(connectCtx); err != nil {
			log.Warn(ctx, "oracle stream connection failed, will retry in background", "error", err)
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-time.After(5 * time.Second):
						if err := connector.Connect(ctx); err != nil {
							log.Warn(ctx, "oracle stream retry failed", "error", err)
						} else {
							log.Info(ctx, "oracle stream connected")
							return
						}
					}
				}
			}()
		}
	}

	log.Info(ctx, "pricing module started",
		"source", mono.Config().Source.Provider,
		"oracle", mono.Config().Oracle.Provider,
	)
	return nil
}

// NewPoolSource builds the configured pool source. backend is only needed
// for the evm source.
func NewPoolSource(cfg config.SourceConfig, backend uniswap.Backend, log logger.LoggerInterface) (app.PoolSource, error) {
	var (
		src app.PoolSource
		err error
	)
	switch cfg.Provider {
	case config.SourceFile:
		src, err = asSource(poolsource.NewFileSource(cfg.FilePath, log))
	case config.SourceHTTP:
		src, err = asSource(poolsource.NewHTTPSource(poolsource.HTTPConfig{
			URL:     cfg.HTTPURL,
			Timeout: cfg.HTTPTimeout,
			Retries: cfg.HTTPRetries,
		}, log))
	case config.SourceEVM:
		src, err = asSource(uniswap.NewPairSource(backend, cfg.EVM, log))
	default:
		err = fmt.Errorf("unknown pool source %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}

// asSource drops the typed nil a failed constructor returns.
func asSource[T app.PoolSource](src T, err error) (app.PoolSource, error) {
	if err != nil {
		return nil, err
	}
	return src, nil
}

// NewOracle builds the configured BTC price provider.
func NewOracle(cfg config.OracleConfig, log logger.LoggerInterface) (app.OracleProvider, error) {
	switch cfg.Provider {
	case config.OracleStatic:
		o, err := oracle.NewStatic(cfg.StaticPriceDecimal())
		if err != nil {
			return nil, err
		}
		return o, nil
	case config.OracleBinance:
		o, err := newBinanceOracle(cfg.Binance, log)
		if err != nil {
			return nil, err
		}
		return o, nil
	case config.OracleBinanceStream:
		rest, err := newBinanceOracle(cfg.Binance, log)
		if err != nil {
			return nil, err
		}
		o, err := binance.NewStreamOracle(binance.StreamConfig{
			WebSocketURL: cfg.Binance.WebSocketURL,
			Symbol:       cfg.Binance.Symbol,
			StaleTimeout: cfg.Binance.StaleTimeout,
		}, rest, log)
		if err != nil {
			return nil, err
		}
		return o, nil
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.Provider)
	}
}

func newBinanceOracle(cfg config.BinanceConfig, log logger.LoggerInterface) (*binance.Oracle, error) {
	return binance.NewOracle(binance.OracleConfig{
		Symbol:   cfg.Symbol,
		CacheTTL: cfg.CacheTTL,
		REST: binance.RESTConfig{
			BaseURL: cfg.RESTURL,
			Timeout: cfg.Timeout,
			Retries: cfg.Retries,
		},
	}, log)
}

// EngineParams maps configuration onto engine parameters.
func EngineParams(cfg config.PricingConfig) domain.Params {
	p := domain.DefaultParams()
	if cfg.MaxCycles > 0 {
		p.MaxCycles = cfg.MaxCycles
	}
	if cfg.DecayFactor > 0 {
		p.Decay = cfg.DecayFactor
	}
	if cfg.Workers > 0 {
		p.Workers = cfg.Workers
	}
	if cfg.ConfidenceEpsilon > 0 {
		p.ConfidenceEpsilon = cfg.ConfidenceEpsilon
	}
	p.MinLiquidityUSD = cfg.MinLiquidityUSDDecimal()
	return p
}

// AnchorConfig maps configuration onto the run's anchor set.
func AnchorConfig(cfg config.PricingConfig) domain.AnchorConfig {
	out := domain.AnchorConfig{BTCAnchor: asset.NewID(cfg.BTCAnchor)}
	for _, s := range cfg.Stablecoins {
		out.Stablecoins = append(out.Stablecoins, asset.NewID(s))
	}
	return out
}
