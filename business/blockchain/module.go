// Package blockchain implements the chain-head watcher used to trigger
// refreshes on new blocks.
package blockchain

import (
	"context"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/fd1az/pool-pricer/business/blockchain/app"
	blockchainDI "github.com/fd1az/pool-pricer/business/blockchain/di"
	"github.com/fd1az/pool-pricer/business/blockchain/infra/ethereum"
	"github.com/fd1az/pool-pricer/internal/config"
	"github.com/fd1az/pool-pricer/internal/di"
	"github.com/fd1az/pool-pricer/internal/logger"
	"github.com/fd1az/pool-pricer/internal/monolith"
)

// Module implements the blockchain bounded context. It registers nothing
// when no Ethereum endpoint is configured.
type Module struct{}

// RegisterServices registers all blockchain services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	// Register BlockWatcher (private - internal dependency)
	di.RegisterToken(c, blockchainDI.BlockWatcher, func(sr di.ServiceRegistry) app.BlockWatcher {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		if !sr.Has("ethClient") {
			panic("block watcher requires ethereum.http_url")
		}
		client := sr.Get("ethClient").(*ethclient.Client)

		wCfg := ethereum.DefaultWatcherConfig()
		if cfg.Ethereum.PollInterval > 0 {
			wCfg.PollInterval = cfg.Ethereum.PollInterval
		}
		w, err := ethereum.NewWatcher(client, wCfg, log)
		if err != nil {
			panic("failed to create block watcher: " + err.Error())
		}
		return w
	})

	// Register BlockchainService (public - exposed to other modules)
	di.RegisterToken(c, blockchainDI.BlockchainService, func(sr di.ServiceRegistry) *app.BlockchainService {
		return app.NewBlockchainService(blockchainDI.GetBlockWatcher(sr))
	})

	return nil
}

// Startup checks the node is reachable. Failure is logged, not fatal; the
// watcher keeps polling.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	log := mono.Logger()
	if mono.EthClient() == nil {
		log.Info(ctx, "blockchain module idle, no ethereum endpoint")
		return nil
	}

	svc := blockchainDI.GetBlockchainService(mono.Services())
	if head, err := svc.LatestBlock(ctx); err != nil {
		log.Error(ctx, "ethereum node unreachable", "error", err)
	} else {
		log.Info(ctx, "blockchain module started", "head", head.Number)
	}
	return nil
}
