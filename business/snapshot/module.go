// Package snapshot owns the published price snapshot: scheduled refreshes,
// persistence of the latest result and the per-run price history.
package snapshot

import (
	"context"
	"time"

	blockchainDI "github.com/fd1az/pool-pricer/business/blockchain/di"
	pricingDI "github.com/fd1az/pool-pricer/business/pricing/di"
	pricing "github.com/fd1az/pool-pricer/business/pricing/domain"
	"github.com/fd1az/pool-pricer/business/snapshot/app"
	snapshotDI "github.com/fd1az/pool-pricer/business/snapshot/di"
	"github.com/fd1az/pool-pricer/business/snapshot/domain"
	"github.com/fd1az/pool-pricer/business/snapshot/infra/console"
	"github.com/fd1az/pool-pricer/business/snapshot/infra/memory"
	"github.com/fd1az/pool-pricer/business/snapshot/infra/noop"
	"github.com/fd1az/pool-pricer/business/snapshot/infra/postgres"
	"github.com/fd1az/pool-pricer/business/snapshot/infra/redis"
	"github.com/fd1az/pool-pricer/internal/apperror"
	"github.com/fd1az/pool-pricer/internal/config"
	"github.com/fd1az/pool-pricer/internal/di"
	"github.com/fd1az/pool-pricer/internal/logger"
	"github.com/fd1az/pool-pricer/internal/monolith"
)

const connectTimeout = 10 * time.Second

// Module implements the snapshot bounded context.
type Module struct{}

// RegisterServices registers all snapshot services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	// Register SnapshotStore - private dependency
	di.RegisterToken(c, snapshotDI.SnapshotStore, func(sr di.ServiceRegistry) app.SnapshotStore {
		cfg := sr.Get("config").(*config.Config)

		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		store, err := NewSnapshotStore(ctx, cfg.Store.Snapshot)
		if err != nil {
			panic("failed to create snapshot store: " + err.Error())
		}
		return store
	})

	// Register HistoryStore - private dependency
	di.RegisterToken(c, snapshotDI.HistoryStore, func(sr di.ServiceRegistry) app.HistoryStore {
		cfg := sr.Get("config").(*config.Config)

		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		history, err := NewHistoryStore(ctx, cfg.Store.History)
		if err != nil {
			panic("failed to create history store: " + err.Error())
		}
		return history
	})

	// Register Publishers - private dependency
	di.RegisterToken(c, snapshotDI.Publishers, func(sr di.ServiceRegistry) []app.Publisher {
		cfg := sr.Get("config").(*config.Config)

		var pubs []app.Publisher
		if cfg.Refresh.ConsoleReport {
			pubs = append(pubs, console.NewPublisher(nil, cfg.Refresh.ConsoleTopN))
		}
		return pubs
	})

	// Register Coordinator (public - exposed to other modules)
	di.RegisterToken(c, snapshotDI.Coordinator, func(sr di.ServiceRegistry) *app.Coordinator {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		coord, err := app.NewCoordinator(
			pricingDI.GetPricingService(sr),
			snapshotDI.GetSnapshotStore(sr),
			snapshotDI.GetHistoryStore(sr),
			snapshotDI.GetPublishers(sr),
			CoordinatorConfig(cfg.Refresh),
			log,
		)
		if err != nil {
			panic("failed to create coordinator: " + err.Error())
		}
		return coord
	})

	return nil
}

// Startup restores the last stored snapshot and starts the refresh loop.
// With refresh.on_new_block set, new chain heads trigger refreshes too.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	log := mono.Logger()
	cfg := mono.Config()

	coord, err := prepare(ctx, mono)
	if err != nil {
		return err
	}

	var trigger <-chan uint64
	if cfg.Refresh.OnNewBlock && mono.EthClient() != nil {
		blocks, err := blockchainDI.GetBlockchainService(mono.Services()).NewBlocks(ctx)
		if err != nil {
			return apperror.Wrap(err, apperror.CodeInternalError, "subscribe to new blocks")
		}
		trigger = blocks
	}

	coord.Start(ctx, trigger)

	log.Info(ctx, "snapshot module started",
		"interval", cfg.Refresh.Interval,
		"on_new_block", trigger != nil,
		"store", cfg.Store.Snapshot.Provider,
		"history", cfg.Store.History.Provider,
	)
	return nil
}

// RunOnce restores the stored snapshot and performs a single manual refresh
// without starting the loop.
func RunOnce(ctx context.Context, mono monolith.Monolith) (*pricing.Snapshot, error) {
	coord, err := prepare(ctx, mono)
	if err != nil {
		return nil, err
	}
	return coord.Refresh(ctx, domain.ReasonManual)
}

func prepare(ctx context.Context, mono monolith.Monolith) (*app.Coordinator, error) {
	log := mono.Logger()
	services := mono.Services()

	store := snapshotDI.GetSnapshotStore(services)
	switch s := store.(type) {
	case interface{ Close() error }:
		mono.OnClose(s.Close)
	case interface{ Close() }:
		mono.OnClose(func() error { s.Close(); return nil })
	}
	if closer, ok := snapshotDI.GetHistoryStore(services).(interface{ Close() }); ok {
		mono.OnClose(func() error { closer.Close(); return nil })
	}

	coord := snapshotDI.GetCoordinator(services)
	if err := coord.Warm(ctx); err != nil {
		log.Warn(ctx, "could not restore stored snapshot", "error", err)
	}
	return coord, nil
}

// CoordinatorConfig maps refresh settings to the coordinator config.
func CoordinatorConfig(cfg config.RefreshConfig) app.Config {
	return app.Config{
		Interval:              cfg.Interval,
		RunTimeout:            cfg.RunTimeout,
		ForceRefreshPerMinute: cfg.ForceRefreshPerMinute,
		MaxAge:                cfg.MaxSnapshotAge,
	}
}

// NewSnapshotStore builds the configured latest-snapshot store.
func NewSnapshotStore(ctx context.Context, cfg config.SnapshotStoreConfig) (app.SnapshotStore, error) {
	switch cfg.Provider {
	case config.StoreMemory, "":
		return memory.NewStore(cfg.TTL), nil
	case config.StoreRedis:
		store, err := redis.NewStore(ctx, redis.Config{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPass,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.KeyPrefix,
			TTL:       cfg.TTL,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, apperror.Configuration("unknown snapshot store: " + cfg.Provider)
	}
}

// NewHistoryStore builds the configured history store. The postgres store
// applies migrations before returning.
func NewHistoryStore(ctx context.Context, cfg config.HistoryStoreConfig) (app.HistoryStore, error) {
	switch cfg.Provider {
	case config.StoreNoop, "":
		return noop.History{}, nil
	case config.StorePostgres:
		pool, err := postgres.NewPool(ctx, cfg.DSN, cfg.MaxConns)
		if err != nil {
			return nil, apperror.External(apperror.CodeHistoryStoreError, "connect", err)
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, apperror.External(apperror.CodeHistoryStoreError, "migrate", err)
		}
		return &pooledHistory{HistoryStore: postgres.NewHistoryStore(pool), pool: pool}, nil
	default:
		return nil, apperror.Configuration("unknown history store: " + cfg.Provider)
	}
}

// pooledHistory ties the postgres store to the pool it owns.
type pooledHistory struct {
	*postgres.HistoryStore
	pool *postgres.Pool
}

func (h *pooledHistory) Close() { h.pool.Close() }
