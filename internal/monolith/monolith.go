// Package monolith provides the application container and module interface.
package monolith

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/fd1az/pool-pricer/internal/apperror"
	"github.com/fd1az/pool-pricer/internal/asset"
	"github.com/fd1az/pool-pricer/internal/config"
	"github.com/fd1az/pool-pricer/internal/di"
	"github.com/fd1az/pool-pricer/internal/logger"
)

// Monolith is what a module sees of the running application.
type Monolith interface {
	Config() *config.Config
	Logger() logger.LoggerInterface
	// EthClient is nil when no Ethereum endpoint is configured.
	EthClient() *ethclient.Client
	AssetRegistry() *asset.Registry
	Services() di.ServiceRegistry
	// OnClose registers a cleanup run when the application shuts down.
	OnClose(fn func() error)
}

// Module is a bounded context. RegisterServices runs for every module
// before any Startup runs.
type Module interface {
	RegisterServices(di.Container) error
	Startup(context.Context, Monolith) error
}

// App owns the shared infrastructure and the DI container.
type App struct {
	config    *config.Config
	logger    logger.LoggerInterface
	ethClient *ethclient.Client
	registry  *asset.Registry
	container di.Container
	closers   []func() error
}

var _ Monolith = (*App)(nil)

// New builds the container. The Ethereum client is dialed only when
// ethereum.http_url is set.
func New(ctx context.Context, cfg *config.Config, log logger.LoggerInterface) (*App, error) {
	registry, err := BuildAssetRegistry(cfg.Pricing.Tokens)
	if err != nil {
		return nil, err
	}

	a := &App{
		config:    cfg,
		logger:    log,
		registry:  registry,
		container: di.NewContainer(),
	}
	a.container.Register("config", cfg)
	a.container.Register("logger", log)
	a.container.Register("assetRegistry", registry)

	if url := cfg.Ethereum.HTTPURL; url != "" {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			return nil, apperror.External(apperror.CodeEthereumConnectionFailed, "ethereum.http_url", err)
		}
		a.ethClient = client
		a.container.Register("ethClient", client)
	}
	return a, nil
}

// BuildAssetRegistry returns the well-known tokens plus the configured ones.
// A configured token overrides a well-known entry with the same id.
func BuildAssetRegistry(tokens []config.TokenConfig) (*asset.Registry, error) {
	reg := asset.NewRegistry()
	for _, t := range tokens {
		a, err := asset.New(asset.NewID(t.ID), t.Symbol, t.Decimals)
		if err == nil {
			err = reg.Register(a)
		}
		if err != nil {
			return nil, fmt.Errorf("pricing.tokens[%s]: %w", t.ID, err)
		}
	}
	for _, a := range asset.DefaultRegistry().All() {
		if !reg.Has(a.ID()) {
			_ = reg.Register(a)
		}
	}
	return reg, nil
}

func (a *App) Config() *config.Config         { return a.config }
func (a *App) Logger() logger.LoggerInterface { return a.logger }
func (a *App) EthClient() *ethclient.Client   { return a.ethClient }
func (a *App) AssetRegistry() *asset.Registry { return a.registry }
func (a *App) Services() di.ServiceRegistry   { return a.container }

// OnClose registers fn to run on Close, in reverse registration order.
func (a *App) OnClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// RegisterModules lets each module add its factories to the container.
func (a *App) RegisterModules(modules ...Module) error {
	for _, m := range modules {
		if err := m.RegisterServices(a.container); err != nil {
			return fmt.Errorf("register %T: %w", m, err)
		}
	}
	return nil
}

// StartModules starts modules in order, stopping at the first failure.
func (a *App) StartModules(ctx context.Context, modules ...Module) error {
	for _, m := range modules {
		if err := m.Startup(ctx, a); err != nil {
			return fmt.Errorf("start %T: %w", m, err)
		}
		a.logger.Debug(ctx, "module started", "module", fmt.Sprintf("%T", m))
	}
	return nil
}

// Close runs every registered cleanup and releases the Ethereum client.
// All cleanup errors are returned joined.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.ethClient != nil {
		a.ethClient.Close()
	}
	return errors.Join(errs...)
}
