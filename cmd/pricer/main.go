// Package main is the entry point for the pool pricer.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fd1az/pool-pricer/business/blockchain"
	blockchainDI "github.com/fd1az/pool-pricer/business/blockchain/di"
	blockchainDomain "github.com/fd1az/pool-pricer/business/blockchain/domain"
	"github.com/fd1az/pool-pricer/business/pricing"
	"github.com/fd1az/pool-pricer/business/snapshot"
	snapshotDI "github.com/fd1az/pool-pricer/business/snapshot/di"
	"github.com/fd1az/pool-pricer/business/snapshot/infra/console"
	"github.com/fd1az/pool-pricer/internal/apm"
	"github.com/fd1az/pool-pricer/internal/config"
	"github.com/fd1az/pool-pricer/internal/health"
	"github.com/fd1az/pool-pricer/internal/logger"
	"github.com/fd1az/pool-pricer/internal/metrics"
	"github.com/fd1az/pool-pricer/internal/monolith"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	// Parse flags
	configPath := flag.String("config", "", "Path to configuration file")
	once := flag.Bool("once", false, "Compute one snapshot, print it and exit")
	format := flag.String("format", "table", "Output format for -once: table or json")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("pool-pricer %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "received shutdown signal: %v\n", sig)
		cancel()
	}()

	var err error
	if *once {
		err = runOnce(ctx, *configPath, *format)
	} else {
		err = run(ctx, *configPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func setup(ctx context.Context, configPath string) (*config.Config, *logger.Logger, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(os.Stderr, logger.ParseLevel(cfg.App.LogLevel), cfg.App.Name, nil)
	log.Info(ctx, "starting pool pricer",
		"version", version,
		"environment", cfg.App.Environment,
	)

	if !cfg.Telemetry.Enabled {
		return cfg, log, func() {}, nil
	}

	traceProvider, err := apm.NewTraceProvider(log, apm.Settings{
		Provider:    apm.Provider(cfg.Telemetry.TraceProvider),
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Headers:     cfg.Telemetry.OTLPHeaders,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to init tracing: %w", err)
	}

	readers, err := metrics.ParseReaders(cfg.Telemetry.MetricProviders, metrics.OTLP{
		Endpoint: cfg.Telemetry.OTLPEndpoint,
		Headers:  cfg.Telemetry.OTLPHeaders,
		Insecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		_ = traceProvider.Stop()
		return nil, nil, nil, fmt.Errorf("failed to init metrics: %w", err)
	}
	opts := []metrics.Option{metrics.WithServiceName(cfg.Telemetry.ServiceName)}
	for _, r := range readers {
		opts = append(opts, metrics.WithReader(r))
	}
	meterProvider, err := metrics.NewMetricProvider(ctx, opts...)
	if err != nil {
		_ = traceProvider.Stop()
		return nil, nil, nil, fmt.Errorf("failed to init metrics: %w", err)
	}

	var promServer *metrics.PrometheusServer
	if slices.ContainsFunc(readers, func(r metrics.Reader) bool { return r.Kind == metrics.PrometheusReader }) {
		promServer = metrics.NewPrometheusServer(cfg.Telemetry.PrometheusPort, log)
		if err := promServer.Start(ctx); err != nil {
			_ = meterProvider.Shutdown(ctx)
			_ = traceProvider.Stop()
			return nil, nil, nil, err
		}
	}

	shutdown := func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if promServer != nil {
			if err := promServer.Stop(stopCtx); err != nil {
				log.Warn(stopCtx, "metrics server shutdown failed", "error", err)
			}
		}
		if err := meterProvider.Shutdown(stopCtx); err != nil {
			log.Warn(stopCtx, "meter provider shutdown failed", "error", err)
		}
		if err := traceProvider.Stop(); err != nil {
			log.Warn(stopCtx, "trace provider shutdown failed", "error", err)
		}
	}
	return cfg, log, shutdown, nil
}

func run(ctx context.Context, configPath string) error {
	cfg, log, shutdown, err := setup(ctx, configPath)
	if err != nil {
		return err
	}
	defer shutdown()

	// Create monolith (application container)
	mono, err := monolith.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create monolith: %w", err)
	}
	defer func() {
		if err := mono.Close(); err != nil {
			log.Warn(context.Background(), "cleanup failed", "error", err)
		}
	}()

	// Define modules in dependency order
	modules := []monolith.Module{
		&blockchain.Module{}, // Provides new-block triggers
		&pricing.Module{},    // Pool source, oracle and engine
		&snapshot.Module{},   // Depends on pricing and blockchain
	}

	if err := mono.RegisterModules(modules...); err != nil {
		return fmt.Errorf("failed to register modules: %w", err)
	}
	if err := mono.StartModules(ctx, modules...); err != nil {
		return fmt.Errorf("failed to start modules: %w", err)
	}

	coord := snapshotDI.GetCoordinator(mono.Services())

	healthServer := health.NewServer(cfg.App.HealthPort, version, log)
	healthServer.RegisterCheck("snapshot", coord.HealthCheck())
	if cfg.Refresh.OnNewBlock && mono.EthClient() != nil {
		chain := blockchainDI.GetBlockchainService(mono.Services())
		healthServer.RegisterCheck("ethereum", func(context.Context) (bool, string) {
			st := chain.Status()
			return st.State == blockchainDomain.StateConnected,
				fmt.Sprintf("%s, head #%d", st.State, st.LastBlock)
		}, health.Optional())
	}
	if err := healthServer.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = healthServer.Stop(stopCtx)
	}()

	log.Info(ctx, "all modules started, serving prices")

	// Wait for shutdown
	<-ctx.Done()
	log.Info(context.Background(), "shutting down")
	<-coord.Done()

	return nil
}

func runOnce(ctx context.Context, configPath, format string) error {
	cfg, log, shutdown, err := setup(ctx, configPath)
	if err != nil {
		return err
	}
	defer shutdown()

	mono, err := monolith.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create monolith: %w", err)
	}
	defer mono.Close()

	modules := []monolith.Module{&pricing.Module{}, &snapshot.Module{}}
	if err := mono.RegisterModules(modules...); err != nil {
		return fmt.Errorf("failed to register modules: %w", err)
	}
	// Only pricing starts; the snapshot loop is not needed for one run.
	if err := mono.StartModules(ctx, &pricing.Module{}); err != nil {
		return fmt.Errorf("failed to start modules: %w", err)
	}

	snap, err := snapshot.RunOnce(ctx, mono)
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}

	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	default:
		return console.NewPublisher(os.Stdout, cfg.Refresh.ConsoleTopN).Publish(ctx, snap)
	}
}
