// Package ethereum provides Ethereum blockchain infrastructure adapters.
package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/pool-pricer/business/blockchain/app"
	"github.com/fd1az/pool-pricer/business/blockchain/domain"
	"github.com/fd1az/pool-pricer/internal/apperror"
	"github.com/fd1az/pool-pricer/internal/circuitbreaker"
	"github.com/fd1az/pool-pricer/internal/logger"
)

const (
	tracerName = "github.com/fd1az/pool-pricer/business/blockchain/infra/ethereum"
	meterName  = "github.com/fd1az/pool-pricer/business/blockchain/infra/ethereum"
)

var _ app.BlockWatcher = (*Watcher)(nil)

// HeaderReader is the subset of ethclient.Client the watcher needs.
type HeaderReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// WatcherConfig holds configuration for the block watcher.
type WatcherConfig struct {
	PollInterval time.Duration // Head polling interval
	BufferSize   int           // Block channel buffer size
}

// DefaultWatcherConfig returns sensible defaults.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		PollInterval: 12 * time.Second, // ~1 block time
		BufferSize:   16,
	}
}

// watcherMetrics holds OTEL metric instruments.
type watcherMetrics struct {
	blocksReceived  metric.Int64Counter
	pollErrors      metric.Int64Counter
	blocksDropped   metric.Int64Counter
	connectionState metric.Int64Gauge
	blockLatency    metric.Float64Histogram
}

// Watcher polls the latest header over HTTP and emits each new head once.
type Watcher struct {
	config WatcherConfig
	client HeaderReader
	logger logger.LoggerInterface

	state      domain.ConnectionState
	stateMu    sync.RWMutex
	lastBlock  atomic.Uint64
	lastUpdate atomic.Int64
	dropped    atomic.Int64

	watching atomic.Bool
	done     chan struct{}
	closeMu  sync.Mutex
	closed   atomic.Bool

	cb *circuitbreaker.CircuitBreaker[*types.Header]

	tracer  trace.Tracer
	metrics *watcherMetrics
}

// NewWatcher creates a block watcher reading heads from client.
func NewWatcher(client HeaderReader, cfg WatcherConfig, log logger.LoggerInterface) (*Watcher, error) {
	if client == nil {
		return nil, apperror.Configuration("block watcher requires an ethereum client")
	}
	def := DefaultWatcherConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}

	w := &Watcher{
		config: cfg,
		client: client,
		logger: log,
		state:  domain.StateDisconnected,
		done:   make(chan struct{}),
		tracer: otel.Tracer(tracerName),
	}

	if err := w.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	cbCfg := circuitbreaker.DefaultConfig("eth-head")
	cbCfg.OnStateChange = func(name string, from, to gobreaker.State) {
		w.logger.Info(context.Background(), "circuit breaker state change",
			"breaker", name, "from", from.String(), "to", to.String())
	}
	w.cb = circuitbreaker.New[*types.Header](cbCfg)

	return w, nil
}

// initMetrics initializes OTEL metric instruments.
func (w *Watcher) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	w.metrics = &watcherMetrics{}

	w.metrics.blocksReceived, err = meter.Int64Counter(
		"eth_blocks_received_total",
		metric.WithDescription("Total Ethereum blocks observed"),
		metric.WithUnit("{block}"),
	)
	if err != nil {
		return err
	}

	w.metrics.pollErrors, err = meter.Int64Counter(
		"eth_poll_errors_total",
		metric.WithDescription("Total failed head polls"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	w.metrics.blocksDropped, err = meter.Int64Counter(
		"eth_blocks_dropped_total",
		metric.WithDescription("Blocks dropped because the reader was behind"),
		metric.WithUnit("{block}"),
	)
	if err != nil {
		return err
	}

	w.metrics.connectionState, err = meter.Int64Gauge(
		"eth_connection_state",
		metric.WithDescription("Ethereum connection state (0=disconnected, 1=connecting, 2=connected, 3=degraded)"),
		metric.WithUnit("{state}"),
	)
	if err != nil {
		return err
	}

	w.metrics.blockLatency, err = meter.Float64Histogram(
		"eth_block_latency_ms",
		metric.WithDescription("Latency from block timestamp to observation"),
		metric.WithUnit("ms"),
	)
	return err
}

// Watch starts the polling loop. It may be called once per watcher.
func (w *Watcher) Watch(ctx context.Context) (<-chan *domain.Block, error) {
	if w.closed.Load() {
		return nil, errors.New("watcher is closed")
	}
	if !w.watching.CompareAndSwap(false, true) {
		return nil, errors.New("watcher already started")
	}

	w.setState(domain.StateConnecting)
	blocks := make(chan *domain.Block, w.config.BufferSize)
	go w.run(ctx, blocks)
	return blocks, nil
}

func (w *Watcher) run(ctx context.Context, blocks chan<- *domain.Block) {
	defer close(blocks)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.logger.Info(ctx, "block watcher started", "interval", w.config.PollInterval)

	w.poll(ctx, blocks)
	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx, blocks)
		}
	}
}

// poll fetches the latest header and emits it when it is new.
func (w *Watcher) poll(ctx context.Context, blocks chan<- *domain.Block) {
	ctx, span := w.tracer.Start(ctx, "eth.poll.block")
	defer span.End()

	header, err := w.latestHeader(ctx)
	if err != nil {
		span.RecordError(err)
		w.logger.Warn(ctx, "head poll failed", "error", err)
		w.metrics.pollErrors.Add(ctx, 1)
		w.setState(domain.StateDegraded)
		return
	}
	w.setState(domain.StateConnected)

	number := header.Number.Uint64()
	if number <= w.lastBlock.Load() {
		span.AddEvent("duplicate_block")
		return
	}

	block := headerToBlock(header)
	w.lastBlock.Store(block.Number)
	w.lastUpdate.Store(time.Now().UnixNano())

	latency := time.Since(block.Timestamp)
	w.metrics.blockLatency.Record(ctx, float64(latency.Milliseconds()))
	span.SetAttributes(attribute.Int64("block_number", int64(block.Number)))

	select {
	case blocks <- block:
		w.metrics.blocksReceived.Add(ctx, 1)
		w.logger.Debug(ctx, "block received",
			"number", block.Number,
			"hash", block.Hash.Hex()[:10],
			"latency_ms", latency.Milliseconds())
	default:
		w.dropped.Add(1)
		w.metrics.blocksDropped.Add(ctx, 1)
		span.AddEvent("block_dropped_buffer_full")
		w.logger.Warn(ctx, "block dropped, buffer full", "number", block.Number)
	}
	span.SetStatus(codes.Ok, "polled")
}

func (w *Watcher) latestHeader(ctx context.Context) (*types.Header, error) {
	header, err := w.cb.Execute(func() (*types.Header, error) {
		return w.client.HeaderByNumber(ctx, nil) // nil = latest
	})
	if err != nil {
		if apperror.IsCode(err, apperror.CodeCircuitOpen) {
			return nil, err
		}
		return nil, apperror.New(apperror.CodeEthereumRPCError,
			apperror.WithCause(err),
			apperror.WithContext("failed to fetch latest header"))
	}
	if header == nil || header.Number == nil {
		return nil, apperror.New(apperror.CodeEthereumRPCError,
			apperror.WithContext("node returned an empty header"))
	}
	return header, nil
}

// headerToBlock converts an Ethereum header to domain Block.
func headerToBlock(header *types.Header) *domain.Block {
	return &domain.Block{
		Number:     header.Number.Uint64(),
		Hash:       header.Hash(),
		ParentHash: header.ParentHash,
		Timestamp:  time.Unix(int64(header.Time), 0),
	}
}

// LatestBlock retrieves the most recent block.
func (w *Watcher) LatestBlock(ctx context.Context) (*domain.Block, error) {
	ctx, span := w.tracer.Start(ctx, "eth.latest_block")
	defer span.End()

	header, err := w.latestHeader(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, err
	}

	span.SetStatus(codes.Ok, "fetched")
	return headerToBlock(header), nil
}

// Status returns detailed watcher status.
func (w *Watcher) Status() domain.WatcherStatus {
	w.stateMu.RLock()
	state := w.state
	w.stateMu.RUnlock()

	var updated time.Time
	if ns := w.lastUpdate.Load(); ns != 0 {
		updated = time.Unix(0, ns)
	}
	return domain.WatcherStatus{
		State:      state,
		LastBlock:  w.lastBlock.Load(),
		LastUpdate: updated,
		Dropped:    w.dropped.Load(),
	}
}

// Close stops the polling loop.
func (w *Watcher) Close() error {
	w.closeMu.Lock()
	defer w.closeMu.Unlock()

	if w.closed.Load() {
		return nil
	}

	w.logger.Info(context.Background(), "closing block watcher")

	w.closed.Store(true)
	close(w.done)
	w.setState(domain.StateDisconnected)
	return nil
}

// setState updates the connection state and records metrics.
func (w *Watcher) setState(state domain.ConnectionState) {
	w.stateMu.Lock()
	w.state = state
	w.stateMu.Unlock()

	stateValue := int64(0)
	switch state {
	case domain.StateDisconnected:
		stateValue = 0
	case domain.StateConnecting:
		stateValue = 1
	case domain.StateConnected:
		stateValue = 2
	case domain.StateDegraded:
		stateValue = 3
	}

	w.metrics.connectionState.Record(context.Background(), stateValue)
}
