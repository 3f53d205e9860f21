package binance

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/pool-pricer/business/pricing/app"
	"github.com/fd1az/pool-pricer/internal/apperror"
	"github.com/fd1az/pool-pricer/internal/logger"
	"github.com/fd1az/pool-pricer/internal/wsconn"
)

// Ensure StreamOracle implements OracleProvider.
var _ app.OracleProvider = (*StreamOracle)(nil)

const (
	// BaseWSURL is the Binance market stream endpoint.
	BaseWSURL = "wss://stream.binance.com:9443"

	defaultStaleTimeout = 10 * time.Second
)

// StreamConfig holds configuration for the streaming oracle.
type StreamConfig struct {
	WebSocketURL string        // base URL (empty = default); /ws is appended
	Symbol       string        // e.g. BTCUSDT
	StaleTimeout time.Duration // age after which the stream price is not trusted
}

// StreamOracle keeps the bookTicker mid price of one symbol and falls back
// to another provider when the stream is stale or has not delivered yet.
type StreamOracle struct {
	ws       *wsconn.Client
	fallback app.OracleProvider
	symbol   string
	stale    time.Duration
	logger   logger.LoggerInterface
	now      func() time.Time

	mu      sync.RWMutex
	mid     decimal.Decimal
	updated time.Time

	requestID atomic.Int64
	tracer    trace.Tracer
}

// NewStreamOracle creates a streaming oracle. fallback may be nil.
func NewStreamOracle(cfg StreamConfig, fallback app.OracleProvider, log logger.LoggerInterface) (*StreamOracle, error) {
	base := cfg.WebSocketURL
	if base == "" {
		base = BaseWSURL
	}
	symbol := cfg.Symbol
	if symbol == "" {
		symbol = DefaultSymbol
	}
	stale := cfg.StaleTimeout
	if stale <= 0 {
		stale = defaultStaleTimeout
	}

	wsCfg := wsconn.DefaultConfig(strings.TrimSuffix(base, "/")+"/ws", "binance-stream")
	wsCfg.Logger = log
	ws, err := wsconn.New(wsCfg)
	if err != nil {
		return nil, err
	}

	s := &StreamOracle{
		ws:       ws,
		fallback: fallback,
		symbol:   strings.ToUpper(symbol),
		stale:    stale,
		logger:   log,
		now:      time.Now,
		tracer:   otel.Tracer(tracerName),
	}
	ws.OnMessage(s.handleMessage)
	ws.OnStateChange(s.handleState)

	return s, nil
}

// Connect dials the stream and subscribes to the book ticker.
func (s *StreamOracle) Connect(ctx context.Context) error {
	return s.ws.Connect(ctx)
}

// Close closes the stream.
func (s *StreamOracle) Close() error {
	return s.ws.Close()
}

func (s *StreamOracle) handleState(state wsconn.State, err error) {
	if state != wsconn.StateConnected {
		return
	}
	// Subscriptions do not survive a reconnect.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req := WSRequest{
		Method: "SUBSCRIBE",
		Params: []string{bookTickerStream(s.symbol)},
		ID:     s.requestID.Add(1),
	}
	if err := s.ws.SendJSON(ctx, req); err != nil {
		s.logger.Warn(ctx, "binance subscribe failed", "symbol", s.symbol, "error", err)
	}
}

func (s *StreamOracle) handleMessage(ctx context.Context, raw []byte) {
	bt, ok := decodeBookTicker(raw)
	if !ok {
		s.logger.Debug(ctx, "ignoring stream frame", "bytes", len(raw))
		return
	}
	if !strings.EqualFold(bt.Symbol, s.symbol) {
		return
	}
	mid := bt.Mid()

	s.mu.Lock()
	s.mid = mid
	s.updated = s.now()
	s.mu.Unlock()
}

// BTCPrice returns the stream mid price, or the fallback's price when the
// stream is stale.
func (s *StreamOracle) BTCPrice(ctx context.Context) (decimal.Decimal, error) {
	ctx, span := s.tracer.Start(ctx, "binance.stream.btc_price",
		trace.WithAttributes(attribute.String("symbol", s.symbol)),
	)
	defer span.End()

	s.mu.RLock()
	mid, updated := s.mid, s.updated
	s.mu.RUnlock()

	if !updated.IsZero() && s.now().Sub(updated) <= s.stale {
		span.SetAttributes(attribute.String("source", "stream"))
		return mid, nil
	}

	span.SetAttributes(attribute.Bool("stale", true))
	if s.fallback == nil {
		return decimal.Zero, apperror.New(apperror.CodeOracleUnavailable,
			apperror.WithContext("stream price stale and no fallback configured"))
	}

	s.logger.Debug(ctx, "stream price stale, using fallback", "symbol", s.symbol, "last_update", updated)
	span.SetAttributes(attribute.String("source", "fallback"))
	return s.fallback.BTCPrice(ctx)
}
