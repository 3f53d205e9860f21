package binance

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/pool-pricer/business/pricing/app"
	"github.com/fd1az/pool-pricer/internal/apperror"
	"github.com/fd1az/pool-pricer/internal/cache"
	"github.com/fd1az/pool-pricer/internal/circuitbreaker"
	"github.com/fd1az/pool-pricer/internal/logger"
)

// Ensure Oracle implements OracleProvider.
var _ app.OracleProvider = (*Oracle)(nil)

// DefaultSymbol is the market used for the BTC anchor.
const DefaultSymbol = "BTCUSDT"

// OracleConfig holds configuration for the REST oracle.
type OracleConfig struct {
	Symbol   string
	CacheTTL time.Duration // zero disables caching
	REST     RESTConfig
}

// Oracle prices the BTC anchor from the REST ticker, caching the last
// value for CacheTTL and guarding the endpoint with a circuit breaker.
type Oracle struct {
	rest   *RESTClient
	symbol string
	ttl    time.Duration
	cache  *cache.Cache[string, decimal.Decimal]
	cb     *circuitbreaker.CircuitBreaker[decimal.Decimal]
	logger logger.LoggerInterface

	tracer  trace.Tracer
	fetches metric.Int64Counter
}

// NewOracle creates a REST oracle.
func NewOracle(cfg OracleConfig, log logger.LoggerInterface) (*Oracle, error) {
	rest, err := NewRESTClient(cfg.REST, log)
	if err != nil {
		return nil, err
	}

	symbol := cfg.Symbol
	if symbol == "" {
		symbol = DefaultSymbol
	}

	fetches, err := otel.Meter(meterName).Int64Counter(
		"binance_oracle_fetches_total",
		metric.WithDescription("BTC price lookups by source"),
	)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	cbCfg := circuitbreaker.DefaultConfig("binance-rest")
	cbCfg.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Info(context.Background(), "circuit breaker state change",
			"breaker", name, "from", from.String(), "to", to.String())
	}

	return &Oracle{
		rest:    rest,
		symbol:  symbol,
		ttl:     cfg.CacheTTL,
		cache:   cache.New[string, decimal.Decimal](time.Minute),
		cb:      circuitbreaker.New[decimal.Decimal](cbCfg),
		logger:  log,
		tracer:  otel.Tracer(tracerName),
		fetches: fetches,
	}, nil
}

// BTCPrice returns the cached price when fresh, otherwise the REST ticker.
func (o *Oracle) BTCPrice(ctx context.Context) (decimal.Decimal, error) {
	ctx, span := o.tracer.Start(ctx, "binance.oracle.btc_price",
		trace.WithAttributes(attribute.String("symbol", o.symbol)),
	)
	defer span.End()

	if o.ttl > 0 {
		if p, ok := o.cache.Get(ctx, o.symbol); ok {
			span.SetAttributes(attribute.String("source", "cache"))
			o.fetches.Add(ctx, 1, metric.WithAttributes(attribute.String("source", "cache")))
			return p, nil
		}
	}

	price, err := o.cb.Execute(func() (decimal.Decimal, error) {
		return o.rest.TickerPrice(ctx, o.symbol)
	})
	if err != nil {
		span.RecordError(err)
		o.fetches.Add(ctx, 1, metric.WithAttributes(attribute.String("source", "error")))
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, apperror.New(apperror.CodeOracleUnavailable,
			apperror.WithContext(fmt.Sprintf("%s price %s is not positive", o.symbol, price)))
	}

	if o.ttl > 0 {
		o.cache.Set(ctx, o.symbol, price, o.ttl)
	}
	span.SetAttributes(attribute.String("source", "rest"), attribute.String("price", price.String()))
	o.fetches.Add(ctx, 1, metric.WithAttributes(attribute.String("source", "rest")))

	return price, nil
}

// Close stops the cache janitor.
func (o *Oracle) Close() error {
	o.cache.Close()
	return nil
}
