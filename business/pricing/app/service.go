package app

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/fd1az/pool-pricer/business/pricing/domain"
	"github.com/fd1az/pool-pricer/internal/apperror"
	"github.com/fd1az/pool-pricer/internal/asset"
	"github.com/fd1az/pool-pricer/internal/logger"
)

const (
	tracerName = "github.com/fd1az/pool-pricer/business/pricing/app"
	meterName  = "github.com/fd1az/pool-pricer/business/pricing/app"
)

type serviceMetrics struct {
	runs        metric.Int64Counter
	runDuration metric.Float64Histogram
	cycles      metric.Int64Histogram
	priced      metric.Int64Gauge
	unpriced    metric.Int64Gauge
	diagnostics metric.Int64Counter
	btcPrice    metric.Float64Gauge
}

// PricingService gathers one run's inputs and executes the engine.
type PricingService struct {
	source  PoolSource
	oracle  OracleProvider
	engine  *domain.Engine
	anchors domain.AnchorConfig
	tokens  *asset.Registry
	logger  logger.LoggerInterface
	now     func() time.Time

	tracer  trace.Tracer
	metrics *serviceMetrics
}

// NewPricingService creates a PricingService. tokens holds configured token
// metadata; pool sources may add to it per run.
func NewPricingService(
	source PoolSource,
	oracle OracleProvider,
	engine *domain.Engine,
	anchors domain.AnchorConfig,
	tokens *asset.Registry,
	log logger.LoggerInterface,
) (*PricingService, error) {
	if tokens == nil {
		tokens = asset.NewRegistry()
	}
	s := &PricingService{
		source:  source,
		oracle:  oracle,
		engine:  engine,
		anchors: anchors,
		tokens:  tokens,
		logger:  log,
		now:     time.Now,
		tracer:  otel.Tracer(tracerName),
	}
	if err := s.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return s, nil
}

func (s *PricingService) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	s.metrics = &serviceMetrics{}

	s.metrics.runs, err = meter.Int64Counter(
		"pricing_runs_total",
		metric.WithDescription("Pricing runs by outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return err
	}

	s.metrics.runDuration, err = meter.Float64Histogram(
		"pricing_run_duration_ms",
		metric.WithDescription("Wall time of a pricing run"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	s.metrics.cycles, err = meter.Int64Histogram(
		"pricing_run_cycles",
		metric.WithDescription("Propagation cycles per run"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return err
	}

	s.metrics.priced, err = meter.Int64Gauge(
		"pricing_tokens_priced",
		metric.WithDescription("Tokens priced by the last run"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return err
	}

	s.metrics.unpriced, err = meter.Int64Gauge(
		"pricing_tokens_unpriced",
		metric.WithDescription("Tokens left unpriced by the last run"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return err
	}

	s.metrics.diagnostics, err = meter.Int64Counter(
		"pricing_diagnostics_total",
		metric.WithDescription("Diagnostics recorded by runs"),
	)
	if err != nil {
		return err
	}

	s.metrics.btcPrice, err = meter.Float64Gauge(
		"pricing_btc_anchor_usd",
		metric.WithDescription("BTC anchor price used by the last run"),
		metric.WithUnit("USD"),
	)
	return err
}

// Compute fetches the oracle price and the pool set concurrently and runs
// the engine over them. Nothing is published here; the caller decides.
func (s *PricingService) Compute(ctx context.Context) (*domain.Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "pricing.compute")
	defer span.End()

	start := time.Now()

	var (
		btcPrice decimal.Decimal
		set      *domain.PoolSet
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.oracle.BTCPrice(gctx)
		if err != nil {
			return apperror.Wrap(err, apperror.CodeOracleUnavailable, "btc price")
		}
		btcPrice = p
		return nil
	})
	g.Go(func() error {
		ps, err := s.source.FetchPools(gctx)
		if err != nil {
			return apperror.Wrap(err, apperror.CodePoolSourceFailed, "fetch pools")
		}
		if ps == nil {
			return apperror.New(apperror.CodePoolSourceFailed, apperror.WithContext("source returned no pool set"))
		}
		set = ps
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, s.fail(ctx, span, start, err)
	}

	tokens := s.mergeTokens(ctx, set.Tokens)
	span.SetAttributes(
		attribute.Int("pools", len(set.Pools)),
		attribute.Int("tokens", tokens.Count()),
		attribute.String("btc_price", btcPrice.String()),
		attribute.Int64("block", int64(set.BlockNumber)),
	)

	snap, err := s.engine.Price(ctx, domain.Input{
		Pools:       set.Pools,
		Tokens:      tokens,
		Anchors:     s.anchors,
		BTCPrice:    btcPrice,
		BlockNumber: set.BlockNumber,
		Now:         s.now().UTC(),
	})
	if err != nil {
		return nil, s.fail(ctx, span, start, err)
	}
	snap.Stats.Duration = time.Since(start)

	s.record(ctx, snap, btcPrice)
	span.SetAttributes(
		attribute.Int("cycles", snap.Stats.Cycles),
		attribute.Bool("converged", snap.Stats.Converged),
		attribute.Int("priced", snap.Stats.TokensPriced),
		attribute.Int("unpriced", snap.Stats.TokensUnpriced),
	)
	span.SetStatus(codes.Ok, "computed")

	s.logger.Info(ctx, "pricing run complete",
		"priced", snap.Stats.TokensPriced,
		"unpriced", snap.Stats.TokensUnpriced,
		"pools", snap.Stats.PoolsTotal,
		"cycles", snap.Stats.Cycles,
		"converged", snap.Stats.Converged,
		"duration_ms", snap.Stats.Duration.Milliseconds(),
	)
	return snap, nil
}

// mergeTokens layers the source's token metadata under the configured one.
// Configured entries win on conflict.
func (s *PricingService) mergeTokens(ctx context.Context, fromSource *asset.Registry) *asset.Registry {
	merged := asset.NewRegistry()
	merged.Merge(s.tokens)
	for _, err := range merged.Merge(fromSource) {
		s.logger.Warn(ctx, "token metadata conflict, keeping configured value", "error", err)
	}
	return merged
}

func (s *PricingService) record(ctx context.Context, snap *domain.Snapshot, btcPrice decimal.Decimal) {
	ok := metric.WithAttributes(attribute.String("status", "ok"))
	s.metrics.runs.Add(ctx, 1, ok)
	s.metrics.runDuration.Record(ctx, float64(snap.Stats.Duration.Milliseconds()), ok)
	s.metrics.cycles.Record(ctx, int64(snap.Stats.Cycles))
	s.metrics.priced.Record(ctx, int64(snap.Stats.TokensPriced))
	s.metrics.unpriced.Record(ctx, int64(snap.Stats.TokensUnpriced))
	s.metrics.btcPrice.Record(ctx, btcPrice.InexactFloat64())

	for _, d := range snap.Diagnostics {
		s.metrics.diagnostics.Add(ctx, 1, metric.WithAttributes(
			attribute.String("code", string(d.Code)),
			attribute.String("severity", string(d.Severity)),
		))
		s.logger.Debug(ctx, "pricing diagnostic",
			"code", d.Code, "severity", d.Severity, "pool", d.PoolID, "token", d.TokenID, "message", d.Message)
	}
	for sev, n := range domain.CountBySeverity(snap.Diagnostics) {
		if sev != domain.SeverityInfo && n > 0 {
			s.logger.Warn(ctx, "pricing run recorded diagnostics", "severity", sev, "count", n)
		}
	}
}

func (s *PricingService) fail(ctx context.Context, span trace.Span, start time.Time, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	attrs := metric.WithAttributes(
		attribute.String("status", "error"),
		attribute.String("code", string(apperror.GetCode(err))),
	)
	s.metrics.runs.Add(ctx, 1, attrs)
	s.metrics.runDuration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)

	s.logger.Error(ctx, "pricing run failed", "error", err, "kind", apperror.GetKind(err))
	return err
}
