package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	pricing "github.com/fd1az/pool-pricer/business/pricing/domain"
	"github.com/fd1az/pool-pricer/business/snapshot/domain"
	"github.com/fd1az/pool-pricer/internal/apperror"
	"github.com/fd1az/pool-pricer/internal/asset"
	"github.com/fd1az/pool-pricer/internal/health"
	"github.com/fd1az/pool-pricer/internal/logger"
	"github.com/fd1az/pool-pricer/internal/ratelimit"
)

const (
	tracerName = "github.com/fd1az/pool-pricer/business/snapshot/app"
	meterName  = "github.com/fd1az/pool-pricer/business/snapshot/app"

	refreshKey = "refresh"
)

// Config controls scheduling and limits of the coordinator.
type Config struct {
	// Interval between scheduled refreshes. Zero disables the schedule.
	Interval   time.Duration
	RunTimeout time.Duration
	// ForceRefreshPerMinute bounds ForceRefresh calls.
	ForceRefreshPerMinute int
	// MaxAge after which the health check reports the snapshot stale.
	MaxAge time.Duration
}

type coordinatorMetrics struct {
	refreshes       metric.Int64Counter
	refreshDuration metric.Float64Histogram
	version         metric.Int64Gauge
	sideEffectErrs  metric.Int64Counter
}

// Coordinator owns the current snapshot. It runs the pricer on schedule, on
// new blocks and on demand, with at most one run in flight, and swaps the
// published snapshot atomically.
type Coordinator struct {
	pricer     Pricer
	store      SnapshotStore
	history    HistoryStore
	publishers []Publisher
	cfg        Config
	logger     logger.LoggerInterface
	now        func() time.Time

	current atomic.Pointer[pricing.Snapshot]
	// mu serialises installs so the version check and swap are atomic.
	mu      sync.Mutex
	version uint64

	group   singleflight.Group
	limiter *ratelimit.Limiter

	statusMu    sync.RWMutex
	lastAttempt time.Time
	lastErr     error
	refreshes   atomic.Int64
	failures    atomic.Int64

	done chan struct{}

	tracer  trace.Tracer
	metrics *coordinatorMetrics
}

// NewCoordinator creates a Coordinator. store and history may be nil.
func NewCoordinator(
	pricer Pricer,
	store SnapshotStore,
	history HistoryStore,
	publishers []Publisher,
	cfg Config,
	log logger.LoggerInterface,
) (*Coordinator, error) {
	if pricer == nil {
		return nil, apperror.Configuration("coordinator requires a pricer")
	}
	if cfg.RunTimeout <= 0 {
		return nil, apperror.Configuration("run timeout must be positive")
	}
	perMinute := cfg.ForceRefreshPerMinute
	if perMinute <= 0 {
		perMinute = 6
	}

	c := &Coordinator{
		pricer:     pricer,
		store:      store,
		history:    history,
		publishers: publishers,
		cfg:        cfg,
		logger:     log,
		now:        time.Now,
		limiter:    ratelimit.PerMinute(perMinute),
		done:       make(chan struct{}),
		tracer:     otel.Tracer(tracerName),
	}
	if err := c.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return c, nil
}

func (c *Coordinator) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	c.metrics = &coordinatorMetrics{}

	c.metrics.refreshes, err = meter.Int64Counter(
		"snapshot_refreshes_total",
		metric.WithDescription("Refresh attempts by reason and result"),
	)
	if err != nil {
		return err
	}

	c.metrics.refreshDuration, err = meter.Float64Histogram(
		"snapshot_refresh_duration_ms",
		metric.WithDescription("Wall time of a refresh including persistence"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	c.metrics.version, err = meter.Int64Gauge(
		"snapshot_version",
		metric.WithDescription("Version of the published snapshot"),
	)
	if err != nil {
		return err
	}

	c.metrics.sideEffectErrs, err = meter.Int64Counter(
		"snapshot_side_effect_errors_total",
		metric.WithDescription("Failed store, history or publisher calls"),
	)
	return err
}

// Current returns the published snapshot, or nil before the first one.
func (c *Coordinator) Current() *pricing.Snapshot {
	return c.current.Load()
}

// Quote looks token up in the published snapshot.
func (c *Coordinator) Quote(token asset.ID) (pricing.Quote, error) {
	snap := c.current.Load()
	if snap == nil {
		return nil, apperror.New(apperror.CodeNotFound,
			apperror.WithContext("no snapshot published yet"))
	}
	return snap.Quote(token), nil
}

// Warm installs the persisted snapshot so readers have data before the
// first run. A missing snapshot is not an error.
func (c *Coordinator) Warm(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	snap, err := c.store.Load(ctx)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeSnapshotStoreError, "load snapshot")
	}
	if snap == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cur := c.current.Load(); cur != nil && cur.Version >= snap.Version {
		return nil
	}
	c.install(ctx, snap)
	c.logger.Info(ctx, "snapshot warmed from store",
		"version", snap.Version,
		"computed_at", snap.ComputedAt,
		"tokens", len(snap.Tokens),
	)
	return nil
}

// Refresh runs the pricer and publishes the result. Concurrent callers share
// one run; each caller stops waiting when its own ctx ends.
func (c *Coordinator) Refresh(ctx context.Context, reason domain.RefreshReason) (*pricing.Snapshot, error) {
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		// the run outlives any single caller
		return c.run(context.WithoutCancel(ctx), reason)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*pricing.Snapshot), nil
	}
}

// ForceRefresh is a rate-limited manual Refresh.
func (c *Coordinator) ForceRefresh(ctx context.Context) (*pricing.Snapshot, error) {
	if ok, wait := c.limiter.Allow(); !ok {
		return nil, apperror.New(apperror.CodeRateLimitExceeded,
			apperror.WithContext(fmt.Sprintf("manual refresh budget exhausted, next in %s", wait.Round(time.Second))))
	}
	return c.Refresh(ctx, domain.ReasonManual)
}

func (c *Coordinator) run(ctx context.Context, reason domain.RefreshReason) (*pricing.Snapshot, error) {
	ctx, span := c.tracer.Start(ctx, "snapshot.refresh",
		trace.WithAttributes(attribute.String("reason", string(reason))),
	)
	defer span.End()

	start := c.now()
	c.statusMu.Lock()
	c.lastAttempt = start
	c.statusMu.Unlock()

	c.mu.Lock()
	startVersion := c.version
	c.mu.Unlock()

	runCtx, cancel := context.WithTimeout(ctx, c.cfg.RunTimeout)
	defer cancel()

	snap, err := c.pricer.Compute(runCtx)
	if err == nil && snap == nil {
		err = apperror.New(apperror.CodeRunFailed, apperror.WithContext("pricer returned no snapshot"))
	}
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && !apperror.IsCode(err, apperror.CodeRunTimeout) {
			err = apperror.New(apperror.CodeRunTimeout,
				apperror.WithCause(err),
				apperror.WithContext(fmt.Sprintf("run exceeded %s", c.cfg.RunTimeout)))
		}
		return nil, c.fail(ctx, span, reason, start, err)
	}

	c.mu.Lock()
	if c.version != startVersion {
		newer := c.version
		c.mu.Unlock()
		err := apperror.New(apperror.CodeRunSuperseded,
			apperror.WithContext(fmt.Sprintf("run started at version %d, published is %d", startVersion, newer)))
		return nil, c.fail(ctx, span, reason, start, err)
	}
	published := snap.WithVersion(startVersion + 1)
	c.install(ctx, published)
	c.mu.Unlock()

	c.refreshes.Add(1)
	c.statusMu.Lock()
	c.lastErr = nil
	c.statusMu.Unlock()

	c.persist(ctx, published)

	c.metrics.refreshes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", string(reason)),
		attribute.String("result", "ok"),
	))
	c.metrics.refreshDuration.Record(ctx, float64(c.now().Sub(start).Milliseconds()))
	span.SetAttributes(
		attribute.Int64("version", int64(published.Version)),
		attribute.Int("tokens_priced", published.Stats.TokensPriced),
	)
	span.SetStatus(codes.Ok, "published")

	c.logger.Info(ctx, "snapshot published",
		"version", published.Version,
		"reason", reason,
		"priced", published.Stats.TokensPriced,
		"unpriced", published.Stats.TokensUnpriced,
		"cycles", published.Stats.Cycles,
		"converged", published.Stats.Converged,
		"duration_ms", published.Stats.Duration.Milliseconds(),
	)
	return published, nil
}

// install swaps the published snapshot. Callers hold c.mu.
func (c *Coordinator) install(ctx context.Context, snap *pricing.Snapshot) {
	c.version = snap.Version
	c.current.Store(snap)
	c.metrics.version.Record(ctx, int64(snap.Version))
}

// persist runs the side effects of a publish. Their failures are logged and
// never undo the publish.
func (c *Coordinator) persist(ctx context.Context, snap *pricing.Snapshot) {
	if c.store != nil {
		if err := c.store.Save(ctx, snap); err != nil {
			c.sideEffectFailed(ctx, "store", err)
		}
	}
	if c.history != nil {
		if err := c.history.Append(ctx, domain.PointsFrom(snap)); err != nil {
			c.sideEffectFailed(ctx, "history", err)
		}
	}
	for _, p := range c.publishers {
		if err := p.Publish(ctx, snap); err != nil {
			c.sideEffectFailed(ctx, "publisher", err)
		}
	}
}

func (c *Coordinator) sideEffectFailed(ctx context.Context, target string, err error) {
	c.metrics.sideEffectErrs.Add(ctx, 1, metric.WithAttributes(attribute.String("target", target)))
	c.logger.Warn(ctx, "snapshot side effect failed", "target", target, "error", err)
}

func (c *Coordinator) fail(ctx context.Context, span trace.Span, reason domain.RefreshReason, start time.Time, err error) error {
	c.failures.Add(1)
	c.statusMu.Lock()
	c.lastErr = err
	c.statusMu.Unlock()

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.metrics.refreshes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", string(reason)),
		attribute.String("result", string(apperror.GetCode(err))),
	))
	c.metrics.refreshDuration.Record(ctx, float64(c.now().Sub(start).Milliseconds()))

	c.logger.Error(ctx, "snapshot refresh failed", "reason", reason, "error", err)
	return err
}

// Start refreshes once, then on every Interval tick and on every value from
// trigger until ctx ends. trigger may be nil.
func (c *Coordinator) Start(ctx context.Context, trigger <-chan uint64) {
	go c.loop(ctx, trigger)
}

// Done is closed when the loop started by Start returns.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

func (c *Coordinator) loop(ctx context.Context, trigger <-chan uint64) {
	defer close(c.done)

	var tick <-chan time.Time
	if c.cfg.Interval > 0 {
		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	c.logger.Info(ctx, "snapshot coordinator started",
		"interval", c.cfg.Interval,
		"block_trigger", trigger != nil,
	)
	_, _ = c.Refresh(ctx, domain.ReasonStartup)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info(ctx, "snapshot coordinator stopping", "reason", ctx.Err())
			return
		case <-tick:
			_, _ = c.Refresh(ctx, domain.ReasonInterval)
		case block, ok := <-trigger:
			if !ok {
				trigger = nil
				continue
			}
			c.logger.Debug(ctx, "refresh on new block", "block", block)
			_, _ = c.Refresh(ctx, domain.ReasonBlock)
		}
	}
}

// Status reports the published version and the outcome of the last attempt.
func (c *Coordinator) Status() domain.Status {
	st := domain.Status{
		Refreshes: c.refreshes.Load(),
		Failures:  c.failures.Load(),
	}
	if snap := c.current.Load(); snap != nil {
		st.Version = snap.Version
		st.ComputedAt = snap.ComputedAt
		st.Age = snap.Age(c.now())
	}
	c.statusMu.RLock()
	st.LastAttempt = c.lastAttempt
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	c.statusMu.RUnlock()
	return st
}

// HealthCheck reports healthy while a snapshot younger than MaxAge exists.
func (c *Coordinator) HealthCheck() health.CheckFunc {
	return func(ctx context.Context) (bool, string) {
		snap := c.current.Load()
		if snap == nil {
			return false, "no snapshot published"
		}
		age := snap.Age(c.now())
		if c.cfg.MaxAge > 0 && age > c.cfg.MaxAge {
			return false, fmt.Sprintf("snapshot v%d is %s old", snap.Version, age.Truncate(time.Second))
		}
		return true, fmt.Sprintf("snapshot v%d, %d tokens priced", snap.Version, len(snap.Tokens))
	}
}
