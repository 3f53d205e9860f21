package poolsource

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/pool-pricer/business/pricing/app"
	"github.com/fd1az/pool-pricer/business/pricing/domain"
	"github.com/fd1az/pool-pricer/internal/apperror"
	"github.com/fd1az/pool-pricer/internal/httpclient"
	"github.com/fd1az/pool-pricer/internal/logger"
)

const (
	tracerName = "github.com/fd1az/pool-pricer/business/pricing/infra/poolsource"

	defaultHTTPTimeout = 10 * time.Second
)

var _ app.PoolSource = (*HTTPSource)(nil)

// HTTPSource fetches a Document with GET from a fixed URL.
type HTTPSource struct {
	url    string
	client httpclient.Client
	logger logger.LoggerInterface
	tracer trace.Tracer
	now    func() time.Time
}

// HTTPConfig configures an HTTPSource.
type HTTPConfig struct {
	URL     string
	Timeout time.Duration
	// Retries repeats the GET after a transport error, 429 or 5xx.
	Retries int
}

// NewHTTPSource creates a source for cfg.URL.
func NewHTTPSource(cfg HTTPConfig, log logger.LoggerInterface) (*HTTPSource, error) {
	if cfg.URL == "" {
		return nil, apperror.Configuration("pool source http url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}

	client, err := httpclient.NewInstrumentedClient(
		httpclient.WithProviderName("poolsource"),
		httpclient.WithRequestTimeout(cfg.Timeout),
		httpclient.WithRetries(cfg.Retries, 500*time.Millisecond),
		httpclient.WithHeaders(map[string]string{"Accept": "application/json"}),
	)
	if err != nil {
		return nil, err
	}

	return &HTTPSource{
		url:    cfg.URL,
		client: client,
		logger: log,
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}, nil
}

// FetchPools implements app.PoolSource.
func (s *HTTPSource) FetchPools(ctx context.Context) (*domain.PoolSet, error) {
	ctx, span := s.tracer.Start(ctx, "poolsource.FetchPools",
		trace.WithAttributes(attribute.String("url", s.url)),
	)
	defer span.End()

	var doc Document
	_, err := s.client.NewRequest(
		httpclient.WithLabels(httpclient.Label{Key: "endpoint", Value: "pools"}),
	).SetResult(&doc).Get(ctx, s.url)
	if err != nil {
		span.RecordError(err)
		return nil, apperror.External(apperror.CodePoolSourceFailed, "GET "+s.url, err)
	}

	set, warnings := doc.ToPoolSet(s.now())
	logWarnings(ctx, s.logger, "http", warnings)

	span.SetAttributes(
		attribute.Int("pools", len(set.Pools)),
		attribute.Int("tokens", set.Tokens.Count()),
	)
	return set, nil
}
