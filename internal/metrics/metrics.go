// Package metrics configures the OpenTelemetry meter provider and the
// Prometheus scrape endpoint.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"

	"github.com/fd1az/pool-pricer/internal/logger"
)

// MetricProvider is the installed meter provider.
type MetricProvider interface {
	Meter(name string, options ...metric.MeterOption) metric.Meter
	Shutdown(ctx context.Context) error
}

func newReader(ctx context.Context, r Reader) (sdkmetric.Reader, error) {
	switch r.Kind {
	case PrometheusReader:
		exp, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("prometheus exporter: %w", err)
		}
		return exp, nil
	case OTLPReader:
		opts := []otlpmetricgrpc.Option{
			otlpmetricgrpc.WithEndpointURL(r.Endpoint),
			otlpmetricgrpc.WithHeaders(r.Headers),
		}
		if r.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exp, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp), nil
	default:
		return nil, fmt.Errorf("unknown metric reader %q", r.Kind)
	}
}

// NewMetricProvider builds the meter provider and installs it globally.
// With no reader configured instruments are recorded and dropped.
func NewMetricProvider(ctx context.Context, opts ...Option) (MetricProvider, error) {
	s := settings{buckets: DefaultDurationBuckets}
	for _, o := range opts {
		o(&s)
	}
	if s.serviceName == "" {
		s.serviceName = os.Getenv("OTEL_SERVICE_NAME")
	}

	mpOpts := []sdkmetric.Option{
		sdkmetric.WithResource(resource.NewSchemaless(semconv.ServiceNameKey.String(s.serviceName))),
		sdkmetric.WithView(sdkmetric.NewView(
			sdkmetric.Instrument{Name: "*_seconds", Kind: sdkmetric.InstrumentKindHistogram},
			sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: s.buckets}},
		)),
	}
	for _, r := range s.readers {
		reader, err := newReader(ctx, r)
		if err != nil {
			return nil, err
		}
		mpOpts = append(mpOpts, sdkmetric.WithReader(reader))
	}

	mp := sdkmetric.NewMeterProvider(mpOpts...)
	otel.SetMeterProvider(mp)
	return mp, nil
}

// PrometheusServer serves /metrics on its own port.
type PrometheusServer struct {
	port   int
	log    logger.LoggerInterface
	server *http.Server
}

// NewPrometheusServer creates the scrape server. Call Start to listen.
func NewPrometheusServer(port int, log logger.LoggerInterface) *PrometheusServer {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	return &PrometheusServer{
		port:   port,
		log:    log,
		server: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
	}
}

// Start binds the port and serves in the background.
func (s *PrometheusServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}
	s.log.Info(ctx, "serving metrics", "addr", ln.Addr().String(), "path", "/metrics")
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error(ctx, "metrics server stopped", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down.
func (s *PrometheusServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
