// Package httpclient is a JSON-over-HTTP client with OpenTelemetry traces and
// metrics, used for upstream APIs such as pool indexers and exchanges.
package httpclient

import (
	"context"
	"fmt"
	"maps"
	"net"
	"net/http"
	"net/http/httptrace"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/httptrace/otelhttptrace"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/fd1az/pool-pricer/internal/httpclient"

	defaultTimeout      = 10 * time.Second
	defaultMaxBody      = 32 << 20
	defaultRetryBackoff = 200 * time.Millisecond
)

// Client builds requests.
type Client interface {
	NewRequest(opts ...RequestOption) Request
}

var _ Client = (*InstrumentedClient)(nil)

// InstrumentedClient issues GET requests and decodes JSON responses.
type InstrumentedClient struct {
	http     *http.Client
	cfg      clientConfig
	tracer   trace.Tracer
	requests metric.Int64Counter
	attempts metric.Int64Counter
	latency  metric.Float64Histogram
}

// NewInstrumentedClient creates a client.
func NewInstrumentedClient(opts ...ClientOption) (*InstrumentedClient, error) {
	cfg := clientConfig{
		provider:     "default",
		timeout:      defaultTimeout,
		maxBody:      defaultMaxBody,
		retryBackoff: defaultRetryBackoff,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.retries < 0 {
		cfg.retries = 0
	}

	transport := cfg.transport
	if transport == nil {
		transport = &http.Transport{
			DialContext:           (&net.Dialer{KeepAlive: 10 * time.Second}).DialContext,
			MaxConnsPerHost:       5,
			IdleConnTimeout:       2 * time.Minute,
			ExpectContinueTimeout: 100 * time.Millisecond,
		}
	}

	c := &InstrumentedClient{
		http: &http.Client{
			Timeout: cfg.timeout,
			Transport: otelhttp.NewTransport(transport,
				otelhttp.WithClientTrace(func(ctx context.Context) *httptrace.ClientTrace {
					return otelhttptrace.NewClientTrace(ctx)
				}),
			),
		},
		cfg:    cfg,
		tracer: otel.Tracer(instrumentationName),
	}
	if err := c.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return c, nil
}

func (c *InstrumentedClient) initMetrics() error {
	meter := otel.GetMeterProvider().Meter(instrumentationName,
		metric.WithInstrumentationAttributes(attribute.String("provider", c.cfg.provider)),
	)

	var err error
	c.requests, err = meter.Int64Counter("http_client_requests_total",
		metric.WithDescription("HTTP requests by outcome, retries folded in"))
	if err != nil {
		return err
	}
	c.attempts, err = meter.Int64Counter("http_client_attempts_total",
		metric.WithDescription("HTTP attempts including retries"))
	if err != nil {
		return err
	}
	c.latency, err = meter.Float64Histogram("http_client_request_duration_seconds",
		metric.WithDescription("HTTP request latency including retries"),
		metric.WithUnit("s"))
	return err
}

// NewRequest starts a request carrying the client's default headers.
func (c *InstrumentedClient) NewRequest(opts ...RequestOption) Request {
	r := &requestBuilder{c: c, headers: maps.Clone(c.cfg.headers)}
	if r.headers == nil {
		r.headers = map[string]string{}
	}
	for _, o := range opts {
		o(r)
	}
	return r
}
