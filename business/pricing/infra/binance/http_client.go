package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/pool-pricer/internal/apperror"
	"github.com/fd1az/pool-pricer/internal/httpclient"
	"github.com/fd1az/pool-pricer/internal/logger"
)

const (
	tracerName = "github.com/fd1az/pool-pricer/business/pricing/infra/binance"
	meterName  = "github.com/fd1az/pool-pricer/business/pricing/infra/binance"

	// BaseAPIURL is the global REST endpoint; api.binance.us serves US users.
	BaseAPIURL = "https://api.binance.com"

	tickerPriceEndpoint = "/api/v3/ticker/price"

	restTimeout      = 10 * time.Second
	restRetryBackoff = 250 * time.Millisecond
)

// RESTConfig configures the ticker REST client.
type RESTConfig struct {
	BaseURL string
	Timeout time.Duration
	// Retries repeats a lookup after a transport error, 429 or 5xx.
	Retries int
}

// RESTClient reads spot prices from the Binance REST API.
type RESTClient struct {
	client httpclient.Client
	logger logger.LoggerInterface
	tracer trace.Tracer
}

// NewRESTClient creates a RESTClient.
func NewRESTClient(cfg RESTConfig, log logger.LoggerInterface) (*RESTClient, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = BaseAPIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = restTimeout
	}

	client, err := httpclient.NewInstrumentedClient(
		httpclient.WithProviderName("binance"),
		httpclient.WithBaseURL(cfg.BaseURL),
		httpclient.WithRequestTimeout(cfg.Timeout),
		httpclient.WithRetries(cfg.Retries, restRetryBackoff),
		httpclient.WithMaxBodyBytes(64<<10),
		httpclient.WithHeaders(map[string]string{"Accept": "application/json"}),
	)
	if err != nil {
		return nil, fmt.Errorf("binance rest client: %w", err)
	}

	return &RESTClient{client: client, logger: log, tracer: otel.Tracer(tracerName)}, nil
}

// TickerPrice returns the last traded price of symbol.
func (c *RESTClient) TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	ctx, span := c.tracer.Start(ctx, "binance.rest.ticker_price",
		trace.WithAttributes(attribute.String("symbol", symbol)),
	)
	defer span.End()

	var body TickerPrice
	_, err := c.client.NewRequest(
		httpclient.WithLabels(httpclient.Label{Key: "endpoint", Value: "ticker_price"}),
		httpclient.WithResponseErrorHandler(apiError),
	).
		SetQueryParam("symbol", symbol).
		SetResult(&body).
		Get(ctx, tickerPriceEndpoint)
	if err != nil {
		span.RecordError(err)
		return decimal.Zero, apperror.External(apperror.CodeOracleUnavailable, "binance ticker "+symbol, err)
	}

	price := body.Price
	span.SetAttributes(attribute.String("price", price.String()))
	c.logger.Debug(ctx, "binance ticker", "symbol", symbol, "price", price.String())
	return price, nil
}

// APIError is the error body Binance returns with 4xx and 5xx statuses.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance %d (code %d): %s", e.Status, e.Code, e.Message)
}

func apiError(status int, body []byte) error {
	if status < http.StatusBadRequest {
		return nil
	}
	apiErr := &APIError{Status: status}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Code == 0 {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
