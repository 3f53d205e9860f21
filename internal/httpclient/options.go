package httpclient

import (
	"net/http"
	"time"
)

type clientConfig struct {
	provider     string
	baseURL      string
	timeout      time.Duration
	headers      map[string]string
	transport    http.RoundTripper
	retries      int
	retryBackoff time.Duration
	maxBody      int64
}

// ClientOption configures an InstrumentedClient.
type ClientOption func(*clientConfig)

// WithProviderName tags metrics and spans with the upstream's name.
func WithProviderName(name string) ClientOption {
	return func(c *clientConfig) { c.provider = name }
}

// WithBaseURL resolves relative request paths against url. Absolute URLs
// pass through unchanged.
func WithBaseURL(url string) ClientOption {
	return func(c *clientConfig) { c.baseURL = url }
}

// WithRequestTimeout bounds each attempt, retries included separately.
func WithRequestTimeout(timeout time.Duration) ClientOption {
	return func(c *clientConfig) { c.timeout = timeout }
}

// WithHeaders sets headers sent on every request.
func WithHeaders(headers map[string]string) ClientOption {
	return func(c *clientConfig) { c.headers = headers }
}

// WithTransport replaces the pooled default transport.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *clientConfig) { c.transport = rt }
}

// WithRetries retries transport errors, 429 and 5xx responses up to n more
// times, doubling backoff between attempts.
func WithRetries(n int, backoff time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.retries = n
		c.retryBackoff = backoff
	}
}

// WithMaxBodyBytes caps how much of a response body is read.
func WithMaxBodyBytes(n int64) ClientOption {
	return func(c *clientConfig) { c.maxBody = n }
}

// RequestOption configures a single request.
type RequestOption func(*requestBuilder)

// ResponseErrorHandler maps a response to an error, or nil when it is fine.
type ResponseErrorHandler func(statusCode int, body []byte) error

// WithResponseErrorHandler replaces the default status check.
func WithResponseErrorHandler(handler ResponseErrorHandler) RequestOption {
	return func(r *requestBuilder) { r.errorHandler = handler }
}

// Label is a key-value pair added to request metrics.
type Label struct {
	Key   string
	Value string
}

// WithLabels adds metric labels to the request.
func WithLabels(labels ...Label) RequestOption {
	return func(r *requestBuilder) { r.labels = append(r.labels, labels...) }
}
