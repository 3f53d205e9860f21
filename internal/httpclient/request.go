package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ErrBodyTooLarge is returned when a response exceeds the body cap.
var ErrBodyTooLarge = errors.New("response body too large")

// Request builds and executes one GET.
type Request interface {
	SetHeader(key, value string) Request
	SetQueryParam(key, value string) Request
	SetResult(result any) Request
	Get(ctx context.Context, path string) (*Response, error)
}

// Response is an HTTP response with its body already read.
type Response struct {
	StatusCode int
	Header     http.Header
	Attempts   int
	body       []byte
}

// Body returns the raw body.
func (r *Response) Body() []byte { return r.body }

// IsError reports a 4xx or 5xx status.
func (r *Response) IsError() bool { return r.StatusCode >= 400 }

type requestBuilder struct {
	c            *InstrumentedClient
	headers      map[string]string
	query        url.Values
	result       any
	errorHandler ResponseErrorHandler
	labels       []Label
}

func (r *requestBuilder) SetHeader(key, value string) Request {
	r.headers[key] = value
	return r
}

func (r *requestBuilder) SetQueryParam(key, value string) Request {
	if r.query == nil {
		r.query = url.Values{}
	}
	r.query.Set(key, value)
	return r
}

// SetResult sets where a successful JSON body is decoded.
func (r *requestBuilder) SetResult(result any) Request {
	r.result = result
	return r
}

// retryable marks an attempt outcome worth repeating.
type retryable struct{ err error }

func (e *retryable) Error() string { return e.err.Error() }
func (e *retryable) Unwrap() error { return e.err }

func (r *requestBuilder) Get(ctx context.Context, path string) (*Response, error) {
	start := time.Now()
	ctx, span := r.c.tracer.Start(ctx, "http.get",
		trace.WithAttributes(attribute.String("provider", r.c.cfg.provider)),
	)
	defer span.End()

	target, err := r.resolve(path)
	if err != nil {
		return nil, r.finish(ctx, span, start, nil, fmt.Errorf("invalid url: %w", err))
	}
	span.SetAttributes(attribute.String("http.url", target))

	backoff := r.c.cfg.retryBackoff
	var (
		resp    *Response
		attempt int
	)
	for attempt = 1; ; attempt++ {
		resp, err = r.attempt(ctx, target)
		var again *retryable
		if err == nil || !errors.As(err, &again) || attempt > r.c.cfg.retries {
			break
		}
		span.AddEvent("retry", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.String("error", err.Error()),
		))
		select {
		case <-ctx.Done():
			return resp, r.finish(ctx, span, start, resp, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	span.SetAttributes(attribute.Int("http.attempts", attempt))
	if resp != nil {
		resp.Attempts = attempt
	}

	var again *retryable
	if errors.As(err, &again) {
		err = again.err
	}
	if err != nil {
		return resp, r.finish(ctx, span, start, resp, err)
	}

	if r.result != nil && len(resp.body) > 0 {
		if err := json.Unmarshal(resp.body, r.result); err != nil {
			return resp, r.finish(ctx, span, start, resp, fmt.Errorf("failed to decode response: %w", err))
		}
	}
	return resp, r.finish(ctx, span, start, resp, nil)
}

func (r *requestBuilder) attempt(ctx context.Context, target string) (*Response, error) {
	r.c.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", r.c.cfg.provider)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	httpResp, err := r.c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &retryable{err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, r.c.cfg.maxBody+1))
	if err != nil {
		return nil, &retryable{fmt.Errorf("failed to read response body: %w", err)}
	}
	if int64(len(body)) > r.c.cfg.maxBody {
		return nil, fmt.Errorf("%w: over %d bytes", ErrBodyTooLarge, r.c.cfg.maxBody)
	}

	resp := &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, body: body}
	if r.errorHandler != nil {
		err = r.errorHandler(resp.StatusCode, body)
	} else if resp.IsError() {
		err = fmt.Errorf("http %d: %s", resp.StatusCode, truncate(body, 256))
	}
	if err != nil && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) {
		return resp, &retryable{err}
	}
	return resp, err
}

func (r *requestBuilder) resolve(path string) (string, error) {
	full := path
	base := r.c.cfg.baseURL
	if base != "" && !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		full = strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
	}
	u, err := url.Parse(full)
	if err != nil {
		return "", err
	}
	if len(r.query) > 0 {
		q := u.Query()
		for k, vs := range r.query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (r *requestBuilder) finish(ctx context.Context, span trace.Span, start time.Time, resp *Response, err error) error {
	if resp != nil {
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	attrs := []attribute.KeyValue{
		attribute.String("provider", r.c.cfg.provider),
		attribute.Bool("success", err == nil),
	}
	for _, l := range r.labels {
		attrs = append(attrs, attribute.String(l.Key, l.Value))
	}
	set := metric.WithAttributes(attrs...)
	r.c.requests.Add(ctx, 1, set)
	r.c.latency.Record(ctx, time.Since(start).Seconds(), set)
	return err
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
