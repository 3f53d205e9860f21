package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_DecodesResultWithQueryAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "run-7", r.Header.Get("X-Run"))
		_, _ = io.WriteString(w, `{"symbol":"BTCUSDT","price":"60000.10"}`)
	}))
	defer srv.Close()

	c, err := NewInstrumentedClient(
		WithProviderName("binance"),
		WithBaseURL(srv.URL+"/"),
		WithHeaders(map[string]string{"Accept": "application/json"}),
	)
	require.NoError(t, err)

	var out struct {
		Price string `json:"price"`
	}
	resp, err := c.NewRequest().
		SetHeader("X-Run", "run-7").
		SetQueryParam("symbol", "BTCUSDT").
		SetResult(&out).
		Get(context.Background(), "api/v3/ticker/price")

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, resp.Attempts)
	assert.Equal(t, "60000.10", out.Price)
}

func TestGet_AbsoluteURLBypassesBase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pools.json", r.URL.Path)
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	c, err := NewInstrumentedClient(WithBaseURL("http://unused.invalid"))
	require.NoError(t, err)

	_, err = c.NewRequest().Get(context.Background(), srv.URL+"/pools.json")
	require.NoError(t, err)
}

func TestGet_ClientErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, "no such pool list")
	}))
	defer srv.Close()

	c, err := NewInstrumentedClient(WithBaseURL(srv.URL), WithRetries(3, time.Millisecond))
	require.NoError(t, err)

	resp, err := c.NewRequest().Get(context.Background(), "/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
}

func TestGet_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	c, err := NewInstrumentedClient(WithBaseURL(srv.URL), WithRetries(2, time.Millisecond))
	require.NoError(t, err)

	var out struct{ OK bool }
	resp, err := c.NewRequest().SetResult(&out).Get(context.Background(), "/")
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, 3, resp.Attempts)
}

func TestGet_GivesUpAfterRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewInstrumentedClient(WithBaseURL(srv.URL), WithRetries(1, time.Millisecond))
	require.NoError(t, err)

	_, err = c.NewRequest().Get(context.Background(), "/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Equal(t, int32(2), hits.Load())
}

func TestGet_CustomErrorHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"code":-1121}`)
	}))
	defer srv.Close()

	c, err := NewInstrumentedClient(WithBaseURL(srv.URL))
	require.NoError(t, err)

	sentinel := errors.New("invalid symbol")
	_, err = c.NewRequest(WithResponseErrorHandler(func(status int, body []byte) error {
		if status == http.StatusBadRequest && strings.Contains(string(body), "-1121") {
			return sentinel
		}
		return nil
	})).Get(context.Background(), "/")
	assert.ErrorIs(t, err, sentinel)
}

func TestGet_BodyCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, strings.Repeat("x", 2048))
	}))
	defer srv.Close()

	c, err := NewInstrumentedClient(WithBaseURL(srv.URL), WithMaxBodyBytes(1024), WithRetries(2, time.Millisecond))
	require.NoError(t, err)

	_, err = c.NewRequest().Get(context.Background(), "/")
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestGet_DecodeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"pools": [`)
	}))
	defer srv.Close()

	c, err := NewInstrumentedClient()
	require.NoError(t, err)

	var out map[string]any
	_, err = c.NewRequest().SetResult(&out).Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestGet_CancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewInstrumentedClient(WithBaseURL(srv.URL), WithRetries(5, time.Hour))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.NewRequest().Get(ctx, "/")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
