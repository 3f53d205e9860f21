package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fd1az/pool-pricer/internal/apperror"
	"github.com/fd1az/pool-pricer/internal/logger"
)

type fixedOracle struct {
	price decimal.Decimal
	calls int
}

func (f *fixedOracle) BTCPrice(context.Context) (decimal.Decimal, error) {
	f.calls++
	return f.price, nil
}

// bookTickerServer expects one SUBSCRIBE request, acks it and pushes one
// combined-stream book ticker.
func bookTickerServer(t *testing.T, got chan<- WSRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ws", r.URL.Path)
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var req WSRequest
		if json.Unmarshal(raw, &req) == nil {
			got <- req
		}

		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"result":null,"id":1}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(
			`{"stream":"btcusdt@bookTicker","data":{"u":1,"s":"BTCUSDT","b":"59999.00","B":"1","a":"60001.00","A":"1"}}`))

		// hold the connection until the client goes away
		_, _, _ = conn.Read(ctx)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStreamOracle_UsesStreamMidPrice(t *testing.T) {
	got := make(chan WSRequest, 1)
	srv := bookTickerServer(t, got)
	fallback := &fixedOracle{price: decimal.NewFromInt(1)}

	s, err := NewStreamOracle(StreamConfig{
		WebSocketURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
		Symbol:       "btcusdt",
		StaleTimeout: time.Minute,
	}, fallback, logger.NewDiscard())
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Connect(ctx))

	select {
	case req := <-got:
		assert.Equal(t, "SUBSCRIBE", req.Method)
		assert.Equal(t, []string{"btcusdt@bookTicker"}, req.Params)
	case <-ctx.Done():
		t.Fatal("no subscribe request received")
	}

	require.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return !s.updated.IsZero()
	}, 3*time.Second, 10*time.Millisecond)

	price, err := s.BTCPrice(ctx)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(60000).Equal(price), "got %s", price)
	assert.Zero(t, fallback.calls)
}

func TestStreamOracle_StaleFallsBack(t *testing.T) {
	fallback := &fixedOracle{price: decimal.NewFromInt(58000)}
	s, err := NewStreamOracle(StreamConfig{WebSocketURL: "ws://127.0.0.1:1", StaleTimeout: time.Second}, fallback, logger.NewDiscard())
	require.NoError(t, err)
	defer s.Close()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	s.handleMessage(context.Background(), []byte(`{"u":1,"s":"BTCUSDT","b":"100","B":"1","a":"102","A":"1"}`))

	price, err := s.BTCPrice(context.Background())
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(101).Equal(price))

	s.now = func() time.Time { return base.Add(2 * time.Second) }
	price, err = s.BTCPrice(context.Background())
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(58000).Equal(price))
	assert.Equal(t, 1, fallback.calls)
}

func TestStreamOracle_NoDataNoFallback(t *testing.T) {
	s, err := NewStreamOracle(StreamConfig{WebSocketURL: "ws://127.0.0.1:1"}, nil, logger.NewDiscard())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.BTCPrice(context.Background())
	assert.Equal(t, apperror.CodeOracleUnavailable, apperror.GetCode(err))
}

func TestDecodeBookTicker(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"raw_event", `{"u":1,"s":"BTCUSDT","b":"1","B":"1","a":"2","A":"1"}`, true},
		{"combined_stream", `{"stream":"btcusdt@bookTicker","data":{"u":1,"s":"BTCUSDT","b":"1","B":"1","a":"2","A":"1"}}`, true},
		{"subscription_ack", `{"result":null,"id":1}`, false},
		{"crossed_book", `{"s":"BTCUSDT","b":"3","B":"1","a":"2","A":"1"}`, false},
		{"zero_bid", `{"s":"BTCUSDT","b":"0","B":"1","a":"2","A":"1"}`, false},
		{"garbage", `not json`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := decodeBookTicker([]byte(tt.raw))
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestBookTicker_MidIgnoresQuantities(t *testing.T) {
	bt, ok := decodeBookTicker([]byte(`{"s":"BTCUSDT","b":"59999.00","B":"0.5","a":"60001.00","A":"7"}`))
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(60000).Equal(bt.Mid()), bt.Mid().String())
}
