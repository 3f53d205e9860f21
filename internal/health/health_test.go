package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fd1az/pool-pricer/internal/logger"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Status {
	t.Helper()
	var status Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	return status
}

func TestHealth_RequiredFailureIsUnhealthy(t *testing.T) {
	s := NewServer(0, "v1.2.3", logger.NewDiscard())
	s.RegisterCheck("snapshot", func(context.Context) (bool, string) { return false, "no snapshot yet" })
	s.RegisterCheck("ethereum", func(context.Context) (bool, string) { return true, "connected, head #19000000" }, Optional())

	rec := get(t, s.Handler(), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	status := decode(t, rec)
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "v1.2.3", status.Version)
	assert.True(t, status.Checks["snapshot"].Required)
	assert.Equal(t, "no snapshot yet", status.Checks["snapshot"].Message)
	assert.False(t, status.Checks["ethereum"].Required)
}

func TestHealth_OptionalFailureIsDegraded(t *testing.T) {
	s := NewServer(0, "", logger.NewDiscard())
	s.RegisterCheck("snapshot", func(context.Context) (bool, string) { return true, "version 4" })
	s.RegisterCheck("ethereum", func(context.Context) (bool, string) { return false, "reconnecting" }, Optional())

	rec := get(t, s.Handler(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", decode(t, rec).Status)

	assert.Equal(t, http.StatusOK, get(t, s.Handler(), "/ready").Code)
}

func TestHealth_ChecksRunConcurrently(t *testing.T) {
	s := NewServer(0, "", logger.NewDiscard())
	var running atomic.Int32
	peak := make(chan struct{})
	slow := func(context.Context) (bool, string) {
		if running.Add(1) == 3 {
			close(peak)
		}
		select {
		case <-peak:
			return true, ""
		case <-time.After(2 * time.Second):
			return false, "ran alone"
		}
	}
	for i := range 3 {
		s.RegisterCheck(fmt.Sprintf("c%d", i), slow)
	}

	rec := get(t, s.Handler(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec).Checks, 3)
}

func TestReadyAndLive(t *testing.T) {
	s := NewServer(0, "", logger.NewDiscard())
	var ok atomic.Bool
	s.RegisterCheck("snapshot", func(context.Context) (bool, string) { return ok.Load(), "" })

	assert.Equal(t, http.StatusServiceUnavailable, get(t, s.Handler(), "/ready").Code)

	ok.Store(true)
	assert.Equal(t, http.StatusOK, get(t, s.Handler(), "/ready").Code)

	rec := get(t, s.Handler(), "/live")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alive", rec.Body.String())
}

func TestServer_StartReportsBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	s := NewServer(port, "", logger.NewDiscard())
	assert.Error(t, s.Start(context.Background()))
	assert.NoError(t, s.Stop(context.Background()))
}
