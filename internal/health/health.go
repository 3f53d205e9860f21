// Package health serves liveness, readiness and detailed health endpoints.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/fd1az/pool-pricer/internal/logger"
)

const checkTimeout = 5 * time.Second

// Status is the /health response body.
type Status struct {
	Status    string           `json:"status"`
	Checks    map[string]Check `json:"checks"`
	Version   string           `json:"version,omitempty"`
	Timestamp string           `json:"timestamp"`
}

// Check is the outcome of one check.
type Check struct {
	Healthy   bool   `json:"healthy"`
	Required  bool   `json:"required"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

// CheckFunc reports whether a dependency is healthy, with a short message.
type CheckFunc func(ctx context.Context) (bool, string)

// CheckOption tunes a registered check.
type CheckOption func(*registered)

// Optional keeps a failing check out of readiness. It still shows up in
// /health and turns the overall status to "degraded".
func Optional() CheckOption {
	return func(r *registered) { r.required = false }
}

type registered struct {
	fn       CheckFunc
	required bool
}

// Server serves /live, /ready and /health.
type Server struct {
	port    int
	version string
	log     logger.LoggerInterface

	mu     sync.RWMutex
	checks map[string]registered
	server *http.Server
}

// NewServer creates a server listening on port once started.
func NewServer(port int, version string, log logger.LoggerInterface) *Server {
	return &Server{
		port:    port,
		version: version,
		log:     log,
		checks:  make(map[string]registered),
	}
}

// RegisterCheck adds or replaces a named check. Checks are required for
// readiness unless Optional is passed.
func (s *Server) RegisterCheck(name string, fn CheckFunc, opts ...CheckOption) {
	r := registered{fn: fn, required: true}
	for _, o := range opts {
		o(&r)
	}
	s.mu.Lock()
	s.checks[name] = r
	s.mu.Unlock()
}

// Handler returns the instrumented mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /live", s.handleLive)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /health", s.handleHealth)
	return otelhttp.NewHandler(mux, "health")
}

// Start binds the port and serves in the background. A bind failure is
// returned, serve failures are logged.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("health listen: %w", err)
	}
	s.server = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}

	s.log.Info(ctx, "health server started", "addr", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error(ctx, "health server stopped", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down, waiting for in-flight requests up to ctx.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// evaluate runs every check concurrently under one deadline.
func (s *Server) evaluate(ctx context.Context) map[string]Check {
	s.mu.RLock()
	checks := make(map[string]registered, len(s.checks))
	for name, r := range s.checks {
		checks[name] = r
	}
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[string]Check, len(checks))
		g       errgroup.Group
	)
	for name, r := range checks {
		g.Go(func() error {
			start := time.Now()
			healthy, msg := r.fn(ctx)
			mu.Lock()
			results[name] = Check{
				Healthy:   healthy,
				Required:  r.required,
				Message:   msg,
				LatencyMS: time.Since(start).Milliseconds(),
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ready reports whether every required check passed and whether every
// check passed.
func ready(results map[string]Check) (required, all bool) {
	required, all = true, true
	for _, c := range results {
		if c.Healthy {
			continue
		}
		all = false
		if c.Required {
			required = false
		}
	}
	return required, all
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	results := s.evaluate(r.Context())
	requiredOK, allOK := ready(results)

	status := Status{
		Status:    "ok",
		Checks:    results,
		Version:   s.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK
	switch {
	case !requiredOK:
		status.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	case !allOK:
		status.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.log.Warn(r.Context(), "failed to encode health status", "error", err)
	}
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if ok, _ := ready(s.evaluate(r.Context())); !ok {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("alive"))
}
