package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/klauspost/compress/gzip"

	"github.com/bitechdev/StoreCache/pkg/config"
	"github.com/bitechdev/StoreCache/pkg/logger"
	"github.com/bitechdev/StoreCache/pkg/middleware"
)

// Config holds configuration for the graceful server
type Config struct {
	// Addr is the server address (e.g., ":8080")
	Addr string

	// Handler is the HTTP handler
	Handler http.Handler

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	// Default: 30 seconds
	ShutdownTimeout time.Duration

	// DrainTimeout is the time to wait for in-flight requests to complete
	// before forcing shutdown. Default: 25 seconds
	DrainTimeout time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Compress gzips responses for clients that accept it
	Compress bool
}

// FromConfig builds a server Config from the loaded application configuration.
func FromConfig(cfg config.ServerConfig, handler http.Handler) Config {
	return Config{
		Addr:            cfg.Addr,
		Handler:         handler,
		ShutdownTimeout: cfg.ShutdownTimeout,
		DrainTimeout:    cfg.DrainTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		IdleTimeout:     cfg.IdleTimeout,
		Compress:        cfg.Compress,
	}
}

// ShutdownCallback is a function called during shutdown
type ShutdownCallback func(context.Context) error

// GracefulServer wraps http.Server with request draining and shutdown hooks
type GracefulServer struct {
	server           *http.Server
	shutdownTimeout  time.Duration
	drainTimeout     time.Duration
	inFlightRequests atomic.Int64
	isShuttingDown   atomic.Bool
	listenAddr       atomic.Value
	shutdownOnce     sync.Once
	shutdownErr      error
	shutdownComplete chan struct{}

	callbacksMu sync.Mutex
	callbacks   []ShutdownCallback
}

// NewGracefulServer creates a new graceful server. The handler is wrapped
// with panic recovery, optional gzip and in-flight request tracking.
func NewGracefulServer(cfg Config) (*GracefulServer, error) {
	if cfg.Handler == nil {
		return nil, errors.New("server: handler is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = 25 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 120 * time.Second
	}

	gs := &GracefulServer{
		shutdownTimeout:  cfg.ShutdownTimeout,
		drainTimeout:     cfg.DrainTimeout,
		shutdownComplete: make(chan struct{}),
	}

	handler := cfg.Handler
	if cfg.Compress {
		gz, err := gzhttp.NewWrapper(gzhttp.CompressionLevel(gzip.BestSpeed))
		if err != nil {
			return nil, fmt.Errorf("failed to create GZIP wrapper: %w", err)
		}
		handler = gz(handler)
	}
	handler = middleware.PanicRecovery(handler)
	handler = gs.TrackRequestsMiddleware(handler)

	gs.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return gs, nil
}

// TrackRequestsMiddleware tracks in-flight requests and blocks new requests during shutdown
func (gs *GracefulServer) TrackRequestsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gs.isShuttingDown.Load() {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Connection", "close")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"service_unavailable","message":"Server is shutting down"}`))
			return
		}

		gs.inFlightRequests.Add(1)
		defer gs.inFlightRequests.Add(-1)

		next.ServeHTTP(w, r)
	})
}

// OnShutdown registers a callback that runs after the HTTP server has stopped.
// Callbacks run in reverse registration order.
func (gs *GracefulServer) OnShutdown(cb ShutdownCallback) {
	gs.callbacksMu.Lock()
	defer gs.callbacksMu.Unlock()
	gs.callbacks = append(gs.callbacks, cb)
}

// ListenAndServe serves until SIGINT or SIGTERM, then shuts down gracefully.
func (gs *GracefulServer) ListenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return gs.Run(ctx)
}

// Run listens on the configured address and serves until ctx is done.
func (gs *GracefulServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", gs.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", gs.server.Addr, err)
	}
	return gs.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down.
func (gs *GracefulServer) Serve(ctx context.Context, ln net.Listener) error {
	gs.listenAddr.Store(ln.Addr().String())

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server on %s", ln.Addr())
		if err := gs.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		logger.Info("Stop requested (%v), initiating graceful shutdown", context.Cause(ctx))
		return gs.Shutdown(context.Background())
	}
}

// Addr returns the address the server is listening on, or the configured
// address before it has started.
func (gs *GracefulServer) Addr() string {
	if addr, ok := gs.listenAddr.Load().(string); ok {
		return addr
	}
	return gs.server.Addr
}

// Shutdown stops accepting requests, drains in-flight ones, stops the HTTP
// server and runs the registered callbacks. Later calls return the first result.
func (gs *GracefulServer) Shutdown(ctx context.Context) error {
	gs.shutdownOnce.Do(func() {
		logger.Info("Starting graceful shutdown...")
		gs.isShuttingDown.Store(true)

		shutdownCtx, cancel := context.WithTimeout(ctx, gs.shutdownTimeout)
		defer cancel()

		drainCtx, drainCancel := context.WithTimeout(shutdownCtx, gs.drainTimeout)
		defer drainCancel()

		var errs []error
		if err := gs.drainRequests(drainCtx); err != nil {
			logger.Error("Error draining requests: %v", err)
			errs = append(errs, err)
		}

		logger.Info("Shutting down HTTP server...")
		if err := gs.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down server: %v", err)
			errs = append(errs, err)
		}

		if err := gs.runCallbacks(shutdownCtx); err != nil {
			errs = append(errs, err)
		}

		gs.shutdownErr = errors.Join(errs...)
		logger.Info("Graceful shutdown complete")
		close(gs.shutdownComplete)
	})

	return gs.shutdownErr
}

func (gs *GracefulServer) runCallbacks(ctx context.Context) error {
	gs.callbacksMu.Lock()
	callbacks := make([]ShutdownCallback, len(gs.callbacks))
	copy(callbacks, gs.callbacks)
	gs.callbacksMu.Unlock()

	var errs []error
	for i := len(callbacks) - 1; i >= 0; i-- {
		logger.Debug("Executing shutdown callback %d/%d", len(callbacks)-i, len(callbacks))
		if err := callbacks[i](ctx); err != nil {
			logger.Error("Shutdown callback %d failed: %v", len(callbacks)-i, err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown callbacks failed: %w", errors.Join(errs...))
	}
	return nil
}

// drainRequests waits for in-flight requests to complete
func (gs *GracefulServer) drainRequests(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	startTime := time.Now()

	for {
		inFlight := gs.inFlightRequests.Load()
		if inFlight == 0 {
			logger.Info("All requests drained in %v", time.Since(startTime))
			return nil
		}

		select {
		case <-ctx.Done():
			logger.Warn("Drain timeout exceeded with %d requests still in flight", inFlight)
			return fmt.Errorf("drain timeout exceeded: %d requests still in flight", inFlight)
		case <-ticker.C:
			logger.Debug("Waiting for %d in-flight requests to complete...", inFlight)
		}
	}
}

// InFlightRequests returns the current number of in-flight requests
func (gs *GracefulServer) InFlightRequests() int64 {
	return gs.inFlightRequests.Load()
}

// IsShuttingDown returns true if the server is shutting down
func (gs *GracefulServer) IsShuttingDown() bool {
	return gs.isShuttingDown.Load()
}

// Wait blocks until shutdown is complete
func (gs *GracefulServer) Wait() {
	<-gs.shutdownComplete
}

// HealthCheckHandler returns 200 while serving and 503 once shutdown has begun.
func (gs *GracefulServer) HealthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if gs.IsShuttingDown() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"shutting_down"}`))
			return
		}

		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"healthy"}`)); err != nil {
			logger.Warn("Failed to write. %v", err)
		}
	}
}

// ReadinessHandler reports readiness along with the in-flight request count.
func (gs *GracefulServer) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if gs.IsShuttingDown() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"ready":false,"reason":"shutting_down"}`))
			return
		}

		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"ready":true,"in_flight_requests":%d}`, gs.InFlightRequests())
	}
}
