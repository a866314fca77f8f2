package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitechdev/StoreCache/pkg/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func newTestServer(t *testing.T, cfg Config) *GracefulServer {
	t.Helper()
	srv, err := NewGracefulServer(cfg)
	require.NoError(t, err)
	return srv
}

func TestNewGracefulServerDefaults(t *testing.T) {
	srv := newTestServer(t, Config{Handler: okHandler()})

	assert.Equal(t, ":8080", srv.Addr())
	assert.Equal(t, 30*time.Second, srv.shutdownTimeout)
	assert.Equal(t, 25*time.Second, srv.drainTimeout)
	assert.Equal(t, 10*time.Second, srv.server.ReadTimeout)
	assert.Equal(t, 10*time.Second, srv.server.WriteTimeout)
	assert.Equal(t, 120*time.Second, srv.server.IdleTimeout)
}

func TestNewGracefulServerRequiresHandler(t *testing.T) {
	_, err := NewGracefulServer(Config{Addr: ":0"})
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.ServerConfig{
		Addr:            ":9090",
		ShutdownTimeout: 5 * time.Second,
		DrainTimeout:    4 * time.Second,
		ReadTimeout:     time.Second,
		WriteTimeout:    2 * time.Second,
		IdleTimeout:     3 * time.Second,
		Compress:        true,
	}, okHandler())

	assert.Equal(t, ":9090", cfg.Addr)
	assert.NotNil(t, cfg.Handler)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 4*time.Second, cfg.DrainTimeout)
	assert.True(t, cfg.Compress)

	srv := newTestServer(t, cfg)
	assert.Equal(t, time.Second, srv.server.ReadTimeout)
	assert.Equal(t, 2*time.Second, srv.server.WriteTimeout)
	assert.Equal(t, 3*time.Second, srv.server.IdleTimeout)
}

func TestGracefulServerTrackRequests(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 5)
	srv := newTestServer(t, Config{
		Addr: ":0",
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started <- struct{}{}
			<-release
			w.WriteHeader(http.StatusOK)
		}),
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv.server.Handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))
		}()
	}
	for i := 0; i < 5; i++ {
		<-started
	}

	assert.Equal(t, int64(5), srv.InFlightRequests())

	close(release)
	wg.Wait()
	assert.Equal(t, int64(0), srv.InFlightRequests())
}

func TestGracefulServerRejectsRequestsDuringShutdown(t *testing.T) {
	srv := newTestServer(t, Config{Addr: ":0", Handler: okHandler()})
	srv.isShuttingDown.Store(true)

	w := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "service_unavailable")
}

func TestGracefulServerRecoversPanics(t *testing.T) {
	srv := newTestServer(t, Config{
		Addr: ":0",
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}),
	})

	w := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, int64(0), srv.InFlightRequests())
}

func TestGracefulServerCompress(t *testing.T) {
	body := strings.Repeat("storecache ", 1000)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, body)
	})

	t.Run("enabled", func(t *testing.T) {
		srv := newTestServer(t, Config{Addr: ":0", Handler: handler, Compress: true})
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		w := httptest.NewRecorder()
		srv.server.Handler.ServeHTTP(w, req)

		assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
		assert.Less(t, w.Body.Len(), len(body))
	})

	t.Run("disabled", func(t *testing.T) {
		srv := newTestServer(t, Config{Addr: ":0", Handler: handler})
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		w := httptest.NewRecorder()
		srv.server.Handler.ServeHTTP(w, req)

		assert.Empty(t, w.Header().Get("Content-Encoding"))
		assert.Equal(t, body, w.Body.String())
	})
}

func TestHealthCheckHandler(t *testing.T) {
	srv := newTestServer(t, Config{Addr: ":0", Handler: okHandler()})
	handler := srv.HealthCheckHandler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"status":"healthy"}`, w.Body.String())

	srv.isShuttingDown.Store(true)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestReadinessHandler(t *testing.T) {
	srv := newTestServer(t, Config{Addr: ":0", Handler: okHandler()})
	handler := srv.ReadinessHandler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"ready":true,"in_flight_requests":0}`, w.Body.String())

	srv.isShuttingDown.Store(true)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDrainRequests(t *testing.T) {
	srv := newTestServer(t, Config{Addr: ":0", Handler: okHandler()})
	srv.inFlightRequests.Add(3)

	go func() {
		time.Sleep(100 * time.Millisecond)
		srv.inFlightRequests.Add(-3)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	assert.NoError(t, srv.drainRequests(ctx))
	assert.Equal(t, int64(0), srv.InFlightRequests())
}

func TestDrainRequestsTimeout(t *testing.T) {
	srv := newTestServer(t, Config{Addr: ":0", Handler: okHandler()})
	srv.inFlightRequests.Add(2)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	err := srv.drainRequests(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 requests still in flight")
}

func TestShutdownRunsCallbacksInReverseOrder(t *testing.T) {
	srv := newTestServer(t, Config{Addr: ":0", Handler: okHandler()})

	var order []string
	srv.OnShutdown(func(context.Context) error {
		order = append(order, "cache")
		return nil
	})
	srv.OnShutdown(func(context.Context) error {
		order = append(order, "bus")
		return errors.New("bus close failed")
	})

	err := srv.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bus close failed")
	assert.Equal(t, []string{"bus", "cache"}, order)
	assert.True(t, srv.IsShuttingDown())

	// Second call returns the first result without rerunning callbacks.
	assert.Equal(t, err, srv.Shutdown(context.Background()))
	assert.Len(t, order, 2)
	srv.Wait()
}

func TestServeUntilContextDone(t *testing.T) {
	srv := newTestServer(t, Config{
		Handler:         okHandler(),
		ShutdownTimeout: 2 * time.Second,
		DrainTimeout:    time.Second,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
	srv.Wait()
	assert.Equal(t, ln.Addr().String(), srv.Addr())
}

func TestRunListenError(t *testing.T) {
	srv := newTestServer(t, Config{Addr: "256.0.0.1:bad", Handler: okHandler()})
	err := srv.Run(context.Background())
	assert.Error(t, err)
}
