package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/bitechdev/StoreCache/pkg/api"
	"github.com/bitechdev/StoreCache/pkg/cache"
	"github.com/bitechdev/StoreCache/pkg/config"
	"github.com/bitechdev/StoreCache/pkg/datasource"
	"github.com/bitechdev/StoreCache/pkg/errortracking"
	"github.com/bitechdev/StoreCache/pkg/invalidation"
	"github.com/bitechdev/StoreCache/pkg/logger"
	"github.com/bitechdev/StoreCache/pkg/metrics"
	"github.com/bitechdev/StoreCache/pkg/middleware"
	"github.com/bitechdev/StoreCache/pkg/server"
	"github.com/bitechdev/StoreCache/pkg/strategy"
	"github.com/bitechdev/StoreCache/pkg/tracing"
)

func main() {
	// A missing .env is fine; configuration then comes from config.yaml and the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Failed to load .env: %v", err)
	}

	cfgMgr := config.NewManager()
	if err := cfgMgr.Load(); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg, err := cfgMgr.GetConfig()
	if err != nil {
		log.Fatalf("Failed to get configuration: %v", err)
	}

	logger.Init(cfg.Logger.Dev)
	if cfg.Logger.Path != "" {
		logger.UpdateLoggerPath(cfg.Logger.Path, cfg.Logger.Dev)
	}
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.ErrorWithCause(err, "StoreCache server failed")
		_ = logger.CloseErrorTracking()
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	tracker, err := errortracking.NewProviderFromConfig(cfg.ErrorTracking)
	if err != nil {
		return fmt.Errorf("error tracking: %w", err)
	}
	logger.InitErrorTracking(tracker)

	shutdownTracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Endpoint:       cfg.Tracing.Endpoint,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	var prom *metrics.PrometheusProvider
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheusProvider(&metrics.Config{
			Enabled:   true,
			Provider:  "prometheus",
			Namespace: cfg.Metrics.Namespace,
		})
		metrics.SetProvider(prom)
	}

	c, err := cache.NewFromConfig(&cfg.Cache)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	cache.SetDefaultCache(c)
	logger.Info("Cache ready with levels %v (prefix %q)", cfg.Cache.Levels, cfg.Cache.KeyPrefix)

	var bus invalidation.Bus
	if cfg.Invalidation.Enabled {
		bus, err = invalidation.NewBusFromConfig(cfg.Invalidation)
		if err != nil {
			_ = c.Close()
			return fmt.Errorf("invalidation bus: %w", err)
		}
		if local := localLevel(c.Provider()); local != nil {
			listener := invalidation.NewListener(local, invalidation.InstanceID(cfg.Invalidation.InstanceID))
			if err := listener.Start(context.Background(), bus); err != nil {
				_ = bus.Close()
				_ = c.Close()
				return fmt.Errorf("invalidation listener: %w", err)
			}
		}
		logger.Info("Invalidation bus %s ready", bus.Stats().ProviderType)
	}

	var layerOpts []datasource.Option
	if bus != nil {
		layerOpts = append(layerOpts, datasource.WithBus(bus))
	}
	layer := datasource.New(c, strategy.DefaultRegistry(), layerOpts...)

	limiter := middleware.NewRateLimiter(cfg.Middleware.RateLimitRPS, cfg.Middleware.RateLimitBurst)
	router := api.NewRouter(api.NewHandler(c, layer, bus), api.RouterOptions{
		RateLimiter: limiter,
		SizeLimiter: middleware.NewRequestSizeLimiter(middleware.DefaultMaxRequestSize),
		Metrics:     prom,
	})

	srv, err := server.NewGracefulServer(server.FromConfig(cfg.Server, router))
	if err != nil {
		limiter.Stop()
		if bus != nil {
			_ = bus.Close()
		}
		_ = c.Close()
		return err
	}
	router.Handle("/health", srv.HealthCheckHandler())
	router.Handle("/ready", srv.ReadinessHandler())

	// Callbacks run in reverse order: bus, then cache, then tracer and error tracking.
	srv.OnShutdown(func(ctx context.Context) error {
		return errors.Join(shutdownTracer(ctx), logger.CloseErrorTracking())
	})
	srv.OnShutdown(func(context.Context) error {
		cache.SetDefaultCache(nil)
		return c.Close()
	})
	if bus != nil {
		srv.OnShutdown(func(context.Context) error { return bus.Close() })
	}
	srv.OnShutdown(func(context.Context) error {
		limiter.Stop()
		return nil
	})

	logger.Info("StoreCache admin server listening on %s", cfg.Server.Addr)
	return srv.ListenAndServe()
}

// localLevel returns the process-local store that bus messages must clear:
// the first level of a coordinator, or the provider itself, when it is in memory.
func localLevel(p cache.Provider) cache.Provider {
	if ml, ok := p.(*cache.MultiLevel); ok {
		p = ml.Levels()[0].Provider
	}
	if _, ok := p.(*cache.MemoryProvider); ok {
		return p
	}
	return nil
}
