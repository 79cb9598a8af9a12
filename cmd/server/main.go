package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	imageproxyhandlers "Imgate/internal/api/handlers/imageproxy"
	"Imgate/internal/api/middleware"
	"Imgate/internal/api/routes"
	"Imgate/internal/core/imageproxy"
	redisstore "Imgate/internal/db/redis"
	"Imgate/internal/observability"
)

const (
	shutdownTimeout = 10 * time.Second
	pingTimeout     = 2 * time.Second
)

func main() {
	if err := loadDotEnv(); err != nil {
		log.Fatal("Failed to load env file:", err)
	}

	logger, logCloser, err := observability.NewLogger(observability.LogConfigFromEnv())
	if err != nil {
		log.Fatal("Failed to set up logging:", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server exited with error", "error", err)
		_ = logCloser.Close()
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := loadServerConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis is optional at startup: requests degrade individually while it is down.
	redisCfg, err := redisstore.ClientConfigFromEnv()
	if err != nil {
		return fmt.Errorf("redis config: %w", err)
	}
	client, err := redisstore.NewClient(redisCfg)
	if err != nil {
		return fmt.Errorf("redis client: %w", err)
	}
	store := redisstore.NewStore(client)
	defer store.Close()

	pingCtx, cancelPing := context.WithTimeout(ctx, pingTimeout)
	if err := store.Ping(pingCtx); err != nil {
		logger.Warn("Redis not reachable at startup, serving in degraded mode until it recovers",
			"addr", redisCfg.Addr(),
			"error", err,
		)
	} else {
		logger.Info("Connected to Redis", "addr", redisCfg.Addr())
	}
	cancelPing()

	registry := prometheus.NewRegistry()
	prom := observability.NewProm("imgate", registry)

	fetcher := imageproxy.NewHTTPFetcher(nil, cfg.Proxy.FetchTimeout, cfg.Proxy.MaxOriginBytes)
	processor := imageproxy.NewProcessor(cfg.Proxy.MaxInputPixels)
	service, err := imageproxy.NewService(store, fetcher, processor, cfg.Proxy,
		imageproxy.WithLogger(logger),
		imageproxy.WithRecorder(prom),
	)
	if err != nil {
		return fmt.Errorf("image proxy service: %w", err)
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.Metrics(prom))
	if cfg.RateLimitRPS > 0 {
		rateLimiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		r.Use(rateLimiter.Middleware)
	}

	routes.RegisterImageProxyRoutes(r, imageproxyhandlers.NewHandler(service, store, logger))

	apiServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// The lock wait and the origin fetch can run back to back.
		WriteTimeout: cfg.Proxy.LockWaitTimeout + cfg.Proxy.FetchTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	servers := []*http.Server{apiServer}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler(registry))
		servers = append(servers, &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("Imgate listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down", "timeout", shutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
