package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/geddydukes/portfolio/internal/analytics"
	"github.com/geddydukes/portfolio/internal/config"
	"github.com/geddydukes/portfolio/internal/geo"
	"github.com/geddydukes/portfolio/internal/logging"
	"github.com/geddydukes/portfolio/internal/metrics"
	"github.com/geddydukes/portfolio/internal/server"
	"github.com/geddydukes/portfolio/internal/store"
	"github.com/geddydukes/portfolio/internal/store/memory"
	"github.com/geddydukes/portfolio/internal/store/redis"
	"github.com/geddydukes/portfolio/internal/store/sqlite"
	"github.com/geddydukes/portfolio/internal/version"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	logger, logCloser := logging.Setup(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	defer logCloser.Close()
	logger.Info("starting", "version", version.String(), "backend", cfg.StoreBackend)
	if !cfg.AuthConfigured() {
		slog.Warn("ANALYTICS_PASSWORD not set; the stats endpoint will reject every request")
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	} else {
		slog.Warn("analytics store not configured; visits will be dropped")
	}

	opts := analytics.Options{
		VisitLogMax:       cfg.VisitLogMax,
		RecentVisitsLimit: cfg.RecentVisitsLimit,
		Concurrency:       cfg.StatsConcurrency,
	}

	lookup, err := geo.Open(cfg.MaxMindDBPath)
	if err != nil {
		slog.Warn("geo disabled", "error", err)
	} else if lookup != nil {
		defer lookup.Close()
		opts.Geo = lookup
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New()
	if err := m.Register(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	opts.Metrics = m

	handler := server.New(analytics.New(st, opts), cfg, m, reg)
	defer handler.Close()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown", "error", err)
	}
	slog.Info("shutdown complete")
	return nil
}

// openStore returns the configured backend, or a nil Store when none is
// configured so the service runs in its degraded mode.
func openStore(cfg config.Config) (store.Store, error) {
	if !cfg.StoreConfigured() {
		return nil, nil
	}
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		st, err := sqlite.NewWithOptions(cfg.DBPath, sqlite.Options{
			MaxConnections: 1,
			QueryTimeout:   cfg.StoreTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, nil
	case config.BackendMemory:
		return memory.New(), nil
	default:
		st, err := redis.New(redis.Options{
			URL:          cfg.RedisURL,
			Token:        cfg.RedisToken,
			DialTimeout:  cfg.StoreTimeout,
			ReadTimeout:  cfg.StoreTimeout,
			WriteTimeout: cfg.StoreTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		return st, nil
	}
}
