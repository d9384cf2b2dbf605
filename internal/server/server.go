// Package server wires the HTTP surface: tile requests, health and
// metrics endpoints.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/geoply/mvtserver/internal/cache"
	"github.com/geoply/mvtserver/internal/config"
	"github.com/geoply/mvtserver/internal/health"
	"github.com/geoply/mvtserver/internal/middleware"
	"github.com/geoply/mvtserver/internal/tileserver"
)

// Run sets up http and starts serving until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, ts *tileserver.Tileserver, store cache.Store, checks map[string]health.Check) error {
	r := NewRouter(logger, ts, store, checks)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// NewRouter builds the chi router serving tiles and the operational
// endpoints.
func NewRouter(logger *slog.Logger, ts *tileserver.Tileserver, store cache.Store, checks map[string]health.Check) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recover())
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(checks))
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/*", HandleTile(logger, ts, store))

	return r
}
