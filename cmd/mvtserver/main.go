package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/geoply/mvtserver/internal/cache"
	"github.com/geoply/mvtserver/internal/cache/redisstore"
	"github.com/geoply/mvtserver/internal/config"
	"github.com/geoply/mvtserver/internal/health"
	"github.com/geoply/mvtserver/internal/invalidation/kafkaconsumer"
	"github.com/geoply/mvtserver/internal/logger"
	"github.com/geoply/mvtserver/internal/observability"
	"github.com/geoply/mvtserver/internal/pgfetch"
	"github.com/geoply/mvtserver/internal/server"
	"github.com/geoply/mvtserver/internal/tileserver"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	sourcesFlag := flag.String("sources", "", "path to the sources file (overrides SOURCES_FILE)")
	flag.Parse()

	cfg := config.FromEnv()
	if *sourcesFlag != "" {
		cfg.SourcesFile = strings.TrimSpace(*sourcesFlag)
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		Component: "mvtserver",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting mvtserver",
		"addr", cfg.Addr,
		"version", Version,
		"sources", cfg.SourcesFile,
		"gzip", cfg.Gzip,
		"cache", cfg.CacheEnabled)

	sources, err := config.LoadSources(cfg.SourcesFile)
	if err != nil {
		appLog.Error("failed to load sources", "path", cfg.SourcesFile, "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := map[string]health.Check{}

	var store cache.Store
	if cfg.CacheEnabled {
		client, err := redisstore.New(ctx, cfg.RedisAddr, redisstore.WithTTL(cfg.CacheTTL))
		if err != nil {
			appLog.Error("failed to connect to redis", "addr", cfg.RedisAddr, "err", err)
			return 1
		}
		defer func() { _ = client.Close() }()
		store = client
		checks["cache"] = client.Ping
	}

	fetcher := pgfetch.New(appLog, pgfetch.WithStatementTimeout(cfg.StatementTimeout))

	opts := []tileserver.Option{
		tileserver.WithGzip(cfg.Gzip),
		tileserver.WithLogger(appLog),
	}
	if store != nil {
		opts = append(opts, tileserver.WithCache(store, cfg.CacheControl))
	}
	ts := tileserver.New(sources, fetcher, opts...)

	if cfg.Invalidation.Enabled {
		if store == nil {
			appLog.Error("invalidation requires the cache to be enabled")
			return 1
		}
		consumer := kafkaconsumer.New(kafkaconsumer.Config{
			Brokers:             splitCSV(cfg.Invalidation.Brokers),
			Topic:               cfg.Invalidation.Topic,
			GroupID:             cfg.Invalidation.GroupID,
			InitialOffsetOldest: true,
		}, appLog, store)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				appLog.Error("invalidation consumer stopped", "err", err)
			}
		}()
	}

	if err := server.Run(ctx, cfg, appLog, ts, store, checks); err != nil {
		appLog.Error("server exited", "err", err)
		return 1
	}
	appLog.Info("shutdown complete")
	return 0
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
