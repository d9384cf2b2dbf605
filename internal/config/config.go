// Package config carries the process configuration: environment-level
// knobs and the per-deployment sources document.
package config

import (
	"os"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled bool
	Brokers string
	Topic   string
	GroupID string
}

type Config struct {
	Addr             string
	LogLevel         string
	LogConsole       bool
	Gzip             bool
	SourcesFile      string
	RedisAddr        string
	CacheEnabled     bool
	CacheTTL         time.Duration
	CacheControl     string
	StatementTimeout time.Duration
	Invalidation     InvalidationCfg
}

func FromEnv() Config {
	return Config{
		Addr:             getenv("ADDR", ":8080"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		LogConsole:       getbool("LOG_CONSOLE", false),
		Gzip:             getbool("GZIP", true),
		SourcesFile:      getenv("SOURCES_FILE", "sources.toml"),
		RedisAddr:        getenv("REDIS_ADDR", ""),
		CacheEnabled:     getbool("CACHE_ENABLED", os.Getenv("REDIS_ADDR") != ""),
		CacheTTL:         getduration("CACHE_TTL", 7*24*time.Hour),
		CacheControl:     getenv("CACHE_CONTROL", "604800"),
		StatementTimeout: getduration("STATEMENT_TIMEOUT", 0),
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getenv("KAFKA_TOPIC", "tile-invalidation"),
			GroupID: getenv("KAFKA_GROUP_ID", "tile-invalidator"),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
