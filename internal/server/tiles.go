package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/geoply/mvtserver/internal/cache"
	"github.com/geoply/mvtserver/internal/logger"
	"github.com/geoply/mvtserver/internal/observability"
	"github.com/geoply/mvtserver/internal/tileserver"
)

const (
	tileRoute       = "/{source}/{z}/{x}/{y}.mvt"
	tileContentType = "application/vnd.mapbox-vector-tile"
)

// HandleTile serves one vector tile. A configured cache store is
// consulted first; a miss falls through to the database and the
// produced tile is written back by the tile server itself.
func HandleTile(l *slog.Logger, ts *tileserver.Tileserver, store cache.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := r.URL.Path
		ctx := r.Context()

		if store != nil {
			if key, ok := cacheKey(path); ok {
				obj, err := store.Get(ctx, key)
				if err != nil {
					l.LogAttrs(ctx, slog.LevelWarn, "cache read failed",
						slog.String("key", key), slog.String("err", err.Error()))
				}
				if obj != nil {
					serveTile(w, r, obj.Body, obj.ContentEncoding, obj.CacheControl)
					observability.ObserveHTTP(r.Method, tileRoute, http.StatusOK, time.Since(start).Seconds())
					return
				}
			}
		}

		if src, ok := tileserver.ExtractSource(path); ok {
			ctx = logger.WithSource(ctx, src)
		}

		mvt := ts.GetVectortile(ctx, path)
		if mvt.Res < 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(mvt)
			observability.ObserveHTTP(r.Method, tileRoute, http.StatusInternalServerError, time.Since(start).Seconds())
			return
		}

		serveTile(w, r, mvt.Data, mvt.Encoding, ts.CacheControl())
		observability.ObserveHTTP(r.Method, tileRoute, http.StatusOK, time.Since(start).Seconds())
	}
}

func serveTile(w http.ResponseWriter, r *http.Request, body []byte, encoding, cacheControl string) {
	etag := fmt.Sprintf(`"%016x"`, xxhash.Sum64(body))
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", tileContentType)
	if encoding != "" && encoding != "identity" {
		w.Header().Set("Content-Encoding", encoding)
	}
	if cacheControl != "" {
		w.Header().Set("Cache-Control", "max-age="+cacheControl)
	}
	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func cacheKey(path string) (string, bool) {
	tile, ok := tileserver.ExtractTile(path)
	if !ok {
		return "", false
	}
	source, ok := tileserver.ExtractSource(path)
	if !ok {
		return "", false
	}
	return tileserver.TileKey(source, tile), true
}
