// Package tileserver turns a tile request path into an encoded Mapbox
// Vector Tile: it parses the path, assembles one SQL statement from the
// per-deployment layer configuration, fetches the tile bytes from
// PostGIS, compresses them and writes them to the tile cache.
package tileserver

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/gzip"

	"github.com/geoply/mvtserver/internal/cache"
	"github.com/geoply/mvtserver/internal/config"
	"github.com/geoply/mvtserver/internal/observability"
	"github.com/geoply/mvtserver/internal/projection"
)

// Result codes of GetVectortile.
const (
	ResOK               = 0
	ResEmptyTile        = 1
	ResCacheWriteFailed = 2
	ResInvalidTile      = -2
	ResInvalidSource    = -3
	ResDatabaseError    = -4
)

// Vectortile is the outcome of one tile request. Res is 0 on success,
// positive for degraded-but-served results and negative for failures.
// Encoding names the content encoding Data actually carries, which can
// be identity even with gzip enabled when compression failed.
type Vectortile struct {
	Res      int    `json:"res"`
	Data     []byte `json:"data,omitempty"`
	Status   string `json:"status,omitempty"`
	Encoding string `json:"-"`
}

// TileFetcher is the database collaborator: it executes the statement
// and returns the bytes of its single "mvt" column.
type TileFetcher interface {
	FetchTile(ctx context.Context, query string, params config.ConnParams) ([]byte, error)
}

// queryMemoSize bounds the SQL memoization cache. The configuration is
// immutable, so a (source, tile) pair always maps to the same statement.
const queryMemoSize = 1024

type Tileserver struct {
	cfg          *config.Sources
	fetcher      TileFetcher
	cache        cache.Store
	gzip         bool
	cacheControl string
	log          *slog.Logger
	queryMemo    *lru.Cache[string, string]
}

type Option func(*Tileserver)

// WithCache enables tile caching through the given store. cacheControl
// is stored verbatim as object metadata.
func WithCache(store cache.Store, cacheControl string) Option {
	return func(t *Tileserver) {
		t.cache = store
		t.cacheControl = cacheControl
	}
}

func WithGzip(enabled bool) Option {
	return func(t *Tileserver) { t.gzip = enabled }
}

func WithLogger(log *slog.Logger) Option {
	return func(t *Tileserver) { t.log = log }
}

func New(cfg *config.Sources, fetcher TileFetcher, opts ...Option) *Tileserver {
	memo, _ := lru.New[string, string](queryMemoSize)
	t := &Tileserver{
		cfg:       cfg,
		fetcher:   fetcher,
		gzip:      true,
		log:       slog.New(slog.DiscardHandler),
		queryMemo: memo,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// TileKey is the cache key of a tile, identical to its canonical
// request path without the leading slash.
func TileKey(source string, tile projection.Tile) string {
	return fmt.Sprintf("%s/%d/%d/%d.mvt", source, tile.Z, tile.X, tile.Y)
}

// CacheControl returns the max-age value cached tiles are tagged with.
func (t *Tileserver) CacheControl() string { return t.cacheControl }

// GetVectortile runs the whole request life cycle for a tile path.
// Exactly one database round trip is made per request, and at most one
// cache write when a cache store is configured. A cache-write failure
// degrades the result (Res 2) but keeps the already-produced data.
func (t *Tileserver) GetVectortile(ctx context.Context, path string) Vectortile {
	mvt := Vectortile{Res: ResOK}

	tile, ok := ExtractTile(path)
	if !ok {
		mvt.Res = ResInvalidTile
		mvt.Status = fmt.Sprintf("[ERROR] - Tile not correctly specified in '%s'", path)
		t.log.Error("tile not correctly specified", "path", path)
		observability.IncTileResult(mvt.Res)
		return mvt
	}

	source, ok := ExtractSource(path)
	if !ok {
		mvt.Res = ResInvalidSource
		mvt.Status = fmt.Sprintf("[ERROR] - Source not correctly specified in '%s'", path)
		t.log.Error("source not correctly specified", "path", path)
		observability.IncTileResult(mvt.Res)
		return mvt
	}

	query := t.tileQuery(source, tile)
	t.log.Debug("tile query", "source", source, "query", query)

	var data []byte
	if query != "" {
		src := t.cfg.Source(source)
		start := time.Now()
		fetched, err := t.fetcher.FetchTile(ctx, query, src.ConnParams())
		observability.ObserveUpstreamLatency("database", time.Since(start).Seconds())
		if err != nil {
			mvt.Res = ResDatabaseError
			mvt.Status = fmt.Sprintf("[ERROR] - Database error: %s", err.Error())
			t.log.Error("database error", "path", path, "err", err)
			observability.IncTileResult(mvt.Res)
			return mvt
		}
		data = fetched
	} else {
		// no layer applies at this zoom: an empty tile, not an error
		mvt.Res = ResEmptyTile
		mvt.Status = fmt.Sprintf("[INFO] - Empty query for '%s'", path)
		t.log.Info("empty query", "path", path)
		data = []byte{}
	}

	uncompressed := len(data)
	encoding := "identity"
	if t.gzip {
		if compressed, err := gzipBytes(data); err == nil {
			data = compressed
			encoding = "gzip"
		} else {
			t.log.Error("gzip failed, serving identity", "path", path, "err", err)
		}
	}
	mvt.Data = data
	mvt.Encoding = encoding
	observability.AddTileBytes("raw", uncompressed)
	observability.AddTileBytes("encoded", len(data))

	t.log.Info("tile produced",
		"path", path,
		"tile", TileKey(source, tile),
		"raw_bytes", uncompressed,
		"encoded_bytes", len(data))

	if t.cache != nil {
		start := time.Now()
		err := t.cache.Put(ctx, TileKey(source, tile), cache.Object{
			Body:            mvt.Data,
			ContentType:     "application/vnd.mapbox-vector-tile",
			ContentEncoding: encoding,
			CacheControl:    t.cacheControl,
		})
		observability.ObserveUpstreamLatency("cache", time.Since(start).Seconds())
		if err != nil {
			mvt.Res = ResCacheWriteFailed
			mvt.Status = fmt.Sprintf("[ERROR] - Could not write tile to cache: %s", err.Error())
			t.log.Error("cache write failed", "path", path, "err", err)
		}
	} else {
		t.log.Debug("no cache store configured, caching disabled")
	}

	observability.IncTileResult(mvt.Res)
	return mvt
}

// tileQuery builds (or replays) the SQL statement for one tile.
func (t *Tileserver) tileQuery(source string, tile projection.Tile) string {
	key := TileKey(source, tile)
	if q, ok := t.queryMemo.Get(key); ok {
		return q
	}
	start := time.Now()
	bbox := projection.TileBounds(tile, projection.DefaultTileSize)
	query := t.BuildQuery(source, bbox, tile.Z)
	observability.ObserveQueryBuild(time.Since(start).Seconds())
	t.queryMemo.Add(key, query)
	return query
}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
