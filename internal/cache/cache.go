// Package cache defines the tile cache collaborator. Keys follow the
// request path layout `<source>/<z>/<x>/<y>.mvt`; a nil Store disables
// caching entirely.
package cache

import "context"

// Object is one cached tile payload with its serving metadata.
type Object struct {
	Body            []byte
	ContentType     string
	ContentEncoding string
	CacheControl    string
}

type Store interface {
	// Get returns the cached object or nil on a miss.
	Get(ctx context.Context, key string) (*Object, error)
	Put(ctx context.Context, key string, obj Object) error
	// PurgeTiles removes the given keys.
	PurgeTiles(ctx context.Context, keys []string) error
	// PurgeSource removes every tile cached under `<source>/`.
	PurgeSource(ctx context.Context, source string) error
}
