package cache

import (
	"context"
	"errors"
)

// ErrLayerMissing is reported when the cache's current generation vanished,
// e.g. after a flush or an eviction. The layer must be recreated.
var ErrLayerMissing = errors.New("tile layer is missing")

type TileCacheKey struct {
	X int
	Y int
	Z int
}

type TileCacheValue []byte

type Stats struct {
	Tiles int   `json:"tile_count"`
	Bytes int64 `json:"total_size_bytes"`
}

// TileCache memoizes rendered tiles. Clear drops every entry at once: tile
// colors depend on global state, never on a single key.
type TileCache interface {
	Get(context.Context, TileCacheKey) (TileCacheValue, bool, error)
	Set(context.Context, TileCacheKey, TileCacheValue) error
	Clear(context.Context) error
	Stats(context.Context) (Stats, error)
}

// Recreatable caches can rebuild a missing layer.
type Recreatable interface {
	Recreate(context.Context) error
}
