package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"

	"github.com/jaennil/guide_helper/backend/isochrone/internal/colormapper"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/render"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/isochrone/pkg/logger"
	"github.com/jaennil/guide_helper/backend/isochrone/pkg/metrics"
	"github.com/paulmach/orb/maptile"
	"golang.org/x/sync/singleflight"
)

// MaxZoom bounds tile requests.
const MaxZoom = 22

var ErrBadTile = errors.New("tile coordinates out of range")

type TileSource string

const (
	SourceCache  TileSource = "cache"
	SourceRender TileSource = "render"
)

type Renderer interface {
	Render(ctx context.Context, t maptile.Tile, snap *colormapper.Snapshot) (*image.RGBA, render.Stats, error)
}

type TileUseCase struct {
	cache    cache.TileCache
	renderer Renderer
	colors   *colormapper.Mapper
	encoder  png.Encoder
	group    singleflight.Group
	// mu orders cache writes against invalidations. Renders stay unlocked.
	mu     sync.RWMutex
	logger logger.Logger
}

func NewTileUseCase(c cache.TileCache, r Renderer, colors *colormapper.Mapper, l logger.Logger) *TileUseCase {
	return &TileUseCase{
		cache:    c,
		renderer: r,
		colors:   colors,
		encoder:  png.Encoder{CompressionLevel: png.BestSpeed},
		logger:   l,
	}
}

// GetTile serves a PNG tile from the cache or renders it. Concurrent misses
// of one tile share a single render.
func (uc *TileUseCase) GetTile(ctx context.Context, z, x, y int) ([]byte, TileSource, error) {
	if z < 0 || z > MaxZoom || x < 0 || y < 0 || x >= 1<<z || y >= 1<<z {
		return nil, "", ErrBadTile
	}
	metrics.TileRequests.Inc()

	key := cache.TileCacheKey{X: x, Y: y, Z: z}
	data, exists, err := uc.cache.Get(ctx, key)
	if err != nil {
		logger.FromContext(ctx, uc.logger).Warn("cache lookup failed, rendering", "z", z, "x", x, "y", y, "error", err)
	} else if exists {
		metrics.TileCacheHits.Inc()
		return data, SourceCache, nil
	}
	metrics.TileCacheMisses.Inc()

	snap := uc.colors.Snapshot()
	flight := fmt.Sprintf("%d/%d/%d@%d", z, x, y, snap.Generation())

	v, err, shared := uc.group.Do(flight, func() (any, error) {
		return uc.render(ctx, key, snap)
	})
	// a follower must not inherit the leader's cancellation or deadline
	if err != nil && shared && ctx.Err() == nil &&
		(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		v, err = uc.render(ctx, key, snap)
	}
	if err != nil {
		return nil, "", err
	}

	return v.([]byte), SourceRender, nil
}

func (uc *TileUseCase) render(ctx context.Context, key cache.TileCacheKey, snap *colormapper.Snapshot) ([]byte, error) {
	t := maptile.New(uint32(key.X), uint32(key.Y), maptile.Zoom(key.Z))

	img, stats, err := uc.renderer.Render(ctx, t, snap)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := uc.encoder.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode tile: %w", err)
	}
	data := buf.Bytes()

	logger.FromContext(ctx, uc.logger).Debug("rendered tile",
		"z", key.Z, "x", key.X, "y", key.Y,
		"features", stats.Count,
		"drawn", stats.Drawn,
		"size", len(data),
	)

	uc.store(ctx, key, data, snap.Generation())

	return data, nil
}

// store caches data unless the colors moved on while it was rendered.
func (uc *TileUseCase) store(ctx context.Context, key cache.TileCacheKey, data []byte, generation uint64) {
	l := logger.FromContext(ctx, uc.logger)

	uc.mu.RLock()
	defer uc.mu.RUnlock()

	if current := uc.colors.Generation(); current != generation {
		l.Debug("dropping stale tile", "z", key.Z, "x", key.X, "y", key.Y,
			"generation", generation, "current", current)
		return
	}

	if err := uc.cache.Set(ctx, key, data); err != nil {
		if errors.Is(err, cache.ErrLayerMissing) {
			l.Debug("tile layer missing, tile not cached", "z", key.Z, "x", key.X, "y", key.Y)
			return
		}
		l.Warn("failed to cache tile", "z", key.Z, "x", key.X, "y", key.Y, "error", err)
	}
}

// Invalidate publishes new colors through apply and clears the cache in one
// step, so no tile of the old colors can be stored after it returns. The
// cache is not cleared when apply fails. When the clear fails the previous
// colors are restored, since the cache still holds tiles drawn with them. A
// missing layer keeps the new colors and is left to RecreateLayer.
func (uc *TileUseCase) Invalidate(ctx context.Context, apply func() error) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	prev := uc.colors.Snapshot()
	if err := apply(); err != nil {
		return err
	}

	metrics.TileCacheClears.Inc()
	err := uc.cache.Clear(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, cache.ErrLayerMissing) {
		restored := uc.colors.Restore(prev)
		logger.FromContext(ctx, uc.logger).Warn("tile cache clear failed, previous colors restored",
			"generation", restored.Generation(), "error", err)
	}
	return fmt.Errorf("failed to clear tile cache: %w", err)
}

// RecreateLayer rebuilds a missing cache layer. Caches that cannot be
// recreated are cleared instead.
func (uc *TileUseCase) RecreateLayer(ctx context.Context) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	metrics.TileCacheClears.Inc()

	r, ok := uc.cache.(cache.Recreatable)
	if !ok {
		return uc.cache.Clear(ctx)
	}
	if err := r.Recreate(ctx); err != nil {
		return fmt.Errorf("failed to recreate tile layer: %w", err)
	}
	return nil
}

// Generation is the generation of the colors tiles are drawn with.
func (uc *TileUseCase) Generation() uint64 {
	return uc.colors.Generation()
}

func (uc *TileUseCase) Stats(ctx context.Context) (cache.Stats, error) {
	return uc.cache.Stats(ctx)
}
