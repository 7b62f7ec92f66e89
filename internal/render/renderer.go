// Package render draws travel-time colored edges into raster tiles.
package render

import (
	"context"
	"fmt"
	"image"
	"math/rand/v2"
	"runtime"
	"slices"
	"time"

	"github.com/jaennil/guide_helper/backend/isochrone/internal/colormapper"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/lod"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/repository/feature"
	"github.com/jaennil/guide_helper/backend/isochrone/pkg/logger"
	"github.com/jaennil/guide_helper/backend/isochrone/pkg/metrics"
	"github.com/jaennil/guide_helper/backend/isochrone/pkg/telemetry"
	"github.com/paulmach/orb/maptile"
	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ColorMode selects which travel time an edge is painted with.
type ColorMode string

const (
	// ColorByEndpoints averages the times of the edge's two nodes.
	ColorByEndpoints ColorMode = "endpoints"
	// ColorByFeature looks the edge's own id up in the travel times.
	ColorByFeature ColorMode = "feature"
)

func ParseColorMode(s string) (ColorMode, error) {
	switch m := ColorMode(s); m {
	case ColorByEndpoints, ColorByFeature:
		return m, nil
	}
	return "", fmt.Errorf("unknown color mode %q", s)
}

type Config struct {
	TileSize  int
	LineWidth float64
	// MaxFeatures is the per-tile ceiling. Denser tiles render empty.
	MaxFeatures int
	// MarginPx widens the query box so strokes crossing the tile edge are drawn.
	MarginPx         float64
	YieldProbability float64
	YieldPause       time.Duration
	ColorMode        ColorMode
	// GeometryCache keeps projected geometry by feature id. Only valid when
	// ids are unique per geometry across the whole store.
	GeometryCache bool
}

// Stats describes one render.
type Stats struct {
	Count      int
	Drawn      int
	SkippedLOD int
	Failed     int
	Oversized  bool
}

const uncolored = -1

type Renderer struct {
	store    feature.Store
	cfg      Config
	geometry *xsync.MapOf[int64, []normLine]
	rand     func() float64
	logger   logger.Logger
}

func NewRenderer(store feature.Store, cfg Config, l logger.Logger) *Renderer {
	if cfg.TileSize <= 0 {
		cfg.TileSize = 512
	}
	if cfg.LineWidth <= 0 {
		cfg.LineWidth = 4
	}
	if cfg.ColorMode == "" {
		cfg.ColorMode = ColorByEndpoints
	}

	r := &Renderer{
		store:  store,
		cfg:    cfg,
		rand:   rand.Float64,
		logger: l,
	}
	if cfg.GeometryCache {
		r.geometry = xsync.NewMapOf[int64, []normLine]()
	}
	return r
}

func (r *Renderer) Config() Config {
	return r.cfg
}

// Render draws tile t with the colors of snap. Count zero and counts above
// the ceiling both yield an empty, fully transparent raster. A cancelled ctx
// aborts the draw at the next yield point.
func (r *Renderer) Render(ctx context.Context, t maptile.Tile, snap *colormapper.Snapshot) (*image.RGBA, Stats, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "render.Tile", trace.WithAttributes(
		attribute.Int("tile.z", int(t.Z)),
		attribute.Int("tile.x", int(t.X)),
		attribute.Int("tile.y", int(t.Y)),
		attribute.Int64("snapshot.generation", int64(snap.Generation())),
	))
	defer span.End()

	start := time.Now()
	img, stats, err := r.render(ctx, t, snap)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, stats, err
	}
	metrics.TileRenderLatency.Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int("features.count", stats.Count),
		attribute.Int("features.drawn", stats.Drawn),
	)

	return img, stats, nil
}

func (r *Renderer) render(ctx context.Context, t maptile.Tile, snap *colormapper.Snapshot) (*image.RGBA, Stats, error) {
	var stats Stats
	size := r.cfg.TileSize
	img := image.NewRGBA(image.Rect(0, 0, size, size))

	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}

	bound := t.Bound(r.cfg.MarginPx / float64(size))
	count, err := r.store.CountInBound(ctx, bound)
	if err != nil {
		return nil, stats, fmt.Errorf("failed to count features: %w", err)
	}
	stats.Count = count

	if count == 0 {
		return img, stats, nil
	}
	if r.cfg.MaxFeatures > 0 && count > r.cfg.MaxFeatures {
		r.logger.Warn("tile exceeds feature ceiling, rendering empty",
			"z", t.Z, "x", t.X, "y", t.Y, "count", count, "max", r.cfg.MaxFeatures)
		metrics.TilesOversized.Inc()
		stats.Oversized = true
		return img, stats, nil
	}

	tt := newTileTransform(t, size)
	buckets := make(map[int][][]pixelPoint)

	for row, err := range r.store.QueryBound(ctx, bound) {
		if err != nil {
			return nil, stats, fmt.Errorf("failed to query features: %w", err)
		}
		if r.rand() < r.cfg.YieldProbability {
			if err := r.yield(ctx); err != nil {
				return nil, stats, err
			}
		}

		if !lod.ShouldDraw(row, int(t.Z)) {
			stats.SkippedLOD++
			continue
		}

		lines, err := r.pixelLines(row, tt)
		if err != nil {
			stats.Failed++
			metrics.FeaturesSkipped.WithLabelValues("geometry").Inc()
			r.logger.Warn("skipping feature", "id", row.ID, "z", t.Z, "x", t.X, "y", t.Y, "error", err)
			continue
		}

		k := r.colorIndex(row, snap)
		buckets[k] = append(buckets[k], lines...)
		stats.Drawn++
	}

	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}

	// Paint by ramp index, never by query order: overlapping edges
	// composite the same way whatever order the store returns them in.
	keys := make([]int, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	s := newStroker(r.cfg.LineWidth)
	for _, k := range keys {
		c := colormapper.DefaultColor
		if k != uncolored {
			c = snap.Color(k)
		}
		s.stroke(img, buckets[k], c)
	}

	metrics.FeaturesDrawn.Add(float64(stats.Drawn))
	metrics.FeaturesSkipped.WithLabelValues("lod").Add(float64(stats.SkippedLOD))

	return img, stats, nil
}

func (r *Renderer) colorIndex(row *feature.Row, snap *colormapper.Snapshot) int {
	var (
		i  int
		ok bool
	)
	switch r.cfg.ColorMode {
	case ColorByFeature:
		i, ok = snap.Index(colormapper.NodeID(row.ID))
	default:
		i, ok = snap.EdgeIndex(row.From, row.To)
	}
	if !ok {
		return uncolored
	}
	return i
}

// pixelLines projects one row into tile pixels. Panics from malformed
// geometry are turned into errors so they only cost this row.
func (r *Renderer) pixelLines(row *feature.Row, tt tileTransform) (out [][]pixelPoint, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("panic projecting feature: %v", p)
		}
	}()

	lines, err := r.normLines(row)
	if err != nil {
		return nil, err
	}

	out = make([][]pixelPoint, len(lines))
	for i, line := range lines {
		px := make([]pixelPoint, len(line))
		for j, p := range line {
			x, y := tt.pixel(p)
			px[j] = pixelPoint{X: float32(x), Y: float32(y)}
		}
		out[i] = px
	}
	return out, nil
}

func (r *Renderer) normLines(row *feature.Row) ([]normLine, error) {
	if r.geometry == nil {
		return projectGeometry(row.Geometry)
	}
	if lines, ok := r.geometry.Load(row.ID); ok {
		return lines, nil
	}
	lines, err := projectGeometry(row.Geometry)
	if err != nil {
		return nil, err
	}
	r.geometry.Store(row.ID, lines)
	return lines, nil
}

// yield hands the processor to other goroutines and reports cancellation.
func (r *Renderer) yield(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.cfg.YieldPause <= 0 {
		runtime.Gosched()
		return ctx.Err()
	}

	timer := time.NewTimer(r.cfg.YieldPause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// GeometryCacheSize is the number of features with cached projections.
func (r *Renderer) GeometryCacheSize() int {
	if r.geometry == nil {
		return 0
	}
	return r.geometry.Size()
}
