// Package interaction hit-tests edges under the pointer and fetches route
// details for them. Only the newest hover is ever acted upon.
package interaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jaennil/guide_helper/backend/isochrone/internal/colormapper"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/lod"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/render"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/repository/feature"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/routing"
	"github.com/jaennil/guide_helper/backend/isochrone/pkg/logger"
	"github.com/jaennil/guide_helper/backend/isochrone/pkg/metrics"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

var (
	// ErrSuperseded ends a hover that a newer hover replaced.
	ErrSuperseded = fmt.Errorf("hover superseded: %w", context.Canceled)
	// ErrLeft ends a hover because the pointer left the layer.
	ErrLeft = fmt.Errorf("pointer left the layer: %w", context.Canceled)
)

type DetailsFetcher interface {
	Details(ctx context.Context, requestID json.RawMessage, at routing.LatLng) (*routing.Details, error)
}

type SnapshotSource interface {
	Snapshot() *colormapper.Snapshot
}

type Config struct {
	TileSize    int
	LineWidth   float64
	HitBufferPx float64
	Debounce    time.Duration
	ColorMode   render.ColorMode
}

type Hover struct {
	LngLat orb.Point
	Zoom   float64
	// Click skips the debounce.
	Click bool
}

type Hit struct {
	FeatureID  int64              `json:"feature_id"`
	From       colormapper.NodeID `json:"from"`
	To         colormapper.NodeID `json:"to"`
	Highway    string             `json:"highway"`
	DistancePx float64            `json:"distance_px"`
	// Reached is false for edges without a travel time.
	Reached bool    `json:"reached"`
	Seconds float64 `json:"seconds,omitempty"`
	Clock   string  `json:"clock,omitempty"`
}

type Result struct {
	Hit     *Hit              `json:"hit"`
	Details *routing.Details `json:"details,omitempty"`
}

// Highlight is the path currently shown for a hovered edge.
type Highlight struct {
	RequestID json.RawMessage  `json:"request_id"`
	Hit       Hit              `json:"hit"`
	Path      *geojson.Feature `json:"path"`
}

type Controller struct {
	store   feature.Store
	colors  SnapshotSource
	fetcher DetailsFetcher
	cfg     Config
	logger  logger.Logger

	mu        sync.Mutex
	seq       uint64
	cancel    context.CancelCauseFunc
	highlight *Highlight
}

func NewController(store feature.Store, colors SnapshotSource, fetcher DetailsFetcher, cfg Config, l logger.Logger) *Controller {
	if cfg.TileSize <= 0 {
		cfg.TileSize = 512
	}
	if cfg.HitBufferPx <= 0 {
		cfg.HitBufferPx = 3
	}
	if cfg.ColorMode == "" {
		cfg.ColorMode = render.ColorByEndpoints
	}
	return &Controller{
		store:   store,
		colors:  colors,
		fetcher: fetcher,
		cfg:     cfg,
		logger:  l,
	}
}

// Hover cancels any in-flight hover, then hit-tests the pointer position. A
// hit with a travel time triggers a detail fetch whose path becomes the new
// highlight. A superseded hover returns ErrSuperseded.
func (c *Controller) Hover(ctx context.Context, h Hover) (*Result, error) {
	metrics.HoverRequests.Inc()

	ctx, seq := c.begin(ctx)
	defer c.end(seq)

	if c.cfg.Debounce > 0 && !h.Click {
		timer := time.NewTimer(c.cfg.Debounce)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, context.Cause(ctx)
		case <-timer.C:
		}
	}

	snap := c.colors.Snapshot()
	hit, err := c.hitTest(ctx, h, snap)
	if err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return nil, err
	}

	if hit == nil || !hit.Reached {
		c.setHighlight(seq, nil)
		return &Result{Hit: hit}, nil
	}

	at := routing.LatLng{Latitude: h.LngLat.Lat(), Longitude: h.LngLat.Lon()}
	details, err := c.fetcher.Details(ctx, snap.RequestID(), at)
	if err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return nil, fmt.Errorf("failed to fetch route details: %w", err)
	}

	ok := c.setHighlight(seq, &Highlight{
		RequestID: snap.RequestID(),
		Hit:       *hit,
		Path:      details.Path,
	})
	if !ok {
		return nil, ErrSuperseded
	}

	return &Result{Hit: hit, Details: details}, nil
}

// Leave cancels the in-flight hover and clears the highlight.
func (c *Controller) Leave() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	if c.cancel != nil {
		c.cancel(ErrLeft)
		c.cancel = nil
		metrics.HoverCancellations.Inc()
	}
	c.highlight = nil
}

func (c *Controller) Highlight() *Highlight {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.highlight
}

func (c *Controller) begin(parent context.Context) (context.Context, uint64) {
	ctx, cancel := context.WithCancelCause(parent)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel(ErrSuperseded)
		metrics.HoverCancellations.Inc()
	}
	c.seq++
	c.cancel = cancel

	return ctx, c.seq
}

func (c *Controller) end(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seq == seq && c.cancel != nil {
		c.cancel(nil)
		c.cancel = nil
	}
}

// setHighlight applies h only if seq is still the newest hover.
func (c *Controller) setHighlight(seq uint64, h *Highlight) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seq != seq {
		return false
	}
	c.highlight = h
	return true
}

func (c *Controller) hitTest(ctx context.Context, h Hover, snap *colormapper.Snapshot) (*Hit, error) {
	px, py, err := render.Project(h.LngLat)
	if err != nil {
		return nil, err
	}

	zoom := math.Max(0, h.Zoom)
	worldPx := float64(c.cfg.TileSize) * math.Exp2(zoom)
	reach := c.cfg.HitBufferPx + c.cfg.LineWidth/2
	buf := reach / worldPx

	// y grows southwards in normalized Mercator
	nw := render.Unproject(px-buf, py-buf)
	se := render.Unproject(px+buf, py+buf)
	bound := orb.Bound{
		Min: orb.Point{nw.Lon(), se.Lat()},
		Max: orb.Point{se.Lon(), nw.Lat()},
	}

	pointer := orb.Point{px, py}
	z := int(math.Floor(zoom))

	var best *Hit
	for row, err := range c.store.QueryBound(ctx, bound) {
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !lod.ShouldDraw(row, z) {
			continue
		}

		lines, err := projectLines(row.Geometry)
		if err != nil {
			c.logger.Debug("skipping feature in hit test", "id", row.ID, "error", err)
			continue
		}
		d := planar.DistanceFrom(lines, pointer) * worldPx
		if d > reach {
			continue
		}
		if best != nil && (d > best.DistancePx || (d == best.DistancePx && row.ID > best.FeatureID)) {
			continue
		}

		best = &Hit{
			FeatureID:  row.ID,
			From:       row.From,
			To:         row.To,
			Highway:    row.Highway.String(),
			DistancePx: d,
		}
	}

	if best != nil {
		c.resolveTime(best, snap)
	}
	return best, nil
}

func (c *Controller) resolveTime(hit *Hit, snap *colormapper.Snapshot) {
	var (
		t  colormapper.Seconds
		ok bool
	)
	switch c.cfg.ColorMode {
	case render.ColorByFeature:
		id := colormapper.NodeID(hit.FeatureID)
		if _, colored := snap.Index(id); colored {
			t, ok = snap.Raw(id)
		}
	default:
		t, ok = snap.EdgeTime(hit.From, hit.To)
	}
	if !ok {
		return
	}
	hit.Reached = true
	hit.Seconds = t
	hit.Clock = FormatClock(t)
}

func projectLines(g orb.MultiLineString) (orb.MultiLineString, error) {
	out := make(orb.MultiLineString, 0, len(g))
	for _, ls := range g {
		line := make(orb.LineString, 0, len(ls))
		for _, p := range ls {
			x, y, err := render.Project(p)
			if err != nil {
				return nil, err
			}
			line = append(line, orb.Point{x, y})
		}
		if len(line) > 0 {
			out = append(out, line)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("geometry has no points")
	}
	return out, nil
}

// FormatClock renders seconds since midnight as HH:MM:SS. Service days may
// run past 24:00.
func FormatClock(t colormapper.Seconds) string {
	s := int64(math.Round(t))
	if s < 0 {
		s = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s/60%60, s%60)
}
