package usecase

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"math"
	"sync"
	"time"

	"github.com/jaennil/guide_helper/backend/isochrone/internal/colormapper"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/interaction"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/routing"
	"github.com/jaennil/guide_helper/backend/isochrone/pkg/logger"
	"github.com/samber/lo"
)

var (
	ErrNotReady = errors.New("session has no travel times yet")
	// ErrOriginSuperseded ends an origin query replaced by a newer one.
	ErrOriginSuperseded = fmt.Errorf("origin query superseded: %w", context.Canceled)
)

type State int32

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

type TravelTimesFetcher interface {
	TravelTimes(ctx context.Context, req routing.TravelTimesRequest) (*routing.TravelTimes, error)
}

type Hoverer interface {
	Hover(ctx context.Context, h interaction.Hover) (*interaction.Result, error)
	Leave()
	Highlight() *interaction.Highlight
}

type SessionConfig struct {
	DefaultDuration time.Duration
	LayerRetryDelay time.Duration
}

// Origin is one travel-time query.
type Origin struct {
	Latitude            float64
	Longitude           float64
	Agencies            []string
	Modes               []string
	StartTime           uint64
	TransferPenaltySecs *uint64
	// Duration overrides the session's window width when positive.
	Duration time.Duration
	// WindowFromStart anchors the window at StartTime instead of the
	// earliest reached node.
	WindowFromStart bool
}

type OriginResult struct {
	Generation uint64             `json:"generation"`
	Nodes      int                `json:"nodes"`
	Colored    int                `json:"colored"`
	Window     colormapper.Window `json:"window"`
}

// Session owns the colors of one map view and drives the tile cache and
// hover controller from them.
type Session struct {
	colors  *colormapper.Mapper
	tiles   *TileUseCase
	backend TravelTimesFetcher
	hover   Hoverer
	cfg     SessionConfig
	logger  logger.Logger

	mu       sync.Mutex
	state    State
	seq      uint64
	cancel   context.CancelCauseFunc
	duration time.Duration
}

func NewSession(colors *colormapper.Mapper, tiles *TileUseCase, backend TravelTimesFetcher, hover Hoverer, cfg SessionConfig, l logger.Logger) *Session {
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = 90 * time.Minute
	}
	return &Session{
		colors:   colors,
		tiles:    tiles,
		backend:  backend,
		hover:    hover,
		cfg:      cfg,
		logger:   l,
		duration: cfg.DefaultDuration,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetOrigin queries the backend for a new origin and ingests the reply. An
// in-flight query is cancelled first. On failure the previous colors stay.
func (s *Session) SetOrigin(ctx context.Context, o Origin) (*OriginResult, error) {
	ctx, seq, duration := s.beginOrigin(ctx, o.Duration)
	defer s.endOrigin(seq)

	prev := s.colors.Snapshot()
	req := routing.TravelTimesRequest{
		Latitude:            o.Latitude,
		Longitude:           o.Longitude,
		Agencies:            lo.Uniq(o.Agencies),
		Modes:               lo.Uniq(o.Modes),
		StartTime:           o.StartTime,
		MaxSearchTime:       duration.Seconds(),
		TransferPenaltySecs: o.TransferPenaltySecs,
		PreviousRequestID:   prev.RequestID(),
	}

	tt, err := s.backend.TravelTimes(ctx, req)
	if err != nil {
		s.failOrigin(seq)
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return nil, err
	}

	windowMin := colormapper.Seconds(o.StartTime)
	if !o.WindowFromStart {
		if minT, ok := colormapper.MinTime(tt.Times); ok {
			windowMin = minT
		}
	}

	var snap *colormapper.Snapshot
	err = s.invalidate(ctx, seq, func() error {
		var err error
		snap, err = s.colors.Ingest(tt.RequestID, tt.Times, windowMin, duration.Seconds())
		return err
	})
	if err != nil {
		s.failOrigin(seq)
		return nil, err
	}

	s.mu.Lock()
	if s.seq == seq {
		s.state = StateReady
	}
	s.mu.Unlock()

	logger.FromContext(ctx, s.logger).Info("ingested travel times",
		"generation", snap.Generation(),
		"nodes", snap.RawLen(),
		"colored", snap.Len(),
		"window_min", windowMin,
		"duration", duration,
	)

	return &OriginResult{
		Generation: snap.Generation(),
		Nodes:      snap.RawLen(),
		Colored:    snap.Len(),
		Window:     snap.Window(),
	}, nil
}

// SetDuration moves the window's upper bound without a backend fetch. The
// tile cache is cleared because the pixel colors change.
func (s *Session) SetDuration(ctx context.Context, d time.Duration) (*OriginResult, error) {
	if d <= 0 {
		return nil, colormapper.ErrEmptyWindow
	}

	s.mu.Lock()
	s.duration = d
	ready := s.state == StateReady
	s.mu.Unlock()

	if !ready {
		return nil, ErrNotReady
	}

	var snap *colormapper.Snapshot
	err := s.invalidate(ctx, 0, func() error {
		var err error
		snap, err = s.colors.SetDuration(d.Seconds())
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx, s.logger).Info("window resized", "generation", snap.Generation(), "duration", d, "colored", snap.Len())

	return &OriginResult{
		Generation: snap.Generation(),
		Nodes:      snap.RawLen(),
		Colored:    snap.Len(),
		Window:     snap.Window(),
	}, nil
}

func (s *Session) Hover(ctx context.Context, h interaction.Hover) (*interaction.Result, error) {
	if s.State() != StateReady {
		return nil, ErrNotReady
	}
	return s.hover.Hover(ctx, h)
}

func (s *Session) Leave() {
	s.hover.Leave()
}

// invalidate applies new colors and clears the cache exactly once. A
// missing cache layer is recreated after LayerRetryDelay, in the background
// when the request ends first. seq zero skips the supersede check.
func (s *Session) invalidate(ctx context.Context, seq uint64, apply func() error) error {
	err := s.tiles.Invalidate(ctx, func() error {
		if seq != 0 && !s.current(seq) {
			return ErrOriginSuperseded
		}
		return apply()
	})
	if !errors.Is(err, cache.ErrLayerMissing) {
		return err
	}

	logger.FromContext(ctx, s.logger).Warn("tile layer missing, recreating", "delay", s.cfg.LayerRetryDelay)

	timer := time.NewTimer(s.cfg.LayerRetryDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		// the colors are already published, so the layer comes back anyway
		logger.FromContext(ctx, s.logger).Debug("request gone, recovering tile layer in background", "cause", context.Cause(ctx))
		time.AfterFunc(s.cfg.LayerRetryDelay, func() {
			if err := s.recoverLayer(context.WithoutCancel(ctx)); err != nil {
				s.logger.Error("tile layer recovery failed", "error", err)
			}
		})
		return nil
	}

	return s.recoverLayer(context.WithoutCancel(ctx))
}

func (s *Session) recoverLayer(ctx context.Context) error {
	if err := s.tiles.RecreateLayer(ctx); err != nil {
		return fmt.Errorf("failed to recover tile layer: %w", err)
	}
	s.logger.Info("tile layer recreated", "generation", s.tiles.Generation())
	return nil
}

func (s *Session) beginOrigin(parent context.Context, override time.Duration) (context.Context, uint64, time.Duration) {
	ctx, cancel := context.WithCancelCause(parent)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel(ErrOriginSuperseded)
	}
	s.seq++
	s.cancel = cancel
	if override > 0 {
		s.duration = override
	}
	if s.state == StateUninitialized {
		s.state = StateLoading
	}

	return ctx, s.seq, s.duration
}

func (s *Session) endOrigin(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seq == seq && s.cancel != nil {
		s.cancel(nil)
		s.cancel = nil
	}
}

// failOrigin drops back to uninitialized when the first query fails.
func (s *Session) failOrigin(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seq == seq && s.state == StateLoading {
		s.state = StateUninitialized
	}
}

func (s *Session) current(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq == seq
}

type LegendStop struct {
	Fraction float64 `json:"fraction"`
	Color    string  `json:"color"`
}

type LegendTick struct {
	Seconds colormapper.Seconds `json:"seconds"`
	Percent int                 `json:"percent"`
	Label   string              `json:"label"`
}

type Legend struct {
	Window colormapper.Window `json:"window"`
	Stops  []LegendStop       `json:"stops"`
	Ticks  []LegendTick       `json:"ticks"`
	// Hover marks the highlighted edge's time as a percent of the window.
	Hover *float64 `json:"hover,omitempty"`
}

const (
	legendSteps = 10
	legendTick  = 1800
)

// Legend describes the color scale of the current window.
func (s *Session) Legend() (*Legend, error) {
	if s.State() != StateReady {
		return nil, ErrNotReady
	}

	snap := s.colors.Snapshot()
	ramp := s.colors.Ramp()
	w := snap.Window()
	spread := w.Duration()

	l := &Legend{
		Window: w,
		Stops:  make([]LegendStop, 0, legendSteps+1),
	}
	for i := 0; i <= legendSteps; i++ {
		f := float64(i) / legendSteps
		l.Stops = append(l.Stops, LegendStop{Fraction: f, Color: hexColor(ramp.ColorAt(f))})
	}

	for t := 0.0; t <= spread+1; t += legendTick {
		l.Ticks = append(l.Ticks, LegendTick{
			Seconds: t,
			Percent: int(math.Round(t / spread * 100)),
			Label:   fmt.Sprintf("%d:%02d", int(t)/3600, int(t)/60%60),
		})
	}

	if h := s.hover.Highlight(); h != nil && h.Hit.Reached {
		p := (h.Hit.Seconds - w.Min) / spread * 100
		l.Hover = &p
	}

	return l, nil
}

func hexColor(c color.NRGBA) string {
	return fmt.Sprintf("#%02x%02x%02x%02x", c.R, c.G, c.B, c.A)
}
