// Package colormapper turns per-node travel times into ramp colors for the
// current time window.
//
// State is published as an immutable Snapshot. Ingest, SetDuration and
// Recompute build a complete snapshot before swapping it in, so readers never
// observe a partially recomputed color map.
package colormapper

import (
	"encoding/json"
	"errors"
	"image/color"
	"math"
	"sync"
	"sync/atomic"

	"github.com/jaennil/guide_helper/backend/isochrone/internal/colorramp"
)

// DefaultColor paints edges with no assigned color: unreached nodes, nodes
// beyond the window, and edges with an unknown endpoint.
var DefaultColor = color.NRGBA{R: 143, G: 143, B: 143, A: 33}

var (
	ErrEmptyWindow     = errors.New("time window must have a positive duration")
	ErrNothingIngested = errors.New("no travel times ingested yet")
)

type (
	NodeID  int64
	Seconds = float64

	// RawTravelTimes maps node id to travel-time seconds for one backend query.
	RawTravelTimes map[NodeID]Seconds
)

// Window is the visible travel-time horizon.
type Window struct {
	Min Seconds `json:"min"`
	Max Seconds `json:"max"`
}

func (w Window) Duration() Seconds {
	return w.Max - w.Min
}

// Fraction normalizes t into the window. Values above 1 lie beyond it.
func (w Window) Fraction(t Seconds) float64 {
	return (t - w.Min) / (w.Max - w.Min)
}

// Snapshot is one immutable state of the mapper.
type Snapshot struct {
	generation uint64
	requestID  json.RawMessage
	raw        RawTravelTimes
	window     Window
	indices    map[NodeID]int
	ramp       *colorramp.Ramp
}

func (s *Snapshot) Generation() uint64 {
	return s.generation
}

// RequestID is the backend id of the query this snapshot was built from.
func (s *Snapshot) RequestID() json.RawMessage {
	return s.requestID
}

func (s *Snapshot) Window() Window {
	return s.window
}

// Len is the number of colored nodes.
func (s *Snapshot) Len() int {
	return len(s.indices)
}

// RawLen is the number of nodes with a travel time, colored or not.
func (s *Snapshot) RawLen() int {
	return len(s.raw)
}

// Raw returns the backend travel time for id.
func (s *Snapshot) Raw(id NodeID) (Seconds, bool) {
	t, ok := s.raw[id]
	return t, ok
}

// Index returns the ramp index assigned to id. Nodes beyond the window have none.
func (s *Snapshot) Index(id NodeID) (int, bool) {
	i, ok := s.indices[id]
	return i, ok
}

// ColorForNode returns the node's color, or DefaultColor when it has none.
func (s *Snapshot) ColorForNode(id NodeID) color.NRGBA {
	i, ok := s.indices[id]
	if !ok {
		return DefaultColor
	}
	return s.ramp.Color(i)
}

// EdgeTime averages the endpoint times. ok is false unless both endpoints
// are colored.
func (s *Snapshot) EdgeTime(from, to NodeID) (Seconds, bool) {
	if _, ok := s.indices[from]; !ok {
		return 0, false
	}
	if _, ok := s.indices[to]; !ok {
		return 0, false
	}
	return (s.raw[from] + s.raw[to]) / 2, true
}

// EdgeIndex maps the averaged endpoint time to a ramp index.
func (s *Snapshot) EdgeIndex(from, to NodeID) (int, bool) {
	t, ok := s.EdgeTime(from, to)
	if !ok {
		return 0, false
	}
	return s.ramp.IndexAt(math.Max(s.window.Fraction(t), 0))
}

// ColorForEdge maps the averaged endpoint time through the ramp.
func (s *Snapshot) ColorForEdge(from, to NodeID) color.NRGBA {
	i, ok := s.EdgeIndex(from, to)
	if !ok {
		return DefaultColor
	}
	return s.ramp.Color(i)
}

// Color returns the ramp color at index i.
func (s *Snapshot) Color(i int) color.NRGBA {
	return s.ramp.Color(i)
}

// Mapper owns the raw times, the window and the derived colors of one map
// session. It is safe for concurrent use; writers are serialized.
type Mapper struct {
	ramp  *colorramp.Ramp
	mu    sync.Mutex
	state atomic.Pointer[Snapshot]
}

func New(ramp *colorramp.Ramp) *Mapper {
	m := &Mapper{ramp: ramp}
	m.state.Store(&Snapshot{
		raw:     RawTravelTimes{},
		indices: map[NodeID]int{},
		ramp:    ramp,
	})
	return m
}

func (m *Mapper) Ramp() *colorramp.Ramp {
	return m.ramp
}

// Snapshot returns the current state. The result never changes.
func (m *Mapper) Snapshot() *Snapshot {
	return m.state.Load()
}

func (m *Mapper) Generation() uint64 {
	return m.state.Load().generation
}

// Ingest replaces the raw times wholesale and sets the window to
// [windowMin, windowMin+duration].
func (m *Mapper) Ingest(requestID json.RawMessage, raw RawTravelTimes, windowMin, duration Seconds) (*Snapshot, error) {
	if !(duration > 0) {
		return nil, ErrEmptyWindow
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.state.Load()
	next := &Snapshot{
		generation: prev.generation + 1,
		requestID:  requestID,
		raw:        raw,
		window:     Window{Min: windowMin, Max: windowMin + duration},
		ramp:       m.ramp,
	}
	next.indices = recompute(m.ramp, next.raw, next.window)
	m.state.Store(next)

	return next, nil
}

// SetDuration moves the window's upper bound only. No backend fetch is needed.
func (m *Mapper) SetDuration(duration Seconds) (*Snapshot, error) {
	if !(duration > 0) {
		return nil, ErrEmptyWindow
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.state.Load()
	if prev.generation == 0 {
		return nil, ErrNothingIngested
	}
	next := &Snapshot{
		generation: prev.generation + 1,
		requestID:  prev.requestID,
		raw:        prev.raw,
		window:     Window{Min: prev.window.Min, Max: prev.window.Min + duration},
		ramp:       m.ramp,
	}
	next.indices = recompute(m.ramp, next.raw, next.window)
	m.state.Store(next)

	return next, nil
}

// Recompute rebuilds the colors from the current raw times and window. The
// published colors are identical to the previous ones; only the generation
// advances.
func (m *Mapper) Recompute() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.state.Load()
	next := *prev
	next.generation = prev.generation + 1
	next.indices = recompute(m.ramp, prev.raw, prev.window)
	m.state.Store(&next)

	return &next
}

// Restore publishes the contents of an earlier snapshot under a new
// generation. Work started on the snapshots in between is then stale.
func (m *Mapper) Restore(prev *Snapshot) *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := *prev
	next.generation = m.state.Load().generation + 1
	m.state.Store(&next)

	return &next
}

// recompute is a pure function of its inputs. Nodes whose fraction exceeds
// 1 are left out rather than clamped.
func recompute(ramp *colorramp.Ramp, raw RawTravelTimes, w Window) map[NodeID]int {
	indices := make(map[NodeID]int, len(raw))
	if !(w.Duration() > 0) {
		return indices
	}
	for id, t := range raw {
		fraction := w.Fraction(t)
		if fraction > 1.0 || math.IsNaN(fraction) {
			continue
		}
		// times before the window start still get the first color
		i, ok := ramp.IndexAt(math.Max(fraction, 0))
		if !ok {
			continue
		}
		indices[id] = i
	}
	return indices
}

// MinTime is the smallest raw time, used as the window start when the
// query carries no explicit one. ok is false for an empty map.
func MinTime(raw RawTravelTimes) (Seconds, bool) {
	minT, ok := math.Inf(1), false
	for _, t := range raw {
		if t < minT {
			minT, ok = t, true
		}
	}
	return minT, ok
}
