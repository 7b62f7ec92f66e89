package feature

import (
	"context"
	"fmt"
	"iter"
	"math"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// DefaultCellSize is the grid cell edge in degrees (roughly 1 km).
const DefaultCellSize = 0.01

type cellKey struct {
	X, Y int32
}

// MemoryStore keeps all rows in memory behind a uniform grid index.
type MemoryStore struct {
	rows     []*Row
	bounds   []orb.Bound
	cells    map[cellKey][]int32
	cellSize float64
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(rows []*Row, cellSize float64) *MemoryStore {
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}

	s := &MemoryStore{
		rows:     rows,
		bounds:   make([]orb.Bound, len(rows)),
		cells:    make(map[cellKey][]int32),
		cellSize: cellSize,
	}

	for i, r := range rows {
		b := r.Bound()
		s.bounds[i] = b
		minX, maxX, minY, maxY := s.cellRange(b)
		for x := minX; x <= maxX; x++ {
			for y := minY; y <= maxY; y++ {
				k := cellKey{X: x, Y: y}
				s.cells[k] = append(s.cells[k], int32(i))
			}
		}
	}

	return s
}

// LoadGeoJSON reads a FeatureCollection of edge LineStrings. Features that
// are not lines or have no id are skipped.
func LoadGeoJSON(path string) ([]*Row, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read geojson: %w", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to parse geojson: %w", err)
	}

	rows := make([]*Row, 0, len(fc.Features))
	skipped := 0
	for _, f := range fc.Features {
		r, err := RowFromProperties(f.ID, f.Geometry, f.Properties)
		if err != nil {
			skipped++
			continue
		}
		rows = append(rows, r)
	}

	return rows, skipped, nil
}

func (s *MemoryStore) Len() int {
	return len(s.rows)
}

func (s *MemoryStore) CountInBound(ctx context.Context, b orb.Bound) (int, error) {
	n := 0
	for _, err := range s.QueryBound(ctx, b) {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

func (s *MemoryStore) QueryBound(ctx context.Context, b orb.Bound) iter.Seq2[*Row, error] {
	return func(yield func(*Row, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}

		seen := make(map[int32]struct{})
		stop := false
		s.eachCell(b, func(k cellKey) {
			if stop {
				return
			}
			for _, i := range s.cells[k] {
				if _, dup := seen[i]; dup {
					continue
				}
				seen[i] = struct{}{}
				if !s.bounds[i].Intersects(b) {
					continue
				}
				if !yield(s.rows[i], nil) {
					stop = true
					return
				}
			}
		})
	}
}

func (s *MemoryStore) cellRange(b orb.Bound) (minX, maxX, minY, maxY int32) {
	return s.cell(b.Min.X()), s.cell(b.Max.X()), s.cell(b.Min.Y()), s.cell(b.Max.Y())
}

func (s *MemoryStore) eachCell(b orb.Bound, fn func(cellKey)) {
	minX, maxX, minY, maxY := s.cellRange(b)

	// wide boxes at low zoom: walking occupied cells is cheaper
	span := int64(maxX-minX+1) * int64(maxY-minY+1)
	if span > int64(len(s.cells)) {
		for k := range s.cells {
			if k.X >= minX && k.X <= maxX && k.Y >= minY && k.Y <= maxY {
				fn(k)
			}
		}
		return
	}

	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			fn(cellKey{X: x, Y: y})
		}
	}
}

func (s *MemoryStore) cell(v float64) int32 {
	return int32(math.Floor(v / s.cellSize))
}
