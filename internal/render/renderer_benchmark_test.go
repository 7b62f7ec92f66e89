package render

import (
	"context"
	"math/rand"
	"testing"

	"github.com/jaennil/guide_helper/backend/isochrone/internal/colormapper"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/colorramp"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/repository/feature"
	"github.com/jaennil/guide_helper/backend/isochrone/pkg/logger"
	"github.com/paulmach/orb"
)

func generateRows(n int) []*feature.Row {
	rows := make([]*feature.Row, n)
	for i := range rows {
		x0, y0 := rand.Float64()*testSize, rand.Float64()*testSize
		x1, y1 := x0+rand.Float64()*40-20, y0+rand.Float64()*40-20
		rows[i] = &feature.Row{
			ID:       int64(i),
			From:     colormapper.NodeID(i),
			To:       colormapper.NodeID(i + 1),
			Highway:  feature.RoadClass(rand.Intn(15)),
			U:        int64(i),
			Geometry: orb.MultiLineString{{at(testTile, x0, y0), at(testTile, x1, y1)}},
		}
	}
	return rows
}

func benchmarkRender(b *testing.B, n int, geometryCache bool) {
	raw := colormapper.RawTravelTimes{}
	for i := 0; i <= n; i++ {
		raw[colormapper.NodeID(i)] = rand.Float64() * 3600
	}
	snap, err := colormapper.New(colorramp.Default()).Ingest(nil, raw, 0, 3600)
	if err != nil {
		b.Fatalf("Ingest failed: %v", err)
	}

	r := NewRenderer(&sliceStore{rows: generateRows(n)}, Config{
		TileSize:         testSize,
		LineWidth:        4,
		MaxFeatures:      n,
		YieldProbability: 0.01,
		GeometryCache:    geometryCache,
	}, logger.Nop())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := r.Render(context.Background(), testTile, snap); err != nil {
			b.Fatalf("Render failed: %v", err)
		}
	}
}

func BenchmarkRender_1k(b *testing.B) {
	benchmarkRender(b, 1000, false)
}

func BenchmarkRender_1k_GeometryCache(b *testing.B) {
	benchmarkRender(b, 1000, true)
}

func BenchmarkRender_20k(b *testing.B) {
	benchmarkRender(b, 20000, false)
}

func BenchmarkRender_20k_GeometryCache(b *testing.B) {
	benchmarkRender(b, 20000, true)
}
