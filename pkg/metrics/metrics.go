package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TileRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "isochrone_tile_requests_total",
		Help: "Total number of tile requests",
	})

	TileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "isochrone_tile_cache_hits_total",
		Help: "Total number of tile cache hits",
	})

	TileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "isochrone_tile_cache_misses_total",
		Help: "Total number of tile cache misses",
	})

	TileCacheClears = promauto.NewCounter(prometheus.CounterOpts{
		Name: "isochrone_tile_cache_clears_total",
		Help: "Total number of wholesale tile cache invalidations",
	})

	TileRenderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "isochrone_tile_render_seconds",
		Help:    "Latency of tile renders in seconds",
		Buckets: prometheus.DefBuckets,
	})

	TilesOversized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "isochrone_tiles_oversized_total",
		Help: "Tiles rendered empty because their feature count exceeded the ceiling",
	})

	FeaturesDrawn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "isochrone_features_drawn_total",
		Help: "Total number of features stroked into tiles",
	})

	FeaturesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "isochrone_features_skipped_total",
		Help: "Features not drawn, by reason",
	}, []string{"reason"})

	BackendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "isochrone_backend_request_seconds",
		Help:    "Latency of routing backend requests in seconds",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"endpoint"})

	BackendErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "isochrone_backend_errors_total",
		Help: "Total number of failed routing backend requests",
	}, []string{"endpoint", "kind"})

	HoverRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "isochrone_hover_requests_total",
		Help: "Total number of hover hit-tests",
	})

	HoverCancellations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "isochrone_hover_cancellations_total",
		Help: "Hover detail requests superseded or cancelled",
	})
)
