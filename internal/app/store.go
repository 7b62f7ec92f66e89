package app

import (
	"context"
	"fmt"
	"io"

	"github.com/jaennil/guide_helper/backend/isochrone/internal/repository/feature"
	"github.com/jaennil/guide_helper/backend/isochrone/pkg/config"
	"github.com/jaennil/guide_helper/backend/isochrone/pkg/logger"
)

const (
	storeMemory = "memory"
	storeSQLite = "sqlite"
	storeMVT    = "mvt"

	// memoryCellSize is the grid cell of the in-memory index in degrees.
	memoryCellSize = 0.01
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newFeatureStore opens the configured edge source. The GeoJSON seed fills
// the memory store and, when given, an empty SQLite store.
func newFeatureStore(ctx context.Context, cfg *config.Config, l logger.Logger) (feature.Store, io.Closer, error) {
	switch cfg.Store.Kind {
	case storeMemory:
		if cfg.Store.GeoJSONPath == "" {
			return nil, nil, fmt.Errorf("store %q needs STORE_GEOJSON_PATH", storeMemory)
		}
		rows, skipped, err := feature.LoadGeoJSON(cfg.Store.GeoJSONPath)
		if err != nil {
			return nil, nil, err
		}
		l.Info("loaded edges", "path", cfg.Store.GeoJSONPath, "rows", len(rows), "skipped", skipped)
		return feature.NewMemoryStore(rows, memoryCellSize), nopCloser{}, nil

	case storeSQLite:
		s, err := feature.NewSQLiteStore(cfg.Store.SQLitePath, l)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Store.GeoJSONPath != "" {
			rows, skipped, err := feature.LoadGeoJSON(cfg.Store.GeoJSONPath)
			if err != nil {
				s.Close()
				return nil, nil, err
			}
			if err := s.Insert(ctx, rows); err != nil {
				s.Close()
				return nil, nil, err
			}
			l.Info("seeded sqlite edges", "path", cfg.Store.GeoJSONPath, "rows", len(rows), "skipped", skipped)
		}
		return s, s, nil

	case storeMVT:
		s := feature.NewMVTStore(feature.MVTConfig{
			URLTemplate: cfg.Store.MVTURL,
			Layer:       cfg.Store.MVTLayer,
			Zoom:        cfg.Store.MVTZoom,
			CacheSize:   cfg.Store.MVTCacheSz,
			Timeout:     cfg.HTTP.Timeout,
		}, l)
		return s, nopCloser{}, nil
	}

	return nil, nil, fmt.Errorf("unknown feature store %q", cfg.Store.Kind)
}
