package dto

import (
	"encoding/json"

	"github.com/jaennil/guide_helper/backend/isochrone/internal/interaction"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/usecase"
	"github.com/paulmach/orb/geojson"
)

type OriginRequest struct {
	Latitude            float64  `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude           float64  `json:"longitude" validate:"gte=-180,lte=180"`
	Agencies            []string `json:"agencies" validate:"dive,required"`
	Modes               []string `json:"modes" validate:"dive,required"`
	StartTime           uint64   `json:"start_time" validate:"lte=172800"`
	DurationSeconds     float64  `json:"duration_seconds" validate:"gte=0,lte=86400"`
	TransferPenaltySecs *uint64  `json:"transfer_penalty_secs,omitempty"`
	WindowFromStart     bool     `json:"window_from_start"`
}

type OriginResponse struct {
	*usecase.OriginResult
	State string `json:"state"`
}

type WindowRequest struct {
	DurationSeconds float64 `json:"duration_seconds" validate:"gt=0,lte=86400"`
}

type HoverRequest struct {
	Latitude  float64 `json:"latitude" validate:"gte=-85.06,lte=85.06"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
	Zoom      float64 `json:"zoom" validate:"gte=0,lte=22"`
	Click     bool    `json:"click"`
}

type HoverResponse struct {
	Hit     *interaction.Hit  `json:"hit"`
	Details []json.RawMessage `json:"details,omitempty"`
	Path    *geojson.Feature  `json:"path,omitempty"`
}

type CacheStatsResponse struct {
	TileCount      int    `json:"tile_count"`
	TotalSizeBytes int64  `json:"total_size_bytes"`
	Generation     uint64 `json:"generation"`
}
