// Package lod thins low-importance edges at low zoom.
package lod

import (
	"github.com/jaennil/guide_helper/backend/isochrone/internal/repository/feature"
)

// ModuloForZoom returns the sampling cutoff for thinned road classes.
func ModuloForZoom(zoom int) int64 {
	switch {
	case zoom >= 12:
		return 1
	case zoom == 11:
		return 2
	case zoom == 10:
		return 8
	default:
		return 18
	}
}

// Thinned reports whether the class is subject to sampling at all.
func Thinned(c feature.RoadClass) bool {
	return c == feature.RoadResidential || c == feature.RoadService
}

// ShouldDraw depends only on the row's class, its sampling key and zoom, so
// the decision is the same regardless of render order.
func ShouldDraw(r *feature.Row, zoom int) bool {
	if !Thinned(r.Highway) {
		return true
	}
	cutoff := ModuloForZoom(zoom)
	u := r.U
	if u < 0 {
		u = -u
	}
	return u%cutoff == 0
}
