// Package feature provides the spatial feature stores the tile renderer
// reads edges from.
package feature

import (
	"context"
	"fmt"
	"iter"
	"math"
	"strconv"

	"github.com/jaennil/guide_helper/backend/isochrone/internal/colormapper"
	"github.com/paulmach/orb"
)

// RoadClass is the closed set of highway values the renderer cares about.
type RoadClass uint8

const (
	RoadOther RoadClass = iota
	RoadMotorway
	RoadTrunk
	RoadPrimary
	RoadSecondary
	RoadTertiary
	RoadUnclassified
	RoadResidential
	RoadService
	RoadLivingStreet
	RoadPedestrian
	RoadFootway
	RoadCycleway
	RoadPath
	RoadTransit
)

var roadClassNames = [...]string{
	RoadOther:        "other",
	RoadMotorway:     "motorway",
	RoadTrunk:        "trunk",
	RoadPrimary:      "primary",
	RoadSecondary:    "secondary",
	RoadTertiary:     "tertiary",
	RoadUnclassified: "unclassified",
	RoadResidential:  "residential",
	RoadService:      "service",
	RoadLivingStreet: "living_street",
	RoadPedestrian:   "pedestrian",
	RoadFootway:      "footway",
	RoadCycleway:     "cycleway",
	RoadPath:         "path",
	RoadTransit:      "transit",
}

func (c RoadClass) String() string {
	if int(c) < len(roadClassNames) {
		return roadClassNames[c]
	}
	return roadClassNames[RoadOther]
}

// ParseRoadClass maps an OSM highway tag to a RoadClass. Link roads fold into
// their parent class; anything unknown is RoadOther.
func ParseRoadClass(s string) RoadClass {
	switch s {
	case "motorway", "motorway_link":
		return RoadMotorway
	case "trunk", "trunk_link":
		return RoadTrunk
	case "primary", "primary_link":
		return RoadPrimary
	case "secondary", "secondary_link":
		return RoadSecondary
	case "tertiary", "tertiary_link":
		return RoadTertiary
	case "unclassified":
		return RoadUnclassified
	case "residential":
		return RoadResidential
	case "service":
		return RoadService
	case "living_street":
		return RoadLivingStreet
	case "pedestrian":
		return RoadPedestrian
	case "footway", "steps":
		return RoadFootway
	case "cycleway":
		return RoadCycleway
	case "path", "track", "bridleway":
		return RoadPath
	case "transit":
		return RoadTransit
	}
	return RoadOther
}

// Row is one edge of the road/transit network. Rows are read-only.
type Row struct {
	ID       int64
	From     colormapper.NodeID
	To       colormapper.NodeID
	Geometry orb.MultiLineString
	Highway  RoadClass
	// U is a stable per-edge sampling key used for level-of-detail thinning.
	U int64
}

func (r *Row) Bound() orb.Bound {
	return r.Geometry.Bound()
}

// Store answers bounding-box queries over edge features. Bounds are in
// WGS84 longitude/latitude.
//
// QueryBound is lazy; every call starts a fresh scan. Iteration order is
// store-defined.
type Store interface {
	CountInBound(ctx context.Context, b orb.Bound) (int, error)
	QueryBound(ctx context.Context, b orb.Bound) iter.Seq2[*Row, error]
}

// RowFromProperties builds a Row from a decoded feature's id, geometry and
// tags. Only line geometries are accepted.
func RowFromProperties(id any, g orb.Geometry, props map[string]any) (*Row, error) {
	var geom orb.MultiLineString
	switch v := g.(type) {
	case orb.LineString:
		geom = orb.MultiLineString{v}
	case orb.MultiLineString:
		geom = v
	default:
		return nil, fmt.Errorf("unsupported geometry %T", g)
	}

	rowID, ok := toInt64(id)
	if !ok {
		if rowID, ok = toInt64(props["id"]); !ok {
			return nil, fmt.Errorf("feature has no numeric id")
		}
	}

	from, _ := toInt64(props["from"])
	to, _ := toInt64(props["to"])
	u, _ := toInt64(props["u"])
	highway, _ := props["highway"].(string)

	return &Row{
		ID:       rowID,
		From:     colormapper.NodeID(from),
		To:       colormapper.NodeID(to),
		Geometry: geom,
		Highway:  ParseRoadClass(highway),
		U:        u,
	}, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}
