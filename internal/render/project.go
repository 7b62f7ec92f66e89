package render

import (
	"errors"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// MaxLatitude is the Web-Mercator cutoff. Latitudes beyond it are clamped.
const MaxLatitude = 85.05112877980659

var ErrBadCoordinate = errors.New("coordinate is not a finite lon/lat pair")

// normPoint is a Web-Mercator position normalized to [0,1] on both axes,
// y growing southwards. It does not depend on zoom.
type normPoint struct {
	X, Y float64
}

// normLine is one projected polyline of a feature.
type normLine []normPoint

// Project maps lon/lat to normalized Web-Mercator.
func Project(p orb.Point) (x, y float64, err error) {
	lon, lat := p.Lon(), p.Lat()
	if math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0) {
		return 0, 0, ErrBadCoordinate
	}
	if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return 0, 0, ErrBadCoordinate
	}
	lat = math.Max(-MaxLatitude, math.Min(MaxLatitude, lat))

	sin := math.Sin(lat * math.Pi / 180)
	x = lon/360 + 0.5
	y = 0.5 - math.Log((1+sin)/(1-sin))/(4*math.Pi)
	return x, y, nil
}

// Unproject is the inverse of Project.
func Unproject(x, y float64) orb.Point {
	lon := (x - 0.5) * 360
	lat := 90 - 360*math.Atan(math.Exp((y-0.5)*2*math.Pi))/math.Pi
	return orb.Point{lon, lat}
}

func projectGeometry(g orb.MultiLineString) ([]normLine, error) {
	lines := make([]normLine, 0, len(g))
	for _, ls := range g {
		if len(ls) == 0 {
			continue
		}
		line := make(normLine, len(ls))
		for i, p := range ls {
			x, y, err := Project(p)
			if err != nil {
				return nil, err
			}
			line[i] = normPoint{X: x, Y: y}
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return nil, errors.New("geometry has no points")
	}
	return lines, nil
}

// tileTransform maps normalized Mercator into the pixel space of one tile.
type tileTransform struct {
	scale  float64
	x0, y0 float64
	size   float64
}

func newTileTransform(t maptile.Tile, size int) tileTransform {
	return tileTransform{
		scale: float64(uint64(1) << t.Z),
		x0:    float64(t.X),
		y0:    float64(t.Y),
		size:  float64(size),
	}
}

func (tt tileTransform) pixel(p normPoint) (float64, float64) {
	return (p.X*tt.scale - tt.x0) * tt.size, (p.Y*tt.scale - tt.y0) * tt.size
}
