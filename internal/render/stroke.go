package render

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/vector"
)

type pixelPoint struct {
	X, Y float32
}

// capSides is the polygon resolution used for round caps and joins.
const capSides = 8

var capDirs = func() [capSides][2]float64 {
	var d [capSides][2]float64
	// clockwise on screen, matching the winding of segment quads
	for k := range d {
		a := -float64(k) * 2 * math.Pi / capSides
		d[k] = [2]float64{math.Cos(a), math.Sin(a)}
	}
	return d
}()

// stroker fills polylines of one color into a tile. Every polygon it emits
// has the same winding, so overlapping strokes saturate instead of
// cancelling each other out.
type stroker struct {
	z         *vector.Rasterizer
	halfWidth float64
}

func newStroker(lineWidth float64) *stroker {
	return &stroker{
		z:         vector.NewRasterizer(1, 1),
		halfWidth: lineWidth / 2,
	}
}

func (s *stroker) stroke(dst *image.RGBA, lines [][]pixelPoint, c color.NRGBA) {
	area := s.extent(lines).Intersect(dst.Bounds())
	if area.Empty() {
		return
	}

	s.z.Reset(area.Dx(), area.Dy())
	ox, oy := float64(area.Min.X), float64(area.Min.Y)

	for _, line := range lines {
		for i, p := range line {
			px, py := float64(p.X)-ox, float64(p.Y)-oy
			s.dot(px, py)
			if i == 0 {
				continue
			}
			q := line[i-1]
			s.segment(float64(q.X)-ox, float64(q.Y)-oy, px, py)
		}
	}

	s.z.Draw(dst, area, image.NewUniform(c), image.Point{})
}

func (s *stroker) extent(lines [][]pixelPoint) image.Rectangle {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, line := range lines {
		for _, p := range line {
			minX = math.Min(minX, float64(p.X))
			minY = math.Min(minY, float64(p.Y))
			maxX = math.Max(maxX, float64(p.X))
			maxY = math.Max(maxY, float64(p.Y))
		}
	}
	if minX > maxX {
		return image.Rectangle{}
	}

	pad := s.halfWidth + 1
	// keep far-away strokes from overflowing int conversion
	clampInt := func(v float64) int {
		return int(math.Max(-1<<20, math.Min(1<<20, v)))
	}
	return image.Rect(
		clampInt(math.Floor(minX-pad)),
		clampInt(math.Floor(minY-pad)),
		clampInt(math.Ceil(maxX+pad)),
		clampInt(math.Ceil(maxY+pad)),
	)
}

func (s *stroker) segment(ax, ay, bx, by float64) {
	dx, dy := bx-ax, by-ay
	l := math.Hypot(dx, dy)
	if l < 1e-9 {
		return
	}
	nx, ny := -dy/l*s.halfWidth, dx/l*s.halfWidth

	s.z.MoveTo(float32(ax+nx), float32(ay+ny))
	s.z.LineTo(float32(bx+nx), float32(by+ny))
	s.z.LineTo(float32(bx-nx), float32(by-ny))
	s.z.LineTo(float32(ax-nx), float32(ay-ny))
	s.z.ClosePath()
}

func (s *stroker) dot(x, y float64) {
	r := s.halfWidth
	s.z.MoveTo(float32(x+capDirs[0][0]*r), float32(y+capDirs[0][1]*r))
	for _, d := range capDirs[1:] {
		s.z.LineTo(float32(x+d[0]*r), float32(y+d[1]*r))
	}
	s.z.ClosePath()
}
