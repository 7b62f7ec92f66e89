// Package colorramp holds the fixed, ordered color gradient used to paint
// travel times. Index 0 is the coolest color (reached soonest), the last
// index the hottest (reached at the end of the window).
package colorramp

import (
	"fmt"
	"image/color"
	"math"

	"github.com/samber/lo"
)

const (
	// DefaultShades is the number of discrete colors in the default ramp.
	DefaultShades = 80

	// sourceShades is the resolution of the gradient the ramp is sampled from.
	sourceShades = 120

	// firstSlopeEnd shades at the cool end are sampled with their own slope,
	// the rest are spread evenly over the remaining gradient.
	firstSlopeEnd = 8

	rampAlpha = 0xCC
)

// Invalid is returned for fractions outside [0, 1].
var Invalid = color.NRGBA{R: 0xFF, G: 0x00, B: 0xFF, A: 0xFF}

// Stop is a gradient control point. Position is in [0, 1].
type Stop struct {
	Position float64
	Color    color.NRGBA
}

// Temperature runs cool (deep blue) to hot (yellow-white).
var Temperature = []Stop{
	{0.00, color.NRGBA{R: 4, G: 35, B: 51, A: 0xFF}},
	{0.09, color.NRGBA{R: 23, G: 51, B: 122, A: 0xFF}},
	{0.20, color.NRGBA{R: 85, G: 59, B: 157, A: 0xFF}},
	{0.27, color.NRGBA{R: 129, G: 79, B: 143, A: 0xFF}},
	{0.35, color.NRGBA{R: 175, G: 95, B: 130, A: 0xFF}},
	{0.43, color.NRGBA{R: 222, G: 112, B: 101, A: 0xFF}},
	{0.50, color.NRGBA{R: 249, G: 146, B: 66, A: 0xFF}},
	{0.65, color.NRGBA{R: 249, G: 196, B: 65, A: 0xFF}},
	{1.00, color.NRGBA{R: 232, G: 250, B: 91, A: 0xFF}},
}

// Ramp is immutable after construction and safe for concurrent use.
type Ramp struct {
	colors []color.NRGBA
}

// New samples shades colors from the gradient described by stops.
func New(stops []Stop, shades int) (*Ramp, error) {
	if shades <= firstSlopeEnd {
		return nil, fmt.Errorf("ramp needs more than %d shades, got %d", firstSlopeEnd, shades)
	}
	if len(stops) < 2 {
		return nil, fmt.Errorf("ramp needs at least 2 stops, got %d", len(stops))
	}
	for i := 1; i < len(stops); i++ {
		if stops[i].Position < stops[i-1].Position {
			return nil, fmt.Errorf("ramp stops out of order at %d", i)
		}
	}

	source := make([]color.NRGBA, sourceShades+1)
	for i := range source {
		source[i] = interpolate(stops, float64(i)/sourceShades)
	}

	at := func(pos float64) color.NRGBA {
		i := lo.Clamp(int(math.Round(pos)), 0, sourceShades)
		c := source[i]
		c.A = rampAlpha
		return c
	}

	colors := make([]color.NRGBA, 0, shades)
	firstSlope := 0.7 * sourceShades / float64(shades)
	var y float64
	for i := 0; i < firstSlopeEnd; i++ {
		y = float64(i) * firstSlope * sourceShades / float64(shades)
		colors = append(colors, at(y))
	}
	secondSlope := (sourceShades - y) / float64(shades-firstSlopeEnd)
	for len(colors) < shades {
		y += secondSlope
		colors = append(colors, at(y))
	}

	return &Ramp{colors: colors}, nil
}

// Default returns the 80-shade temperature ramp.
func Default() *Ramp {
	r, err := New(Temperature, DefaultShades)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Ramp) Len() int {
	return len(r.colors)
}

// Color returns the color at ramp index i. i must be in [0, Len()).
func (r *Ramp) Color(i int) color.NRGBA {
	return r.colors[i]
}

// IndexAt maps a fraction to a ramp index: floor(fraction*N) clamped to
// [0, N-1]. ok is false for fractions outside [0, 1] and for NaN.
func (r *Ramp) IndexAt(fraction float64) (index int, ok bool) {
	if math.IsNaN(fraction) || fraction < 0 || fraction > 1 {
		return 0, false
	}
	n := len(r.colors)
	return lo.Clamp(int(math.Floor(fraction*float64(n))), 0, n-1), true
}

// ColorAt returns the color for fraction, or Invalid when it is out of range.
func (r *Ramp) ColorAt(fraction float64) color.NRGBA {
	i, ok := r.IndexAt(fraction)
	if !ok {
		return Invalid
	}
	return r.colors[i]
}

func interpolate(stops []Stop, pos float64) color.NRGBA {
	if pos <= stops[0].Position {
		return stops[0].Color
	}
	last := stops[len(stops)-1]
	if pos >= last.Position {
		return last.Color
	}
	for i := 1; i < len(stops); i++ {
		prev, next := stops[i-1], stops[i]
		if pos > next.Position {
			continue
		}
		span := next.Position - prev.Position
		if span == 0 {
			return next.Color
		}
		t := (pos - prev.Position) / span
		return color.NRGBA{
			R: lerp(prev.Color.R, next.Color.R, t),
			G: lerp(prev.Color.G, next.Color.G, t),
			B: lerp(prev.Color.B, next.Color.B, t),
			A: lerp(prev.Color.A, next.Color.A, t),
		}
	}
	return last.Color
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*t))
}
