// Package geometry normalizes model-reported bounding boxes and classifies
// decorative page elements. Everything here is a pure function over plain
// data; the model is inconsistent about which coordinate convention it uses
// per response, so magnitude-based sniffing is the only disambiguator.
package geometry

import "math"

// Rect is an axis-aligned rectangle with X0 <= X1 and Y0 <= Y1 once
// normalized.
type Rect struct {
	X0, Y0, X1, Y1 float64
}

// Width returns X1-X0.
func (r Rect) Width() float64 { return r.X1 - r.X0 }

// Height returns Y1-Y0.
func (r Rect) Height() float64 { return r.Y1 - r.Y0 }

// Area returns Width*Height.
func (r Rect) Area() float64 { return r.Width() * r.Height() }

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// UnitBox clamps the four components to [0,1] and reorders each coordinate
// pair so the rectangle is well-ordered regardless of input corner order.
func UnitBox(box [4]float64) Rect {
	x0 := clamp01(box[0])
	y0 := clamp01(box[1])
	x1 := clamp01(box[2])
	y1 := clamp01(box[3])
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	return Rect{X0: x0, Y0: y0, X1: x1, Y1: y1}
}

// NormalizeBox converts a bounding box in any of the observed coordinate
// conventions (unit square, 0-1000, 0-10000, absolute page points) into page
// coordinates. The space is selected by the largest absolute component:
// <=1.01 means already normalized, <=1000 and <=10000 are fixed-point
// conventions, anything larger is treated as absolute page points.
func NormalizeBox(box [4]float64, page Rect) Rect {
	maxAbs := 0.0
	for _, v := range box {
		if a := math.Abs(v); a > maxAbs {
			maxAbs = a
		}
	}

	var u [4]float64
	switch {
	case maxAbs <= 1.01:
		u = box
	case maxAbs <= 1000:
		for i, v := range box {
			u[i] = v / 1000
		}
	case maxAbs <= 10000:
		for i, v := range box {
			u[i] = v / 10000
		}
	default:
		w, h := page.Width(), page.Height()
		if w <= 0 || h <= 0 {
			w, h = 1, 1
		}
		u = [4]float64{box[0] / w, box[1] / h, box[2] / w, box[3] / h}
	}

	unit := UnitBox(u)
	return Rect{
		X0: page.X0 + unit.X0*page.Width(),
		Y0: page.Y0 + unit.Y0*page.Height(),
		X1: page.X0 + unit.X1*page.Width(),
		Y1: page.Y0 + unit.Y1*page.Height(),
	}
}

// Decorative classification thresholds, in unit-square terms.
const (
	hairlineMin    = 0.01
	stripLongSide  = 0.95
	stripShortSide = 0.02
	frameMinArea   = 0.6
	frameMaxAspect = 10.0
)

// IsDecorative reports whether a unit-square box looks like a page border,
// separator rule, or highlight band rather than meaningful content. Such
// boxes are excluded from extraction entirely.
func IsDecorative(unit Rect) bool {
	w, h := unit.Width(), unit.Height()

	// Hairlines in either dimension.
	if w < hairlineMin || h < hairlineMin {
		return true
	}

	// Full-bleed separator strips.
	if (w > stripLongSide && h < stripShortSide) || (h > stripLongSide && w < stripShortSide) {
		return true
	}

	// Page-border frames: huge area with an extreme aspect ratio.
	if unit.Area() > frameMinArea {
		aspect := math.Inf(1)
		if h > 1e-9 {
			aspect = w / h
		}
		if aspect > frameMaxAspect || aspect < 1/frameMaxAspect {
			return true
		}
	}

	return false
}
