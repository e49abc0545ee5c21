package geometry

import (
	"math"
	"testing"
)

const tol = 1e-9

func rectsEqual(a, b Rect) bool {
	return math.Abs(a.X0-b.X0) < tol && math.Abs(a.Y0-b.Y0) < tol &&
		math.Abs(a.X1-b.X1) < tol && math.Abs(a.Y1-b.Y1) < tol
}

func TestNormalizeBoxUnitIdempotent(t *testing.T) {
	unit := Rect{X0: 0, Y0: 0, X1: 1, Y1: 1}
	got := NormalizeBox([4]float64{0.1, 0.2, 0.3, 0.4}, unit)
	want := Rect{X0: 0.1, Y0: 0.2, X1: 0.3, Y1: 0.4}
	if !rectsEqual(got, want) {
		t.Fatalf("unit box changed under normalization: got %+v", got)
	}
}

func TestNormalizeBoxConventions(t *testing.T) {
	page := Rect{X0: 0, Y0: 0, X1: 612, Y1: 792}
	cases := []struct {
		name string
		box  [4]float64
		want Rect
	}{
		{"thousandths", [4]float64{100, 200, 300, 400}, Rect{61.2, 158.4, 183.6, 316.8}},
		{"ten-thousandths", [4]float64{1000, 2000, 3000, 4000}, Rect{61.2, 158.4, 183.6, 316.8}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NormalizeBox(tc.box, page)
			if !rectsEqual(got, tc.want) {
				t.Fatalf("got %+v want %+v", got, tc.want)
			}
		})
	}
}

func TestNormalizeBoxAbsolutePoints(t *testing.T) {
	page := Rect{X0: 0, Y0: 0, X1: 612, Y1: 792}
	// Larger than 10000 in one component forces the absolute-points branch.
	got := NormalizeBox([4]float64{0, 0, 30600, 39600}, page)
	// 30600/612 and 39600/792 both exceed 1 and clamp to the full page.
	want := Rect{X0: 0, Y0: 0, X1: 612, Y1: 792}
	if !rectsEqual(got, want) {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestNormalizeBoxReordersCorners(t *testing.T) {
	unit := Rect{X0: 0, Y0: 0, X1: 1, Y1: 1}
	got := NormalizeBox([4]float64{0.8, 0.9, 0.1, 0.2}, unit)
	want := Rect{X0: 0.1, Y0: 0.2, X1: 0.8, Y1: 0.9}
	if !rectsEqual(got, want) {
		t.Fatalf("corners not reordered: got %+v", got)
	}
}

func TestNormalizeBoxClamps(t *testing.T) {
	unit := Rect{X0: 0, Y0: 0, X1: 1, Y1: 1}
	got := NormalizeBox([4]float64{-0.5, 0.2, 0.9, 1.0}, unit)
	if got.X0 != 0 {
		t.Fatalf("negative coordinate not clamped: %+v", got)
	}
}

func TestIsDecorativeBoundary(t *testing.T) {
	cases := []struct {
		name string
		box  [4]float64
		want bool
	}{
		{"full-width thin strip", [4]float64{0.0, 0.0, 1.0, 0.01}, true},
		{"ordinary figure", [4]float64{0.1, 0.1, 0.5, 0.6}, false},
		{"vertical hairline", [4]float64{0.5, 0.1, 0.505, 0.9}, true},
		{"full-height side rule", [4]float64{0.0, 0.0, 0.015, 0.99}, true},
		{"highlight band", [4]float64{0.0, 0.4, 1.0, 0.415}, true},
		{"near-full-page photo", [4]float64{0.05, 0.05, 0.95, 0.95}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsDecorative(UnitBox(tc.box)); got != tc.want {
				t.Fatalf("IsDecorative(%v) = %v, want %v", tc.box, got, tc.want)
			}
		})
	}
}

func TestUnitBoxWellOrdered(t *testing.T) {
	r := UnitBox([4]float64{0.9, 0.8, 0.1, 0.2})
	if r.X0 > r.X1 || r.Y0 > r.Y1 {
		t.Fatalf("rect not well-ordered: %+v", r)
	}
	if r.Width() < 0 || r.Height() < 0 {
		t.Fatalf("negative extent: %+v", r)
	}
}
