package graph

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/math/f64"
)

func grow(r image.Rectangle, n int) image.Rectangle {
	if r.Empty() || n == 0 {
		return r
	}
	return r.Inset(-n)
}

// ChangeRect returns the area of id's projection that changes when its
// input changes in r. Masks only contribute when the layer itself is
// filthy.
func (g *Graph) ChangeRect(id NodeID, r image.Rectangle, pos Position) image.Rectangle {
	s, ok := g.Spec(id)
	if !ok {
		return r
	}
	switch s.Kind {
	case KindPaint, KindGroup:
	case KindAdjustment:
		r = grow(r, s.ChangeMargin)
	case KindMask:
		return maskChangeRect(s, r)
	default:
		panic(fmt.Sprintf("graph: unhandled %v", s.Kind))
	}
	if pos&Filthy != 0 {
		r = g.MasksChangeRect(id, r)
	}
	return r
}

// MasksChangeRect passes r through the change rects of id's visible
// masks, bottom to top.
func (g *Graph) MasksChangeRect(id NodeID, r image.Rectangle) image.Rectangle {
	for _, m := range g.Masks(id) {
		if s, ok := g.Spec(m); ok && g.Visible(m) {
			r = maskChangeRect(s, r)
		}
	}
	return r
}

// NeedRect returns the input area id reads to recompute r.
func (g *Graph) NeedRect(id NodeID, r image.Rectangle, pos Position) image.Rectangle {
	s, ok := g.Spec(id)
	if !ok {
		return r
	}
	switch s.Kind {
	case KindPaint, KindGroup:
		return r
	case KindAdjustment:
		return grow(r, s.NeedMargin)
	case KindMask:
		return maskNeedRect(s, r)
	default:
		panic(fmt.Sprintf("graph: unhandled %v", s.Kind))
	}
}

// AccessRect returns every input pixel id touches while recomputing r.
func (g *Graph) AccessRect(id NodeID, r image.Rectangle, pos Position) image.Rectangle {
	s, ok := g.Spec(id)
	if !ok {
		return r
	}
	switch s.Kind {
	case KindPaint, KindGroup, KindMask:
		return r
	case KindAdjustment:
		if s.AccessOffset == (image.Point{}) || r.Empty() {
			return r
		}
		return r.Union(r.Add(s.AccessOffset))
	default:
		panic(fmt.Sprintf("graph: unhandled %v", s.Kind))
	}
}

// NeedRectForOriginal returns the area of id's original that its masks
// read to produce r of its projection.
func (g *Graph) NeedRectForOriginal(id NodeID, r image.Rectangle) image.Rectangle {
	masks := g.Masks(id)
	for i := len(masks) - 1; i >= 0; i-- {
		if s, ok := g.Spec(masks[i]); ok && g.Visible(masks[i]) {
			r = maskNeedRect(s, r)
		}
	}
	return r
}

func maskChangeRect(s Spec, r image.Rectangle) image.Rectangle {
	switch s.Mask {
	case MaskFilter:
		return grow(r, s.ChangeMargin)
	case MaskTransparency:
		return r
	case MaskTransform:
		return MapRect(s.Transform, r)
	default:
		panic(fmt.Sprintf("graph: unhandled %v", s.Mask))
	}
}

func maskNeedRect(s Spec, r image.Rectangle) image.Rectangle {
	switch s.Mask {
	case MaskFilter:
		return grow(r, s.NeedMargin)
	case MaskTransparency:
		return r
	case MaskTransform:
		inv, _ := invert(s.Transform)
		return MapRect(inv, r)
	default:
		panic(fmt.Sprintf("graph: unhandled %v", s.Mask))
	}
}

// MapRect returns the integer bounding box of r mapped through m.
func MapRect(m f64.Aff3, r image.Rectangle) image.Rectangle {
	if r.Empty() {
		return r
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range [4][2]float64{
		{float64(r.Min.X), float64(r.Min.Y)},
		{float64(r.Max.X), float64(r.Min.Y)},
		{float64(r.Min.X), float64(r.Max.Y)},
		{float64(r.Max.X), float64(r.Max.Y)},
	} {
		x, y := Apply(m, p[0], p[1])
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	return image.Rect(int(math.Floor(minX)), int(math.Floor(minY)), int(math.Ceil(maxX)), int(math.Ceil(maxY)))
}

// Apply maps (x, y) through m.
func Apply(m f64.Aff3, x, y float64) (float64, float64) {
	return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]
}

// Invert returns the inverse of m, or false when m is singular.
func Invert(m f64.Aff3) (f64.Aff3, bool) { return invert(m) }

func invert(m f64.Aff3) (f64.Aff3, bool) {
	det := m[0]*m[4] - m[1]*m[3]
	if det == 0 || math.IsNaN(det) {
		return f64.Aff3{}, false
	}
	return f64.Aff3{
		m[4] / det, -m[1] / det, (m[1]*m[5] - m[4]*m[2]) / det,
		-m[3] / det, m[0] / det, (m[3]*m[2] - m[0]*m[5]) / det,
	}, true
}

// Identity is the identity transform.
var Identity = f64.Aff3{1, 0, 0, 0, 1, 0}
