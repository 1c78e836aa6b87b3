package tiled

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/gogpu/tiled/internal/access"
	"github.com/gogpu/tiled/internal/graph"
	"github.com/gogpu/tiled/internal/tiles"
	"github.com/gogpu/tiled/internal/walker"
)

// merger recomposes the job items of a walker, bottom to top.
//
// Items of one parent arrive contiguously from its bottommost child to its
// topmost one. They are composed into a scratch plane that replaces the
// parent's original when the topmost child is reached. Nodes whose content
// changed recompute their projection first.
type merger struct {
	img *Image
}

func (m merger) Execute(ctx context.Context, w *walker.Walker) error {
	img := m.img
	g := img.g
	planes := make(map[graph.NodeID]*tiles.Store)

	for _, it := range w.MergeOrder() {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := img.node(it.Node)
		if n == nil || n.proj == nil {
			continue
		}
		parent := g.Parent(it.Node)
		extra := it.Position&graph.Extra != 0

		below := planes[parent]
		if below == nil && parent != graph.None && !extra {
			below = img.scratch()
			planes[parent] = below
		}

		visible := g.Visible(it.Node)
		if visible && m.needsProjection(it) {
			m.updateProjection(it.Node, n, below, it.Rect)
		}
		if extra || parent == graph.None {
			continue
		}

		if visible {
			if g.DependsOnLowerNodes(it.Node) {
				below.BitBlt(n.proj.store, it.Rect)
			} else {
				img.comp.Composite(img.wrap(below), n.proj, it.Rect)
			}
		}
		if it.Position&graph.Topmost != 0 {
			if p := img.node(parent); p != nil && p.original != nil {
				below.Purge(it.Rect)
				p.original.store.BitBlt(below, it.Rect)
			}
			delete(planes, parent)
		}
	}

	img.dirty.MarkRect(w.ChangeRect())
	return nil
}

func (m merger) needsProjection(it walker.JobItem) bool {
	switch {
	case it.Position&(graph.Filthy|graph.FilthyProjection|graph.Extra) != 0:
		return true
	case it.Position&graph.AboveFilthy != 0:
		return m.img.g.DependsOnLowerNodes(it.Node)
	default:
		return false
	}
}

// updateProjection recomputes r of the node's projection from its
// original, or from below for adjustment layers, through its masks.
func (m merger) updateProjection(id graph.NodeID, n *node, below *tiles.Store, r image.Rectangle) {
	img := m.img
	g := img.g

	var masks []graph.NodeID
	for _, mk := range g.Masks(id) {
		if g.Visible(mk) && img.node(mk) != nil {
			masks = append(masks, mk)
		}
	}
	// rects[i] is the area mask i must produce; the input of mask i is
	// needed over rects[i-1].
	rects := make([]image.Rectangle, len(masks)+1)
	rects[len(masks)] = r
	for i := len(masks) - 1; i >= 0; i-- {
		rects[i] = g.NeedRect(masks[i], rects[i+1], graph.Normal)
	}

	var cur *tiles.Store
	switch kind := g.Kind(id); kind {
	case graph.KindPaint, graph.KindGroup:
		cur = n.original.store
	case graph.KindAdjustment:
		cur = img.scratch()
		src := below
		if src == nil {
			src = img.scratch()
		}
		n.filter.Apply(img.wrap(cur), img.wrap(src), rects[0])
	default:
		panic(fmt.Sprintf("tiled: unhandled %v", kind))
	}

	for i, mk := range masks {
		next := cur.Clone()
		m.applyMask(mk, next, cur, rects[i+1])
		cur = next
	}
	n.proj.store.BitBlt(cur, r)
}

func (m merger) applyMask(id graph.NodeID, dst, src *tiles.Store, r image.Rectangle) {
	img := m.img
	spec, _ := img.g.Spec(id)
	mn := img.node(id)
	switch spec.Mask {
	case graph.MaskFilter:
		mn.filter.Apply(img.wrap(dst), img.wrap(src), r)
	case graph.MaskTransparency:
		img.comp.ApplySelection(img.wrap(dst), mn.selection, r)
	case graph.MaskTransform:
		transform(dst, src, spec, r)
	default:
		panic(fmt.Sprintf("tiled: unhandled %v", spec.Mask))
	}
}

// transform fills r of dst with the nearest src pixel under the inverse
// of the mask's transform.
func transform(dst, src *tiles.Store, spec graph.Spec, r image.Rectangle) {
	inv, ok := graph.Invert(spec.Transform)
	if !ok || r.Empty() {
		return
	}
	ps := dst.PixelSize()
	in := access.NewRandomAccessor(src, false)
	defer in.Close()
	out := access.NewRectIterator(dst, r, true)
	defer out.Close()
	for !out.IsDone() {
		x, y := graph.Apply(inv, float64(out.X())+0.5, float64(out.Y())+0.5)
		in.MoveTo(int(math.Floor(x)), int(math.Floor(y)))
		copy(out.RawData()[:ps], in.RawDataConst()[:ps])
		out.NextPixel()
	}
}
