// Package walker expands a dirty rectangle on one graph node into the
// ordered list of nodes and rectangles that must be recomposed.
//
// A merge walker climbs from the changed node to the root, registering
// change rects on the way up (the node, the layers stacked above it, its
// parent and so on) and need rects on the way back down, so that every
// parent's need rect is known before its children are visited. Layers
// below the changed one are visited last, as below-filthy. A full-refresh
// walker additionally pushes every layer inside the start node.
package walker

import (
	"fmt"
	"image"
	"slices"

	"github.com/gogpu/tiled/internal/graph"
)

// Kind selects the traversal.
type Kind uint8

// Walker kinds.
const (
	Merge Kind = iota + 1
	FullRefresh
)

func (k Kind) String() string {
	switch k {
	case Merge:
		return "merge"
	case FullRefresh:
		return "full-refresh"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Flags tune a merge walk.
type Flags uint8

// NoFilthy treats the start node as unchanged: it is visited as
// above-filthy, so only its projection is recomposed into its parent.
const NoFilthy Flags = 1 << 0

// State is the collection state of a walker.
type State uint8

// Walker states.
const (
	Collecting State = iota
	Collected
)

// JobItem is one node to recompose over Rect.
type JobItem struct {
	Node     graph.NodeID
	Position graph.Position
	Rect     image.Rectangle
}

type tripMode uint8

const (
	modeUpdate tripMode = iota
	modeRefresh
)

// Walker collects the job items of one update. A collected walker is
// read-only and may be shared between goroutines.
type Walker struct {
	kind  Kind
	flags Flags
	crop  image.Rectangle

	start     graph.NodeID
	requested image.Rectangle
	seq       uint64
	state     State
	mode      tripMode
	g         *graph.Graph

	changeRect     image.Rectangle
	uncroppedRect  image.Rectangle
	needRect       image.Rectangle
	accessRect     image.Rectangle
	childNeedRect  image.Rectangle
	lastNeedRect   image.Rectangle
	changeVaries   bool
	needVaries     bool
	items          []JobItem
}

// New returns a walker of the given kind. A non-empty crop bounds every
// change and need rect it computes.
func New(kind Kind, crop image.Rectangle, flags Flags) *Walker {
	return &Walker{kind: kind, crop: crop, flags: flags}
}

// Collect is New followed by CollectRects.
func Collect(g *graph.Graph, kind Kind, node graph.NodeID, r, crop image.Rectangle) *Walker {
	w := New(kind, crop, 0)
	w.CollectRects(g, node, r)
	return w
}

// Kind returns the traversal kind.
func (w *Walker) Kind() Kind { return w.kind }

// StartNode returns the node the update was requested for.
func (w *Walker) StartNode() graph.NodeID { return w.start }

// RequestedRect returns the rect the update was requested for.
func (w *Walker) RequestedRect() image.Rectangle { return w.requested }

// CropRect returns the crop rect, empty for none.
func (w *Walker) CropRect() image.Rectangle { return w.crop }

// SetCropRect changes the crop rect used by the next collection.
func (w *Walker) SetCropRect(r image.Rectangle) { w.crop = r }

// State returns the collection state.
func (w *Walker) State() State { return w.state }

// ChangeRect returns the area of the root projection that changes.
func (w *Walker) ChangeRect() image.Rectangle { return w.changeRect }

// UncroppedChangeRect returns ChangeRect computed without the crop rect.
func (w *Walker) UncroppedChangeRect() image.Rectangle { return w.uncroppedRect }

// NeedRect returns the union of every item rect.
func (w *Walker) NeedRect() image.Rectangle { return w.needRect }

// AccessRect returns every pixel the update reads.
func (w *Walker) AccessRect() image.Rectangle { return w.accessRect }

// ChangeRectVaries reports whether any node grew or shrank the change rect.
func (w *Walker) ChangeRectVaries() bool { return w.changeVaries }

// NeedRectVaries reports whether any node grew or shrank the need rect.
func (w *Walker) NeedRectVaries() bool { return w.needVaries }

// Items returns the job items in the order they were collected: from the
// root down.
func (w *Walker) Items() []JobItem { return w.items }

// MergeOrder returns the job items bottom to top, the order in which they
// are composed.
func (w *Walker) MergeOrder() []JobItem {
	out := slices.Clone(w.items)
	slices.Reverse(out)
	return out
}

// ChecksumValid reports whether g is unchanged since the collection.
func (w *Walker) ChecksumValid(g *graph.Graph) bool { return g.Seq() == w.seq }

// Recalculate collects again with the same start node and rect.
func (w *Walker) Recalculate(g *graph.Graph) { w.CollectRects(g, w.start, w.requested) }

// CollectRects computes the job items for a change of r on node. A node
// that is not in g yields no items.
func (w *Walker) CollectRects(g *graph.Graph, node graph.NodeID, r image.Rectangle) {
	w.clear()
	w.g = g
	defer func() { w.g = nil }()

	w.state = Collecting
	w.seq = g.Seq()
	w.start = node
	w.requested = r
	w.changeRect = r
	w.uncroppedRect = r

	if g.Exists(node) {
		switch w.kind {
		case Merge:
			w.mergeTrip(node)
		case FullRefresh:
			if g.Parent(node) != graph.None || g.IsMask(node) {
				w.mode = modeUpdate
				w.mergeTrip(node)
			}
			w.mode = modeRefresh
			w.refreshTrip(node)
		default:
			panic(fmt.Sprintf("walker: unhandled %v", w.kind))
		}
	} else {
		slogger().Debug("walker: node not in graph", "kind", w.kind, "node", node)
	}
	w.state = Collected
}

func (w *Walker) clear() {
	w.accessRect, w.needRect = image.Rectangle{}, image.Rectangle{}
	w.childNeedRect, w.lastNeedRect = image.Rectangle{}, image.Rectangle{}
	w.changeVaries, w.needVaries = false, false
	w.items = nil
	w.mode = modeUpdate
}

func (w *Walker) cropRect(r image.Rectangle) image.Rectangle {
	if w.crop.Empty() {
		return r
	}
	return r.Intersect(w.crop)
}

func (w *Walker) setExplicitChangeRect(r image.Rectangle, varies bool) {
	w.changeRect = r
	w.uncroppedRect = r
	w.changeVaries = varies
}

func (w *Walker) push(id graph.NodeID, pos graph.Position, r image.Rectangle) {
	w.items = append(w.items, JobItem{Node: id, Position: pos, Rect: r})
}

// =============================================================================
// Merge trip
// =============================================================================

func (w *Walker) mergeTrip(id graph.NodeID) {
	if w.g.IsMask(id) {
		w.maskTrip(id)
		return
	}
	pos := graph.Filthy
	if w.flags&NoFilthy != 0 {
		pos = graph.AboveFilthy
	}
	w.visitHigher(id, pos)
	if prev := w.g.PrevSibling(id); prev != graph.None {
		w.visitLower(prev)
	}
}

func (w *Walker) maskTrip(mask graph.NodeID) {
	layer := w.g.Parent(mask)
	if layer == graph.None {
		slogger().Debug("walker: mask without a layer", "node", mask)
		return
	}
	w.adjustMasksChangeRect(mask)

	if next := w.g.NextSibling(layer); next != graph.None {
		w.visitHigher(next, graph.AboveFilthy)
	} else if parent := w.g.Parent(layer); parent != graph.None {
		w.mergeTrip(parent)
	}

	pos := graph.FilthyProjection
	if w.flags&NoFilthy != 0 {
		pos = graph.AboveFilthy
	}
	w.registerNeedRect(layer, pos|w.g.StackPosition(layer))

	if prev := w.g.PrevSibling(layer); prev != graph.None {
		w.visitLower(prev)
	}
}

// adjustMasksChangeRect applies the masks stacked above the changed one.
func (w *Walker) adjustMasksChangeRect(mask graph.NodeID) {
	for m := w.g.NextSibling(mask); m != graph.None; m = w.g.NextSibling(m) {
		if !w.g.Visible(m) {
			continue
		}
		r := w.g.ChangeRect(m, w.changeRect, graph.Filthy)
		w.changeVaries = w.changeVaries || r != w.changeRect
		w.changeRect = r
		w.uncroppedRect = r
	}
}

func (w *Walker) visitHigher(id graph.NodeID, pos graph.Position) {
	pos |= w.g.StackPosition(id)
	w.registerChangeRect(id, pos)

	if next := w.g.NextSibling(id); next != graph.None {
		w.visitHigher(next, graph.AboveFilthy)
	} else if parent := w.g.Parent(id); parent != graph.None {
		w.mergeTrip(parent)
	}

	w.registerNeedRect(id, pos)
}

func (w *Walker) visitLower(id graph.NodeID) {
	for ; id != graph.None; id = w.g.PrevSibling(id) {
		w.registerNeedRect(id, graph.BelowFilthy|w.g.StackPosition(id))
	}
}

// =============================================================================
// Refresh trip
// =============================================================================

func (w *Walker) refreshTrip(id graph.NodeID) {
	w.setExplicitChangeRect(w.requested, false)

	if id == w.start {
		extra := id
		if w.g.IsMask(id) {
			extra = w.g.Parent(id)
		}
		if extra != graph.None {
			w.registerNeedRect(extra, graph.Extra|w.g.StackPosition(extra))
		}
	}

	children := w.g.Children(id)
	for i := len(children) - 1; i >= 0; i-- {
		c := children[i]
		w.registerNeedRect(c, graph.Filthy|w.g.StackPosition(c))
	}
	for i := len(children) - 1; i >= 0; i-- {
		if w.g.Kind(children[i]) == graph.KindGroup {
			w.refreshTrip(children[i])
		}
	}
}

// subtreeChangeRect computes the change rect of id when every layer
// inside it changed in r.
func (w *Walker) subtreeChangeRect(id graph.NodeID, r image.Rectangle) image.Rectangle {
	if !w.g.IsLayer(id) {
		return r
	}
	acc := r
	var children image.Rectangle
	varies := false
	for _, c := range w.g.Children(id) {
		acc = acc.Union(w.subtreeChangeRect(c, r))
		varies = varies || acc != r
		children = acc
	}
	acc = acc.Union(w.g.ChangeRect(id, r.Union(children), graph.Filthy))
	varies = varies || acc != r
	w.setExplicitChangeRect(acc, varies)
	return acc
}

// =============================================================================
// Rect registration
// =============================================================================

func (w *Walker) registerChangeRect(id graph.NodeID, pos graph.Position) {
	if !w.g.IsLayer(id) {
		return
	}
	if pos&graph.Filthy == 0 && !w.g.Visible(id) {
		return
	}
	// The start of a full refresh changed as a whole; its own change
	// rect is the union over its subtree.
	if w.kind == FullRefresh && w.mode == modeUpdate && id == w.start {
		w.subtreeChangeRect(id, w.requested)
		return
	}

	r := w.cropRect(w.g.ChangeRect(id, w.changeRect, pos))
	w.changeVaries = w.changeVaries || r != w.changeRect
	w.changeRect = r
	w.uncroppedRect = w.g.ChangeRect(id, w.uncroppedRect, pos)
}

func (w *Walker) registerNeedRect(id graph.NodeID, pos graph.Position) {
	if !w.g.IsLayer(id) {
		return
	}
	if len(w.items) == 0 {
		w.accessRect = w.changeRect
		w.needRect = w.changeRect
		w.childNeedRect = w.changeRect
		w.lastNeedRect = w.changeRect
	}

	if parent := w.g.Parent(id); parent != graph.None && pos&graph.Topmost != 0 {
		found := false
		for i := len(w.items) - 1; i >= 0; i-- {
			if w.items[i].Node == parent {
				w.lastNeedRect = w.g.NeedRectForOriginal(parent, w.items[i].Rect)
				found = true
				break
			}
		}
		if !found {
			w.lastNeedRect = w.childNeedRect
		}
	}

	switch {
	case !w.g.Visible(id):
		// Hidden layers keep their slot in the merge order.
		if !w.lastNeedRect.Empty() {
			w.push(id, pos, w.lastNeedRect)
		}
	case pos&(graph.Filthy|graph.AboveFilthy|graph.Extra) != 0:
		if !w.lastNeedRect.Empty() {
			w.push(id, pos, w.lastNeedRect)
		}
		w.accessRect = w.accessRect.Union(w.g.AccessRect(id, w.lastNeedRect, pos))
		w.lastNeedRect = w.cropRect(w.g.NeedRect(id, w.lastNeedRect, pos))
		w.childNeedRect = w.lastNeedRect
	case pos&(graph.BelowFilthy|graph.FilthyProjection) != 0:
		if !w.lastNeedRect.Empty() {
			w.push(id, pos, w.lastNeedRect)
			w.accessRect = w.accessRect.Union(w.g.AccessRect(id, w.lastNeedRect, pos))
			w.lastNeedRect = w.cropRect(w.g.NeedRect(id, w.lastNeedRect, pos))
		}
	default:
		panic(fmt.Sprintf("walker: position %v out of range", pos))
	}

	w.needVaries = w.needVaries || w.needRect != w.lastNeedRect
	w.needRect = w.needRect.Union(w.lastNeedRect)
}
