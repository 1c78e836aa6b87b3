package graph

import (
	"errors"
	"fmt"
	"image"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/image/math/f64"
)

// Errors returned by graph edits.
var (
	ErrNoNode      = errors.New("graph: no such node")
	ErrNotGroup    = errors.New("graph: parent cannot hold layers")
	ErrNotLayer    = errors.New("graph: masks attach to layers only")
	ErrRootRemoval = errors.New("graph: the root cannot be removed")
	ErrBadSpec     = errors.New("graph: invalid node spec")
)

// NodeID addresses a node in a Graph. The zero value is no node.
type NodeID uint32

// None is the zero NodeID.
const None NodeID = 0

// Kind is the closed set of node kinds.
type Kind uint8

// Node kinds.
const (
	KindPaint Kind = iota + 1
	KindGroup
	KindAdjustment
	KindMask
)

func (k Kind) String() string {
	switch k {
	case KindPaint:
		return "paint"
	case KindGroup:
		return "group"
	case KindAdjustment:
		return "adjustment"
	case KindMask:
		return "mask"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// MaskKind selects the behavior of a KindMask node.
type MaskKind uint8

// Mask kinds.
const (
	MaskFilter MaskKind = iota + 1
	MaskTransparency
	MaskTransform
)

func (m MaskKind) String() string {
	switch m {
	case MaskFilter:
		return "filter"
	case MaskTransparency:
		return "transparency"
	case MaskTransform:
		return "transform"
	default:
		return fmt.Sprintf("MaskKind(%d)", uint8(m))
	}
}

// Spec describes a node to add.
type Spec struct {
	Name string
	Kind Kind
	Mask MaskKind // KindMask only

	// ChangeMargin and NeedMargin grow the change and need rects of
	// adjustment layers and filter masks.
	ChangeMargin int
	NeedMargin   int
	// AccessOffset makes an adjustment layer also read its need rect
	// translated by the offset.
	AccessOffset image.Point
	// Transform maps original pixels to projection pixels (MaskTransform).
	Transform f64.Aff3
}

type node struct {
	Spec
	id       NodeID
	parent   NodeID
	hidden   bool
	children []NodeID // layers, bottom to top
	masks    []NodeID // bottom to top
}

// Graph is an arena of composition nodes. It is safe for concurrent use.
type Graph struct {
	mu    sync.RWMutex
	nodes map[NodeID]*node
	next  NodeID
	root  NodeID
	seq   atomic.Uint64
}

// New returns a graph holding a single root group.
func New(rootName string) *Graph {
	g := &Graph{nodes: make(map[NodeID]*node)}
	g.root = g.alloc(Spec{Name: rootName, Kind: KindGroup}, None)
	return g
}

func (g *Graph) alloc(s Spec, parent NodeID) NodeID {
	g.next++
	g.nodes[g.next] = &node{Spec: s, id: g.next, parent: parent}
	return g.next
}

func (g *Graph) bump() { g.seq.Add(1) }

// Root returns the root group.
func (g *Graph) Root() NodeID { return g.root }

// Seq returns the graph sequence number. It changes on every edit.
func (g *Graph) Seq() uint64 { return g.seq.Load() }

// Add creates a node on top of parent's layers (or masks, for KindMask).
func (g *Graph) Add(parent NodeID, s Spec) (NodeID, error) {
	if err := validate(s); err != nil {
		return None, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.nodes[parent]
	if !ok {
		return None, fmt.Errorf("%w: parent %d", ErrNoNode, parent)
	}
	switch s.Kind {
	case KindMask:
		if p.Kind == KindMask {
			return None, fmt.Errorf("%w: %q is a mask", ErrNotLayer, p.Name)
		}
		id := g.alloc(s, parent)
		p.masks = append(p.masks, id)
		g.bump()
		return id, nil
	case KindPaint, KindGroup, KindAdjustment:
		if p.Kind != KindGroup {
			return None, fmt.Errorf("%w: %q is a %v", ErrNotGroup, p.Name, p.Kind)
		}
		id := g.alloc(s, parent)
		p.children = append(p.children, id)
		g.bump()
		return id, nil
	default:
		panic(fmt.Sprintf("graph: unhandled %v", s.Kind))
	}
}

func validate(s Spec) error {
	switch s.Kind {
	case KindPaint, KindGroup, KindAdjustment:
	case KindMask:
		switch s.Mask {
		case MaskFilter, MaskTransparency:
		case MaskTransform:
			if _, ok := invert(s.Transform); !ok {
				return fmt.Errorf("%w: singular transform", ErrBadSpec)
			}
		default:
			return fmt.Errorf("%w: %v", ErrBadSpec, s.Mask)
		}
	default:
		return fmt.Errorf("%w: %v", ErrBadSpec, s.Kind)
	}
	if s.ChangeMargin < 0 || s.NeedMargin < 0 {
		return fmt.Errorf("%w: negative margin", ErrBadSpec)
	}
	return nil
}

// Remove deletes id and everything below it. It returns the removed IDs.
func (g *Graph) Remove(id NodeID) ([]NodeID, error) {
	if id == g.root {
		return nil, ErrRootRemoval
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoNode, id)
	}
	if p := g.nodes[n.parent]; p != nil {
		p.children = slices.DeleteFunc(p.children, func(c NodeID) bool { return c == id })
		p.masks = slices.DeleteFunc(p.masks, func(c NodeID) bool { return c == id })
	}
	var removed []NodeID
	var drop func(NodeID)
	drop = func(id NodeID) {
		n := g.nodes[id]
		for _, c := range n.children {
			drop(c)
		}
		for _, m := range n.masks {
			drop(m)
		}
		delete(g.nodes, id)
		removed = append(removed, id)
	}
	drop(id)
	g.bump()
	return removed, nil
}

// SetVisible shows or hides a node.
func (g *Graph) SetVisible(id NodeID, visible bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoNode, id)
	}
	if n.hidden == !visible {
		return nil
	}
	n.hidden = !visible
	g.bump()
	return nil
}

// Exists reports whether id is in the graph.
func (g *Graph) Exists(id NodeID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// Spec returns the spec id was created with.
func (g *Graph) Spec(id NodeID) (Spec, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return Spec{}, false
	}
	return n.Spec, true
}

// Name returns the node name, or "" for a missing node.
func (g *Graph) Name(id NodeID) string {
	s, _ := g.Spec(id)
	return s.Name
}

// Kind returns the node kind, or 0 for a missing node.
func (g *Graph) Kind(id NodeID) Kind {
	s, _ := g.Spec(id)
	return s.Kind
}

// IsLayer reports whether id is a paint, group or adjustment layer.
func (g *Graph) IsLayer(id NodeID) bool {
	switch g.Kind(id) {
	case KindPaint, KindGroup, KindAdjustment:
		return true
	default:
		return false
	}
}

// IsMask reports whether id is a mask.
func (g *Graph) IsMask(id NodeID) bool { return g.Kind(id) == KindMask }

// Visible reports whether id exists and is not hidden.
func (g *Graph) Visible(id NodeID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return ok && !n.hidden
}

// DependsOnLowerNodes reports whether the node's output is computed from
// the composition of the layers below it.
func (g *Graph) DependsOnLowerNodes(id NodeID) bool {
	return g.Kind(id) == KindAdjustment
}

// Parent returns the parent of id, None for the root or a missing node.
func (g *Graph) Parent(id NodeID) NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if n, ok := g.nodes[id]; ok {
		return n.parent
	}
	return None
}

// Children returns the child layers of id, bottom to top.
func (g *Graph) Children(id NodeID) []NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if n, ok := g.nodes[id]; ok {
		return slices.Clone(n.children)
	}
	return nil
}

// Masks returns the masks of id, bottom to top.
func (g *Graph) Masks(id NodeID) []NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if n, ok := g.nodes[id]; ok {
		return slices.Clone(n.masks)
	}
	return nil
}

// NextSibling returns the node stacked directly above id in its parent's
// layer (or mask) list.
func (g *Graph) NextSibling(id NodeID) NodeID { return g.sibling(id, +1) }

// PrevSibling returns the node stacked directly below id.
func (g *Graph) PrevSibling(id NodeID) NodeID { return g.sibling(id, -1) }

func (g *Graph) sibling(id NodeID, step int) NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return None
	}
	p, ok := g.nodes[n.parent]
	if !ok {
		return None
	}
	list := p.children
	if n.Kind == KindMask {
		list = p.masks
	}
	i := slices.Index(list, id)
	if i < 0 || i+step < 0 || i+step >= len(list) {
		return None
	}
	return list[i+step]
}

// StackPosition returns Topmost, Bottommost or Normal for id among its
// siblings. A node without siblings is topmost.
func (g *Graph) StackPosition(id NodeID) Position {
	if g.NextSibling(id) == None {
		return Topmost
	}
	if g.PrevSibling(id) == None {
		return Bottommost
	}
	return Normal
}

// Descendants returns every layer below id, depth first, each group
// before its children.
func (g *Graph) Descendants(id NodeID) []NodeID {
	var out []NodeID
	for _, c := range g.Children(id) {
		out = append(out, c)
		out = append(out, g.Descendants(c)...)
	}
	return out
}
