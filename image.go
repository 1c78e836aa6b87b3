package tiled

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"slices"
	"sync"

	"golang.org/x/image/math/f64"

	"github.com/gogpu/tiled/internal/graph"
	"github.com/gogpu/tiled/internal/parallel"
	"github.com/gogpu/tiled/internal/sched"
	"github.com/gogpu/tiled/internal/swap"
	"github.com/gogpu/tiled/internal/tiles"
)

// Errors returned by Image.
var (
	ErrNoNode       = graph.ErrNoNode
	ErrNotGroup     = graph.ErrNotGroup
	ErrNotLayer     = graph.ErrNotLayer
	ErrBadSpec      = graph.ErrBadSpec
	ErrRootRemoval  = graph.ErrRootRemoval
	ErrClosed       = sched.ErrClosed
	ErrBadImage     = errors.New("tiled: invalid image geometry")
	ErrNoFilter     = errors.New("tiled: filter required")
	ErrNoProjection = errors.New("tiled: node has no projection")
	ErrNoSwap       = errors.New("tiled: swap is disabled")
)

// NodeID addresses a layer or mask of an Image. The zero value is no node.
type NodeID = graph.NodeID

// ProgressFunc receives update queue progress: processed of total jobs
// done, labelled with the kind of the oldest pending job.
type ProgressFunc func(processed, total int, label string)

// FilterSpec describes an adjustment layer or a filter mask.
type FilterSpec struct {
	Filter Filter

	// ChangeMargin grows the area a change affects; NeedMargin grows the
	// area the filter reads.
	ChangeMargin int
	NeedMargin   int

	// AccessOffset makes an adjustment layer also read its input
	// translated by the offset.
	AccessOffset image.Point
}

// node holds the pixel planes of one graph node.
type node struct {
	original  *Device // paint layers and groups
	proj      *Device // layers
	selection *Device // transparency masks
	filter    Filter  // adjustments and filter masks
}

// Image is a layer tree with its projections and update scheduler.
// All methods are safe for concurrent use.
type Image struct {
	bounds       image.Rectangle
	defaultPixel []byte
	cfg          Config
	comp         Compositor

	g       *graph.Graph
	sched   *sched.Scheduler
	dirty   *parallel.DirtyRegion
	pool    *tiles.DataPool
	codec   *swap.Codec
	swapper *swap.Manager
	tmpPath string

	closeOnce sync.Once
	closeErr  error

	mu    sync.RWMutex
	nodes map[graph.NodeID]*node
}

// NewImage creates a width x height image whose pixels are
// len(defaultPixel) bytes wide. The image holds a root group.
func NewImage(width, height int, defaultPixel []byte, opts ...Option) (*Image, error) {
	if width <= 0 || height <= 0 || len(defaultPixel) == 0 {
		return nil, fmt.Errorf("%w: %dx%d, %d-byte pixels", ErrBadImage, width, height, len(defaultPixel))
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}

	method, _ := swap.ParseMethod(o.cfg.Swap.Compression)
	comp, err := swap.CompressorFor(method)
	if err != nil {
		return nil, err
	}
	img := &Image{
		bounds:       image.Rect(0, 0, width, height),
		defaultPixel: slices.Clone(defaultPixel),
		cfg:          o.cfg,
		comp:         o.compositor,
		g:            graph.New("root"),
		dirty:        parallel.NewDirtyRegion(width, height),
		pool:         tiles.NewDataPool(),
		codec:        swap.NewCodec(comp),
		nodes:        make(map[graph.NodeID]*node),
	}
	if err := img.openSwap(o); err != nil {
		return nil, err
	}

	cfg := sched.Config{
		Workers:          o.cfg.Workers,
		PatchWidth:       o.cfg.PatchSize,
		PatchHeight:      o.cfg.PatchSize,
		MaxMergeAlpha:    o.cfg.MaxMergeAlpha,
		ProgressInterval: o.cfg.ProgressInterval,
		Metrics:          sched.NewMetrics(o.registerer),
		TracerProvider:   o.tracer,
	}
	if o.progress != nil {
		cfg.Progress = sched.ProgressFunc(o.progress)
	}
	img.sched = sched.New(img.g, merger{img}, cfg)
	img.nodes[img.g.Root()] = &node{original: img.newDevice(img.defaultPixel), proj: img.newDevice(img.defaultPixel)}

	Logger().Info("tiled: image created", "width", width, "height", height,
		"pixel_size", len(defaultPixel), "workers", o.cfg.Workers, "swap", o.cfg.Swap.Backend)
	return img, nil
}

func (img *Image) openSwap(o options) error {
	var backend swap.BlobStore
	switch img.cfg.Swap.Backend {
	case SwapNone:
		return nil
	case SwapFile:
		var f *os.File
		var err error
		if p := img.cfg.Swap.Path; p != "" {
			f, err = os.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
		} else {
			f, err = os.CreateTemp("", "tiled-swap-*")
			if err == nil {
				img.tmpPath = f.Name()
			}
		}
		if err != nil {
			return fmt.Errorf("tiled: open swap file: %w", err)
		}
		backend = swap.NewFileStore(f)
	case SwapSQLite:
		s, err := swap.OpenSQLStore(context.Background(), img.cfg.Swap.Path)
		if err != nil {
			return err
		}
		backend = s
	}
	img.swapper = swap.NewManager(backend,
		swap.WithCodec(img.codec),
		swap.WithMemoryTier(img.cfg.Swap.MemoryTier),
		swap.WithMetrics(swap.NewMetrics(o.registerer)))
	Logger().Info("tiled: swap enabled", "backend", img.cfg.Swap.Backend, "compression", img.cfg.Swap.Compression)
	return nil
}

func (img *Image) newDevice(defaultPixel []byte) *Device {
	opts := []tiles.StoreOption{tiles.WithDataPool(img.pool)}
	if img.swapper != nil {
		opts = append(opts, tiles.WithSwapper(img.swapper))
	}
	return newDevice(tiles.NewStore(defaultPixel, opts...), img.codec)
}

// wrap exposes a scratch store to compositors and filters.
func (img *Image) wrap(s *tiles.Store) *Device { return newDevice(s, img.codec) }

func (img *Image) scratch() *tiles.Store {
	return tiles.NewStore(img.defaultPixel, tiles.WithDataPool(img.pool))
}

// Bounds returns the image rectangle. Updates are cropped to it.
func (img *Image) Bounds() image.Rectangle { return img.bounds }

// PixelSize returns the number of bytes per pixel.
func (img *Image) PixelSize() int { return len(img.defaultPixel) }

// Root returns the root group.
func (img *Image) Root() NodeID { return img.g.Root() }

// Projection returns the composed image.
func (img *Image) Projection() *Device { return img.node(img.g.Root()).proj }

// =============================================================================
// Layer tree
// =============================================================================

func (img *Image) node(id graph.NodeID) *node {
	img.mu.RLock()
	defer img.mu.RUnlock()
	return img.nodes[id]
}

func (img *Image) add(parent NodeID, s graph.Spec, n *node) (NodeID, error) {
	id, err := img.g.Add(parent, s)
	if err != nil {
		return graph.None, err
	}
	img.mu.Lock()
	img.nodes[id] = n
	img.mu.Unlock()
	Logger().Debug("tiled: node added", "id", id, "name", s.Name, "kind", s.Kind, "parent", parent)
	return id, nil
}

// AddPaintLayer adds an empty paint layer on top of parent's layers.
func (img *Image) AddPaintLayer(parent NodeID, name string) (NodeID, error) {
	return img.add(parent, graph.Spec{Name: name, Kind: graph.KindPaint}, &node{
		original: img.newDevice(img.defaultPixel),
		proj:     img.newDevice(img.defaultPixel),
	})
}

// AddGroup adds an empty group on top of parent's layers.
func (img *Image) AddGroup(parent NodeID, name string) (NodeID, error) {
	return img.add(parent, graph.Spec{Name: name, Kind: graph.KindGroup}, &node{
		original: img.newDevice(img.defaultPixel),
		proj:     img.newDevice(img.defaultPixel),
	})
}

// AddAdjustment adds a layer that filters the layers below it.
func (img *Image) AddAdjustment(parent NodeID, name string, spec FilterSpec) (NodeID, error) {
	if spec.Filter == nil {
		return graph.None, ErrNoFilter
	}
	return img.add(parent, graph.Spec{
		Name:         name,
		Kind:         graph.KindAdjustment,
		ChangeMargin: spec.ChangeMargin,
		NeedMargin:   spec.NeedMargin,
		AccessOffset: spec.AccessOffset,
	}, &node{proj: img.newDevice(img.defaultPixel), filter: spec.Filter})
}

// AddFilterMask adds a mask that filters layer's output.
func (img *Image) AddFilterMask(layer NodeID, name string, spec FilterSpec) (NodeID, error) {
	if spec.Filter == nil {
		return graph.None, ErrNoFilter
	}
	return img.add(layer, graph.Spec{
		Name:         name,
		Kind:         graph.KindMask,
		Mask:         graph.MaskFilter,
		ChangeMargin: spec.ChangeMargin,
		NeedMargin:   spec.NeedMargin,
	}, &node{filter: spec.Filter})
}

// AddTransformMask adds a mask that maps layer's output through m using
// nearest-neighbour sampling.
func (img *Image) AddTransformMask(layer NodeID, name string, m f64.Aff3) (NodeID, error) {
	return img.add(layer, graph.Spec{Name: name, Kind: graph.KindMask, Mask: graph.MaskTransform, Transform: m}, &node{})
}

// AddTransparencyMask adds a mask that hides layer's output where its
// one-byte selection is zero. The selection starts fully opaque; edit it
// through Device.
func (img *Image) AddTransparencyMask(layer NodeID, name string) (NodeID, error) {
	return img.add(layer, graph.Spec{Name: name, Kind: graph.KindMask, Mask: graph.MaskTransparency}, &node{
		selection: img.newDevice([]byte{0xff}),
	})
}

// RemoveNode removes id and everything inside it and refreshes the area
// it covered.
func (img *Image) RemoveNode(id NodeID) error {
	parent := img.g.Parent(id)
	mask := img.g.IsMask(id)
	area := img.nodeArea(id)
	removed, err := img.g.Remove(id)
	if err != nil {
		return err
	}
	img.mu.Lock()
	for _, r := range removed {
		delete(img.nodes, r)
	}
	img.mu.Unlock()
	Logger().Debug("tiled: node removed", "id", id, "nodes", len(removed))
	switch {
	case parent == graph.None || area.Empty():
		return nil
	case mask:
		return img.sched.AddUpdate(parent, area, img.bounds)
	default:
		// The parent's original still holds the removed layer.
		return img.sched.AddFullRefresh(parent, area, img.bounds)
	}
}

// SetVisible shows or hides a node and updates the area it covers.
func (img *Image) SetVisible(id NodeID, visible bool) error {
	if img.g.Visible(id) == visible && img.g.Exists(id) {
		return nil
	}
	if err := img.g.SetVisible(id, visible); err != nil {
		return err
	}
	if area := img.nodeArea(id); !area.Empty() {
		return img.sched.AddUpdate(id, area, img.bounds)
	}
	return nil
}

// Visible reports whether id exists and is shown.
func (img *Image) Visible(id NodeID) bool { return img.g.Visible(id) }

// Name returns the name of id.
func (img *Image) Name(id NodeID) string { return img.g.Name(id) }

// Children returns the layers of a group, bottom to top.
func (img *Image) Children(id NodeID) []NodeID { return img.g.Children(id) }

// Masks returns the masks of a layer, bottom to top.
func (img *Image) Masks(id NodeID) []NodeID { return img.g.Masks(id) }

// nodeArea is the image area a node currently contributes to.
func (img *Image) nodeArea(id NodeID) image.Rectangle {
	target := id
	if img.g.IsMask(id) {
		target = img.g.Parent(id)
	}
	n := img.node(target)
	if n == nil {
		return image.Rectangle{}
	}
	var r image.Rectangle
	if n.proj != nil {
		r = r.Union(n.proj.Extent())
	}
	if n.original != nil {
		r = r.Union(n.original.Extent())
	}
	if img.g.Kind(target) == graph.KindAdjustment {
		r = img.bounds
	}
	return r.Intersect(img.bounds)
}

// Device returns the editable plane of a node: the original of a paint
// layer or the selection of a transparency mask. Other nodes have none.
func (img *Image) Device(id NodeID) *Device {
	n := img.node(id)
	switch {
	case n == nil:
		return nil
	case img.g.Kind(id) == graph.KindPaint:
		return n.original
	case n.selection != nil:
		return n.selection
	default:
		return nil
	}
}

// NodeProjection returns the composed output of a layer. It must only be
// read.
func (img *Image) NodeProjection(id NodeID) (*Device, error) {
	n := img.node(id)
	if n == nil {
		return nil, fmt.Errorf("%w: %d", ErrNoNode, id)
	}
	if n.proj == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoProjection, img.g.Name(id))
	}
	return n.proj, nil
}

// =============================================================================
// Updates
// =============================================================================

// RequestUpdate recomposes r after the node's content changed in r.
func (img *Image) RequestUpdate(id NodeID, r image.Rectangle) error {
	return img.sched.AddUpdate(id, r, img.bounds)
}

// RequestFullRefresh recomposes r of id and of everything inside it.
func (img *Image) RequestFullRefresh(id NodeID, r image.Rectangle) error {
	return img.sched.AddFullRefresh(id, r, img.bounds)
}

// RefreshAll recomposes the whole image.
func (img *Image) RefreshAll() error { return img.RequestFullRefresh(img.Root(), img.bounds) }

// AddSpontaneousJob queues a callback between updates.
func (img *Image) AddSpontaneousJob(job SpontaneousJob) error { return img.sched.AddSpontaneousJob(job) }

// BlockUpdates stops starting queued jobs until UnblockUpdates. Calls nest.
func (img *Image) BlockUpdates() { img.sched.BlockProcessing() }

// UnblockUpdates undoes one BlockUpdates.
func (img *Image) UnblockUpdates() { img.sched.StartProcessing() }

// WaitForDone blocks until no job is queued or running.
func (img *Image) WaitForDone(ctx context.Context) error { return img.sched.WaitForDone(ctx) }

// QueueStats is a snapshot of the update queue.
type QueueStats struct {
	Queued, Running, Strokes      int
	Blocked                       bool
	Submitted, Completed, Dropped uint64

	// Busy and Backlog describe the worker pool: workers inside a job and
	// jobs waiting for a free worker.
	Busy, Backlog int

	// DirtyTiles counts projection tiles recomposed since the last
	// TakeDirtyTiles.
	DirtyTiles int
}

// Stats returns a snapshot of the update queue.
func (img *Image) Stats() QueueStats {
	s := img.sched.Stats()
	return QueueStats{
		Queued: s.Queued, Running: s.Running, Strokes: s.Strokes, Blocked: s.Blocked,
		Submitted: s.Submitted, Completed: s.Completed, Dropped: s.Dropped,
		Busy: s.Busy, Backlog: s.Backlog, DirtyTiles: img.dirty.Count(),
	}
}

// TakeDirtyTiles returns the projection tiles recomposed since the last
// call, row by row, and forgets them.
func (img *Image) TakeDirtyTiles() []image.Rectangle {
	keys := img.dirty.TakeDirty()
	out := make([]image.Rectangle, len(keys))
	for i, k := range keys {
		out[i] = k.Rect().Intersect(img.bounds)
	}
	return out
}

// =============================================================================
// Swap and lifecycle
// =============================================================================

func (img *Image) devices() []*Device {
	img.mu.RLock()
	defer img.mu.RUnlock()
	var out []*Device
	for _, n := range img.nodes {
		for _, d := range []*Device{n.original, n.proj, n.selection} {
			if d != nil {
				out = append(out, d)
			}
		}
	}
	return out
}

// SwapOut moves up to limit cold tile buffers out of memory. It returns
// ErrNoSwap when the image was created without a swap backend.
func (img *Image) SwapOut(limit int) (int, error) {
	if img.swapper == nil {
		return 0, ErrNoSwap
	}
	total := 0
	for _, d := range img.devices() {
		if total >= limit {
			break
		}
		n, err := d.store.SwapOut(limit - total)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Close stops the scheduler, dropping queued jobs, and releases the swap
// backend.
func (img *Image) Close() error {
	img.closeOnce.Do(func() {
		err := img.sched.Close()
		if img.swapper != nil {
			err = errors.Join(err, img.swapper.Close())
		}
		if img.tmpPath != "" {
			err = errors.Join(err, os.Remove(img.tmpPath))
		}
		img.closeErr = err
	})
	return img.closeErr
}
