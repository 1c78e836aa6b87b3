package main

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/image/math/f64"

	"github.com/gogpu/tiled"
	"github.com/gogpu/tiled/internal/filter"
)

// Scenes use 4-byte RGBA pixels; alpha 0 is unpainted.
var transparent = []byte{0, 0, 0, 0}

// scene is a generated stack of paint layers.
type scene struct {
	img    *tiled.Image
	layers []tiled.NodeID
	rng    *rand.Rand
}

func newScene(g *globalFlags, layers int, opts ...tiled.Option) (*scene, error) {
	img, err := tiled.NewImage(g.width, g.height, transparent, opts...)
	if err != nil {
		return nil, err
	}
	s := &scene{img: img, rng: rand.New(rand.NewPCG(g.seed, g.seed+1))}
	for i := range layers {
		id, err := img.AddPaintLayer(img.Root(), fmt.Sprintf("layer %d", i+1))
		if err != nil {
			_ = img.Close()
			return nil, err
		}
		s.layers = append(s.layers, id)
	}
	return s, nil
}

func (s *scene) randomRect(maxSide int) image.Rectangle {
	b := s.img.Bounds()
	w, h := 1+s.rng.IntN(maxSide), 1+s.rng.IntN(maxSide)
	x := b.Min.X + s.rng.IntN(max(1, b.Dx()-w))
	y := b.Min.Y + s.rng.IntN(max(1, b.Dy()-h))
	return image.Rect(x, y, x+w, y+h).Intersect(b)
}

func (s *scene) randomColor() []byte {
	return []byte{byte(s.rng.IntN(256)), byte(s.rng.IntN(256)), byte(s.rng.IntN(256)), 0xff}
}

func (s *scene) randomLayer() tiled.NodeID { return s.layers[s.rng.IntN(len(s.layers))] }

// countPainted returns the number of pixels in the image bounds with a
// non-zero alpha.
func countPainted(d *tiled.Device, b image.Rectangle) int {
	buf := make([]byte, b.Dx()*b.Dy()*4)
	d.ReadBytes(buf, b)
	n := 0
	for i := 3; i < len(buf); i += 4 {
		if buf[i] != 0 {
			n++
		}
	}
	return n
}

// =============================================================================
// Queue
// =============================================================================

func runQueue(cmd *cobra.Command, g *globalFlags, layers, updates int, alpha float64) error {
	if layers < 1 || updates < 0 {
		return errors.New("need at least one layer and a non-negative update count")
	}
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	if alpha >= 0 {
		cfg.MaxMergeAlpha = alpha
	}
	out := cmd.OutOrStdout()
	progress := func(processed, total int, label string) {
		fmt.Fprintf(cmd.ErrOrStderr(), "progress: %d/%d %s\n", processed, total, label)
	}
	s, err := newScene(g, layers, tiled.WithConfig(cfg), tiled.WithProgress(progress))
	if err != nil {
		return err
	}
	defer s.img.Close()

	// Paint everything first so the queued requests can merge.
	s.img.BlockUpdates()
	for range updates {
		id, r := s.randomLayer(), s.randomRect(256)
		s.img.Device(id).Fill(r, s.randomColor())
		if err := s.img.RequestUpdate(id, r); err != nil {
			s.img.UnblockUpdates()
			return err
		}
	}
	queued := s.img.Stats().Queued
	start := time.Now()
	s.img.UnblockUpdates()
	if err := s.img.WaitForDone(cmd.Context()); err != nil {
		return err
	}
	elapsed := time.Since(start)

	st := s.img.Stats()
	fmt.Fprintf(out, "requests:  %d (%d jobs queued after merging)\n", updates, queued)
	fmt.Fprintf(out, "jobs:      submitted=%d completed=%d dropped=%d\n", st.Submitted, st.Completed, st.Dropped)
	fmt.Fprintf(out, "dirty:     %d tiles\n", st.DirtyTiles)
	s.img.TakeDirtyTiles()
	fmt.Fprintf(out, "painted:   %d pixels\n", countPainted(s.img.Projection(), s.img.Bounds()))
	fmt.Fprintf(out, "elapsed:   %v with %d workers\n", elapsed.Round(time.Microsecond), cfg.Workers)
	return nil
}

// =============================================================================
// Stroke
// =============================================================================

func runStroke(cmd *cobra.Command, g *globalFlags, dabs, radius int, cancel bool) error {
	if dabs < 1 || radius < 1 {
		return errors.New("dabs and radius must be positive")
	}
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	s, err := newScene(g, 1, tiled.WithConfig(cfg))
	if err != nil {
		return err
	}
	defer s.img.Close()

	ctx := cmd.Context()
	img, layer := s.img, s.layers[0]
	b := img.Bounds()
	report := func(stage string) error {
		if err := img.WaitForDone(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-9s layer=%d projection=%d\n", stage,
			countPainted(img.Device(layer), b), countPainted(img.Projection(), b))
		return nil
	}

	id, err := img.BeginStroke(tiled.StrokeStrategy{Name: "brush"})
	if err != nil {
		return err
	}
	color := s.randomColor()
	for i := range dabs {
		t := float64(i) / float64(max(1, dabs-1))
		cx := b.Min.X + radius + int(t*float64(b.Dx()-2*radius))
		cy := b.Min.Y + b.Dy()/2 + int(float64(b.Dy()/4)*math.Sin(2*math.Pi*t))
		r := image.Rect(cx-radius, cy-radius, cx+radius, cy+radius).Intersect(b)
		job := img.PaintJob(layer, r, tiled.Concurrent, func(d *tiled.Device) error {
			d.Fill(r, color)
			return nil
		})
		if err := img.AddStrokeJob(id, job); err != nil {
			return err
		}
		if cancel && i == dabs/2 {
			if err := report("painted"); err != nil {
				return err
			}
			if err := img.CancelStroke(id); err != nil {
				return err
			}
			return report("cancelled")
		}
	}

	stroke, err := img.EndStroke(id)
	if err != nil {
		return err
	}
	if err := stroke.Wait(ctx); err != nil {
		return err
	}
	if err := report("painted"); err != nil {
		return err
	}
	if err := stroke.Undo(ctx); err != nil {
		return err
	}
	if err := report("undone"); err != nil {
		return err
	}
	if err := stroke.Redo(ctx); err != nil {
		return err
	}
	return report("redone")
}

// =============================================================================
// Swap
// =============================================================================

func runSwap(cmd *cobra.Command, g *globalFlags, sw tiled.SwapConfig, limit int) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	cfg.Swap.Backend, cfg.Swap.Path = sw.Backend, sw.Path
	if sw.Compression != "" {
		cfg.Swap.Compression = sw.Compression
	}
	if cfg.Swap.Backend == tiled.SwapNone {
		return tiled.ErrNoSwap
	}
	reg := prometheus.NewRegistry()
	s, err := newScene(g, 4, tiled.WithConfig(cfg), tiled.WithMetrics(reg))
	if err != nil {
		return err
	}
	defer s.img.Close()

	for range 64 {
		s.img.Device(s.randomLayer()).Fill(s.randomRect(96), s.randomColor())
	}
	painted := func() int {
		n := 0
		for _, id := range s.layers {
			n += countPainted(s.img.Device(id), s.img.Bounds())
		}
		return n
	}
	before := painted()
	swapped, err := s.img.SwapOut(limit)
	if err != nil {
		return err
	}
	if after := painted(); after != before {
		return fmt.Errorf("swap changed the image: %d painted pixels before, %d after", before, after)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "backend:   %s (%s)\n", cfg.Swap.Backend, cfg.Swap.Compression)
	fmt.Fprintf(out, "swapped:   %d tiles, %d painted pixels verified\n", swapped, before)
	return printMetrics(out, reg, "tiled_swap_")
}

// printMetrics writes the counters and gauges of reg whose name starts
// with prefix.
func printMetrics(w io.Writer, reg *prometheus.Registry, prefix string) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, f := range families {
		if !strings.HasPrefix(f.GetName(), prefix) {
			continue
		}
		for _, m := range f.GetMetric() {
			v := m.GetGauge().GetValue() + m.GetCounter().GetValue()
			var labels []string
			for _, l := range m.GetLabel() {
				labels = append(labels, l.GetName()+"="+l.GetValue())
			}
			fmt.Fprintf(w, "%s{%s} %g\n", f.GetName(), strings.Join(labels, ","), v)
		}
	}
	return nil
}

// =============================================================================
// Dump
// =============================================================================

func runDump(cmd *cobra.Command, g *globalFlags, output, tilesPath string, thumbWidth int) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	s, err := newScene(g, 3, tiled.WithConfig(cfg))
	if err != nil {
		return err
	}
	defer s.img.Close()
	img := s.img
	b := img.Bounds()

	for _, id := range s.layers {
		for range 12 {
			img.Device(id).Fill(s.randomRect(max(1, b.Dx()/3)), s.randomColor())
		}
	}
	if err := decorate(s); err != nil {
		return err
	}
	if err := img.RefreshAll(); err != nil {
		return err
	}
	if err := img.WaitForDone(cmd.Context()); err != nil {
		return err
	}

	w, h := b.Dx(), b.Dy()
	if thumbWidth > 0 {
		w, h = thumbWidth, max(1, h*thumbWidth/w)
	}
	thumb, err := img.Projection().Thumbnail(w, h)
	if err != nil {
		return err
	}
	if err := writeFile(output, func(f io.Writer) error { return png.Encode(f, thumb) }); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%dx%d)\n", output, w, h)

	if tilesPath != "" {
		var n int
		err := writeFile(tilesPath, func(f io.Writer) error {
			var err error
			n, err = img.Projection().Save(f)
			return err
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d tiles)\n", tilesPath, n)
	}
	return nil
}

// decorate adds a group, masks and an adjustment on top of the scene.
func decorate(s *scene) error {
	img := s.img
	b := img.Bounds()

	window, err := img.AddTransparencyMask(s.layers[0], "window")
	if err != nil {
		return err
	}
	img.Device(window).Fill(image.Rect(b.Min.X, b.Min.Y, b.Min.X+b.Dx()/2, b.Max.Y), []byte{0})

	if _, err := img.AddFilterMask(s.layers[1], "blur", filter.NewBlur(2).Spec()); err != nil {
		return err
	}
	if _, err := img.AddFilterMask(s.layers[2], "invert", filter.NewInvert().Spec()); err != nil {
		return err
	}
	if _, err := img.AddTransformMask(s.layers[2], "shift", f64.Aff3{1, 0, 32, 0, 1, 16}); err != nil {
		return err
	}

	grp, err := img.AddGroup(img.Root(), "frame")
	if err != nil {
		return err
	}
	frame, err := img.AddPaintLayer(grp, "border")
	if err != nil {
		return err
	}
	border := s.randomColor()
	const t = 8
	for _, r := range []image.Rectangle{
		image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+t),
		image.Rect(b.Min.X, b.Max.Y-t, b.Max.X, b.Max.Y),
		image.Rect(b.Min.X, b.Min.Y, b.Min.X+t, b.Max.Y),
		image.Rect(b.Max.X-t, b.Min.Y, b.Max.X, b.Max.Y),
	} {
		img.Device(frame).Fill(r, border)
	}

	// The adjustment only tones the right quarter.
	quarter := image.Rect(b.Max.X-b.Dx()/4, b.Min.Y, b.Max.X, b.Max.Y)
	sepia := filter.NewSepia()
	_, err = img.AddAdjustment(img.Root(), "sepia right", tiled.FilterSpec{
		Filter: tiled.FilterFunc(func(dst, src *tiled.Device, r image.Rectangle) {
			sepia.Apply(dst, src, r.Intersect(quarter))
			for _, rest := range subtract(r, quarter) {
				copyRect(dst, src, rest)
			}
		}),
	})
	return err
}

// subtract returns r minus the rectangle cut, as up to four rectangles.
func subtract(r, cut image.Rectangle) []image.Rectangle {
	cut = cut.Intersect(r)
	if cut.Empty() {
		return []image.Rectangle{r}
	}
	parts := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, cut.Min.Y),
		image.Rect(r.Min.X, cut.Max.Y, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, cut.Min.Y, cut.Min.X, cut.Max.Y),
		image.Rect(cut.Max.X, cut.Min.Y, r.Max.X, cut.Max.Y),
	}
	out := parts[:0]
	for _, p := range parts {
		if !p.Empty() {
			out = append(out, p)
		}
	}
	return out
}

func copyRect(dst, src *tiled.Device, r image.Rectangle) {
	if r.Empty() {
		return
	}
	buf := make([]byte, r.Dx()*r.Dy()*dst.PixelSize())
	src.ReadBytes(buf, r)
	dst.WriteBytes(buf, r)
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, f.Close()) }()
	return write(f)
}
