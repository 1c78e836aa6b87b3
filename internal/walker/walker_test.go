package walker

import (
	"bytes"
	"image"
	"log/slog"
	"strings"
	"testing"

	"github.com/gogpu/tiled/internal/graph"
)

type fixture struct {
	g   *graph.Graph
	ids map[string]graph.NodeID
}

func (f *fixture) add(parent, name string, s graph.Spec) {
	p := f.g.Root()
	if parent != "" {
		p = f.ids[parent]
	}
	s.Name = name
	id, err := f.g.Add(p, s)
	if err != nil {
		panic(err)
	}
	f.ids[name] = id
}

var (
	paint = graph.Spec{Kind: graph.KindPaint}
	group = graph.Spec{Kind: graph.KindGroup}
	cplx  = graph.Spec{Kind: graph.KindAdjustment, ChangeMargin: 3, NeedMargin: 7}
	blur  = graph.Spec{Kind: graph.KindMask, Mask: graph.MaskFilter, ChangeMargin: 5, NeedMargin: 5}
)

// mergeTree builds, top to bottom:
//
//	root
//	  paint5
//	  cplx2
//	  group
//	    paint4
//	    paint3
//	    cplx1
//	    paint2
//	  paint1
func mergeTree() *fixture {
	f := &fixture{g: graph.New("root"), ids: map[string]graph.NodeID{}}
	f.ids["root"] = f.g.Root()
	f.add("", "paint1", paint)
	f.add("", "group", group)
	f.add("", "cplx2", cplx)
	f.add("", "paint5", paint)
	f.add("group", "paint2", paint)
	f.add("group", "cplx1", cplx)
	f.add("group", "paint3", paint)
	f.add("group", "paint4", paint)
	return f
}

// maskTree builds root with paint1 and paint2, paint1 carrying fmask1,
// tmask and fmask2 bottom to top.
func maskTree() *fixture {
	f := &fixture{g: graph.New("root"), ids: map[string]graph.NodeID{}}
	f.ids["root"] = f.g.Root()
	f.add("", "paint1", paint)
	f.add("", "paint2", paint)
	f.add("paint1", "fmask1", blur)
	f.add("paint1", "tmask", graph.Spec{Kind: graph.KindMask, Mask: graph.MaskTransparency})
	f.add("paint1", "fmask2", blur)
	return f
}

func names(g *graph.Graph, items []JobItem) string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = g.Name(it.Node)
	}
	return strings.Join(out, ",")
}

func codes(g *graph.Graph, items []JobItem) string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = g.Name(it.Node) + "_" + it.Position.Code()
	}
	return strings.Join(out, ",")
}

type result struct {
	order        string
	access       image.Rectangle
	changeVaries bool
	needVaries   bool
}

func verify(t *testing.T, f *fixture, w *Walker, want result) {
	t.Helper()
	if got := names(f.g, w.Items()); got != want.order {
		t.Errorf("order = %s\n want %s", got, want.order)
	}
	if w.AccessRect() != want.access {
		t.Errorf("AccessRect() = %v, want %v", w.AccessRect(), want.access)
	}
	if w.ChangeRectVaries() != want.changeVaries {
		t.Errorf("ChangeRectVaries() = %v, want %v", w.ChangeRectVaries(), want.changeVaries)
	}
	if w.NeedRectVaries() != want.needVaries {
		t.Errorf("NeedRectVaries() = %v, want %v", w.NeedRectVaries(), want.needVaries)
	}
	if w.State() != Collected {
		t.Errorf("State() = %v, want Collected", w.State())
	}
}

var testRect = image.Rect(10, 10, 20, 20)

// =============================================================================
// Merge walker
// =============================================================================

func TestMergeWalker_Visiting(t *testing.T) {
	tests := []struct {
		start string
		want  result
	}{
		{"paint3", result{
			"root,paint5,cplx2,group,paint1,paint4,paint3,cplx1,paint2",
			image.Rect(-7, -7, 37, 37), true, true,
		}},
		{"paint2", result{
			"root,paint5,cplx2,group,paint1,paint4,paint3,cplx1,paint2",
			image.Rect(-10, -10, 40, 40), true, true,
		}},
		{"paint5", result{
			"root,paint5,cplx2,group,paint1",
			image.Rect(3, 3, 27, 27), false, true,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.start, func(t *testing.T) {
			f := mergeTree()
			w := New(Merge, image.Rectangle{}, 0)
			w.CollectRects(f.g, f.ids[tt.start], testRect)
			verify(t, f, w, tt.want)
			if w.StartNode() != f.ids[tt.start] || w.RequestedRect() != testRect {
				t.Errorf("StartNode/RequestedRect = %d %v", w.StartNode(), w.RequestedRect())
			}
		})
	}
}

func TestMergeWalker_Cropping(t *testing.T) {
	f := mergeTree()

	w := New(Merge, image.Rect(0, 0, 512, 512), 0)
	w.CollectRects(f.g, f.ids["paint2"], testRect)
	verify(t, f, w, result{
		"root,paint5,cplx2,group,paint1,paint4,paint3,cplx1,paint2",
		image.Rect(0, 0, 40, 40), true, true,
	})

	crop := image.Rect(9, 9, 21, 21)
	w = New(Merge, crop, 0)
	w.CollectRects(f.g, f.ids["paint2"], testRect)
	verify(t, f, w, result{
		"root,paint5,cplx2,group,paint1,paint4,paint3,cplx1,paint2",
		crop, true, false,
	})
	if got, want := w.UncroppedChangeRect(), image.Rect(4, 4, 26, 26); got != want {
		t.Errorf("UncroppedChangeRect() = %v, want %v", got, want)
	}
	if w.ChangeRect() != crop {
		t.Errorf("ChangeRect() = %v, want %v", w.ChangeRect(), crop)
	}
}

func TestMergeWalker_ComplexAccess(t *testing.T) {
	f := &fixture{g: graph.New("root"), ids: map[string]graph.NodeID{}}
	f.ids["root"] = f.g.Root()
	f.add("", "paint1", paint)
	f.add("", "group", group)
	f.add("", "cplx2", cplx)
	f.add("", "paint5", paint)
	f.add("group", "paint2", paint)
	f.add("group", "cplx1", cplx)
	f.add("group", "paint3", paint)
	f.add("group", "cplxacc1", graph.Spec{Kind: graph.KindAdjustment, AccessOffset: image.Pt(70, 0)})
	f.add("group", "paint4", paint)

	w := Collect(f.g, Merge, f.ids["paint3"], testRect, image.Rectangle{})
	verify(t, f, w, result{
		"root,paint5,cplx2,group,paint1,paint4,cplxacc1,paint3,cplx1,paint2",
		image.Rect(-7, -7, 37, 37).Union(image.Rect(70, 0, 100, 30)), true, true,
	})
}

func TestMergeWalker_Positions(t *testing.T) {
	f := &fixture{g: graph.New("root"), ids: map[string]graph.NodeID{}}
	f.ids["root"] = f.g.Root()
	f.add("", "paint1", paint)
	f.add("", "group", group)
	f.add("", "paint5", paint)
	f.add("group", "paint2", paint)
	f.add("group", "adj", graph.Spec{Kind: graph.KindAdjustment})
	f.add("group", "paint3", paint)
	f.add("group", "paint4", paint)

	tests := []struct {
		start string
		want  string
	}{
		{"paint3", "root_TF,paint5_TA,group_NF,paint1_BB,paint4_TA,paint3_NF,adj_NB,paint2_BB"},
		{"adj", "root_TF,paint5_TA,group_NF,paint1_BB,paint4_TA,paint3_NA,adj_NF,paint2_BB"},
		{"group", "root_TF,paint5_TA,group_NF,paint1_BB"},
	}
	for _, tt := range tests {
		w := Collect(f.g, Merge, f.ids[tt.start], testRect, image.Rectangle{})
		if got := codes(f.g, w.Items()); got != tt.want {
			t.Errorf("start %s:\n got %s\nwant %s", tt.start, got, tt.want)
		}
	}
}

func TestMergeWalker_MergeOrderIsReversed(t *testing.T) {
	f := mergeTree()
	w := Collect(f.g, Merge, f.ids["paint5"], testRect, image.Rectangle{})
	if got, want := names(f.g, w.MergeOrder()), "paint1,group,cplx2,paint5,root"; got != want {
		t.Errorf("MergeOrder() = %s, want %s", got, want)
	}
}

func TestMergeWalker_HiddenLayers(t *testing.T) {
	f := mergeTree()
	if err := f.g.SetVisible(f.ids["cplx2"], false); err != nil {
		t.Fatal(err)
	}
	w := Collect(f.g, Merge, f.ids["paint5"], testRect, image.Rectangle{})
	verify(t, f, w, result{"root,paint5,cplx2,group,paint1", testRect, false, false})
}

func TestMergeWalker_MissingNode(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer SetLogger(nil)

	f := mergeTree()
	w := Collect(f.g, Merge, graph.NodeID(999), testRect, image.Rectangle{})
	if len(w.Items()) != 0 || w.State() != Collected {
		t.Errorf("Items() = %v, State() = %v", w.Items(), w.State())
	}
	if out := buf.String(); !strings.Contains(out, "node not in graph") || !strings.Contains(out, "node=999") {
		t.Errorf("log = %q, want a debug record for node 999", out)
	}
}

// =============================================================================
// Masks
// =============================================================================

func TestMergeWalker_Masks(t *testing.T) {
	r := image.Rect(5, 5, 35, 35)
	tests := []struct {
		name  string
		start string
		flags Flags
		want  result
	}{
		{"tmask", "tmask", 0, result{"root,paint2,paint1", image.Rect(0, 0, 40, 40), true, false}},
		{"tmask no filthy", "tmask", NoFilthy, result{"root,paint2,paint1", image.Rect(0, 0, 40, 40), true, false}},
		{"paint1 no filthy", "paint1", NoFilthy, result{"root,paint2,paint1", r, false, false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := maskTree()
			w := New(Merge, image.Rectangle{}, tt.flags)
			w.CollectRects(f.g, f.ids[tt.start], r)
			verify(t, f, w, tt.want)
		})
	}

	f := maskTree()
	w := Collect(f.g, Merge, f.ids["tmask"], r, image.Rectangle{})
	if got, want := codes(f.g, w.Items()), "root_TF,paint2_TA,paint1_BP"; got != want {
		t.Errorf("positions = %s, want %s", got, want)
	}
}

// =============================================================================
// Full refresh
// =============================================================================

func TestFullRefreshWalker_Root(t *testing.T) {
	f := mergeTree()
	w := Collect(f.g, FullRefresh, f.g.Root(), testRect, image.Rectangle{})
	verify(t, f, w, result{
		"root,paint5,cplx2,group,paint1,paint4,paint3,cplx1,paint2",
		image.Rect(-4, -4, 34, 34), false, true,
	})
	if w.ChangeRect() != testRect {
		t.Errorf("ChangeRect() = %v, want %v", w.ChangeRect(), testRect)
	}
}

func TestFullRefreshWalker_Group(t *testing.T) {
	f := mergeTree()
	w := Collect(f.g, FullRefresh, f.ids["group"], testRect, image.Rectangle{})
	verify(t, f, w, result{
		"root,paint5,cplx2,group,paint1,group,paint4,paint3,cplx1,paint2",
		image.Rect(-10, -10, 40, 40), false, true,
	})
	if w.Kind() != FullRefresh {
		t.Errorf("Kind() = %v", w.Kind())
	}
}

// =============================================================================
// Checksums
// =============================================================================

func TestWalker_ChecksumValid(t *testing.T) {
	f := mergeTree()
	w := Collect(f.g, Merge, f.ids["paint3"], testRect, image.Rectangle{})
	if !w.ChecksumValid(f.g) {
		t.Fatal("fresh walker has an invalid checksum")
	}

	edits := []struct {
		name string
		edit func() error
	}{
		{"visibility", func() error { return f.g.SetVisible(f.ids["cplx1"], false) }},
		{"add", func() error {
			_, err := f.g.Add(f.ids["group"], graph.Spec{Name: "paint6", Kind: graph.KindPaint})
			return err
		}},
		{"remove", func() error {
			_, err := f.g.Remove(f.ids["paint1"])
			return err
		}},
	}
	for _, e := range edits {
		if err := e.edit(); err != nil {
			t.Fatalf("%s: %v", e.name, err)
		}
		if w.ChecksumValid(f.g) {
			t.Errorf("%s: checksum still valid", e.name)
		}
		w.Recalculate(f.g)
		if !w.ChecksumValid(f.g) {
			t.Errorf("%s: checksum invalid after Recalculate", e.name)
		}
	}
	if got, want := names(f.g, w.Items()), "root,paint5,cplx2,group,paint6,paint4,paint3,cplx1,paint2"; got != want {
		t.Errorf("order after edits = %s, want %s", got, want)
	}
}
