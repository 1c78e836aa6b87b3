package access

import (
	"bytes"
	"image"
	"testing"

	"github.com/gogpu/tiled/internal/tiles"
)

func newStore() *tiles.Store {
	return tiles.NewStore([]byte{0, 0, 0, 0})
}

// pixelAt encodes a position into a 4-byte pixel.
func pixelAt(x, y int) []byte {
	return []byte{byte(x), byte(x >> 8), byte(y), byte(y >> 8)}
}

func paintPattern(s *tiles.Store, r image.Rectangle) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			s.SetPixel(x, y, pixelAt(x, y))
		}
	}
}

// =============================================================================
// Random accessor
// =============================================================================

func TestRandomAccessor_ReadWrite(t *testing.T) {
	s := newStore()
	w := NewRandomAccessor(s, true)
	points := []image.Point{{0, 0}, {70, 3}, {-5, -200}, {63, 64}}
	for _, p := range points {
		w.MoveTo(p.X, p.Y)
		copy(w.RawData(), pixelAt(p.X, p.Y))
	}
	w.Close()

	r := NewRandomAccessor(s, false)
	defer r.Close()
	for _, p := range points {
		r.MoveTo(p.X, p.Y)
		if got := r.RawDataConst()[:4]; !bytes.Equal(got, pixelAt(p.X, p.Y)) {
			t.Errorf("pixel %v = %v, want %v", p, got, pixelAt(p.X, p.Y))
		}
	}
	if s.NumTiles() != 4 {
		t.Errorf("NumTiles() = %d, want 4", s.NumTiles())
	}
}

func TestRandomAccessor_EvictedTileIsRefetched(t *testing.T) {
	s := newStore()
	area := image.Rect(0, 0, 64*(CacheSize+2), 64)
	paintPattern(s, area)

	a := NewRandomAccessor(s, false)
	defer a.Close()
	first := image.Pt(10, 20)
	a.MoveTo(first.X, first.Y)
	for col := 1; col <= CacheSize+1; col++ {
		a.MoveTo(col*64+1, 1)
	}
	if len(a.cache.entries) != CacheSize {
		t.Fatalf("cache holds %d entries, want %d", len(a.cache.entries), CacheSize)
	}
	misses := a.cache.misses

	a.MoveTo(first.X, first.Y)
	if a.cache.misses != misses+1 {
		t.Errorf("revisiting an evicted tile should miss the cache")
	}
	if got := a.RawDataConst()[:4]; !bytes.Equal(got, pixelAt(first.X, first.Y)) {
		t.Errorf("pixel after refetch = %v, want %v", got, pixelAt(first.X, first.Y))
	}

	hits := a.cache.hits
	a.MoveTo(CacheSize*64+5, 5)
	if a.cache.hits != hits+1 {
		t.Error("recently used tile should hit the cache")
	}
}

func TestRandomAccessor_ReleasesReferences(t *testing.T) {
	s := newStore()
	s.SetPixel(0, 0, []byte{1, 1, 1, 1})
	d := s.SnapshotTile(0, 0)
	defer d.Release()
	base := d.RefCount()

	a := NewRandomAccessor(s, false)
	if d.RefCount() != base+1 {
		t.Errorf("RefCount() with accessor = %d, want %d", d.RefCount(), base+1)
	}
	a.Close()
	if d.RefCount() != base {
		t.Errorf("RefCount() after Close = %d, want %d", d.RefCount(), base)
	}
}

func TestRandomAccessor_Panics(t *testing.T) {
	s := newStore()
	tests := map[string]func(){
		"read-only write": func() {
			a := NewRandomAccessor(s, false)
			defer a.Close()
			_ = a.RawData()
		},
		"nconseq": func() {
			a := NewRandomAccessor(s, false)
			defer a.Close()
			_ = a.NConseqPixels()
		},
		"closed": func() {
			a := NewRandomAccessor(s, false)
			a.Close()
			a.MoveTo(1, 1)
		},
	}
	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			fn()
		})
	}
}

func TestRandomAccessor_Geometry(t *testing.T) {
	a := NewRandomAccessor(newStore(), false)
	defer a.Close()
	if got := a.NumContiguousColumns(60); got != 4 {
		t.Errorf("NumContiguousColumns(60) = %d, want 4", got)
	}
	if got := a.NumContiguousRows(-1); got != 1 {
		t.Errorf("NumContiguousRows(-1) = %d, want 1", got)
	}
	if got := a.RowStride(); got != 256 {
		t.Errorf("RowStride() = %d, want 256", got)
	}
}

// =============================================================================
// Old data
// =============================================================================

func TestAccessor_OldRawData(t *testing.T) {
	s := newStore()
	s.SetPixel(5, 5, []byte{1, 1, 1, 1})

	m := s.Begin()
	w := NewRandomAccessor(s, true)
	w.MoveTo(5, 5)
	copy(w.RawData(), []byte{2, 2, 2, 2})
	if got := w.OldRawData()[:4]; !bytes.Equal(got, []byte{1, 1, 1, 1}) {
		t.Errorf("OldRawData() = %v, want the pre-transaction pixel", got)
	}
	w.MoveTo(200, 200)
	if got := w.OldRawData()[:4]; !bytes.Equal(got, []byte{0, 0, 0, 0}) {
		t.Errorf("OldRawData() of a new tile = %v, want default", got)
	}
	w.Close()
	s.Commit()

	r := NewRandomAccessor(s, false)
	r.MoveTo(5, 5)
	if !bytes.Equal(r.OldRawData()[:4], r.RawDataConst()[:4]) {
		t.Error("without a transaction old data should equal current data")
	}
	r.Close()

	if err := s.Rollback(m); err != nil {
		t.Fatal(err)
	}
	if got := s.Pixel(5, 5); !bytes.Equal(got, []byte{1, 1, 1, 1}) {
		t.Errorf("pixel after rollback = %v", got)
	}
}

func TestAccessor_ReaderKeepsItsCopyAcrossRollback(t *testing.T) {
	a := []byte{10, 10, 10, 10}
	b := []byte{20, 20, 20, 20}
	s := newStore()
	s.ClearRect(image.Rect(0, 0, 64, 64), a)

	m := s.Begin()
	w := NewRandomAccessor(s, true)
	copy(w.RawData(), b)
	w.Close()
	s.Commit()

	r := NewRandomAccessor(s, false)
	defer r.Close()
	if err := s.Rollback(m); err != nil {
		t.Fatal(err)
	}
	if got := s.Pixel(0, 0); !bytes.Equal(got, a) {
		t.Errorf("store pixel after rollback = %v, want %v", got, a)
	}
	if got := r.RawDataConst()[:4]; !bytes.Equal(got, b) {
		t.Errorf("reader pixel = %v, want its own copy %v", got, b)
	}

	// Moving away far enough to evict forces a re-fetch.
	for col := 1; col <= CacheSize; col++ {
		r.MoveTo(col*64, 0)
	}
	r.MoveTo(0, 0)
	if got := r.RawDataConst()[:4]; !bytes.Equal(got, a) {
		t.Errorf("reader pixel after refetch = %v, want %v", got, a)
	}
}

// =============================================================================
// Line iterators
// =============================================================================

func TestHLineIterator(t *testing.T) {
	s := newStore()
	paintPattern(s, image.Rect(-70, 3, 130, 4))

	it := NewHLineIterator(s, -70, 3, 200, false)
	defer it.Close()
	count := 0
	for {
		if got := it.RawDataConst()[:4]; !bytes.Equal(got, pixelAt(it.X(), it.Y())) {
			t.Fatalf("pixel (%d,%d) = %v", it.X(), it.Y(), got)
		}
		count++
		if !it.NextPixel() {
			break
		}
	}
	if count != 200 {
		t.Errorf("visited %d pixels, want 200", count)
	}
}

func TestHLineIterator_NConseqPixels(t *testing.T) {
	s := newStore()
	it := NewHLineIterator(s, 60, 0, 100, true)
	defer it.Close()

	var runs []int
	for {
		n := it.NConseqPixels()
		runs = append(runs, n)
		buf := it.RawData()[:n*4]
		for i := range buf {
			buf[i] = 7
		}
		if !it.NextPixels(n) {
			break
		}
	}
	want := []int{4, 64, 32}
	if len(runs) != len(want) {
		t.Fatalf("runs = %v, want %v", runs, want)
	}
	for i := range want {
		if runs[i] != want[i] {
			t.Fatalf("runs = %v, want %v", runs, want)
		}
	}
	it.Close()
	for _, x := range []int{60, 127, 159} {
		if got := s.Pixel(x, 0); got[0] != 7 {
			t.Errorf("pixel %d = %v, want written", x, got)
		}
	}
	if got := s.Pixel(160, 0); got[0] != 0 {
		t.Errorf("pixel 160 = %v, want untouched", got)
	}
}

func TestHLineIterator_NextRow(t *testing.T) {
	s := newStore()
	paintPattern(s, image.Rect(0, 0, 8, 3))
	it := NewHLineIterator(s, 2, 0, 4, false)
	defer it.Close()
	for range 2 {
		for it.NextPixel() {
		}
		it.NextRow()
	}
	if it.X() != 2 || it.Y() != 2 {
		t.Errorf("position = (%d,%d), want (2,2)", it.X(), it.Y())
	}
	if got := it.RawDataConst()[:4]; !bytes.Equal(got, pixelAt(2, 2)) {
		t.Errorf("pixel = %v, want %v", got, pixelAt(2, 2))
	}
}

func TestVLineIterator(t *testing.T) {
	s := newStore()
	paintPattern(s, image.Rect(5, -10, 7, 120))

	it := NewVLineIterator(s, 5, -10, 130, false)
	defer it.Close()
	if n := it.NConseqPixels(); n != 10 {
		t.Errorf("NConseqPixels() = %d, want 10", n)
	}
	count := 0
	for {
		if got := it.RawDataConst()[:4]; !bytes.Equal(got, pixelAt(it.X(), it.Y())) {
			t.Fatalf("pixel (%d,%d) = %v", it.X(), it.Y(), got)
		}
		count++
		if !it.NextPixel() {
			break
		}
	}
	if count != 130 {
		t.Errorf("visited %d pixels, want 130", count)
	}

	it.NextColumn()
	if it.X() != 6 || it.Y() != -10 {
		t.Errorf("after NextColumn position = (%d,%d), want (6,-10)", it.X(), it.Y())
	}
	stride := it.RowStride()
	raw := it.RawDataConst()
	if !bytes.Equal(raw[stride:stride+4], pixelAt(6, -9)) {
		t.Error("pixels of a vertical run should be RowStride bytes apart")
	}
}

// =============================================================================
// Rect iterator
// =============================================================================

func TestRectIterator_VisitsEveryPixel(t *testing.T) {
	s := newStore()
	r := image.Rect(-3, 60, 70, 66)
	paintPattern(s, r)

	tests := []struct {
		name string
		step func(it *RectIterator) bool
	}{
		{"pixel", func(it *RectIterator) bool { return it.NextPixel() }},
		{"runs", func(it *RectIterator) bool { return it.NextPixels(it.NConseqPixels()) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := NewRectIterator(s, r, false)
			defer it.Close()
			seen := 0
			for !it.IsDone() {
				n := 1
				if tt.name == "runs" {
					n = it.NConseqPixels()
				}
				raw := it.RawDataConst()
				for i := range n {
					if !bytes.Equal(raw[i*4:i*4+4], pixelAt(it.X()+i, it.Y())) {
						t.Fatalf("pixel (%d,%d) mismatch", it.X()+i, it.Y())
					}
				}
				seen += n
				tt.step(it)
			}
			if want := r.Dx() * r.Dy(); seen != want {
				t.Errorf("visited %d pixels, want %d", seen, want)
			}
		})
	}
}

func TestRectIterator_Empty(t *testing.T) {
	it := NewRectIterator(newStore(), image.Rectangle{}, false)
	defer it.Close()
	if !it.IsDone() {
		t.Error("iterator over an empty rect should be done")
	}
	if it.NextPixel() || it.NConseqPixels() != 0 {
		t.Error("done iterator should not advance")
	}
}

func TestRectIterator_WriteRecordsMemento(t *testing.T) {
	s := newStore()
	m := s.Begin()
	it := NewRectIterator(s, image.Rect(0, 0, 130, 2), true)
	for !it.IsDone() {
		copy(it.RawData(), []byte{1, 2, 3, 4})
		it.NextPixel()
	}
	it.Close()
	s.Commit()

	if m.Len() != 3 {
		t.Errorf("memento recorded %d tiles, want 3", m.Len())
	}
	if err := s.Rollback(m); err != nil {
		t.Fatal(err)
	}
	if s.NumTiles() != 0 {
		t.Errorf("NumTiles() after rollback = %d, want 0", s.NumTiles())
	}
}
