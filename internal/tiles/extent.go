package tiles

import "image"

// extentManager tracks how many tiles occupy each column and row so the
// tile-aligned bounds can be recomputed without scanning the tile map.
type extentManager struct {
	cols map[int]int
	rows map[int]int
}

func newExtentManager() extentManager {
	return extentManager{cols: make(map[int]int), rows: make(map[int]int)}
}

func (e *extentManager) add(k Key) {
	e.cols[k.Col]++
	e.rows[k.Row]++
}

func (e *extentManager) remove(k Key) {
	if e.cols[k.Col]--; e.cols[k.Col] <= 0 {
		delete(e.cols, k.Col)
	}
	if e.rows[k.Row]--; e.rows[k.Row] <= 0 {
		delete(e.rows, k.Row)
	}
}

func (e *extentManager) clear() {
	clear(e.cols)
	clear(e.rows)
}

// rect returns the union of all tracked tile areas, or the empty rectangle.
func (e *extentManager) rect() image.Rectangle {
	if len(e.cols) == 0 {
		return image.Rectangle{}
	}
	c0, c1 := bounds(e.cols)
	r0, r1 := bounds(e.rows)
	return image.Rect(c0*TileWidth, r0*TileHeight, (c1+1)*TileWidth, (r1+1)*TileHeight)
}

func bounds(m map[int]int) (lo, hi int) {
	first := true
	for v := range m {
		if first {
			lo, hi, first = v, v, false
			continue
		}
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return lo, hi
}
