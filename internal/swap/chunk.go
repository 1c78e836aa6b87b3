package swap

import "slices"

// chunk is a byte range inside a swap file.
type chunk struct {
	off, size int64
}

func (c chunk) end() int64 { return c.off + c.size }

// chunkAllocator hands out ranges of a growing file. Freed ranges are kept
// sorted by offset and merged with their neighbors; allocation is
// first-fit, falling back to the end of the file.
//
// Not safe for concurrent use.
type chunkAllocator struct {
	free []chunk
	tail int64
}

func (a *chunkAllocator) alloc(size int64) chunk {
	for i, f := range a.free {
		if f.size < size {
			continue
		}
		c := chunk{f.off, size}
		if f.size == size {
			a.free = slices.Delete(a.free, i, i+1)
		} else {
			a.free[i] = chunk{f.off + size, f.size - size}
		}
		return c
	}
	c := chunk{a.tail, size}
	a.tail += size
	return c
}

func (a *chunkAllocator) release(c chunk) {
	if c.size == 0 {
		return
	}
	i, _ := slices.BinarySearchFunc(a.free, c.off, func(f chunk, off int64) int {
		switch {
		case f.off < off:
			return -1
		case f.off > off:
			return 1
		}
		return 0
	})
	a.free = slices.Insert(a.free, i, c)

	if i+1 < len(a.free) && a.free[i].end() == a.free[i+1].off {
		a.free[i].size += a.free[i+1].size
		a.free = slices.Delete(a.free, i+1, i+2)
	}
	if i > 0 && a.free[i-1].end() == a.free[i].off {
		a.free[i-1].size += a.free[i].size
		a.free = slices.Delete(a.free, i, i+1)
		i--
	}
	if a.free[i].end() == a.tail {
		a.tail = a.free[i].off
		a.free = a.free[:i]
	}
}

// freeBytes returns the total size of released ranges below the tail.
func (a *chunkAllocator) freeBytes() int64 {
	var n int64
	for _, f := range a.free {
		n += f.size
	}
	return n
}
