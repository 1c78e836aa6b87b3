package sched

import (
	"image"
	"sync"

	"github.com/gogpu/tiled/internal/tiles"
)

type tileLock struct {
	mu   sync.RWMutex
	refs int
}

// tileLocks hands out per-tile RW locks. Entries exist only while held
// or awaited.
type tileLocks struct {
	mu    sync.Mutex
	locks map[tiles.Key]*tileLock
}

func newTileLocks() *tileLocks {
	return &tileLocks{locks: make(map[tiles.Key]*tileLock)}
}

type heldLock struct {
	l     *tileLock
	write bool
}

// lockSet is the set of tile locks held by one job.
type lockSet struct {
	owner *tileLocks
	held  []heldLock
	keys  []tiles.Key
}

// acquire locks every tile under access, writing those under change.
// Tiles are locked row by row, left to right, so two jobs never wait on
// each other in opposite orders.
func (t *tileLocks) acquire(change, access image.Rectangle) *lockSet {
	access = access.Union(change)
	ls := &lockSet{owner: t}
	if access.Empty() {
		return ls
	}
	lo := tiles.KeyAt(access.Min.X, access.Min.Y)
	hi := tiles.KeyAt(access.Max.X-1, access.Max.Y-1)
	for row := lo.Row; row <= hi.Row; row++ {
		for col := lo.Col; col <= hi.Col; col++ {
			k := tiles.Key{Col: col, Row: row}
			write := k.Rect().Overlaps(change)

			t.mu.Lock()
			l := t.locks[k]
			if l == nil {
				l = &tileLock{}
				t.locks[k] = l
			}
			l.refs++
			t.mu.Unlock()

			if write {
				l.mu.Lock()
			} else {
				l.mu.RLock()
			}
			ls.held = append(ls.held, heldLock{l: l, write: write})
			ls.keys = append(ls.keys, k)
		}
	}
	return ls
}

func (ls *lockSet) release() {
	t := ls.owner
	for i := len(ls.held) - 1; i >= 0; i-- {
		h := ls.held[i]
		if h.write {
			h.l.mu.Unlock()
		} else {
			h.l.mu.RUnlock()
		}
		t.mu.Lock()
		if h.l.refs--; h.l.refs == 0 {
			delete(t.locks, ls.keys[i])
		}
		t.mu.Unlock()
	}
	ls.held, ls.keys = nil, nil
}

func (t *tileLocks) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
