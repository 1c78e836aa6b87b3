package tiles

import (
	"errors"
	"slices"
)

// ErrNoSwapper is returned by SwapOut on a store created without WithSwapper.
var ErrNoSwapper = errors.New("tiles: store has no swapper")

// Swapper holds tile buffers evicted from memory.
//
// SwapOut must copy buf before returning; the buffer is recycled
// afterwards. SwapIn fills buf, which has the same length as the buffer
// passed to SwapOut. Forget is called once the swapped copy is no longer
// reachable.
type Swapper interface {
	SwapOut(handle uint64, buf []byte, pixelSize int) error
	SwapIn(handle uint64, buf []byte) error
	Forget(handle uint64)
}

type swapCandidate struct {
	t       *Tile
	lastUse int64
}

// SwapOut moves up to limit of the least recently used tile buffers to the
// store's swapper. Only buffers referenced solely by their tile, on tiles
// nobody is writing, are eligible. It returns the number swapped.
func (s *Store) SwapOut(limit int) (int, error) {
	if s.swapper == nil {
		return 0, ErrNoSwapper
	}
	s.mu.RLock()
	cands := make([]swapCandidate, 0, len(s.tiles))
	for _, t := range s.tiles {
		cands = append(cands, swapCandidate{t: t})
	}
	s.mu.RUnlock()

	for i := range cands {
		if d := cands[i].t.Snapshot(); d != nil {
			cands[i].lastUse = d.lastUse.Load()
			d.Release()
		}
	}
	slices.SortFunc(cands, func(a, b swapCandidate) int {
		switch {
		case a.lastUse < b.lastUse:
			return -1
		case a.lastUse > b.lastUse:
			return 1
		}
		return 0
	})

	swapped := 0
	for _, c := range cands {
		if swapped >= limit {
			break
		}
		ok, err := s.swapTile(c.t)
		if err != nil {
			return swapped, err
		}
		if ok {
			swapped++
		}
	}
	if swapped > 0 {
		slogger().Debug("tiles: swapped out", "tiles", swapped)
	}
	return swapped, nil
}

func (s *Store) swapTile(t *Tile) (bool, error) {
	if !t.mu.TryLock() {
		return false, nil
	}
	defer t.mu.Unlock()
	d := t.data
	if d == nil || d.RefCount() != 1 || d.Swapped() {
		return false, nil
	}
	if err := d.swapOut(s.swapper); err != nil {
		return false, err
	}
	return true, nil
}
