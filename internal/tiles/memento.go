package tiles

import (
	"errors"
	"image"
	"sync"
	"sync/atomic"
)

// ErrUnknownMemento is returned when a memento does not belong to the
// store's history or is in the wrong state for the requested operation.
var ErrUnknownMemento = errors.New("tiles: memento is not in this store's history")

// reserved marks a record whose old data is still being detached.
// It never escapes a history-locked section.
var reserved = &Data{}

type mementoState int

const (
	mementoOpen mementoState = iota
	mementoCommitted
	mementoRolledBack
	mementoDropped
)

var mementoSeq atomic.Uint64

// Memento records, for one transaction, the tile buffers that were
// replaced by the first write to each tile. A nil record means the tile
// did not exist when the transaction began.
type Memento struct {
	id    uint64
	state mementoState

	order   []Key
	records map[Key]*Data // pre-transaction state
	redo    map[Key]*Data // state replaced by Rollback

	oldDefault  []byte
	redoDefault []byte
}

func newMemento() *Memento {
	return &Memento{
		id:      mementoSeq.Add(1),
		records: make(map[Key]*Data),
	}
}

// ID returns a process-unique memento number.
func (m *Memento) ID() uint64 { return m.id }

// Len returns the number of tiles touched by the transaction.
func (m *Memento) Len() int { return len(m.order) }

// Keys returns the touched tiles in the order they were first written.
func (m *Memento) Keys() []Key { return append([]Key(nil), m.order...) }

// Rect returns the union of the touched tile areas.
func (m *Memento) Rect() image.Rectangle {
	var r image.Rectangle
	for _, k := range m.order {
		r = r.Union(k.Rect())
	}
	return r
}

// DefaultPixelChanged reports whether the transaction changed the store's
// default pixel.
func (m *Memento) DefaultPixelChanged() bool { return m.oldDefault != nil }

func (m *Memento) recorded(k Key) bool {
	_, ok := m.records[k]
	return ok
}

func (m *Memento) add(k Key, old *Data) {
	m.order = append(m.order, k)
	m.records[k] = old
}

func (m *Memento) drop() {
	for _, d := range m.records {
		if d != nil && d != reserved {
			d.Release()
		}
	}
	for _, d := range m.redo {
		if d != nil {
			d.Release()
		}
	}
	m.records, m.redo = nil, nil
	m.state = mementoDropped
}

// history is the transaction log of a Store. mu serializes transaction
// operations; the fields are additionally guarded by Store.mu because the
// write path consults the current memento.
type history struct {
	mu        sync.Mutex
	current   *Memento
	committed []*Memento
	cancelled []*Memento // rolled back, last entry is the next to roll forward
}

// Begin opens a new transaction and returns its memento. A transaction
// that is still open is committed first, and rolled-back mementos can no
// longer be rolled forward.
func (s *Store) Begin() *Memento {
	s.history.mu.Lock()
	defer s.history.mu.Unlock()

	s.mu.Lock()
	s.commitLocked()
	cancelled := s.history.cancelled
	s.history.cancelled = nil
	m := newMemento()
	s.history.current = m
	s.mu.Unlock()

	for _, c := range cancelled {
		c.drop()
	}
	return m
}

// Commit closes the open transaction, if any, and appends it to history.
func (s *Store) Commit() {
	s.history.mu.Lock()
	defer s.history.mu.Unlock()
	s.mu.Lock()
	s.commitLocked()
	s.mu.Unlock()
}

func (s *Store) commitLocked() {
	m := s.history.current
	if m == nil {
		return
	}
	m.state = mementoCommitted
	s.history.current = nil
	s.history.committed = append(s.history.committed, m)
}

// Current returns the open memento or nil.
func (s *Store) Current() *Memento {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.current
}

// HistoryLen returns the number of committed mementos that can be rolled back.
func (s *Store) HistoryLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history.committed)
}

// Discard closes the open memento m without adding it to history. Pixels
// are left as they are; only the retained buffers are released.
func (s *Store) Discard(m *Memento) error {
	s.history.mu.Lock()
	defer s.history.mu.Unlock()
	s.mu.Lock()
	if s.history.current != m {
		s.mu.Unlock()
		return ErrUnknownMemento
	}
	s.history.current = nil
	s.mu.Unlock()
	m.drop()
	return nil
}

// Abort reverts the open memento m and closes it without adding it to
// history, so the store looks as it did before m began.
func (s *Store) Abort(m *Memento) error {
	s.history.mu.Lock()
	defer s.history.mu.Unlock()
	s.mu.Lock()
	if s.history.current != m {
		s.mu.Unlock()
		return ErrUnknownMemento
	}
	s.history.current = nil
	s.mu.Unlock()

	m.redo, _ = s.applyRecords(m.order, m.records, m.oldDefault)
	m.records, m.oldDefault = nil, nil
	m.drop()
	slogger().Debug("tiles: memento aborted", "id", m.id, "tiles", len(m.order))
	return nil
}

// Rollback reverts m and every memento committed after it, newest first.
// An open transaction is committed before rolling back.
func (s *Store) Rollback(m *Memento) error {
	s.history.mu.Lock()
	defer s.history.mu.Unlock()

	s.mu.Lock()
	s.commitLocked()
	idx := indexOf(s.history.committed, m)
	if idx < 0 {
		s.mu.Unlock()
		return ErrUnknownMemento
	}
	todo := append([]*Memento(nil), s.history.committed[idx:]...)
	s.history.committed = s.history.committed[:idx]
	s.mu.Unlock()

	for i := len(todo) - 1; i >= 0; i-- {
		cur := todo[i]
		cur.redo, cur.redoDefault = s.applyRecords(cur.order, cur.records, cur.oldDefault)
		cur.records, cur.oldDefault = nil, nil
		cur.state = mementoRolledBack
		s.mu.Lock()
		s.history.cancelled = append(s.history.cancelled, cur)
		s.mu.Unlock()
		slogger().Debug("tiles: memento rolled back", "id", cur.id, "tiles", len(cur.order))
	}
	return nil
}

// Rollforward re-applies rolled-back mementos, oldest first, up to and
// including m.
func (s *Store) Rollforward(m *Memento) error {
	s.history.mu.Lock()
	defer s.history.mu.Unlock()

	s.mu.Lock()
	if s.history.current != nil || indexOf(s.history.cancelled, m) < 0 {
		s.mu.Unlock()
		return ErrUnknownMemento
	}
	s.mu.Unlock()

	for {
		s.mu.Lock()
		n := len(s.history.cancelled)
		cur := s.history.cancelled[n-1]
		s.history.cancelled = s.history.cancelled[:n-1]
		s.mu.Unlock()

		cur.records, cur.oldDefault = s.applyRecords(cur.order, cur.redo, cur.redoDefault)
		cur.redo, cur.redoDefault = nil, nil
		cur.state = mementoCommitted

		s.mu.Lock()
		s.history.committed = append(s.history.committed, cur)
		s.mu.Unlock()
		slogger().Debug("tiles: memento rolled forward", "id", cur.id, "tiles", len(cur.order))
		if cur == m {
			return nil
		}
	}
}

// Committed reports whether m is in the committed history.
func (s *Store) Committed(m *Memento) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return indexOf(s.history.committed, m) >= 0
}

// RolledBack reports whether m was rolled back and can be rolled forward.
func (s *Store) RolledBack(m *Memento) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return indexOf(s.history.cancelled, m) >= 0
}

// PurgeHistory forgets every committed memento older than m. Their
// retained buffers are released; pixels are not touched.
func (s *Store) PurgeHistory(m *Memento) error {
	s.history.mu.Lock()
	defer s.history.mu.Unlock()

	s.mu.Lock()
	idx := indexOf(s.history.committed, m)
	if idx < 0 {
		s.mu.Unlock()
		return ErrUnknownMemento
	}
	old := s.history.committed[:idx]
	s.history.committed = append([]*Memento(nil), s.history.committed[idx:]...)
	s.mu.Unlock()

	for _, o := range old {
		o.drop()
	}
	return nil
}

// applyRecords installs the recorded buffers (nil removes the tile) and
// returns the state they replaced, in the same shape. The references in
// recs are transferred to the store.
func (s *Store) applyRecords(order []Key, recs map[Key]*Data, defPixel []byte) (map[Key]*Data, []byte) {
	replaced := make(map[Key]*Tile, len(order))

	s.mu.Lock()
	for _, k := range order {
		cur := s.tiles[k]
		replaced[k] = cur
		if d := recs[k]; d != nil {
			s.tiles[k] = newTile(k, d)
			if cur == nil {
				s.extent.add(k)
			}
		} else if cur != nil {
			delete(s.tiles, k)
			s.extent.remove(k)
		}
	}
	var prevDefault []byte
	if defPixel != nil {
		prevDefault = s.defaultPixel
		s.setDefaultLocked(defPixel)
	}
	s.mu.Unlock()

	out := make(map[Key]*Data, len(order))
	for k, t := range replaced {
		if t == nil {
			out[k] = nil
			continue
		}
		out[k] = t.detach()
	}
	return out, prevDefault
}

func indexOf(list []*Memento, m *Memento) int {
	for i, x := range list {
		if x == m {
			return i
		}
	}
	return -1
}
