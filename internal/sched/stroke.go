package sched

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// StrokeID identifies a stroke.
type StrokeID = uuid.UUID

type strokeState uint8

const (
	strokeOpen strokeState = iota
	strokeEnded
	strokeCancelled
	strokeDone
)

type stroke struct {
	id        StrokeID
	name      string
	state     strokeState
	cancelled bool

	pending        []*task
	running        int
	runningOrdered int

	// executed holds the commands that ran live, in completion order.
	executed []Command
	done     chan struct{}
}

// canStart reports whether t, a queued job of st, may start now. Jobs of
// one stroke start in the order they were added.
func (st *stroke) canStart(t *task) bool {
	if len(st.pending) == 0 || st.pending[0] != t {
		return false
	}
	if t.ordered() {
		return st.running == 0
	}
	return st.runningOrdered == 0
}

func (st *stroke) started(t *task) {
	st.pending = st.pending[1:]
	st.running++
	if t.ordered() {
		st.runningOrdered++
	}
}

func (st *stroke) finished(t *task, err error) {
	st.running--
	if t.ordered() {
		st.runningOrdered--
	}
	if err == nil && t.replay == nil && t.job.Command != nil {
		st.executed = append(st.executed, t.job.Command)
	}
}

// BeginStroke opens a stroke and queues the strategy's init jobs.
func (s *Scheduler) BeginStroke(strategy StrokeStrategy) (StrokeID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return StrokeID{}, ErrClosed
	}
	st := &stroke{id: uuid.New(), name: strategy.Name, done: make(chan struct{})}
	s.strokes[st.id] = st
	for _, j := range strategy.Init {
		s.enqueueStrokeJobLocked(st, j)
	}
	s.rememberFinishJobs(st, strategy.Finish)
	s.changedLocked()
	slogger().Debug("sched: stroke begun", "id", st.id, "name", st.name)
	return st.id, nil
}

// rememberFinishJobs keeps the finish jobs until EndStroke.
func (s *Scheduler) rememberFinishJobs(st *stroke, jobs []StrokeJob) {
	if len(jobs) == 0 {
		return
	}
	if s.finishJobs == nil {
		s.finishJobs = make(map[StrokeID][]StrokeJob)
	}
	s.finishJobs[st.id] = slices.Clone(jobs)
}

func (s *Scheduler) enqueueStrokeJobLocked(st *stroke, j StrokeJob) {
	t := &task{
		kind:      kindStroke,
		name:      j.Name,
		label:     st.name,
		stroke:    st,
		job:       j,
		exclusive: j.Exclusive,
		alone:     j.Sequentiality == Barrier || (j.Exclusive && j.Rect.Empty()),
	}
	if t.name == "" {
		t.name = st.name
	}
	s.enqueueLocked(t)
}

func (s *Scheduler) openStrokeLocked(id StrokeID) (*stroke, error) {
	if s.closed {
		return nil, ErrClosed
	}
	st, ok := s.strokes[id]
	switch {
	case !ok:
		return nil, ErrUnknownStroke
	case st.cancelled:
		return nil, ErrStrokeCancelled
	case st.state != strokeOpen:
		return nil, ErrStrokeEnded
	}
	return st, nil
}

// AddJob appends job to an open stroke.
func (s *Scheduler) AddJob(id StrokeID, job StrokeJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.openStrokeLocked(id)
	if err != nil {
		return err
	}
	s.enqueueStrokeJobLocked(st, job)
	s.changedLocked()
	return nil
}

// EndStroke closes a stroke: no more jobs may be added and the strategy's
// finish jobs are queued. The returned command undoes and redoes the
// stroke once it has completed.
func (s *Scheduler) EndStroke(id StrokeID) (*StrokeCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.openStrokeLocked(id)
	if err != nil {
		return nil, err
	}
	for _, j := range s.finishJobs[id] {
		s.enqueueStrokeJobLocked(st, j)
	}
	delete(s.finishJobs, id)
	st.state = strokeEnded
	s.maybeCompleteStrokeLocked(st)
	s.changedLocked()
	return &StrokeCommand{s: s, st: st, skipRedo: true}, nil
}

// CancelStroke drops the stroke's queued jobs and, once its running jobs
// finish, undoes the executed ones in reverse order.
func (s *Scheduler) CancelStroke(id StrokeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	st, ok := s.strokes[id]
	if !ok {
		return ErrUnknownStroke
	}
	if st.cancelled {
		return ErrStrokeCancelled
	}
	st.cancelled = true
	st.state = strokeCancelled
	delete(s.finishJobs, id)

	dropped := slices.Clone(st.pending)
	// The replay joins st.pending before the drops so the stroke does not
	// complete in between.
	t := &task{kind: kindStroke, name: st.name + " (cancel)", label: st.name, stroke: st, internal: true}
	t.replay = func(ctx context.Context) error {
		s.mu.Lock()
		cmds := st.executed
		st.executed = nil
		s.mu.Unlock()
		return undoAll(ctx, cmds)
	}
	s.enqueueLocked(t)
	for _, d := range dropped {
		if i := slices.Index(s.queue, d); i >= 0 {
			s.removeAtLocked(i)
			s.dropLocked(d, "cancelled")
		}
	}
	s.changedLocked()
	slogger().Debug("sched: stroke cancelled", "id", id, "name", st.name)
	return nil
}

func (s *Scheduler) maybeCompleteStrokeLocked(st *stroke) {
	if st.state == strokeDone || len(st.pending) > 0 || st.running > 0 {
		return
	}
	if st.state == strokeOpen && !s.closed {
		return
	}
	st.state = strokeDone
	close(st.done)
	delete(s.strokes, st.id)
	delete(s.finishJobs, st.id)
}

func undoAll(ctx context.Context, cmds []Command) error {
	var errs []error
	for i := len(cmds) - 1; i >= 0; i-- {
		if err := cmds[i].Undo(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func redoAll(ctx context.Context, cmds []Command) error {
	var errs []error
	for _, c := range cmds {
		if err := c.Redo(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StrokeCommand is the undoable record of an ended stroke. Undo replays the
// stroke's commands in reverse order; Redo replays them forward. The first
// Redo after the live execution does nothing, since the stroke's effect is
// already applied. Replays run as exclusive scheduler jobs.
type StrokeCommand struct {
	s  *Scheduler
	st *stroke

	mu       sync.Mutex
	skipRedo bool
}

// ID returns the stroke's ID.
func (c *StrokeCommand) ID() StrokeID { return c.st.id }

// Name returns the stroke's name.
func (c *StrokeCommand) Name() string { return c.st.name }

// Wait blocks until every job of the stroke finished.
func (c *StrokeCommand) Wait(ctx context.Context) error {
	select {
	case <-c.st.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Commands returns the commands that executed, in execution order.
func (c *StrokeCommand) Commands() []Command {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return slices.Clone(c.st.executed)
}

// Undo waits for the stroke and reverts it.
func (c *StrokeCommand) Undo(ctx context.Context) error {
	if err := c.ready(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.skipRedo = false
	c.mu.Unlock()
	cmds := c.Commands()
	return c.s.runAlone(ctx, "undo "+c.st.name, func(ctx context.Context) error {
		return undoAll(ctx, cmds)
	})
}

// Redo waits for the stroke and applies it again.
func (c *StrokeCommand) Redo(ctx context.Context) error {
	if err := c.ready(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	skip := c.skipRedo
	c.skipRedo = false
	c.mu.Unlock()
	if skip {
		return nil
	}
	cmds := c.Commands()
	return c.s.runAlone(ctx, "redo "+c.st.name, func(ctx context.Context) error {
		return redoAll(ctx, cmds)
	})
}

func (c *StrokeCommand) ready(ctx context.Context) error {
	if err := c.Wait(ctx); err != nil {
		return err
	}
	if c.st.cancelled {
		return ErrStrokeCancelled
	}
	return nil
}
