package sched

import (
	"context"
	"errors"
	"image"

	"github.com/gogpu/tiled/internal/graph"
	"github.com/gogpu/tiled/internal/walker"
)

// Errors returned by the scheduler.
var (
	ErrClosed          = errors.New("sched: scheduler closed")
	ErrUnknownStroke   = errors.New("sched: unknown stroke")
	ErrStrokeEnded     = errors.New("sched: stroke already ended")
	ErrStrokeCancelled = errors.New("sched: stroke cancelled")
)

// Executor recomposes the job items of a collected walker. Execute is
// called from worker goroutines with the walker's tiles locked.
type Executor interface {
	Execute(ctx context.Context, w *walker.Walker) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, w *walker.Walker) error

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, w *walker.Walker) error { return f(ctx, w) }

// SpontaneousJob is a one-off callback queued next to updates.
type SpontaneousJob struct {
	// Name labels the job; jobs with equal Name and Target override
	// each other.
	Name string

	// Target is the node the job works on. A job whose target no longer
	// exists when it would start is dropped. None means the whole image.
	Target graph.NodeID

	// Exclusive jobs run alone.
	Exclusive bool

	Run func(ctx context.Context) error
}

// Overrides reports whether j supersedes the queued job other.
func (j *SpontaneousJob) Overrides(other *SpontaneousJob) bool {
	return j.Name == other.Name && j.Target == other.Target
}

// Command is one undoable step of a stroke. Redo applies it; during live
// execution Redo is called once by a worker.
type Command interface {
	Redo(ctx context.Context) error
	Undo(ctx context.Context) error
}

// CommandFuncs adapts a pair of functions to Command. Nil functions do
// nothing.
type CommandFuncs struct {
	RedoFunc func(ctx context.Context) error
	UndoFunc func(ctx context.Context) error
}

// Redo calls RedoFunc.
func (c CommandFuncs) Redo(ctx context.Context) error {
	if c.RedoFunc == nil {
		return nil
	}
	return c.RedoFunc(ctx)
}

// Undo calls UndoFunc.
func (c CommandFuncs) Undo(ctx context.Context) error {
	if c.UndoFunc == nil {
		return nil
	}
	return c.UndoFunc(ctx)
}

// Sequentiality orders a stroke job relative to the other jobs of its stroke.
type Sequentiality uint8

const (
	// Concurrent jobs may run alongside other concurrent jobs of the stroke.
	Concurrent Sequentiality = iota
	// Sequential jobs run after every earlier job of the stroke finished.
	Sequential
	// Barrier jobs also wait for every job queued before them and run alone.
	Barrier
)

func (s Sequentiality) String() string {
	switch s {
	case Concurrent:
		return "concurrent"
	case Sequential:
		return "sequential"
	case Barrier:
		return "barrier"
	default:
		return "unknown"
	}
}

// StrokeJob is one unit of a stroke.
type StrokeJob struct {
	Name          string
	Command       Command
	Sequentiality Sequentiality

	// Exclusive jobs never overlap another running job's rect. An
	// exclusive job with an empty Rect runs alone.
	Exclusive bool

	// Rect is the area the job writes. Its tiles are write-locked while
	// the job runs.
	Rect image.Rectangle
}

// StrokeStrategy describes a stroke: its name and the jobs run when it
// begins and when it ends.
type StrokeStrategy struct {
	Name   string
	Init   []StrokeJob
	Finish []StrokeJob
}

// ProgressSink receives queue progress. It is called from the scheduler's
// progress goroutine.
type ProgressSink interface {
	OnProgress(processed, total int, label string)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(processed, total int, label string)

// OnProgress calls f.
func (f ProgressFunc) OnProgress(processed, total int, label string) { f(processed, total, label) }
