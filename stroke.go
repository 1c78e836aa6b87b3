package tiled

import (
	"context"
	"errors"
	"image"
	"sync"

	"github.com/gogpu/tiled/internal/sched"
)

// Stroke and job types, shared with the scheduler.
type (
	// Command is one undoable step of a stroke.
	Command = sched.Command
	// CommandFuncs adapts a pair of functions to Command.
	CommandFuncs = sched.CommandFuncs
	// StrokeID identifies a stroke.
	StrokeID = sched.StrokeID
	// StrokeJob is one unit of a stroke.
	StrokeJob = sched.StrokeJob
	// StrokeStrategy names a stroke and supplies its init and finish jobs.
	StrokeStrategy = sched.StrokeStrategy
	// StrokeCommand undoes and redoes an ended stroke.
	StrokeCommand = sched.StrokeCommand
	// Sequentiality orders a job within its stroke.
	Sequentiality = sched.Sequentiality
	// SpontaneousJob is a one-off callback queued next to updates.
	SpontaneousJob = sched.SpontaneousJob
)

// Sequentiality values.
const (
	Concurrent = sched.Concurrent
	Sequential = sched.Sequential
	Barrier    = sched.Barrier
)

// Stroke errors.
var (
	ErrUnknownStroke   = sched.ErrUnknownStroke
	ErrStrokeEnded     = sched.ErrStrokeEnded
	ErrStrokeCancelled = sched.ErrStrokeCancelled
)

// BeginStroke opens a stroke and queues its init jobs.
func (img *Image) BeginStroke(strategy StrokeStrategy) (StrokeID, error) {
	return img.sched.BeginStroke(strategy)
}

// AddStrokeJob appends a job to an open stroke.
func (img *Image) AddStrokeJob(id StrokeID, job StrokeJob) error {
	return img.sched.AddJob(id, job)
}

// EndStroke queues the stroke's finish jobs and returns the command that
// undoes and redoes the whole stroke.
func (img *Image) EndStroke(id StrokeID) (*StrokeCommand, error) {
	return img.sched.EndStroke(id)
}

// CancelStroke drops the stroke's queued jobs and reverts the ones that
// already ran.
func (img *Image) CancelStroke(id StrokeID) error {
	return img.sched.CancelStroke(id)
}

// PaintCommand returns a command that paints on a paint layer inside one
// transaction. The first Redo runs paint; Undo and later Redo calls roll
// the transaction back and forward. Each call requests an update of the
// touched tiles.
func (img *Image) PaintCommand(layer NodeID, paint func(dev *Device) error) Command {
	return &paintCommand{img: img, layer: layer, paint: paint}
}

// PaintJob wraps PaintCommand in a stroke job writing r.
func (img *Image) PaintJob(layer NodeID, r image.Rectangle, seq Sequentiality, paint func(dev *Device) error) StrokeJob {
	return StrokeJob{
		Name:          "paint " + img.Name(layer),
		Command:       img.PaintCommand(layer, paint),
		Sequentiality: seq,
		Rect:          r,
	}
}

type paintCommand struct {
	img   *Image
	layer NodeID
	paint func(dev *Device) error

	mu sync.Mutex
	tx *Transaction
}

func (c *paintCommand) Redo(ctx context.Context) error {
	dev := c.img.Device(c.layer)
	if dev == nil {
		return ErrNoNode
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx != nil {
		if err := c.tx.Redo(ctx); err != nil {
			return err
		}
		return c.img.RequestUpdate(c.layer, c.tx.Rect())
	}

	dev.txMu.Lock()
	tx := dev.Begin()
	err := c.paint(dev)
	tx.End()
	dev.txMu.Unlock()
	if err != nil {
		// Revert the partial paint.
		if uerr := tx.Undo(ctx); uerr != nil {
			return errors.Join(err, uerr)
		}
		return err
	}
	c.tx = tx
	return c.img.RequestUpdate(c.layer, tx.Rect())
}

func (c *paintCommand) Undo(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx == nil {
		return nil
	}
	if err := c.tx.Undo(ctx); err != nil {
		return err
	}
	return c.img.RequestUpdate(c.layer, c.tx.Rect())
}
