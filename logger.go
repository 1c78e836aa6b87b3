package tiled

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/tiled/internal/sched"
	"github.com/gogpu/tiled/internal/swap"
	"github.com/gogpu/tiled/internal/tiles"
	"github.com/gogpu/tiled/internal/walker"
)

// nopHandler discards every record. Enabled reports false so callers skip
// formatting attributes.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr holds the active logger.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	l := newNopLogger()
	loggerPtr.Store(l)
}

// SetLogger sets the logger of the image engine. The same logger is
// handed to the tile store, the swap manager, the update scheduler and the
// update walker. No output is produced until SetLogger is called; nil
// restores the silent default. SetLogger may be called at any time from
// any goroutine.
//
// Levels:
//   - [slog.LevelDebug]: memento rollbacks, tile swap-outs, strokes,
//     merged and dropped jobs, nodes the walker skipped
//   - [slog.LevelInfo]: image created, swap enabled
//   - [slog.LevelWarn]: failed jobs, swap backend write or delete errors
//
// Example:
//
//	tiled.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	tiles.SetLogger(l)
	swap.SetLogger(l)
	sched.SetLogger(l)
	walker.SetLogger(l)
}

// Logger returns the logger set by SetLogger, or a silent one.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
