package sched

import (
	"cmp"
	"context"
	"fmt"
	"image"
	"runtime"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gogpu/tiled/internal/graph"
	"github.com/gogpu/tiled/internal/parallel"
	"github.com/gogpu/tiled/internal/walker"
)

// Config configures a Scheduler. Zero fields take the values of
// DefaultConfig.
type Config struct {
	// Workers is the size of the worker pool.
	Workers int

	// PatchWidth and PatchHeight bound the rect of a single update job;
	// larger requests are split on a grid of this size.
	PatchWidth, PatchHeight int

	// MaxMergeAlpha enables merging a new update into a queued one for the
	// same node when area(union) / (areaA + areaB) is at most this value.
	// Zero disables merging.
	MaxMergeAlpha float64

	// ProgressInterval is the period of progress reports.
	ProgressInterval time.Duration

	// Progress receives progress reports. Nil disables reporting.
	Progress ProgressSink

	// Metrics receives counters. Nil creates unregistered metrics.
	Metrics *Metrics

	// TracerProvider creates job spans. Nil uses the global provider.
	TracerProvider trace.TracerProvider
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Workers:          runtime.GOMAXPROCS(0),
		PatchWidth:       512,
		PatchHeight:      512,
		ProgressInterval: 100 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.PatchWidth <= 0 {
		c.PatchWidth = d.PatchWidth
	}
	if c.PatchHeight <= 0 {
		c.PatchHeight = d.PatchHeight
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = d.ProgressInterval
	}
	if c.Metrics == nil {
		c.Metrics = NewMetrics(nil)
	}
	if c.TracerProvider == nil {
		c.TracerProvider = otel.GetTracerProvider()
	}
	return c
}

// Stats is a snapshot of the scheduler state.
type Stats struct {
	Queued    int
	Running   int
	Strokes   int
	Blocked   bool

	// Busy counts pool workers inside a job. Backlog counts jobs handed
	// to the pool that no worker picked up yet.
	Busy    int
	Backlog int

	Submitted uint64
	Completed uint64
	Dropped   uint64
}

// Scheduler queues update, spontaneous and stroke jobs and runs them on a
// worker pool. All methods are safe for concurrent use.
type Scheduler struct {
	g       *graph.Graph
	exec    Executor
	cfg     Config
	pool    *parallel.WorkerPool
	locks   *tileLocks
	metrics *Metrics
	tracer  trace.Tracer

	progress progressUpdater
	stopTick chan struct{}
	tickDone chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	seq        uint64
	queue      []*task
	running    []*task
	strokes    map[StrokeID]*stroke
	finishJobs map[StrokeID][]StrokeJob
	blocked    int
	closed     bool
	idle       chan struct{}
	idleClosed bool
	stats      Stats
}

// New creates a scheduler recomposing nodes of g through exec.
func New(g *graph.Graph, exec Executor, cfg Config) *Scheduler {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		g:       g,
		exec:    exec,
		cfg:     cfg,
		pool:    parallel.NewWorkerPool(cfg.Workers),
		locks:   newTileLocks(),
		metrics: cfg.Metrics,
		tracer:  cfg.TracerProvider.Tracer("github.com/gogpu/tiled/internal/sched"),
		ctx:     ctx,
		cancel:  cancel,
		strokes: make(map[StrokeID]*stroke),
		idle:    make(chan struct{}),
	}
	close(s.idle)
	s.idleClosed = true
	if cfg.Progress != nil {
		s.stopTick = make(chan struct{})
		s.tickDone = make(chan struct{})
		go s.progressLoop()
	}
	slogger().Debug("sched: started", "workers", cfg.Workers, "patch", fmt.Sprintf("%dx%d", cfg.PatchWidth, cfg.PatchHeight))
	return s
}

// Workers returns the size of the worker pool.
func (s *Scheduler) Workers() int { return s.pool.Workers() }

// =============================================================================
// Update jobs
// =============================================================================

// AddUpdate queues the recomposition of r on node. Requests larger than
// the patch size are split; a non-empty crop bounds every computed rect.
func (s *Scheduler) AddUpdate(node graph.NodeID, r, crop image.Rectangle) error {
	return s.addWalkers(walker.Merge, node, r, crop)
}

// AddFullRefresh queues the recomposition of r on node and everything
// inside it.
func (s *Scheduler) AddFullRefresh(node graph.NodeID, r, crop image.Rectangle) error {
	return s.addWalkers(walker.FullRefresh, node, r, crop)
}

func (s *Scheduler) addWalkers(kind walker.Kind, node graph.NodeID, r, crop image.Rectangle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, p := range splitRect(r, s.cfg.PatchWidth, s.cfg.PatchHeight) {
		if kind == walker.Merge && s.tryMergeLocked(node, p, crop) {
			continue
		}
		w := walker.New(kind, crop, 0)
		w.CollectRects(s.g, node, p)
		t := &task{kind: kindMerge, label: kind.String(), name: kind.String(), w: w, exclusive: true}
		if kind == walker.FullRefresh {
			t.kind = kindFullRefresh
		}
		s.enqueueLocked(t)
	}
	s.changedLocked()
	return nil
}

func area(r image.Rectangle) int { return r.Dx() * r.Dy() }

// tryMergeLocked folds r into a queued merge job for the same node.
func (s *Scheduler) tryMergeLocked(node graph.NodeID, r, crop image.Rectangle) bool {
	if s.cfg.MaxMergeAlpha <= 0 {
		return false
	}
	for i := len(s.queue) - 1; i >= 0; i-- {
		t := s.queue[i]
		if t.kind != kindMerge || t.w.StartNode() != node || t.w.CropRect() != crop {
			continue
		}
		base := t.w.RequestedRect()
		union := base.Union(r)
		alpha := float64(area(union)) / float64(area(base)+area(r))
		if alpha > s.cfg.MaxMergeAlpha {
			continue
		}
		t.w.CollectRects(s.g, node, union)
		t.refreshRects()
		s.metrics.Dropped.WithLabelValues(kindMerge.String(), "merged").Inc()
		slogger().Debug("sched: update merged", "base", base, "rect", r, "alpha", alpha)
		return true
	}
	return false
}

// splitRect cuts r on a grid of w x h patches anchored at the origin.
func splitRect(r image.Rectangle, w, h int) []image.Rectangle {
	if r.Empty() {
		return nil
	}
	c0, c1 := floorDiv(r.Min.X, w), floorDiv(r.Max.X-1, w)
	r0, r1 := floorDiv(r.Min.Y, h), floorDiv(r.Max.Y-1, h)
	out := make([]image.Rectangle, 0, (c1-c0+1)*(r1-r0+1))
	for row := r0; row <= r1; row++ {
		for col := c0; col <= c1; col++ {
			out = append(out, image.Rect(col*w, row*h, (col+1)*w, (row+1)*h).Intersect(r))
		}
	}
	return out
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// =============================================================================
// Spontaneous jobs
// =============================================================================

// AddSpontaneousJob queues job, removing the queued jobs it overrides.
func (s *Scheduler) AddSpontaneousJob(job SpontaneousJob) error {
	if job.Run == nil {
		panic("sched: spontaneous job without Run")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	j := &job
	for i := len(s.queue) - 1; i >= 0; i-- {
		if t := s.queue[i]; t.kind == kindSpontaneous && !t.internal && j.Overrides(t.spont) {
			s.removeAtLocked(i)
			s.dropLocked(t, "overridden")
		}
	}
	s.enqueueLocked(&task{kind: kindSpontaneous, label: j.Name, name: j.Name, spont: j, alone: j.Exclusive})
	s.changedLocked()
	return nil
}

// runAlone queues fn as an exclusive job and waits for its result.
func (s *Scheduler) runAlone(ctx context.Context, name string, fn func(context.Context) error) error {
	t := &task{
		kind:     kindSpontaneous,
		label:    name,
		name:     name,
		spont:    &SpontaneousJob{Name: name, Exclusive: true, Run: fn},
		alone:    true,
		internal: true,
		result:   make(chan error, 1),
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.enqueueLocked(t)
	s.changedLocked()
	s.mu.Unlock()

	select {
	case err := <-t.result:
		return err
	case <-ctx.Done():
		s.mu.Lock()
		if i := slices.Index(s.queue, t); i >= 0 {
			s.removeAtLocked(i)
			s.dropLocked(t, "cancelled")
			s.changedLocked()
		}
		s.mu.Unlock()
		return ctx.Err()
	}
}

// =============================================================================
// Processing control
// =============================================================================

// BlockProcessing stops starting jobs until a matching StartProcessing.
// Running jobs complete. Calls nest.
func (s *Scheduler) BlockProcessing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked++
}

// StartProcessing undoes one BlockProcessing and starts queued jobs.
func (s *Scheduler) StartProcessing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blocked > 0 {
		s.blocked--
	}
	s.changedLocked()
}

// WaitForDone blocks until no job is queued or running, or ctx ends.
func (s *Scheduler) WaitForDone(ctx context.Context) error {
	s.mu.Lock()
	ch := s.idle
	s.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drops every queued job, waits for the running ones and stops
// the workers. Later submissions return ErrClosed.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	queued := s.queue
	s.queue = nil
	for _, t := range queued {
		s.dropLocked(t, "closed")
	}
	for _, st := range s.strokes {
		s.maybeCompleteStrokeLocked(st)
	}
	s.changedLocked()
	s.mu.Unlock()

	s.pool.Close()
	if s.stopTick != nil {
		close(s.stopTick)
		<-s.tickDone
	}
	s.cancel()
	slogger().Debug("sched: closed", "dropped", len(queued))
	return nil
}

// Stats returns a snapshot of the scheduler state.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Queued = len(s.queue)
	st.Running = len(s.running)
	st.Strokes = len(s.strokes)
	st.Blocked = s.blocked > 0
	st.Busy = s.pool.Busy()
	st.Backlog = s.pool.QueuedWork()
	return st
}

// RunningRects returns the change rects of the running jobs in
// submission order.
func (s *Scheduler) RunningRects() []image.Rectangle {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := slices.Clone(s.running)
	slices.SortFunc(run, func(a, b *task) int { return cmp.Compare(a.seq, b.seq) })
	return changeRects(run)
}

// QueuedRects returns the change rects of the queued jobs in queue order.
func (s *Scheduler) QueuedRects() []image.Rectangle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return changeRects(s.queue)
}

func changeRects(ts []*task) []image.Rectangle {
	out := make([]image.Rectangle, len(ts))
	for i, t := range ts {
		out[i] = t.change
	}
	return out
}

// =============================================================================
// Dispatch
// =============================================================================

func (s *Scheduler) enqueueLocked(t *task) {
	s.seq++
	t.seq = s.seq
	t.refreshRects()
	s.queue = append(s.queue, t)
	if t.stroke != nil {
		t.stroke.pending = append(t.stroke.pending, t)
	}
	s.stats.Submitted++
	s.metrics.Submitted.WithLabelValues(t.kind.String()).Inc()
}

func (s *Scheduler) removeAtLocked(i int) {
	s.queue = slices.Delete(s.queue, i, i+1)
}

func (s *Scheduler) dropLocked(t *task, reason string) {
	s.stats.Dropped++
	s.metrics.Dropped.WithLabelValues(t.kind.String(), reason).Inc()
	if st := t.stroke; st != nil {
		if i := slices.Index(st.pending, t); i >= 0 {
			st.pending = slices.Delete(st.pending, i, i+1)
		}
		s.maybeCompleteStrokeLocked(st)
	}
	if t.result != nil {
		t.result <- fmt.Errorf("sched: %s job dropped: %s", t.name, reason)
	}
	slogger().Debug("sched: job dropped", "kind", t.kind, "name", t.name, "reason", reason)
}

// changedLocked starts what can start and refreshes the derived state.
func (s *Scheduler) changedLocked() {
	s.dispatchLocked()

	s.metrics.Queued.Set(float64(len(s.queue)))
	s.metrics.Running.Set(float64(len(s.running)))
	size := len(s.queue) + len(s.running)
	s.progress.update(size, s.labelLocked())

	switch {
	case size > 0 && s.idleClosed:
		s.idle = make(chan struct{})
		s.idleClosed = false
	case size == 0 && !s.idleClosed:
		close(s.idle)
		s.idleClosed = true
	}
}

// labelLocked returns the label of the oldest pending job.
func (s *Scheduler) labelLocked() string {
	var oldest *task
	for _, t := range s.running {
		if oldest == nil || t.seq < oldest.seq {
			oldest = t
		}
	}
	if len(s.queue) > 0 && (oldest == nil || s.queue[0].seq < oldest.seq) {
		oldest = s.queue[0]
	}
	if oldest == nil {
		return ""
	}
	return oldest.label
}

func (s *Scheduler) dispatchLocked() {
	if s.blocked > 0 || s.closed {
		return
	}
	for len(s.running) < s.cfg.Workers {
		t := s.nextLocked()
		if t == nil {
			return
		}
		s.startLocked(t)
	}
}

// nextLocked removes and returns the first queued job that may start.
func (s *Scheduler) nextLocked() *task {
	for i := 0; i < len(s.queue); {
		t := s.queue[i]
		if reason := s.validateLocked(t); reason != "" {
			s.removeAtLocked(i)
			s.dropLocked(t, reason)
			continue
		}
		if s.canStartLocked(t, i) {
			s.removeAtLocked(i)
			return t
		}
		if t.isBarrier() {
			// Nothing queued after a barrier may overtake it.
			return nil
		}
		i++
	}
	return nil
}

// validateLocked returns the reason to drop t, or "".
func (s *Scheduler) validateLocked(t *task) string {
	switch t.kind {
	case kindMerge, kindFullRefresh:
		if !s.g.Exists(t.w.StartNode()) {
			return "missing-node"
		}
		if !t.w.ChecksumValid(s.g) {
			t.w.Recalculate(s.g)
			t.refreshRects()
		}
	case kindSpontaneous:
		if t.spont.Target != graph.None && !s.g.Exists(t.spont.Target) {
			return "missing-node"
		}
	}
	return ""
}

func (s *Scheduler) canStartLocked(t *task, idx int) bool {
	for _, r := range s.running {
		if r.alone {
			return false
		}
	}
	if t.alone {
		if len(s.running) > 0 {
			return false
		}
		if t.isBarrier() && idx > 0 {
			return false
		}
	}
	if st := t.stroke; st != nil && !st.canStart(t) {
		return false
	}
	for _, r := range s.running {
		if t.conflicts(r) {
			return false
		}
	}
	return true
}

func (s *Scheduler) startLocked(t *task) {
	s.running = append(s.running, t)
	if st := t.stroke; st != nil {
		st.started(t)
	}
	if !s.pool.Submit(func() { s.run(t) }) {
		panic("sched: worker pool closed while the scheduler is open")
	}
}

func (s *Scheduler) run(t *task) {
	ctx, span := s.tracer.Start(s.ctx, "sched."+t.kind.String(), trace.WithAttributes(
		attribute.String("job.name", t.name),
		attribute.String("job.label", t.label),
		attribute.String("job.change", t.change.String()),
		attribute.Int64("job.seq", int64(t.seq)), //nolint:gosec // sequence numbers stay small
	))
	start := time.Now()
	err := s.execute(ctx, t)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slogger().Warn("sched: job failed", "kind", t.kind, "name", t.name, "err", err)
	}
	span.End()
	s.metrics.Duration.WithLabelValues(t.kind.String()).Observe(time.Since(start).Seconds())
	s.finish(t, err)
}

func (s *Scheduler) execute(ctx context.Context, t *task) error {
	switch t.kind {
	case kindMerge, kindFullRefresh:
		ls := s.locks.acquire(t.change, t.access)
		defer ls.release()
		return s.exec.Execute(ctx, t.w)
	case kindSpontaneous:
		return t.spont.Run(ctx)
	case kindStroke:
		if t.replay != nil {
			return t.replay(ctx)
		}
		ls := s.locks.acquire(t.job.Rect, image.Rectangle{})
		defer ls.release()
		if t.job.Command == nil {
			return nil
		}
		return t.job.Command.Redo(ctx)
	default:
		panic(fmt.Sprintf("sched: unhandled %v", t.kind))
	}
}

func (s *Scheduler) finish(t *task, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := slices.Index(s.running, t); i >= 0 {
		s.running = slices.Delete(s.running, i, i+1)
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.stats.Completed++
	s.metrics.Completed.WithLabelValues(t.kind.String(), status).Inc()
	if st := t.stroke; st != nil {
		st.finished(t, err)
		s.maybeCompleteStrokeLocked(st)
	}
	if t.result != nil {
		t.result <- err
	}
	s.changedLocked()
}

func (s *Scheduler) progressLoop() {
	defer close(s.tickDone)
	ticker := time.NewTicker(s.cfg.ProgressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopTick:
			if r, ok := s.progress.tick(); ok {
				s.cfg.Progress.OnProgress(r.processed, r.total, r.label)
			}
			return
		case <-ticker.C:
			if r, ok := s.progress.tick(); ok {
				s.cfg.Progress.OnProgress(r.processed, r.total, r.label)
			}
		}
	}
}
