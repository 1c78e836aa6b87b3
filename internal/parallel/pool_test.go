package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// WorkerPool Creation Tests
// =============================================================================

func TestWorkerPool_Create(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	if pool.Workers() != 4 {
		t.Errorf("Workers() = %d, want 4", pool.Workers())
	}
}

func TestWorkerPool_CreateDefaultWorkers(t *testing.T) {
	for _, n := range []int{0, -5} {
		pool := NewWorkerPool(n)
		if pool.Workers() != runtime.GOMAXPROCS(0) {
			t.Errorf("NewWorkerPool(%d).Workers() = %d, want GOMAXPROCS", n, pool.Workers())
		}
		pool.Close()
	}
}

// =============================================================================
// Batch Tests
// =============================================================================

func TestWorkerPool_ExecuteAll(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	var counter atomic.Int64
	work := make([]func(), 100)
	for i := range work {
		work[i] = func() { counter.Add(1) }
	}
	pool.ExecuteAll(work)

	if counter.Load() != 100 {
		t.Errorf("counter = %d, want 100", counter.Load())
	}
}

func TestWorkerPool_ExecuteAllStealsFromBusyWorker(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Close()

	// Item 0 pins one worker until everything else ran, so the other worker
	// has to steal the pinned worker's share of the batch. Item 1 holds
	// the second worker until the whole batch is queued.
	release, abort := make(chan struct{}), make(chan struct{})
	var counter atomic.Int64
	work := make([]func(), 9)
	rest := int64(len(work) - 1)
	finish := func() {
		if counter.Add(1) == rest {
			close(release)
		}
	}
	work[0] = func() {
		select {
		case <-release:
		case <-abort:
		}
	}
	work[1] = func() {
		deadline := time.Now().Add(5 * time.Second)
		for int64(pool.QueuedWork())+counter.Load() < rest-1 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		finish()
	}
	for i := 2; i < len(work); i++ {
		work[i] = finish
	}

	done := make(chan struct{})
	go func() {
		pool.ExecuteAll(work)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		close(abort)
		t.Fatalf("ExecuteAll() stalled with %d of %d items run", counter.Load(), rest)
	}
	if pool.QueuedWork() != 0 {
		t.Errorf("QueuedWork() = %d after ExecuteAll", pool.QueuedWork())
	}
}

// =============================================================================
// Submit Tests
// =============================================================================

func TestWorkerPool_SubmitStartsOnIdleWorker(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Close()

	release := make(chan struct{})
	started := make(chan int, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	for i := range 2 {
		pool.Submit(func() {
			defer wg.Done()
			started <- i
			<-release
		})
	}

	// Both items must be running at once on a two-worker pool.
	for range 2 {
		select {
		case <-started:
		case <-time.After(5 * time.Second):
			t.Fatal("second submitted item did not start while the first was blocked")
		}
	}
	if pool.Busy() != 2 {
		t.Errorf("Busy() = %d, want 2", pool.Busy())
	}
	close(release)
	wg.Wait()
}

func TestWorkerPool_SubmitAfterClose(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Close()
	pool.Close()

	if pool.Submit(func() { t.Error("ran after Close") }) {
		t.Error("Submit() = true after Close")
	}
	if pool.Submit(nil) {
		t.Error("Submit(nil) = true")
	}
	pool.ExecuteAll([]func(){func() { t.Error("ran after Close") }})
}

func TestWorkerPool_CloseRunsQueuedWork(t *testing.T) {
	pool := NewWorkerPool(1)

	var counter atomic.Int64
	for range 5 {
		pool.Submit(func() {
			time.Sleep(time.Millisecond)
			counter.Add(1)
		})
	}
	pool.Close()

	if counter.Load() != 5 {
		t.Errorf("counter = %d, want 5", counter.Load())
	}
	if pool.QueuedWork() != 0 {
		t.Errorf("QueuedWork() = %d after Close", pool.QueuedWork())
	}
}
