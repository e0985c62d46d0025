// Package executor implements the key-deduplicating dispatcher described in
// spec §4.5: a fixed worker pool for synchronous check bodies, a single
// event-loop goroutine for asynchronous ones, in-flight deduplication by
// key, rolling statistics, and a bounded errored-results buffer.
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	wperrors "github.com/watchpost/watchpost/infrastructure/errors"
)

// Work is a synchronous unit of work submitted to the worker pool.
type Work func(ctx context.Context) (interface{}, error)

// Future is the handle returned by Submit. Await blocks until the work
// completes or ctx is cancelled.
type Future struct {
	// TraceID identifies this submission across its lifetime: it is the
	// same value on the Future returned to a deduplicated caller and on
	// the ErroredRecord recorded if the work fails, so a poll-scoped
	// trace can be followed from submission through to the errored
	// snapshot without depending on the (reusable) dedup key.
	TraceID string

	done  chan struct{}
	value interface{}
	err   error
	once  sync.Once
}

func newFuture() *Future {
	return &Future{done: make(chan struct{}), TraceID: uuid.NewString()}
}

func (f *Future) complete(value interface{}, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

// Await blocks until the future resolves or ctx is done, whichever comes
// first.
func (f *Future) Await(ctx context.Context) (interface{}, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ErroredRecord is one entry of the bounded errored-results ring buffer.
type ErroredRecord struct {
	Key        string
	TraceID    string
	Error      string
	OccurredAt time.Time
}

// Statistics is the rolling running/completed/errored snapshot spec §4.5
// requires (`statistics() -> {running, completed, errored}`).
type Statistics struct {
	Running   int
	Completed int
	Errored   int
}

const erroredBufferSize = 100

// Executor dispatches synchronous work to a fixed worker pool and
// asynchronous work to a single event-loop goroutine, deduplicating
// in-flight submissions by key. One mutex protects the in-flight map and
// counters; it is held only at state transitions, never across user code
// (spec §5's locking discipline).
type Executor struct {
	workQueue  chan job
	asyncQueue chan job
	stopOnce   sync.Once
	stopCh     chan struct{}
	wg         sync.WaitGroup

	mu        sync.Mutex
	inFlight  map[string]*Future
	running   int
	completed int
	errored   int
	erroredBuf []ErroredRecord
	erroredPos int
	stopped    bool

	maxQueueDepth int
}

type job struct {
	key    string
	future *Future
	ctx    context.Context
	work   Work
}

// Config tunes pool sizing and backpressure.
type Config struct {
	// WorkerPoolSize is the number of goroutines servicing synchronous
	// work; spec §5 suggests 2x CPU count as a reasonable default.
	WorkerPoolSize int
	// MaxQueueDepth bounds how many submissions may wait for a free
	// worker before Submit rejects with ExecutorSaturated (backpressure,
	// spec §7).
	MaxQueueDepth int
}

// New starts an Executor: cfg.WorkerPoolSize worker goroutines plus one
// event-loop goroutine, all reading from their respective bounded queues.
func New(cfg Config) *Executor {
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 1
	}
	if cfg.MaxQueueDepth <= 0 {
		cfg.MaxQueueDepth = 256
	}

	e := &Executor{
		workQueue:     make(chan job, cfg.MaxQueueDepth),
		asyncQueue:    make(chan job, cfg.MaxQueueDepth),
		stopCh:        make(chan struct{}),
		inFlight:      make(map[string]*Future),
		erroredBuf:    make([]ErroredRecord, 0, erroredBufferSize),
		maxQueueDepth: cfg.MaxQueueDepth,
	}

	for i := 0; i < cfg.WorkerPoolSize; i++ {
		e.wg.Add(1)
		go e.runWorker(e.workQueue)
	}
	e.wg.Add(1)
	go e.runWorker(e.asyncQueue)

	return e
}

func (e *Executor) runWorker(queue chan job) {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case j, ok := <-queue:
			if !ok {
				return
			}
			e.execute(j)
		}
	}
}

func (e *Executor) execute(j job) {
	value, err := j.work(j.ctx)

	e.mu.Lock()
	e.running--
	e.completed++
	delete(e.inFlight, j.key)
	if err != nil {
		e.errored++
		e.recordErrorLocked(j.key, j.future.TraceID, err)
	}
	e.mu.Unlock()

	j.future.complete(value, err)
}

func (e *Executor) recordErrorLocked(key, traceID string, err error) {
	rec := ErroredRecord{Key: key, TraceID: traceID, Error: err.Error(), OccurredAt: time.Now()}
	if len(e.erroredBuf) < erroredBufferSize {
		e.erroredBuf = append(e.erroredBuf, rec)
	} else {
		e.erroredBuf[e.erroredPos] = rec
		e.erroredPos = (e.erroredPos + 1) % erroredBufferSize
	}
}

// Submit dispatches work under key. If a future for key is already in
// flight, that future is returned instead of starting new work (spec
// §4.5's deduplication invariant). isAsync routes the work to the
// event-loop queue instead of the worker pool. A submission racing with
// or following Shutdown is rejected with ExecutorShutdown rather than
// attempting to send on a closed queue (spec §8: "shutdown with
// drain=true then submit -> reject"). The stopped check and the queue
// send share e.mu so a Shutdown in progress can never close a queue
// while a Submit call is enqueueing onto it.
func (e *Executor) Submit(ctx context.Context, key string, isAsync bool, work Work) (*Future, error) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil, wperrors.ExecutorShutdown(key)
	}
	if existing, ok := e.inFlight[key]; ok {
		e.mu.Unlock()
		return existing, nil
	}

	future := newFuture()
	j := job{key: key, future: future, ctx: ctx, work: work}
	queue := e.workQueue
	if isAsync {
		queue = e.asyncQueue
	}

	select {
	case queue <- j:
		e.inFlight[key] = future
		e.running++
		e.mu.Unlock()
		return future, nil
	default:
		e.mu.Unlock()
		return nil, wperrors.ExecutorSaturated(key)
	}
}

// Statistics returns the current running/completed/errored counts.
func (e *Executor) Statistics() Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Statistics{Running: e.running, Completed: e.completed, Errored: e.errored}
}

// ErroredSnapshot returns up to the last erroredBufferSize errored
// submissions, oldest first.
func (e *Executor) ErroredSnapshot() []ErroredRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.erroredBuf) < erroredBufferSize {
		out := make([]ErroredRecord, len(e.erroredBuf))
		copy(out, e.erroredBuf)
		return out
	}
	out := make([]ErroredRecord, 0, erroredBufferSize)
	out = append(out, e.erroredBuf[e.erroredPos:]...)
	out = append(out, e.erroredBuf[:e.erroredPos]...)
	return out
}

// Shutdown stops accepting new work. When drain is true it waits for all
// in-flight and already-queued work to finish before returning; when false
// it returns once the queues are closed, without waiting (spec §4.5:
// "shutdown(drain=true|false)").
func (e *Executor) Shutdown(drain bool) {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.stopped = true
		e.mu.Unlock()
		close(e.workQueue)
		close(e.asyncQueue)
		if !drain {
			close(e.stopCh)
		}
	})
	if drain {
		e.wg.Wait()
	}
}
