package job

import (
	"sync"
	"time"
	"weak"
)

// AliveFunc reports whether a job's category resource is still reachable.
// A Queue built over a dead category drops its pending jobs without
// running them.
type AliveFunc func() bool

// WeakAlive adapts a weak.Pointer into an AliveFunc, the realization of
// the "weak category reference" called for by the job model: a handle
// that becomes invalid when the owning connection is gone without
// retaining the connection alive.
func WeakAlive[T any](resource *T) AliveFunc {
	wp := weak.Make(resource)
	return func() bool { return wp.Value() != nil }
}

// Thunk is one unit of deferred work. ctx exposes Yield so the thunk can
// suspend pending an external promise. A non-nil, non-ErrTryAgainLater
// return value is treated as fatal for the category: the queue's onFatal
// callback runs and the thunk is not retried.
type Thunk func(ctx *Context) error

// Queue is the per-category FIFO described by the job model: at most one
// thunk's body executes at any instant for a given Queue, enforced by an
// internal single-slot token that Yield releases during suspension so
// unrelated work — including, per the model, a later thunk from this same
// queue — can make progress.
type Queue struct {
	mu      sync.Mutex
	pending []Thunk
	active  bool

	alive   AliveFunc
	pool    *Pool
	onFatal func(error)
	token   chan struct{}
	onRun   func(outcome string, d time.Duration)
}

// SetRunObserver installs fn to be called once per completed thunk
// execution (including each in-place ErrTryAgainLater retry) with an
// outcome tag ("ok", "retry", or "fatal") and that run's duration. Not
// set by default, so Queue carries no metrics dependency of its own.
func (q *Queue) SetRunObserver(fn func(outcome string, d time.Duration)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onRun = fn
}

// NewQueue returns an empty Queue bound to a category liveness check, a
// shared execution Pool, and a fatal-error handler invoked (from the
// failing thunk's goroutine, while it still holds the category token and
// its pool slot) when a thunk raises anything other than
// ErrTryAgainLater.
func NewQueue(pool *Pool, alive AliveFunc, onFatal func(error)) *Queue {
	q := &Queue{
		alive:   alive,
		pool:    pool,
		onFatal: onFatal,
		token:   make(chan struct{}, 1),
	}
	q.token <- struct{}{}
	return q
}

// Enqueue appends fn to the FIFO and starts the dispatch loop if it is
// not already running.
func (q *Queue) Enqueue(fn Thunk) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	start := !q.active
	if start {
		q.active = true
	}
	q.mu.Unlock()

	if start {
		go q.dispatch()
	}
}

// dispatch pops thunks in FIFO order. For each one it acquires a pool
// slot and the category token, then hands the thunk to its own goroutine
// so a Yield inside that thunk can release both without stalling this
// loop — letting the next pending thunk in this same category start.
func (q *Queue) dispatch() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.active = false
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if !q.alive() {
			continue
		}

		q.pool.Acquire()
		<-q.token

		go q.run(fn)
	}
}

// run executes fn to completion, retrying in place on ErrTryAgainLater
// and escalating any other error to onFatal. It always returns the pool
// slot and category token it was handed by dispatch (directly, or via a
// Yield/resume round trip).
func (q *Queue) run(fn Thunk) {
	ctx := &Context{queue: q}
	for {
		start := time.Now()
		err := fn(ctx)
		if err == nil {
			q.observe("ok", time.Since(start))
			break
		}
		if err == ErrTryAgainLater {
			q.observe("retry", time.Since(start))
			continue
		}
		q.observe("fatal", time.Since(start))
		q.onFatal(err)
		break
	}
	q.token <- struct{}{}
	q.pool.Release()
}

func (q *Queue) observe(outcome string, d time.Duration) {
	q.mu.Lock()
	fn := q.onRun
	q.mu.Unlock()
	if fn != nil {
		fn(outcome, d)
	}
}

// Context is passed to a running Thunk and exposes the suspension
// primitive.
type Context struct {
	queue *Queue
}

// Yield suspends the current thunk until promise is satisfied. It
// releases the category token and pool slot before parking so unrelated
// categories, and a later thunk queued in this category, continue to
// progress; it reacquires both before returning. insignificant hints
// that the queue may coalesce the wake with other activity rather than
// resume immediately; this implementation treats it as documentation
// only since parking on a closed channel already costs nothing while
// idle.
func (c *Context) Yield(p *Promise, insignificant bool) error {
	c.queue.token <- struct{}{}
	c.queue.pool.Release()

	p.wait()

	c.queue.pool.Acquire()
	<-c.queue.token

	return p.CheckAndRethrow()
}
