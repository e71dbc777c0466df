package job

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPromiseSetSuccessIsMonotonic(t *testing.T) {
	p := New()
	p.SetSuccess()
	p.SetException(errors.New("too late"))

	if err := p.CheckAndRethrow(); err != nil {
		t.Fatalf("second SetException must be a no-op, got err=%v", err)
	}
	if !p.IsSatisfied() {
		t.Fatalf("promise should be satisfied")
	}
}

func TestPromiseSetExceptionIsMonotonic(t *testing.T) {
	p := New()
	first := errors.New("first")
	p.SetException(first)
	p.SetException(errors.New("second"))

	if err := p.CheckAndRethrow(); err != first {
		t.Fatalf("got err=%v, want first=%v", err, first)
	}
}

func TestPromiseOfGet(t *testing.T) {
	p := NewOf[int]()
	p.SetSuccess(42)

	v, err := p.Get()
	if err != nil {
		t.Fatalf("unexpected err=%v", err)
	}
	if v != 42 {
		t.Fatalf("got %d, want 42", v)
	}
}

func TestQueueRunsOneAtATimePerCategory(t *testing.T) {
	pool := NewPool(8)
	q := NewQueue(pool, func() bool { return true }, func(err error) {
		t.Fatalf("unexpected fatal: %v", err)
	})

	var running int32
	var maxRunning int32
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		q.Enqueue(func(ctx *Context) error {
			defer wg.Done()
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&maxRunning)
				if n <= old || atomic.CompareAndSwapInt32(&maxRunning, old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		})
	}

	wg.Wait()
	if maxRunning != 1 {
		t.Fatalf("max concurrent jobs in one category = %d, want 1", maxRunning)
	}
}

func TestQueueYieldLetsNextJobStart(t *testing.T) {
	pool := NewPool(8)
	q := NewQueue(pool, func() bool { return true }, func(err error) {
		t.Fatalf("unexpected fatal: %v", err)
	})

	order := make(chan string, 2)
	release := New()

	q.Enqueue(func(ctx *Context) error {
		order <- "first-start"
		if err := ctx.Yield(release, false); err != nil {
			return err
		}
		order <- "first-resume"
		return nil
	})
	q.Enqueue(func(ctx *Context) error {
		order <- "second-start"
		return nil
	})

	if got := <-order; got != "first-start" {
		t.Fatalf("got %q, want first-start", got)
	}
	if got := <-order; got != "second-start" {
		t.Fatalf("got %q, want second-start: yielding should free the category for the next job", got)
	}

	release.SetSuccess()
	if got := <-order; got != "first-resume" {
		t.Fatalf("got %q, want first-resume", got)
	}
}

func TestQueueTryAgainLaterRetriesInPlace(t *testing.T) {
	pool := NewPool(8)
	q := NewQueue(pool, func() bool { return true }, func(err error) {
		t.Fatalf("unexpected fatal: %v", err)
	})

	var attempts int32
	done := make(chan struct{})

	q.Enqueue(func(ctx *Context) error {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return ErrTryAgainLater
		}
		close(done)
		return nil
	})

	<-done
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestQueueDropsWorkWhenCategoryIsDead(t *testing.T) {
	pool := NewPool(8)
	var alive int32 = 1
	q := NewQueue(pool, func() bool { return atomic.LoadInt32(&alive) == 1 }, func(error) {})

	atomic.StoreInt32(&alive, 0)

	ran := make(chan struct{})
	q.Enqueue(func(ctx *Context) error {
		close(ran)
		return nil
	})

	select {
	case <-ran:
		t.Fatalf("job should not have run against a dead category")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestQueueRunObserverReportsOutcomes(t *testing.T) {
	pool := NewPool(8)
	q := NewQueue(pool, func() bool { return true }, func(error) {})

	var mu sync.Mutex
	var outcomes []string
	q.SetRunObserver(func(outcome string, d time.Duration) {
		mu.Lock()
		outcomes = append(outcomes, outcome)
		mu.Unlock()
	})

	var attempts int32
	done := make(chan struct{})
	q.Enqueue(func(ctx *Context) error {
		if atomic.AddInt32(&attempts, 1) < 2 {
			return ErrTryAgainLater
		}
		close(done)
		return nil
	})
	<-done
	time.Sleep(5 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(outcomes) != 2 || outcomes[0] != "retry" || outcomes[1] != "ok" {
		t.Fatalf("outcomes = %v, want [retry ok]", outcomes)
	}
}

func TestWeakAliveTracksLifetime(t *testing.T) {
	resource := new(int)
	alive := WeakAlive(resource)
	if !alive() {
		t.Fatalf("resource should still be alive")
	}
}
