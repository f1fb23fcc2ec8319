// Package ratelimit serializes remote calls and spaces their starts.
//
// Tasks run one at a time in FIFO order. When a task fails with an error that
// reports it was rate limited, the worker waits for the advertised delay and
// puts the same task back at the head of the queue, so ordering is preserved.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kimhsiao/stashsync/internal/logging"
)

// DefaultInterval is the minimum spacing between two task starts.
const DefaultInterval = 350 * time.Millisecond

// RateLimitedError is implemented by errors that ask for a retry after a delay.
type RateLimitedError interface {
	error
	RateLimited() (time.Duration, bool)
}

// Func is a unit of remote work.
type Func func(ctx context.Context) error

type task struct {
	ctx     context.Context
	fn      Func
	done    chan error
	started bool
}

// Limiter runs tasks sequentially with a minimum spacing between starts.
// The zero value is not usable; call New.
type Limiter struct {
	interval time.Duration

	mu      sync.Mutex
	queue   []*task
	running bool
	last    time.Time
}

// New creates a Limiter. A non-positive interval selects DefaultInterval.
func New(interval time.Duration) *Limiter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Limiter{interval: interval}
}

// Interval returns the spacing between task starts.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// Pending returns the number of tasks waiting to start.
func (l *Limiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Execute enqueues fn and blocks until it has run. If ctx is cancelled
// before fn starts, fn is dropped and ctx.Err() is returned.
func (l *Limiter) Execute(ctx context.Context, fn Func) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t := &task{ctx: ctx, fn: fn, done: make(chan error, 1)}

	l.mu.Lock()
	l.queue = append(l.queue, t)
	if !l.running {
		l.running = true
		go l.run()
	}
	l.mu.Unlock()

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
	}

	l.mu.Lock()
	if !t.started {
		l.remove(t)
		l.mu.Unlock()
		return ctx.Err()
	}
	l.mu.Unlock()
	// Already running; the task observes ctx itself.
	return <-t.done
}

// Do runs fn through l and returns its value.
func Do[T any](ctx context.Context, l *Limiter, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := l.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// remove drops t from the queue. Caller holds l.mu.
func (l *Limiter) remove(t *task) {
	for i, q := range l.queue {
		if q == t {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return
		}
	}
}

// run is the single worker. It exits when the queue is empty.
func (l *Limiter) run() {
	for {
		l.mu.Lock()
		var wait time.Duration
		if !l.last.IsZero() {
			wait = l.interval - time.Since(l.last)
		}
		l.mu.Unlock()
		if wait > 0 {
			time.Sleep(wait)
		}

		l.mu.Lock()
		if len(l.queue) == 0 {
			l.running = false
			l.mu.Unlock()
			return
		}
		t := l.queue[0]
		l.queue = l.queue[1:]
		if err := t.ctx.Err(); err != nil {
			l.mu.Unlock()
			t.done <- err
			continue
		}
		t.started = true
		l.last = time.Now()
		l.mu.Unlock()

		err := t.fn(t.ctx)

		var rl RateLimitedError
		if errors.As(err, &rl) {
			if delay, ok := rl.RateLimited(); ok {
				logging.Warn("Remote rate limit hit, retrying", map[string]interface{}{
					"retry_after_ms": delay.Milliseconds(),
				})
				l.requeue(t, delay)
				continue
			}
		}
		t.done <- err
	}
}

// requeue waits delay and puts t back at the head of the queue. If the
// caller gave up while waiting, the task is released with its context error.
func (l *Limiter) requeue(t *task, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-t.ctx.Done():
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := t.ctx.Err(); err != nil {
		// Execute is blocked on done since the task had started.
		t.done <- err
		return
	}
	t.started = false
	l.queue = append([]*task{t}, l.queue...)
}
