// Package loop provides the single-threaded executor a search session runs on.
// Timer fires and network completions are posted here so the governor is never
// mutated from two goroutines.
package loop

import (
	"context"
	"sync"
)

// Executor runs posted functions one at a time, in post order
type Executor interface {
	Post(f func())
}

// Loop is an Executor backed by one goroutine and an unbounded queue, so
// posting never blocks a timer or network callback.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	closed  bool
	started bool
}

// New creates a loop; call Run (usually in its own goroutine) to process it
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post enqueues f. Posts after Close are dropped.
func (l *Loop) Post(f func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, f)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do runs f on the loop and waits for it. Returns false if the loop stopped
// before f could run.
func (l *Loop) Do(f func()) bool {
	ran := make(chan struct{})
	l.Post(func() {
		f()
		close(ran)
	})
	select {
	case <-ran:
		return true
	case <-l.done:
		// f may have been the last thing processed
		select {
		case <-ran:
			return true
		default:
			return false
		}
	}
}

// Run processes posted functions until ctx is done or Close is called.
// Functions still queued at that point are dropped.
func (l *Loop) Run(ctx context.Context) {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.mu.Unlock()

	defer l.stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case <-l.wake:
		}

		for {
			l.mu.Lock()
			if l.closed || len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			f := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()

			f()
		}
	}
}

// Close stops the loop. Safe to call more than once.
func (l *Loop) Close() {
	l.stop()
}

// Done is closed once the loop has stopped
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.queue = nil
	close(l.done)
}

// Inline runs posted functions on the posting goroutine. A post made while
// another posted function is running is deferred until that one returns, which
// keeps synchronous callbacks from re-entering the caller. Not safe for
// concurrent use.
type Inline struct {
	running bool
	queue   []func()
}

// Post implements Executor
func (e *Inline) Post(f func()) {
	e.queue = append(e.queue, f)
	if e.running {
		return
	}
	e.running = true
	defer func() { e.running = false }()
	for len(e.queue) > 0 {
		next := e.queue[0]
		e.queue = e.queue[1:]
		next()
	}
}
