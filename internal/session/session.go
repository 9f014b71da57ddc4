// Package session hosts one governor on its own event loop. It is the API a
// view (CLI, MCP tool, test) talks to; every call is safe for concurrent use.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/standardbeagle/staleguard/internal/backend"
	"github.com/standardbeagle/staleguard/internal/classifier"
	"github.com/standardbeagle/staleguard/internal/clock"
	"github.com/standardbeagle/staleguard/internal/criteria"
	"github.com/standardbeagle/staleguard/internal/debug"
	"github.com/standardbeagle/staleguard/internal/governor"
	"github.com/standardbeagle/staleguard/internal/loop"
	"github.com/standardbeagle/staleguard/internal/scheduler"
)

// ErrClosed is returned once the session has been closed
var ErrClosed = errors.New("session closed")

// Options configures a Session. Zero values get defaults.
type Options struct {
	Policy     scheduler.Policy
	Classifier classifier.Classifier
	Clock      clock.Clock
	Observer   governor.Observer
	// RequestTimeout bounds each backend call; zero means no timeout
	RequestTimeout time.Duration
}

// Session owns an event loop goroutine and the governor living on it
type Session struct {
	id   string
	loop *loop.Loop
	gov  *governor.Governor
	disp *dispatcher

	cancel context.CancelFunc
	wg     sync.WaitGroup

	subMu   sync.Mutex
	subs    map[int]chan governor.ViewState
	nextSub int
	closed  bool
}

// New starts a session against searcher
func New(searcher backend.Searcher, opts Options) (*Session, error) {
	if searcher == nil {
		return nil, errors.New("session: searcher is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:     uuid.NewString(),
		loop:   loop.New(),
		cancel: cancel,
		subs:   make(map[int]chan governor.ViewState),
	}
	s.disp = &dispatcher{
		base:     ctx,
		searcher: searcher,
		timeout:  opts.RequestTimeout,
		inFlight: make(map[uint64]context.CancelFunc),
		wg:       &s.wg,
		session:  s.id,
	}

	gov, err := governor.New(governor.Config{
		Policy:     opts.Policy,
		Classifier: opts.Classifier,
		Clock:      opts.Clock,
		Executor:   s.loop,
		Dispatcher: s.disp,
		Observer:   opts.Observer,
		OnChange:   s.publish,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	s.gov = gov

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop.Run(ctx)
	}()

	debug.LogSession("session %s started", s.id)
	return s, nil
}

// ID identifies the session in logs and tool output
func (s *Session) ID() string {
	return s.id
}

// Submit runs a search for c
func (s *Session) Submit(c criteria.Criteria) error {
	if !s.loop.Do(func() { s.gov.Submit(c) }) {
		return ErrClosed
	}
	return nil
}

// Hide dismisses stale results; false when not applicable in the current state
func (s *Session) Hide() bool { return s.command(s.gov.Hide) }

// Reveal shows suppressed stale results
func (s *Session) Reveal() bool { return s.command(s.gov.Reveal) }

// RetryNow re-issues the current attempt without waiting
func (s *Session) RetryNow() bool { return s.command(s.gov.RetryNow) }

// RetryError re-issues the request behind the current alert
func (s *Session) RetryError() bool { return s.command(s.gov.RetryError) }

// DismissError hides the current alert
func (s *Session) DismissError() bool { return s.command(s.gov.DismissError) }

// Leave cancels timers and in-flight requests, as when the view is navigated away from
func (s *Session) Leave() {
	s.loop.Do(s.gov.Leave)
}

func (s *Session) command(f func() bool) bool {
	var ok bool
	if !s.loop.Do(func() { ok = f() }) {
		return false
	}
	return ok
}

// View returns the current view state
func (s *Session) View() governor.ViewState {
	var v governor.ViewState
	s.loop.Do(func() { v = s.gov.View() })
	return v
}

// Attempts returns the attempt log of the current fingerprint
func (s *Session) Attempts() []scheduler.AttemptRecord {
	var out []scheduler.AttemptRecord
	s.loop.Do(func() { out = s.gov.Attempts() })
	return out
}

// Subscribe returns a channel receiving every view state change. Slow
// readers lose intermediate states, never the latest one. Call the returned
// func to unsubscribe.
func (s *Session) Subscribe() (<-chan governor.ViewState, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	ch := make(chan governor.ViewState, 16)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// WaitFor blocks until the view satisfies pred or ctx is done
func (s *Session) WaitFor(ctx context.Context, pred func(governor.ViewState) bool) (governor.ViewState, error) {
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	if v := s.View(); pred(v) {
		return v, nil
	}
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return governor.ViewState{}, ErrClosed
			}
			if pred(v) {
				return v, nil
			}
		case <-ctx.Done():
			return s.View(), ctx.Err()
		}
	}
}

func (s *Session) publish(v governor.ViewState) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- v:
		default:
			// Drop the oldest so the latest state always gets through
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

// Close stops the loop, cancels in-flight requests and waits for every
// goroutine the session started.
func (s *Session) Close() error {
	s.subMu.Lock()
	if s.closed {
		s.subMu.Unlock()
		return nil
	}
	s.closed = true
	s.subMu.Unlock()

	s.loop.Do(s.gov.Leave)
	s.cancel()
	s.loop.Close()
	s.wg.Wait()

	s.subMu.Lock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.subMu.Unlock()

	debug.LogSession("session %s closed", s.id)
	return nil
}
