package session

import (
	"context"
	"sync"
	"time"

	"github.com/standardbeagle/staleguard/internal/backend"
	"github.com/standardbeagle/staleguard/internal/debug"
	"github.com/standardbeagle/staleguard/internal/governor"
)

// dispatcher runs each request on its own goroutine with a cancellable context
type dispatcher struct {
	base     context.Context
	searcher backend.Searcher
	timeout  time.Duration
	session  string

	mu       sync.Mutex
	inFlight map[uint64]context.CancelFunc
	wg       *sync.WaitGroup
}

func (d *dispatcher) Dispatch(req governor.Request, deliver func(governor.Response)) {
	ctx, cancel := d.requestContext()

	d.mu.Lock()
	d.inFlight[req.Seq] = cancel
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.forget(req.Seq)

		page, err := d.searcher.Search(ctx, req.Criteria)
		if err != nil && ctx.Err() == context.Canceled {
			err = context.Canceled
		}
		debug.LogSession("session %s seq=%d attempt=%d total=%d err=%v", d.session, req.Seq, req.Attempt, page.TotalCount, err)
		deliver(governor.Response{Request: req, Page: page, Err: err})
	}()
}

func (d *dispatcher) CancelInFlight() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for seq, cancel := range d.inFlight {
		cancel()
		delete(d.inFlight, seq)
	}
}

func (d *dispatcher) requestContext() (context.Context, context.CancelFunc) {
	if d.timeout > 0 {
		return context.WithTimeout(d.base, d.timeout)
	}
	return context.WithCancel(d.base)
}

func (d *dispatcher) forget(seq uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cancel, ok := d.inFlight[seq]; ok {
		cancel()
		delete(d.inFlight, seq)
	}
}
