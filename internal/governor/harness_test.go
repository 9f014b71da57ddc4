package governor

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/staleguard/internal/backend"
	"github.com/standardbeagle/staleguard/internal/clock"
	"github.com/standardbeagle/staleguard/internal/criteria"
	"github.com/standardbeagle/staleguard/internal/loop"
	"github.com/standardbeagle/staleguard/internal/scheduler"
	"github.com/standardbeagle/staleguard/internal/transient"
)

var epoch = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type dispatched struct {
	req     Request
	deliver func(Response)
}

// fakeDispatcher holds requests until the test resolves them
type fakeDispatcher struct {
	open      []dispatched
	all       []Request
	cancelled []Request
}

func (d *fakeDispatcher) Dispatch(req Request, deliver func(Response)) {
	d.open = append(d.open, dispatched{req: req, deliver: deliver})
	d.all = append(d.all, req)
}

func (d *fakeDispatcher) CancelInFlight() {
	for _, p := range d.open {
		d.cancelled = append(d.cancelled, p.req)
	}
}

func (d *fakeDispatcher) take(seq uint64) (dispatched, bool) {
	for i, p := range d.open {
		if p.req.Seq == seq {
			d.open = append(d.open[:i], d.open[i+1:]...)
			return p, true
		}
	}
	return dispatched{}, false
}

type recordingObserver struct {
	NopObserver
	transitions []string
	discarded   []string
	armed       []time.Duration
	alerts      int
}

func (o *recordingObserver) StateChanged(from, to Kind) {
	o.transitions = append(o.transitions, fmt.Sprintf("%s->%s", from, to))
}

func (o *recordingObserver) ResponseDiscarded(_ Request, reason string) {
	o.discarded = append(o.discarded, reason)
}

func (o *recordingObserver) RetryArmed(_ int, d time.Duration) {
	o.armed = append(o.armed, d)
}

func (o *recordingObserver) AlertRaised(*transient.Alert) {
	o.alerts++
}

type harness struct {
	t        *testing.T
	g        *Governor
	clk      *clock.Fake
	d        *fakeDispatcher
	obs      *recordingObserver
	views    []ViewState
	noChange bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:   t,
		clk: clock.NewFake(epoch),
		d:   &fakeDispatcher{},
		obs: &recordingObserver{},
	}
	g, err := New(Config{
		Policy:     scheduler.DefaultPolicy(),
		Clock:      h.clk,
		Executor:   &loop.Inline{},
		Dispatcher: h.d,
		Observer:   h.obs,
		OnChange:   func(v ViewState) { h.views = append(h.views, v) },
	})
	require.NoError(t, err)
	h.g = g
	return h
}

func query(q string) criteria.Criteria {
	return criteria.Criteria{Query: q}
}

// submit submits q and returns the request it issued
func (h *harness) submit(q string) Request {
	h.t.Helper()
	before := len(h.d.all)
	h.g.Submit(query(q))
	require.Greater(h.t, len(h.d.all), before, "submit issued no request")
	return h.d.all[len(h.d.all)-1]
}

// lastRequest returns the most recently issued request
func (h *harness) lastRequest() Request {
	h.t.Helper()
	require.NotEmpty(h.t, h.d.all)
	return h.d.all[len(h.d.all)-1]
}

func (h *harness) respond(req Request, n int) {
	h.t.Helper()
	items := make([]backend.Item, n)
	for i := range items {
		items[i] = backend.Item{ID: fmt.Sprintf("%s-%d", req.Criteria.Query, i), Name: fmt.Sprintf("doc-%d", i)}
	}
	h.deliver(req, Response{Request: req, Page: backend.Page{Items: items, TotalCount: n}})
}

func (h *harness) fail(req Request, err error) {
	h.t.Helper()
	h.deliver(req, Response{Request: req, Err: err})
}

func (h *harness) deliver(req Request, resp Response) {
	h.t.Helper()
	p, ok := h.d.take(req.Seq)
	require.True(h.t, ok, "request seq=%d is not open", req.Seq)
	p.deliver(resp)
}

// requestsSince counts requests issued after index n
func (h *harness) requestsSince(n int) []Request {
	return h.d.all[n:]
}

// establish commits a non-empty snapshot for q
func (h *harness) establish(q string) {
	h.t.Helper()
	h.respond(h.submit(q), 3)
	require.Equal(h.t, Fresh, h.g.View().Kind)
}
