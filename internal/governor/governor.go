// Package governor decides what to show when a search comes back empty: the
// previous result set, nothing, or an honest empty page, and drives the
// silent retry schedule while the index catches up.
//
// A Governor is a single-threaded state machine. Every method, and every
// response delivery, must run on the Executor it was built with.
package governor

import (
	"errors"

	"github.com/standardbeagle/staleguard/internal/backend"
	"github.com/standardbeagle/staleguard/internal/classifier"
	"github.com/standardbeagle/staleguard/internal/clock"
	"github.com/standardbeagle/staleguard/internal/criteria"
	"github.com/standardbeagle/staleguard/internal/debug"
	"github.com/standardbeagle/staleguard/internal/loop"
	"github.com/standardbeagle/staleguard/internal/resultcache"
	"github.com/standardbeagle/staleguard/internal/scheduler"
	"github.com/standardbeagle/staleguard/internal/transient"
)

// Reasons passed to Observer.ResponseDiscarded
const (
	DiscardFingerprint = "fingerprint_changed"
	DiscardSuperseded  = "superseded"
	DiscardCancelled   = "cancelled"
)

// Config wires a Governor to its collaborators
type Config struct {
	Policy     scheduler.Policy
	Classifier classifier.Classifier
	Clock      clock.Clock
	Executor   loop.Executor
	Dispatcher Dispatcher
	Observer   Observer
	// OnChange is called on the executor after every state change
	OnChange func(ViewState)
}

// Governor is the fallback state machine for one search session
type Governor struct {
	policy   scheduler.Policy
	classify classifier.Classifier
	clk      clock.Clock
	exec     loop.Executor
	dispatch Dispatcher
	observer Observer
	onChange func(ViewState)

	slot   *resultcache.Slot
	sched  *scheduler.Scheduler
	alerts transient.Handler

	active   bool
	current  criteria.Criteria
	fp       criteria.Fingerprint
	kind     Kind
	attempt  int
	category Kind
	decided  bool

	results       *backend.Page
	exhaustedSnap *resultcache.Snapshot

	seq       uint64
	latestSeq uint64
	inFlight  map[uint64]Request
	history   []scheduler.AttemptRecord
	historyAt map[uint64]int
}

// New builds a governor. Zero-valued Policy, Classifier, Clock, Executor and
// Observer get defaults; Dispatcher is required.
func New(cfg Config) (*Governor, error) {
	if cfg.Dispatcher == nil {
		return nil, errors.New("governor: dispatcher is required")
	}
	if cfg.Policy.BaseDelay <= 0 || cfg.Policy.MaxAttempts <= 0 {
		cfg.Policy = scheduler.DefaultPolicy()
	}
	if cfg.Classifier == nil {
		cfg.Classifier = classifier.NewHeuristic()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Executor == nil {
		cfg.Executor = &loop.Inline{}
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}

	g := &Governor{
		policy:    cfg.Policy,
		classify:  cfg.Classifier,
		clk:       cfg.Clock,
		exec:      cfg.Executor,
		dispatch:  cfg.Dispatcher,
		observer:  cfg.Observer,
		onChange:  cfg.OnChange,
		slot:      resultcache.NewSlot(),
		inFlight:  make(map[uint64]Request),
		historyAt: make(map[uint64]int),
	}
	g.sched = scheduler.New(cfg.Clock, cfg.Policy, cfg.Executor, g.timerStillValid)
	return g, nil
}

// Submit starts or refreshes a search. A new fingerprint overrides whatever
// the previous one was doing. The same fingerprint re-issues attempt 0 when
// Fresh and otherwise acts as RetryNow.
func (g *Governor) Submit(c criteria.Criteria) {
	c = c.Normalize()
	fp := criteria.Of(c)

	if g.active && fp == g.fp {
		if g.kind == Fresh {
			g.issue(0, true)
			g.emit(g.kind)
			return
		}
		g.RetryNow()
		return
	}

	prev := g.kind
	g.sched.CancelAll()
	if len(g.inFlight) > 0 {
		g.dispatch.CancelInFlight()
	}
	g.alerts.ClearUnless(fp)

	g.active = true
	g.current = c
	g.fp = fp
	g.kind = Fresh
	g.attempt = 0
	g.decided = false
	g.results = nil
	g.exhaustedSnap = nil
	g.history = nil
	g.historyAt = make(map[uint64]int)

	debug.LogGovernor("submit fp=%s query=%q", fp, c.Query)
	g.issue(0, false)
	g.emit(prev)
}

// Hide dismisses stale content. Valid from ShowingStale and from Exhausted
// while a snapshot is visible.
func (g *Governor) Hide() bool {
	if g.kind != ShowingStale && !(g.kind == Exhausted && g.exhaustedSnap != nil) {
		return false
	}
	prev := g.kind
	g.sched.CancelAll()
	g.kind = Dismissed
	g.exhaustedSnap = nil
	debug.LogGovernor("hide fp=%s", g.fp)
	g.emit(prev)
	return true
}

// Reveal shows the suppressed snapshot without touching the retry budget or timer
func (g *Governor) Reveal() bool {
	if g.kind != Suppressed {
		return false
	}
	g.kind = ShowingStale
	g.category = ShowingStale
	debug.LogGovernor("reveal fp=%s attempt=%d", g.fp, g.attempt)
	g.emit(Suppressed)
	return true
}

// RetryNow cancels the timer and re-issues the current attempt immediately.
// Valid from any state other than Fresh.
func (g *Governor) RetryNow() bool {
	if !g.active || g.kind == Fresh {
		return false
	}
	g.sched.CancelAll()
	debug.LogGovernor("manual retry fp=%s attempt=%d state=%s", g.fp, g.attempt, g.kind)
	g.issue(g.attempt, true)
	g.emit(g.kind)
	return true
}

// RetryError re-issues the request behind the current alert, once
func (g *Governor) RetryError() bool {
	a := g.alerts.Current()
	if a == nil || !g.active || a.Fingerprint != g.fp {
		return false
	}
	taken, ok := g.alerts.TakeRetry()
	if !ok {
		return false
	}
	debug.LogGovernor("error retry fp=%s attempt=%d", g.fp, taken.Attempt)
	g.issueFor(Request{
		Fingerprint: taken.Fingerprint,
		Attempt:     taken.Attempt,
		Criteria:    taken.Criteria,
		Manual:      true,
		ErrorRetry:  true,
	}, nil)
	g.emit(g.kind)
	return true
}

// DismissError hides the current alert
func (g *Governor) DismissError() bool {
	if !g.alerts.Dismiss() {
		return false
	}
	g.emit(g.kind)
	return true
}

// Leave is navigation away from the search view: the timer and in-flight
// requests are cancelled, the snapshot slot survives for the next Submit.
func (g *Governor) Leave() {
	prev := g.kind
	g.sched.CancelAll()
	if len(g.inFlight) > 0 {
		g.dispatch.CancelInFlight()
	}
	g.inFlight = make(map[uint64]Request)
	g.alerts.Reset()
	g.active = false
	g.kind = Fresh
	g.attempt = 0
	g.results = nil
	g.exhaustedSnap = nil
	g.history = nil
	g.historyAt = make(map[uint64]int)
	debug.LogGovernor("leave fp=%s", g.fp)
	g.fp = ""
	g.current = criteria.Criteria{}
	g.emit(prev)
}

// Attempts returns the attempt log of the current fingerprint
func (g *Governor) Attempts() []scheduler.AttemptRecord {
	out := make([]scheduler.AttemptRecord, len(g.history))
	copy(out, g.history)
	if rec, ok := g.sched.Pending(); ok && rec.Fingerprint == g.fp {
		out = append(out, rec)
	}
	return out
}

// Snapshot returns the committed snapshot slot content, read-only
func (g *Governor) Snapshot() *resultcache.Snapshot {
	return g.slot.Get()
}

// View returns the current view state
func (g *Governor) View() ViewState {
	v := ViewState{
		Kind:        g.kind,
		Fingerprint: g.fp,
		Query:       g.current.Query,
		Results:     g.results,
		Attempt:     g.attempt,
		MaxAttempts: g.policy.MaxAttempts,
		Alert:       g.alerts.Current(),
	}
	if g.active {
		v.FingerprintID = g.fp.Short()
	}
	for _, req := range g.inFlight {
		if req.Fingerprint == g.fp {
			v.Loading = true
			break
		}
	}

	switch g.kind {
	case ShowingStale:
		v.Stale = g.slot.Fallback(g.fp)
		v.CanHide = true
	case Suppressed:
		v.RevealAvailable = true
	case Exhausted:
		v.Stale = g.exhaustedSnap
		v.CanHide = g.exhaustedSnap != nil
	}
	v.CanRetry = g.active && g.kind != Fresh

	if rec, ok := g.sched.Pending(); ok && rec.Fingerprint == g.fp {
		v.NextRetryIn = g.sched.NextRetryIn()
		v.NextRetryInMs = v.NextRetryIn.Milliseconds()
		due := rec.DueAt
		v.NextRetryAt = &due
	}
	return v
}

func (g *Governor) issue(attempt int, manual bool) {
	g.issueFor(Request{Fingerprint: g.fp, Attempt: attempt, Criteria: g.current, Manual: manual}, nil)
}

// issueFor assigns req a sequence number and sends it. timed is the scheduler
// record when the request comes from a timer fire.
func (g *Governor) issueFor(req Request, timed *scheduler.AttemptRecord) {
	g.seq++
	req.Seq = g.seq
	if !req.ErrorRetry {
		g.latestSeq = req.Seq
	}
	g.inFlight[req.Seq] = req
	fp, attempt := req.Fingerprint, req.Attempt

	now := g.clk.Now()
	rec := scheduler.AttemptRecord{
		Fingerprint: fp,
		Attempt:     attempt,
		ScheduledAt: now,
		DueAt:       now,
		FiredAt:     now,
		Outcome:     scheduler.InFlight,
	}
	if timed != nil {
		rec.ScheduledAt = timed.ScheduledAt
		rec.DueAt = timed.DueAt
	}
	g.historyAt[req.Seq] = len(g.history)
	g.history = append(g.history, rec)

	g.observer.RequestIssued(req)
	debug.LogGovernor("issue seq=%d fp=%s attempt=%d manual=%v error_retry=%v", req.Seq, fp, attempt, req.Manual, req.ErrorRetry)
	g.dispatch.Dispatch(req, func(resp Response) {
		g.exec.Post(func() { g.Deliver(resp) })
	})
}

// Deliver folds a response into the state machine. Normally called through
// the deliver callback handed to the Dispatcher.
func (g *Governor) Deliver(resp Response) {
	req := resp.Request
	delete(g.inFlight, req.Seq)
	outcome := resp.Outcome()

	if !g.active || req.Fingerprint != g.fp {
		g.discard(req, DiscardFingerprint)
		return
	}
	g.record(req.Seq, outcome)

	switch outcome {
	case scheduler.Cancelled:
		g.discard(req, DiscardCancelled)
	case scheduler.NonEmpty:
		g.onNonEmpty(resp)
	case scheduler.Empty:
		if req.ErrorRetry && g.fallbackAhead(req) {
			g.onErrorRetryEmpty(resp)
			return
		}
		if !req.ErrorRetry && req.Seq != g.latestSeq {
			g.discard(req, DiscardSuperseded)
			return
		}
		g.onEmpty(resp)
	case scheduler.Error:
		if !req.ErrorRetry && req.Seq != g.latestSeq {
			g.discard(req, DiscardSuperseded)
			return
		}
		g.onError(resp)
	}
}

func (g *Governor) onNonEmpty(resp Response) {
	prev := g.kind
	page := resp.Page
	g.slot.Offer(g.fp, g.current.Query, page, g.clk.Now())
	g.sched.CancelAll()
	g.alerts.Reset()
	g.kind = Fresh
	g.attempt = resp.Attempt
	g.results = &page
	g.exhaustedSnap = nil
	g.observer.ResponseResolved(resp.Request, scheduler.NonEmpty)
	debug.LogGovernor("non-empty fp=%s attempt=%d total=%d", g.fp, resp.Attempt, page.TotalCount)
	g.emit(prev)
}

// fallbackAhead reports whether the fallback schedule has moved past an error
// retry: a later attempt resolved, a timer is armed, or a regular request is
// still in flight.
func (g *Governor) fallbackAhead(req Request) bool {
	if req.Attempt < g.attempt {
		return true
	}
	if rec, ok := g.sched.Pending(); ok && rec.Fingerprint == g.fp {
		return true
	}
	_, ok := g.inFlight[g.latestSeq]
	return ok
}

// onErrorRetryEmpty shows the page of an error retry without touching the
// attempt counter, the category or the timer.
func (g *Governor) onErrorRetryEmpty(resp Response) {
	page := resp.Page
	g.slot.Offer(g.fp, g.current.Query, page, g.clk.Now())
	g.results = &page
	g.observer.ResponseResolved(resp.Request, scheduler.Empty)
	debug.LogGovernor("error retry empty fp=%s attempt=%d: schedule at attempt=%d left running", g.fp, resp.Attempt, g.attempt)
	g.emit(g.kind)
}

func (g *Governor) onEmpty(resp Response) {
	prev := g.kind
	page := resp.Page
	fallback := g.slot.Fallback(g.fp)
	g.slot.Offer(g.fp, g.current.Query, page, g.clk.Now())
	g.results = &page
	g.attempt = resp.Attempt
	if !resp.ErrorRetry {
		// The backend answered; an alert from an earlier failure is stale
		g.alerts.Reset()
	}
	g.observer.ResponseResolved(resp.Request, scheduler.Empty)

	switch g.kind {
	case Dismissed, Exhausted:
		// Terminal for this fingerprint until criteria change or a match arrives
		g.emit(prev)
		return
	}

	if fallback == nil {
		g.kind = Fresh
		debug.LogGovernor("empty fp=%s attempt=%d: nothing to fall back to", g.fp, resp.Attempt)
		g.emit(prev)
		return
	}

	if !g.decided {
		g.decided = true
		g.category = ShowingStale
		if g.classify.IsExactLike(g.current) {
			g.category = Suppressed
		}
	}
	g.kind = g.category
	g.sched.CancelAll()

	if !g.policy.CanRetry(resp.Attempt) {
		if g.kind == ShowingStale {
			g.exhaustedSnap = fallback
		}
		g.kind = Exhausted
		debug.LogGovernor("exhausted fp=%s after attempt=%d", g.fp, resp.Attempt)
		g.emit(prev)
		return
	}

	next := resp.Attempt + 1
	if _, err := g.sched.Arm(g.fp, next, g.fire); err != nil {
		debug.LogGovernor("arm attempt=%d failed: %v", next, err)
	} else {
		g.observer.RetryArmed(next, g.policy.Delay(resp.Attempt))
	}
	debug.LogGovernor("empty fp=%s attempt=%d -> %s", g.fp, resp.Attempt, g.kind)
	g.emit(prev)
}

func (g *Governor) onError(resp Response) {
	a := g.alerts.Raise(g.fp, resp.Criteria, resp.Attempt, resp.Err, g.clk.Now())
	g.observer.ResponseResolved(resp.Request, scheduler.Error)
	g.observer.AlertRaised(a)
	debug.LogGovernor("structural failure fp=%s attempt=%d: %v", g.fp, resp.Attempt, resp.Err)
	g.emit(g.kind)
}

// fire runs on the executor once the scheduler has validated the timer
func (g *Governor) fire(rec scheduler.AttemptRecord) {
	g.issueFor(Request{Fingerprint: g.fp, Attempt: rec.Attempt, Criteria: g.current}, &rec)
	g.emit(g.kind)
}

func (g *Governor) timerStillValid(rec scheduler.AttemptRecord) bool {
	return g.active && rec.Fingerprint == g.fp && (g.kind == ShowingStale || g.kind == Suppressed)
}

func (g *Governor) discard(req Request, reason string) {
	g.observer.ResponseDiscarded(req, reason)
	debug.LogGovernor("discard seq=%d fp=%s attempt=%d: %s", req.Seq, req.Fingerprint, req.Attempt, reason)
	if reason != DiscardFingerprint {
		g.emit(g.kind)
	}
}

func (g *Governor) record(seq uint64, outcome scheduler.Outcome) {
	if i, ok := g.historyAt[seq]; ok {
		g.history[i].Outcome = outcome
	}
}

func (g *Governor) emit(prev Kind) {
	if prev != g.kind {
		g.observer.StateChanged(prev, g.kind)
		debug.LogGovernor("state %s -> %s fp=%s", prev, g.kind, g.fp)
	}
	if g.onChange != nil {
		g.onChange(g.View())
	}
}
