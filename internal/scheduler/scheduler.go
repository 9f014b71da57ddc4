// Package scheduler owns the single retry timer of a search session.
package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/standardbeagle/staleguard/internal/clock"
	"github.com/standardbeagle/staleguard/internal/criteria"
	"github.com/standardbeagle/staleguard/internal/debug"
	"github.com/standardbeagle/staleguard/internal/loop"
)

// Defaults for the backoff policy
const (
	DefaultBaseDelay   = 1500 * time.Millisecond
	DefaultMaxAttempts = 3
)

var (
	// ErrTimerPending is returned by Arm when a timer is already live.
	// The caller must CancelAll first.
	ErrTimerPending = errors.New("scheduler: a retry timer is already pending")

	// ErrBudgetExhausted is returned by Arm for an attempt past MaxAttempts
	ErrBudgetExhausted = errors.New("scheduler: retry budget exhausted")
)

// Outcome is the lifecycle stage of one attempt
type Outcome int

const (
	Pending   Outcome = iota // armed, waiting on the timer
	InFlight                 // request issued
	Empty                    // resolved with an empty page
	NonEmpty                 // resolved with matches
	Error                    // structural failure
	Cancelled                // timer cancelled or fire rejected as stale
)

func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case InFlight:
		return "in_flight"
	case Empty:
		return "empty"
	case NonEmpty:
		return "non_empty"
	case Error:
		return "error"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// AttemptRecord tracks one query attempt for a fingerprint
type AttemptRecord struct {
	Fingerprint criteria.Fingerprint
	Attempt     int
	ScheduledAt time.Time
	DueAt       time.Time
	FiredAt     time.Time
	Outcome     Outcome
}

// Policy is the exponential backoff schedule
type Policy struct {
	BaseDelay   time.Duration
	MaxAttempts int
}

// DefaultPolicy is 1.5s, 3s, 6s over three retries
func DefaultPolicy() Policy {
	return Policy{BaseDelay: DefaultBaseDelay, MaxAttempts: DefaultMaxAttempts}
}

// Delay returns base * 2^n, the wait after attempt n resolved empty.
// n is clamped to [0, MaxAttempts-1].
func (p Policy) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	if p.MaxAttempts > 0 && n > p.MaxAttempts-1 {
		n = p.MaxAttempts - 1
	}
	return p.BaseDelay << uint(n)
}

// CanRetry reports whether another attempt may follow attempt n
func (p Policy) CanRetry(n int) bool {
	return n < p.MaxAttempts
}

// Scheduler keeps at most one live timer. It must only be used from the
// executor it was built with; the timer callback itself only posts.
type Scheduler struct {
	clk    clock.Clock
	policy Policy
	exec   loop.Executor
	valid  func(AttemptRecord) bool

	pending *AttemptRecord
	timer   clock.Timer
	gen     uint64
}

// New creates a scheduler. valid is consulted when a timer fires, before the
// fire callback runs; returning false turns the fire into a no-op.
func New(clk clock.Clock, policy Policy, exec loop.Executor, valid func(AttemptRecord) bool) *Scheduler {
	return &Scheduler{
		clk:    clk,
		policy: policy,
		exec:   exec,
		valid:  valid,
	}
}

// Policy returns the backoff policy
func (s *Scheduler) Policy() Policy {
	return s.policy
}

// Arm schedules attempt (1..MaxAttempts) for fp after Delay(attempt-1).
// fire receives the record with Outcome InFlight.
func (s *Scheduler) Arm(fp criteria.Fingerprint, attempt int, fire func(AttemptRecord)) (AttemptRecord, error) {
	if s.pending != nil {
		return AttemptRecord{}, ErrTimerPending
	}
	if attempt < 1 || attempt > s.policy.MaxAttempts {
		return AttemptRecord{}, fmt.Errorf("%w: attempt %d of %d", ErrBudgetExhausted, attempt, s.policy.MaxAttempts)
	}

	now := s.clk.Now()
	delay := s.policy.Delay(attempt - 1)
	rec := &AttemptRecord{
		Fingerprint: fp,
		Attempt:     attempt,
		ScheduledAt: now,
		DueAt:       now.Add(delay),
		Outcome:     Pending,
	}

	s.gen++
	gen := s.gen
	s.pending = rec
	s.timer = s.clk.AfterFunc(delay, func() {
		s.exec.Post(func() { s.onFire(gen, fire) })
	})

	debug.LogScheduler("armed fp=%s attempt=%d delay=%s", fp, attempt, delay)
	return *rec, nil
}

func (s *Scheduler) onFire(gen uint64, fire func(AttemptRecord)) {
	// A cancel or re-arm since this timer was created bumps gen
	if gen != s.gen || s.pending == nil {
		debug.LogScheduler("ignored fire of cancelled timer gen=%d", gen)
		return
	}

	rec := *s.pending
	s.pending = nil
	s.timer = nil
	rec.FiredAt = s.clk.Now()

	if s.valid != nil && !s.valid(rec) {
		debug.LogScheduler("fire rejected fp=%s attempt=%d", rec.Fingerprint, rec.Attempt)
		return
	}

	rec.Outcome = InFlight
	debug.LogScheduler("fired fp=%s attempt=%d", rec.Fingerprint, rec.Attempt)
	fire(rec)
}

// CancelAll stops the pending timer, if any. Reports whether one was live.
func (s *Scheduler) CancelAll() bool {
	if s.pending == nil {
		return false
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	debug.LogScheduler("cancelled fp=%s attempt=%d", s.pending.Fingerprint, s.pending.Attempt)
	s.gen++
	s.pending = nil
	s.timer = nil
	return true
}

// Pending returns the armed record, if any
func (s *Scheduler) Pending() (AttemptRecord, bool) {
	if s.pending == nil {
		return AttemptRecord{}, false
	}
	return *s.pending, true
}

// NextRetryIn returns the time left on the pending timer, never negative
func (s *Scheduler) NextRetryIn() time.Duration {
	if s.pending == nil {
		return 0
	}
	left := s.pending.DueAt.Sub(s.clk.Now())
	if left < 0 {
		return 0
	}
	return left
}
