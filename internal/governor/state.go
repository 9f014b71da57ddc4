package governor

import (
	"fmt"
	"time"

	"github.com/standardbeagle/staleguard/internal/backend"
	"github.com/standardbeagle/staleguard/internal/criteria"
	"github.com/standardbeagle/staleguard/internal/resultcache"
	"github.com/standardbeagle/staleguard/internal/scheduler"
	"github.com/standardbeagle/staleguard/internal/transient"
)

// Kind is the fallback display state
type Kind int

const (
	// Fresh shows the current fingerprint's own results, possibly empty
	Fresh Kind = iota
	// ShowingStale shows the previous snapshot with a retry banner
	ShowingStale
	// Suppressed hides the previous snapshot but offers to reveal it
	Suppressed
	// Exhausted means auto-retry ended without matches; manual retry remains
	Exhausted
	// Dismissed means the user hid stale content for this fingerprint
	Dismissed
)

var kindNames = [...]string{"fresh", "showing_stale", "suppressed", "exhausted", "dismissed"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// MarshalText implements encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *Kind) UnmarshalText(b []byte) error {
	for i, name := range kindNames {
		if name == string(b) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown view state %q", b)
}

// ViewState is everything the hosting view renders. Counters and delays come
// from here; the view never recomputes them.
type ViewState struct {
	Kind          Kind                 `json:"state"`
	Fingerprint   criteria.Fingerprint `json:"-"`
	FingerprintID string               `json:"fingerprint,omitempty"`
	Query         string               `json:"query"`

	// Results is the current fingerprint's own latest page
	Results *backend.Page `json:"results,omitempty"`
	// Stale is the fallback snapshot, set only in ShowingStale and a visible Exhausted
	Stale *resultcache.Snapshot `json:"stale,omitempty"`

	Attempt       int           `json:"attempt"`
	MaxAttempts   int           `json:"max_attempts"`
	NextRetryIn   time.Duration `json:"-"`
	NextRetryInMs int64         `json:"next_retry_in_ms,omitempty"`
	NextRetryAt   *time.Time    `json:"next_retry_at,omitempty"`

	Loading         bool `json:"loading"`
	RevealAvailable bool `json:"reveal_available,omitempty"`
	CanHide         bool `json:"can_hide,omitempty"`
	CanRetry        bool `json:"can_retry,omitempty"`

	Alert *transient.Alert `json:"alert,omitempty"`
}

// Request is one tagged query. Every response carries its request back so
// completions can be matched against the fingerprint current at the time.
type Request struct {
	Seq         uint64
	Fingerprint criteria.Fingerprint
	Attempt     int
	Criteria    criteria.Criteria
	Manual      bool
	// ErrorRetry marks the single retry behind an alert. It runs outside the
	// fallback budget: it never supersedes other requests and never moves
	// the attempt counter or the timer while the fallback schedule is ahead of it.
	ErrorRetry bool
}

// Response is the completion of a Request
type Response struct {
	Request
	Page backend.Page
	Err  error
}

// Outcome classifies the response for the attempt log
func (r Response) Outcome() scheduler.Outcome {
	switch {
	case r.Err != nil && backend.IsStructural(r.Err):
		return scheduler.Error
	case r.Err != nil:
		return scheduler.Cancelled
	case r.Page.IsEmpty():
		return scheduler.Empty
	default:
		return scheduler.NonEmpty
	}
}

// Dispatcher runs requests against the backend. deliver may be called from
// any goroutine; the governor reposts it onto its executor.
type Dispatcher interface {
	Dispatch(req Request, deliver func(Response))
	// CancelInFlight aborts every outstanding request
	CancelInFlight()
}

// Observer receives governor events, typically for metrics
type Observer interface {
	StateChanged(from, to Kind)
	RequestIssued(req Request)
	ResponseResolved(req Request, outcome scheduler.Outcome)
	ResponseDiscarded(req Request, reason string)
	RetryArmed(attempt int, delay time.Duration)
	AlertRaised(a *transient.Alert)
}

// NopObserver ignores every event
type NopObserver struct{}

func (NopObserver) StateChanged(Kind, Kind)                     {}
func (NopObserver) RequestIssued(Request)                       {}
func (NopObserver) ResponseResolved(Request, scheduler.Outcome) {}
func (NopObserver) ResponseDiscarded(Request, string)           {}
func (NopObserver) RetryArmed(int, time.Duration)               {}
func (NopObserver) AlertRaised(*transient.Alert)                {}
