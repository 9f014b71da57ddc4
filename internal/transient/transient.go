// Package transient surfaces structural request failures as a dismissible
// alert with a single user-initiated retry. It never retries on its own and
// never touches the fallback retry budget.
package transient

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/standardbeagle/staleguard/internal/backend"
	"github.com/standardbeagle/staleguard/internal/criteria"
)

// Alert is a failure shown to the user
type Alert struct {
	ID          string               `json:"id"`
	Message     string               `json:"message"`
	Status      int                  `json:"status,omitempty"`
	Terminal    bool                 `json:"terminal"`
	Fingerprint criteria.Fingerprint `json:"-"`
	Criteria    criteria.Criteria    `json:"-"`
	Attempt     int                  `json:"attempt"`
	RaisedAt    time.Time            `json:"raised_at"`
	// Failures counts consecutive failures surfaced for this fingerprint
	Failures int `json:"failures"`
}

// Retryable reports whether the alert offers a Retry action
func (a *Alert) Retryable() bool {
	return a != nil && !a.Terminal
}

// Handler holds at most one alert
type Handler struct {
	alert    *Alert
	lastFP   criteria.Fingerprint
	failures int
}

// Raise replaces the current alert with one for err. Authorization failures
// are terminal and cannot be retried.
func (h *Handler) Raise(fp criteria.Fingerprint, c criteria.Criteria, attempt int, err error, at time.Time) *Alert {
	a := &Alert{
		ID:          uuid.NewString(),
		Message:     backend.Message(err),
		Fingerprint: fp,
		Criteria:    c,
		Attempt:     attempt,
		RaisedAt:    at,
		Failures:    1,
	}
	var he *backend.HTTPError
	if errors.As(err, &he) {
		a.Status = he.Status
		a.Terminal = he.IsAuth()
	}
	if h.failures > 0 && h.lastFP == fp {
		a.Failures = h.failures + 1
	}
	h.lastFP = fp
	h.failures = a.Failures
	h.alert = a
	return a
}

// Current returns the visible alert, if any
func (h *Handler) Current() *Alert {
	return h.alert
}

// Dismiss hides the alert. Reports whether one was visible.
func (h *Handler) Dismiss() bool {
	if h.alert == nil {
		return false
	}
	h.alert = nil
	return true
}

// TakeRetry consumes the alert for a single retry. Terminal alerts stay
// visible and are not returned.
func (h *Handler) TakeRetry() (Alert, bool) {
	if !h.alert.Retryable() {
		return Alert{}, false
	}
	a := *h.alert
	h.alert = nil
	return a, true
}

// ClearUnless drops the alert unless it belongs to fp
func (h *Handler) ClearUnless(fp criteria.Fingerprint) {
	if h.lastFP != fp {
		h.Reset()
	}
}

// Reset drops the alert and the failure count, e.g. after a success
func (h *Handler) Reset() {
	h.alert = nil
	h.lastFP = ""
	h.failures = 0
}
