// Package resultcache holds the single committed result snapshot a session
// can fall back to while the index catches up.
package resultcache

import (
	"time"

	"github.com/standardbeagle/staleguard/internal/backend"
	"github.com/standardbeagle/staleguard/internal/criteria"
)

// Snapshot is a committed result set. Treat as read-only once committed.
type Snapshot struct {
	Fingerprint criteria.Fingerprint `json:"-"`
	Query       string               `json:"query"`
	Items       []backend.Item       `json:"items"`
	TotalCount  int                  `json:"total_count"`
	FetchedAt   time.Time            `json:"fetched_at"`
}

// IsEmpty reports whether the snapshot holds no matches
func (s *Snapshot) IsEmpty() bool {
	return s == nil || (s.TotalCount == 0 && len(s.Items) == 0)
}

// Slot holds at most one snapshot. It is owned by one governor and is not
// safe for concurrent use.
type Slot struct {
	snap      *Snapshot
	committed bool
}

// NewSlot returns an empty slot
func NewSlot() *Slot {
	return &Slot{}
}

// Offer commits a successful page if the commit rule allows it: non-empty pages
// always replace the slot, and the very first successful page is kept even
// when empty so an honestly empty corpus has a baseline. Returns whether the
// slot changed.
func (s *Slot) Offer(fp criteria.Fingerprint, query string, page backend.Page, at time.Time) bool {
	if page.IsEmpty() && s.committed {
		return false
	}
	items := make([]backend.Item, len(page.Items))
	copy(items, page.Items)
	s.snap = &Snapshot{
		Fingerprint: fp,
		Query:       query,
		Items:       items,
		TotalCount:  page.TotalCount,
		FetchedAt:   at,
	}
	s.committed = true
	return true
}

// Get returns the committed snapshot, if any
func (s *Slot) Get() *Snapshot {
	return s.snap
}

// Fallback returns the snapshot usable for fallback display while current is
// on screen: it must be non-empty and belong to a different fingerprint.
func (s *Slot) Fallback(current criteria.Fingerprint) *Snapshot {
	if s.snap == nil || s.snap.IsEmpty() || s.snap.Fingerprint == current {
		return nil
	}
	return s.snap
}

// HasCommitted reports whether any successful response was ever committed
func (s *Slot) HasCommitted() bool {
	return s.committed
}

// Clear drops the snapshot and the first-success marker
func (s *Slot) Clear() {
	s.snap = nil
	s.committed = false
}
