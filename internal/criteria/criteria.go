// Package criteria defines the search criteria value object and its
// fingerprint. Two criteria have the same fingerprint exactly when they are
// equal, with filter collections compared as sets.
package criteria

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DateRange bounds a creation date. A zero endpoint is open.
type DateRange struct {
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
}

// IsZero reports whether neither endpoint is set
func (r DateRange) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

// SizeRange bounds a content size in bytes. Zero Max means unbounded.
type SizeRange struct {
	Min int64 `json:"min,omitempty"`
	Max int64 `json:"max,omitempty"`
}

// Filters is the structured part of a search
type Filters struct {
	Folder        string            `json:"folder,omitempty"`         // Folder scope (path prefix, glob allowed)
	PreviewStatus []string          `json:"preview_status,omitempty"` // Set semantics
	Created       DateRange         `json:"created,omitempty"`
	Size          SizeRange         `json:"size,omitempty"`
	Aspects       []string          `json:"aspects,omitempty"` // Set semantics, all required
	Properties    map[string]string `json:"properties,omitempty"`
}

// Criteria is an immutable snapshot of what the user asked for: free text plus filters.
// Two criteria are equal iff every field is equal, with filter collections compared as sets.
type Criteria struct {
	Query   string  `json:"query"`
	Filters Filters `json:"filters"`
}

// Fingerprint is the comparable identity of a Criteria. It holds the canonical
// encoding, so equal fingerprints imply equal criteria (no hash collisions).
type Fingerprint string

// Sum64 returns a compact hash of the fingerprint for logs and metric labels
func (f Fingerprint) Sum64() uint64 {
	return xxhash.Sum64String(string(f))
}

// Short returns the hex form of Sum64
func (f Fingerprint) Short() string {
	return strconv.FormatUint(f.Sum64(), 16)
}

// String implements fmt.Stringer
func (f Fingerprint) String() string {
	if f == "" {
		return "<none>"
	}
	return f.Short()
}

// Of computes the fingerprint of c. It is pure and order-independent over
// filter collections.
func Of(c Criteria) Fingerprint {
	return Fingerprint(c.canonical())
}

// Fingerprint is a convenience wrapper around Of
func (c Criteria) Fingerprint() Fingerprint {
	return Of(c)
}

// Equal reports whether both criteria describe the same search
func (c Criteria) Equal(other Criteria) bool {
	return c.canonical() == other.canonical()
}

// IsEmpty reports whether the criteria has neither query text nor filters
func (c Criteria) IsEmpty() bool {
	return Of(c) == Of(Criteria{})
}

// Normalize returns a copy with set-valued filters sorted and deduplicated.
// The query text is left untouched: whitespace is significant.
func (c Criteria) Normalize() Criteria {
	out := c
	out.Filters.PreviewStatus = sortedSet(c.Filters.PreviewStatus)
	out.Filters.Aspects = sortedSet(c.Filters.Aspects)
	if len(c.Filters.Properties) > 0 {
		props := make(map[string]string, len(c.Filters.Properties))
		for k, v := range c.Filters.Properties {
			props[k] = v
		}
		out.Filters.Properties = props
	} else {
		out.Filters.Properties = nil
	}
	if !c.Filters.Created.From.IsZero() {
		out.Filters.Created.From = c.Filters.Created.From.UTC()
	}
	if !c.Filters.Created.To.IsZero() {
		out.Filters.Created.To = c.Filters.Created.To.UTC()
	}
	return out
}

// canonical encodes every field with strconv.Quote so that no two distinct
// criteria can produce the same string.
func (c Criteria) canonical() string {
	var sb strings.Builder
	sb.WriteString("q=")
	sb.WriteString(strconv.Quote(c.Query))

	f := c.Filters
	sb.WriteString(";folder=")
	sb.WriteString(strconv.Quote(f.Folder))

	sb.WriteString(";preview=")
	writeSet(&sb, f.PreviewStatus)

	sb.WriteString(";created=")
	writeTime(&sb, f.Created.From)
	sb.WriteByte(',')
	writeTime(&sb, f.Created.To)

	sb.WriteString(";size=")
	sb.WriteString(strconv.FormatInt(f.Size.Min, 10))
	sb.WriteByte(',')
	sb.WriteString(strconv.FormatInt(f.Size.Max, 10))

	sb.WriteString(";aspects=")
	writeSet(&sb, f.Aspects)

	sb.WriteString(";props={")
	keys := make([]string, 0, len(f.Properties))
	for k := range f.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Quote(k))
		sb.WriteByte(':')
		sb.WriteString(strconv.Quote(f.Properties[k]))
	}
	sb.WriteByte('}')
	return sb.String()
}

func writeSet(sb *strings.Builder, values []string) {
	sb.WriteByte('[')
	for i, v := range sortedSet(values) {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Quote(v))
	}
	sb.WriteByte(']')
}

func writeTime(sb *strings.Builder, t time.Time) {
	if t.IsZero() {
		sb.WriteByte('-')
		return
	}
	// UnixNano overflows outside 1678..2262; the UTC text form does not
	sb.WriteString(t.UTC().Format(time.RFC3339Nano))
}

func sortedSet(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
