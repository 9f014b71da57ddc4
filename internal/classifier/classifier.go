// Package classifier decides whether a query looks like a request for one
// specific file (exact-like) or is exploratory free text. The answer only
// picks the default visibility of stale results; it never affects retries.
package classifier

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/standardbeagle/staleguard/internal/criteria"
)

// DefaultMaxExtensionLength bounds the extension token of a filename-like query
const DefaultMaxExtensionLength = 5

// Classifier is swappable: it is a UX heuristic, not a correctness rule.
type Classifier interface {
	IsExactLike(c criteria.Criteria) bool
}

// Func adapts a plain predicate to Classifier
type Func func(c criteria.Criteria) bool

// IsExactLike implements Classifier
func (f Func) IsExactLike(c criteria.Criteria) bool { return f(c) }

// Heuristic flags a query as exact-like when it resembles a single filename:
//
//   - non-empty after trimming, with no inner whitespace
//   - a non-empty stem before the last '.'
//   - an extension of 1..MaxExtensionLength alphanumeric characters
//   - at least one letter in the extension, so "3.14" and "v1.2" style
//     numbers read as free text
//
// Filters do not participate.
type Heuristic struct {
	MaxExtensionLength int
}

// NewHeuristic returns a Heuristic with the default extension bound
func NewHeuristic() *Heuristic {
	return &Heuristic{MaxExtensionLength: DefaultMaxExtensionLength}
}

// IsExactLike implements Classifier
func (h *Heuristic) IsExactLike(c criteria.Criteria) bool {
	return LooksLikeFilename(c.Query, h.maxExt())
}

func (h *Heuristic) maxExt() int {
	if h == nil || h.MaxExtensionLength <= 0 {
		return DefaultMaxExtensionLength
	}
	return h.MaxExtensionLength
}

// LooksLikeFilename is the predicate behind Heuristic
func LooksLikeFilename(query string, maxExt int) bool {
	q := strings.TrimSpace(query)
	if q == "" || strings.IndexFunc(q, unicode.IsSpace) >= 0 {
		return false
	}

	dot := strings.LastIndexByte(q, '.')
	if dot <= 0 || dot == len(q)-1 {
		return false
	}
	// Path separators may precede the name but the stem itself must be non-empty
	if q[dot-1] == '/' || q[dot-1] == '\\' {
		return false
	}

	ext := q[dot+1:]
	if len(ext) > maxExt {
		return false
	}
	hasLetter := false
	for _, r := range ext {
		switch {
		case r > unicode.MaxASCII:
			return false
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
		default:
			return false
		}
	}
	return hasLetter
}

// Patterns flags a query as exact-like when it matches one of a set of
// doublestar globs, e.g. "*.pdf" or "**/INV-*.xlsx". Matching is case-insensitive.
type Patterns struct {
	patterns []string
}

// NewPatterns validates and compiles the glob set
func NewPatterns(patterns []string) (*Patterns, error) {
	p := &Patterns{patterns: make([]string, 0, len(patterns))}
	for _, pat := range patterns {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("invalid classifier pattern %q", pat)
		}
		p.patterns = append(p.patterns, strings.ToLower(pat))
	}
	return p, nil
}

// IsExactLike implements Classifier
func (p *Patterns) IsExactLike(c criteria.Criteria) bool {
	q := strings.ToLower(strings.TrimSpace(c.Query))
	if q == "" || strings.IndexFunc(q, unicode.IsSpace) >= 0 {
		return false
	}
	for _, pat := range p.patterns {
		if ok, _ := doublestar.Match(pat, q); ok {
			return true
		}
	}
	return false
}

// Classifier modes accepted by New
const (
	ModeHeuristic = "heuristic"
	ModePatterns  = "patterns"
)

// New builds the classifier selected by mode
func New(mode string, maxExt int, patterns []string) (Classifier, error) {
	switch mode {
	case "", ModeHeuristic:
		return &Heuristic{MaxExtensionLength: maxExt}, nil
	case ModePatterns:
		return NewPatterns(patterns)
	default:
		return nil, fmt.Errorf("unknown classifier mode %q", mode)
	}
}
