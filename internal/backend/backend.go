// Package backend is the contract with the search collaborator. The governor
// treats it as a black box: a page of items, an empty page, or an error.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/standardbeagle/staleguard/internal/criteria"
)

// Item is one search hit. Ranking and ACLs are the backend's business.
type Item struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Path          string            `json:"path"`
	Folder        string            `json:"folder,omitempty"`
	PreviewStatus string            `json:"preview_status,omitempty"`
	Created       time.Time         `json:"created,omitempty"`
	Size          int64             `json:"size,omitempty"`
	Aspects       []string          `json:"aspects,omitempty"`
	Properties    map[string]string `json:"properties,omitempty"`
	Score         float64           `json:"score,omitempty"`
}

// Page is a single response page
type Page struct {
	Items      []Item `json:"items"`
	TotalCount int    `json:"total_count"`
}

// IsEmpty reports whether the page carries no matches
func (p Page) IsEmpty() bool {
	return p.TotalCount == 0 && len(p.Items) == 0
}

// Searcher runs one query. Implementations must honor ctx cancellation.
type Searcher interface {
	Search(ctx context.Context, c criteria.Criteria) (Page, error)
}

// SearcherFunc adapts a function to Searcher
type SearcherFunc func(ctx context.Context, c criteria.Criteria) (Page, error)

// Search implements Searcher
func (f SearcherFunc) Search(ctx context.Context, c criteria.Criteria) (Page, error) {
	return f(ctx, c)
}

// HTTPError is a non-2xx response carrying the server-provided message
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("search failed: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("search failed: %d %s", e.Status, e.Message)
}

// IsAuth reports whether the status is an authorization failure.
// Those are terminal: retrying will not help.
func (e *HTTPError) IsAuth() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// IsStructural reports whether err is a failed request (any non-2xx or transport
// failure) as opposed to a cancelled one. Cancellation is never surfaced.
func IsStructural(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// Message extracts the text to show the user for a structural failure
func Message(err error) string {
	var he *HTTPError
	if errors.As(err, &he) {
		if he.Message != "" {
			return he.Message
		}
		return http.StatusText(he.Status)
	}
	return err.Error()
}

// IsAuthError reports whether err wraps an authorization HTTPError
func IsAuthError(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.IsAuth()
}
