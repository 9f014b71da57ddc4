package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/standardbeagle/staleguard/internal/criteria"
)

func TestIsStructural(t *testing.T) {
	assert.False(t, IsStructural(nil))
	assert.False(t, IsStructural(context.Canceled))
	assert.False(t, IsStructural(fmt.Errorf("wrapped: %w", context.Canceled)))
	assert.True(t, IsStructural(&HTTPError{Status: http.StatusServiceUnavailable}))
	assert.True(t, IsStructural(errors.New("connection refused")))
	assert.True(t, IsStructural(context.DeadlineExceeded))
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "index not ready", Message(&HTTPError{Status: 503, Message: "index not ready"}))
	assert.Equal(t, "Bad Gateway", Message(fmt.Errorf("x: %w", &HTTPError{Status: 502})))
	assert.Equal(t, "dial unix: no such file", Message(errors.New("dial unix: no such file")))
}

func TestHTTPError(t *testing.T) {
	assert.Equal(t, "search failed: 503 index not ready", (&HTTPError{Status: 503, Message: "index not ready"}).Error())
	assert.Equal(t, "search failed: 500 Internal Server Error", (&HTTPError{Status: 500}).Error())

	assert.True(t, IsAuthError(&HTTPError{Status: http.StatusUnauthorized}))
	assert.True(t, IsAuthError(fmt.Errorf("wrapped: %w", &HTTPError{Status: http.StatusForbidden})))
	assert.False(t, IsAuthError(&HTTPError{Status: http.StatusInternalServerError}))
	assert.False(t, IsAuthError(errors.New("boom")))
}

func TestPage_IsEmpty(t *testing.T) {
	assert.True(t, Page{}.IsEmpty())
	assert.False(t, Page{TotalCount: 3}.IsEmpty())
	assert.False(t, Page{Items: []Item{{ID: "a"}}}.IsEmpty())
}

func TestSearcherFunc(t *testing.T) {
	var got criteria.Criteria
	s := SearcherFunc(func(_ context.Context, c criteria.Criteria) (Page, error) {
		got = c
		return Page{TotalCount: 1, Items: []Item{{ID: "1"}}}, nil
	})
	page, err := s.Search(context.Background(), criteria.Criteria{Query: "x"})
	assert.NoError(t, err)
	assert.Equal(t, 1, page.TotalCount)
	assert.Equal(t, "x", got.Query)
}
