package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexError(t *testing.T) {
	underlying := errors.New("permission denied")
	err := NewIndexError("put", underlying).
		WithDocument("docs/a.md").
		WithRecoverable(true)

	assert.Equal(t, ErrorTypeIndex, err.Type)
	assert.ErrorIs(t, err, underlying)
	assert.True(t, err.IsRecoverable())
	assert.Equal(t, "index put failed for docs/a.md: permission denied", err.Error())

	bare := NewIndexError("commit", underlying)
	assert.Equal(t, "index commit failed: permission denied", bare.Error())
}

func TestSearchError(t *testing.T) {
	underlying := errors.New("boom")
	err := NewSearchError("annual report", underlying)
	assert.Equal(t, `search failed for query "annual report": boom`, err.Error())
	assert.ErrorIs(t, err, underlying)
	assert.False(t, err.Timestamp.IsZero())
}

func TestTransportError(t *testing.T) {
	underlying := errors.New("connection refused")
	err := NewTransportError("POST", "/search", underlying)
	assert.Equal(t, "POST /search: connection refused", err.Error())

	var te *TransportError
	require.True(t, errors.As(error(err), &te))
	assert.Equal(t, ErrorTypeTransport, te.Type)
}

func TestConfigError(t *testing.T) {
	underlying := errors.New("must be positive")
	err := NewConfigError("governor.base_delay_ms", "0", underlying)
	assert.Equal(t, "config error for field governor.base_delay_ms (value 0): must be positive", err.Error())
	assert.Equal(t, "config error for field index: must be positive", NewConfigError("index", "", underlying).Error())
	assert.ErrorIs(t, err, underlying)
}

func TestMultiError(t *testing.T) {
	a, b := errors.New("a"), errors.New("b")

	empty := NewMultiError([]error{nil, nil})
	assert.Equal(t, "no errors", empty.Error())
	assert.NoError(t, empty.ErrorOrNil())

	one := NewMultiError([]error{a, nil})
	assert.Equal(t, "a", one.Error())

	two := NewMultiError([]error{a, b})
	assert.Equal(t, "2 errors: [a b]", two.Error())
	assert.ErrorIs(t, two, b)
	assert.Error(t, two.ErrorOrNil())
}
