package display

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/standardbeagle/staleguard/internal/backend"
	"github.com/standardbeagle/staleguard/internal/governor"
	"github.com/standardbeagle/staleguard/internal/resultcache"
	"github.com/standardbeagle/staleguard/internal/transient"
)

var fetched = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func staleView() governor.ViewState {
	return governor.ViewState{
		Kind:          governor.ShowingStale,
		FingerprintID: "abc",
		Query:         "quarterly",
		Results:       &backend.Page{},
		Stale: &resultcache.Snapshot{
			Query: "annual",
			Items: []backend.Item{
				{ID: "1", Name: "annual.md", Path: "finance/annual.md", Size: 120},
				{ID: "2", Name: "annual-2023.md", Path: "finance/annual-2023.md"},
				{ID: "3", Name: "summary.md", Path: "summary.md"},
			},
			TotalCount: 5,
			FetchedAt:  fetched,
		},
		Attempt:       1,
		MaxAttempts:   3,
		NextRetryInMs: 3000,
		CanHide:       true,
		CanRetry:      true,
	}
}

func TestNewViewFormatter(t *testing.T) {
	formatter := NewViewFormatter(FormatterOptions{})
	assert.Equal(t, "  ", formatter.options.Indent)

	options := FormatterOptions{Format: "yaml", MaxItems: 3, Indent: "\t"}
	formatter = NewViewFormatter(options)
	assert.Equal(t, options, formatter.options)
}

func TestViewFormatter_Text(t *testing.T) {
	tests := []struct {
		name     string
		view     governor.ViewState
		contains []string
		excludes []string
	}{
		{
			name:     "no search",
			view:     governor.ViewState{},
			contains: []string{`search "" [fresh]`, "No search yet"},
		},
		{
			name: "fresh results",
			view: governor.ViewState{
				Kind:    governor.Fresh,
				Query:   "annual",
				Results: &backend.Page{Items: []backend.Item{{Name: "annual.md", Path: "annual.md"}}, TotalCount: 1},
			},
			contains: []string{"1 results", "  → annual.md\n"},
			excludes: []string{"earlier results"},
		},
		{
			name:     "fresh empty",
			view:     governor.ViewState{Kind: governor.Fresh, Query: "nothing", Results: &backend.Page{}},
			contains: []string{"No matches\n"},
		},
		{
			name: "showing stale",
			view: staleView(),
			contains: []string{
				`search "quarterly" [showing_stale]`,
				"Retry 2/3 in 3.0s.",
				`Showing earlier results for "annual"`,
				"→ annual.md  finance/annual.md (120 bytes)",
				"(+2 more)",
			},
		},
		{
			name: "suppressed",
			view: governor.ViewState{
				Kind: governor.Suppressed, Query: "q3.pdf", MaxAttempts: 3,
				NextRetryInMs: 1500, RevealAvailable: true,
			},
			contains: []string{"Retry 1/3 in 1.5s.", ":reveal to show"},
			excludes: []string{"→"},
		},
		{
			name: "exhausted",
			view: func() governor.ViewState {
				v := staleView()
				v.Kind = governor.Exhausted
				v.NextRetryInMs = 0
				return v
			}(),
			contains: []string{"No matches after 3 retries", `earlier results for "annual"`},
			excludes: []string{"Retry "},
		},
		{
			name:     "dismissed",
			view:     governor.ViewState{Kind: governor.Dismissed, Query: "q"},
			contains: []string{"[dismissed]", "No matches"},
		},
		{
			name: "loading with retryable alert",
			view: governor.ViewState{
				Kind: governor.Fresh, Query: "q", Loading: true,
				Alert: &transient.Alert{Message: "index unavailable", Status: 503},
			},
			contains: []string{"searching...", "error: index unavailable (:retry-error to retry"},
		},
		{
			name: "terminal alert",
			view: governor.ViewState{
				Kind: governor.Fresh, Query: "q", Results: &backend.Page{},
				Alert: &transient.Alert{Message: "forbidden", Status: 403, Terminal: true},
			},
			contains: []string{"error: forbidden (:dismiss to hide)"},
			excludes: []string{":retry-error"},
		},
	}

	formatter := NewViewFormatter(FormatterOptions{Format: FormatText, MaxItems: 1})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := formatter.Format(tt.view)
			require.NoError(t, err)
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
			for _, s := range tt.excludes {
				assert.NotContains(t, out, s)
			}
		})
	}
}

func TestViewFormatter_JSON(t *testing.T) {
	out, err := NewViewFormatter(FormatterOptions{Format: FormatJSON}).Format(staleView())
	require.NoError(t, err)

	var decoded governor.ViewState
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, governor.ShowingStale, decoded.Kind)
	assert.Equal(t, int64(3000), decoded.NextRetryInMs)
	require.NotNil(t, decoded.Stale)
	assert.Equal(t, "annual", decoded.Stale.Query)
	assert.Equal(t, fetched, decoded.Stale.FetchedAt)
}

func TestViewFormatter_YAML(t *testing.T) {
	out, err := NewViewFormatter(FormatterOptions{Format: FormatYAML}).Format(staleView())
	require.NoError(t, err)

	assert.Contains(t, out, "state: showing_stale\n")
	assert.Contains(t, out, "next_retry_in_ms: 3000\n")
	assert.NotContains(t, out, "{", "block style only")

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "quarterly", decoded["query"])
	stale, ok := decoded["stale"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 5, stale["total_count"])
}

func TestMarshal_QuotesAmbiguousStrings(t *testing.T) {
	out, err := Marshal(FormatYAML, map[string]string{"query": "true", "size": "10"})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	assert.Equal(t, "true", decoded["query"])
	assert.Equal(t, "10", decoded["size"])
}

func TestFormat_Unknown(t *testing.T) {
	_, err := NewViewFormatter(FormatterOptions{Format: "xml"}).Format(governor.ViewState{})
	assert.Error(t, err)
	_, err = Marshal(FormatText, governor.ViewState{})
	assert.Error(t, err)

	assert.True(t, ValidFormat(""))
	assert.True(t, ValidFormat("yaml"))
	assert.False(t, ValidFormat("xml"))
}
