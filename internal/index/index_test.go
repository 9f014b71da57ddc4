package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/standardbeagle/staleguard/internal/clock"
	"github.com/standardbeagle/staleguard/internal/criteria"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var epoch = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func newTestIndex(t *testing.T, opts Options) (*Index, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(epoch)
	opts.Clock = clk
	idx := New(opts)
	t.Cleanup(idx.Close)
	return idx, clk
}

func search(t *testing.T, idx *Index, c criteria.Criteria) []string {
	t.Helper()
	page, err := idx.Search(context.Background(), c)
	require.NoError(t, err)
	require.Equal(t, len(page.Items), page.TotalCount)
	var ids []string
	for _, it := range page.Items {
		ids = append(ids, it.ID)
	}
	return ids
}

func TestPut_InvisibleUntilCommit(t *testing.T) {
	idx, clk := newTestIndex(t, Options{CommitDelay: time.Second})

	_, err := idx.Put(Document{ID: "a", Name: "annual-report.pdf", Content: "yearly revenue"})
	require.NoError(t, err)

	assert.Empty(t, search(t, idx, criteria.Criteria{Query: "revenue"}))
	assert.Equal(t, 1, idx.Stats().Pending)

	clk.Advance(999 * time.Millisecond)
	assert.Empty(t, search(t, idx, criteria.Criteria{Query: "revenue"}))

	clk.Advance(time.Millisecond)
	assert.Equal(t, []string{"a"}, search(t, idx, criteria.Criteria{Query: "revenue"}))
	assert.Equal(t, 0, idx.Stats().Pending)
	assert.Equal(t, 1, idx.Stats().Commits)
}

func TestPut_WritesResetDebounce(t *testing.T) {
	idx, clk := newTestIndex(t, Options{CommitDelay: time.Second})
	var committed []int
	idx.SetOnCommit(func(n int) { committed = append(committed, n) })

	_, _ = idx.Put(Document{ID: "a", Name: "a.txt"})
	clk.Advance(600 * time.Millisecond)
	_, _ = idx.Put(Document{ID: "b", Name: "b.txt"})
	clk.Advance(600 * time.Millisecond)
	assert.Empty(t, committed)

	clk.Advance(400 * time.Millisecond)
	assert.Equal(t, []int{2}, committed)
}

func TestCommit_Forces(t *testing.T) {
	idx, clk := newTestIndex(t, Options{CommitDelay: time.Hour})
	_, _ = idx.Put(Document{ID: "a", Name: "notes.md", Content: "meeting notes"})

	assert.Equal(t, 1, idx.Commit())
	assert.Equal(t, 0, clk.Pending())
	assert.Equal(t, []string{"a"}, search(t, idx, criteria.Criteria{Query: "meeting"}))
	assert.Equal(t, 0, idx.Commit())
}

func TestPut_NegativeDelayCommitsImmediately(t *testing.T) {
	idx, _ := newTestIndex(t, Options{CommitDelay: -1})
	_, _ = idx.Put(Document{ID: "a", Name: "x.txt", Content: "hello"})
	assert.Equal(t, []string{"a"}, search(t, idx, criteria.Criteria{Query: "hello"}))
}

func TestPut_Validation(t *testing.T) {
	idx, _ := newTestIndex(t, Options{})

	_, err := idx.Put(Document{Name: "  "})
	assert.ErrorIs(t, err, ErrNameRequired)

	id, err := idx.Put(Document{Name: "generated.txt", Content: "abc"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	idx.Commit()

	doc, ok := idx.Get(id)
	require.True(t, ok)
	assert.Equal(t, epoch, doc.Created)
	assert.Equal(t, int64(3), doc.Size)
}

func TestDelete(t *testing.T) {
	idx, _ := newTestIndex(t, Options{})
	_, _ = idx.Put(Document{ID: "a", Name: "a.txt", Content: "alpha"})
	idx.Commit()

	idx.Delete("a")
	assert.Equal(t, []string{"a"}, search(t, idx, criteria.Criteria{Query: "alpha"}), "delete is pending")
	idx.Commit()
	assert.Empty(t, search(t, idx, criteria.Criteria{Query: "alpha"}))
	assert.Equal(t, 0, idx.Stats().Terms)

	idx.Delete("missing")
	assert.Equal(t, 1, idx.Commit())
}

func TestSearch_TermsAreStemmedAndConjunctive(t *testing.T) {
	idx, _ := newTestIndex(t, Options{})
	_, _ = idx.Put(Document{ID: "a", Name: "a.txt", Content: "quarterly reports for finance"})
	_, _ = idx.Put(Document{ID: "b", Name: "b.txt", Content: "annual report"})
	idx.Commit()

	assert.ElementsMatch(t, []string{"a", "b"}, search(t, idx, criteria.Criteria{Query: "report"}))
	assert.Equal(t, []string{"a"}, search(t, idx, criteria.Criteria{Query: "Finance REPORTS"}))
	assert.Empty(t, search(t, idx, criteria.Criteria{Query: "annual finance"}))
}

func TestSearch_FilenameQueryMatchesExactName(t *testing.T) {
	idx, _ := newTestIndex(t, Options{})
	_, _ = idx.Put(Document{ID: "a", Name: "Report-2024.pdf", Content: "x"})
	_, _ = idx.Put(Document{ID: "b", Name: "report-2024.pdf.bak", Content: "report-2024.pdf"})
	idx.Commit()

	assert.Equal(t, []string{"a"}, search(t, idx, criteria.Criteria{Query: "report-2024.pdf"}))
	assert.Empty(t, search(t, idx, criteria.Criteria{Query: "report-2025.pdf"}))
}

func TestSearch_Filters(t *testing.T) {
	idx, _ := newTestIndex(t, Options{})
	docs := []Document{
		{ID: "a", Name: "a.txt", Folder: "/docs/finance", PreviewStatus: "ready", Created: epoch.AddDate(0, -1, 0), Size: 100, Aspects: []string{"text", "signed"}, Properties: map[string]string{"owner": "kim"}},
		{ID: "b", Name: "b.txt", Folder: "/docs/legal", PreviewStatus: "pending", Created: epoch, Size: 5000, Aspects: []string{"text"}},
		{ID: "c", Name: "c.txt", Folder: "/docs", PreviewStatus: "ready", Created: epoch.AddDate(0, 1, 0), Size: 1 << 20},
	}
	for _, d := range docs {
		_, err := idx.Put(d)
		require.NoError(t, err)
	}
	idx.Commit()

	tests := []struct {
		name    string
		filters criteria.Filters
		want    []string
	}{
		{"none", criteria.Filters{}, []string{"a", "b", "c"}},
		{"folder prefix", criteria.Filters{Folder: "/docs/finance"}, []string{"a"}},
		{"folder prefix not substring", criteria.Filters{Folder: "/doc"}, nil},
		{"folder parent", criteria.Filters{Folder: "/docs/"}, []string{"a", "b", "c"}},
		{"folder glob", criteria.Filters{Folder: "/docs/*"}, []string{"a", "b"}},
		{"preview", criteria.Filters{PreviewStatus: []string{"pending", "failed"}}, []string{"b"}},
		{"created from", criteria.Filters{Created: criteria.DateRange{From: epoch}}, []string{"b", "c"}},
		{"created to exclusive", criteria.Filters{Created: criteria.DateRange{To: epoch}}, []string{"a"}},
		{"size min", criteria.Filters{Size: criteria.SizeRange{Min: 1000}}, []string{"b", "c"}},
		{"size max", criteria.Filters{Size: criteria.SizeRange{Max: 5000}}, []string{"a", "b"}},
		{"all aspects", criteria.Filters{Aspects: []string{"text", "signed"}}, []string{"a"}},
		{"property", criteria.Filters{Properties: map[string]string{"owner": "kim"}}, []string{"a"}},
		{"property mismatch", criteria.Filters{Properties: map[string]string{"owner": "lee"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := search(t, idx, criteria.Criteria{Filters: tt.filters})
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestSearch_OrderAndPaging(t *testing.T) {
	idx, _ := newTestIndex(t, Options{PageSize: 2})
	_, _ = idx.Put(Document{ID: "1", Name: "zeta.txt", Content: "budget budget budget"})
	_, _ = idx.Put(Document{ID: "2", Name: "beta.txt", Content: "budget"})
	_, _ = idx.Put(Document{ID: "3", Name: "alpha.txt", Content: "budget"})
	idx.Commit()

	page, err := idx.Search(context.Background(), criteria.Criteria{Query: "budget"})
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalCount)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "1", page.Items[0].ID)
	assert.Equal(t, "alpha.txt", page.Items[1].Name)
}

func TestSearch_Fuzzy(t *testing.T) {
	idx, _ := newTestIndex(t, Options{Fuzzy: true, FuzzyThreshold: 0.85})
	_, _ = idx.Put(Document{ID: "a", Name: "a.txt", Content: "invoice"})
	idx.Commit()
	assert.Equal(t, []string{"a"}, search(t, idx, criteria.Criteria{Query: "invoise"}))

	strict, _ := newTestIndex(t, Options{})
	_, _ = strict.Put(Document{ID: "a", Name: "a.txt", Content: "invoice"})
	strict.Commit()
	assert.Empty(t, search(t, strict, criteria.Criteria{Query: "invoise"}))
}

func TestSearch_CancelledContext(t *testing.T) {
	idx, _ := newTestIndex(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := idx.Search(ctx, criteria.Criteria{Query: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClose_StopsPendingCommit(t *testing.T) {
	clk := clock.NewFake(epoch)
	idx := New(Options{Clock: clk, CommitDelay: time.Second})
	_, _ = idx.Put(Document{ID: "a", Name: "a.txt", Content: "late"})
	idx.Close()

	clk.Advance(time.Minute)
	assert.Equal(t, 0, idx.Stats().Documents)
}

func TestTerms(t *testing.T) {
	assert.Equal(t, []string{"report", "q3", "2024"}, terms("Reports, Q3-2024"))
	assert.Equal(t, []string{"budget"}, uniqueTerms("budget BUDGET"))
	assert.Empty(t, terms("  -- "))
}
