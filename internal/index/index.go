// Package index is a small in-memory document index with eventually
// consistent writes. Put and Delete land in a pending set that only becomes
// searchable after a debounced commit, which is exactly the window in which
// a freshly added document searches as empty.
package index

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/hbollon/go-edlib"

	"github.com/standardbeagle/staleguard/internal/backend"
	"github.com/standardbeagle/staleguard/internal/classifier"
	"github.com/standardbeagle/staleguard/internal/clock"
	"github.com/standardbeagle/staleguard/internal/criteria"
	"github.com/standardbeagle/staleguard/internal/debug"
	sgerrors "github.com/standardbeagle/staleguard/internal/errors"
)

const (
	DefaultCommitDelay    = 750 * time.Millisecond
	DefaultPageSize       = 50
	DefaultFuzzyThreshold = 0.85
)

// ErrNameRequired is returned by Put for a document without a name
var ErrNameRequired = errors.New("index: document name is required")

// Document is one indexed file or record
type Document struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Path          string            `json:"path,omitempty"`
	Folder        string            `json:"folder,omitempty"`
	PreviewStatus string            `json:"preview_status,omitempty"`
	Created       time.Time         `json:"created,omitempty"`
	Size          int64             `json:"size,omitempty"`
	Aspects       []string          `json:"aspects,omitempty"`
	Properties    map[string]string `json:"properties,omitempty"`
	Content       string            `json:"content,omitempty"`
}

// Options configures an Index. Zero values get defaults.
type Options struct {
	// CommitDelay is the quiet period before pending writes become visible.
	// Negative commits every write immediately.
	CommitDelay    time.Duration
	Fuzzy          bool
	FuzzyThreshold float64
	PageSize       int
	Clock          clock.Clock
	OnCommit       func(n int)
}

// Stats describes the index for /status
type Stats struct {
	Documents  int       `json:"documents"`
	Pending    int       `json:"pending"`
	Terms      int       `json:"terms"`
	Commits    int       `json:"commits"`
	LastCommit time.Time `json:"last_commit,omitempty"`
}

type entry struct {
	doc  Document
	tf   map[string]int
	name string // lowercase name
}

// pendingOp is a staged write; a nil doc is a delete
type pendingOp struct {
	doc *Document
}

// Index is safe for concurrent use
type Index struct {
	opts Options
	clk  clock.Clock

	mu         sync.RWMutex
	docs       map[string]*entry
	postings   map[string]map[string]struct{}
	pending    map[string]pendingOp
	commits    int
	lastCommit time.Time

	committer *committer
}

// New creates an empty index
func New(opts Options) *Index {
	if opts.CommitDelay == 0 {
		opts.CommitDelay = DefaultCommitDelay
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.FuzzyThreshold <= 0 || opts.FuzzyThreshold > 1 {
		opts.FuzzyThreshold = DefaultFuzzyThreshold
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	idx := &Index{
		opts:     opts,
		clk:      opts.Clock,
		docs:     make(map[string]*entry),
		postings: make(map[string]map[string]struct{}),
		pending:  make(map[string]pendingOp),
	}
	idx.committer = newCommitter(opts.Clock, opts.CommitDelay, idx.apply)
	idx.committer.setOnCommit(opts.OnCommit)
	return idx
}

// Put stages an upsert and returns the document ID, generating one if empty
func (idx *Index) Put(doc Document) (string, error) {
	if strings.TrimSpace(doc.Name) == "" {
		return "", sgerrors.NewIndexError("put", ErrNameRequired).WithDocument(doc.ID)
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Created.IsZero() {
		doc.Created = idx.clk.Now()
	}
	doc.Created = doc.Created.UTC()
	if doc.Size == 0 {
		doc.Size = int64(len(doc.Content))
	}

	idx.mu.Lock()
	idx.pending[doc.ID] = pendingOp{doc: &doc}
	idx.mu.Unlock()

	idx.committer.schedule()
	return doc.ID, nil
}

// Delete stages removal of id. Unknown IDs are ignored at commit.
func (idx *Index) Delete(id string) {
	idx.mu.Lock()
	idx.pending[id] = pendingOp{}
	idx.mu.Unlock()

	idx.committer.schedule()
}

// Commit makes every pending write visible now and returns how many were applied
func (idx *Index) Commit() int {
	return idx.committer.force()
}

// SetOnCommit replaces the commit callback
func (idx *Index) SetOnCommit(cb func(n int)) {
	idx.committer.setOnCommit(cb)
}

// Close stops the commit timer. Pending writes are discarded.
func (idx *Index) Close() {
	idx.committer.shutdown()
}

// Reset drops every committed and pending document
func (idx *Index) Reset() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.docs = make(map[string]*entry)
	idx.postings = make(map[string]map[string]struct{})
	idx.pending = make(map[string]pendingOp)
}

func (idx *Index) apply() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n := len(idx.pending)
	if n == 0 {
		return 0
	}
	for id, op := range idx.pending {
		idx.unindex(id)
		if op.doc != nil {
			idx.indexDoc(*op.doc)
		}
	}
	idx.pending = make(map[string]pendingOp)
	idx.commits++
	idx.lastCommit = idx.clk.Now()
	return n
}

func (idx *Index) indexDoc(doc Document) {
	tf := termFrequencies(doc.Name + " " + doc.Path + " " + doc.Content)
	idx.docs[doc.ID] = &entry{doc: doc, tf: tf, name: strings.ToLower(doc.Name)}
	for t := range tf {
		set, ok := idx.postings[t]
		if !ok {
			set = make(map[string]struct{})
			idx.postings[t] = set
		}
		set[doc.ID] = struct{}{}
	}
}

func (idx *Index) unindex(id string) {
	e, ok := idx.docs[id]
	if !ok {
		return
	}
	for t := range e.tf {
		if set := idx.postings[t]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(idx.postings, t)
			}
		}
	}
	delete(idx.docs, id)
}

// Get returns a committed document
func (idx *Index) Get(id string) (Document, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.docs[id]
	if !ok {
		return Document{}, false
	}
	return e.doc, true
}

// Stats reports document and term counts
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return Stats{
		Documents:  len(idx.docs),
		Pending:    len(idx.pending),
		Terms:      len(idx.postings),
		Commits:    idx.commits,
		LastCommit: idx.lastCommit,
	}
}

// Search implements backend.Searcher over committed documents only
func (idx *Index) Search(ctx context.Context, c criteria.Criteria) (backend.Page, error) {
	if err := ctx.Err(); err != nil {
		return backend.Page{}, err
	}
	c = c.Normalize()

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var candidates map[string]float64
	query := strings.TrimSpace(c.Query)
	switch {
	case query == "":
		candidates = make(map[string]float64, len(idx.docs))
		for id := range idx.docs {
			candidates[id] = 0
		}
	case classifier.LooksLikeFilename(query, classifier.DefaultMaxExtensionLength):
		candidates = idx.matchName(strings.ToLower(query))
	default:
		candidates = idx.matchTerms(uniqueTerms(query))
	}

	matches := make([]backend.Item, 0, len(candidates))
	for id, score := range candidates {
		e := idx.docs[id]
		if !matchFilters(e.doc, c.Filters) {
			continue
		}
		matches = append(matches, toItem(e.doc, score))
	}
	if err := ctx.Err(); err != nil {
		return backend.Page{}, err
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].Name != matches[j].Name {
			return matches[i].Name < matches[j].Name
		}
		return matches[i].ID < matches[j].ID
	})

	page := backend.Page{TotalCount: len(matches), Items: matches}
	if len(page.Items) > idx.opts.PageSize {
		page.Items = page.Items[:idx.opts.PageSize]
	}
	debug.LogIndex("search %q: %d matches", c.Query, page.TotalCount)
	return page, nil
}

func (idx *Index) matchName(name string) map[string]float64 {
	out := make(map[string]float64)
	for id, e := range idx.docs {
		if e.name == name {
			out[id] = 1
		}
	}
	return out
}

// matchTerms requires every query term to hit; the score sums term frequencies
func (idx *Index) matchTerms(qterms []string) map[string]float64 {
	if len(qterms) == 0 {
		return nil
	}
	var out map[string]float64
	for _, qt := range qterms {
		hits := idx.expand(qt)
		if len(hits) == 0 {
			return nil
		}
		next := make(map[string]float64)
		for id, weight := range hits {
			if out != nil {
				prev, ok := out[id]
				if !ok {
					continue
				}
				next[id] = prev + weight
				continue
			}
			next[id] = weight
		}
		if len(next) == 0 {
			return nil
		}
		out = next
	}
	return out
}

// expand returns the documents holding qt, plus fuzzy neighbours when enabled
func (idx *Index) expand(qt string) map[string]float64 {
	hits := make(map[string]float64)
	add := func(term string, similarity float64) {
		for id := range idx.postings[term] {
			w := similarity * float64(idx.docs[id].tf[term])
			if w > hits[id] {
				hits[id] = w
			}
		}
	}
	add(qt, 1)
	if !idx.opts.Fuzzy {
		return hits
	}
	for term := range idx.postings {
		if term == qt {
			continue
		}
		sim, err := edlib.StringsSimilarity(qt, term, edlib.JaroWinkler)
		if err != nil || float64(sim) < idx.opts.FuzzyThreshold {
			continue
		}
		add(term, float64(sim))
	}
	return hits
}

func matchFilters(doc Document, f criteria.Filters) bool {
	if f.Folder != "" && !matchFolder(doc.Folder, f.Folder) {
		return false
	}
	if len(f.PreviewStatus) > 0 && !contains(f.PreviewStatus, doc.PreviewStatus) {
		return false
	}
	if !f.Created.From.IsZero() && doc.Created.Before(f.Created.From) {
		return false
	}
	if !f.Created.To.IsZero() && !doc.Created.Before(f.Created.To) {
		return false
	}
	if f.Size.Min > 0 && doc.Size < f.Size.Min {
		return false
	}
	if f.Size.Max > 0 && doc.Size > f.Size.Max {
		return false
	}
	for _, a := range f.Aspects {
		if !contains(doc.Aspects, a) {
			return false
		}
	}
	for k, v := range f.Properties {
		if doc.Properties[k] != v {
			return false
		}
	}
	return true
}

// matchFolder treats scope as a glob when it has meta characters, a path prefix otherwise
func matchFolder(folder, scope string) bool {
	if strings.ContainsAny(scope, "*?[{") {
		ok, err := doublestar.Match(scope, folder)
		return err == nil && ok
	}
	scope = strings.TrimSuffix(scope, "/")
	if scope == "" {
		return true
	}
	return folder == scope || strings.HasPrefix(folder, scope+"/")
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func toItem(doc Document, score float64) backend.Item {
	item := backend.Item{
		ID:            doc.ID,
		Name:          doc.Name,
		Path:          doc.Path,
		Folder:        doc.Folder,
		PreviewStatus: doc.PreviewStatus,
		Created:       doc.Created,
		Size:          doc.Size,
		Score:         score,
	}
	if len(doc.Aspects) > 0 {
		item.Aspects = append([]string(nil), doc.Aspects...)
	}
	if len(doc.Properties) > 0 {
		item.Properties = make(map[string]string, len(doc.Properties))
		for k, v := range doc.Properties {
			item.Properties[k] = v
		}
	}
	return item
}
