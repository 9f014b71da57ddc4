package index

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/staleguard/internal/debug"
	sgerrors "github.com/standardbeagle/staleguard/internal/errors"
	"github.com/standardbeagle/staleguard/pkg/pathutil"
)

const (
	DefaultMaxFileSize = 1 << 20
	DefaultScanWorkers = 4
)

// DefaultExclude is applied in addition to configured exclusions
var DefaultExclude = []string{".git/**", "**/node_modules/**", "**/.staleguard*"}

// WatcherOptions configures what part of the tree gets ingested
type WatcherOptions struct {
	Root        string
	Include     []string // doublestar patterns over slash-separated relative paths; empty includes all
	Exclude     []string
	MaxFileSize int64
	Workers     int
}

// Watcher mirrors files under a root directory into an Index
type Watcher struct {
	idx     *Index
	opts    WatcherOptions
	root    string
	exclude []string

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex

	eventsProcessed atomic.Int64
	errorCount      atomic.Int64
}

// NewWatcher validates patterns and resolves the root
func NewWatcher(idx *Index, opts WatcherOptions) (*Watcher, error) {
	if opts.Root == "" {
		opts.Root = "."
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultScanWorkers
	}
	for _, p := range append(append([]string{}, opts.Include...), opts.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid pattern %q", p)
		}
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", opts.Root, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		idx:     idx,
		opts:    opts,
		root:    root,
		exclude: append(append([]string{}, DefaultExclude...), opts.Exclude...),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Root returns the absolute root directory
func (w *Watcher) Root() string {
	return w.root
}

// Scan walks the root, loads every eligible file with a bounded worker pool,
// and commits the result. It returns the number of documents indexed.
func (w *Watcher) Scan(ctx context.Context) (int, error) {
	var files []string
	visited := make(map[string]bool)
	err := filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			real, err := filepath.EvalSymlinks(p)
			if err != nil || visited[real] {
				return filepath.SkipDir
			}
			visited[real] = true
			if p != w.root && w.ignoreDir(p) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && w.shouldProcess(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk %s: %w", w.root, err)
	}

	var indexed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.Workers)
	for _, p := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ok, err := w.ingest(p)
			if err != nil {
				w.errorCount.Add(1)
				ierr := sgerrors.NewIndexError("read", err).WithDocument(pathutil.ToRelative(p, w.root)).WithRecoverable(true)
				debug.LogIndex("scan: skipping: %v", ierr)
				return nil
			}
			if ok {
				indexed.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(indexed.Load()), err
	}

	w.idx.Commit()
	debug.LogIndex("scan of %s indexed %d files", w.root, indexed.Load())
	return int(indexed.Load()), nil
}

// Start watches the tree for changes until Stop
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fw
	if err := w.addWatches(w.root); err != nil {
		_ = fw.Close()
		return fmt.Errorf("failed to add watches starting from %s: %w", w.root, err)
	}

	w.started = true
	w.wg.Add(1)
	go w.processEvents()
	debug.LogIndex("watching %s", w.root)
	return nil
}

// Stop ends watching and waits for the event goroutine
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancel()
	if !w.started {
		return nil
	}
	w.started = false
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

// EventsProcessed counts file events that reached the index
func (w *Watcher) EventsProcessed() int64 {
	return w.eventsProcessed.Load()
}

// Errors counts files that could not be read
func (w *Watcher) Errors() int64 {
	return w.errorCount.Load()
}

func (w *Watcher) addWatches(root string) error {
	visited := make(map[string]bool)
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		real, err := filepath.EvalSymlinks(p)
		if err != nil || visited[real] {
			return filepath.SkipDir
		}
		visited[real] = true
		if p != root && w.ignoreDir(p) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(p); err != nil {
			debug.LogIndex("failed to watch %s: %v", p, err)
		}
		return nil
	})
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.errorCount.Add(1)
			debug.LogIndex("watch error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	p := event.Name
	info, err := os.Stat(p)
	if err != nil {
		if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
			if id, ok := w.relative(p); ok {
				w.idx.Delete(id)
				w.eventsProcessed.Add(1)
			}
		}
		return
	}

	if info.IsDir() {
		if event.Op&fsnotify.Create != 0 && !w.ignoreDir(p) {
			if err := w.addWatches(p); err != nil {
				debug.LogIndex("failed to watch new directory %s: %v", p, err)
			}
			// files written before the watch was in place
			w.ingestTree(p)
		}
		return
	}

	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || !w.shouldProcess(p) {
		return
	}
	if _, err := w.ingest(p); err != nil {
		w.errorCount.Add(1)
		debug.LogIndex("failed to ingest %s: %v", p, err)
		return
	}
	w.eventsProcessed.Add(1)
}

func (w *Watcher) ingestTree(dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != dir && w.ignoreDir(p) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && w.shouldProcess(p) {
			if ok, err := w.ingest(p); err == nil && ok {
				w.eventsProcessed.Add(1)
			}
		}
		return nil
	})
}

// ingest loads p and stages it; false means the file was skipped
func (w *Watcher) ingest(p string) (bool, error) {
	doc, ok, err := w.load(p)
	if err != nil || !ok {
		return false, err
	}
	if _, err := w.idx.Put(doc); err != nil {
		return false, err
	}
	return true, nil
}

func (w *Watcher) load(p string) (Document, bool, error) {
	rel, ok := w.relative(p)
	if !ok {
		return Document{}, false, nil
	}
	info, err := os.Stat(p)
	if err != nil {
		return Document{}, false, err
	}
	if info.Size() > w.opts.MaxFileSize {
		debug.LogIndex("skipping oversized file %s (%d bytes)", rel, info.Size())
		return Document{}, false, nil
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return Document{}, false, err
	}
	return DocumentForFile(rel, info, data), true, nil
}

// DocumentForFile maps a file to a document keyed by its slash-separated
// relative path. Valid UTF-8 is indexed as text, anything else as binary.
func DocumentForFile(rel string, info fs.FileInfo, data []byte) Document {
	dir := path.Dir(rel)
	folder := "/"
	if dir != "." {
		folder = "/" + dir
	}
	doc := Document{
		ID:            rel,
		Name:          path.Base(rel),
		Path:          rel,
		Folder:        folder,
		PreviewStatus: "none",
		Created:       info.ModTime(),
		Size:          info.Size(),
		Aspects:       []string{"binary"},
	}
	if utf8.Valid(data) {
		doc.Content = string(data)
		doc.PreviewStatus = "ready"
		doc.Aspects = []string{"text"}
	}
	if ext := strings.TrimPrefix(path.Ext(rel), "."); ext != "" {
		doc.Properties = map[string]string{"ext": strings.ToLower(ext)}
	}
	return doc
}

func (w *Watcher) relative(p string) (string, bool) {
	return pathutil.ToKey(p, w.root)
}

func (w *Watcher) shouldProcess(p string) bool {
	rel, ok := w.relative(p)
	if !ok || w.excluded(rel) {
		return false
	}
	if len(w.opts.Include) == 0 {
		return true
	}
	for _, pattern := range w.opts.Include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) ignoreDir(p string) bool {
	rel, ok := w.relative(p)
	if !ok {
		return false
	}
	for _, pattern := range w.exclude {
		dirPattern := strings.TrimSuffix(pattern, "/**")
		if ok, _ := doublestar.Match(dirPattern, rel); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) excluded(rel string) bool {
	for _, pattern := range w.exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
