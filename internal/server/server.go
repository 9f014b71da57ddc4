package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/standardbeagle/staleguard/internal/config"
	"github.com/standardbeagle/staleguard/internal/debug"
	sgerrors "github.com/standardbeagle/staleguard/internal/errors"
	"github.com/standardbeagle/staleguard/internal/index"
	"github.com/standardbeagle/staleguard/internal/metrics"
	"github.com/standardbeagle/staleguard/internal/version"
)

// MsgNotReady is the 503 body while the index is (re)building
const MsgNotReady = "index not ready"

// IndexServer serves a document index over a unix socket. Writes are
// eventually consistent: they become searchable after a debounced commit.
type IndexServer struct {
	idx      *index.Index
	watcher  *index.Watcher
	cfg      *config.Config
	registry *prometheus.Registry
	metrics  *metrics.Server

	listener     net.Listener
	server       *http.Server
	startTime    time.Time
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc

	mu             sync.RWMutex
	running        bool
	ready          bool
	indexingActive bool
	watching       bool
	lastError      string
	socketPath     string
}

// NewIndexServer creates a server over an empty index for cfg.Project.Root
func NewIndexServer(cfg *config.Config) (*IndexServer, error) {
	idx := index.New(cfg.IndexOptions())
	watcher, err := index.NewWatcher(idx, cfg.WatcherOptions())
	if err != nil {
		idx.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	m := metrics.NewServer(registry)
	idx.SetOnCommit(func(n int) {
		m.RecordCommit(n, idx.Stats().Documents)
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &IndexServer{
		idx:          idx,
		watcher:      watcher,
		cfg:          cfg,
		registry:     registry,
		metrics:      m,
		startTime:    time.Now(),
		shutdownChan: make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
		socketPath:   cfg.Server.Socket,
	}, nil
}

// GetSocketPathForRoot returns the socket of the server for root. Each
// root gets its own server.
func GetSocketPathForRoot(root string) string {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		absRoot = root
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("staleguard-%016x.sock", xxhash.Sum64String(absRoot)))
}

// SocketPathFor resolves the configured socket, deriving one from the root if unset
func SocketPathFor(cfg *config.Config) string {
	if cfg.Server.Socket != "" {
		return cfg.Server.Socket
	}
	return GetSocketPathForRoot(cfg.Project.Root)
}

// SetSocketPath overrides the socket path
func (s *IndexServer) SetSocketPath(path string) {
	s.socketPath = path
}

// GetServerSocketPath returns the socket path this server is using
func (s *IndexServer) GetServerSocketPath() string {
	if s.socketPath != "" {
		return s.socketPath
	}
	return GetSocketPathForRoot(s.cfg.Project.Root)
}

// Index exposes the served index
func (s *IndexServer) Index() *index.Index {
	return s.idx
}

// Start listens on the socket and builds the index in the background.
// /search answers 503 until the first scan completes.
func (s *IndexServer) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	socketPath := s.GetServerSocketPath()
	_ = os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("failed to create socket: %w", err)
	}
	s.listener = listener
	_ = os.Chmod(socketPath, 0600)

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.rebuild(true)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			debug.LogServer("server error: %v", err)
		}
	}()

	debug.LogServer("index server started on %s (pid: %d)", socketPath, os.Getpid())
	debug.LogServer("project root: %s", s.cfg.Project.Root)
	return nil
}

// rebuild drops the index and rescans the root. The first build also
// starts the file watcher when configured.
func (s *IndexServer) rebuild(first bool) {
	s.mu.Lock()
	if s.indexingActive {
		s.mu.Unlock()
		return
	}
	s.indexingActive = true
	s.ready = false
	s.mu.Unlock()
	s.metrics.SetReady(false)

	s.idx.Reset()
	n, err := s.watcher.Scan(s.ctx)

	s.mu.Lock()
	s.indexingActive = false
	if err != nil {
		s.lastError = err.Error()
		s.mu.Unlock()
		debug.LogServer("indexing %s failed: %v", s.cfg.Project.Root, err)
		return
	}
	s.lastError = ""
	s.ready = true
	s.mu.Unlock()
	s.metrics.SetReady(true)
	s.metrics.Documents.Set(float64(s.idx.Stats().Documents))
	debug.LogServer("index ready: %d documents", n)

	if first && s.cfg.Index.Watch {
		if err := s.watcher.Start(); err != nil {
			debug.LogServer("file watching disabled: %v", err)
			return
		}
		s.mu.Lock()
		s.watching = true
		s.mu.Unlock()
	}
}

// Handler returns the RPC mux
func (s *IndexServer) Handler() http.Handler {
	mux := http.NewServeMux()
	s.handle(mux, "/ping", s.handlePing)
	s.handle(mux, "/status", s.handleStatus)
	s.handle(mux, "/search", s.handleSearch)
	s.handle(mux, "/documents", s.handleDocuments)
	s.handle(mux, "/commit", s.handleCommit)
	s.handle(mux, "/reindex", s.handleReindex)
	s.handle(mux, "/shutdown", s.handleShutdown)
	mux.Handle("/metrics", metrics.Handler(s.registry))
	return mux
}

// statusRecorder captures the response code for metrics
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *IndexServer) handle(mux *http.ServeMux, endpoint string, h http.HandlerFunc) {
	mux.HandleFunc(endpoint, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		h(rec, r)
		s.metrics.RecordRequest(endpoint, rec.code, time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.LogServer("failed to encode response: %v", err)
	}
}

func (s *IndexServer) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, PingResponse{
		Uptime:  time.Since(s.startTime).Seconds(),
		Version: version.Version,
		BuildID: version.BuildID(),
		PID:     os.Getpid(),
	})
}

func (s *IndexServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.idx.Stats()

	s.mu.RLock()
	status := IndexStatus{
		Ready:          s.ready,
		IndexingActive: s.indexingActive,
		Root:           s.cfg.Project.Root,
		Documents:      stats.Documents,
		Pending:        stats.Pending,
		Terms:          stats.Terms,
		Commits:        stats.Commits,
		LastCommit:     stats.LastCommit,
		Watching:       s.watching,
		Error:          s.lastError,
	}
	s.mu.RUnlock()

	writeJSON(w, status)
}

func (s *IndexServer) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

func (s *IndexServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid search request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if !s.isReady() {
		http.Error(w, MsgNotReady, http.StatusServiceUnavailable)
		return
	}

	page, err := s.idx.Search(r.Context(), req.Criteria)
	if err != nil {
		serr := sgerrors.NewSearchError(req.Criteria.Query, err)
		debug.LogServer("%v", serr)
		http.Error(w, serr.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, page)
}

func (s *IndexServer) handleDocuments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req PutRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid documents request: "+err.Error(), http.StatusBadRequest)
			return
		}
		resp := PutResponse{IDs: make([]string, 0, len(req.Documents))}
		for _, doc := range req.Documents {
			id, err := s.idx.Put(doc)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			resp.IDs = append(resp.IDs, id)
		}
		writeJSON(w, resp)
	case http.MethodDelete:
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "missing id", http.StatusBadRequest)
			return
		}
		s.idx.Delete(id)
		writeJSON(w, DeleteResponse{ID: id})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *IndexServer) handleCommit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, CommitResponse{Committed: s.idx.Commit()})
}

func (s *IndexServer) handleReindex(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	busy := s.indexingActive
	s.mu.RUnlock()
	if busy {
		writeJSON(w, ReindexResponse{Success: false, Message: "indexing already in progress"})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.rebuild(false)
	}()
	writeJSON(w, ReindexResponse{
		Success: true,
		Message: fmt.Sprintf("re-indexing started for %s", s.cfg.Project.Root),
	})
}

func (s *IndexServer) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, ShutdownResponse{Success: true, Message: "server shutting down"})

	// let the response flush before Wait returns
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.shutdownOnce.Do(func() { close(s.shutdownChan) })
	}()
}

// Wait blocks until a client requests shutdown
func (s *IndexServer) Wait() {
	<-s.shutdownChan
}

// Shutdown stops serving, stops the watcher and removes the socket
func (s *IndexServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	var errs []error
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}
	s.wg.Wait()

	if err := s.watcher.Stop(); err != nil {
		errs = append(errs, err)
	}
	s.idx.Close()
	_ = os.Remove(s.GetServerSocketPath())

	debug.LogServer("index server shut down")
	return sgerrors.NewMultiError(errs).ErrorOrNil()
}
