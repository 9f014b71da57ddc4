package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/staleguard/internal/backend"
	"github.com/standardbeagle/staleguard/internal/clock"
	"github.com/standardbeagle/staleguard/internal/config"
	"github.com/standardbeagle/staleguard/internal/criteria"
	"github.com/standardbeagle/staleguard/internal/display"
	"github.com/standardbeagle/staleguard/internal/governor"
	"github.com/standardbeagle/staleguard/internal/server"
	"github.com/standardbeagle/staleguard/internal/session"
	"github.com/standardbeagle/staleguard/testhelpers"
)

// runCLI runs the app in-process and returns what it wrote
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &errOut
	app.Reader = strings.NewReader("")
	err := app.Run(append([]string{"staleguard"}, args...))
	return out.String(), err
}

// startTestServer hosts an index server for root at the socket the CLI derives
func startTestServer(t *testing.T, root string) *server.Client {
	t.Helper()
	cfg := testhelpers.NewTestConfigBuilder(root).Build()
	require.NoError(t, config.ValidateConfig(cfg))

	srv, err := server.NewIndexServer(cfg)
	require.NoError(t, err)
	srv.SetSocketPath(server.SocketPathFor(cfg))
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, srv.Shutdown(ctx))
	})

	client := server.NewClientWithSocket(server.SocketPathFor(cfg), 5*time.Second)
	t.Cleanup(client.Close)
	require.NoError(t, waitForReady(context.Background(), client, 5*time.Second))
	return client
}

func TestCLI_AddCommitSearchStatus(t *testing.T) {
	root := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	require.NoError(t, os.WriteFile(filepath.Join(root, "annual.md"), []byte("annual report"), 0o644))
	startTestServer(t, root)

	out, err := runCLI(t, "--root", root, "search", "annual")
	require.NoError(t, err)
	assert.Contains(t, out, `search "annual" [fresh]`)
	assert.Contains(t, out, "→ annual.md")

	note := filepath.Join(root, "notes", "q3.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(note), 0o755))
	require.NoError(t, os.WriteFile(note, []byte("quarterly numbers"), 0o644))

	out, err = runCLI(t, "--root", root, "add", "--aspect", "audited", "--prop", "owner=ana", note)
	require.NoError(t, err)
	assert.Contains(t, out, "staged notes/q3.md")

	out, err = runCLI(t, "--root", root, "--format", "json", "status")
	require.NoError(t, err)
	var st server.IndexStatus
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.True(t, st.Ready)
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, 1, st.Documents)

	// staged but uncommitted: the empty answer falls back to nothing, since
	// this process has no earlier results
	out, err = runCLI(t, "--root", root, "search", "quarterly")
	require.NoError(t, err)
	assert.Contains(t, out, "No matches")

	out, err = runCLI(t, "--root", root, "commit")
	require.NoError(t, err)
	assert.Contains(t, out, "committed 1")

	out, err = runCLI(t, "--root", root, "--format", "yaml", "search", "quarterly aspect:audited prop:owner=ana folder:/notes")
	require.NoError(t, err)
	assert.Contains(t, out, "state: fresh")
	assert.Contains(t, out, "total_count: 1")
	assert.Contains(t, out, "path: notes/q3.md")

	out, err = runCLI(t, "--root", root, "status")
	require.NoError(t, err)
	assert.Contains(t, out, ": ready")
	assert.Contains(t, out, "documents: 2  pending: 0")
}

func TestCLI_StatusWithoutServer(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	_, err := runCLI(t, "--root", t.TempDir(), "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no index server is running")
}

func TestCLI_RejectsUnknownFormat(t *testing.T) {
	_, err := runCLI(t, "--format", "xml", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func TestCLI_InvalidConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()
	cfgPath := filepath.Join(root, "bad.kdl")
	require.NoError(t, os.WriteFile(cfgPath, []byte("governor {\n    max_attempts 50\n}\n"), 0o644))

	_, err := runCLI(t, "--root", root, "--config", cfgPath, "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "governor.max_attempts")
}

func TestParseProps(t *testing.T) {
	props, err := parseProps([]string{"owner=ana", "team=finance=emea"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"owner": "ana", "team": "finance=emea"}, props)

	_, err = parseProps([]string{"=x"})
	assert.Error(t, err)
	_, err = parseProps([]string{"novalue"})
	assert.Error(t, err)

	props, err = parseProps(nil)
	require.NoError(t, err)
	assert.Nil(t, props)
}

func TestDocumentFromFile(t *testing.T) {
	root := t.TempDir()
	inside := filepath.Join(root, "finance", "annual.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(inside), 0o755))
	require.NoError(t, os.WriteFile(inside, []byte("annual report"), 0o644))

	doc, err := documentFromFile(root, inside)
	require.NoError(t, err)
	assert.Equal(t, "finance/annual.md", doc.ID)
	assert.Equal(t, "/finance", doc.Folder)
	assert.Equal(t, "annual report", doc.Content)

	outside := filepath.Join(t.TempDir(), "loose.txt")
	require.NoError(t, os.WriteFile(outside, []byte("loose"), 0o644))
	doc, err = documentFromFile(root, outside)
	require.NoError(t, err)
	assert.Equal(t, "loose.txt", doc.ID)
	assert.Equal(t, "/", doc.Folder)

	_, err = documentFromFile(root, root)
	assert.Error(t, err)
}

func TestWriteStatus_Text(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeStatus(&buf, display.FormatText, &server.IndexStatus{
		Root: "/docs", IndexingActive: true, Documents: 3, Error: "scan failed",
	}))
	out := buf.String()
	assert.Contains(t, out, "Index server for /docs: indexing")
	assert.Contains(t, out, "last commit: never")
	assert.Contains(t, out, "error: scan failed")
}

// tableBackend answers from a mutable table of hit counts
type tableBackend struct {
	mu   sync.Mutex
	hits map[string]int
	errs map[string]error
}

func (b *tableBackend) set(q string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hits[q] = n
}

func (b *tableBackend) Search(_ context.Context, c criteria.Criteria) (backend.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.errs[c.Query]; err != nil {
		return backend.Page{}, err
	}
	page := backend.Page{TotalCount: b.hits[c.Query]}
	for i := 0; i < page.TotalCount; i++ {
		page.Items = append(page.Items, backend.Item{ID: fmt.Sprint(i), Name: fmt.Sprintf("%s-%d.md", c.Query, i)})
	}
	return page, nil
}

func newTestREPL(t *testing.T) (*repl, *tableBackend, *clock.Fake, *bytes.Buffer) {
	t.Helper()
	tb := &tableBackend{hits: make(map[string]int), errs: make(map[string]error)}
	clk := clock.NewFake(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	sess, err := session.New(tb, session.Options{Clock: clk})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	var out bytes.Buffer
	return &repl{
		sess:      sess,
		out:       &out,
		formatter: display.NewViewFormatter(display.FormatterOptions{Format: display.FormatText}),
		wait:      5 * time.Second,
	}, tb, clk, &out
}

func TestREPL_Session(t *testing.T) {
	r, tb, _, out := newTestREPL(t)
	tb.set("annual", 2)
	ctx := context.Background()

	require.NoError(t, r.exec(ctx, "annual"))
	assert.Contains(t, out.String(), "2 results")

	out.Reset()
	require.NoError(t, r.exec(ctx, "quarterly"))
	assert.Contains(t, out.String(), "[showing_stale]")
	assert.Contains(t, out.String(), `Showing earlier results for "annual"`)
	assert.Contains(t, out.String(), "Retry 1/3 in 1.5s.")

	out.Reset()
	require.NoError(t, r.exec(ctx, ":reveal"))
	assert.Equal(t, "nothing to reveal\n", out.String())

	out.Reset()
	require.NoError(t, r.exec(ctx, ":hide"))
	assert.Contains(t, out.String(), "[dismissed]")

	tb.set("quarterly", 1)
	out.Reset()
	require.NoError(t, r.exec(ctx, ":retry"))
	assert.Contains(t, out.String(), "[fresh]")
	assert.Contains(t, out.String(), "1 results")

	out.Reset()
	require.NoError(t, r.exec(ctx, ":dismiss"))
	assert.Equal(t, "no error to dismiss\n", out.String())

	assert.Error(t, r.exec(ctx, ":bogus"))
	assert.Error(t, r.exec(ctx, "prop:broken"))
	assert.ErrorIs(t, r.exec(ctx, ":quit"), errQuit)
	assert.NoError(t, r.exec(ctx, "   "))
}

func TestREPL_ErrorAlert(t *testing.T) {
	r, tb, _, out := newTestREPL(t)
	tb.errs["broken"] = &backend.HTTPError{Status: 502, Message: "bad gateway"}
	ctx := context.Background()

	require.NoError(t, r.exec(ctx, "broken"))
	assert.Contains(t, out.String(), "error: bad gateway (:retry-error to retry")

	tb.mu.Lock()
	delete(tb.errs, "broken")
	tb.mu.Unlock()
	tb.set("broken", 1)

	out.Reset()
	require.NoError(t, r.exec(ctx, ":retry-error"))
	assert.Contains(t, out.String(), "1 results")
	assert.NotContains(t, out.String(), "error:")

	out.Reset()
	require.NoError(t, r.exec(ctx, ":retry-error"))
	assert.Equal(t, "no retryable error\n", out.String())
}

func TestREPL_RunUntilQuit(t *testing.T) {
	r, tb, _, out := newTestREPL(t)
	tb.set("annual", 1)

	in := strings.NewReader("annual\n:bogus\n:state\n:quit\nnever-run\n")
	require.NoError(t, r.run(context.Background(), in))

	s := out.String()
	assert.Contains(t, s, "1 results")
	assert.Contains(t, s, "error: unknown command :bogus")
	assert.NotContains(t, s, "never-run")
	assert.Equal(t, 4, strings.Count(s, "> "))
}

func TestREPL_FollowUntilFresh(t *testing.T) {
	r, tb, clk, out := newTestREPL(t)
	tb.set("annual", 1)
	ctx := context.Background()

	require.NoError(t, r.search(ctx, "annual"))
	updates, unsubscribe := r.sess.Subscribe()
	defer unsubscribe()
	require.NoError(t, r.search(ctx, "quarterly"))
	out.Reset()

	done := make(chan error, 1)
	go func() { done <- r.follow(ctx, updates) }()

	// nothing to follow yet; the first timed retry misses
	require.Eventually(t, func() bool { return clk.Pending() == 1 }, 5*time.Second, 5*time.Millisecond)
	clk.Advance(1500 * time.Millisecond)
	_, err := r.sess.WaitFor(ctx, func(v governor.ViewState) bool { return v.Attempt == 1 && !v.Loading })
	require.NoError(t, err)

	tb.set("quarterly", 3)
	clk.Advance(3 * time.Second)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("follow did not return once results were fresh")
	}
	assert.Contains(t, out.String(), "Retry 2/3 in 3.0s.")
	assert.Contains(t, out.String(), "3 results")
	assert.NotContains(t, out.String(), "Retry 1/3", "states already shown are not repeated")
}
