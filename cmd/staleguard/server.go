package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/staleguard/internal/config"
	"github.com/standardbeagle/staleguard/internal/display"
	"github.com/standardbeagle/staleguard/internal/index"
	"github.com/standardbeagle/staleguard/internal/server"
	"github.com/standardbeagle/staleguard/internal/version"
	"github.com/standardbeagle/staleguard/pkg/pathutil"
)

const serverReadyTimeout = 30 * time.Second

// serverCommand runs the persistent index server until signalled or asked to shut down
func serverCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}

	srv, err := server.NewIndexServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	socketPath := server.SocketPathFor(cfg)
	srv.SetSocketPath(socketPath)

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	out := c.App.Writer
	fmt.Fprintf(out, "Index server started successfully\n")
	fmt.Fprintf(out, "Socket: %s\n", socketPath)
	fmt.Fprintf(out, "Root: %s\n", cfg.Project.Root)
	fmt.Fprintf(out, "Version: %s\n", version.FullInfo())
	fmt.Fprintf(out, "\nUse 'staleguard shutdown' to stop the server\n")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	stopped := make(chan struct{})
	go func() {
		srv.Wait()
		close(stopped)
	}()

	select {
	case sig := <-sigChan:
		fmt.Fprintf(out, "\nReceived signal %v, shutting down...\n", sig)
	case <-stopped:
		fmt.Fprintln(out, "Server shutdown requested")
	case <-c.Context.Done():
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	fmt.Fprintln(out, "Server shut down cleanly")
	return nil
}

// shutdownCommand sends a shutdown request to the running server
func shutdownCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}

	client := server.NewClientWithSocket(server.SocketPathFor(cfg), cfg.RequestTimeout())
	defer client.Close()

	ctx := c.Context
	if !client.IsServerRunning(ctx) {
		return fmt.Errorf("no server is running for root: %s", cfg.Project.Root)
	}

	fmt.Fprintf(c.App.Writer, "Shutting down server for root: %s\n", cfg.Project.Root)
	if err := client.Shutdown(ctx, c.Bool("force")); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for client.IsServerRunning(ctx) {
		if time.Now().After(deadline) {
			return fmt.Errorf("server did not shut down")
		}
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Fprintln(c.App.Writer, "Server shut down successfully")
	return nil
}

// statusCommand prints the index server status
func statusCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}

	client := server.NewClientWithSocket(server.SocketPathFor(cfg), cfg.RequestTimeout())
	defer client.Close()

	status, err := client.GetStatus(c.Context)
	if err != nil {
		return fmt.Errorf("no index server is running for %s (start one with 'staleguard server'): %w", cfg.Project.Root, err)
	}
	return writeStatus(c.App.Writer, c.String("format"), status)
}

func writeStatus(w io.Writer, format string, st *server.IndexStatus) error {
	if format == display.FormatJSON || format == display.FormatYAML {
		b, err := display.Marshal(format, st)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, strings.TrimRight(string(b), "\n"))
		return err
	}

	state := "ready"
	switch {
	case st.IndexingActive:
		state = "indexing"
	case !st.Ready:
		state = "not ready"
	}
	fmt.Fprintf(w, "Index server for %s: %s\n", st.Root, state)
	fmt.Fprintf(w, "  documents: %d  pending: %d  terms: %d\n", st.Documents, st.Pending, st.Terms)
	lastCommit := "never"
	if !st.LastCommit.IsZero() {
		lastCommit = st.LastCommit.Local().Format(time.RFC3339)
	}
	fmt.Fprintf(w, "  commits: %d  last commit: %s\n", st.Commits, lastCommit)
	fmt.Fprintf(w, "  watching: %v\n", st.Watching)
	if st.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", st.Error)
	}
	return nil
}

// addCommand stages files as documents
func addCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("add requires at least one file")
	}
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}
	props, err := parseProps(c.StringSlice("prop"))
	if err != nil {
		return err
	}

	docs := make([]index.Document, 0, c.NArg())
	for _, arg := range c.Args().Slice() {
		doc, err := documentFromFile(cfg.Project.Root, arg)
		if err != nil {
			return err
		}
		if folder := c.String("folder"); folder != "" {
			doc.Folder = folder
		}
		if aspects := c.StringSlice("aspect"); len(aspects) > 0 {
			doc.Aspects = append(doc.Aspects, aspects...)
		}
		for k, v := range props {
			if doc.Properties == nil {
				doc.Properties = make(map[string]string, len(props))
			}
			doc.Properties[k] = v
		}
		docs = append(docs, doc)
	}

	client, err := ensureServerRunning(c, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	ids, err := client.Put(c.Context, docs...)
	if err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	for _, id := range ids {
		fmt.Fprintf(c.App.Writer, "staged %s\n", id)
	}

	if c.Bool("commit") {
		n, err := client.Commit(c.Context)
		if err != nil {
			return fmt.Errorf("failed to commit: %w", err)
		}
		fmt.Fprintf(c.App.Writer, "committed %d\n", n)
	}
	return nil
}

// documentFromFile reads path into a document keyed relative to root.
// Files outside the root are keyed by their base name.
func documentFromFile(root, path string) (index.Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return index.Document{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return index.Document{}, err
	}
	if info.IsDir() {
		return index.Document{}, fmt.Errorf("%s is a directory", path)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return index.Document{}, err
	}

	key, ok := pathutil.ToKey(abs, root)
	if !ok {
		key = filepath.Base(abs)
	}
	return index.DocumentForFile(key, info, data), nil
}

func parseProps(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	props := make(map[string]string, len(values))
	for _, v := range values {
		k, val, ok := strings.Cut(v, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid property %q: expected key=value", v)
		}
		props[k] = val
	}
	return props, nil
}

// commitCommand forces staged writes to become searchable
func commitCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}
	client := server.NewClientWithSocket(server.SocketPathFor(cfg), cfg.RequestTimeout())
	defer client.Close()

	n, err := client.Commit(c.Context)
	if err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "committed %d\n", n)
	return nil
}

// ensureServerRunning returns a client for the root's index server, starting
// a detached server process first when none answers.
func ensureServerRunning(c *cli.Context, cfg *config.Config) (*server.Client, error) {
	client := server.NewClientWithSocket(server.SocketPathFor(cfg), cfg.RequestTimeout())
	if client.IsServerRunning(c.Context) {
		return client, waitForReady(c.Context, client, serverReadyTimeout)
	}

	fmt.Fprintln(c.App.ErrWriter, "Index server not running, starting in background...")

	executable, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %w", err)
	}
	args := []string{"--root", cfg.Project.Root}
	if configPath := c.String("config"); configPath != "" {
		args = append(args, "--config", configPath)
	}
	args = append(args, "server")

	cmd := exec.Command(executable, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start server: %w", err)
	}
	if err := cmd.Process.Release(); err != nil {
		return nil, fmt.Errorf("failed to detach server process: %w", err)
	}

	fmt.Fprintln(c.App.ErrWriter, "Waiting for index server to be ready...")
	if err := waitForReady(c.Context, client, serverReadyTimeout); err != nil {
		return nil, fmt.Errorf("server did not become ready: %w", err)
	}
	return client, nil
}

// waitForReady polls the server until its first scan has completed
func waitForReady(ctx context.Context, client *server.Client, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		st, err := client.GetStatus(ctx)
		if err == nil && st.Ready {
			return nil
		}
		if err == nil && st.Error != "" && !st.IndexingActive {
			return fmt.Errorf("indexing failed: %s", st.Error)
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
