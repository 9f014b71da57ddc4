package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/staleguard/internal/config"
	"github.com/standardbeagle/staleguard/internal/debug"
	"github.com/standardbeagle/staleguard/internal/mcp"
	"github.com/standardbeagle/staleguard/internal/metrics"
	"github.com/standardbeagle/staleguard/internal/server"
)

// mcpCommand serves one search session as MCP tools over stdio. It reuses a
// running index server for the root, or hosts one in-process so CLI commands
// can share the same index.
func mcpCommand(c *cli.Context) error {
	debug.SetMCPMode(true)

	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return debug.Fatal("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := server.NewClientWithSocket(server.SocketPathFor(cfg), cfg.RequestTimeout())
	defer client.Close()

	var indexServer *server.IndexServer
	if !client.IsServerRunning(ctx) {
		indexServer, err = startSharedIndexServer(cfg)
		if err != nil {
			return debug.Fatal("failed to start index server: %v", err)
		}
		defer shutdownIndexServer(indexServer)
	}
	if err := waitForReady(ctx, client, serverReadyTimeout); err != nil {
		// Searches answer with a structural error until the index is ready
		debug.LogMCP("index not ready yet: %v", err)
	}

	registry := prometheus.NewRegistry()
	observer := metrics.NewGovernor(registry)

	metricsAddr := c.String("metrics-addr")
	if metricsAddr == "" {
		metricsAddr = cfg.MCP.MetricsAddr
	}
	if metricsAddr != "" {
		metricsServer, err := serveMetrics(metricsAddr, registry)
		if err != nil {
			return debug.Fatal("failed to serve metrics: %v", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	sess, err := newSession(cfg, client, observer)
	if err != nil {
		return debug.Fatal("failed to create session: %v", err)
	}
	defer sess.Close()

	debug.LogMCP("session %s ready for %s", sess.ID(), cfg.Project.Root)
	err = mcp.NewServer(sess, mcp.Options{}).Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return debug.Fatal("MCP server error: %v", err)
	}
	return nil
}

// startSharedIndexServer hosts the index server in this process
func startSharedIndexServer(cfg *config.Config) (*server.IndexServer, error) {
	srv, err := server.NewIndexServer(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create index server: %w", err)
	}
	srv.SetSocketPath(server.SocketPathFor(cfg))
	if err := srv.Start(); err != nil {
		return nil, fmt.Errorf("failed to start index server: %w", err)
	}
	return srv, nil
}

func shutdownIndexServer(srv *server.IndexServer) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		debug.LogMCP("index server shutdown: %v", err)
	}
}

func serveMetrics(addr string, g prometheus.Gatherer) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			debug.LogMCP("metrics server error: %v", err)
		}
	}()
	debug.LogMCP("metrics on http://%s/metrics", ln.Addr())
	return srv, nil
}
