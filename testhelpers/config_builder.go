// Package testhelpers provides shared utilities for testing staleguard
package testhelpers

import (
	"time"

	"github.com/standardbeagle/staleguard/internal/config"
)

// TestConfigBuilder provides a fluent API for building test configs with safe defaults.
// Watching is off and the commit delay is long, so documents only become
// visible when a test commits them.
// Usage:
//
//	cfg := testhelpers.NewTestConfigBuilder(root).
//		WithCommitDelay(0).
//		WithExclusions("drafts/**").
//		Build()
type TestConfigBuilder struct {
	cfg *config.Config
}

// NewTestConfigBuilder creates a config builder with safe defaults for a root
func NewTestConfigBuilder(root string) *TestConfigBuilder {
	cfg := config.Default(root)
	cfg.Index.Watch = false
	cfg.Index.CommitDelayMs = 60000
	cfg.Index.ScanWorkers = 2
	return &TestConfigBuilder{cfg: cfg}
}

// WithCommitDelay sets the visibility lag of staged writes
func (b *TestConfigBuilder) WithCommitDelay(d time.Duration) *TestConfigBuilder {
	b.cfg.Index.CommitDelayMs = int(d / time.Millisecond)
	return b
}

func (b *TestConfigBuilder) WithWatch(watch bool) *TestConfigBuilder {
	b.cfg.Index.Watch = watch
	return b
}

// WithRetryPolicy sets the governor's retry schedule
func (b *TestConfigBuilder) WithRetryPolicy(base time.Duration, maxAttempts int) *TestConfigBuilder {
	b.cfg.Governor.BaseDelayMs = int(base / time.Millisecond)
	b.cfg.Governor.MaxAttempts = maxAttempts
	return b
}

func (b *TestConfigBuilder) WithSocket(path string) *TestConfigBuilder {
	b.cfg.Server.Socket = path
	return b
}

// WithExclusions adds additional exclusion patterns
func (b *TestConfigBuilder) WithExclusions(patterns ...string) *TestConfigBuilder {
	b.cfg.Exclude = append(b.cfg.Exclude, patterns...)
	return b
}

// WithIncludePatterns sets the include patterns (replaces defaults)
func (b *TestConfigBuilder) WithIncludePatterns(patterns ...string) *TestConfigBuilder {
	b.cfg.Include = patterns
	return b
}

// Build returns the config. Builders are single use.
func (b *TestConfigBuilder) Build() *config.Config {
	return b.cfg
}
