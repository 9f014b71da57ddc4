package testhelpers

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/staleguard/internal/config"
)

func TestConfigBuilder_Defaults(t *testing.T) {
	root := t.TempDir()
	cfg := NewTestConfigBuilder(root).Build()

	assert.Equal(t, root, cfg.Project.Root)
	assert.False(t, cfg.Index.Watch)
	assert.Equal(t, 60000, cfg.Index.CommitDelayMs)
	assert.NoError(t, config.ValidateConfig(cfg))
}

func TestConfigBuilder_Overrides(t *testing.T) {
	cfg := NewTestConfigBuilder(t.TempDir()).
		WithCommitDelay(0).
		WithWatch(true).
		WithRetryPolicy(200*time.Millisecond, 3).
		WithSocket("/tmp/sg-builder.sock").
		WithExclusions("drafts/**").
		WithIncludePatterns("**/*.md").
		Build()

	assert.Equal(t, 0, cfg.Index.CommitDelayMs)
	assert.True(t, cfg.Index.Watch)
	assert.Equal(t, 200, cfg.Governor.BaseDelayMs)
	assert.Equal(t, 3, cfg.Governor.MaxAttempts)
	assert.Equal(t, "/tmp/sg-builder.sock", cfg.Server.Socket)
	assert.Contains(t, cfg.Exclude, "drafts/**")
	assert.Equal(t, []string{"**/*.md"}, cfg.Include)
	assert.NoError(t, config.ValidateConfig(cfg))
}

func TestWriteFiles(t *testing.T) {
	root := t.TempDir()
	WriteFiles(t, root, GetDocumentProject())

	data, err := os.ReadFile(filepath.Join(root, "finance", "quarterly.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Quarterly summary for the board.", string(data))

	n := 0
	WaitFor(t, func() bool { n++; return n == 3 }, time.Second)
	assert.Equal(t, 3, n)
}
