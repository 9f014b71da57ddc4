package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeConfigs_ExclusionsMerge(t *testing.T) {
	base := &Config{Exclude: []string{"**/node_modules/**", "**/vendor/**"}}
	project := &Config{Exclude: []string{"**/node_modules/**", "**/dist/**"}}

	merged := mergeConfigs(base, project)
	assert.Equal(t, []string{"**/node_modules/**", "**/vendor/**", "**/dist/**"}, merged.Exclude)
}

func TestMergeConfigs_ProjectOverrides(t *testing.T) {
	base := &Config{
		Include:    []string{"**/*.md"},
		Governor:   Governor{BaseDelayMs: 100, MaxAttempts: 2},
		Classifier: Classifier{Patterns: []string{"*.pdf"}},
	}
	project := &Config{Governor: Governor{BaseDelayMs: 1500, MaxAttempts: 3}}

	merged := mergeConfigs(base, project)
	assert.Equal(t, 1500, merged.Governor.BaseDelayMs)
	assert.Equal(t, []string{"**/*.md"}, merged.Include, "base includes are inherited when the project sets none")
	assert.Equal(t, []string{"*.pdf"}, merged.Classifier.Patterns)

	project.Include = []string{"**/*.txt"}
	assert.Equal(t, []string{"**/*.txt"}, mergeConfigs(base, project).Include)
}

func TestLoadWithRoot_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()

	cfg, err := LoadWithRoot("", dir)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Project.Root)
	assert.Equal(t, 3, cfg.Governor.MaxAttempts)
}

func TestLoadWithRoot_GlobalAndProject(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	require.NoError(t, os.WriteFile(filepath.Join(home, KDLFileName), []byte(`exclude "**/secret/**"`), 0o644))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, KDLFileName), []byte("governor {\n max_attempts 4\n}\nexclude \"**/tmp/**\""), 0o644))

	cfg, err := LoadWithRoot("", dir)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Governor.MaxAttempts)
	assert.ElementsMatch(t, []string{"**/secret/**", "**/tmp/**"}, cfg.Exclude)
	assert.Equal(t, dir, cfg.Project.Root)
}

func TestLoadWithRoot_GlobalOnly(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	require.NoError(t, os.WriteFile(filepath.Join(home, KDLFileName), []byte("governor {\n base_delay_ms 200\n}"), 0o644))

	dir := t.TempDir()
	cfg, err := LoadWithRoot("", dir)
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Governor.BaseDelayMs)
	assert.Equal(t, dir, cfg.Project.Root)
}

func TestLoadWithRoot_TOMLFallback(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	toml := `
exclude = ["**/tmp/**"]

[governor]
base_delay_ms = 250

[index]
fuzzy = true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, TOMLFileName), []byte(toml), 0o644))

	cfg, err := LoadWithRoot("", dir)
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.Governor.BaseDelayMs)
	assert.Equal(t, 3, cfg.Governor.MaxAttempts, "absent keys keep their defaults")
	assert.True(t, cfg.Index.Fuzzy)
	assert.True(t, cfg.Index.Watch)
	assert.Equal(t, []string{"**/tmp/**"}, cfg.Exclude)
}

func TestLoadWithRoot_ExplicitFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte("[governor]\nmax_attempts = 6\n"), 0o644))

	cfg, err := LoadWithRoot(path, dir)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Governor.MaxAttempts)

	_, err = LoadWithRoot(filepath.Join(dir, "missing.kdl"), dir)
	assert.Error(t, err)
}
