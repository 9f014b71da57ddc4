package pathutil

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToRelative(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix paths")
	}
	tests := []struct {
		name     string
		absPath  string
		rootDir  string
		expected string
	}{
		{"nested path", "/home/user/docs/finance/q3.md", "/home/user/docs", "finance/q3.md"},
		{"root level file", "/home/user/docs/README.md", "/home/user/docs", "README.md"},
		{"outside root", "/other/location/q3.md", "/home/user/docs", "/other/location/q3.md"},
		{"sibling with shared prefix", "/home/user/docs2/a.md", "/home/user/docs", "/home/user/docs2/a.md"},
		{"already relative", "finance/q3.md", "/home/user/docs", "finance/q3.md"},
		{"empty root", "/home/user/docs/a.md", "", "/home/user/docs/a.md"},
		{"unclean input", "/home/user/docs/./finance/../a.md", "/home/user/docs/", "a.md"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ToRelative(tt.absPath, tt.rootDir))
		})
	}
}

func TestToKey(t *testing.T) {
	root := t.TempDir()

	key, ok := ToKey(filepath.Join(root, "finance", "q3.md"), root)
	assert.True(t, ok)
	assert.Equal(t, "finance/q3.md", key)

	_, ok = ToKey(root, root)
	assert.False(t, ok, "the root itself has no key")

	_, ok = ToKey(filepath.Join(filepath.Dir(root), "elsewhere.md"), root)
	assert.False(t, ok)

	// names that merely start with dots stay inside the root
	key, ok = ToKey(filepath.Join(root, "..notes.md"), root)
	assert.True(t, ok)
	assert.Equal(t, "..notes.md", key)
}
