// Package pathutil converts between filesystem paths and document keys.
//
// The index keys documents by their slash-separated path relative to the
// document root. Filesystem code works with absolute OS paths. This package
// is the conversion layer between the two.
package pathutil

import (
	"path/filepath"
	"strings"
)

// ToRelative converts an absolute path to relative based on a root directory.
// Falls back to the original path if conversion fails or path is already relative.
//
// Examples:
//   - ToRelative("/home/user/docs/finance/q3.md", "/home/user/docs") → "finance/q3.md"
//   - ToRelative("/other/location/q3.md", "/home/user/docs") → "/other/location/q3.md" (outside root)
//   - ToRelative("finance/q3.md", "/home/user/docs") → "finance/q3.md" (already relative)
func ToRelative(absPath, rootDir string) string {
	if absPath == "" || rootDir == "" {
		return absPath
	}
	if !filepath.IsAbs(absPath) {
		return absPath
	}

	rel, ok := within(filepath.Clean(absPath), filepath.Clean(rootDir))
	if !ok {
		return absPath
	}
	return rel
}

// ToKey returns the document key for path under rootDir. The second result
// is false when path is the root itself or lies outside it.
func ToKey(path, rootDir string) (string, bool) {
	rel, ok := within(filepath.Clean(path), filepath.Clean(rootDir))
	if !ok || rel == "." {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func within(p, root string) (string, bool) {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		// e.g. different drives on Windows
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}
