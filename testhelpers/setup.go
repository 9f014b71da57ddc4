package testhelpers

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// WaitFor waits for a condition to become true with timeout
// Usage:
//
//	testhelpers.WaitFor(t, func() bool {
//	    return srv.Status().Ready
//	}, 5*time.Second)
func WaitFor(t testing.TB, condition func() bool, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		if condition() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Condition not met within %v", timeout)
			return
		}
	}
}

// WriteFiles creates files under root, keyed by slash-separated relative path
func WriteFiles(t testing.TB, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

// GetDocumentProject returns a small document tree with text and
// filename-like names
func GetDocumentProject() map[string]string {
	return map[string]string{
		"finance/annual-report.md":    "# Annual report\n\nRevenue grew in the fourth quarter.",
		"finance/quarterly.txt":       "Quarterly summary for the board.",
		"notes/meeting-2024-03-01.md": "Meeting notes: budget review and hiring plan.",
		"README.md":                   "# Documents\n\nShared team documents.",
	}
}
