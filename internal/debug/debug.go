package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Build flag for debug mode - can be overridden at build time
// go build -ldflags "-X github.com/standardbeagle/staleguard/internal/debug.EnableDebug=true"
var EnableDebug = "false"

// MCPMode suppresses all debug output: stdio belongs to the protocol
var MCPMode = false

// Components used with Log
const (
	ComponentGovernor  = "GOVERNOR"
	ComponentScheduler = "SCHED"
	ComponentSession   = "SESSION"
	ComponentIndex     = "INDEX"
	ComponentServer    = "SERVER"
	ComponentMCP       = "MCP"
	ComponentConfig    = "CONFIG"
)

var (
	debugOutput io.Writer
	debugFile   *os.File
	debugMutex  sync.Mutex
)

// SetMCPMode enables MCP mode which suppresses all debug output to stdio
func SetMCPMode(enabled bool) {
	MCPMode = enabled
}

// SetDebugOutput sets a custom writer for debug output.
// Pass nil to disable debug output entirely.
func SetDebugOutput(w io.Writer) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	debugOutput = w
}

// InitDebugLogFile sends debug output to a timestamped file under the temp dir
// and returns its path. Call CloseDebugLog when done.
func InitDebugLogFile() (string, error) {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	logDir := filepath.Join(os.TempDir(), "staleguard-debug-logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create debug log directory: %w", err)
	}

	logPath := filepath.Join(logDir, fmt.Sprintf("debug-%s-%d.log", time.Now().Format("2006-01-02T150405"), os.Getpid()))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create debug log file: %w", err)
	}

	debugFile = file
	debugOutput = file
	return logPath, nil
}

// CloseDebugLog closes the debug log file if one is open.
func CloseDebugLog() error {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if debugFile != nil {
		err := debugFile.Close()
		debugFile = nil
		debugOutput = nil
		return err
	}
	return nil
}

// IsDebugEnabled returns true if debug mode is enabled and we're not in MCP mode
func IsDebugEnabled() bool {
	if MCPMode {
		return false
	}
	if EnableDebug == "true" {
		return true
	}
	v := os.Getenv("DEBUG")
	return v == "1" || v == "true"
}

func writer() io.Writer {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	return debugOutput
}

// Log writes one component-tagged line. A trailing newline is added if missing.
func Log(component, format string, args ...interface{}) {
	if !IsDebugEnabled() {
		return
	}
	w := writer()
	if w == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if len(msg) == 0 || msg[len(msg)-1] != '\n' {
		msg += "\n"
	}
	fmt.Fprintf(w, "[DEBUG:%s] %s", component, msg)
}

// LogGovernor logs fallback state transitions and discarded responses
func LogGovernor(format string, args ...interface{}) {
	Log(ComponentGovernor, format, args...)
}

// LogScheduler logs timer arm/cancel/fire
func LogScheduler(format string, args ...interface{}) {
	Log(ComponentScheduler, format, args...)
}

// LogSession logs request dispatch and completion
func LogSession(format string, args ...interface{}) {
	Log(ComponentSession, format, args...)
}

// LogIndex logs document ingestion and commits
func LogIndex(format string, args ...interface{}) {
	Log(ComponentIndex, format, args...)
}

// LogServer logs index server requests
func LogServer(format string, args ...interface{}) {
	Log(ComponentServer, format, args...)
}

// LogMCP provides debug logging specifically for MCP operations
func LogMCP(format string, args ...interface{}) {
	Log(ComponentMCP, format, args...)
}

// Fatal records a fatal message to the debug log and returns it as an error.
// Callers decide whether to exit.
func Fatal(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if !MCPMode {
		if w := writer(); w != nil {
			fmt.Fprintf(w, "[FATAL] %s\n", msg)
		}
	}
	return fmt.Errorf("fatal error: %s", msg)
}
