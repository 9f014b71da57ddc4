package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"

	"github.com/standardbeagle/staleguard/internal/debug"
)

// LoadKDL loads .staleguard.kdl from dir; nil, nil when there is none
func LoadKDL(dir string) (*Config, error) {
	kdlPath := filepath.Join(dir, KDLFileName)
	if _, err := os.Stat(kdlPath); os.IsNotExist(err) {
		return nil, nil
	}

	content, err := os.ReadFile(kdlPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", KDLFileName, err)
	}

	cfg, err := parseKDL(string(content), dir)
	if err != nil {
		return nil, err
	}
	resolveRoot(cfg, dir)
	return cfg, nil
}

// parseKDL applies a KDL document on top of the defaults for root
func parseKDL(content, root string) (*Config, error) {
	cfg := Default(root)
	cfg.Project.Root = ""
	cfg.Project.Name = ""

	doc, err := kdl.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse KDL config: %w", err)
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "version":
			if v, ok := firstIntArg(n); ok {
				cfg.Version = v
			}
		case "project":
			for _, cn := range n.Children {
				assignSimpleString(cn, "root", func(v string) { cfg.Project.Root = v })
				assignSimpleString(cn, "name", func(v string) { cfg.Project.Name = v })
			}
		case "governor":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "base_delay_ms":
					if v, ok := firstIntArg(cn); ok {
						cfg.Governor.BaseDelayMs = v
					}
				case "max_attempts":
					if v, ok := firstIntArg(cn); ok {
						cfg.Governor.MaxAttempts = v
					}
				}
			}
		case "classifier":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "mode":
					if s, ok := firstStringArg(cn); ok {
						cfg.Classifier.Mode = s
					}
				case "max_extension_length":
					if v, ok := firstIntArg(cn); ok {
						cfg.Classifier.MaxExtensionLength = v
					}
				case "patterns":
					cfg.Classifier.Patterns = append(cfg.Classifier.Patterns, collectStringArgs(cn)...)
				}
			}
		case "index":
			parseIndexNode(cfg, n)
		case "server":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "socket":
					if s, ok := firstStringArg(cn); ok {
						cfg.Server.Socket = s
					}
				case "request_timeout_ms":
					if v, ok := firstIntArg(cn); ok {
						cfg.Server.RequestTimeoutMs = v
					}
				}
			}
		case "mcp":
			for _, cn := range n.Children {
				assignSimpleString(cn, "metrics_addr", func(v string) { cfg.MCP.MetricsAddr = v })
			}
		case "include":
			cfg.Include = append(cfg.Include, collectStringArgs(n)...)
		case "exclude":
			cfg.Exclude = append(cfg.Exclude, collectStringArgs(n)...)
		default:
			debug.Log(debug.ComponentConfig, "ignoring unknown config node %q", nodeName(n))
		}
	}

	return cfg, nil
}

func parseIndexNode(cfg *Config, n *document.Node) {
	for _, cn := range n.Children {
		switch nodeName(cn) {
		case "root":
			if s, ok := firstStringArg(cn); ok {
				cfg.Project.Root = s
			}
		case "commit_delay_ms":
			if v, ok := firstIntArg(cn); ok {
				cfg.Index.CommitDelayMs = v
			}
		case "watch":
			if b, ok := firstBoolArg(cn); ok {
				cfg.Index.Watch = b
			}
		case "fuzzy":
			if b, ok := firstBoolArg(cn); ok {
				cfg.Index.Fuzzy = b
			}
		case "fuzzy_threshold":
			if v, ok := firstFloatArg(cn); ok {
				cfg.Index.FuzzyThreshold = v
			}
		case "max_file_size":
			if v, ok := firstIntArg(cn); ok {
				cfg.Index.MaxFileSize = int64(v)
			}
			if s, ok := firstStringArg(cn); ok {
				if sz, err := parseSize(s); err == nil {
					cfg.Index.MaxFileSize = sz
				}
			}
		case "scan_workers":
			if v, ok := firstIntArg(cn); ok {
				cfg.Index.ScanWorkers = v
			}
		case "page_size":
			if v, ok := firstIntArg(cn); ok {
				cfg.Index.PageSize = v
			}
		case "include":
			cfg.Include = append(cfg.Include, collectStringArgs(cn)...)
		case "exclude":
			cfg.Exclude = append(cfg.Exclude, collectStringArgs(cn)...)
		}
	}
}

func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	if s, ok := n.Arguments[0].Value.(string); ok {
		return s, true
	}
	return "", false
}

func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	if b, ok := n.Arguments[0].Value.(bool); ok {
		return b, true
	}
	return false, false
}

func firstFloatArg(n *document.Node) (float64, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	default:
		debug.Log(debug.ComponentConfig, "invalid float value for %q, got %T", nodeName(n), n.Arguments[0].Value)
		return 0, false
	}
}

// collectStringArgs reads inline arguments, or child nodes in block form
// (exclude { "pattern" }) where the node name is the value.
func collectStringArgs(n *document.Node) []string {
	if n == nil {
		return nil
	}
	out := make([]string, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}

	if len(out) == 0 && len(n.Children) > 0 {
		for _, child := range n.Children {
			if s, ok := firstStringArg(child); ok {
				out = append(out, s)
			} else if child.Name != nil {
				if s, ok := child.Name.Value.(string); ok {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

func assignSimpleString(n *document.Node, target string, set func(string)) {
	if nodeName(n) == target {
		if s, ok := firstStringArg(n); ok {
			set(s)
		}
	}
}

// parseSize handles size strings like "10MB", "500KB", "1GB"
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))

	var multiplier int64 = 1
	var numStr string

	switch {
	case strings.HasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		numStr = strings.TrimSuffix(s, "B")
	default:
		numStr = s
	}

	num, err := strconv.ParseInt(strings.TrimSpace(numStr), 10, 64)
	if err != nil {
		return 0, err
	}
	return num * multiplier, nil
}
