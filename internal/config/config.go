package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/standardbeagle/staleguard/internal/classifier"
	"github.com/standardbeagle/staleguard/internal/index"
	"github.com/standardbeagle/staleguard/internal/scheduler"
)

const (
	KDLFileName  = ".staleguard.kdl"
	TOMLFileName = ".staleguard.toml"
)

type Config struct {
	Version    int        `toml:"version"`
	Project    Project    `toml:"project"`
	Governor   Governor   `toml:"governor"`
	Classifier Classifier `toml:"classifier"`
	Index      Index      `toml:"index"`
	Server     Server     `toml:"server"`
	MCP        MCP        `toml:"mcp"`
	Include    []string   `toml:"include"`
	Exclude    []string   `toml:"exclude"`
}

type Project struct {
	Root string `toml:"root"`
	Name string `toml:"name"`
}

// Governor holds the retry schedule
type Governor struct {
	BaseDelayMs int `toml:"base_delay_ms"`
	MaxAttempts int `toml:"max_attempts"`
}

type Classifier struct {
	Mode               string   `toml:"mode"` // "heuristic" or "patterns"
	MaxExtensionLength int      `toml:"max_extension_length"`
	Patterns           []string `toml:"patterns"`
}

type Index struct {
	CommitDelayMs  int     `toml:"commit_delay_ms"` // Visibility lag of writes
	Watch          bool    `toml:"watch"`
	Fuzzy          bool    `toml:"fuzzy"`
	FuzzyThreshold float64 `toml:"fuzzy_threshold"`
	MaxFileSize    int64   `toml:"max_file_size"`
	ScanWorkers    int     `toml:"scan_workers"`
	PageSize       int     `toml:"page_size"`
}

type Server struct {
	Socket           string `toml:"socket"` // Empty derives a per-root path
	RequestTimeoutMs int    `toml:"request_timeout_ms"`
}

type MCP struct {
	MetricsAddr string `toml:"metrics_addr"` // Empty disables the metrics listener
}

// Default returns the built-in configuration rooted at root
func Default(root string) *Config {
	if root == "" {
		root = "."
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &Config{
		Version: 1,
		Project: Project{
			Root: root,
			Name: filepath.Base(root),
		},
		Governor: Governor{
			BaseDelayMs: int(scheduler.DefaultBaseDelay / time.Millisecond),
			MaxAttempts: scheduler.DefaultMaxAttempts,
		},
		Classifier: Classifier{
			Mode:               classifier.ModeHeuristic,
			MaxExtensionLength: classifier.DefaultMaxExtensionLength,
		},
		Index: Index{
			CommitDelayMs:  int(index.DefaultCommitDelay / time.Millisecond),
			Watch:          true,
			FuzzyThreshold: index.DefaultFuzzyThreshold,
			MaxFileSize:    index.DefaultMaxFileSize,
			ScanWorkers:    max(1, runtime.NumCPU()-1),
			PageSize:       index.DefaultPageSize,
		},
		Server: Server{
			RequestTimeoutMs: 30000,
		},
		Include: []string{},
		Exclude: []string{},
	}
}

func Load(path string) (*Config, error) {
	return LoadWithRoot(path, "")
}

// LoadWithRoot loads the global ~/.staleguard.kdl, then the project's
// .staleguard.kdl (or .staleguard.toml), and merges them. An explicit path
// replaces the project file lookup.
func LoadWithRoot(path string, rootDir string) (*Config, error) {
	searchDir := "."
	if rootDir != "" {
		searchDir = rootDir
	}

	var baseConfig *Config
	if homeDir, err := os.UserHomeDir(); err == nil {
		if globalCfg, err := LoadKDL(homeDir); err == nil && globalCfg != nil {
			baseConfig = globalCfg
		}
	}

	var projectConfig *Config
	var err error
	if path != "" {
		projectConfig, err = LoadFile(path, searchDir)
	} else {
		projectConfig, err = loadProject(searchDir)
	}
	if err != nil {
		return nil, err
	}

	switch {
	case baseConfig != nil && projectConfig != nil:
		return mergeConfigs(baseConfig, projectConfig), nil
	case projectConfig != nil:
		return projectConfig, nil
	case baseConfig != nil:
		baseConfig.Project.Root = Default(searchDir).Project.Root
		baseConfig.Project.Name = filepath.Base(baseConfig.Project.Root)
		return baseConfig, nil
	}
	return Default(searchDir), nil
}

func loadProject(dir string) (*Config, error) {
	cfg, err := LoadKDL(dir)
	if err != nil || cfg != nil {
		return cfg, err
	}
	return LoadTOML(dir)
}

// LoadFile loads an explicit config file, picking the format by extension
func LoadFile(path, rootDir string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg *Config
	if filepath.Ext(path) == ".toml" {
		cfg, err = parseTOML(content, rootDir)
	} else {
		cfg, err = parseKDL(string(content), rootDir)
	}
	if err != nil {
		return nil, err
	}
	resolveRoot(cfg, rootDir)
	return cfg, nil
}

// resolveRoot makes a relative project root absolute against dir
func resolveRoot(cfg *Config, dir string) {
	root := cfg.Project.Root
	if root == "" {
		root = dir
	}
	if !filepath.IsAbs(root) {
		root = filepath.Join(dir, root)
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	cfg.Project.Root = filepath.Clean(root)
	if cfg.Project.Name == "" {
		cfg.Project.Name = filepath.Base(cfg.Project.Root)
	}
}

// mergeConfigs merges a base config with a project config.
// Project settings win; exclusions are combined.
func mergeConfigs(base, project *Config) *Config {
	merged := *project

	if len(base.Exclude) > 0 {
		seen := make(map[string]bool)
		merged.Exclude = make([]string, 0, len(base.Exclude)+len(project.Exclude))
		for _, list := range [][]string{base.Exclude, project.Exclude} {
			for _, pattern := range list {
				if !seen[pattern] {
					seen[pattern] = true
					merged.Exclude = append(merged.Exclude, pattern)
				}
			}
		}
	}

	if len(project.Include) == 0 && len(base.Include) > 0 {
		merged.Include = base.Include
	}
	if len(project.Classifier.Patterns) == 0 && len(base.Classifier.Patterns) > 0 {
		merged.Classifier.Patterns = base.Classifier.Patterns
	}
	return &merged
}

// Policy returns the retry schedule
func (c *Config) Policy() scheduler.Policy {
	return scheduler.Policy{
		BaseDelay:   time.Duration(c.Governor.BaseDelayMs) * time.Millisecond,
		MaxAttempts: c.Governor.MaxAttempts,
	}
}

// NewClassifier builds the configured query classifier
func (c *Config) NewClassifier() (classifier.Classifier, error) {
	return classifier.New(c.Classifier.Mode, c.Classifier.MaxExtensionLength, c.Classifier.Patterns)
}

// IndexOptions maps the index section onto index.Options. A zero commit
// delay makes writes visible immediately.
func (c *Config) IndexOptions() index.Options {
	delay := time.Duration(c.Index.CommitDelayMs) * time.Millisecond
	if delay == 0 {
		delay = -1
	}
	return index.Options{
		CommitDelay:    delay,
		Fuzzy:          c.Index.Fuzzy,
		FuzzyThreshold: c.Index.FuzzyThreshold,
		PageSize:       c.Index.PageSize,
	}
}

// WatcherOptions maps the index section onto index.WatcherOptions
func (c *Config) WatcherOptions() index.WatcherOptions {
	return index.WatcherOptions{
		Root:        c.Project.Root,
		Include:     c.Include,
		Exclude:     c.Exclude,
		MaxFileSize: c.Index.MaxFileSize,
		Workers:     c.Index.ScanWorkers,
	}
}

// RequestTimeout bounds each client call to the index server
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutMs) * time.Millisecond
}
