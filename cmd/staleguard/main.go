package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/staleguard/internal/config"
	"github.com/standardbeagle/staleguard/internal/debug"
	"github.com/standardbeagle/staleguard/internal/display"
	"github.com/standardbeagle/staleguard/internal/version"
)

// loadConfigWithOverrides loads configuration and applies CLI flag overrides
func loadConfigWithOverrides(c *cli.Context) (*config.Config, error) {
	rootFlag := c.String("root")
	configPath := c.String("config")

	cfg, err := config.LoadWithRoot(configPath, rootFlag)
	if err != nil {
		if configPath == "" {
			configPath = "project config"
		}
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}

	if includeFlags := c.StringSlice("include"); len(includeFlags) > 0 {
		cfg.Include = includeFlags
	}
	if excludeFlags := c.StringSlice("exclude"); len(excludeFlags) > 0 {
		cfg.Exclude = append(cfg.Exclude, excludeFlags...)
	}
	if rootFlag != "" {
		absRoot, err := filepath.Abs(rootFlag)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve root path %q: %w", rootFlag, err)
		}
		cfg.Project.Root = absRoot
		cfg.Project.Name = filepath.Base(absRoot)
	}

	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newApp() *cli.App {
	return &cli.App{
		Name:                   "staleguard",
		Usage:                  "Search an eventually consistent document index without flashing empty results",
		Version:                version.Version,
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file path (.kdl or .toml); default looks for .staleguard.kdl then .staleguard.toml in the root",
			},
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "Document root to index (overrides config)",
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format: text, json, yaml",
				Value:   display.FormatText,
			},
			&cli.StringSliceFlag{
				Name:  "include",
				Usage: "Index only files matching glob patterns (e.g., --include '**/*.md')",
			},
			&cli.StringSliceFlag{
				Name:  "exclude",
				Usage: "Skip files matching glob patterns (e.g., --exclude '**/drafts/**')",
			},
		},
		Before: func(c *cli.Context) error {
			if !display.ValidFormat(c.String("format")) {
				return fmt.Errorf("unknown output format %q: use text, json or yaml", c.String("format"))
			}
			if debug.IsDebugEnabled() {
				debug.SetDebugOutput(c.App.ErrWriter)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "search",
				Aliases:   []string{"s"},
				Usage:     "Search the index; without a query, start an interactive session",
				ArgsUsage: "[query]",
				Description: `A query is free text plus optional filters:

  annual report folder:/finance preview:ready aspect:text prop:ext=md
  after:2024-01-01 before:2024-12-31 size:>10KB size:<2MB "exact phrase"

In the interactive session every line is a query. Commands:
  :hide         hide stale results shown as a fallback
  :reveal       show suppressed fallback results
  :retry        retry the current empty query now
  :retry-error  re-issue the request behind the current error
  :dismiss      dismiss the current error
  :state        print the current state
  :quit         leave`,
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "wait",
						Usage: "How long to wait for a request to settle before printing",
						Value: defaultSettleWait,
					},
					&cli.BoolFlag{
						Name:  "follow",
						Usage: "With a query: keep printing until the results are current or retries run out",
					},
					&cli.IntFlag{
						Name:    "max-items",
						Aliases: []string{"m"},
						Usage:   "Items listed per result set in text output (0 = all)",
						Value:   10,
					},
				},
				Action: searchCommand,
			},
			{
				Name:      "add",
				Usage:     "Stage files as documents in the running index",
				ArgsUsage: "<file>...",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "folder",
						Usage: "Folder to file the documents under (default: their directory relative to the root)",
					},
					&cli.StringSliceFlag{
						Name:  "aspect",
						Usage: "Aspect to attach (repeatable)",
					},
					&cli.StringSliceFlag{
						Name:  "prop",
						Usage: "Property key=value to attach (repeatable)",
					},
					&cli.BoolFlag{
						Name:  "commit",
						Usage: "Commit immediately instead of waiting for the debounced commit",
					},
				},
				Action: addCommand,
			},
			{
				Name:   "commit",
				Usage:  "Make staged documents searchable now",
				Action: commitCommand,
			},
			{
				Name:    "status",
				Aliases: []string{"st"},
				Usage:   "Show index server status",
				Action:  statusCommand,
			},
			{
				Name:   "server",
				Usage:  "Run the index server in the foreground",
				Action: serverCommand,
			},
			{
				Name:  "shutdown",
				Usage: "Stop the running index server",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Skip waiting for in-flight indexing",
					},
				},
				Action: shutdownCommand,
			},
			{
				Name:  "mcp",
				Usage: "Serve the search session as MCP tools over stdio",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "metrics-addr",
						Usage: "Serve governor metrics on this address (e.g., 127.0.0.1:9464)",
					},
				},
				Action: mcpCommand,
			},
		},
	}
}

func main() {
	defer func() {
		_ = debug.CloseDebugLog()
	}()

	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}
