package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// LoadTOML loads .staleguard.toml from dir; nil, nil when there is none
func LoadTOML(dir string) (*Config, error) {
	tomlPath := filepath.Join(dir, TOMLFileName)
	if _, err := os.Stat(tomlPath); os.IsNotExist(err) {
		return nil, nil
	}

	content, err := os.ReadFile(tomlPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", TOMLFileName, err)
	}

	cfg, err := parseTOML(content, dir)
	if err != nil {
		return nil, err
	}
	resolveRoot(cfg, dir)
	return cfg, nil
}

// parseTOML decodes over the defaults, so absent keys keep their default value
func parseTOML(content []byte, root string) (*Config, error) {
	cfg := Default(root)
	cfg.Project.Root = ""
	cfg.Project.Name = ""

	if err := toml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config: %w", err)
	}
	return cfg, nil
}
