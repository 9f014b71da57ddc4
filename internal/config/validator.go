package config

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/standardbeagle/staleguard/internal/classifier"
	sgerrors "github.com/standardbeagle/staleguard/internal/errors"
)

// MaxAttemptsLimit caps the configurable retry budget
const MaxAttemptsLimit = 10

// Validator validates configuration and sets smart defaults
type Validator struct{}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAndSetDefaults validates configuration and applies smart defaults
func (v *Validator) ValidateAndSetDefaults(cfg *Config) error {
	v.setSmartDefaults(cfg)

	if cfg.Project.Root == "" {
		return sgerrors.NewConfigError("project.root", "", errors.New("project root cannot be empty"))
	}
	if err := v.validateGovernor(&cfg.Governor); err != nil {
		return err
	}
	if err := v.validateClassifier(&cfg.Classifier); err != nil {
		return err
	}
	if err := v.validateIndex(&cfg.Index); err != nil {
		return err
	}
	if cfg.Server.RequestTimeoutMs < 0 {
		return sgerrors.NewConfigError("server.request_timeout_ms", strconv.Itoa(cfg.Server.RequestTimeoutMs), errors.New("cannot be negative"))
	}
	if err := validatePatterns("include", cfg.Include); err != nil {
		return err
	}
	return validatePatterns("exclude", cfg.Exclude)
}

func (v *Validator) validateGovernor(g *Governor) error {
	if g.BaseDelayMs <= 0 {
		return sgerrors.NewConfigError("governor.base_delay_ms", strconv.Itoa(g.BaseDelayMs), errors.New("must be positive"))
	}
	if g.MaxAttempts < 1 || g.MaxAttempts > MaxAttemptsLimit {
		return sgerrors.NewConfigError("governor.max_attempts", strconv.Itoa(g.MaxAttempts),
			fmt.Errorf("must be between 1 and %d", MaxAttemptsLimit))
	}
	return nil
}

func (v *Validator) validateClassifier(c *Classifier) error {
	switch c.Mode {
	case classifier.ModeHeuristic:
	case classifier.ModePatterns:
		if len(c.Patterns) == 0 {
			return sgerrors.NewConfigError("classifier.patterns", "", errors.New("patterns mode needs at least one pattern"))
		}
	default:
		return sgerrors.NewConfigError("classifier.mode", c.Mode, errors.New(`must be "heuristic" or "patterns"`))
	}
	if c.MaxExtensionLength < 1 {
		return sgerrors.NewConfigError("classifier.max_extension_length", strconv.Itoa(c.MaxExtensionLength), errors.New("must be positive"))
	}
	return validatePatterns("classifier.patterns", c.Patterns)
}

func (v *Validator) validateIndex(idx *Index) error {
	if idx.CommitDelayMs < 0 {
		return sgerrors.NewConfigError("index.commit_delay_ms", strconv.Itoa(idx.CommitDelayMs), errors.New("cannot be negative"))
	}
	if idx.FuzzyThreshold <= 0 || idx.FuzzyThreshold > 1 {
		return sgerrors.NewConfigError("index.fuzzy_threshold", strconv.FormatFloat(idx.FuzzyThreshold, 'g', -1, 64), errors.New("must be in (0, 1]"))
	}
	if idx.MaxFileSize <= 0 {
		return sgerrors.NewConfigError("index.max_file_size", strconv.FormatInt(idx.MaxFileSize, 10), errors.New("must be positive"))
	}
	if idx.ScanWorkers < 0 {
		return sgerrors.NewConfigError("index.scan_workers", strconv.Itoa(idx.ScanWorkers), errors.New("cannot be negative"))
	}
	return nil
}

func validatePatterns(field string, patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return sgerrors.NewConfigError(field, p, errors.New("invalid glob pattern"))
		}
	}
	return nil
}

// setSmartDefaults fills values left at zero
func (v *Validator) setSmartDefaults(cfg *Config) {
	if cfg.Classifier.Mode == "" {
		cfg.Classifier.Mode = classifier.ModeHeuristic
	}
	if cfg.Classifier.MaxExtensionLength == 0 {
		cfg.Classifier.MaxExtensionLength = classifier.DefaultMaxExtensionLength
	}
	if cfg.Index.ScanWorkers == 0 {
		cfg.Index.ScanWorkers = max(1, runtime.NumCPU()-1)
	}
}

// ValidateConfig is a convenience function for quick validation
func ValidateConfig(cfg *Config) error {
	return NewValidator().ValidateAndSetDefaults(cfg)
}
