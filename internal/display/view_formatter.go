package display

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/standardbeagle/staleguard/internal/backend"
	"github.com/standardbeagle/staleguard/internal/governor"
)

// Output formats
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ValidFormat reports whether format is one the formatter understands
func ValidFormat(format string) bool {
	switch format {
	case "", FormatText, FormatJSON, FormatYAML:
		return true
	}
	return false
}

// ViewFormatter renders governor view states for a terminal
type ViewFormatter struct {
	options FormatterOptions
}

// FormatterOptions controls view formatting
type FormatterOptions struct {
	Format   string // "text", "json", "yaml"
	MaxItems int    // Items listed in text mode, 0 for all
	Indent   string // Indentation string
}

// NewViewFormatter creates a new view formatter
func NewViewFormatter(options FormatterOptions) *ViewFormatter {
	if options.Indent == "" {
		options.Indent = "  "
	}
	return &ViewFormatter{options: options}
}

// Format renders v in the configured format
func (vf *ViewFormatter) Format(v governor.ViewState) (string, error) {
	switch vf.options.Format {
	case FormatJSON, FormatYAML:
		b, err := Marshal(vf.options.Format, v)
		return string(b), err
	case "", FormatText:
		return vf.formatText(v), nil
	default:
		return "", fmt.Errorf("unknown output format %q", vf.options.Format)
	}
}

func (vf *ViewFormatter) formatText(v governor.ViewState) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("search %q [%s]", v.Query, v.Kind))
	if v.Loading {
		sb.WriteString(" searching...")
	}
	sb.WriteString("\n")

	switch v.Kind {
	case governor.Fresh:
		if v.Results == nil {
			if !v.Loading {
				sb.WriteString("No search yet\n")
			}
			break
		}
		if v.Results.IsEmpty() {
			sb.WriteString("No matches\n")
			break
		}
		sb.WriteString(fmt.Sprintf("%d results\n", v.Results.TotalCount))
		vf.writeItems(&sb, v.Results.Items, v.Results.TotalCount)

	case governor.ShowingStale:
		sb.WriteString("No matches yet; new documents can take a moment to appear.")
		sb.WriteString(vf.retryBanner(v))
		sb.WriteString("\n")
		if v.Stale != nil {
			sb.WriteString(fmt.Sprintf("Showing earlier results for %q (:hide to clear)\n", v.Stale.Query))
			vf.writeItems(&sb, v.Stale.Items, v.Stale.TotalCount)
		}

	case governor.Suppressed:
		sb.WriteString("No matches.")
		sb.WriteString(vf.retryBanner(v))
		sb.WriteString("\n")
		if v.RevealAvailable {
			sb.WriteString("Earlier results are hidden (:reveal to show)\n")
		}

	case governor.Exhausted:
		sb.WriteString(fmt.Sprintf("No matches after %d retries (:retry to try again)\n", v.MaxAttempts))
		if v.Stale != nil {
			sb.WriteString(fmt.Sprintf("Showing earlier results for %q (:hide to clear)\n", v.Stale.Query))
			vf.writeItems(&sb, v.Stale.Items, v.Stale.TotalCount)
		}

	case governor.Dismissed:
		sb.WriteString("No matches\n")
	}

	if a := v.Alert; a != nil {
		sb.WriteString("error: ")
		sb.WriteString(a.Message)
		if a.Retryable() {
			sb.WriteString(" (:retry-error to retry, :dismiss to hide)")
		} else {
			sb.WriteString(" (:dismiss to hide)")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// retryBanner is the attempt counter and countdown, taken as-is from the view
func (vf *ViewFormatter) retryBanner(v governor.ViewState) string {
	if v.NextRetryInMs <= 0 {
		return ""
	}
	next := time.Duration(v.NextRetryInMs) * time.Millisecond
	return fmt.Sprintf(" Retry %d/%d in %.1fs.", v.Attempt+1, v.MaxAttempts, next.Seconds())
}

func (vf *ViewFormatter) writeItems(sb *strings.Builder, items []backend.Item, total int) {
	shown := items
	if vf.options.MaxItems > 0 && len(shown) > vf.options.MaxItems {
		shown = shown[:vf.options.MaxItems]
	}
	for _, item := range shown {
		sb.WriteString(vf.options.Indent)
		sb.WriteString("→ ")
		sb.WriteString(item.Name)
		if item.Path != "" && item.Path != item.Name {
			sb.WriteString("  ")
			sb.WriteString(item.Path)
		}
		if item.Size > 0 {
			sb.WriteString(fmt.Sprintf(" (%d bytes)", item.Size))
		}
		sb.WriteString("\n")
	}
	if more := total - len(shown); more > 0 {
		sb.WriteString(fmt.Sprintf("%s(+%d more)\n", vf.options.Indent, more))
	}
}

// Marshal encodes v as indented JSON or as YAML. YAML keys and key order
// follow the JSON encoding.
func Marshal(format string, v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode output: %w", err)
	}
	switch format {
	case FormatJSON:
		return data, nil
	case FormatYAML:
		var node yaml.Node
		if err := yaml.Unmarshal(data, &node); err != nil {
			return nil, fmt.Errorf("failed to convert output to yaml: %w", err)
		}
		blockStyle(&node)
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(&node); err != nil {
			return nil, fmt.Errorf("failed to encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("format %q does not support structured output", format)
	}
}

// blockStyle drops the flow and quoting styles JSON parsing leaves behind.
// The encoder still quotes strings that would otherwise change type.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
