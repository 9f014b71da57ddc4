package criteria

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Parse reads the line syntax used by the interactive CLI:
//
//	annual report folder:/finance preview:done aspect:audited prop:owner=ana
//	after:2024-01-01 before:2024-12-31 size:>10KB size:<2MB "exact phrase"
//
// Unrecognized tokens are free text and are joined with single spaces.
// Quoted segments keep their inner whitespace.
func Parse(line string) (Criteria, error) {
	tokens, err := tokenize(line)
	if err != nil {
		return Criteria{}, err
	}

	var c Criteria
	var words []string
	for _, tok := range tokens {
		if tok.quoted {
			words = append(words, tok.text)
			continue
		}
		key, value, ok := strings.Cut(tok.text, ":")
		if !ok || value == "" {
			words = append(words, tok.text)
			continue
		}
		switch strings.ToLower(key) {
		case "folder":
			c.Filters.Folder = value
		case "preview":
			c.Filters.PreviewStatus = append(c.Filters.PreviewStatus, value)
		case "aspect":
			c.Filters.Aspects = append(c.Filters.Aspects, value)
		case "prop":
			k, v, ok := strings.Cut(value, "=")
			if !ok || k == "" {
				return Criteria{}, fmt.Errorf("invalid property filter %q: expected prop:key=value", tok.text)
			}
			if c.Filters.Properties == nil {
				c.Filters.Properties = make(map[string]string)
			}
			c.Filters.Properties[k] = v
		case "after":
			t, err := time.Parse(dateLayout, value)
			if err != nil {
				return Criteria{}, fmt.Errorf("invalid date %q: %w", value, err)
			}
			c.Filters.Created.From = t
		case "before":
			t, err := time.Parse(dateLayout, value)
			if err != nil {
				return Criteria{}, fmt.Errorf("invalid date %q: %w", value, err)
			}
			c.Filters.Created.To = t
		case "size":
			if err := parseSizeBound(&c.Filters.Size, value); err != nil {
				return Criteria{}, err
			}
		default:
			words = append(words, tok.text)
		}
	}
	c.Query = strings.Join(words, " ")
	return c.Normalize(), nil
}

func parseSizeBound(r *SizeRange, value string) error {
	if len(value) < 2 {
		return fmt.Errorf("invalid size filter %q: expected >N or <N", value)
	}
	n, err := ParseSize(value[1:])
	if err != nil {
		return fmt.Errorf("invalid size filter %q: %w", value, err)
	}
	switch value[0] {
	case '>':
		r.Min = n
	case '<':
		r.Max = n
	default:
		return fmt.Errorf("invalid size filter %q: expected >N or <N", value)
	}
	return nil
}

// ParseSize handles size strings like "10MB", "500KB", "1GB" and bare byte counts
func ParseSize(s string) (int64, error) {
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

	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}
	if num < 0 {
		return 0, fmt.Errorf("size must not be negative: %d", num)
	}
	return num * multiplier, nil
}

type token struct {
	text   string
	quoted bool
}

func tokenize(line string) ([]token, error) {
	var tokens []token
	var cur strings.Builder
	inQuote := false

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, token{text: cur.String()})
			cur.Reset()
		}
	}

	for _, r := range line {
		switch {
		case r == '"':
			if inQuote {
				tokens = append(tokens, token{text: cur.String(), quoted: true})
				cur.Reset()
				inQuote = false
			} else {
				flush()
				inQuote = true
			}
		case !inQuote && (r == ' ' || r == '\t'):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote in %q", line)
	}
	flush()
	return tokens, nil
}
