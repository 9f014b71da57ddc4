package index

import (
	"strings"
	"unicode"

	"github.com/surgebase/porter2"
)

// terms splits text into lowercase stemmed terms. Digits are kept so
// "2024" and "q3" stay searchable.
func terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		out = append(out, stem(f))
	}
	return out
}

// termFrequencies counts stemmed terms
func termFrequencies(text string) map[string]int {
	tf := make(map[string]int)
	for _, t := range terms(text) {
		tf[t]++
	}
	return tf
}

func stem(word string) string {
	if len(word) <= 2 || !isASCIILetters(word) {
		return word
	}
	return porter2.Stem(word)
}

func isASCIILetters(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 'a' || c > 'z' {
			return false
		}
	}
	return true
}

// uniqueTerms returns the query's terms without duplicates, in order
func uniqueTerms(query string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range terms(query) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
