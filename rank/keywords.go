// Package rank scores and orders candidate images against query text. It
// blends keyword, tag, description and popularity signals with fuzzy
// string matching, and classifies free text for content-based suggestions.
package rank

import (
	"strings"
	"unicode"
)

// stopWords are tokens carrying no relevance signal; they are dropped
// before any scoring.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "but": {}, "by": {}, "for": {}, "from": {}, "has": {},
	"have": {}, "in": {}, "is": {}, "it": {}, "its": {}, "of": {},
	"on": {}, "or": {}, "that": {}, "the": {}, "this": {}, "to": {},
	"was": {}, "were": {}, "will": {}, "with": {}, "you": {}, "your": {},
	"we": {}, "our": {}, "their": {}, "they": {}, "not": {}, "can": {},
}

// ExtractKeywords tokenizes text into lower-cased keywords, dropping stop
// words and single-character tokens. Order follows first appearance;
// duplicates are kept so term frequencies can be derived.
func ExtractKeywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	keywords := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		keywords = append(keywords, f)
	}
	return keywords
}

// UniqueKeywords returns the distinct keywords of text in first-appearance
// order.
func UniqueKeywords(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, kw := range ExtractKeywords(text) {
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	return out
}

// TermFrequencies counts occurrences per keyword.
func TermFrequencies(keywords []string) map[string]int {
	freq := make(map[string]int, len(keywords))
	for _, kw := range keywords {
		freq[kw]++
	}
	return freq
}
