// Package analyzer turns field text into index terms. The same Analyzer must
// be used at index time and at query time for text fields.
package analyzer

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/kljensen/snowball"
)

// Analyzer is a deterministic text to term-sequence transformation.
type Analyzer interface {
	Name() string
	Analyze(text string) []string
}

// New returns the analyzer registered under name. An empty name selects
// the standard analyzer.
func New(name string) (Analyzer, error) {
	switch name {
	case "", "standard":
		return Standard{}, nil
	case "english":
		return English{}, nil
	default:
		return nil, fmt.Errorf("unknown analyzer %q", name)
	}
}

// Standard lower-cases text and splits it on every rune that is neither a
// letter nor a digit. No stemming or stop-word removal is applied.
type Standard struct{}

func (Standard) Name() string { return "standard" }

func (Standard) Analyze(text string) []string {
	return split(text)
}

// English extends Standard with English stop-word removal and Snowball
// stemming, so "entities" and "entity" reduce to the same term.
type English struct{}

func (English) Name() string { return "english" }

func (English) Analyze(text string) []string {
	words := split(text)
	terms := words[:0]
	for _, word := range words {
		if _, isStop := stopWords[word]; isStop {
			continue
		}
		terms = append(terms, stem(word))
	}
	return terms
}

// Normalize applies only the case folding step. Wildcard patterns and
// keyword lookups use it instead of full analysis.
func Normalize(text string) string {
	return strings.ToLower(text)
}

func split(text string) []string {
	text = strings.ToLower(text)
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func stem(word string) string {
	stemmed, err := snowball.Stem(word, "english", true)
	if err != nil || stemmed == "" {
		return word
	}
	return stemmed
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "but": {}, "by": {}, "for": {}, "if": {}, "in": {},
	"into": {}, "is": {}, "it": {}, "no": {}, "not": {}, "of": {},
	"on": {}, "or": {}, "such": {}, "that": {}, "the": {}, "their": {},
	"then": {}, "there": {}, "these": {}, "they": {}, "this": {}, "to": {},
	"was": {}, "will": {}, "with": {},
}
