package bm25

import (
	"regexp"
	"strings"

	"github.com/blevesearch/snowballstem"
	"github.com/blevesearch/snowballstem/english"
)

// tokenPattern matches lowercase alphanumeric runs, preserving hyphenated
// compounds ("kubernetes-based" stays one token).
var tokenPattern = regexp.MustCompile(`[a-z0-9]+(?:-[a-z0-9]+)*`)

// stopWords is a fixed set of common English words dropped before stemming.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "but": {}, "by": {}, "for": {}, "from": {}, "has": {},
	"have": {}, "he": {}, "in": {}, "is": {}, "it": {}, "its": {},
	"nor": {}, "not": {}, "of": {}, "on": {}, "or": {}, "so": {},
	"that": {}, "the": {}, "their": {}, "then": {}, "they": {},
	"this": {}, "to": {}, "was": {}, "will": {}, "with": {},
}

// Tokenize lowercases the input, extracts word tokens, drops stop words and
// stems what remains. Indexing and querying both use this function, so a
// query term matches an index term iff they stem to the same form.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}

	words := tokenPattern.FindAllString(strings.ToLower(text), -1)
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if _, stop := stopWords[w]; stop {
			continue
		}
		tokens = append(tokens, Stem(w))
	}

	return tokens
}

// Stem applies Snowball English stemming to a single lowercase token.
func Stem(word string) string {
	env := snowballstem.NewEnv(word)
	english.Stem(env)
	return env.Current()
}
