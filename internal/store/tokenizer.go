package store

import (
	"regexp"
	"strings"
	"unicode"
)

var wordRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// minTokenLen drops single-character tokens.
const minTokenLen = 2

// DefaultStopWords are keywords frequent enough in source code to carry no
// signal for ranking.
var DefaultStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while", "the", "and", "or",
	"err", "nil", "ctx", "tmp",
}

// TokenizeCode lowercases text and splits identifiers on snake_case and
// camelCase boundaries.
func TokenizeCode(text string) []string {
	var tokens []string
	for _, word := range wordRegex.FindAllString(text, -1) {
		for _, part := range SplitIdentifier(word) {
			if len(part) >= minTokenLen {
				tokens = append(tokens, strings.ToLower(part))
			}
		}
	}
	return tokens
}

// SplitIdentifier splits snake_case first, then camelCase within each part.
func SplitIdentifier(word string) []string {
	var out []string
	for _, part := range strings.Split(word, "_") {
		if part != "" {
			out = append(out, SplitCamelCase(part)...)
		}
	}
	return out
}

// SplitCamelCase splits camelCase and PascalCase, keeping acronyms whole:
// "parseHTTPRequest" becomes ["parse", "HTTP", "Request"].
func SplitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}
	runes := []rune(s)
	var out []string
	start := 0
	for i := 1; i < len(runes); i++ {
		if !unicode.IsUpper(runes[i]) {
			continue
		}
		prevLower := unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])
		nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
		if prevLower || (nextLower && unicode.IsUpper(runes[i-1])) {
			out = append(out, string(runes[start:i]))
			start = i
		}
	}
	return append(out, string(runes[start:]))
}

// StopWordSet builds a lookup set from words.
func StopWordSet(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}

// RemoveStopWords drops tokens present in stop.
func RemoveStopWords(tokens []string, stop map[string]struct{}) []string {
	out := tokens[:0:0]
	for _, t := range tokens {
		if _, ok := stop[t]; !ok {
			out = append(out, t)
		}
	}
	return out
}
