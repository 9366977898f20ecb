// Package canon reduces an interaction description to a drug-agnostic
// reaction template so that the same effect reported for different drug
// pairs collapses into one reaction type.
package canon

import (
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

const (
	PlaceholderA = "<drugA>"
	PlaceholderB = "<drugB>"
)

// Canonicalize replaces every case-insensitive whole-word occurrence of nameA
// with <drugA>, then of nameB with <drugB>, and trims the result. Names are
// matched literally. An empty name leaves the text untouched for that name.
func Canonicalize(description, nameA, nameB string) string {
	out := replaceWord(description, nameA, PlaceholderA)
	out = replaceWord(out, nameB, PlaceholderB)
	return strings.TrimSpace(out)
}

// patterns caches compiled case-insensitive matchers per drug name.
var patterns sync.Map // name -> *regexp.Regexp

// replaceWord substitutes matches of name bounded on both sides by a
// non-word rune or the edge of text. Word runes are Unicode letters, digits
// and '_', so accented names get whole-word treatment too.
func replaceWord(text, name, placeholder string) string {
	if name == "" {
		return text
	}
	re := wordPattern(name)
	var b strings.Builder
	last, pos := 0, 0
	for pos <= len(text) {
		loc := re.FindStringIndex(text[pos:])
		if loc == nil {
			break
		}
		start, end := pos+loc[0], pos+loc[1]
		if end > start && boundaryBefore(text, start) && boundaryAfter(text, end) {
			b.WriteString(text[last:start])
			b.WriteString(placeholder)
			last, pos = end, end
			continue
		}
		if start >= len(text) {
			break
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		pos = start + size
	}
	if last == 0 {
		return text
	}
	b.WriteString(text[last:])
	return b.String()
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !isWordRune(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !isWordRune(r)
}

func wordPattern(name string) *regexp.Regexp {
	if re, ok := patterns.Load(name); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(name))
	actual, _ := patterns.LoadOrStore(name, re)
	return actual.(*regexp.Regexp)
}
