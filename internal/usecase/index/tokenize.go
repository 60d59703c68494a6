package index

import (
	"strings"
	"unicode"
)

// Tokenize lowercases s and splits it on every rune that is neither a
// letter nor a digit, so punctuation never survives inside a term.
func Tokenize(s string) []string {
	return strings.FieldsFunc(lowerCase(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// lowerCase maps every rune to exactly one lower-case rune, so offsets into
// the result line up with offsets into the original runes.
func lowerCase(s string) string {
	return strings.Map(unicode.ToLower, s)
}

// distinct returns the unique tokens of q in first-seen order.
func distinct(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0:0]
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// snippet returns up to n runes of text centred on the earliest occurrence
// of any term. Without an occurrence it returns the head of text.
func snippet(text string, terms []string, n int) string {
	if n <= 0 || text == "" {
		return ""
	}
	runes := []rune(text)
	lower := []rune(lowerCase(text))

	first := -1
	for _, t := range terms {
		if at := indexRunes(lower, []rune(t)); at >= 0 && (first < 0 || at < first) {
			first = at
		}
	}

	start := 0
	if first > 0 {
		start = max(first-n/4, 0)
	}
	end := min(start+n, len(runes))
	if end-start < n {
		start = max(end-n, 0)
	}

	out := strings.TrimSpace(string(runes[start:end]))
	if start > 0 {
		out = "…" + out
	}
	if end < len(runes) {
		out += "…"
	}
	return out
}

func indexRunes(haystack, needle []rune) int {
	if len(needle) == 0 {
		return -1
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j, r := range needle {
			if haystack[i+j] != r {
				continue outer
			}
		}
		return i
	}
	return -1
}
