package index

import (
	"sort"
	"strings"
	"unicode"
)

// tokenize splits s on Unicode word boundaries, lowercases, strips
// punctuation, and preserves repeated tokens (needed for term frequency;
// callers that want a set dedupe separately). Deterministic and
// allocation-light: one pass building token boundaries, one lowercase
// conversion per token.
func tokenize(s string) []string {
	var tokens []string

	start := -1

	runes := []rune(s)
	for i, r := range runes {
		if isWordRune(r) {
			if start < 0 {
				start = i
			}

			continue
		}

		if start >= 0 {
			tokens = append(tokens, strings.ToLower(string(runes[start:i])))
			start = -1
		}
	}

	if start >= 0 {
		tokens = append(tokens, strings.ToLower(string(runes[start:])))
	}

	return tokens
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}

// tokenSet dedupes a token slice into a set.
func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}

	return set
}

// termFreq builds a term-frequency map with capacity preallocated to the
// token count (spec.md §4.4 write-path invariant 3).
func termFreq(tokens []string) map[string]int {
	freq := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		freq[tok]++
	}

	return freq
}

// buildLexicalText concatenates the fields that feed tokenization and
// exact-key fingerprinting in one preallocated pass (spec.md §4.4 write-path
// invariant 2): name, the URI's last path segment, abstract, content, and
// tags, space-joined.
func buildLexicalText(name, lastSegment, abstract, content string, tags []string) string {
	n := len(name) + len(lastSegment) + len(abstract) + len(content) + 4

	for _, tag := range tags {
		n += len(tag) + 1
	}

	var b strings.Builder
	b.Grow(n)

	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(lastSegment)
	b.WriteByte(' ')
	b.WriteString(abstract)
	b.WriteByte(' ')
	b.WriteString(content)

	for _, tag := range tags {
		b.WriteByte(' ')
		b.WriteString(tag)
	}

	return b.String()
}

// compactBigrams returns the sorted multiset of two-rune bigrams of the
// compact (whitespace/hyphen/underscore-stripped) lowercase form of s, used
// by the Sørensen-Dice fuzzy scorer. Sorted output lets the scorer assume a
// sorted-input precondition (spec.md §4.4 search invariant).
func compactBigrams(s string) []string {
	runes := []rune(compactLowerQuery(s))

	if len(runes) < 2 {
		if len(runes) == 1 {
			return []string{string(runes)}
		}

		return nil
	}

	bigrams := make([]string, 0, len(runes)-1)
	for i := 0; i < len(runes)-1; i++ {
		bigrams = append(bigrams, string(runes[i:i+2]))
	}

	sort.Strings(bigrams)

	return bigrams
}
