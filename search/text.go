package search

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/poiesic/knowmesh/core"
)

// Stop words to filter out when matching query terms
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true,
}

// tokenizeAndFilter splits text into words, lowercases, trims punctuation, and removes stop words
func tokenizeAndFilter(text string) []string {
	words := strings.Fields(text)
	filtered := make([]string, 0, len(words))

	for _, word := range words {
		// Lowercase and trim punctuation
		cleaned := strings.ToLower(strings.Trim(word, ".,!?;:'\"-()[]{}"))

		// Skip stop words and empty strings
		if cleaned != "" && !stopWords[cleaned] {
			filtered = append(filtered, cleaned)
		}
	}

	return filtered
}

// containsAllQueryWords checks if all query words (after filtering) appear in the document
func containsAllQueryWords(document, query string) bool {
	queryWords := tokenizeAndFilter(query)
	if len(queryWords) == 0 {
		return false
	}

	docWords := tokenizeAndFilter(document)
	docWordSet := make(map[string]bool, len(docWords))
	for _, word := range docWords {
		docWordSet[word] = true
	}

	// Check if all query words exist in document
	for _, qWord := range queryWords {
		if !docWordSet[qWord] {
			return false
		}
	}

	return true
}

func termSet(query string) map[string]bool {
	terms := make(map[string]bool)
	for _, t := range tokenizeAndFilter(query) {
		terms[t] = true
	}
	return terms
}

// splitSentences cuts text after sentence punctuation and at line breaks.
func splitSentences(text string) []string {
	var out []string
	start := 0
	flush := func(end int) {
		if s := strings.TrimSpace(text[start:end]); s != "" {
			out = append(out, s)
		}
		start = end
	}
	for i, r := range text {
		switch r {
		case '.', '!', '?':
			flush(i + 1)
		case '\n':
			flush(i)
		}
	}
	flush(len(text))
	return out
}

// snippet picks the sentence of content matching the most query terms,
// preferring one that contains every term, and marks the term occurrences.
func snippet(content, query string, maxLen int) (string, []core.Highlight) {
	terms := termSet(query)
	best, bestScore := "", -1
	for _, sentence := range splitSentences(content) {
		score := 0
		seen := make(map[string]bool)
		for _, w := range tokenizeAndFilter(sentence) {
			if terms[w] && !seen[w] {
				seen[w] = true
				score++
			}
		}
		if containsAllQueryWords(sentence, query) {
			score += len(terms)
		}
		if score > bestScore {
			best, bestScore = sentence, score
		}
	}
	best = truncate(best, maxLen)
	return best, highlights(best, terms)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen]
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// highlights returns the byte ranges of whole words in s that are terms.
func highlights(s string, terms map[string]bool) []core.Highlight {
	if len(terms) == 0 {
		return nil
	}
	var out []core.Highlight
	start := -1
	for i, r := range s {
		if isWordRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			if terms[strings.ToLower(s[start:i])] {
				out = append(out, core.Highlight{Start: start, End: i})
			}
			start = -1
		}
	}
	if start >= 0 && terms[strings.ToLower(s[start:])] {
		out = append(out, core.Highlight{Start: start, End: len(s)})
	}
	return out
}
