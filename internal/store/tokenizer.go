package store

import (
	"regexp"
	"strings"
	"unicode"
)

// wordRegex matches runs of letters and digits.
var wordRegex = regexp.MustCompile(`[\p{L}\p{N}]+`)

// DefaultStopWords are English function words that carry no signal in
// registry narratives or questions about them.
var DefaultStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "can", "do", "does",
	"for", "from", "give", "has", "have", "i", "in", "is", "it", "me",
	"of", "on", "or", "please", "show", "tell", "that", "the", "their",
	"there", "this", "to", "was", "what", "which", "who", "whom", "with",
	"whose", "where", "about", "details",
}

// Term is one token with its byte offsets in the source text.
type Term struct {
	Text  string
	Start int
	End   int
}

// SplitTerms lowercases text and splits it into terms. Letter/digit
// boundaries split ("GSA014" -> gsa, 14) and numeric terms lose leading
// zeros so "014" and "14" match.
func SplitTerms(text string) []Term {
	var terms []Term
	for _, loc := range wordRegex.FindAllStringIndex(text, -1) {
		word := text[loc[0]:loc[1]]
		start := 0
		runes := []rune(word)
		offset := loc[0]
		byteStart := 0
		for i := 1; i <= len(runes); i++ {
			if i < len(runes) && unicode.IsDigit(runes[i]) == unicode.IsDigit(runes[i-1]) {
				continue
			}
			part := string(runes[start:i])
			terms = append(terms, Term{
				Text:  normalizeTerm(part),
				Start: offset + byteStart,
				End:   offset + byteStart + len(part),
			})
			byteStart += len(part)
			start = i
		}
	}
	return terms
}

// Tokenize returns the normalized terms of text with stop words removed.
func Tokenize(text string, stopWords map[string]struct{}) []string {
	terms := SplitTerms(text)
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, stop := stopWords[t.Text]; stop {
			continue
		}
		out = append(out, t.Text)
	}
	return out
}

func normalizeTerm(s string) string {
	s = strings.ToLower(s)
	if s != "" && unicode.IsDigit(rune(s[0])) {
		trimmed := strings.TrimLeft(s, "0")
		if trimmed == "" {
			return "0"
		}
		return trimmed
	}
	return s
}

// FilterStopWords removes stop words from a token list.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, isStop := stopWords[strings.ToLower(token)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// BuildStopWordMap converts a slice of stop words to a map for efficient lookup.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}
