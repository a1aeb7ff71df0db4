package search

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Aman-CERP/tablerag/internal/record"
)

// IdentifierMatcher recognises registration-number queries. A query is an
// identifier either as a whole ("14", "gsa 014", "G.S.A-14") or when it
// contains the prefixed form anywhere ("details of GSA-14 please").
type IdentifierMatcher struct {
	prefix   string
	whole    *regexp.Regexp
	embedded *regexp.Regexp
}

// NewIdentifierMatcher compiles the patterns for a registration prefix.
// Letters of the prefix may be separated by dots or spaces.
func NewIdentifierMatcher(prefix string) *IdentifierMatcher {
	if prefix == "" {
		prefix = record.DefaultPrefix
	}
	p := prefixPattern(prefix)
	return &IdentifierMatcher{
		prefix:   strings.ToUpper(prefix),
		whole:    regexp.MustCompile(`(?i)^\s*(?:` + p + `)?[\s.\-]*(\d+)\s*$`),
		embedded: regexp.MustCompile(`(?i)\b` + p + `[\s.\-]*(\d+)\b`),
	}
}

func prefixPattern(prefix string) string {
	var b strings.Builder
	for i, r := range prefix {
		if i > 0 {
			b.WriteString(`[\s.]*`)
		}
		b.WriteString(regexp.QuoteMeta(string(r)))
	}
	return b.String()
}

// Match returns the integer registration code named by query. Leading
// zeros are not significant.
func (m *IdentifierMatcher) Match(query string) (int, bool) {
	if sub := m.whole.FindStringSubmatch(query); sub != nil {
		return parseCode(sub[1])
	}
	if sub := m.embedded.FindStringSubmatch(query); sub != nil {
		return parseCode(sub[1])
	}
	return 0, false
}

// Prefix returns the upper-cased registration prefix.
func (m *IdentifierMatcher) Prefix() string {
	return m.prefix
}

func parseCode(digits string) (int, bool) {
	trimmed := strings.TrimLeft(digits, "0")
	if trimmed == "" {
		return 0, true
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, false
	}
	return n, true
}
