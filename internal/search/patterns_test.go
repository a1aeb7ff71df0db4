package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentifierMatcher_Match(t *testing.T) {
	m := NewIdentifierMatcher("GSA")

	tests := []struct {
		name     string
		query    string
		wantCode int
		wantOK   bool
	}{
		{"bare digits", "14", 14, true},
		{"prefixed with hyphen", "GSA-14", 14, true},
		{"lower case", "gsa-14", 14, true},
		{"leading zeros", "GSA-0014", 14, true},
		{"space separator", "gsa 014", 14, true},
		{"dotted prefix", "G.S.A.14", 14, true},
		{"no separator", "GSA14", 14, true},
		{"surrounding space", "  GSA-4314 ", 4314, true},
		{"all zeros", "GSA-000", 0, true},
		{"embedded in sentence", "give me details of GSA-14 please", 14, true},
		{"embedded lower case", "what is gsa 4314?", 4314, true},
		{"plain sentence with number", "gaushalas with 14 cattle", 0, false},
		{"prefix inside word", "XGSA14", 0, false},
		{"other prefix", "ABC-14", 0, false},
		{"words only", "who is the contact for Ramesh", 0, false},
		{"empty", "", 0, false},
		{"overflow", "GSA-99999999999999999999999", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := m.Match(tt.query)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantCode, code)
			}
		})
	}
}

func TestIdentifierMatcher_CustomPrefix(t *testing.T) {
	m := NewIdentifierMatcher("hr")

	code, ok := m.Match("HR/12")
	assert.False(t, ok, "slash is not a separator")
	assert.Zero(t, code)

	code, ok = m.Match("H.R-12")
	assert.True(t, ok)
	assert.Equal(t, 12, code)
	assert.Equal(t, "HR", m.Prefix())
}
