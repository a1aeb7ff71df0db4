package search

import (
	"fmt"
	"strings"
)

// Block headers used by Render.
const (
	exactHeader    = "EXACT MATCH"
	fallbackHeader = "[Best available match]"
)

// Render formats a result as plain text: one block per hit, blocks
// separated by a blank line. An empty result renders as "".
func Render(res *Result) string {
	if res == nil || len(res.Hits) == 0 {
		return ""
	}

	blocks := make([]string, 0, len(res.Hits))
	for i, h := range res.Hits {
		var header string
		switch res.Mode {
		case ModeExact:
			header = exactHeader
		case ModeFallback:
			header = fallbackHeader
		default:
			header = fmt.Sprintf("[Result %d]", i+1)
		}
		blocks = append(blocks, header+"\n"+h.FullInfo)
	}
	return strings.Join(blocks, "\n\n")
}
