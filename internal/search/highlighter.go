package search

import (
	"strings"
	"unicode/utf8"

	"github.com/MLenaBleile/sandy/pkg/utils"
)

// Highlight returns a window of at most maxLen bytes of content starting a
// little before the first query term found, with "..." marking cuts.
func Highlight(content, query string, maxLen int) string {
	if maxLen <= 0 || len(content) <= maxLen {
		return content
	}
	start := -1
	for _, term := range strings.Fields(query) {
		if i := indexFold(content, term); i >= 0 && (start < 0 || i < start) {
			start = i
		}
	}
	if start <= maxLen/4 {
		return utils.Truncate(content, maxLen)
	}
	start -= maxLen / 4
	for start > 0 && !utf8.RuneStart(content[start]) {
		start--
	}
	return "..." + utils.Truncate(content[start:], maxLen)
}

// indexFold is a case-insensitive strings.Index. The offset is into s.
func indexFold(s, substr string) int {
	n := utf8.RuneCountInString(substr)
	if n == 0 {
		return -1
	}
	for i := range s {
		end, k := i, 0
		for ; k < n && end < len(s); k++ {
			_, size := utf8.DecodeRuneInString(s[end:])
			end += size
		}
		if k < n {
			return -1
		}
		if strings.EqualFold(s[i:end], substr) {
			return i
		}
	}
	return -1
}
