package transform

import (
	"strings"
	"unicode/utf16"

	"github.com/kimhsiao/stashsync/internal/sync/remote"
)

// BlockSize is the largest text block the remote accepts, in UTF-16 code
// units. Outside the BMP a rune takes two.
const BlockSize = 2000

// Split cuts s into text segments of at most BlockSize UTF-16 code units,
// never splitting a rune. The empty string yields an empty, non-nil slice.
func Split(s string) []remote.RichText {
	blocks := []remote.RichText{}
	for len(s) > 0 {
		n, end := 0, len(s)
		for i, r := range s {
			w := len(utf16.Encode([]rune{r}))
			if w < 1 {
				w = 1
			}
			if n+w > BlockSize {
				end = i
				break
			}
			n += w
		}
		blocks = append(blocks, remote.Text(s[:end]))
		s = s[end:]
	}
	return blocks
}

// Join concatenates segments in order.
func Join(blocks []remote.RichText) string {
	var b strings.Builder
	for _, rt := range blocks {
		b.WriteString(rt.Plain())
	}
	return b.String()
}
