package chat

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// zeroWidth covers zero-width space, non-joiner, joiner and the byte order mark.
var zeroWidth = runes.In(&unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x200b, Hi: 0x200d, Stride: 1},
		{Lo: 0xfeff, Hi: 0xfeff, Stride: 1},
	},
})

// Normalize canonicalizes text into a signature: zero-width characters are
// removed, whitespace runs collapse to one space, the ends are trimmed and the
// result is lowercased. An empty result means the text is not a message.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	// Casers keep state, so the chain is built per call.
	t := transform.Chain(runes.Remove(zeroWidth), cases.Lower(language.Und))
	s, _, err := transform.String(t, text)
	if err != nil {
		s = strings.ToLower(strings.Map(func(r rune) rune {
			if zeroWidth.Contains(r) {
				return -1
			}
			return r
		}, text))
	}
	return strings.Join(strings.Fields(s), " ")
}
