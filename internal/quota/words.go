package quota

import (
	"strings"
	"unicode"
)

// CountWords counts whitespace-separated tokens after punctuation has been
// normalized to spaces. Tokens without a letter or digit are not words.
// Apostrophes inside a word ("don't") keep the word whole.
func CountWords(text string) int {
	runes := []rune(text)
	var b strings.Builder
	b.Grow(len(text))
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r):
			b.WriteRune(r)
		case isApostrophe(r) && i > 0 && i+1 < len(runes) && isWordRune(runes[i-1]) && isWordRune(runes[i+1]):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}

	n := 0
	for _, tok := range strings.Fields(b.String()) {
		if strings.IndexFunc(tok, isWordRune) >= 0 {
			n++
		}
	}
	return n
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isApostrophe(r rune) bool {
	return r == '\'' || r == '’'
}
