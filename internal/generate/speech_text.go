package generate

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	fencedCode   = regexp.MustCompile("(?s)```.*?```")
	inlineCode   = regexp.MustCompile("`[^`]*`")
	markdownLink = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	bareURL      = regexp.MustCompile(`https?://\S+`)
	listMarker   = regexp.MustCompile(`(?m)^\s*(?:[-*+•]|\d+[.)])\s+`)
	headingMark  = regexp.MustCompile(`(?m)^\s*#{1,6}\s*`)
	repeatedStop = regexp.MustCompile(`([.!?])[.!?]+`)
)

var symbolReplacer = strings.NewReplacer(
	"*", " ", "_", " ", "\\", " ", "/", " ", "|", " ",
	"#", " ", "~", " ", "<", " ", ">", " ", "=", " ",
)

// SanitizeForSpeech strips markdown, code, links and emoji from model text
// before synthesis. List items and headings become plain sentences.
func SanitizeForSpeech(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	raw = fencedCode.ReplaceAllString(raw, " ")
	raw = inlineCode.ReplaceAllString(raw, " ")
	raw = markdownLink.ReplaceAllString(raw, "$1")
	raw = bareURL.ReplaceAllString(raw, " ")
	raw = headingMark.ReplaceAllString(raw, "")
	raw = listMarker.ReplaceAllString(raw, "")
	raw = symbolReplacer.Replace(raw)
	raw = repeatedStop.ReplaceAllString(raw, "$1")

	var b strings.Builder
	b.Grow(len(raw))
	space := true
	for _, r := range raw {
		switch {
		case r == '\u200d' || r == '\ufe0f' || r == '\u20e3':
		case unicode.IsSpace(r):
			if !space {
				b.WriteByte(' ')
				space = true
			}
		case unicode.IsControl(r):
		case unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
			// emoji and symbols
		case spokenPunctuation(r):
			b.WriteRune(r)
			space = false
		case unicode.IsPunct(r):
			if !space {
				b.WriteByte(' ')
				space = true
			}
		default:
			b.WriteRune(r)
			space = false
		}
	}
	return strings.TrimSpace(b.String())
}

func spokenPunctuation(r rune) bool {
	return strings.ContainsRune(".,!?:;'\"-()", r)
}
