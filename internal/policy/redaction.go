package policy

import "regexp"

type piiRule struct {
	marker  string
	pattern *regexp.Regexp
}

// Order matters: a card number also looks like a phone number, and so does
// a social security number.
var piiRules = []piiRule{
	{"[email]", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
	{"[card number]", regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)},
	{"[ssn]", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"[phone number]", regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)},
}

// RedactPII replaces contact and payment details in assistant text with
// bracketed markers and returns how many spans were replaced.
func RedactPII(text string) (string, int) {
	n := 0
	for _, rule := range piiRules {
		text = rule.pattern.ReplaceAllStringFunc(text, func(string) string {
			n++
			return rule.marker
		})
	}
	return text, n
}
