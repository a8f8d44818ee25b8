package policy

import (
	"regexp"
	"sort"
	"strings"
)

const Mask = "***"

var (
	// Terms masked when the content filter is enabled.
	defaultSafetyTerms = []string{
		"kill yourself",
		"kys",
		"white power",
		"heil",
	}
	// Terms masked when the profanity filter is enabled.
	defaultProfanityTerms = []string{
		"fuck",
		"fucking",
		"shit",
		"bitch",
		"bastard",
		"asshole",
		"dickhead",
		"motherfucker",
		"cunt",
	}
)

type FilterOptions struct {
	ContentFilter   bool
	ProfanityFilter bool
}

type FilterResult struct {
	Text    string
	Changed bool
	Masked  int
}

// ContentFilter masks denylisted terms in assistant output. It never rejects a
// message; matching is case-insensitive on whole words.
type ContentFilter struct {
	safety    *regexp.Regexp
	profanity *regexp.Regexp
}

// NewContentFilter builds a filter from the default lists plus extra terms.
func NewContentFilter(extraSafety, extraProfanity []string) *ContentFilter {
	return &ContentFilter{
		safety:    compileDenylist(append(append([]string(nil), defaultSafetyTerms...), extraSafety...)),
		profanity: compileDenylist(append(append([]string(nil), defaultProfanityTerms...), extraProfanity...)),
	}
}

func (f *ContentFilter) Apply(text string, opts FilterOptions) FilterResult {
	out := FilterResult{Text: text}
	if !opts.ContentFilter && !opts.ProfanityFilter {
		return out
	}

	mask := func(re *regexp.Regexp) {
		if re == nil {
			return
		}
		out.Text = re.ReplaceAllStringFunc(out.Text, func(string) string {
			out.Masked++
			return Mask
		})
	}
	if opts.ContentFilter {
		mask(f.safety)
		var n int
		out.Text, n = RedactPII(out.Text)
		out.Masked += n
	}
	if opts.ProfanityFilter {
		mask(f.profanity)
	}
	out.Changed = out.Text != text
	return out
}

func compileDenylist(terms []string) *regexp.Regexp {
	seen := make(map[string]bool, len(terms))
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		quoted = append(quoted, regexp.QuoteMeta(t))
	}
	if len(quoted) == 0 {
		return nil
	}
	// Longest first so multi-word phrases win over their prefixes.
	sort.Slice(quoted, func(i, j int) bool { return len(quoted[i]) > len(quoted[j]) })
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}
