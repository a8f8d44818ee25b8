package policy

import (
	"strings"
	"testing"
)

func TestContentFilterMasksProfanity(t *testing.T) {
	f := NewContentFilter(nil, nil)
	res := f.Apply("Well SHIT, that is a shitty idea.", FilterOptions{ProfanityFilter: true})
	if res.Text != "Well ***, that is a shitty idea." {
		t.Fatalf("Apply() = %q", res.Text)
	}
	if !res.Changed || res.Masked != 1 {
		t.Fatalf("Changed/Masked = %v/%d, want true/1", res.Changed, res.Masked)
	}
}

func TestContentFilterDisabled(t *testing.T) {
	f := NewContentFilter(nil, nil)
	in := "shit happens, mail sam@example.com"
	res := f.Apply(in, FilterOptions{})
	if res.Text != in || res.Changed {
		t.Fatalf("disabled filter changed text: %q", res.Text)
	}
}

func TestContentFilterSafetyListAndPII(t *testing.T) {
	f := NewContentFilter([]string{"forbidden phrase"}, nil)
	res := f.Apply("That Forbidden Phrase again; write to sam@example.com", FilterOptions{ContentFilter: true})
	if strings.Contains(strings.ToLower(res.Text), "forbidden phrase") {
		t.Fatalf("safety term not masked: %q", res.Text)
	}
	if strings.Contains(res.Text, "sam@example.com") {
		t.Fatalf("email not redacted: %q", res.Text)
	}
	if res.Masked != 2 {
		t.Fatalf("Masked = %d, want 2", res.Masked)
	}
}

func TestContentFilterProfanityOnlyLeavesPII(t *testing.T) {
	f := NewContentFilter(nil, nil)
	res := f.Apply("call +1 (555) 123-9876", FilterOptions{ProfanityFilter: true})
	if res.Changed {
		t.Fatalf("profanity-only filter redacted PII: %q", res.Text)
	}
}
