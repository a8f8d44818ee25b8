package generate

import "testing"

func TestSanitizeForSpeech(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "drops emoji and emphasis",
			in:   "Sure \U0001F60A **let's** do this / now.",
			want: "Sure let's do this now.",
		},
		{
			name: "keeps link label",
			in:   "Read [the docs](https://example.com/docs) first.",
			want: "Read the docs first.",
		},
		{
			name: "removes code",
			in:   "```bash\nnpm run dev\n```\nThen run `make test` ✅",
			want: "Then run",
		},
		{
			name: "flattens lists and headings",
			in:   "## Plan\n- first step\n2. second step",
			want: "Plan first step second step",
		},
		{
			name: "collapses repeated stops",
			in:   "Really?!! Wow...",
			want: "Really? Wow.",
		},
		{
			name: "empty",
			in:   "   ",
			want: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeForSpeech(tc.in); got != tc.want {
				t.Fatalf("SanitizeForSpeech(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
