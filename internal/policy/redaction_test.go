package policy

import "testing"

func TestRedactPII(t *testing.T) {
	in := "Mail sam@example.com, call +1 (555) 123-9876, pay with 4242 4242 4242 4242, ssn 078-05-1120."
	out, n := RedactPII(in)
	want := "Mail [email], call [phone number], pay with [card number], ssn [ssn]."
	if out != want {
		t.Fatalf("RedactPII() = %q, want %q", out, want)
	}
	if n != 4 {
		t.Fatalf("RedactPII() count = %d, want 4", n)
	}
}

func TestRedactPIILeavesPlainText(t *testing.T) {
	in := "Meet me at 5 on the 3rd floor."
	if out, n := RedactPII(in); out != in || n != 0 {
		t.Fatalf("RedactPII(%q) = %q, %d", in, out, n)
	}
}
