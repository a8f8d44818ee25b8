package policy

import "testing"

func TestParseRole(t *testing.T) {
	tests := map[string]Role{
		"":        RoleUser,
		"ADMIN":   RoleAdmin,
		" demo ":  RoleDemo,
		"student": RoleUser,
	}
	for in, want := range tests {
		if got := ParseRole(in); got != want {
			t.Fatalf("ParseRole(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestQuotaExempt(t *testing.T) {
	if QuotaExempt(RoleUser) {
		t.Fatalf("QuotaExempt(user) = true, want false")
	}
	if !QuotaExempt(RoleAdmin) || !QuotaExempt(RoleDemo) {
		t.Fatalf("admin and demo callers should be exempt")
	}
}

func TestCanClearHistory(t *testing.T) {
	if CanClearHistory(RoleDemo) {
		t.Fatalf("demo sessions must not clear history")
	}
	if !CanClearHistory(RoleUser) {
		t.Fatalf("users should clear their own history")
	}
}
