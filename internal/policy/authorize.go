package policy

import "strings"

// Role is the kind of caller driving a conversation.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
	RoleDemo  Role = "demo"
)

// ParseRole maps free-form input to a known role, defaulting to RoleUser.
func ParseRole(raw string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleDemo:
		return RoleDemo
	default:
		return RoleUser
	}
}

// QuotaExempt reports whether the role is excluded from daily word accounting.
// Administrators and demo sessions are never counted.
func QuotaExempt(r Role) bool {
	return r == RoleAdmin || r == RoleDemo
}

// CanClearHistory reports whether the role may wipe all stored conversations.
func CanClearHistory(r Role) bool {
	return r == RoleAdmin || r == RoleUser
}
