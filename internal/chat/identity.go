package chat

import "regexp"

// MaxIdentityLength - longest identity in bytes.
const MaxIdentityLength = 32

var identityPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

// ValidIdentity - reports whether s is a syntactically valid identity:
// 1 to 32 ASCII letters, digits, underscores or hyphens. Identities are case-sensitive.
func ValidIdentity(s string) bool {
	return len(s) <= MaxIdentityLength && identityPattern.MatchString(s)
}
