package validation

import (
	"regexp"
	"strings"
)

// MaxEmailLength is the longest address accepted (RFC 5321 path limit).
const MaxEmailLength = 254

// emailRegex accepts a dot-atom local part and a domain with at least one
// dot. Quoted local parts and IP-literal domains are not supported.
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`)

// IsValidEmail reports whether email, ignoring surrounding whitespace, is
// an address we can register.
func IsValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" || len(email) > MaxEmailLength || !emailRegex.MatchString(email) {
		return false
	}

	local, _, _ := strings.Cut(email, "@")
	return !strings.Contains(local, "..") &&
		!strings.HasPrefix(local, ".") &&
		!strings.HasSuffix(local, ".")
}

// NormalizeEmail trims surrounding whitespace and lowercases the address
// so that lookups and uniqueness checks are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
