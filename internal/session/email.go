package session

import "strings"

// DefaultEmailDomain turns a bare username into a login email.
const DefaultEmailDomain = "vcm.com"

// NormalizeEmail returns the login email for a username-or-email input. A
// bare username gets "@domain" appended; anything containing '@' is used
// as typed (trimmed).
func NormalizeEmail(input, domain string) string {
	input = strings.TrimSpace(input)
	if strings.Contains(input, "@") {
		return input
	}
	if domain == "" {
		domain = DefaultEmailDomain
	}
	return input + "@" + domain
}

// DeriveUsername is the display name given to a new account: the input up
// to the first '@'.
func DeriveUsername(input string) string {
	input = strings.TrimSpace(input)
	if i := strings.Index(input, "@"); i >= 0 {
		return input[:i]
	}
	return input
}
