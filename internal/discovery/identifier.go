package discovery

import "regexp"

var identifierRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,13}[a-z0-9])?$`)

// ValidateIdentifier reports whether id is usable as a service identifier:
// 1-15 characters of lowercase ASCII letters, digits and hyphens, neither
// starting nor ending with a hyphen.
func ValidateIdentifier(id string) bool {
	return identifierRe.MatchString(id)
}
