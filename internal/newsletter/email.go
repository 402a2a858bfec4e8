package newsletter

import (
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsLikelyEmail is a plausibility check, not RFC validation.
func IsLikelyEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// NormalizeEmails normalises, drops implausible addresses and removes
// duplicates while keeping first-seen order.
func NormalizeEmails(emails []string) []string {
	seen := make(map[string]struct{}, len(emails))
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		e = NormalizeEmail(e)
		if !IsLikelyEmail(e) {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

// Placeholders substituted per recipient at delivery time.
const (
	PlaceholderUnsubscribe = "{{unsubscribe_url}}"
	PlaceholderEmail       = "{{email}}"
)
