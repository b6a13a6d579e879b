package sip

import (
	"strings"

	"github.com/emiago/sipgo/sip"
)

// CallerIDFromRequest extracts the calling number from an INVITE's From
// header. Providers differ in where they put the number: some quote it in
// the display name, others only carry it in the URI user part.
func CallerIDFromRequest(req *sip.Request) string {
	from := req.From()
	if from == nil {
		return "unknown"
	}
	return ExtractCallerID(from.DisplayName, from.Address.User)
}

// ExtractCallerID picks the caller number from a From header's display
// name and URI user part. A display name consisting of digits (optionally
// with a leading +) wins, then a numeric URI user, then the raw user part.
func ExtractCallerID(displayName, user string) string {
	name := strings.Trim(strings.TrimSpace(displayName), `"`)
	if isPhoneNumber(name) {
		return name
	}
	if isPhoneNumber(user) {
		return user
	}
	if user != "" {
		return user
	}
	return "unknown"
}

// isPhoneNumber reports whether s looks like a dialable number: digits
// only, with an optional leading +.
func isPhoneNumber(s string) bool {
	s = strings.TrimPrefix(s, "+")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
