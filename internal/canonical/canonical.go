// Package canonical normalizes raw communication handles into the canonical
// forms the identity graph is keyed on, and hashes chunk transcripts into
// stable ids.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HandleType classifies a raw handle.
type HandleType string

const (
	HandlePhone      HandleType = "phone"
	HandleEmail      HandleType = "email"
	HandlePlatformID HandleType = "platform_id"
)

// knownPrefixes are protocol-style prefixes that carry no identity.
var knownPrefixes = []string{"tel:", "mailto:", "sms:", "imessage:"}

// Handle canonicalizes a raw handle. The result is the graph's uniqueness
// key: every punctuation/prefix/country-code variant of one phone number and
// every case variant of one email must collapse to the same string.
// Canonicalization is idempotent.
func Handle(raw string) string {
	s := strings.TrimSpace(raw)
	lower := strings.ToLower(s)
	for _, p := range knownPrefixes {
		if strings.HasPrefix(lower, p) {
			s = s[len(p):]
			lower = lower[len(p):]
			break
		}
	}

	if strings.Contains(s, "@") {
		// Email or platform-scoped id.
		return strings.ToLower(strings.TrimSpace(s))
	}

	// Phone number: keep digits only.
	var digits strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	// US/CA numbers are stored without the leading country code.
	if len(d) == 11 && d[0] == '1' {
		d = d[1:]
	}
	return d
}

// HandleTypeOf infers the handle type from the raw value.
func HandleTypeOf(raw string) HandleType {
	s := strings.TrimSpace(strings.ToLower(raw))
	for _, p := range knownPrefixes {
		s = strings.TrimPrefix(s, p)
	}
	if strings.Contains(s, "@") {
		if strings.Count(s, "@") == 1 && strings.Contains(s[strings.Index(s, "@"):], ".") {
			return HandleEmail
		}
		return HandlePlatformID
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '+' && r != '-' && r != ' ' && r != '(' && r != ')' && r != '.' {
			return HandlePlatformID
		}
	}
	return HandlePhone
}

// AliasKey lowercases a name variant for case-insensitive alias lookup.
func AliasKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ContentHash hashes rendered transcript text into a chunk id. The id is a
// pure function of the text, so re-chunking the same window reproduces the
// same ids and re-indexing becomes a set difference.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
