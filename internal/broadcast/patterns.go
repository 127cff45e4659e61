package broadcast

import "strings"

// UserPlaceholder is replaced by the (escaped) user id in key patterns.
const UserPlaceholder = "{user}"

// DefaultKeyPatterns name the key/value entries derived from a user's tier.
var DefaultKeyPatterns = []string{
	"tier:" + UserPlaceholder,
	"subscription:" + UserPlaceholder,
	"entitlement:" + UserPlaceholder + ":*",
}

// ExpandPatterns substitutes userID into each pattern. Glob metacharacters
// in the id are escaped so "a*" cannot match another user's keys.
func ExpandPatterns(patterns []string, userID string) []string {
	escaped := escapeGlob(userID)
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, strings.ReplaceAll(p, UserPlaceholder, escaped))
	}
	return out
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '{', '}', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
