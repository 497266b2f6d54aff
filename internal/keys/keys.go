package keys

import "strings"

const (
	listPrefix  = "list:"
	valuePrefix = "value:"
)

// List returns the storage key of a list entry: list:<ns>:<key>.
func List(ns, key string) string { return listPrefix + ns + ":" + key }

// Value returns the storage key of a scalar entry: value:<ns>:<key>.
func Value(ns, key string) string { return valuePrefix + ns + ":" + key }

// ListSpace is the prefix shared by every list key of ns.
func ListSpace(ns string) string { return listPrefix + ns + ":" }

// ValueSpace is the prefix shared by every scalar key of ns.
func ValueSpace(ns string) string { return valuePrefix + ns + ":" }

// User strips space from a storage key. ok is false for foreign keys.
func User(space, storageKey string) (string, bool) {
	if !strings.HasPrefix(storageKey, space) {
		return "", false
	}
	return storageKey[len(space):], true
}

// Glob builds a "*<pattern>*" match expression with glob metacharacters
// escaped, so the pattern is matched as a plain substring.
func Glob(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern) + 2)
	b.WriteByte('*')
	for i := 0; i < len(pattern); i++ {
		switch ch := pattern[i]; ch {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
			b.WriteByte(ch)
		default:
			b.WriteByte(ch)
		}
	}
	b.WriteByte('*')
	return b.String()
}
