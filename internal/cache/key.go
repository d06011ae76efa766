package cache

import "strings"

// BuildKey derives a cache key from method+uri, the only two dimensions
// spec.md's cache contract names. Keys longer than the bound are rejected
// at ValidateKey time rather than silently truncated, so callers notice a
// pathological URI instead of suffering silent key collisions.
func BuildKey(method, uri string) string {
	var b strings.Builder
	b.WriteString(method)
	b.WriteByte(':')
	b.WriteString(uri)
	return b.String()
}
