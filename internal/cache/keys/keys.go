// Package keys builds and parses the namespaced cache keys under which
// composite results are stored.
package keys

import (
	"strings"
	"unicode"
)

// DefaultPrefix namespaces this system's keys on a shared Redis so the
// expiration listener can filter relevant events from the event bus.
const DefaultPrefix = "greenscore:"

// Key returns the cache key for a location key under the given prefix.
func Key(prefix, locationKey string) string {
	return prefix + sanitize(locationKey)
}

// LocationKey strips the namespace prefix from a raw cache key. The
// second return is false for keys outside this namespace.
func LocationKey(prefix, key string) (string, bool) {
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	loc := key[len(prefix):]
	if loc == "" {
		return "", false
	}
	return loc, true
}

// sanitize keeps keys flat and shell-safe: whitespace runs become a
// single '_', anything outside [alnum:_-] becomes '-', with repeats of
// the replacement characters collapsed.
func sanitize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		var out rune
		switch {
		case unicode.IsSpace(r):
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
