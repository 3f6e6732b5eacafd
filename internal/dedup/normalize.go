package dedup

import (
	"strings"
	"unicode"
)

// Normalize returns the canonical identity of a feed link: the query string
// (and anything after it) and trailing slashes are dropped. It is
// idempotent, and an empty result means the link cannot be deduplicated.
func Normalize(link string) string {
	s := strings.TrimSpace(link)
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimRightFunc(s, func(r rune) bool {
		return r == '/' || unicode.IsSpace(r)
	})
}
