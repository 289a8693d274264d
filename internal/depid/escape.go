package depid

import (
	"net/url"
	"strings"
)

const upperhex = "0123456789ABCDEF"

// slashSubstitute replaces "/" inside fields so ids never contain path separators.
const slashSubstitute = "§"

// escapeField percent-escapes s with the encodeURIComponent rule set, except
// that "@" stays literal and "/" becomes "§".
func escapeField(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '/':
			b.WriteString(slashSubstitute)
		case unreserved(c):
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(upperhex[c>>4])
			b.WriteByte(upperhex[c&15])
		}
	}
	return b.String()
}

// unescapeField reverses escapeField. Only canonical escapings are accepted,
// so decoding and re-encoding always reproduces the input.
func unescapeField(s string) (string, bool) {
	raw, err := url.PathUnescape(strings.ReplaceAll(s, slashSubstitute, "%2F"))
	if err != nil {
		return "", false
	}
	return raw, escapeField(raw) == s
}

func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')', '@':
		return true
	}
	return false
}
