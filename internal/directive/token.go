package directive

import "unicode/utf8"

// isIdentChar reports whether r may appear in a package, command or option
// token. Letters and digits are ASCII only.
func isIdentChar(r rune) bool {
	if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
		return true
	}
	switch r {
	case '-', '_', '.':
		return true
	default:
		return false
	}
}

// isRefChar widens isIdentChar with the characters of flake references.
func isRefChar(r rune) bool {
	if isIdentChar(r) {
		return true
	}
	switch r {
	case ':', '/', '?', '=':
		return true
	default:
		return false
	}
}

// scanFunc consumes one token from the front of s.
type scanFunc func(s string) (tok, rest string, ok bool)

func scanIdentifier(s string) (string, string, bool) {
	return scanWhile(s, isIdentChar)
}

func scanReference(s string) (string, string, bool) {
	return scanWhile(s, isRefChar)
}

// scanWhile returns the longest non-empty prefix of s whose runes satisfy
// match. ok is false when the first rune does not match.
func scanWhile(s string, match func(rune) bool) (tok, rest string, ok bool) {
	i := 0
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			break
		}
		if !match(r) {
			break
		}
		i += size
	}
	if i == 0 {
		return "", s, false
	}
	return s[:i], s[i:], true
}
