// Package str holds string helpers.
package str

import "strings"

// ToScreamingSnakeCase transforms a given string into screaming snake case format,
// e.g. "maxPoolSize" becomes "MAX_POOL_SIZE".
func ToScreamingSnakeCase(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return in
	}

	sb := strings.Builder{}
	sb.Grow(len(in) + len(in)/3)

	for i, b := range []byte(in) {
		switch {
		case isLower(b):
			sb.WriteByte(b - ('a' - 'A'))
		case b == '_' || b == '-' || b == ' ':
			if i > 0 {
				sb.WriteByte('_')
			}
		case isUpper(b) || isDigit(b):
			if i > 0 && needsSeparator(in, i) {
				sb.WriteByte('_')
			}
			sb.WriteByte(b)
		default:
			sb.WriteByte(b)
		}
	}

	return sb.String()
}

// needsSeparator tells if an underscore goes before in[i], an upper case letter or
// a digit. Acronyms stay together: "HTTPServer" becomes "HTTP_SERVER".
func needsSeparator(in string, i int) bool {
	previous, current := in[i-1], in[i]
	switch {
	case previous == '_' || previous == '-' || previous == ' ':
		return false
	case isDigit(current):
		return !isDigit(previous)
	case isUpper(previous):
		return i+1 < len(in) && isLower(in[i+1])
	default:
		return true
	}
}

func isUpper(b byte) bool { return 'A' <= b && b <= 'Z' }
func isLower(b byte) bool { return 'a' <= b && b <= 'z' }
func isDigit(b byte) bool { return '0' <= b && b <= '9' }

// Indent prefixes every line of s with prefix.
func Indent(s string, prefix string) string {
	if s == "" {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}
