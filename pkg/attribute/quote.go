package attribute

import (
	"errors"
	"strings"
)

// isIdentifier reports whether s can be written as a bare Nix attribute name.
func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && ((r >= '0' && r <= '9') || r == '\'' || r == '-'):
		default:
			return false
		}
	}
	return true
}

// keywords cannot appear unquoted after a dot in a Nix expression.
var keywords = map[string]bool{
	"assert": true, "else": true, "if": true, "in": true, "inherit": true,
	"let": true, "or": true, "rec": true, "then": true, "with": true,
}

// Quote renders a single segment, wrapping it in a Nix string literal when
// it is not a bare identifier or is a keyword.
func Quote(segment string) string {
	if isIdentifier(segment) && !keywords[segment] {
		return segment
	}
	return QuoteString(segment)
}

// QuoteString renders s as a double-quoted Nix string literal.
func QuoteString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '$':
			if i+1 < len(s) && s[i+1] == '{' {
				b.WriteString(`\$`)
			} else {
				b.WriteByte(c)
			}
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// unquote decodes the string literal starting at s[start] and returns the
// offset just past the closing quote.
func unquote(s string, start int) (int, string, error) {
	var b strings.Builder
	for i := start + 1; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			return i + 1, b.String(), nil
		case '\\':
			i++
			if i == len(s) {
				return 0, "", errors.New("dangling escape")
			}
			switch e := s[i]; e {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(e)
			}
		default:
			b.WriteByte(c)
		}
	}
	return 0, "", errors.New("unterminated string")
}
