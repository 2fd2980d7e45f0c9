// Package attribute implements option attribute paths such as
// services.openssh.enable.
//
// An Attribute is an immutable value type: it is comparable with == and can
// be used directly as a map key. The root attribute has no segments.
package attribute

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// sep terminates every segment in the packed key. Nix attribute names
// never contain NUL bytes.
const sep = "\x00"

// ErrInvalidAttribute is returned when a dotted attribute path cannot be parsed.
var ErrInvalidAttribute = errors.New("invalid attribute path")

// Attribute is an ordered sequence of path segments.
type Attribute struct {
	// key holds the segments, each terminated by sep.
	key string
}

// Root returns the empty attribute.
func Root() Attribute {
	return Attribute{}
}

// New creates an attribute from segments.
func New(segments ...string) Attribute {
	var b strings.Builder
	for _, s := range segments {
		b.WriteString(s)
		b.WriteString(sep)
	}
	return Attribute{key: b.String()}
}

// Segments returns a copy of the attribute's segments.
func (a Attribute) Segments() []string {
	if a.key == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(a.key, sep), sep)
}

// Len returns the number of segments.
func (a Attribute) Len() int {
	return strings.Count(a.key, sep)
}

// IsRoot reports whether a has no segments.
func (a Attribute) IsRoot() bool {
	return a.key == ""
}

// Parent drops the last segment. The parent of the root is the root.
func (a Attribute) Parent() Attribute {
	if a.key == "" {
		return a
	}
	trimmed := a.key[:len(a.key)-1]
	i := strings.LastIndex(trimmed, sep)
	if i < 0 {
		return Attribute{}
	}
	return Attribute{key: trimmed[:i+1]}
}

// End returns the last segment, or "" for the root.
func (a Attribute) End() string {
	if a.key == "" {
		return ""
	}
	trimmed := a.key[:len(a.key)-1]
	return trimmed[strings.LastIndex(trimmed, sep)+1:]
}

// Child appends one segment.
func (a Attribute) Child(segment string) Attribute {
	return Attribute{key: a.key + segment + sep}
}

// Join appends all segments of other to a.
func (a Attribute) Join(other Attribute) Attribute {
	return Attribute{key: a.key + other.key}
}

// HasPrefix reports whether prefix is a (not necessarily strict) ancestor of a.
func (a Attribute) HasPrefix(prefix Attribute) bool {
	return strings.HasPrefix(a.key, prefix.key)
}

// TrimPrefix returns a relative to prefix. It returns false if prefix is not
// an ancestor of a.
func (a Attribute) TrimPrefix(prefix Attribute) (Attribute, bool) {
	if !a.HasPrefix(prefix) {
		return Attribute{}, false
	}
	return Attribute{key: a.key[len(prefix.key):]}, true
}

// Compare orders attributes segment by segment.
func (a Attribute) Compare(b Attribute) int {
	// sep sorts below every other byte, so packed keys compare like segment lists.
	return strings.Compare(a.key, b.key)
}

// String renders the attribute in Nix attribute path syntax. Segments that
// are not plain identifiers are quoted.
func (a Attribute) String() string {
	if a.key == "" {
		return ""
	}
	segs := a.Segments()
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = Quote(s)
	}
	return strings.Join(parts, ".")
}

// MarshalText implements encoding.TextMarshaler using the dotted form.
func (a Attribute) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Attribute) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalJSON encodes the attribute as a list of segments.
func (a Attribute) MarshalJSON() ([]byte, error) {
	segs := a.Segments()
	if segs == nil {
		segs = []string{}
	}
	return json.Marshal(segs)
}

// UnmarshalJSON decodes a list of segments. A JSON string is read as a
// dotted path; encoding/json passes map keys here in that form.
func (a *Attribute) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var dotted string
		if err := json.Unmarshal(data, &dotted); err != nil {
			return err
		}
		return a.UnmarshalText([]byte(dotted))
	}

	var segs []string
	if err := json.Unmarshal(data, &segs); err != nil {
		return fmt.Errorf("attribute must be a list of strings: %w", err)
	}
	*a = New(segs...)
	return nil
}

// Parse reads a dotted attribute path. Quoted segments may contain dots.
func Parse(s string) (Attribute, error) {
	if s == "" {
		return Root(), nil
	}

	var segs []string
	for i := 0; ; {
		var seg string
		if i < len(s) && s[i] == '"' {
			end, unquoted, err := unquote(s, i)
			if err != nil {
				return Attribute{}, fmt.Errorf("%w %q: %v", ErrInvalidAttribute, s, err)
			}
			seg, i = unquoted, end
		} else {
			j := strings.IndexByte(s[i:], '.')
			if j < 0 {
				j = len(s) - i
			}
			seg = s[i : i+j]
			if !isIdentifier(seg) {
				return Attribute{}, fmt.Errorf("%w %q: bad segment %q", ErrInvalidAttribute, s, seg)
			}
			i += j
		}
		segs = append(segs, seg)

		if i == len(s) {
			return New(segs...), nil
		}
		if s[i] != '.' || i+1 == len(s) {
			return Attribute{}, fmt.Errorf("%w %q: unexpected character at offset %d", ErrInvalidAttribute, s, i)
		}
		i++
	}
}

// MustParse is like Parse but panics on error. Intended for literals.
func MustParse(s string) Attribute {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}
