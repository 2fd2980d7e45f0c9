package options

import (
	"github.com/google/go-cmp/cmp"
	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/oj"
)

// Definition is the value assigned to an option. The zero value is the
// undefined sentinel used by purely structural nodes.
//
// Values are JSON-like (nil, bool, int64, float64, string, []any,
// map[string]any) as produced by the evaluator, and are treated as
// immutable once wrapped.
type Definition struct {
	value   any
	defined bool
}

// Undefined returns the undefined sentinel.
func Undefined() Definition {
	return Definition{}
}

// NewDefinition wraps v. A nil v is a defined null, not Undefined.
func NewDefinition(v any) Definition {
	return Definition{value: v, defined: true}
}

// IsUndefined reports whether d is the undefined sentinel.
func (d Definition) IsUndefined() bool {
	return !d.defined
}

// Value returns the wrapped value, or nil when undefined.
func (d Definition) Value() any {
	return d.value
}

// Equal reports whether both definitions are undefined, or both wrap deeply
// equal values.
func (d Definition) Equal(other Definition) bool {
	if d.defined != other.defined {
		return false
	}
	return cmp.Equal(d.value, other.value)
}

// String renders the value as compact JSON with sorted keys.
func (d Definition) String() string {
	if !d.defined {
		return "undefined"
	}
	return oj.JSON(d.value, &ojg.Options{Sort: true})
}
