package actions

import (
	"slices"
	"strings"
)

// Attr is a single key=value attribute of an action.
type Attr struct {
	Key   string
	Value string
}

// Attrs is the ordered attribute list of an action. A key may appear more
// than once for multi-valued attributes (set name=x value=1 value=2).
type Attrs []Attr

// A builds Attrs from alternating key, value arguments.
func A(kv ...string) Attrs {
	attrs := make(Attrs, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, Attr{Key: kv[i], Value: kv[i+1]})
	}
	return attrs
}

// Get returns the first value of key, or "".
func (a Attrs) Get(key string) string {
	for _, kv := range a {
		if kv.Key == key {
			return kv.Value
		}
	}
	return ""
}

// GetAll returns every value of key in order.
func (a Attrs) GetAll(key string) []string {
	var vals []string
	for _, kv := range a {
		if kv.Key == key {
			vals = append(vals, kv.Value)
		}
	}
	return vals
}

// Has reports whether key is present.
func (a Attrs) Has(key string) bool {
	for _, kv := range a {
		if kv.Key == key {
			return true
		}
	}
	return false
}

// Set replaces every value of key with value, keeping the position of the
// first occurrence. Missing keys are appended.
func (a *Attrs) Set(key, value string) {
	out := (*a)[:0:0]
	done := false
	for _, kv := range *a {
		if kv.Key != key {
			out = append(out, kv)
			continue
		}
		if !done {
			out = append(out, Attr{Key: key, Value: value})
			done = true
		}
	}
	if !done {
		out = append(out, Attr{Key: key, Value: value})
	}
	*a = out
}

// Keys returns the distinct keys in first-appearance order.
func (a Attrs) Keys() []string {
	var keys []string
	for _, kv := range a {
		if !slices.Contains(keys, kv.Key) {
			keys = append(keys, kv.Key)
		}
	}
	return keys
}

// Clone returns an independent copy.
func (a Attrs) Clone() Attrs {
	return slices.Clone(a)
}

// Equal reports whether a and b carry the same values for every key,
// regardless of order.
func (a Attrs) Equal(b Attrs) bool {
	if len(a) != len(b) {
		return false
	}
	x, y := a.Clone(), b.Clone()
	less := func(p, q Attr) int {
		if c := strings.Compare(p.Key, q.Key); c != 0 {
			return c
		}
		return strings.Compare(p.Value, q.Value)
	}
	slices.SortFunc(x, less)
	slices.SortFunc(y, less)
	return slices.Equal(x, y)
}

// String renders the attributes in manifest syntax.
func (a Attrs) String() string {
	parts := make([]string, 0, len(a))
	for _, kv := range a {
		parts = append(parts, kv.Key+"="+quote(kv.Value))
	}
	return strings.Join(parts, " ")
}

func quote(v string) string {
	if v != "" && !strings.ContainsAny(v, " \t\"'") {
		return v
	}
	if !strings.Contains(v, `"`) {
		return `"` + v + `"`
	}
	return "'" + v + "'"
}

// NormalizePath strips every leading separator from raw. A path that is
// empty afterwards, or that has a ".." segment, is invalid.
func NormalizePath(raw string) (string, error) {
	p := strings.TrimLeft(raw, "/")
	if p == "" {
		return "", &Error{Kind: KindInvalidAction, Key: raw, Reason: "empty path"}
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", &Error{Kind: KindInvalidAction, Key: raw, Reason: "path escapes the image root"}
		}
	}
	return p, nil
}
