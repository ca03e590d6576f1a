// Package answers models the heterogeneous answer values collected while a
// respondent walks a survey, and projects raw answer rows into the flat map
// that visibility rules are evaluated against.
package answers

import (
	"encoding/json"
	"strconv"
)

// Value is the closed set of things an answer can be: a number, a piece of
// text, or a list of those (multi-select questions).
type Value interface {
	isValue()
}

type Number float64

type Text string

type List []Value

func (Number) isValue() {}
func (Text) isValue()   {}
func (List) isValue()   {}

// Coerce normalizes a value for comparison: numeric-looking text becomes a
// Number, lists coerce elementwise. Nil stays nil.
func Coerce(v Value) Value {
	switch v := v.(type) {
	case Text:
		if n, err := strconv.ParseFloat(string(v), 64); err == nil {
			return Number(n)
		}
		return v
	case List:
		out := make(List, len(v))
		for i, e := range v {
			out[i] = Coerce(e)
		}
		return out
	default:
		return v
	}
}

// Equal compares two values after coercion. Lists never equal scalars.
func Equal(a, b Value) bool {
	a, b = Coerce(a), Coerce(b)
	switch a := a.(type) {
	case Number:
		bn, ok := b.(Number)
		return ok && a == bn
	case Text:
		bt, ok := b.(Text)
		return ok && a == bt
	case nil:
		return b == nil
	default:
		return false
	}
}

// Contains reports whether x equals any member of list.
func Contains(list List, x Value) bool {
	for _, e := range list {
		if Equal(e, x) {
			return true
		}
	}
	return false
}

// FromJSON maps a decoded JSON value into the closed Value set. Booleans
// become 1/0 to line up with how yes/no answers are recorded.
func FromJSON(raw json.RawMessage) Value {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return fromAny(v)
}

func fromAny(v any) Value {
	switch v := v.(type) {
	case float64:
		return Number(v)
	case string:
		return Text(v)
	case bool:
		if v {
			return Number(1)
		}
		return Number(0)
	case []any:
		out := make(List, len(v))
		for i, e := range v {
			out[i] = fromAny(e)
		}
		return out
	default:
		return nil
	}
}

// Map holds projected answers keyed by question ref (plus the encoded matrix
// cell keys).
type Map map[string]Value

// Resolve looks a question ref up by exact key first; a numeric ref also
// matches its canonical integer form ("007" finds the answer keyed "7").
func (m Map) Resolve(ref string) (Value, bool) {
	if v, ok := m[ref]; ok {
		return v, true
	}
	if n, err := strconv.ParseInt(ref, 10, 64); err == nil {
		if v, ok := m[strconv.FormatInt(n, 10)]; ok {
			return v, true
		}
	}
	return nil, false
}

// add accumulates repeated answers for the same key into a List in
// encounter order.
func (m Map) add(key string, v Value) {
	prev, ok := m[key]
	if !ok {
		m[key] = v
		return
	}
	if list, isList := prev.(List); isList {
		m[key] = append(list, v)
		return
	}
	m[key] = List{prev, v}
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}
