// Package rules parses and evaluates the JSON visibility-rule trees that
// gate whether a question is shown. A rule is either a composite
// ({"all":[...]} / {"any":[...]}) or a leaf condition {"q","op","val"}.
package rules

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"

	"github.com/mbolis/survey-flow/engine/answers"
	"github.com/mbolis/survey-flow/log"
)

type Op string

const (
	OpEq    Op = "eq"
	OpNe    Op = "ne"
	OpIn    Op = "in"
	OpNotIn Op = "not_in"
	OpGt    Op = "gt"
	OpGte   Op = "gte"
	OpLt    Op = "lt"
	OpLte   Op = "lte"
)

// Rule is the parsed form of a visibility rule tree.
type Rule interface {
	Eval(m answers.Map) bool
}

// All is logical AND; an empty All is always true.
type All []Rule

// Any is logical OR; an empty Any is always false.
type Any []Rule

// Condition compares one answer against a literal.
type Condition struct {
	Ref string
	Op  Op
	Val answers.Value
}

// Unsupported stands in for a condition whose operator we do not know.
// It always evaluates false: hide rather than crash or over-show.
type Unsupported struct {
	Op string
}

func (r All) Eval(m answers.Map) bool {
	for _, sub := range r {
		if !sub.Eval(m) {
			return false
		}
	}
	return true
}

func (r Any) Eval(m answers.Map) bool {
	for _, sub := range r {
		if sub.Eval(m) {
			return true
		}
	}
	return false
}

func (Unsupported) Eval(answers.Map) bool {
	return false
}

func (c Condition) Eval(m answers.Map) bool {
	actual, _ := m.Resolve(c.Ref)
	a := answers.Coerce(actual)
	v := answers.Coerce(c.Val)

	if list, ok := a.(answers.List); ok {
		return evalList(list, c.Op, v)
	}
	return evalScalar(a, c.Op, v)
}

// evalList handles a multi-answer left-hand side: eq means membership, in
// means "any member matches", not_in means "no member matches". Ordering
// comparisons are not defined on collections.
func evalList(a answers.List, op Op, v answers.Value) bool {
	switch op {
	case OpEq:
		return answers.Contains(a, v)
	case OpNe:
		return !answers.Contains(a, v)
	case OpIn:
		set, ok := v.(answers.List)
		if !ok {
			return false
		}
		for _, y := range a {
			if answers.Contains(set, y) {
				return true
			}
		}
		return false
	case OpNotIn:
		set, ok := v.(answers.List)
		if !ok {
			// no exclusion set means nothing matched it
			return true
		}
		for _, y := range a {
			if answers.Contains(set, y) {
				return false
			}
		}
		return true
	}
	return false
}

func evalScalar(a answers.Value, op Op, v answers.Value) bool {
	switch op {
	case OpEq:
		return answers.Equal(a, v)
	case OpNe:
		return !answers.Equal(a, v)
	case OpIn:
		set, ok := v.(answers.List)
		return ok && answers.Contains(set, a)
	case OpNotIn:
		set, ok := v.(answers.List)
		return !ok || !answers.Contains(set, a)
	case OpGt, OpGte, OpLt, OpLte:
		an, aok := a.(answers.Number)
		vn, vok := v.(answers.Number)
		if !aok || !vok {
			return false
		}
		switch op {
		case OpGt:
			return an > vn
		case OpGte:
			return an >= vn
		case OpLt:
			return an < vn
		case OpLte:
			return an <= vn
		}
	}
	return false
}

// Parse decodes a stored rule tree once. An empty or null document parses to
// All{} (always visible). An unknown operator parses to an Unsupported leaf,
// not an error; errors are reserved for documents that are not rule-shaped.
func Parse(raw []byte) (Rule, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return All{}, nil
	}

	var node map[string]json.RawMessage
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, errors.Wrap(err, "rules.parse")
	}

	if sub, ok := node["all"]; ok {
		children, err := parseList(sub)
		if err != nil {
			return nil, err
		}
		return All(children), nil
	}
	if sub, ok := node["any"]; ok {
		children, err := parseList(sub)
		if err != nil {
			return nil, err
		}
		return Any(children), nil
	}
	if len(node) == 0 {
		return All{}, nil
	}

	return parseCondition(node)
}

func parseList(raw json.RawMessage) ([]Rule, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, errors.Wrap(err, "rules.parse.list")
	}
	children := make([]Rule, 0, len(items))
	for _, item := range items {
		child, err := Parse(item)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

func parseCondition(node map[string]json.RawMessage) (Rule, error) {
	ref, err := parseRef(node["q"])
	if err != nil {
		return nil, err
	}

	op := OpEq
	if rawOp, ok := node["op"]; ok {
		var s string
		if err := json.Unmarshal(rawOp, &s); err != nil {
			return nil, errors.Wrap(err, "rules.parse.op")
		}
		op = Op(s)
	}
	switch op {
	case OpEq, OpNe, OpIn, OpNotIn, OpGt, OpGte, OpLt, OpLte:
	default:
		return Unsupported{Op: string(op)}, nil
	}

	var val answers.Value
	if rawVal, ok := node["val"]; ok {
		val = answers.FromJSON(rawVal)
	}

	return Condition{Ref: ref, Op: op, Val: val}, nil
}

// parseRef accepts a question reference as either a string code or a bare
// number (authors write both).
func parseRef(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	}
	return "", errors.New("rules.parse.ref: not a string or number")
}

// Evaluate runs a parsed rule against an answers map.
func Evaluate(r Rule, m answers.Map) bool {
	if r == nil {
		return true
	}
	return r.Eval(m)
}

// EvaluateJSON is the fail-open entry point used by routing: a rule document
// that cannot be parsed is logged and treated as "always visible". Hiding a
// reachable question over a typo is worse than showing an extra one.
func EvaluateJSON(raw json.RawMessage, m answers.Map) bool {
	rule, err := Parse(raw)
	if err != nil {
		log.Warnf("rules.evaluate: malformed rule, defaulting to visible: %s", err)
		return true
	}
	return rule.Eval(m)
}
