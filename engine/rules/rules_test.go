package rules

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbolis/survey-flow/engine/answers"
)

func mustParse(t *testing.T, raw string) Rule {
	t.Helper()
	rule, err := Parse([]byte(raw))
	require.NoError(t, err)
	return rule
}

func TestParseEmpty(t *testing.T) {
	for _, raw := range []string{"", "null", "{}", "  "} {
		rule, err := Parse([]byte(raw))
		require.NoError(t, err, "raw=%q", raw)
		assert.True(t, rule.Eval(answers.Map{}), "raw=%q", raw)
	}
}

func TestEmptyComposites(t *testing.T) {
	m := answers.Map{"Q1": answers.Number(1)}

	assert.True(t, mustParse(t, `{"all":[]}`).Eval(m))
	assert.False(t, mustParse(t, `{"any":[]}`).Eval(m))
}

func TestConditionCoercion(t *testing.T) {
	rule := mustParse(t, `{"q":"Q1","op":"eq","val":1}`)

	assert.True(t, rule.Eval(answers.Map{"Q1": answers.Text("1")}))
	assert.True(t, rule.Eval(answers.Map{"Q1": answers.Number(1)}))
	assert.False(t, rule.Eval(answers.Map{"Q1": answers.Text("2")}))
	assert.False(t, rule.Eval(answers.Map{}))
}

func TestDefaultOperatorIsEq(t *testing.T) {
	rule := mustParse(t, `{"q":"Q1","val":"yes"}`)
	assert.True(t, rule.Eval(answers.Map{"Q1": answers.Text("yes")}))
}

func TestNumericRefFallback(t *testing.T) {
	rule := mustParse(t, `{"q":"007","op":"eq","val":3}`)
	assert.True(t, rule.Eval(answers.Map{"7": answers.Number(3)}))

	// a bare numeric ref is accepted too
	rule = mustParse(t, `{"q":42,"op":"eq","val":3}`)
	assert.True(t, rule.Eval(answers.Map{"42": answers.Number(3)}))
}

func TestMembership(t *testing.T) {
	tests := []struct {
		name string
		rule string
		m    answers.Map
		want bool
	}{
		{"in scalar hit", `{"q":"Q1","op":"in","val":[1,2,3]}`, answers.Map{"Q1": answers.Number(2)}, true},
		{"in scalar miss", `{"q":"Q1","op":"in","val":[1,2,3]}`, answers.Map{"Q1": answers.Number(9)}, false},
		{"in list actual any-match", `{"q":"Q1","op":"in","val":[1,2,3]}`, answers.Map{"Q1": answers.List{answers.Number(2), answers.Number(9)}}, true},
		{"in list actual no match", `{"q":"Q1","op":"in","val":[1,2,3]}`, answers.Map{"Q1": answers.List{answers.Number(8), answers.Number(9)}}, false},
		{"not_in scalar", `{"q":"Q1","op":"not_in","val":[1,2,3]}`, answers.Map{"Q1": answers.Number(9)}, true},
		{"not_in list actual all-must-miss", `{"q":"Q1","op":"not_in","val":[1,2,3]}`, answers.Map{"Q1": answers.List{answers.Number(2), answers.Number(9)}}, false},
		{"in with malformed scalar val", `{"q":"Q1","op":"in","val":5}`, answers.Map{"Q1": answers.Number(5)}, false},
		{"not_in with malformed scalar val", `{"q":"Q1","op":"not_in","val":5}`, answers.Map{"Q1": answers.Number(5)}, true},
		{"in coerces string members", `{"q":"Q1","op":"in","val":["1","2"]}`, answers.Map{"Q1": answers.Number(2)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mustParse(t, tt.rule).Eval(tt.m))
		})
	}
}

func TestListEquality(t *testing.T) {
	m := answers.Map{"Q1": answers.List{answers.Number(1), answers.Number(3)}}

	// eq against a list means membership
	assert.True(t, mustParse(t, `{"q":"Q1","op":"eq","val":3}`).Eval(m))
	assert.False(t, mustParse(t, `{"q":"Q1","op":"eq","val":2}`).Eval(m))
	assert.False(t, mustParse(t, `{"q":"Q1","op":"ne","val":3}`).Eval(m))
	assert.True(t, mustParse(t, `{"q":"Q1","op":"ne","val":2}`).Eval(m))
}

func TestOrderingComparisons(t *testing.T) {
	tests := []struct {
		name string
		rule string
		m    answers.Map
		want bool
	}{
		{"gt true", `{"q":"Q1","op":"gt","val":3}`, answers.Map{"Q1": answers.Number(5)}, true},
		{"gt false", `{"q":"Q1","op":"gt","val":5}`, answers.Map{"Q1": answers.Number(5)}, false},
		{"gte boundary", `{"q":"Q1","op":"gte","val":5}`, answers.Map{"Q1": answers.Number(5)}, true},
		{"lt coerced strings", `{"q":"Q1","op":"lt","val":"10"}`, answers.Map{"Q1": answers.Text("9")}, true},
		{"lte boundary", `{"q":"Q1","op":"lte","val":5}`, answers.Map{"Q1": answers.Number(5)}, true},
		{"non-numeric side", `{"q":"Q1","op":"gt","val":3}`, answers.Map{"Q1": answers.Text("abc")}, false},
		{"missing answer", `{"q":"Q1","op":"gt","val":3}`, answers.Map{}, false},
		{"list actual never ordered", `{"q":"Q1","op":"gt","val":0}`, answers.Map{"Q1": answers.List{answers.Number(5)}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mustParse(t, tt.rule).Eval(tt.m))
		})
	}
}

func TestUnknownOperator(t *testing.T) {
	rule := mustParse(t, `{"q":"Q1","op":"matches","val":1}`)
	require.IsType(t, Unsupported{}, rule)
	assert.False(t, rule.Eval(answers.Map{"Q1": answers.Number(1)}))
}

func TestNestedTree(t *testing.T) {
	rule := mustParse(t, `{
		"all": [
			{"q":"Q1","op":"eq","val":1},
			{"any": [
				{"q":"Q2","op":"gt","val":10},
				{"q":"Q3","op":"in","val":["a","b"]}
			]}
		]
	}`)

	assert.True(t, rule.Eval(answers.Map{
		"Q1": answers.Number(1),
		"Q3": answers.Text("b"),
	}))
	assert.False(t, rule.Eval(answers.Map{
		"Q1": answers.Number(1),
		"Q3": answers.Text("c"),
	}))
	assert.False(t, rule.Eval(answers.Map{
		"Q1": answers.Number(2),
		"Q2": answers.Number(99),
	}))
}

func TestParseErrors(t *testing.T) {
	for _, raw := range []string{`[1,2]`, `{"all":3}`, `"hello"`, `{"q":{},"op":"eq"}`} {
		_, err := Parse([]byte(raw))
		assert.Error(t, err, "raw=%q", raw)
	}
}

func TestEvaluateJSONFailsOpen(t *testing.T) {
	m := answers.Map{}

	assert.True(t, EvaluateJSON(nil, m))
	assert.True(t, EvaluateJSON(json.RawMessage(`{{{`), m))
	assert.True(t, EvaluateJSON(json.RawMessage(`{"all":[]}`), m))
	assert.False(t, EvaluateJSON(json.RawMessage(`{"q":"Q1","op":"eq","val":1}`), m))
}
