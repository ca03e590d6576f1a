package answers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mbolis/survey-flow/model"
)

func ptrF(f float64) *float64 { return &f }
func ptrI(i int64) *int64     { return &i }

func TestCoerce(t *testing.T) {
	assert.Equal(t, Number(42), Coerce(Text("42")))
	assert.Equal(t, Number(4.5), Coerce(Text("4.5")))
	assert.Equal(t, Text("4x"), Coerce(Text("4x")))
	assert.Equal(t, List{Number(1), Text("b")}, Coerce(List{Text("1"), Text("b")}))
	assert.Nil(t, Coerce(nil))
}

func TestResolve(t *testing.T) {
	m := Map{"Q1": Number(1), "7": Number(7)}

	v, ok := m.Resolve("Q1")
	assert.True(t, ok)
	assert.Equal(t, Number(1), v)

	v, ok = m.Resolve("007")
	assert.True(t, ok)
	assert.Equal(t, Number(7), v)

	_, ok = m.Resolve("nope")
	assert.False(t, ok)
}

func TestProjectScalars(t *testing.T) {
	survey := &model.Survey{
		Questions: []model.Question{
			{ID: 1, Code: "Q1", Type: model.TypeSingle, Choices: []model.Choice{
				{ID: 10, Value: ptrF(5)},
				{ID: 11},
			}},
			{ID: 2, Type: model.TypeText},
			{ID: 3, Code: "AGE", Type: model.TypeNumber},
		},
	}

	m := Project(survey, []model.Response{
		{QuestionID: 1, ChoiceID: ptrI(10), Value: ptrF(5)},
		{QuestionID: 2, TextAnswer: "hello"},
		{QuestionID: 3, TextAnswer: "33"},
	})

	assert.Equal(t, Number(5), m["Q1"])
	assert.Equal(t, Text("hello"), m["2"]) // no code: keyed by id
	assert.Equal(t, Number(33), m["AGE"])  // numeric-looking text coerces
}

func TestProjectChoiceIdFallback(t *testing.T) {
	survey := &model.Survey{
		Questions: []model.Question{
			{ID: 1, Code: "Q1", Type: model.TypeSingle, Choices: []model.Choice{{ID: 11}}},
		},
	}

	m := Project(survey, []model.Response{
		{QuestionID: 1, ChoiceID: ptrI(11)},
	})

	assert.Equal(t, Number(11), m["Q1"])
}

func TestProjectAccumulatesLists(t *testing.T) {
	survey := &model.Survey{
		Questions: []model.Question{
			{ID: 1, Code: "Q1", Type: model.TypeMulti, Choices: []model.Choice{
				{ID: 10, Value: ptrF(1)},
				{ID: 11, Value: ptrF(2)},
				{ID: 12, Value: ptrF(3)},
			}},
		},
	}

	m := Project(survey, []model.Response{
		{QuestionID: 1, ChoiceID: ptrI(10), Value: ptrF(1)},
		{QuestionID: 1, ChoiceID: ptrI(12), Value: ptrF(3)},
	})

	assert.Equal(t, List{Number(1), Number(3)}, m["Q1"])
}

func TestProjectSkipsDanglingQuestion(t *testing.T) {
	survey := &model.Survey{Questions: []model.Question{{ID: 1, Code: "Q1", Type: model.TypeText}}}

	m := Project(survey, []model.Response{
		{QuestionID: 99, TextAnswer: "orphan"},
		{QuestionID: 1, TextAnswer: "ok"},
	})

	assert.Len(t, m, 1)
	assert.Equal(t, Text("ok"), m["Q1"])
}

func matrixSurvey(sideBySide bool) *model.Survey {
	return &model.Survey{
		Questions: []model.Question{
			{
				ID: 1, Code: "M1", Type: model.TypeMatrix, SideBySide: sideBySide,
				MatrixRows: []model.MatrixRow{
					{ID: 100, Label: "Service", Value: ptrF(1)},
					{ID: 101, Label: "Quality"},
				},
				MatrixColumns: []model.MatrixColumn{
					{ID: 200, Label: "Good", Value: ptrF(10), InputType: model.InputRadio, Group: "Importance"},
					{ID: 201, Label: "Bad", InputType: model.InputRadio, Group: "Satisfaction"},
				},
			},
		},
	}
}

func TestProjectMatrixColumnKeys(t *testing.T) {
	m := Project(matrixSurvey(false), []model.Response{
		{QuestionID: 1, MatrixRowID: ptrI(100), MatrixColumnID: ptrI(200), Value: ptrF(10)},
		{QuestionID: 1, MatrixRowID: ptrI(101), MatrixColumnID: ptrI(200), Value: ptrF(10)},
		{QuestionID: 1, MatrixRowID: ptrI(101), MatrixColumnID: ptrI(201)},
	})

	// two rows picked column value 10: list of row keys in encounter order
	assert.Equal(t, List{Text("1"), Text("id:101")}, m["M1::col::10"])
	// column without value falls back to its id key
	assert.Equal(t, Text("id:101"), m["M1::col::id:201"])
}

func TestProjectMatrixSideBySideKeys(t *testing.T) {
	m := Project(matrixSurvey(true), []model.Response{
		{QuestionID: 1, MatrixRowID: ptrI(100), MatrixColumnID: ptrI(200), Value: ptrF(10), GroupLabel: "Importance"},
		{QuestionID: 1, MatrixRowID: ptrI(101), MatrixColumnID: ptrI(201), TextAnswer: "fine", GroupLabel: "Satisfaction"},
	})

	assert.Equal(t, Number(10), m["M1::sbs::group::importance::row::1"])
	assert.Equal(t, Text("fine"), m["M1::sbs::group::satisfaction::row::id:101"])
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "customer-satisfaction", Slug("Customer Satisfaction"))
	assert.Equal(t, "a-b", Slug("  A & B  "))
	assert.Equal(t, "", Slug("---"))
}
