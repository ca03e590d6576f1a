package answers

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/mbolis/survey-flow/model"
)

// Matrix cell answers get dedicated keys alongside the question's base key:
//
//	<qref>::col::<colKey>                          -> row key(s) that picked the column
//	<qref>::sbs::group::<slug>::row::<rowKey>      -> cell scalar(s), side-by-side mode
//
// Row and column keys prefer the entity's value, falling back to "id:<pk>".

// Project builds the answers map from scratch out of the in-progress answer
// rows of one (user, survey). It is called anew on every navigation step:
// answers change between steps and routing must never see stale data.
func Project(survey *model.Survey, responses []model.Response) Map {
	byID := make(map[int64]*model.Question, len(survey.Questions))
	for i := range survey.Questions {
		byID[survey.Questions[i].ID] = &survey.Questions[i]
	}

	m := make(Map)
	for _, r := range responses {
		q, ok := byID[r.QuestionID]
		if !ok {
			// answer to a deleted question: ignore
			continue
		}

		m.add(q.Ref(), scalarOf(r, q))

		if q.Type == model.TypeMatrix {
			projectMatrixCell(m, q, r)
		}
	}
	return m
}

func scalarOf(r model.Response, q *model.Question) Value {
	switch {
	case r.ChoiceID != nil:
		if r.Value != nil {
			return Number(*r.Value)
		}
		return Number(float64(*r.ChoiceID))
	case r.Value != nil:
		return Number(*r.Value)
	case r.TextAnswer != "":
		return Coerce(Text(r.TextAnswer))
	}
	return nil
}

func projectMatrixCell(m Map, q *model.Question, r model.Response) {
	if r.MatrixRowID == nil || r.MatrixColumnID == nil {
		return
	}
	var row *model.MatrixRow
	for i := range q.MatrixRows {
		if q.MatrixRows[i].ID == *r.MatrixRowID {
			row = &q.MatrixRows[i]
			break
		}
	}
	var col *model.MatrixColumn
	for i := range q.MatrixColumns {
		if q.MatrixColumns[i].ID == *r.MatrixColumnID {
			col = &q.MatrixColumns[i]
			break
		}
	}
	if row == nil || col == nil {
		return
	}

	if q.SideBySide {
		key := q.Ref() + "::sbs::group::" + Slug(col.Group) + "::row::" + entityKey(row.Value, row.ID)
		m.add(key, cellScalar(r, col))
		return
	}

	key := q.Ref() + "::col::" + entityKey(col.Value, col.ID)
	m.add(key, Text(entityKey(row.Value, row.ID)))
}

func cellScalar(r model.Response, col *model.MatrixColumn) Value {
	switch {
	case r.Value != nil:
		return Number(*r.Value)
	case r.TextAnswer != "":
		return Coerce(Text(r.TextAnswer))
	case col.Value != nil:
		return Number(*col.Value)
	}
	return nil
}

func entityKey(value *float64, id int64) string {
	if value != nil {
		return formatNumber(*value)
	}
	return "id:" + strconv.FormatInt(id, 10)
}

var reNonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slug normalizes a matrix group name for use inside an answer key.
func Slug(s string) string {
	s = strings.ToLower(s)
	s = reNonSlug.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
