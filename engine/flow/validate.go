package flow

import (
	"math"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/mbolis/survey-flow/model"
)

// Input is the decoded form payload for one question. Which fields matter
// depends on the question type; everything else is ignored.
type Input struct {
	ChoiceIDs []int64     `json:"choice_ids,omitempty"`
	Text      string      `json:"text,omitempty"`
	Value     *float64    `json:"value,omitempty"`
	MediaRef  string      `json:"media_ref,omitempty"`
	Latitude  *float64    `json:"latitude,omitempty"`
	Longitude *float64    `json:"longitude,omitempty"`
	Cells     []CellInput `json:"cells,omitempty"`
}

type CellInput struct {
	RowID    int64    `json:"row_id"`
	ColumnID int64    `json:"column_id"`
	Value    *float64 `json:"value,omitempty"`
	Text     string   `json:"text,omitempty"`
}

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".webp": true, ".bmp": true, ".svg": true,
}

// validateAnswer turns raw input into the Response rows to persist. An empty
// row set for an optional question is legitimate: replacement semantics then
// clear any prior answer. Returns *ValidationError on bad input.
func validateAnswer(userID int64, q *model.Question, in Input) ([]model.Response, error) {
	v := &validation{}

	var rows []model.Response
	switch {
	case q.Type == model.TypeMulti || q.Type == model.TypeImageChoice:
		rows = validateMultiChoice(v, userID, q, in)
	case q.Type.ChoiceBased():
		rows = validateSingleChoice(v, userID, q, in)
	case q.Type == model.TypeText:
		rows = validateText(v, userID, q, in)
	case q.Type == model.TypeDate:
		rows = validateDate(v, userID, q, in)
	case q.Type.Numeric():
		rows = validateNumeric(v, userID, q, in)
	case q.Type == model.TypeGeo:
		rows = validateGeo(v, userID, q, in)
	case q.Type.Upload():
		rows = validateUpload(v, userID, q, in)
	case q.Type == model.TypeMatrix:
		rows = validateMatrix(v, userID, q, in)
	default:
		v.addf("unsupported question type %q", q.Type)
	}

	if err := v.err(); err != nil {
		return nil, err
	}
	return rows, nil
}

func baseRow(userID int64, q *model.Question) model.Response {
	return model.Response{
		UserID:     userID,
		SurveyID:   q.SurveyID,
		QuestionID: q.ID,
	}
}

func findChoice(q *model.Question, id int64) *model.Choice {
	for i := range q.Choices {
		if q.Choices[i].ID == id {
			return &q.Choices[i]
		}
	}
	return nil
}

func validateSingleChoice(v *validation, userID int64, q *model.Question, in Input) []model.Response {
	switch {
	case len(in.ChoiceIDs) == 0:
		if q.Required {
			v.addf("an answer is required")
		}
		return nil
	case len(in.ChoiceIDs) > 1:
		v.addf("select exactly one option")
		return nil
	}

	choice := findChoice(q, in.ChoiceIDs[0])
	if choice == nil {
		v.addf("invalid choice %d", in.ChoiceIDs[0])
		return nil
	}

	row := baseRow(userID, q)
	row.ChoiceID = &choice.ID
	row.Value = choice.Value
	return []model.Response{row}
}

func validateMultiChoice(v *validation, userID int64, q *model.Question, in Input) []model.Response {
	if q.Required && len(in.ChoiceIDs) == 0 {
		v.addf("select at least one option")
		return nil
	}

	rows := make([]model.Response, 0, len(in.ChoiceIDs))
	seen := make(map[int64]bool)
	for _, id := range in.ChoiceIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		choice := findChoice(q, id)
		if choice == nil {
			v.addf("invalid choice %d", id)
			continue
		}
		row := baseRow(userID, q)
		row.ChoiceID = &choice.ID
		row.Value = choice.Value
		rows = append(rows, row)
	}
	return rows
}

func validateText(v *validation, userID int64, q *model.Question, in Input) []model.Response {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		if q.Required {
			v.addf("an answer is required")
		}
		return nil
	}
	row := baseRow(userID, q)
	row.TextAnswer = text
	return []model.Response{row}
}

func validateDate(v *validation, userID int64, q *model.Question, in Input) []model.Response {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		if q.Required {
			v.addf("a date is required")
		}
		return nil
	}
	if _, err := time.Parse("2006-01-02", text); err != nil {
		v.addf("invalid date %q, want YYYY-MM-DD", text)
		return nil
	}
	row := baseRow(userID, q)
	row.TextAnswer = text
	return []model.Response{row}
}

func validateNumeric(v *validation, userID int64, q *model.Question, in Input) []model.Response {
	value := in.Value
	if value == nil && strings.TrimSpace(in.Text) != "" {
		n, err := strconv.ParseFloat(strings.TrimSpace(in.Text), 64)
		if err != nil {
			v.addf("invalid number %q", in.Text)
			return nil
		}
		value = &n
	}
	if value == nil {
		if q.Required {
			v.addf("a value is required")
		}
		return nil
	}

	if q.MinValue != nil && *value < *q.MinValue {
		v.addf("value %s is below the minimum %s", formatFloat(*value), formatFloat(*q.MinValue))
	}
	if q.MaxValue != nil && *value > *q.MaxValue {
		v.addf("value %s is above the maximum %s", formatFloat(*value), formatFloat(*q.MaxValue))
	}
	if q.Type == model.TypeSlider && q.Step != nil && *q.Step > 0 {
		origin := 0.0
		if q.MinValue != nil {
			origin = *q.MinValue
		}
		steps := (*value - origin) / *q.Step
		if math.Abs(steps-math.Round(steps)) > 1e-9 {
			v.addf("value %s does not match step %s", formatFloat(*value), formatFloat(*q.Step))
		}
	}
	if v.errs != nil {
		return nil
	}

	row := baseRow(userID, q)
	row.Value = value
	return []model.Response{row}
}

func validateGeo(v *validation, userID int64, q *model.Question, in Input) []model.Response {
	if in.Latitude == nil && in.Longitude == nil {
		if q.Required {
			v.addf("a location is required")
		}
		return nil
	}
	if in.Latitude == nil || in.Longitude == nil {
		v.addf("both latitude and longitude are required")
		return nil
	}
	if *in.Latitude < -90 || *in.Latitude > 90 || *in.Longitude < -180 || *in.Longitude > 180 {
		v.addf("coordinates out of range")
		return nil
	}
	row := baseRow(userID, q)
	row.Latitude = in.Latitude
	row.Longitude = in.Longitude
	return []model.Response{row}
}

func validateUpload(v *validation, userID int64, q *model.Question, in Input) []model.Response {
	ref := strings.TrimSpace(in.MediaRef)
	if ref == "" {
		if q.Required {
			v.addf("a file is required")
		}
		return nil
	}
	if q.Type == model.TypeImage && !imageExtensions[strings.ToLower(path.Ext(ref))] {
		v.addf("file %q is not an image", ref)
		return nil
	}
	row := baseRow(userID, q)
	row.MediaRef = ref
	return []model.Response{row}
}

func validateMatrix(v *validation, userID int64, q *model.Question, in Input) []model.Response {
	rowsByID := make(map[int64]*model.MatrixRow, len(q.MatrixRows))
	for i := range q.MatrixRows {
		rowsByID[q.MatrixRows[i].ID] = &q.MatrixRows[i]
	}
	colsByID := make(map[int64]*model.MatrixColumn, len(q.MatrixColumns))
	for i := range q.MatrixColumns {
		colsByID[q.MatrixColumns[i].ID] = &q.MatrixColumns[i]
	}

	var out []model.Response
	// answered tracks rows with any cell; answeredGroup tracks (row, group)
	answered := make(map[int64]bool)
	answeredGroup := make(map[string]bool)
	for _, cell := range in.Cells {
		row, rok := rowsByID[cell.RowID]
		col, cok := colsByID[cell.ColumnID]
		if !rok || !cok {
			v.addf("invalid matrix cell (%d, %d)", cell.RowID, cell.ColumnID)
			continue
		}

		r := baseRow(userID, q)
		r.MatrixRowID = &row.ID
		r.MatrixColumnID = &col.ID
		r.GroupLabel = col.Group
		switch col.InputType {
		case model.InputText:
			text := strings.TrimSpace(cell.Text)
			if text == "" {
				continue // an empty text cell is no answer
			}
			r.TextAnswer = text
		default:
			// radio/checkbox/select cells carry the column's value
			r.Value = col.Value
			if cell.Value != nil {
				r.Value = cell.Value
			}
		}
		out = append(out, r)
		answered[row.ID] = true
		answeredGroup[groupKey(row.ID, col.Group)] = true
	}

	if q.SideBySide {
		// per-group-per-row requiredness: a group is required for a row when
		// the row is required or any of the group's columns is
		groups := make(map[string]bool)
		for i := range q.MatrixColumns {
			col := &q.MatrixColumns[i]
			groups[col.Group] = groups[col.Group] || col.Required
		}
		for i := range q.MatrixRows {
			row := &q.MatrixRows[i]
			for group, colRequired := range groups {
				if !(row.Required || colRequired) {
					continue
				}
				if !answeredGroup[groupKey(row.ID, group)] {
					v.addf("row %q: group %q requires an answer", row.Label, group)
				}
			}
		}
	} else {
		for i := range q.MatrixRows {
			row := &q.MatrixRows[i]
			if row.Required && !answered[row.ID] {
				v.addf("row %q requires an answer", row.Label)
			}
		}
	}
	if q.Required && len(out) == 0 {
		v.addf("an answer is required")
	}

	if v.errs != nil {
		return nil
	}
	return out
}

func groupKey(rowID int64, group string) string {
	return strconv.FormatInt(rowID, 10) + "/" + group
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
