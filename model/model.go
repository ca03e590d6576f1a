package model

import (
	"encoding/json"
	"strconv"
	"time"
)

type QuestionType string

const (
	TypeSingle      QuestionType = "single"
	TypeMulti       QuestionType = "multi"
	TypeText        QuestionType = "text"
	TypeRating      QuestionType = "rating"
	TypeDropdown    QuestionType = "dropdown"
	TypeMatrix      QuestionType = "matrix"
	TypeYesNo       QuestionType = "yesno"
	TypeNumber      QuestionType = "number"
	TypeSlider      QuestionType = "slider"
	TypeDate        QuestionType = "date"
	TypeGeo         QuestionType = "geo"
	TypeFile        QuestionType = "file"
	TypeImage       QuestionType = "image"
	TypeImageChoice QuestionType = "image_choice"
	TypeImageRating QuestionType = "image_rating"
)

// ChoiceBased reports whether answers reference a Choice row.
func (t QuestionType) ChoiceBased() bool {
	switch t {
	case TypeSingle, TypeMulti, TypeDropdown, TypeYesNo, TypeImageChoice:
		return true
	}
	return false
}

// Upload question types record an opaque media reference.
func (t QuestionType) Upload() bool {
	switch t {
	case TypeFile, TypeImage:
		return true
	}
	return false
}

// Numeric question types persist a single numeric value.
func (t QuestionType) Numeric() bool {
	switch t {
	case TypeNumber, TypeSlider, TypeRating, TypeImageRating:
		return true
	}
	return false
}

type InputType string

const (
	InputText     InputType = "text"
	InputSelect   InputType = "select"
	InputRadio    InputType = "radio"
	InputCheckbox InputType = "checkbox"
)

type Survey struct {
	ID               int64      `json:"id,omitempty"`
	Version          int        `json:"version,omitempty"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	Active           bool       `json:"active"`
	PointsReward     int        `json:"points_reward"`
	TimeLimitMinutes *int       `json:"time_limit_minutes,omitempty"`
	AccessGroup      *string    `json:"access_group,omitempty"`
	Questions        []Question `json:"questions,omitempty"`
}

type Question struct {
	ID             int64           `json:"id,omitempty"`
	SurveyID       int64           `json:"survey_id,omitempty"`
	Code           string          `json:"code,omitempty"`
	Text           string          `json:"text"`
	Type           QuestionType    `json:"type"`
	Required       bool            `json:"required"`
	SortIndex      int             `json:"sort_index"`
	NextQuestionID *int64          `json:"next_question_id,omitempty"`
	MinValue       *float64        `json:"min_value,omitempty"`
	MaxValue       *float64        `json:"max_value,omitempty"`
	Step           *float64        `json:"step,omitempty"`
	SideBySide     bool            `json:"side_by_side,omitempty"`
	VisibilityRule json.RawMessage `json:"visibility_rules,omitempty"`
	Choices        []Choice        `json:"choices,omitempty"`
	MatrixRows     []MatrixRow     `json:"matrix_rows,omitempty"`
	MatrixColumns  []MatrixColumn  `json:"matrix_columns,omitempty"`
}

// Ref is the key a question goes by in answer maps and rule references:
// the stable code when set, otherwise the numeric id.
func (q *Question) Ref() string {
	if q.Code != "" {
		return q.Code
	}
	return strconv.FormatInt(q.ID, 10)
}

type Choice struct {
	ID             int64    `json:"id,omitempty"`
	QuestionID     int64    `json:"question_id,omitempty"`
	Label          string   `json:"label"`
	Value          *float64 `json:"value,omitempty"`
	NextQuestionID *int64   `json:"next_question_id,omitempty"`
	SortIndex      int      `json:"sort_index"`
}

type MatrixRow struct {
	ID         int64    `json:"id,omitempty"`
	QuestionID int64    `json:"question_id,omitempty"`
	Label      string   `json:"label"`
	Value      *float64 `json:"value,omitempty"`
	Required   bool     `json:"required"`
	SortIndex  int      `json:"sort_index"`
}

type MatrixColumn struct {
	ID             int64     `json:"id,omitempty"`
	QuestionID     int64     `json:"question_id,omitempty"`
	Label          string    `json:"label"`
	Value          *float64  `json:"value,omitempty"`
	InputType      InputType `json:"input_type"`
	Group          string    `json:"group,omitempty"`
	Required       bool      `json:"required"`
	NextQuestionID *int64    `json:"next_question_id,omitempty"`
	SortIndex      int       `json:"sort_index"`
}

// Response is one atomic answer cell. SubmissionID stays null while the
// answer is in progress; finalization stamps it exactly once.
type Response struct {
	ID             int64     `json:"id,omitempty"`
	UserID         int64     `json:"user_id"`
	SurveyID       int64     `json:"survey_id"`
	QuestionID     int64     `json:"question_id"`
	ChoiceID       *int64    `json:"choice_id,omitempty"`
	MatrixRowID    *int64    `json:"matrix_row_id,omitempty"`
	MatrixColumnID *int64    `json:"matrix_column_id,omitempty"`
	Value          *float64  `json:"value,omitempty"`
	TextAnswer     string    `json:"text_answer,omitempty"`
	MediaRef       string    `json:"media_ref,omitempty"`
	Latitude       *float64  `json:"latitude,omitempty"`
	Longitude      *float64  `json:"longitude,omitempty"`
	GroupLabel     string    `json:"group_label,omitempty"`
	SubmissionID   *int64    `json:"submission_id,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}

type Submission struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"user_id"`
	SurveyID        int64     `json:"survey_id"`
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds int       `json:"duration_seconds"`
	FinalizedAt     time.Time `json:"finalized_at"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Points   int    `json:"points"`
}
