package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbolis/survey-flow/config"
	"github.com/mbolis/survey-flow/database"
	"github.com/mbolis/survey-flow/model"
)

func testStore(t *testing.T) *SQL {
	t.Helper()

	db, err := database.Open(config.Config{
		DBUrl: filepath.Join(t.TempDir(), "test.sqlite"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return New(db)
}

func (s *SQL) exec(t *testing.T, query string, args ...any) int64 {
	t.Helper()
	res, err := s.db.Exec(query, args...)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

// seedSurvey inserts a two-question survey: Q1 single choice with a routing
// override, Q2 text with a visibility rule. Returns (userID, surveyID, q1ID, q2ID).
func seedSurvey(t *testing.T, s *SQL) (userID, surveyID, q1, q2 int64) {
	t.Helper()

	userID = s.exec(t, `INSERT INTO user (username, password_hash) VALUES ('resp', 'x')`)
	surveyID = s.exec(t, `
		INSERT INTO survey (title, description, points_reward, time_limit_minutes)
		VALUES ('Feedback', 'Tell us', 25, 30)`)

	q1 = s.exec(t, `
		INSERT INTO question (survey_id, code, text, type, required, sort_index)
		VALUES (?, 'Q1', 'Happy?', 'single', 1, 0)`, surveyID)
	q2 = s.exec(t, `
		INSERT INTO question (survey_id, code, text, type, sort_index, visibility_rules)
		VALUES (?, 'Q2', 'Why?', 'text', 1, '{"q":"Q1","op":"eq","val":0}')`, surveyID)

	s.exec(t, `
		INSERT INTO choice (question_id, label, value, sort_index) VALUES (?, 'Yes', 1, 0)`, q1)
	s.exec(t, `
		INSERT INTO choice (question_id, label, value, next_question_id, sort_index)
		VALUES (?, 'No', 0, ?, 1)`, q1, q2)

	return userID, surveyID, q1, q2
}

func TestSurveyByIDLoadsAggregate(t *testing.T) {
	s := testStore(t)
	_, surveyID, q1, q2 := seedSurvey(t, s)

	survey, err := s.SurveyByID(context.Background(), surveyID)
	require.NoError(t, err)
	require.NotNil(t, survey)

	assert.Equal(t, "Feedback", survey.Title)
	assert.Equal(t, 25, survey.PointsReward)
	require.NotNil(t, survey.TimeLimitMinutes)
	assert.Equal(t, 30, *survey.TimeLimitMinutes)
	assert.Nil(t, survey.AccessGroup)

	require.Len(t, survey.Questions, 2)
	assert.Equal(t, q1, survey.Questions[0].ID)
	assert.Equal(t, model.TypeSingle, survey.Questions[0].Type)
	assert.True(t, survey.Questions[0].Required)
	assert.Equal(t, q2, survey.Questions[1].ID)
	assert.JSONEq(t, `{"q":"Q1","op":"eq","val":0}`, string(survey.Questions[1].VisibilityRule))
	assert.Nil(t, survey.Questions[0].VisibilityRule)

	choices := survey.Questions[0].Choices
	require.Len(t, choices, 2)
	assert.Equal(t, "Yes", choices[0].Label)
	assert.Equal(t, 1.0, *choices[0].Value)
	assert.Nil(t, choices[0].NextQuestionID)
	require.NotNil(t, choices[1].NextQuestionID)
	assert.Equal(t, q2, *choices[1].NextQuestionID)
}

func TestSurveyByIDMatrixStructure(t *testing.T) {
	s := testStore(t)
	surveyID := s.exec(t, `INSERT INTO survey (title) VALUES ('Matrix')`)
	qID := s.exec(t, `
		INSERT INTO question (survey_id, text, type, side_by_side)
		VALUES (?, 'Rate us', 'matrix', 1)`, surveyID)
	s.exec(t, `
		INSERT INTO matrix_row (question_id, label, value, required) VALUES (?, 'Service', 1, 1)`, qID)
	s.exec(t, `
		INSERT INTO matrix_column (question_id, label, value, input_type, group_name)
		VALUES (?, 'Good', 10, 'radio', 'Importance')`, qID)

	survey, err := s.SurveyByID(context.Background(), surveyID)
	require.NoError(t, err)
	require.Len(t, survey.Questions, 1)

	q := survey.Questions[0]
	assert.True(t, q.SideBySide)
	require.Len(t, q.MatrixRows, 1)
	assert.Equal(t, "Service", q.MatrixRows[0].Label)
	assert.True(t, q.MatrixRows[0].Required)
	require.Len(t, q.MatrixColumns, 1)
	assert.Equal(t, model.InputRadio, q.MatrixColumns[0].InputType)
	assert.Equal(t, "Importance", q.MatrixColumns[0].Group)
	assert.Equal(t, 10.0, *q.MatrixColumns[0].Value)
}

func TestSurveyByIDMissing(t *testing.T) {
	s := testStore(t)

	survey, err := s.SurveyByID(context.Background(), 999)
	require.NoError(t, err)
	assert.Nil(t, survey)
}

func TestUserLookup(t *testing.T) {
	s := testStore(t)
	userID, _, _, _ := seedSurvey(t, s)
	s.exec(t, `INSERT INTO user_group (user_id, group_name) VALUES (?, 'staff')`, userID)

	user, err := s.UserByUsername(context.Background(), "resp")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, userID, user.ID)
	assert.Equal(t, 0, user.Points)

	user, err = s.UserByUsername(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, user)

	groups, err := s.UserGroups(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, []string{"staff"}, groups)
}

func TestReplaceAnswers(t *testing.T) {
	s := testStore(t)
	userID, surveyID, q1, _ := seedSurvey(t, s)
	ctx := context.Background()

	choiceID := int64(1)
	value := 1.0
	err := s.ReplaceAnswers(ctx, userID, surveyID, q1, []model.Response{
		{ChoiceID: &choiceID, Value: &value},
	})
	require.NoError(t, err)

	rows, err := s.InProgressResponses(ctx, userID, surveyID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, q1, rows[0].QuestionID)
	assert.Equal(t, choiceID, *rows[0].ChoiceID)
	assert.Equal(t, 1.0, *rows[0].Value)

	// replacing swaps rows instead of accumulating them
	other := int64(2)
	zero := 0.0
	err = s.ReplaceAnswers(ctx, userID, surveyID, q1, []model.Response{
		{ChoiceID: &other, Value: &zero},
	})
	require.NoError(t, err)

	rows, err = s.InProgressResponses(ctx, userID, surveyID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, other, *rows[0].ChoiceID)

	// an empty set clears the answer
	err = s.ReplaceAnswers(ctx, userID, surveyID, q1, nil)
	require.NoError(t, err)

	rows, err = s.InProgressResponses(ctx, userID, surveyID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFinalizeOnce(t *testing.T) {
	s := testStore(t)
	userID, surveyID, q1, _ := seedSurvey(t, s)
	ctx := context.Background()

	choiceID := int64(1)
	err := s.ReplaceAnswers(ctx, userID, surveyID, q1, []model.Response{{ChoiceID: &choiceID}})
	require.NoError(t, err)

	startedAt := time.Now().Add(-42 * time.Second)
	created, points, err := s.Finalize(ctx, userID, surveyID, startedAt)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 25, points)

	// responses are stamped: nothing is in progress anymore
	rows, err := s.InProgressResponses(ctx, userID, surveyID)
	require.NoError(t, err)
	assert.Empty(t, rows)

	submitted, err := s.HasSubmission(ctx, userID, surveyID)
	require.NoError(t, err)
	assert.True(t, submitted)

	user, err := s.UserByUsername(ctx, "resp")
	require.NoError(t, err)
	assert.Equal(t, 25, user.Points)

	// the second finalization is a no-op and awards nothing
	created, points, err = s.Finalize(ctx, userID, surveyID, startedAt)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Zero(t, points)

	user, err = s.UserByUsername(ctx, "resp")
	require.NoError(t, err)
	assert.Equal(t, 25, user.Points)
}

func TestListSurveys(t *testing.T) {
	s := testStore(t)
	userID, surveyID, _, _ := seedSurvey(t, s)
	ctx := context.Background()

	restrictedID := s.exec(t, `
		INSERT INTO survey (title, access_group) VALUES ('Staff only', 'staff')`)
	s.exec(t, `INSERT INTO survey (title, active) VALUES ('Retired', 0)`)

	// inactive and group-restricted surveys are hidden
	listings, err := s.ListSurveys(ctx, userID)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, surveyID, listings[0].ID)
	assert.False(t, listings[0].Completed)

	s.exec(t, `INSERT INTO user_group (user_id, group_name) VALUES (?, 'staff')`, userID)
	listings, err = s.ListSurveys(ctx, userID)
	require.NoError(t, err)
	require.Len(t, listings, 2)
	assert.Equal(t, restrictedID, listings[1].ID)

	_, _, err = s.Finalize(ctx, userID, surveyID, time.Now())
	require.NoError(t, err)
	listings, err = s.ListSurveys(ctx, userID)
	require.NoError(t, err)
	assert.True(t, listings[0].Completed)
	assert.False(t, listings[1].Completed)
}
