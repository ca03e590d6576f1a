// Package store is the durable answer store: survey graphs, in-progress
// response rows, and the one-way transition that stamps them onto a
// submission.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/mbolis/survey-flow/model"
)

type SQL struct {
	db *sql.DB
}

func New(db *sql.DB) *SQL {
	return &SQL{db: db}
}

// SurveyByID loads the whole survey aggregate: questions in linear order
// with their choices and matrix structure. Returns (nil, nil) when the
// survey does not exist.
func (s *SQL) SurveyByID(ctx context.Context, id int64) (*model.Survey, error) {
	survey := &model.Survey{}
	var timeLimit, version sql.NullInt64
	var accessGroup sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, version, title, description, active, points_reward, time_limit_minutes, access_group
		FROM survey
		WHERE id = ?`,
		id,
	).Scan(
		&survey.ID, &version, &survey.Title, &survey.Description,
		&survey.Active, &survey.PointsReward, &timeLimit, &accessGroup,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "store.survey")
	}
	survey.Version = int(version.Int64)
	if timeLimit.Valid {
		limit := int(timeLimit.Int64)
		survey.TimeLimitMinutes = &limit
	}
	if accessGroup.Valid {
		survey.AccessGroup = &accessGroup.String
	}

	if err := s.loadQuestions(ctx, survey); err != nil {
		return nil, err
	}
	return survey, nil
}

func (s *SQL) loadQuestions(ctx context.Context, survey *model.Survey) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, survey_id, code, text, type, required, sort_index,
			next_question_id, min_value, max_value, step, side_by_side, visibility_rules
		FROM question
		WHERE survey_id = ?
		ORDER BY sort_index, id`,
		survey.ID,
	)
	if err != nil {
		return errors.Wrap(err, "store.survey.questions")
	}
	defer rows.Close()

	byID := make(map[int64]int)
	for rows.Next() {
		q := model.Question{}
		var next sql.NullInt64
		var min, max, step sql.NullFloat64
		var rules string
		err = rows.Scan(
			&q.ID, &q.SurveyID, &q.Code, &q.Text, &q.Type, &q.Required, &q.SortIndex,
			&next, &min, &max, &step, &q.SideBySide, &rules,
		)
		if err != nil {
			return errors.Wrap(err, "store.survey.questions.scan")
		}
		q.NextQuestionID = nullInt(next)
		q.MinValue = nullFloat(min)
		q.MaxValue = nullFloat(max)
		q.Step = nullFloat(step)
		if rules != "" {
			q.VisibilityRule = json.RawMessage(rules)
		}
		byID[q.ID] = len(survey.Questions)
		survey.Questions = append(survey.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "store.survey.questions.rows")
	}

	if err := s.loadChoices(ctx, survey, byID); err != nil {
		return err
	}
	return s.loadMatrix(ctx, survey, byID)
}

func (s *SQL) loadChoices(ctx context.Context, survey *model.Survey, byID map[int64]int) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, question_id, label, value, next_question_id, sort_index
		FROM choice
		WHERE question_id IN (SELECT id FROM question WHERE survey_id = ?)
		ORDER BY question_id, sort_index, id`,
		survey.ID,
	)
	if err != nil {
		return errors.Wrap(err, "store.survey.choices")
	}
	defer rows.Close()

	for rows.Next() {
		c := model.Choice{}
		var value sql.NullFloat64
		var next sql.NullInt64
		err = rows.Scan(&c.ID, &c.QuestionID, &c.Label, &value, &next, &c.SortIndex)
		if err != nil {
			return errors.Wrap(err, "store.survey.choices.scan")
		}
		c.Value = nullFloat(value)
		c.NextQuestionID = nullInt(next)
		if i, ok := byID[c.QuestionID]; ok {
			survey.Questions[i].Choices = append(survey.Questions[i].Choices, c)
		}
	}
	return errors.Wrap(rows.Err(), "store.survey.choices.rows")
}

func (s *SQL) loadMatrix(ctx context.Context, survey *model.Survey, byID map[int64]int) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, question_id, label, value, required, sort_index
		FROM matrix_row
		WHERE question_id IN (SELECT id FROM question WHERE survey_id = ?)
		ORDER BY question_id, sort_index, id`,
		survey.ID,
	)
	if err != nil {
		return errors.Wrap(err, "store.survey.matrix_rows")
	}
	defer rows.Close()
	for rows.Next() {
		mr := model.MatrixRow{}
		var value sql.NullFloat64
		err = rows.Scan(&mr.ID, &mr.QuestionID, &mr.Label, &value, &mr.Required, &mr.SortIndex)
		if err != nil {
			return errors.Wrap(err, "store.survey.matrix_rows.scan")
		}
		mr.Value = nullFloat(value)
		if i, ok := byID[mr.QuestionID]; ok {
			survey.Questions[i].MatrixRows = append(survey.Questions[i].MatrixRows, mr)
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "store.survey.matrix_rows.rows")
	}

	cols, err := s.db.QueryContext(ctx, `
		SELECT id, question_id, label, value, input_type, group_name, required, next_question_id, sort_index
		FROM matrix_column
		WHERE question_id IN (SELECT id FROM question WHERE survey_id = ?)
		ORDER BY question_id, sort_index, id`,
		survey.ID,
	)
	if err != nil {
		return errors.Wrap(err, "store.survey.matrix_columns")
	}
	defer cols.Close()
	for cols.Next() {
		mc := model.MatrixColumn{}
		var value sql.NullFloat64
		var next sql.NullInt64
		err = cols.Scan(&mc.ID, &mc.QuestionID, &mc.Label, &value, &mc.InputType, &mc.Group, &mc.Required, &next, &mc.SortIndex)
		if err != nil {
			return errors.Wrap(err, "store.survey.matrix_columns.scan")
		}
		mc.Value = nullFloat(value)
		mc.NextQuestionID = nullInt(next)
		if i, ok := byID[mc.QuestionID]; ok {
			survey.Questions[i].MatrixColumns = append(survey.Questions[i].MatrixColumns, mc)
		}
	}
	return errors.Wrap(cols.Err(), "store.survey.matrix_columns.rows")
}

func (s *SQL) UserByUsername(ctx context.Context, username string) (*model.User, error) {
	user := &model.User{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, points FROM user WHERE username = ?`,
		username,
	).Scan(&user.ID, &user.Username, &user.Points)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "store.user")
	}
	return user, nil
}

func (s *SQL) UserGroups(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT group_name FROM user_group WHERE user_id = ?`,
		userID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "store.user_groups")
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, errors.Wrap(err, "store.user_groups.scan")
		}
		groups = append(groups, g)
	}
	return groups, errors.Wrap(rows.Err(), "store.user_groups.rows")
}

// InProgressResponses returns the unsubmitted answer rows of one
// (user, survey) in insertion order.
func (s *SQL) InProgressResponses(ctx context.Context, userID, surveyID int64) ([]model.Response, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, survey_id, question_id, choice_id, matrix_row_id, matrix_column_id,
			value, text_answer, media_ref, latitude, longitude, group_label, created_at
		FROM response
		WHERE user_id = ? AND survey_id = ? AND submission_id IS NULL
		ORDER BY id`,
		userID, surveyID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "store.responses")
	}
	defer rows.Close()

	var out []model.Response
	for rows.Next() {
		r := model.Response{}
		var choice, mrow, mcol sql.NullInt64
		var value, lat, lng sql.NullFloat64
		err = rows.Scan(
			&r.ID, &r.UserID, &r.SurveyID, &r.QuestionID, &choice, &mrow, &mcol,
			&value, &r.TextAnswer, &r.MediaRef, &lat, &lng, &r.GroupLabel, &r.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "store.responses.scan")
		}
		r.ChoiceID = nullInt(choice)
		r.MatrixRowID = nullInt(mrow)
		r.MatrixColumnID = nullInt(mcol)
		r.Value = nullFloat(value)
		r.Latitude = nullFloat(lat)
		r.Longitude = nullFloat(lng)
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "store.responses.rows")
}

// ReplaceAnswers swaps the in-progress rows of one question in a single
// transaction: delete prior, bulk insert the new set. An empty set is a
// legitimate "clear my answer".
func (s *SQL) ReplaceAnswers(ctx context.Context, userID, surveyID, questionID int64, answers []model.Response) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "store.replace.begin_tx")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM response
		WHERE user_id = ? AND survey_id = ? AND question_id = ? AND submission_id IS NULL`,
		userID, surveyID, questionID,
	)
	if err != nil {
		return errors.Wrap(err, "store.replace.delete")
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO response (
			user_id, survey_id, question_id, choice_id, matrix_row_id, matrix_column_id,
			value, text_answer, media_ref, latitude, longitude, group_label, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "store.replace.prepare")
	}
	defer stmt.Close()

	now := time.Now()
	for _, r := range answers {
		_, err = stmt.ExecContext(ctx,
			userID, surveyID, questionID, r.ChoiceID, r.MatrixRowID, r.MatrixColumnID,
			r.Value, r.TextAnswer, r.MediaRef, r.Latitude, r.Longitude, r.GroupLabel, now,
		)
		if err != nil {
			return errors.Wrap(err, "store.replace.insert")
		}
	}

	return errors.Wrap(tx.Commit(), "store.replace.commit")
}

func (s *SQL) HasSubmission(ctx context.Context, userID, surveyID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM submission WHERE user_id = ? AND survey_id = ?`,
		userID, surveyID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "store.has_submission")
	}
	return true, nil
}

// Finalize inserts the submission for (user, survey), relying on the unique
// constraint as the idempotency guard: INSERT OR IGNORE closes the
// check-then-insert race. Only the request that actually created the row
// stamps the in-progress responses and awards the points.
func (s *SQL) Finalize(ctx context.Context, userID, surveyID int64, startedAt time.Time) (created bool, points int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, errors.Wrap(err, "store.finalize.begin_tx")
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		SELECT points_reward FROM survey WHERE id = ?`,
		surveyID,
	).Scan(&points)
	if err != nil {
		return false, 0, errors.Wrap(err, "store.finalize.points")
	}

	now := time.Now()
	duration := int(now.Sub(startedAt).Seconds())
	if duration < 0 {
		duration = 0
	}
	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO submission (user_id, survey_id, started_at, duration_seconds, finalized_at)
		VALUES (?, ?, ?, ?, ?)`,
		userID, surveyID, startedAt, duration, now,
	)
	if err != nil {
		return false, 0, errors.Wrap(err, "store.finalize.insert")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, 0, errors.Wrap(err, "store.finalize.verify")
	}
	if n == 0 {
		// somebody else finalized first: already-finalized, no-op
		return false, 0, nil
	}

	submissionID, err := res.LastInsertId()
	if err != nil {
		return false, 0, errors.Wrap(err, "store.finalize.id")
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE response SET submission_id = ?
		WHERE user_id = ? AND survey_id = ? AND submission_id IS NULL`,
		submissionID, userID, surveyID,
	)
	if err != nil {
		return false, 0, errors.Wrap(err, "store.finalize.stamp")
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE user SET points = points + ? WHERE id = ?`,
		points, userID,
	)
	if err != nil {
		return false, 0, errors.Wrap(err, "store.finalize.award")
	}

	if err := tx.Commit(); err != nil {
		return false, 0, errors.Wrap(err, "store.finalize.commit")
	}
	return true, points, nil
}

// SurveyListing is one row of the respondent-facing survey list.
type SurveyListing struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	PointsReward int    `json:"points_reward"`
	Completed    bool   `json:"completed"`
}

// ListSurveys returns active surveys the user may take, flagging the ones
// already completed.
func (s *SQL) ListSurveys(ctx context.Context, userID int64) ([]SurveyListing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.title, s.description, s.points_reward,
			EXISTS (SELECT 1 FROM submission sub WHERE sub.survey_id = s.id AND sub.user_id = ?)
		FROM survey s
		WHERE s.active = 1
			AND (s.access_group IS NULL
				OR s.access_group IN (SELECT group_name FROM user_group WHERE user_id = ?))
		ORDER BY s.id`,
		userID, userID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "store.list_surveys")
	}
	defer rows.Close()

	listings := []SurveyListing{}
	for rows.Next() {
		l := SurveyListing{}
		err = rows.Scan(&l.ID, &l.Title, &l.Description, &l.PointsReward, &l.Completed)
		if err != nil {
			return nil, errors.Wrap(err, "store.list_surveys.scan")
		}
		listings = append(listings, l)
	}
	return listings, errors.Wrap(rows.Err(), "store.list_surveys.rows")
}

func nullInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullFloat(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
