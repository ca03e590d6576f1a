package routes

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/mbolis/survey-flow/app"
	"github.com/mbolis/survey-flow/engine/rules"
	"github.com/mbolis/survey-flow/httpx"
	"github.com/mbolis/survey-flow/log"
)

var validate = validator.New()

// Survey definitions reference routing targets by position in the submitted
// payload (next_index): questions get their real ids only at insert time, so
// pointers are wired in a second pass.
type surveyDef struct {
	Version          int           `json:"version"`
	Title            string        `json:"title" validate:"required"`
	Description      string        `json:"description"`
	Active           bool          `json:"active"`
	PointsReward     int           `json:"points_reward" validate:"gte=0"`
	TimeLimitMinutes *int          `json:"time_limit_minutes" validate:"omitempty,gt=0"`
	AccessGroup      *string       `json:"access_group"`
	Questions        []questionDef `json:"questions" validate:"dive"`
}

type questionDef struct {
	Code           string            `json:"code"`
	Text           string            `json:"text" validate:"required"`
	Type           string            `json:"type" validate:"required,oneof=single multi text rating dropdown matrix yesno number slider date geo file image image_choice image_rating"`
	Required       bool              `json:"required"`
	NextIndex      *int              `json:"next_index"`
	MinValue       *float64          `json:"min_value"`
	MaxValue       *float64          `json:"max_value"`
	Step           *float64          `json:"step" validate:"omitempty,gt=0"`
	SideBySide     bool              `json:"side_by_side"`
	VisibilityRule json.RawMessage   `json:"visibility_rules"`
	Choices        []choiceDef       `json:"choices" validate:"dive"`
	MatrixRows     []matrixRowDef    `json:"matrix_rows" validate:"dive"`
	MatrixColumns  []matrixColumnDef `json:"matrix_columns" validate:"dive"`
}

type choiceDef struct {
	Label     string   `json:"label" validate:"required"`
	Value     *float64 `json:"value"`
	NextIndex *int     `json:"next_index"`
}

type matrixRowDef struct {
	Label    string   `json:"label" validate:"required"`
	Value    *float64 `json:"value"`
	Required bool     `json:"required"`
}

type matrixColumnDef struct {
	Label     string   `json:"label" validate:"required"`
	Value     *float64 `json:"value"`
	InputType string   `json:"input_type" validate:"omitempty,oneof=text select radio checkbox"`
	Group     string   `json:"group"`
	Required  bool     `json:"required"`
	NextIndex *int     `json:"next_index"`
}

// checkDef runs struct validation plus the rule-tree parse: visibility rules
// are strict at authoring time even though evaluation is lenient.
func checkDef(survey surveyDef) (msg string, ok bool) {
	if err := validate.Struct(survey); err != nil {
		return err.Error(), false
	}
	for i, q := range survey.Questions {
		if len(q.VisibilityRule) == 0 {
			continue
		}
		if _, err := rules.Parse(q.VisibilityRule); err != nil {
			return "question " + strconv.Itoa(i) + ": malformed visibility rule", false
		}
	}
	return "", true
}

func CreateSurvey(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		survey := surveyDef{}
		err := render.DecodeJSON(r.Body, &survey)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}
		if msg, ok := checkDef(survey); !ok {
			httpx.LogStatusMsg(w, http.StatusUnprocessableEntity, log.DebugLevel, "request.validate_body", "%s", msg)
			return
		}

		tx, err := app.BeginTx(r.Context(), nil)
		if err != nil {
			httpx.LogInternalError(w, "db.begin_tx", err)
			return
		}
		defer tx.Rollback()

		var surveyId int64
		err = tx.QueryRowContext(r.Context(), `
			INSERT INTO survey (title, description, active, points_reward, time_limit_minutes, access_group)
			VALUES (?, ?, ?, ?, ?, ?)
			RETURNING id`,
			survey.Title,
			survey.Description,
			survey.Active,
			survey.PointsReward,
			survey.TimeLimitMinutes,
			survey.AccessGroup,
		).Scan(&surveyId)
		if err != nil {
			httpx.LogInternalError(w, "db.insert_survey", err)
			return
		}

		if err := insertQuestions(r.Context(), tx, surveyId, survey.Questions); err != nil {
			httpx.LogInternalError(w, "db.insert_survey.questions", err)
			return
		}

		err = tx.Commit()
		if err != nil {
			httpx.LogInternalError(w, "db.insert_survey.commit", err)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, map[string]any{
			"id": surveyId,
		})
	}
}

// insertQuestions writes the question graph: first every question in payload
// order, then the id-based routing pointers, then choices and matrix
// structure (whose own pointers can resolve right away).
func insertQuestions(ctx context.Context, tx *sql.Tx, surveyId int64, questions []questionDef) error {
	ids := make([]int64, len(questions))
	for i, q := range questions {
		rule := ""
		if len(q.VisibilityRule) > 0 {
			rule = string(q.VisibilityRule)
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO question (survey_id, code, text, type, required, sort_index,
				min_value, max_value, step, side_by_side, visibility_rules)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id`,
			surveyId, q.Code, q.Text, q.Type, q.Required, i,
			q.MinValue, q.MaxValue, q.Step, q.SideBySide, rule,
		).Scan(&ids[i])
		if err != nil {
			return err
		}
	}

	resolve := func(idx *int) *int64 {
		if idx == nil || *idx < 0 || *idx >= len(ids) {
			return nil
		}
		return &ids[*idx]
	}

	for i, q := range questions {
		if next := resolve(q.NextIndex); next != nil {
			_, err := tx.ExecContext(ctx, `
				UPDATE question SET next_question_id = ? WHERE id = ?`,
				next, ids[i],
			)
			if err != nil {
				return err
			}
		}

		for j, c := range q.Choices {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO choice (question_id, label, value, next_question_id, sort_index)
				VALUES (?, ?, ?, ?, ?)`,
				ids[i], c.Label, c.Value, resolve(c.NextIndex), j,
			)
			if err != nil {
				return err
			}
		}
		for j, mr := range q.MatrixRows {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO matrix_row (question_id, label, value, required, sort_index)
				VALUES (?, ?, ?, ?, ?)`,
				ids[i], mr.Label, mr.Value, mr.Required, j,
			)
			if err != nil {
				return err
			}
		}
		for j, mc := range q.MatrixColumns {
			inputType := mc.InputType
			if inputType == "" {
				inputType = "radio"
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO matrix_column (question_id, label, value, input_type, group_name, required, next_question_id, sort_index)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				ids[i], mc.Label, mc.Value, inputType, mc.Group, mc.Required, resolve(mc.NextIndex), j,
			)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func AdminListSurveys(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := app.QueryContext(r.Context(), `
			SELECT s.id, s.version, s.title, s.description, s.active, s.points_reward,
				(SELECT COUNT(*) FROM submission sub WHERE sub.survey_id = s.id)
			FROM survey s
			ORDER BY s.id`)
		if err != nil {
			httpx.LogInternalError(w, "db.get_surveys", err)
			return
		}
		defer rows.Close()

		type listing struct {
			ID           int64  `json:"id"`
			Version      int    `json:"version"`
			Title        string `json:"title"`
			Description  string `json:"description"`
			Active       bool   `json:"active"`
			PointsReward int    `json:"points_reward"`
			Submissions  int    `json:"submissions"`
		}
		surveys := []listing{}
		for rows.Next() {
			s := listing{}
			err = rows.Scan(&s.ID, &s.Version, &s.Title, &s.Description, &s.Active, &s.PointsReward, &s.Submissions)
			if err != nil {
				httpx.LogInternalError(w, "db.get_surveys.scan", err)
				return
			}
			surveys = append(surveys, s)
		}

		render.JSON(w, r, map[string]any{
			"surveys": surveys,
		})
	}
}

func GetSurveyById(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		surveyId, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		survey, err := app.Store.SurveyByID(r.Context(), surveyId)
		if err != nil {
			httpx.LogInternalError(w, "db.get_survey", err)
			return
		}
		if survey == nil {
			httpx.LogNotFound(w, "get_survey", surveyId)
			return
		}

		render.JSON(w, r, survey)
	}
}

func UpdateSurvey(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		surveyId, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		survey := surveyDef{}
		err = render.DecodeJSON(r.Body, &survey)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}
		if msg, ok := checkDef(survey); !ok {
			httpx.LogStatusMsg(w, http.StatusUnprocessableEntity, log.DebugLevel, "request.validate_body", "%s", msg)
			return
		}

		tx, err := app.BeginTx(r.Context(), nil)
		if err != nil {
			httpx.LogInternalError(w, "db.begin_tx", err)
			return
		}
		defer tx.Rollback()

		// recreate the whole question graph; responses to dropped questions
		// survive as orphans and the projector skips them
		_, err = tx.ExecContext(r.Context(), `
			DELETE FROM question
			WHERE survey_id = ?`,
			surveyId,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.update_survey.delete_questions", err)
			return
		}

		if err := insertQuestions(r.Context(), tx, surveyId, survey.Questions); err != nil {
			httpx.LogInternalError(w, "db.update_survey.questions", err)
			return
		}

		res, err := tx.ExecContext(r.Context(), `
			UPDATE survey
			SET
				title = ?,
				description = ?,
				active = ?,
				points_reward = ?,
				time_limit_minutes = ?,
				access_group = ?,
				version = version+1
			WHERE	id = ?
				AND version = ?`,
			survey.Title,
			survey.Description,
			survey.Active,
			survey.PointsReward,
			survey.TimeLimitMinutes,
			survey.AccessGroup,
			surveyId,
			survey.Version,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.update_survey", err)
			return
		}
		// optimistic lock
		n, err := res.RowsAffected()
		if err != nil {
			httpx.LogInternalError(w, "db.update_survey.verify", err)
			return
		}
		if n < 1 {
			httpx.LogStatus(w, http.StatusConflict, log.DebugLevel, "db.update_survey.verify.conflict")
			return
		}

		err = tx.Commit()
		if err != nil {
			httpx.LogInternalError(w, "db.update_survey.commit", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func DeleteSurvey(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		surveyId, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		res, err := app.ExecContext(r.Context(), `
			DELETE FROM survey WHERE id = ?`,
			surveyId,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.delete_survey", err)
			return
		}
		n, err := res.RowsAffected()
		if err != nil {
			httpx.LogInternalError(w, "db.delete_survey.verify", err)
			return
		}
		if n < 1 {
			httpx.LogNotFound(w, "delete_survey", surveyId)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func GetSurveySubmissions(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		surveyId, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		type answerView struct {
			QuestionID int64    `json:"question_id"`
			Code       string   `json:"code,omitempty"`
			ChoiceID   *int64   `json:"choice_id,omitempty"`
			Value      *float64 `json:"value,omitempty"`
			Text       string   `json:"text,omitempty"`
			GroupLabel string   `json:"group_label,omitempty"`
		}
		type submissionView struct {
			ID              int64        `json:"id"`
			UserID          int64        `json:"user_id"`
			StartedAt       time.Time    `json:"started_at"`
			DurationSeconds int          `json:"duration_seconds"`
			FinalizedAt     time.Time    `json:"finalized_at"`
			Answers         []answerView `json:"answers"`
		}

		rows, err := app.QueryContext(r.Context(), `
			SELECT sub.id, sub.user_id, sub.started_at, sub.duration_seconds, sub.finalized_at
			FROM submission sub
			WHERE sub.survey_id = ?
			ORDER BY sub.id`,
			surveyId,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.get_submissions", err)
			return
		}
		defer rows.Close()

		submissions := []submissionView{}
		index := map[int64]int{}
		for rows.Next() {
			s := submissionView{Answers: []answerView{}}
			err = rows.Scan(&s.ID, &s.UserID, &s.StartedAt, &s.DurationSeconds, &s.FinalizedAt)
			if err != nil {
				httpx.LogInternalError(w, "db.get_submissions.scan", err)
				return
			}
			index[s.ID] = len(submissions)
			submissions = append(submissions, s)
		}
		if err := rows.Err(); err != nil {
			httpx.LogInternalError(w, "db.get_submissions.rows", err)
			return
		}

		answers, err := app.QueryContext(r.Context(), `
			SELECT r.submission_id, r.question_id, q.code, r.choice_id, r.value, r.text_answer, r.group_label
			FROM response r
			INNER JOIN question q ON (q.id = r.question_id)
			WHERE r.survey_id = ? AND r.submission_id IS NOT NULL
			ORDER BY r.submission_id, r.id`,
			surveyId,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.get_submissions.answers", err)
			return
		}
		defer answers.Close()

		for answers.Next() {
			var submissionId int64
			a := answerView{}
			var choiceId sql.NullInt64
			var value sql.NullFloat64
			err = answers.Scan(&submissionId, &a.QuestionID, &a.Code, &choiceId, &value, &a.Text, &a.GroupLabel)
			if err != nil {
				httpx.LogInternalError(w, "db.get_submissions.answers.scan", err)
				return
			}
			if choiceId.Valid {
				a.ChoiceID = &choiceId.Int64
			}
			if value.Valid {
				a.Value = &value.Float64
			}
			if i, ok := index[submissionId]; ok {
				submissions[i].Answers = append(submissions[i].Answers, a)
			}
		}
		if err := answers.Err(); err != nil {
			httpx.LogInternalError(w, "db.get_submissions.answers.rows", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"submissions": submissions,
		})
	}
}
