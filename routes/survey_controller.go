package routes

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/mbolis/survey-flow/app"
	"github.com/mbolis/survey-flow/engine/flow"
	"github.com/mbolis/survey-flow/httpx"
	"github.com/mbolis/survey-flow/log"
	"github.com/mbolis/survey-flow/model"
	"github.com/mbolis/survey-flow/routes/middlewares"
)

func ListSurveys(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := middlewares.CurrentUser(r.Context())

		surveys, err := app.Store.ListSurveys(r.Context(), user.ID)
		if err != nil {
			httpx.LogInternalError(w, "db.list_surveys", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"surveys": surveys,
		})
	}
}

// GetQuestion serves the respondent's current question, or an explicitly
// requested one (?q=<id>, used after Back).
func GetQuestion(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		surveyId, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}
		user := middlewares.CurrentUser(r.Context())

		var view *flow.View
		if rawQ := r.URL.Query().Get("q"); rawQ != "" {
			questionId, err := strconv.ParseInt(rawQ, 10, 64)
			if err != nil {
				httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_query_param.q")
				return
			}
			view, err = app.Flow.Question(r.Context(), user, surveyId, questionId)
			if renderFlowError(w, r, "flow.get_question", err) {
				return
			}
		} else {
			view, err = app.Flow.CurrentQuestion(r.Context(), user, surveyId)
			if renderFlowError(w, r, "flow.current_question", err) {
				return
			}
		}

		if view.Finalized {
			render.JSON(w, r, map[string]any{
				"finalized":      true,
				"points_awarded": view.PointsAwarded,
			})
			return
		}
		render.JSON(w, r, questionPayload(view))
	}
}

func SubmitAnswer(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		surveyId, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}
		questionId, err := strconv.ParseInt(chi.URLParam(r, "qid"), 10, 64)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.qid")
			return
		}
		user := middlewares.CurrentUser(r.Context())

		input := flow.Input{}
		err = render.DecodeJSON(r.Body, &input)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		outcome, err := app.Flow.SubmitAnswer(r.Context(), user, surveyId, questionId, input)
		if renderFlowError(w, r, "flow.submit_answer", err) {
			return
		}

		if outcome.Finalized {
			render.JSON(w, r, map[string]any{
				"finalized":      true,
				"points_awarded": outcome.PointsAwarded,
			})
			return
		}
		render.JSON(w, r, map[string]any{
			"next_question_id": outcome.NextQuestionID,
		})
	}
}

func GoBack(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		surveyId, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}
		user := middlewares.CurrentUser(r.Context())

		questionId, err := app.Flow.GoBack(r.Context(), user, surveyId)
		if renderFlowError(w, r, "flow.go_back", err) {
			return
		}

		render.JSON(w, r, map[string]any{
			"question_id": questionId,
		})
	}
}

func GetProgress(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		surveyId, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}
		user := middlewares.CurrentUser(r.Context())

		progress, err := app.Flow.GetProgress(r.Context(), user, surveyId)
		if renderFlowError(w, r, "flow.get_progress", err) {
			return
		}

		render.JSON(w, r, progress)
	}
}

// renderFlowError maps engine errors onto the HTTP surface. Validation and
// access problems are the respondent's to fix; a duplicate submission is a
// terminal view, not a failure.
func renderFlowError(w http.ResponseWriter, r *http.Request, code string, err error) (handled bool) {
	if err == nil {
		return false
	}

	var validation *flow.ValidationError
	switch {
	case errors.As(err, &validation):
		log.Debugf("%s: invalid answer: %s", code, err)
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, map[string]any{
			"errors": validation.Messages(),
		})
	case errors.Is(err, flow.ErrAlreadySubmitted):
		log.Debugf("%s: already submitted", code)
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, map[string]any{
			"finalized":         true,
			"already_submitted": true,
		})
	case errors.Is(err, flow.ErrAccessDenied):
		httpx.LogStatus(w, http.StatusForbidden, log.DebugLevel, code+".access_denied")
	case errors.Is(err, flow.ErrSurveyNotFound), errors.Is(err, flow.ErrQuestionNotFound):
		httpx.LogNotFound(w, code, r.URL.Path)
	default:
		httpx.LogInternalError(w, code, err)
	}
	return true
}

type questionView struct {
	ID            int64                `json:"id"`
	Code          string               `json:"code,omitempty"`
	Text          string               `json:"text"`
	Type          model.QuestionType   `json:"type"`
	Required      bool                 `json:"required"`
	MinValue      *float64             `json:"min_value,omitempty"`
	MaxValue      *float64             `json:"max_value,omitempty"`
	Step          *float64             `json:"step,omitempty"`
	SideBySide    bool                 `json:"side_by_side,omitempty"`
	Choices       []model.Choice       `json:"choices,omitempty"`
	MatrixRows    []model.MatrixRow    `json:"matrix_rows,omitempty"`
	MatrixColumns []model.MatrixColumn `json:"matrix_columns,omitempty"`
	Prefill       []prefillView        `json:"prefill,omitempty"`
}

type prefillView struct {
	ChoiceID       *int64   `json:"choice_id,omitempty"`
	MatrixRowID    *int64   `json:"matrix_row_id,omitempty"`
	MatrixColumnID *int64   `json:"matrix_column_id,omitempty"`
	Value          *float64 `json:"value,omitempty"`
	Text           string   `json:"text,omitempty"`
	MediaRef       string   `json:"media_ref,omitempty"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
}

// questionPayload strips routing and visibility internals before the
// question goes out to the client.
func questionPayload(view *flow.View) questionView {
	q := view.Question
	out := questionView{
		ID:            q.ID,
		Code:          q.Code,
		Text:          q.Text,
		Type:          q.Type,
		Required:      q.Required,
		MinValue:      q.MinValue,
		MaxValue:      q.MaxValue,
		Step:          q.Step,
		SideBySide:    q.SideBySide,
		Choices:       q.Choices,
		MatrixRows:    q.MatrixRows,
		MatrixColumns: q.MatrixColumns,
	}
	for _, p := range view.Prefill {
		out.Prefill = append(out.Prefill, prefillView{
			ChoiceID:       p.ChoiceID,
			MatrixRowID:    p.MatrixRowID,
			MatrixColumnID: p.MatrixColumnID,
			Value:          p.Value,
			Text:           p.TextAnswer,
			MediaRef:       p.MediaRef,
			Latitude:       p.Latitude,
			Longitude:      p.Longitude,
		})
	}
	return out
}
