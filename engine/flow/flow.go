// Package flow is the navigation state machine: it validates and persists
// one answer per request, recomputes the answers map, asks the routing
// resolver for the next visible question, and finalizes the submission
// exactly once when nothing remains.
package flow

import (
	"context"
	"time"

	"github.com/mbolis/survey-flow/engine/answers"
	"github.com/mbolis/survey-flow/engine/routing"
	"github.com/mbolis/survey-flow/model"
)

// Store is the persistence surface the controller needs. ReplaceAnswers and
// Finalize must each be transactional: replacement is delete-then-insert for
// one question's in-progress rows, finalization is insert-submission-or-noop
// followed by stamping and the one-time point award.
type Store interface {
	SurveyByID(ctx context.Context, id int64) (*model.Survey, error)
	UserGroups(ctx context.Context, userID int64) ([]string, error)
	InProgressResponses(ctx context.Context, userID, surveyID int64) ([]model.Response, error)
	ReplaceAnswers(ctx context.Context, userID, surveyID, questionID int64, rows []model.Response) error
	HasSubmission(ctx context.Context, userID, surveyID int64) (bool, error)
	Finalize(ctx context.Context, userID, surveyID int64, startedAt time.Time) (created bool, points int, err error)
}

type Controller struct {
	store    Store
	sessions *Sessions
	now      func() time.Time
}

func New(store Store) *Controller {
	return &Controller{
		store:    store,
		sessions: NewSessions(),
		now:      time.Now,
	}
}

// View is what the caller renders: either a question (with any in-progress
// answers for prefill) or the terminal finalized state.
type View struct {
	Question      *model.Question
	Prefill       []model.Response
	Finalized     bool
	PointsAwarded int
}

// Outcome of an answer submission.
type Outcome struct {
	NextQuestionID int64
	Finalized      bool
	PointsAwarded  int
}

type Progress struct {
	CurrentIndex int `json:"current_index"`
	Total        int `json:"total"`
	Percent      int `json:"percent"`
}

// CurrentQuestion computes the first visible, unanswered question: the
// resolver is seeded at each question in linear order and candidates whose
// resolved target already has an in-progress answer are skipped. When none
// remains, or the survey's deadline passed, the submission finalizes.
func (c *Controller) CurrentQuestion(ctx context.Context, user *model.User, surveyID int64) (*View, error) {
	survey, ix, sess, err := c.load(ctx, user, surveyID)
	if err != nil {
		return nil, err
	}
	if c.expired(survey, sess) {
		return c.finalizeView(ctx, user, survey, sess)
	}

	responses, err := c.store.InProgressResponses(ctx, user.ID, surveyID)
	if err != nil {
		return nil, err
	}
	m := answers.Project(survey, responses)
	answered := answeredSet(responses)

	for _, seed := range ix.Ordered() {
		cand := ix.NextDisplayable(seed, m)
		if cand == nil || answered[cand.ID] {
			continue
		}
		sess.Push(cand.ID)
		return &View{Question: cand, Prefill: prefill(responses, cand.ID)}, nil
	}

	return c.finalizeView(ctx, user, survey, sess)
}

// Question renders an explicitly requested question with its in-progress
// answers, e.g. after Back.
func (c *Controller) Question(ctx context.Context, user *model.User, surveyID, questionID int64) (*View, error) {
	survey, ix, sess, err := c.load(ctx, user, surveyID)
	if err != nil {
		return nil, err
	}
	if c.expired(survey, sess) {
		return c.finalizeView(ctx, user, survey, sess)
	}

	q := ix.Question(questionID)
	if q == nil {
		return nil, ErrQuestionNotFound
	}

	responses, err := c.store.InProgressResponses(ctx, user.ID, surveyID)
	if err != nil {
		return nil, err
	}
	sess.Push(q.ID)
	return &View{Question: q, Prefill: prefill(responses, q.ID)}, nil
}

// SubmitAnswer runs one full request cycle: validate, persist with
// replacement semantics, reproject answers read-after-write, route, and
// either advance or finalize.
func (c *Controller) SubmitAnswer(ctx context.Context, user *model.User, surveyID, questionID int64, in Input) (*Outcome, error) {
	survey, ix, sess, err := c.load(ctx, user, surveyID)
	if err != nil {
		return nil, err
	}
	if c.expired(survey, sess) {
		return c.finalize(ctx, user, survey, sess)
	}

	q := ix.Question(questionID)
	if q == nil {
		return nil, ErrQuestionNotFound
	}

	rows, err := validateAnswer(user.ID, q, in)
	if err != nil {
		return nil, err
	}

	if err := c.store.ReplaceAnswers(ctx, user.ID, surveyID, q.ID, rows); err != nil {
		return nil, err
	}

	// reproject from scratch: routing must see the answer just written
	responses, err := c.store.InProgressResponses(ctx, user.ID, surveyID)
	if err != nil {
		return nil, err
	}
	m := answers.Project(survey, responses)

	sess.Push(q.ID)

	preferred := ix.Preferred(q, routing.AnswerOverride(q, rows))
	next := ix.SafeNext(preferred, q, m)
	if next == nil {
		return c.finalize(ctx, user, survey, sess)
	}

	sess.Push(next.ID)
	return &Outcome{NextQuestionID: next.ID}, nil
}

// GoBack pops the navigation path without touching persisted answers.
func (c *Controller) GoBack(ctx context.Context, user *model.User, surveyID int64) (int64, error) {
	survey, _, sess, err := c.load(ctx, user, surveyID)
	if err != nil {
		return 0, err
	}
	if c.expired(survey, sess) {
		if _, err := c.finalize(ctx, user, survey, sess); err != nil {
			return 0, err
		}
		return 0, ErrAlreadySubmitted
	}

	questionID, ok := sess.Back()
	if !ok {
		return 0, ErrQuestionNotFound
	}
	return questionID, nil
}

func (c *Controller) GetProgress(ctx context.Context, user *model.User, surveyID int64) (*Progress, error) {
	survey, err := c.store.SurveyByID(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	if survey == nil || !survey.Active {
		return nil, ErrSurveyNotFound
	}
	ix := routing.NewIndex(survey)
	total := ix.Len()

	submitted, err := c.store.HasSubmission(ctx, user.ID, surveyID)
	if err != nil {
		return nil, err
	}
	if submitted {
		return &Progress{CurrentIndex: total, Total: total, Percent: 100}, nil
	}

	responses, err := c.store.InProgressResponses(ctx, user.ID, surveyID)
	if err != nil {
		return nil, err
	}
	answered := answeredSet(responses)

	p := &Progress{Total: total}
	if total > 0 {
		p.Percent = len(answered) * 100 / total
	}
	sess := c.sessions.Get(user.ID, surveyID)
	if current, ok := sess.Current(); ok {
		for i, q := range ix.Ordered() {
			if q.ID == current {
				p.CurrentIndex = i + 1
				break
			}
		}
	}
	return p, nil
}

func (c *Controller) load(ctx context.Context, user *model.User, surveyID int64) (*model.Survey, *routing.Index, *Session, error) {
	survey, err := c.store.SurveyByID(ctx, surveyID)
	if err != nil {
		return nil, nil, nil, err
	}
	if survey == nil || !survey.Active {
		return nil, nil, nil, ErrSurveyNotFound
	}

	submitted, err := c.store.HasSubmission(ctx, user.ID, surveyID)
	if err != nil {
		return nil, nil, nil, err
	}
	if submitted {
		return nil, nil, nil, ErrAlreadySubmitted
	}

	if survey.AccessGroup != nil {
		groups, err := c.store.UserGroups(ctx, user.ID)
		if err != nil {
			return nil, nil, nil, err
		}
		allowed := false
		for _, g := range groups {
			if g == *survey.AccessGroup {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, nil, nil, ErrAccessDenied
		}
	}

	return survey, routing.NewIndex(survey), c.sessions.Get(user.ID, surveyID), nil
}

// expired checks the survey's soft wall-clock deadline; it is re-evaluated
// on every request rather than kept by a timer.
func (c *Controller) expired(survey *model.Survey, sess *Session) bool {
	if survey.TimeLimitMinutes == nil {
		return false
	}
	deadline := sess.StartedAt.Add(time.Duration(*survey.TimeLimitMinutes) * time.Minute)
	return c.now().After(deadline)
}

// finalize creates the submission exactly once: the store's uniqueness
// constraint is the idempotency guard, and points are awarded only on the
// request that actually created the row.
func (c *Controller) finalize(ctx context.Context, user *model.User, survey *model.Survey, sess *Session) (*Outcome, error) {
	created, points, err := c.store.Finalize(ctx, user.ID, survey.ID, sess.StartedAt)
	if err != nil {
		return nil, err
	}
	if !created {
		points = 0
	}
	c.sessions.Drop(user.ID, survey.ID)
	return &Outcome{Finalized: true, PointsAwarded: points}, nil
}

func (c *Controller) finalizeView(ctx context.Context, user *model.User, survey *model.Survey, sess *Session) (*View, error) {
	out, err := c.finalize(ctx, user, survey, sess)
	if err != nil {
		return nil, err
	}
	return &View{Finalized: true, PointsAwarded: out.PointsAwarded}, nil
}

func answeredSet(responses []model.Response) map[int64]bool {
	set := make(map[int64]bool, len(responses))
	for _, r := range responses {
		set[r.QuestionID] = true
	}
	return set
}

func prefill(responses []model.Response, questionID int64) []model.Response {
	var out []model.Response
	for _, r := range responses {
		if r.QuestionID == questionID {
			out = append(out, r)
		}
	}
	return out
}
