package flow

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

var (
	// ErrSurveyNotFound covers both unknown and inactive surveys.
	ErrSurveyNotFound = errors.New("survey not found")
	// ErrAlreadySubmitted is the duplicate-submission short circuit; callers
	// surface a terminal "already submitted" view, not a failure.
	ErrAlreadySubmitted = errors.New("survey already submitted")
	// ErrAccessDenied means the respondent is not in the survey's access group.
	ErrAccessDenied = errors.New("survey access denied")
	// ErrQuestionNotFound means the requested question is not in this survey.
	ErrQuestionNotFound = errors.New("question not found")
)

// ValidationError carries every field problem found in one submitted answer,
// so a matrix row missing two groups reports both at once. The respondent is
// re-shown the same question; no state transition happens.
type ValidationError struct {
	errs *multierror.Error
}

func (e *ValidationError) Error() string {
	return e.errs.Error()
}

func (e *ValidationError) Messages() []string {
	msgs := make([]string, len(e.errs.Errors))
	for i, err := range e.errs.Errors {
		msgs[i] = err.Error()
	}
	return msgs
}

// validation accumulates problems while an answer is checked.
type validation struct {
	errs *multierror.Error
}

func (v *validation) addf(format string, args ...any) {
	v.errs = multierror.Append(v.errs, errors.Errorf(format, args...))
}

func (v *validation) err() error {
	if v.errs == nil || len(v.errs.Errors) == 0 {
		return nil
	}
	return &ValidationError{errs: v.errs}
}
