package flow

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mbolis/survey-flow/log"
)

// Session is the per-(user, survey) navigation state: when the respondent
// started (the time-limit anchor) and the stack of visited question ids that
// backs the Back button. It lives in process memory only; losing it on
// restart costs the Back history, never any answers.
type Session struct {
	ID        uuid.UUID
	StartedAt time.Time
	Path      []int64
}

// Push records a visited question; pushing the current tail again is a no-op
// so revisits via Back do not grow the stack.
func (s *Session) Push(questionID int64) {
	if n := len(s.Path); n > 0 && s.Path[n-1] == questionID {
		return
	}
	s.Path = append(s.Path, questionID)
}

// Back pops the current question and returns the new tail. The first
// question has no Back target: an exhausted stack returns the question that
// is already showing.
func (s *Session) Back() (questionID int64, ok bool) {
	switch n := len(s.Path); {
	case n == 0:
		return 0, false
	case n == 1:
		return s.Path[0], true
	default:
		s.Path = s.Path[:n-1]
		return s.Path[n-2], true
	}
}

// Current is the question id at the top of the path, if any.
func (s *Session) Current() (questionID int64, ok bool) {
	if len(s.Path) == 0 {
		return 0, false
	}
	return s.Path[len(s.Path)-1], true
}

type sessionKey struct {
	userID   int64
	surveyID int64
}

// Sessions is the in-memory navigation registry.
type Sessions struct {
	mu    sync.Mutex
	byKey map[sessionKey]*Session
	now   func() time.Time
}

func NewSessions() *Sessions {
	return &Sessions{
		byKey: make(map[sessionKey]*Session),
		now:   time.Now,
	}
}

// Get returns the live session for (user, survey), starting a fresh one on
// first contact. The start time anchors the survey's soft deadline.
func (ss *Sessions) Get(userID, surveyID int64) *Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	key := sessionKey{userID, surveyID}
	sess, ok := ss.byKey[key]
	if !ok {
		sess = &Session{
			ID:        uuid.New(),
			StartedAt: ss.now(),
		}
		ss.byKey[key] = sess
		log.Debugf("flow.session: started %s for user %d survey %d", sess.ID, userID, surveyID)
	}
	return sess
}

// Drop forgets a session after finalization.
func (ss *Sessions) Drop(userID, surveyID int64) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	delete(ss.byKey, sessionKey{userID, surveyID})
}
