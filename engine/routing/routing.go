// Package routing resolves the next visible question of a survey. Explicit
// next-question pointers form a directed graph that may contain cycles and
// dangling ids, so every traversal carries a visited set and looks targets
// up in an id index instead of chasing live references.
package routing

import (
	"sort"

	"github.com/mbolis/survey-flow/engine/answers"
	"github.com/mbolis/survey-flow/engine/rules"
	"github.com/mbolis/survey-flow/log"
	"github.com/mbolis/survey-flow/model"
)

// Index is the per-survey question arena: id lookup plus the linear
// (sort_index, id) fallback order.
type Index struct {
	byID    map[int64]*model.Question
	ordered []*model.Question
}

func NewIndex(survey *model.Survey) *Index {
	ix := &Index{
		byID:    make(map[int64]*model.Question, len(survey.Questions)),
		ordered: make([]*model.Question, 0, len(survey.Questions)),
	}
	for i := range survey.Questions {
		q := &survey.Questions[i]
		ix.byID[q.ID] = q
		ix.ordered = append(ix.ordered, q)
	}
	sort.SliceStable(ix.ordered, func(i, j int) bool {
		a, b := ix.ordered[i], ix.ordered[j]
		if a.SortIndex != b.SortIndex {
			return a.SortIndex < b.SortIndex
		}
		return a.ID < b.ID
	})
	return ix
}

// Question returns nil for unknown ids, including dangling routing targets.
func (ix *Index) Question(id int64) *model.Question {
	return ix.byID[id]
}

func (ix *Index) Ordered() []*model.Question {
	return ix.ordered
}

func (ix *Index) Len() int {
	return len(ix.ordered)
}

// NextDisplayable walks the next-question chain starting at q until it hits
// a visible question. Returns nil when the chain runs out or loops back on
// itself.
func (ix *Index) NextDisplayable(q *model.Question, m answers.Map) *model.Question {
	visited := make(map[int64]bool)
	for q != nil {
		if visited[q.ID] {
			log.Debugf("routing.next_displayable: cycle at question %d", q.ID)
			return nil
		}
		visited[q.ID] = true

		if rules.EvaluateJSON(q.VisibilityRule, m) {
			return q
		}
		q = ix.follow(q.NextQuestionID)
	}
	return nil
}

// FindNextVisibleAfter scans the linear order strictly after current,
// letting each candidate chase its own routing chain.
func (ix *Index) FindNextVisibleAfter(current *model.Question, m answers.Map) *model.Question {
	start := 0
	if current != nil {
		for i, q := range ix.ordered {
			if q.ID == current.ID {
				start = i + 1
				break
			}
		}
	}
	for _, cand := range ix.ordered[start:] {
		if next := ix.NextDisplayable(cand, m); next != nil {
			return next
		}
	}
	return nil
}

// SafeNext tries the explicit routing target first (honoring chains through
// hidden questions), then falls back to linear order. Nil means the flow is
// complete.
func (ix *Index) SafeNext(preferred, current *model.Question, m answers.Map) *model.Question {
	if preferred != nil {
		if next := ix.NextDisplayable(preferred, m); next != nil {
			return next
		}
	}
	return ix.FindNextVisibleAfter(current, m)
}

func (ix *Index) follow(id *int64) *model.Question {
	if id == nil {
		return nil
	}
	q := ix.byID[*id]
	if q == nil {
		// dangling pointer, likely a deleted question: degrade to fallback
		log.Debugf("routing.follow: dangling next_question %d", *id)
	}
	return q
}

// Preferred resolves the routing target for a just-answered question:
// the answer's own override beats the question-level pointer.
func (ix *Index) Preferred(q *model.Question, override *int64) *model.Question {
	if override != nil {
		if target := ix.follow(override); target != nil {
			return target
		}
	}
	return ix.follow(q.NextQuestionID)
}

// AnswerOverride extracts the per-choice / per-matrix-column next-question
// override from the rows just recorded, if any carries one.
func AnswerOverride(q *model.Question, recorded []model.Response) *int64 {
	for _, r := range recorded {
		if r.ChoiceID != nil {
			for _, c := range q.Choices {
				if c.ID == *r.ChoiceID && c.NextQuestionID != nil {
					return c.NextQuestionID
				}
			}
		}
		if r.MatrixColumnID != nil {
			for _, col := range q.MatrixColumns {
				if col.ID == *r.MatrixColumnID && col.NextQuestionID != nil {
					return col.NextQuestionID
				}
			}
		}
	}
	return nil
}
