package service

import (
	"context"
	"errors"

	"github.com/ericksa/policylens/internal/audit"
	"github.com/ericksa/policylens/internal/domain"
	"github.com/ericksa/policylens/internal/session"
)

// ReviewResult is the clause after an accept or reject call.
type ReviewResult struct {
	DocumentID string        `json:"document_id"`
	Clause     domain.Clause `json:"clause"`
	Changed    bool          `json:"changed"`
}

func (s *Service) AcceptRewrite(ctx context.Context, sess session.Session, documentID, clauseID string) (*ReviewResult, error) {
	return s.review(ctx, sess, audit.ActionAccept, documentID, clauseID)
}

func (s *Service) RejectRewrite(ctx context.Context, sess session.Session, documentID, clauseID string) (*ReviewResult, error) {
	return s.review(ctx, sess, audit.ActionReject, documentID, clauseID)
}

func (s *Service) review(ctx context.Context, sess session.Session, action, documentID, clauseID string) (*ReviewResult, error) {
	if err := s.checkOwner(ctx, sess, documentID); err != nil {
		s.metrics.RecordReview(action, outcome(err, false))
		return nil, err
	}

	unlock := s.locks.Lock(documentID)
	var (
		doc     *domain.Document
		changed bool
		err     error
	)
	if action == audit.ActionAccept {
		doc, changed, err = s.wf.AcceptRewrite(ctx, documentID, clauseID)
	} else {
		doc, changed, err = s.wf.RejectRewrite(ctx, documentID, clauseID)
	}
	unlock()

	s.metrics.RecordReview(action, outcome(err, changed))
	s.audit(ctx, action, documentID, clauseID, sess.UserID, changed, err)
	if err != nil {
		s.log.Debug().Err(err).Str("action", action).Str("document_id", documentID).Str("clause_id", clauseID).Msg("review rejected")
		return nil, err
	}
	if changed {
		s.notify(ctx, sess.UserID, Event{Type: EventReviewed, DocumentID: documentID, ClauseID: clauseID})
	}

	clause, _ := doc.Analysis.Clause(clauseID)
	return &ReviewResult{DocumentID: documentID, Clause: *clause, Changed: changed}, nil
}

func outcome(err error, changed bool) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInconsistentState):
		return "conflict"
	case err != nil:
		return "error"
	case changed:
		return "changed"
	default:
		return "unchanged"
	}
}
