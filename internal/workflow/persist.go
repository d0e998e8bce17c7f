package workflow

import (
	"context"
	"fmt"

	"github.com/ericksa/policylens/internal/domain"
)

// Store is the persistence the workflow writes through to.
type Store interface {
	FetchDocument(ctx context.Context, id string) (*domain.Document, error)
	PersistReviewState(ctx context.Context, documentID, clauseID string, state domain.ReviewState) error
	PersistDocumentState(ctx context.Context, documentID string, state domain.DocumentState) error
	ReplaceAnalysis(ctx context.Context, documentID string, a *domain.Analysis) error
}

// Workflow runs transitions against stored documents. Callers serialize
// calls per document; Workflow holds no locks.
//
// Persistence is write-through: when a store write fails the error is
// returned together with the already transitioned document, which is not
// rolled back.
type Workflow struct {
	store Store
}

func New(store Store) *Workflow {
	return &Workflow{store: store}
}

// AcceptRewrite loads the document, accepts the clause's rewrite and persists
// the new review state when it changed.
func (w *Workflow) AcceptRewrite(ctx context.Context, documentID, clauseID string) (*domain.Document, bool, error) {
	return w.review(ctx, documentID, clauseID, AcceptRewrite)
}

// RejectRewrite is the symmetric counterpart of AcceptRewrite.
func (w *Workflow) RejectRewrite(ctx context.Context, documentID, clauseID string) (*domain.Document, bool, error) {
	return w.review(ctx, documentID, clauseID, RejectRewrite)
}

func (w *Workflow) review(ctx context.Context, documentID, clauseID string, apply func(*domain.Document, string) (bool, error)) (*domain.Document, bool, error) {
	doc, err := w.store.FetchDocument(ctx, documentID)
	if err != nil {
		return nil, false, err
	}
	changed, err := apply(doc, clauseID)
	if err != nil || !changed {
		return doc, false, err
	}

	clause, _ := doc.Analysis.Clause(clauseID)
	if err := w.store.PersistReviewState(ctx, documentID, clauseID, clause.ReviewState); err != nil {
		return doc, true, fmt.Errorf("failed to persist review state: %w", err)
	}
	return doc, true, nil
}

// MarkReanalyzing flags an analyzed document as stale while a new pass runs.
func (w *Workflow) MarkReanalyzing(ctx context.Context, documentID string) (*domain.Document, bool, error) {
	doc, err := w.store.FetchDocument(ctx, documentID)
	if err != nil {
		return nil, false, err
	}
	if !MarkReanalyzing(doc) {
		return doc, false, nil
	}
	if err := w.store.PersistDocumentState(ctx, documentID, doc.State); err != nil {
		return doc, true, fmt.Errorf("failed to persist document state: %w", err)
	}
	return doc, true, nil
}

// RevertReanalyzing restores the state a document had before MarkReanalyzing.
func (w *Workflow) RevertReanalyzing(ctx context.Context, documentID string) (*domain.Document, bool, error) {
	doc, err := w.store.FetchDocument(ctx, documentID)
	if err != nil {
		return nil, false, err
	}
	if !RevertReanalyzing(doc) {
		return doc, false, nil
	}
	if err := w.store.PersistDocumentState(ctx, documentID, doc.State); err != nil {
		return doc, true, fmt.Errorf("failed to persist document state: %w", err)
	}
	return doc, true, nil
}

// CompleteAnalysis installs a finished analysis, resetting all review states.
func (w *Workflow) CompleteAnalysis(ctx context.Context, documentID string, a *domain.Analysis) (*domain.Document, error) {
	doc, err := w.store.FetchDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	ApplyAnalysis(doc, a)
	if err := w.store.ReplaceAnalysis(ctx, documentID, a); err != nil {
		return doc, fmt.Errorf("failed to replace analysis: %w", err)
	}
	return doc, nil
}
