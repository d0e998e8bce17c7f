// Package workflow implements the review state machine: accepting or
// rejecting suggested rewrites per clause and moving documents between
// pending, analyzed and reanalyzing.
//
// The package-level functions are pure transitions on a *domain.Document.
// Each validates before it mutates, so a failed call leaves the document
// untouched. Workflow adds write-through persistence on top of them.
package workflow

import (
	"strings"

	"github.com/ericksa/policylens/internal/domain"
	"github.com/ericksa/policylens/internal/segment"
)

// AcceptRewrite marks the clause's rewrite as accepted. changed is false when
// the clause was already accepted.
func AcceptRewrite(doc *domain.Document, clauseID string) (changed bool, err error) {
	return transition(doc, clauseID, domain.ReviewAccepted)
}

// RejectRewrite marks the clause's rewrite as rejected. changed is false when
// the clause was already rejected.
func RejectRewrite(doc *domain.Document, clauseID string) (changed bool, err error) {
	return transition(doc, clauseID, domain.ReviewRejected)
}

func transition(doc *domain.Document, clauseID string, target domain.ReviewState) (bool, error) {
	clause, err := reviewable(doc, clauseID)
	if err != nil {
		return false, err
	}

	current := clause.ReviewState
	if current == "" {
		current = domain.ReviewUnreviewed
	}
	switch current {
	case target:
		return false, nil
	case domain.ReviewUnreviewed:
	default:
		return false, &domain.InconsistentStateError{
			DocumentID: doc.ID,
			ClauseID:   clauseID,
			Reason:     "clause is already " + string(current) + ", re-analyze to review again",
		}
	}

	if target == domain.ReviewAccepted && strings.TrimSpace(clause.RewriteSuggestion) == "" {
		return false, &domain.InconsistentStateError{
			DocumentID: doc.ID,
			ClauseID:   clauseID,
			Reason:     "clause has no rewrite suggestion to accept",
		}
	}

	clause.ReviewState = target
	return true, nil
}

func reviewable(doc *domain.Document, clauseID string) (*domain.Clause, error) {
	if doc.Analysis == nil {
		return nil, &domain.InconsistentStateError{DocumentID: doc.ID, Reason: "document has no analysis"}
	}
	if !doc.Analyzed() {
		return nil, &domain.InconsistentStateError{DocumentID: doc.ID, Reason: "document is " + string(doc.State) + ", not analyzed"}
	}
	clause, ok := doc.Analysis.Clause(clauseID)
	if !ok {
		return nil, domain.ClauseNotFound(clauseID)
	}
	return clause, nil
}

// MarkReanalyzing moves an analyzed document to reanalyzing. Pending and
// already reanalyzing documents are left alone and report changed=false.
func MarkReanalyzing(doc *domain.Document) (changed bool) {
	if doc.State != domain.StateAnalyzed {
		return false
	}
	doc.State = domain.StateReanalyzing
	return true
}

// RevertReanalyzing undoes MarkReanalyzing after a failed analysis pass.
// A reanalyzing document with no analysis falls back to pending.
func RevertReanalyzing(doc *domain.Document) (changed bool) {
	if doc.State != domain.StateReanalyzing {
		return false
	}
	if doc.Analysis == nil {
		doc.State = domain.StatePending
	} else {
		doc.State = domain.StateAnalyzed
	}
	return true
}

// ApplyAnalysis replaces the document's analysis wholesale and marks it
// analyzed. Every clause of the new analysis starts unreviewed.
func ApplyAnalysis(doc *domain.Document, a *domain.Analysis) {
	for i := range a.Clauses {
		a.Clauses[i].ReviewState = domain.ReviewUnreviewed
	}
	doc.Analysis = a
	doc.State = domain.StateAnalyzed
}

// RevisedText returns the document text with every accepted rewrite
// substituted for its clause span. Clauses dropped by the segmenter are
// skipped.
func RevisedText(doc *domain.Document) string {
	if doc.Analysis == nil {
		return doc.Text
	}
	var b strings.Builder
	for seg := range segment.Clauses(doc.Text, doc.Analysis.Clauses).All() {
		if seg.Annotated && seg.Value.ReviewState == domain.ReviewAccepted && seg.Value.RewriteSuggestion != "" {
			b.WriteString(seg.Value.RewriteSuggestion)
			continue
		}
		b.WriteString(seg.Text)
	}
	return b.String()
}
