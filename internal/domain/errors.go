package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInconsistentState = errors.New("inconsistent state")
)

// NotFoundError reports an unknown document or clause id.
type NotFoundError struct {
	Kind string // "document" or "clause"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// DocumentNotFound builds a NotFoundError for a document id.
func DocumentNotFound(id string) error {
	return &NotFoundError{Kind: "document", ID: id}
}

// ClauseNotFound builds a NotFoundError for a clause id.
func ClauseNotFound(id string) error {
	return &NotFoundError{Kind: "clause", ID: id}
}

// InconsistentStateError reports an operation that is invalid for the
// current document or clause state.
type InconsistentStateError struct {
	DocumentID string
	ClauseID   string
	Reason     string
}

func (e *InconsistentStateError) Error() string {
	if e.ClauseID != "" {
		return fmt.Sprintf("document %q clause %q: %s", e.DocumentID, e.ClauseID, e.Reason)
	}
	return fmt.Sprintf("document %q: %s", e.DocumentID, e.Reason)
}

func (e *InconsistentStateError) Is(target error) bool {
	return target == ErrInconsistentState
}

// DiagnosticKind names a recovered input problem.
type DiagnosticKind string

const (
	DiagOffsetClamped    DiagnosticKind = "offset_clamped"
	DiagOverlapClipped   DiagnosticKind = "overlap_clipped"
	DiagSpanDropped      DiagnosticKind = "span_dropped"
	DiagScoreOutOfRange  DiagnosticKind = "score_out_of_range"
	DiagUnknownRiskLabel DiagnosticKind = "unknown_risk_label"
	DiagClauseUnlocated  DiagnosticKind = "clause_unlocated"
	DiagDuplicateClause  DiagnosticKind = "duplicate_clause_id"
)

// Diagnostic is a validation problem that was normalized locally instead of
// failing the caller. Ref identifies the offending clause, span or document.
type Diagnostic struct {
	Kind   DiagnosticKind `json:"kind"`
	Ref    string         `json:"ref,omitempty"`
	Detail string         `json:"detail"`
}

// ValidationError is the error taxonomy name for a Diagnostic.
type ValidationError = Diagnostic

func (d Diagnostic) Error() string {
	if d.Ref != "" {
		return fmt.Sprintf("%s (%s): %s", d.Kind, d.Ref, d.Detail)
	}
	return fmt.Sprintf("%s: %s", d.Kind, d.Detail)
}
