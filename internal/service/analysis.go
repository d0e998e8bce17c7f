package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ericksa/policylens/internal/analysis"
	"github.com/ericksa/policylens/internal/audit"
	"github.com/ericksa/policylens/internal/domain"
	"github.com/ericksa/policylens/internal/session"
)

// AnalysisResult is the outcome of one synchronous analysis pass.
type AnalysisResult struct {
	Document    *domain.Document    `json:"document"`
	Cached      bool                `json:"cached"`
	Diagnostics []domain.Diagnostic `json:"diagnostics,omitempty"`
}

// RequestAnalysis queues an analysis pass and returns immediately. An
// analyzed document is marked reanalyzing until the pass finishes. A request
// for a document that is already queued is a no-op.
func (s *Service) RequestAnalysis(ctx context.Context, sess session.Session, id string, force bool) error {
	if err := s.checkOwner(ctx, sess, id); err != nil {
		return err
	}
	return s.enqueue(ctx, job{documentID: id, owner: sess.UserID, actor: sess.UserID, force: force})
}

func (s *Service) enqueue(ctx context.Context, j job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.inflight[j.documentID] {
		return nil
	}

	unlock := s.locks.Lock(j.documentID)
	_, marked, err := s.wf.MarkReanalyzing(ctx, j.documentID)
	unlock()
	if err != nil {
		return err
	}

	select {
	case s.queue <- j:
		s.inflight[j.documentID] = true
		s.metrics.AnalysisQueueDepth.Set(float64(len(s.queue)))
		return nil
	default:
		if marked {
			s.revert(context.WithoutCancel(ctx), j.documentID)
		}
		return ErrQueueFull
	}
}

func (s *Service) worker(ctx context.Context, n int) {
	defer s.wg.Done()
	log := s.log.With("worker", fmt.Sprint(n))
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-s.queue:
			if !ok {
				return
			}
			s.metrics.AnalysisQueueDepth.Set(float64(len(s.queue)))
			if _, err := s.analyze(ctx, j); err != nil {
				log.Debug().Err(err).Str("document_id", j.documentID).Msg("queued analysis failed")
			}
			s.mu.Lock()
			delete(s.inflight, j.documentID)
			s.mu.Unlock()
		}
	}
}

// Analyze runs an analysis pass synchronously. Unless force is set, a cached
// analysis of identical text is reused.
func (s *Service) Analyze(ctx context.Context, sess session.Session, id string, force bool) (*AnalysisResult, error) {
	if err := s.checkOwner(ctx, sess, id); err != nil {
		return nil, err
	}
	return s.analyze(ctx, job{documentID: id, owner: sess.UserID, actor: sess.UserID, force: force})
}

func (s *Service) analyze(ctx context.Context, j job) (*AnalysisResult, error) {
	start := time.Now()
	res, err := s.runAnalysis(ctx, j)
	dur := time.Since(start)
	action := audit.ActionAnalyze
	if j.force {
		action = audit.ActionReanalyze
	}

	switch {
	case err != nil:
		// The pass may have failed because ctx was cancelled; cleanup still
		// has to reach the store.
		bg := context.WithoutCancel(ctx)
		s.metrics.RecordAnalysis("failed", dur)
		s.log.LogAnalysis(j.documentID, false, 0, dur, err)
		s.revert(bg, j.documentID)
		s.audit(bg, action, j.documentID, "", j.actor, false, err)
		s.notify(bg, j.owner, Event{Type: EventAnalysisFailed, DocumentID: j.documentID})
		return nil, err
	case res.Cached:
		s.metrics.RecordAnalysis("cached", dur)
	default:
		s.metrics.RecordAnalysis("success", dur)
	}
	s.metrics.RecordDiagnostics(res.Diagnostics)
	s.log.LogAnalysis(j.documentID, res.Cached, len(res.Document.Analysis.Clauses), dur, nil)
	s.audit(ctx, action, j.documentID, "", j.actor, true, nil)
	s.notify(ctx, j.owner, Event{Type: EventAnalyzed, DocumentID: j.documentID})
	return res, nil
}

// runAnalysis calls the analyzer without holding the document lock; the
// result replaces the analysis under the lock, resetting review states.
func (s *Service) runAnalysis(ctx context.Context, j job) (*AnalysisResult, error) {
	doc, err := s.store.FetchDocument(ctx, j.documentID)
	if err != nil {
		return nil, err
	}
	if doc.Text == "" {
		return nil, &domain.InconsistentStateError{DocumentID: doc.ID, Reason: "document has no extracted text"}
	}

	checksum := analysis.Checksum(doc.Text)
	res := &AnalysisResult{}
	var a *domain.Analysis
	if !j.force {
		cached, ok, err := s.store.CachedAnalysis(ctx, checksum)
		if err != nil {
			s.log.Warn().Err(err).Str("document_id", doc.ID).Msg("analysis cache lookup failed")
		} else if ok {
			a, res.Cached = cached, true
		}
	}

	if a == nil {
		raw, err := s.analyzer.Analyze(ctx, doc.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to analyze document: %w", err)
		}
		dec := analysis.Decoder{Reinforce: s.cfg.App.Analyzer.Heuristics}
		a, res.Diagnostics, err = dec.Decode(raw, doc.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to decode analysis: %w", err)
		}
		a.Checksum = checksum
		a.AnalyzedAt = s.now()
		a.DiffSummary = ""
		if err := s.store.CacheAnalysis(ctx, checksum, a); err != nil {
			s.log.Warn().Err(err).Str("document_id", doc.ID).Msg("failed to cache analysis")
		}
	}

	prev, err := s.store.PreviousDocument(ctx, doc.Owner, doc.ID, doc.UploadedAt)
	if err != nil {
		s.log.Warn().Err(err).Str("document_id", doc.ID).Msg("failed to load previous document")
	} else if prev != nil && prev.Text != "" {
		if a.DiffSummary, err = analysis.Diff(prev.Text, doc.Text); err != nil {
			s.log.Warn().Err(err).Str("document_id", doc.ID).Msg("failed to diff against previous document")
		}
	}

	unlock := s.locks.Lock(j.documentID)
	defer unlock()
	res.Document, err = s.wf.CompleteAnalysis(ctx, j.documentID, a)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) revert(ctx context.Context, id string) {
	unlock := s.locks.Lock(id)
	defer unlock()
	if _, _, err := s.wf.RevertReanalyzing(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.log.Error().Err(err).Str("document_id", id).Msg("failed to revert reanalyzing state")
	}
}

// FetchAnalysis returns the current analysis and the document state. The
// analysis is nil until the first pass completes.
func (s *Service) FetchAnalysis(ctx context.Context, sess session.Session, id string) (*domain.Analysis, domain.DocumentState, error) {
	doc, err := s.owned(ctx, sess, id)
	if err != nil {
		return nil, "", err
	}
	return doc.Analysis, doc.State, nil
}
