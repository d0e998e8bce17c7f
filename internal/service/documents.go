package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ericksa/policylens/internal/aggregate"
	"github.com/ericksa/policylens/internal/audit"
	"github.com/ericksa/policylens/internal/blob"
	"github.com/ericksa/policylens/internal/domain"
	"github.com/ericksa/policylens/internal/extract"
	"github.com/ericksa/policylens/internal/risk"
	"github.com/ericksa/policylens/internal/search"
	"github.com/ericksa/policylens/internal/segment"
	"github.com/ericksa/policylens/internal/session"
	"github.com/ericksa/policylens/internal/store"
	"github.com/ericksa/policylens/internal/workflow"
	"github.com/google/uuid"
)

// ErrUnauthenticated is returned for sessions without a user.
var ErrUnauthenticated = errors.New("unauthenticated")

// Document list filters.
const (
	FilterAll      = "all"
	FilterPending  = "pending"
	FilterAnalyzed = "analyzed"
	FilterHighRisk = "high-risk"
)

func user(sess session.Session) (string, error) {
	if sess.UserID == "" {
		return "", ErrUnauthenticated
	}
	return sess.UserID, nil
}

// Upload extracts the text of a file, keeps the original in blob storage
// when configured, and stores the document as pending. With auto_analyze on,
// an analysis pass is queued.
func (s *Service) Upload(ctx context.Context, sess session.Session, name string, data []byte, contentType string) (*domain.Document, error) {
	owner, err := user(sess)
	if err != nil {
		return nil, err
	}
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if !extract.Supported(name) {
		return nil, fmt.Errorf("%w: %s", extract.ErrUnsupported, name)
	}
	text, err := extract.Text(name, data)
	if err != nil {
		if errors.Is(err, extract.ErrUnsupported) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	doc := &domain.Document{
		ID:          uuid.NewString(),
		Owner:       owner,
		Name:        name,
		ContentType: contentType,
		Text:        text,
		UploadedAt:  s.now(),
		State:       domain.StatePending,
	}
	if doc.ContentType == "" {
		doc.ContentType = blob.ContentType(name)
	}
	if s.blobs != nil {
		key := blob.ObjectKey(owner, doc.ID, name)
		if _, err := s.blobs.Put(ctx, key, data, doc.ContentType); err != nil {
			return nil, fmt.Errorf("failed to store original upload: %w", err)
		}
		doc.BlobKey = key
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		if doc.BlobKey != "" {
			if derr := s.blobs.Delete(context.WithoutCancel(ctx), doc.BlobKey); derr != nil {
				s.log.Warn().Err(derr).Str("key", doc.BlobKey).Msg("failed to remove orphaned upload")
			}
		}
		return nil, err
	}

	s.log.Info().Str("document_id", doc.ID).Str("owner", owner).Str("name", name).Int("bytes", len(data)).Msg("document uploaded")
	s.audit(ctx, audit.ActionUpload, doc.ID, "", owner, true, nil)
	s.notify(ctx, owner, Event{Type: EventUploaded, DocumentID: doc.ID})

	if s.cfg.App.Analyzer.AutoAnalyze {
		if err := s.enqueue(ctx, job{documentID: doc.ID, owner: owner, actor: owner}); err != nil {
			s.log.Warn().Err(err).Str("document_id", doc.ID).Msg("failed to queue analysis")
		}
	}
	return doc, nil
}

// Documents lists the caller's documents, newest first.
func (s *Service) Documents(ctx context.Context, sess session.Session, filter string) ([]aggregate.DocumentCard, error) {
	owner, err := user(sess)
	if err != nil {
		return nil, err
	}
	f := store.Filter{Owner: owner}
	switch filter {
	case "", FilterAll:
	case FilterPending:
		f.States = []domain.DocumentState{domain.StatePending, domain.StateReanalyzing}
	case FilterAnalyzed, FilterHighRisk:
		f.States = []domain.DocumentState{domain.StateAnalyzed}
	default:
		return nil, fmt.Errorf("%w: unknown filter %q", ErrInvalidArgument, filter)
	}
	docs, err := s.store.FetchDocumentCollection(ctx, f)
	if err != nil {
		return nil, err
	}
	cards := make([]aggregate.DocumentCard, 0, len(docs))
	for i := range docs {
		if filter == FilterHighRisk && risk.OfDocument(&docs[i]) != domain.RiskHigh {
			continue
		}
		cards = append(cards, aggregate.Card(&docs[i]))
	}
	return cards, nil
}

func (s *Service) Document(ctx context.Context, sess session.Session, id string) (*domain.Document, error) {
	return s.owned(ctx, sess, id)
}

// SegmentView is one piece of the annotated text.
type SegmentView struct {
	Text        string             `json:"text"`
	Start       int                `json:"start"`
	End         int                `json:"end"`
	ClauseID    string             `json:"clause_id,omitempty"`
	RiskLevel   domain.RiskLevel   `json:"risk_level,omitempty"`
	ReviewState domain.ReviewState `json:"review_state,omitempty"`
}

// AnnotatedView is a document rendered with its clause annotations.
type AnnotatedView struct {
	Document         aggregate.DocumentCard `json:"document"`
	OverallRiskScore float64                `json:"overall_risk_score"`
	RiskLevel        domain.RiskLevel       `json:"risk_level,omitempty"`
	Tags             []string               `json:"tags"`
	DiffSummary      string                 `json:"diff_summary,omitempty"`
	Clauses          []domain.Clause        `json:"clauses"`
	Segments         []SegmentView          `json:"segments"`
	Diagnostics      []domain.Diagnostic    `json:"diagnostics,omitempty"`
}

// Annotated renders the document text as plain and clause segments. Clauses
// that cannot be rendered stay in Clauses and are reported as diagnostics.
func (s *Service) Annotated(ctx context.Context, sess session.Session, id string) (*AnnotatedView, error) {
	doc, err := s.owned(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	v := &AnnotatedView{
		Document: aggregate.Card(doc),
		Tags:     []string{},
		Clauses:  []domain.Clause{},
		Segments: []SegmentView{},
	}
	var clauses []domain.Clause
	if doc.Analysis != nil {
		clauses = doc.Analysis.Clauses
		v.Clauses = clauses
		v.OverallRiskScore = doc.Analysis.OverallRiskScore
		v.RiskLevel = risk.OfAnalysis(doc.Analysis)
		v.DiffSummary = doc.Analysis.DiffSummary
		if doc.Analysis.Tags != nil {
			v.Tags = doc.Analysis.Tags
		}
	}

	res := segment.Clauses(doc.Text, clauses)
	for seg := range res.All() {
		sv := SegmentView{Text: seg.Text, Start: seg.Start, End: seg.End}
		if seg.Annotated {
			sv.ClauseID = seg.Value.ID
			sv.RiskLevel = seg.Value.RiskLevel
			sv.ReviewState = seg.Value.ReviewState
		}
		v.Segments = append(v.Segments, sv)
	}
	v.Diagnostics = res.Diagnostics
	s.metrics.RecordDiagnostics(res.Diagnostics)
	return v, nil
}

// RevisedText returns the download name and the text with accepted rewrites
// applied.
func (s *Service) RevisedText(ctx context.Context, sess session.Session, id string) (string, string, error) {
	doc, err := s.owned(ctx, sess, id)
	if err != nil {
		return "", "", err
	}
	base := strings.TrimSuffix(doc.Name, filepath.Ext(doc.Name))
	return base + "_updated.txt", workflow.RevisedText(doc), nil
}

// Original returns the uploaded file as stored in blob storage.
func (s *Service) Original(ctx context.Context, sess session.Session, id string) (*domain.Document, []byte, error) {
	doc, err := s.owned(ctx, sess, id)
	if err != nil {
		return nil, nil, err
	}
	if s.blobs == nil || doc.BlobKey == "" {
		return nil, nil, &domain.NotFoundError{Kind: "original upload", ID: id}
	}
	data, err := s.blobs.Get(ctx, doc.BlobKey)
	if err != nil {
		return nil, nil, err
	}
	return doc, data, nil
}

// Delete removes the document, its review states and its original upload.
func (s *Service) Delete(ctx context.Context, sess session.Session, id string) error {
	doc, err := s.owned(ctx, sess, id)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(id)
	err = s.store.DeleteDocument(ctx, id)
	unlock()
	s.audit(ctx, audit.ActionDelete, id, "", sess.UserID, err == nil, err)
	if err != nil {
		return err
	}
	if s.blobs != nil && doc.BlobKey != "" {
		if err := s.blobs.Delete(ctx, doc.BlobKey); err != nil {
			s.log.Warn().Err(err).Str("document_id", id).Str("key", doc.BlobKey).Msg("failed to delete original upload")
		}
	}
	s.notify(ctx, doc.Owner, Event{Type: EventDeleted, DocumentID: id})
	return nil
}

// Dashboard aggregates the caller's documents.
func (s *Service) Dashboard(ctx context.Context, sess session.Session) (aggregate.Dashboard, error) {
	docs, err := s.collection(ctx, sess)
	if err != nil {
		return aggregate.Dashboard{}, err
	}
	d, err := aggregate.BuildDashboard(docs, s.now(), s.cfg.App.Dashboard.RecentDocuments)
	if err != nil {
		return aggregate.Dashboard{}, err
	}
	s.metrics.RecordAggregation(len(docs))
	s.metrics.RecordDiagnostics(d.Diagnostics)
	return d, nil
}

// Summary is the aggregate over the caller's documents.
func (s *Service) Summary(ctx context.Context, sess session.Session) (aggregate.Summary, error) {
	docs, err := s.collection(ctx, sess)
	if err != nil {
		return aggregate.Summary{}, err
	}
	summary, err := aggregate.Aggregate(docs)
	if err != nil {
		return aggregate.Summary{}, err
	}
	s.metrics.RecordAggregation(len(docs))
	s.metrics.RecordDiagnostics(summary.Diagnostics)
	return summary, nil
}

func (s *Service) collection(ctx context.Context, sess session.Session) ([]domain.Document, error) {
	owner, err := user(sess)
	if err != nil {
		return nil, err
	}
	return s.store.FetchDocumentCollection(ctx, store.Filter{Owner: owner})
}

// Search ranks the caller's documents against query.
func (s *Service) Search(ctx context.Context, sess session.Session, query string) ([]search.Result, error) {
	owner, err := user(sess)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidArgument)
	}
	docs, err := s.store.FetchDocumentCollection(ctx, store.Filter{Owner: owner, Query: query})
	if err != nil {
		return nil, err
	}
	results := search.Rank(docs, query, search.Options{
		Limit:        s.cfg.App.Search.Limit,
		SnippetRunes: s.cfg.App.Search.SnippetRunes,
	})
	for _, r := range results {
		s.metrics.RecordDiagnostics(r.Diagnostics)
	}
	return results, nil
}

// History is the audit trail of a document, newest first.
func (s *Service) History(ctx context.Context, sess session.Session, id string, limit int) ([]audit.Entry, error) {
	if err := s.checkOwner(ctx, sess, id); err != nil {
		return nil, err
	}
	return s.auditor.Entries(ctx, id, limit)
}
