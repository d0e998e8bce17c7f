// Package service is the application layer: it checks ownership, serializes
// mutations per document, runs analysis on a worker pool and fans results
// out to the audit log, metrics and live dashboard subscribers.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ericksa/policylens/internal/aggregate"
	"github.com/ericksa/policylens/internal/analyzer"
	"github.com/ericksa/policylens/internal/audit"
	"github.com/ericksa/policylens/internal/blob"
	"github.com/ericksa/policylens/internal/config"
	"github.com/ericksa/policylens/internal/domain"
	"github.com/ericksa/policylens/internal/logger"
	"github.com/ericksa/policylens/internal/metrics"
	"github.com/ericksa/policylens/internal/session"
	"github.com/ericksa/policylens/internal/store"
	"github.com/ericksa/policylens/internal/workflow"
)

var (
	// ErrInvalidArgument marks caller mistakes such as an unknown filter.
	ErrInvalidArgument = errors.New("invalid argument")
	ErrQueueFull       = errors.New("analysis queue is full")
	ErrClosed          = errors.New("service is closed")
)

// Repository is the document persistence the service needs.
type Repository interface {
	workflow.Store
	InsertDocument(ctx context.Context, doc *domain.Document) error
	FetchDocumentCollection(ctx context.Context, f store.Filter) ([]domain.Document, error)
	DeleteDocument(ctx context.Context, documentID string) error
	DocumentOwner(ctx context.Context, documentID string) (string, error)
	PreviousDocument(ctx context.Context, owner, excludeID string, before time.Time) (*domain.Document, error)
	CachedAnalysis(ctx context.Context, checksum string) (*domain.Analysis, bool, error)
	CacheAnalysis(ctx context.Context, checksum string, a *domain.Analysis) error
	ResetReanalyzing(ctx context.Context) (int64, error)
}

// BlobStore keeps original uploads.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (blob.Object, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Event types pushed to a Notifier.
const (
	EventUploaded       = "document.uploaded"
	EventAnalyzed       = "document.analyzed"
	EventAnalysisFailed = "analysis.failed"
	EventReviewed       = "clause.reviewed"
	EventDeleted        = "document.deleted"
)

// Event is a change notification carrying the owner's refreshed summary.
type Event struct {
	Type       string             `json:"type"`
	DocumentID string             `json:"document_id"`
	ClauseID   string             `json:"clause_id,omitempty"`
	Summary    *aggregate.Summary `json:"summary,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// Notifier receives events for one owner.
type Notifier interface {
	Notify(owner string, e Event)
}

type Options struct {
	Config   *config.Config
	Store    Repository
	Analyzer analyzer.Analyzer
	Blobs    BlobStore
	Auditor  *audit.Auditor
	Metrics  *metrics.Metrics
	Logger   *logger.Logger
	Notifier Notifier
	Now      func() time.Time
}

type job struct {
	documentID string
	owner      string
	actor      string
	force      bool
}

type Service struct {
	cfg      *config.Config
	store    Repository
	wf       *workflow.Workflow
	analyzer analyzer.Analyzer
	blobs    BlobStore
	auditor  *audit.Auditor
	metrics  *metrics.Metrics
	log      *logger.Logger
	notifier Notifier
	now      func() time.Time

	locks keyedMutex

	queue    chan job
	mu       sync.Mutex
	inflight map[string]bool
	closed   bool
	wg       sync.WaitGroup
}

func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("service requires a store")
	}
	if opts.Analyzer == nil {
		return nil, fmt.Errorf("service requires an analyzer")
	}
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	size := opts.Config.App.Analyzer.QueueSize
	if size <= 0 {
		size = 64
	}
	return &Service{
		cfg:      opts.Config,
		store:    opts.Store,
		wf:       workflow.New(opts.Store),
		analyzer: opts.Analyzer,
		blobs:    opts.Blobs,
		auditor:  opts.Auditor,
		metrics:  opts.Metrics,
		log:      opts.Logger.Component("service"),
		notifier: opts.Notifier,
		now:      opts.Now,
		locks:    keyedMutex{locks: make(map[string]*refLock)},
		queue:    make(chan job, size),
		inflight: make(map[string]bool),
	}, nil
}

// Start returns documents left reanalyzing by an earlier process to
// analyzed, then launches the analysis workers. They stop when ctx is
// cancelled or Close is called.
func (s *Service) Start(ctx context.Context) {
	if n, err := s.store.ResetReanalyzing(ctx); err != nil {
		s.log.Error().Err(err).Msg("failed to reset reanalyzing documents")
	} else if n > 0 {
		s.log.Warn().Int64("documents", n).Msg("reset documents left reanalyzing")
	}

	workers := s.cfg.App.Analyzer.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
	s.log.Info().Int("workers", workers).Int("queue", cap(s.queue)).Msg("analysis workers started")
}

// Close stops accepting analysis requests and waits for the workers. Jobs
// the workers did not reach, because their context was cancelled, are
// dropped and their documents reverted to analyzed.
func (s *Service) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for j := range s.queue {
		s.revert(ctx, j.documentID)
		s.mu.Lock()
		delete(s.inflight, j.documentID)
		s.mu.Unlock()
		s.log.Warn().Str("document_id", j.documentID).Msg("queued analysis dropped on shutdown")
	}
	s.metrics.AnalysisQueueDepth.Set(0)
}

// Metrics exposes the service's collectors.
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// owned fetches a document and hides it from anyone but its owner.
func (s *Service) owned(ctx context.Context, sess session.Session, id string) (*domain.Document, error) {
	doc, err := s.store.FetchDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Owner != sess.UserID {
		return nil, domain.DocumentNotFound(id)
	}
	return doc, nil
}

func (s *Service) checkOwner(ctx context.Context, sess session.Session, id string) error {
	owner, err := s.store.DocumentOwner(ctx, id)
	if err != nil {
		return err
	}
	if owner != sess.UserID {
		return domain.DocumentNotFound(id)
	}
	return nil
}

func (s *Service) audit(ctx context.Context, action, docID, clauseID, actor string, changed bool, err error) {
	e := audit.Entry{Action: action, DocumentID: docID, ClauseID: clauseID, Actor: actor, Changed: changed}
	if err != nil {
		e.Error = err.Error()
	}
	s.auditor.Log(ctx, e)
}

// notify pushes e with the owner's current summary.
func (s *Service) notify(ctx context.Context, owner string, e Event) {
	if s.notifier == nil {
		return
	}
	e.Timestamp = s.now()
	docs, err := s.store.FetchDocumentCollection(ctx, store.Filter{Owner: owner})
	if err == nil {
		var summary aggregate.Summary
		if summary, err = aggregate.Aggregate(docs); err == nil {
			e.Summary = &summary
		}
	}
	if err != nil {
		s.log.Warn().Err(err).Str("owner", owner).Msg("failed to refresh summary for notification")
	}
	s.notifier.Notify(owner, e)
}

type refLock struct {
	sync.Mutex
	refs int
}

// keyedMutex serializes work per document id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
