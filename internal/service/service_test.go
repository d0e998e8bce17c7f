package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ericksa/policylens/internal/analyzer"
	"github.com/ericksa/policylens/internal/audit"
	"github.com/ericksa/policylens/internal/blob"
	"github.com/ericksa/policylens/internal/config"
	"github.com/ericksa/policylens/internal/domain"
	"github.com/ericksa/policylens/internal/extract"
	"github.com/ericksa/policylens/internal/session"
	"github.com/ericksa/policylens/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	lowRisk  = "1. The employee shall not compete for two years.\n2. Fees are payable monthly.\n3. Late payment incurs a penalty."
	highRisk = "1. Late payment incurs a penalty.\n2. Either party may terminate at will."
)

var (
	alice = session.Session{Token: "tok-a", UserID: "alice"}
	bob   = session.Session{Token: "tok-b", UserID: "bob"}
	now   = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
)

type fakeAnalyzer struct {
	mu      sync.Mutex
	calls   int
	err     error
	payload json.RawMessage
	block   chan struct{}
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, text string) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls++
	err, payload, block := f.err, f.payload, f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if payload != nil {
		return payload, nil
	}
	return analyzer.Heuristic{}.Analyze(ctx, text)
}

func (f *fakeAnalyzer) setPayload(raw string) {
	f.mu.Lock()
	f.payload = json.RawMessage(raw)
	f.mu.Unlock()
}

func (f *fakeAnalyzer) setBlock(ch chan struct{}) {
	f.mu.Lock()
	f.block = ch
	f.mu.Unlock()
}

func (f *fakeAnalyzer) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeAnalyzer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memBlobs struct {
	mu   sync.Mutex
	objs map[string][]byte
}

func (m *memBlobs) Put(_ context.Context, key string, data []byte, contentType string) (blob.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objs[key] = data
	return blob.Object{Key: key, Size: int64(len(data)), ContentType: contentType}, nil
}

func (m *memBlobs) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objs[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func (m *memBlobs) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objs, key)
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(owner string, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	svc    *Service
	store  *store.Store
	an     *fakeAnalyzer
	blobs  *memBlobs
	events *recorder
}

func newHarness(t *testing.T, tweak func(*config.Config)) *harness {
	t.Helper()
	ctx := context.Background()
	cfg := config.Default()
	cfg.App.Analyzer.AutoAnalyze = false
	cfg.App.Analyzer.Workers = 2
	if tweak != nil {
		tweak(cfg)
	}

	st, err := store.Open(ctx, store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	aud, err := audit.NewAuditor(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { aud.Close() })

	h := &harness{
		store:  st,
		an:     &fakeAnalyzer{},
		blobs:  &memBlobs{objs: map[string][]byte{}},
		events: &recorder{},
	}
	h.svc, err = New(Options{
		Config:   cfg,
		Store:    st,
		Analyzer: h.an,
		Blobs:    h.blobs,
		Auditor:  aud,
		Notifier: h.events,
		Now:      func() time.Time { return now },
	})
	require.NoError(t, err)
	return h
}

func (h *harness) upload(t *testing.T, sess session.Session, name, text string) *domain.Document {
	t.Helper()
	doc, err := h.svc.Upload(context.Background(), sess, name, []byte(text), "")
	require.NoError(t, err)
	return doc
}

func (h *harness) analyzed(t *testing.T, sess session.Session, name, text string) *domain.Document {
	t.Helper()
	doc := h.upload(t, sess, name, text)
	res, err := h.svc.Analyze(context.Background(), sess, doc.ID, false)
	require.NoError(t, err)
	return res.Document
}

func TestUploadAndAnalyze(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	doc := h.upload(t, alice, "terms.txt", lowRisk)
	assert.Equal(t, domain.StatePending, doc.State)
	assert.NotEmpty(t, doc.ContentType)
	assert.Equal(t, "alice/"+doc.ID+"/terms.txt", doc.BlobKey)
	assert.Contains(t, h.blobs.objs, doc.BlobKey)

	res, err := h.svc.Analyze(ctx, alice, doc.ID, false)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	got := res.Document
	assert.Equal(t, domain.StateAnalyzed, got.State)
	require.Len(t, got.Analysis.Clauses, 3)
	assert.Equal(t, domain.RiskHigh, got.Analysis.Clauses[2].RiskLevel)
	assert.Equal(t, []string{"Finance", "Employment"}, got.Analysis.Tags)
	assert.NotEmpty(t, got.Analysis.Checksum)
	assert.Equal(t, now, got.Analysis.AnalyzedAt)

	// Identical text reuses the cached analysis; force bypasses it.
	second := h.upload(t, alice, "terms-v2.txt", lowRisk)
	res, err = h.svc.Analyze(ctx, alice, second.ID, false)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, 1, h.an.count())

	_, err = h.svc.Analyze(ctx, alice, second.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 2, h.an.count())

	assert.Equal(t, []string{EventUploaded, EventAnalyzed, EventUploaded, EventAnalyzed, EventAnalyzed}, h.events.types())
}

func TestAnalyze_DiffAgainstPreviousUpload(t *testing.T) {
	h := newHarness(t, nil)
	h.analyzed(t, alice, "v1.txt", lowRisk)

	h.svc.now = func() time.Time { return now.Add(time.Hour) }
	doc := h.analyzed(t, alice, "v2.txt", strings.Replace(lowRisk, "monthly", "weekly", 1))
	assert.Contains(t, doc.Analysis.DiffSummary, "-2. Fees are payable monthly.")
	assert.Contains(t, doc.Analysis.DiffSummary, "+2. Fees are payable weekly.")
}

func TestUploadErrors(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.svc.Upload(ctx, alice, "scan.png", []byte("x"), "")
	assert.ErrorIs(t, err, extract.ErrUnsupported)

	_, err = h.svc.Upload(ctx, alice, "empty.txt", []byte("   "), "")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = h.svc.Upload(ctx, session.Session{}, "a.txt", []byte("text"), "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestUpload_InsertFailureRemovesBlob(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.store.Close())

	_, err := h.svc.Upload(context.Background(), alice, "terms.txt", []byte(lowRisk), "")
	require.Error(t, err)
	assert.Empty(t, h.blobs.objs)
}

func TestOwnershipIsEnforced(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	doc := h.analyzed(t, alice, "terms.txt", lowRisk)

	_, err := h.svc.Document(ctx, bob, doc.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.svc.AcceptRewrite(ctx, bob, doc.ID, "3")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.svc.Analyze(ctx, bob, doc.ID, false)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, h.svc.Delete(ctx, bob, doc.ID), domain.ErrNotFound)

	cards, err := h.svc.Documents(ctx, bob, FilterAll)
	require.NoError(t, err)
	assert.Empty(t, cards)
}

func TestReviewFlow(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	doc := h.analyzed(t, alice, "terms.txt", lowRisk)

	res, err := h.svc.AcceptRewrite(ctx, alice, doc.ID, "3")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, domain.ReviewAccepted, res.Clause.ReviewState)

	res, err = h.svc.AcceptRewrite(ctx, alice, doc.ID, "3")
	require.NoError(t, err)
	assert.False(t, res.Changed)

	_, err = h.svc.RejectRewrite(ctx, alice, doc.ID, "3")
	assert.ErrorIs(t, err, domain.ErrInconsistentState)

	// Low clauses carry no rewrite and cannot be accepted.
	_, err = h.svc.AcceptRewrite(ctx, alice, doc.ID, "2")
	assert.ErrorIs(t, err, domain.ErrInconsistentState)

	res, err = h.svc.RejectRewrite(ctx, alice, doc.ID, "2")
	require.NoError(t, err)
	assert.True(t, res.Changed)

	_, err = h.svc.AcceptRewrite(ctx, alice, doc.ID, "99")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	name, text, err := h.svc.RevisedText(ctx, alice, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "terms_updated.txt", name)
	assert.Contains(t, text, "liquidated damages")
	assert.NotContains(t, text, "Late payment incurs a penalty.")
	assert.Contains(t, text, "Fees are payable monthly.")

	history, err := h.svc.History(ctx, alice, doc.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 8)
	assert.Equal(t, audit.ActionAccept, history[0].Action)
	assert.Equal(t, "99", history[0].ClauseID)
	assert.NotEmpty(t, history[0].Error)
	assert.Equal(t, audit.ActionUpload, history[len(history)-1].Action)

	// Re-analysis resets every review state.
	again, err := h.svc.Analyze(ctx, alice, doc.ID, true)
	require.NoError(t, err)
	for _, c := range again.Document.Analysis.Clauses {
		assert.Equal(t, domain.ReviewUnreviewed, c.ReviewState)
	}
	history, err = h.svc.History(ctx, alice, doc.ID, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, audit.ActionReanalyze, history[0].Action)
}

func TestAnnotated(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	pending := h.upload(t, alice, "pending.txt", "Plain text only.")
	v, err := h.svc.Annotated(ctx, alice, pending.ID)
	require.NoError(t, err)
	require.Len(t, v.Segments, 1)
	assert.Equal(t, "Plain text only.", v.Segments[0].Text)
	assert.Empty(t, v.Segments[0].ClauseID)

	doc := h.analyzed(t, alice, "terms.txt", lowRisk)
	v, err = h.svc.Annotated(ctx, alice, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RiskLow, v.RiskLevel)
	assert.Len(t, v.Clauses, 3)

	var rebuilt strings.Builder
	annotated := 0
	for _, s := range v.Segments {
		rebuilt.WriteString(s.Text)
		if s.ClauseID != "" {
			annotated++
		}
	}
	assert.Equal(t, lowRisk, rebuilt.String())
	assert.Equal(t, 3, annotated)
	assert.Empty(t, v.Diagnostics)
}

func TestDocumentsFilters(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.upload(t, alice, "pending.txt", "Nothing analyzed yet.")
	h.analyzed(t, alice, "low.txt", lowRisk)
	high := h.analyzed(t, alice, "high.txt", highRisk)

	count := func(filter string) int {
		cards, err := h.svc.Documents(ctx, alice, filter)
		require.NoError(t, err)
		return len(cards)
	}
	assert.Equal(t, 3, count(FilterAll))
	assert.Equal(t, 3, count(""))
	assert.Equal(t, 1, count(FilterPending))
	assert.Equal(t, 2, count(FilterAnalyzed))

	cards, err := h.svc.Documents(ctx, alice, FilterHighRisk)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, high.ID, cards[0].ID)

	_, err = h.svc.Documents(ctx, alice, "archived")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDashboardAndSummary(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.upload(t, alice, "pending.txt", "Nothing analyzed yet.")
	h.analyzed(t, alice, "low.txt", lowRisk)
	h.analyzed(t, alice, "high.txt", highRisk)
	h.analyzed(t, bob, "bob.txt", highRisk)

	summary, err := h.svc.Summary(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalDocuments)
	assert.Equal(t, 2, summary.AnalyzedDocuments)
	assert.Equal(t, 1, summary.PendingAnalysis)
	assert.Equal(t, 1, summary.RiskDistribution.High)
	assert.Equal(t, 1, summary.RiskDistribution.Low)

	dash, err := h.svc.Dashboard(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, dash.RecentDocuments, 3)
	assert.Equal(t, 3, dash.Trends.DocumentsLast30Days)
	require.Len(t, dash.QuickActions, 2)
	assert.Equal(t, "analyze_pending", dash.QuickActions[0].Action)
}

func TestSearch(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.analyzed(t, alice, "low.txt", lowRisk)
	h.analyzed(t, alice, "high.txt", highRisk)
	h.analyzed(t, bob, "bob.txt", highRisk)

	results, err := h.svc.Search(ctx, alice, "terminate")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "high.txt", results[0].Document.Name)
	assert.Equal(t, domain.RiskHigh, results[0].Document.RiskLevel)

	results, err = h.svc.Search(ctx, alice, "PENALTY")
	require.NoError(t, err)
	assert.Len(t, results, 2)

	_, err = h.svc.Search(ctx, alice, " ")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDelete(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	doc := h.upload(t, alice, "terms.txt", lowRisk)

	_, data, err := h.svc.Original(ctx, alice, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, lowRisk, string(data))

	require.NoError(t, h.svc.Delete(ctx, alice, doc.ID))
	assert.Empty(t, h.blobs.objs)
	_, err = h.svc.Document(ctx, alice, doc.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRequestAnalysis_Async(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.App.Analyzer.AutoAnalyze = true })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.svc.Start(ctx)
	defer h.svc.Close()

	doc := h.upload(t, alice, "terms.txt", lowRisk)
	require.Eventually(t, func() bool {
		got, err := h.svc.Document(ctx, alice, doc.ID)
		return err == nil && got.State == domain.StateAnalyzed
	}, 2*time.Second, 10*time.Millisecond)

	a, state, err := h.svc.FetchAnalysis(ctx, alice, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAnalyzed, state)
	assert.Len(t, a.Clauses, 3)
}

func TestRequestAnalysis_FailureRevertsState(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	doc := h.analyzed(t, alice, "terms.txt", lowRisk)

	h.an.setErr(errors.New("analyzer unavailable"))
	h.svc.Start(ctx)
	defer h.svc.Close()

	require.NoError(t, h.svc.RequestAnalysis(ctx, alice, doc.ID, true))
	require.Eventually(t, func() bool {
		types := h.events.types()
		return types[len(types)-1] == EventAnalysisFailed
	}, 2*time.Second, 10*time.Millisecond)

	got, err := h.svc.Document(ctx, alice, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAnalyzed, got.State)
	assert.Len(t, got.Analysis.Clauses, 3)
}

func TestRequestAnalysis_QueueFull(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.App.Analyzer.QueueSize = 1 })
	ctx := context.Background()
	first := h.analyzed(t, alice, "a.txt", lowRisk)
	second := h.analyzed(t, alice, "b.txt", highRisk)

	require.NoError(t, h.svc.RequestAnalysis(ctx, alice, first.ID, false))
	// Already queued: no-op.
	require.NoError(t, h.svc.RequestAnalysis(ctx, alice, first.ID, false))

	err := h.svc.RequestAnalysis(ctx, alice, second.ID, false)
	assert.ErrorIs(t, err, ErrQueueFull)

	got, err := h.svc.Document(ctx, alice, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAnalyzed, got.State)

	got, err = h.svc.Document(ctx, alice, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateReanalyzing, got.State)

	// No workers ever ran: Close drops the queued job and reverts it.
	h.svc.Close()
	got, err = h.svc.Document(ctx, alice, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAnalyzed, got.State)
	assert.ErrorIs(t, h.svc.RequestAnalysis(ctx, alice, first.ID, false), ErrClosed)
}

func TestShutdown_CancelThenCloseRevertsReanalyzing(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.App.Analyzer.Workers = 1 })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	running := h.analyzed(t, alice, "a.txt", lowRisk)
	queued := h.analyzed(t, alice, "b.txt", highRisk)
	calls := h.an.count()

	h.an.setBlock(make(chan struct{}))
	h.svc.Start(ctx)
	require.NoError(t, h.svc.RequestAnalysis(ctx, alice, running.ID, true))
	require.Eventually(t, func() bool { return h.an.count() == calls+1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, h.svc.RequestAnalysis(ctx, alice, queued.ID, true))

	cancel()
	h.svc.Close()

	for _, id := range []string{running.ID, queued.ID} {
		got, err := h.store.FetchDocument(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, domain.StateAnalyzed, got.State, id)
		assert.NotNil(t, got.Analysis, id)
	}
}

func TestStart_ResetsDocumentsLeftReanalyzing(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	doc := h.analyzed(t, alice, "terms.txt", lowRisk)
	require.NoError(t, h.store.PersistDocumentState(ctx, doc.ID, domain.StateReanalyzing))

	h.svc.Start(ctx)
	defer h.svc.Close()

	got, err := h.svc.Document(ctx, alice, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAnalyzed, got.State)

	// Reviews work again without another analysis pass.
	_, err = h.svc.AcceptRewrite(ctx, alice, doc.ID, "3")
	assert.NoError(t, err)
}

func TestAnalyze_NaNScoreIsStored(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	doc := h.upload(t, alice, "terms.txt", lowRisk)

	h.an.setPayload(`{"overall_risk_score": "NaN", "clauses": [{"text": "Fees are payable monthly.", "risk": "Low"}]}`)
	res, err := h.svc.Analyze(ctx, alice, doc.ID, false)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAnalyzed, res.Document.State)
	assert.Equal(t, 55.0, res.Document.Analysis.OverallRiskScore)
	require.NotEmpty(t, res.Diagnostics)
	assert.Equal(t, domain.DiagScoreOutOfRange, res.Diagnostics[0].Kind)

	sum, err := h.svc.Summary(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.RiskDistribution.Medium)
	assert.Equal(t, 55, sum.AverageRiskScore)
}

func TestKeyedMutex(t *testing.T) {
	k := keyedMutex{locks: map[string]*refLock{}}
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("doc")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Empty(t, k.locks)
}
