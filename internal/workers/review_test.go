package workers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ericksa/policylens/internal/aggregate"
	"github.com/ericksa/policylens/internal/analyzer"
	"github.com/ericksa/policylens/internal/config"
	"github.com/ericksa/policylens/internal/domain"
	"github.com/ericksa/policylens/internal/service"
	"github.com/ericksa/policylens/internal/session"
	"github.com/ericksa/policylens/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const terms = "1. Fees are payable monthly.\n2. Late payment incurs a penalty."

func newReviewWorker(t *testing.T) (*ReviewWorker, *service.Service) {
	t.Helper()
	cfg := config.Default()
	cfg.App.Analyzer.AutoAnalyze = false
	st, err := store.Open(context.Background(), store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	svc, err := service.New(service.Options{Config: cfg, Store: st, Analyzer: analyzer.Heuristic{}})
	require.NoError(t, err)
	return NewReviewWorker(svc, "alice"), svc
}

func TestReviewWorker_Tools(t *testing.T) {
	w, _ := newReviewWorker(t)
	tools := w.GetTools()
	require.Len(t, tools, 7)
	for _, tool := range tools {
		require.NotNil(t, tool.InputSchema, tool.Name)
		assert.Equal(t, "object", tool.InputSchema.Type, tool.Name)
	}
}

func TestReviewWorker_Flow(t *testing.T) {
	w, svc := newReviewWorker(t)
	ctx := context.Background()
	doc, err := svc.Upload(ctx, session.Session{UserID: "alice"}, "terms.txt", []byte(terms), "")
	require.NoError(t, err)

	out, err := w.Execute(ctx, "document_analyze", []byte(`{"document_id":"`+doc.ID+`"}`))
	require.NoError(t, err)
	var res service.AnalysisResult
	require.NoError(t, json.Unmarshal(out, &res))
	assert.Equal(t, domain.StateAnalyzed, res.Document.State)

	out, err = w.Execute(ctx, "clause_accept", []byte(`{"document_id":"`+doc.ID+`","clause_id":"2"}`))
	require.NoError(t, err)
	var review service.ReviewResult
	require.NoError(t, json.Unmarshal(out, &review))
	assert.True(t, review.Changed)
	assert.Equal(t, domain.ReviewAccepted, review.Clause.ReviewState)

	_, err = w.Execute(ctx, "clause_reject", []byte(`{"document_id":"`+doc.ID+`","clause_id":"2"}`))
	assert.ErrorIs(t, err, domain.ErrInconsistentState)

	out, err = w.Execute(ctx, "dashboard_summary", nil)
	require.NoError(t, err)
	var sum aggregate.Summary
	require.NoError(t, json.Unmarshal(out, &sum))
	assert.Equal(t, 1, sum.AnalyzedDocuments)

	out, err = w.Execute(ctx, "document_list", []byte(`{"filter":"analyzed"}`))
	require.NoError(t, err)
	assert.Contains(t, string(out), doc.ID)

	out, err = w.Execute(ctx, "document_search", []byte(`{"query":"penalty"}`))
	require.NoError(t, err)
	assert.Contains(t, string(out), doc.ID)

	out, err = w.Execute(ctx, "document_annotated", []byte(`{"document_id":"`+doc.ID+`"}`))
	require.NoError(t, err)
	var v service.AnnotatedView
	require.NoError(t, json.Unmarshal(out, &v))
	assert.Len(t, v.Clauses, 2)
}

func TestReviewWorker_SessionFromContext(t *testing.T) {
	w, svc := newReviewWorker(t)
	ctx := context.Background()
	doc, err := svc.Upload(ctx, session.Session{UserID: "alice"}, "terms.txt", []byte(terms), "")
	require.NoError(t, err)

	bobCtx := session.With(ctx, session.Session{UserID: "bob"})
	_, err = w.Execute(bobCtx, "document_annotated", []byte(`{"document_id":"`+doc.ID+`"}`))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReviewWorker_BadInput(t *testing.T) {
	w, _ := newReviewWorker(t)
	ctx := context.Background()

	_, err := w.Execute(ctx, "clause_accept", []byte(`{"document_id":"x"}`))
	assert.ErrorIs(t, err, service.ErrInvalidArgument)
	_, err = w.Execute(ctx, "document_annotated", []byte(`not json`))
	assert.ErrorIs(t, err, service.ErrInvalidArgument)
	_, err = w.Execute(ctx, "document_search", []byte(`{}`))
	assert.ErrorIs(t, err, service.ErrInvalidArgument)
	_, err = w.Execute(ctx, "shred_everything", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
