package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ericksa/policylens/internal/domain"
	"github.com/ericksa/policylens/internal/service"
	"github.com/ericksa/policylens/internal/session"
	"github.com/google/jsonschema-go/jsonschema"
)

// ReviewWorker exposes document review as tools. Calls run as the session
// in the context, or as the configured tool user when there is none.
type ReviewWorker struct {
	svc  *service.Service
	user string
}

func NewReviewWorker(svc *service.Service, user string) *ReviewWorker {
	return &ReviewWorker{svc: svc, user: user}
}

func documentSchema(extra map[string]*jsonschema.Schema, also ...string) *jsonschema.Schema {
	props := map[string]*jsonschema.Schema{
		"document_id": {Type: "string", Description: "Document id"},
	}
	for k, v := range extra {
		props[k] = v
	}
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   append([]string{"document_id"}, also...),
	}
}

func (w *ReviewWorker) GetTools() []ToolDef {
	clause := map[string]*jsonschema.Schema{
		"clause_id": {Type: "string", Description: "Clause id within the document"},
	}
	return []ToolDef{
		{
			Name:        "dashboard_summary",
			Description: "Document totals, pending analysis count, average risk score and risk distribution",
			InputSchema: &jsonschema.Schema{Type: "object"},
		},
		{
			Name:        "document_list",
			Description: "List documents, newest first",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"filter": {
						Type:        "string",
						Description: "all, pending, analyzed or high-risk",
						Enum:        []any{service.FilterAll, service.FilterPending, service.FilterAnalyzed, service.FilterHighRisk},
					},
				},
			},
		},
		{
			Name:        "document_annotated",
			Description: "Document text split into plain and clause segments with risk levels and review states",
			InputSchema: documentSchema(nil),
		},
		{
			Name:        "document_analyze",
			Description: "Run an analysis pass and return the result",
			InputSchema: documentSchema(map[string]*jsonschema.Schema{
				"force": {Type: "boolean", Description: "Ignore the analysis cache"},
			}),
		},
		{
			Name:        "document_search",
			Description: "Rank documents containing every query term and return highlighted excerpts",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"query": {Type: "string"},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        "clause_accept",
			Description: "Accept the suggested rewrite of a clause",
			InputSchema: documentSchema(clause, "clause_id"),
		},
		{
			Name:        "clause_reject",
			Description: "Reject the suggested rewrite of a clause",
			InputSchema: documentSchema(clause, "clause_id"),
		},
	}
}

type reviewRequest struct {
	DocumentID string `json:"document_id"`
	ClauseID   string `json:"clause_id"`
	Filter     string `json:"filter"`
	Query      string `json:"query"`
	Force      bool   `json:"force"`
}

func (w *ReviewWorker) Execute(ctx context.Context, name string, input json.RawMessage) ([]byte, error) {
	var req reviewRequest
	if len(input) > 0 {
		if err := json.Unmarshal(input, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", service.ErrInvalidArgument, err)
		}
	}
	sess := w.session(ctx)

	switch name {
	case "dashboard_summary":
		sum, err := w.svc.Summary(ctx, sess)
		if err != nil {
			return nil, err
		}
		return json.Marshal(sum)
	case "document_list":
		cards, err := w.svc.Documents(ctx, sess, req.Filter)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"documents": cards})
	case "document_annotated":
		if err := required("document_id", req.DocumentID); err != nil {
			return nil, err
		}
		v, err := w.svc.Annotated(ctx, sess, req.DocumentID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	case "document_analyze":
		if err := required("document_id", req.DocumentID); err != nil {
			return nil, err
		}
		res, err := w.svc.Analyze(ctx, sess, req.DocumentID, req.Force)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	case "document_search":
		results, err := w.svc.Search(ctx, sess, req.Query)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"query": req.Query, "results": results})
	case "clause_accept", "clause_reject":
		if err := required("document_id", req.DocumentID); err != nil {
			return nil, err
		}
		if err := required("clause_id", req.ClauseID); err != nil {
			return nil, err
		}
		var (
			res *service.ReviewResult
			err error
		)
		if name == "clause_accept" {
			res, err = w.svc.AcceptRewrite(ctx, sess, req.DocumentID, req.ClauseID)
		} else {
			res, err = w.svc.RejectRewrite(ctx, sess, req.DocumentID, req.ClauseID)
		}
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	default:
		return nil, &domain.NotFoundError{Kind: "tool", ID: name}
	}
}

func (w *ReviewWorker) session(ctx context.Context) session.Session {
	if sess, ok := session.From(ctx); ok && sess.UserID != "" {
		return sess
	}
	return session.Session{UserID: w.user}
}

func required(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", service.ErrInvalidArgument, field)
	}
	return nil
}
