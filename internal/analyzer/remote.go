package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ericksa/policylens/internal/analysis"
	"github.com/ericksa/policylens/internal/config"
	"github.com/ericksa/policylens/internal/logger"
)

// StatusError is a non-2xx reply from the analysis service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("analyzer API error: %d %s", e.Code, e.Body)
}

func (e *StatusError) retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Remote posts text to {endpoint}/analyze. Documents longer than chunkWords
// are split at clause boundaries, sent chunk by chunk, and the clause lists
// merged.
type Remote struct {
	endpoint   string
	apiKey     string
	client     *http.Client
	maxRetries int
	chunkWords int
	retryWait  time.Duration
	log        *logger.Logger
}

type analyzeRequest struct {
	Text string `json:"text"`
}

func NewRemote(cfg config.AnalyzerConfig, log *logger.Logger) *Remote {
	if log == nil {
		log = logger.Nop()
	}
	return &Remote{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		client:     &http.Client{Timeout: config.Duration(cfg.Timeout, 120*time.Second)},
		maxRetries: max(cfg.MaxRetries, 0),
		chunkWords: cfg.ChunkWords,
		retryWait:  500 * time.Millisecond,
		log:        log.Component("analyzer"),
	}
}

func (r *Remote) Analyze(ctx context.Context, text string) (json.RawMessage, error) {
	chunks := analysis.Chunk(analysis.SplitClauses(text), r.chunkWords)
	if len(chunks) <= 1 {
		return r.call(ctx, text)
	}

	var (
		clauses []any
		tags    []string
	)
	for i, chunk := range chunks {
		raw, err := r.call(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		obj, err := analysis.Unwrap(raw)
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		if items, ok := obj["clauses"].([]any); ok {
			for _, item := range items {
				clauses = append(clauses, rebase(item, len(clauses)+1))
			}
		}
		if items, ok := obj["tags"].([]any); ok {
			for _, item := range items {
				if s, ok := item.(string); ok && !slices.Contains(tags, s) {
					tags = append(tags, s)
				}
			}
		}
	}
	if clauses == nil {
		clauses = []any{}
	}
	if tags == nil {
		tags = []string{}
	}
	return json.Marshal(map[string]any{"clauses": clauses, "tags": tags})
}

// rebase renumbers a chunk clause and drops its chunk-relative offsets so the
// decoder locates it in the full text.
func rebase(item any, n int) any {
	m, ok := item.(map[string]any)
	if !ok {
		return item
	}
	for _, k := range offsetKeys {
		delete(m, k)
	}
	m["id"] = strconv.Itoa(n)
	delete(m, "clause_id")
	return m
}

var offsetKeys = []string{"start", "start_offset", "start_position", "end", "end_offset", "end_position"}

// call sends one request, retrying transport errors, 5xx and 429 with
// exponential backoff.
func (r *Remote) call(ctx context.Context, text string) (json.RawMessage, error) {
	body, err := json.Marshal(analyzeRequest{Text: text})
	if err != nil {
		return nil, err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.retryWait
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0
	policy.Reset()

	var (
		raw       json.RawMessage
		attempts  int
		permanent bool
	)
	err = backoff.RetryNotify(func() error {
		attempts++
		var err error
		raw, err = r.post(ctx, body)
		var se *StatusError
		if errors.As(err, &se) && !se.retryable() {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.maxRetries)), ctx), func(err error, wait time.Duration) {
		r.log.Warn().Err(err).Int("attempt", attempts).Dur("wait", wait).Msg("retrying analyzer request")
	})

	switch {
	case err == nil:
		return raw, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case permanent:
		return nil, err
	}
	return nil, fmt.Errorf("analyzer failed after %d attempts: %w", attempts, err)
}

func (r *Remote) post(ctx context.Context, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read analyzer response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return json.RawMessage(b), nil
}
