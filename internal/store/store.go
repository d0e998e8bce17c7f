// Package store persists documents, analyses, review states and the
// analysis cache in SQL. SQLite is the default driver; PostgreSQL is used
// when configured.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ericksa/policylens/internal/domain"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		name TEXT NOT NULL,
		blob_key TEXT NOT NULL DEFAULT '',
		content_type TEXT NOT NULL DEFAULT '',
		text_content TEXT NOT NULL,
		state TEXT NOT NULL,
		analysis TEXT,
		uploaded_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents (owner, uploaded_at)`,
	`CREATE TABLE IF NOT EXISTS review_states (
		document_id TEXT NOT NULL,
		clause_id TEXT NOT NULL,
		state TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (document_id, clause_id)
	)`,
	`CREATE TABLE IF NOT EXISTS analysis_cache (
		checksum TEXT PRIMARY KEY,
		result TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
}

const documentColumns = "id, owner, name, blob_key, content_type, text_content, state, analysis, uploaded_at"

type Store struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// Open connects to the database and applies the schema.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if driver == DriverSQLite {
		// SQLite allows one writer, and :memory: databases are per connection.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}

	s := New(db, driver)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database handle.
func New(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver, now: func() time.Time { return time.Now().UTC() }}
}

// Migrate creates missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// InsertDocument stores a new document. Its analysis, when present, is
// stored with it.
func (s *Store) InsertDocument(ctx context.Context, doc *domain.Document) error {
	analysis, err := encodeAnalysis(doc.Analysis)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		doc.ID, doc.Owner, doc.Name, doc.BlobKey, doc.ContentType, doc.Text,
		string(doc.State), analysis, doc.UploadedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document %s: %w", doc.ID, err)
	}
	return nil
}

// FetchDocument loads one document with its analysis and review states.
func (s *Store) FetchDocument(ctx context.Context, id string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+documentColumns+` FROM documents WHERE id = ?`), id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.DocumentNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document %s: %w", id, err)
	}

	states, err := s.reviewStates(ctx, `SELECT document_id, clause_id, state FROM review_states WHERE document_id = ?`, id)
	if err != nil {
		return nil, err
	}
	applyReviewStates(doc, states[id])
	return doc, nil
}

// Filter narrows FetchDocumentCollection. Zero values match everything.
type Filter struct {
	Owner  string
	States []domain.DocumentState
	// Query requires every whitespace-separated term to occur in the text,
	// case-insensitively.
	Query string
	Limit int
}

// FetchDocumentCollection lists documents newest first.
func (s *Store) FetchDocumentCollection(ctx context.Context, f Filter) ([]domain.Document, error) {
	var (
		where []string
		args  []any
	)
	if f.Owner != "" {
		where = append(where, "owner = ?")
		args = append(args, f.Owner)
	}
	if len(f.States) > 0 {
		marks := make([]string, len(f.States))
		for i, st := range f.States {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "state IN ("+strings.Join(marks, ", ")+")")
	}
	for _, term := range strings.Fields(strings.ToLower(f.Query)) {
		where = append(where, `LOWER(text_content) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(term)+"%")
	}

	query := `SELECT ` + documentColumns + ` FROM documents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY uploaded_at DESC, id"
	if f.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	var docs []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	if len(docs) == 0 {
		return docs, nil
	}
	stateQuery := `SELECT r.document_id, r.clause_id, r.state FROM review_states r`
	var stateArgs []any
	if f.Owner != "" {
		stateQuery += ` JOIN documents d ON d.id = r.document_id WHERE d.owner = ?`
		stateArgs = append(stateArgs, f.Owner)
	}
	states, err := s.reviewStates(ctx, stateQuery, stateArgs...)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		applyReviewStates(&docs[i], states[docs[i].ID])
	}
	return docs, nil
}

// PersistReviewState records a reviewer decision for one clause.
func (s *Store) PersistReviewState(ctx context.Context, documentID, clauseID string, state domain.ReviewState) error {
	if _, err := s.DocumentOwner(ctx, documentID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO review_states (document_id, clause_id, state, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (document_id, clause_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`),
		documentID, clauseID, string(state), s.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to persist review state for %s/%s: %w", documentID, clauseID, err)
	}
	return nil
}

// PersistDocumentState updates the lifecycle state of a document.
func (s *Store) PersistDocumentState(ctx context.Context, documentID string, state domain.DocumentState) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE documents SET state = ? WHERE id = ?`), string(state), documentID)
	if err != nil {
		return fmt.Errorf("failed to persist state for %s: %w", documentID, err)
	}
	return requireRow(res, documentID)
}

// ResetReanalyzing moves every reanalyzing document back to analyzed. Their
// previous analysis is still stored, so nothing is lost.
func (s *Store) ResetReanalyzing(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE documents SET state = ? WHERE state = ?`),
		string(domain.StateAnalyzed), string(domain.StateReanalyzing))
	if err != nil {
		return 0, fmt.Errorf("failed to reset reanalyzing documents: %w", err)
	}
	return res.RowsAffected()
}

// ReplaceAnalysis stores a new analysis, marks the document analyzed and
// clears its review states in one transaction.
func (s *Store) ReplaceAnalysis(ctx context.Context, documentID string, a *domain.Analysis) error {
	encoded, err := encodeAnalysis(a)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.rebind(`UPDATE documents SET analysis = ?, state = ? WHERE id = ?`),
		encoded, string(domain.StateAnalyzed), documentID)
	if err != nil {
		return fmt.Errorf("failed to store analysis for %s: %w", documentID, err)
	}
	if err := requireRow(res, documentID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM review_states WHERE document_id = ?`), documentID); err != nil {
		return fmt.Errorf("failed to reset review states for %s: %w", documentID, err)
	}
	return tx.Commit()
}

// DeleteDocument removes a document and its review states.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM review_states WHERE document_id = ?`), documentID); err != nil {
		return fmt.Errorf("failed to delete review states for %s: %w", documentID, err)
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM documents WHERE id = ?`), documentID)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", documentID, err)
	}
	if err := requireRow(res, documentID); err != nil {
		return err
	}
	return tx.Commit()
}

// DocumentOwner returns the owner of a document.
func (s *Store) DocumentOwner(ctx context.Context, documentID string) (string, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT owner FROM documents WHERE id = ?`), documentID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.DocumentNotFound(documentID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up owner of %s: %w", documentID, err)
	}
	return owner, nil
}

// PreviousDocument returns the owner's most recent other document uploaded
// no later than before, or nil when there is none.
func (s *Store) PreviousDocument(ctx context.Context, owner, excludeID string, before time.Time) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+documentColumns+` FROM documents
		WHERE owner = ? AND id <> ? AND uploaded_at <= ?
		ORDER BY uploaded_at DESC, id LIMIT 1`), owner, excludeID, before.UTC())
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find previous document: %w", err)
	}
	return doc, nil
}

// CachedAnalysis looks up an analysis by text checksum.
func (s *Store) CachedAnalysis(ctx context.Context, checksum string) (*domain.Analysis, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT result FROM analysis_cache WHERE checksum = ?`), checksum).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read analysis cache: %w", err)
	}
	var a domain.Analysis
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, false, fmt.Errorf("corrupt analysis cache entry %s: %w", checksum, err)
	}
	return &a, true, nil
}

// CacheAnalysis stores or refreshes the cache entry for checksum.
func (s *Store) CacheAnalysis(ctx context.Context, checksum string, a *domain.Analysis) error {
	encoded, err := encodeAnalysis(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO analysis_cache (checksum, result, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (checksum) DO UPDATE SET result = excluded.result, created_at = excluded.created_at`),
		checksum, encoded, s.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to write analysis cache: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*domain.Document, error) {
	var (
		doc      domain.Document
		state    string
		analysis sql.NullString
	)
	if err := row.Scan(&doc.ID, &doc.Owner, &doc.Name, &doc.BlobKey, &doc.ContentType,
		&doc.Text, &state, &analysis, &doc.UploadedAt); err != nil {
		return nil, err
	}
	doc.State = domain.DocumentState(state)
	doc.UploadedAt = doc.UploadedAt.UTC()
	if analysis.Valid && analysis.String != "" {
		var a domain.Analysis
		if err := json.Unmarshal([]byte(analysis.String), &a); err != nil {
			return nil, fmt.Errorf("corrupt analysis for document %s: %w", doc.ID, err)
		}
		doc.Analysis = &a
	}
	return &doc, nil
}

func (s *Store) reviewStates(ctx context.Context, query string, args ...any) (map[string]map[string]domain.ReviewState, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load review states: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]domain.ReviewState)
	for rows.Next() {
		var docID, clauseID, state string
		if err := rows.Scan(&docID, &clauseID, &state); err != nil {
			return nil, fmt.Errorf("failed to scan review state: %w", err)
		}
		if out[docID] == nil {
			out[docID] = make(map[string]domain.ReviewState)
		}
		out[docID][clauseID] = domain.ReviewState(state)
	}
	return out, rows.Err()
}

func applyReviewStates(doc *domain.Document, states map[string]domain.ReviewState) {
	if doc.Analysis == nil {
		return
	}
	for i := range doc.Analysis.Clauses {
		c := &doc.Analysis.Clauses[i]
		if st, ok := states[c.ID]; ok {
			c.ReviewState = st
		} else if c.ReviewState == "" {
			c.ReviewState = domain.ReviewUnreviewed
		}
	}
}

func encodeAnalysis(a *domain.Analysis) (sql.NullString, error) {
	if a == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode analysis: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func requireRow(res sql.Result, documentID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return domain.DocumentNotFound(documentID)
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
