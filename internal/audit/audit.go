package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ericksa/policylens/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

// Actions recorded by the service.
const (
	ActionAccept    = "accept"
	ActionReject    = "reject"
	ActionUpload    = "upload"
	ActionAnalyze   = "analyze"
	ActionReanalyze = "reanalyze"
	ActionDelete    = "delete"
)

type Auditor struct {
	db  *sql.DB
	log *logger.Logger
}

type Entry struct {
	ID         int64     `json:"id"`
	Action     string    `json:"action"`
	DocumentID string    `json:"document_id"`
	ClauseID   string    `json:"clause_id,omitempty"`
	Actor      string    `json:"actor"`
	Changed    bool      `json:"changed"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewAuditor opens (or creates) the sqlite audit log at path.
func NewAuditor(path string, log *logger.Logger) (*Auditor, error) {
	if log == nil {
		log = logger.Nop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit DB: %w", err)
	}
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		action TEXT NOT NULL,
		document_id TEXT NOT NULL,
		clause_id TEXT,
		actor TEXT,
		changed INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		timestamp DATETIME NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create audit table: %w", err)
	}
	return &Auditor{db: db, log: log.Component("audit")}, nil
}

// Log records one action. Write failures are logged, not returned.
func (a *Auditor) Log(ctx context.Context, e Entry) {
	if a == nil || a.db == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := a.db.ExecContext(ctx,
		"INSERT INTO audit_log (action, document_id, clause_id, actor, changed, error, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)",
		e.Action, e.DocumentID, e.ClauseID, e.Actor, e.Changed, e.Error, e.Timestamp,
	)
	if err != nil {
		a.log.Error().Err(err).Str("action", e.Action).Str("document_id", e.DocumentID).Msg("failed to write audit log")
	}
}

// Entries returns the newest entries for a document, newest first.
func (a *Auditor) Entries(ctx context.Context, documentID string, limit int) ([]Entry, error) {
	if a == nil || a.db == nil {
		return []Entry{}, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.db.QueryContext(ctx,
		"SELECT id, action, document_id, clause_id, actor, changed, error, timestamp FROM audit_log WHERE document_id = ? ORDER BY id DESC LIMIT ?",
		documentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e               Entry
			clause, errText sql.NullString
			actor           sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.DocumentID, &clause, &actor, &e.Changed, &errText, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.ClauseID = clause.String
		e.Actor = actor.String
		e.Error = errText.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (a *Auditor) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}
