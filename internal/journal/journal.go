// Package journal keeps a local append-only SQLite record of AI decisions and
// session reports. It is written during sessions and read only for later
// inspection.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/atmx/arena-engine/internal/model"
)

const Schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	participant_id TEXT NOT NULL,
	model_id TEXT NOT NULL,
	mode TEXT NOT NULL,
	raw_response TEXT NOT NULL,
	parsed INTEGER NOT NULL,
	sentiment TEXT NOT NULL,
	analyzed_stocks TEXT NOT NULL,
	tokens_used INTEGER NOT NULL,
	latency_ms INTEGER NOT NULL,
	error TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_session ON decisions(session_id);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	started_at DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	dry_run INTEGER NOT NULL,
	models_processed INTEGER NOT NULL,
	trades_executed INTEGER NOT NULL,
	tokens_used INTEGER NOT NULL,
	report TEXT NOT NULL
);
`

// Journal is the write side used by the session orchestrator.
type Journal interface {
	RecordDecision(ctx context.Context, d *model.AIDecision) error
	RecordSession(ctx context.Context, s SessionRecord) error
}

// SessionRecord is one finished session. Report holds the full session
// report, encoded as JSON by RecordSession.
type SessionRecord struct {
	ID              string    `json:"id"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	DryRun          bool      `json:"dry_run"`
	ModelsProcessed int       `json:"models_processed"`
	TradesExecuted  int       `json:"trades_executed"`
	TokensUsed      int       `json:"tokens_used"`
	Report          any       `json:"report"`
}

// StoredSession is a session row read back from the journal.
type StoredSession struct {
	ID              string          `json:"id"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      time.Time       `json:"finished_at"`
	DryRun          bool            `json:"dry_run"`
	ModelsProcessed int             `json:"models_processed"`
	TradesExecuted  int             `json:"trades_executed"`
	TokensUsed      int             `json:"tokens_used"`
	Report          json.RawMessage `json:"report"`
}

type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the journal at path and applies the schema.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// One writer keeps ":memory:" journals on a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}

func (j *SQLite) RecordDecision(ctx context.Context, d *model.AIDecision) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO decisions (
			id, session_id, participant_id, model_id, mode, raw_response, parsed,
			sentiment, analyzed_stocks, tokens_used, latency_ms, error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.SessionID, d.ParticipantID, d.ModelID, string(d.Mode), d.RawResponse, d.Parsed,
		d.Sentiment, strings.Join(d.AnalyzedStocks, ","), d.TokensUsed, d.LatencyMs, d.Error,
		d.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("journal decision %s: %w", d.ID, err)
	}
	return nil
}

func (j *SQLite) RecordSession(ctx context.Context, s SessionRecord) error {
	report, err := json.Marshal(s.Report)
	if err != nil {
		return fmt.Errorf("encode session report: %w", err)
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO sessions (
			id, started_at, finished_at, dry_run, models_processed, trades_executed, tokens_used, report
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.StartedAt.UTC(), s.FinishedAt.UTC(), s.DryRun, s.ModelsProcessed,
		s.TradesExecuted, s.TokensUsed, string(report),
	)
	if err != nil {
		return fmt.Errorf("journal session %s: %w", s.ID, err)
	}
	return nil
}

// RecentSessions returns up to limit sessions, newest first.
func (j *SQLite) RecentSessions(ctx context.Context, limit int) ([]StoredSession, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, dry_run, models_processed, trades_executed, tokens_used, report
		FROM sessions ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []StoredSession
	for rows.Next() {
		var s StoredSession
		var report string
		if err := rows.Scan(&s.ID, &s.StartedAt, &s.FinishedAt, &s.DryRun,
			&s.ModelsProcessed, &s.TradesExecuted, &s.TokensUsed, &report); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.Report = json.RawMessage(report)
		out = append(out, s)
	}
	return out, rows.Err()
}

// SessionDecisions returns the decisions recorded for one session in
// insertion order.
func (j *SQLite) SessionDecisions(ctx context.Context, sessionID string) ([]model.AIDecision, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, session_id, participant_id, model_id, mode, raw_response, parsed,
			sentiment, analyzed_stocks, tokens_used, latency_ms, error, created_at
		FROM decisions WHERE session_id = ? ORDER BY rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []model.AIDecision
	for rows.Next() {
		var d model.AIDecision
		var mode, stocks string
		if err := rows.Scan(&d.ID, &d.SessionID, &d.ParticipantID, &d.ModelID, &mode,
			&d.RawResponse, &d.Parsed, &d.Sentiment, &stocks, &d.TokensUsed, &d.LatencyMs,
			&d.Error, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.Mode = model.Mode(mode)
		if stocks != "" {
			d.AnalyzedStocks = strings.Split(stocks, ",")
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
