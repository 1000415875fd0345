// Package journal keeps an audit trail of answered requests in SQLite.
// Entries are never fed back into a conversation.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	SourceCLI      = "cli"
	SourceAPI      = "api"
	SourceTelegram = "telegram"
	SourceCron     = "cron"
)

const defaultRecent = 20

// Entry is one answered request. Command and Confidence are set for
// classified or direct commands; Iterations for agent runs.
type Entry struct {
	ID         int64     `json:"id"`
	Session    string    `json:"session"`
	Source     string    `json:"source"`
	Input      string    `json:"input"`
	Command    string    `json:"command,omitempty"`
	Args       []string  `json:"args,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Output     string    `json:"output"`
	Outcome    string    `json:"outcome"`
	Iterations int       `json:"iterations,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS exchanges (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			input TEXT NOT NULL,
			command TEXT NOT NULL DEFAULT '',
			args TEXT NOT NULL DEFAULT '[]',
			confidence REAL NOT NULL DEFAULT 0,
			output TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL DEFAULT '',
			iterations INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exchanges_created ON exchanges(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_exchanges_session ON exchanges(session, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init journal schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends e and returns its id. A zero CreatedAt is set to now.
func (s *Store) Record(ctx context.Context, e Entry) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if e.Args == nil {
		e.Args = []string{}
	}
	args, err := json.Marshal(e.Args)
	if err != nil {
		return 0, fmt.Errorf("encode args: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO exchanges (session, source, input, command, args, confidence, output, outcome, iterations, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Session, e.Source, e.Input, e.Command, string(args), e.Confidence, e.Output, e.Outcome, e.Iterations,
		e.CreatedAt.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("insert exchange: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns the latest entries, newest first. limit <= 0 means 20.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultRecent
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session, source, input, command, args, confidence, output, outcome, iterations, created_at
		FROM exchanges ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query exchanges: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			args    string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Session, &e.Source, &e.Input, &e.Command, &args,
			&e.Confidence, &e.Output, &e.Outcome, &e.Iterations, &created); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		if err := json.Unmarshal([]byte(args), &e.Args); err != nil {
			return nil, fmt.Errorf("decode args of exchange %d: %w", e.ID, err)
		}
		e.CreatedAt = time.UnixMilli(created)
		out = append(out, e)
	}
	return out, rows.Err()
}
