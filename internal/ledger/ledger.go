// Package ledger keeps a local SQLite record of finished sessions. Only
// counters and outcomes are stored; prompts, documents and model output
// never reach the database.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/wordassist/docedit-proxy/internal/relay"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id              TEXT PRIMARY KEY,
	mode            TEXT NOT NULL,
	model           TEXT NOT NULL,
	outcome         TEXT NOT NULL,
	status_code     INTEGER NOT NULL,
	error_kind      TEXT NOT NULL,
	chunk_count     INTEGER NOT NULL,
	content_length  INTEGER NOT NULL,
	fragments       INTEGER NOT NULL,
	progress_events INTEGER NOT NULL,
	edit_count      INTEGER NOT NULL,
	salvaged        INTEGER NOT NULL,
	started_at      INTEGER NOT NULL,
	duration_ms     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);
`

// Entry is one stored session.
type Entry struct {
	ID             string    `json:"id"`
	Mode           string    `json:"mode"`
	Model          string    `json:"model"`
	Outcome        string    `json:"outcome"`
	StatusCode     int       `json:"status_code"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	ChunkCount     int       `json:"chunk_count"`
	ContentLength  int       `json:"content_length"`
	Fragments      int       `json:"fragments"`
	ProgressEvents int       `json:"progress_events"`
	EditCount      int       `json:"edit_count"`
	Salvaged       bool      `json:"salvaged"`
	StartedAt      time.Time `json:"started_at"`
	DurationMS     int64     `json:"duration_ms"`
}

// Ledger stores session summaries. It implements relay.Observer.
type Ledger struct {
	db     *sql.DB
	insert *sql.Stmt
	logger zerolog.Logger
}

// Open opens or creates the database at path.
func Open(path string, busyTimeout time.Duration, logger zerolog.Logger) (*Ledger, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path cannot be empty")
	}
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	insert, err := db.Prepare(`
		INSERT OR REPLACE INTO sessions (
			id, mode, model, outcome, status_code, error_kind, chunk_count, content_length,
			fragments, progress_events, edit_count, salvaged, started_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare ledger insert: %w", err)
	}

	return &Ledger{db: db, insert: insert, logger: logger}, nil
}

// Record stores one session summary.
func (l *Ledger) Record(ctx context.Context, s relay.Summary) error {
	salvaged := 0
	if s.Salvaged {
		salvaged = 1
	}
	_, err := l.insert.ExecContext(ctx,
		s.ID, string(s.Mode), s.Model, string(s.Outcome), s.StatusCode, s.ErrorKind,
		s.ChunkCount, s.ContentLength, s.Fragments, s.ProgressEvents, s.EditCount,
		salvaged, s.StartedAt.UnixMilli(), s.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record session %s: %w", s.ID, err)
	}
	return nil
}

// Recent returns up to limit sessions, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, mode, model, outcome, status_code, error_kind, chunk_count, content_length,
			fragments, progress_events, edit_count, salvaged, started_at, duration_ms
		FROM sessions ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e         Entry
			salvaged  int
			startedAt int64
		)
		if err := rows.Scan(&e.ID, &e.Mode, &e.Model, &e.Outcome, &e.StatusCode, &e.ErrorKind,
			&e.ChunkCount, &e.ContentLength, &e.Fragments, &e.ProgressEvents, &e.EditCount,
			&salvaged, &startedAt, &e.DurationMS); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		e.Salvaged = salvaged != 0
		e.StartedAt = time.UnixMilli(startedAt).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes sessions that started before cutoff and returns how many
// were removed.
func (l *Ledger) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM sessions WHERE started_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	return res.RowsAffected()
}

func (l *Ledger) Close() error {
	l.insert.Close()
	return l.db.Close()
}

func (l *Ledger) SessionStarted(relay.SessionInfo) {}

func (l *Ledger) ProgressEmitted(relay.SessionInfo, relay.Progress) {}

func (l *Ledger) SessionFinished(s relay.Summary) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.Record(ctx, s); err != nil {
		l.logger.Error().Err(err).Str("session_id", s.ID).Msg("Failed to write session ledger")
	}
}
