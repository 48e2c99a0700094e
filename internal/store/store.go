// Package store keeps the session catalog and the optional chat archive in
// SQLite. It is never consulted on the relay hot path.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/rifthub/internal/domain"
)

var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS stream_sessions (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	host       TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	started_at DATETIME,
	ended_at   DATETIME
);
CREATE TABLE IF NOT EXISTS chat_messages (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	sender       TEXT NOT NULL,
	display_name TEXT NOT NULL,
	text         TEXT NOT NULL,
	sent_at      DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS chat_messages_session ON chat_messages (session_id, sent_at);
`

// SessionRecord is the catalog view of a stream session.
type SessionRecord struct {
	ID        domain.SessionID `json:"sessionId"`
	Title     string           `json:"title"`
	Host      string           `json:"host"`
	CreatedAt time.Time        `json:"createdAt"`
	StartedAt *time.Time       `json:"startedAt,omitempty"`
	EndedAt   *time.Time       `json:"endedAt,omitempty"`
}

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// sqlite serialises writers anyway
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", path, err)
	}
	log.Info().Str("module", "store").Str("path", path).Msg("database opened")
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, title, host string) (SessionRecord, error) {
	rec := SessionRecord{
		ID:        domain.NewSessionID(),
		Title:     title,
		Host:      host,
		CreatedAt: time.Now().UTC(),
	}
	query := "INSERT INTO stream_sessions (id, title, host, created_at) VALUES (?, ?, ?, ?)"
	if _, err := s.db.ExecContext(ctx, query, rec.ID, rec.Title, rec.Host, rec.CreatedAt); err != nil {
		return SessionRecord{}, fmt.Errorf("failed to insert session '%s': %w", title, err)
	}
	return rec, nil
}

func (s *Store) GetSession(ctx context.Context, id domain.SessionID) (SessionRecord, error) {
	query := "SELECT id, title, host, created_at, started_at, ended_at FROM stream_sessions WHERE id = ?"
	rec, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionRecord{}, ErrNotFound
		}
		return SessionRecord{}, fmt.Errorf("error querying session %s: %w", id, err)
	}
	return rec, nil
}

// ListSessions returns the newest records first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	query := "SELECT id, title, host, created_at, started_at, ended_at FROM stream_sessions ORDER BY created_at DESC, id LIMIT ?"
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over sessions: %w", err)
	}
	return out, nil
}

// SessionExists reports whether id was issued and has not been ended.
func (s *Store) SessionExists(ctx context.Context, id domain.SessionID) (bool, error) {
	var n int
	query := "SELECT COUNT(1) FROM stream_sessions WHERE id = ? AND ended_at IS NULL"
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&n); err != nil {
		return false, fmt.Errorf("error checking session %s: %w", id, err)
	}
	return n > 0, nil
}

// MarkLive records a broadcast start. Ids the catalog never issued get a bare
// record so their lifecycle is still visible.
func (s *Store) MarkLive(ctx context.Context, id domain.SessionID, host string, at time.Time) error {
	at = at.UTC()
	query := `INSERT INTO stream_sessions (id, host, created_at, started_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET started_at = excluded.started_at, ended_at = NULL`
	if _, err := s.db.ExecContext(ctx, query, id, host, at, at); err != nil {
		return fmt.Errorf("failed to mark session %s live: %w", id, err)
	}
	return nil
}

func (s *Store) MarkEnded(ctx context.Context, id domain.SessionID, at time.Time) error {
	query := "UPDATE stream_sessions SET ended_at = ? WHERE id = ?"
	res, err := s.db.ExecContext(ctx, query, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark session %s ended: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SaveChat(ctx context.Context, m domain.ChatMessage) error {
	query := "INSERT INTO chat_messages (id, session_id, sender, display_name, text, sent_at) VALUES (?, ?, ?, ?, ?, ?)"
	if _, err := s.db.ExecContext(ctx, query, m.ID, m.SessionID, m.Sender, m.DisplayName, m.Text, m.SentAt.UTC()); err != nil {
		return fmt.Errorf("failed to insert chat message %s: %w", m.ID, err)
	}
	return nil
}

// ChatHistory returns the last limit messages of a session, oldest first.
func (s *Store) ChatHistory(ctx context.Context, id domain.SessionID, limit int) ([]domain.ChatMessage, error) {
	query := `SELECT id, session_id, sender, display_name, text, sent_at FROM chat_messages
		WHERE session_id = ? ORDER BY sent_at DESC, id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, id, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat for %s: %w", id, err)
	}
	defer rows.Close()

	var out []domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Sender, &m.DisplayName, &m.Text, &m.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over chat for %s: %w", id, err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (SessionRecord, error) {
	var (
		rec            SessionRecord
		started, ended sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.Title, &rec.Host, &rec.CreatedAt, &started, &ended); err != nil {
		return SessionRecord{}, err
	}
	if started.Valid {
		t := started.Time
		rec.StartedAt = &t
	}
	if ended.Valid {
		t := ended.Time
		rec.EndedAt = &t
	}
	return rec, nil
}
