package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"shortnotes/internal/config"
	"shortnotes/internal/domain"
)

// ErrNotFound is returned when a session result does not exist.
var ErrNotFound = errors.New("session result not found")

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Event is one recorded session timeline entry.
type Event struct {
	ID        int64
	SessionID string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Store keeps finished session results and their state timeline in SQLite.
//
// Retention modes: ephemeral keeps nothing, session clears history each time the store is
// opened, persistent keeps history subject to retention days and max sessions.
type Store struct {
	db    *sql.DB
	cfg   config.StoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to cfg.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.RetentionMode == "session" {
		if err := s.clear(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("history store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("history store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    locale TEXT,
    transcript TEXT NOT NULL,
    reason TEXT NOT NULL,
    error TEXT,
    partials INTEGER NOT NULL,
    started_at TEXT NOT NULL,
    ended_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_ended ON sessions(ended_at);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    payload BLOB,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_session_created ON events(session_id, created_at);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *Store) clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM events; DELETE FROM sessions;`); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

func (s *Store) vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) disabled() bool {
	return s.cfg.RetentionMode == "ephemeral" || s.db == nil
}

// SaveResult records a finished session. Saving the same session twice replaces it.
func (s *Store) SaveResult(ctx context.Context, result domain.SessionResult) error {
	if s.disabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, locale, transcript, reason, error, partials, started_at, ended_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   locale=excluded.locale, transcript=excluded.transcript, reason=excluded.reason,
		   error=excluded.error, partials=excluded.partials, started_at=excluded.started_at,
		   ended_at=excluded.ended_at`,
		result.SessionID, result.Locale, result.Transcript, string(result.Reason), result.Error,
		result.Partials, formatTime(result.StartedAt), formatTime(result.EndedAt))
	if err != nil {
		return fmt.Errorf("save session result: %w", err)
	}
	return nil
}

// AppendEvent writes a timeline entry.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	if s.disabled() {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(session_id, event_type, payload, created_at) VALUES(?, ?, ?, ?)`,
		evt.SessionID, evt.Type, evt.Payload, formatTime(evt.CreatedAt))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListResults returns up to limit results, most recent first.
func (s *Store) ListResults(ctx context.Context, limit int) ([]domain.SessionResult, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, locale, transcript, reason, error, partials, started_at, ended_at
		 FROM sessions ORDER BY ended_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.SessionResult
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// GetResult returns the result for sessionID or ErrNotFound.
func (s *Store) GetResult(ctx context.Context, sessionID string) (domain.SessionResult, error) {
	if s.disabled() {
		return domain.SessionResult{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, locale, transcript, reason, error, partials, started_at, ended_at
		 FROM sessions WHERE session_id = ?`, sessionID)
	result, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SessionResult{}, ErrNotFound
	}
	return result, err
}

// ListEvents retrieves up to limit events for a session in the order they happened.
func (s *Store) ListEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, event_type, payload, created_at
		 FROM events WHERE session_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var created string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &e.Payload, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(created)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies the configured retention.
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.disabled() || s.cfg.RetentionMode != "persistent" {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := formatTime(s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour))
		if _, err = tx.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE ended_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY ended_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM events WHERE session_id NOT IN (SELECT session_id FROM sessions)`)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(row scanner) (domain.SessionResult, error) {
	var (
		result         domain.SessionResult
		locale, errs   sql.NullString
		reason         string
		started, ended string
	)
	if err := row.Scan(&result.SessionID, &locale, &result.Transcript, &reason, &errs, &result.Partials, &started, &ended); err != nil {
		return domain.SessionResult{}, err
	}
	result.Locale = locale.String
	result.Error = errs.String
	result.Reason = domain.SessionStateReason(reason)
	result.StartedAt = parseTime(started)
	result.EndedAt = parseTime(ended)
	return result, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
