package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/oj"
	"github.com/rs/zerolog"

	"github.com/boredom101/nix-gui/pkg/attribute"
	"github.com/boredom101/nix-gui/pkg/options"
	"github.com/boredom101/nix-gui/pkg/telemetry"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database with foreign keys and WAL mode enabled on every
// connection.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// Times are stored as RFC 3339 text so they sort lexically.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored time %q: %w", s, err)
	}
	return t, nil
}

// CreateSession creates a new session record
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO sessions (id, module_path, started_at, ended_at)
		VALUES (?, ?, ?, ?)
	`

	var endedAt *string
	if session.EndedAt != nil {
		formatted := formatTime(*session.EndedAt)
		endedAt = &formatted
	}

	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.ModulePath,
		formatTime(session.StartedAt),
		endedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// GetSession retrieves a session by ID
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `
		SELECT id, module_path, started_at, ended_at
		FROM sessions
		WHERE id = ?
	`

	session, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

// EndSession marks a session as ended
func (s *SQLiteStore) EndSession(ctx context.Context, id string, endedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE sessions SET ended_at = ? WHERE id = ?`, formatTime(endedAt), id)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}

	return nil
}

// ListSessions lists sessions with pagination, most recent first
func (s *SQLiteStore) ListSessions(ctx context.Context, limit, offset int) ([]*Session, error) {
	query := `
		SELECT id, module_path, started_at, ended_at
		FROM sessions
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limitOrAll(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

// DeleteSession deletes a session and its journal
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		session   Session
		startedAt string
		endedAt   sql.NullString
	)
	if err := row.Scan(&session.ID, &session.ModulePath, &startedAt, &endedAt); err != nil {
		return nil, err
	}

	var err error
	if session.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t, err := parseTime(endedAt.String)
		if err != nil {
			return nil, err
		}
		session.EndedAt = &t
	}
	return &session, nil
}

// Record appends an editor action to the journal. The session row is
// created on first use so editors need not register sessions up front.
func (s *SQLiteStore) Record(ctx context.Context, entry options.JournalEntry) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	recordedAt := formatTime(entry.Time)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, started_at) VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING
	`, entry.SessionID, recordedAt)
	if err != nil {
		return fmt.Errorf("failed to ensure session: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO journal (session_id, sequence, action, kind, attribute, details, merged, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.SessionID,
		entry.Sequence,
		string(entry.Action),
		string(entry.Kind),
		entry.Attribute.String(),
		entry.Details,
		entry.Merged,
		recordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record journal entry: %w", err)
	}

	return tx.Commit()
}

// ListJournal lists journal records in session order, then sequence order.
func (s *SQLiteStore) ListJournal(ctx context.Context, filter JournalFilter) ([]*JournalRecord, error) {
	query := `
		SELECT j.id, j.session_id, j.sequence, j.action, j.kind, j.attribute, j.details, j.merged, j.recorded_at
		FROM journal j
		JOIN sessions s ON s.id = j.session_id
		WHERE (? = '' OR j.session_id = ?)
		  AND (? = '' OR j.attribute = ? OR j.attribute LIKE ? ESCAPE '\')
		ORDER BY s.started_at, j.session_id, j.sequence
		LIMIT ? OFFSET ?
	`

	prefix := escapeLike(filter.Attribute) + ".%"
	rows, err := s.db.QueryContext(ctx, query,
		filter.SessionID, filter.SessionID,
		filter.Attribute, filter.Attribute, prefix,
		limitOrAll(filter.Limit), filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal: %w", err)
	}
	defer rows.Close()

	records := []*JournalRecord{}
	for rows.Next() {
		var (
			record     JournalRecord
			action     string
			kind       string
			attr       string
			recordedAt string
		)
		err := rows.Scan(
			&record.ID,
			&record.SessionID,
			&record.Sequence,
			&action,
			&kind,
			&attr,
			&record.Details,
			&record.Merged,
			&recordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}

		record.Action = options.Action(action)
		record.Kind = options.Kind(kind)
		if record.Attribute, err = attribute.Parse(attr); err != nil {
			return nil, fmt.Errorf("journal entry %d: %w", record.ID, err)
		}
		if record.Time, err = parseTime(recordedAt); err != nil {
			return nil, fmt.Errorf("journal entry %d: %w", record.ID, err)
		}
		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating journal: %w", err)
	}

	return records, nil
}

// escapeLike escapes the LIKE wildcards in s. Option names commonly
// contain underscores.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// limitOrAll maps a non-positive limit to SQLite's "no limit".
func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

// AppendEvent stores a telemetry event. Events are append-only and
// storing the same event twice is a no-op.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event telemetry.Event) error {
	query := `
		INSERT INTO events (event_id, session_id, type, level, attribute, message, data, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`

	var sessionID, data *string
	if event.SessionID != "" {
		sessionID = &event.SessionID
	}
	if len(event.Data) > 0 {
		encoded := oj.JSON(event.Data, &ojg.Options{Sort: true})
		data = &encoded
	}

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		sessionID,
		event.Type,
		event.Level,
		event.Attribute,
		event.Message,
		data,
		formatTime(event.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// ListEvents lists events with optional filters and pagination, oldest
// first.
func (s *SQLiteStore) ListEvents(ctx context.Context, sessionID *string, eventType *string, limit, offset int) ([]*EventRecord, error) {
	query := `
		SELECT id, event_id, session_id, type, level, attribute, message, data, timestamp
		FROM events
		WHERE (? IS NULL OR session_id = ?)
		  AND (? IS NULL OR type = ?)
		ORDER BY timestamp, id
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, sessionID, sessionID, eventType, eventType, limitOrAll(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*EventRecord{}
	for rows.Next() {
		var (
			event     EventRecord
			timestamp string
		)
		err := rows.Scan(
			&event.ID,
			&event.EventID,
			&event.SessionID,
			&event.Type,
			&event.Level,
			&event.Attribute,
			&event.Message,
			&event.Data,
			&timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if event.Timestamp, err = parseTime(timestamp); err != nil {
			return nil, fmt.Errorf("event %d: %w", event.ID, err)
		}
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// EventSink returns a subscriber that stores every event it receives.
// Failures are logged since subscribers cannot return errors.
func (s *SQLiteStore) EventSink(logger zerolog.Logger) telemetry.EventSubscriber {
	logger = logger.With().Str("component", "event-sink").Logger()
	return func(event telemetry.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.AppendEvent(ctx, event); err != nil {
			logger.Error().Err(err).Str("event_type", event.Type).Msg("failed to store event")
		}
	}
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
