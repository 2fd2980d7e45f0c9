package stores

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/boredom101/nix-gui/pkg/options"
	"github.com/boredom101/nix-gui/pkg/telemetry"
)

// ErrNotFound is returned when a looked up record does not exist.
var ErrNotFound = errors.New("record not found")

// Session represents one editing session.
type Session struct {
	ID         string     `json:"id"`
	ModulePath string     `json:"module_path"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// JournalRecord is a stored editor action.
type JournalRecord struct {
	ID int64 `json:"id"`
	options.JournalEntry
}

// JournalFilter selects journal records. Zero fields match everything.
type JournalFilter struct {
	SessionID string

	// Attribute matches records for the attribute and its descendants.
	Attribute string

	Limit  int
	Offset int
}

// EventRecord is a stored telemetry event.
type EventRecord struct {
	ID        int64     `json:"id"`
	EventID   string    `json:"event_id"`
	SessionID *string   `json:"session_id,omitempty"`
	Type      string    `json:"type"`
	Level     string    `json:"level"`
	Attribute string    `json:"attribute,omitempty"`
	Message   string    `json:"message"`
	Data      *string   `json:"data,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// Store defines the interface for the persistence layer
type Store interface {
	options.Journal

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Session operations
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	EndSession(ctx context.Context, id string, endedAt time.Time) error
	ListSessions(ctx context.Context, limit, offset int) ([]*Session, error)
	DeleteSession(ctx context.Context, id string) error

	// Journal operations
	ListJournal(ctx context.Context, filter JournalFilter) ([]*JournalRecord, error)

	// Event operations
	AppendEvent(ctx context.Context, event telemetry.Event) error
	ListEvents(ctx context.Context, sessionID *string, eventType *string, limit, offset int) ([]*EventRecord, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
