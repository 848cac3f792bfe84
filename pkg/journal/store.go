// Package journal keeps a local sqlite record of steps that never reached
// the agent, either because reporting was disabled or because submission
// failed.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	apperrors "github.com/odvcencio/steplink/pkg/errors"
	"github.com/odvcencio/steplink/pkg/report"
)

//go:embed schema.sql
var schemaSQL string

// Entry is one journaled step.
type Entry struct {
	ID          string
	StepID      string
	SessionID   string
	Description string
	Message     string
	Passed      bool
	Screenshot  []byte
	Reason      string
	RecordedAt  time.Time
}

// ListOptions filters List.
type ListOptions struct {
	Reason    string
	SessionID string
	Limit     int
}

// Store is a sqlite-backed report.Recorder.
type Store struct {
	db *sql.DB

	mu      sync.RWMutex
	session string
}

var _ report.Recorder = (*Store)(nil)

// Open opens or creates the journal at path. ":memory:" keeps it in memory.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "journal path is required")
	}
	inMemory := path == ":memory:"
	if !inMemory {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, apperrors.Wrap(err, apperrors.ErrCodeJournal, "create journal directory")
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeJournal, "open journal")
	}

	if inMemory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, apperrors.Wrap(err, apperrors.ErrCodeJournal, "configure journal").WithContext("pragma", pragma)
		}
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, apperrors.Wrap(err, apperrors.ErrCodeJournal, "migrate journal")
	}

	return &Store{db: db}, nil
}

// SetSession tags subsequent entries with the agent session id.
func (s *Store) SetSession(sessionID string) {
	s.mu.Lock()
	s.session = sessionID
	s.mu.Unlock()
}

// RecordStep stores step with the reason it was not delivered.
func (s *Store) RecordStep(ctx context.Context, step report.StepReport, reason string) error {
	s.mu.RLock()
	session := s.session
	s.mu.RUnlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO steps (id, step_id, session_id, description, message, passed, screenshot, reason, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ulid.Make().String(),
		step.ID(),
		session,
		step.Description(),
		step.Message(),
		step.Passed(),
		step.Screenshot(),
		reason,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeJournal, "record step").WithContext("step_id", step.ID())
	}
	return nil
}

// List returns entries oldest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	query := `SELECT id, step_id, session_id, description, message, passed, screenshot, reason, recorded_at FROM steps`
	var (
		where []string
		args  []any
	)
	if opts.Reason != "" {
		where = append(where, "reason = ?")
		args = append(args, opts.Reason)
	}
	if opts.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, opts.SessionID)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeJournal, "list steps")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			recordedAt string
		)
		if err := rows.Scan(&e.ID, &e.StepID, &e.SessionID, &e.Description, &e.Message, &e.Passed, &e.Screenshot, &e.Reason, &recordedAt); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeJournal, "scan step")
		}
		if ts, err := time.Parse(time.RFC3339Nano, recordedAt); err == nil {
			e.RecordedAt = ts
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeJournal, "list steps")
	}
	return entries, nil
}

// Count returns the number of journaled steps.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM steps`).Scan(&n); err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeJournal, "count steps")
	}
	return n, nil
}

// SchemaVersion returns the latest applied migration.
func (s *Store) SchemaVersion() (int, error) {
	return getSchemaVersion(s.db)
}

// Close closes the database connection
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migration represents a journal schema migration
type Migration struct {
	Version int
	Name    string
	Apply   func(db *sql.DB) error
}

var migrations = []Migration{
	{1, "initial_schema", func(db *sql.DB) error { return nil }}, // Base schema from schemaSQL
	{2, "steps_session_id", ensureStepsSessionColumn},
}

func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply base schema: %w", err)
	}

	currentVersion, err := getSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}
		if err := m.Apply(db); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := db.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.Version, m.Name); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}
	return nil
}

func getSchemaVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

func ensureStepsSessionColumn(db *sql.DB) error {
	rows, err := db.Query(`PRAGMA table_info(steps)`)
	if err != nil {
		return fmt.Errorf("steps pragma: %w", err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return fmt.Errorf("scan steps pragma: %w", err)
		}
		cols[strings.ToLower(name)] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if !cols["session_id"] {
		if _, err := db.Exec(`ALTER TABLE steps ADD COLUMN session_id TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("add steps.session_id: %w", err)
		}
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_steps_session ON steps(session_id)`); err != nil {
		return fmt.Errorf("index steps.session_id: %w", err)
	}
	return nil
}
