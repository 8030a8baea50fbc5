package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
	now func() time.Time
}

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

	// Every connection to :memory: sees its own database.
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{cfg: cfg, now: time.Now}, nil
}

// Open creates, initializes and migrates a store in one step.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) dsn() string {
	if s.cfg.Path == MemoryPath {
		return MemoryPath
	}
	return "file:" + s.cfg.Path +
		"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
}

// Init opens the database connection and enables WAL mode for file databases.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dsn())
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

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
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

// CreateRun inserts a run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, run_list, status, dry_run, started_at, completed_at,
			summary, failed_resource, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	runList, err := encodeJSON(run.RunList)
	if err != nil {
		return fmt.Errorf("failed to encode run list: %w", err)
	}
	summary, err := encodeJSON(run.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}

	now := s.now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		runList,
		run.Status,
		run.DryRun,
		run.StartedAt,
		run.CompletedAt,
		summary,
		run.FailedResource,
		run.Error,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// CompleteRun stores the terminal status, summary and error of a run.
func (s *SQLiteStore) CompleteRun(ctx context.Context, run *Run) error {
	query := `
		UPDATE runs
		SET status = ?, completed_at = ?, summary = ?, failed_resource = ?, error = ?, updated_at = ?
		WHERE id = ?
	`

	summary, err := encodeJSON(run.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	run.UpdatedAt = s.now()

	result, err := s.db.ExecContext(ctx, query,
		run.Status,
		run.CompletedAt,
		summary,
		run.FailedResource,
		run.Error,
		run.UpdatedAt,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	return expectRow(result, run.ID)
}

const runColumns = `id, run_list, status, dry_run, started_at, completed_at,
	summary, failed_resource, error, created_at, updated_at`

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists runs newest first with pagination
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, created_at DESC LIMIT ? OFFSET ?`

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRun deletes a run and, through the foreign keys, its results and events.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	return expectRow(result, id)
}

// PruneRuns keeps the newest keep runs and deletes the rest. It returns the
// number of runs deleted.
func (s *SQLiteStore) PruneRuns(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must not be negative: %d", keep)
	}

	query := `
		DELETE FROM runs
		WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, created_at DESC LIMIT ?
		)
	`

	result, err := s.db.ExecContext(ctx, query, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// SaveResourceResult inserts or replaces the result at (run, seq).
func (s *SQLiteStore) SaveResourceResult(ctx context.Context, r *ResourceResult) error {
	query := `
		INSERT INTO resource_results (
			run_id, seq, kind, name, recipe, action, state, changed,
			message, details, error, started_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, seq) DO UPDATE SET
			state = excluded.state,
			changed = excluded.changed,
			message = excluded.message,
			details = excluded.details,
			error = excluded.error,
			started_at = excluded.started_at,
			duration_ms = excluded.duration_ms
	`

	details, err := encodeDetails(r.Details)
	if err != nil {
		return fmt.Errorf("failed to encode details: %w", err)
	}

	_, err = s.db.ExecContext(ctx, query,
		r.RunID,
		r.Seq,
		r.Kind,
		r.Name,
		r.Recipe,
		r.Action,
		r.State,
		r.Changed,
		r.Message,
		details,
		r.Error,
		r.StartedAt,
		r.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to save resource result: %w", err)
	}

	return nil
}

// ListResourceResults lists the recorded results of a run in declaration order.
func (s *SQLiteStore) ListResourceResults(ctx context.Context, runID string) ([]*ResourceResult, error) {
	query := `
		SELECT run_id, seq, kind, name, recipe, action, state, changed,
			   message, details, error, started_at, duration_ms
		FROM resource_results
		WHERE run_id = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list resource results: %w", err)
	}
	defer rows.Close()

	results := []*ResourceResult{}
	for rows.Next() {
		r := &ResourceResult{}
		var details sql.NullString
		var durationMS int64
		err := rows.Scan(
			&r.RunID,
			&r.Seq,
			&r.Kind,
			&r.Name,
			&r.Recipe,
			&r.Action,
			&r.State,
			&r.Changed,
			&r.Message,
			&details,
			&r.Error,
			&r.StartedAt,
			&durationMS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource result: %w", err)
		}
		if r.Details, err = decodeDetails(details); err != nil {
			return nil, fmt.Errorf("failed to decode details of %s[%s]: %w", r.Kind, r.Name, err)
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resource results: %w", err)
	}

	return results, nil
}

// AppendEvent appends an event to the timeline and sets its ID.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (run_id, resource, type, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	details, err := encodeDetails(event.Details)
	if err != nil {
		return fmt.Errorf("failed to encode event details: %w", err)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}

	result, err := s.db.ExecContext(ctx, query,
		event.RunID,
		event.Resource,
		event.Type,
		event.Level,
		event.Message,
		details,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// GetEvents retrieves events in insertion order.
func (s *SQLiteStore) GetEvents(ctx context.Context, filter EventFilter) ([]*Event, error) {
	query := `
		SELECT id, run_id, resource, type, level, message, details, timestamp
		FROM events
		WHERE (? = '' OR run_id = ?)
		  AND (? = '' OR level = ?)
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, query,
		filter.RunID, filter.RunID,
		filter.Level, filter.Level,
		limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		var details sql.NullString
		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&event.Resource,
			&event.Type,
			&event.Level,
			&event.Message,
			&details,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if event.Details, err = decodeDetails(details); err != nil {
			return nil, fmt.Errorf("failed to decode event details: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var runList, summary string
	err := row.Scan(
		&run.ID,
		&runList,
		&run.Status,
		&run.DryRun,
		&run.StartedAt,
		&run.CompletedAt,
		&summary,
		&run.FailedResource,
		&run.Error,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(runList), &run.RunList); err != nil {
		return nil, fmt.Errorf("invalid run list for %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(summary), &run.Summary); err != nil {
		return nil, fmt.Errorf("invalid summary for %s: %w", run.ID, err)
	}
	return run, nil
}

func expectRow(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: run %s", ErrNotFound, id)
	}
	return nil
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func encodeDetails(details map[string]interface{}) (*string, error) {
	if len(details) == 0 {
		return nil, nil
	}
	s, err := encodeJSON(details)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func decodeDetails(s sql.NullString) (map[string]interface{}, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var details map[string]interface{}
	if err := json.Unmarshal([]byte(s.String), &details); err != nil {
		return nil, err
	}
	return details, nil
}
