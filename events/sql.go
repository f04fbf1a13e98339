package events

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported database/sql drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	duration_seconds INTEGER NOT NULL,
	mode TEXT NOT NULL,
	status TEXT NOT NULL,
	degraded BOOLEAN NOT NULL DEFAULT FALSE,
	local_path TEXT NOT NULL,
	thumbnail_path TEXT NOT NULL DEFAULT '',
	clip_url TEXT NOT NULL DEFAULT '',
	thumbnail_url TEXT NOT NULL DEFAULT '',
	latitude DOUBLE PRECISION,
	longitude DOUBLE PRECISION,
	speed_kmh DOUBLE PRECISION,
	locality TEXT NOT NULL DEFAULT '',
	region TEXT NOT NULL DEFAULT '',
	event_type TEXT NOT NULL DEFAULT '',
	severity TEXT NOT NULL DEFAULT '',
	priority TEXT NOT NULL DEFAULT '',
	note TEXT NOT NULL DEFAULT '',
	rating INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS events_created_at ON events (created_at);
CREATE INDEX IF NOT EXISTS events_status_mode ON events (status, mode);
`

const columns = `id, created_at, duration_seconds, mode, status, degraded, local_path, thumbnail_path,
	clip_url, thumbnail_url, latitude, longitude, speed_kmh, locality, region,
	event_type, severity, priority, note, rating`

// SQLStore implements Store over database/sql. Queries use $n placeholders,
// which both supported drivers accept.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// Open connects to the database and applies the schema.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// sqlite allows one writer at a time
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		db.SetConnMaxIdleTime(10 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Insert stores e, assigning an ID and creation time when missing.
func (s *SQLStore) Insert(ctx context.Context, e *Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()
	if e.Status == "" {
		e.Status = StatusPending
	}
	if !e.Mode.Valid() {
		return fmt.Errorf("invalid event mode %q", e.Mode)
	}

	query := `INSERT INTO events (` + columns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`
	_, err := s.db.ExecContext(ctx, query,
		e.ID.String(), e.CreatedAt, e.DurationSeconds, string(e.Mode), string(e.Status), e.Degraded,
		e.LocalPath, e.ThumbnailPath, e.ClipURL, e.ThumbnailURL,
		nullFloat(e.Latitude), nullFloat(e.Longitude), nullFloat(e.SpeedKmh), e.Locality, e.Region,
		e.EventType, e.Severity, e.Priority, e.Note, e.Rating,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Get retrieves an event by ID
func (s *SQLStore) Get(ctx context.Context, id uuid.UUID) (*Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM events WHERE id = $1`, id.String())
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return e, nil
}

// List returns matching events, newest first.
func (s *SQLStore) List(ctx context.Context, f Filter) ([]Event, error) {
	query := `SELECT ` + columns + ` FROM events WHERE 1 = 1`
	var args []interface{}
	argIndex := 1

	if f.Mode != "" {
		query += fmt.Sprintf(" AND mode = $%d", argIndex)
		args = append(args, string(f.Mode))
		argIndex++
	}
	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, string(f.Status))
		argIndex++
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	list := []Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		list = append(list, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return list, nil
}

// Classify replaces the event's classification. A non-empty status is
// written in the same update.
func (s *SQLStore) Classify(ctx context.Context, id uuid.UUID, c Classification, status Status) error {
	if status != "" && !status.Valid() {
		return fmt.Errorf("invalid event status %q", status)
	}

	query := `UPDATE events SET event_type = $1, severity = $2, priority = $3, note = $4, rating = $5`
	args := []interface{}{c.EventType, c.Severity, c.Priority, c.Note, c.Rating}
	if status != "" {
		query += `, status = $6 WHERE id = $7`
		args = append(args, string(status), id.String())
	} else {
		query += ` WHERE id = $6`
		args = append(args, id.String())
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to classify event: %w", err)
	}
	return expectRow(res)
}

// MarkPublished records the public URLs and flips the status to published.
func (s *SQLStore) MarkPublished(ctx context.Context, id uuid.UUID, clipURL, thumbnailURL string) error {
	query := `UPDATE events SET status = $1, clip_url = $2, thumbnail_url = $3 WHERE id = $4`
	res, err := s.db.ExecContext(ctx, query, string(StatusPublished), clipURL, thumbnailURL, id.String())
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return expectRow(res)
}

// CountPending counts unpublished events; an empty mode counts all modes.
func (s *SQLStore) CountPending(ctx context.Context, mode Mode) (int, error) {
	query := `SELECT COUNT(*) FROM events WHERE status = $1`
	args := []interface{}{string(StatusPending)}
	if mode != "" {
		query += ` AND mode = $2`
		args = append(args, string(mode))
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// Delete removes the row; files are the caller's concern.
func (s *SQLStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return expectRow(res)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row scanner) (*Event, error) {
	var (
		e             Event
		id            string
		mode, status  string
		lat, lon, spd sql.NullFloat64
	)
	err := row.Scan(
		&id, &e.CreatedAt, &e.DurationSeconds, &mode, &status, &e.Degraded,
		&e.LocalPath, &e.ThumbnailPath, &e.ClipURL, &e.ThumbnailURL,
		&lat, &lon, &spd, &e.Locality, &e.Region,
		&e.EventType, &e.Severity, &e.Priority, &e.Note, &e.Rating,
	)
	if err != nil {
		return nil, err
	}

	e.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid event id %q: %w", id, err)
	}
	e.Mode = Mode(mode)
	e.Status = Status(status)
	e.Latitude = floatPtr(lat)
	e.Longitude = floatPtr(lon)
	e.SpeedKmh = floatPtr(spd)
	return &e, nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}
