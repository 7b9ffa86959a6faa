package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"hagw/pixie-gateway/internal/model"

	_ "modernc.org/sqlite"
)

// Fixed-width so that text ordering matches time ordering.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps the SQLite audit database. Nothing in it is read back by the
// positioning engine.
type Store struct {
	db *sql.DB
}

// Open initializes the database connection, creating directories as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InitSchema ensures the audit tables exist.
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS positioning_faults (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			tag TEXT,
			detail TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_positioning_faults_created ON positioning_faults(created_at);`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			id TEXT PRIMARY KEY,
			service TEXT NOT NULL,
			method TEXT NOT NULL,
			status INTEGER NOT NULL,
			error TEXT,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_created ON deliveries(created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	return s.db.PingContext(ctx)
}

// InsertFault records a positioning or upstream failure.
func (s *Store) InsertFault(ctx context.Context, f model.Fault) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	createdAt := f.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var tag sql.NullString
	if f.Tag != "" {
		tag = sql.NullString{String: f.Tag, Valid: true}
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO positioning_faults (kind, tag, detail, created_at) VALUES (?, ?, ?, ?);`,
		f.Kind,
		tag,
		f.Detail,
		createdAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("insert fault: %w", err)
	}
	return nil
}

// RecentFaults returns the newest faults first.
func (s *Store) RecentFaults(ctx context.Context, limit int) ([]model.Fault, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryFaults(ctx,
		`SELECT kind, tag, detail, created_at FROM positioning_faults ORDER BY created_at DESC, id DESC LIMIT ?;`,
		limit)
}

// AllFaults returns every fault ordered oldest first.
func (s *Store) AllFaults(ctx context.Context) ([]model.Fault, error) {
	return s.queryFaults(ctx,
		`SELECT kind, tag, detail, created_at FROM positioning_faults ORDER BY created_at ASC, id ASC;`)
}

func (s *Store) queryFaults(ctx context.Context, query string, args ...any) ([]model.Fault, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query faults: %w", err)
	}
	defer rows.Close()

	faults := []model.Fault{}
	for rows.Next() {
		var (
			kind, detail, createdStr string
			tag                      sql.NullString
		)
		if err := rows.Scan(&kind, &tag, &detail, &createdStr); err != nil {
			return nil, fmt.Errorf("scan fault: %w", err)
		}

		faults = append(faults, model.Fault{
			Kind:      kind,
			Tag:       tag.String,
			Detail:    detail,
			CreatedAt: parseTimestamp(createdStr),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate faults: %w", err)
	}

	return faults, nil
}

// InsertDelivery records a message handed to the Service Edge.
func (s *Store) InsertDelivery(ctx context.Context, d model.Delivery) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var errText sql.NullString
	if d.Error != "" {
		errText = sql.NullString{String: d.Error, Valid: true}
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO deliveries (id, service, method, status, error, created_at) VALUES (?, ?, ?, ?, ?, ?);`,
		d.ID,
		d.Service,
		d.Method,
		d.Status,
		errText,
		createdAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

// RecentDeliveries returns the newest deliveries first.
func (s *Store) RecentDeliveries(ctx context.Context, limit int) ([]model.Delivery, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, service, method, status, error, created_at
		 FROM deliveries
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?;`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := []model.Delivery{}
	for rows.Next() {
		var (
			d          model.Delivery
			errText    sql.NullString
			createdStr string
		)
		if err := rows.Scan(&d.ID, &d.Service, &d.Method, &d.Status, &errText, &createdStr); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		d.Error = errText.String
		d.CreatedAt = parseTimestamp(createdStr)
		deliveries = append(deliveries, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}

	return deliveries, nil
}

// WipeData removes all audit rows.
func (s *Store) WipeData(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	stmts := []string{
		`DELETE FROM positioning_faults;`,
		`DELETE FROM deliveries;`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("wipe data: %w", err)
		}
	}

	return nil
}

func parseTimestamp(v string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		ts, _ = time.Parse("2006-01-02T15:04:05Z07:00", v)
	}
	return ts
}
