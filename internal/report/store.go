package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // registers the "postgres" driver
)

// Store persists reports in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database handle. The schema must already exist;
// see Migrate.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to the database at dsn, verifies the connection and applies
// pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("report: open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("report: postgres connection failed: %w", err)
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return NewStore(db), nil
}

// Record inserts a report.
func (s *Store) Record(ctx context.Context, e Entry) error {
	const query = `
		INSERT INTO reports (reporter_id, reporter_name, reported_id, reported_name, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		e.ReporterID,
		e.ReporterName,
		e.ReportedID,
		e.ReportedName,
		e.Reason,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("report: insert: %w", err)
	}
	return nil
}

// CountRecent returns how many reports named reportedID within window.
func (s *Store) CountRecent(ctx context.Context, reportedID string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM reports
		WHERE reported_id = $1
		  AND created_at >= $2`

	var count int
	err := s.db.QueryRowContext(ctx, query, reportedID, time.Now().Add(-window)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("report: count recent: %w", err)
	}
	return count, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
