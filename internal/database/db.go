package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

const (
	maxOpenConns    = 10
	connMaxLifetime = 30 * time.Minute
)

// Database represents the database connection and operations
type Database struct {
	DB *sql.DB
}

// New creates a new Database instance
func New(ctx context.Context, dsn string) (*Database, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	// Verify connection
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Database{DB: db}, nil
}

// Init creates the required tables if they don't exist and adds columns
// introduced after the first schema.
func (d *Database) Init(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS detections (
			id BIGSERIAL PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			image_path TEXT NOT NULL DEFAULT '',
			confidence DOUBLE PRECISION NOT NULL,
			is_mounting BOOLEAN NOT NULL DEFAULT FALSE,
			details TEXT NOT NULL DEFAULT ''
		)`,
		`ALTER TABLE detections ADD COLUMN IF NOT EXISTS barn_id TEXT NOT NULL DEFAULT 'Unknown'`,
		`ALTER TABLE detections ADD COLUMN IF NOT EXISTS class_name TEXT NOT NULL DEFAULT 'Unknown'`,
		`CREATE INDEX IF NOT EXISTS detections_barn_id_idx ON detections (barn_id)`,
		`CREATE TABLE IF NOT EXISTS cameras (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			source TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range statements {
		if _, err := d.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.DB.Close()
}
