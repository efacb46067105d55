package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB wraps the embedded store holding the pending operation log and the
// error ledger. Both survive process restarts.
type DB struct {
	db     *sql.DB
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{db: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS pending_operations (
            id TEXT PRIMARY KEY,
            op_type TEXT NOT NULL,
            owner_id TEXT NOT NULL,
            payload TEXT NOT NULL,
            priority INTEGER NOT NULL DEFAULT 1,
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            next_retry_at DATETIME
        )`,
		`CREATE TABLE IF NOT EXISTS sync_errors (
            id TEXT PRIMARY KEY,
            operation_id TEXT NOT NULL,
            op_type TEXT NOT NULL,
            payload TEXT,
            message TEXT NOT NULL,
            failed_at DATETIME NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_pending_priority ON pending_operations(priority DESC, created_at ASC)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_next_retry ON pending_operations(next_retry_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_errors_failed_at ON sync_errors(failed_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}
