// Package audit writes job-lifecycle events to a Postgres table for
// historical reporting. The broker never reads this back — restarting it
// still starts with empty queues, preserving spec.md's no-persistence
// non-goal for live queue state.
package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"
)

// DB wraps the audit database connection.
type DB struct {
	*sql.DB
}

// Connect opens and pings a Postgres connection.
func Connect(connectionString string) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("audit: failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &DB{db}, nil
}

// RunMigrations executes every .sql file in migrationsDir, in name order.
func (db *DB) RunMigrations(migrationsDir string) error {
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("audit: failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		fmt.Printf("audit: running migration %s\n", filename)
		path := filepath.Join(migrationsDir, filename)
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("audit: failed to read migration %s: %w", filename, err)
		}
		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("audit: failed to execute migration %s: %w", filename, err)
		}
	}

	fmt.Println("audit: all migrations completed")
	return nil
}

// InsertJobEvent records one job-lifecycle transition.
func (db *DB) InsertJobEvent(row *JobEventRow) error {
	query := `
		INSERT INTO job_events (handle, function_name, priority, kind, occurred_at, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	return db.QueryRow(
		query,
		row.Handle,
		row.Function,
		row.Priority,
		row.Kind,
		row.OccurredAt,
		row.RecordedAt,
	).Scan(&row.ID)
}
