package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Connect opens a Postgres connection, verifies it, and pins the session
// timezone to UTC for consistent time handling.
func Connect(databaseURL string) (*sql.DB, error) {
	pg, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := pg.Ping(); err != nil {
		pg.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pg.Exec("SET TIME ZONE 'UTC'"); err != nil {
		pg.Close()
		return nil, fmt.Errorf("failed to set timezone to UTC: %w", err)
	}

	return pg, nil
}
