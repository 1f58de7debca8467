package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
)

// Open opens a PostgreSQL handle. sql.Open does not connect; use Ping to
// check reachability.
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// Connect upgrades the schema, then opens the database and checks that it
// answers.
func Connect(ctx context.Context, databaseURL string, logger *slog.Logger) (*sql.DB, error) {
	schema, err := Upgrade(databaseURL)
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "database schema ready", slog.Uint64("version", uint64(schema.Version)))

	db, err := Open(databaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
