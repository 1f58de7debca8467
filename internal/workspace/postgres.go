package workspace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresBackend stores workspaces in the workspaces table created by the
// database migrations.
type PostgresBackend struct {
	db *sql.DB
}

// NewPostgresBackend returns a backend over db.
func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

func (b *PostgresBackend) Load(ctx context.Context, login string) (string, bool, error) {
	var blob string
	err := b.db.QueryRowContext(ctx,
		`SELECT content FROM workspaces WHERE login = $1`, login,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query workspace: %w", err)
	}
	return blob, true, nil
}

func (b *PostgresBackend) Save(ctx context.Context, login, blob string) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO workspaces (login, content, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (login) DO UPDATE
		SET content = EXCLUDED.content, updated_at = EXCLUDED.updated_at`,
		login, blob,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert workspace: %w", err)
	}
	return nil
}
