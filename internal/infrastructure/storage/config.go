package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"PleaPipeline/internal/domain"
	"PleaPipeline/internal/ports"
)

// ConfigRepository holds editable text documents such as prompts.
type ConfigRepository struct {
	db *sqlx.DB
}

var _ ports.ConfigRepository = (*ConfigRepository)(nil)

// NewConfigRepository wires a sqlx.DB implementation.
func NewConfigRepository(db *sqlx.DB) *ConfigRepository {
	return &ConfigRepository{db: db}
}

// GetText returns the document stored under key.
func (r *ConfigRepository) GetText(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.GetContext(ctx, &value, `SELECT value FROM pipeline_config WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("config %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("select config %s: %w", key, err)
	}
	return value, nil
}

// PutText replaces the document stored under key.
func (r *ConfigRepository) PutText(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO pipeline_config (key, value) VALUES ($1, $2)
              ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`, key, value)
	if err != nil {
		return fmt.Errorf("upsert config %s: %w", key, err)
	}
	return nil
}
