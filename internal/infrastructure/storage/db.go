package storage

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schema string

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// Schema returns the DDL with change notifications sent on channel.
func Schema(channel string) string {
	return strings.ReplaceAll(schema, "{{channel}}", pq.QuoteLiteral(channel))
}

// Migrate applies the embedded schema. It is safe to run repeatedly.
func Migrate(ctx context.Context, db *sqlx.DB, channel string) error {
	if _, err := db.ExecContext(ctx, Schema(channel)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
