// Package store is the Postgres implementation of the delivery engine's
// persistence contracts. Every state transition is a single conditional
// statement, so concurrent runs and workers can share the tables without
// application-level locks.
package store

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/newsletter/internal/engine"
	"github.com/dmitrymomot/newsletter/internal/tasks"
	"github.com/dmitrymomot/newsletter/internal/tracking"
)

//go:embed migrations/*.sql
var embedded embed.FS

// Migrations holds the goose migrations at its root, ready for db.Migrate.
var Migrations = mustSub(embedded, "migrations")

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

// DB is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store runs queries against a DB.
type Store struct {
	db DB
	sq sq.StatementBuilderType
}

var (
	_ engine.Store        = (*Store)(nil)
	_ tracking.Store      = (*Store)(nil)
	_ tasks.ClaimReleaser = (*Store)(nil)
	_ tasks.StatsSyncer   = (*Store)(nil)
)

// New creates a Store.
func New(db DB) *Store {
	return &Store{
		db: db,
		sq: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Postgres error codes the store translates.
const foreignKeyViolation = "23503"

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}

// likePattern escapes s for use inside ILIKE '%...%'.
func likePattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// nullString maps "" to SQL NULL.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
