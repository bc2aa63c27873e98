// Package gen holds the database access layer for the control plane,
// hand-written against the same sqlc-shaped Queries/DBTX/*Params call
// contract that internal/store, internal/audit, internal/webhook,
// internal/repo and internal/api already code against (this module never
// shipped the sqlc-generated source, only its call sites).
package gen

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, matching sqlc's
// generated interface so Queries can run against a pool or a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries wraps a DBTX with the control plane's flag, API key, audit log,
// and webhook persistence operations.
type Queries struct {
	db DBTX
}

// New constructs Queries backed by db.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns Queries bound to tx, for callers that need to run several
// statements atomically.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}
