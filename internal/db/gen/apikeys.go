package gen

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// ApiKeyRole is the role column of api_keys (readonly, admin, superadmin).
type ApiKeyRole string

// ApiKey mirrors a row of the api_keys table.
type ApiKey struct {
	ID         pgtype.UUID
	Name       string
	KeyHash    string
	Role       ApiKeyRole
	Enabled    bool
	CreatedBy  string
	CreatedAt  pgtype.Timestamptz
	ExpiresAt  pgtype.Timestamptz
	LastUsedAt pgtype.Timestamptz
}

// CreateAPIKeyParams are the parameters for CreateAPIKey.
type CreateAPIKeyParams struct {
	Name      string
	KeyHash   string
	Role      ApiKeyRole
	Enabled   bool
	ExpiresAt pgtype.Timestamptz
	CreatedBy string
}

const createAPIKeySQL = `
INSERT INTO api_keys (name, key_hash, role, enabled, expires_at, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
RETURNING id, name, key_hash, role, enabled, created_by, created_at, expires_at, last_used_at`

// CreateAPIKey inserts a new API key row and returns it.
func (q *Queries) CreateAPIKey(ctx context.Context, params CreateAPIKeyParams) (ApiKey, error) {
	var k ApiKey
	err := q.db.QueryRow(ctx, createAPIKeySQL,
		params.Name, params.KeyHash, params.Role, params.Enabled, params.ExpiresAt, params.CreatedBy,
	).Scan(&k.ID, &k.Name, &k.KeyHash, &k.Role, &k.Enabled, &k.CreatedBy, &k.CreatedAt, &k.ExpiresAt, &k.LastUsedAt)
	return k, err
}

const listAPIKeysSQL = `
SELECT id, name, key_hash, role, enabled, created_by, created_at, expires_at, last_used_at
FROM api_keys
ORDER BY created_at DESC`

// ListAPIKeys returns every API key row, including disabled ones.
func (q *Queries) ListAPIKeys(ctx context.Context) ([]ApiKey, error) {
	rows, err := q.db.Query(ctx, listAPIKeysSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []ApiKey
	for rows.Next() {
		var k ApiKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.Role, &k.Enabled, &k.CreatedBy, &k.CreatedAt, &k.ExpiresAt, &k.LastUsedAt); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

const getAPIKeyByIDSQL = `
SELECT id, name, key_hash, role, enabled, created_by, created_at, expires_at, last_used_at
FROM api_keys
WHERE id = $1
LIMIT 1`

// GetAPIKeyByID returns a single API key row, or pgx.ErrNoRows if absent.
func (q *Queries) GetAPIKeyByID(ctx context.Context, id pgtype.UUID) (ApiKey, error) {
	var k ApiKey
	err := q.db.QueryRow(ctx, getAPIKeyByIDSQL, id).
		Scan(&k.ID, &k.Name, &k.KeyHash, &k.Role, &k.Enabled, &k.CreatedBy, &k.CreatedAt, &k.ExpiresAt, &k.LastUsedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ApiKey{}, pgx.ErrNoRows
		}
		return ApiKey{}, err
	}
	return k, nil
}

const revokeAPIKeySQL = `UPDATE api_keys SET enabled = false WHERE id = $1`

// RevokeAPIKey disables an API key; it does not delete the row so audit
// history referencing it stays intact.
func (q *Queries) RevokeAPIKey(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, revokeAPIKeySQL, id)
	return err
}

const updateAPIKeyLastUsedSQL = `UPDATE api_keys SET last_used_at = now() WHERE id = $1`

// UpdateAPIKeyLastUsed stamps an API key's last_used_at to now.
func (q *Queries) UpdateAPIKeyLastUsed(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, updateAPIKeyLastUsedSQL, id)
	return err
}
