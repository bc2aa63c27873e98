package gen

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Flag mirrors a row of the flags table.
type Flag struct {
	Key            string
	Description    pgtype.Text
	Enabled        bool
	Rollout        int32
	Expression     *string
	Config         []byte
	TargetingRules []byte
	Env            string
	UpdatedAt      pgtype.Timestamptz
	Segments       []byte
	Dependencies   []string
}

// UpsertFlagParams are the parameters for UpsertFlag.
type UpsertFlagParams struct {
	Key            string
	Description    pgtype.Text
	Enabled        bool
	Rollout        int32
	Expression     *string
	Config         []byte
	TargetingRules []byte
	Env            string
	Segments       []byte
	Dependencies   []string
}

// DeleteFlagParams are the parameters for DeleteFlag.
type DeleteFlagParams struct {
	Key string
	Env string
}

const getAllFlagsSQL = `
SELECT key, description, enabled, rollout, expression, config, targeting_rules, env, updated_at, segments, dependencies
FROM flags
WHERE env = $1
ORDER BY key`

// GetAllFlags returns every flag row for env.
func (q *Queries) GetAllFlags(ctx context.Context, env string) ([]Flag, error) {
	rows, err := q.db.Query(ctx, getAllFlagsSQL, env)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flags []Flag
	for rows.Next() {
		var f Flag
		if err := rows.Scan(&f.Key, &f.Description, &f.Enabled, &f.Rollout, &f.Expression, &f.Config, &f.TargetingRules, &f.Env, &f.UpdatedAt, &f.Segments, &f.Dependencies); err != nil {
			return nil, err
		}
		flags = append(flags, f)
	}
	return flags, rows.Err()
}

const getFlagByKeySQL = `
SELECT key, description, enabled, rollout, expression, config, targeting_rules, env, updated_at, segments, dependencies
FROM flags
WHERE key = $1
LIMIT 1`

// GetFlagByKey returns the flag row for key, or pgx.ErrNoRows if absent.
func (q *Queries) GetFlagByKey(ctx context.Context, key string) (Flag, error) {
	var f Flag
	err := q.db.QueryRow(ctx, getFlagByKeySQL, key).
		Scan(&f.Key, &f.Description, &f.Enabled, &f.Rollout, &f.Expression, &f.Config, &f.TargetingRules, &f.Env, &f.UpdatedAt, &f.Segments, &f.Dependencies)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Flag{}, pgx.ErrNoRows
		}
		return Flag{}, err
	}
	return f, nil
}

const upsertFlagSQL = `
INSERT INTO flags (key, env, description, enabled, rollout, expression, config, targeting_rules, segments, dependencies, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
ON CONFLICT (key, env) DO UPDATE SET
  description = EXCLUDED.description,
  enabled = EXCLUDED.enabled,
  rollout = EXCLUDED.rollout,
  expression = EXCLUDED.expression,
  config = EXCLUDED.config,
  targeting_rules = EXCLUDED.targeting_rules,
  segments = EXCLUDED.segments,
  dependencies = EXCLUDED.dependencies,
  updated_at = now()`

// UpsertFlag creates or updates a flag row keyed on (key, env).
func (q *Queries) UpsertFlag(ctx context.Context, params UpsertFlagParams) error {
	_, err := q.db.Exec(ctx, upsertFlagSQL,
		params.Key, params.Env, params.Description, params.Enabled, params.Rollout,
		params.Expression, params.Config, params.TargetingRules, params.Segments, params.Dependencies)
	return err
}

const deleteFlagSQL = `DELETE FROM flags WHERE key = $1 AND env = $2`

// DeleteFlag removes a flag row; it is idempotent.
func (q *Queries) DeleteFlag(ctx context.Context, params DeleteFlagParams) error {
	_, err := q.db.Exec(ctx, deleteFlagSQL, params.Key, params.Env)
	return err
}
