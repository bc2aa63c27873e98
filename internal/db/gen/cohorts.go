package gen

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Cohort mirrors a row of the cohorts table.
type Cohort struct {
	ID           string
	GroupType    string
	MemberIDs    []string
	LastComputed pgtype.Timestamptz
}

// UpsertCohortParams are the parameters for UpsertCohort.
type UpsertCohortParams struct {
	ID           string
	GroupType    string
	MemberIDs    []string
	LastComputed pgtype.Timestamptz
}

const upsertCohortSQL = `
INSERT INTO cohorts (id, group_type, member_ids, last_computed)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
  group_type = EXCLUDED.group_type,
  member_ids = EXCLUDED.member_ids,
  last_computed = EXCLUDED.last_computed`

// UpsertCohort creates or replaces a cohort row.
func (q *Queries) UpsertCohort(ctx context.Context, params UpsertCohortParams) error {
	_, err := q.db.Exec(ctx, upsertCohortSQL, params.ID, params.GroupType, params.MemberIDs, params.LastComputed)
	return err
}

const getCohortSQL = `
SELECT id, group_type, member_ids, last_computed
FROM cohorts
WHERE id = $1
LIMIT 1`

// GetCohort returns a single cohort row, or pgx.ErrNoRows if absent.
func (q *Queries) GetCohort(ctx context.Context, id string) (Cohort, error) {
	var c Cohort
	err := q.db.QueryRow(ctx, getCohortSQL, id).Scan(&c.ID, &c.GroupType, &c.MemberIDs, &c.LastComputed)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Cohort{}, pgx.ErrNoRows
		}
		return Cohort{}, err
	}
	return c, nil
}

const listCohortsSQL = `SELECT id, group_type, member_ids, last_computed FROM cohorts ORDER BY id`

// ListCohorts returns every cohort row.
func (q *Queries) ListCohorts(ctx context.Context) ([]Cohort, error) {
	rows, err := q.db.Query(ctx, listCohortsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cohorts []Cohort
	for rows.Next() {
		var c Cohort
		if err := rows.Scan(&c.ID, &c.GroupType, &c.MemberIDs, &c.LastComputed); err != nil {
			return nil, err
		}
		cohorts = append(cohorts, c)
	}
	return cohorts, rows.Err()
}
