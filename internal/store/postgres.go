package store

import (
	"context"
	"encoding/json"
	"errors"

	dbgen "github.com/TimurManjosov/goflagship/internal/db/gen"
	"github.com/TimurManjosov/goflagship/internal/rules"
	sdkrules "github.com/TimurManjosov/goflagship/internal/sdk/rules"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a PostgreSQL implementation of the Store interface.
// It wraps the existing sqlc-generated queries for database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
	q    *dbgen.Queries
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool: pool,
		q:    dbgen.New(pool),
	}
}

// GetAllFlags retrieves all flags for the given environment from the database.
func (p *PostgresStore) GetAllFlags(ctx context.Context, env string) ([]Flag, error) {
	dbFlags, err := p.q.GetAllFlags(ctx, env)
	if err != nil {
		return nil, err
	}

	flags := make([]Flag, 0, len(dbFlags))
	for _, dbFlag := range dbFlags {
		flag, err := p.convertFromDB(dbFlag)
		if err != nil {
			return nil, err
		}
		flags = append(flags, flag)
	}

	return flags, nil
}

// GetFlagByKey retrieves a single flag by its key from the database.
func (p *PostgresStore) GetFlagByKey(ctx context.Context, key string) (*Flag, error) {
	dbFlag, err := p.q.GetFlagByKey(ctx, key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.New("flag not found")
		}
		return nil, err
	}

	flag, err := p.convertFromDB(dbFlag)
	if err != nil {
		return nil, err
	}

	return &flag, nil
}

// UpsertFlag creates or updates a flag in the database.
func (p *PostgresStore) UpsertFlag(ctx context.Context, params UpsertParams) error {
	// Convert config map to JSON bytes
	var configBytes []byte
	if params.Config != nil {
		b, err := json.Marshal(params.Config)
		if err != nil {
			return err
		}
		configBytes = b
	} else {
		configBytes = []byte("{}")
	}

	var rulesBytes []byte
	if params.TargetingRules != nil {
		b, err := json.Marshal(params.TargetingRules)
		if err != nil {
			return err
		}
		rulesBytes = b
	} else {
		rulesBytes = []byte("[]")
	}

	var segmentsBytes []byte
	if params.Segments != nil {
		b, err := json.Marshal(params.Segments)
		if err != nil {
			return err
		}
		segmentsBytes = b
	} else {
		segmentsBytes = []byte("[]")
	}

	dbParams := dbgen.UpsertFlagParams{
		Key:            params.Key,
		Description:    pgtype.Text{String: params.Description, Valid: true},
		Enabled:        params.Enabled,
		Rollout:        params.Rollout,
		Expression:     params.Expression,
		Config:         configBytes,
		TargetingRules: rulesBytes,
		Env:            params.Env,
		Segments:       segmentsBytes,
		Dependencies:   params.Dependencies,
	}

	return p.q.UpsertFlag(ctx, dbParams)
}

// DeleteFlag removes a flag from the database.
func (p *PostgresStore) DeleteFlag(ctx context.Context, key, env string) error {
	return p.q.DeleteFlag(ctx, dbgen.DeleteFlagParams{
		Key: key,
		Env: env,
	})
}

// Close closes the database connection pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

// GetQueries exposes the underlying dbgen.Queries for callers (webhook and
// API key handlers) that need direct database access beyond the Store
// interface's flag-only surface.
func (p *PostgresStore) GetQueries() *dbgen.Queries {
	return p.q
}

// ListAPIKeys delegates to dbgen, satisfying auth.KeyStore and
// api.PostgresStoreInterface.
func (p *PostgresStore) ListAPIKeys(ctx context.Context) ([]dbgen.ApiKey, error) {
	return p.q.ListAPIKeys(ctx)
}

// CreateAPIKey delegates to dbgen.
func (p *PostgresStore) CreateAPIKey(ctx context.Context, params dbgen.CreateAPIKeyParams) (dbgen.ApiKey, error) {
	return p.q.CreateAPIKey(ctx, params)
}

// GetAPIKeyByID delegates to dbgen.
func (p *PostgresStore) GetAPIKeyByID(ctx context.Context, id pgtype.UUID) (dbgen.ApiKey, error) {
	return p.q.GetAPIKeyByID(ctx, id)
}

// RevokeAPIKey delegates to dbgen.
func (p *PostgresStore) RevokeAPIKey(ctx context.Context, id pgtype.UUID) error {
	return p.q.RevokeAPIKey(ctx, id)
}

// UpdateAPIKeyLastUsed delegates to dbgen, satisfying auth.KeyStore.
func (p *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id pgtype.UUID) error {
	return p.q.UpdateAPIKeyLastUsed(ctx, id)
}

// ListAuditLogs delegates to dbgen.
func (p *PostgresStore) ListAuditLogs(ctx context.Context, params dbgen.ListAuditLogsParams) ([]dbgen.AuditLog, error) {
	return p.q.ListAuditLogs(ctx, params)
}

// CountAuditLogs delegates to dbgen.
func (p *PostgresStore) CountAuditLogs(ctx context.Context, params dbgen.CountAuditLogsParams) (int64, error) {
	return p.q.CountAuditLogs(ctx, params)
}

// CreateAuditLog delegates to dbgen.
func (p *PostgresStore) CreateAuditLog(ctx context.Context, params dbgen.CreateAuditLogParams) error {
	return p.q.CreateAuditLog(ctx, params)
}

// convertFromDB converts a database Flag to a store Flag.
func (p *PostgresStore) convertFromDB(dbFlag dbgen.Flag) (Flag, error) {
	var config map[string]any
	if len(dbFlag.Config) > 0 {
		if err := json.Unmarshal(dbFlag.Config, &config); err != nil {
			return Flag{}, err
		}
	}

	description := ""
	if dbFlag.Description.Valid {
		description = dbFlag.Description.String
	}

	targetingRules, err := unmarshalTargetingRules(dbFlag.TargetingRules)
	if err != nil {
		return Flag{}, err
	}

	var segments []sdkrules.Segment
	if len(dbFlag.Segments) > 0 {
		if err := json.Unmarshal(dbFlag.Segments, &segments); err != nil {
			return Flag{}, err
		}
	}

	return Flag{
		Key:            dbFlag.Key,
		Description:    description,
		Enabled:        dbFlag.Enabled,
		Rollout:        dbFlag.Rollout,
		Expression:     dbFlag.Expression,
		Config:         config,
		TargetingRules: targetingRules,
		Env:            dbFlag.Env,
		UpdatedAt:      dbFlag.UpdatedAt.Time,
		Segments:       segments,
		Dependencies:   dbFlag.Dependencies,
	}, nil
}

// UpsertCohort creates or replaces a cohort row.
func (p *PostgresStore) UpsertCohort(ctx context.Context, params UpsertCohortParams) error {
	return p.q.UpsertCohort(ctx, dbgen.UpsertCohortParams{
		ID:           params.ID,
		GroupType:    params.GroupType,
		MemberIDs:    params.MemberIDs,
		LastComputed: pgtype.Timestamptz{Time: params.LastComputed, Valid: true},
	})
}

// GetCohort retrieves a cohort by id.
func (p *PostgresStore) GetCohort(ctx context.Context, id string) (*Cohort, error) {
	dbCohort, err := p.q.GetCohort(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.New("cohort not found")
		}
		return nil, err
	}
	cohort := Cohort{
		ID:           dbCohort.ID,
		GroupType:    dbCohort.GroupType,
		Size:         len(dbCohort.MemberIDs),
		MemberIDs:    dbCohort.MemberIDs,
		LastComputed: dbCohort.LastComputed.Time,
	}
	return &cohort, nil
}

// ListCohorts returns every cohort.
func (p *PostgresStore) ListCohorts(ctx context.Context) ([]Cohort, error) {
	dbCohorts, err := p.q.ListCohorts(ctx)
	if err != nil {
		return nil, err
	}
	cohorts := make([]Cohort, 0, len(dbCohorts))
	for _, dbCohort := range dbCohorts {
		cohorts = append(cohorts, Cohort{
			ID:           dbCohort.ID,
			GroupType:    dbCohort.GroupType,
			Size:         len(dbCohort.MemberIDs),
			MemberIDs:    dbCohort.MemberIDs,
			LastComputed: dbCohort.LastComputed.Time,
		})
	}
	return cohorts, nil
}

// unmarshalTargetingRules decodes a flag's targeting_rules JSONB column,
// treating a null, empty, or missing column as zero rules rather than an
// error.
func unmarshalTargetingRules(raw json.RawMessage) ([]rules.Rule, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return ensureRulesInitialized(nil), nil
	}
	var rs []rules.Rule
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, err
	}
	return ensureRulesInitialized(rs), nil
}

// ensureRulesInitialized normalizes a nil rule slice to empty so callers
// can always range over the result without a nil check.
func ensureRulesInitialized(rs []rules.Rule) []rules.Rule {
	if rs == nil {
		return []rules.Rule{}
	}
	return rs
}
