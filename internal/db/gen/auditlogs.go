package gen

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

// AuditLog mirrors a row of the audit_logs table.
type AuditLog struct {
	ID           pgtype.UUID
	Timestamp    pgtype.Timestamptz
	Action       string
	ResourceType pgtype.Text
	ResourceID   pgtype.Text
	ProjectID    pgtype.Text
	Environment  pgtype.Text
	BeforeState  []byte
	AfterState   []byte
	Changes      []byte
	IpAddress    string
	UserAgent    string
	RequestID    pgtype.Text
	ApiKeyID     pgtype.UUID
	UserEmail    pgtype.Text
	Status       int32
	ErrorMessage pgtype.Text
	Resource     pgtype.Text
	Details      []byte
}

// CreateAuditLogParams are the parameters for CreateAuditLog.
type CreateAuditLogParams struct {
	Action       string
	IpAddress    string
	UserAgent    string
	Status       int32
	ApiKeyID     pgtype.UUID
	UserEmail    pgtype.Text
	ResourceType pgtype.Text
	ResourceID   pgtype.Text
	ProjectID    pgtype.Text
	Environment  pgtype.Text
	RequestID    pgtype.Text
	ErrorMessage pgtype.Text
	Resource     pgtype.Text
	BeforeState  []byte
	AfterState   []byte
	Changes      []byte
	Details      []byte
}

// ListAuditLogsParams are the parameters for ListAuditLogs, also reused
// (minus Limit/Offset) as the filter for CountAuditLogs.
type ListAuditLogsParams struct {
	Limit        int32
	Offset       int32
	ProjectID    pgtype.Text
	ResourceType pgtype.Text
	ResourceID   pgtype.Text
	Action       pgtype.Text
	StartDate    pgtype.Timestamptz
	EndDate      pgtype.Timestamptz
}

// CountAuditLogsParams are the filter parameters for CountAuditLogs.
type CountAuditLogsParams struct {
	ProjectID    pgtype.Text
	ResourceType pgtype.Text
	ResourceID   pgtype.Text
	Action       pgtype.Text
	StartDate    pgtype.Timestamptz
	EndDate      pgtype.Timestamptz
}

const createAuditLogSQL = `
INSERT INTO audit_logs (
  action, ip_address, user_agent, status, api_key_id, user_email,
  resource_type, resource_id, project_id, environment, request_id,
  error_message, resource, before_state, after_state, changes, details, timestamp
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, now())`

// CreateAuditLog inserts a new audit log row.
func (q *Queries) CreateAuditLog(ctx context.Context, params CreateAuditLogParams) error {
	_, err := q.db.Exec(ctx, createAuditLogSQL,
		params.Action, params.IpAddress, params.UserAgent, params.Status, params.ApiKeyID, params.UserEmail,
		params.ResourceType, params.ResourceID, params.ProjectID, params.Environment, params.RequestID,
		params.ErrorMessage, params.Resource, params.BeforeState, params.AfterState, params.Changes, params.Details)
	return err
}

const listAuditLogsSQL = `
SELECT id, timestamp, action, resource_type, resource_id, project_id, environment,
       before_state, after_state, changes, ip_address, user_agent, request_id,
       api_key_id, user_email, status, error_message, resource
FROM audit_logs
WHERE ($1::text IS NULL OR project_id = $1)
  AND ($2::text IS NULL OR resource_type = $2)
  AND ($3::text IS NULL OR resource_id = $3)
  AND ($4::text IS NULL OR action = $4)
  AND ($5::timestamptz IS NULL OR timestamp >= $5)
  AND ($6::timestamptz IS NULL OR timestamp <= $6)
ORDER BY timestamp DESC
LIMIT $7 OFFSET $8`

// ListAuditLogs returns a page of audit log rows matching params' filters.
func (q *Queries) ListAuditLogs(ctx context.Context, params ListAuditLogsParams) ([]AuditLog, error) {
	rows, err := q.db.Query(ctx, listAuditLogsSQL,
		params.ProjectID, params.ResourceType, params.ResourceID, params.Action, params.StartDate, params.EndDate,
		params.Limit, params.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []AuditLog
	for rows.Next() {
		var l AuditLog
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Action, &l.ResourceType, &l.ResourceID, &l.ProjectID, &l.Environment,
			&l.BeforeState, &l.AfterState, &l.Changes, &l.IpAddress, &l.UserAgent, &l.RequestID,
			&l.ApiKeyID, &l.UserEmail, &l.Status, &l.ErrorMessage, &l.Resource); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

const countAuditLogsSQL = `
SELECT count(*)
FROM audit_logs
WHERE ($1::text IS NULL OR project_id = $1)
  AND ($2::text IS NULL OR resource_type = $2)
  AND ($3::text IS NULL OR resource_id = $3)
  AND ($4::text IS NULL OR action = $4)
  AND ($5::timestamptz IS NULL OR timestamp >= $5)
  AND ($6::timestamptz IS NULL OR timestamp <= $6)`

// CountAuditLogs counts audit log rows matching params' filters.
func (q *Queries) CountAuditLogs(ctx context.Context, params CountAuditLogsParams) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countAuditLogsSQL,
		params.ProjectID, params.ResourceType, params.ResourceID, params.Action, params.StartDate, params.EndDate,
	).Scan(&count)
	return count, err
}
