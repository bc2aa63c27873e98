package gen

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Webhook mirrors a row of the webhooks table.
type Webhook struct {
	ID              pgtype.UUID
	Url             string
	Description     pgtype.Text
	Enabled         bool
	Events          []string
	ProjectID       pgtype.UUID
	Environments    []string
	Secret          string
	MaxRetries      int32
	TimeoutSeconds  int32
	CreatedAt       pgtype.Timestamptz
	UpdatedAt       pgtype.Timestamptz
	LastTriggeredAt pgtype.Timestamptz
}

// CreateWebhookParams are the parameters for CreateWebhook.
type CreateWebhookParams struct {
	Url            string
	Description    pgtype.Text
	Enabled        bool
	Events         []string
	ProjectID      pgtype.UUID
	Environments   []string
	Secret         string
	MaxRetries     int32
	TimeoutSeconds int32
}

// UpdateWebhookParams are the parameters for UpdateWebhook.
type UpdateWebhookParams struct {
	ID             pgtype.UUID
	Url            string
	Description    pgtype.Text
	Enabled        bool
	Events         []string
	ProjectID      pgtype.UUID
	Environments   []string
	MaxRetries     int32
	TimeoutSeconds int32
}

// WebhookDelivery mirrors a row of the webhook_deliveries table.
type WebhookDelivery struct {
	ID           pgtype.UUID
	WebhookID    pgtype.UUID
	EventType    string
	Payload      []byte
	StatusCode   pgtype.Int4
	ResponseBody pgtype.Text
	ErrorMessage pgtype.Text
	DurationMs   pgtype.Int4
	Success      bool
	RetryCount   int32
	Timestamp    pgtype.Timestamptz
}

// CreateWebhookDeliveryParams are the parameters for CreateWebhookDelivery.
type CreateWebhookDeliveryParams struct {
	WebhookID    pgtype.UUID
	EventType    string
	Payload      []byte
	StatusCode   pgtype.Int4
	ResponseBody pgtype.Text
	ErrorMessage pgtype.Text
	DurationMs   pgtype.Int4
	Success      bool
	RetryCount   int32
}

// ListWebhookDeliveriesParams are the parameters for ListWebhookDeliveries.
type ListWebhookDeliveriesParams struct {
	WebhookID pgtype.UUID
	Limit     int32
	Offset    int32
}

const createWebhookSQL = `
INSERT INTO webhooks (url, description, enabled, events, project_id, environments, secret, max_retries, timeout_seconds, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
RETURNING id, url, description, enabled, events, project_id, environments, secret, max_retries, timeout_seconds, created_at, updated_at, last_triggered_at`

// CreateWebhook inserts a new webhook row and returns it.
func (q *Queries) CreateWebhook(ctx context.Context, params CreateWebhookParams) (Webhook, error) {
	var w Webhook
	err := q.db.QueryRow(ctx, createWebhookSQL,
		params.Url, params.Description, params.Enabled, params.Events, params.ProjectID, params.Environments,
		params.Secret, params.MaxRetries, params.TimeoutSeconds,
	).Scan(&w.ID, &w.Url, &w.Description, &w.Enabled, &w.Events, &w.ProjectID, &w.Environments,
		&w.Secret, &w.MaxRetries, &w.TimeoutSeconds, &w.CreatedAt, &w.UpdatedAt, &w.LastTriggeredAt)
	return w, err
}

const listWebhooksSQL = `
SELECT id, url, description, enabled, events, project_id, environments, secret, max_retries, timeout_seconds, created_at, updated_at, last_triggered_at
FROM webhooks
ORDER BY created_at DESC`

// ListWebhooks returns every webhook row.
func (q *Queries) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	return q.queryWebhooks(ctx, listWebhooksSQL)
}

const getActiveWebhooksSQL = `
SELECT id, url, description, enabled, events, project_id, environments, secret, max_retries, timeout_seconds, created_at, updated_at, last_triggered_at
FROM webhooks
WHERE enabled = true`

// GetActiveWebhooks returns every enabled webhook row, used by the
// dispatcher to find delivery candidates for an event.
func (q *Queries) GetActiveWebhooks(ctx context.Context) ([]Webhook, error) {
	return q.queryWebhooks(ctx, getActiveWebhooksSQL)
}

func (q *Queries) queryWebhooks(ctx context.Context, sql string, args ...any) ([]Webhook, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var webhooks []Webhook
	for rows.Next() {
		var w Webhook
		if err := rows.Scan(&w.ID, &w.Url, &w.Description, &w.Enabled, &w.Events, &w.ProjectID, &w.Environments,
			&w.Secret, &w.MaxRetries, &w.TimeoutSeconds, &w.CreatedAt, &w.UpdatedAt, &w.LastTriggeredAt); err != nil {
			return nil, err
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

const getWebhookSQL = `
SELECT id, url, description, enabled, events, project_id, environments, secret, max_retries, timeout_seconds, created_at, updated_at, last_triggered_at
FROM webhooks
WHERE id = $1
LIMIT 1`

// GetWebhook returns a single webhook row, or pgx.ErrNoRows if absent.
func (q *Queries) GetWebhook(ctx context.Context, id pgtype.UUID) (Webhook, error) {
	var w Webhook
	err := q.db.QueryRow(ctx, getWebhookSQL, id).
		Scan(&w.ID, &w.Url, &w.Description, &w.Enabled, &w.Events, &w.ProjectID, &w.Environments,
			&w.Secret, &w.MaxRetries, &w.TimeoutSeconds, &w.CreatedAt, &w.UpdatedAt, &w.LastTriggeredAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Webhook{}, pgx.ErrNoRows
		}
		return Webhook{}, err
	}
	return w, nil
}

const updateWebhookSQL = `
UPDATE webhooks SET
  url = $2, description = $3, enabled = $4, events = $5, project_id = $6, environments = $7,
  max_retries = $8, timeout_seconds = $9, updated_at = now()
WHERE id = $1`

// UpdateWebhook updates a webhook row's mutable fields.
func (q *Queries) UpdateWebhook(ctx context.Context, params UpdateWebhookParams) error {
	_, err := q.db.Exec(ctx, updateWebhookSQL,
		params.ID, params.Url, params.Description, params.Enabled, params.Events, params.ProjectID,
		params.Environments, params.MaxRetries, params.TimeoutSeconds)
	return err
}

const deleteWebhookSQL = `DELETE FROM webhooks WHERE id = $1`

// DeleteWebhook removes a webhook row.
func (q *Queries) DeleteWebhook(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, deleteWebhookSQL, id)
	return err
}

const updateWebhookLastTriggeredSQL = `UPDATE webhooks SET last_triggered_at = now() WHERE id = $1`

// UpdateWebhookLastTriggered stamps a webhook's last_triggered_at to now.
func (q *Queries) UpdateWebhookLastTriggered(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, updateWebhookLastTriggeredSQL, id)
	return err
}

const createWebhookDeliverySQL = `
INSERT INTO webhook_deliveries (webhook_id, event_type, payload, status_code, response_body, error_message, duration_ms, success, retry_count, timestamp)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
RETURNING id, webhook_id, event_type, payload, status_code, response_body, error_message, duration_ms, success, retry_count, timestamp`

// CreateWebhookDelivery records a delivery attempt and returns the row.
func (q *Queries) CreateWebhookDelivery(ctx context.Context, params CreateWebhookDeliveryParams) (WebhookDelivery, error) {
	var d WebhookDelivery
	err := q.db.QueryRow(ctx, createWebhookDeliverySQL,
		params.WebhookID, params.EventType, params.Payload, params.StatusCode, params.ResponseBody,
		params.ErrorMessage, params.DurationMs, params.Success, params.RetryCount,
	).Scan(&d.ID, &d.WebhookID, &d.EventType, &d.Payload, &d.StatusCode, &d.ResponseBody,
		&d.ErrorMessage, &d.DurationMs, &d.Success, &d.RetryCount, &d.Timestamp)
	return d, err
}

const listWebhookDeliveriesSQL = `
SELECT id, webhook_id, event_type, payload, status_code, response_body, error_message, duration_ms, success, retry_count, timestamp
FROM webhook_deliveries
WHERE webhook_id = $1
ORDER BY timestamp DESC
LIMIT $2 OFFSET $3`

// ListWebhookDeliveries returns a page of delivery rows for one webhook.
func (q *Queries) ListWebhookDeliveries(ctx context.Context, params ListWebhookDeliveriesParams) ([]WebhookDelivery, error) {
	rows, err := q.db.Query(ctx, listWebhookDeliveriesSQL, params.WebhookID, params.Limit, params.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []WebhookDelivery
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.WebhookID, &d.EventType, &d.Payload, &d.StatusCode, &d.ResponseBody,
			&d.ErrorMessage, &d.DurationMs, &d.Success, &d.RetryCount, &d.Timestamp); err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

const countWebhookDeliveriesSQL = `SELECT count(*) FROM webhook_deliveries WHERE webhook_id = $1`

// CountWebhookDeliveries counts delivery rows for one webhook.
func (q *Queries) CountWebhookDeliveries(ctx context.Context, webhookID pgtype.UUID) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countWebhookDeliveriesSQL, webhookID).Scan(&count)
	return count, err
}
