package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/primehq/prime/pkg/models"
)

const cronColumns = `id, org_id, name, schedule, message, agent_id, active, last_run_at, created_at`

func scanCronJob(row interface{ Scan(...any) error }) (*models.CronJob, error) {
	var job models.CronJob
	var lastRun sql.NullTime
	if err := row.Scan(&job.ID, &job.OrgID, &job.Name, &job.Schedule, &job.Message, &job.AgentID,
		&job.Active, &lastRun, &job.CreatedAt); err != nil {
		return nil, err
	}
	if lastRun.Valid {
		t := lastRun.Time
		job.LastRunAt = &t
	}
	return &job, nil
}

// CreateCronJob inserts a scheduled trigger.
func (s *Store) CreateCronJob(ctx context.Context, job *models.CronJob) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cron_jobs (`+cronColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		job.ID, job.OrgID, job.Name, job.Schedule, job.Message, job.AgentID, job.Active,
		nullableTime(job.LastRunAt), job.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("storage: create cron job: %w", err)
	}
	return nil
}

// UpdateCronJob rewrites a trigger, including its last-run marker.
func (s *Store) UpdateCronJob(ctx context.Context, job *models.CronJob) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cron_jobs SET name = ?, schedule = ?, message = ?, agent_id = ?, active = ?, last_run_at = ? WHERE id = ?`,
		job.Name, job.Schedule, job.Message, job.AgentID, job.Active, nullableTime(job.LastRunAt), job.ID)
	if err != nil {
		return fmt.Errorf("storage: update cron job: %w", err)
	}
	return rowsAffected(res, "update cron job")
}

// DeleteCronJob removes a trigger.
func (s *Store) DeleteCronJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cron_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("storage: delete cron job: %w", err)
	}
	return rowsAffected(res, "delete cron job")
}

// ListCronJobs returns an agent's triggers (all triggers when agentID
// is empty).
func (s *Store) ListCronJobs(ctx context.Context, agentID string) ([]models.CronJob, error) {
	query := `SELECT ` + cronColumns + ` FROM cron_jobs ORDER BY created_at ASC`
	args := []any{}
	if agentID != "" {
		query = `SELECT ` + cronColumns + ` FROM cron_jobs WHERE agent_id = ? ORDER BY created_at ASC`
		args = append(args, agentID)
	}
	return s.queryCronJobs(ctx, query, args...)
}

// ListActiveCronJobs returns every enabled trigger for the scheduler.
func (s *Store) ListActiveCronJobs(ctx context.Context) ([]models.CronJob, error) {
	return s.queryCronJobs(ctx,
		`SELECT `+cronColumns+` FROM cron_jobs WHERE active = 1 ORDER BY created_at ASC`)
}

func (s *Store) queryCronJobs(ctx context.Context, query string, args ...any) ([]models.CronJob, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list cron jobs: %w", err)
	}
	defer rows.Close()

	jobs := []models.CronJob{}
	for rows.Next() {
		job, err := scanCronJob(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan cron job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list cron jobs: %w", err)
	}
	return jobs, nil
}

const webhookColumns = `id, org_id, name, path, message_template, agent_id, secret, active, created_at`

func scanWebhook(row interface{ Scan(...any) error }) (*models.Webhook, error) {
	var hook models.Webhook
	if err := row.Scan(&hook.ID, &hook.OrgID, &hook.Name, &hook.Path, &hook.MessageTemplate,
		&hook.AgentID, &hook.Secret, &hook.Active, &hook.CreatedAt); err != nil {
		return nil, err
	}
	return &hook, nil
}

// CreateWebhook inserts an HTTP trigger.
func (s *Store) CreateWebhook(ctx context.Context, hook *models.Webhook) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhooks (`+webhookColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		hook.ID, hook.OrgID, hook.Name, hook.Path, hook.MessageTemplate, hook.AgentID,
		hook.Secret, hook.Active, hook.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("storage: create webhook: %w", err)
	}
	return nil
}

// ListWebhooks returns an agent's HTTP triggers (all when agentID is
// empty).
func (s *Store) ListWebhooks(ctx context.Context, agentID string) ([]models.Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhooks ORDER BY created_at ASC`
	args := []any{}
	if agentID != "" {
		query = `SELECT ` + webhookColumns + ` FROM webhooks WHERE agent_id = ? ORDER BY created_at ASC`
		args = append(args, agentID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list webhooks: %w", err)
	}
	defer rows.Close()

	hooks := []models.Webhook{}
	for rows.Next() {
		hook, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan webhook: %w", err)
		}
		hooks = append(hooks, *hook)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list webhooks: %w", err)
	}
	return hooks, nil
}

// FindWebhookByPath resolves an active trigger for an inbound
// delivery, or nil when the path is unknown or disabled.
func (s *Store) FindWebhookByPath(ctx context.Context, path string) (*models.Webhook, error) {
	hook, err := scanWebhook(s.db.QueryRowContext(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE path = ? AND active = 1`, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: find webhook: %w", err)
	}
	return hook, nil
}

// DeleteWebhook removes an HTTP trigger.
func (s *Store) DeleteWebhook(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("storage: delete webhook: %w", err)
	}
	return rowsAffected(res, "delete webhook")
}

// nullableTime maps a nil pointer to SQL NULL.
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
