package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/primehq/prime/pkg/models"
)

const taskColumns = `id, org_id, kind, params, status, attempts, error, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	var task models.Task
	var status string
	var params []byte
	if err := row.Scan(&task.ID, &task.OrgID, &task.Kind, &params, &status, &task.Attempts,
		&task.Error, &task.CreatedAt, &task.UpdatedAt); err != nil {
		return nil, err
	}
	task.Status = models.TaskStatus(status)
	if err := unmarshalJSON(params, &task.Params); err != nil {
		return nil, err
	}
	return &task, nil
}

// CreateTask inserts a unit of asynchronous work.
func (s *Store) CreateTask(ctx context.Context, task *models.Task) error {
	params, err := marshalJSON(task.Params, "{}")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		task.ID, task.OrgID, task.Kind, params, string(task.Status), task.Attempts,
		task.Error, task.CreatedAt, task.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("storage: create task: %w", err)
	}
	return nil
}

// GetTask fetches a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	task, err := scanTask(s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get task: %w", err)
	}
	return task, nil
}

// UpdateTask rewrites a task's lifecycle fields.
func (s *Store) UpdateTask(ctx context.Context, task *models.Task) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, attempts = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(task.Status), task.Attempts, task.Error, task.UpdatedAt, task.ID)
	if err != nil {
		return fmt.Errorf("storage: update task: %w", err)
	}
	return rowsAffected(res, "update task")
}

// ListTasks returns the org's tasks, newest first.
func (s *Store) ListTasks(ctx context.Context, orgID string, limit int) ([]*models.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE org_id = ? ORDER BY created_at DESC LIMIT ?`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list tasks: %w", err)
	}
	return tasks, nil
}
