package models

import "time"

// CronJob is a persisted time-driven agent invocation. Schedule is a
// standard 5-field cron expression.
type CronJob struct {
	ID        string     `json:"id"`
	OrgID     string     `json:"org_id"`
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	Message   string     `json:"message"`
	AgentID   string     `json:"agent_id"`
	Active    bool       `json:"active"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Webhook is an HTTP-driven agent invocation. Inbound payload fields are
// interpolated into MessageTemplate before dispatch.
type Webhook struct {
	ID              string    `json:"id"`
	OrgID           string    `json:"org_id"`
	Name            string    `json:"name"`
	Path            string    `json:"path"`
	MessageTemplate string    `json:"message_template"`
	AgentID         string    `json:"agent_id"`
	Secret          string    `json:"-"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
}

// TaskStatus is the lifecycle state of a gateway task.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
)

// Task is a unit of asynchronous work created through the command bus.
type Task struct {
	ID        string         `json:"id"`
	OrgID     string         `json:"org_id"`
	Kind      string         `json:"kind"`
	Params    map[string]any `json:"params,omitempty"`
	Status    TaskStatus     `json:"status"`
	Attempts  int            `json:"attempts"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
