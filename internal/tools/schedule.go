package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/primehq/prime/internal/agent"
	"github.com/primehq/prime/pkg/models"
)

// Scheduler manages cron jobs for agents. Implemented by the cron
// service so tool-created jobs land in the same scheduler as
// operator-created ones.
type Scheduler interface {
	AddJob(ctx context.Context, job *models.CronJob) error
	RemoveJob(ctx context.Context, id string) error
	ListJobs(ctx context.Context, agentID string) ([]models.CronJob, error)
}

// WebhookRegistrar manages inbound webhooks.
type WebhookRegistrar interface {
	RegisterWebhook(ctx context.Context, hook *models.Webhook) error
	ListWebhooks(ctx context.Context, agentID string) ([]models.Webhook, error)
}

// StatusReporter reports gateway health for the gateway_status tool.
type StatusReporter interface {
	Status(ctx context.Context) map[string]any
}

// CronAddTool schedules a recurring agent invocation.
type CronAddTool struct {
	Scheduler Scheduler
}

func (t *CronAddTool) Name() string { return "cron_add" }

func (t *CronAddTool) Description() string {
	return "Schedule a recurring message to this agent using a 5-field cron expression."
}

func (t *CronAddTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string", "description": "Job name."},
			"schedule": {"type": "string", "description": "Cron expression, e.g. */5 * * * *."},
			"message": {"type": "string", "description": "Message delivered to the agent on each run."}
		},
		"required": ["name", "schedule", "message"]
	}`)
}

func (t *CronAddTool) Execute(ctx context.Context, call *agent.ToolCall) (string, error) {
	var in struct {
		Name     string `json:"name"`
		Schedule string `json:"schedule"`
		Message  string `json:"message"`
	}
	if err := json.Unmarshal(call.Args, &in); err != nil {
		return "", err
	}
	job := &models.CronJob{
		ID:        uuid.NewString(),
		Name:      in.Name,
		Schedule:  in.Schedule,
		Message:   in.Message,
		AgentID:   call.AgentID,
		Active:    true,
		CreatedAt: time.Now(),
	}
	if err := t.Scheduler.AddJob(ctx, job); err != nil {
		return "", fmt.Errorf("add cron job: %w", err)
	}
	return "scheduled job " + job.ID, nil
}

// CronRemoveTool removes a scheduled job.
type CronRemoveTool struct {
	Scheduler Scheduler
}

func (t *CronRemoveTool) Name() string { return "cron_remove" }

func (t *CronRemoveTool) Description() string {
	return "Remove a scheduled cron job by ID."
}

func (t *CronRemoveTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"id": {"type": "string", "description": "Job ID."}
		},
		"required": ["id"]
	}`)
}

func (t *CronRemoveTool) Execute(ctx context.Context, call *agent.ToolCall) (string, error) {
	var in struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(call.Args, &in); err != nil {
		return "", err
	}
	if err := t.Scheduler.RemoveJob(ctx, in.ID); err != nil {
		return "", fmt.Errorf("remove cron job: %w", err)
	}
	return "removed job " + in.ID, nil
}

// CronListTool lists this agent's scheduled jobs.
type CronListTool struct {
	Scheduler Scheduler
}

func (t *CronListTool) Name() string { return "cron_list" }

func (t *CronListTool) Description() string {
	return "List scheduled cron jobs for this agent."
}

func (t *CronListTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (t *CronListTool) Execute(ctx context.Context, call *agent.ToolCall) (string, error) {
	jobs, err := t.Scheduler.ListJobs(ctx, call.AgentID)
	if err != nil {
		return "", fmt.Errorf("list cron jobs: %w", err)
	}
	if len(jobs) == 0 {
		return "no cron jobs", nil
	}
	var b strings.Builder
	for _, j := range jobs {
		fmt.Fprintf(&b, "%s  %q  %s  active=%v\n", j.ID, j.Name, j.Schedule, j.Active)
	}
	return strings.TrimSpace(b.String()), nil
}

// WebhookRegisterTool creates an inbound webhook that triggers the agent.
type WebhookRegisterTool struct {
	Registrar WebhookRegistrar
}

func (t *WebhookRegisterTool) Name() string { return "webhook_register" }

func (t *WebhookRegisterTool) Description() string {
	return "Register an inbound webhook path that triggers this agent with a templated message."
}

func (t *WebhookRegisterTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string", "description": "Webhook name."},
			"path": {"type": "string", "description": "URL path under /hooks/."},
			"message_template": {"type": "string", "description": "Template interpolated with payload fields."}
		},
		"required": ["name", "path"]
	}`)
}

func (t *WebhookRegisterTool) Execute(ctx context.Context, call *agent.ToolCall) (string, error) {
	var in struct {
		Name            string `json:"name"`
		Path            string `json:"path"`
		MessageTemplate string `json:"message_template"`
	}
	if err := json.Unmarshal(call.Args, &in); err != nil {
		return "", err
	}
	hook := &models.Webhook{
		ID:              uuid.NewString(),
		Name:            in.Name,
		Path:            strings.TrimPrefix(in.Path, "/"),
		MessageTemplate: in.MessageTemplate,
		AgentID:         call.AgentID,
		Active:          true,
		CreatedAt:       time.Now(),
	}
	if err := t.Registrar.RegisterWebhook(ctx, hook); err != nil {
		return "", fmt.Errorf("register webhook: %w", err)
	}
	return fmt.Sprintf("registered webhook %s at /hooks/%s", hook.ID, hook.Path), nil
}

// WebhookListTool lists this agent's webhooks.
type WebhookListTool struct {
	Registrar WebhookRegistrar
}

func (t *WebhookListTool) Name() string { return "webhook_list" }

func (t *WebhookListTool) Description() string {
	return "List registered webhooks for this agent."
}

func (t *WebhookListTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (t *WebhookListTool) Execute(ctx context.Context, call *agent.ToolCall) (string, error) {
	hooks, err := t.Registrar.ListWebhooks(ctx, call.AgentID)
	if err != nil {
		return "", fmt.Errorf("list webhooks: %w", err)
	}
	if len(hooks) == 0 {
		return "no webhooks", nil
	}
	var b strings.Builder
	for _, h := range hooks {
		fmt.Fprintf(&b, "%s  /hooks/%s  active=%v\n", h.ID, h.Path, h.Active)
	}
	return strings.TrimSpace(b.String()), nil
}

// GatewayStatusTool reports gateway health.
type GatewayStatusTool struct {
	Reporter StatusReporter
}

func (t *GatewayStatusTool) Name() string { return "gateway_status" }

func (t *GatewayStatusTool) Description() string {
	return "Report gateway status: connected clients, uptime, and subsystem health."
}

func (t *GatewayStatusTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (t *GatewayStatusTool) Execute(ctx context.Context, _ *agent.ToolCall) (string, error) {
	status := t.Reporter.Status(ctx)
	payload, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode status: %w", err)
	}
	return string(payload), nil
}
