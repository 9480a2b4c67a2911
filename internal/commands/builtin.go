package commands

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/primehq/prime/internal/bus"
	"github.com/primehq/prime/internal/dmpolicy"
	"github.com/primehq/prime/internal/routing"
	"github.com/primehq/prime/pkg/models"
)

// TaskStore persists asynchronous tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error
	ListTasks(ctx context.Context, orgID string, limit int) ([]*models.Task, error)
}

// AgentSource looks up agent configuration for policy checks.
type AgentSource interface {
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
}

// HealthSource reports process health.
type HealthSource interface {
	Health(ctx context.Context) map[string]any
}

// Deps wires the built-in method handlers.
type Deps struct {
	Tasks    TaskStore
	Agents   AgentSource
	Resolver *routing.Resolver
	Policy   *dmpolicy.Evaluator
	Health   HealthSource
	Events   *bus.Bus
}

// RegisterBuiltins installs the standard method table.
func RegisterBuiltins(b *Bus, deps Deps) {
	b.Register("health.get", "health.read", healthGet(deps))
	b.Register("tasks.list", "tasks.read", tasksList(deps))
	b.RegisterSideEffect("tasks.create", "tasks.write", tasksCreate(deps))
	b.RegisterSideEffect("tasks.retry", "tasks.write", tasksRetry(deps))
	b.Register("bindings.resolve", "routing.read", bindingsResolve(deps))
	b.Register("policy.dm_check", "policy.read", policyDMCheck(deps))
}

func healthGet(deps Deps) HandlerFunc {
	return func(ctx context.Context, claims Claims, params json.RawMessage) (any, error) {
		if deps.Health == nil {
			return map[string]any{"status": "ok"}, nil
		}
		return deps.Health.Health(ctx), nil
	}
}

func tasksList(deps Deps) HandlerFunc {
	return func(ctx context.Context, claims Claims, params json.RawMessage) (any, error) {
		var in struct {
			Limit int `json:"limit"`
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &in); err != nil {
				return nil, errf(CodeInvalidParams, "tasks.list: %v", err)
			}
		}
		if in.Limit <= 0 || in.Limit > 200 {
			in.Limit = 50
		}
		tasks, err := deps.Tasks.ListTasks(ctx, claims.OrgID, in.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"tasks": tasks}, nil
	}
}

func tasksCreate(deps Deps) HandlerFunc {
	return func(ctx context.Context, claims Claims, params json.RawMessage) (any, error) {
		var in struct {
			Kind   string         `json:"kind"`
			Params map[string]any `json:"params"`
		}
		if err := json.Unmarshal(params, &in); err != nil {
			return nil, errf(CodeInvalidParams, "tasks.create: %v", err)
		}
		if in.Kind == "" {
			return nil, errf(CodeInvalidParams, "tasks.create: kind is required")
		}
		now := time.Now()
		task := &models.Task{
			ID:        uuid.NewString(),
			OrgID:     claims.OrgID,
			Kind:      in.Kind,
			Params:    in.Params,
			Status:    models.TaskQueued,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := deps.Tasks.CreateTask(ctx, task); err != nil {
			return nil, err
		}
		publishTask(deps.Events, task)
		return map[string]any{"task": task}, nil
	}
}

func tasksRetry(deps Deps) HandlerFunc {
	return func(ctx context.Context, claims Claims, params json.RawMessage) (any, error) {
		var in struct {
			TaskID string `json:"task_id"`
		}
		if err := json.Unmarshal(params, &in); err != nil {
			return nil, errf(CodeInvalidParams, "tasks.retry: %v", err)
		}
		task, err := deps.Tasks.GetTask(ctx, in.TaskID)
		if err != nil {
			return nil, err
		}
		if task == nil || task.OrgID != claims.OrgID {
			return nil, errf(CodeNotFound, "tasks.retry: task %q not found", in.TaskID)
		}
		if task.Status != models.TaskFailed {
			return nil, errf(CodeInvalidParams, "tasks.retry: task is %s, only failed tasks retry", task.Status)
		}
		task.Status = models.TaskQueued
		task.Error = ""
		task.UpdatedAt = time.Now()
		if err := deps.Tasks.UpdateTask(ctx, task); err != nil {
			return nil, err
		}
		publishTask(deps.Events, task)
		return map[string]any{"task": task}, nil
	}
}

func bindingsResolve(deps Deps) HandlerFunc {
	return func(ctx context.Context, claims Claims, params json.RawMessage) (any, error) {
		var in struct {
			Channel   string `json:"channel"`
			BotID     string `json:"bot_id"`
			AccountID string `json:"account_id"`
			Peer      string `json:"peer"`
		}
		if err := json.Unmarshal(params, &in); err != nil {
			return nil, errf(CodeInvalidParams, "bindings.resolve: %v", err)
		}
		channel := models.ChannelType(in.Channel)
		if !channel.Valid() {
			return nil, errf(CodeInvalidParams, "bindings.resolve: invalid channel %q", in.Channel)
		}
		binding, err := deps.Resolver.Resolve(ctx, routing.Query{
			Channel:   channel,
			BotID:     in.BotID,
			AccountID: in.AccountID,
			Peer:      in.Peer,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"binding": binding}, nil
	}
}

func policyDMCheck(deps Deps) HandlerFunc {
	return func(ctx context.Context, claims Claims, params json.RawMessage) (any, error) {
		var in struct {
			AgentID      string `json:"agent_id"`
			Channel      string `json:"channel"`
			AccountID    string `json:"account_id"`
			Peer         string `json:"peer"`
			SenderUserID string `json:"sender_user_id"`
			SenderName   string `json:"sender_name"`
			IsGroup      bool   `json:"is_group"`
			BotMentioned bool   `json:"bot_mentioned"`
		}
		if err := json.Unmarshal(params, &in); err != nil {
			return nil, errf(CodeInvalidParams, "policy.dm_check: %v", err)
		}
		agent, err := deps.Agents.GetAgent(ctx, in.AgentID)
		if err != nil {
			return nil, err
		}
		if agent == nil {
			return nil, errf(CodeNotFound, "policy.dm_check: agent %q not found", in.AgentID)
		}
		decision, err := deps.Policy.Evaluate(ctx, agent, dmpolicy.Context{
			Channel:      models.ChannelType(in.Channel),
			AccountID:    in.AccountID,
			Peer:         in.Peer,
			SenderUserID: in.SenderUserID,
			SenderName:   in.SenderName,
			IsGroup:      in.IsGroup,
			BotMentioned: in.BotMentioned,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"allowed": decision.Allowed,
			"reason":  decision.Reason,
		}, nil
	}
}

func publishTask(events *bus.Bus, task *models.Task) {
	if events == nil {
		return
	}
	events.Publish(bus.TopicTaskUpdated, map[string]any{
		"task_id": task.ID,
		"kind":    task.Kind,
		"status":  string(task.Status),
	})
}
