package cron

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/primehq/prime/pkg/models"
)

// RegisterWebhook validates and persists a webhook trigger.
func (s *Service) RegisterWebhook(ctx context.Context, hook *models.Webhook) error {
	if strings.TrimSpace(hook.Name) == "" {
		return fmt.Errorf("webhook name is required")
	}
	path := strings.Trim(strings.TrimSpace(hook.Path), "/")
	if path == "" {
		return fmt.Errorf("webhook path is required")
	}
	hook.Path = path
	if hook.ID == "" {
		hook.ID = uuid.NewString()
	}
	hook.Active = true
	hook.CreatedAt = s.now()
	return s.store.CreateWebhook(ctx, hook)
}

// ListWebhooks returns the agent's webhooks.
func (s *Service) ListWebhooks(ctx context.Context, agentID string) ([]models.Webhook, error) {
	return s.store.ListWebhooks(ctx, agentID)
}

// DispatchWebhook renders the hook's message template against the
// delivery payload and fires it at the bound agent. Placeholders use
// {field} syntax and resolve against top-level payload keys; unknown
// placeholders are left verbatim so the agent sees what was missing.
func (s *Service) DispatchWebhook(ctx context.Context, hook *models.Webhook, payload map[string]any) error {
	message := renderTemplate(hook.MessageTemplate, payload)
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("webhook %s produced an empty message", hook.Name)
	}
	if err := s.invoker.Invoke(ctx, hook.AgentID, message, "webhook:"+hook.Name); err != nil {
		return fmt.Errorf("dispatching webhook %s: %w", hook.Name, err)
	}
	s.logger.Info("webhook dispatched", "webhook", hook.Name, "agent", hook.AgentID)
	return nil
}

func renderTemplate(template string, payload map[string]any) string {
	if template == "" {
		return ""
	}
	var b strings.Builder
	rest := template
	for {
		open := strings.Index(rest, "{")
		if open < 0 {
			b.WriteString(rest)
			break
		}
		close := strings.Index(rest[open:], "}")
		if close < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:open])
		key := rest[open+1 : open+close]
		if value, ok := payload[key]; ok {
			b.WriteString(fmt.Sprint(value))
		} else {
			b.WriteString(rest[open : open+close+1])
		}
		rest = rest[open+close+1:]
	}
	return b.String()
}
