package cron

import (
	"context"
	"testing"

	"github.com/primehq/prime/pkg/models"
)

func TestRegisterWebhookNormalizesPath(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, &recordingInvoker{})

	hook := &models.Webhook{
		Name:            "deploys",
		Path:            "/ci/deploys/",
		MessageTemplate: "deploy {status}",
		AgentID:         "a1",
	}
	if err := svc.RegisterWebhook(context.Background(), hook); err != nil {
		t.Fatalf("RegisterWebhook: %v", err)
	}
	if hook.Path != "ci/deploys" {
		t.Fatalf("expected trimmed path, got %q", hook.Path)
	}
	if hook.ID == "" || !hook.Active {
		t.Fatalf("expected id and active flag, got %+v", hook)
	}

	if err := svc.RegisterWebhook(context.Background(), &models.Webhook{Name: "nopath", AgentID: "a1"}); err == nil {
		t.Fatal("expected missing path to be rejected")
	}
}

func TestDispatchWebhookInterpolatesPayload(t *testing.T) {
	store := newFakeStore()
	invoker := &recordingInvoker{}
	svc := NewService(store, invoker)

	hook := &models.Webhook{
		Name:            "deploys",
		Path:            "ci/deploys",
		MessageTemplate: "deploy of {service} finished: {status} ({missing})",
		AgentID:         "a1",
	}
	payload := map[string]any{"service": "api", "status": "success", "attempt": 2}

	if err := svc.DispatchWebhook(context.Background(), hook, payload); err != nil {
		t.Fatalf("DispatchWebhook: %v", err)
	}

	calls := invoker.invocations()
	if len(calls) != 1 {
		t.Fatalf("expected one invocation, got %d", len(calls))
	}
	want := "deploy of api finished: success ({missing})"
	if calls[0].Message != want {
		t.Fatalf("message = %q, want %q", calls[0].Message, want)
	}
	if calls[0].Origin != "webhook:deploys" {
		t.Fatalf("origin = %q", calls[0].Origin)
	}
	if calls[0].AgentID != "a1" {
		t.Fatalf("agent = %q", calls[0].AgentID)
	}
}

func TestDispatchWebhookRejectsEmptyMessage(t *testing.T) {
	svc := NewService(newFakeStore(), &recordingInvoker{})
	hook := &models.Webhook{Name: "blank", AgentID: "a1", MessageTemplate: "  "}
	if err := svc.DispatchWebhook(context.Background(), hook, map[string]any{}); err == nil {
		t.Fatal("expected empty rendered message to error")
	}
}
