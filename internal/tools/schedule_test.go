package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/primehq/prime/pkg/models"
)

type fakeScheduler struct {
	jobs    []models.CronJob
	removed []string
}

func (f *fakeScheduler) AddJob(_ context.Context, job *models.CronJob) error {
	f.jobs = append(f.jobs, *job)
	return nil
}

func (f *fakeScheduler) RemoveJob(_ context.Context, id string) error {
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeScheduler) ListJobs(_ context.Context, agentID string) ([]models.CronJob, error) {
	var out []models.CronJob
	for _, j := range f.jobs {
		if j.AgentID == agentID {
			out = append(out, j)
		}
	}
	return out, nil
}

type fakeRegistrar struct {
	hooks []models.Webhook
}

func (f *fakeRegistrar) RegisterWebhook(_ context.Context, hook *models.Webhook) error {
	f.hooks = append(f.hooks, *hook)
	return nil
}

func (f *fakeRegistrar) ListWebhooks(_ context.Context, agentID string) ([]models.Webhook, error) {
	return f.hooks, nil
}

func TestCronAddFillsJobFields(t *testing.T) {
	sched := &fakeScheduler{}
	tool := &CronAddTool{Scheduler: sched}

	call := callWith("", `{"name":"digest","schedule":"0 9 * * *","message":"morning digest"}`)
	call.AgentID = "agent-1"
	out, err := tool.Execute(context.Background(), call)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(sched.jobs) != 1 {
		t.Fatalf("jobs = %d", len(sched.jobs))
	}
	job := sched.jobs[0]
	if job.ID == "" || !job.Active || job.AgentID != "agent-1" || job.Schedule != "0 9 * * *" {
		t.Errorf("unexpected job: %+v", job)
	}
	if !strings.Contains(out, job.ID) {
		t.Errorf("output %q missing job ID", out)
	}
}

func TestCronListScopedToAgent(t *testing.T) {
	sched := &fakeScheduler{jobs: []models.CronJob{
		{ID: "j1", Name: "mine", Schedule: "* * * * *", AgentID: "agent-1", Active: true},
		{ID: "j2", Name: "other", Schedule: "* * * * *", AgentID: "agent-2", Active: true},
	}}
	tool := &CronListTool{Scheduler: sched}

	call := callWith("", `{}`)
	call.AgentID = "agent-1"
	out, err := tool.Execute(context.Background(), call)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "j1") || strings.Contains(out, "j2") {
		t.Errorf("output = %q", out)
	}
}

func TestCronRemove(t *testing.T) {
	sched := &fakeScheduler{}
	tool := &CronRemoveTool{Scheduler: sched}
	if _, err := tool.Execute(context.Background(), callWith("", `{"id":"j9"}`)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(sched.removed) != 1 || sched.removed[0] != "j9" {
		t.Errorf("removed = %v", sched.removed)
	}
}

func TestWebhookRegisterNormalizesPath(t *testing.T) {
	reg := &fakeRegistrar{}
	tool := &WebhookRegisterTool{Registrar: reg}

	call := callWith("", `{"name":"deploys","path":"/deploys","message_template":"deploy: {body}"}`)
	call.AgentID = "agent-1"
	out, err := tool.Execute(context.Background(), call)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(reg.hooks) != 1 {
		t.Fatalf("hooks = %d", len(reg.hooks))
	}
	if reg.hooks[0].Path != "deploys" {
		t.Errorf("path = %q, want leading slash stripped", reg.hooks[0].Path)
	}
	if !strings.Contains(out, "/hooks/deploys") {
		t.Errorf("output = %q", out)
	}
}

type fakeStatus map[string]any

func (f fakeStatus) Status(context.Context) map[string]any { return f }

func TestGatewayStatusRendersJSON(t *testing.T) {
	tool := &GatewayStatusTool{Reporter: fakeStatus{"clients": 3, "uptime": "2h"}}
	out, err := tool.Execute(context.Background(), callWith("", `{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, `"clients": 3`) || !strings.Contains(out, `"uptime": "2h"`) {
		t.Errorf("output = %q", out)
	}
}
