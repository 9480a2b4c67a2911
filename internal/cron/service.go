// Package cron runs the time- and webhook-driven triggers: persisted
// 5-field cron jobs fired against synthetic agent sessions, and
// webhook deliveries interpolated into agent turns.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/primehq/prime/pkg/models"
)

const defaultTickInterval = 15 * time.Second

// Store persists trigger definitions.
type Store interface {
	CreateCronJob(ctx context.Context, job *models.CronJob) error
	UpdateCronJob(ctx context.Context, job *models.CronJob) error
	DeleteCronJob(ctx context.Context, id string) error
	ListCronJobs(ctx context.Context, agentID string) ([]models.CronJob, error)
	ListActiveCronJobs(ctx context.Context) ([]models.CronJob, error)

	CreateWebhook(ctx context.Context, hook *models.Webhook) error
	ListWebhooks(ctx context.Context, agentID string) ([]models.Webhook, error)
}

// AgentInvoker fires a message as a user turn against a synthetic
// session for the agent. Implemented by the channel pipeline wiring.
type AgentInvoker interface {
	Invoke(ctx context.Context, agentID, message, origin string) error
}

// Service owns the scheduler loop and the trigger CRUD surface. It
// implements the schedule tool interfaces, so tool-created jobs land
// in the same loop as operator-created ones.
type Service struct {
	store   Store
	invoker AgentInvoker
	gron    *gronx.Gronx
	logger  *slog.Logger

	now  func() time.Time
	tick time.Duration

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
}

// Option configures the service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTickInterval overrides the scheduler tick interval.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.tick = interval
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService builds the trigger service.
func NewService(store Store, invoker AgentInvoker, opts ...Option) *Service {
	s := &Service{
		store:   store,
		invoker: invoker,
		gron:    gronx.New(),
		logger:  slog.Default(),
		now:     time.Now,
		tick:    defaultTickInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "cron")
	return s
}

// AddJob validates the schedule and persists the job.
func (s *Service) AddJob(ctx context.Context, job *models.CronJob) error {
	if strings.TrimSpace(job.Name) == "" {
		return fmt.Errorf("cron job name is required")
	}
	if !s.gron.IsValid(job.Schedule) {
		return fmt.Errorf("invalid cron expression %q", job.Schedule)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Active = true
	job.CreatedAt = s.now()
	return s.store.CreateCronJob(ctx, job)
}

// RemoveJob deletes a job by id.
func (s *Service) RemoveJob(ctx context.Context, id string) error {
	return s.store.DeleteCronJob(ctx, id)
}

// ListJobs returns the agent's jobs.
func (s *Service) ListJobs(ctx context.Context, agentID string) ([]models.CronJob, error) {
	return s.store.ListCronJobs(ctx, agentID)
}

// Start runs the scheduler loop until the context is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runDue(ctx)
			}
		}
	}()
}

// Stop waits for the loop to drain.
func (s *Service) Stop() {
	s.wg.Wait()
}

// runDue fires every active job whose schedule matches the current
// minute. A job failure is logged and does not disable the job.
func (s *Service) runDue(ctx context.Context) {
	jobs, err := s.store.ListActiveCronJobs(ctx)
	if err != nil {
		s.logger.Error("listing cron jobs failed", "error", err)
		return
	}
	now := s.now()
	minute := now.Truncate(time.Minute)

	for i := range jobs {
		job := jobs[i]
		if job.LastRunAt != nil && !job.LastRunAt.Before(minute) {
			continue
		}
		due, err := s.gron.IsDue(job.Schedule, now)
		if err != nil {
			s.logger.Warn("cron expression rejected", "job", job.Name, "schedule", job.Schedule, "error", err)
			continue
		}
		if !due {
			continue
		}

		ran := now
		job.LastRunAt = &ran
		if err := s.store.UpdateCronJob(ctx, &job); err != nil {
			s.logger.Error("recording cron run failed", "job", job.Name, "error", err)
			continue
		}

		if err := s.invoker.Invoke(ctx, job.AgentID, job.Message, "cron:"+job.Name); err != nil {
			s.logger.Error("cron job failed", "job", job.Name, "agent", job.AgentID, "error", err)
			continue
		}
		s.logger.Info("cron job fired", "job", job.Name, "agent", job.AgentID)
	}
}
