// Package scheduler runs the orchestrator's periodic background work:
// agent health polling and completed-workflow eviction.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/corpacademy/coursegen/pkg/agent"
	"github.com/corpacademy/coursegen/pkg/eventbus"
	"github.com/corpacademy/coursegen/pkg/events"
	"github.com/corpacademy/coursegen/pkg/store"
)

const evictionSchedule = "@hourly"

// Scheduler polls agent health on the configured cron schedule and
// publishes an event whenever an agent's health flips. It also trims the
// store's completed history periodically.
type Scheduler struct {
	agents *agent.Client
	store  store.Store
	bus    eventbus.EventBus
	logger *slog.Logger
	cron   *cron.Cron

	mu       sync.Mutex
	lastSeen map[agent.Name]bool
}

func New(agents *agent.Client, workflowStore store.Store, bus eventbus.EventBus, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		agents:   agents,
		store:    workflowStore,
		bus:      bus,
		logger:   logger.With("module", "scheduler"),
		cron:     cron.New(),
		lastSeen: make(map[agent.Name]bool),
	}
}

// Start registers the jobs and starts the cron runner. healthSchedule is
// a cron expression (robfig syntax, descriptors allowed).
func (s *Scheduler) Start(ctx context.Context, healthSchedule string) error {
	if _, err := s.cron.AddFunc(healthSchedule, func() {
		s.pollHealth(ctx)
	}); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(evictionSchedule, func() {
		s.evict(ctx)
	}); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Scheduler started", "health_schedule", healthSchedule)

	return nil
}

// Stop stops the cron runner and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}

func (s *Scheduler) pollHealth(ctx context.Context) {
	statuses := s.agents.CheckAll(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	for name, status := range statuses {
		previous, seen := s.lastSeen[name]
		s.lastSeen[name] = status.Healthy

		if seen && previous == status.Healthy {
			continue
		}

		s.logger.InfoContext(ctx, "Agent health changed",
			"agent", string(name), "healthy", status.Healthy, "detail", status.Detail)

		if s.bus == nil {
			continue
		}

		event := events.AgentHealthChanged{
			BaseEvent: events.BaseEvent{
				ID:        s.bus.GenerateID(),
				Type:      events.AgentHealthChangedEvent,
				Timestamp: time.Now().UTC(),
			},

			Agent:   string(name),
			Healthy: status.Healthy,
			Detail:  status.Detail,
		}

		if err := s.bus.Publish(ctx, string(events.AgentHealthChangedEvent), event); err != nil {
			s.logger.Warn("Failed to publish agent health event", "agent", string(name), "error", err)
		}
	}
}

func (s *Scheduler) evict(ctx context.Context) {
	if err := s.store.Evict(ctx); err != nil {
		s.logger.Warn("Failed to evict completed workflows", "error", err)
	}
}
