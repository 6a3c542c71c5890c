package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	cli "github.com/urfave/cli/v3"

	"github.com/corpacademy/coursegen/pkg/agent"
	"github.com/corpacademy/coursegen/pkg/channels/gochannel"
	"github.com/corpacademy/coursegen/pkg/config"
	"github.com/corpacademy/coursegen/pkg/eventbus"
	"github.com/corpacademy/coursegen/pkg/events"
	"github.com/corpacademy/coursegen/pkg/log"
	"github.com/corpacademy/coursegen/pkg/orchestrator"
	"github.com/corpacademy/coursegen/pkg/otelhelper"
	"github.com/corpacademy/coursegen/pkg/quality"
	"github.com/corpacademy/coursegen/pkg/scheduler"
	"github.com/corpacademy/coursegen/pkg/store"
)

func main() {
	defaults := config.Defaults()

	cmd := &cli.Command{
		Name:                  "coursegen-orchestrator",
		Usage:                 "Drive course-generation workflows across the planner, creator and QA agents",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaults.Port,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "planner-url",
				Usage:    "Base URL of the course planner agent",
				Required: true,
				Sources:  cli.EnvVars("PLANNER_URL"),
			},
			&cli.StringFlag{
				Name:     "creator-url",
				Usage:    "Base URL of the content creator agent",
				Required: true,
				Sources:  cli.EnvVars("CREATOR_URL"),
			},
			&cli.StringFlag{
				Name:     "qa-url",
				Usage:    "Base URL of the quality assurance agent",
				Required: true,
				Sources:  cli.EnvVars("QA_URL"),
			},
			&cli.DurationFlag{
				Name:    "call-timeout",
				Usage:   "Per-attempt timeout for planner and QA calls",
				Value:   defaults.CallTimeout,
				Sources: cli.EnvVars("CALL_TIMEOUT"),
			},
			&cli.DurationFlag{
				Name:    "content-timeout",
				Usage:   "Per-attempt timeout for content creation calls",
				Value:   defaults.ContentTimeout,
				Sources: cli.EnvVars("CONTENT_TIMEOUT"),
			},
			&cli.DurationFlag{
				Name:    "health-timeout",
				Usage:   "Timeout for agent health probes",
				Value:   defaults.HealthTimeout,
				Sources: cli.EnvVars("HEALTH_TIMEOUT"),
			},
			&cli.IntFlag{
				Name:    "retry-attempts",
				Usage:   "Attempts per agent call before giving up",
				Value:   defaults.RetryAttempts,
				Sources: cli.EnvVars("RETRY_ATTEMPTS"),
			},
			&cli.DurationFlag{
				Name:    "retry-delay",
				Usage:   "Base delay between retry attempts (doubles per retry)",
				Value:   defaults.RetryDelay,
				Sources: cli.EnvVars("RETRY_DELAY"),
			},
			&cli.FloatFlag{
				Name:    "planning-threshold",
				Usage:   "Minimum planning quality score to proceed",
				Value:   defaults.PlanningThreshold,
				Sources: cli.EnvVars("PLANNING_THRESHOLD"),
			},
			&cli.FloatFlag{
				Name:    "quality-threshold",
				Usage:   "Minimum QA score to complete a workflow",
				Value:   defaults.QualityThreshold,
				Sources: cli.EnvVars("QUALITY_THRESHOLD"),
			},
			&cli.IntFlag{
				Name:    "max-retries",
				Usage:   "Maximum content improvement iterations per workflow",
				Value:   defaults.MaxRetries,
				Sources: cli.EnvVars("MAX_RETRIES"),
			},
			&cli.DurationFlag{
				Name:    "workflow-deadline",
				Usage:   "Wall-clock cap per workflow (0 disables)",
				Sources: cli.EnvVars("WORKFLOW_DEADLINE"),
			},
			&cli.IntFlag{
				Name:    "completed-retention",
				Usage:   "Completed workflow records retained for querying",
				Value:   defaults.CompletedRetention,
				Sources: cli.EnvVars("COMPLETED_RETENTION"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the workflow store (empty uses in-memory)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "health-poll-schedule",
				Usage:   "Cron schedule for background agent health polling",
				Value:   defaults.HealthPollSchedule,
				Sources: cli.EnvVars("HEALTH_POLL_SCHEDULE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("api")
	logger.InfoContext(ctx, "Initializing Coursegen Orchestrator")

	tracerProvider, err := otelhelper.InitTracer(ctx, "coursegen-orchestrator")
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	defer func() {
		if err := tracerProvider.Shutdown(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
		}
	}()

	cfg := config.Config{
		PlannerURL:         command.String("planner-url"),
		CreatorURL:         command.String("creator-url"),
		QAURL:              command.String("qa-url"),
		CallTimeout:        command.Duration("call-timeout"),
		ContentTimeout:     command.Duration("content-timeout"),
		HealthTimeout:      command.Duration("health-timeout"),
		RetryAttempts:      command.Int("retry-attempts"),
		RetryDelay:         command.Duration("retry-delay"),
		PlanningThreshold:  command.Float("planning-threshold"),
		QualityThreshold:   command.Float("quality-threshold"),
		MaxRetries:         command.Int("max-retries"),
		WorkflowDeadline:   command.Duration("workflow-deadline"),
		CompletedRetention: command.Int("completed-retention"),
		RedisURL:           command.String("redis-url"),
		HealthPollSchedule: command.String("health-poll-schedule"),
		Port:               command.Int("port"),
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	agents, err := agent.NewClient(agent.Config{
		Endpoints: map[agent.Name]agent.Endpoint{
			agent.Planner: {BaseURL: cfg.PlannerURL, Timeout: cfg.CallTimeout},
			agent.Creator: {BaseURL: cfg.CreatorURL, Timeout: cfg.ContentTimeout},
			agent.QA:      {BaseURL: cfg.QAURL, Timeout: cfg.CallTimeout},
		},
		RetryAttempts: cfg.RetryAttempts,
		RetryDelay:    cfg.RetryDelay,
		HealthTimeout: cfg.HealthTimeout,
	}, logger)
	if err != nil {
		return err
	}

	workflowStore, err := newStore(cfg)
	if err != nil {
		return err
	}

	defer func() {
		if err := workflowStore.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close workflow store", "error", err)
		}
	}()

	pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
	if err != nil {
		return err
	}

	bus := eventbus.NewWatermillEventBus(pub, sub)

	defer func() {
		if err := bus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	if err := registerEventHandlers(ctx, bus); err != nil {
		return err
	}

	gates := quality.NewEvaluator(quality.Thresholds{
		Planning:   cfg.PlanningThreshold,
		Quality:    cfg.QualityThreshold,
		MaxRetries: cfg.MaxRetries,
	})

	orch := orchestrator.New(agents, gates, workflowStore, bus, logger, orchestrator.Options{
		WorkflowDeadline: cfg.WorkflowDeadline,
	})

	background := scheduler.New(agents, workflowStore, bus, logger)
	if err := background.Start(ctx, cfg.HealthPollSchedule); err != nil {
		return err
	}

	defer background.Stop()

	api := NewAPI(logger, orch, agents, workflowStore, cfg)

	return api.Start(cfg.Port)
}

// registerEventHandlers attaches a lifecycle logger to every event type and
// starts the consume loop. Handlers must be registered before Subscribe.
func registerEventHandlers(ctx context.Context, bus eventbus.EventBus) error {
	logger := log.WithModule("events")

	for _, eventType := range []events.EventType{
		events.WorkflowStartedEvent,
		events.StageCompletedEvent,
		events.WorkflowCompletedEvent,
		events.WorkflowFailedEvent,
		events.WorkflowCancelledEvent,
		events.AgentHealthChangedEvent,
	} {
		if err := bus.Handle(eventType, logEvent(logger)); err != nil {
			return err
		}
	}

	return bus.Subscribe(ctx)
}

func logEvent(logger *slog.Logger) eventbus.EventHandler {
	return func(ctx context.Context, event any) error {
		switch ev := event.(type) {
		case *events.WorkflowStarted:
			logger.InfoContext(ctx, "Workflow started",
				"workflow_id", ev.WorkflowID, "course_request_id", ev.CourseRequestID)
		case *events.StageCompleted:
			logger.InfoContext(ctx, "Stage completed",
				"workflow_id", ev.WorkflowID, "stage", ev.Stage, "status", ev.Status, "attempt", ev.Attempt)
		case *events.WorkflowCompleted:
			logger.InfoContext(ctx, "Workflow completed",
				"workflow_id", ev.WorkflowID, "quality_score", ev.QualityScore, "duration_seconds", ev.Duration)
		case *events.WorkflowFailed:
			logger.WarnContext(ctx, "Workflow failed",
				"workflow_id", ev.WorkflowID, "stage", ev.Stage, "error", ev.Error)
		case *events.WorkflowCancelled:
			logger.InfoContext(ctx, "Workflow cancelled", "workflow_id", ev.WorkflowID)
		case *events.AgentHealthChanged:
			logger.WarnContext(ctx, "Agent health changed",
				"agent", ev.Agent, "healthy", ev.Healthy, "detail", ev.Detail)
		default:
			logger.DebugContext(ctx, "Unhandled event", "event", event)
		}

		return nil
	}
}

func newStore(cfg config.Config) (store.Store, error) {
	if cfg.RedisURL != "" {
		return store.NewRedisStore(cfg.RedisURL, cfg.CompletedRetention)
	}

	return store.NewMemoryStore(cfg.CompletedRetention), nil
}
