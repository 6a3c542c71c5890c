// Package orchestrator drives the course-generation pipeline across the
// planner, creator and QA agents, keeping the workflow record in the
// store correct at every step.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/corpacademy/coursegen/pkg/agent"
	"github.com/corpacademy/coursegen/pkg/eventbus"
	"github.com/corpacademy/coursegen/pkg/events"
	"github.com/corpacademy/coursegen/pkg/models"
	"github.com/corpacademy/coursegen/pkg/otelhelper"
	"github.com/corpacademy/coursegen/pkg/quality"
	"github.com/corpacademy/coursegen/pkg/store"
)

// Stage names recorded in failure messages and events.
const (
	StagePlanning        = "planning"
	StageContentCreation = "content_creation"
	StageQualityReview   = "quality_review"
)

// Orchestrator runs the stage sequence for generation requests. Multiple
// workflows progress independently; the store is the only shared state.
type Orchestrator struct {
	agents   *agent.Client
	gates    *quality.Evaluator
	store    store.Store
	bus      eventbus.EventBus
	logger   *slog.Logger
	tracer   trace.Tracer
	deadline time.Duration

	mu      sync.Mutex
	cancels map[string]chan struct{}
}

// Options tunes orchestrator behavior beyond its collaborators.
type Options struct {
	// WorkflowDeadline caps one workflow's wall-clock time; zero means
	// no cap. The deadline is observed at stage checkpoints, like
	// cancellation, so an in-flight agent call is never interrupted.
	WorkflowDeadline time.Duration
}

func New(
	agents *agent.Client,
	gates *quality.Evaluator,
	workflowStore store.Store,
	bus eventbus.EventBus,
	logger *slog.Logger,
	opts Options,
) *Orchestrator {
	return &Orchestrator{
		agents:   agents,
		gates:    gates,
		store:    workflowStore,
		bus:      bus,
		logger:   logger.With("module", "orchestrator"),
		tracer:   otel.Tracer("coursegen-orchestrator"),
		deadline: opts.WorkflowDeadline,
		cancels:  make(map[string]chan struct{}),
	}
}

// Orchestrate runs the full state machine to completion and returns the
// terminal workflow record. Stage failures never surface as errors; the
// caller observes them via the record's status. The returned error is
// non-nil only when the workflow could not be registered at all.
func (o *Orchestrator) Orchestrate(ctx context.Context, req models.WorkflowRequest) (*models.WorkflowResult, error) {
	workflowID, err := o.register(ctx, req)
	if err != nil {
		return nil, err
	}

	// Stages run on a detached context: a caller disconnect is treated
	// as a cancellation request observed at the next checkpoint, not by
	// interrupting an in-flight agent call.
	background := context.WithoutCancel(ctx)

	stop := context.AfterFunc(ctx, func() {
		o.Cancel(background, workflowID)
	})
	defer stop()

	o.run(background, workflowID, req)

	return o.store.Get(background, workflowID)
}

// OrchestrateAsync registers the workflow and launches the state machine
// on a background task, returning the identifier immediately. The task
// always writes its terminal result into the store before exiting.
func (o *Orchestrator) OrchestrateAsync(ctx context.Context, req models.WorkflowRequest) (string, error) {
	workflowID, err := o.register(ctx, req)
	if err != nil {
		return "", err
	}

	background := context.WithoutCancel(ctx)

	go o.run(background, workflowID, req)

	return workflowID, nil
}

// Cancel flips the workflow's cancellation flag. The flag is observed at
// the next stage checkpoint; an in-flight agent call is allowed to finish
// and its result discarded. Returns false when the workflow is unknown or
// already terminal.
func (o *Orchestrator) Cancel(ctx context.Context, workflowID string) bool {
	record, err := o.store.Get(ctx, workflowID)
	if err != nil || record.Status.Terminal() {
		return false
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	cancel, exists := o.cancels[workflowID]
	if !exists {
		return false
	}

	select {
	case <-cancel:
	default:
		close(cancel)
	}

	return true
}

// Status returns the current workflow record.
func (o *Orchestrator) Status(ctx context.Context, workflowID string) (*models.WorkflowResult, error) {
	return o.store.Get(ctx, workflowID)
}

// register creates the workflow record in the store before any network
// call is made, so status is observable immediately.
func (o *Orchestrator) register(ctx context.Context, req models.WorkflowRequest) (string, error) {
	workflowID := uuid.New().String()

	result := &models.WorkflowResult{
		WorkflowID:      workflowID,
		CourseRequestID: req.CourseRequestID,
		Status:          models.WorkflowStatusInitializing,
		StartTime:       time.Now().UTC(),
	}

	if err := o.store.Create(ctx, result); err != nil {
		return "", fmt.Errorf("failed to register workflow: %w", err)
	}

	o.mu.Lock()
	o.cancels[workflowID] = make(chan struct{})
	o.mu.Unlock()

	o.publish(ctx, events.WorkflowStarted{
		BaseEvent: o.baseEvent(events.WorkflowStartedEvent, workflowID),

		CourseRequestID: req.CourseRequestID,
	})

	return workflowID, nil
}

// run executes the stage sequence. Any internal panic is converted into a
// failed terminal record; a stuck in-flight-forever record is the one
// outcome this must never produce.
func (o *Orchestrator) run(ctx context.Context, workflowID string, req models.WorkflowRequest) {
	logger := o.logger.With("workflow_id", workflowID, "course_request_id", req.CourseRequestID)

	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "workflow.run",
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
		attribute.String(otelhelper.CourseRequestIDKey, req.CourseRequestID),
	)
	defer span.End()

	defer o.forgetCancel(workflowID)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("internal orchestrator error: %v", r)
			logger.Error("Workflow task panicked", "panic", r)
			otelhelper.SetError(span, err)
			o.finalizeFailed(ctx, workflowID, "", err.Error())
		}
	}()

	var startedAt time.Time
	if record, err := o.store.Get(ctx, workflowID); err == nil {
		startedAt = record.StartTime
	} else {
		startedAt = time.Now().UTC()
	}

	deadline := time.Time{}
	if o.deadline > 0 {
		deadline = startedAt.Add(o.deadline)
	}

	logger.InfoContext(ctx, "Starting workflow")

	// Planning, bounded by the retry budget the gate enforces.
	planning, ok := o.runPlanning(ctx, workflowID, req, deadline, logger)
	if !ok {
		return
	}

	// Content creation / quality review, with the bounded improvement loop.
	var feedback *models.QAResult

	for {
		content, ok := o.runContentCreation(ctx, workflowID, req, planning, feedback, deadline, logger)
		if !ok {
			return
		}

		qa, ok := o.runQualityReview(ctx, workflowID, req, content, deadline, logger)
		if !ok {
			return
		}

		improvements := o.retryCount(ctx, workflowID)

		evaluation := o.gates.EvaluateQA(qa, improvements)
		switch evaluation.Decision {
		case quality.Pass:
			o.finalizeCompleted(ctx, workflowID, qa, logger)

			return
		case quality.Retry:
			logger.InfoContext(ctx, "Quality gate requested content improvement",
				"score", qa.OverallScore, "iteration", improvements+1)

			if !o.transition(ctx, workflowID, models.WorkflowStatusContentImprovement, func(r *models.WorkflowResult) {
				r.RetryCounts.QAImprovement++
			}) {
				return
			}

			feedback = qa
		case quality.Fail:
			logger.WarnContext(ctx, "Quality gate failed workflow", "reason", evaluation.Reason)
			o.finalizeFailed(ctx, workflowID, StageQualityReview, evaluation.Reason)

			return
		}
	}
}

func (o *Orchestrator) runPlanning(
	ctx context.Context,
	workflowID string,
	req models.WorkflowRequest,
	deadline time.Time,
	logger *slog.Logger,
) (*models.PlanningResult, bool) {
	for attempt := 0; ; attempt++ {
		if !o.checkpoint(ctx, workflowID, deadline) {
			return nil, false
		}

		if !o.transition(ctx, workflowID, models.WorkflowStatusPlanning, nil) {
			return nil, false
		}

		raw, err := o.callStage(ctx, workflowID, StagePlanning, agent.Planner, agent.PathPlanCourse, attempt+1, planPayload(req))
		if err != nil {
			o.finalizeFailed(ctx, workflowID, StagePlanning, stageError(StagePlanning, err))

			return nil, false
		}

		planning, err := decodePlanning(raw)
		if err != nil {
			o.finalizeFailed(ctx, workflowID, StagePlanning, stageError(StagePlanning, err))

			return nil, false
		}

		o.update(ctx, workflowID, func(r *models.WorkflowResult) {
			r.PlanningResult = planning
		})

		evaluation := o.gates.EvaluatePlanning(planning, attempt)
		switch evaluation.Decision {
		case quality.Pass:
			o.publishStage(ctx, workflowID, StagePlanning, models.WorkflowStatusPlanning, attempt+1)

			return planning, true
		case quality.Retry:
			logger.InfoContext(ctx, "Planning gate requested retry",
				"quality", planning.Quality, "attempt", attempt+1)
			o.update(ctx, workflowID, func(r *models.WorkflowResult) {
				r.RetryCounts.Planning++
			})
		case quality.Fail:
			o.finalizeFailed(ctx, workflowID, StagePlanning, evaluation.Reason)

			return nil, false
		}
	}
}

func (o *Orchestrator) runContentCreation(
	ctx context.Context,
	workflowID string,
	req models.WorkflowRequest,
	planning *models.PlanningResult,
	feedback *models.QAResult,
	deadline time.Time,
	logger *slog.Logger,
) (*models.ContentResult, bool) {
	if !o.checkpoint(ctx, workflowID, deadline) {
		return nil, false
	}

	if !o.transition(ctx, workflowID, models.WorkflowStatusContentCreation, nil) {
		return nil, false
	}

	iteration := o.retryCount(ctx, workflowID) + 1

	raw, err := o.callStage(ctx, workflowID, StageContentCreation, agent.Creator, agent.PathCreateLesson, iteration, contentPayload(req, planning, feedback))
	if err != nil {
		o.finalizeFailed(ctx, workflowID, StageContentCreation, stageError(StageContentCreation, err))

		return nil, false
	}

	content, err := decodeContent(raw)
	if err != nil {
		o.finalizeFailed(ctx, workflowID, StageContentCreation, stageError(StageContentCreation, err))

		return nil, false
	}

	o.update(ctx, workflowID, func(r *models.WorkflowResult) {
		r.ContentResult = content
	})

	logger.InfoContext(ctx, "Content creation finished",
		"lessons", content.LessonsCreated, "exercises", content.ExercisesCreated)
	o.publishStage(ctx, workflowID, StageContentCreation, models.WorkflowStatusContentCreation, iteration)

	return content, true
}

func (o *Orchestrator) runQualityReview(
	ctx context.Context,
	workflowID string,
	req models.WorkflowRequest,
	content *models.ContentResult,
	deadline time.Time,
	logger *slog.Logger,
) (*models.QAResult, bool) {
	if !o.checkpoint(ctx, workflowID, deadline) {
		return nil, false
	}

	if !o.transition(ctx, workflowID, models.WorkflowStatusQualityReview, nil) {
		return nil, false
	}

	iteration := o.retryCount(ctx, workflowID) + 1

	raw, err := o.callStage(ctx, workflowID, StageQualityReview, agent.QA, agent.PathReviewContent, iteration, reviewPayload(req, content))
	if err != nil {
		o.finalizeFailed(ctx, workflowID, StageQualityReview, stageError(StageQualityReview, err))

		return nil, false
	}

	qa, err := decodeQA(raw)
	if err != nil {
		o.finalizeFailed(ctx, workflowID, StageQualityReview, stageError(StageQualityReview, err))

		return nil, false
	}

	// quality_score is only ever set here, by the QA stage result.
	o.update(ctx, workflowID, func(r *models.WorkflowResult) {
		r.QAResult = qa
		score := qa.OverallScore
		r.QualityScore = &score
	})

	logger.InfoContext(ctx, "Quality review finished",
		"score", qa.OverallScore, "approved", qa.ApprovedForRelease)
	o.publishStage(ctx, workflowID, StageQualityReview, models.WorkflowStatusQualityReview, iteration)

	return qa, true
}

// callStage issues one agent call wrapped in a stage span. attempt is
// the 1-based iteration of the stage within its retry or improvement
// loop.
func (o *Orchestrator) callStage(ctx context.Context, workflowID, stage string, name agent.Name, path string, attempt int, payload any) (json.RawMessage, error) {
	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "workflow.stage."+stage,
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
		attribute.String(otelhelper.StageKey, stage),
		attribute.String(otelhelper.AgentKey, string(name)),
		attribute.Int(otelhelper.AttemptKey, attempt),
	)
	defer span.End()

	raw, err := o.agents.Call(ctx, name, path, payload)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	return raw, nil
}

// checkpoint is consulted before every stage transition. It observes
// explicit cancellation and the optional workflow deadline; when either
// has fired it finalizes the record and reports false.
func (o *Orchestrator) checkpoint(ctx context.Context, workflowID string, deadline time.Time) bool {
	if o.cancelRequested(workflowID) || ctx.Err() != nil {
		o.finalizeCancelled(ctx, workflowID)

		return false
	}

	if !deadline.IsZero() && time.Now().After(deadline) {
		o.finalizeFailed(ctx, workflowID, "", "workflow deadline exceeded")

		return false
	}

	return true
}

func (o *Orchestrator) cancelRequested(workflowID string) bool {
	o.mu.Lock()
	cancel, exists := o.cancels[workflowID]
	o.mu.Unlock()

	if !exists {
		return false
	}

	select {
	case <-cancel:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) forgetCancel(workflowID string) {
	o.mu.Lock()
	delete(o.cancels, workflowID)
	o.mu.Unlock()
}

// transition moves the record to status, applying extra mutations under
// the same store lock. Reports false when the record has already been
// finalized elsewhere.
func (o *Orchestrator) transition(ctx context.Context, workflowID string, status models.WorkflowStatus, extra func(*models.WorkflowResult)) bool {
	_, err := o.store.Update(ctx, workflowID, func(r *models.WorkflowResult) error {
		r.Status = status

		if extra != nil {
			extra(r)
		}

		return nil
	})
	if err != nil {
		o.logger.Warn("Workflow transition rejected",
			"workflow_id", workflowID, "status", string(status), "error", err)

		return false
	}

	return true
}

func (o *Orchestrator) update(ctx context.Context, workflowID string, mutate func(*models.WorkflowResult)) {
	_, err := o.store.Update(ctx, workflowID, func(r *models.WorkflowResult) error {
		mutate(r)

		return nil
	})
	if err != nil {
		o.logger.Warn("Workflow update rejected", "workflow_id", workflowID, "error", err)
	}
}

func (o *Orchestrator) retryCount(ctx context.Context, workflowID string) int {
	record, err := o.store.Get(ctx, workflowID)
	if err != nil {
		return 0
	}

	return record.RetryCounts.QAImprovement
}

// finalizeCompleted stamps the terminal completed state exactly once. A
// cancellation requested while the final QA call was in flight wins: the
// passing result is discarded and the workflow ends cancelled.
func (o *Orchestrator) finalizeCompleted(ctx context.Context, workflowID string, qa *models.QAResult, logger *slog.Logger) {
	if o.cancelRequested(workflowID) || ctx.Err() != nil {
		o.finalizeCancelled(ctx, workflowID)

		return
	}

	if !o.transition(ctx, workflowID, models.WorkflowStatusFinalizing, nil) {
		return
	}

	record, err := o.store.Update(ctx, workflowID, func(r *models.WorkflowResult) error {
		now := time.Now().UTC()
		r.Status = models.WorkflowStatusCompleted
		r.CompletionTime = &now
		r.TotalDuration = now.Sub(r.StartTime).Seconds()

		return nil
	})
	if err != nil {
		o.logger.Warn("Failed to finalize completed workflow", "workflow_id", workflowID, "error", err)

		return
	}

	logger.InfoContext(ctx, "Workflow completed",
		"quality_score", qa.OverallScore, "duration_seconds", record.TotalDuration)

	o.publish(ctx, events.WorkflowCompleted{
		BaseEvent: o.baseEvent(events.WorkflowCompletedEvent, workflowID),

		QualityScore: qa.OverallScore,
		Duration:     record.TotalDuration,
	})
}

func (o *Orchestrator) finalizeFailed(ctx context.Context, workflowID, stage, message string) {
	errMsg := message
	if stage != "" && message == "" {
		errMsg = stage + " stage failed"
	}

	_, err := o.store.Update(ctx, workflowID, func(r *models.WorkflowResult) error {
		now := time.Now().UTC()
		r.Status = models.WorkflowStatusFailed
		r.Error = errMsg
		r.CompletionTime = &now
		r.TotalDuration = now.Sub(r.StartTime).Seconds()

		return nil
	})
	if err != nil {
		o.logger.Warn("Failed to finalize failed workflow", "workflow_id", workflowID, "error", err)

		return
	}

	o.logger.Warn("Workflow failed", "workflow_id", workflowID, "stage", stage, "error", errMsg)

	o.publish(ctx, events.WorkflowFailed{
		BaseEvent: o.baseEvent(events.WorkflowFailedEvent, workflowID),

		Stage: stage,
		Error: errMsg,
	})
}

func (o *Orchestrator) finalizeCancelled(ctx context.Context, workflowID string) {
	_, err := o.store.Update(ctx, workflowID, func(r *models.WorkflowResult) error {
		now := time.Now().UTC()
		r.Status = models.WorkflowStatusCancelled
		r.CompletionTime = &now
		r.TotalDuration = now.Sub(r.StartTime).Seconds()

		return nil
	})
	if err != nil {
		o.logger.Warn("Failed to finalize cancelled workflow", "workflow_id", workflowID, "error", err)

		return
	}

	o.logger.Info("Workflow cancelled", "workflow_id", workflowID)

	o.publish(ctx, events.WorkflowCancelled{
		BaseEvent: o.baseEvent(events.WorkflowCancelledEvent, workflowID),
	})
}

func (o *Orchestrator) publishStage(ctx context.Context, workflowID, stage string, status models.WorkflowStatus, attempt int) {
	o.publish(ctx, events.StageCompleted{
		BaseEvent: o.baseEvent(events.StageCompletedEvent, workflowID),

		Stage:   stage,
		Status:  status,
		Attempt: attempt,
	})
}

func (o *Orchestrator) baseEvent(eventType events.EventType, workflowID string) events.BaseEvent {
	id := ""
	if o.bus != nil {
		id = o.bus.GenerateID()
	}

	return events.BaseEvent{
		ID:         id,
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}

func (o *Orchestrator) publish(ctx context.Context, event eventbus.Event) {
	if o.bus == nil {
		return
	}

	if err := o.bus.Publish(context.WithoutCancel(ctx), string(event.GetType()), event); err != nil {
		o.logger.Warn("Failed to publish workflow event", "event_type", string(event.GetType()), "error", err)
	}
}

func stageError(stage string, err error) string {
	if callErr, ok := agent.AsCallError(err); ok {
		if callErr.Unreachable() {
			return fmt.Sprintf("%s stage failed: agent unreachable: %v", stage, callErr.Err)
		}

		return fmt.Sprintf("%s stage failed: agent returned bad response: %v", stage, callErr.Err)
	}

	return fmt.Sprintf("%s stage failed: %v", stage, err)
}
