package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpacademy/coursegen/pkg/agent"
	"github.com/corpacademy/coursegen/pkg/models"
	"github.com/corpacademy/coursegen/pkg/quality"
	"github.com/corpacademy/coursegen/pkg/store"
)

func testRequest() models.WorkflowRequest {
	return models.WorkflowRequest{
		CourseRequestID: "req-123",
		CompanyName:     "Acme Logistics",
		Industry:        "logistics",
		TrainingGoals:   []string{"negotiations", "email writing"},
		CurrentLevel:    "intermediate",
		TargetLevel:     "advanced",
		DurationWeeks:   12,
		TargetAudience:  "operations managers",
	}
}

func planBody(qualityScore float64) map[string]any {
	return map[string]any{
		"modules": []map[string]any{
			{"title": "Foundations", "duration_weeks": 4},
			{"title": "Negotiations", "duration_weeks": 8},
		},
		"learning_objectives": []string{"negotiate delivery terms"},
		"quality":             qualityScore,
	}
}

func contentBody() map[string]any {
	return map[string]any{
		"lessons_created":     24,
		"exercises_created":   48,
		"assessments_created": 6,
	}
}

func reviewBody(score float64, approved bool) map[string]any {
	return map[string]any{
		"overall_score":        score,
		"approved_for_release": approved,
		"issues_found":         []string{},
		"recommendations":      []string{},
	}
}

// agentHandlers maps agent paths to per-call response builders.
type agentHandlers struct {
	plan    func(call int64, body []byte) (int, any)
	content func(call int64, body []byte) (int, any)
	review  func(call int64, body []byte) (int, any)

	planCalls    atomic.Int64
	contentCalls atomic.Int64
	reviewCalls  atomic.Int64
}

func (h *agentHandlers) server(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	handle := func(path string, calls *atomic.Int64, build func(int64, []byte) (int, any)) {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			call := calls.Add(1)

			status, payload := build(call, body)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(payload)
		})
	}

	handle(agent.PathPlanCourse, &h.planCalls, h.plan)
	handle(agent.PathCreateLesson, &h.contentCalls, h.content)
	handle(agent.PathReviewContent, &h.reviewCalls, h.review)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

func newTestOrchestrator(t *testing.T, baseURL string, maxRetries int, opts Options) (*Orchestrator, *store.MemoryStore) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	endpoint := agent.Endpoint{BaseURL: baseURL, Timeout: 2 * time.Second}
	agents, err := agent.NewClient(agent.Config{
		Endpoints: map[agent.Name]agent.Endpoint{
			agent.Planner: endpoint,
			agent.Creator: endpoint,
			agent.QA:      endpoint,
		},
		RetryAttempts: 1,
		RetryDelay:    time.Millisecond,
	}, logger)
	require.NoError(t, err)

	gates := quality.NewEvaluator(quality.Thresholds{
		Planning:   75,
		Quality:    80,
		MaxRetries: maxRetries,
	})

	memStore := store.NewMemoryStore(10)

	return New(agents, gates, memStore, nil, logger, opts), memStore
}

func TestOrchestrate_HappyPath(t *testing.T) {
	handlers := &agentHandlers{
		plan:    func(int64, []byte) (int, any) { return http.StatusOK, planBody(90) },
		content: func(int64, []byte) (int, any) { return http.StatusOK, contentBody() },
		review:  func(int64, []byte) (int, any) { return http.StatusOK, reviewBody(92, true) },
	}
	server := handlers.server(t)

	o, _ := newTestOrchestrator(t, server.URL, 3, Options{})

	result, err := o.Orchestrate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusCompleted, result.Status)
	assert.Equal(t, "req-123", result.CourseRequestID)
	require.NotNil(t, result.CompletionTime)
	assert.GreaterOrEqual(t, result.TotalDuration, 0.0)

	require.NotNil(t, result.PlanningResult)
	assert.Len(t, result.PlanningResult.Modules, 2)
	require.NotNil(t, result.ContentResult)
	assert.Equal(t, 24, result.ContentResult.LessonsCreated)
	require.NotNil(t, result.QAResult)
	require.NotNil(t, result.QualityScore)
	assert.InDelta(t, 92, *result.QualityScore, 0.001)

	assert.Equal(t, 0, result.RetryCounts.Planning)
	assert.Equal(t, 0, result.RetryCounts.QAImprovement)

	assert.Equal(t, int64(1), handlers.planCalls.Load())
	assert.Equal(t, int64(1), handlers.contentCalls.Load())
	assert.Equal(t, int64(1), handlers.reviewCalls.Load())
}

func TestOrchestrate_PlanningRetriesUntilQualityClears(t *testing.T) {
	handlers := &agentHandlers{
		plan: func(call int64, _ []byte) (int, any) {
			if call == 1 {
				return http.StatusOK, planBody(60)
			}

			return http.StatusOK, planBody(85)
		},
		content: func(int64, []byte) (int, any) { return http.StatusOK, contentBody() },
		review:  func(int64, []byte) (int, any) { return http.StatusOK, reviewBody(95, true) },
	}
	server := handlers.server(t)

	o, _ := newTestOrchestrator(t, server.URL, 3, Options{})

	result, err := o.Orchestrate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusCompleted, result.Status)
	assert.Equal(t, 1, result.RetryCounts.Planning)
	assert.Equal(t, int64(2), handlers.planCalls.Load())
}

func TestOrchestrate_PlanningFailsAfterRetryBudget(t *testing.T) {
	handlers := &agentHandlers{
		plan:    func(int64, []byte) (int, any) { return http.StatusOK, planBody(40) },
		content: func(int64, []byte) (int, any) { return http.StatusOK, contentBody() },
		review:  func(int64, []byte) (int, any) { return http.StatusOK, reviewBody(95, true) },
	}
	server := handlers.server(t)

	o, _ := newTestOrchestrator(t, server.URL, 2, Options{})

	result, err := o.Orchestrate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusFailed, result.Status)
	assert.Contains(t, result.Error, "planning quality")
	assert.Equal(t, 2, result.RetryCounts.Planning)
	// Initial attempt plus two retries.
	assert.Equal(t, int64(3), handlers.planCalls.Load())
	assert.Equal(t, int64(0), handlers.contentCalls.Load())
}

func TestOrchestrate_ImprovementLoopThenApproval(t *testing.T) {
	handlers := &agentHandlers{
		plan:    func(int64, []byte) (int, any) { return http.StatusOK, planBody(90) },
		content: func(int64, []byte) (int, any) { return http.StatusOK, contentBody() },
		review: func(call int64, _ []byte) (int, any) {
			if call == 1 {
				return http.StatusOK, reviewBody(70, false)
			}

			return http.StatusOK, reviewBody(88, true)
		},
	}
	server := handlers.server(t)

	o, _ := newTestOrchestrator(t, server.URL, 3, Options{})

	result, err := o.Orchestrate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusCompleted, result.Status)
	assert.Equal(t, 1, result.RetryCounts.QAImprovement)
	require.NotNil(t, result.QualityScore)
	assert.InDelta(t, 88, *result.QualityScore, 0.001)

	assert.Equal(t, int64(2), handlers.contentCalls.Load())
	assert.Equal(t, int64(2), handlers.reviewCalls.Load())
}

func TestOrchestrate_ImprovementLoopCarriesFeedback(t *testing.T) {
	var sawFeedback atomic.Bool

	handlers := &agentHandlers{
		plan: func(int64, []byte) (int, any) { return http.StatusOK, planBody(90) },
		content: func(call int64, body []byte) (int, any) {
			if call > 1 {
				var payload map[string]any
				if err := json.Unmarshal(body, &payload); err == nil {
					if _, ok := payload["qa_feedback"]; ok {
						sawFeedback.Store(true)
					}
				}
			}

			return http.StatusOK, contentBody()
		},
		review: func(call int64, _ []byte) (int, any) {
			if call == 1 {
				return http.StatusOK, reviewBody(60, false)
			}

			return http.StatusOK, reviewBody(90, true)
		},
	}
	server := handlers.server(t)

	o, _ := newTestOrchestrator(t, server.URL, 3, Options{})

	result, err := o.Orchestrate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusCompleted, result.Status)
	assert.True(t, sawFeedback.Load(), "second creator call should carry qa_feedback")
}

func TestOrchestrate_ImprovementLoopExhaustsBudget(t *testing.T) {
	handlers := &agentHandlers{
		plan:    func(int64, []byte) (int, any) { return http.StatusOK, planBody(90) },
		content: func(int64, []byte) (int, any) { return http.StatusOK, contentBody() },
		review:  func(int64, []byte) (int, any) { return http.StatusOK, reviewBody(60, false) },
	}
	server := handlers.server(t)

	o, _ := newTestOrchestrator(t, server.URL, 3, Options{})

	result, err := o.Orchestrate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusFailed, result.Status)
	assert.Contains(t, result.Error, "qa score")
	assert.Equal(t, 3, result.RetryCounts.QAImprovement)
	// Initial pass plus three improvement iterations.
	assert.Equal(t, int64(4), handlers.contentCalls.Load())
	assert.Equal(t, int64(4), handlers.reviewCalls.Load())
	// The failing score is still recorded.
	require.NotNil(t, result.QualityScore)
	assert.InDelta(t, 60, *result.QualityScore, 0.001)
}

func TestOrchestrate_CreatorUnreachableFailsWorkflow(t *testing.T) {
	handlers := &agentHandlers{
		plan:    func(int64, []byte) (int, any) { return http.StatusOK, planBody(90) },
		content: func(int64, []byte) (int, any) { return http.StatusServiceUnavailable, map[string]any{"error": "down"} },
		review:  func(int64, []byte) (int, any) { return http.StatusOK, reviewBody(95, true) },
	}
	server := handlers.server(t)

	o, _ := newTestOrchestrator(t, server.URL, 3, Options{})

	result, err := o.Orchestrate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusFailed, result.Status)
	assert.Contains(t, result.Error, "content_creation stage failed")
	assert.Equal(t, int64(0), handlers.reviewCalls.Load())
	// Completed planning output survives on the failed record.
	assert.NotNil(t, result.PlanningResult)
}

func TestOrchestrate_MalformedPlanFailsWithoutRetry(t *testing.T) {
	handlers := &agentHandlers{
		plan: func(int64, []byte) (int, any) {
			return http.StatusOK, map[string]any{"unexpected": true}
		},
		content: func(int64, []byte) (int, any) { return http.StatusOK, contentBody() },
		review:  func(int64, []byte) (int, any) { return http.StatusOK, reviewBody(95, true) },
	}
	server := handlers.server(t)

	o, _ := newTestOrchestrator(t, server.URL, 3, Options{})

	result, err := o.Orchestrate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusFailed, result.Status)
	assert.Contains(t, result.Error, "planning stage failed")
	assert.Contains(t, result.Error, "bad response")
	assert.Equal(t, int64(1), handlers.planCalls.Load())
}

func TestOrchestrate_DeadlineExceededBeforeFirstStage(t *testing.T) {
	handlers := &agentHandlers{
		plan:    func(int64, []byte) (int, any) { return http.StatusOK, planBody(90) },
		content: func(int64, []byte) (int, any) { return http.StatusOK, contentBody() },
		review:  func(int64, []byte) (int, any) { return http.StatusOK, reviewBody(95, true) },
	}
	server := handlers.server(t)

	o, _ := newTestOrchestrator(t, server.URL, 3, Options{WorkflowDeadline: time.Nanosecond})

	result, err := o.Orchestrate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusFailed, result.Status)
	assert.Equal(t, "workflow deadline exceeded", result.Error)
	assert.Equal(t, int64(0), handlers.planCalls.Load())
}

func TestOrchestrateAsync_ReachesTerminalState(t *testing.T) {
	handlers := &agentHandlers{
		plan:    func(int64, []byte) (int, any) { return http.StatusOK, planBody(90) },
		content: func(int64, []byte) (int, any) { return http.StatusOK, contentBody() },
		review:  func(int64, []byte) (int, any) { return http.StatusOK, reviewBody(95, true) },
	}
	server := handlers.server(t)

	o, memStore := newTestOrchestrator(t, server.URL, 3, Options{})

	ctx := context.Background()

	workflowID, err := o.OrchestrateAsync(ctx, testRequest())
	require.NoError(t, err)
	require.NotEmpty(t, workflowID)

	// The record is observable immediately, whatever stage it is in.
	_, err = o.Status(ctx, workflowID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		record, err := memStore.Get(ctx, workflowID)

		return err == nil && record.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	record, err := memStore.Get(ctx, workflowID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, record.Status)
}

func TestCancel_ObservedAtNextCheckpoint(t *testing.T) {
	planStarted := make(chan struct{})
	release := make(chan struct{})

	handlers := &agentHandlers{
		plan: func(int64, []byte) (int, any) {
			close(planStarted)
			<-release

			return http.StatusOK, planBody(90)
		},
		content: func(int64, []byte) (int, any) { return http.StatusOK, contentBody() },
		review:  func(int64, []byte) (int, any) { return http.StatusOK, reviewBody(95, true) },
	}
	server := handlers.server(t)

	o, memStore := newTestOrchestrator(t, server.URL, 3, Options{})

	ctx := context.Background()

	workflowID, err := o.OrchestrateAsync(ctx, testRequest())
	require.NoError(t, err)

	<-planStarted
	assert.True(t, o.Cancel(ctx, workflowID))

	// The in-flight planner call finishes before cancellation is observed.
	close(release)

	require.Eventually(t, func() bool {
		record, err := memStore.Get(ctx, workflowID)

		return err == nil && record.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	record, err := memStore.Get(ctx, workflowID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCancelled, record.Status)
	require.NotNil(t, record.CompletionTime)

	// Its planning gate was never reached, so content creation never ran.
	assert.Equal(t, int64(0), handlers.contentCalls.Load())
}

func TestCancel_DuringFinalQACallDiscardsPassingResult(t *testing.T) {
	reviewStarted := make(chan struct{})
	release := make(chan struct{})

	handlers := &agentHandlers{
		plan:    func(int64, []byte) (int, any) { return http.StatusOK, planBody(90) },
		content: func(int64, []byte) (int, any) { return http.StatusOK, contentBody() },
		review: func(int64, []byte) (int, any) {
			close(reviewStarted)
			<-release

			return http.StatusOK, reviewBody(95, true)
		},
	}
	server := handlers.server(t)

	o, memStore := newTestOrchestrator(t, server.URL, 3, Options{})

	ctx := context.Background()

	workflowID, err := o.OrchestrateAsync(ctx, testRequest())
	require.NoError(t, err)

	<-reviewStarted
	assert.True(t, o.Cancel(ctx, workflowID))

	// QA approves after the cancellation request; the passing review is
	// discarded and the workflow ends cancelled, not completed.
	close(release)

	require.Eventually(t, func() bool {
		record, err := memStore.Get(ctx, workflowID)

		return err == nil && record.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	record, err := memStore.Get(ctx, workflowID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCancelled, record.Status)
	require.NotNil(t, record.CompletionTime)
}

func TestCancel_UnknownOrTerminalWorkflow(t *testing.T) {
	handlers := &agentHandlers{
		plan:    func(int64, []byte) (int, any) { return http.StatusOK, planBody(90) },
		content: func(int64, []byte) (int, any) { return http.StatusOK, contentBody() },
		review:  func(int64, []byte) (int, any) { return http.StatusOK, reviewBody(95, true) },
	}
	server := handlers.server(t)

	o, _ := newTestOrchestrator(t, server.URL, 3, Options{})

	ctx := context.Background()

	assert.False(t, o.Cancel(ctx, "no-such-workflow"))

	result, err := o.Orchestrate(ctx, testRequest())
	require.NoError(t, err)
	require.Equal(t, models.WorkflowStatusCompleted, result.Status)

	assert.False(t, o.Cancel(ctx, result.WorkflowID))
}
