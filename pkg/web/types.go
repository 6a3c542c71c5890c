// Package web provides the orchestrator's HTTP surface.
package web

import (
	"github.com/corpacademy/coursegen/pkg/agent"
	"github.com/corpacademy/coursegen/pkg/config"
	"github.com/corpacademy/coursegen/pkg/models"
)

// OrchestrateResponse is the synchronous orchestration response.
type OrchestrateResponse struct {
	Success  bool                   `json:"success"`
	Workflow *models.WorkflowResult `json:"workflow"`
}

// AsyncResponse acknowledges a background orchestration.
type AsyncResponse struct {
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status"`
}

// ListResponse summarizes active workflows plus recent completed ones.
type ListResponse struct {
	Active    []models.Summary `json:"active"`
	Completed []models.Summary `json:"completed"`
}

// MetricsResponse aggregates workflow counts and per-agent client
// metrics. workflows_processed counts every workflow that reached a
// terminal status; workflows_completed is the retained history length.
type MetricsResponse struct {
	WorkflowsActive    int                                  `json:"workflows_active"`
	WorkflowsCompleted int                                  `json:"workflows_completed"`
	WorkflowsProcessed int                                  `json:"workflows_processed"`
	Agents             map[agent.Name]agent.MetricsSnapshot `json:"agents"`
}

// ConfigResponse is the read-only configuration view. Durations are
// rendered as strings for readability.
type ConfigResponse struct {
	PlannerURL         string  `json:"planner_url"`
	CreatorURL         string  `json:"creator_url"`
	QAURL              string  `json:"qa_url"`
	CallTimeout        string  `json:"call_timeout"`
	ContentTimeout     string  `json:"content_timeout"`
	HealthTimeout      string  `json:"health_timeout"`
	RetryAttempts      int     `json:"retry_attempts"`
	RetryDelay         string  `json:"retry_delay"`
	PlanningThreshold  float64 `json:"planning_threshold"`
	QualityThreshold   float64 `json:"quality_threshold"`
	MaxRetries         int     `json:"max_retries"`
	WorkflowDeadline   string  `json:"workflow_deadline,omitempty"`
	CompletedRetention int     `json:"completed_retention"`
	HealthPollSchedule string  `json:"health_poll_schedule"`
	Port               int     `json:"port"`
}

func newConfigResponse(cfg config.Config) ConfigResponse {
	response := ConfigResponse{
		PlannerURL:         cfg.PlannerURL,
		CreatorURL:         cfg.CreatorURL,
		QAURL:              cfg.QAURL,
		CallTimeout:        cfg.CallTimeout.String(),
		ContentTimeout:     cfg.ContentTimeout.String(),
		HealthTimeout:      cfg.HealthTimeout.String(),
		RetryAttempts:      cfg.RetryAttempts,
		RetryDelay:         cfg.RetryDelay.String(),
		PlanningThreshold:  cfg.PlanningThreshold,
		QualityThreshold:   cfg.QualityThreshold,
		MaxRetries:         cfg.MaxRetries,
		CompletedRetention: cfg.CompletedRetention,
		HealthPollSchedule: cfg.HealthPollSchedule,
		Port:               cfg.Port,
	}

	if cfg.WorkflowDeadline > 0 {
		response.WorkflowDeadline = cfg.WorkflowDeadline.String()
	}

	return response
}

func summarize(results []*models.WorkflowResult) []models.Summary {
	summaries := make([]models.Summary, 0, len(results))
	for _, result := range results {
		summaries = append(summaries, result.Summarize())
	}

	return summaries
}
