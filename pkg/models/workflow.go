// Package models defines the core domain models for course-generation workflows.
package models

import "time"

// WorkflowStatus represents the lifecycle state of a generation workflow.
type WorkflowStatus string

const (
	WorkflowStatusInitializing       WorkflowStatus = "initializing"
	WorkflowStatusPlanning           WorkflowStatus = "planning"
	WorkflowStatusContentCreation    WorkflowStatus = "content_creation"
	WorkflowStatusQualityReview      WorkflowStatus = "quality_review"
	WorkflowStatusContentImprovement WorkflowStatus = "content_improvement"
	WorkflowStatusFinalizing         WorkflowStatus = "finalizing"
	WorkflowStatusCompleted          WorkflowStatus = "completed"
	WorkflowStatusFailed             WorkflowStatus = "failed"
	WorkflowStatusCancelled          WorkflowStatus = "cancelled"
)

// Terminal reports whether no further transition is permitted from s.
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowStatusCompleted || s == WorkflowStatusFailed || s == WorkflowStatusCancelled
}

// WorkflowRequest is the immutable input for one course-generation run.
type WorkflowRequest struct {
	CourseRequestID string   `json:"course_request_id" validate:"required"`
	CompanyName     string   `json:"company_name"      validate:"required"`
	Industry        string   `json:"industry"          validate:"required"`
	TrainingGoals   []string `json:"training_goals"    validate:"required,min=1"`
	CurrentLevel    string   `json:"current_level"     validate:"required,oneof=beginner elementary intermediate upper_intermediate advanced"`
	TargetLevel     string   `json:"target_level"      validate:"required,oneof=beginner elementary intermediate upper_intermediate advanced"`
	DurationWeeks   int      `json:"duration_weeks"    validate:"required,min=1,max=104"`
	TargetAudience  string   `json:"target_audience"   validate:"required"`
	SpecificNeeds   string   `json:"specific_needs,omitempty"`
}

// RetryCounts tracks retries consumed per stage.
type RetryCounts struct {
	Planning      int `json:"planning"`
	QAImprovement int `json:"qa_improvement"`
}

// WorkflowResult is the record of one workflow's execution. It is created
// by the orchestrator before any agent call is issued and mutated only
// through the store's update path.
type WorkflowResult struct {
	WorkflowID      string          `json:"workflow_id"`
	CourseRequestID string          `json:"course_request_id"`
	Status          WorkflowStatus  `json:"status"`
	StartTime       time.Time       `json:"start_time"`
	CompletionTime  *time.Time      `json:"completion_time,omitempty"`
	TotalDuration   float64         `json:"total_duration_seconds"`
	PlanningResult  *PlanningResult `json:"planning_result,omitempty"`
	ContentResult   *ContentResult  `json:"content_result,omitempty"`
	QAResult        *QAResult       `json:"qa_result,omitempty"`
	QualityScore    *float64        `json:"quality_score,omitempty"`
	RetryCounts     RetryCounts     `json:"retry_counts"`
	Error           string          `json:"error,omitempty"`
}

// Clone returns a deep copy so store readers never share mutable state
// with the orchestrator.
func (r *WorkflowResult) Clone() *WorkflowResult {
	if r == nil {
		return nil
	}

	clone := *r

	if r.CompletionTime != nil {
		t := *r.CompletionTime
		clone.CompletionTime = &t
	}

	if r.QualityScore != nil {
		s := *r.QualityScore
		clone.QualityScore = &s
	}

	clone.PlanningResult = r.PlanningResult.Clone()
	clone.ContentResult = r.ContentResult.Clone()
	clone.QAResult = r.QAResult.Clone()

	return &clone
}

// Summary is the condensed view returned by list endpoints.
type Summary struct {
	WorkflowID      string         `json:"workflow_id"`
	CourseRequestID string         `json:"course_request_id"`
	Status          WorkflowStatus `json:"status"`
	StartTime       time.Time      `json:"start_time"`
	CompletionTime  *time.Time     `json:"completion_time,omitempty"`
	QualityScore    *float64       `json:"quality_score,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// Summarize projects the result into its list representation.
func (r *WorkflowResult) Summarize() Summary {
	return Summary{
		WorkflowID:      r.WorkflowID,
		CourseRequestID: r.CourseRequestID,
		Status:          r.Status,
		StartTime:       r.StartTime,
		CompletionTime:  r.CompletionTime,
		QualityScore:    r.QualityScore,
		Error:           r.Error,
	}
}
