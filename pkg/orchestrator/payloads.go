package orchestrator

import (
	"encoding/json"
	"fmt"

	"github.com/corpacademy/coursegen/pkg/models"
)

// planPayload builds the planner request body.
func planPayload(req models.WorkflowRequest) map[string]any {
	return map[string]any{
		"course_request_id":     req.CourseRequestID,
		"company_name":          req.CompanyName,
		"industry":              req.Industry,
		"training_goals":        req.TrainingGoals,
		"current_english_level": req.CurrentLevel,
		"target_english_level":  req.TargetLevel,
		"duration_weeks":        req.DurationWeeks,
		"target_audience":       req.TargetAudience,
		"specific_needs":        req.SpecificNeeds,
	}
}

// contentPayload builds the creator request body. On improvement
// iterations the previous QA feedback is folded in so the creator can
// address the reported issues.
func contentPayload(req models.WorkflowRequest, planning *models.PlanningResult, feedback *models.QAResult) map[string]any {
	payload := map[string]any{
		"course_request_id":   req.CourseRequestID,
		"plan":                json.RawMessage(planning.Raw),
		"learning_objectives": planning.LearningObjectives,
		"target_audience":     req.TargetAudience,
	}

	if feedback != nil {
		payload["qa_feedback"] = map[string]any{
			"overall_score":   feedback.OverallScore,
			"issues_found":    feedback.IssuesFound,
			"recommendations": feedback.Recommendations,
		}
	}

	return payload
}

// reviewPayload builds the QA request body.
func reviewPayload(req models.WorkflowRequest, content *models.ContentResult) map[string]any {
	return map[string]any{
		"course_request_id": req.CourseRequestID,
		"content":           json.RawMessage(content.Raw),
		"target_audience":   req.TargetAudience,
	}
}

func decodePlanning(raw json.RawMessage) (*models.PlanningResult, error) {
	var result models.PlanningResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("malformed planning result: %w", err)
	}

	result.Raw = raw

	return &result, nil
}

func decodeContent(raw json.RawMessage) (*models.ContentResult, error) {
	var result models.ContentResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("malformed content result: %w", err)
	}

	result.Raw = raw

	return &result, nil
}

func decodeQA(raw json.RawMessage) (*models.QAResult, error) {
	var result models.QAResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("malformed qa result: %w", err)
	}

	result.Raw = raw

	return &result, nil
}
