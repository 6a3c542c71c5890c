package models

import "encoding/json"

// PlanningResult is the planner agent's response to a plan-course call.
// Raw retains the verbatim payload for later inspection.
type PlanningResult struct {
	Modules            []CourseModule  `json:"modules"`
	LearningObjectives []string        `json:"learning_objectives"`
	Quality            float64         `json:"quality"`
	Approved           bool            `json:"approved"`
	Raw                json.RawMessage `json:"raw,omitempty"`
}

func (p *PlanningResult) Clone() *PlanningResult {
	if p == nil {
		return nil
	}

	clone := *p
	clone.Modules = append([]CourseModule(nil), p.Modules...)
	clone.LearningObjectives = append([]string(nil), p.LearningObjectives...)
	clone.Raw = append(json.RawMessage(nil), p.Raw...)

	return &clone
}

// CourseModule is one planned module of the course outline.
type CourseModule struct {
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	DurationWeeks int      `json:"duration_weeks,omitempty"`
	Topics        []string `json:"topics,omitempty"`
}

// ContentResult is the creator agent's response to a create-lesson call.
type ContentResult struct {
	LessonsCreated     int             `json:"lessons_created"`
	ExercisesCreated   int             `json:"exercises_created"`
	AssessmentsCreated int             `json:"assessments_created"`
	Content            json.RawMessage `json:"content,omitempty"`
	Raw                json.RawMessage `json:"raw,omitempty"`
}

func (c *ContentResult) Clone() *ContentResult {
	if c == nil {
		return nil
	}

	clone := *c
	clone.Content = append(json.RawMessage(nil), c.Content...)
	clone.Raw = append(json.RawMessage(nil), c.Raw...)

	return &clone
}

// QAResult is the QA agent's response to a review-content call.
type QAResult struct {
	OverallScore       float64         `json:"overall_score"`
	ApprovedForRelease bool            `json:"approved_for_release"`
	IssuesFound        []string        `json:"issues_found,omitempty"`
	Recommendations    []string        `json:"recommendations,omitempty"`
	Raw                json.RawMessage `json:"raw,omitempty"`
}

func (q *QAResult) Clone() *QAResult {
	if q == nil {
		return nil
	}

	clone := *q
	clone.IssuesFound = append([]string(nil), q.IssuesFound...)
	clone.Recommendations = append([]string(nil), q.Recommendations...)
	clone.Raw = append(json.RawMessage(nil), q.Raw...)

	return &clone
}
