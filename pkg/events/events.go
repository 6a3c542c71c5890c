// Package events defines event types for workflow lifecycle notifications.
package events

import (
	"time"

	"github.com/corpacademy/coursegen/pkg/models"
)

type EventType string

const Topic = "coursegen.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	WorkflowStartedEvent    EventType = "workflow.started"
	StageCompletedEvent     EventType = "workflow.stage.completed"
	WorkflowCompletedEvent  EventType = "workflow.completed"
	WorkflowFailedEvent     EventType = "workflow.failed"
	WorkflowCancelledEvent  EventType = "workflow.cancelled"
	AgentHealthChangedEvent EventType = "agent.health.changed"
)

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	WorkflowID string    `json:"workflow_id,omitempty"`
}

type WorkflowStarted struct {
	BaseEvent

	CourseRequestID string `json:"course_request_id"`
}

func (w WorkflowStarted) GetType() EventType {
	return WorkflowStartedEvent
}

type StageCompleted struct {
	BaseEvent

	Stage   string                `json:"stage"`
	Status  models.WorkflowStatus `json:"status"`
	Attempt int                   `json:"attempt"`
}

func (s StageCompleted) GetType() EventType {
	return StageCompletedEvent
}

type WorkflowCompleted struct {
	BaseEvent

	QualityScore float64 `json:"quality_score"`
	Duration     float64 `json:"duration_seconds"`
}

func (w WorkflowCompleted) GetType() EventType {
	return WorkflowCompletedEvent
}

type WorkflowFailed struct {
	BaseEvent

	Stage string `json:"stage,omitempty"`
	Error string `json:"error"`
}

func (w WorkflowFailed) GetType() EventType {
	return WorkflowFailedEvent
}

type WorkflowCancelled struct {
	BaseEvent
}

func (w WorkflowCancelled) GetType() EventType {
	return WorkflowCancelledEvent
}

type AgentHealthChanged struct {
	BaseEvent

	Agent   string `json:"agent"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

func (a AgentHealthChanged) GetType() EventType {
	return AgentHealthChangedEvent
}
