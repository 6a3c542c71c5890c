// Package config defines the orchestrator's process-wide configuration,
// read once at startup and exposed read-only via the API.
package config

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds every tunable of the orchestrator process.
type Config struct {
	PlannerURL string `json:"planner_url" validate:"required,url"`
	CreatorURL string `json:"creator_url" validate:"required,url"`
	QAURL      string `json:"qa_url"      validate:"required,url"`

	// CallTimeout bounds every agent call attempt except content
	// creation, which is inherently slower and gets ContentTimeout.
	CallTimeout    time.Duration `json:"call_timeout"    validate:"required"`
	ContentTimeout time.Duration `json:"content_timeout" validate:"required"`
	HealthTimeout  time.Duration `json:"health_timeout"  validate:"required"`

	RetryAttempts int           `json:"retry_attempts" validate:"min=1,max=10"`
	RetryDelay    time.Duration `json:"retry_delay"    validate:"required"`

	PlanningThreshold float64 `json:"planning_threshold" validate:"min=0,max=100"`
	QualityThreshold  float64 `json:"quality_threshold"  validate:"min=0,max=100"`
	MaxRetries        int     `json:"max_retries"        validate:"min=1,max=10"`

	// WorkflowDeadline caps the wall-clock time of one workflow; zero
	// disables the cap.
	WorkflowDeadline time.Duration `json:"workflow_deadline,omitempty"`

	CompletedRetention int    `json:"completed_retention" validate:"min=1"`
	RedisURL           string `json:"redis_url,omitempty"`

	HealthPollSchedule string `json:"health_poll_schedule"`

	Port int `json:"port" validate:"min=1,max=65535"`
}

// Defaults returns the configuration baseline before flags are applied.
func Defaults() Config {
	return Config{
		CallTimeout:        30 * time.Second,
		ContentTimeout:     120 * time.Second,
		HealthTimeout:      5 * time.Second,
		RetryAttempts:      3,
		RetryDelay:         time.Second,
		PlanningThreshold:  75,
		QualityThreshold:   80,
		MaxRetries:         3,
		CompletedRetention: 100,
		HealthPollSchedule: "@every 1m",
		Port:               8085,
	}
}

// Validate checks the configuration with the shared validator rules.
func (c Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	return validate.Struct(c)
}
