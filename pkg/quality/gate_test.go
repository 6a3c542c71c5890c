package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/corpacademy/coursegen/pkg/models"
)

func newTestEvaluator() *Evaluator {
	return NewEvaluator(Thresholds{
		Planning:   75,
		Quality:    80,
		MaxRetries: 3,
	})
}

func TestEvaluatePlanning(t *testing.T) {
	evaluator := newTestEvaluator()

	plan := func(quality float64) *models.PlanningResult {
		return &models.PlanningResult{
			Modules: []models.CourseModule{{Title: "Foundations"}},
			Quality: quality,
		}
	}

	tests := []struct {
		name    string
		result  *models.PlanningResult
		attempt int
		want    Decision
	}{
		{"score at threshold passes", plan(75), 0, Pass},
		{"score above threshold passes", plan(90), 0, Pass},
		{"low score retries within budget", plan(60), 0, Retry},
		{"low score retries on second attempt", plan(60), 2, Retry},
		{"low score fails once budget spent", plan(60), 3, Fail},
		{"nil result fails immediately", nil, 0, Fail},
		{"empty outline fails immediately", &models.PlanningResult{Quality: 99}, 0, Fail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evaluation := evaluator.EvaluatePlanning(tt.result, tt.attempt)
			assert.Equal(t, tt.want, evaluation.Decision)

			if tt.want != Pass {
				assert.NotEmpty(t, evaluation.Reason)
			}
		})
	}
}

func TestEvaluateQA(t *testing.T) {
	evaluator := newTestEvaluator()

	review := func(score float64, approved bool) *models.QAResult {
		return &models.QAResult{OverallScore: score, ApprovedForRelease: approved}
	}

	tests := []struct {
		name         string
		result       *models.QAResult
		improvements int
		want         Decision
	}{
		{"approved at threshold passes", review(80, true), 0, Pass},
		{"high score without approval retries", review(95, false), 0, Retry},
		{"low score retries within budget", review(60, false), 0, Retry},
		{"low score retries on final iteration", review(60, false), 2, Retry},
		{"low score fails once budget spent", review(60, false), 3, Fail},
		{"missing result fails immediately", nil, 0, Fail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evaluation := evaluator.EvaluateQA(tt.result, tt.improvements)
			assert.Equal(t, tt.want, evaluation.Decision)
		})
	}
}

func TestEvaluateQA_NeverDefaultsMissingScoreToPassing(t *testing.T) {
	evaluator := newTestEvaluator()

	// A zero-value score decodes identically to a missing field; it must
	// never clear an 80-point threshold.
	evaluation := evaluator.EvaluateQA(&models.QAResult{ApprovedForRelease: true}, 3)
	assert.Equal(t, Fail, evaluation.Decision)
}
