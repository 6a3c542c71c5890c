// Package quality implements the pass/retry/fail decision points applied
// after the planning and QA stages of a generation workflow.
package quality

import (
	"fmt"

	"github.com/corpacademy/coursegen/pkg/models"
)

// Decision is the outcome of a gate evaluation.
type Decision string

const (
	Pass  Decision = "pass"
	Retry Decision = "retry"
	Fail  Decision = "fail"
)

// Evaluation carries the decision plus a human-readable reason recorded
// on the workflow when the decision is Fail.
type Evaluation struct {
	Decision Decision
	Reason   string
}

// Thresholds are the configured gate levels, read once at process start.
type Thresholds struct {
	Planning   float64
	Quality    float64
	MaxRetries int
}

// Evaluator decides whether a stage result lets the pipeline proceed.
// Evaluations are pure functions of their inputs.
type Evaluator struct {
	thresholds Thresholds
}

func NewEvaluator(thresholds Thresholds) *Evaluator {
	return &Evaluator{thresholds: thresholds}
}

// EvaluatePlanning gates the planner's output. A result scoring below the
// planning threshold is retried while the attempt budget lasts; a missing
// outline is a hard fail since re-asking for a malformed plan rarely helps.
func (e *Evaluator) EvaluatePlanning(result *models.PlanningResult, attempt int) Evaluation {
	if result == nil || len(result.Modules) == 0 {
		return Evaluation{
			Decision: Fail,
			Reason:   "planning result has no modules",
		}
	}

	if result.Quality >= e.thresholds.Planning {
		return Evaluation{Decision: Pass}
	}

	if attempt < e.thresholds.MaxRetries {
		return Evaluation{
			Decision: Retry,
			Reason:   fmt.Sprintf("planning quality %.1f below threshold %.1f", result.Quality, e.thresholds.Planning),
		}
	}

	return Evaluation{
		Decision: Fail,
		Reason: fmt.Sprintf("planning quality %.1f below threshold %.1f after %d attempts",
			result.Quality, e.thresholds.Planning, attempt),
	}
}

// EvaluateQA gates the QA review. Retry here means re-running content
// creation with the review feedback, not re-running QA itself. A result
// missing its score never defaults to passing.
func (e *Evaluator) EvaluateQA(result *models.QAResult, improvementCount int) Evaluation {
	if result == nil {
		return Evaluation{
			Decision: Fail,
			Reason:   "qa result is missing",
		}
	}

	if result.OverallScore >= e.thresholds.Quality && result.ApprovedForRelease {
		return Evaluation{Decision: Pass}
	}

	if improvementCount < e.thresholds.MaxRetries {
		return Evaluation{
			Decision: Retry,
			Reason: fmt.Sprintf("qa score %.1f below threshold %.1f (approved=%t)",
				result.OverallScore, e.thresholds.Quality, result.ApprovedForRelease),
		}
	}

	return Evaluation{
		Decision: Fail,
		Reason: fmt.Sprintf("qa score %.1f below threshold %.1f after %d improvement iterations",
			result.OverallScore, e.thresholds.Quality, improvementCount),
	}
}
