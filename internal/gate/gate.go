// Package gate decides whether a reviewed draft may proceed to tagging.
//
// The decision is recomputed from the review scores and feedback on every
// call. A reviewer's own pass flag is never consulted, so two evaluations of
// the same review always agree.
package gate

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/assessd/internal/content"
)

// Thresholds configure the gate rule.
type Thresholds struct {
	MinScore  int
	MinMean   float64
	ScoreLow  int
	ScoreHigh int
}

// DefaultThresholds returns the standard gate: every score at least 3 and a
// mean of at least 3.5 on the 1-5 scale.
func DefaultThresholds() Thresholds {
	return Thresholds{MinScore: 3, MinMean: 3.5, ScoreLow: 1, ScoreHigh: 5}
}

// Reason codes.
const (
	CodeScoreOutOfRange = "score_out_of_range"
	CodeScoreBelowFloor = "score_below_floor"
	CodeMeanBelowFloor  = "mean_below_floor"
	CodeCriticalIssue   = "critical_correctness_issue"
)

// Reason attributes a gate failure to a criterion and/or field path.
type Reason struct {
	Check     string            `json:"check"`
	Code      string            `json:"code"`
	Criterion content.Criterion `json:"criterion,omitempty"`
	Field     string            `json:"field,omitempty"`
	Detail    string            `json:"detail"`
}

// Decision is the gate verdict.
type Decision struct {
	Pass    bool     `json:"pass"`
	Mean    float64  `json:"mean"`
	Reasons []Reason `json:"reasons,omitempty"`
}

// Check is one rule within the gate.
type Check interface {
	// Name returns the check identifier
	Name() string

	// Check returns failure reasons for review, or none when it passes
	Check(review content.ReviewResult, t Thresholds) []Reason
}

// Evaluator applies every check to a review.
type Evaluator struct {
	thresholds Thresholds
	checks     []Check
}

// NewEvaluator creates an evaluator with the standard checks.
func NewEvaluator(t Thresholds) *Evaluator {
	return &Evaluator{
		thresholds: t,
		checks: []Check{
			NewScoreRangeCheck(),
			NewScoreFloorCheck(),
			NewMeanCheck(),
			NewCriticalIssueCheck(),
		},
	}
}

// Thresholds returns the configured thresholds.
func (e *Evaluator) Thresholds() Thresholds {
	return e.thresholds
}

// Evaluate returns the decision for review. It has no side effects.
func (e *Evaluator) Evaluate(review content.ReviewResult) Decision {
	var reasons []Reason
	for _, c := range e.checks {
		reasons = append(reasons, c.Check(review, e.thresholds)...)
	}
	return Decision{
		Pass:    len(reasons) == 0,
		Mean:    Mean(review.Scores),
		Reasons: reasons,
	}
}

// Mean returns the average of the four criterion scores.
func Mean(s content.Scores) float64 {
	total := 0
	for _, c := range content.Criteria() {
		total += s.Get(c)
	}
	return float64(total) / float64(len(content.Criteria()))
}

// ScoreRangeCheck rejects scores outside the rating scale.
type ScoreRangeCheck struct{}

// NewScoreRangeCheck creates the check.
func NewScoreRangeCheck() *ScoreRangeCheck { return &ScoreRangeCheck{} }

// Name returns the check identifier
func (c *ScoreRangeCheck) Name() string { return "score-range" }

// Check validates every score lies on the scale.
func (c *ScoreRangeCheck) Check(review content.ReviewResult, t Thresholds) []Reason {
	var out []Reason
	for _, crit := range content.Criteria() {
		s := review.Scores.Get(crit)
		if s < t.ScoreLow || s > t.ScoreHigh {
			out = append(out, Reason{
				Check:     c.Name(),
				Code:      CodeScoreOutOfRange,
				Criterion: crit,
				Detail:    fmt.Sprintf("%s score %d outside %d-%d", crit, s, t.ScoreLow, t.ScoreHigh),
			})
		}
	}
	return out
}

// ScoreFloorCheck requires every criterion to meet the minimum score.
type ScoreFloorCheck struct{}

// NewScoreFloorCheck creates the check.
func NewScoreFloorCheck() *ScoreFloorCheck { return &ScoreFloorCheck{} }

// Name returns the check identifier
func (c *ScoreFloorCheck) Name() string { return "score-floor" }

// Check validates each score against the floor.
func (c *ScoreFloorCheck) Check(review content.ReviewResult, t Thresholds) []Reason {
	var out []Reason
	for _, crit := range content.Criteria() {
		if s := review.Scores.Get(crit); s < t.MinScore {
			out = append(out, Reason{
				Check:     c.Name(),
				Code:      CodeScoreBelowFloor,
				Criterion: crit,
				Detail:    fmt.Sprintf("%s score %d below %d", crit, s, t.MinScore),
			})
		}
	}
	return out
}

// MeanCheck requires the average score to meet the minimum mean.
type MeanCheck struct{}

// NewMeanCheck creates the check.
func NewMeanCheck() *MeanCheck { return &MeanCheck{} }

// Name returns the check identifier
func (c *MeanCheck) Name() string { return "mean-floor" }

// Check validates the mean score.
func (c *MeanCheck) Check(review content.ReviewResult, t Thresholds) []Reason {
	if m := Mean(review.Scores); m < t.MinMean {
		return []Reason{{
			Check:     c.Name(),
			Code:      CodeMeanBelowFloor,
			Criterion: weakest(review.Scores),
			Detail:    fmt.Sprintf("mean score %.2f below %.2f", m, t.MinMean),
		}}
	}
	return nil
}

// weakest returns the lowest-scoring criterion, first in report order on ties.
func weakest(s content.Scores) content.Criterion {
	crits := content.Criteria()
	low := crits[0]
	for _, c := range crits[1:] {
		if s.Get(c) < s.Get(low) {
			low = c
		}
	}
	return low
}

// CriticalIssueCheck fails any review carrying a critical correctness
// finding. A finding is about correctness when its criterion says so, or,
// lacking a criterion, when it points into the explanation or the mcqs.
type CriticalIssueCheck struct{}

// NewCriticalIssueCheck creates the check.
func NewCriticalIssueCheck() *CriticalIssueCheck { return &CriticalIssueCheck{} }

// Name returns the check identifier
func (c *CriticalIssueCheck) Name() string { return "critical-correctness" }

// Check scans feedback for critical correctness items.
func (c *CriticalIssueCheck) Check(review content.ReviewResult, _ Thresholds) []Reason {
	var out []Reason
	for _, fb := range review.Feedback {
		if fb.Severity != content.SeverityCritical || !IsCorrectnessFinding(fb) {
			continue
		}
		out = append(out, Reason{
			Check:     c.Name(),
			Code:      CodeCriticalIssue,
			Criterion: content.CriterionCorrectness,
			Field:     fb.Field,
			Detail:    fb.Issue,
		})
	}
	return out
}

// IsCorrectnessFinding reports whether fb concerns factual correctness.
func IsCorrectnessFinding(fb content.Feedback) bool {
	if fb.Criterion != "" {
		return fb.Criterion == content.CriterionCorrectness
	}
	return strings.HasPrefix(fb.Field, "mcqs") || strings.HasPrefix(fb.Field, "explanation")
}
