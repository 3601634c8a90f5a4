package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/assessd/internal/content"
)

func scores(a, c, cl, cov int) content.Scores {
	return content.Scores{AgeAppropriateness: a, Correctness: c, Clarity: cl, Coverage: cov}
}

func TestEvaluator_Evaluate(t *testing.T) {
	e := NewEvaluator(DefaultThresholds())

	tests := []struct {
		name      string
		review    content.ReviewResult
		wantPass  bool
		wantCodes []string
	}{
		{
			name:     "all fours pass",
			review:   content.ReviewResult{Scores: scores(4, 4, 4, 4)},
			wantPass: true,
		},
		{
			name:     "mean exactly 3.5 passes",
			review:   content.ReviewResult{Scores: scores(3, 4, 3, 4)},
			wantPass: true,
		},
		{
			name:      "mean below 3.5",
			review:    content.ReviewResult{Scores: scores(3, 3, 4, 3)},
			wantCodes: []string{CodeMeanBelowFloor},
		},
		{
			name:      "single score below floor",
			review:    content.ReviewResult{Scores: scores(5, 2, 5, 5)},
			wantCodes: []string{CodeScoreBelowFloor},
		},
		{
			name: "critical correctness feedback",
			review: content.ReviewResult{
				Scores: scores(5, 5, 5, 5),
				Feedback: []content.Feedback{
					{Field: "mcqs[1].correct_index", Issue: "answer key is wrong", Severity: content.SeverityCritical},
				},
			},
			wantCodes: []string{CodeCriticalIssue},
		},
		{
			name: "critical clarity feedback does not block",
			review: content.ReviewResult{
				Scores: scores(5, 5, 5, 5),
				Feedback: []content.Feedback{
					{Field: "explanation.text", Issue: "wordy", Severity: content.SeverityCritical, Criterion: content.CriterionClarity},
				},
			},
			wantPass: true,
		},
		{
			name: "major correctness feedback does not block",
			review: content.ReviewResult{
				Scores:   scores(4, 4, 4, 4),
				Feedback: []content.Feedback{{Field: "mcqs[0]", Issue: "ambiguous", Severity: content.SeverityMajor}},
			},
			wantPass: true,
		},
		{
			name:      "score out of range",
			review:    content.ReviewResult{Scores: scores(6, 4, 4, 4)},
			wantCodes: []string{CodeScoreOutOfRange},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Evaluate(tt.review)
			assert.Equal(t, tt.wantPass, d.Pass)
			var codes []string
			for _, r := range d.Reasons {
				codes = append(codes, r.Code)
			}
			assert.Equal(t, tt.wantCodes, codes)
		})
	}
}

func TestEvaluator_IgnoresReviewerPassFlag(t *testing.T) {
	e := NewEvaluator(DefaultThresholds())

	claimsPass := content.ReviewResult{Scores: scores(2, 2, 2, 2), Pass: true}
	assert.False(t, e.Evaluate(claimsPass).Pass)

	claimsFail := content.ReviewResult{Scores: scores(5, 5, 5, 5), Pass: false}
	assert.True(t, e.Evaluate(claimsFail).Pass)
}

func TestEvaluator_Idempotent(t *testing.T) {
	e := NewEvaluator(DefaultThresholds())
	review := content.ReviewResult{
		Scores:   scores(3, 2, 4, 5),
		Feedback: []content.Feedback{{Field: "explanation.text", Issue: "wrong fact", Severity: content.SeverityCritical}},
	}

	first := e.Evaluate(review)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, e.Evaluate(review))
	}
}

func TestEvaluator_ReasonsAreAttributable(t *testing.T) {
	e := NewEvaluator(DefaultThresholds())
	d := e.Evaluate(content.ReviewResult{
		Scores:   scores(1, 4, 4, 4),
		Feedback: []content.Feedback{{Field: "mcqs[2].options", Issue: "two right answers", Severity: content.SeverityCritical}},
	})

	require.False(t, d.Pass)
	for _, r := range d.Reasons {
		assert.True(t, r.Criterion != "" || r.Field != "", "reason %+v has no attribution", r)
	}
}

func TestMean(t *testing.T) {
	assert.InDelta(t, 3.25, Mean(scores(3, 3, 3, 4)), 1e-9)
}
