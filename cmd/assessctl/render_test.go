package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/assessd/internal/content"
	"github.com/fyrsmithlabs/assessd/internal/events"
	"github.com/fyrsmithlabs/assessd/internal/store"
)

func TestRenderArtifact_Rejected(t *testing.T) {
	art := &content.RunArtifact{
		RunID: "run-1",
		Input: content.RunInput{Grade: 3, Topic: "Volcanoes"},
		Attempts: []content.Attempt{
			{Index: 1, Review: &content.ReviewResult{Scores: content.Scores{AgeAppropriateness: 2, Correctness: 2, Clarity: 3, Coverage: 3}}},
		},
		Final: content.Final{
			Status:          content.StatusRejected,
			RejectionReason: "max_refinements_exceeded",
			Feedback: []content.Feedback{
				{Field: "mcqs[0].correct_index", Issue: "wrong answer", Severity: content.SeverityCritical},
			},
		},
		Metadata: map[string]string{"gate_divergence": "attempt 1: reviewer=true gate=false"},
	}

	out := renderArtifact(art)
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "rejected")
	assert.Contains(t, out, "max_refinements_exceeded")
	assert.Contains(t, out, "mcqs[0].correct_index")
	assert.Contains(t, out, "gate overrode reviewer")
}

func TestRenderArtifact_Approved(t *testing.T) {
	draft := &content.Draft{
		Explanation: content.Explanation{Text: "Plants make food from light.", Grade: 4},
		MCQs: []content.MCQ{
			{Question: "What do plants need?", Options: []string{"Light", "Sand", "Salt", "Oil"}, CorrectIndex: 0},
		},
	}
	art := &content.RunArtifact{
		RunID: "run-2",
		Input: content.RunInput{Grade: 4, Topic: "Photosynthesis"},
		Final: content.Final{
			Status:  content.StatusApproved,
			Content: draft,
			Tags:    &content.TagSet{Subject: "Science", Difficulty: content.DifficultyEasy, Keywords: []string{"plants", "light"}},
		},
	}

	out := renderArtifact(art)
	assert.Contains(t, out, "approved")
	assert.Contains(t, out, "What do plants need?")
	assert.Contains(t, out, "a) Light")
	assert.Contains(t, out, "plants, light")
}

func TestRenderList(t *testing.T) {
	assert.Contains(t, renderList(nil), "no artifacts")

	out := renderList([]content.RunArtifact{
		{RunID: "r1", Input: content.RunInput{Grade: 2, Topic: "Counting"}, Final: content.Final{Status: content.StatusApproved}},
		{RunID: "r2", Input: content.RunInput{Grade: 2, Topic: "Shapes"}, Final: content.Final{Status: content.StatusRejected, RejectionReason: "cancelled"}},
	})
	assert.Contains(t, out, "r1")
	assert.Contains(t, out, "g2 Shapes")
	assert.Contains(t, out, "cancelled")
}

func TestRenderStats(t *testing.T) {
	out := renderStats(store.Stats{
		Total: 4, Approved: 1, Rejected: 3, ApprovalRate: 0.25,
		ByReason: map[string]int{"generation_failed": 1, "max_refinements_exceeded": 2},
	})
	assert.Contains(t, out, "25.0%")
	assert.Less(t,
		strings.Index(out, "max_refinements_exceeded"),
		strings.Index(out, "generation_failed"),
		"most frequent reason first")
}

func TestRenderEvent(t *testing.T) {
	out := renderEvent(events.Event{
		RunID:           "r9",
		Status:          content.StatusRejected,
		RejectionReason: "tagging_failed",
		Grade:           7,
		Topic:           "Cells",
		FinishedAt:      time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC),
	})
	assert.Contains(t, out, "r9")
	assert.Contains(t, out, "g7 Cells")
	assert.Contains(t, out, "tagging_failed")
}
