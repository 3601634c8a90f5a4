package capability

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/assessd/internal/content"
)

// Stub is a deterministic Ports implementation. The same input always
// produces the same output, and drafts for topics of ordinary length satisfy
// the default schema limits. It is the default provider when no model is
// configured.
type Stub struct{}

// NewStub creates a stub.
func NewStub() *Stub {
	return &Stub{}
}

// Generate returns a fixed-shape draft for topic and grade.
func (s *Stub) Generate(ctx context.Context, grade int, topic string) (content.Draft, error) {
	return content.Draft{
		Explanation: content.Explanation{
			Text: fmt.Sprintf(
				"%s is an important idea for grade %d learners. This lesson introduces the key parts of %s, "+
					"shows how they connect, and gives an everyday example so students can see %s in the world around them.",
				topic, grade, topic, topic),
			Grade: grade,
		},
		MCQs: []content.MCQ{
			{
				Question:     fmt.Sprintf("What is the main idea of %s?", topic),
				Options:      []string{"The key parts and how they connect", "A random fact", "Something unrelated", "None of these"},
				CorrectIndex: 0,
			},
			{
				Question:     fmt.Sprintf("Where can you see %s in everyday life?", topic),
				Options:      []string{"Nowhere", "Only in books", "In the world around us", "Only on television"},
				CorrectIndex: 2,
			},
			{
				Question:     fmt.Sprintf("Which statement about %s is true?", topic),
				Options:      []string{"It has no parts", "Its parts connect to each other", "It cannot be explained", "It is always the same size"},
				CorrectIndex: 1,
			},
		},
		TeacherNotes: content.TeacherNotes{
			LearningObjective:    fmt.Sprintf("Students will be able to describe %s and give an example", topic),
			CommonMisconceptions: []string{fmt.Sprintf("Students may think %s only appears in textbooks", topic)},
		},
	}, nil
}

// Review scores every draft 4 across the board with one minor note.
func (s *Stub) Review(ctx context.Context, req ReviewRequest) (content.ReviewResult, error) {
	return content.ReviewResult{
		Scores: content.Scores{AgeAppropriateness: 4, Correctness: 4, Clarity: 4, Coverage: 4},
		Pass:   true,
		Feedback: []content.Feedback{{
			Field:      "explanation.text",
			Issue:      "Could include one more concrete example",
			Severity:   content.SeverityMinor,
			Criterion:  content.CriterionCoverage,
			Suggestion: fmt.Sprintf("Add a second everyday example of %s", req.Topic),
		}},
		Summary: "Content meets the quality bar",
	}, nil
}

// Refine appends a short revision note to the explanation.
func (s *Stub) Refine(ctx context.Context, req RefineRequest) (content.Draft, error) {
	d := req.Draft.Clone()
	d.Explanation.Text = strings.TrimSpace(d.Explanation.Text) + fmt.Sprintf(" (Revision %d addresses %d review notes.)", req.Attempt, len(req.Feedback))
	return d, nil
}

// Tag classifies content from the grade and topic words.
func (s *Stub) Tag(ctx context.Context, req TagRequest) (content.TagSet, error) {
	return content.TagSet{
		Subject:      subjectFor(req.Topic),
		Topic:        req.Topic,
		Grade:        req.Grade,
		Difficulty:   difficultyFor(req.Grade),
		BloomsLevel:  bloomsFor(req.Grade),
		ContentTypes: []content.ContentType{content.ContentTypeExplanation, content.ContentTypeQuiz},
		Keywords:     keywords(req.Topic),
	}, nil
}

var subjectStems = []struct{ stem, subject string }{
	{"fraction", "Mathematics"}, {"algebra", "Mathematics"}, {"geometry", "Mathematics"}, {"number", "Mathematics"},
	{"plant", "Science"}, {"photosynthesis", "Science"}, {"volcano", "Science"}, {"energy", "Science"}, {"cell", "Science"},
	{"war", "History"}, {"empire", "History"}, {"revolution", "History"},
	{"grammar", "English"}, {"poem", "English"}, {"noun", "English"}, {"verb", "English"},
}

func subjectFor(topic string) string {
	for _, w := range keywords(topic) {
		for _, s := range subjectStems {
			if strings.HasPrefix(w, s.stem) {
				return s.subject
			}
		}
	}
	return "General"
}

func difficultyFor(grade int) content.Difficulty {
	switch {
	case grade <= 4:
		return content.DifficultyEasy
	case grade <= 8:
		return content.DifficultyMedium
	default:
		return content.DifficultyHard
	}
}

func bloomsFor(grade int) content.BloomsLevel {
	switch {
	case grade <= 2:
		return content.BloomsRemembering
	case grade <= 5:
		return content.BloomsUnderstanding
	case grade <= 8:
		return content.BloomsApplying
	default:
		return content.BloomsAnalyzing
	}
}

func keywords(topic string) []string {
	var out []string
	for _, f := range strings.Fields(strings.ToLower(topic)) {
		f = strings.Trim(f, ".,;:!?\"'()")
		if len(f) > 2 {
			out = append(out, f)
		}
	}
	return out
}
