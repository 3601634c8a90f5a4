// Package content defines the values that flow through a governed generation
// run: drafts, reviews, tags, attempts and the final run artifact.
package content

import (
	"time"
)

// Explanation is the prose section of a draft.
type Explanation struct {
	Text  string `json:"text" yaml:"text"`
	Grade int    `json:"grade" yaml:"grade"`
}

// MCQ is a single multiple-choice question.
type MCQ struct {
	Question     string   `json:"question" yaml:"question"`
	Options      []string `json:"options" yaml:"options"`
	CorrectIndex int      `json:"correct_index" yaml:"correct_index"`
}

// TeacherNotes accompany a draft for the educator.
type TeacherNotes struct {
	LearningObjective    string   `json:"learning_objective" yaml:"learning_objective"`
	CommonMisconceptions []string `json:"common_misconceptions" yaml:"common_misconceptions"`
}

// Draft is one generated or refined piece of educational content.
// Drafts are values and are never mutated once produced.
type Draft struct {
	Explanation  Explanation  `json:"explanation" yaml:"explanation"`
	MCQs         []MCQ        `json:"mcqs" yaml:"mcqs"`
	TeacherNotes TeacherNotes `json:"teacher_notes" yaml:"teacher_notes"`
}

// Clone returns a deep copy of the draft.
func (d Draft) Clone() Draft {
	out := d
	if d.MCQs != nil {
		out.MCQs = make([]MCQ, len(d.MCQs))
		for i, q := range d.MCQs {
			q.Options = append([]string(nil), q.Options...)
			out.MCQs[i] = q
		}
	}
	out.TeacherNotes.CommonMisconceptions = append([]string(nil), d.TeacherNotes.CommonMisconceptions...)
	return out
}

// Severity grades a review feedback item.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityMajor, SeverityMinor:
		return true
	}
	return false
}

// Criterion names one of the four scored review dimensions.
type Criterion string

const (
	CriterionAgeAppropriateness Criterion = "age_appropriateness"
	CriterionCorrectness        Criterion = "correctness"
	CriterionClarity            Criterion = "clarity"
	CriterionCoverage           Criterion = "coverage"
)

// Criteria returns the scored criteria in report order.
func Criteria() []Criterion {
	return []Criterion{
		CriterionAgeAppropriateness,
		CriterionCorrectness,
		CriterionClarity,
		CriterionCoverage,
	}
}

// Scores holds the 1-5 rating for each criterion.
type Scores struct {
	AgeAppropriateness int `json:"age_appropriateness" yaml:"age_appropriateness"`
	Correctness        int `json:"correctness" yaml:"correctness"`
	Clarity            int `json:"clarity" yaml:"clarity"`
	Coverage           int `json:"coverage" yaml:"coverage"`
}

// Get returns the score for c.
func (s Scores) Get(c Criterion) int {
	switch c {
	case CriterionAgeAppropriateness:
		return s.AgeAppropriateness
	case CriterionCorrectness:
		return s.Correctness
	case CriterionClarity:
		return s.Clarity
	case CriterionCoverage:
		return s.Coverage
	}
	return 0
}

// Feedback is one reviewer finding tied to a field path such as
// "mcqs[1].correct_index" or "explanation.text".
type Feedback struct {
	Field      string    `json:"field" yaml:"field"`
	Issue      string    `json:"issue" yaml:"issue"`
	Severity   Severity  `json:"severity" yaml:"severity"`
	Criterion  Criterion `json:"criterion,omitempty" yaml:"criterion,omitempty"`
	Suggestion string    `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
}

// ReviewResult is the reviewer's verdict on a draft. Pass is the reviewer's
// own claim; the gate recomputes it.
type ReviewResult struct {
	Scores   Scores     `json:"scores" yaml:"scores"`
	Pass     bool       `json:"pass" yaml:"pass"`
	Feedback []Feedback `json:"feedback" yaml:"feedback"`
	Summary  string     `json:"summary,omitempty" yaml:"summary,omitempty"`
}

// Difficulty of tagged content.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
)

// BloomsLevel is the cognitive level in Bloom's taxonomy.
type BloomsLevel string

const (
	BloomsRemembering   BloomsLevel = "Remembering"
	BloomsUnderstanding BloomsLevel = "Understanding"
	BloomsApplying      BloomsLevel = "Applying"
	BloomsAnalyzing     BloomsLevel = "Analyzing"
	BloomsEvaluating    BloomsLevel = "Evaluating"
	BloomsCreating      BloomsLevel = "Creating"
)

// ContentType classifies what kind of material a draft contains.
type ContentType string

const (
	ContentTypeExplanation ContentType = "Explanation"
	ContentTypeQuiz        ContentType = "Quiz"
	ContentTypeExercise    ContentType = "Exercise"
	ContentTypeExample     ContentType = "Example"
)

// TagSet is the classification attached to approved content.
type TagSet struct {
	Subject      string        `json:"subject" yaml:"subject"`
	Topic        string        `json:"topic" yaml:"topic"`
	Grade        int           `json:"grade" yaml:"grade"`
	Difficulty   Difficulty    `json:"difficulty" yaml:"difficulty"`
	BloomsLevel  BloomsLevel   `json:"blooms_level" yaml:"blooms_level"`
	ContentTypes []ContentType `json:"content_type" yaml:"content_type"`
	Keywords     []string      `json:"keywords,omitempty" yaml:"keywords,omitempty"`
}

// Attempt is one draft plus the review it received.
type Attempt struct {
	Index        int           `json:"attempt"`
	Draft        Draft         `json:"draft"`
	Review       *ReviewResult `json:"review"`
	RefinementOf int           `json:"refinement_of,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}
