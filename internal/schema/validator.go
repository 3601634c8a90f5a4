// Package schema checks content drafts for structural completeness before
// they enter review.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/assessd/internal/content"
)

// BandLimit bounds explanation length for grades up to MaxGrade.
type BandLimit struct {
	MaxGrade       int `koanf:"max_grade"`
	MaxExplanation int `koanf:"max_explanation"`
}

// Limits configures the validator thresholds.
type Limits struct {
	MinExplanation   int         `koanf:"min_explanation"`
	MinMCQs          int         `koanf:"min_mcqs"`
	MaxMCQs          int         `koanf:"max_mcqs"`
	OptionsPerMCQ    int         `koanf:"options_per_mcq"`
	MinQuestion      int         `koanf:"min_question"`
	MinObjective     int         `koanf:"min_objective"`
	MinMisconception int         `koanf:"min_misconceptions"`
	Bands            []BandLimit `koanf:"bands"`
}

// DefaultLimits returns the stock thresholds.
func DefaultLimits() Limits {
	return Limits{
		MinExplanation:   50,
		MinMCQs:          3,
		MaxMCQs:          5,
		OptionsPerMCQ:    4,
		MinQuestion:      10,
		MinObjective:     20,
		MinMisconception: 1,
		Bands: []BandLimit{
			{MaxGrade: 2, MaxExplanation: 800},
			{MaxGrade: 4, MaxExplanation: 1200},
			{MaxGrade: 6, MaxExplanation: 1600},
			{MaxGrade: 8, MaxExplanation: 2200},
			{MaxGrade: 12, MaxExplanation: 3000},
		},
	}
}

// MaxExplanationFor returns the explanation ceiling for grade, or 0 when no
// band applies.
func (l Limits) MaxExplanationFor(grade int) int {
	for _, b := range l.Bands {
		if grade <= b.MaxGrade {
			return b.MaxExplanation
		}
	}
	return 0
}

// Validate checks the limits themselves.
func (l Limits) Validate() error {
	if l.MinMCQs < 1 || l.MaxMCQs < l.MinMCQs {
		return fmt.Errorf("mcq bounds invalid: min=%d max=%d", l.MinMCQs, l.MaxMCQs)
	}
	if l.OptionsPerMCQ < 2 {
		return fmt.Errorf("options per mcq must be >= 2, got %d", l.OptionsPerMCQ)
	}
	prev := 0
	for _, b := range l.Bands {
		if b.MaxGrade <= prev {
			return fmt.Errorf("grade bands must be ascending, got %d after %d", b.MaxGrade, prev)
		}
		if b.MaxExplanation < l.MinExplanation {
			return fmt.Errorf("band %d max explanation %d below minimum %d", b.MaxGrade, b.MaxExplanation, l.MinExplanation)
		}
		prev = b.MaxGrade
	}
	return nil
}

// Validator checks drafts against Limits. It is stateless and safe for
// concurrent use.
type Validator struct {
	limits Limits
}

// NewValidator creates a validator.
func NewValidator(limits Limits) *Validator {
	return &Validator{limits: limits}
}

// ValidateRaw decodes a raw payload into a draft and validates it.
func (v *Validator) ValidateRaw(raw []byte, grade int) (content.Draft, error) {
	var draft content.Draft
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&draft); err != nil {
		return content.Draft{}, &Error{Violations: []Violation{{
			Field:   "$",
			Rule:    RuleDecode,
			Message: err.Error(),
		}}}
	}
	if err := v.Validate(draft, grade); err != nil {
		return content.Draft{}, err
	}
	return draft, nil
}

// Validate returns nil when draft is structurally complete for grade, or an
// *Error listing every violation found.
func (v *Validator) Validate(draft content.Draft, grade int) error {
	c := &collector{}
	l := v.limits

	exp := strings.TrimSpace(draft.Explanation.Text)
	switch n := utf8.RuneCountInString(exp); {
	case n == 0:
		c.add("explanation.text", RuleRequired, "explanation text is required")
	case n < l.MinExplanation:
		c.add("explanation.text", RuleTooShort, fmt.Sprintf("explanation has %d characters, need at least %d", n, l.MinExplanation))
	default:
		if max := l.MaxExplanationFor(grade); max > 0 && n > max {
			c.add("explanation.text", RuleTooLong, fmt.Sprintf("explanation has %d characters, grade %d allows %d", n, grade, max))
		}
	}

	switch g := draft.Explanation.Grade; {
	case g < 1 || g > 12:
		c.add("explanation.grade", RuleOutOfRange, fmt.Sprintf("grade %d outside 1-12", g))
	case g != grade:
		c.add("explanation.grade", RuleMismatch, fmt.Sprintf("grade %d does not match requested grade %d", g, grade))
	}

	switch n := len(draft.MCQs); {
	case n == 0:
		c.add("mcqs", RuleRequired, "at least one mcq is required")
	case n < l.MinMCQs || n > l.MaxMCQs:
		c.add("mcqs", RuleCount, fmt.Sprintf("%d mcqs, need %d-%d", n, l.MinMCQs, l.MaxMCQs))
	}

	for i, q := range draft.MCQs {
		base := fmt.Sprintf("mcqs[%d]", i)
		switch n := utf8.RuneCountInString(strings.TrimSpace(q.Question)); {
		case n == 0:
			c.add(base+".question", RuleRequired, "question text is required")
		case n < l.MinQuestion:
			c.add(base+".question", RuleTooShort, fmt.Sprintf("question has %d characters, need at least %d", n, l.MinQuestion))
		}
		if len(q.Options) != l.OptionsPerMCQ {
			c.add(base+".options", RuleCount, fmt.Sprintf("%d options, need exactly %d", len(q.Options), l.OptionsPerMCQ))
		}
		for j, opt := range q.Options {
			if strings.TrimSpace(opt) == "" {
				c.add(fmt.Sprintf("%s.options[%d]", base, j), RuleRequired, "option text is required")
			}
		}
		if q.CorrectIndex < 0 || q.CorrectIndex >= l.OptionsPerMCQ || q.CorrectIndex >= len(q.Options) {
			c.add(base+".correct_index", RuleOutOfRange, fmt.Sprintf("correct index %d outside option range", q.CorrectIndex))
		}
	}

	switch n := utf8.RuneCountInString(strings.TrimSpace(draft.TeacherNotes.LearningObjective)); {
	case n == 0:
		c.add("teacher_notes.learning_objective", RuleRequired, "learning objective is required")
	case n < l.MinObjective:
		c.add("teacher_notes.learning_objective", RuleTooShort, fmt.Sprintf("learning objective has %d characters, need at least %d", n, l.MinObjective))
	}

	misconceptions := 0
	for i, m := range draft.TeacherNotes.CommonMisconceptions {
		if strings.TrimSpace(m) == "" {
			c.add(fmt.Sprintf("teacher_notes.common_misconceptions[%d]", i), RuleRequired, "misconception text is required")
			continue
		}
		misconceptions++
	}
	if misconceptions < l.MinMisconception {
		c.add("teacher_notes.common_misconceptions", RuleCount, fmt.Sprintf("%d misconceptions, need at least %d", misconceptions, l.MinMisconception))
	}

	return c.err()
}

type collector struct {
	violations []Violation
}

func (c *collector) add(field, rule, msg string) {
	c.violations = append(c.violations, Violation{Field: field, Rule: rule, Message: msg})
}

func (c *collector) err() error {
	if len(c.violations) == 0 {
		return nil
	}
	return &Error{Violations: c.violations}
}
