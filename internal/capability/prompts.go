package capability

import (
	"encoding/json"
	"fmt"
	"strings"
)

const generatorSystem = `You are an expert educational content creator. You write structured,
age-appropriate material and reply with JSON only, matching exactly:
{
  "explanation": {"text": "...", "grade": <grade>},
  "mcqs": [{"question": "...", "options": ["A", "B", "C", "D"], "correct_index": <0-3>}],
  "teacher_notes": {"learning_objective": "Students will be able to ...", "common_misconceptions": ["..."]}
}
Rules: exactly 4 options per question, correct_index between 0 and 3, 3 to 5 questions,
an explanation of at least 50 characters, at least one misconception.`

const reviewerSystem = `You are a strict educational content reviewer. Score each criterion from 1 to 5:
age_appropriateness, correctness, clarity, coverage. Reply with JSON only:
{
  "scores": {"age_appropriateness": n, "correctness": n, "clarity": n, "coverage": n},
  "pass": true|false,
  "feedback": [{"field": "path.to.field", "issue": "...", "severity": "critical|major|minor",
                "criterion": "age_appropriateness|correctness|clarity|coverage", "suggestion": "..."}],
  "summary": "..."
}
Every feedback item must name a field using paths like explanation.text or mcqs[1].options.
Use severity critical only for factual errors or wrong answer keys.`

const refinerSystem = `You revise educational content to address reviewer feedback. Keep what works,
fix every issue raised, and reply with JSON only in the same structure as the input draft.`

const taggerSystem = `You classify educational content. Reply with JSON only:
{
  "subject": "...", "topic": "...", "grade": <grade>,
  "difficulty": "Easy|Medium|Hard",
  "blooms_level": "Remembering|Understanding|Applying|Analyzing|Evaluating|Creating",
  "content_type": ["Explanation|Quiz|Exercise|Example"],
  "keywords": ["..."]
}`

// GradeGuidance returns language guidance for a grade band.
func GradeGuidance(grade int) string {
	switch {
	case grade <= 2:
		return "- Very simple words, mostly one or two syllables\n- Short sentences of 5-8 words\n- Concrete examples only\n- No abstract concepts"
	case grade <= 4:
		return "- Simple vocabulary, define any new term\n- Sentences of 8-12 words\n- Real-world examples\n- Basic cause and effect"
	case grade <= 6:
		return "- Moderate vocabulary with subject terms\n- Varied sentence structure\n- Examples and analogies\n- First abstract concepts"
	case grade <= 8:
		return "- Middle-school academic vocabulary\n- Complex sentences allowed\n- Abstract reasoning\n- Multiple perspectives"
	default:
		return "- Advanced academic vocabulary\n- Complex sentence structures\n- Theoretical concepts\n- Critical analysis expected"
	}
}

func generatePrompt(grade int, topic string) string {
	return fmt.Sprintf(`Create educational content for:

GRADE: %d
TOPIC: %s

GRADE-SPECIFIC GUIDANCE:
%s

Produce a 3-4 paragraph explanation, 3-5 multiple choice questions and teacher notes.`, grade, topic, GradeGuidance(grade))
}

func reviewPrompt(req ReviewRequest) (string, error) {
	body, err := json.MarshalIndent(req.Draft, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("TARGET GRADE: %d\nTOPIC: %s\n\nCONTENT TO REVIEW:\n%s", req.Grade, req.Topic, body), nil
}

func refinePrompt(req RefineRequest) (string, error) {
	body, err := json.MarshalIndent(req.Draft, "", "  ")
	if err != nil {
		return "", err
	}
	var fb strings.Builder
	for _, f := range req.Feedback {
		fmt.Fprintf(&fb, "- [%s] %s: %s", f.Severity, f.Field, f.Issue)
		if f.Suggestion != "" {
			fmt.Fprintf(&fb, " (suggestion: %s)", f.Suggestion)
		}
		fb.WriteString("\n")
	}
	s := req.Review.Scores
	return fmt.Sprintf(`REFINEMENT ATTEMPT: %d
TARGET GRADE: %d
TOPIC: %s

SCORES: age_appropriateness=%d correctness=%d clarity=%d coverage=%d

FEEDBACK:
%s
GRADE-SPECIFIC GUIDANCE:
%s

CURRENT DRAFT:
%s`, req.Attempt, req.Grade, req.Topic, s.AgeAppropriateness, s.Correctness, s.Clarity, s.Coverage,
		fb.String(), GradeGuidance(req.Grade), body), nil
}

func tagPrompt(req TagRequest) (string, error) {
	body, err := json.MarshalIndent(req.Draft, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("GRADE: %d\nTOPIC: %s\n\nAPPROVED CONTENT:\n%s", req.Grade, req.Topic, body), nil
}

// extractJSON strips markdown code fences and any prose around the outermost
// JSON object.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return strings.TrimSpace(s)
}
