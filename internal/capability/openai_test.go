package capability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/assessd/internal/content"
	"github.com/fyrsmithlabs/assessd/internal/schema"
)

type MockCompleter struct {
	mock.Mock
}

func (m *MockCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	args := m.Called(ctx, system, user)
	return args.String(0), args.Error(1)
}

const draftJSON = "```json\n" + `{
  "explanation": {"text": "Fractions describe parts of a whole, like slices of a pizza shared by friends.", "grade": 3},
  "mcqs": [
    {"question": "What does 1/2 mean?", "options": ["one of two parts", "two wholes", "zero", "half of zero"], "correct_index": 0}
  ],
  "teacher_notes": {"learning_objective": "Students will be able to name unit fractions", "common_misconceptions": ["Bigger denominator means bigger fraction"]}
}` + "\n```"

func TestLLMPorts_GenerateParsesFencedJSON(t *testing.T) {
	llm := new(MockCompleter)
	llm.On("Complete", mock.Anything, generatorSystem, generatePrompt(3, "Fractions")).Return(draftJSON, nil)

	p := NewLLMPorts(llm, 100, 1, nil)
	d, err := p.Generate(context.Background(), 3, "Fractions")
	require.NoError(t, err)
	assert.Equal(t, 3, d.Explanation.Grade)
	require.Len(t, d.MCQs, 1)
	assert.Len(t, d.MCQs[0].Options, 4)
	llm.AssertExpectations(t)
}

func TestLLMPorts_MalformedDraftIsSchemaError(t *testing.T) {
	llm := new(MockCompleter)
	llm.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("I cannot help with that", nil)

	p := NewLLMPorts(llm, 100, 1, nil)
	_, err := p.Generate(context.Background(), 3, "Fractions")
	assert.True(t, schema.IsSchemaError(err))

	_, err = p.Refine(context.Background(), RefineRequest{Grade: 3, Topic: "Fractions", Attempt: 2})
	assert.True(t, schema.IsSchemaError(err))
}

func TestLLMPorts_TransportErrorCarriesKind(t *testing.T) {
	llm := new(MockCompleter)
	llm.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("503"))

	p := NewLLMPorts(llm, 100, 4, nil)
	ctx := context.Background()

	_, err := p.Generate(ctx, 5, "Levers")
	kind, _ := KindOf(err)
	assert.Equal(t, KindGeneration, kind)

	_, err = p.Review(ctx, ReviewRequest{Grade: 5, Topic: "Levers"})
	kind, _ = KindOf(err)
	assert.Equal(t, KindReview, kind)

	_, err = p.Tag(ctx, TagRequest{Grade: 5, Topic: "Levers"})
	kind, _ = KindOf(err)
	assert.Equal(t, KindTagging, kind)
}

func TestLLMPorts_ReviewNormalisesSeverity(t *testing.T) {
	llm := new(MockCompleter)
	llm.On("Complete", mock.Anything, reviewerSystem, mock.Anything).Return(`{
		"scores": {"age_appropriateness": 4, "correctness": 2, "clarity": 4, "coverage": 3},
		"pass": false,
		"feedback": [
			{"field": "mcqs[0].correct_index", "issue": "wrong key", "severity": "critical", "criterion": "correctness"},
			{"field": "explanation.text", "issue": "long", "severity": "urgent"}
		],
		"summary": "needs work"
	}`, nil)

	p := NewLLMPorts(llm, 100, 1, nil)
	r, err := p.Review(context.Background(), ReviewRequest{Grade: 3, Topic: "Fractions"})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Scores.Correctness)
	require.Len(t, r.Feedback, 2)
	assert.Equal(t, content.SeverityCritical, r.Feedback[0].Severity)
	assert.Equal(t, content.SeverityMinor, r.Feedback[1].Severity)
	assert.Equal(t, "needs work", r.Summary)
}

func TestLLMPorts_TagFillsRequestFields(t *testing.T) {
	llm := new(MockCompleter)
	llm.On("Complete", mock.Anything, taggerSystem, mock.Anything).Return(`{
		"subject": "Mathematics", "difficulty": "Easy", "blooms_level": "Understanding",
		"content_type": ["Explanation", "Quiz"], "keywords": ["fractions"]
	}`, nil)

	p := NewLLMPorts(llm, 100, 1, nil)
	tags, err := p.Tag(context.Background(), TagRequest{Grade: 3, Topic: "Fractions"})
	require.NoError(t, err)
	assert.Equal(t, 3, tags.Grade)
	assert.Equal(t, "Fractions", tags.Topic)
	assert.Equal(t, []content.ContentType{content.ContentTypeExplanation, content.ContentTypeQuiz}, tags.ContentTypes)
}

func TestNewLLMPorts_LimiterDefaults(t *testing.T) {
	p := NewLLMPorts(nil, 0, 0, nil)
	assert.Equal(t, defaultBurst, p.limiter.Burst())

	p = NewLLMPorts(nil, 5, 6, nil)
	assert.Equal(t, 6, p.limiter.Burst())
}

func TestRefinePrompt_IncludesAttemptAndFeedback(t *testing.T) {
	prompt, err := refinePrompt(RefineRequest{
		Grade:   2,
		Topic:   "Shapes",
		Attempt: 3,
		Feedback: []content.Feedback{{
			Field: "mcqs[0].question", Issue: "too long", Severity: content.SeverityMajor, Suggestion: "shorten",
		}},
	})
	require.NoError(t, err)
	assert.Contains(t, prompt, "REFINEMENT ATTEMPT: 3")
	assert.Contains(t, prompt, "[major] mcqs[0].question: too long (suggestion: shorten)")
	assert.Contains(t, prompt, GradeGuidance(2))
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, extractJSON("Here you go: {\"a\":1} thanks"))
	assert.Equal(t, "plain", extractJSON("  plain "))
}

func TestGradeGuidance_Bands(t *testing.T) {
	assert.Contains(t, GradeGuidance(1), "Concrete examples only")
	assert.Contains(t, GradeGuidance(4), "Real-world examples")
	assert.Contains(t, GradeGuidance(6), "analogies")
	assert.Contains(t, GradeGuidance(8), "Middle-school")
	assert.Contains(t, GradeGuidance(12), "Critical analysis")
}

func TestNew_SelectsProvider(t *testing.T) {
	p, err := New(Settings{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Stub{}, p)

	_, err = New(Settings{Provider: ProviderOpenAI}, nil)
	assert.Error(t, err)

	_, err = New(Settings{Provider: "bogus"}, nil)
	assert.Error(t, err)
}
