package capability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/assessd/internal/content"
	"github.com/fyrsmithlabs/assessd/internal/gate"
	"github.com/fyrsmithlabs/assessd/internal/schema"
)

func TestStub_DraftsPassSchemaAndGate(t *testing.T) {
	s := NewStub()
	v := schema.NewValidator(schema.DefaultLimits())
	g := gate.NewEvaluator(gate.DefaultThresholds())
	ctx := context.Background()

	for grade := 1; grade <= 12; grade++ {
		d, err := s.Generate(ctx, grade, "Photosynthesis")
		require.NoError(t, err)
		require.NoError(t, v.Validate(d, grade), "grade %d", grade)

		r, err := s.Review(ctx, ReviewRequest{Draft: d, Grade: grade, Topic: "Photosynthesis"})
		require.NoError(t, err)
		assert.True(t, g.Evaluate(r).Pass)

		refined, err := s.Refine(ctx, RefineRequest{Draft: d, Feedback: r.Feedback, Grade: grade, Topic: "Photosynthesis", Attempt: 2})
		require.NoError(t, err)
		require.NoError(t, v.Validate(refined, grade))
		assert.NotEqual(t, d.Explanation.Text, refined.Explanation.Text)
	}
}

func TestStub_IsDeterministic(t *testing.T) {
	s := NewStub()
	ctx := context.Background()
	a, _ := s.Generate(ctx, 6, "Volcanoes")
	b, _ := s.Generate(ctx, 6, "Volcanoes")
	assert.Equal(t, a, b)
}

func TestStub_Tag(t *testing.T) {
	tags, err := NewStub().Tag(context.Background(), TagRequest{Grade: 2, Topic: "Adding fractions"})
	require.NoError(t, err)
	assert.Equal(t, "Mathematics", tags.Subject)
	assert.Equal(t, content.DifficultyEasy, tags.Difficulty)
	assert.Equal(t, content.BloomsRemembering, tags.BloomsLevel)
	assert.Equal(t, []string{"adding", "fractions"}, tags.Keywords)
}
