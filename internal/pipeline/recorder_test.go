package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/assessd/internal/capability"
	"github.com/fyrsmithlabs/assessd/internal/content"
)

func testDraft(t *testing.T) content.Draft {
	t.Helper()
	d, err := capability.NewStub().Generate(context.Background(), 5, "Photosynthesis")
	require.NoError(t, err)
	return d
}

func TestRecorder_NumbersAttemptsSequentially(t *testing.T) {
	rec := NewRecorder(nil)
	d := testDraft(t)

	idx, err := rec.Begin(d, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	require.NoError(t, rec.RecordReview(1, content.ReviewResult{}))

	idx, err = rec.Begin(d, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, idx)

	attempts := rec.Attempts()
	require.Len(t, attempts, 2)
	assert.Equal(t, 0, attempts[0].RefinementOf)
	assert.Equal(t, 1, attempts[1].RefinementOf)
	assert.NotNil(t, attempts[0].Review)
	assert.Nil(t, attempts[1].Review)
}

func TestRecorder_SealsReviews(t *testing.T) {
	rec := NewRecorder(nil)
	d := testDraft(t)

	_, err := rec.Begin(d, 0)
	require.NoError(t, err)
	require.NoError(t, rec.RecordReview(1, content.ReviewResult{Pass: true}))
	assert.ErrorIs(t, rec.RecordReview(1, content.ReviewResult{}), ErrAttemptSealed)

	_, err = rec.Begin(d, 1)
	require.NoError(t, err)
	assert.ErrorIs(t, rec.RecordReview(1, content.ReviewResult{}), ErrAttemptSealed, "earlier attempts are immutable")
	assert.ErrorIs(t, rec.RecordReview(5, content.ReviewResult{}), ErrUnknownAttempt)
}

func TestRecorder_Limit(t *testing.T) {
	rec := NewRecorder(nil)
	d := testDraft(t)
	for i := 0; i < content.MaxAttempts; i++ {
		_, err := rec.Begin(d, i)
		require.NoError(t, err)
	}
	_, err := rec.Begin(d, 3)
	assert.ErrorIs(t, err, ErrAttemptLimit)

	_, err = NewRecorder(nil).Begin(d, 2)
	assert.ErrorIs(t, err, ErrUnknownAttempt)
}

func TestRecorder_MonotonicTimestamps(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ticks := []time.Time{base, base.Add(-time.Minute), base.Add(time.Second)}
	i := 0
	rec := NewRecorder(func() time.Time { t := ticks[i]; i++; return t })
	d := testDraft(t)

	for n := 0; n < 3; n++ {
		_, err := rec.Begin(d, n)
		require.NoError(t, err)
	}
	at := rec.Attempts()
	assert.Equal(t, base, at[0].Timestamp)
	assert.Equal(t, base, at[1].Timestamp, "clock going backwards is clamped")
	assert.Equal(t, base.Add(time.Second), at[2].Timestamp)
}

func TestRecorder_AttemptsIsACopy(t *testing.T) {
	rec := NewRecorder(nil)
	_, err := rec.Begin(testDraft(t), 0)
	require.NoError(t, err)
	require.NoError(t, rec.RecordReview(1, content.ReviewResult{Feedback: []content.Feedback{{Field: "mcqs", Issue: "x"}}}))

	got := rec.Attempts()
	got[0].Draft.MCQs[0].Question = "changed"
	got[0].Review.Feedback[0].Issue = "changed"

	again := rec.Attempts()
	assert.NotEqual(t, "changed", again[0].Draft.MCQs[0].Question)
	assert.Equal(t, "x", again[0].Review.Feedback[0].Issue)
}
