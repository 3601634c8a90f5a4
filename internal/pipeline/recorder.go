package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/assessd/internal/content"
)

var (
	// ErrAttemptSealed is returned when writing to an attempt that already
	// has a review or is no longer the current attempt.
	ErrAttemptSealed = errors.New("attempt is sealed")

	// ErrAttemptLimit is returned when a run would exceed content.MaxAttempts.
	ErrAttemptLimit = errors.New("attempt limit reached")

	// ErrUnknownAttempt is returned for an index that was never begun.
	ErrUnknownAttempt = errors.New("unknown attempt")
)

// Recorder is the append-only attempt log of one run. It is not safe for
// concurrent use; each run owns its own.
type Recorder struct {
	attempts []content.Attempt
	now      func() time.Time
	last     time.Time
}

// NewRecorder creates an empty recorder. now defaults to time.Now.
func NewRecorder(now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{now: now}
}

// Begin appends a new attempt holding draft and returns its 1-based index.
// refinementOf is the index of the attempt it revises, or 0.
func (r *Recorder) Begin(draft content.Draft, refinementOf int) (int, error) {
	if len(r.attempts) >= content.MaxAttempts {
		return 0, fmt.Errorf("%w: %d", ErrAttemptLimit, content.MaxAttempts)
	}
	if refinementOf < 0 || refinementOf > len(r.attempts) {
		return 0, fmt.Errorf("%w: refinement of %d", ErrUnknownAttempt, refinementOf)
	}
	idx := len(r.attempts) + 1
	r.attempts = append(r.attempts, content.Attempt{
		Index:        idx,
		Draft:        draft.Clone(),
		RefinementOf: refinementOf,
		Timestamp:    r.stamp(),
	})
	return idx, nil
}

// RecordReview writes review into attempt index. Only the current attempt
// accepts a review, and only once.
func (r *Recorder) RecordReview(index int, review content.ReviewResult) error {
	if index < 1 || index > len(r.attempts) {
		return fmt.Errorf("%w: %d", ErrUnknownAttempt, index)
	}
	if index != len(r.attempts) {
		return fmt.Errorf("%w: attempt %d is not current", ErrAttemptSealed, index)
	}
	at := &r.attempts[index-1]
	if at.Review != nil {
		return fmt.Errorf("%w: attempt %d already reviewed", ErrAttemptSealed, index)
	}
	rv := cloneReview(review)
	at.Review = &rv
	return nil
}

// Len returns the number of attempts begun.
func (r *Recorder) Len() int {
	return len(r.attempts)
}

// Attempts returns a copy of the log.
func (r *Recorder) Attempts() []content.Attempt {
	out := make([]content.Attempt, len(r.attempts))
	for i, at := range r.attempts {
		at.Draft = at.Draft.Clone()
		if at.Review != nil {
			rv := cloneReview(*at.Review)
			at.Review = &rv
		}
		out[i] = at
	}
	return out
}

// stamp returns a timestamp no earlier than the previous one.
func (r *Recorder) stamp() time.Time {
	t := r.now()
	if t.Before(r.last) {
		t = r.last
	}
	r.last = t
	return t
}

func cloneReview(rv content.ReviewResult) content.ReviewResult {
	rv.Feedback = append([]content.Feedback(nil), rv.Feedback...)
	return rv
}
