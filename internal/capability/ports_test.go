package capability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/assessd/internal/content"
)

// slowPorts blocks every call until ctx ends or release is closed.
type slowPorts struct {
	release chan struct{}
}

func (s *slowPorts) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.release:
		return nil
	}
}

func (s *slowPorts) Generate(ctx context.Context, grade int, topic string) (content.Draft, error) {
	return content.Draft{}, s.wait(ctx)
}

func (s *slowPorts) Review(ctx context.Context, req ReviewRequest) (content.ReviewResult, error) {
	return content.ReviewResult{}, s.wait(ctx)
}

func (s *slowPorts) Refine(ctx context.Context, req RefineRequest) (content.Draft, error) {
	return content.Draft{}, s.wait(ctx)
}

func (s *slowPorts) Tag(ctx context.Context, req TagRequest) (content.TagSet, error) {
	return content.TagSet{}, s.wait(ctx)
}

func TestWithTimeout_OverrunBecomesPortError(t *testing.T) {
	p := WithTimeout(&slowPorts{release: make(chan struct{})}, 20*time.Millisecond)
	ctx := context.Background()

	calls := map[Kind]func() error{
		KindGeneration: func() error { _, err := p.Generate(ctx, 3, "Rain"); return err },
		KindReview:     func() error { _, err := p.Review(ctx, ReviewRequest{}); return err },
		KindRefinement: func() error { _, err := p.Refine(ctx, RefineRequest{}); return err },
		KindTagging:    func() error { _, err := p.Tag(ctx, TagRequest{}); return err },
	}

	for kind, call := range calls {
		t.Run(string(kind), func(t *testing.T) {
			err := call()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrTimeout)

			var pe *Error
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, kind, pe.Kind)
			assert.True(t, pe.Timeout)
		})
	}
}

func TestWithTimeout_PassesThroughFastCalls(t *testing.T) {
	p := WithTimeout(NewStub(), time.Second)
	d, err := p.Generate(context.Background(), 4, "Magnets")
	require.NoError(t, err)
	assert.Equal(t, 4, d.Explanation.Grade)
}

func TestWithTimeout_ParentCancellationWaitsForCall(t *testing.T) {
	release := make(chan struct{})
	p := WithTimeout(&slowPorts{release: release}, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()

	start := time.Now()
	_, err := p.Review(ctx, ReviewRequest{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestWithTimeout_ParentCancellationStillTimesOut(t *testing.T) {
	p := WithTimeout(&slowPorts{release: make(chan struct{})}, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Generate(ctx, 4, "Magnets")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, context.Canceled)
	kind, isPort := KindOf(err)
	assert.True(t, isPort)
	assert.Equal(t, KindGeneration, kind)
}

func TestWithTimeout_ZeroIsIdentity(t *testing.T) {
	s := NewStub()
	assert.Same(t, Ports(s), WithTimeout(s, 0))
}

func TestKindOf(t *testing.T) {
	kind, ok := KindOf(NewError(KindReview, errors.New("boom")))
	assert.True(t, ok)
	assert.Equal(t, KindReview, kind)

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}
