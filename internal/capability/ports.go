// Package capability defines the four content ports a generation run calls
// (generate, review, refine, tag) and ships implementations of them: a
// deterministic stub, a YAML-scripted double and an OpenAI-backed client.
package capability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/assessd/internal/content"
)

// Kind identifies which port failed.
type Kind string

const (
	KindGeneration Kind = "generation"
	KindReview     Kind = "review"
	KindRefinement Kind = "refinement"
	KindTagging    Kind = "tagging"
)

// ErrTimeout marks a port call that exceeded its deadline.
var ErrTimeout = errors.New("port call timed out")

// Error is a failure reported by a port.
type Error struct {
	Kind    Kind
	Timeout bool
	Err     error
}

// Error implements error.
func (e *Error) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s port: timed out: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s port: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err as a failure of kind.
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the port kind from err.
func KindOf(err error) (Kind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}

// ReviewRequest asks for a verdict on a draft.
type ReviewRequest struct {
	Draft content.Draft
	Grade int
	Topic string
}

// RefineRequest asks for a revised draft addressing feedback.
type RefineRequest struct {
	Draft    content.Draft
	Review   content.ReviewResult
	Feedback []content.Feedback
	Grade    int
	Topic    string
	// Attempt is the number the refined draft will carry.
	Attempt int
}

// TagRequest asks for a classification of approved content.
type TagRequest struct {
	Draft content.Draft
	Grade int
	Topic string
}

// Ports is the contract a run depends on. Implementations return *Error for
// their own failures and *schema.Error when a payload is structurally
// unusable.
type Ports interface {
	Generate(ctx context.Context, grade int, topic string) (content.Draft, error)
	Review(ctx context.Context, req ReviewRequest) (content.ReviewResult, error)
	Refine(ctx context.Context, req RefineRequest) (content.Draft, error)
	Tag(ctx context.Context, req TagRequest) (content.TagSet, error)
}

// WithTimeout bounds every call on p by timeout. A call that overruns fails
// with an *Error of the port's kind wrapping ErrTimeout. Cancelling the
// caller's context does not interrupt a call. A zero timeout returns p
// unchanged.
func WithTimeout(p Ports, timeout time.Duration) Ports {
	if timeout <= 0 {
		return p
	}
	return &timedPorts{next: p, timeout: timeout}
}

type timedPorts struct {
	next    Ports
	timeout time.Duration
}

func (t *timedPorts) Generate(ctx context.Context, grade int, topic string) (content.Draft, error) {
	return invoke(ctx, t.timeout, KindGeneration, func(ctx context.Context) (content.Draft, error) {
		return t.next.Generate(ctx, grade, topic)
	})
}

func (t *timedPorts) Review(ctx context.Context, req ReviewRequest) (content.ReviewResult, error) {
	return invoke(ctx, t.timeout, KindReview, func(ctx context.Context) (content.ReviewResult, error) {
		return t.next.Review(ctx, req)
	})
}

func (t *timedPorts) Refine(ctx context.Context, req RefineRequest) (content.Draft, error) {
	return invoke(ctx, t.timeout, KindRefinement, func(ctx context.Context) (content.Draft, error) {
		return t.next.Refine(ctx, req)
	})
}

func (t *timedPorts) Tag(ctx context.Context, req TagRequest) (content.TagSet, error) {
	return invoke(ctx, t.timeout, KindTagging, func(ctx context.Context) (content.TagSet, error) {
		return t.next.Tag(ctx, req)
	})
}

type result[T any] struct {
	val T
	err error
}

// invoke runs fn under a deadline. Cancellation of ctx is not propagated
// to fn: the call runs until it returns or the deadline fires, and the caller
// observes cancellation afterwards. fn keeps running in its goroutine if it
// ignores the deadline; its late result is discarded.
func invoke[T any](ctx context.Context, timeout time.Duration, kind Kind, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		v, err := fn(callCtx)
		done <- result[T]{val: v, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return zero, &Error{Kind: kind, Timeout: true, Err: fmt.Errorf("%w after %s: %v", ErrTimeout, timeout, r.err)}
		}
		return r.val, r.err
	case <-callCtx.Done():
		return zero, &Error{Kind: kind, Timeout: true, Err: fmt.Errorf("%w after %s", ErrTimeout, timeout)}
	}
}
