package content

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxAttempts is the most attempts a run can record: the first draft plus
// two refinements.
const MaxAttempts = 3

// Status of a finalized run.
type Status string

const (
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Rejection reason codes.
const (
	ReasonGenerationFailed       = "generation_failed"
	ReasonRefinementFailed       = "refinement_failed"
	ReasonMaxRefinementsExceeded = "max_refinements_exceeded"
	ReasonTaggingFailed          = "tagging_failed"
	ReasonCancelled              = "cancelled"
	reasonAgentErrorPrefix       = "agent_error:"
)

// AgentErrorReason builds the reason code for a fail-fast port error.
func AgentErrorReason(kind string) string {
	return reasonAgentErrorPrefix + kind
}

// ReasonCode strips any agent_error suffix so reasons can be used as a
// low-cardinality metric label.
func ReasonCode(reason string) string {
	if strings.HasPrefix(reason, reasonAgentErrorPrefix) {
		return strings.TrimSuffix(reasonAgentErrorPrefix, ":")
	}
	return reason
}

var (
	// ErrInvalidInput is returned when a run's preconditions are not met.
	ErrInvalidInput = errors.New("invalid run input")

	// ErrInvalidArtifact is returned when an artifact breaks its invariants.
	ErrInvalidArtifact = errors.New("invalid run artifact")

	// ErrFinalized is returned when a finalized artifact is finalized again.
	ErrFinalized = errors.New("run artifact already finalized")
)

// Topic length bounds.
const (
	MinTopicLen = 3
	MaxTopicLen = 200
)

// RunInput is the caller's request.
type RunInput struct {
	Grade       int    `json:"grade"`
	Topic       string `json:"topic"`
	RequesterID string `json:"-"`
}

// Validate checks the run preconditions.
func (in RunInput) Validate() error {
	if in.Grade < 1 || in.Grade > 12 {
		return fmt.Errorf("%w: grade must be between 1 and 12, got %d", ErrInvalidInput, in.Grade)
	}
	topic := strings.TrimSpace(in.Topic)
	if topic == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidInput)
	}
	if n := len([]rune(topic)); n < MinTopicLen || n > MaxTopicLen {
		return fmt.Errorf("%w: topic must be %d-%d characters, got %d", ErrInvalidInput, MinTopicLen, MaxTopicLen, n)
	}
	return nil
}

// Final is the outcome section of an artifact.
type Final struct {
	Status          Status     `json:"status"`
	Content         *Draft     `json:"content"`
	Tags            *TagSet    `json:"tags"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	Feedback        []Feedback `json:"feedback,omitempty"`
}

// Timestamps brackets the run.
type Timestamps struct {
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	DurationSeconds float64   `json:"duration_seconds"`
}

// RunArtifact is the immutable audit record of one run.
type RunArtifact struct {
	RunID       string            `json:"run_id"`
	RequesterID string            `json:"user_id,omitempty"`
	Input       RunInput          `json:"input"`
	Attempts    []Attempt         `json:"attempts"`
	Final       Final             `json:"final"`
	Timestamps  Timestamps        `json:"timestamps"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewRunArtifact starts an artifact for input with a fresh run id.
func NewRunArtifact(in RunInput, startedAt time.Time) *RunArtifact {
	return &RunArtifact{
		RunID:       uuid.NewString(),
		RequesterID: in.RequesterID,
		Input:       in,
		Attempts:    []Attempt{},
		Timestamps:  Timestamps{StartedAt: startedAt},
	}
}

// Approve finalizes the artifact as approved. A finalized artifact is left
// unchanged and ErrFinalized is returned.
func (a *RunArtifact) Approve(draft Draft, tags TagSet, finishedAt time.Time) error {
	if a.Finalized() {
		return fmt.Errorf("%w: run %s is %s", ErrFinalized, a.RunID, a.Final.Status)
	}
	d := draft.Clone()
	a.Final = Final{Status: StatusApproved, Content: &d, Tags: &tags}
	a.finish(finishedAt)
	return nil
}

// Reject finalizes the artifact as rejected with reason. feedback is the
// last review's feedback, if any.
func (a *RunArtifact) Reject(reason string, feedback []Feedback, finishedAt time.Time) error {
	if a.Finalized() {
		return fmt.Errorf("%w: run %s is %s", ErrFinalized, a.RunID, a.Final.Status)
	}
	a.Final = Final{
		Status:          StatusRejected,
		RejectionReason: reason,
		Feedback:        append([]Feedback(nil), feedback...),
	}
	a.finish(finishedAt)
	return nil
}

// Finalized reports whether the run has reached a terminal status.
func (a *RunArtifact) Finalized() bool {
	return a.Final.Status != ""
}

func (a *RunArtifact) finish(finishedAt time.Time) {
	if finishedAt.Before(a.Timestamps.StartedAt) {
		finishedAt = a.Timestamps.StartedAt
	}
	a.Timestamps.FinishedAt = finishedAt
	a.Timestamps.DurationSeconds = finishedAt.Sub(a.Timestamps.StartedAt).Seconds()
}

// SetMetadata records an annotation on the artifact.
func (a *RunArtifact) SetMetadata(key, value string) {
	if a.Metadata == nil {
		a.Metadata = make(map[string]string)
	}
	a.Metadata[key] = value
}

// Validate checks the artifact invariants.
func (a *RunArtifact) Validate() error {
	if a.RunID == "" {
		return fmt.Errorf("%w: run_id is empty", ErrInvalidArtifact)
	}
	if len(a.Attempts) > MaxAttempts {
		return fmt.Errorf("%w: %d attempts exceeds %d", ErrInvalidArtifact, len(a.Attempts), MaxAttempts)
	}
	for i, at := range a.Attempts {
		if at.Index != i+1 {
			return fmt.Errorf("%w: attempt %d has index %d", ErrInvalidArtifact, i+1, at.Index)
		}
	}
	switch a.Final.Status {
	case StatusApproved:
		if a.Final.Tags == nil {
			return fmt.Errorf("%w: approved run without tags", ErrInvalidArtifact)
		}
		if a.Final.Content == nil {
			return fmt.Errorf("%w: approved run without content", ErrInvalidArtifact)
		}
		if a.Final.RejectionReason != "" {
			return fmt.Errorf("%w: approved run with rejection reason", ErrInvalidArtifact)
		}
	case StatusRejected:
		if a.Final.Tags != nil {
			return fmt.Errorf("%w: rejected run with tags", ErrInvalidArtifact)
		}
		if a.Final.RejectionReason == "" {
			return fmt.Errorf("%w: rejected run without reason", ErrInvalidArtifact)
		}
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidArtifact, a.Final.Status)
	}
	if a.Timestamps.FinishedAt.Before(a.Timestamps.StartedAt) {
		return fmt.Errorf("%w: finished_at before started_at", ErrInvalidArtifact)
	}
	return nil
}
