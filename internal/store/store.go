// Package store persists finalized run artifacts.
package store

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/assessd/internal/content"
)

var (
	// ErrNotFound is returned when no artifact has the requested run id.
	ErrNotFound = errors.New("artifact not found")

	// ErrAlreadyExists is returned when saving a run id twice. Artifacts are
	// immutable once stored.
	ErrAlreadyExists = errors.New("artifact already exists")

	// ErrInvalidConfig is returned for unusable store settings.
	ErrInvalidConfig = errors.New("invalid store configuration")
)

// History page bounds.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// Stats aggregates stored outcomes.
type Stats struct {
	Total        int            `json:"total"`
	Approved     int            `json:"approved"`
	Rejected     int            `json:"rejected"`
	ApprovalRate float64        `json:"approval_rate"`
	ByReason     map[string]int `json:"by_reason,omitempty"`
}

// Repository stores and retrieves run artifacts. Listings are ordered most
// recent first by started_at.
type Repository interface {
	Save(ctx context.Context, art *content.RunArtifact) error
	Get(ctx context.Context, runID string) (*content.RunArtifact, error)
	ListByRequester(ctx context.Context, requesterID string, limit int) ([]*content.RunArtifact, error)
	ListRecent(ctx context.Context, limit int) ([]*content.RunArtifact, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// ClampLimit bounds a requested page size to 1..MaxLimit, using
// DefaultLimit for zero or negative values.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}
