// Package store persists run history and resolved municipality boundaries.
package store

import (
	"context"
	"time"

	"github.com/geodekking/pakketpunten/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Kind   model.RunKind   `json:"kind,omitempty"`
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
}

// RunOutcome is what a finished run records.
type RunOutcome struct {
	Status        model.RunStatus
	Succeeded     int
	Failed        int
	CarrierTotals map[model.Carrier]int
	Error         string
}

// Store defines the persistence interface of the pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, kind model.RunKind) (*model.Run, error)
	FinishRun(ctx context.Context, runID string, outcome RunOutcome) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	// PreviousRun returns the latest finished run of kind, other than
	// excludeID, that produced carrier totals. ok is false when none exists.
	PreviousRun(ctx context.Context, kind model.RunKind, excludeID string) (*model.Run, bool, error)

	// Boundary cache
	LoadBoundary(ctx context.Context, slug string, maxAge time.Duration) ([]byte, bool, error)
	SaveBoundary(ctx context.Context, slug, name, code string, wkb []byte, areaKm2 float64) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
