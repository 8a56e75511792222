// Package types provides type definitions for structured data used throughout the storefront agent.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Phase identifies which workflow phase a run executes
type Phase string

// Phase constants
const (
	PhaseResearch    Phase = "research"
	PhaseGenerate    Phase = "generate"
	PhaseQualityGate Phase = "quality_gate"
	PhasePublish     Phase = "publish"
)

// RunStatus is the lifecycle status of a run
type RunStatus string

// RunStatus constants
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one execution of a workflow phase.
// CompletedAt is set if and only if Status is not running.
type Run struct {
	ID          uuid.UUID      `json:"id"`
	Phase       Phase          `json:"phase"`
	Status      RunStatus      `json:"status"`
	Metadata    map[string]any `json:"metadata"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the run has finished
func (r *Run) IsTerminal() bool {
	return r.Status != RunStatusRunning
}

// MergeMetadata merges patch into base and returns the result. Keys in patch win;
// keys absent from patch are kept.
func MergeMetadata(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	maps.Copy(out, base)
	maps.Copy(out, patch)
	return out
}

// RunFilters holds optional filters for listing runs
type RunFilters struct {
	Phase  Phase
	Status RunStatus
	Limit  int
}
