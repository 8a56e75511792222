// Package pipeline provides the high-level orchestration of the research, generate,
// quality-gate and publish phases.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/storefront-agent/internal/types"
)

// Researcher discovers competitor listings for the requested categories
type Researcher interface {
	Research(ctx context.Context, params types.ResearchParams) (*types.ResearchFindings, error)
}

// Analyzer turns research findings into ranked opportunities
type Analyzer interface {
	Analyze(ctx context.Context, items []types.MarketItem, categories []string) (*types.Analysis, error)
}

// Generator produces a structured artifact for an opportunity. It reports progress as a
// percentage through the callback.
type Generator interface {
	Generate(ctx context.Context, opp types.Opportunity, attempt int, progress func(percent int)) (*types.Artifact, error)
}

// QualityGate scores an artifact
type QualityGate interface {
	Evaluate(ctx context.Context, artifact *types.Artifact) (*types.QualityResult, error)
}

// Serializer renders an artifact into the downloadable product file
type Serializer interface {
	Serialize(artifact *types.Artifact) (*types.Blob, error)
}

// BlobStore stores binary assets and returns their public URL
type BlobStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
}

// Store is the persistence surface the orchestrator needs
type Store interface {
	CreateRun(ctx context.Context, phase types.Phase, metadata map[string]any) (*types.Run, error)
	MergeRunMetadata(ctx context.Context, runID uuid.UUID, patch map[string]any) error
	FinishRun(ctx context.Context, runID uuid.UUID, status types.RunStatus, patch map[string]any) error

	SaveFindings(ctx context.Context, runID uuid.UUID, findings *types.ResearchFindings) (uuid.UUID, error)
	SaveReport(ctx context.Context, report *types.Report) error
	GetReport(ctx context.Context, id uuid.UUID) (*types.Report, error)

	CreateEntity(ctx context.Context, e *types.Entity) error
	GetEntity(ctx context.Context, id uuid.UUID) (*types.Entity, error)
	TransitionEntityStatus(ctx context.Context, id uuid.UUID, from []types.EntityStatus, to types.EntityStatus) error
	SaveEntityContent(ctx context.Context, e *types.Entity) error
}

// Collaborators groups the opaque phase implementations
type Collaborators struct {
	Researcher Researcher
	Analyzer   Analyzer
	Generator  Generator
	Quality    QualityGate
	Serializer Serializer
	Blobs      BlobStore
}

// bookkeepingTimeout bounds the detached writes that record a run's outcome
const bookkeepingTimeout = 10 * time.Second
