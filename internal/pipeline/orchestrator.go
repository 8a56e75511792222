package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/storefront-agent/internal/metrics"
	"github.com/jonathan/storefront-agent/internal/pipeline/steps"
	"github.com/jonathan/storefront-agent/internal/publish"
	"github.com/jonathan/storefront-agent/internal/types"
)

// ErrOpportunityNotFound is returned when a generation names an opportunity the report lacks
var ErrOpportunityNotFound = errors.New("opportunity not found in report")

// ErrNotRegenerable is returned when an existing entity cannot be regenerated from its status
var ErrNotRegenerable = errors.New("entity cannot be regenerated from its current status")

// Orchestrator drives the research, generate, quality-gate and publish phases and keeps Run
// and Entity records consistent with what happened.
type Orchestrator struct {
	store      Store
	collab     Collaborators
	publisher  *publish.Coordinator
	supervisor *Supervisor
	locks      *entityLocks
	validate   *validator.Validate
	logger     *zap.Logger
}

// New creates an orchestrator. supervisor may be nil when only the synchronous Execute*
// methods are used.
func New(store Store, collab Collaborators, publisher *publish.Coordinator, supervisor *Supervisor, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if supervisor == nil {
		supervisor = NewSupervisor(context.Background(), logger)
	}
	return &Orchestrator{
		store:      store,
		collab:     collab,
		publisher:  publisher,
		supervisor: supervisor,
		locks:      newEntityLocks(),
		validate:   validator.New(),
		logger:     logger.Named("orchestrator"),
	}
}

// Supervisor returns the background task registry
func (o *Orchestrator) Supervisor() *Supervisor {
	return o.supervisor
}

// ---------------------------------------------------------------------
// Run bookkeeping
// ---------------------------------------------------------------------

func (o *Orchestrator) completeRun(runID uuid.UUID, phase types.Phase, patch map[string]any) error {
	ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	defer cancel()
	if err := o.store.FinishRun(ctx, runID, types.RunStatusCompleted, patch); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	metrics.ObserveRun(string(phase), string(types.RunStatusCompleted))
	return nil
}

// failRun marks the run failed with the error folded into metadata. The bookkeeping write's
// own failure is logged; cause is what the caller returns.
func (o *Orchestrator) failRun(runID uuid.UUID, phase types.Phase, stage string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	defer cancel()
	patch := map[string]any{"error": cause.Error(), "failed_stage": stage}
	if err := o.store.FinishRun(ctx, runID, types.RunStatusFailed, patch); err != nil {
		o.logger.Error("run_fail_write_failed",
			zap.String("run_id", runID.String()),
			zap.Error(err))
	}
	metrics.ObserveRun(string(phase), string(types.RunStatusFailed))
	o.logger.Error("phase_failed",
		zap.String("run_id", runID.String()),
		zap.String("phase", string(phase)),
		zap.String("stage", stage),
		zap.Error(cause))
}

// ---------------------------------------------------------------------
// Research
// ---------------------------------------------------------------------

// ResearchResult identifies the outputs of a research phase
type ResearchResult struct {
	RunID         uuid.UUID `json:"run_id"`
	ReportID      uuid.UUID `json:"report_id"`
	Opportunities int       `json:"opportunities"`
}

// ExecuteResearch runs the research phase to completion
func (o *Orchestrator) ExecuteResearch(ctx context.Context, params types.ResearchParams) (*ResearchResult, error) {
	run, err := o.beginResearch(ctx, params)
	if err != nil {
		return nil, err
	}
	return o.continueResearch(ctx, run, params)
}

// StartResearch creates the run and continues the phase in the background
func (o *Orchestrator) StartResearch(ctx context.Context, params types.ResearchParams) (uuid.UUID, error) {
	run, err := o.beginResearch(ctx, params)
	if err != nil {
		return uuid.Nil, err
	}
	o.supervisor.Spawn("research:"+run.ID.String(), func(ctx context.Context) error {
		_, err := o.continueResearch(ctx, run, params)
		return err
	})
	return run.ID, nil
}

func (o *Orchestrator) beginResearch(ctx context.Context, params types.ResearchParams) (*types.Run, error) {
	if err := o.validate.Struct(params); err != nil {
		return nil, fmt.Errorf("invalid research params: %w", err)
	}
	run, err := o.store.CreateRun(ctx, types.PhaseResearch, map[string]any{
		"categories": params.Categories,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create research run: %w", err)
	}
	return run, nil
}

func (o *Orchestrator) continueResearch(ctx context.Context, run *types.Run, params types.ResearchParams) (*ResearchResult, error) {
	findings, err := o.collab.Researcher.Research(ctx, params)
	if err != nil {
		o.failRun(run.ID, types.PhaseResearch, "research", err)
		return nil, fmt.Errorf("research failed: %w", err)
	}
	o.mergeMetadata(ctx, run.ID, map[string]any{
		"items_found":         len(findings.Items),
		"categories_analyzed": findings.CategoriesAnalyzed,
	})

	findingsID, err := o.store.SaveFindings(ctx, run.ID, findings)
	if err != nil {
		o.failRun(run.ID, types.PhaseResearch, "save_findings", err)
		return nil, err
	}

	analysis, err := o.collab.Analyzer.Analyze(ctx, findings.Items, findings.CategoriesAnalyzed)
	if err != nil {
		o.failRun(run.ID, types.PhaseResearch, "analyze", err)
		return nil, fmt.Errorf("analysis failed: %w", err)
	}

	report := &types.Report{
		RunID:         run.ID,
		FindingsID:    findingsID,
		Opportunities: analysis.Opportunities,
		Summary:       analysis.Summary,
	}
	if err := o.store.SaveReport(ctx, report); err != nil {
		o.failRun(run.ID, types.PhaseResearch, "save_report", err)
		return nil, err
	}

	if err := o.completeRun(run.ID, types.PhaseResearch, map[string]any{
		"report_id":     report.ID.String(),
		"opportunities": len(report.Opportunities),
	}); err != nil {
		return nil, err
	}

	o.logger.Info("research_completed",
		zap.String("run_id", run.ID.String()),
		zap.Int("items", len(findings.Items)),
		zap.Int("opportunities", len(report.Opportunities)))
	return &ResearchResult{RunID: run.ID, ReportID: report.ID, Opportunities: len(report.Opportunities)}, nil
}

// mergeMetadata is a best-effort metadata write used for informational keys
func (o *Orchestrator) mergeMetadata(ctx context.Context, runID uuid.UUID, patch map[string]any) {
	if err := o.store.MergeRunMetadata(ctx, runID, patch); err != nil {
		o.logger.Warn("metadata_write_failed", zap.String("run_id", runID.String()), zap.Error(err))
	}
}

// ---------------------------------------------------------------------
// Generation
// ---------------------------------------------------------------------

// GenerationRequest selects the opportunity to generate. Opportunity may be nil, in which
// case it is looked up in the report. EntityID regenerates an existing entity.
type GenerationRequest struct {
	OpportunityID string             `json:"opportunity_id" validate:"required"`
	ReportID      uuid.UUID          `json:"report_id"`
	Opportunity   *types.Opportunity `json:"opportunity,omitempty"`
	EntityID      *uuid.UUID         `json:"entity_id,omitempty"`
}

// GenerationResult identifies the outputs of a generate phase
type GenerationResult struct {
	RunID    uuid.UUID          `json:"run_id"`
	EntityID uuid.UUID          `json:"entity_id"`
	Status   types.EntityStatus `json:"status"`
	Passed   bool               `json:"passed"`
	Attempts int                `json:"attempts"`
}

// generation carries one generate phase from begin to continue
type generation struct {
	run      *types.Run
	opp      types.Opportunity
	reportID uuid.UUID
	existing *types.Entity
	attempt  int
	release  func()
}

// ExecuteGeneration runs the generate and quality-gate phases to completion
func (o *Orchestrator) ExecuteGeneration(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	g, err := o.beginGeneration(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.continueGeneration(ctx, g)
}

// StartGeneration creates the run and continues the phase in the background
func (o *Orchestrator) StartGeneration(ctx context.Context, req GenerationRequest) (uuid.UUID, error) {
	g, err := o.beginGeneration(ctx, req)
	if err != nil {
		return uuid.Nil, err
	}
	o.supervisor.Spawn("generate:"+g.run.ID.String(), func(ctx context.Context) error {
		_, err := o.continueGeneration(ctx, g)
		return err
	})
	return g.run.ID, nil
}

func (o *Orchestrator) beginGeneration(ctx context.Context, req GenerationRequest) (*generation, error) {
	if err := o.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid generation request: %w", err)
	}
	opp, err := o.resolveOpportunity(ctx, req)
	if err != nil {
		return nil, err
	}

	release := func() {}
	ok := false
	defer func() {
		if !ok {
			release()
		}
	}()

	g := &generation{opp: *opp, reportID: req.ReportID, attempt: 1}
	if req.EntityID != nil {
		release, err = o.locks.acquire(*req.EntityID)
		if err != nil {
			release = func() {}
			return nil, err
		}

		existing, err := o.store.GetEntity(ctx, *req.EntityID)
		if err != nil {
			return nil, fmt.Errorf("failed to load entity: %w", err)
		}
		if existing == nil {
			return nil, types.ErrEntityNotFound
		}
		if !slices.Contains(types.RegenerableStatuses(), existing.Status) {
			return nil, fmt.Errorf("%w: %s", ErrNotRegenerable, existing.Status)
		}
		if err := o.store.TransitionEntityStatus(ctx, existing.ID, []types.EntityStatus{existing.Status}, types.EntityGenerating); err != nil {
			return nil, fmt.Errorf("failed to start regeneration: %w", err)
		}
		g.existing = existing
		g.attempt = existing.Attempts + 1
	}

	meta := map[string]any{
		"opportunity_id": req.OpportunityID,
		"attempt":        g.attempt,
		"progress":       0,
	}
	if req.ReportID != uuid.Nil {
		meta["report_id"] = req.ReportID.String()
	}
	if g.existing != nil {
		meta["entity_id"] = g.existing.ID.String()
	}
	g.run, err = o.store.CreateRun(ctx, types.PhaseGenerate, meta)
	if err != nil {
		o.restoreEntity(g)
		return nil, fmt.Errorf("failed to create generate run: %w", err)
	}
	g.release = release
	ok = true
	return g, nil
}

func (o *Orchestrator) resolveOpportunity(ctx context.Context, req GenerationRequest) (*types.Opportunity, error) {
	if req.Opportunity != nil {
		return req.Opportunity, nil
	}
	if req.ReportID == uuid.Nil {
		return nil, fmt.Errorf("%w: no report given", ErrOpportunityNotFound)
	}
	report, err := o.store.GetReport(ctx, req.ReportID)
	if err != nil {
		return nil, fmt.Errorf("failed to load report: %w", err)
	}
	if report == nil {
		return nil, fmt.Errorf("%w: report %s does not exist", ErrOpportunityNotFound, req.ReportID)
	}
	for i := range report.Opportunities {
		if report.Opportunities[i].ID == req.OpportunityID {
			return &report.Opportunities[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrOpportunityNotFound, req.OpportunityID)
}

// restoreEntity puts a regenerated entity back to the status it had before the attempt
func (o *Orchestrator) restoreEntity(g *generation) {
	if g.existing == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	defer cancel()
	err := o.store.TransitionEntityStatus(ctx, g.existing.ID,
		[]types.EntityStatus{types.EntityGenerating, types.EntityQualityGatePending}, g.existing.Status)
	if err != nil {
		o.logger.Warn("entity_restore_failed",
			zap.String("entity_id", g.existing.ID.String()),
			zap.Error(err))
	}
}

func (o *Orchestrator) continueGeneration(ctx context.Context, g *generation) (*GenerationResult, error) {
	defer g.release()
	runID := g.run.ID

	fail := func(stage string, err error) (*GenerationResult, error) {
		o.restoreEntity(g)
		o.failRun(runID, types.PhaseGenerate, stage, err)
		return nil, fmt.Errorf("generation %s failed: %w", stage, err)
	}

	progress := newProgressReporter(o.store, runID, o.logger)
	artifact, err := o.collab.Generator.Generate(ctx, g.opp, g.attempt, progress.Report)
	if err != nil {
		progress.Flush()
		return fail("generate", err)
	}
	progress.Finish()

	if g.existing != nil {
		if err := o.store.TransitionEntityStatus(ctx, g.existing.ID,
			[]types.EntityStatus{types.EntityGenerating}, types.EntityQualityGatePending); err != nil {
			return fail("quality_gate", err)
		}
	}

	verdict, err := o.evaluateQuality(ctx, runID, artifact)
	if err != nil {
		return fail("quality_gate", err)
	}

	entity, err := o.buildEntity(g, artifact, verdict)
	if err != nil {
		return fail("build_entity", err)
	}

	if verdict.Passed {
		blob, err := o.collab.Serializer.Serialize(artifact)
		if err != nil {
			return fail("serialize", err)
		}
		key := path.Join("generated", runID.String(), blob.FileName)
		url, err := o.collab.Blobs.Upload(ctx, key, blob.Data, blob.ContentType)
		if err != nil {
			return fail("upload", err)
		}
		entity.FileURL = url
	}

	if g.existing != nil {
		if err := o.store.SaveEntityContent(ctx, entity); err != nil {
			return fail("save_entity", err)
		}
	} else if err := o.store.CreateEntity(ctx, entity); err != nil {
		return fail("save_entity", err)
	}

	if err := o.completeRun(runID, types.PhaseGenerate, map[string]any{
		"entity_id":     entity.ID.String(),
		"entity_status": string(entity.Status),
		"passed":        verdict.Passed,
		"progress":      100,
	}); err != nil {
		return nil, err
	}

	o.logger.Info("generation_completed",
		zap.String("run_id", runID.String()),
		zap.String("entity_id", entity.ID.String()),
		zap.Bool("passed", verdict.Passed),
		zap.Int("attempt", g.attempt))
	return &GenerationResult{
		RunID:    runID,
		EntityID: entity.ID,
		Status:   entity.Status,
		Passed:   verdict.Passed,
		Attempts: entity.Attempts,
	}, nil
}

// evaluateQuality runs the quality gate under its own run so its scores are auditable
func (o *Orchestrator) evaluateQuality(ctx context.Context, generateRunID uuid.UUID, artifact *types.Artifact) (*types.QualityResult, error) {
	run, err := o.store.CreateRun(ctx, types.PhaseQualityGate, map[string]any{
		"generate_run_id": generateRunID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create quality gate run: %w", err)
	}

	verdict, err := o.collab.Quality.Evaluate(ctx, artifact)
	if err != nil {
		o.failRun(run.ID, types.PhaseQualityGate, "evaluate", err)
		return nil, err
	}
	if err := o.completeRun(run.ID, types.PhaseQualityGate, map[string]any{
		"passed":   verdict.Passed,
		"scores":   verdict.Scores,
		"feedback": verdict.Feedback,
	}); err != nil {
		return nil, err
	}
	return verdict, nil
}

func (o *Orchestrator) buildEntity(g *generation, artifact *types.Artifact, verdict *types.QualityResult) (*types.Entity, error) {
	content, err := json.Marshal(artifact)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal artifact: %w", err)
	}

	status := types.EntityQualityGateFail
	if verdict.Passed {
		status = types.EntityReadyForReview
	}
	price := artifact.Price
	if price <= 0 {
		price = g.opp.SuggestedPrice
	}

	e := &types.Entity{
		Status:        status,
		Title:         artifact.Title,
		Description:   artifact.Description,
		Price:         price,
		Tags:          artifact.Tags,
		TaxonomyID:    artifact.TaxonomyID,
		Content:       content,
		ImageURLs:     artifact.ImageURLs,
		QualityScores: verdict,
		Attempts:      g.attempt,
	}
	if g.reportID != uuid.Nil {
		id := g.reportID
		e.ReportID = &id
	}
	if g.existing != nil {
		e.ID = g.existing.ID
		e.ReportID = g.existing.ReportID
	}
	return e, nil
}

// ---------------------------------------------------------------------
// Approval and publish
// ---------------------------------------------------------------------

// ApproveEntity records operator approval of an entity that is ready for review
func (o *Orchestrator) ApproveEntity(ctx context.Context, id uuid.UUID) (*types.Entity, error) {
	release, err := o.locks.acquire(id)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := o.store.TransitionEntityStatus(ctx, id,
		[]types.EntityStatus{types.EntityReadyForReview}, types.EntityApproved); err != nil {
		return nil, err
	}
	return o.store.GetEntity(ctx, id)
}

// PublishResult identifies the outputs of a publish phase
type PublishResult struct {
	RunID uuid.UUID `json:"run_id"`
	publish.Result
}

type publishJob struct {
	run     *types.Run
	entity  *types.Entity
	release func()
}

// ExecutePublish runs the publish phase to completion
func (o *Orchestrator) ExecutePublish(ctx context.Context, entityID uuid.UUID) (*PublishResult, error) {
	job, err := o.beginPublish(ctx, entityID)
	if err != nil {
		return nil, err
	}
	return o.continuePublish(ctx, job)
}

// StartPublish validates the entity, creates the run and continues in the background
func (o *Orchestrator) StartPublish(ctx context.Context, entityID uuid.UUID) (uuid.UUID, error) {
	job, err := o.beginPublish(ctx, entityID)
	if err != nil {
		return uuid.Nil, err
	}
	o.supervisor.Spawn("publish:"+job.run.ID.String(), func(ctx context.Context) error {
		_, err := o.continuePublish(ctx, job)
		return err
	})
	return job.run.ID, nil
}

// beginPublish runs the prerequisite checks before any run is created
func (o *Orchestrator) beginPublish(ctx context.Context, entityID uuid.UUID) (*publishJob, error) {
	release, err := o.locks.acquire(entityID)
	if err != nil {
		return nil, err
	}

	entity, err := o.publisher.Prepare(ctx, entityID)
	if err != nil {
		release()
		return nil, err
	}

	run, err := o.store.CreateRun(ctx, types.PhasePublish, map[string]any{
		"entity_id": entityID.String(),
	})
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to create publish run: %w", err)
	}
	return &publishJob{run: run, entity: entity, release: release}, nil
}

func (o *Orchestrator) continuePublish(ctx context.Context, job *publishJob) (*PublishResult, error) {
	defer job.release()
	runID := job.run.ID

	observe := func(r steps.StepResult) {
		o.mergeMetadata(ctx, runID, map[string]any{r.MetadataKey(): r})
	}

	res, err := o.publisher.Publish(ctx, job.entity, observe)
	if err != nil {
		stage := "publish"
		var stepErr *publish.StepError
		if errors.As(err, &stepErr) {
			stage = stepErr.Name
		}
		o.failRun(runID, types.PhasePublish, stage, err)
		return nil, err
	}

	if err := o.completeRun(runID, types.PhasePublish, map[string]any{
		"listing_id":      res.ListingID,
		"listing_url":     res.ListingURL,
		"images_uploaded": res.ImagesUploaded,
	}); err != nil {
		return nil, err
	}
	return &PublishResult{RunID: runID, Result: *res}, nil
}
