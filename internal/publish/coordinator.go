// Package publish makes a generated entity live on the marketplace through a fixed sequence
// of individually-failable steps.
package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/storefront-agent/internal/fetch"
	"github.com/jonathan/storefront-agent/internal/marketplace"
	"github.com/jonathan/storefront-agent/internal/pipeline/steps"
	"github.com/jonathan/storefront-agent/internal/types"
)

// DefaultDisclosure is appended to every listing description before publishing
const DefaultDisclosure = "Disclosure: this digital product was designed with the help of AI tools and reviewed by a human before listing."

// DefaultListingURLFormat builds a listing URL when the marketplace omits one
const DefaultListingURLFormat = "https://www.etsy.com/listing/%d"

// Store is the persistence surface the coordinator needs
type Store interface {
	GetEntity(ctx context.Context, id uuid.UUID) (*types.Entity, error)
	TransitionEntityStatus(ctx context.Context, id uuid.UUID, from []types.EntityStatus, to types.EntityStatus) error
	UpdateEntityDescription(ctx context.Context, id uuid.UUID, description string) error
	SetDraftListingID(ctx context.Context, id uuid.UUID, draftListingID int64) error
	MarkEntityPublished(ctx context.Context, id uuid.UUID, listingID int64, listingURL string) error
}

// Marketplace is the remote surface the publish steps call
type Marketplace interface {
	CreateDraftListing(ctx context.Context, d marketplace.DraftListing) (*marketplace.Listing, error)
	UploadListingImage(ctx context.Context, listingID int64, fileName string, data []byte, contentType string) error
	UploadListingFile(ctx context.Context, listingID int64, fileName string, data []byte) error
	ActivateListing(ctx context.Context, listingID int64) (*marketplace.Listing, error)
}

// Downloader fetches an asset by URL
type Downloader interface {
	Download(ctx context.Context, url string) (*fetch.Result, error)
}

// HTTPDownloader downloads assets with fetch.Download
type HTTPDownloader struct {
	Options *fetch.Options
}

// Download implements Downloader
func (d HTTPDownloader) Download(ctx context.Context, url string) (*fetch.Result, error) {
	return fetch.Download(ctx, url, d.Options)
}

// Observer receives each executed step's result, in order
type Observer func(steps.StepResult)

// Result summarizes a successful publish
type Result struct {
	EntityID       uuid.UUID `json:"entity_id"`
	ListingID      int64     `json:"listing_id"`
	ListingURL     string    `json:"listing_url"`
	ImagesUploaded int       `json:"images_uploaded"`
	ImagesFailed   int       `json:"images_failed"`
}

// Coordinator runs the publish sequence
type Coordinator struct {
	store            Store
	market           Marketplace
	downloader       Downloader
	logger           *zap.Logger
	validate         *validator.Validate
	Disclosure       string
	ListingURLFormat string
}

// NewCoordinator creates a publish coordinator
func NewCoordinator(store Store, market Marketplace, downloader Downloader, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if downloader == nil {
		downloader = HTTPDownloader{}
	}
	return &Coordinator{
		store:            store,
		market:           market,
		downloader:       downloader,
		logger:           logger.Named("publish"),
		validate:         validator.New(),
		Disclosure:       DefaultDisclosure,
		ListingURLFormat: DefaultListingURLFormat,
	}
}

// listingFields are the entity fields a listing cannot be created without
type listingFields struct {
	Title       string   `validate:"required"`
	Description string   `validate:"required"`
	Price       float64  `validate:"gt=0"`
	Tags        []string `validate:"min=1"`
}

// Prepare loads the entity and runs the prerequisite checks. It performs no writes.
func (c *Coordinator) Prepare(ctx context.Context, entityID uuid.UUID) (*types.Entity, error) {
	entity, err := c.store.GetEntity(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity: %w", err)
	}
	if entity == nil {
		return nil, types.ErrEntityNotFound
	}
	publishable := false
	for _, s := range types.PublishableStatuses() {
		if entity.Status == s {
			publishable = true
		}
	}
	if !publishable {
		return nil, fmt.Errorf("%w: %s", ErrNotPublishable, entity.Status)
	}
	if err := c.CheckPrerequisites(entity); err != nil {
		return nil, err
	}
	return entity, nil
}

// CheckPrerequisites verifies title, description, price and tags are all present
func (c *Coordinator) CheckPrerequisites(e *types.Entity) error {
	err := c.validate.Struct(listingFields{
		Title:       strings.TrimSpace(e.Title),
		Description: strings.TrimSpace(e.Description),
		Price:       e.Price,
		Tags:        e.Tags,
	})
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		missing = append(missing, strings.ToLower(fe.Field()))
	}
	return fmt.Errorf("%w: %s", ErrMissingFields, strings.Join(missing, ", "))
}

// AppendDisclosure appends clause to description unless it is already present
func AppendDisclosure(description, clause string) string {
	if clause == "" || strings.Contains(description, clause) {
		return description
	}
	return strings.TrimRight(description, " \n") + "\n\n" + clause
}

// publishState is threaded through the steps of one attempt
type publishState struct {
	entity    *types.Entity
	listingID int64
	result    Result
}

// Publish runs the four publish steps for an entity returned by Prepare. Every step failure
// downgrades the entity to publish_failed and returns a *StepError.
func (c *Coordinator) Publish(ctx context.Context, entity *types.Entity, observe Observer) (*Result, error) {
	if observe == nil {
		observe = func(steps.StepResult) {}
	}
	if err := c.store.TransitionEntityStatus(ctx, entity.ID, types.PublishableStatuses(), types.EntityPublishing); err != nil {
		return nil, fmt.Errorf("failed to start publish: %w", err)
	}

	desc := AppendDisclosure(entity.Description, c.Disclosure)
	if desc != entity.Description {
		if err := c.store.UpdateEntityDescription(ctx, entity.ID, desc); err != nil {
			c.markFailed(entity.ID)
			return nil, fmt.Errorf("failed to store description: %w", err)
		}
		entity.Description = desc
	}

	st := &publishState{entity: entity, result: Result{EntityID: entity.ID}}
	done := make(map[string]steps.StepStatus, len(steps.PublishSteps))

	for _, def := range steps.PublishSteps {
		start := time.Now()
		if err := steps.ValidateDependencies(def.Name, done); err != nil {
			return nil, c.fail(entity.ID, def, start, err, observe)
		}

		status, meta, err := c.runStep(ctx, def.Name, st)
		if err != nil {
			return nil, c.fail(entity.ID, def, start, err, observe)
		}
		done[def.Name] = status
		res := steps.NewResult(def, status, start, nil)
		res.Metadata = meta
		observe(res)
		c.logger.Info("publish_step_completed",
			zap.String("entity_id", entity.ID.String()),
			zap.Int("step", def.Number),
			zap.String("name", def.Name),
			zap.String("status", string(status)))
	}

	return &st.result, nil
}

func (c *Coordinator) runStep(ctx context.Context, name string, st *publishState) (steps.StepStatus, map[string]any, error) {
	switch name {
	case steps.CreateDraft:
		return c.createDraft(ctx, st)
	case steps.UploadImages:
		return c.uploadImages(ctx, st)
	case steps.UploadFile:
		return c.uploadFile(ctx, st)
	case steps.Activate:
		return c.activate(ctx, st)
	}
	return steps.StatusFailed, nil, fmt.Errorf("unknown step: %s", name)
}

// fail downgrades the entity, records the failed step and returns the tagged error
func (c *Coordinator) fail(entityID uuid.UUID, def steps.StepDefinition, start time.Time, err error, observe Observer) error {
	c.markFailed(entityID)
	observe(steps.NewResult(def, steps.StatusFailed, start, err))
	stepErr := &StepError{Step: def.Number, Name: def.Name, Err: err}
	c.logger.Error("publish_step_failed",
		zap.String("entity_id", entityID.String()),
		zap.Int("step", def.Number),
		zap.String("name", def.Name),
		zap.Error(err))
	return stepErr
}

// markFailed is a best-effort downgrade to publish_failed. Its own failure is logged and
// never replaces the error that caused it.
func (c *Coordinator) markFailed(entityID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := c.store.TransitionEntityStatus(ctx, entityID,
		[]types.EntityStatus{types.EntityPublishing}, types.EntityPublishFailed)
	if err != nil {
		c.logger.Warn("publish_failed_status_write_failed",
			zap.String("entity_id", entityID.String()),
			zap.Error(err))
	}
}

func (c *Coordinator) createDraft(ctx context.Context, st *publishState) (steps.StepStatus, map[string]any, error) {
	e := st.entity
	if e.DraftListingID != nil {
		st.listingID = *e.DraftListingID
		return steps.StatusSkipped, map[string]any{"listing_id": st.listingID}, nil
	}

	listing, err := c.market.CreateDraftListing(ctx, marketplace.DraftListing{
		Title:       e.Title,
		Description: e.Description,
		Price:       e.Price,
		Tags:        e.Tags,
		TaxonomyID:  e.TaxonomyID,
	})
	if err != nil {
		return steps.StatusFailed, nil, err
	}
	st.listingID = listing.ListingID

	if err := c.store.SetDraftListingID(ctx, e.ID, listing.ListingID); err != nil {
		return steps.StatusFailed, nil, fmt.Errorf("failed to record draft listing %d: %w", listing.ListingID, err)
	}
	return steps.StatusCompleted, map[string]any{"listing_id": st.listingID}, nil
}

func (c *Coordinator) uploadImages(ctx context.Context, st *publishState) (steps.StepStatus, map[string]any, error) {
	urls := st.entity.ImageURLs
	if len(urls) == 0 {
		return steps.StatusSkipped, map[string]any{"uploaded": 0}, nil
	}

	var uploaded atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		g.Go(func() error {
			if err := c.uploadImage(gctx, st.listingID, i, u); err != nil {
				c.logger.Warn("image_upload_failed",
					zap.String("entity_id", st.entity.ID.String()),
					zap.String("url", u),
					zap.Error(err))
				return nil
			}
			uploaded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	st.result.ImagesUploaded = int(uploaded.Load())
	st.result.ImagesFailed = len(urls) - st.result.ImagesUploaded
	meta := map[string]any{"uploaded": st.result.ImagesUploaded, "failed": st.result.ImagesFailed}
	if st.result.ImagesUploaded == 0 {
		return steps.StatusFailed, meta, fmt.Errorf("%w (%d images)", ErrAllUploadsFailed, len(urls))
	}
	return steps.StatusCompleted, meta, nil
}

func (c *Coordinator) uploadImage(ctx context.Context, listingID int64, index int, u string) error {
	res, err := c.downloader.Download(ctx, u)
	if err != nil {
		return err
	}
	contentType := res.ContentType
	if contentType == "" {
		contentType = "image/png"
	}
	name := fetch.FileName(u, fmt.Sprintf("image-%d.png", index+1))
	return c.market.UploadListingImage(ctx, listingID, name, res.Body, contentType)
}

func (c *Coordinator) uploadFile(ctx context.Context, st *publishState) (steps.StepStatus, map[string]any, error) {
	u := st.entity.FileURL
	if u == "" {
		return steps.StatusFailed, nil, errors.New("entity has no content file URL")
	}
	res, err := c.downloader.Download(ctx, u)
	if err != nil {
		return steps.StatusFailed, nil, fmt.Errorf("failed to download content file: %w", err)
	}
	name := fetch.FileName(u, "product.zip")
	if err := c.market.UploadListingFile(ctx, st.listingID, name, res.Body); err != nil {
		return steps.StatusFailed, nil, fmt.Errorf("failed to upload content file: %w", err)
	}
	return steps.StatusCompleted, map[string]any{"file": name, "bytes": len(res.Body)}, nil
}

func (c *Coordinator) activate(ctx context.Context, st *publishState) (steps.StepStatus, map[string]any, error) {
	listing, err := c.market.ActivateListing(ctx, st.listingID)
	if err != nil {
		return steps.StatusFailed, nil, err
	}
	listingURL := listing.URL
	if listingURL == "" {
		listingURL = fmt.Sprintf(c.ListingURLFormat, st.listingID)
	}
	if err := c.store.MarkEntityPublished(ctx, st.entity.ID, st.listingID, listingURL); err != nil {
		return steps.StatusFailed, nil, fmt.Errorf("failed to record published listing: %w", err)
	}
	st.result.ListingID = st.listingID
	st.result.ListingURL = listingURL
	return steps.StatusCompleted, map[string]any{"listing_id": st.listingID, "listing_url": listingURL}, nil
}
