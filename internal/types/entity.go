package types

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// EntityStatus is a state in the catalog item state machine
type EntityStatus string

// EntityStatus constants, in workflow order
const (
	EntityResearched         EntityStatus = "researched"
	EntityAnalyzed           EntityStatus = "analyzed"
	EntityGenerating         EntityStatus = "generating"
	EntityQualityGatePending EntityStatus = "quality_gate_pending"
	EntityQualityGatePass    EntityStatus = "quality_gate_pass"
	EntityQualityGateFail    EntityStatus = "quality_gate_fail"
	EntityReadyForReview     EntityStatus = "ready_for_review"
	EntityApproved           EntityStatus = "approved"
	EntityPublishing         EntityStatus = "publishing"
	EntityPublished          EntityStatus = "published"
	EntityPublishFailed      EntityStatus = "publish_failed"
)

// ErrStatusConflict is returned when a status transition's expected current status does not match
var ErrStatusConflict = errors.New("entity status changed concurrently")

// ErrEntityNotFound is returned when an entity id is unknown
var ErrEntityNotFound = errors.New("entity not found")

var transitions = map[EntityStatus][]EntityStatus{
	EntityResearched:         {EntityAnalyzed},
	EntityAnalyzed:           {EntityGenerating},
	EntityGenerating:         {EntityQualityGatePending},
	EntityQualityGatePending: {EntityQualityGatePass, EntityQualityGateFail},
	EntityQualityGatePass:    {EntityReadyForReview},
	EntityQualityGateFail:    {EntityGenerating},
	EntityReadyForReview:     {EntityApproved, EntityGenerating, EntityPublishing},
	EntityApproved:           {EntityPublishing},
	EntityPublishing:         {EntityPublished, EntityPublishFailed},
	EntityPublishFailed:      {EntityPublishing, EntityGenerating},
}

// CanTransition reports whether the state machine allows from -> to
func CanTransition(from, to EntityStatus) bool {
	return slices.Contains(transitions[from], to)
}

// PublishableStatuses are the statuses a publish attempt may start from
func PublishableStatuses() []EntityStatus {
	return []EntityStatus{EntityReadyForReview, EntityApproved, EntityPublishFailed}
}

// RegenerableStatuses are the statuses a generation retry may start from
func RegenerableStatuses() []EntityStatus {
	return []EntityStatus{EntityQualityGateFail, EntityPublishFailed, EntityReadyForReview}
}

// ValidateInitialStatus rejects statuses an entity can never be created with
func ValidateInitialStatus(s EntityStatus) error {
	switch s {
	case EntityPublishFailed, EntityPublishing, EntityPublished:
		return fmt.Errorf("invalid initial entity status %q", s)
	}
	return nil
}

// Entity is the catalog item moving through the workflow
type Entity struct {
	ID       uuid.UUID    `json:"id"`
	Status   EntityStatus `json:"status"`
	ReportID *uuid.UUID   `json:"report_id,omitempty"`

	Title       string   `json:"title"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Tags        []string `json:"tags"`
	TaxonomyID  int      `json:"taxonomy_id,omitempty"`

	// Content is the generated artifact, stored as JSON
	Content []byte `json:"content,omitempty"`

	ImageURLs []string `json:"image_urls,omitempty"`
	FileURL   string   `json:"file_url,omitempty"`

	QualityScores *QualityResult `json:"quality_scores,omitempty"`
	Attempts      int            `json:"attempts"`

	// DraftListingID is the remote draft created by publish step 1. It is internal
	// bookkeeping and becomes visible only through ListingID once published.
	DraftListingID *int64 `json:"draft_listing_id,omitempty"`

	ListingID  *int64 `json:"listing_id,omitempty"`
	ListingURL string `json:"listing_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsPublished reports whether externally-visible identifiers are present
func (e *Entity) IsPublished() bool {
	return e.Status == EntityPublished && e.ListingID != nil && e.ListingURL != ""
}
