package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/storefront-agent/internal/types"
)

const entityColumns = `id, status, report_id, title, description, price, tags, taxonomy_id,
	content, image_urls, file_url, quality_scores, attempts, draft_listing_id, listing_id,
	listing_url, created_at, updated_at`

// CreateEntity inserts a new entity and fills in its ID and timestamps
func (db *DB) CreateEntity(ctx context.Context, e *types.Entity) error {
	if err := types.ValidateInitialStatus(e.Status); err != nil {
		return err
	}
	tags, images, scores, err := marshalEntityJSON(e)
	if err != nil {
		return err
	}

	err = db.pool.QueryRow(ctx,
		`INSERT INTO entities (status, report_id, title, description, price, tags, taxonomy_id,
		     content, image_urls, file_url, quality_scores, attempts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id, created_at, updated_at`,
		e.Status, e.ReportID, e.Title, e.Description, e.Price, tags, e.TaxonomyID,
		nullIfEmptyBytes(e.Content), images, e.FileURL, scores, e.Attempts,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create entity: %w", err)
	}
	return nil
}

// GetEntity retrieves an entity by ID
func (db *DB) GetEntity(ctx context.Context, id uuid.UUID) (*types.Entity, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = $1`, id)
	e, err := scanEntity(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return e, nil
}

// FindEntityByListingID resolves a marketplace listing id to a local entity
func (db *DB) FindEntityByListingID(ctx context.Context, listingID int64) (*types.Entity, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE listing_id = $1`, listingID)
	e, err := scanEntity(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find entity by listing id: %w", err)
	}
	return e, nil
}

// TransitionEntityStatus sets the entity status to `to` only if its current status is one of
// `from`. It returns types.ErrStatusConflict when the precondition does not hold.
func (db *DB) TransitionEntityStatus(ctx context.Context, id uuid.UUID, from []types.EntityStatus, to types.EntityStatus) error {
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}

	result, err := db.pool.Exec(ctx,
		`UPDATE entities SET status = $2, updated_at = NOW()
		 WHERE id = $1 AND status = ANY($3)`,
		id, to, fromStrs,
	)
	if err != nil {
		return fmt.Errorf("failed to transition entity to %s: %w", to, err)
	}
	if result.RowsAffected() == 0 {
		return db.conflictOrMissing(ctx, id)
	}
	return nil
}

// SaveEntityContent writes the regenerated content, assets, quality verdict, attempt count and
// resulting status of an entity awaiting its quality gate.
func (db *DB) SaveEntityContent(ctx context.Context, e *types.Entity) error {
	tags, images, scores, err := marshalEntityJSON(e)
	if err != nil {
		return err
	}

	result, err := db.pool.Exec(ctx,
		`UPDATE entities
		 SET status = $2, title = $3, description = $4, price = $5, tags = $6, taxonomy_id = $7,
		     content = $8, image_urls = $9, file_url = $10, quality_scores = $11, attempts = $12,
		     draft_listing_id = NULL, listing_id = NULL, listing_url = '', updated_at = NOW()
		 WHERE id = $1 AND status = 'quality_gate_pending'`,
		e.ID, e.Status, e.Title, e.Description, e.Price, tags, e.TaxonomyID,
		nullIfEmptyBytes(e.Content), images, e.FileURL, scores, e.Attempts,
	)
	if err != nil {
		return fmt.Errorf("failed to save entity content: %w", err)
	}
	if result.RowsAffected() == 0 {
		return db.conflictOrMissing(ctx, e.ID)
	}
	return nil
}

// UpdateEntityDescription replaces the description of an entity
func (db *DB) UpdateEntityDescription(ctx context.Context, id uuid.UUID, description string) error {
	result, err := db.pool.Exec(ctx,
		`UPDATE entities SET description = $2, updated_at = NOW() WHERE id = $1`,
		id, description,
	)
	if err != nil {
		return fmt.Errorf("failed to update entity description: %w", err)
	}
	if result.RowsAffected() == 0 {
		return types.ErrEntityNotFound
	}
	return nil
}

// SetDraftListingID records the remote draft created for an entity
func (db *DB) SetDraftListingID(ctx context.Context, id uuid.UUID, draftListingID int64) error {
	result, err := db.pool.Exec(ctx,
		`UPDATE entities SET draft_listing_id = $2, updated_at = NOW() WHERE id = $1`,
		id, draftListingID,
	)
	if err != nil {
		return fmt.Errorf("failed to set draft listing id: %w", err)
	}
	if result.RowsAffected() == 0 {
		return types.ErrEntityNotFound
	}
	return nil
}

// MarkEntityPublished stores the externally-visible identifiers and moves a publishing entity to published
func (db *DB) MarkEntityPublished(ctx context.Context, id uuid.UUID, listingID int64, listingURL string) error {
	result, err := db.pool.Exec(ctx,
		`UPDATE entities
		 SET status = 'published', listing_id = $2, listing_url = $3, updated_at = NOW()
		 WHERE id = $1 AND status = 'publishing'`,
		id, listingID, listingURL,
	)
	if err != nil {
		return fmt.Errorf("failed to mark entity published: %w", err)
	}
	if result.RowsAffected() == 0 {
		return db.conflictOrMissing(ctx, id)
	}
	return nil
}

func (db *DB) conflictOrMissing(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := db.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM entities WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check entity: %w", err)
	}
	if !exists {
		return types.ErrEntityNotFound
	}
	return types.ErrStatusConflict
}

func scanEntity(row pgx.Row) (*types.Entity, error) {
	var e types.Entity
	var tags, images, scores []byte
	err := row.Scan(&e.ID, &e.Status, &e.ReportID, &e.Title, &e.Description, &e.Price, &tags,
		&e.TaxonomyID, &e.Content, &images, &e.FileURL, &scores, &e.Attempts, &e.DraftListingID,
		&e.ListingID, &e.ListingURL, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &e.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &e.ImageURLs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal image urls: %w", err)
		}
	}
	if len(scores) > 0 {
		e.QualityScores = &types.QualityResult{}
		if err := json.Unmarshal(scores, e.QualityScores); err != nil {
			return nil, fmt.Errorf("failed to unmarshal quality scores: %w", err)
		}
	}
	return &e, nil
}

func marshalEntityJSON(e *types.Entity) (tags, images, scores []byte, err error) {
	if tags, err = json.Marshal(nonNil(e.Tags)); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal tags: %w", err)
	}
	if images, err = json.Marshal(nonNil(e.ImageURLs)); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal image urls: %w", err)
	}
	if e.QualityScores != nil {
		if scores, err = json.Marshal(e.QualityScores); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal quality scores: %w", err)
		}
	}
	return tags, images, scores, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// nullIfEmptyBytes returns nil for empty payloads so they are stored as NULL
func nullIfEmptyBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
