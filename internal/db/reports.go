package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/storefront-agent/internal/types"
)

// SaveFindings stores the raw research findings for a run and returns their ID
func (db *DB) SaveFindings(ctx context.Context, runID uuid.UUID, findings *types.ResearchFindings) (uuid.UUID, error) {
	content, err := json.Marshal(findings)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal findings: %w", err)
	}

	var id uuid.UUID
	err = db.pool.QueryRow(ctx,
		`INSERT INTO research_findings (run_id, content) VALUES ($1, $2) RETURNING id`,
		runID, content,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to save findings: %w", err)
	}
	return id, nil
}

// SaveReport stores an analysis report and fills in its ID and creation time
func (db *DB) SaveReport(ctx context.Context, report *types.Report) error {
	opps := report.Opportunities
	if opps == nil {
		opps = []types.Opportunity{}
	}
	oppsJSON, err := json.Marshal(opps)
	if err != nil {
		return fmt.Errorf("failed to marshal opportunities: %w", err)
	}

	err = db.pool.QueryRow(ctx,
		`INSERT INTO reports (run_id, findings_id, opportunities, summary)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		report.RunID, report.FindingsID, oppsJSON, report.Summary,
	).Scan(&report.ID, &report.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

// GetReport retrieves a report by ID
func (db *DB) GetReport(ctx context.Context, id uuid.UUID) (*types.Report, error) {
	var r types.Report
	var oppsJSON []byte
	err := db.pool.QueryRow(ctx,
		`SELECT id, run_id, findings_id, opportunities, summary, created_at FROM reports WHERE id = $1`,
		id,
	).Scan(&r.ID, &r.RunID, &r.FindingsID, &oppsJSON, &r.Summary, &r.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	if err := json.Unmarshal(oppsJSON, &r.Opportunities); err != nil {
		return nil, fmt.Errorf("failed to unmarshal opportunities: %w", err)
	}
	return &r, nil
}
