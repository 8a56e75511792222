package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/storefront-agent/internal/types"
)

const runColumns = `id, phase, status, metadata, started_at, completed_at`

// CreateRun inserts a new run in the running state
func (db *DB) CreateRun(ctx context.Context, phase types.Phase, metadata map[string]any) (*types.Run, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run metadata: %w", err)
	}

	row := db.pool.QueryRow(ctx,
		`INSERT INTO runs (phase, status, metadata)
		 VALUES ($1, 'running', $2)
		 RETURNING `+runColumns,
		phase, metaJSON,
	)
	run, err := scanRun(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// MergeRunMetadata merges patch into the run's metadata. Existing keys not named in the
// patch are preserved.
func (db *DB) MergeRunMetadata(ctx context.Context, runID uuid.UUID, patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata patch: %w", err)
	}

	result, err := db.pool.Exec(ctx,
		`UPDATE runs SET metadata = metadata || $2::jsonb WHERE id = $1`,
		runID, patchJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to merge run metadata: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}

// FinishRun moves a running run to a terminal status, merging a final metadata patch
func (db *DB) FinishRun(ctx context.Context, runID uuid.UUID, status types.RunStatus, patch map[string]any) error {
	if status == types.RunStatusRunning {
		return fmt.Errorf("cannot finish run with status %q", status)
	}
	if patch == nil {
		patch = map[string]any{}
	}
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata patch: %w", err)
	}

	result, err := db.pool.Exec(ctx,
		`UPDATE runs
		 SET status = $2, completed_at = NOW(), metadata = metadata || $3::jsonb
		 WHERE id = $1 AND status = 'running'`,
		runID, status, patchJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found or already finished", runID)
	}
	return nil
}

// GetRun retrieves a run by ID
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (*types.Run, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, runID)
	run, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves recent runs with optional filters
func (db *DB) ListRuns(ctx context.Context, filters types.RunFilters) ([]types.Run, error) {
	if filters.Limit == 0 {
		filters.Limit = 50
	}

	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	args := []any{}
	argNum := 1

	if filters.Phase != "" {
		query += fmt.Sprintf(" AND phase = $%d", argNum)
		args = append(args, filters.Phase)
		argNum++
	}
	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, filters.Status)
		argNum++
	}

	query += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d", argNum)
	args = append(args, filters.Limit)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []types.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanRun(row pgx.Row) (*types.Run, error) {
	var run types.Run
	var metaJSON []byte
	if err := row.Scan(&run.ID, &run.Phase, &run.Status, &metaJSON, &run.StartedAt, &run.CompletedAt); err != nil {
		return nil, err
	}
	run.Metadata = map[string]any{}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &run.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run metadata: %w", err)
		}
	}
	return &run, nil
}
