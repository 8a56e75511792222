package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/storefront-agent/internal/types"
)

// ReceiptExists reports whether any sale record references the external receipt
func (db *DB) ReceiptExists(ctx context.Context, receiptID int64) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM sale_records WHERE external_receipt_id = $1)`,
		receiptID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check receipt %d: %w", receiptID, err)
	}
	return exists, nil
}

// InsertSale stores a sale record. It returns false without error when the
// (receipt, transaction) pair is already recorded.
func (db *DB) InsertSale(ctx context.Context, s *types.SaleRecord) (bool, error) {
	return insertSale(ctx, db.pool, s)
}

// InsertReceiptSales stores every sale of one receipt in a single transaction, so a receipt is
// either fully recorded or not at all. It returns the number of new rows.
func (db *DB) InsertReceiptSales(ctx context.Context, sales []*types.SaleRecord) (int, error) {
	if len(sales) == 0 {
		return 0, nil
	}
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inserted := 0
	for _, s := range sales {
		ok, err := insertSale(ctx, tx, s)
		if err != nil {
			return 0, fmt.Errorf("receipt %d transaction %d: %w", s.ExternalReceiptID, s.ExternalTransactionID, err)
		}
		if ok {
			inserted++
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit receipt sales: %w", err)
	}
	return inserted, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertSale(ctx context.Context, q queryRower, s *types.SaleRecord) (bool, error) {
	err := q.QueryRow(ctx,
		`INSERT INTO sale_records (entity_id, external_receipt_id, external_transaction_id,
		     amount, currency, buyer_ref, transaction_timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (external_receipt_id, external_transaction_id) DO NOTHING
		 RETURNING id, created_at`,
		s.EntityID, s.ExternalReceiptID, s.ExternalTransactionID, s.Amount, s.Currency,
		s.BuyerRef, s.TransactionTimestamp,
	).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert sale: %w", err)
	}
	return true, nil
}

// LatestSaleTimestamp returns the newest transaction timestamp, or nil when no sales exist
func (db *DB) LatestSaleTimestamp(ctx context.Context) (*time.Time, error) {
	var ts *time.Time
	err := db.pool.QueryRow(ctx, `SELECT MAX(transaction_timestamp) FROM sale_records`).Scan(&ts)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest sale timestamp: %w", err)
	}
	return ts, nil
}

// ListSalesForEntity returns the sales linked to one entity, newest first
func (db *DB) ListSalesForEntity(ctx context.Context, entityID uuid.UUID) ([]types.SaleRecord, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, entity_id, external_receipt_id, external_transaction_id, amount, currency,
		     buyer_ref, transaction_timestamp, created_at
		 FROM sale_records WHERE entity_id = $1 ORDER BY transaction_timestamp DESC`,
		entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sales: %w", err)
	}
	defer rows.Close()

	var sales []types.SaleRecord
	for rows.Next() {
		var s types.SaleRecord
		if err := rows.Scan(&s.ID, &s.EntityID, &s.ExternalReceiptID, &s.ExternalTransactionID,
			&s.Amount, &s.Currency, &s.BuyerRef, &s.TransactionTimestamp, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sale: %w", err)
		}
		sales = append(sales, s)
	}
	return sales, rows.Err()
}
