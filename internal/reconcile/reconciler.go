// Package reconcile pulls settled marketplace receipts and records them as sale records,
// exactly once per receipt line item.
package reconcile

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/storefront-agent/internal/marketplace"
	"github.com/jonathan/storefront-agent/internal/metrics"
	"github.com/jonathan/storefront-agent/internal/types"
)

const (
	// DefaultPageSize is the number of receipts requested per page
	DefaultPageSize = 100
	// WatermarkOverlap is subtracted from the newest known sale to catch near-boundary receipts
	WatermarkOverlap = 60 * time.Second
	// InitialLookback bounds the first reconciliation when no sales exist
	InitialLookback = 90 * 24 * time.Hour
)

// Store is the persistence surface the reconciler needs
type Store interface {
	LatestSaleTimestamp(ctx context.Context) (*time.Time, error)
	ReceiptExists(ctx context.Context, receiptID int64) (bool, error)
	FindEntityByListingID(ctx context.Context, listingID int64) (*types.Entity, error)
	InsertReceiptSales(ctx context.Context, sales []*types.SaleRecord) (int, error)
}

// ReceiptSource pages through settled receipts
type ReceiptSource interface {
	ListReceipts(ctx context.Context, minCreated time.Time, limit, offset int) (*marketplace.ReceiptPage, error)
}

// Reconciler links marketplace receipts to local entities
type Reconciler struct {
	store    Store
	source   ReceiptSource
	logger   *zap.Logger
	pageSize int
	now      func() time.Time
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithPageSize overrides DefaultPageSize
func WithPageSize(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

// WithClock overrides the wall clock
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// New creates a reconciler
func New(store Store, source ReceiptSource, logger *zap.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reconciler{
		store:    store,
		source:   source,
		logger:   logger.Named("reconciler"),
		pageSize: DefaultPageSize,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run reconciles immediately and then on every tick until ctx is cancelled
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	if _, err := r.Reconcile(ctx); err != nil {
		r.logger.Error("reconcile_initial_failed", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Reconcile(ctx); err != nil {
				r.logger.Error("reconcile_failed", zap.Error(err))
			}
		}
	}
}

// Watermark returns the lower bound for the receipts query
func (r *Reconciler) Watermark(ctx context.Context) (time.Time, error) {
	latest, err := r.store.LatestSaleTimestamp(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to compute watermark: %w", err)
	}
	if latest == nil {
		return r.now().Add(-InitialLookback), nil
	}
	return latest.Add(-WatermarkOverlap), nil
}

// Reconcile pulls every receipt since the watermark. Per-receipt failures are counted in
// Errors; only a failed fetch aborts the run.
func (r *Reconciler) Reconcile(ctx context.Context) (types.ReconcileResult, error) {
	var result types.ReconcileResult

	since, err := r.Watermark(ctx)
	if err != nil {
		return result, err
	}

	for offset := 0; ; offset += r.pageSize {
		page, err := r.source.ListReceipts(ctx, since, r.pageSize, offset)
		if err != nil {
			return result, fmt.Errorf("failed to fetch receipts at offset %d: %w", offset, err)
		}

		for _, receipt := range page.Results {
			inserted, skipped, err := r.processReceipt(ctx, receipt)
			result.Inserted += inserted
			if err != nil {
				result.Errors++
				r.logger.Warn("receipt_reconcile_failed",
					zap.Int64("receipt_id", receipt.ReceiptID),
					zap.Error(err))
				continue
			}
			if skipped {
				result.Skipped++
			}
		}

		if len(page.Results) < r.pageSize {
			break
		}
	}

	metrics.SalesInserted.Add(float64(result.Inserted))
	r.logger.Info("reconcile_completed",
		zap.Time("since", since),
		zap.Int("inserted", result.Inserted),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", result.Errors))
	return result, nil
}

// processReceipt returns the number of sale records written and whether the receipt was
// already known. A panic while handling one receipt is reported as that receipt's error.
func (r *Reconciler) processReceipt(ctx context.Context, receipt marketplace.Receipt) (inserted int, skipped bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic reconciling receipt %d: %v", receipt.ReceiptID, p)
		}
	}()

	exists, err := r.store.ReceiptExists(ctx, receipt.ReceiptID)
	if err != nil {
		return 0, false, err
	}
	if exists {
		return 0, true, nil
	}

	var sales []*types.SaleRecord
	for _, tx := range receipt.Transactions {
		entity, err := r.store.FindEntityByListingID(ctx, tx.ListingID)
		if err != nil {
			return 0, false, fmt.Errorf("failed to resolve listing %d: %w", tx.ListingID, err)
		}
		if entity == nil {
			continue
		}
		sales = append(sales, saleFromTransaction(entity.ID, receipt, tx))
	}

	inserted, err = r.store.InsertReceiptSales(ctx, sales)
	if err != nil {
		return 0, false, fmt.Errorf("failed to record receipt %d: %w", receipt.ReceiptID, err)
	}
	return inserted, false, nil
}

func saleFromTransaction(entityID uuid.UUID, receipt marketplace.Receipt, tx marketplace.Transaction) *types.SaleRecord {
	qty := tx.Quantity
	if qty < 1 {
		qty = 1
	}
	currency := tx.Price.CurrencyCode
	if currency == "" {
		currency = receipt.Grandtotal.CurrencyCode
	}
	return &types.SaleRecord{
		EntityID:              entityID,
		ExternalReceiptID:     receipt.ReceiptID,
		ExternalTransactionID: tx.TransactionID,
		Amount:                tx.Price.Float() * float64(qty),
		Currency:              currency,
		BuyerRef:              strconv.FormatInt(receipt.BuyerUserID, 10),
		TransactionTimestamp:  receipt.CreatedAt(),
	}
}
