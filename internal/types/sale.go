package types

import (
	"time"

	"github.com/google/uuid"
)

// SaleRecord is a reconciled marketplace transaction line linked to an entity.
// (ExternalReceiptID, ExternalTransactionID) is unique.
type SaleRecord struct {
	ID                    uuid.UUID `json:"id"`
	EntityID              uuid.UUID `json:"entity_id"`
	ExternalReceiptID     int64     `json:"external_receipt_id"`
	ExternalTransactionID int64     `json:"external_transaction_id"`
	Amount                float64   `json:"amount"`
	Currency              string    `json:"currency"`
	BuyerRef              string    `json:"buyer_ref"`
	TransactionTimestamp  time.Time `json:"transaction_timestamp"`
	CreatedAt             time.Time `json:"created_at"`
}

// ReconcileResult holds the counters produced by one reconciliation
type ReconcileResult struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}
