package marketplace

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Money is an amount expressed as an integer over a divisor
type Money struct {
	Amount       int64  `json:"amount"`
	Divisor      int64  `json:"divisor"`
	CurrencyCode string `json:"currency_code"`
}

// Float returns the decimal value
func (m Money) Float() float64 {
	if m.Divisor == 0 {
		return float64(m.Amount)
	}
	return float64(m.Amount) / float64(m.Divisor)
}

// Transaction is one line item of a receipt
type Transaction struct {
	TransactionID int64 `json:"transaction_id"`
	ListingID     int64 `json:"listing_id"`
	Quantity      int   `json:"quantity"`
	Price         Money `json:"price"`
}

// Receipt is a settled order
type Receipt struct {
	ReceiptID        int64         `json:"receipt_id"`
	BuyerUserID      int64         `json:"buyer_user_id"`
	CreatedTimestamp int64         `json:"created_timestamp"`
	IsPaid           bool          `json:"is_paid"`
	Grandtotal       Money         `json:"grandtotal"`
	Transactions     []Transaction `json:"transactions"`
}

// CreatedAt returns the receipt creation time
func (r Receipt) CreatedAt() time.Time {
	return time.Unix(r.CreatedTimestamp, 0).UTC()
}

// ReceiptPage is one page of the receipts feed
type ReceiptPage struct {
	Count   int       `json:"count"`
	Results []Receipt `json:"results"`
}

// ListReceipts returns paid receipts created at or after minCreated
func (c *Client) ListReceipts(ctx context.Context, minCreated time.Time, limit, offset int) (*ReceiptPage, error) {
	q := url.Values{
		"min_created": {strconv.FormatInt(minCreated.Unix(), 10)},
		"limit":       {strconv.Itoa(limit)},
		"offset":      {strconv.Itoa(offset)},
		"was_paid":    {"true"},
	}
	var out ReceiptPage
	if err := c.Request(ctx, http.MethodGet, c.shopPath("/receipts"), nil, q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
