package receipt

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrEmptyText is returned when no text could be read from a receipt image
	ErrEmptyText = errors.New("could not extract text from receipt")

	// ErrNotFound is returned when a transaction does not exist for the user
	ErrNotFound = errors.New("not found")

	// ErrInvalidAmount is returned when a transaction would be saved without a positive amount
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrInvalidCategory is returned for blank category titles
	ErrInvalidCategory = errors.New("category title is required")

	// ErrUnknownReceiptFile is returned when a draft names a receipt image the
	// user did not upload, or one already attached to a transaction
	ErrUnknownReceiptFile = errors.New("unknown receipt file")
)

// ParsedReceipt is the transaction draft produced by scanning a receipt
type ParsedReceipt struct {
	UserID             string          `json:"user_id"`
	Category           string          `json:"category"`
	Amount             decimal.Decimal `json:"amount"`
	Note               string          `json:"note"`
	CreatedAt          string          `json:"created_at"` // YYYY-MM-DD
	Merchant           string          `json:"merchant,omitempty"`
	Confidence         float64         `json:"confidence"`
	ReceiptFile        string          `json:"receipt_file,omitempty"`
	ReceiptContentType string          `json:"receipt_content_type,omitempty"`
}

// NeedsReview reports whether the draft should be confirmed by the user before
// it is saved. A zero amount means extraction most likely failed.
func (p *ParsedReceipt) NeedsReview() bool {
	return !p.Amount.IsPositive()
}

// Transaction is a persisted expense
type Transaction struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"user_id"`
	CategoryID         string    `json:"category_id"`
	Category           string    `json:"category"`
	Amount             int64     `json:"amount"` // Amount in cents
	Note               string    `json:"note"`
	Merchant           string    `json:"merchant,omitempty"`
	Confidence         float64   `json:"confidence"`
	Date               time.Time `json:"date"`
	ReceiptFile        string    `json:"receipt_file,omitempty"`
	ReceiptContentType string    `json:"receipt_content_type,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Category is a user-defined spending category
type Category struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Upload is an archived receipt image waiting to be attached to a transaction
type Upload struct {
	Name        string    `json:"name"`
	UserID      string    `json:"user_id"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
}
