package scanning

import (
	"context"

	"github.com/shopspring/decimal"
)

// OtherCategory is assigned when no caller-supplied category fits the receipt
const OtherCategory = "Other"

// DefaultCategories is used when the caller has no categories of its own
var DefaultCategories = []string{"Food", "Transport", "Shopping", "Entertainment", "Utilities", OtherCategory}

// ExtractedReceiptData contains the structured fields parsed out of receipt text
type ExtractedReceiptData struct {
	Amount     decimal.Decimal `json:"amount"`
	Date       string          `json:"date"` // ISO 8601 format
	Category   string          `json:"category"`
	Merchant   string          `json:"merchant,omitempty"`
	Items      []string        `json:"items,omitempty"`
	Confidence float64         `json:"confidence"`
}

// Generator sends a prompt to a generative language model and returns its text reply
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// OCREngine recognizes text in a PNG image
type OCREngine interface {
	// Recognize returns the text found in the image
	Recognize(ctx context.Context, pngData []byte, progress ProgressFunc) (string, error)
	// Close releases resources held by the engine
	Close() error
}

// ProgressFunc receives the fraction (0..1) of recognition completed
type ProgressFunc func(fraction float64)
