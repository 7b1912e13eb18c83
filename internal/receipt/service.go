package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/spend-tracker/internal/insights"
	"github.com/zombor/spend-tracker/internal/scanning"
)

const (
	maxNoteItems   = 3
	maxNoteExcerpt = 150
	dateLayout     = "2006-01-02"
)

// TextExtractor reads the text printed on a receipt image
type TextExtractor interface {
	Extract(ctx context.Context, imageData []byte, contentType string) string
}

// ReceiptExtractor structures receipt text into transaction fields
type ReceiptExtractor interface {
	Extract(ctx context.Context, text string, categories []string) scanning.ExtractedReceiptData
}

// InsightAnalyzer summarizes spending
type InsightAnalyzer interface {
	Analyze(ctx context.Context, transactions []insights.Transaction, budgets []insights.Budget) []insights.Insight
}

// IDGenerator generates unique IDs for transactions and categories
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service turns receipt images into transactions and manages a user's
// transactions and categories
type Service struct {
	db          DB
	storage     Storage
	ocr         TextExtractor
	extractor   ReceiptExtractor
	analyzer    InsightAnalyzer
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, storage Storage, ocr TextExtractor, extractor ReceiptExtractor, analyzer InsightAnalyzer) *Service {
	return NewServiceWithDeps(db, storage, ocr, extractor, analyzer, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, storage Storage, ocr TextExtractor, extractor ReceiptExtractor, analyzer InsightAnalyzer, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		ocr:         ocr,
		extractor:   extractor,
		analyzer:    analyzer,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// ProcessReceipt reads a receipt image and returns a transaction draft for the
// user. ErrEmptyText is the only error: every extraction problem after OCR
// degrades to a lower confidence draft. An empty category list selects
// scanning.DefaultCategories.
func (s *Service) ProcessReceipt(ctx context.Context, image []byte, contentType, userID string, categories []string) (*ParsedReceipt, error) {
	text := s.ocr.Extract(ctx, image, contentType)
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	if len(categories) == 0 {
		categories = scanning.DefaultCategories
	}

	data := s.extractor.Extract(ctx, text, categories)

	return &ParsedReceipt{
		UserID:     userID,
		Category:   data.Category,
		Amount:     data.Amount,
		Note:       buildNote(data, text),
		CreatedAt:  data.Date,
		Merchant:   data.Merchant,
		Confidence: data.Confidence,
	}, nil
}

// buildNote prefers the merchant and the first few items, falling back to
// the start of the raw text
func buildNote(data scanning.ExtractedReceiptData, text string) string {
	var parts []string
	if data.Merchant != "" {
		parts = append(parts, "Merchant: "+data.Merchant)
	}
	if len(data.Items) > 0 {
		parts = append(parts, "Items: "+strings.Join(data.Items[:min(len(data.Items), maxNoteItems)], ", "))
	}
	if len(parts) == 0 {
		return truncateRunes(text, maxNoteExcerpt)
	}
	return strings.Join(parts, " | ")
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = strings.TrimSpace(repeatedSpaces.ReplaceAllString(base, " "))

	// phones produce very long names
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}

	return base + ext
}

// ScanReceipt archives the uploaded image and runs ProcessReceipt on it. When
// categories is empty the user's saved categories are offered to the extractor.
// The archived file is removed again if the receipt cannot be read.
func (s *Service) ScanReceipt(ctx context.Context, userID, filename string, image []byte, contentType string, categories []string) (*ParsedReceipt, error) {
	if len(categories) == 0 {
		saved, err := s.db.ListCategories(userID)
		if err != nil {
			return nil, fmt.Errorf("listing categories: %w", err)
		}
		for _, c := range saved {
			categories = append(categories, c.Title)
		}
	}

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", s.idGenerator.Generate(), sanitizeFilename(filename)), image)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	parsed, err := s.ProcessReceipt(ctx, image, contentType, userID, categories)
	if err != nil {
		slog.Error("Failed to scan receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(image),
			"error", err,
		)
		if delErr := s.storage.Delete(savedPath); delErr != nil {
			slog.Warn("Failed to delete file", "filename", savedPath, "error", delErr)
		}
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}

	upload := &Upload{
		Name:        savedPath,
		UserID:      userID,
		ContentType: contentType,
		CreatedAt:   s.timeSource.Now(),
	}
	if err := s.db.SaveUpload(upload); err != nil {
		if delErr := s.storage.Delete(savedPath); delErr != nil {
			slog.Warn("Failed to delete file", "filename", savedPath, "error", delErr)
		}
		return nil, fmt.Errorf("recording upload: %w", err)
	}

	parsed.ReceiptFile = savedPath
	parsed.ReceiptContentType = contentType
	return parsed, nil
}

// CreateTransaction saves a reviewed draft for the user. The draft's category
// is matched to the user's categories ignoring case and created when missing.
// A receipt file must be one the user uploaded through ScanReceipt and not yet
// attached; its content type comes from the upload record.
func (s *Service) CreateTransaction(userID string, parsed *ParsedReceipt) (_ *Transaction, err error) {
	if !parsed.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var upload *Upload
	if parsed.ReceiptFile != "" {
		upload, err = s.db.ClaimUpload(userID, parsed.ReceiptFile)
		switch {
		case errors.Is(err, ErrNotFound):
			return nil, fmt.Errorf("receipt file %q: %w", parsed.ReceiptFile, ErrUnknownReceiptFile)
		case err != nil:
			return nil, fmt.Errorf("claiming upload: %w", err)
		}
		defer func() {
			if err == nil {
				return
			}
			if restoreErr := s.db.SaveUpload(upload); restoreErr != nil {
				slog.Warn("Failed to restore upload", "filename", upload.Name, "error", restoreErr)
			}
		}()
	}

	category, err := s.resolveCategory(userID, parsed.Category)
	if err != nil {
		return nil, err
	}

	now := s.timeSource.Now()
	date, parseErr := time.Parse(dateLayout, parsed.CreatedAt)
	if parseErr != nil {
		date = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}

	transaction := &Transaction{
		ID:         s.idGenerator.Generate(),
		UserID:     userID,
		CategoryID: category.ID,
		Category:   category.Title,
		Amount:     insights.ToCents(parsed.Amount),
		Note:       parsed.Note,
		Merchant:   parsed.Merchant,
		Confidence: parsed.Confidence,
		Date:       date,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if upload != nil {
		transaction.ReceiptFile = upload.Name
		transaction.ReceiptContentType = upload.ContentType
	}

	if err := s.db.SaveTransaction(transaction); err != nil {
		return nil, fmt.Errorf("saving transaction: %w", err)
	}
	return transaction, nil
}

func (s *Service) resolveCategory(userID, title string) (*Category, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = scanning.OtherCategory
	}

	categories, err := s.db.ListCategories(userID)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	for _, c := range categories {
		if strings.EqualFold(c.Title, title) {
			return c, nil
		}
	}

	category := &Category{
		ID:        s.idGenerator.Generate(),
		UserID:    userID,
		Title:     title,
		CreatedAt: s.timeSource.Now(),
	}
	if err := s.db.SaveCategory(category); err != nil {
		return nil, fmt.Errorf("saving category: %w", err)
	}
	return category, nil
}

// GetTransaction retrieves a transaction by ID
func (s *Service) GetTransaction(userID, id string) (*Transaction, error) {
	transaction, err := s.db.GetTransaction(userID, id)
	if err != nil {
		return nil, fmt.Errorf("getting transaction: %w", err)
	}
	return transaction, nil
}

// ListTransactions returns the user's transactions, newest first
func (s *Service) ListTransactions(userID string) ([]*Transaction, error) {
	transactions, err := s.db.ListTransactions(userID)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	return transactions, nil
}

// DeleteTransaction removes a transaction and its receipt image
func (s *Service) DeleteTransaction(userID, id string) error {
	transaction, err := s.db.GetTransaction(userID, id)
	if err != nil {
		return fmt.Errorf("getting transaction for deletion: %w", err)
	}

	if transaction.ReceiptFile != "" {
		if err := s.storage.Delete(transaction.ReceiptFile); err != nil {
			slog.Warn("Failed to delete file", "filename", transaction.ReceiptFile, "error", err)
		}
	}

	if err := s.db.DeleteTransaction(userID, id); err != nil {
		return fmt.Errorf("deleting transaction from database: %w", err)
	}
	return nil
}

// GetReceiptFile retrieves the archived receipt image of a transaction
func (s *Service) GetReceiptFile(userID, id string) ([]byte, string, error) {
	transaction, err := s.db.GetTransaction(userID, id)
	if err != nil {
		return nil, "", fmt.Errorf("getting transaction: %w", err)
	}
	if transaction.ReceiptFile == "" {
		return nil, "", fmt.Errorf("receipt for transaction %s: %w", id, ErrNotFound)
	}

	data, err := s.storage.Get(transaction.ReceiptFile)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}

	contentType := transaction.ReceiptContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return data, contentType, nil
}

// ListCategories returns the user's categories
func (s *Service) ListCategories(userID string) ([]*Category, error) {
	categories, err := s.db.ListCategories(userID)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	return categories, nil
}

// AddCategory creates a category, returning the existing one when the title
// is already taken
func (s *Service) AddCategory(userID, title string) (*Category, error) {
	if strings.TrimSpace(title) == "" {
		return nil, ErrInvalidCategory
	}
	return s.resolveCategory(userID, title)
}

// SpendingInsights analyzes the user's saved transactions against budgets
func (s *Service) SpendingInsights(ctx context.Context, userID string, budgets []insights.Budget) ([]insights.Insight, error) {
	transactions, err := s.db.ListTransactions(userID)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}

	spending := make([]insights.Transaction, 0, len(transactions))
	for _, t := range transactions {
		spending = append(spending, insights.Transaction{
			Amount:    decimal.New(t.Amount, -2),
			Category:  t.Category,
			CreatedAt: t.Date.Format(dateLayout),
		})
	}

	result := s.analyzer.Analyze(ctx, spending, budgets)
	if result == nil {
		result = []insights.Insight{}
	}
	return result, nil
}
