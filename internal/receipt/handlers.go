package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/spend-tracker/internal/insights"
)

// Parse multipart form (max 50MB to handle high-resolution phone photos)
const maxUploadSize = int64(50 << 20)

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// jsonError writes a JSON error body with CORS headers set
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// scanResponse is a parsed receipt plus the review hint shown by clients
type scanResponse struct {
	*ParsedReceipt
	NeedsReview bool `json:"needs_review"`
}

// submittedScanResponse is returned when a scan was saved straight away
type submittedScanResponse struct {
	Receipt     *ParsedReceipt `json:"receipt"`
	Transaction *Transaction   `json:"transaction"`
}

// contentTypeFor guesses the upload type from its extension when the client sent none
func contentTypeFor(header string, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(header))
	if contentType != "" {
		return contentType
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleScanReceipt reads an uploaded receipt and returns the transaction draft.
// With ?submit=true a draft that does not need review is saved immediately.
func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, "File is too large. Maximum size is 50MB. Please compress or resize your image.", http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			errorMsg = "No file was selected. Please choose a file to upload."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		jsonError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	var categories []string
	for _, c := range r.MultipartForm.Value["category"] {
		if c = strings.TrimSpace(c); c != "" {
			categories = append(categories, c)
		}
	}

	contentType := contentTypeFor(header.Header.Get("Content-Type"), header.Filename)

	parsed, err := s.service.ScanReceipt(r.Context(), userID, header.Filename, data, contentType, categories)
	switch {
	case errors.Is(err, ErrEmptyText):
		jsonError(w, "Could not extract text from receipt", http.StatusUnprocessableEntity)
		return
	case err != nil:
		slog.Error("Error scanning receipt", "filename", header.Filename, "error", err)
		jsonError(w, "Error scanning receipt", http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Get("submit") == "true" && !parsed.NeedsReview() {
		transaction, err := s.service.CreateTransaction(userID, parsed)
		if err != nil {
			slog.Error("Error saving scanned receipt", "error", err)
			jsonError(w, "Error saving transaction", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, submittedScanResponse{Receipt: parsed, Transaction: transaction})
		return
	}

	writeJSON(w, http.StatusOK, scanResponse{ParsedReceipt: parsed, NeedsReview: parsed.NeedsReview()})
}

// handleCreateTransaction saves a reviewed draft
func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	var parsed ParsedReceipt
	if err := json.NewDecoder(r.Body).Decode(&parsed); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	parsed.UserID = userID

	transaction, err := s.service.CreateTransaction(userID, &parsed)
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrUnknownReceiptFile):
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		slog.Error("Error creating transaction", "error", err)
		jsonError(w, "Error creating transaction", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, transaction)
}

// handleListTransactions returns the user's transactions
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	transactions, err := s.service.ListTransactions(r.PathValue("userID"))
	if err != nil {
		slog.Error("Error listing transactions", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, transactions)
}

// handleGetTransaction returns a single transaction
func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	transaction, err := s.service.GetTransaction(r.PathValue("userID"), r.PathValue("id"))
	switch {
	case errors.Is(err, ErrNotFound):
		corsError(w, "Transaction not found", http.StatusNotFound)
		return
	case err != nil:
		slog.Error("Error getting transaction", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, transaction)
}

// handleDeleteTransaction deletes a transaction
func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	err := s.service.DeleteTransaction(r.PathValue("userID"), r.PathValue("id"))
	switch {
	case errors.Is(err, ErrNotFound):
		corsError(w, "Transaction not found", http.StatusNotFound)
		return
	case err != nil:
		slog.Error("Error deleting transaction", "error", err)
		corsError(w, "Error deleting transaction", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleGetReceiptFile returns the archived receipt image of a transaction
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetReceiptFile(r.PathValue("userID"), r.PathValue("id"))
	switch {
	case errors.Is(err, ErrNotFound):
		corsError(w, "File not found", http.StatusNotFound)
		return
	case err != nil:
		slog.Error("Error getting receipt file", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleListCategories returns the user's categories
func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.service.ListCategories(r.PathValue("userID"))
	if err != nil {
		slog.Error("Error listing categories", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, categories)
}

// handleAddCategory creates a category
func (s *Server) handleAddCategory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	category, err := s.service.AddCategory(r.PathValue("userID"), req.Title)
	switch {
	case errors.Is(err, ErrInvalidCategory):
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		slog.Error("Error adding category", "error", err)
		jsonError(w, "Error adding category", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, category)
}

// handleInsights analyzes the user's spending against the budgets in the body
func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Budgets []insights.Budget `json:"budgets"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.service.SpendingInsights(r.Context(), r.PathValue("userID"), req.Budgets)
	if err != nil {
		slog.Error("Error analyzing spending", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
