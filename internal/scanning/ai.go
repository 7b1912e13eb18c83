package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultAITimeout bounds a single model call
const DefaultAITimeout = 15 * time.Second

// AIFailureReason says why the AI tier could not produce a result
type AIFailureReason string

const (
	FailureNoAPIKey      AIFailureReason = "no_api_key"
	FailureTimeout       AIFailureReason = "timeout"
	FailureRequest       AIFailureReason = "request"
	FailureStatus        AIFailureReason = "status"
	FailureEmptyResponse AIFailureReason = "empty_response"
	FailureNoJSON        AIFailureReason = "no_json"
	FailureMalformedJSON AIFailureReason = "malformed_json"
	FailureSchema        AIFailureReason = "schema"
)

// AIFailure is the error returned by AIExtractor.TryExtract
type AIFailure struct {
	Reason AIFailureReason
	Err    error
}

func (e *AIFailure) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("ai extraction failed: %s", e.Reason)
	}
	return fmt.Sprintf("ai extraction failed (%s): %v", e.Reason, e.Err)
}

func (e *AIFailure) Unwrap() error {
	return e.Err
}

// AIExtractor asks a generative model to structure receipt text and falls back
// to ParseHeuristically whenever the model cannot be used
type AIExtractor struct {
	generator Generator
	timeout   time.Duration
	now       func() time.Time
}

// NewAIExtractor creates an AIExtractor. A nil generator means no model is
// configured and every extraction uses the heuristic parser.
func NewAIExtractor(generator Generator) *AIExtractor {
	return NewAIExtractorWithDeps(generator, DefaultAITimeout, time.Now)
}

// NewAIExtractorWithDeps creates an AIExtractor with a custom timeout and clock for testing
func NewAIExtractorWithDeps(generator Generator, timeout time.Duration, now func() time.Time) *AIExtractor {
	if timeout <= 0 {
		timeout = DefaultAITimeout
	}
	return &AIExtractor{
		generator: generator,
		timeout:   timeout,
		now:       now,
	}
}

// ExtractWithAI extracts receipt data using Gemini when apiKey is set and the
// heuristic parser otherwise
func ExtractWithAI(ctx context.Context, text string, categories []string, apiKey string) ExtractedReceiptData {
	if apiKey == "" {
		return ParseHeuristically(text, categories)
	}
	gen, err := NewGemini(apiKey, GeminiConfig{})
	if err != nil {
		return ParseHeuristically(text, categories)
	}
	return NewAIExtractor(gen).Extract(ctx, text, categories)
}

// Extract always returns usable data: any AI failure degrades to the heuristic result
func (a *AIExtractor) Extract(ctx context.Context, text string, categories []string) ExtractedReceiptData {
	data, err := a.TryExtract(ctx, text, categories)
	if err == nil {
		extractionsTotal.WithLabelValues(tierAI, "none").Inc()
		return data
	}

	reason := FailureRequest
	var failure *AIFailure
	if errors.As(err, &failure) {
		reason = failure.Reason
	}
	if reason != FailureNoAPIKey {
		slog.Warn("AI extraction failed, falling back to heuristic parser", "reason", reason, "error", err)
	}
	extractionsTotal.WithLabelValues(tierHeuristic, string(reason)).Inc()

	return parseHeuristicallyAt(text, categories, a.now())
}

// TryExtract runs only the AI tier. Errors are always *AIFailure.
func (a *AIExtractor) TryExtract(ctx context.Context, text string, categories []string) (ExtractedReceiptData, error) {
	if a.generator == nil {
		return ExtractedReceiptData{}, &AIFailure{Reason: FailureNoAPIKey}
	}

	now := a.now()
	prompt := buildExtractionPrompt(text, categories, now.Format(dateLayout))

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	reply, err := a.generator.Generate(callCtx, prompt)
	if err != nil {
		return ExtractedReceiptData{}, classifyGenerateError(callCtx, err)
	}

	v, err := decodeReceiptJSON(reply)
	switch {
	case errors.Is(err, errEmptyResponse):
		return ExtractedReceiptData{}, &AIFailure{Reason: FailureEmptyResponse, Err: err}
	case errors.Is(err, errNoJSON):
		return ExtractedReceiptData{}, &AIFailure{Reason: FailureNoJSON, Err: err}
	case err != nil:
		return ExtractedReceiptData{}, &AIFailure{Reason: FailureMalformedJSON, Err: err}
	}

	m, err := validateReceiptJSON(v)
	if err != nil {
		return ExtractedReceiptData{}, &AIFailure{Reason: FailureSchema, Err: err}
	}

	return normalizeReceipt(m, categories, now), nil
}

func classifyGenerateError(ctx context.Context, err error) *AIFailure {
	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
		return &AIFailure{Reason: FailureStatus, Err: err}
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &AIFailure{Reason: FailureTimeout, Err: err}
	default:
		return &AIFailure{Reason: FailureRequest, Err: err}
	}
}
