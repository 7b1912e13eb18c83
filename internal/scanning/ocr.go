package scanning

import (
	"context"
	"log/slog"
	"math"
)

// TextExtractor turns receipt images into raw text using an OCR engine.
// Failures are logged and reported as empty text, never as errors.
type TextExtractor struct {
	engine   OCREngine
	progress ProgressFunc
}

// NewTextExtractor creates a TextExtractor that logs recognition progress at debug level
func NewTextExtractor(engine OCREngine) *TextExtractor {
	return NewTextExtractorWithProgress(engine, logProgress)
}

// NewTextExtractorWithProgress creates a TextExtractor reporting progress to the given observer
func NewTextExtractorWithProgress(engine OCREngine, progress ProgressFunc) *TextExtractor {
	if progress == nil {
		progress = func(float64) {}
	}
	return &TextExtractor{
		engine:   engine,
		progress: progress,
	}
}

// Extract returns the text recognized in the image, or "" if recognition failed
func (t *TextExtractor) Extract(ctx context.Context, imageData []byte, contentType string) string {
	pngData, err := toPNG(imageData, contentType)
	if err != nil {
		ocrFailuresTotal.WithLabelValues("convert").Inc()
		slog.Error("Failed to prepare receipt image",
			"content_type", contentType,
			"file_size", len(imageData),
			"error", err,
		)
		return ""
	}

	text, err := t.engine.Recognize(ctx, pngData, t.progress)
	if err != nil {
		ocrFailuresTotal.WithLabelValues("recognize").Inc()
		slog.Error("Error extracting text", "content_type", contentType, "error", err)
		return ""
	}
	return text
}

// Close closes the underlying engine
func (t *TextExtractor) Close() error {
	return t.engine.Close()
}

func logProgress(fraction float64) {
	slog.Debug("OCR progress", "percent", int(math.Round(fraction*100)))
}
