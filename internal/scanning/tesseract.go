package scanning

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract implements OCREngine using a local Tesseract installation
type Tesseract struct {
	language string
}

// NewTesseract creates a Tesseract engine for English receipts
func NewTesseract() *Tesseract {
	return &Tesseract{language: "eng"}
}

// Recognize runs Tesseract over the image. A client is created per call
// because gosseract clients must not be shared between goroutines.
func (t *Tesseract) Recognize(ctx context.Context, pngData []byte, progress ProgressFunc) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	progress(0)

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.language); err != nil {
		return "", fmt.Errorf("setting language: %w", err)
	}
	if err := client.SetImageFromBytes(pngData); err != nil {
		return "", fmt.Errorf("loading image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("recognizing text: %w", err)
	}
	progress(1)

	return text, nil
}

// Close is a no-op, clients are released after every call
func (t *Tesseract) Close() error {
	return nil
}
