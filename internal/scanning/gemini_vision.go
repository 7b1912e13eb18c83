package scanning

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiVision implements OCREngine by asking Gemini to transcribe the receipt image
type GeminiVision struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGeminiVision creates a new GeminiVision OCR engine
func NewGeminiVision(apiKey string, modelName string) (*GeminiVision, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)

	return &GeminiVision{
		client: client,
		model:  model,
	}, nil
}

// Recognize transcribes all text printed on the receipt
func (g *GeminiVision) Recognize(ctx context.Context, pngData []byte, progress ProgressFunc) (string, error) {
	progress(0)

	// genai.ImageData wants the format suffix, not the MIME type
	resp, err := g.model.GenerateContent(ctx,
		genai.ImageData("png", pngData),
		genai.Text(transcribePrompt),
	)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no response from gemini")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	progress(1)

	return text.String(), nil
}

// Close closes the Gemini client
func (g *GeminiVision) Close() error {
	return g.client.Close()
}
