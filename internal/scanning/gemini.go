package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	defaultGeminiURL   = "https://generativelanguage.googleapis.com"
	defaultGeminiModel = "gemini-2.5-flash"

	extractionTemperature = 0.1
	extractionMaxTokens   = 500
)

// StatusError is returned when a model endpoint answers with a non-success status
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model API error (status %d): %s", e.StatusCode, e.Body)
}

// GeminiConfig configures the Gemini text generator. A nil Temperature
// selects the extraction default; zero is honoured.
type GeminiConfig struct {
	BaseURL     string
	Model       string
	Temperature *float64
	MaxTokens   int
	HTTPClient  *http.Client
}

// Gemini implements Generator using the Gemini generateContent REST endpoint
type Gemini struct {
	apiKey string
	cfg    GeminiConfig
}

// NewGemini creates a Gemini generator. Zero config fields take defaults
// suited to deterministic extraction.
func NewGemini(apiKey string, cfg GeminiConfig) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGeminiURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	if cfg.Temperature == nil {
		t := extractionTemperature
		cfg.Temperature = &t
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = extractionMaxTokens
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}

	return &Gemini{
		apiKey: apiKey,
		cfg:    cfg,
	}, nil
}

// WithTemperature returns a copy of the generator sampling at the given temperature
func (g *Gemini) WithTemperature(temperature float64) *Gemini {
	clone := *g
	clone.cfg.Temperature = &temperature
	return &clone
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

// geminiRequest represents the request body for generateContent
type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

// geminiResponse represents the parts of the generateContent response we read
type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Generate sends the prompt and returns the text of the first candidate
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     *g.cfg.Temperature,
			MaxOutputTokens: g.cfg.MaxTokens,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		g.cfg.BaseURL, url.PathEscape(g.cfg.Model), url.QueryEscape(g.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling gemini API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var genResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(genResp.Candidates) == 0 {
		return "", nil
	}

	var text strings.Builder
	for _, part := range genResp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return strings.TrimSpace(text.String()), nil
}
