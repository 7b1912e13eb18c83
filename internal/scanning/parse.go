package scanning

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
)

const defaultAIConfidence = 0.5

var (
	errNoJSON        = errors.New("no JSON object found in response")
	errEmptyResponse = errors.New("empty response from model")
)

// receiptSchema only rejects replies that carry none of the fields we asked for;
// individual bad values are repaired by normalizeReceipt.
const receiptSchema = `{
  "type": "object",
  "anyOf": [
    {"required": ["amount"]},
    {"required": ["date"]},
    {"required": ["category"]}
  ]
}`

var compiledReceiptSchema = jsonschema.MustCompileString("receipt.json", receiptSchema)

// acceptedDateLayouts are tried when the model ignores the requested format
var acceptedDateLayouts = []string{
	dateLayout,
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
}

// decodeReceiptJSON finds the first JSON object in a model reply, tolerating
// markdown fences and surrounding prose
func decodeReceiptJSON(text string) (any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errEmptyResponse
	}

	start := strings.Index(text, "{")
	if start == -1 {
		return nil, errNoJSON
	}

	dec := json.NewDecoder(strings.NewReader(text[start:]))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}
	return v, nil
}

// validateReceiptJSON checks the decoded reply against receiptSchema
func validateReceiptJSON(v any) (map[string]any, error) {
	if err := compiledReceiptSchema.Validate(v); err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %T", v)
	}
	return m, nil
}

// normalizeReceipt never trusts the model: amounts are made non-negative,
// categories must come from the caller's list and confidence is clamped
func normalizeReceipt(m map[string]any, categories []string, now time.Time) ExtractedReceiptData {
	data := ExtractedReceiptData{
		Amount:     toDecimal(m["amount"]).Abs().Round(2),
		Date:       normalizeDate(m["date"], now),
		Category:   OtherCategory,
		Confidence: clamp(toFloat(m["confidence"], defaultAIConfidence), 0, 1),
	}

	if c, ok := m["category"].(string); ok && slices.Contains(categories, c) {
		data.Category = c
	}

	if merchant, ok := m["merchant"].(string); ok {
		data.Merchant = strings.TrimSpace(merchant)
	}

	if items, ok := m["items"].([]any); ok {
		data.Items = make([]string, 0, len(items))
		for _, item := range items {
			switch v := item.(type) {
			case string:
				if s := strings.TrimSpace(v); s != "" {
					data.Items = append(data.Items, s)
				}
			case json.Number:
				data.Items = append(data.Items, v.String())
			}
		}
	}

	return data
}

func toDecimal(v any) decimal.Decimal {
	var s string
	switch n := v.(type) {
	case json.Number:
		s = n.String()
	case string:
		s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(n), "$"))
	default:
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func toFloat(v any, fallback float64) float64 {
	var s string
	switch n := v.(type) {
	case json.Number:
		s = n.String()
	case string:
		s = strings.TrimSpace(n)
	default:
		return fallback
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return fallback
	}
	return f
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func normalizeDate(v any, now time.Time) string {
	s, _ := v.(string)
	s = strings.TrimSpace(s)
	for _, layout := range acceptedDateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d.Format(dateLayout)
		}
	}
	return now.Format(dateLayout)
}
