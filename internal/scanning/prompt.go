package scanning

import (
	"fmt"
	"strings"
)

// transcribePrompt asks a vision model to behave like an OCR engine
const transcribePrompt = `Transcribe every piece of text printed on this receipt exactly as it appears, line by line, top to bottom.

Rules:
- Keep numbers, prices, dates and currency symbols exactly as printed
- Do not summarize, translate or correct anything
- Do not add commentary, headings or markdown
- If the image contains no readable text, return an empty response`

const extractionPreamble = "You are a precise financial data extraction assistant. Always return valid JSON only."

// buildExtractionPrompt embeds the OCR text and the caller's categories into the extraction prompt
func buildExtractionPrompt(receiptText string, categories []string, today string) string {
	allowed := strings.Join(categories, ", ")

	return fmt.Sprintf(`%s

You are a financial data extraction assistant. Extract the following information from this receipt text:

Receipt Text:
%s

Available Categories: %s

Extract and return ONLY a valid JSON object with this exact structure:
{
  "amount": <number> (the total amount paid, must be a number),
  "date": "<YYYY-MM-DD>" (the transaction date, use today's date if not found: %s),
  "category": "<category>" (must be one of: %s, choose the most appropriate),
  "merchant": "<merchant name>" (optional, the store/merchant name),
  "items": ["item1", "item2"] (optional, list of purchased items),
  "confidence": <0-1> (your confidence in the extraction, 0-1)
}

Rules:
- Amount must be a positive number
- Date must be in YYYY-MM-DD format
- Category MUST be one of the provided categories
- If category is unclear, use "%s"
- Confidence should reflect how certain you are (0.9+ for clear receipts, 0.5-0.8 for unclear)

Return ONLY the JSON object, no other text.`, extractionPreamble, receiptText, allowed, today, allowed, OtherCategory)
}
