package scanning

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cloudflare/ahocorasick"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

const (
	heuristicFoundConfidence   = 0.7
	heuristicMissingConfidence = 0.3
)

// amountNumber matches 12, 12.3, 12.34 and 1,234.56
const amountNumber = `(\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?|\d+(?:\.\d{1,2})?)`

var amountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:total|amount|balance|sum|due)[\s:]*\$?\s*` + amountNumber),
	regexp.MustCompile(`\$\s*` + amountNumber),
	regexp.MustCompile(`(?i)` + amountNumber + `\s*(?:total|amount)`),
}

type datePattern struct {
	re *regexp.Regexp
	// group indexes of year, month and day
	year, month, day int
}

var datePatterns = []datePattern{
	{re: regexp.MustCompile(`(\d{4})[-/](\d{1,2})[-/](\d{1,2})`), year: 1, month: 2, day: 3},
	{re: regexp.MustCompile(`(?i)(?:date|on)[\s:]*(\d{1,2})[/-](\d{1,2})[/-](\d{2,4})`), year: 3, month: 1, day: 2},
	{re: regexp.MustCompile(`(\d{1,2})[/-](\d{1,2})[/-](\d{2,4})`), year: 3, month: 1, day: 2},
}

type keywordBucket struct {
	category string
	matcher  *ahocorasick.Matcher
}

// keywordBuckets are checked in order; the first bucket the caller owns and whose
// keywords appear in the text wins. Contains does not mutate the matcher, so the
// buckets are shared by concurrent parses.
var keywordBuckets = []keywordBucket{
	newKeywordBucket("Food", "restaurant", "cafe", "food", "grocery", "supermarket", "dining", "meal", "pizza", "burger", "coffee", "starbucks", "mcdonald"),
	newKeywordBucket("Transport", "gas", "fuel", "uber", "lyft", "taxi", "metro", "bus", "train", "parking", "toll", "transport"),
	newKeywordBucket("Shopping", "store", "shop", "retail", "amazon", "walmart", "target", "mall", "clothing", "apparel"),
	newKeywordBucket("Entertainment", "movie", "cinema", "theater", "netflix", "spotify", "game", "concert", "event", "ticket"),
	newKeywordBucket("Utilities", "electric", "water", "gas", "internet", "phone", "utility", "bill", "power", "electricity"),
}

func newKeywordBucket(category string, keywords ...string) keywordBucket {
	return keywordBucket{
		category: category,
		matcher:  ahocorasick.NewStringMatcher(keywords),
	}
}

// ParseHeuristically extracts amount, date and category from receipt text using
// regular expressions and keyword tables. It never fails.
func ParseHeuristically(text string, categories []string) ExtractedReceiptData {
	return parseHeuristicallyAt(text, categories, time.Now())
}

// parseHeuristicallyAt is ParseHeuristically with "today" supplied by the caller
func parseHeuristicallyAt(text string, categories []string, now time.Time) ExtractedReceiptData {
	amount := extractAmount(text)

	confidence := heuristicMissingConfidence
	if amount.IsPositive() {
		confidence = heuristicFoundConfidence
	}

	return ExtractedReceiptData{
		Amount:     amount,
		Date:       extractDate(text, now),
		Category:   extractCategory(text, categories),
		Confidence: confidence,
	}
}

// extractAmount returns the largest amount candidate, the grand total is
// usually the biggest number on a receipt
func extractAmount(text string) decimal.Decimal {
	largest := decimal.Zero
	for _, re := range amountPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			value, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", ""))
			if err != nil {
				continue
			}
			if value.GreaterThan(largest) {
				largest = value
			}
		}
	}
	return largest
}

func extractDate(text string, now time.Time) string {
	for _, p := range datePatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if d, ok := calendarDate(m[p.year], m[p.month], m[p.day]); ok {
			return d.Format(dateLayout)
		}
	}
	return now.Format(dateLayout)
}

// calendarDate validates the parts as a real date; two digit years pivot at 50
func calendarDate(year, month, day string) (time.Time, bool) {
	y, err := strconv.Atoi(year)
	if err != nil {
		return time.Time{}, false
	}
	switch len(year) {
	case 2:
		if y < 50 {
			y += 2000
		} else {
			y += 1900
		}
	case 4:
	default:
		return time.Time{}, false
	}

	m, err := strconv.Atoi(month)
	if err != nil {
		return time.Time{}, false
	}
	d, err := strconv.Atoi(day)
	if err != nil {
		return time.Time{}, false
	}

	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

func extractCategory(text string, categories []string) string {
	lower := strings.ToLower(text)
	for _, c := range categories {
		if c != "" && strings.Contains(lower, strings.ToLower(c)) {
			return c
		}
	}

	lowerBytes := []byte(lower)
	for _, bucket := range keywordBuckets {
		owned, ok := findCategory(categories, bucket.category)
		if !ok {
			continue
		}
		if bucket.matcher.Contains(lowerBytes) {
			return owned
		}
	}
	return OtherCategory
}

// findCategory returns the caller's spelling of name
func findCategory(categories []string, name string) (string, bool) {
	for _, c := range categories {
		if strings.EqualFold(c, name) {
			return c, true
		}
	}
	return "", false
}
