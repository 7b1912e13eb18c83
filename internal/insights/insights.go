package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

const (
	maxInsights        = 5
	minAITransactions  = 6
	maxAITransactions  = 20
	nearLimitThreshold = 80
	overLimitThreshold = 100

	defaultGenerateTimeout = 15 * time.Second
)

// Kind classifies an insight
type Kind string

const (
	KindWarning    Kind = "warning"
	KindSuggestion Kind = "suggestion"
	KindInfo       Kind = "info"
)

// Insight is a short message about a user's spending
type Insight struct {
	Type     Kind             `json:"type"`
	Message  string           `json:"message"`
	Category string           `json:"category,omitempty"`
	Amount   *decimal.Decimal `json:"amount,omitempty"`
}

// Transaction is the spending record the analyzer works on
type Transaction struct {
	Amount    decimal.Decimal `json:"amount"`
	Category  string          `json:"category"`
	CreatedAt string          `json:"created_at"`
}

// Budget caps spending for a category
type Budget struct {
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
	IsActive bool            `json:"is_active"`
}

// Generator sends a prompt to a generative language model
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Analyzer derives spending insights from transactions and budgets.
// Rule-based insights always run; model insights are added when a
// generator is configured and there is enough history.
type Analyzer struct {
	generator Generator
	timeout   time.Duration
}

// NewAnalyzer creates an Analyzer. generator may be nil.
func NewAnalyzer(generator Generator) *Analyzer {
	return NewAnalyzerWithTimeout(generator, defaultGenerateTimeout)
}

// NewAnalyzerWithTimeout creates an Analyzer whose model call is abandoned
// after timeout
func NewAnalyzerWithTimeout(generator Generator, timeout time.Duration) *Analyzer {
	return &Analyzer{generator: generator, timeout: timeout}
}

// Analyze returns at most five insights, rule-based ones first
func (a *Analyzer) Analyze(ctx context.Context, transactions []Transaction, budgets []Budget) []Insight {
	spending, order := spendingByCategory(transactions)

	var result []Insight
	for _, b := range budgets {
		if !b.IsActive {
			continue
		}
		if insight, ok := budgetInsight(b, spending[b.Category]); ok {
			result = append(result, insight)
		}
	}

	if top, ok := topCategory(spending, order); ok {
		total := spending[top]
		result = append(result, Insight{
			Type:     KindInfo,
			Message:  fmt.Sprintf("Your top spending category is %s (%s)", top, FormatAmount(total)),
			Category: top,
			Amount:   &total,
		})
	}

	if a.generator != nil && len(transactions) >= minAITransactions {
		generated, err := a.generate(ctx, transactions, budgets)
		if err != nil {
			slog.Warn("Failed to get AI insights", "error", err)
		}
		result = append(result, generated...)
	}

	if len(result) > maxInsights {
		result = result[:maxInsights]
	}
	return result
}

func spendingByCategory(transactions []Transaction) (map[string]decimal.Decimal, []string) {
	spending := make(map[string]decimal.Decimal)
	var order []string
	for _, tx := range transactions {
		current, seen := spending[tx.Category]
		if !seen {
			order = append(order, tx.Category)
		}
		spending[tx.Category] = current.Add(tx.Amount)
	}
	return spending, order
}

// topCategory picks the highest total; ties go to the category seen first
func topCategory(spending map[string]decimal.Decimal, order []string) (string, bool) {
	var (
		top  string
		best decimal.Decimal
	)
	for _, c := range order {
		if spending[c].GreaterThan(best) {
			top, best = c, spending[c]
		}
	}
	return top, best.IsPositive()
}

func budgetInsight(b Budget, spent decimal.Decimal) (Insight, bool) {
	if !b.Amount.IsPositive() {
		if !spent.IsPositive() {
			return Insight{}, false
		}
		return exceededInsight(b, spent), true
	}

	percentage := spent.Div(b.Amount).Mul(decimal.NewFromInt(100))
	switch {
	case percentage.GreaterThan(decimal.NewFromInt(overLimitThreshold)):
		return exceededInsight(b, spent), true
	case percentage.GreaterThan(decimal.NewFromInt(nearLimitThreshold)):
		return Insight{
			Type:     KindWarning,
			Message:  fmt.Sprintf("You're at %s%% of your %s budget", percentage.StringFixed(0), b.Category),
			Category: b.Category,
		}, true
	}
	return Insight{}, false
}

func exceededInsight(b Budget, spent decimal.Decimal) Insight {
	over := spent.Sub(b.Amount)
	return Insight{
		Type:     KindWarning,
		Message:  fmt.Sprintf("You've exceeded your %s budget by %s", b.Category, FormatAmount(over)),
		Category: b.Category,
		Amount:   &over,
	}
}

// FormatAmount renders a dollar amount such as $1,234.50
func FormatAmount(amount decimal.Decimal) string {
	return money.New(ToCents(amount), money.USD).Display()
}

// ToCents converts a dollar amount to integer cents, rounding half away from zero
func ToCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

const insightsPreamble = "You are a financial advisor. Provide concise, actionable insights."

func buildInsightsPrompt(transactions []Transaction, budgets []Budget) (string, error) {
	txJSON, err := json.Marshal(transactions[:min(len(transactions), maxAITransactions)])
	if err != nil {
		return "", fmt.Errorf("marshaling transactions: %w", err)
	}
	if budgets == nil {
		budgets = []Budget{}
	}
	budgetJSON, err := json.Marshal(budgets)
	if err != nil {
		return "", fmt.Errorf("marshaling budgets: %w", err)
	}

	return fmt.Sprintf(`%s

Analyze this spending data and provide 2-3 actionable insights:

Transactions: %s
Budgets: %s

Return a JSON array of insights with this structure:
[
  {
    "type": "warning" | "suggestion" | "info",
    "message": "<insight message>",
    "category": "<category>" (optional),
    "amount": <number> (optional)
  }
]

Focus on:
- Spending patterns
- Budget optimization suggestions
- Unusual spending spikes
- Category balance recommendations

Return ONLY the JSON array, no other text.`, insightsPreamble, txJSON, budgetJSON), nil
}

var errNoInsights = errors.New("no JSON array found in response")

func (a *Analyzer) generate(ctx context.Context, transactions []Transaction, budgets []Budget) ([]Insight, error) {
	prompt, err := buildInsightsPrompt(transactions, budgets)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	reply, err := a.generator.Generate(callCtx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generating insights: %w", err)
	}

	return parseInsights(reply)
}

// parseInsights reads the outermost JSON array in a model reply and keeps
// only well-formed entries
func parseInsights(reply string) ([]Insight, error) {
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start == -1 || end < start {
		return nil, errNoInsights
	}

	var raw []Insight
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling insights: %w", err)
	}

	result := make([]Insight, 0, len(raw))
	for _, insight := range raw {
		switch insight.Type {
		case KindWarning, KindSuggestion, KindInfo:
		default:
			continue
		}
		insight.Message = strings.TrimSpace(insight.Message)
		if insight.Message == "" {
			continue
		}
		result = append(result, insight)
	}
	return result, nil
}
