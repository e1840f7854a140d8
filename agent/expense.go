package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/shaharia-lab/copilot"
)

// Transaction flows.
const (
	FlowSpending = "spending"
	FlowIncome   = "income"
)

// ExpenseReport is the structured form of one statement.
type ExpenseReport struct {
	Type           string            `json:"type"`
	CustomerInfo   CustomerInfo      `json:"customer_info"`
	Transactions   []Transaction     `json:"transactions"`
	CardLimit      *CardLimit        `json:"card_limit"`
	CategoryTotals map[string]string `json:"category_totals"`
}

type CustomerInfo struct {
	FullName *string `json:"full_name"`
}

type Transaction struct {
	Date             string `json:"date"`
	SpendingCategory string `json:"spending_category"`
	Description      string `json:"description"`
	Amount           string `json:"amount"`
	Flow             string `json:"flow"`
}

type CardLimit struct {
	TotalCardLimit     *string `json:"total_card_limit"`
	RemainingCardLimit *string `json:"remaining_card_limit"`
}

// ExpenseReportSchema is the JSON schema replies of the expense analyzer must satisfy.
var ExpenseReportSchema = fmt.Sprintf(`{
  "type": "object",
  "required": ["type", "customer_info", "transactions", "card_limit", "category_totals"],
  "properties": {
    "type": {"type": ["string", "null"]},
    "customer_info": {"type": ["object", "null"]},
    "transactions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["date", "spending_category", "description", "amount", "flow"],
        "properties": {
          "date": {"type": ["string", "null"]},
          "spending_category": {"enum": [%s]},
          "description": {"type": "string"},
          "amount": {"type": "string", "pattern": "^[^-]"},
          "flow": {"enum": ["%s", "%s"]}
        }
      }
    },
    "card_limit": {"type": ["object", "null"]},
    "category_totals": {"type": ["object", "null"]}
  }
}`, quoted(SpendingCategories), FlowSpending, FlowIncome)

func quoted(values []string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = `"` + v + `"`
	}
	return strings.Join(parts, ", ")
}

// NewExpenseAnalyzer returns the agent that structures statement text.
func NewExpenseAnalyzer(provider copilot.LLMProvider, opts ...Option) *Agent {
	return New("ExpenseAnalyzerAgent", ExpenseAnalyzerRole, provider, opts...)
}

// AnalyzeStatement structures the text extracted from a statement.
func AnalyzeStatement(ctx context.Context, analyzer *Agent, statementText string) (*ExpenseReport, error) {
	if strings.TrimSpace(statementText) == "" {
		return nil, fmt.Errorf("statement text is empty")
	}

	var report ExpenseReport
	if err := analyzer.GenerateJSON(ctx, statementText, &report, ExpenseReportSchema); err != nil {
		return nil, fmt.Errorf("failed to analyze statement: %w", err)
	}
	return &report, nil
}

// Spending returns the transactions with the spending flow.
func (r *ExpenseReport) Spending() []Transaction {
	var out []Transaction
	for _, t := range r.Transactions {
		if t.Flow == FlowSpending {
			out = append(out, t)
		}
	}
	return out
}
