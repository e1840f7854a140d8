package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/shaharia-lab/copilot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const statementReply = "```json\n" + `{
  "type": "account statement",
  "customer_info": {"full_name": "Ada Yilmaz"},
  "transactions": [
    {"date": "02/05/2025", "spending_category": "groceries", "description": "MIGROS ZIYA GOKALP ANKARA TR", "amount": "512,40 TL", "flow": "spending"},
    {"date": "05/05/2025", "spending_category": "other", "description": "MAAS ODEMESI", "amount": "40.000,00 TL", "flow": "income"},
    {"date": "07/05/2025", "spending_category": "food_drinks", "description": "CHILLIN CAFE ANKARA TR", "amount": "180,00 TL", "flow": "spending"}
  ],
  "card_limit": {"total_card_limit": "20.000,00 TL", "remaining_card_limit": "8.514,50 TL"},
  "category_totals": {"groceries": "512,40 TL", "food_drinks": "180,00 TL"}
}` + "\n```"

func TestAnalyzeStatement(t *testing.T) {
	provider := new(mockProvider)
	provider.On("GetResponse", mock.Anything, mock.MatchedBy(func(messages []copilot.LLMMessage) bool {
		return len(messages) == 2 &&
			messages[0].Role == copilot.SystemRole &&
			strings.Contains(messages[0].Text, "stationery_books") &&
			messages[1].Text == "raw statement text"
	}), mock.Anything).Return(copilot.LLMResponse{Text: statementReply}, nil).Once()

	report, err := AnalyzeStatement(context.Background(), NewExpenseAnalyzer(provider, noWait()), "raw statement text")
	require.NoError(t, err)

	assert.Equal(t, "account statement", report.Type)
	require.NotNil(t, report.CustomerInfo.FullName)
	assert.Equal(t, "Ada Yilmaz", *report.CustomerInfo.FullName)
	assert.Len(t, report.Transactions, 3)
	require.NotNil(t, report.CardLimit)
	assert.Equal(t, "8.514,50 TL", *report.CardLimit.RemainingCardLimit)
	assert.Equal(t, "512,40 TL", report.CategoryTotals["groceries"])

	spending := report.Spending()
	require.Len(t, spending, 2)
	assert.Equal(t, "CHILLIN CAFE ANKARA TR", spending[1].Description)
	provider.AssertExpectations(t)
}

func TestAnalyzeStatement_RejectsInvalidReports(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{
			name:  "unknown category",
			reply: `{"type": "x", "customer_info": null, "card_limit": null, "category_totals": {}, "transactions": [{"date": "1", "spending_category": "jewelry", "description": "d", "amount": "1,00 TL", "flow": "spending"}]}`,
		},
		{
			name:  "signed amount",
			reply: `{"type": "x", "customer_info": null, "card_limit": null, "category_totals": {}, "transactions": [{"date": "1", "spending_category": "other", "description": "d", "amount": "-1,00 TL", "flow": "spending"}]}`,
		},
		{
			name:  "missing transactions",
			reply: `{"type": "x", "customer_info": null, "card_limit": null, "category_totals": {}}`,
		},
		{
			name:  "unknown flow",
			reply: `{"type": "x", "customer_info": null, "card_limit": null, "category_totals": {}, "transactions": [{"date": "1", "spending_category": "other", "description": "d", "amount": "1,00 TL", "flow": "refund"}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := new(mockProvider)
			provider.On("GetResponse", mock.Anything, mock.Anything, mock.Anything).Return(copilot.LLMResponse{Text: tt.reply}, nil)

			_, err := AnalyzeStatement(context.Background(), NewExpenseAnalyzer(provider), "statement")
			assert.ErrorIs(t, err, ErrSchemaViolation)
		})
	}
}

func TestAnalyzeStatement_EmptyText(t *testing.T) {
	provider := new(mockProvider)
	_, err := AnalyzeStatement(context.Background(), NewExpenseAnalyzer(provider), "  \n")
	require.Error(t, err)
	provider.AssertNotCalled(t, "GetResponse", mock.Anything, mock.Anything, mock.Anything)
}

func TestExpenseAnalyzerRole_ListsEveryCategory(t *testing.T) {
	for _, category := range SpendingCategories {
		assert.Contains(t, ExpenseAnalyzerRole, category)
		assert.Contains(t, ExpenseReportSchema, `"`+category+`"`)
	}
}
