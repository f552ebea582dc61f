package domain_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/dukerupert/vanir/internal/domain"
)

func TestRoundFinal(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"1.1475", "1.148"},  // half rounds away from zero
		{"2.3455", "2.346"},
		{"-1.0005", "-1.001"}, // away from zero on the negative side too
		{"1.0004", "1"},
		{"1.0006", "1.001"},
		{"18", "18"},
		{"0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := domain.RoundFinal(dec(tt.in))
			assert.True(t, got.Equal(dec(tt.expected)),
				"RoundFinal(%s) = %s, want %s", tt.in, got.String(), tt.expected)
		})
	}
}

func TestPriceResult_Log(t *testing.T) {
	result := &domain.PriceResult{
		Currency:             "USD",
		BasePrice:            dec("1.500"),
		BasePriceFound:       true,
		FinalPrice:           dec("1.148"),
		TotalDiscount:        dec("0.3525"),
		TotalDiscountPercent: dec("23.5"),
		Steps: []domain.CalculationStep{
			{Number: 1, Description: "Base price from price-list tier", InputPrice: dec("1.5"), OutputPrice: dec("1.5")},
			{Number: 2, Description: "Apply rule SUMMER15 (discount_percentage)", InputPrice: dec("1.5"), OutputPrice: dec("1.275")},
			{Number: 3, Description: "Apply rule LOYAL10 (discount_percentage)", InputPrice: dec("1.275"), OutputPrice: dec("1.1475")},
		},
	}

	lines := result.Log()

	assert.Len(t, lines, 5, "three steps plus discount and final lines")
	assert.Equal(t, "1. Base price from price-list tier: 1.5 -> 1.5", lines[0])
	assert.Equal(t, "2. Apply rule SUMMER15 (discount_percentage): 1.5 -> 1.275", lines[1])
	assert.Equal(t, "3. Apply rule LOYAL10 (discount_percentage): 1.275 -> 1.1475", lines[2])
	assert.Equal(t, "Total discount: 0.3525 (23.50%)", lines[3])
	assert.Equal(t, "Final price: 1.148 USD", lines[4])
}

func TestPriceResult_Log_Deterministic(t *testing.T) {
	result := &domain.PriceResult{
		Currency:   "EUR",
		FinalPrice: dec("9.990"),
		Steps: []domain.CalculationStep{
			{Number: 1, Description: "No price available"},
		},
	}

	first := result.Log()
	second := result.Log()
	assert.Equal(t, first, second, "formatting must not mutate the result")
}

func TestPriceResult_Export(t *testing.T) {
	ruleID := uuid.New()
	result := &domain.PriceResult{
		CompanyID:      uuid.New(),
		ItemID:         uuid.New(),
		PriceListID:    uuid.New(),
		Quantity:       dec("10"),
		Currency:       "USD",
		BasePrice:      dec("100"),
		BasePriceFound: true,
		FinalPrice:     dec("85"),
		TotalDiscount:  dec("15"),
		AppliedRules: []domain.AppliedRule{
			{RuleID: ruleID, Code: "VOL10", Kind: domain.RuleDiscountPercent, DiscountAmount: dec("15"), DiscountPercent: dec("15")},
		},
		Steps: []domain.CalculationStep{
			{Number: 1, Description: "Base price from price-list tier", InputPrice: dec("100"), OutputPrice: dec("100")},
			{Number: 2, Description: "Apply rule VOL10 (discount_percentage)", InputPrice: dec("100"), OutputPrice: dec("85"), RuleID: uuid.NullUUID{UUID: ruleID, Valid: true}},
		},
	}

	out := result.Export()

	assert.Equal(t, "85.000", out["final_price"])
	assert.Equal(t, "100.000", out["base_price"])
	assert.Equal(t, true, out["base_price_found"])

	rules, ok := out["applied_rules"].([]map[string]interface{})
	assert.True(t, ok)
	assert.Len(t, rules, 1)
	assert.Equal(t, "VOL10", rules[0]["code"])
	assert.Equal(t, ruleID.String(), rules[0]["rule_id"])

	steps, ok := out["calculation_steps"].([]map[string]interface{})
	assert.True(t, ok)
	assert.Len(t, steps, 2)
	_, hasRule := steps[0]["rule_id"]
	assert.False(t, hasRule, "base step carries no rule")
	assert.Equal(t, ruleID.String(), steps[1]["rule_id"])

	conv, ok := out["uom_conversion"].(map[string]interface{})
	assert.True(t, ok)
	assert.Equal(t, false, conv["applied"])
}
