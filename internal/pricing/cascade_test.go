package pricing

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/vanir/internal/domain"
)

func TestRunCascade_Sequential(t *testing.T) {
	rules := []domain.PricingRule{
		{ID: uuid.New(), Code: "TEN", Kind: domain.RuleDiscountPercent, Percent: dec("10")},
		{ID: uuid.New(), Code: "FLAT", Kind: domain.RuleDiscountAmount, Amount: dec("5")},
	}

	out := runCascade(dec("100"), rules, dec("1"), decimal.Zero, 2)

	// Each rule works on the previous rule's output: 100 -> 90 -> 85.
	assert.True(t, out.price.Equal(dec("85")), "price = %s, want 85", out.price.String())

	require.Len(t, out.steps, 2)
	assert.Equal(t, 2, out.steps[0].Number)
	assert.Equal(t, 3, out.steps[1].Number)
	assert.True(t, out.steps[1].InputPrice.Equal(dec("90")),
		"second rule must see the first rule's output")

	require.Len(t, out.applied, 2)
	assert.True(t, out.applied[0].DiscountAmount.Equal(dec("10")))
	assert.True(t, out.applied[1].DiscountAmount.Equal(dec("5")))
}

func TestRunCascade_Empty(t *testing.T) {
	out := runCascade(dec("42"), nil, dec("1"), decimal.Zero, 2)

	assert.True(t, out.price.Equal(dec("42")))
	assert.Empty(t, out.steps)
	assert.Empty(t, out.applied)
}

func TestRunCascade_MarkupRecordsNegativeDiscount(t *testing.T) {
	rules := []domain.PricingRule{
		{ID: uuid.New(), Code: "UP", Kind: domain.RuleMarkupPercent, Percent: dec("20")},
	}

	out := runCascade(dec("50"), rules, dec("1"), decimal.Zero, 2)

	assert.True(t, out.price.Equal(dec("60")))
	require.Len(t, out.applied, 1)
	assert.True(t, out.applied[0].DiscountAmount.Equal(dec("-10")),
		"a markup is a negative discount in the audit trail")
}

func TestPercentOf(t *testing.T) {
	assert.True(t, percentOf(dec("15"), dec("100")).Equal(dec("15")))
	assert.True(t, percentOf(dec("10"), decimal.Zero).IsZero(),
		"zero whole yields zero, never a division error")
	assert.True(t, percentOf(dec("10"), dec("-5")).IsZero())
}
