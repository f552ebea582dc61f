package pricing

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/vanir/internal/domain"
)

// cascadeOutcome carries the running price after all matched rules plus the
// audit records the result assembles.
type cascadeOutcome struct {
	price   decimal.Decimal
	steps   []domain.CalculationStep
	applied []domain.AppliedRule
}

// runCascade applies matched rules sequentially to a running price, in
// matcher order, recording one step per rule. Each rule operates on the
// output of the previous rule, not the original base price, and no rounding
// happens between steps.
func runCascade(base decimal.Decimal, rules []domain.PricingRule, quantity, costPrice decimal.Decimal, nextStep int) cascadeOutcome {
	out := cascadeOutcome{
		price:   base,
		steps:   make([]domain.CalculationStep, 0, len(rules)),
		applied: make([]domain.AppliedRule, 0, len(rules)),
	}

	for i := range rules {
		r := &rules[i]
		input := out.price
		output := r.Compute(input, quantity, costPrice)

		discount := input.Sub(output)
		out.applied = append(out.applied, domain.AppliedRule{
			RuleID:          r.ID,
			Code:            r.Code,
			Name:            r.Name,
			Kind:            r.Kind,
			DiscountAmount:  discount,
			DiscountPercent: percentOf(discount, input),
		})
		out.steps = append(out.steps, domain.CalculationStep{
			Number:      nextStep,
			Description: fmt.Sprintf("Apply rule %s (%s)", r.Code, r.Kind),
			InputPrice:  input,
			OutputPrice: output,
			RuleID:      uuid.NullUUID{UUID: r.ID, Valid: true},
		})

		out.price = output
		nextStep++
	}

	return out
}

// percentOf returns part/whole as a percentage, guarded so a zero or
// negative whole yields 0 instead of a division error.
func percentOf(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(decimal.NewFromInt(100))
}
