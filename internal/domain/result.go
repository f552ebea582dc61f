package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FinalPricePlaces is the scale of the single rounding step at the end of a
// calculation. Intermediate cascade steps carry full precision.
const FinalPricePlaces = 3

// RoundFinal rounds a computed price the one time rounding is allowed:
// half-up (away from zero), three decimal places.
func RoundFinal(d decimal.Decimal) decimal.Decimal {
	return d.Round(FinalPricePlaces)
}

// AppliedRule is the audit summary of one rule that fired in the cascade.
type AppliedRule struct {
	RuleID          uuid.UUID
	Code            string
	Name            string
	Kind            RuleKind
	DiscountAmount  decimal.Decimal // input - output; negative for markups
	DiscountPercent decimal.Decimal // 0 when the input price was <= 0
}

// CalculationStep is one entry of the step-by-step trace.
type CalculationStep struct {
	Number      int
	Description string
	InputPrice  decimal.Decimal
	OutputPrice decimal.Decimal
	RuleID      uuid.NullUUID
}

// UoMConversionInfo records whether and how the price was scaled between
// units of measure.
type UoMConversionInfo struct {
	Applied   bool
	FromUoMID uuid.NullUUID
	ToUoMID   uuid.NullUUID
	Factor    decimal.NullDecimal
}

// PriceResult is the fully auditable output of one calculation. It is
// created fresh per call, never mutated afterwards, and has no persistence
// identity.
type PriceResult struct {
	CompanyID   uuid.UUID
	ItemID      uuid.UUID
	VariantID   uuid.NullUUID
	PriceListID uuid.UUID
	CustomerID  uuid.NullUUID
	Quantity    decimal.Decimal
	Currency    string
	AsOf        time.Time

	// BasePrice is the winning tier price in the tier's unit of measure.
	// BasePriceFound=false means no tier matched; the result is then a
	// well-formed zero-price result, not an error.
	BasePrice      decimal.Decimal
	BasePriceFound bool

	// FinalPrice is rounded exactly once, after cascade and UoM conversion.
	FinalPrice decimal.Decimal

	// TotalDiscount compares the base price with the cascade output in the
	// same unit of measure, so a UoM conversion never shows up as discount.
	TotalDiscount        decimal.Decimal
	TotalDiscountPercent decimal.Decimal

	AppliedRules  []AppliedRule
	Steps         []CalculationStep
	UoMConversion UoMConversionInfo
}

// Log renders the deterministic, human-readable audit trail. It is pure
// formatting over already-computed fields; nothing is recalculated here.
func (r *PriceResult) Log() []string {
	lines := make([]string, 0, len(r.Steps)+3)
	for _, s := range r.Steps {
		lines = append(lines, fmt.Sprintf("%d. %s: %s -> %s",
			s.Number, s.Description, s.InputPrice.String(), s.OutputPrice.String()))
	}
	lines = append(lines,
		fmt.Sprintf("Total discount: %s (%s%%)",
			r.TotalDiscount.String(), r.TotalDiscountPercent.StringFixed(2)),
		fmt.Sprintf("Final price: %s %s",
			r.FinalPrice.StringFixed(FinalPricePlaces), r.Currency),
	)
	return lines
}

// Export produces the structured form handed to serialization boundaries.
// Decimals are exported as strings to keep the representation exact.
func (r *PriceResult) Export() map[string]interface{} {
	rules := make([]map[string]interface{}, len(r.AppliedRules))
	for i, ar := range r.AppliedRules {
		rules[i] = map[string]interface{}{
			"rule_id":          ar.RuleID.String(),
			"code":             ar.Code,
			"name":             ar.Name,
			"kind":             string(ar.Kind),
			"discount_amount":  ar.DiscountAmount.String(),
			"discount_percent": ar.DiscountPercent.String(),
		}
	}

	steps := make([]map[string]interface{}, len(r.Steps))
	for i, s := range r.Steps {
		step := map[string]interface{}{
			"number":       s.Number,
			"description":  s.Description,
			"input_price":  s.InputPrice.String(),
			"output_price": s.OutputPrice.String(),
		}
		if s.RuleID.Valid {
			step["rule_id"] = s.RuleID.UUID.String()
		}
		steps[i] = step
	}

	conv := map[string]interface{}{
		"applied": r.UoMConversion.Applied,
	}
	if r.UoMConversion.Applied {
		conv["from_uom_id"] = r.UoMConversion.FromUoMID.UUID.String()
		conv["to_uom_id"] = r.UoMConversion.ToUoMID.UUID.String()
		conv["factor"] = r.UoMConversion.Factor.Decimal.String()
	}

	out := map[string]interface{}{
		"company_id":             r.CompanyID.String(),
		"item_id":                r.ItemID.String(),
		"price_list_id":          r.PriceListID.String(),
		"quantity":               r.Quantity.String(),
		"currency":               r.Currency,
		"as_of":                  r.AsOf.Format(time.RFC3339),
		"base_price":             r.BasePrice.StringFixed(FinalPricePlaces),
		"base_price_found":       r.BasePriceFound,
		"final_price":            r.FinalPrice.StringFixed(FinalPricePlaces),
		"total_discount":         r.TotalDiscount.String(),
		"total_discount_percent": r.TotalDiscountPercent.String(),
		"applied_rules":          rules,
		"calculation_steps":      steps,
		"uom_conversion":         conv,
	}
	if r.VariantID.Valid {
		out["variant_id"] = r.VariantID.UUID.String()
	}
	if r.CustomerID.Valid {
		out["customer_id"] = r.CustomerID.UUID.String()
	}
	return out
}
