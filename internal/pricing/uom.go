package pricing

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// conversionOutcome reports how a UoM conversion went. A failed factor
// lookup is not an error: the price passes through unchanged and the result
// records applied=false in the audit trail.
type conversionOutcome struct {
	price   decimal.Decimal
	factor  decimal.NullDecimal
	applied bool
}

// convertPrice scales a price from one unit of measure to another inside a
// unit group. Identity when the units are equal; pass-through when the
// factor cannot be resolved.
func (e *Engine) convertPrice(ctx context.Context, cache *callCache, unitGroupID, fromUoMID, toUoMID uuid.UUID, price decimal.Decimal) conversionOutcome {
	if fromUoMID == toUoMID {
		return conversionOutcome{price: price}
	}

	factor, ok := cache.conversionFactor(ctx, e.repo, unitGroupID, fromUoMID, toUoMID)
	if !ok {
		e.logger.Debug("uom conversion unavailable",
			"unit_group_id", unitGroupID.String(),
			"from_uom_id", fromUoMID.String(),
			"to_uom_id", toUoMID.String(),
		)
		return conversionOutcome{price: price}
	}

	return conversionOutcome{
		price:   price.Mul(factor),
		factor:  decimal.NullDecimal{Decimal: factor, Valid: true},
		applied: true,
	}
}
