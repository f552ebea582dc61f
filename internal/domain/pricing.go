package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// PRICING DOMAIN TYPES
// =============================================================================

// RuleKind identifies how a pricing rule transforms a running price.
type RuleKind string

const (
	RuleDiscountPercent RuleKind = "discount_percentage"
	RuleMarkupPercent   RuleKind = "markup_percentage"
	RuleDiscountAmount  RuleKind = "discount_amount"
	RuleMarkupAmount    RuleKind = "markup_amount"
	RuleQuantityTiered  RuleKind = "quantity_tiered"
	RuleFormula         RuleKind = "formula"
	RuleSeasonal        RuleKind = "seasonal"
)

// PriceListType mirrors the list types offered in the admin UI.
type PriceListType string

const (
	PriceListDefault   PriceListType = "default"
	PriceListWholesale PriceListType = "wholesale"
	PriceListCustom    PriceListType = "custom"
)

// Item is a sellable catalog entry. Immutable for the duration of one
// price calculation.
type Item struct {
	ID          uuid.UUID
	CompanyID   uuid.UUID
	Code        string
	Name        string
	CategoryID  uuid.NullUUID
	BaseUoMID   uuid.UUID
	UnitGroupID uuid.UUID
	Currency    string
	IsActive    bool
}

// ItemVariant is a concrete variation of an item (size, color, pack).
type ItemVariant struct {
	ID       uuid.UUID
	ItemID   uuid.UUID
	Code     string
	Name     string
	IsActive bool
}

// Category is a tree node. Scope matching walks from an item's category
// upward through ParentID.
type Category struct {
	ID       uuid.UUID
	ParentID uuid.NullUUID
	Name     string
}

// PriceList groups tier prices for a customer segment.
type PriceList struct {
	ID        uuid.UUID
	CompanyID uuid.UUID
	Code      string
	Name      string
	ListType  PriceListType
	Currency  string
	IsActive  bool
}

// UoM is a unit of measure inside a unit group.
type UoM struct {
	ID          uuid.UUID
	UnitGroupID uuid.UUID
	Code        string
	Name        string
}

// UoMConversion maps one unit to another within a unit group.
// target_quantity = source_quantity * Factor.
type UoMConversion struct {
	UnitGroupID uuid.UUID
	FromUoMID   uuid.UUID
	ToUoMID     uuid.UUID
	Factor      decimal.Decimal
}

// PriceListTier binds (price list, item, variant?, uom?, min quantity,
// validity window) to a unit price. Multiple tiers per item implement
// volume pricing; the repository resolves the winning tier.
type PriceListTier struct {
	ID          uuid.UUID
	CompanyID   uuid.UUID
	PriceListID uuid.UUID
	ItemID      uuid.UUID
	VariantID   uuid.NullUUID
	UoMID       uuid.NullUUID
	MinQuantity decimal.Decimal
	UnitPrice   decimal.Decimal
	ValidFrom   *time.Time
	ValidTo     *time.Time
	IsActive    bool
}

// QuantityTier is one step of a quantity-tiered discount rule.
type QuantityTier struct {
	MinQuantity     decimal.Decimal `json:"min_quantity"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
}

// PricingRule is one step in the discount/markup cascade. Scope is either
// ApplyToAllItems or explicit item/category sets; a non-empty PriceListIDs
// set additionally restricts the rule to those lists.
type PricingRule struct {
	ID        uuid.UUID
	CompanyID uuid.UUID
	Code      string
	Name      string
	Kind      RuleKind

	// Numeric parameters; which ones apply depends on Kind.
	Percent       decimal.Decimal // discount/markup/seasonal percentage
	Amount        decimal.Decimal // fixed discount/markup amount
	MarginPercent decimal.Decimal // formula: margin over cost price
	QuantityTiers []QuantityTier  // quantity_tiered steps

	ApplyToAllItems bool
	ItemIDs         []uuid.UUID
	CategoryIDs     []uuid.UUID
	PriceListIDs    []uuid.UUID

	MinQuantity decimal.Decimal
	MaxQuantity decimal.NullDecimal

	ValidFrom *time.Time
	ValidTo   *time.Time

	Priority int32
	IsActive bool
}

var hundred = decimal.NewFromInt(100)

// WellFormed reports whether the rule's numeric configuration is internally
// consistent. Malformed rules are skipped during matching rather than
// raised; rule data is assumed pre-validated by the editing layer.
func (r *PricingRule) WellFormed() bool {
	switch r.Kind {
	case RuleQuantityTiered:
		return len(r.QuantityTiers) > 0
	case RuleDiscountPercent, RuleMarkupPercent, RuleSeasonal,
		RuleDiscountAmount, RuleMarkupAmount, RuleFormula:
		return true
	default:
		return false
	}
}

// Compute applies the rule to a running price and returns the new price.
// It never rounds; the engine rounds once, after the whole cascade.
// Assumes WellFormed; a rule that matches nothing leaves price unchanged.
func (r *PricingRule) Compute(price, quantity, costPrice decimal.Decimal) decimal.Decimal {
	switch r.Kind {
	case RuleDiscountPercent, RuleSeasonal:
		return price.Mul(hundred.Sub(r.Percent)).Div(hundred)
	case RuleMarkupPercent:
		return price.Mul(hundred.Add(r.Percent)).Div(hundred)
	case RuleDiscountAmount:
		return price.Sub(r.Amount)
	case RuleMarkupAmount:
		return price.Add(r.Amount)
	case RuleQuantityTiered:
		return r.computeTiered(price, quantity)
	case RuleFormula:
		// Cost-plus: price derived from cost and target margin. Without a
		// cost price the rule has nothing to work from.
		if costPrice.IsPositive() {
			return costPrice.Mul(hundred.Add(r.MarginPercent)).Div(hundred)
		}
		return price
	}
	return price
}

// computeTiered picks the highest tier whose threshold the quantity reaches.
func (r *PricingRule) computeTiered(price, quantity decimal.Decimal) decimal.Decimal {
	var best *QuantityTier
	for i := range r.QuantityTiers {
		t := &r.QuantityTiers[i]
		if quantity.LessThan(t.MinQuantity) {
			continue
		}
		if best == nil || t.MinQuantity.GreaterThan(best.MinQuantity) {
			best = t
		}
	}
	if best == nil {
		return price
	}
	return price.Mul(hundred.Sub(best.DiscountPercent)).Div(hundred)
}

// InWindow reports whether the rule's validity window contains asOf.
// Open-ended bounds are allowed on either side.
func (r *PricingRule) InWindow(asOf time.Time) bool {
	if r.ValidFrom != nil && asOf.Before(*r.ValidFrom) {
		return false
	}
	if r.ValidTo != nil && asOf.After(*r.ValidTo) {
		return false
	}
	return true
}

// QuantityInBounds reports whether qty falls within the rule's inclusive
// quantity bounds.
func (r *PricingRule) QuantityInBounds(qty decimal.Decimal) bool {
	if qty.LessThan(r.MinQuantity) {
		return false
	}
	if r.MaxQuantity.Valid && qty.GreaterThan(r.MaxQuantity.Decimal) {
		return false
	}
	return true
}
