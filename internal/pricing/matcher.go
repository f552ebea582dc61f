package pricing

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/vanir/internal/domain"
)

// matchInput is the evaluation context the matcher filters candidates
// against. categories holds the item's own category and every ancestor.
type matchInput struct {
	itemID      uuid.UUID
	priceListID uuid.UUID
	quantity    decimal.Decimal
	asOf        time.Time
	categories  map[uuid.UUID]struct{}
}

// applicableRules filters candidate rules down to the ones that apply to
// this evaluation and orders them for the cascade: priority descending,
// ties broken by rule code ascending so the order never depends on storage.
func applicableRules(candidates []domain.PricingRule, in matchInput) []domain.PricingRule {
	matched := make([]domain.PricingRule, 0, len(candidates))
	for i := range candidates {
		if ruleMatches(&candidates[i], in) {
			matched = append(matched, candidates[i])
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		return matched[i].Code < matched[j].Code
	})

	return matched
}

func ruleMatches(r *domain.PricingRule, in matchInput) bool {
	if !r.IsActive {
		return false
	}
	// Internally-inconsistent rules (e.g. a tiered rule without tiers) are
	// skipped here rather than raised; rule data is validated at edit time.
	if !r.WellFormed() {
		return false
	}
	if !r.InWindow(in.asOf) {
		return false
	}
	if !r.QuantityInBounds(in.quantity) {
		return false
	}

	// An explicit price-list set restricts the rule regardless of how the
	// item scope is satisfied.
	if len(r.PriceListIDs) > 0 && !containsUUID(r.PriceListIDs, in.priceListID) {
		return false
	}

	if r.ApplyToAllItems {
		return true
	}
	if containsUUID(r.ItemIDs, in.itemID) {
		return true
	}
	for _, catID := range r.CategoryIDs {
		if _, ok := in.categories[catID]; ok {
			return true
		}
	}
	return false
}

func containsUUID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
