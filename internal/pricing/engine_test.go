package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/vanir/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// stubRepo is an in-memory PriceRepository for engine tests. Tiers are keyed
// by the UoM the lookup asks for, with uuid.Nil standing in for tiers stored
// without an explicit unit; factors by (from, to).
type stubRepo struct {
	item      *domain.Item
	tiers     map[uuid.UUID]decimal.Decimal
	rules     []domain.PricingRule
	factors   map[[2]uuid.UUID]decimal.Decimal
	ancestors map[uuid.UUID][]uuid.UUID

	itemErr error
	tierErr error
	ruleErr error
}

func (s *stubRepo) GetItem(ctx context.Context, companyID, itemID uuid.UUID) (*domain.Item, bool, error) {
	if s.itemErr != nil {
		return nil, false, s.itemErr
	}
	if s.item == nil || s.item.ID != itemID {
		return nil, false, nil
	}
	return s.item, true, nil
}

func (s *stubRepo) GetBaseTier(ctx context.Context, q domain.BaseTierQuery) (decimal.Decimal, bool, error) {
	if s.tierErr != nil {
		return decimal.Zero, false, s.tierErr
	}
	key := uuid.Nil
	if q.UoMID.Valid {
		key = q.UoMID.UUID
	}
	price, ok := s.tiers[key]
	return price, ok, nil
}

func (s *stubRepo) GetRuleCandidates(ctx context.Context, companyID, itemID, priceListID uuid.UUID, asOf time.Time) ([]domain.PricingRule, error) {
	if s.ruleErr != nil {
		return nil, s.ruleErr
	}
	return s.rules, nil
}

func (s *stubRepo) GetConversionFactor(ctx context.Context, unitGroupID, fromUoMID, toUoMID uuid.UUID) (decimal.Decimal, bool, error) {
	f, ok := s.factors[[2]uuid.UUID{fromUoMID, toUoMID}]
	return f, ok, nil
}

func (s *stubRepo) GetCategoryAncestors(ctx context.Context, categoryID uuid.UUID) ([]uuid.UUID, error) {
	if chain, ok := s.ancestors[categoryID]; ok {
		return chain, nil
	}
	return []uuid.UUID{categoryID}, nil
}

type fixture struct {
	companyID   uuid.UUID
	itemID      uuid.UUID
	priceListID uuid.UUID
	baseUoMID   uuid.UUID
	unitGroupID uuid.UUID
	repo        *stubRepo
	engine      *Engine
}

func newFixture(basePrice string) *fixture {
	f := &fixture{
		companyID:   uuid.New(),
		itemID:      uuid.New(),
		priceListID: uuid.New(),
		baseUoMID:   uuid.New(),
		unitGroupID: uuid.New(),
	}
	f.repo = &stubRepo{
		tiers:     map[uuid.UUID]decimal.Decimal{},
		factors:   map[[2]uuid.UUID]decimal.Decimal{},
		ancestors: map[uuid.UUID][]uuid.UUID{},
	}
	f.repo.item = &domain.Item{
		ID:          f.itemID,
		CompanyID:   f.companyID,
		Code:        "WIDGET-1",
		Name:        "Widget",
		BaseUoMID:   f.baseUoMID,
		UnitGroupID: f.unitGroupID,
		Currency:    "USD",
		IsActive:    true,
	}
	if basePrice != "" {
		f.repo.tiers[f.baseUoMID] = dec(basePrice)
	}
	f.engine = NewEngine(f.repo, nil, nil)
	return f
}

func (f *fixture) request() PriceRequest {
	return PriceRequest{
		CompanyID:   f.companyID,
		ItemID:      f.itemID,
		PriceListID: f.priceListID,
		Quantity:    dec("1"),
		AsOf:        time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC),
		ApplyRules:  true,
	}
}

func TestCalculatePrice_CascadeOrder(t *testing.T) {
	f := newFixture("1.500")
	f.repo.rules = []domain.PricingRule{
		{
			ID: uuid.New(), Code: "LOYAL10", Kind: domain.RuleDiscountPercent,
			Percent: dec("10"), Priority: 50, ApplyToAllItems: true, IsActive: true,
		},
		{
			ID: uuid.New(), Code: "SUMMER15", Kind: domain.RuleDiscountPercent,
			Percent: dec("15"), Priority: 100, ApplyToAllItems: true, IsActive: true,
		},
	}

	result, err := f.engine.CalculatePrice(context.Background(), f.request())
	require.NoError(t, err)

	// 1.500 * 0.85 = 1.275, then * 0.90 = 1.1475, rounded half-up to 1.148.
	assert.True(t, result.FinalPrice.Equal(dec("1.148")),
		"FinalPrice = %s, want 1.148", result.FinalPrice.String())
	require.Len(t, result.AppliedRules, 2)
	assert.Equal(t, "SUMMER15", result.AppliedRules[0].Code, "higher priority runs first")
	assert.Equal(t, "LOYAL10", result.AppliedRules[1].Code)

	require.Len(t, result.Steps, 3)
	assert.True(t, result.Steps[1].OutputPrice.Equal(dec("1.275")),
		"intermediate prices stay unrounded, got %s", result.Steps[1].OutputPrice.String())
	assert.True(t, result.Steps[2].OutputPrice.Equal(dec("1.1475")))

	assert.True(t, result.TotalDiscount.Equal(dec("0.3525")))
	assert.True(t, result.TotalDiscountPercent.Equal(dec("23.5")))
}

func TestCalculatePrice_NoRules(t *testing.T) {
	f := newFixture("2.500")

	result, err := f.engine.CalculatePrice(context.Background(), f.request())
	require.NoError(t, err)

	assert.True(t, result.FinalPrice.Equal(dec("2.5")))
	assert.Empty(t, result.AppliedRules)
	assert.True(t, result.TotalDiscount.IsZero())
	require.Len(t, result.Steps, 1)
	assert.Equal(t, "Base price from price-list tier", result.Steps[0].Description)
}

func TestCalculatePrice_QuantityGating(t *testing.T) {
	f := newFixture("100")
	f.repo.rules = []domain.PricingRule{{
		ID: uuid.New(), Code: "BULK", Kind: domain.RuleDiscountPercent,
		Percent: dec("10"), ApplyToAllItems: true, IsActive: true,
		MinQuantity: dec("50"),
		MaxQuantity: decimal.NullDecimal{Decimal: dec("100"), Valid: true},
	}}

	tests := []struct {
		quantity string
		expected string
	}{
		{"10", "100"},  // below the floor
		{"50", "90"},   // floor is inclusive
		{"100", "90"},  // ceiling is inclusive
		{"150", "100"}, // above the ceiling
	}
	for _, tt := range tests {
		t.Run("qty "+tt.quantity, func(t *testing.T) {
			req := f.request()
			req.Quantity = dec(tt.quantity)
			result, err := f.engine.CalculatePrice(context.Background(), req)
			require.NoError(t, err)
			assert.True(t, result.FinalPrice.Equal(dec(tt.expected)),
				"FinalPrice = %s, want %s", result.FinalPrice.String(), tt.expected)
		})
	}
}

func TestCalculatePrice_CategoryInheritance(t *testing.T) {
	parent := uuid.New()
	child := uuid.New()

	f := newFixture("10")
	f.repo.item.CategoryID = uuid.NullUUID{UUID: child, Valid: true}
	f.repo.ancestors[child] = []uuid.UUID{child, parent}
	f.repo.rules = []domain.PricingRule{{
		ID: uuid.New(), Code: "CAT20", Kind: domain.RuleDiscountPercent,
		Percent: dec("20"), IsActive: true,
		CategoryIDs: []uuid.UUID{parent},
	}}

	result, err := f.engine.CalculatePrice(context.Background(), f.request())
	require.NoError(t, err)

	assert.True(t, result.FinalPrice.Equal(dec("8")),
		"rule scoped to the parent category applies to the child's items, got %s",
		result.FinalPrice.String())
}

func TestCalculatePrice_UoMConversion(t *testing.T) {
	dozen := uuid.New()

	f := newFixture("1.500")
	f.repo.factors[[2]uuid.UUID{f.baseUoMID, dozen}] = dec("12")

	req := f.request()
	req.UoMID = uuid.NullUUID{UUID: dozen, Valid: true}

	result, err := f.engine.CalculatePrice(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, result.FinalPrice.Equal(dec("18")),
		"1.500 per unit at factor 12 = 18.000, got %s", result.FinalPrice.String())
	assert.True(t, result.UoMConversion.Applied)
	assert.True(t, result.UoMConversion.Factor.Decimal.Equal(dec("12")))
	assert.True(t, result.TotalDiscount.IsZero(),
		"a conversion factor must never appear as a discount")
}

func TestCalculatePrice_UoMConversionUnavailable(t *testing.T) {
	other := uuid.New()

	f := newFixture("1.500")

	req := f.request()
	req.UoMID = uuid.NullUUID{UUID: other, Valid: true}

	result, err := f.engine.CalculatePrice(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, result.FinalPrice.Equal(dec("1.5")),
		"missing factor passes the price through, got %s", result.FinalPrice.String())
	assert.False(t, result.UoMConversion.Applied)
}

func TestCalculatePrice_TierAtRequestedUoM(t *testing.T) {
	dozen := uuid.New()

	f := newFixture("1.500")
	f.repo.tiers[dozen] = dec("16.80") // explicit dozen price beats conversion

	req := f.request()
	req.UoMID = uuid.NullUUID{UUID: dozen, Valid: true}

	result, err := f.engine.CalculatePrice(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, result.FinalPrice.Equal(dec("16.8")),
		"a tier priced directly at the requested unit wins, got %s", result.FinalPrice.String())
	assert.False(t, result.UoMConversion.Applied)
}

func TestCalculatePrice_UnitlessTierPricesBaseUnit(t *testing.T) {
	f := newFixture("") // no unit-specific tier
	f.repo.tiers[uuid.Nil] = dec("11.000")

	result, err := f.engine.CalculatePrice(context.Background(), f.request())
	require.NoError(t, err)

	assert.True(t, result.BasePriceFound)
	assert.True(t, result.FinalPrice.Equal(dec("11")),
		"a tier stored without a unit prices the base unit, got %s", result.FinalPrice.String())
}

func TestCalculatePrice_UnitlessTierConverts(t *testing.T) {
	dozen := uuid.New()

	f := newFixture("")
	f.repo.tiers[uuid.Nil] = dec("1.500")
	f.repo.factors[[2]uuid.UUID{f.baseUoMID, dozen}] = dec("12")

	req := f.request()
	req.UoMID = uuid.NullUUID{UUID: dozen, Valid: true}

	result, err := f.engine.CalculatePrice(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, result.FinalPrice.Equal(dec("18")),
		"a unitless tier still converts from the base unit, got %s", result.FinalPrice.String())
	assert.True(t, result.UoMConversion.Applied)
}

func TestCalculatePrice_BaseUnitTierBeatsUnitless(t *testing.T) {
	f := newFixture("1.500")
	f.repo.tiers[uuid.Nil] = dec("9.999")

	result, err := f.engine.CalculatePrice(context.Background(), f.request())
	require.NoError(t, err)

	assert.True(t, result.FinalPrice.Equal(dec("1.5")),
		"a tier at the base unit outranks one stored without a unit, got %s", result.FinalPrice.String())
}

func TestCalculatePrice_MissingPrice(t *testing.T) {
	f := newFixture("") // no tier at all

	result, err := f.engine.CalculatePrice(context.Background(), f.request())
	require.NoError(t, err, "data absence is not an error")

	assert.True(t, result.FinalPrice.IsZero())
	assert.False(t, result.BasePriceFound)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, "No price available", result.Steps[0].Description)
}

func TestCalculatePrice_UnknownItem(t *testing.T) {
	f := newFixture("1.500")

	req := f.request()
	req.ItemID = uuid.New()

	result, err := f.engine.CalculatePrice(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, result.FinalPrice.IsZero())
	assert.False(t, result.BasePriceFound)
}

func TestCalculatePrice_Validation(t *testing.T) {
	f := newFixture("1.500")

	req := f.request()
	req.CompanyID = uuid.Nil
	_, err := f.engine.CalculatePrice(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrCompanyRequired)

	req = f.request()
	req.ItemID = uuid.Nil
	_, err = f.engine.CalculatePrice(context.Background(), req)
	assert.True(t, domain.IsCode(err, domain.EINVALID))

	req = f.request()
	req.PriceListID = uuid.Nil
	_, err = f.engine.CalculatePrice(context.Background(), req)
	assert.True(t, domain.IsCode(err, domain.EINVALID))
}

func TestCalculatePrice_RepositoryFailure(t *testing.T) {
	f := newFixture("1.500")
	f.repo.tierErr = errors.New("connection reset")

	_, err := f.engine.CalculatePrice(context.Background(), f.request())
	assert.True(t, domain.IsCode(err, domain.EINTERNAL),
		"infrastructure failures surface as errors, not zero prices")
}

func TestCalculatePrice_Idempotent(t *testing.T) {
	f := newFixture("7.333")
	f.repo.rules = []domain.PricingRule{{
		ID: uuid.New(), Code: "CUT", Kind: domain.RuleDiscountPercent,
		Percent: dec("7.5"), ApplyToAllItems: true, IsActive: true,
	}}

	req := f.request()
	first, err := f.engine.CalculatePrice(context.Background(), req)
	require.NoError(t, err)
	second, err := f.engine.CalculatePrice(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, first.FinalPrice.Equal(second.FinalPrice))
	assert.Equal(t, first.Log(), second.Log(), "identical inputs give identical audit trails")
}

func TestCalculatePrice_RoundsHalfAwayFromZero(t *testing.T) {
	f := newFixture("1.0005")

	result, err := f.engine.CalculatePrice(context.Background(), f.request())
	require.NoError(t, err)

	assert.True(t, result.FinalPrice.Equal(dec("1.001")),
		"FinalPrice = %s, want 1.001", result.FinalPrice.String())
}

func TestCalculatePrice_DefaultsQuantityAndDate(t *testing.T) {
	f := newFixture("5")

	req := f.request()
	req.Quantity = decimal.Zero
	req.AsOf = time.Time{}

	result, err := f.engine.CalculatePrice(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, result.Quantity.Equal(dec("1")))
	assert.False(t, result.AsOf.IsZero())
}

func TestCalculatePrice_MalformedRuleSkipped(t *testing.T) {
	f := newFixture("100")
	f.repo.rules = []domain.PricingRule{
		{
			ID: uuid.New(), Code: "BROKEN", Kind: domain.RuleQuantityTiered,
			ApplyToAllItems: true, IsActive: true, // no tiers: malformed
		},
		{
			ID: uuid.New(), Code: "OK5", Kind: domain.RuleDiscountPercent,
			Percent: dec("5"), ApplyToAllItems: true, IsActive: true,
		},
	}

	result, err := f.engine.CalculatePrice(context.Background(), f.request())
	require.NoError(t, err)

	require.Len(t, result.AppliedRules, 1, "malformed rules are skipped, not raised")
	assert.Equal(t, "OK5", result.AppliedRules[0].Code)
	assert.True(t, result.FinalPrice.Equal(dec("95")))
}
