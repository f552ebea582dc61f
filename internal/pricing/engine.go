package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/vanir/internal/domain"
)

// PriceRequest identifies one price calculation. CompanyID, ItemID and
// PriceListID are required; everything else has a sensible zero value
// (quantity defaults to 1, AsOf to now, UoM to the item's base unit).
type PriceRequest struct {
	CompanyID   uuid.UUID
	ItemID      uuid.UUID
	VariantID   uuid.NullUUID
	PriceListID uuid.UUID
	CustomerID  uuid.NullUUID
	UoMID       uuid.NullUUID
	Quantity    decimal.Decimal
	AsOf        time.Time
	ApplyRules  bool
	CostPrice   decimal.Decimal
}

// Engine derives prices from tiered price-list entries and an ordered
// cascade of pricing rules. It is a pure function of its inputs and the
// repository snapshot: no internal locking, no shared mutable state, safe
// for concurrent use. Per-call lookups are memoized in a cache that lives
// and dies inside one CalculatePrice invocation.
type Engine struct {
	repo    domain.PriceRepository
	logger  *slog.Logger
	metrics *Metrics
}

// NewEngine creates a pricing engine. metrics may be nil.
func NewEngine(repo domain.PriceRepository, logger *slog.Logger, metrics *Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repo:    repo,
		logger:  logger,
		metrics: metrics,
	}
}

// callCache memoizes repository lookups within a single calculation so the
// engine never pays for the same round-trip twice. It is created, filled
// and discarded inside one CalculatePrice call; nothing survives across
// calls, so there is no staleness to invalidate.
type callCache struct {
	ancestors map[uuid.UUID][]uuid.UUID
	factors   map[factorKey]factorEntry
}

type factorKey struct {
	group, from, to uuid.UUID
}

type factorEntry struct {
	factor decimal.Decimal
	ok     bool
}

func newCallCache() *callCache {
	return &callCache{
		ancestors: make(map[uuid.UUID][]uuid.UUID),
		factors:   make(map[factorKey]factorEntry),
	}
}

func (c *callCache) categoryAncestors(ctx context.Context, repo domain.PriceRepository, categoryID uuid.UUID) ([]uuid.UUID, error) {
	if chain, ok := c.ancestors[categoryID]; ok {
		return chain, nil
	}
	chain, err := repo.GetCategoryAncestors(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	c.ancestors[categoryID] = chain
	return chain, nil
}

// conversionFactor resolves a factor through the cache. Lookup errors are
// swallowed into ok=false: a broken conversion chain degrades to an
// unconverted price, never a failed calculation.
func (c *callCache) conversionFactor(ctx context.Context, repo domain.PriceRepository, groupID, from, to uuid.UUID) (decimal.Decimal, bool) {
	key := factorKey{group: groupID, from: from, to: to}
	if e, ok := c.factors[key]; ok {
		return e.factor, e.ok
	}
	factor, ok, err := repo.GetConversionFactor(ctx, groupID, from, to)
	if err != nil {
		ok = false
	}
	c.factors[key] = factorEntry{factor: factor, ok: ok}
	return factor, ok
}

// CalculatePrice performs one pass: base price -> rule cascade (priority
// order) -> optional UoM conversion -> single final rounding. Data absence
// (no tier, no factor) yields a well-formed result, never an error; errors
// are reserved for invalid requests and repository failures.
func (e *Engine) CalculatePrice(ctx context.Context, req PriceRequest) (*domain.PriceResult, error) {
	const op = "pricing.calculate"

	if req.CompanyID == uuid.Nil {
		return nil, domain.ErrCompanyRequired
	}
	if req.ItemID == uuid.Nil {
		return nil, domain.Invalid(op, "item ID required")
	}
	if req.PriceListID == uuid.Nil {
		return nil, domain.Invalid(op, "price list ID required")
	}

	if req.Quantity.IsZero() || req.Quantity.IsNegative() {
		req.Quantity = decimal.NewFromInt(1)
	}
	if req.AsOf.IsZero() {
		req.AsOf = time.Now().UTC()
	}

	item, found, err := e.repo.GetItem(ctx, req.CompanyID, req.ItemID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load item")
	}

	result := &domain.PriceResult{
		CompanyID:   req.CompanyID,
		ItemID:      req.ItemID,
		VariantID:   req.VariantID,
		PriceListID: req.PriceListID,
		CustomerID:  req.CustomerID,
		Quantity:    req.Quantity,
		AsOf:        req.AsOf,
	}
	if !found {
		// Unknown item prices like a missing tier: zero result, no error.
		result.Steps = []domain.CalculationStep{{
			Number:      1,
			Description: "No price available",
		}}
		e.observe(result)
		return result, nil
	}
	result.Currency = item.Currency

	cache := newCallCache()

	base, tierUoM, ok, err := e.lookupBaseTier(ctx, req, item)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to resolve base tier")
	}
	if !ok {
		result.Steps = []domain.CalculationStep{{
			Number:      1,
			Description: "No price available",
		}}
		e.observe(result)
		return result, nil
	}

	result.BasePrice = base
	result.BasePriceFound = true
	steps := []domain.CalculationStep{{
		Number:      1,
		Description: "Base price from price-list tier",
		InputPrice:  base,
		OutputPrice: base,
	}}

	running := base
	if req.ApplyRules {
		matched, err := e.matchRules(ctx, cache, req, item)
		if err != nil {
			return nil, domain.Internal(err, op, "failed to resolve rules")
		}
		cascade := runCascade(base, matched, req.Quantity, req.CostPrice, len(steps)+1)
		steps = append(steps, cascade.steps...)
		result.AppliedRules = cascade.applied
		running = cascade.price
	}

	// Discount totals are taken before any UoM scaling so a conversion
	// factor never shows up as a discount or markup.
	result.TotalDiscount = base.Sub(running)
	result.TotalDiscountPercent = percentOf(result.TotalDiscount, base)

	final := running
	if req.UoMID.Valid && req.UoMID.UUID != tierUoM {
		conv := e.convertPrice(ctx, cache, item.UnitGroupID, tierUoM, req.UoMID.UUID, running)
		result.UoMConversion = domain.UoMConversionInfo{
			Applied:   conv.applied,
			FromUoMID: uuid.NullUUID{UUID: tierUoM, Valid: conv.applied},
			ToUoMID:   uuid.NullUUID{UUID: req.UoMID.UUID, Valid: conv.applied},
			Factor:    conv.factor,
		}
		if conv.applied {
			steps = append(steps, domain.CalculationStep{
				Number:      len(steps) + 1,
				Description: fmt.Sprintf("Convert unit of measure (factor %s)", conv.factor.Decimal.String()),
				InputPrice:  running,
				OutputPrice: conv.price,
			})
		}
		final = conv.price
	}

	result.FinalPrice = domain.RoundFinal(final)
	result.Steps = steps

	e.observe(result)
	return result, nil
}

// lookupBaseTier resolves the winning tier. It first tries the requested
// unit of measure; when no tier exists at that unit it falls back to the
// item's base unit, then to tiers stored without an explicit unit (which
// price the base unit), and the caller converts. Returns the unit the price
// was found at.
func (e *Engine) lookupBaseTier(ctx context.Context, req PriceRequest, item *domain.Item) (decimal.Decimal, uuid.UUID, bool, error) {
	q := domain.BaseTierQuery{
		CompanyID:   req.CompanyID,
		PriceListID: req.PriceListID,
		ItemID:      req.ItemID,
		VariantID:   req.VariantID,
		Quantity:    req.Quantity,
		AsOf:        req.AsOf,
	}

	if req.UoMID.Valid && req.UoMID.UUID != item.BaseUoMID {
		q.UoMID = req.UoMID
		price, ok, err := e.repo.GetBaseTier(ctx, q)
		if err != nil {
			return decimal.Zero, uuid.Nil, false, err
		}
		if ok {
			return price, req.UoMID.UUID, true, nil
		}
	}

	q.UoMID = uuid.NullUUID{UUID: item.BaseUoMID, Valid: true}
	price, ok, err := e.repo.GetBaseTier(ctx, q)
	if err != nil {
		return decimal.Zero, uuid.Nil, false, err
	}
	if ok {
		return price, item.BaseUoMID, true, nil
	}

	q.UoMID = uuid.NullUUID{}
	price, ok, err = e.repo.GetBaseTier(ctx, q)
	if err != nil {
		return decimal.Zero, uuid.Nil, false, err
	}
	return price, item.BaseUoMID, ok, nil
}

func (e *Engine) matchRules(ctx context.Context, cache *callCache, req PriceRequest, item *domain.Item) ([]domain.PricingRule, error) {
	candidates, err := e.repo.GetRuleCandidates(ctx, req.CompanyID, req.ItemID, req.PriceListID, req.AsOf)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	categories := make(map[uuid.UUID]struct{})
	if item.CategoryID.Valid {
		chain, err := cache.categoryAncestors(ctx, e.repo, item.CategoryID.UUID)
		if err != nil {
			return nil, err
		}
		for _, id := range chain {
			categories[id] = struct{}{}
		}
	}

	return applicableRules(candidates, matchInput{
		itemID:      req.ItemID,
		priceListID: req.PriceListID,
		quantity:    req.Quantity,
		asOf:        req.AsOf,
		categories:  categories,
	}), nil
}

func (e *Engine) observe(result *domain.PriceResult) {
	if e.metrics == nil {
		return
	}
	e.metrics.observeCalculation(result)
}
