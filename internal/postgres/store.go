package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/vanir/internal/domain"
)

// maxCategoryDepth bounds the ancestor walk. Category data should never be
// this deep; the bound exists so a parent-pointer cycle truncates the chain
// instead of looping.
const maxCategoryDepth = 32

// Store implements the pricing repository ports on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// Compile-time checks that Store implements the ports.
var (
	_ domain.PriceRepository   = (*Store)(nil)
	_ domain.CatalogRepository = (*Store)(nil)
	_ domain.PriceWriter       = (*Store)(nil)
)

// NewStore creates a PostgreSQL-backed store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// =============================================================================
// PRICE REPOSITORY (read port)
// =============================================================================

// GetItem loads an item with its base UoM, unit group and category.
func (s *Store) GetItem(ctx context.Context, companyID, itemID uuid.UUID) (*domain.Item, bool, error) {
	const q = `
		SELECT i.id, i.company_id, i.code, i.name, i.category_id,
		       i.base_uom_id, u.unit_group_id, i.currency, i.is_active
		FROM items i
		JOIN uoms u ON u.id = i.base_uom_id
		WHERE i.company_id = $1 AND i.id = $2`

	var it domain.Item
	err := s.pool.QueryRow(ctx, q, companyID, itemID).Scan(
		&it.ID, &it.CompanyID, &it.Code, &it.Name, &it.CategoryID,
		&it.BaseUoMID, &it.UnitGroupID, &it.Currency, &it.IsActive,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get item: %w", err)
	}
	return &it, true, nil
}

// GetBaseTier resolves the winning tier: highest min_quantity not exceeding
// the requested quantity, first valid by date.
func (s *Store) GetBaseTier(ctx context.Context, q domain.BaseTierQuery) (decimal.Decimal, bool, error) {
	const query = `
		SELECT unit_price::text
		FROM price_list_tiers
		WHERE company_id = $1
		  AND price_list_id = $2
		  AND item_id = $3
		  AND (variant_id = $4 OR ($4::uuid IS NULL AND variant_id IS NULL))
		  AND (uom_id = $5 OR ($5::uuid IS NULL AND uom_id IS NULL))
		  AND is_active
		  AND min_quantity <= $6::numeric
		  AND (valid_from IS NULL OR valid_from <= $7)
		  AND (valid_to IS NULL OR valid_to >= $7)
		ORDER BY min_quantity DESC, valid_from DESC NULLS LAST
		LIMIT 1`

	var priceText string
	err := s.pool.QueryRow(ctx, query,
		q.CompanyID, q.PriceListID, q.ItemID,
		uuidArg(q.VariantID), uuidArg(q.UoMID),
		numericArg(q.Quantity), q.AsOf,
	).Scan(&priceText)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("get base tier: %w", err)
	}

	price, err := scanDecimal(priceText)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("get base tier: %w", err)
	}
	return price, true, nil
}

// GetRuleCandidates returns active rules whose validity window contains
// asOf and whose scope could reach this item or price list. Final filtering
// (quantity bounds, ancestor categories) belongs to the matcher; the query
// only prunes rules that cannot possibly apply.
func (s *Store) GetRuleCandidates(ctx context.Context, companyID, itemID, priceListID uuid.UUID, asOf time.Time) ([]domain.PricingRule, error) {
	const q = `
		SELECT id, company_id, code, name, kind,
		       percent::text, amount::text, margin_percent::text,
		       COALESCE(quantity_tiers, '[]'::jsonb),
		       apply_to_all_items, item_ids, category_ids, price_list_ids,
		       min_quantity::text, max_quantity::text,
		       valid_from, valid_to, priority, is_active
		FROM pricing_rules
		WHERE company_id = $1
		  AND is_active
		  AND (valid_from IS NULL OR valid_from <= $4)
		  AND (valid_to IS NULL OR valid_to >= $4)
		  AND (cardinality(price_list_ids) = 0 OR $3 = ANY(price_list_ids))
		  AND (apply_to_all_items
		       OR $2 = ANY(item_ids)
		       OR cardinality(category_ids) > 0)
		ORDER BY priority DESC, code ASC`

	rows, err := s.pool.Query(ctx, q, companyID, itemID, priceListID, asOf)
	if err != nil {
		return nil, fmt.Errorf("get rule candidates: %w", err)
	}
	defer rows.Close()

	var rules []domain.PricingRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func scanRule(row pgx.Row) (domain.PricingRule, error) {
	var (
		r                                   domain.PricingRule
		kind                                string
		percentText, amountText, marginText string
		minQtyText                          string
		maxQtyText                          *string
		tiersJSON                           []byte
	)
	err := row.Scan(
		&r.ID, &r.CompanyID, &r.Code, &r.Name, &kind,
		&percentText, &amountText, &marginText,
		&tiersJSON,
		&r.ApplyToAllItems, &r.ItemIDs, &r.CategoryIDs, &r.PriceListIDs,
		&minQtyText, &maxQtyText,
		&r.ValidFrom, &r.ValidTo, &r.Priority, &r.IsActive,
	)
	if err != nil {
		return r, fmt.Errorf("scan rule: %w", err)
	}

	r.Kind = domain.RuleKind(kind)
	if r.Percent, err = scanDecimal(percentText); err != nil {
		return r, fmt.Errorf("scan rule percent: %w", err)
	}
	if r.Amount, err = scanDecimal(amountText); err != nil {
		return r, fmt.Errorf("scan rule amount: %w", err)
	}
	if r.MarginPercent, err = scanDecimal(marginText); err != nil {
		return r, fmt.Errorf("scan rule margin: %w", err)
	}
	if r.MinQuantity, err = scanDecimal(minQtyText); err != nil {
		return r, fmt.Errorf("scan rule min quantity: %w", err)
	}
	if maxQtyText != nil {
		max, err := scanDecimal(*maxQtyText)
		if err != nil {
			return r, fmt.Errorf("scan rule max quantity: %w", err)
		}
		r.MaxQuantity = decimal.NullDecimal{Decimal: max, Valid: true}
	}
	if err := json.Unmarshal(tiersJSON, &r.QuantityTiers); err != nil {
		return r, fmt.Errorf("scan rule quantity tiers: %w", err)
	}
	return r, nil
}

// GetConversionFactor resolves the multiplier between two units of a group.
// Falls back to chaining through the group's base unit when no direct
// conversion row exists.
func (s *Store) GetConversionFactor(ctx context.Context, unitGroupID, fromUoMID, toUoMID uuid.UUID) (decimal.Decimal, bool, error) {
	direct, ok, err := s.directFactor(ctx, unitGroupID, fromUoMID, toUoMID)
	if err != nil || ok {
		return direct, ok, err
	}

	// Try the inverse row.
	inverse, ok, err := s.directFactor(ctx, unitGroupID, toUoMID, fromUoMID)
	if err != nil {
		return decimal.Zero, false, err
	}
	if ok && !inverse.IsZero() {
		return decimal.NewFromInt(1).DivRound(inverse, 12), true, nil
	}
	return decimal.Zero, false, nil
}

func (s *Store) directFactor(ctx context.Context, unitGroupID, fromUoMID, toUoMID uuid.UUID) (decimal.Decimal, bool, error) {
	const q = `
		SELECT factor::text
		FROM uom_conversions
		WHERE unit_group_id = $1 AND from_uom_id = $2 AND to_uom_id = $3`

	var factorText string
	err := s.pool.QueryRow(ctx, q, unitGroupID, fromUoMID, toUoMID).Scan(&factorText)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("get conversion factor: %w", err)
	}
	factor, err := scanDecimal(factorText)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("get conversion factor: %w", err)
	}
	return factor, true, nil
}

// GetCategoryAncestors walks the category tree upward: the category itself,
// its parent, grandparent and so on. The recursive query carries its own
// path array so a parent-pointer cycle in the data truncates the chain
// rather than recursing forever; depth is bounded as a second guard.
func (s *Store) GetCategoryAncestors(ctx context.Context, categoryID uuid.UUID) ([]uuid.UUID, error) {
	const q = `
		WITH RECURSIVE chain AS (
			SELECT id, parent_id, 1 AS depth, ARRAY[id] AS path
			FROM categories
			WHERE id = $1
			UNION ALL
			SELECT c.id, c.parent_id, chain.depth + 1, chain.path || c.id
			FROM categories c
			JOIN chain ON c.id = chain.parent_id
			WHERE chain.depth < $2 AND NOT c.id = ANY(chain.path)
		)
		SELECT id FROM chain ORDER BY depth`

	rows, err := s.pool.Query(ctx, q, categoryID, maxCategoryDepth)
	if err != nil {
		return nil, fmt.Errorf("get category ancestors: %w", err)
	}
	defer rows.Close()

	var chain []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan category ancestor: %w", err)
		}
		chain = append(chain, id)
	}
	return chain, rows.Err()
}

// =============================================================================
// CATALOG REPOSITORY
// =============================================================================

// ListActivePriceLists returns the company's active price lists.
func (s *Store) ListActivePriceLists(ctx context.Context, companyID uuid.UUID) ([]domain.PriceList, error) {
	const q = `
		SELECT id, company_id, code, name, list_type, currency, is_active
		FROM price_lists
		WHERE company_id = $1 AND is_active
		ORDER BY code`

	rows, err := s.pool.Query(ctx, q, companyID)
	if err != nil {
		return nil, fmt.Errorf("list price lists: %w", err)
	}
	defer rows.Close()
	return collectPriceLists(rows)
}

// ListPriceLists returns specific price lists by ID.
func (s *Store) ListPriceLists(ctx context.Context, companyID uuid.UUID, ids []uuid.UUID) ([]domain.PriceList, error) {
	const q = `
		SELECT id, company_id, code, name, list_type, currency, is_active
		FROM price_lists
		WHERE company_id = $1 AND id = ANY($2)
		ORDER BY code`

	rows, err := s.pool.Query(ctx, q, companyID, ids)
	if err != nil {
		return nil, fmt.Errorf("list price lists: %w", err)
	}
	defer rows.Close()
	return collectPriceLists(rows)
}

func collectPriceLists(rows pgx.Rows) ([]domain.PriceList, error) {
	var lists []domain.PriceList
	for rows.Next() {
		var pl domain.PriceList
		var listType string
		if err := rows.Scan(&pl.ID, &pl.CompanyID, &pl.Code, &pl.Name, &listType, &pl.Currency, &pl.IsActive); err != nil {
			return nil, fmt.Errorf("scan price list: %w", err)
		}
		pl.ListType = domain.PriceListType(listType)
		lists = append(lists, pl)
	}
	return lists, rows.Err()
}

// ListItems returns items matching the filter. A category filter includes
// items in descendant categories.
func (s *Store) ListItems(ctx context.Context, companyID uuid.UUID, filter domain.ItemFilter) ([]domain.Item, error) {
	const q = `
		WITH RECURSIVE selected_categories AS (
			SELECT id, 1 AS depth, ARRAY[id] AS path
			FROM categories
			WHERE id = ANY($3::uuid[])
			UNION ALL
			SELECT c.id, sc.depth + 1, sc.path || c.id
			FROM categories c
			JOIN selected_categories sc ON c.parent_id = sc.id
			WHERE sc.depth < $5 AND NOT c.id = ANY(sc.path)
		)
		SELECT DISTINCT i.id, i.company_id, i.code, i.name, i.category_id,
		       i.base_uom_id, u.unit_group_id, i.currency, i.is_active
		FROM items i
		JOIN uoms u ON u.id = i.base_uom_id
		WHERE i.company_id = $1
		  AND (cardinality($2::uuid[]) = 0 OR i.id = ANY($2::uuid[]))
		  AND (cardinality($3::uuid[]) = 0
		       OR i.category_id IN (SELECT id FROM selected_categories))
		  AND ($4 OR i.is_active)
		ORDER BY i.code
		LIMIT $6`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	itemIDs := filter.ItemIDs
	if itemIDs == nil {
		itemIDs = []uuid.UUID{}
	}
	categoryIDs := filter.CategoryIDs
	if categoryIDs == nil {
		categoryIDs = []uuid.UUID{}
	}

	rows, err := s.pool.Query(ctx, q, companyID, itemIDs, categoryIDs, filter.IncludeInactive, maxCategoryDepth, limit)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		var it domain.Item
		if err := rows.Scan(&it.ID, &it.CompanyID, &it.Code, &it.Name, &it.CategoryID,
			&it.BaseUoMID, &it.UnitGroupID, &it.Currency, &it.IsActive); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ListVariants returns active variants of an item.
func (s *Store) ListVariants(ctx context.Context, itemID uuid.UUID) ([]domain.ItemVariant, error) {
	const q = `
		SELECT id, item_id, code, name, is_active
		FROM item_variants
		WHERE item_id = $1 AND is_active
		ORDER BY code`

	rows, err := s.pool.Query(ctx, q, itemID)
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}
	defer rows.Close()

	var variants []domain.ItemVariant
	for rows.Next() {
		var v domain.ItemVariant
		if err := rows.Scan(&v.ID, &v.ItemID, &v.Code, &v.Name, &v.IsActive); err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

// ListUnitGroupUoMs returns every unit of measure in a unit group.
func (s *Store) ListUnitGroupUoMs(ctx context.Context, unitGroupID uuid.UUID) ([]domain.UoM, error) {
	const q = `
		SELECT id, unit_group_id, code, name
		FROM uoms
		WHERE unit_group_id = $1
		ORDER BY code`

	rows, err := s.pool.Query(ctx, q, unitGroupID)
	if err != nil {
		return nil, fmt.Errorf("list uoms: %w", err)
	}
	defer rows.Close()

	var uoms []domain.UoM
	for rows.Next() {
		var u domain.UoM
		if err := rows.Scan(&u.ID, &u.UnitGroupID, &u.Code, &u.Name); err != nil {
			return nil, fmt.Errorf("scan uom: %w", err)
		}
		uoms = append(uoms, u)
	}
	return uoms, rows.Err()
}
