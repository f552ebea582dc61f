package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// REPOSITORY PORTS
// =============================================================================
//
// The engine never constructs ad hoc queries; it consumes fully-materialized,
// already-filtered snapshots through these interfaces. All read operations
// are side-effect free. "Not found" is reported through the ok boolean, not
// an error — errors are reserved for infrastructure failures.

// BaseTierQuery identifies the tier lookup for one calculation.
type BaseTierQuery struct {
	CompanyID   uuid.UUID
	PriceListID uuid.UUID
	ItemID      uuid.UUID
	VariantID   uuid.NullUUID
	UoMID       uuid.NullUUID // nil matches tiers with no explicit UoM
	Quantity    decimal.Decimal
	AsOf        time.Time
}

// PriceRepository is the engine's read port.
type PriceRepository interface {
	// GetItem loads an item with its base UoM, unit group and category.
	GetItem(ctx context.Context, companyID, itemID uuid.UUID) (*Item, bool, error)

	// GetBaseTier resolves the winning price-list tier for the query:
	// highest min_quantity not exceeding the requested quantity, first
	// valid by date. ok=false means no price is available.
	GetBaseTier(ctx context.Context, q BaseTierQuery) (decimal.Decimal, bool, error)

	// GetRuleCandidates returns the company's active rules that could apply
	// to (item, price list) as of the given date. Candidates only; the
	// matcher performs final filtering and ordering.
	GetRuleCandidates(ctx context.Context, companyID, itemID, priceListID uuid.UUID, asOf time.Time) ([]PricingRule, error)

	// GetConversionFactor resolves the multiplier from one unit to another
	// within a unit group. ok=false means the conversion is unavailable.
	GetConversionFactor(ctx context.Context, unitGroupID, fromUoMID, toUoMID uuid.UUID) (decimal.Decimal, bool, error)

	// GetCategoryAncestors returns the chain (category, parent, grandparent,
	// ...) starting at categoryID. Implementations must bound depth and
	// guard against parent-pointer cycles; a cycle truncates the chain.
	GetCategoryAncestors(ctx context.Context, categoryID uuid.UUID) ([]uuid.UUID, error)
}

// ItemFilter selects items for batch operations.
type ItemFilter struct {
	ItemIDs         []uuid.UUID
	CategoryIDs     []uuid.UUID // includes items in descendant categories
	IncludeInactive bool
	Limit           int
}

// CatalogRepository provides the enumeration reads the batch layer needs.
type CatalogRepository interface {
	// ListActivePriceLists returns the company's active price lists.
	ListActivePriceLists(ctx context.Context, companyID uuid.UUID) ([]PriceList, error)

	// ListPriceLists returns specific price lists by ID.
	ListPriceLists(ctx context.Context, companyID uuid.UUID, ids []uuid.UUID) ([]PriceList, error)

	// ListItems returns items matching the filter.
	ListItems(ctx context.Context, companyID uuid.UUID, filter ItemFilter) ([]Item, error)

	// ListVariants returns active variants of an item.
	ListVariants(ctx context.Context, itemID uuid.UUID) ([]ItemVariant, error)

	// ListUnitGroupUoMs returns every unit of measure in a unit group.
	ListUnitGroupUoMs(ctx context.Context, unitGroupID uuid.UUID) ([]UoM, error)
}

// UpsertTierParams identifies the tier written by bulk apply.
type UpsertTierParams struct {
	CompanyID   uuid.UUID
	PriceListID uuid.UUID
	ItemID      uuid.UUID
	VariantID   uuid.NullUUID
	UoMID       uuid.NullUUID
	MinQuantity decimal.Decimal
	UnitPrice   decimal.Decimal
}

// Tx is an opaque transaction handle passed back into the write port.
type Tx interface{}

// PriceWriter is the write port used only by the batch layer's apply mode.
// The engine itself never writes.
type PriceWriter interface {
	// WithTx runs fn inside a single transaction. Any error from fn rolls
	// back every write made through the supplied Tx.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// UpsertTierPrice creates or updates the target tier to the given price.
	UpsertTierPrice(ctx context.Context, tx Tx, params UpsertTierParams) error
}
