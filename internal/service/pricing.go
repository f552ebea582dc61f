package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/vanir/internal/domain"
	"github.com/dukerupert/vanir/internal/pricing"
)

// defaultPreviewLimit bounds every simulation and report so batch
// wall-clock time stays predictable.
const defaultPreviewLimit = 1000

// defaultBatchWorkers bounds the parallel fan-out over items. Each item's
// calculation is independent; within one item the cascade stays sequential.
const defaultBatchWorkers = 8

// Config holds pricing service tunables. Zero values take the defaults.
type Config struct {
	// PreviewLimit caps how many items one simulation or report touches.
	PreviewLimit int

	// BatchWorkers bounds parallel fan-out over items.
	BatchWorkers int
}

// PricingService is the batch/simulation layer built on top of the engine.
// It never bypasses the engine: preview and apply differ only in whether
// derived prices are committed back through the write port.
type PricingService interface {
	// CalculatePrice runs a single engine calculation.
	CalculatePrice(ctx context.Context, req pricing.PriceRequest) (*domain.PriceResult, error)

	// CalculateAllPrices prices one item across every active price list
	// and, optionally, every unit of measure in the item's unit group.
	CalculateAllPrices(ctx context.Context, params AllPricesParams) (*AllPricesReport, error)

	// SimulatePriceChange previews how a rule or a flat percentage change
	// would move prices for the selected items. Read-only.
	SimulatePriceChange(ctx context.Context, params SimulateParams) (*Simulation, error)

	// BulkUpdatePrices always simulates first; with Apply set it writes
	// every previewed price inside a single transaction, all-or-nothing.
	BulkUpdatePrices(ctx context.Context, params BulkUpdateParams) (*BulkUpdateResult, error)

	// ComparePriceLists prices the selected items across the target lists
	// and reports lowest/highest/spread per item.
	ComparePriceLists(ctx context.Context, params CompareParams) (*PriceComparison, error)

	// GeneratePriceReport prices every item of a price list and aggregates
	// descriptive statistics.
	GeneratePriceReport(ctx context.Context, params ReportParams) (*PriceReport, error)
}

// =============================================================================
// PARAMETER AND RESULT TYPES
// =============================================================================

// AllPricesParams selects the item for a multi-list price sheet.
type AllPricesParams struct {
	ItemID      uuid.UUID
	VariantID   uuid.NullUUID
	IncludeUoMs bool
	Quantity    decimal.Decimal
	AsOf        time.Time
}

// UoMPrice is one priced cell of the sheet.
type UoMPrice struct {
	UoMID   uuid.UUID
	UoMCode string
	Result  *domain.PriceResult
}

// PriceListPrices groups one price list's cells.
type PriceListPrices struct {
	PriceListID uuid.UUID
	Code        string
	Name        string
	Prices      []UoMPrice
}

// AllPricesReport is the nested (price list x uom) sheet for one item.
type AllPricesReport struct {
	ItemID     uuid.UUID
	VariantID  uuid.NullUUID
	PriceLists []PriceListPrices
}

// SimulateParams describes a what-if price change. Exactly one of Rule or
// PercentChange must be set.
type SimulateParams struct {
	PriceListID   uuid.UUID
	ItemIDs       []uuid.UUID
	CategoryIDs   []uuid.UUID
	Rule          *domain.PricingRule
	PercentChange decimal.NullDecimal
	Quantity      decimal.Decimal
	AsOf          time.Time
	Limit         int // capped at the service preview limit; 0 means the cap
}

// SimulatedItem is one previewed delta. OldPrice is the item's current
// rules-disabled base price; NewPrice is the simulated replacement.
type SimulatedItem struct {
	ItemID       uuid.UUID
	Code         string
	Name         string
	OldPrice     decimal.Decimal
	NewPrice     decimal.Decimal
	Delta        decimal.Decimal
	DeltaPercent decimal.Decimal
}

// SimulationStats aggregates a preview.
type SimulationStats struct {
	Total     int
	Increased int
	Decreased int
	Unchanged int
	AvgOld    decimal.Decimal
	AvgNew    decimal.Decimal
	AvgDelta  decimal.Decimal
}

// Simulation is the full preview result.
type Simulation struct {
	PriceListID uuid.UUID
	Items       []SimulatedItem
	Stats       SimulationStats
}

// BulkUpdateParams drives a mass price update.
type BulkUpdateParams struct {
	SimulateParams
	Apply bool
}

// BulkUpdateResult reports the outcome of a bulk update. On transaction
// failure Success is false, Updated is 0 and the simulation is returned
// untouched so the caller can show the last successful preview.
type BulkUpdateResult struct {
	Success    bool
	Applied    bool
	Updated    int
	Message    string
	Simulation *Simulation
}

// CompareParams selects items and target price lists for comparison.
type CompareParams struct {
	ItemIDs      []uuid.UUID
	CategoryIDs  []uuid.UUID
	PriceListIDs []uuid.UUID // empty with AllLists set compares every active list
	AllLists     bool
	Quantity     decimal.Decimal
	AsOf         time.Time
}

// ListPrice is one item's final price on one list.
type ListPrice struct {
	PriceListID uuid.UUID
	Code        string
	FinalPrice  decimal.Decimal
	Found       bool
}

// ComparisonRow is the cross-list view of one item.
type ComparisonRow struct {
	ItemID        uuid.UUID
	Code          string
	Name          string
	Prices        []ListPrice
	Lowest        decimal.Decimal
	LowestListID  uuid.UUID
	Highest       decimal.Decimal
	HighestListID uuid.UUID
	Spread        decimal.Decimal
}

// PriceComparison is the full comparison report.
type PriceComparison struct {
	PriceLists []domain.PriceList
	Rows       []ComparisonRow
}

// ReportParams drives a descriptive price report for one list.
type ReportParams struct {
	PriceListID     uuid.UUID
	CategoryIDs     []uuid.UUID
	IncludeVariants bool
	IncludeInactive bool
	Quantity        decimal.Decimal
	AsOf            time.Time
}

// ReportLine is one priced (or unpriced) row of the report.
type ReportLine struct {
	ItemID     uuid.UUID
	VariantID  uuid.NullUUID
	Code       string
	Name       string
	FinalPrice decimal.Decimal
	Priced     bool
}

// ReportStats aggregates the priced lines.
type ReportStats struct {
	Priced   int
	Unpriced int
	Average  decimal.Decimal
	Min      decimal.Decimal
	Max      decimal.Decimal
}

// PriceReport is the full report.
type PriceReport struct {
	PriceListID uuid.UUID
	Lines       []ReportLine
	Stats       ReportStats
}

// =============================================================================
// IMPLEMENTATION
// =============================================================================

type pricingService struct {
	engine       *pricing.Engine
	repo         domain.PriceRepository
	catalog      domain.CatalogRepository
	writer       domain.PriceWriter
	companyID    uuid.UUID
	logger       *slog.Logger
	previewLimit int
	workers      int
}

// NewPricingService creates a company-scoped pricing service.
func NewPricingService(
	engine *pricing.Engine,
	repo domain.PriceRepository,
	catalog domain.CatalogRepository,
	writer domain.PriceWriter,
	companyID uuid.UUID,
	logger *slog.Logger,
	config Config,
) (PricingService, error) {
	if companyID == uuid.Nil {
		return nil, domain.ErrCompanyRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.PreviewLimit <= 0 {
		config.PreviewLimit = defaultPreviewLimit
	}
	if config.BatchWorkers <= 0 {
		config.BatchWorkers = defaultBatchWorkers
	}

	return &pricingService{
		engine:       engine,
		repo:         repo,
		catalog:      catalog,
		writer:       writer,
		companyID:    companyID,
		logger:       logger,
		previewLimit: config.PreviewLimit,
		workers:      config.BatchWorkers,
	}, nil
}

func (s *pricingService) CalculatePrice(ctx context.Context, req pricing.PriceRequest) (*domain.PriceResult, error) {
	if req.CompanyID == uuid.Nil {
		req.CompanyID = s.companyID
	}
	return s.engine.CalculatePrice(ctx, req)
}

// forEach fans fn out over n indexes with bounded parallelism and returns
// the first error. Workers write into index-addressed slices, so no shared
// state needs locking.
func (s *pricingService) forEach(ctx context.Context, n int, fn func(i int) error) error {
	sem := make(chan struct{}, s.workers)
	errs := make([]error, n)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			errs[i] = fn(i)
		}(i)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return domain.WrapError(err, domain.EINTERNAL, "pricing.batch", "batch cancelled")
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *pricingService) CalculateAllPrices(ctx context.Context, params AllPricesParams) (*AllPricesReport, error) {
	const op = "pricing.calculate_all"

	item, found, err := s.repo.GetItem(ctx, s.companyID, params.ItemID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load item")
	}
	if !found {
		return nil, domain.NotFound(op, "item", params.ItemID.String())
	}

	lists, err := s.catalog.ListActivePriceLists(ctx, s.companyID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list price lists")
	}

	groupUoMs, err := s.catalog.ListUnitGroupUoMs(ctx, item.UnitGroupID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list units of measure")
	}
	uoms := []domain.UoM{{ID: item.BaseUoMID}}
	if params.IncludeUoMs && len(groupUoMs) > 0 {
		uoms = groupUoMs
	} else {
		for _, u := range groupUoMs {
			if u.ID == item.BaseUoMID {
				uoms = []domain.UoM{u}
				break
			}
		}
	}

	report := &AllPricesReport{
		ItemID:     params.ItemID,
		VariantID:  params.VariantID,
		PriceLists: make([]PriceListPrices, len(lists)),
	}

	err = s.forEach(ctx, len(lists), func(i int) error {
		pl := lists[i]
		cell := PriceListPrices{
			PriceListID: pl.ID,
			Code:        pl.Code,
			Name:        pl.Name,
			Prices:      make([]UoMPrice, 0, len(uoms)),
		}
		for _, u := range uoms {
			result, err := s.engine.CalculatePrice(ctx, pricing.PriceRequest{
				CompanyID:   s.companyID,
				ItemID:      params.ItemID,
				VariantID:   params.VariantID,
				PriceListID: pl.ID,
				UoMID:       uuid.NullUUID{UUID: u.ID, Valid: true},
				Quantity:    params.Quantity,
				AsOf:        params.AsOf,
				ApplyRules:  true,
			})
			if err != nil {
				return err
			}
			cell.Prices = append(cell.Prices, UoMPrice{UoMID: u.ID, UoMCode: u.Code, Result: result})
		}
		report.PriceLists[i] = cell
		return nil
	})
	if err != nil {
		return nil, err
	}

	return report, nil
}

func (s *pricingService) SimulatePriceChange(ctx context.Context, params SimulateParams) (*Simulation, error) {
	const op = "pricing.simulate"

	if params.Rule == nil && !params.PercentChange.Valid {
		return nil, ErrMissingChange
	}
	if params.Rule != nil && params.PercentChange.Valid {
		return nil, ErrAmbiguousChange
	}
	if len(params.ItemIDs) == 0 && len(params.CategoryIDs) == 0 {
		return nil, ErrNoSelection
	}

	limit := params.Limit
	if limit <= 0 || limit > s.previewLimit {
		limit = s.previewLimit
	}

	items, err := s.catalog.ListItems(ctx, s.companyID, domain.ItemFilter{
		ItemIDs:     params.ItemIDs,
		CategoryIDs: params.CategoryIDs,
		Limit:       limit,
	})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list items")
	}

	rows := make([]*SimulatedItem, len(items))
	err = s.forEach(ctx, len(items), func(i int) error {
		it := items[i]
		// "Old" is the pure base price with the rule cascade disabled, so
		// the preview is not distorted by rules already in force.
		current, err := s.engine.CalculatePrice(ctx, pricing.PriceRequest{
			CompanyID:   s.companyID,
			ItemID:      it.ID,
			PriceListID: params.PriceListID,
			Quantity:    params.Quantity,
			AsOf:        params.AsOf,
			ApplyRules:  false,
		})
		if err != nil {
			return err
		}
		if !current.BasePriceFound {
			// Unpriced items have nothing to preview.
			return nil
		}

		old := current.FinalPrice
		newPrice := s.simulatedPrice(old, params)
		delta := newPrice.Sub(old)
		pct := decimal.Zero
		if old.IsPositive() {
			pct = delta.Div(old).Mul(decimal.NewFromInt(100))
		}
		rows[i] = &SimulatedItem{
			ItemID:       it.ID,
			Code:         it.Code,
			Name:         it.Name,
			OldPrice:     old,
			NewPrice:     newPrice,
			Delta:        delta,
			DeltaPercent: pct,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sim := &Simulation{PriceListID: params.PriceListID}
	var sumOld, sumNew, sumDelta decimal.Decimal
	for _, row := range rows {
		if row == nil {
			continue
		}
		sim.Items = append(sim.Items, *row)
		switch {
		case row.Delta.IsPositive():
			sim.Stats.Increased++
		case row.Delta.IsNegative():
			sim.Stats.Decreased++
		default:
			sim.Stats.Unchanged++
		}
		sumOld = sumOld.Add(row.OldPrice)
		sumNew = sumNew.Add(row.NewPrice)
		sumDelta = sumDelta.Add(row.Delta)
	}
	sim.Stats.Total = len(sim.Items)
	if sim.Stats.Total > 0 {
		n := decimal.NewFromInt(int64(sim.Stats.Total))
		sim.Stats.AvgOld = sumOld.DivRound(n, domain.FinalPricePlaces)
		sim.Stats.AvgNew = sumNew.DivRound(n, domain.FinalPricePlaces)
		sim.Stats.AvgDelta = sumDelta.DivRound(n, domain.FinalPricePlaces)
	}

	return sim, nil
}

// simulatedPrice derives the "new" side of a preview from either the
// supplied rule or a flat percentage multiplier.
func (s *pricingService) simulatedPrice(old decimal.Decimal, params SimulateParams) decimal.Decimal {
	raw := old
	if params.Rule != nil {
		raw = params.Rule.Compute(old, params.Quantity, decimal.Zero)
	} else if params.PercentChange.Valid {
		hundred := decimal.NewFromInt(100)
		raw = old.Mul(hundred.Add(params.PercentChange.Decimal)).Div(hundred)
	}
	return domain.RoundFinal(raw)
}

func (s *pricingService) BulkUpdatePrices(ctx context.Context, params BulkUpdateParams) (*BulkUpdateResult, error) {
	sim, err := s.SimulatePriceChange(ctx, params.SimulateParams)
	if err != nil {
		return nil, err
	}

	result := &BulkUpdateResult{
		Success:    true,
		Applied:    params.Apply,
		Simulation: sim,
	}
	if !params.Apply {
		return result, nil
	}

	err = s.writer.WithTx(ctx, func(tx domain.Tx) error {
		for _, row := range sim.Items {
			// Write at the item's base unit so the tier replaces the one
			// the calculation reads, not a parallel row it never sees.
			item, found, err := s.repo.GetItem(ctx, s.companyID, row.ItemID)
			if err != nil {
				return fmt.Errorf("item %s: %w", row.Code, err)
			}
			if !found {
				return fmt.Errorf("item %s: no longer exists", row.Code)
			}
			err = s.writer.UpsertTierPrice(ctx, tx, domain.UpsertTierParams{
				CompanyID:   s.companyID,
				PriceListID: params.PriceListID,
				ItemID:      row.ItemID,
				UoMID:       uuid.NullUUID{UUID: item.BaseUoMID, Valid: true},
				MinQuantity: decimal.Zero,
				UnitPrice:   row.NewPrice,
			})
			if err != nil {
				return fmt.Errorf("item %s: %w", row.Code, err)
			}
		}
		return nil
	})
	if err != nil {
		// All-or-nothing: the transaction rolled back, nothing was applied.
		s.logger.Error("bulk price update failed",
			"price_list_id", params.PriceListID.String(),
			"items", len(sim.Items),
			"error", err,
		)
		result.Success = false
		result.Updated = 0
		result.Message = fmt.Sprintf("bulk update aborted, no prices changed: %v", err)
		return result, nil
	}

	result.Updated = len(sim.Items)
	s.logger.Info("bulk price update applied",
		"price_list_id", params.PriceListID.String(),
		"updated", result.Updated,
	)
	return result, nil
}

func (s *pricingService) ComparePriceLists(ctx context.Context, params CompareParams) (*PriceComparison, error) {
	const op = "pricing.compare"

	if len(params.ItemIDs) == 0 && len(params.CategoryIDs) == 0 {
		return nil, ErrNoSelection
	}

	var lists []domain.PriceList
	var err error
	if params.AllLists || len(params.PriceListIDs) == 0 {
		lists, err = s.catalog.ListActivePriceLists(ctx, s.companyID)
	} else {
		lists, err = s.catalog.ListPriceLists(ctx, s.companyID, params.PriceListIDs)
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list price lists")
	}
	if len(lists) == 0 {
		return nil, ErrNoPriceLists
	}

	items, err := s.catalog.ListItems(ctx, s.companyID, domain.ItemFilter{
		ItemIDs:     params.ItemIDs,
		CategoryIDs: params.CategoryIDs,
		Limit:       s.previewLimit,
	})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list items")
	}

	comparison := &PriceComparison{
		PriceLists: lists,
		Rows:       make([]ComparisonRow, len(items)),
	}

	err = s.forEach(ctx, len(items), func(i int) error {
		it := items[i]
		row := ComparisonRow{
			ItemID: it.ID,
			Code:   it.Code,
			Name:   it.Name,
			Prices: make([]ListPrice, 0, len(lists)),
		}
		for _, pl := range lists {
			result, err := s.engine.CalculatePrice(ctx, pricing.PriceRequest{
				CompanyID:   s.companyID,
				ItemID:      it.ID,
				PriceListID: pl.ID,
				Quantity:    params.Quantity,
				AsOf:        params.AsOf,
				ApplyRules:  true,
			})
			if err != nil {
				return err
			}
			lp := ListPrice{
				PriceListID: pl.ID,
				Code:        pl.Code,
				FinalPrice:  result.FinalPrice,
				Found:       result.BasePriceFound,
			}
			row.Prices = append(row.Prices, lp)
			if !lp.Found {
				continue
			}
			if row.LowestListID == uuid.Nil || lp.FinalPrice.LessThan(row.Lowest) {
				row.Lowest = lp.FinalPrice
				row.LowestListID = pl.ID
			}
			if lp.FinalPrice.GreaterThan(row.Highest) {
				row.Highest = lp.FinalPrice
				row.HighestListID = pl.ID
			}
		}
		row.Spread = row.Highest.Sub(row.Lowest)
		comparison.Rows[i] = row
		return nil
	})
	if err != nil {
		return nil, err
	}

	return comparison, nil
}

func (s *pricingService) GeneratePriceReport(ctx context.Context, params ReportParams) (*PriceReport, error) {
	const op = "pricing.report"

	items, err := s.catalog.ListItems(ctx, s.companyID, domain.ItemFilter{
		CategoryIDs:     params.CategoryIDs,
		IncludeInactive: params.IncludeInactive,
		Limit:           s.previewLimit,
	})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list items")
	}

	type lineTarget struct {
		item    domain.Item
		variant uuid.NullUUID
		code    string
		name    string
	}
	targets := make([]lineTarget, 0, len(items))
	for _, it := range items {
		targets = append(targets, lineTarget{item: it, code: it.Code, name: it.Name})
		if !params.IncludeVariants {
			continue
		}
		variants, err := s.catalog.ListVariants(ctx, it.ID)
		if err != nil {
			return nil, domain.Internal(err, op, "failed to list variants")
		}
		for _, v := range variants {
			targets = append(targets, lineTarget{
				item:    it,
				variant: uuid.NullUUID{UUID: v.ID, Valid: true},
				code:    v.Code,
				name:    fmt.Sprintf("%s / %s", it.Name, v.Name),
			})
		}
	}

	report := &PriceReport{
		PriceListID: params.PriceListID,
		Lines:       make([]ReportLine, len(targets)),
	}

	err = s.forEach(ctx, len(targets), func(i int) error {
		t := targets[i]
		result, err := s.engine.CalculatePrice(ctx, pricing.PriceRequest{
			CompanyID:   s.companyID,
			ItemID:      t.item.ID,
			VariantID:   t.variant,
			PriceListID: params.PriceListID,
			Quantity:    params.Quantity,
			AsOf:        params.AsOf,
			ApplyRules:  true,
		})
		if err != nil {
			return err
		}
		report.Lines[i] = ReportLine{
			ItemID:     t.item.ID,
			VariantID:  t.variant,
			Code:       t.code,
			Name:       t.name,
			FinalPrice: result.FinalPrice,
			Priced:     result.BasePriceFound,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var sum decimal.Decimal
	for _, line := range report.Lines {
		if !line.Priced {
			report.Stats.Unpriced++
			continue
		}
		if report.Stats.Priced == 0 {
			report.Stats.Min = line.FinalPrice
			report.Stats.Max = line.FinalPrice
		} else {
			if line.FinalPrice.LessThan(report.Stats.Min) {
				report.Stats.Min = line.FinalPrice
			}
			if line.FinalPrice.GreaterThan(report.Stats.Max) {
				report.Stats.Max = line.FinalPrice
			}
		}
		report.Stats.Priced++
		sum = sum.Add(line.FinalPrice)
	}
	if report.Stats.Priced > 0 {
		report.Stats.Average = sum.DivRound(decimal.NewFromInt(int64(report.Stats.Priced)), domain.FinalPricePlaces)
	}

	return report, nil
}
