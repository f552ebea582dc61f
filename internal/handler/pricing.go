package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/vanir/internal/domain"
	"github.com/dukerupert/vanir/internal/pricing"
	"github.com/dukerupert/vanir/internal/service"
)

// PricingHandler exposes the pricing service over JSON HTTP.
type PricingHandler struct {
	service  service.PricingService
	validate *validator.Validate
	logger   *slog.Logger
}

func NewPricingHandler(svc service.PricingService, logger *slog.Logger) *PricingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PricingHandler{
		service:  svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("handler", "pricing"),
	}
}

// decodeAndValidate decodes the request body into v and runs struct validation.
func (h *PricingHandler) decodeAndValidate(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.Invalid("handler.decode", "Invalid request body")
	}
	if err := h.validate.Struct(v); err != nil {
		return &domain.Error{Code: domain.EINVALID, Message: err.Error()}
	}
	return nil
}

func parseUUID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, domain.Invalid("handler.parse", "Invalid UUID: "+s)
	}
	return id, nil
}

func parseOptionalUUID(s string) (uuid.NullUUID, error) {
	if s == "" {
		return uuid.NullUUID{}, nil
	}
	id, err := parseUUID(s)
	if err != nil {
		return uuid.NullUUID{}, err
	}
	return uuid.NullUUID{UUID: id, Valid: true}, nil
}

func parseUUIDs(in []string) ([]uuid.UUID, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]uuid.UUID, 0, len(in))
	for _, s := range in {
		id, err := parseUUID(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func parseAsOf(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, domain.Invalid("handler.parse", "Invalid as_of timestamp, expected RFC 3339")
	}
	return t, nil
}

// =============================================================================
// CALCULATE
// =============================================================================

type calculateRequest struct {
	ItemID      string          `json:"item_id" validate:"required,uuid"`
	VariantID   string          `json:"variant_id" validate:"omitempty,uuid"`
	PriceListID string          `json:"price_list_id" validate:"required,uuid"`
	CustomerID  string          `json:"customer_id" validate:"omitempty,uuid"`
	UoMID       string          `json:"uom_id" validate:"omitempty,uuid"`
	Quantity    decimal.Decimal `json:"quantity"`
	AsOf        string          `json:"as_of"`
	ApplyRules  *bool           `json:"apply_rules"`
	CostPrice   decimal.Decimal `json:"cost_price"`
}

func (in calculateRequest) toPriceRequest() (pricing.PriceRequest, error) {
	var req pricing.PriceRequest
	var err error

	if req.ItemID, err = parseUUID(in.ItemID); err != nil {
		return req, err
	}
	if req.PriceListID, err = parseUUID(in.PriceListID); err != nil {
		return req, err
	}
	if req.VariantID, err = parseOptionalUUID(in.VariantID); err != nil {
		return req, err
	}
	if req.CustomerID, err = parseOptionalUUID(in.CustomerID); err != nil {
		return req, err
	}
	if req.UoMID, err = parseOptionalUUID(in.UoMID); err != nil {
		return req, err
	}
	if req.AsOf, err = parseAsOf(in.AsOf); err != nil {
		return req, err
	}
	req.Quantity = in.Quantity
	req.CostPrice = in.CostPrice
	req.ApplyRules = in.ApplyRules == nil || *in.ApplyRules
	return req, nil
}

// HandleCalculate computes one auditable price.
// POST /api/v1/prices/calculate
func (h *PricingHandler) HandleCalculate(w http.ResponseWriter, r *http.Request) {
	var in calculateRequest
	if err := h.decodeAndValidate(r, &in); err != nil {
		ErrorResponse(w, r, err)
		return
	}

	req, err := in.toPriceRequest()
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	result, err := h.service.CalculatePrice(r.Context(), req)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, result.Export())
}

// =============================================================================
// ALL PRICES FOR ONE ITEM
// =============================================================================

// HandleItemPrices returns the (price list x uom) price sheet for one item.
// GET /api/v1/items/{id}/prices
func (h *PricingHandler) HandleItemPrices(w http.ResponseWriter, r *http.Request) {
	itemID, err := parseUUID(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	params := service.AllPricesParams{ItemID: itemID}

	q := r.URL.Query()
	if params.VariantID, err = parseOptionalUUID(q.Get("variant_id")); err != nil {
		ErrorResponse(w, r, err)
		return
	}
	params.IncludeUoMs = q.Get("include_uoms") == "true"
	if s := q.Get("quantity"); s != "" {
		if params.Quantity, err = decimal.NewFromString(s); err != nil {
			ErrorResponse(w, r, domain.Invalid("handler.item_prices", "Invalid quantity"))
			return
		}
	}
	if params.AsOf, err = parseAsOf(q.Get("as_of")); err != nil {
		ErrorResponse(w, r, err)
		return
	}

	report, err := h.service.CalculateAllPrices(r.Context(), params)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, exportAllPrices(report))
}

func exportAllPrices(r *service.AllPricesReport) map[string]interface{} {
	lists := make([]map[string]interface{}, 0, len(r.PriceLists))
	for _, pl := range r.PriceLists {
		prices := make([]map[string]interface{}, 0, len(pl.Prices))
		for _, p := range pl.Prices {
			prices = append(prices, map[string]interface{}{
				"uom_id":   p.UoMID,
				"uom_code": p.UoMCode,
				"result":   p.Result.Export(),
			})
		}
		lists = append(lists, map[string]interface{}{
			"price_list_id": pl.PriceListID,
			"code":          pl.Code,
			"name":          pl.Name,
			"prices":        prices,
		})
	}
	out := map[string]interface{}{
		"item_id":     r.ItemID,
		"price_lists": lists,
	}
	if r.VariantID.Valid {
		out["variant_id"] = r.VariantID.UUID
	}
	return out
}

// =============================================================================
// SIMULATE / BULK UPDATE
// =============================================================================

type ruleRequest struct {
	Code          string                `json:"code"`
	Name          string                `json:"name"`
	Kind          string                `json:"kind" validate:"required,oneof=discount_percentage markup_percentage discount_amount markup_amount quantity_tiered formula seasonal"`
	Percent       decimal.Decimal       `json:"percent"`
	Amount        decimal.Decimal       `json:"amount"`
	MarginPercent decimal.Decimal       `json:"margin_percent"`
	QuantityTiers []domain.QuantityTier `json:"quantity_tiers"`
}

func (in *ruleRequest) toRule() *domain.PricingRule {
	if in == nil {
		return nil
	}
	return &domain.PricingRule{
		Code:            in.Code,
		Name:            in.Name,
		Kind:            domain.RuleKind(in.Kind),
		Percent:         in.Percent,
		Amount:          in.Amount,
		MarginPercent:   in.MarginPercent,
		QuantityTiers:   in.QuantityTiers,
		ApplyToAllItems: true,
		IsActive:        true,
	}
}

type simulateRequest struct {
	PriceListID   string           `json:"price_list_id" validate:"required,uuid"`
	ItemIDs       []string         `json:"item_ids" validate:"dive,uuid"`
	CategoryIDs   []string         `json:"category_ids" validate:"dive,uuid"`
	Rule          *ruleRequest     `json:"rule"`
	PercentChange *decimal.Decimal `json:"percent_change"`
	Quantity      decimal.Decimal  `json:"quantity"`
	AsOf          string           `json:"as_of"`
	Limit         int              `json:"limit" validate:"min=0"`
}

func (in simulateRequest) toParams() (service.SimulateParams, error) {
	var params service.SimulateParams
	var err error

	if params.PriceListID, err = parseUUID(in.PriceListID); err != nil {
		return params, err
	}
	if params.ItemIDs, err = parseUUIDs(in.ItemIDs); err != nil {
		return params, err
	}
	if params.CategoryIDs, err = parseUUIDs(in.CategoryIDs); err != nil {
		return params, err
	}
	if params.AsOf, err = parseAsOf(in.AsOf); err != nil {
		return params, err
	}
	params.Rule = in.Rule.toRule()
	if in.PercentChange != nil {
		params.PercentChange = decimal.NullDecimal{Decimal: *in.PercentChange, Valid: true}
	}
	params.Quantity = in.Quantity
	params.Limit = in.Limit
	return params, nil
}

// HandleSimulate previews a price change without persisting anything.
// POST /api/v1/prices/simulate
func (h *PricingHandler) HandleSimulate(w http.ResponseWriter, r *http.Request) {
	var in simulateRequest
	if err := h.decodeAndValidate(r, &in); err != nil {
		ErrorResponse(w, r, err)
		return
	}

	params, err := in.toParams()
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	sim, err := h.service.SimulatePriceChange(r.Context(), params)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, exportSimulation(sim))
}

type bulkUpdateRequest struct {
	simulateRequest
	Apply bool `json:"apply"`
}

// HandleBulkUpdate previews and optionally applies a mass price update.
// POST /api/v1/prices/bulk-update
func (h *PricingHandler) HandleBulkUpdate(w http.ResponseWriter, r *http.Request) {
	var in bulkUpdateRequest
	if err := h.decodeAndValidate(r, &in); err != nil {
		ErrorResponse(w, r, err)
		return
	}

	simParams, err := in.toParams()
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	result, err := h.service.BulkUpdatePrices(r.Context(), service.BulkUpdateParams{
		SimulateParams: simParams,
		Apply:          in.Apply,
	})
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	out := map[string]interface{}{
		"success": result.Success,
		"applied": result.Applied,
		"updated": result.Updated,
		"message": result.Message,
	}
	if result.Simulation != nil {
		out["simulation"] = exportSimulation(result.Simulation)
	}
	RespondJSON(w, http.StatusOK, out)
}

func exportSimulation(sim *service.Simulation) map[string]interface{} {
	items := make([]map[string]interface{}, 0, len(sim.Items))
	for _, it := range sim.Items {
		items = append(items, map[string]interface{}{
			"item_id":       it.ItemID,
			"code":          it.Code,
			"name":          it.Name,
			"old_price":     it.OldPrice.String(),
			"new_price":     it.NewPrice.String(),
			"delta":         it.Delta.String(),
			"delta_percent": it.DeltaPercent.String(),
		})
	}
	return map[string]interface{}{
		"price_list_id": sim.PriceListID,
		"items":         items,
		"stats": map[string]interface{}{
			"total":     sim.Stats.Total,
			"increased": sim.Stats.Increased,
			"decreased": sim.Stats.Decreased,
			"unchanged": sim.Stats.Unchanged,
			"avg_old":   sim.Stats.AvgOld.String(),
			"avg_new":   sim.Stats.AvgNew.String(),
			"avg_delta": sim.Stats.AvgDelta.String(),
		},
	}
}

// =============================================================================
// COMPARE
// =============================================================================

type compareRequest struct {
	ItemIDs      []string        `json:"item_ids" validate:"dive,uuid"`
	CategoryIDs  []string        `json:"category_ids" validate:"dive,uuid"`
	PriceListIDs []string        `json:"price_list_ids" validate:"dive,uuid"`
	AllLists     bool            `json:"all_lists"`
	Quantity     decimal.Decimal `json:"quantity"`
	AsOf         string          `json:"as_of"`
}

// HandleCompare prices the selected items across several price lists.
// POST /api/v1/prices/compare
func (h *PricingHandler) HandleCompare(w http.ResponseWriter, r *http.Request) {
	var in compareRequest
	if err := h.decodeAndValidate(r, &in); err != nil {
		ErrorResponse(w, r, err)
		return
	}

	var params service.CompareParams
	var err error
	if params.ItemIDs, err = parseUUIDs(in.ItemIDs); err != nil {
		ErrorResponse(w, r, err)
		return
	}
	if params.CategoryIDs, err = parseUUIDs(in.CategoryIDs); err != nil {
		ErrorResponse(w, r, err)
		return
	}
	if params.PriceListIDs, err = parseUUIDs(in.PriceListIDs); err != nil {
		ErrorResponse(w, r, err)
		return
	}
	if params.AsOf, err = parseAsOf(in.AsOf); err != nil {
		ErrorResponse(w, r, err)
		return
	}
	params.AllLists = in.AllLists
	params.Quantity = in.Quantity

	cmp, err := h.service.ComparePriceLists(r.Context(), params)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, exportComparison(cmp))
}

func exportComparison(cmp *service.PriceComparison) map[string]interface{} {
	lists := make([]map[string]interface{}, 0, len(cmp.PriceLists))
	for _, pl := range cmp.PriceLists {
		lists = append(lists, map[string]interface{}{
			"price_list_id": pl.ID,
			"code":          pl.Code,
			"name":          pl.Name,
		})
	}
	rows := make([]map[string]interface{}, 0, len(cmp.Rows))
	for _, row := range cmp.Rows {
		prices := make([]map[string]interface{}, 0, len(row.Prices))
		for _, lp := range row.Prices {
			prices = append(prices, map[string]interface{}{
				"price_list_id": lp.PriceListID,
				"code":          lp.Code,
				"final_price":   lp.FinalPrice.String(),
				"found":         lp.Found,
			})
		}
		rows = append(rows, map[string]interface{}{
			"item_id":         row.ItemID,
			"code":            row.Code,
			"name":            row.Name,
			"prices":          prices,
			"lowest":          row.Lowest.String(),
			"lowest_list_id":  row.LowestListID,
			"highest":         row.Highest.String(),
			"highest_list_id": row.HighestListID,
			"spread":          row.Spread.String(),
		})
	}
	return map[string]interface{}{
		"price_lists": lists,
		"rows":        rows,
	}
}

// =============================================================================
// REPORT
// =============================================================================

// HandleReport builds a descriptive price report for one price list.
// GET /api/v1/prices/report?price_list_id=...
func (h *PricingHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var params service.ReportParams
	var err error
	if params.PriceListID, err = parseUUID(q.Get("price_list_id")); err != nil {
		ErrorResponse(w, r, domain.Invalid("handler.report", "Missing or invalid price_list_id"))
		return
	}
	if ids := q["category_id"]; len(ids) > 0 {
		if params.CategoryIDs, err = parseUUIDs(ids); err != nil {
			ErrorResponse(w, r, err)
			return
		}
	}
	params.IncludeVariants = q.Get("include_variants") == "true"
	params.IncludeInactive = q.Get("include_inactive") == "true"
	if s := q.Get("quantity"); s != "" {
		if params.Quantity, err = decimal.NewFromString(s); err != nil {
			ErrorResponse(w, r, domain.Invalid("handler.report", "Invalid quantity"))
			return
		}
	}
	if params.AsOf, err = parseAsOf(q.Get("as_of")); err != nil {
		ErrorResponse(w, r, err)
		return
	}

	report, err := h.service.GeneratePriceReport(r.Context(), params)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, exportReport(report))
}

func exportReport(rep *service.PriceReport) map[string]interface{} {
	lines := make([]map[string]interface{}, 0, len(rep.Lines))
	for _, ln := range rep.Lines {
		line := map[string]interface{}{
			"item_id":     ln.ItemID,
			"code":        ln.Code,
			"name":        ln.Name,
			"final_price": ln.FinalPrice.String(),
			"priced":      ln.Priced,
		}
		if ln.VariantID.Valid {
			line["variant_id"] = ln.VariantID.UUID
		}
		lines = append(lines, line)
	}
	return map[string]interface{}{
		"price_list_id": rep.PriceListID,
		"lines":         lines,
		"stats": map[string]interface{}{
			"priced":   rep.Stats.Priced,
			"unpriced": rep.Stats.Unpriced,
			"average":  rep.Stats.Average.String(),
			"min":      rep.Stats.Min.String(),
			"max":      rep.Stats.Max.String(),
		},
	}
}
