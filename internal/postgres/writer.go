package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dukerupert/vanir/internal/domain"
)

// WithTx runs fn inside a single transaction. Any error from fn (or from
// commit) rolls back every write made through the supplied handle, so a
// bulk apply is all-or-nothing.
func (s *Store) WithTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// UpsertTierPrice creates or updates the target price-list tier. The tier
// identity is (price list, item, variant, uom, min quantity); only the unit
// price changes on conflict.
func (s *Store) UpsertTierPrice(ctx context.Context, tx domain.Tx, params domain.UpsertTierParams) error {
	pgxTx, ok := tx.(pgx.Tx)
	if !ok {
		return fmt.Errorf("upsert tier: transaction handle is not a pgx.Tx")
	}

	const q = `
		INSERT INTO price_list_tiers
			(company_id, price_list_id, item_id, variant_id, uom_id,
			 min_quantity, unit_price, is_active)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, TRUE)
		ON CONFLICT (price_list_id, item_id,
		             COALESCE(variant_id, '00000000-0000-0000-0000-000000000000'),
		             COALESCE(uom_id, '00000000-0000-0000-0000-000000000000'),
		             min_quantity)
		DO UPDATE SET unit_price = EXCLUDED.unit_price,
		              is_active  = TRUE,
		              updated_at = now()`

	_, err := pgxTx.Exec(ctx, q,
		params.CompanyID, params.PriceListID, params.ItemID,
		uuidArg(params.VariantID), uuidArg(params.UoMID),
		numericArg(params.MinQuantity), numericArg(params.UnitPrice),
	)
	if err != nil {
		return fmt.Errorf("upsert tier price: %w", err)
	}
	return nil
}
