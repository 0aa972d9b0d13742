package postgres

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"tradstry/internal/domain/holding"
)

type HoldingRepository struct {
	db Querier
}

func NewHoldingRepository(db Querier) *HoldingRepository {
	return &HoldingRepository{db: db}
}

const holdingColumns = `id, account_id, symbol, quantity, average_cost, current_price,
	market_value, currency, created_at, updated_at`

func scanHolding(row Row) (*holding.Holding, error) {
	var h holding.Holding
	err := row.Scan(
		&h.ID, &h.AccountID, &h.Symbol, &h.Quantity, &h.AverageCost, &h.CurrentPrice,
		&h.MarketValue, &h.Currency, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *HoldingRepository) Upsert(ctx context.Context, params holding.UpsertParams) (*holding.Holding, error) {
	query := `
		INSERT INTO holdings (account_id, symbol, quantity, average_cost, current_price, market_value, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account_id, symbol) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			average_cost = EXCLUDED.average_cost,
			current_price = EXCLUDED.current_price,
			market_value = EXCLUDED.market_value,
			currency = EXCLUDED.currency,
			updated_at = NOW()
		RETURNING ` + holdingColumns

	h, err := scanHolding(r.db.QueryRowContext(ctx, query,
		params.AccountID, params.Symbol, params.Quantity, params.AverageCost,
		params.CurrentPrice, params.MarketValue, params.Currency,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert holding: %w", err)
	}
	return h, nil
}

// DeleteExcept drops positions the latest snapshot no longer reports. An
// empty keep list clears the account.
func (r *HoldingRepository) DeleteExcept(ctx context.Context, accountID string, keepSymbols []string) (int64, error) {
	if keepSymbols == nil {
		keepSymbols = []string{}
	}
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM holdings WHERE account_id = $1 AND NOT (symbol = ANY($2))`,
		accountID, pq.Array(keepSymbols),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale holdings: %w", err)
	}
	return result.RowsAffected()
}

func (r *HoldingRepository) ListByAccountID(ctx context.Context, accountID string) ([]*holding.Holding, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+holdingColumns+` FROM holdings WHERE account_id = $1 ORDER BY symbol`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}
	defer rows.Close()

	var holdings []*holding.Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}
