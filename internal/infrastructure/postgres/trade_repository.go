package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"tradstry/internal/domain/trade"
)

// TradeRepository implements trade.Repository. Fingerprint plus lineage
// uniqueness is enforced by the partial index uniq_trades_fingerprint.
type TradeRepository struct {
	db Querier
}

func NewTradeRepository(db Querier) *TradeRepository {
	return &TradeRepository{db: db}
}

const tradeColumns = `id, user_id, symbol, trade_type, entry_price, exit_price, quantity,
	entry_date, exit_date, commissions, brokerage_name, currency, source,
	created_at, updated_at, deleted_at, entry_transaction_id, exit_transaction_id`

func scanTrade(row Row) (*trade.Trade, error) {
	var t trade.Trade
	var exitDate, deletedAt sql.NullTime
	var entryTx, exitTx sql.NullString

	err := row.Scan(
		&t.ID, &t.UserID, &t.Symbol, &t.TradeType, &t.EntryPrice, &t.ExitPrice, &t.Quantity,
		&t.EntryDate, &exitDate, &t.Commissions, &t.BrokerageName, &t.Currency, &t.Source,
		&t.CreatedAt, &t.UpdatedAt, &deletedAt, &entryTx, &exitTx,
	)
	if err != nil {
		return nil, err
	}

	if exitDate.Valid {
		t.ExitDate = &exitDate.Time
	}
	if deletedAt.Valid {
		t.DeletedAt = &deletedAt.Time
	}
	t.EntryTransactionID = entryTx.String
	t.ExitTransactionID = exitTx.String
	return &t, nil
}

// Create inserts the trade, returning trade.ErrDuplicate instead of a row
// when a trade with the same fingerprint and lineage exists.
func (r *TradeRepository) Create(ctx context.Context, params trade.CreateParams) (*trade.Trade, error) {
	query := `
		INSERT INTO trades (
			user_id, symbol, trade_type, entry_price, exit_price, quantity,
			entry_date, exit_date, commissions, brokerage_name, currency, source,
			entry_transaction_id, exit_transaction_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT DO NOTHING
		RETURNING ` + tradeColumns

	t, err := scanTrade(r.db.QueryRowContext(ctx, query,
		params.UserID, params.Symbol, params.TradeType, params.EntryPrice, params.ExitPrice,
		params.Quantity, params.EntryDate, params.ExitDate, params.Commissions,
		params.BrokerageName, params.Currency, params.Source,
		nullString(params.EntryTransactionID), nullString(params.ExitTransactionID),
	))
	if err == sql.ErrNoRows || isUniqueViolation(err) {
		return nil, trade.ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create trade: %w", err)
	}
	return t, nil
}

func (r *TradeRepository) GetByID(ctx context.Context, id string) (*trade.Trade, error) {
	t, err := scanTrade(r.db.QueryRowContext(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, trade.ErrTradeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade: %w", err)
	}
	return t, nil
}

func (r *TradeRepository) FindByFingerprint(ctx context.Context, userID int64, fp trade.Fingerprint) (*trade.Trade, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE user_id = $1
		  AND symbol = $2
		  AND entry_date = $3
		  AND entry_price = $4
		  AND quantity = $5
		  AND brokerage_name = $6
		  AND exit_date IS NOT DISTINCT FROM $7
		  AND exit_price IS NOT DISTINCT FROM $8
		  AND deleted_at IS NULL
		LIMIT 1
	`

	t, err := scanTrade(r.db.QueryRowContext(ctx, query,
		userID, fp.Symbol, fp.EntryDate, fp.EntryPrice, fp.Quantity, fp.BrokerageName,
		fp.ExitDate, fp.ExitPrice,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find trade by fingerprint: %w", err)
	}
	return t, nil
}

func (r *TradeRepository) LinkedTransactionIDs(ctx context.Context, userID int64, txIDs []string) ([]string, error) {
	query := `
		SELECT id FROM (
			SELECT entry_transaction_id AS id FROM trades
			WHERE user_id = $1 AND deleted_at IS NULL AND entry_transaction_id = ANY($2::uuid[])
			UNION
			SELECT exit_transaction_id FROM trades
			WHERE user_id = $1 AND deleted_at IS NULL AND exit_transaction_id = ANY($2::uuid[])
		) linked
	`

	ids, err := queryIDs(ctx, r.db, query, userID, pq.Array(txIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list linked transactions: %w", err)
	}
	return ids, nil
}

func (r *TradeRepository) ListOpenPositions(ctx context.Context, userID int64) ([]*trade.Trade, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE user_id = $1 AND exit_date IS NULL AND deleted_at IS NULL
		ORDER BY entry_date, created_at, id
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open positions: %w", err)
	}
	defer rows.Close()

	var trades []*trade.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	return trades, nil
}

func (r *TradeRepository) ReducePosition(ctx context.Context, id string, quantity, commissions decimal.Decimal) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE trades
		SET quantity = $2, commissions = $3, updated_at = NOW()
		WHERE id = $1 AND exit_date IS NULL AND deleted_at IS NULL`,
		id, quantity, commissions,
	)
	if err != nil {
		return fmt.Errorf("failed to reduce position: %w", err)
	}
	return expectRow(result, trade.ErrTradeNotFound)
}

func (r *TradeRepository) SoftDelete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE trades SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to delete trade: %w", err)
	}
	return expectRow(result, trade.ErrTradeNotFound)
}
