package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"tradstry/internal/domain/transaction"
)

// TransactionRepository stores raw brokerage transactions.
type TransactionRepository struct {
	db Querier
}

func NewTransactionRepository(db Querier) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Insert writes the transaction with the owning user copied from its
// connection. A repeated (account, external id) pair is a no-op.
func (r *TransactionRepository) Insert(ctx context.Context, params transaction.IngestParams) (bool, error) {
	var underlying, optionType sql.NullString
	var strike decimal.NullDecimal
	var expiration sql.NullTime
	if opt := params.Option; opt != nil {
		underlying = nullString(opt.Underlying)
		optionType = sql.NullString{String: opt.OptionType, Valid: true}
		strike = decimal.NullDecimal{Decimal: opt.Strike, Valid: true}
		expiration = sql.NullTime{Time: opt.Expiration, Valid: !opt.Expiration.IsZero()}
	}

	var payload []byte
	if len(params.RawPayload) > 0 {
		payload = params.RawPayload
	}

	query := `
		INSERT INTO raw_transactions (
			account_id, user_id, external_transaction_id, symbol, side, quantity, price, fee,
			currency, trade_date, settlement_date, option_underlying, option_type,
			option_strike, option_expiration, raw_payload
		)
		SELECT a.id, c.user_id, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		FROM brokerage_accounts a
		JOIN connections c ON c.id = a.connection_id
		WHERE a.id = $1
		ON CONFLICT (account_id, external_transaction_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		params.AccountID, params.ExternalTransactionID, params.Symbol, params.Side,
		params.Quantity, params.Price, params.Fee, params.Currency, params.TradeDate,
		params.SettlementDate, underlying, optionType, strike, expiration, payload,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert raw transaction: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return n > 0, nil
}

// ListUntransformedByUserID returns the backlog in insertion order; the
// matcher imposes its own ordering.
func (r *TransactionRepository) ListUntransformedByUserID(ctx context.Context, userID int64) ([]*transaction.RawTransaction, error) {
	query := `
		SELECT t.id, t.account_id, t.user_id, t.external_transaction_id, t.symbol, t.side,
		       t.quantity, t.price, t.fee, t.currency, t.trade_date, t.settlement_date,
		       t.option_underlying, t.option_type, t.option_strike, t.option_expiration,
		       c.brokerage, t.raw_payload, t.transformed, t.created_at
		FROM raw_transactions t
		JOIN brokerage_accounts a ON a.id = t.account_id
		JOIN connections c ON c.id = a.connection_id
		WHERE t.user_id = $1 AND NOT t.transformed
		ORDER BY t.created_at, t.id
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list untransformed transactions: %w", err)
	}
	defer rows.Close()

	var txs []*transaction.RawTransaction
	for rows.Next() {
		var t transaction.RawTransaction
		var settlement, expiration sql.NullTime
		var underlying, optionType sql.NullString
		var strike decimal.NullDecimal
		var payload []byte

		if err := rows.Scan(
			&t.ID, &t.AccountID, &t.UserID, &t.ExternalTransactionID, &t.Symbol, &t.Side,
			&t.Quantity, &t.Price, &t.Fee, &t.Currency, &t.TradeDate, &settlement,
			&underlying, &optionType, &strike, &expiration,
			&t.BrokerageName, &payload, &t.Transformed, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan raw transaction: %w", err)
		}

		if settlement.Valid {
			t.SettlementDate = &settlement.Time
		}
		if optionType.Valid {
			t.Option = &transaction.OptionInfo{
				Underlying: underlying.String,
				OptionType: optionType.String,
				Strike:     strike.Decimal,
				Expiration: expiration.Time,
			}
		}
		t.RawPayload = payload
		txs = append(txs, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating raw transactions: %w", err)
	}
	return txs, nil
}

func (r *TransactionRepository) MarkTransformed(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE raw_transactions SET transformed = TRUE WHERE id = ANY($1::uuid[]) AND NOT transformed`,
		pq.Array(ids),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark transactions transformed: %w", err)
	}
	return result.RowsAffected()
}
