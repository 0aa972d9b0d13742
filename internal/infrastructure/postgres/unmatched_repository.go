package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"tradstry/internal/domain/transaction"
	"tradstry/internal/domain/unmatched"
)

type UnmatchedRepository struct {
	db Querier
}

func NewUnmatchedRepository(db Querier) *UnmatchedRepository {
	return &UnmatchedRepository{db: db}
}

const unmatchedColumns = `id, user_id, source_transaction_id, symbol, side, quantity, price, fee,
	trade_date, brokerage_name, currency, is_option, difficulty_reason, confidence_score,
	suggested_matches, status, resolved_trade_id, resolved_at, created_at, updated_at`

func scanUnmatched(row Row) (*unmatched.Transaction, error) {
	var u unmatched.Transaction
	var suggestions pq.StringArray
	var resolvedTradeID sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(
		&u.ID, &u.UserID, &u.SourceTransactionID, &u.Symbol, &u.Side, &u.Quantity, &u.Price, &u.Fee,
		&u.TradeDate, &u.BrokerageName, &u.Currency, &u.IsOption, &u.DifficultyReason, &u.ConfidenceScore,
		&suggestions, &u.Status, &resolvedTradeID, &resolvedAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.SuggestedMatches = []string(suggestions)
	if resolvedTradeID.Valid {
		u.ResolvedTradeID = &resolvedTradeID.String
	}
	if resolvedAt.Valid {
		u.ResolvedAt = &resolvedAt.Time
	}
	return &u, nil
}

func (r *UnmatchedRepository) listPending(ctx context.Context, query string, args ...any) ([]*unmatched.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list unmatched transactions: %w", err)
	}
	defer rows.Close()

	var items []*unmatched.Transaction
	for rows.Next() {
		u, err := scanUnmatched(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unmatched transaction: %w", err)
		}
		items = append(items, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unmatched transactions: %w", err)
	}
	return items, nil
}

func (r *UnmatchedRepository) Create(ctx context.Context, params unmatched.CreateParams) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO unmatched_transactions (
			user_id, source_transaction_id, symbol, side, quantity, price, fee, trade_date,
			brokerage_name, currency, is_option, difficulty_reason, confidence_score
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (source_transaction_id) DO NOTHING`,
		params.UserID, params.SourceTransactionID, params.Symbol, params.Side, params.Quantity,
		params.Price, params.Fee, params.TradeDate, params.BrokerageName, params.Currency,
		params.IsOption, params.DifficultyReason, params.ConfidenceScore,
	)
	if err != nil {
		return false, fmt.Errorf("failed to queue unmatched transaction: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *UnmatchedRepository) GetByID(ctx context.Context, id string) (*unmatched.Transaction, error) {
	u, err := scanUnmatched(r.db.QueryRowContext(ctx,
		`SELECT `+unmatchedColumns+` FROM unmatched_transactions WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, unmatched.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get unmatched transaction: %w", err)
	}
	return u, nil
}

// LinkedTransactionIDs includes rows in every status: a resolved or ignored
// row still accounts for its source transaction.
func (r *UnmatchedRepository) LinkedTransactionIDs(ctx context.Context, userID int64, txIDs []string) ([]string, error) {
	ids, err := queryIDs(ctx, r.db, `
		SELECT source_transaction_id FROM unmatched_transactions
		WHERE user_id = $1 AND source_transaction_id = ANY($2::uuid[])`,
		userID, pq.Array(txIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued transactions: %w", err)
	}
	return ids, nil
}

func (r *UnmatchedRepository) ListPendingByUserID(ctx context.Context, userID int64) ([]*unmatched.Transaction, error) {
	return r.listPending(ctx, `
		SELECT `+unmatchedColumns+`
		FROM unmatched_transactions
		WHERE user_id = $1 AND status = 'pending'
		ORDER BY trade_date DESC, id`,
		userID,
	)
}

func (r *UnmatchedRepository) ListPendingCandidates(ctx context.Context, userID int64, symbol string, side transaction.Side, excludeID string) ([]*unmatched.Transaction, error) {
	return r.listPending(ctx, `
		SELECT `+unmatchedColumns+`
		FROM unmatched_transactions
		WHERE user_id = $1 AND symbol = $2 AND side = $3 AND id <> $4 AND status = 'pending'
		ORDER BY trade_date, id`,
		userID, symbol, side, excludeID,
	)
}

func (r *UnmatchedRepository) SetSuggestions(ctx context.Context, id string, candidateIDs []string) error {
	if candidateIDs == nil {
		candidateIDs = []string{}
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE unmatched_transactions SET suggested_matches = $2, updated_at = NOW() WHERE id = $1`,
		id, pq.Array(candidateIDs),
	)
	if err != nil {
		return fmt.Errorf("failed to store suggestions: %w", err)
	}
	return expectRow(result, unmatched.ErrNotFound)
}

// Resolve and Ignore only match pending rows, so a terminal row reads as
// not found.
func (r *UnmatchedRepository) Resolve(ctx context.Context, id, tradeID string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE unmatched_transactions
		SET status = 'resolved', resolved_trade_id = $2, resolved_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`,
		id, tradeID, at,
	)
	if err != nil {
		return fmt.Errorf("failed to resolve unmatched transaction: %w", err)
	}
	return expectRow(result, unmatched.ErrNotFound)
}

func (r *UnmatchedRepository) Ignore(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE unmatched_transactions
		SET status = 'ignored', resolved_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to ignore unmatched transaction: %w", err)
	}
	return expectRow(result, unmatched.ErrNotFound)
}

func (r *UnmatchedRepository) Reduce(ctx context.Context, id string, quantity, fee decimal.Decimal) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE unmatched_transactions
		SET quantity = $2, fee = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`,
		id, quantity, fee,
	)
	if err != nil {
		return fmt.Errorf("failed to reduce unmatched transaction: %w", err)
	}
	return expectRow(result, unmatched.ErrNotFound)
}
