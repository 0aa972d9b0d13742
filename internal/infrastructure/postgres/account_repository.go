package postgres

import (
	"context"
	"fmt"

	"tradstry/internal/domain/account"
)

// AccountRepository implements the account.Repository interface for PostgreSQL
type AccountRepository struct {
	db Querier
}

// NewAccountRepository creates a new PostgreSQL account repository
func NewAccountRepository(db Querier) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, connection_id, external_account_id, number, name, account_type,
	balance, currency, institution_name, created_at, updated_at`

func scanAccount(row Row) (*account.Account, error) {
	var acc account.Account
	err := row.Scan(
		&acc.ID, &acc.ConnectionID, &acc.ExternalAccountID, &acc.Number, &acc.Name,
		&acc.AccountType, &acc.Balance, &acc.Currency, &acc.InstitutionName,
		&acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// Upsert creates the account or overwrites its snapshot fields. created_at
// survives the conflict.
func (r *AccountRepository) Upsert(ctx context.Context, params account.UpsertParams) (*account.Account, error) {
	query := `
		INSERT INTO brokerage_accounts (
			connection_id, external_account_id, number, name, account_type,
			balance, currency, institution_name
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (connection_id, external_account_id) DO UPDATE SET
			number = EXCLUDED.number,
			name = EXCLUDED.name,
			account_type = EXCLUDED.account_type,
			balance = EXCLUDED.balance,
			currency = EXCLUDED.currency,
			institution_name = EXCLUDED.institution_name,
			updated_at = NOW()
		RETURNING ` + accountColumns

	acc, err := scanAccount(r.db.QueryRowContext(ctx, query,
		params.ConnectionID, params.ExternalAccountID, params.Number, params.Name,
		params.AccountType, params.Balance, params.Currency, params.InstitutionName,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert account: %w", err)
	}
	return acc, nil
}

func (r *AccountRepository) ListByConnectionID(ctx context.Context, connectionID string) ([]*account.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM brokerage_accounts WHERE connection_id = $1 ORDER BY created_at`,
		connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*account.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accounts, nil
}
