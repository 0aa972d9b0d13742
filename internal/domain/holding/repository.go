package holding

import "context"

// Repository defines the interface for holding snapshot storage
type Repository interface {
	// Upsert creates or overwrites the holding keyed by (account id, symbol)
	Upsert(ctx context.Context, params UpsertParams) (*Holding, error)

	// DeleteExcept removes the account's holdings whose symbol is not listed
	DeleteExcept(ctx context.Context, accountID string, keepSymbols []string) (int64, error)

	// ListByAccountID returns the account's current holdings
	ListByAccountID(ctx context.Context, accountID string) ([]*Holding, error)
}
