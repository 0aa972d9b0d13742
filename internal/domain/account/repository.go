package account

import "context"

type Repository interface {
	// Upsert keys on (connection id, external account id). Mutable fields
	// are overwritten; created_at survives.
	Upsert(ctx context.Context, params UpsertParams) (*Account, error)
	ListByConnectionID(ctx context.Context, connectionID string) ([]*Account, error)
}
