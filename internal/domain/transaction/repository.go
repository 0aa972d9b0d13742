package transaction

import "context"

// Repository defines the interface for the raw transaction store
type Repository interface {
	// Insert stores a transaction unless (account id, external transaction id)
	// already exists. created is false for a duplicate.
	Insert(ctx context.Context, params IngestParams) (created bool, err error)

	// ListUntransformedByUserID returns every raw transaction of the user's
	// accounts not yet consumed by reconciliation
	ListUntransformedByUserID(ctx context.Context, userID int64) ([]*RawTransaction, error)

	// MarkTransformed flips the transformed flag for the given ids
	MarkTransformed(ctx context.Context, ids []string) (int64, error)
}
