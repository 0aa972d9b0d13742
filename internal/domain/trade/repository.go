package trade

import (
	"context"

	"github.com/shopspring/decimal"
)

// Repository defines the interface for trade storage
type Repository interface {
	// Create inserts a trade. It returns ErrDuplicate when a non-deleted
	// trade with the same fingerprint and lineage exists for the user.
	Create(ctx context.Context, params CreateParams) (*Trade, error)

	// GetByID returns ErrTradeNotFound when no row exists
	GetByID(ctx context.Context, id string) (*Trade, error)

	// FindByFingerprint returns nil, nil when no non-deleted trade matches
	FindByFingerprint(ctx context.Context, userID int64, fp Fingerprint) (*Trade, error)

	// LinkedTransactionIDs returns the ids among txIDs that are the entry or
	// exit transaction of a non-deleted trade of the user
	LinkedTransactionIDs(ctx context.Context, userID int64, txIDs []string) ([]string, error)

	// ListOpenPositions returns the user's non-deleted trades without exit, oldest entry first
	ListOpenPositions(ctx context.Context, userID int64) ([]*Trade, error)

	// ReducePosition overwrites the remaining quantity and commissions of an open position
	ReducePosition(ctx context.Context, id string, quantity, commissions decimal.Decimal) error

	// SoftDelete marks the trade deleted
	SoftDelete(ctx context.Context, id string) error
}
