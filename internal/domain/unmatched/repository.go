package unmatched

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tradstry/internal/domain/transaction"
)

// Repository defines the interface for the manual-resolution queue
type Repository interface {
	// Create queues a row; created is false if the source transaction is already queued
	Create(ctx context.Context, params CreateParams) (created bool, err error)

	// GetByID returns ErrNotFound when no row exists
	GetByID(ctx context.Context, id string) (*Transaction, error)

	// LinkedTransactionIDs returns the ids among txIDs that are the source of
	// a queued row of the user, whatever its status
	LinkedTransactionIDs(ctx context.Context, userID int64, txIDs []string) ([]string, error)

	// ListPendingByUserID returns pending rows, newest trade date first
	ListPendingByUserID(ctx context.Context, userID int64) ([]*Transaction, error)

	// ListPendingCandidates returns the user's pending rows for the symbol and
	// side, excluding excludeID, oldest trade date first
	ListPendingCandidates(ctx context.Context, userID int64, symbol string, side transaction.Side, excludeID string) ([]*Transaction, error)

	// SetSuggestions records the candidate ids last offered for a row
	SetSuggestions(ctx context.Context, id string, candidateIDs []string) error

	// Resolve moves a pending row to resolved; ErrNotFound if it is not pending
	Resolve(ctx context.Context, id, tradeID string, at time.Time) error

	// Ignore moves a pending row to ignored; ErrNotFound if it is not pending
	Ignore(ctx context.Context, id string, at time.Time) error

	// Reduce overwrites the quantity and fee left on a pending row
	Reduce(ctx context.Context, id string, quantity, fee decimal.Decimal) error
}
