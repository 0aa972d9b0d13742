package connection

import (
	"context"
	"time"
)

// Repository defines the interface for connection data access
type Repository interface {
	// Create stores a new pending connection
	Create(ctx context.Context, params CreateParams) (*Connection, error)

	// GetByID returns ErrConnectionNotFound when no row exists
	GetByID(ctx context.Context, id string) (*Connection, error)

	// ListByUserID retrieves all connections for a user, newest first
	ListByUserID(ctx context.Context, userID int64) ([]*Connection, error)

	// ListUserIDsByStatus returns distinct users owning at least one connection in the status
	ListUserIDsByStatus(ctx context.Context, status Status) ([]int64, error)

	// UpdateStatus sets the status and, when non-nil, the external connection id
	UpdateStatus(ctx context.Context, id string, status Status, externalID *string) error

	// MarkSynced records the completion time of a sync
	MarkSynced(ctx context.Context, id string, at time.Time) error

	// Delete removes the connection; accounts, holdings and raw transactions cascade
	Delete(ctx context.Context, id string) error
}
