package notification

import "context"

type Repository interface {
	// SaveDevice registers the token, moving it to params.UserID if another
	// user held it, and marks it active.
	SaveDevice(ctx context.Context, params RegisterParams) (*Device, error)
	// ActiveTokens returns the user's active tokens, most recently used first.
	ActiveTokens(ctx context.Context, userID int64) ([]string, error)
	// RemoveDevice deletes the user's token. ErrDeviceNotFound if the user
	// does not own it.
	RemoveDevice(ctx context.Context, userID int64, token string) error
	DeactivateToken(ctx context.Context, token string) error
}
