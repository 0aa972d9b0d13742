package notification

import (
	"errors"
	"time"
)

// Categories travel as the "route" data key and pick the screen the app
// opens.
const (
	CategorySync      = "sync"
	CategoryUnmatched = "unmatched"
)

type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

var (
	ErrInvalidCategory   = errors.New("invalid notification category")
	ErrInvalidDeviceType = errors.New("device type must be 'ios' or 'android'")
	ErrInvalidToken      = errors.New("device token is required")
	ErrDeviceNotFound    = errors.New("device not registered")
)

// Device is a push token registered by one of the user's apps.
type Device struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"userId"`
	Token     string    `json:"token"`
	Platform  Platform  `json:"deviceType"`
	Active    bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	LastUsed  time.Time `json:"lastUsed"`
}

type RegisterParams struct {
	UserID   int64
	Token    string
	Platform Platform
}

func (p RegisterParams) Validate() error {
	switch {
	case p.UserID <= 0:
		return errors.New("valid user ID is required")
	case p.Token == "":
		return ErrInvalidToken
	case p.Platform != PlatformIOS && p.Platform != PlatformAndroid:
		return ErrInvalidDeviceType
	}
	return nil
}

// SyncCounts is what the sync-complete push reports.
type SyncCounts struct {
	TransactionsCreated int
	TradesCreated       int
	UnmatchedCreated    int
}

func IsValidCategory(c string) bool {
	return c == CategorySync || c == CategoryUnmatched
}
