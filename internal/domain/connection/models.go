package connection

import (
	"errors"
	"strings"
	"time"
)

// Domain errors
var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrConnectionNotReady = errors.New("connection not ready")
	ErrInvalidBrokerage   = errors.New("brokerage is required")
)

// Status is the lifecycle state of a brokerage link.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConnected Status = "connected"
	StatusError     Status = "error"
)

// Connection links a user to one external brokerage through the aggregator.
type Connection struct {
	ID                   string     `json:"id"`
	UserID               int64      `json:"userId"`
	Brokerage            string     `json:"brokerage"`
	AggregatorUserID     string     `json:"-"`
	EncryptedSecret      string     `json:"-"`
	ExternalConnectionID *string    `json:"externalConnectionId,omitempty"`
	Status               Status     `json:"status"`
	LastSyncedAt         *time.Time `json:"lastSyncedAt,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

// Ready reports whether the aggregator has confirmed the link.
func (c *Connection) Ready() bool {
	return c.Status == StatusConnected
}

// CreateParams contains parameters for creating a pending connection
type CreateParams struct {
	UserID           int64
	Brokerage        string
	AggregatorUserID string
	EncryptedSecret  string
}

// Validate validates the create parameters
func (p CreateParams) Validate() error {
	if p.UserID <= 0 {
		return errors.New("valid user ID is required")
	}
	if strings.TrimSpace(p.Brokerage) == "" {
		return ErrInvalidBrokerage
	}
	if p.AggregatorUserID == "" || p.EncryptedSecret == "" {
		return errors.New("aggregator credential is required")
	}
	return nil
}

// InitiateResult is returned when a new link is started.
type InitiateResult struct {
	Connection  *Connection `json:"connection"`
	RedirectURL string      `json:"redirectUrl"`
}
