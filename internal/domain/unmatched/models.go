package unmatched

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"tradstry/internal/domain/transaction"
)

// Domain errors
var (
	ErrNotFound      = errors.New("unmatched transaction not found")
	ErrInvalidAction = errors.New("invalid resolution action")
)

// Difficulty reasons.
const (
	// ReasonInsufficientHistory is recorded when a sell exhausts every open lot.
	ReasonInsufficientHistory = "insufficient buy history"
	// ReasonPredatesUnmatchedSell is recorded for a buy that arrives after a
	// pending unmatched sell it is dated before. It is likely that sell's
	// missing history, so it is not opened as a position automatically.
	ReasonPredatesUnmatchedSell = "buy predates unmatched sell"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
	StatusIgnored  Status = "ignored"
)

// Transaction is a raw transaction the matcher could not place, queued for
// manual resolution. Only pending rows may change; resolved and ignored are
// terminal.
type Transaction struct {
	ID                  string           `json:"id"`
	UserID              int64            `json:"userId"`
	SourceTransactionID string           `json:"sourceTransactionId"`
	Symbol              string           `json:"symbol"`
	Side                transaction.Side `json:"side"`
	Quantity            decimal.Decimal  `json:"quantity"`
	Price               decimal.Decimal  `json:"price"`
	Fee                 decimal.Decimal  `json:"fee"`
	TradeDate           time.Time        `json:"tradeDate"`
	BrokerageName       string           `json:"brokerageName"`
	Currency            string           `json:"currency"`
	IsOption            bool             `json:"isOption"`
	DifficultyReason    string           `json:"difficultyReason"`
	ConfidenceScore     float64          `json:"confidenceScore"`
	SuggestedMatches    []string         `json:"suggestedMatches"`
	Status              Status           `json:"status"`
	ResolvedTradeID     *string          `json:"resolvedTradeId,omitempty"`
	ResolvedAt          *time.Time       `json:"resolvedAt,omitempty"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
}

// IsPending reports whether the row can still be resolved or ignored.
func (t *Transaction) IsPending() bool {
	return t.Status == StatusPending
}

// CreateParams contains parameters for queueing an unmatched transaction
type CreateParams struct {
	UserID              int64
	SourceTransactionID string
	Symbol              string
	Side                transaction.Side
	Quantity            decimal.Decimal
	Price               decimal.Decimal
	Fee                 decimal.Decimal
	TradeDate           time.Time
	BrokerageName       string
	Currency            string
	IsOption            bool
	DifficultyReason    string
	ConfidenceScore     float64
}
