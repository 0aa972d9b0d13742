package transaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrValidation marks a raw payload that is missing a required field.
var ErrValidation = errors.New("invalid raw transaction")

// Side is the direction of a trade event.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the counter side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// ParseSide accepts the aggregator's spellings of buy and sell.
func ParseSide(s string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "BOUGHT", "BUY_TO_OPEN", "BUY_TO_CLOSE":
		return SideBuy, true
	case "SELL", "SOLD", "SELL_TO_OPEN", "SELL_TO_CLOSE":
		return SideSell, true
	}
	return "", false
}

// OptionInfo carries contract metadata for option activity.
type OptionInfo struct {
	Underlying string          `json:"underlying"`
	OptionType string          `json:"optionType"`
	Strike     decimal.Decimal `json:"strike"`
	Expiration time.Time       `json:"expiration"`
}

// RawTransaction is one brokerage-reported trade event as ingested.
type RawTransaction struct {
	ID                    string          `json:"id"`
	AccountID             string          `json:"accountId"`
	UserID                int64           `json:"userId"`
	ExternalTransactionID string          `json:"externalTransactionId"`
	Symbol                string          `json:"symbol"`
	Side                  Side            `json:"side"`
	Quantity              decimal.Decimal `json:"quantity"`
	Price                 decimal.Decimal `json:"price"`
	Fee                   decimal.Decimal `json:"fee"`
	Currency              string          `json:"currency"`
	TradeDate             time.Time       `json:"tradeDate"`
	SettlementDate        *time.Time      `json:"settlementDate,omitempty"`
	Option                *OptionInfo     `json:"option,omitempty"`
	BrokerageName         string          `json:"brokerageName"`
	RawPayload            json.RawMessage `json:"rawPayload,omitempty"`
	Transformed           bool            `json:"transformed"`
	CreatedAt             time.Time       `json:"createdAt"`
}

// IsOption reports whether the event is option activity.
func (t *RawTransaction) IsOption() bool {
	return t.Option != nil
}

// IngestParams is one normalized aggregator transaction ready for storage.
type IngestParams struct {
	AccountID             string
	ExternalTransactionID string
	Symbol                string
	Side                  Side
	Quantity              decimal.Decimal
	Price                 decimal.Decimal
	Fee                   decimal.Decimal
	Currency              string
	TradeDate             time.Time
	SettlementDate        *time.Time
	Option                *OptionInfo
	RawPayload            json.RawMessage
}

// Validate checks the required fields: symbol, side, price and trade date,
// plus a positive quantity and a stable external id.
func (p IngestParams) Validate() error {
	if p.AccountID == "" {
		return fmt.Errorf("%w: account id is required", ErrValidation)
	}
	if strings.TrimSpace(p.ExternalTransactionID) == "" {
		return fmt.Errorf("%w: external transaction id is required", ErrValidation)
	}
	if strings.TrimSpace(p.Symbol) == "" {
		return fmt.Errorf("%w: symbol is required", ErrValidation)
	}
	if p.Side != SideBuy && p.Side != SideSell {
		return fmt.Errorf("%w: side must be BUY or SELL", ErrValidation)
	}
	if !p.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if !p.Price.IsPositive() {
		return fmt.Errorf("%w: price is required", ErrValidation)
	}
	if p.Fee.IsNegative() {
		return fmt.Errorf("%w: fee cannot be negative", ErrValidation)
	}
	if p.TradeDate.IsZero() {
		return fmt.Errorf("%w: trade date is required", ErrValidation)
	}
	return nil
}
