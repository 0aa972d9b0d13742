package trade

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Domain errors
var (
	ErrTradeNotFound = errors.New("trade not found")
	ErrDuplicate     = errors.New("trade with the same fingerprint exists")
	ErrInvalidTrade  = errors.New("invalid trade")
)

type Type string

const (
	TypeStock  Type = "stock"
	TypeOption Type = "option"
)

// Source records how a trade came to exist.
type Source string

const (
	SourceSync   Source = "sync"
	SourceManual Source = "manual"
)

// Trade is a reconstructed round trip, or an open position when the exit
// fields are absent.
type Trade struct {
	ID            string              `json:"id"`
	UserID        int64               `json:"userId"`
	Symbol        string              `json:"symbol"`
	TradeType     Type                `json:"tradeType"`
	EntryPrice    decimal.Decimal     `json:"entryPrice"`
	ExitPrice     decimal.NullDecimal `json:"exitPrice"`
	Quantity      decimal.Decimal     `json:"quantity"`
	EntryDate     time.Time           `json:"entryDate"`
	ExitDate      *time.Time          `json:"exitDate,omitempty"`
	Commissions   decimal.Decimal     `json:"commissions"`
	BrokerageName string              `json:"brokerageName"`
	Currency      string              `json:"currency"`
	Source        Source              `json:"source"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
	DeletedAt     *time.Time          `json:"deletedAt,omitempty"`

	// Raw transactions the trade was derived from; empty for manual trades.
	EntryTransactionID string `json:"entryTransactionId,omitempty"`
	ExitTransactionID  string `json:"exitTransactionId,omitempty"`
}

// IsOpen reports whether the trade is an open position.
func (t *Trade) IsOpen() bool {
	return t.ExitDate == nil
}

// Fingerprint returns the dedup key of the trade.
func (t *Trade) Fingerprint() Fingerprint {
	return Fingerprint{
		Symbol:        t.Symbol,
		EntryDate:     t.EntryDate,
		EntryPrice:    t.EntryPrice,
		Quantity:      t.Quantity,
		BrokerageName: t.BrokerageName,
		ExitDate:      t.ExitDate,
		ExitPrice:     t.ExitPrice,
	}
}

// Fingerprint identifies a derived trade independent of its id. The exit
// fields are part of the key so that one lot closed by several sells yields
// distinct fingerprints; they are null for open positions.
type Fingerprint struct {
	Symbol        string
	EntryDate     time.Time
	EntryPrice    decimal.Decimal
	Quantity      decimal.Decimal
	BrokerageName string
	ExitDate      *time.Time
	ExitPrice     decimal.NullDecimal
}

// Key renders the fingerprint canonically, so equal decimals of different
// scale produce the same key.
func (f Fingerprint) Key() string {
	exit := "-"
	if f.ExitDate != nil {
		exit = f.ExitDate.UTC().Format(time.RFC3339Nano)
	}
	exitPrice := "-"
	if f.ExitPrice.Valid {
		exitPrice = f.ExitPrice.Decimal.String()
	}
	return strings.Join([]string{
		f.Symbol,
		f.EntryDate.UTC().Format(time.RFC3339Nano),
		f.EntryPrice.String(),
		f.Quantity.String(),
		f.BrokerageName,
		exit,
		exitPrice,
	}, "|")
}

// CreateParams contains parameters for creating a trade
type CreateParams struct {
	UserID        int64
	Symbol        string
	TradeType     Type
	EntryPrice    decimal.Decimal
	ExitPrice     decimal.NullDecimal
	Quantity      decimal.Decimal
	EntryDate     time.Time
	ExitDate      *time.Time
	Commissions   decimal.Decimal
	BrokerageName string
	Currency      string
	Source        Source

	// Lineage, set by reconciliation only.
	EntryTransactionID string
	ExitTransactionID  string
}

// Fingerprint returns the key the trade would be stored under.
func (p CreateParams) Fingerprint() Fingerprint {
	return Fingerprint{
		Symbol:        p.Symbol,
		EntryDate:     p.EntryDate,
		EntryPrice:    p.EntryPrice,
		Quantity:      p.Quantity,
		BrokerageName: p.BrokerageName,
		ExitDate:      p.ExitDate,
		ExitPrice:     p.ExitPrice,
	}
}

// Validate validates the create parameters
func (p CreateParams) Validate() error {
	if p.UserID <= 0 {
		return fmt.Errorf("%w: valid user ID is required", ErrInvalidTrade)
	}
	if p.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidTrade)
	}
	if !p.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidTrade)
	}
	if !p.EntryPrice.IsPositive() {
		return fmt.Errorf("%w: entry price must be positive", ErrInvalidTrade)
	}
	if p.EntryDate.IsZero() {
		return fmt.Errorf("%w: entry date is required", ErrInvalidTrade)
	}
	if (p.ExitDate == nil) != !p.ExitPrice.Valid {
		return fmt.Errorf("%w: exit date and exit price must be set together", ErrInvalidTrade)
	}
	if p.ExitDate != nil && p.ExitDate.Before(p.EntryDate) {
		return fmt.Errorf("%w: exit date precedes entry date", ErrInvalidTrade)
	}
	if p.Commissions.IsNegative() {
		return fmt.Errorf("%w: commissions cannot be negative", ErrInvalidTrade)
	}
	return nil
}
