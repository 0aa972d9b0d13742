package holding

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInvalidSymbol = errors.New("holding symbol is required")

// Holding is the current position snapshot for one (account, symbol) pair.
type Holding struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"accountId"`
	Symbol       string          `json:"symbol"`
	Quantity     decimal.Decimal `json:"quantity"`
	AverageCost  decimal.Decimal `json:"averageCost"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	MarketValue  decimal.Decimal `json:"marketValue"`
	Currency     string          `json:"currency"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// UpsertParams contains one holding from an aggregator snapshot.
type UpsertParams struct {
	AccountID    string
	Symbol       string
	Quantity     decimal.Decimal
	AverageCost  decimal.Decimal
	CurrentPrice decimal.Decimal
	MarketValue  decimal.Decimal
	Currency     string
}

// Normalize upper-cases the symbol and derives a missing market value.
func (p *UpsertParams) Normalize() {
	p.Symbol = strings.ToUpper(strings.TrimSpace(p.Symbol))
	p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
	if p.MarketValue.IsZero() && !p.CurrentPrice.IsZero() {
		p.MarketValue = p.Quantity.Mul(p.CurrentPrice)
	}
}

func (p UpsertParams) Validate() error {
	if p.AccountID == "" {
		return errors.New("account ID is required")
	}
	if p.Symbol == "" {
		return ErrInvalidSymbol
	}
	return nil
}
