package account

import (
	"errors"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

var ErrInvalidCurrency = errors.New("valid ISO 4217 currency is required")

// Account is one brokerage account under a connection. It is a snapshot
// overwritten on every sync and never historized.
type Account struct {
	ID                string          `json:"id"`
	ConnectionID      string          `json:"connectionId"`
	ExternalAccountID string          `json:"externalAccountId"`
	Number            string          `json:"number"`
	Name              string          `json:"name"`
	AccountType       string          `json:"accountType"`
	Balance           decimal.Decimal `json:"balance"`
	Currency          string          `json:"currency"`
	InstitutionName   string          `json:"institutionName"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// UpsertParams contains parameters for upserting an account keyed by
// (connection id, external account id).
type UpsertParams struct {
	ConnectionID      string
	ExternalAccountID string
	Number            string
	Name              string
	AccountType       string
	Balance           decimal.Decimal
	Currency          string
	InstitutionName   string
}

// Validate validates the upsert parameters
func (p UpsertParams) Validate() error {
	if p.ConnectionID == "" {
		return errors.New("connection ID is required for upsert")
	}
	if strings.TrimSpace(p.ExternalAccountID) == "" {
		return errors.New("external account ID is required for upsert")
	}
	if !IsValidCurrency(p.Currency) {
		return ErrInvalidCurrency
	}
	return nil
}

// IsValidCurrency reports whether c is a known ISO 4217 code.
func IsValidCurrency(c string) bool {
	if len(c) != 3 || strings.ToUpper(c) != c {
		return false
	}
	return money.GetCurrency(c) != nil
}
