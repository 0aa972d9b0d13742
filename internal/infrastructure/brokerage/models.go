package brokerage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Credential is the aggregator-side user identity a connection acts as.
type Credential struct {
	UserID     string `json:"userId"`
	UserSecret string `json:"userSecret"`
}

// ErrorResponse represents an error response from the API
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

type registerResponse struct {
	Success bool       `json:"success"`
	Data    Credential `json:"data"`
}

type loginResponse struct {
	Success bool `json:"success"`
	Data    struct {
		RedirectURI string `json:"redirectURI"`
	} `json:"data"`
}

type listResponse[T any] struct {
	Success bool `json:"success"`
	Data    []T  `json:"data"`
	Count   int  `json:"count"`
}

// Connection is an authorization the aggregator holds for one brokerage.
type Connection struct {
	ID        string `json:"id"`
	Brokerage string `json:"brokerage"`
	Disabled  bool   `json:"disabled"`
	CreatedAt string `json:"createdAt"`
}

type Account struct {
	ID              string `json:"id"`
	ConnectionID    string `json:"connectionId"`
	Number          string `json:"number"`
	Name            string `json:"name"`
	Type            string `json:"type"`
	BalanceString   string `json:"balance"` // API returns balance as string
	Currency        string `json:"currency"`
	InstitutionName string `json:"institutionName"`
}

// GetBalance parses the balance string, treating an empty value as zero.
func (a *Account) GetBalance() (decimal.Decimal, error) {
	if a.BalanceString == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(a.BalanceString)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse balance '%s': %w", a.BalanceString, err)
	}
	return d, nil
}

type Holding struct {
	Symbol       string `json:"symbol"`
	Units        string `json:"units"`
	AveragePrice string `json:"averagePurchasePrice"`
	Price        string `json:"price"`
	MarketValue  string `json:"marketValue"`
	Currency     string `json:"currency"`
}

func (h *Holding) GetUnits() (decimal.Decimal, error) { return parseDecimal("units", h.Units) }
func (h *Holding) GetAveragePrice() (decimal.Decimal, error) { return parseDecimal("averagePurchasePrice", h.AveragePrice) }
func (h *Holding) GetPrice() (decimal.Decimal, error) { return parseDecimal("price", h.Price) }
func (h *Holding) GetMarketValue() (decimal.Decimal, error) { return parseDecimal("marketValue", h.MarketValue) }

// OptionSymbol describes the contract of an option transaction.
type OptionSymbol struct {
	Ticker         string `json:"ticker"`
	OptionType     string `json:"optionType"`
	StrikePrice    string `json:"strikePrice"`
	ExpirationDate string `json:"expirationDate"`
	Underlying     string `json:"underlyingSymbol"`
}

func (o *OptionSymbol) GetStrike() (decimal.Decimal, error) {
	return parseDecimal("strikePrice", o.StrikePrice)
}

func (o *OptionSymbol) GetExpiration() (time.Time, error) {
	if o.ExpirationDate == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", o.ExpirationDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse expirationDate '%s': %w", o.ExpirationDate, err)
	}
	return t, nil
}

// Transaction is one activity row as the aggregator reports it.
type Transaction struct {
	ID                   string          `json:"id"`
	AccountID            string          `json:"accountId"`
	Symbol               string          `json:"symbol"`
	Type                 string          `json:"type"` // BUY, SELL, DIVIDEND, ...
	UnitsString          string          `json:"units"`
	PriceString          string          `json:"price"`
	FeeString            string          `json:"fee"`
	Currency             string          `json:"currency"`
	TradeDateString      string          `json:"tradeDate"`
	SettlementDateString string          `json:"settlementDate"`
	Option               *OptionSymbol   `json:"optionSymbol,omitempty"`
	Raw                  json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the verbatim payload next to the decoded fields.
func (t *Transaction) UnmarshalJSON(b []byte) error {
	type alias Transaction
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*t = Transaction(a)
	t.Raw = append(json.RawMessage(nil), b...)
	return nil
}

func (t *Transaction) GetUnits() (decimal.Decimal, error) {
	d, err := parseDecimal("units", t.UnitsString)
	return d.Abs(), err
}

func (t *Transaction) GetPrice() (decimal.Decimal, error) { return parseDecimal("price", t.PriceString) }

func (t *Transaction) GetFee() (decimal.Decimal, error) {
	d, err := parseDecimal("fee", t.FeeString)
	return d.Abs(), err
}

func (t *Transaction) GetTradeDate() (*time.Time, error) {
	return parseTime("tradeDate", t.TradeDateString)
}

func (t *Transaction) GetSettlementDate() (*time.Time, error) {
	return parseTime("settlementDate", t.SettlementDateString)
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse %s '%s': %w", field, s, err)
	}
	return d, nil
}

func parseTime(field, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("failed to parse %s '%s'", field, s)
}
