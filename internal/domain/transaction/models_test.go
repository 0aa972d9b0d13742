package transaction

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func validParams() IngestParams {
	return IngestParams{
		AccountID:             "acc-1",
		ExternalTransactionID: "ext-1",
		Symbol:                "AAPL",
		Side:                  SideBuy,
		Quantity:              decimal.NewFromInt(10),
		Price:                 decimal.RequireFromString("150.25"),
		Fee:                   decimal.RequireFromString("1.00"),
		TradeDate:             time.Date(2024, 1, 2, 15, 30, 0, 0, time.UTC),
	}
}

func TestIngestParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *IngestParams)
		wantErr bool
	}{
		{"valid", func(p *IngestParams) {}, false},
		{"zero fee", func(p *IngestParams) { p.Fee = decimal.Zero }, false},
		{"missing symbol", func(p *IngestParams) { p.Symbol = " " }, true},
		{"missing side", func(p *IngestParams) { p.Side = "" }, true},
		{"missing price", func(p *IngestParams) { p.Price = decimal.Zero }, true},
		{"missing date", func(p *IngestParams) { p.TradeDate = time.Time{} }, true},
		{"missing external id", func(p *IngestParams) { p.ExternalTransactionID = "" }, true},
		{"zero quantity", func(p *IngestParams) { p.Quantity = decimal.Zero }, true},
		{"negative fee", func(p *IngestParams) { p.Fee = decimal.NewFromInt(-1) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Errorf("Validate() = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestParseSide(t *testing.T) {
	tests := []struct {
		in   string
		want Side
		ok   bool
	}{
		{"BUY", SideBuy, true},
		{"buy", SideBuy, true},
		{"BUY_TO_OPEN", SideBuy, true},
		{"SOLD", SideSell, true},
		{" sell ", SideSell, true},
		{"DIVIDEND", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseSide(tt.in)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ParseSide(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestSide_Opposite(t *testing.T) {
	if SideBuy.Opposite() != SideSell || SideSell.Opposite() != SideBuy {
		t.Error("Opposite() should swap BUY and SELL")
	}
}
