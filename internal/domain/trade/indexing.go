package trade

import (
	"context"
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
)

// Indexer is the downstream search/vectorization collaborator.
type Indexer interface {
	Index(ctx context.Context, userID int64, tradeID, text string) error
}

// Describe renders the plain-text representation handed to the indexer.
func Describe(t *Trade) string {
	currency := t.Currency
	if currency == "" {
		currency = "USD"
	}

	var b strings.Builder
	kind := "shares"
	if t.TradeType == TypeOption {
		kind = "contracts"
	}
	fmt.Fprintf(&b, "%s %s %s of %s", statusWord(t), t.Quantity.String(), kind, t.Symbol)
	fmt.Fprintf(&b, " entered at %s on %s", formatMoney(t.EntryPrice.InexactFloat64(), currency), t.EntryDate.Format("2006-01-02"))
	if !t.IsOpen() && t.ExitPrice.Valid {
		fmt.Fprintf(&b, ", exited at %s on %s", formatMoney(t.ExitPrice.Decimal.InexactFloat64(), currency), t.ExitDate.Format("2006-01-02"))
		pnl := t.ExitPrice.Decimal.Sub(t.EntryPrice).Mul(t.Quantity).Sub(t.Commissions)
		fmt.Fprintf(&b, ", net result %s", formatMoney(pnl.InexactFloat64(), currency))
	}
	fmt.Fprintf(&b, ", commissions %s", formatMoney(t.Commissions.InexactFloat64(), currency))
	if t.BrokerageName != "" {
		fmt.Fprintf(&b, ", via %s", t.BrokerageName)
	}
	return b.String()
}

func statusWord(t *Trade) string {
	if t.IsOpen() {
		return "Open position:"
	}
	return "Closed trade:"
}

func formatMoney(amount float64, currency string) string {
	return money.NewFromFloat(amount, currency).Display()
}
