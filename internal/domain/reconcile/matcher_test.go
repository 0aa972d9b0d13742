package reconcile

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradstry/internal/domain/trade"
	"tradstry/internal/domain/transaction"
	"tradstry/internal/domain/unmatched"
)

var day0 = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

func day(n int) time.Time { return day0.AddDate(0, 0, n) }

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func raw(id string, side transaction.Side, qty, price, fee string, at time.Time) *transaction.RawTransaction {
	return &transaction.RawTransaction{
		ID:                    "raw-" + id,
		AccountID:             "acc-1",
		UserID:                1,
		ExternalTransactionID: id,
		Symbol:                "AAPL",
		Side:                  side,
		Quantity:              d(qty),
		Price:                 d(price),
		Fee:                   d(fee),
		Currency:              "USD",
		TradeDate:             at,
		BrokerageName:         "Alpaca",
	}
}

func buy(id, qty, price, fee string, at time.Time) *transaction.RawTransaction {
	return raw(id, transaction.SideBuy, qty, price, fee, at)
}

func sell(id, qty, price, fee string, at time.Time) *transaction.RawTransaction {
	return raw(id, transaction.SideSell, qty, price, fee, at)
}

func assertDec(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(d(want)) {
		t.Errorf("%s = %s, want %s", name, got, want)
	}
}

func TestMatch_TwoLotsPartialSell(t *testing.T) {
	plan := Match(Batch{
		UserID: 1,
		Symbol: "AAPL",
		Transactions: []*transaction.RawTransaction{
			sell("s1", "120", "15", "1.2", day(2)),
			buy("b2", "50", "12", "0.5", day(1)),
			buy("b1", "100", "10", "1", day(0)),
		},
	})

	if len(plan.Closed) != 2 {
		t.Fatalf("got %d closed trades, want 2", len(plan.Closed))
	}

	first := plan.Closed[0]
	assertDec(t, "first.EntryPrice", first.EntryPrice, "10")
	assertDec(t, "first.ExitPrice", first.ExitPrice.Decimal, "15")
	assertDec(t, "first.Quantity", first.Quantity, "100")
	assertDec(t, "first.Commissions", first.Commissions, "2")
	if !first.EntryDate.Equal(day(0)) || !first.ExitDate.Equal(day(2)) {
		t.Errorf("first dates = %v -> %v", first.EntryDate, first.ExitDate)
	}

	second := plan.Closed[1]
	assertDec(t, "second.EntryPrice", second.EntryPrice, "12")
	assertDec(t, "second.Quantity", second.Quantity, "20")
	assertDec(t, "second.Commissions", second.Commissions, "0.4")

	if len(plan.Opened) != 1 {
		t.Fatalf("got %d open positions, want 1", len(plan.Opened))
	}
	open := plan.Opened[0]
	assertDec(t, "open.Quantity", open.Quantity, "30")
	assertDec(t, "open.EntryPrice", open.EntryPrice, "12")
	assertDec(t, "open.Commissions", open.Commissions, "0.3")
	if open.ExitDate != nil || open.ExitPrice.Valid {
		t.Error("open position must not carry exit fields")
	}

	if len(plan.Unmatched) != 0 {
		t.Errorf("got %d unmatched, want 0", len(plan.Unmatched))
	}
	if len(plan.Consumed) != 3 {
		t.Errorf("consumed = %v, want all three transactions", plan.Consumed)
	}
}

func TestMatch_SellWithoutHistory(t *testing.T) {
	tx := sell("s1", "50", "200", "0.5", day(0))
	tx.Symbol = "TSLA"

	plan := Match(Batch{UserID: 1, Symbol: "TSLA", Transactions: []*transaction.RawTransaction{tx}})

	if len(plan.Closed) != 0 || len(plan.Opened) != 0 {
		t.Fatalf("no trade may be fabricated: closed=%d opened=%d", len(plan.Closed), len(plan.Opened))
	}
	if len(plan.Unmatched) != 1 {
		t.Fatalf("got %d unmatched, want 1", len(plan.Unmatched))
	}
	u := plan.Unmatched[0]
	if u.DifficultyReason != unmatched.ReasonInsufficientHistory {
		t.Errorf("reason = %q", u.DifficultyReason)
	}
	if u.Side != transaction.SideSell || u.SourceTransactionID != "raw-s1" {
		t.Errorf("unmatched = %+v", u)
	}
	assertDec(t, "unmatched.Quantity", u.Quantity, "50")
	assertDec(t, "unmatched.Fee", u.Fee, "0.5")
	if u.ConfidenceScore != 0 {
		t.Errorf("confidence = %v, want 0", u.ConfidenceScore)
	}
	if len(plan.Consumed) != 1 {
		t.Errorf("unmatched sell must still be marked transformed")
	}
}

func TestMatch_SellExceedsLots(t *testing.T) {
	plan := Match(Batch{
		UserID: 1,
		Symbol: "AAPL",
		Transactions: []*transaction.RawTransaction{
			buy("b1", "10", "10", "1", day(0)),
			sell("s1", "40", "11", "2", day(1)),
		},
	})

	if len(plan.Closed) != 1 {
		t.Fatalf("got %d closed, want 1", len(plan.Closed))
	}
	assertDec(t, "closed.Quantity", plan.Closed[0].Quantity, "10")
	assertDec(t, "closed.Commissions", plan.Closed[0].Commissions, "1.5")

	if len(plan.Unmatched) != 1 {
		t.Fatalf("got %d unmatched, want 1", len(plan.Unmatched))
	}
	u := plan.Unmatched[0]
	assertDec(t, "unmatched.Quantity", u.Quantity, "30")
	assertDec(t, "unmatched.Fee", u.Fee, "1.5")
	if u.ConfidenceScore != 0.25 {
		t.Errorf("confidence = %v, want 0.25", u.ConfidenceScore)
	}
}

func TestMatch_FeeConservationWithRepeatingShares(t *testing.T) {
	plan := Match(Batch{
		UserID: 1,
		Symbol: "AAPL",
		Transactions: []*transaction.RawTransaction{
			buy("b1", "3", "10", "1", day(0)),
			sell("s1", "1", "11", "0", day(1)),
			sell("s2", "1", "12", "0", day(2)),
			sell("s3", "1", "13", "0", day(3)),
		},
	})

	total := decimal.Zero
	for _, c := range plan.Closed {
		total = total.Add(c.Commissions)
	}
	for _, o := range plan.Opened {
		total = total.Add(o.Commissions)
	}
	assertDec(t, "sum of buy fee shares", total, "1")
	if len(plan.Opened) != 0 {
		t.Errorf("lot should be fully consumed, got %d open", len(plan.Opened))
	}
}

func TestMatch_ConservationAndFIFO(t *testing.T) {
	txs := []*transaction.RawTransaction{
		buy("b1", "5", "10", "0.10", day(0)),
		buy("b2", "7", "11", "0.20", day(1)),
		sell("s1", "3", "12", "0.05", day(2)),
		buy("b3", "4", "9", "0.30", day(3)),
		sell("s2", "8", "13", "0.07", day(4)),
		sell("s3", "2", "14", "0.01", day(5)),
	}
	plan := Match(Batch{UserID: 1, Symbol: "AAPL", Transactions: txs})

	if len(plan.Unmatched) != 0 {
		t.Fatalf("unexpected unmatched: %+v", plan.Unmatched)
	}

	sum := decimal.Zero
	for _, c := range plan.Closed {
		sum = sum.Add(c.Quantity)
		if c.ExitDate.Before(c.EntryDate) {
			t.Errorf("trade exits before entry: %v -> %v", c.EntryDate, *c.ExitDate)
		}
	}
	for _, o := range plan.Opened {
		sum = sum.Add(o.Quantity)
	}
	assertDec(t, "matched + open", sum, "16")

	// Consumption order per sell must follow lot entry dates.
	wantEntries := []time.Time{day(0), day(0), day(1), day(1)}
	if len(plan.Closed) < len(wantEntries) {
		t.Fatalf("got %d closed trades", len(plan.Closed))
	}
	for i, want := range wantEntries {
		if !plan.Closed[i].EntryDate.Equal(want) {
			t.Errorf("closed[%d] entry = %v, want %v", i, plan.Closed[i].EntryDate, want)
		}
	}

	if len(plan.Opened) != 1 || !plan.Opened[0].EntryDate.Equal(day(3)) {
		t.Fatalf("opened = %+v, want remainder of b3", plan.Opened)
	}
	assertDec(t, "open.Quantity", plan.Opened[0].Quantity, "3")
}

func TestMatch_TieBreakByExternalID(t *testing.T) {
	tests := []struct {
		name          string
		buyID, sellID string
		wantClosed    int
		wantUnmatched int
	}{
		{"buy sorts first", "a-1", "b-1", 1, 0},
		{"sell sorts first", "b-1", "a-1", 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := Match(Batch{
				UserID: 1,
				Symbol: "AAPL",
				Transactions: []*transaction.RawTransaction{
					sell(tt.sellID, "1", "10", "0", day(0)),
					buy(tt.buyID, "1", "10", "0", day(0)),
				},
			})
			if len(plan.Closed) != tt.wantClosed || len(plan.Unmatched) != tt.wantUnmatched {
				t.Errorf("closed=%d unmatched=%d, want %d/%d",
					len(plan.Closed), len(plan.Unmatched), tt.wantClosed, tt.wantUnmatched)
			}
		})
	}
}

func TestMatch_SeededOpenPositions(t *testing.T) {
	seed := &trade.Trade{
		ID:            "trade-open",
		UserID:        1,
		Symbol:        "AAPL",
		TradeType:     trade.TypeStock,
		EntryPrice:    d("12"),
		Quantity:      d("30"),
		EntryDate:     day(1),
		Commissions:   d("0.3"),
		BrokerageName: "Alpaca",
		Currency:      "USD",
	}

	t.Run("partial", func(t *testing.T) {
		plan := Match(Batch{
			UserID:        1,
			Symbol:        "AAPL",
			OpenPositions: []*trade.Trade{seed},
			Transactions:  []*transaction.RawTransaction{sell("s9", "10", "20", "0", day(5))},
		})

		if len(plan.Closed) != 1 {
			t.Fatalf("got %d closed, want 1", len(plan.Closed))
		}
		assertDec(t, "closed.Quantity", plan.Closed[0].Quantity, "10")
		assertDec(t, "closed.Commissions", plan.Closed[0].Commissions, "0.1")
		if !plan.Closed[0].EntryDate.Equal(day(1)) {
			t.Errorf("closed entry date = %v, want seeded entry", plan.Closed[0].EntryDate)
		}

		if len(plan.Reductions) != 1 {
			t.Fatalf("got %d reductions, want 1", len(plan.Reductions))
		}
		r := plan.Reductions[0]
		if r.TradeID != "trade-open" || r.Exhausted() {
			t.Errorf("reduction = %+v", r)
		}
		assertDec(t, "reduction.Quantity", r.Quantity, "20")
		assertDec(t, "reduction.Commissions", r.Commissions, "0.2")
		if len(plan.Opened) != 0 {
			t.Error("a seeded lot must not be re-created as a new open position")
		}
	})

	t.Run("exhausted", func(t *testing.T) {
		plan := Match(Batch{
			UserID:        1,
			Symbol:        "AAPL",
			OpenPositions: []*trade.Trade{seed},
			Transactions:  []*transaction.RawTransaction{sell("s9", "30", "20", "0", day(5))},
		})
		if len(plan.Reductions) != 1 || !plan.Reductions[0].Exhausted() {
			t.Fatalf("reductions = %+v, want one exhausted", plan.Reductions)
		}
		assertDec(t, "closed.Commissions", plan.Closed[0].Commissions, "0.3")
	})

	t.Run("untouched", func(t *testing.T) {
		plan := Match(Batch{
			UserID:        1,
			Symbol:        "AAPL",
			OpenPositions: []*trade.Trade{seed},
			Transactions:  []*transaction.RawTransaction{buy("b9", "5", "13", "0", day(5))},
		})
		if len(plan.Reductions) != 0 {
			t.Errorf("untouched seed produced reductions: %+v", plan.Reductions)
		}
		if len(plan.Opened) != 1 {
			t.Errorf("got %d opened, want the new buy only", len(plan.Opened))
		}
	})
}

func TestMatch_SellBeforeAnyBuyIsNeverShorted(t *testing.T) {
	plan := Match(Batch{
		UserID: 1,
		Symbol: "AAPL",
		Transactions: []*transaction.RawTransaction{
			sell("s1", "5", "10", "0", day(0)),
			buy("b1", "5", "9", "0", day(1)),
		},
	})
	if len(plan.Closed) != 0 {
		t.Errorf("closed = %+v, a later buy must not close an earlier sell", plan.Closed)
	}
	if len(plan.Unmatched) != 1 || len(plan.Opened) != 1 {
		t.Errorf("unmatched=%d opened=%d, want 1/1", len(plan.Unmatched), len(plan.Opened))
	}
}

func TestMatch_OptionBatch(t *testing.T) {
	b := buy("b1", "2", "1.5", "1.3", day(0))
	s := sell("s1", "2", "2.5", "1.3", day(1))
	plan := Match(Batch{UserID: 1, Symbol: "AAPL240621C00190000", IsOption: true, Transactions: []*transaction.RawTransaction{b, s}})

	if len(plan.Closed) != 1 || plan.Closed[0].TradeType != trade.TypeOption {
		t.Fatalf("closed = %+v, want one option trade", plan.Closed)
	}
	assertDec(t, "commissions", plan.Closed[0].Commissions, "2.6")
}

func TestPartition(t *testing.T) {
	opt := buy("o1", "1", "2", "0", day(0))
	opt.Option = &transaction.OptionInfo{Underlying: "AAPL", OptionType: "CALL"}
	msft := buy("m1", "1", "300", "0", day(0))
	msft.Symbol = "MSFT"

	txs := []*transaction.RawTransaction{msft, opt, buy("a1", "1", "10", "0", day(0))}
	open := []*trade.Trade{
		{ID: "t-aapl", Symbol: "AAPL", TradeType: trade.TypeStock},
		{ID: "t-nvda", Symbol: "NVDA", TradeType: trade.TypeStock},
	}

	batches := partition(1, txs, open, nil, nil)
	if len(batches) != 3 {
		t.Fatalf("got %d batches, want 3", len(batches))
	}
	if batches[0].Symbol != "AAPL" || batches[0].IsOption {
		t.Errorf("batches[0] = %s option=%v, want AAPL stock", batches[0].Symbol, batches[0].IsOption)
	}
	if len(batches[0].OpenPositions) != 1 {
		t.Errorf("AAPL stock batch should carry its open position")
	}
	if !batches[1].IsOption || len(batches[1].OpenPositions) != 0 {
		t.Errorf("batches[1] should be the AAPL option batch without stock positions")
	}
	if batches[2].Symbol != "MSFT" {
		t.Errorf("batches[2] = %s, want MSFT", batches[2].Symbol)
	}
}

func TestPartition_RoutesLinkedAndPending(t *testing.T) {
	txs := []*transaction.RawTransaction{buy("a1", "1", "10", "0", day(0)), buy("a2", "1", "10", "0", day(1))}
	pending := []*unmatched.Transaction{
		{ID: "u-sell", Symbol: "AAPL", Side: transaction.SideSell, Quantity: d("5"), TradeDate: day(3)},
		{ID: "u-buy", Symbol: "AAPL", Side: transaction.SideBuy, Quantity: d("5"), TradeDate: day(3)},
		{ID: "u-opt", Symbol: "AAPL", Side: transaction.SideSell, Quantity: d("1"), TradeDate: day(3), IsOption: true},
	}

	batches := partition(1, txs, nil, pending, map[string]bool{"raw-a1": true})
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}
	b := batches[0]
	if len(b.Replayed) != 1 || b.Replayed[0] != "raw-a1" {
		t.Errorf("Replayed = %v, want [raw-a1]", b.Replayed)
	}
	if len(b.Transactions) != 1 || b.Transactions[0].ID != "raw-a2" {
		t.Errorf("Transactions = %v, want only raw-a2", b.Transactions)
	}
	if len(b.PendingSells) != 1 || b.PendingSells[0].ID != "u-sell" {
		t.Errorf("PendingSells = %v, want only the stock sell", b.PendingSells)
	}
}

func TestMatch_RecordsLineage(t *testing.T) {
	seed := &trade.Trade{
		ID: "t-open", Symbol: "AAPL", TradeType: trade.TypeStock, EntryPrice: d("9"),
		Quantity: d("5"), EntryDate: day(-1), Commissions: d("0"), EntryTransactionID: "raw-old",
	}
	plan := Match(Batch{
		UserID:        1,
		Symbol:        "AAPL",
		OpenPositions: []*trade.Trade{seed},
		Transactions: []*transaction.RawTransaction{
			buy("b1", "10", "10", "0", day(0)),
			sell("s1", "8", "12", "0", day(1)),
		},
	})

	if len(plan.Closed) != 2 || len(plan.Opened) != 1 {
		t.Fatalf("closed=%d opened=%d, want 2/1", len(plan.Closed), len(plan.Opened))
	}
	tests := []struct {
		name        string
		got         trade.CreateParams
		entry, exit string
	}{
		{"seeded lot", plan.Closed[0], "raw-old", "raw-s1"},
		{"new lot", plan.Closed[1], "raw-b1", "raw-s1"},
		{"open remainder", plan.Opened[0], "raw-b1", ""},
	}
	for _, tt := range tests {
		if tt.got.EntryTransactionID != tt.entry || tt.got.ExitTransactionID != tt.exit {
			t.Errorf("%s lineage = %q -> %q, want %q -> %q", tt.name,
				tt.got.EntryTransactionID, tt.got.ExitTransactionID, tt.entry, tt.exit)
		}
	}
}

func TestMatch_ReplayedAreConsumedOnly(t *testing.T) {
	plan := Match(Batch{
		UserID:       1,
		Symbol:       "AAPL",
		Replayed:     []string{"raw-b0"},
		Transactions: []*transaction.RawTransaction{buy("b1", "1", "10", "0", day(0))},
	})

	if len(plan.Opened) != 1 || len(plan.Closed) != 0 {
		t.Errorf("opened=%d closed=%d, want only the new lot", len(plan.Opened), len(plan.Closed))
	}
	if len(plan.Consumed) != 2 || plan.Consumed[0] != "raw-b0" {
		t.Errorf("Consumed = %v, want the replayed id and the new buy", plan.Consumed)
	}
}

func TestMatch_BuyBeforePendingSellIsQueued(t *testing.T) {
	pending := []*unmatched.Transaction{
		{ID: "u-1", Symbol: "AAPL", Side: transaction.SideSell, Quantity: d("50"), TradeDate: day(5)},
	}
	plan := Match(Batch{
		UserID:       1,
		Symbol:       "AAPL",
		PendingSells: pending,
		Transactions: []*transaction.RawTransaction{
			buy("b1", "30", "10", "0.3", day(2)),
			buy("b2", "20", "11", "0", day(3)),
			buy("b3", "5", "9", "0", day(4)),
			buy("b4", "5", "12", "0", day(6)),
		},
	})

	// b1 and b2 cover the pending sell. b3 is dated before it but finds no
	// backlog left, b4 is dated after it.
	queued := map[string]bool{}
	for _, u := range plan.Unmatched {
		if u.Side != transaction.SideBuy || u.DifficultyReason != unmatched.ReasonPredatesUnmatchedSell {
			t.Errorf("unmatched %s = %s/%q", u.SourceTransactionID, u.Side, u.DifficultyReason)
		}
		queued[u.SourceTransactionID] = true
	}
	if len(queued) != 2 || !queued["raw-b1"] || !queued["raw-b2"] {
		t.Errorf("queued = %v, want raw-b1 and raw-b2", queued)
	}
	if len(plan.Opened) != 2 {
		t.Errorf("opened %d lots, want 2", len(plan.Opened))
	}
	if len(plan.Consumed) != 4 {
		t.Errorf("Consumed = %v, want every transaction", plan.Consumed)
	}
}
