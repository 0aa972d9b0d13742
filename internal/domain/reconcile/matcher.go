package reconcile

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"tradstry/internal/domain/trade"
	"tradstry/internal/domain/transaction"
	"tradstry/internal/domain/unmatched"
)

// Batch is the input of one symbol-scoped matching pass.
type Batch struct {
	UserID        int64
	Symbol        string
	IsOption      bool
	Transactions  []*transaction.RawTransaction
	OpenPositions []*trade.Trade // open trades from earlier passes, seeded as lots

	// Replayed are raw transaction ids already reflected in trades or the
	// unmatched queue. They are marked transformed again and not matched.
	Replayed []string

	// PendingSells are unmatched sells queued by earlier passes and still
	// pending. A new buy dated on or before one of them is queued too.
	PendingSells []*unmatched.Transaction
}

// Reduction is the state an earlier open position is left in after sells in
// this pass consumed part of it. A zero Quantity means it was fully closed.
type Reduction struct {
	TradeID     string
	Quantity    decimal.Decimal
	Commissions decimal.Decimal
}

// Exhausted reports whether the open position was fully consumed.
func (r Reduction) Exhausted() bool {
	return r.Quantity.IsZero()
}

// Plan is everything one matching pass wants persisted.
type Plan struct {
	Symbol     string
	IsOption   bool
	Closed     []trade.CreateParams
	Opened     []trade.CreateParams
	Reductions []Reduction
	Unmatched  []unmatched.CreateParams
	Consumed   []string // raw transaction ids to mark transformed
}

// allocation tracks how much of one transaction's quantity and fee is left.
// The final take returns the exact remaining fee, so the shares handed out
// always sum to the original fee.
type allocation struct {
	fee       decimal.Decimal
	quantity  decimal.Decimal
	remaining decimal.Decimal
	feeLeft   decimal.Decimal
}

func newAllocation(quantity, fee decimal.Decimal) *allocation {
	return &allocation{fee: fee, quantity: quantity, remaining: quantity, feeLeft: fee}
}

func (a *allocation) take(q decimal.Decimal) decimal.Decimal {
	if q.GreaterThanOrEqual(a.remaining) {
		share := a.feeLeft
		a.remaining = decimal.Zero
		a.feeLeft = decimal.Zero
		return share
	}
	share := a.fee.Mul(q).Div(a.quantity)
	a.remaining = a.remaining.Sub(q)
	a.feeLeft = a.feeLeft.Sub(share)
	return share
}

// lot is one not yet fully sold buy. seedID is set when the lot was loaded
// from an open position persisted by an earlier pass.
type lot struct {
	seedID    string
	entryTx   string
	price     decimal.Decimal
	date      time.Time
	brokerage string
	currency  string
	alloc     *allocation
}

type event struct {
	date time.Time
	seed *trade.Trade
	tx   *transaction.RawTransaction
}

// before orders events by date; at equal dates seeded lots come first, then
// raw transactions by external transaction id and finally by row id.
func (e event) before(o event) bool {
	if !e.date.Equal(o.date) {
		return e.date.Before(o.date)
	}
	if (e.seed != nil) != (o.seed != nil) {
		return e.seed != nil
	}
	if e.seed != nil {
		return e.seed.ID < o.seed.ID
	}
	if e.tx.ExternalTransactionID != o.tx.ExternalTransactionID {
		return e.tx.ExternalTransactionID < o.tx.ExternalTransactionID
	}
	return e.tx.ID < o.tx.ID
}

// Match runs FIFO lot matching over one batch. It is pure: the lot queue
// lives only for the duration of the call.
func Match(b Batch) *Plan {
	plan := &Plan{Symbol: b.Symbol, IsOption: b.IsOption}
	plan.Consumed = append(plan.Consumed, b.Replayed...)
	tradeType := trade.TypeStock
	if b.IsOption {
		tradeType = trade.TypeOption
	}

	events := make([]event, 0, len(b.Transactions)+len(b.OpenPositions))
	for _, p := range b.OpenPositions {
		events = append(events, event{date: p.EntryDate, seed: p})
	}
	for _, t := range b.Transactions {
		events = append(events, event{date: t.TradeDate, tx: t})
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].before(events[j]) })

	var queue []*lot
	var seeds []*lot
	backlog := newSellBacklog(b.PendingSells)

	for _, ev := range events {
		if ev.seed != nil {
			l := &lot{
				seedID:    ev.seed.ID,
				entryTx:   ev.seed.EntryTransactionID,
				price:     ev.seed.EntryPrice,
				date:      ev.seed.EntryDate,
				brokerage: ev.seed.BrokerageName,
				currency:  ev.seed.Currency,
				alloc:     newAllocation(ev.seed.Quantity, ev.seed.Commissions),
			}
			queue = append(queue, l)
			seeds = append(seeds, l)
			continue
		}

		tx := ev.tx
		plan.Consumed = append(plan.Consumed, tx.ID)

		if tx.Side == transaction.SideBuy {
			if backlog.claim(tx) {
				plan.Unmatched = append(plan.Unmatched, unmatched.CreateParams{
					UserID:              b.UserID,
					SourceTransactionID: tx.ID,
					Symbol:              b.Symbol,
					Side:                transaction.SideBuy,
					Quantity:            tx.Quantity,
					Price:               tx.Price,
					Fee:                 tx.Fee,
					TradeDate:           tx.TradeDate,
					BrokerageName:       tx.BrokerageName,
					Currency:            tx.Currency,
					IsOption:            b.IsOption,
					DifficultyReason:    unmatched.ReasonPredatesUnmatchedSell,
				})
				continue
			}
			queue = append(queue, &lot{
				entryTx:   tx.ID,
				price:     tx.Price,
				date:      tx.TradeDate,
				brokerage: tx.BrokerageName,
				currency:  tx.Currency,
				alloc:     newAllocation(tx.Quantity, tx.Fee),
			})
			continue
		}

		sell := newAllocation(tx.Quantity, tx.Fee)
		for sell.remaining.IsPositive() && len(queue) > 0 {
			front := queue[0]
			matched := decimal.Min(sell.remaining, front.alloc.remaining)
			commissions := front.alloc.take(matched).Add(sell.take(matched))
			exitDate := tx.TradeDate

			plan.Closed = append(plan.Closed, trade.CreateParams{
				UserID:        b.UserID,
				Symbol:        b.Symbol,
				TradeType:     tradeType,
				EntryPrice:    front.price,
				ExitPrice:     decimal.NewNullDecimal(tx.Price),
				Quantity:      matched,
				EntryDate:     front.date,
				ExitDate:      &exitDate,
				Commissions:   commissions,
				BrokerageName: front.brokerage,
				Currency:      front.currency,
				Source:        trade.SourceSync,

				EntryTransactionID: front.entryTx,
				ExitTransactionID:  tx.ID,
			})

			if !front.alloc.remaining.IsPositive() {
				queue = queue[1:]
			}
		}

		if sell.remaining.IsPositive() {
			matchedFraction := tx.Quantity.Sub(sell.remaining).Div(tx.Quantity)
			plan.Unmatched = append(plan.Unmatched, unmatched.CreateParams{
				UserID:              b.UserID,
				SourceTransactionID: tx.ID,
				Symbol:              b.Symbol,
				Side:                transaction.SideSell,
				Quantity:            sell.remaining,
				Price:               tx.Price,
				Fee:                 sell.feeLeft,
				TradeDate:           tx.TradeDate,
				BrokerageName:       tx.BrokerageName,
				Currency:            tx.Currency,
				IsOption:            b.IsOption,
				DifficultyReason:    unmatched.ReasonInsufficientHistory,
				ConfidenceScore:     matchedFraction.InexactFloat64(),
			})
		}
	}

	for _, l := range seeds {
		if l.alloc.remaining.LessThan(l.alloc.quantity) {
			plan.Reductions = append(plan.Reductions, Reduction{
				TradeID:     l.seedID,
				Quantity:    l.alloc.remaining,
				Commissions: l.alloc.feeLeft,
			})
		}
	}

	for _, l := range queue {
		if l.seedID != "" {
			continue
		}
		plan.Opened = append(plan.Opened, trade.CreateParams{
			UserID:        b.UserID,
			Symbol:        b.Symbol,
			TradeType:     tradeType,
			EntryPrice:    l.price,
			Quantity:      l.alloc.remaining,
			EntryDate:     l.date,
			Commissions:   l.alloc.feeLeft,
			BrokerageName: l.brokerage,
			Currency:      l.currency,
			Source:        trade.SourceSync,

			EntryTransactionID: l.entryTx,
		})
	}

	return plan
}

// sellBacklog is the quantity of earlier unmatched sells not yet claimed by
// a queued buy, oldest sell first.
type sellBacklog []*pendingSell

type pendingSell struct {
	date      time.Time
	remaining decimal.Decimal
}

func newSellBacklog(rows []*unmatched.Transaction) sellBacklog {
	var b sellBacklog
	for _, r := range rows {
		if r.Side == transaction.SideSell && r.Quantity.IsPositive() {
			b = append(b, &pendingSell{date: r.TradeDate, remaining: r.Quantity})
		}
	}
	sort.SliceStable(b, func(i, j int) bool { return b[i].date.Before(b[j].date) })
	return b
}

// claim reports whether the buy belongs in the queue next to an earlier
// unmatched sell dated on or after it, and charges that sell's backlog.
func (b sellBacklog) claim(tx *transaction.RawTransaction) bool {
	for _, s := range b {
		if !s.remaining.IsPositive() || s.date.Before(tx.TradeDate) {
			continue
		}
		s.remaining = s.remaining.Sub(decimal.Min(s.remaining, tx.Quantity))
		return true
	}
	return false
}

type partitionKey struct {
	symbol   string
	isOption bool
}

// partition groups raw transactions by (symbol, option flag) and attaches
// the open positions and pending unmatched sells of the same partition.
// Transactions in linked go to Replayed. Partitions without raw transactions
// are left out. The result is ordered by symbol, stocks first.
func partition(userID int64, txs []*transaction.RawTransaction, open []*trade.Trade,
	pending []*unmatched.Transaction, linked map[string]bool) []Batch {
	byKey := make(map[partitionKey]*Batch)
	for _, t := range txs {
		k := partitionKey{symbol: t.Symbol, isOption: t.IsOption()}
		b, ok := byKey[k]
		if !ok {
			b = &Batch{UserID: userID, Symbol: k.symbol, IsOption: k.isOption}
			byKey[k] = b
		}
		if linked[t.ID] {
			b.Replayed = append(b.Replayed, t.ID)
			continue
		}
		b.Transactions = append(b.Transactions, t)
	}
	for _, p := range open {
		k := partitionKey{symbol: p.Symbol, isOption: p.TradeType == trade.TypeOption}
		if b, ok := byKey[k]; ok {
			b.OpenPositions = append(b.OpenPositions, p)
		}
	}
	for _, u := range pending {
		k := partitionKey{symbol: u.Symbol, isOption: u.IsOption}
		if b, ok := byKey[k]; ok && u.Side == transaction.SideSell {
			b.PendingSells = append(b.PendingSells, u)
		}
	}

	batches := make([]Batch, 0, len(byKey))
	for _, b := range byKey {
		batches = append(batches, *b)
	}
	sort.Slice(batches, func(i, j int) bool {
		if batches[i].Symbol != batches[j].Symbol {
			return batches[i].Symbol < batches[j].Symbol
		}
		return !batches[i].IsOption && batches[j].IsOption
	})
	return batches
}
