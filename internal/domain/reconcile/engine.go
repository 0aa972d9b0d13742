package reconcile

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"tradstry/internal/domain/ledger"
	"tradstry/internal/domain/trade"
	"tradstry/internal/domain/transaction"
)

var (
	reconcileTracer       = otel.Tracer("tradstry/reconcile")
	reconcileMeter        = otel.Meter("tradstry/reconcile")
	passDuration, _       = reconcileMeter.Float64Histogram("reconcile.pass.duration", metric.WithDescription("Reconciliation pass duration in seconds"), metric.WithUnit("s"))
	tradesCreatedTotal, _ = reconcileMeter.Int64Counter("reconcile.trades.created", metric.WithDescription("Trades and open positions created by kind"))
	unmatchedTotal, _     = reconcileMeter.Int64Counter("reconcile.unmatched.created", metric.WithDescription("Transactions queued for manual resolution"))
	failedSymbolsTotal, _ = reconcileMeter.Int64Counter("reconcile.symbols.failed", metric.WithDescription("Symbol batches that failed to persist"))
)

// Locker excludes reconciliation passes for the same user running in other
// processes. acquired is false when another holder has the lock.
type Locker interface {
	TryLock(ctx context.Context, userID int64) (release func(), acquired bool, err error)
}

// Engine turns a user's untransformed raw transactions into trades, open
// positions and unmatched transactions.
type Engine struct {
	repos   ledger.Repositories
	tx      ledger.TxManager
	store   *trade.Store
	locker  Locker
	permits *permits
}

// NewEngine creates a reconciliation engine. locker may be nil, in which
// case only in-process exclusion applies.
func NewEngine(repos ledger.Repositories, tx ledger.TxManager, store *trade.Store, locker Locker) *Engine {
	return &Engine{
		repos:   repos,
		tx:      tx,
		store:   store,
		locker:  locker,
		permits: newPermits(),
	}
}

// Run reconciles one user. If a pass for the user is already in flight the
// call returns a coalesced summary immediately and the running pass repeats
// once when it finishes.
func (e *Engine) Run(ctx context.Context, userID int64) (*Summary, error) {
	if !e.permits.acquire(userID) {
		log.Printf("User %d: reconciliation already running, trigger coalesced", userID)
		return &Summary{UserID: userID, Coalesced: true, Errors: []string{}}, nil
	}

	held := true
	defer func() {
		// Also reached when a pass panics.
		if held {
			e.permits.release(userID)
		}
	}()

	total := &Summary{UserID: userID, Errors: []string{}}
	for {
		s, err := e.pass(ctx, userID)
		if err != nil {
			return nil, err
		}
		total.add(s)

		if !e.permits.next(userID) {
			held = false
			return total, nil
		}
		log.Printf("User %d: running coalesced reconciliation pass", userID)
	}
}

func (e *Engine) pass(ctx context.Context, userID int64) (*Summary, error) {
	ctx, span := reconcileTracer.Start(ctx, "reconcile.pass",
		trace.WithAttributes(attribute.Int64("user.id", userID)),
	)
	defer span.End()
	start := time.Now()
	defer func() { passDuration.Record(ctx, time.Since(start).Seconds()) }()

	summary := &Summary{UserID: userID, Passes: 1, Errors: []string{}}

	if e.locker != nil {
		release, acquired, err := e.locker.TryLock(ctx, userID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("acquire reconcile lock: %w", err)
		}
		if !acquired {
			log.Printf("User %d: reconciliation locked by another process, skipping", userID)
			summary.Coalesced = true
			return summary, nil
		}
		defer release()
	}

	txs, err := e.repos.Transactions.ListUntransformedByUserID(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list untransformed transactions: %w", err)
	}
	summary.TransactionsRead = len(txs)
	if len(txs) == 0 {
		return summary, nil
	}

	open, err := e.repos.Trades.ListOpenPositions(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list open positions: %w", err)
	}

	linked, err := e.linkedTransactions(ctx, userID, txs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	pending, err := e.repos.Unmatched.ListPendingByUserID(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list pending unmatched: %w", err)
	}

	for _, batch := range partition(userID, txs, open, pending, linked) {
		if err := ctx.Err(); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("pass interrupted before %s: %v", batch.Symbol, err))
			break
		}

		plan := Match(batch)
		res, err := e.commit(ctx, plan)
		if err != nil {
			// Nothing of this symbol was written; the next pass retries it.
			log.Printf("User %d: failed to persist %s batch: %v", userID, batch.Symbol, err)
			summary.FailedSymbols++
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", batch.Symbol, err))
			failedSymbolsTotal.Add(ctx, 1)
			continue
		}

		summary.SymbolsProcessed++
		summary.TradesCreated += res.closed
		summary.OpenPositionsCreated += res.opened
		summary.PositionsReduced += res.reduced
		summary.PositionsClosed += res.exhausted
		summary.DuplicatesSkipped += res.duplicates
		summary.UnmatchedCreated += res.unmatched
		summary.TransactionsTransformed += res.transformed
		summary.ReplaysSkipped += len(batch.Replayed)

		tradesCreatedTotal.Add(ctx, int64(res.closed), metric.WithAttributes(attribute.String("kind", "closed")))
		tradesCreatedTotal.Add(ctx, int64(res.opened), metric.WithAttributes(attribute.String("kind", "open")))
		unmatchedTotal.Add(ctx, int64(res.unmatched))

		e.store.Index(ctx, res.created...)
	}

	log.Printf("User %d: reconciliation pass done: read=%d trades=%d open=%d unmatched=%d duplicates=%d replays=%d failedSymbols=%d",
		userID, summary.TransactionsRead, summary.TradesCreated, summary.OpenPositionsCreated,
		summary.UnmatchedCreated, summary.DuplicatesSkipped, summary.ReplaysSkipped, summary.FailedSymbols)

	return summary, nil
}

// linkedTransactions returns the ids of txs that an earlier pass already
// turned into trades or queued rows. Such rows are re-selected only when
// their transformed flag was lost.
func (e *Engine) linkedTransactions(ctx context.Context, userID int64, txs []*transaction.RawTransaction) (map[string]bool, error) {
	ids := make([]string, len(txs))
	for i, t := range txs {
		ids[i] = t.ID
	}

	fromTrades, err := e.repos.Trades.LinkedTransactionIDs(ctx, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("find replayed transactions: %w", err)
	}
	fromQueue, err := e.repos.Unmatched.LinkedTransactionIDs(ctx, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("find replayed transactions: %w", err)
	}

	linked := make(map[string]bool, len(fromTrades)+len(fromQueue))
	for _, id := range fromTrades {
		linked[id] = true
	}
	for _, id := range fromQueue {
		linked[id] = true
	}
	return linked, nil
}

type commitResult struct {
	closed      int
	opened      int
	reduced     int
	exhausted   int
	duplicates  int
	unmatched   int
	transformed int
	created     []*trade.Trade
}

// commit writes one plan atomically. Open-position reductions go first so a
// fully consumed position is soft-deleted before its successors are inserted.
// Fingerprints are deduplicated against trades that predate the commit only.
func (e *Engine) commit(ctx context.Context, plan *Plan) (*commitResult, error) {
	res := &commitResult{}

	err := e.tx.WithinTx(ctx, func(ctx context.Context, repos ledger.Repositories) error {
		// Reset in case the manager retries fn.
		*res = commitResult{}
		store := e.store.WithRepository(repos.Trades).Session()

		for _, r := range plan.Reductions {
			if r.Exhausted() {
				if err := repos.Trades.SoftDelete(ctx, r.TradeID); err != nil {
					return fmt.Errorf("close position %s: %w", r.TradeID, err)
				}
				res.exhausted++
				continue
			}
			if err := repos.Trades.ReducePosition(ctx, r.TradeID, r.Quantity, r.Commissions); err != nil {
				return fmt.Errorf("reduce position %s: %w", r.TradeID, err)
			}
			res.reduced++
		}

		for _, p := range plan.Closed {
			t, created, err := store.Create(ctx, p)
			if err != nil {
				return err
			}
			if !created {
				res.duplicates++
				continue
			}
			res.closed++
			res.created = append(res.created, t)
		}

		for _, p := range plan.Opened {
			t, created, err := store.Create(ctx, p)
			if err != nil {
				return err
			}
			if !created {
				res.duplicates++
				continue
			}
			res.opened++
			res.created = append(res.created, t)
		}

		for _, u := range plan.Unmatched {
			created, err := repos.Unmatched.Create(ctx, u)
			if err != nil {
				return fmt.Errorf("queue unmatched %s: %w", u.SourceTransactionID, err)
			}
			if created {
				res.unmatched++
			} else {
				res.duplicates++
			}
		}

		if len(plan.Consumed) > 0 {
			n, err := repos.Transactions.MarkTransformed(ctx, plan.Consumed)
			if err != nil {
				return fmt.Errorf("mark transformed: %w", err)
			}
			res.transformed = int(n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
