package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradstry/internal/domain/ledger"
	"tradstry/internal/domain/resolver"
	"tradstry/internal/domain/trade"
	"tradstry/internal/domain/transaction"
	"tradstry/internal/domain/unmatched"
)

// memState is an in-memory ledger with transaction rollback.
type memState struct {
	mu         sync.Mutex
	raws       []*transaction.RawTransaction
	trades     map[string]*trade.Trade
	unmatched  map[string]*unmatched.Transaction // by source transaction id
	nextID     int
	failSymbol string
	beforeTx   func()
}

func newMemState(raws ...*transaction.RawTransaction) *memState {
	return &memState{raws: raws, trades: map[string]*trade.Trade{}, unmatched: map[string]*unmatched.Transaction{}}
}

func (s *memState) repos() ledger.Repositories {
	return ledger.Repositories{
		Transactions: &memTransactions{s},
		Trades:       &memTrades{s},
		Unmatched:    &memUnmatched{s},
	}
}

func (s *memState) WithinTx(ctx context.Context, fn func(ctx context.Context, repos ledger.Repositories) error) error {
	if s.beforeTx != nil {
		s.beforeTx()
	}

	s.mu.Lock()
	trades := make(map[string]trade.Trade, len(s.trades))
	for id, t := range s.trades {
		trades[id] = *t
	}
	transformed := make([]bool, len(s.raws))
	for i, r := range s.raws {
		transformed[i] = r.Transformed
	}
	queued := make(map[string]unmatched.Transaction, len(s.unmatched))
	for k, v := range s.unmatched {
		queued[k] = *v
	}
	s.mu.Unlock()

	if err := fn(ctx, s.repos()); err != nil {
		s.mu.Lock()
		s.trades = make(map[string]*trade.Trade, len(trades))
		for id, t := range trades {
			t := t
			s.trades[id] = &t
		}
		for i, r := range s.raws {
			r.Transformed = transformed[i]
		}
		s.unmatched = make(map[string]*unmatched.Transaction, len(queued))
		for k, v := range queued {
			v := v
			s.unmatched[k] = &v
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memState) live() []*trade.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*trade.Trade
	for _, t := range s.trades {
		if t.DeletedAt == nil {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type memTransactions struct{ s *memState }

func (m *memTransactions) Insert(ctx context.Context, p transaction.IngestParams) (bool, error) {
	return false, errors.New("not used")
}

func (m *memTransactions) ListUntransformedByUserID(ctx context.Context, userID int64) ([]*transaction.RawTransaction, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*transaction.RawTransaction
	for _, r := range m.s.raws {
		if r.UserID == userID && !r.Transformed {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memTransactions) MarkTransformed(ctx context.Context, ids []string) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var n int64
	for _, r := range m.s.raws {
		if want[r.ID] && !r.Transformed {
			r.Transformed = true
			n++
		}
	}
	return n, nil
}

type memTrades struct{ s *memState }

func (m *memTrades) Create(ctx context.Context, p trade.CreateParams) (*trade.Trade, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if p.Symbol == m.s.failSymbol {
		return nil, errors.New("disk full")
	}
	m.s.nextID++
	t := &trade.Trade{
		ID: fmt.Sprintf("trade-%03d", m.s.nextID), UserID: p.UserID, Symbol: p.Symbol, TradeType: p.TradeType,
		EntryPrice: p.EntryPrice, ExitPrice: p.ExitPrice, Quantity: p.Quantity, EntryDate: p.EntryDate,
		ExitDate: p.ExitDate, Commissions: p.Commissions, BrokerageName: p.BrokerageName,
		Currency: p.Currency, Source: p.Source,
		EntryTransactionID: p.EntryTransactionID, ExitTransactionID: p.ExitTransactionID,
	}
	m.s.trades[t.ID] = t
	return t, nil
}

func (m *memTrades) GetByID(ctx context.Context, id string) (*trade.Trade, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if t, ok := m.s.trades[id]; ok {
		return t, nil
	}
	return nil, trade.ErrTradeNotFound
}

func (m *memTrades) FindByFingerprint(ctx context.Context, userID int64, fp trade.Fingerprint) (*trade.Trade, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, t := range m.s.trades {
		if t.UserID == userID && t.DeletedAt == nil && t.Fingerprint().Key() == fp.Key() {
			return t, nil
		}
	}
	return nil, nil
}

func (m *memTrades) LinkedTransactionIDs(ctx context.Context, userID int64, txIDs []string) ([]string, error) {
	want := map[string]bool{}
	for _, id := range txIDs {
		want[id] = true
	}
	seen := map[string]bool{}
	var out []string
	for _, t := range m.s.live() {
		for _, id := range []string{t.EntryTransactionID, t.ExitTransactionID} {
			if t.UserID == userID && want[id] && !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out, nil
}

func (m *memTrades) ListOpenPositions(ctx context.Context, userID int64) ([]*trade.Trade, error) {
	var out []*trade.Trade
	for _, t := range m.s.live() {
		if t.UserID == userID && t.IsOpen() {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTrades) ReducePosition(ctx context.Context, id string, qty, commissions decimal.Decimal) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	t := m.s.trades[id]
	t.Quantity, t.Commissions = qty, commissions
	return nil
}

func (m *memTrades) SoftDelete(ctx context.Context, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	now := time.Now()
	m.s.trades[id].DeletedAt = &now
	return nil
}

type memUnmatched struct{ s *memState }

func (m *memUnmatched) Create(ctx context.Context, p unmatched.CreateParams) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.unmatched[p.SourceTransactionID]; ok {
		return false, nil
	}
	m.s.unmatched[p.SourceTransactionID] = &unmatched.Transaction{
		ID: "um-" + p.SourceTransactionID, UserID: p.UserID, SourceTransactionID: p.SourceTransactionID,
		Symbol: p.Symbol, Side: p.Side, Quantity: p.Quantity, Price: p.Price, Fee: p.Fee,
		TradeDate: p.TradeDate, BrokerageName: p.BrokerageName, Currency: p.Currency,
		IsOption: p.IsOption, DifficultyReason: p.DifficultyReason, ConfidenceScore: p.ConfidenceScore,
		Status: unmatched.StatusPending,
	}
	return true, nil
}

// row returns the stored row by id. Callers hold the lock.
func (m *memUnmatched) row(id string) *unmatched.Transaction {
	for _, u := range m.s.unmatched {
		if u.ID == id {
			return u
		}
	}
	return nil
}

func (m *memUnmatched) GetByID(ctx context.Context, id string) (*unmatched.Transaction, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u := m.row(id)
	if u == nil {
		return nil, unmatched.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUnmatched) LinkedTransactionIDs(ctx context.Context, userID int64, txIDs []string) ([]string, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []string
	for _, id := range txIDs {
		if u, ok := m.s.unmatched[id]; ok && u.UserID == userID {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *memUnmatched) pending(userID int64, keep func(*unmatched.Transaction) bool) []*unmatched.Transaction {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*unmatched.Transaction
	for _, u := range m.s.unmatched {
		if u.UserID == userID && u.IsPending() && keep(u) {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TradeDate.Before(out[j].TradeDate) })
	return out
}

func (m *memUnmatched) ListPendingByUserID(ctx context.Context, userID int64) ([]*unmatched.Transaction, error) {
	out := m.pending(userID, func(*unmatched.Transaction) bool { return true })
	sort.SliceStable(out, func(i, j int) bool { return out[i].TradeDate.After(out[j].TradeDate) })
	return out, nil
}

func (m *memUnmatched) ListPendingCandidates(ctx context.Context, userID int64, symbol string, side transaction.Side, excludeID string) ([]*unmatched.Transaction, error) {
	return m.pending(userID, func(u *unmatched.Transaction) bool {
		return u.Symbol == symbol && u.Side == side && u.ID != excludeID
	}), nil
}

func (m *memUnmatched) SetSuggestions(ctx context.Context, id string, ids []string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if u := m.row(id); u != nil {
		u.SuggestedMatches = ids
	}
	return nil
}

func (m *memUnmatched) Resolve(ctx context.Context, id, tradeID string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u := m.row(id)
	if u == nil || !u.IsPending() {
		return unmatched.ErrNotFound
	}
	u.Status, u.ResolvedTradeID, u.ResolvedAt = unmatched.StatusResolved, &tradeID, &at
	return nil
}

func (m *memUnmatched) Ignore(ctx context.Context, id string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u := m.row(id)
	if u == nil || !u.IsPending() {
		return unmatched.ErrNotFound
	}
	u.Status = unmatched.StatusIgnored
	return nil
}

func (m *memUnmatched) Reduce(ctx context.Context, id string, qty, fee decimal.Decimal) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if u := m.row(id); u != nil {
		u.Quantity, u.Fee = qty, fee
	}
	return nil
}

type countingIndexer struct {
	mu  sync.Mutex
	ids []string
	wg  *sync.WaitGroup
}

func (c *countingIndexer) Index(ctx context.Context, userID int64, tradeID, text string) error {
	c.mu.Lock()
	c.ids = append(c.ids, tradeID)
	c.mu.Unlock()
	c.wg.Done()
	return nil
}

func newEngine(s *memState, idx trade.Indexer, locker Locker) *Engine {
	repos := s.repos()
	return NewEngine(repos, s, trade.NewStore(repos.Trades, idx), locker)
}

func TestEngine_RunIsIdempotent(t *testing.T) {
	s := newMemState(
		buy("b1", "100", "10", "1", day(0)),
		buy("b2", "50", "12", "0.5", day(1)),
		sell("s1", "120", "15", "1.2", day(2)),
	)
	e := newEngine(s, nil, nil)

	first, err := e.Run(context.Background(), 1)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if first.TradesCreated != 2 || first.OpenPositionsCreated != 1 || first.TransactionsTransformed != 3 {
		t.Errorf("first summary = %+v", first)
	}
	if len(s.live()) != 3 {
		t.Fatalf("got %d trades, want 3", len(s.live()))
	}

	second, err := e.Run(context.Background(), 1)
	if err != nil {
		t.Fatalf("second Run() failed: %v", err)
	}
	if second.TransactionsRead != 0 || second.TradesCreated != 0 || second.OpenPositionsCreated != 0 {
		t.Errorf("second summary = %+v, want no new work", second)
	}
	if len(s.live()) != 3 {
		t.Errorf("got %d trades after rerun, want 3", len(s.live()))
	}
}

func TestEngine_LaterSellConsumesEarlierOpenPosition(t *testing.T) {
	s := newMemState(buy("b1", "100", "10", "1", day(0)))
	e := newEngine(s, nil, nil)

	if _, err := e.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	s.mu.Lock()
	s.raws = append(s.raws, sell("s1", "40", "12", "0.4", day(3)))
	s.mu.Unlock()

	summary, err := e.Run(context.Background(), 1)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if summary.TradesCreated != 1 || summary.PositionsReduced != 1 || summary.UnmatchedCreated != 0 {
		t.Errorf("summary = %+v", summary)
	}

	var open, closed *trade.Trade
	for _, tr := range s.live() {
		if tr.IsOpen() {
			open = tr
		} else {
			closed = tr
		}
	}
	if open == nil || closed == nil {
		t.Fatalf("trades = %+v", s.live())
	}
	assertDec(t, "open.Quantity", open.Quantity, "60")
	assertDec(t, "open.Commissions", open.Commissions, "0.6")
	assertDec(t, "closed.Quantity", closed.Quantity, "40")
	assertDec(t, "closed.Commissions", closed.Commissions, "0.8")
}

func TestEngine_SymbolFailureDoesNotAbortPass(t *testing.T) {
	msftBuy := buy("m1", "5", "300", "0", day(0))
	msftBuy.Symbol = "MSFT"
	s := newMemState(buy("a1", "10", "10", "0", day(0)), msftBuy)
	s.failSymbol = "MSFT"
	e := newEngine(s, nil, nil)

	summary, err := e.Run(context.Background(), 1)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if summary.FailedSymbols != 1 || summary.SymbolsProcessed != 1 || len(summary.Errors) != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if !s.raws[0].Transformed {
		t.Error("AAPL transaction should be transformed")
	}
	if s.raws[1].Transformed {
		t.Error("failed MSFT batch must stay untransformed for the next pass")
	}
}

func TestEngine_UnmatchedSellIsQueued(t *testing.T) {
	tsla := sell("t1", "50", "200", "0", day(0))
	tsla.Symbol = "TSLA"
	s := newMemState(tsla)

	summary, err := newEngine(s, nil, nil).Run(context.Background(), 1)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if summary.UnmatchedCreated != 1 || summary.TradesCreated != 0 {
		t.Errorf("summary = %+v", summary)
	}
	if _, ok := s.unmatched["raw-t1"]; !ok {
		t.Error("TSLA sell was not queued")
	}
}

func TestEngine_IndexesCreatedTrades(t *testing.T) {
	s := newMemState(buy("b1", "1", "10", "0", day(0)), buy("b2", "1", "11", "0", day(1)))
	wg := &sync.WaitGroup{}
	wg.Add(2)
	idx := &countingIndexer{wg: wg}

	if _, err := newEngine(s, idx, nil).Run(context.Background(), 1); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("indexer not called for each created trade")
	}
}

func TestEngine_CoalescesConcurrentTriggers(t *testing.T) {
	s := newMemState(buy("b1", "1", "10", "0", day(0)))
	entered := make(chan struct{})
	proceed := make(chan struct{})
	var once sync.Once
	s.beforeTx = func() {
		once.Do(func() {
			close(entered)
			<-proceed
		})
	}
	e := newEngine(s, nil, nil)

	type result struct {
		s   *Summary
		err error
	}
	firstDone := make(chan result, 1)
	go func() {
		sum, err := e.Run(context.Background(), 1)
		firstDone <- result{sum, err}
	}()

	<-entered
	second, err := e.Run(context.Background(), 1)
	if err != nil {
		t.Fatalf("second Run() failed: %v", err)
	}
	if !second.Coalesced || second.Passes != 0 {
		t.Errorf("second summary = %+v, want coalesced without a pass", second)
	}
	close(proceed)

	first := <-firstDone
	if first.err != nil {
		t.Fatalf("first Run() failed: %v", first.err)
	}
	if first.s.Passes != 2 {
		t.Errorf("first Passes = %d, want 2 (one follow-up for the coalesced trigger)", first.s.Passes)
	}
	if first.s.OpenPositionsCreated != 1 {
		t.Errorf("first summary = %+v", first.s)
	}

	// The permit is released once the holder finishes.
	third, err := e.Run(context.Background(), 1)
	if err != nil || third.Coalesced {
		t.Errorf("third Run() = %+v, %v, want a normal pass", third, err)
	}
}

type stubLocker struct {
	acquired bool
	released bool
}

func (l *stubLocker) TryLock(ctx context.Context, userID int64) (func(), bool, error) {
	if !l.acquired {
		return nil, false, nil
	}
	return func() { l.released = true }, true, nil
}

func TestEngine_AdvisoryLockHeldElsewhere(t *testing.T) {
	s := newMemState(buy("b1", "1", "10", "0", day(0)))
	summary, err := newEngine(s, nil, &stubLocker{acquired: false}).Run(context.Background(), 1)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if !summary.Coalesced || summary.TransactionsRead != 0 {
		t.Errorf("summary = %+v, want coalesced without reading", summary)
	}
	if s.raws[0].Transformed {
		t.Error("no work may happen without the lock")
	}
}

func TestEngine_AdvisoryLockReleased(t *testing.T) {
	s := newMemState(buy("b1", "1", "10", "0", day(0)))
	l := &stubLocker{acquired: true}
	if _, err := newEngine(s, nil, l).Run(context.Background(), 1); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if !l.released {
		t.Error("advisory lock was not released")
	}
}

// quantities sums the live closed and open trade quantities.
func quantities(s *memState) (closed, open decimal.Decimal) {
	for _, tr := range s.live() {
		if tr.IsOpen() {
			open = open.Add(tr.Quantity)
		} else {
			closed = closed.Add(tr.Quantity)
		}
	}
	return closed, open
}

func resetTransformed(s *memState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.raws {
		r.Transformed = false
	}
}

func TestEngine_ReselectedTransactionsAreNotReapplied(t *testing.T) {
	tests := []struct {
		name       string
		passes     [][]*transaction.RawTransaction
		wantClosed string
		wantOpen   string
	}{
		{
			name: "single pass",
			passes: [][]*transaction.RawTransaction{{
				buy("b1", "100", "10", "1", day(0)),
				buy("b2", "50", "12", "0.5", day(1)),
				sell("s1", "120", "15", "1.2", day(2)),
			}},
			wantClosed: "120",
			wantOpen:   "30",
		},
		{
			name: "sell against a seeded position",
			passes: [][]*transaction.RawTransaction{
				{buy("b1", "100", "10", "1", day(0))},
				{sell("s1", "70", "12", "0.7", day(3))},
			},
			wantClosed: "70",
			wantOpen:   "30",
		},
		{
			name: "unmatched remainder",
			passes: [][]*transaction.RawTransaction{
				{buy("b1", "10", "10", "0", day(0))},
				{sell("s1", "25", "12", "0", day(3))},
			},
			wantClosed: "10",
			wantOpen:   "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newMemState()
			e := newEngine(s, nil, nil)
			for _, raws := range tt.passes {
				s.mu.Lock()
				s.raws = append(s.raws, raws...)
				s.mu.Unlock()
				if _, err := e.Run(context.Background(), 1); err != nil {
					t.Fatalf("Run() failed: %v", err)
				}
			}
			before := len(s.live())
			queued := len(s.unmatched)

			resetTransformed(s)
			summary, err := e.Run(context.Background(), 1)
			if err != nil {
				t.Fatalf("replay Run() failed: %v", err)
			}

			if summary.ReplaysSkipped != len(s.raws) || summary.TradesCreated != 0 ||
				summary.OpenPositionsCreated != 0 || summary.PositionsReduced != 0 || summary.UnmatchedCreated != 0 {
				t.Errorf("replay summary = %+v, want every transaction skipped", summary)
			}
			for _, r := range s.raws {
				if !r.Transformed {
					t.Errorf("%s not marked transformed after replay", r.ID)
				}
			}
			if len(s.live()) != before || len(s.unmatched) != queued {
				t.Errorf("replay changed state: trades %d -> %d, unmatched %d -> %d",
					before, len(s.live()), queued, len(s.unmatched))
			}
			closed, open := quantities(s)
			assertDec(t, "closed quantity", closed, tt.wantClosed)
			assertDec(t, "open quantity", open, tt.wantOpen)
		})
	}
}

func TestEngine_IdenticalLotsAreKept(t *testing.T) {
	s := newMemState(
		buy("b1", "10", "100", "1", day(0)),
		buy("b2", "10", "100", "1", day(0)),
	)
	e := newEngine(s, nil, nil)

	summary, err := e.Run(context.Background(), 1)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if summary.OpenPositionsCreated != 2 || summary.DuplicatesSkipped != 0 {
		t.Errorf("summary = %+v, want two open positions", summary)
	}
	_, open := quantities(s)
	assertDec(t, "open quantity", open, "20")

	s.mu.Lock()
	s.raws = append(s.raws, sell("s1", "20", "110", "2", day(1)))
	s.mu.Unlock()

	summary, err = e.Run(context.Background(), 1)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if summary.TradesCreated != 2 || summary.PositionsClosed != 2 || summary.UnmatchedCreated != 0 {
		t.Errorf("summary = %+v, want both lots closed", summary)
	}
	closed, open := quantities(s)
	assertDec(t, "closed quantity", closed, "20")
	assertDec(t, "open quantity", open, "0")
}

func TestEngine_BackfilledBuyIsResolvable(t *testing.T) {
	tests := []struct {
		name     string
		req      func(sellID string) resolver.ResolveRequest
		wantOpen bool
		wantSell unmatched.Status
	}{
		{
			name: "merge with the queued sell",
			req: func(sellID string) resolver.ResolveRequest {
				return resolver.ResolveRequest{Action: resolver.ActionMerge, TargetID: sellID}
			},
			wantOpen: false,
			wantSell: unmatched.StatusResolved,
		},
		{
			name: "open as an unrelated position",
			req: func(string) resolver.ResolveRequest {
				return resolver.ResolveRequest{Action: resolver.ActionCreateOpen}
			},
			wantOpen: true,
			wantSell: unmatched.StatusPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newMemState(sell("s1", "50", "200", "1", day(5)))
			e := newEngine(s, nil, nil)
			ctx := context.Background()

			if _, err := e.Run(ctx, 1); err != nil {
				t.Fatalf("Run() failed: %v", err)
			}

			s.mu.Lock()
			s.raws = append(s.raws, buy("b1", "50", "150", "0.5", day(2)))
			s.mu.Unlock()

			summary, err := e.Run(ctx, 1)
			if err != nil {
				t.Fatalf("Run() failed: %v", err)
			}
			if summary.UnmatchedCreated != 1 || summary.OpenPositionsCreated != 0 {
				t.Fatalf("summary = %+v, want the buy queued", summary)
			}
			buyRow, sellRow := s.unmatched["raw-b1"], s.unmatched["raw-s1"]
			if buyRow == nil || buyRow.Side != transaction.SideBuy {
				t.Fatalf("queued buy = %+v", buyRow)
			}

			repos := s.repos()
			svc := resolver.NewService(repos, s, trade.NewStore(repos.Trades, nil))

			suggestions, err := svc.Suggest(ctx, 1, buyRow.ID)
			if err != nil {
				t.Fatalf("Suggest() failed: %v", err)
			}
			if len(suggestions) != 1 || suggestions[0].Transaction.ID != sellRow.ID {
				t.Fatalf("suggestions = %+v, want the queued sell", suggestions)
			}

			res, err := svc.Resolve(ctx, 1, buyRow.ID, tt.req(sellRow.ID))
			if err != nil {
				t.Fatalf("Resolve() failed: %v", err)
			}
			if res.Trade.IsOpen() != tt.wantOpen || res.Trade.Source != trade.SourceManual {
				t.Errorf("trade = %+v, want open=%v manual", res.Trade, tt.wantOpen)
			}
			assertDec(t, "trade.Quantity", res.Trade.Quantity, "50")
			if res.Transaction.Status != unmatched.StatusResolved {
				t.Errorf("buy status = %q, want resolved", res.Transaction.Status)
			}
			if got := s.unmatched["raw-s1"].Status; got != tt.wantSell {
				t.Errorf("sell status = %q, want %q", got, tt.wantSell)
			}
		})
	}
}

func TestEngine_PanicReleasesPermit(t *testing.T) {
	s := newMemState(buy("b1", "1", "10", "0", day(0)))
	var once sync.Once
	s.beforeTx = func() {
		once.Do(func() { panic("driver bug") })
	}
	e := newEngine(s, nil, nil)

	func() {
		defer func() {
			if recover() == nil {
				t.Error("Run() did not panic")
			}
		}()
		_, _ = e.Run(context.Background(), 1)
	}()

	summary, err := e.Run(context.Background(), 1)
	if err != nil {
		t.Fatalf("Run() after panic failed: %v", err)
	}
	if summary.Coalesced || summary.OpenPositionsCreated != 1 {
		t.Errorf("summary = %+v, want a normal pass", summary)
	}
}
