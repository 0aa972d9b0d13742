// Package resolver turns queued unmatched transactions into manual trades,
// or ignores them.
package resolver

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"

	"tradstry/internal/domain/ledger"
	"tradstry/internal/domain/trade"
	"tradstry/internal/domain/transaction"
	"tradstry/internal/domain/unmatched"
)

type Action string

const (
	ActionMerge      Action = "merge"
	ActionCreateOpen Action = "create_open"
)

// ResolveRequest selects how a pending row is resolved. TargetID is the
// counterpart row for a merge.
type ResolveRequest struct {
	Action   Action `json:"action"`
	TargetID string `json:"targetId,omitempty"`
}

// Suggestion is a merge candidate with a similarity score in [0,1].
type Suggestion struct {
	Transaction *unmatched.Transaction `json:"transaction"`
	Score       float64                `json:"score"`
}

// Resolution is the outcome of a successful resolve.
type Resolution struct {
	Transaction *unmatched.Transaction `json:"transaction"`
	Trade       *trade.Trade           `json:"trade"`
}

const (
	quantityWeight = 0.7
	brokerWeight   = 0.3
)

type Service struct {
	repos ledger.Repositories
	tx    ledger.TxManager
	store *trade.Store
	now   func() time.Time
}

func NewService(repos ledger.Repositories, tx ledger.TxManager, store *trade.Store) *Service {
	return &Service{repos: repos, tx: tx, store: store, now: time.Now}
}

// List returns the user's pending rows, newest trade date first.
func (s *Service) List(ctx context.Context, userID int64) ([]*unmatched.Transaction, error) {
	rows, err := s.repos.Unmatched.ListPendingByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list unmatched: %w", err)
	}
	return rows, nil
}

// Suggest returns pending opposite-side rows for the same symbol, oldest
// first, and records their ids on the row.
func (s *Service) Suggest(ctx context.Context, userID int64, id string) ([]Suggestion, error) {
	row, err := pending(ctx, s.repos.Unmatched, userID, id)
	if err != nil {
		return nil, err
	}

	candidates, err := s.repos.Unmatched.ListPendingCandidates(ctx, userID, row.Symbol, row.Side.Opposite(), row.ID)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	suggestions := make([]Suggestion, 0, len(candidates))
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c.IsOption != row.IsOption {
			continue
		}
		suggestions = append(suggestions, Suggestion{Transaction: c, Score: score(row, c)})
		ids = append(ids, c.ID)
	}

	if err := s.repos.Unmatched.SetSuggestions(ctx, row.ID, ids); err != nil {
		return nil, fmt.Errorf("record suggestions: %w", err)
	}
	return suggestions, nil
}

// Resolve applies req to the pending row. Nothing changes on error.
func (s *Service) Resolve(ctx context.Context, userID int64, id string, req ResolveRequest) (*Resolution, error) {
	row, err := pending(ctx, s.repos.Unmatched, userID, id)
	if err != nil {
		return nil, err
	}

	switch req.Action {
	case ActionCreateOpen:
		return s.createOpen(ctx, row)
	case ActionMerge:
		if req.TargetID == "" {
			return nil, fmt.Errorf("%w: merge requires a target transaction", unmatched.ErrInvalidAction)
		}
		if req.TargetID == row.ID {
			return nil, fmt.Errorf("%w: cannot merge a transaction with itself", unmatched.ErrInvalidAction)
		}
		target, err := pending(ctx, s.repos.Unmatched, userID, req.TargetID)
		if err != nil {
			return nil, err
		}
		return s.merge(ctx, row, target)
	default:
		return nil, fmt.Errorf("%w: %q", unmatched.ErrInvalidAction, req.Action)
	}
}

// Ignore moves the pending row to ignored without creating a trade.
func (s *Service) Ignore(ctx context.Context, userID int64, id string) error {
	row, err := pending(ctx, s.repos.Unmatched, userID, id)
	if err != nil {
		return err
	}
	if err := s.repos.Unmatched.Ignore(ctx, row.ID, s.now()); err != nil {
		return err
	}
	log.Printf("User %d: unmatched transaction %s ignored", userID, row.ID)
	return nil
}

func (s *Service) createOpen(ctx context.Context, row *unmatched.Transaction) (*Resolution, error) {
	if row.Side != transaction.SideBuy {
		return nil, fmt.Errorf("%w: create_open needs a BUY, got %s", unmatched.ErrInvalidAction, row.Side)
	}
	if row.IsOption {
		return nil, fmt.Errorf("%w: create_open is not available for options", unmatched.ErrInvalidAction)
	}

	params := trade.CreateParams{
		UserID:        row.UserID,
		Symbol:        row.Symbol,
		TradeType:     trade.TypeStock,
		EntryPrice:    row.Price,
		Quantity:      row.Quantity,
		EntryDate:     row.TradeDate,
		Commissions:   row.Fee,
		BrokerageName: row.BrokerageName,
		Currency:      row.Currency,
		Source:        trade.SourceManual,
	}

	return s.apply(ctx, row, params, func(ctx context.Context, repos ledger.Repositories, t *trade.Trade) error {
		return repos.Unmatched.Resolve(ctx, row.ID, t.ID, s.now())
	})
}

func (s *Service) merge(ctx context.Context, row, target *unmatched.Transaction) (*Resolution, error) {
	if target.Symbol != row.Symbol || target.IsOption != row.IsOption {
		return nil, fmt.Errorf("%w: merge target is a different instrument", unmatched.ErrInvalidAction)
	}
	if target.Side != row.Side.Opposite() {
		return nil, fmt.Errorf("%w: merge target must be on the opposite side", unmatched.ErrInvalidAction)
	}

	buy, sell := row, target
	if row.Side == transaction.SideSell {
		buy, sell = target, row
	}
	if buy.TradeDate.After(sell.TradeDate) {
		return nil, fmt.Errorf("%w: buy is dated after the sell", unmatched.ErrInvalidAction)
	}

	qty := decimal.Min(buy.Quantity, sell.Quantity)
	buyFee := prorate(buy, qty)
	sellFee := prorate(sell, qty)
	exitDate := sell.TradeDate

	tradeType := trade.TypeStock
	if row.IsOption {
		tradeType = trade.TypeOption
	}
	currency := buy.Currency
	if currency == "" {
		currency = sell.Currency
	}

	params := trade.CreateParams{
		UserID:        row.UserID,
		Symbol:        row.Symbol,
		TradeType:     tradeType,
		EntryPrice:    buy.Price,
		ExitPrice:     decimal.NewNullDecimal(sell.Price),
		Quantity:      qty,
		EntryDate:     buy.TradeDate,
		ExitDate:      &exitDate,
		Commissions:   buyFee.Add(sellFee),
		BrokerageName: buy.BrokerageName,
		Currency:      currency,
		Source:        trade.SourceManual,
	}

	return s.apply(ctx, row, params, func(ctx context.Context, repos ledger.Repositories, t *trade.Trade) error {
		at := s.now()
		for _, side := range []struct {
			u   *unmatched.Transaction
			fee decimal.Decimal
		}{{buy, buyFee}, {sell, sellFee}} {
			if side.u.Quantity.Equal(qty) {
				if err := repos.Unmatched.Resolve(ctx, side.u.ID, t.ID, at); err != nil {
					return fmt.Errorf("resolve %s: %w", side.u.ID, err)
				}
				continue
			}
			if err := repos.Unmatched.Reduce(ctx, side.u.ID, side.u.Quantity.Sub(qty), side.u.Fee.Sub(side.fee)); err != nil {
				return fmt.Errorf("reduce %s: %w", side.u.ID, err)
			}
		}
		return nil
	})
}

// apply creates the trade and runs settle in one transaction, then indexes
// the trade if it is new.
func (s *Service) apply(ctx context.Context, row *unmatched.Transaction, params trade.CreateParams,
	settle func(ctx context.Context, repos ledger.Repositories, t *trade.Trade) error) (*Resolution, error) {
	var (
		t       *trade.Trade
		created bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context, repos ledger.Repositories) error {
		var err error
		t, created, err = s.store.WithRepository(repos.Trades).Create(ctx, params)
		if err != nil {
			return err
		}
		return settle(ctx, repos, t)
	})
	if err != nil {
		return nil, err
	}

	if created {
		s.store.Index(ctx, t)
	}
	log.Printf("User %d: unmatched transaction %s resolved as trade %s", row.UserID, row.ID, t.ID)

	updated, err := s.repos.Unmatched.GetByID(ctx, row.ID)
	if err != nil {
		return nil, fmt.Errorf("reload unmatched: %w", err)
	}
	return &Resolution{Transaction: updated, Trade: t}, nil
}

// pending loads a row that belongs to the user and can still change.
func pending(ctx context.Context, repo unmatched.Repository, userID int64, id string) (*unmatched.Transaction, error) {
	row, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if row.UserID != userID || !row.IsPending() {
		return nil, unmatched.ErrNotFound
	}
	return row, nil
}

// prorate returns the fee share of qty out of the row's quantity.
func prorate(u *unmatched.Transaction, qty decimal.Decimal) decimal.Decimal {
	if qty.GreaterThanOrEqual(u.Quantity) {
		return u.Fee
	}
	return u.Fee.Mul(qty).Div(u.Quantity)
}

func score(row, c *unmatched.Transaction) float64 {
	var qty float64
	lo, hi := decimal.Min(row.Quantity, c.Quantity), decimal.Max(row.Quantity, c.Quantity)
	if hi.IsPositive() {
		qty = lo.Div(hi).InexactFloat64()
	}
	return quantityWeight*qty + brokerWeight*nameSimilarity(row.BrokerageName, c.BrokerageName)
}

func nameSimilarity(a, b string) float64 {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}
