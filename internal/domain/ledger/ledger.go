// Package ledger groups the repositories that reconciliation and manual
// resolution write together, and the unit of work that makes those writes
// atomic.
package ledger

import (
	"context"

	"tradstry/internal/domain/trade"
	"tradstry/internal/domain/transaction"
	"tradstry/internal/domain/unmatched"
)

// Repositories is the set of stores touched when raw transactions become trades.
type Repositories struct {
	Transactions transaction.Repository
	Trades       trade.Repository
	Unmatched    unmatched.Repository
}

// TxManager runs fn in one database transaction. The repositories passed to
// fn are bound to that transaction; fn's error rolls it back.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
