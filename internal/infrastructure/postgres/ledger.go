package postgres

import (
	"context"
	"database/sql/driver"
	"fmt"
	"log"

	"tradstry/internal/domain/ledger"
)

// NewLedger returns the ledger repositories bound to q.
func NewLedger(q Querier) ledger.Repositories {
	return ledger.Repositories{
		Transactions: NewTransactionRepository(q),
		Trades:       NewTradeRepository(q),
		Unmatched:    NewUnmatchedRepository(q),
	}
}

// LedgerTx implements ledger.TxManager over a database transaction.
type LedgerTx struct {
	db *DB
}

func NewLedgerTx(db *DB) *LedgerTx {
	return &LedgerTx{db: db}
}

func (m *LedgerTx) WithinTx(ctx context.Context, fn func(ctx context.Context, repos ledger.Repositories) error) error {
	return m.db.WithinTx(ctx, func(ctx context.Context, tx *Tx) error {
		return fn(ctx, NewLedger(tx))
	})
}

// AdvisoryLocker serializes reconciliation per user across processes with
// session-level advisory locks. Each held lock pins one pooled connection
// until released.
type AdvisoryLocker struct {
	db *DB
}

func NewAdvisoryLocker(db *DB) *AdvisoryLocker {
	return &AdvisoryLocker{db: db}
}

func (l *AdvisoryLocker) TryLock(ctx context.Context, userID int64) (func(), bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to reserve lock connection: %w", err)
	}

	var acquired bool
	err = conn.QueryRowContext(ctx,
		`SELECT pg_try_advisory_lock($1)`, userID,
	).Scan(&acquired)
	if err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("failed to take advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return nil, false, nil
	}

	release := func() {
		// The pass context may already be cancelled.
		if _, err := conn.ExecContext(context.Background(),
			`SELECT pg_advisory_unlock($1)`, userID); err != nil {
			log.Printf("Failed to release advisory lock for user %d: %v", userID, err)
			// Drop the session so the lock goes with it.
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		conn.Close()
	}
	return release, true, nil
}
