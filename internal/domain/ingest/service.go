// Package ingest pulls account, holding and transaction snapshots from the
// brokerage aggregator and stores them idempotently.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"tradstry/internal/domain/account"
	"tradstry/internal/domain/connection"
	"tradstry/internal/domain/holding"
	"tradstry/internal/domain/transaction"
	"tradstry/internal/infrastructure/brokerage"
)

var ingestTracer = otel.Tracer("tradstry/ingest")

// maxPages bounds transaction paging against an aggregator that never
// returns a short page.
const maxPages = 1000

// SecretOpener decrypts a stored aggregator secret.
type SecretOpener interface {
	Decrypt(ciphertext string) (string, error)
}

type Config struct {
	PageSize int
	Workers  int
}

// ConnectionSyncResult contains the results of syncing one connection
type ConnectionSyncResult struct {
	ConnectionID          string   `json:"connectionId"`
	UserID                int64    `json:"userId"`
	Brokerage             string   `json:"brokerage"`
	AccountsSynced        int      `json:"accountsSynced"`
	AccountsFailed        int      `json:"accountsFailed"`
	HoldingsSynced        int      `json:"holdingsSynced"`
	HoldingsRemoved       int      `json:"holdingsRemoved"`
	TransactionsFound     int      `json:"transactionsFound"`
	TransactionsCreated   int      `json:"transactionsCreated"`
	TransactionsDuplicate int      `json:"transactionsDuplicate"`
	TransactionsInvalid   int      `json:"transactionsInvalid"`
	TransactionsSkipped   int      `json:"transactionsSkipped"` // non-trade activity
	Failed                bool     `json:"failed"`
	Errors                []string `json:"errors"`
}

// UserSyncResult aggregates the per-connection results of one user sync
type UserSyncResult struct {
	UserID              int64                   `json:"userId"`
	Connections         []*ConnectionSyncResult `json:"connections"`
	ConnectionsFailed   int                     `json:"connectionsFailed"`
	AccountsSynced      int                     `json:"accountsSynced"`
	HoldingsSynced      int                     `json:"holdingsSynced"`
	TransactionsCreated int                     `json:"transactionsCreated"`
	Errors              []string                `json:"errors"`
}

type Service struct {
	client       brokerage.ClientInterface
	connections  connection.Repository
	accounts     *account.Service
	holdings     holding.Repository
	transactions transaction.Repository
	secrets      SecretOpener
	pageSize     int
	workers      int
	now          func() time.Time
}

func NewService(
	client brokerage.ClientInterface,
	connections connection.Repository,
	accounts *account.Service,
	holdings holding.Repository,
	transactions transaction.Repository,
	secrets SecretOpener,
	cfg Config,
) *Service {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Service{
		client:       client,
		connections:  connections,
		accounts:     accounts,
		holdings:     holdings,
		transactions: transactions,
		secrets:      secrets,
		pageSize:     cfg.PageSize,
		workers:      cfg.Workers,
		now:          time.Now,
	}
}

// SyncUser syncs every connected connection of the user in parallel and
// joins before returning. A failing connection is logged and reported in the
// result; only a failure to list the user's connections is returned.
func (s *Service) SyncUser(ctx context.Context, userID int64) (*UserSyncResult, error) {
	conns, err := s.connections.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}

	var ready []*connection.Connection
	for _, c := range conns {
		if c.Ready() {
			ready = append(ready, c)
		}
	}

	results := make([]*ConnectionSyncResult, len(ready))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, c := range ready {
		g.Go(func() error {
			res, err := s.SyncConnection(gctx, c)
			if err != nil {
				log.Printf("User %d: skipping connection %s: %v", userID, c.ID, err)
				if res == nil {
					res = &ConnectionSyncResult{ConnectionID: c.ID, UserID: userID, Brokerage: c.Brokerage, Errors: []string{}}
				}
				res.Failed = true
				res.Errors = append(res.Errors, err.Error())
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	out := &UserSyncResult{UserID: userID, Connections: results, Errors: []string{}}
	for _, r := range results {
		if r.Failed {
			out.ConnectionsFailed++
		}
		out.AccountsSynced += r.AccountsSynced
		out.HoldingsSynced += r.HoldingsSynced
		out.TransactionsCreated += r.TransactionsCreated
		for _, e := range r.Errors {
			out.Errors = append(out.Errors, fmt.Sprintf("connection %s: %s", r.ConnectionID, e))
		}
	}

	log.Printf("User %d: Sync complete - connections=%d failed=%d accounts=%d holdings=%d transactions=%d",
		userID, len(results), out.ConnectionsFailed, out.AccountsSynced, out.HoldingsSynced, out.TransactionsCreated)

	return out, nil
}

// SyncConnection ingests one connection. It fails with
// connection.ErrConnectionNotReady unless the connection is connected, and
// with an error when the account list cannot be fetched. Per-account
// failures are collected in the result.
func (s *Service) SyncConnection(ctx context.Context, conn *connection.Connection) (*ConnectionSyncResult, error) {
	ctx, span := ingestTracer.Start(ctx, "ingest.connection",
		trace.WithAttributes(
			attribute.String("connection.id", conn.ID),
			attribute.Int64("user.id", conn.UserID),
		),
	)
	defer span.End()

	if !conn.Ready() {
		return nil, fmt.Errorf("%w: status is %s", connection.ErrConnectionNotReady, conn.Status)
	}

	result := &ConnectionSyncResult{
		ConnectionID: conn.ID,
		UserID:       conn.UserID,
		Brokerage:    conn.Brokerage,
		Errors:       []string{},
	}

	secret, err := s.secrets.Decrypt(conn.EncryptedSecret)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, fmt.Errorf("decrypt credential: %w", err)
	}
	cred := brokerage.Credential{UserID: conn.AggregatorUserID, UserSecret: secret}

	apiAccounts, err := s.client.ListAccounts(ctx, cred)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, fmt.Errorf("list accounts: %w", err)
	}

	for _, apiAccount := range apiAccounts {
		if conn.ExternalConnectionID != nil && apiAccount.ConnectionID != "" && apiAccount.ConnectionID != *conn.ExternalConnectionID {
			continue
		}
		if err := s.syncAccount(ctx, conn, cred, apiAccount, result); err != nil {
			errMsg := fmt.Sprintf("failed to sync account %s: %v", apiAccount.ID, err)
			result.Errors = append(result.Errors, errMsg)
			result.AccountsFailed++
			log.Printf("User %d: %s", conn.UserID, errMsg)
		}
	}

	if err := s.connections.MarkSynced(ctx, conn.ID, s.now()); err != nil {
		log.Printf("User %d: failed to record sync time for connection %s: %v", conn.UserID, conn.ID, err)
		result.Errors = append(result.Errors, fmt.Sprintf("mark synced: %v", err))
	}

	log.Printf("User %d: Connection %s synced - accounts=%d holdings=%d found=%d created=%d duplicates=%d invalid=%d errors=%d",
		conn.UserID, conn.ID, result.AccountsSynced, result.HoldingsSynced, result.TransactionsFound,
		result.TransactionsCreated, result.TransactionsDuplicate, result.TransactionsInvalid, len(result.Errors))

	return result, nil
}

func (s *Service) syncAccount(ctx context.Context, conn *connection.Connection, cred brokerage.Credential, apiAccount brokerage.Account, result *ConnectionSyncResult) error {
	balance, err := apiAccount.GetBalance()
	if err != nil {
		return err
	}

	acc, err := s.accounts.UpsertAccount(ctx, account.UpsertParams{
		ConnectionID:      conn.ID,
		ExternalAccountID: apiAccount.ID,
		Number:            apiAccount.Number,
		Name:              apiAccount.Name,
		AccountType:       apiAccount.Type,
		Balance:           balance,
		Currency:          apiAccount.Currency,
		InstitutionName:   apiAccount.InstitutionName,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}

	if err := s.syncHoldings(ctx, cred, apiAccount.ID, acc, result); err != nil {
		return err
	}
	if err := s.syncTransactions(ctx, conn, cred, apiAccount.ID, acc, result); err != nil {
		return err
	}

	result.AccountsSynced++
	return nil
}

func (s *Service) syncHoldings(ctx context.Context, cred brokerage.Credential, externalID string, acc *account.Account, result *ConnectionSyncResult) error {
	apiHoldings, err := s.client.ListHoldings(ctx, cred, externalID)
	if err != nil {
		return fmt.Errorf("failed to fetch holdings: %w", err)
	}

	keep := make([]string, 0, len(apiHoldings))
	for _, h := range apiHoldings {
		params, err := holdingParams(acc, h)
		if err != nil {
			log.Printf("Skipping holding %s in account %s: %v", h.Symbol, acc.ID, err)
			continue
		}
		if _, err := s.holdings.Upsert(ctx, params); err != nil {
			return fmt.Errorf("failed to upsert holding %s: %w", params.Symbol, err)
		}
		keep = append(keep, params.Symbol)
		result.HoldingsSynced++
	}

	removed, err := s.holdings.DeleteExcept(ctx, acc.ID, keep)
	if err != nil {
		return fmt.Errorf("failed to remove stale holdings: %w", err)
	}
	result.HoldingsRemoved += int(removed)
	return nil
}

func holdingParams(acc *account.Account, h brokerage.Holding) (holding.UpsertParams, error) {
	var p holding.UpsertParams
	qty, err := h.GetUnits()
	if err != nil {
		return p, err
	}
	avg, err := h.GetAveragePrice()
	if err != nil {
		return p, err
	}
	price, err := h.GetPrice()
	if err != nil {
		return p, err
	}
	value, err := h.GetMarketValue()
	if err != nil {
		return p, err
	}

	p = holding.UpsertParams{
		AccountID:    acc.ID,
		Symbol:       h.Symbol,
		Quantity:     qty,
		AverageCost:  avg,
		CurrentPrice: price,
		MarketValue:  value,
		Currency:     h.Currency,
	}
	if p.Currency == "" {
		p.Currency = acc.Currency
	}
	p.Normalize()
	return p, p.Validate()
}

func (s *Service) syncTransactions(ctx context.Context, conn *connection.Connection, cred brokerage.Credential, externalID string, acc *account.Account, result *ConnectionSyncResult) error {
	for page := 1; page <= maxPages; page++ {
		batch, err := s.client.ListTransactions(ctx, cred, externalID, page, s.pageSize)
		if err != nil {
			return fmt.Errorf("failed to fetch transactions page %d: %w", page, err)
		}
		result.TransactionsFound += len(batch)

		for i := range batch {
			apiTx := &batch[i]
			params, ok, err := ingestParams(acc, apiTx)
			if !ok {
				result.TransactionsSkipped++
				continue
			}
			if err == nil {
				err = params.Validate()
			}
			if err != nil {
				log.Printf("User %d: skipping transaction %s: %v", conn.UserID, apiTx.ID, err)
				result.TransactionsInvalid++
				continue
			}

			created, err := s.transactions.Insert(ctx, params)
			if err != nil {
				return fmt.Errorf("failed to store transaction %s: %w", apiTx.ID, err)
			}
			if created {
				result.TransactionsCreated++
			} else {
				result.TransactionsDuplicate++
			}
		}

		if len(batch) < s.pageSize {
			return nil
		}
	}
	return fmt.Errorf("transaction paging exceeded %d pages", maxPages)
}

// ingestParams maps an aggregator row. ok is false for non-trade activity
// such as dividends, which is skipped without error.
func ingestParams(acc *account.Account, t *brokerage.Transaction) (transaction.IngestParams, bool, error) {
	var p transaction.IngestParams

	side, ok := transaction.ParseSide(t.Type)
	if !ok {
		return p, false, nil
	}

	qty, err := t.GetUnits()
	if err != nil {
		return p, true, errors.Join(transaction.ErrValidation, err)
	}
	price, err := t.GetPrice()
	if err != nil {
		return p, true, errors.Join(transaction.ErrValidation, err)
	}
	fee, err := t.GetFee()
	if err != nil {
		return p, true, errors.Join(transaction.ErrValidation, err)
	}
	tradeDate, err := t.GetTradeDate()
	if err != nil {
		return p, true, errors.Join(transaction.ErrValidation, err)
	}
	settlement, err := t.GetSettlementDate()
	if err != nil {
		return p, true, errors.Join(transaction.ErrValidation, err)
	}

	p = transaction.IngestParams{
		AccountID:             acc.ID,
		ExternalTransactionID: t.ID,
		Symbol:                strings.ToUpper(strings.TrimSpace(t.Symbol)),
		Side:                  side,
		Quantity:              qty,
		Price:                 price,
		Fee:                   fee,
		Currency:              t.Currency,
		SettlementDate:        settlement,
		RawPayload:            t.Raw,
	}
	if tradeDate != nil {
		p.TradeDate = *tradeDate
	}
	if p.Currency == "" {
		p.Currency = acc.Currency
	}

	if t.Option != nil {
		strike, err := t.Option.GetStrike()
		if err != nil {
			return p, true, errors.Join(transaction.ErrValidation, err)
		}
		expiration, err := t.Option.GetExpiration()
		if err != nil {
			return p, true, errors.Join(transaction.ErrValidation, err)
		}
		if t.Option.Ticker != "" {
			p.Symbol = strings.ToUpper(strings.TrimSpace(t.Option.Ticker))
		}
		p.Option = &transaction.OptionInfo{
			Underlying: t.Option.Underlying,
			OptionType: t.Option.OptionType,
			Strike:     strike,
			Expiration: expiration,
		}
	}

	return p, true, nil
}
