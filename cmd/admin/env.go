package main

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"tradstry/internal/domain/account"
	"tradstry/internal/domain/connection"
	"tradstry/internal/domain/ingest"
	"tradstry/internal/domain/lifecycle"
	"tradstry/internal/domain/reconcile"
	"tradstry/internal/domain/resolver"
	"tradstry/internal/domain/trade"
	"tradstry/internal/infrastructure/brokerage"
	"tradstry/internal/infrastructure/crypto"
	"tradstry/internal/infrastructure/indexing"
	"tradstry/internal/infrastructure/postgres"
	"tradstry/internal/shared/config"
)

// env is what the data commands share. Push notifications are never sent
// from the CLI.
type env struct {
	cfg         *config.Config
	db          *postgres.DB
	connections *postgres.ConnectionRepository
	engine      *reconcile.Engine
	resolver    *resolver.Service
	lifecycle   *lifecycle.Service
}

func openDB() (*config.Config, *postgres.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, nil, err
	}
	log.Println("Connected to database")
	return cfg, db, nil
}

func newEnv() (*env, error) {
	cfg, db, err := openDB()
	if err != nil {
		return nil, err
	}

	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		db.Close()
		return nil, err
	}

	var indexer trade.Indexer
	if cfg.Indexing.URL != "" {
		indexer = indexing.NewClient(cfg.Indexing.URL, cfg.Indexing.Timeout)
	}

	connections := postgres.NewConnectionRepository(db)
	store := trade.NewStore(postgres.NewTradeRepository(db), indexer).WithIndexTimeout(cfg.Indexing.Timeout)
	repos := postgres.NewLedger(db)
	tx := postgres.NewLedgerTx(db)
	engine := reconcile.NewEngine(repos, tx, store, postgres.NewAdvisoryLocker(db))

	client := brokerage.NewClient(brokerage.Config{
		BaseURL:     cfg.Aggregator.BaseURL,
		ClientID:    cfg.Aggregator.ClientID,
		ConsumerKey: cfg.Aggregator.ConsumerKey,
		Timeout:     cfg.Aggregator.Timeout,
		RateLimit:   cfg.Aggregator.RateLimit,
		RateBurst:   cfg.Aggregator.RateBurst,
	})
	ingestor := ingest.NewService(
		client,
		connections,
		account.NewService(postgres.NewAccountRepository(db)),
		postgres.NewHoldingRepository(db),
		postgres.NewTransactionRepository(db),
		encryptor,
		ingest.Config{PageSize: cfg.Aggregator.PageSize, Workers: cfg.Aggregator.SyncWorkers},
	)

	return &env{
		cfg:         cfg,
		db:          db,
		connections: connections,
		engine:      engine,
		resolver:    resolver.NewService(repos, tx, store),
		lifecycle: lifecycle.NewService(client, connections, encryptor, ingestor, engine, nil,
			lifecycle.Config{RedirectURL: cfg.Aggregator.RedirectURL, StatusCacheTTL: cfg.Aggregator.StatusCacheTTL}),
	}, nil
}

func (e *env) Close() {
	e.db.Close()
}

// userSelection is the -user-id / -all flag pair.
type userSelection struct {
	userIDs string
	all     bool
	workers int
	timeout time.Duration
}

func (u *userSelection) resolve(ctx context.Context, e *env) ([]int64, error) {
	if u.all {
		ids, err := e.connections.ListUserIDsByStatus(ctx, connection.StatusConnected)
		if err != nil {
			return nil, fmt.Errorf("failed to list users: %w", err)
		}
		log.Printf("Found %d users with connected brokerages", len(ids))
		return ids, nil
	}
	if u.userIDs == "" {
		return nil, fmt.Errorf("must specify -user-id or -all")
	}
	return parseUserIDs(u.userIDs)
}

func parseUserIDs(s string) ([]int64, error) {
	var ids []int64
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid user ID %q", p)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no user IDs given")
	}
	return ids, nil
}

// forEachUser runs fn for each user with at most workers in flight. Errors
// are logged per user; the returned count is the number that failed.
func forEachUser(ctx context.Context, userIDs []int64, workers int, fn func(ctx context.Context, userID int64) error) int {
	if workers <= 0 {
		workers = 1
	}

	var (
		g      errgroup.Group
		failed = make(chan struct{}, len(userIDs))
	)
	g.SetLimit(workers)

	for _, id := range userIDs {
		g.Go(func() error {
			if err := fn(ctx, id); err != nil {
				log.Printf("User %d: %v", id, err)
				failed <- struct{}{}
			}
			return nil
		})
	}
	g.Wait()
	close(failed)
	return len(failed)
}
