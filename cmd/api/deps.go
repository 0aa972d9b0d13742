package main

import (
	"context"
	"fmt"
	"log"

	"tradstry/internal/domain/account"
	"tradstry/internal/domain/ingest"
	"tradstry/internal/domain/lifecycle"
	"tradstry/internal/domain/notification"
	"tradstry/internal/domain/reconcile"
	"tradstry/internal/domain/resolver"
	"tradstry/internal/domain/trade"
	"tradstry/internal/infrastructure/brokerage"
	"tradstry/internal/infrastructure/crypto"
	"tradstry/internal/infrastructure/firebase"
	"tradstry/internal/infrastructure/indexing"
	"tradstry/internal/infrastructure/postgres"
	"tradstry/internal/infrastructure/postgres/listener"
	httphandlers "tradstry/internal/interfaces/http"
	"tradstry/internal/interfaces/scheduler"
	"tradstry/internal/shared/auth"
	"tradstry/internal/shared/config"
	"tradstry/internal/shared/messages"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB *postgres.DB

	// Handlers
	HealthHandler       *httphandlers.HealthHandler
	ConnectionHandler   *httphandlers.ConnectionHandler
	UnmatchedHandler    *httphandlers.UnmatchedHandler
	NotificationHandler *httphandlers.NotificationHandler

	// Auth
	JWT *auth.JWT

	// Background work
	WorkerPool *scheduler.WorkerPool
	Dispatcher *scheduler.Dispatcher
	Listener   *listener.IngestListener
}

// NewDependencies initializes all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	log.Println("Connected to database")

	if err := postgres.Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	deps, err := wire(ctx, cfg, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return deps, nil
}

func wire(ctx context.Context, cfg *config.Config, db *postgres.DB) (*Dependencies, error) {
	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		return nil, err
	}

	msgs, err := messages.Load(cfg.Messages.Path)
	if err != nil {
		log.Printf("Warning: %v, using default notification text", err)
	}

	// Repositories
	connectionRepo := postgres.NewConnectionRepository(db)
	accountRepo := postgres.NewAccountRepository(db)
	holdingRepo := postgres.NewHoldingRepository(db)
	transactionRepo := postgres.NewTransactionRepository(db)
	tradeRepo := postgres.NewTradeRepository(db)
	notificationRepo := postgres.NewNotificationRepository(db)

	// External clients
	brokerageClient := brokerage.NewClient(brokerage.Config{
		BaseURL:     cfg.Aggregator.BaseURL,
		ClientID:    cfg.Aggregator.ClientID,
		ConsumerKey: cfg.Aggregator.ConsumerKey,
		Timeout:     cfg.Aggregator.Timeout,
		RateLimit:   cfg.Aggregator.RateLimit,
		RateBurst:   cfg.Aggregator.RateBurst,
	})

	var indexer trade.Indexer
	if cfg.Indexing.URL != "" {
		indexer = indexing.NewClient(cfg.Indexing.URL, cfg.Indexing.Timeout)
	} else {
		log.Println("Trade indexing disabled (INDEXING_URL not set)")
	}

	var messenger notification.Messenger
	if cfg.Firebase.CredentialsFile != "" {
		fcm, err := firebase.NewClient(ctx, cfg.Firebase.CredentialsFile, notificationRepo.DeactivateToken)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize push notifications: %w", err)
		}
		messenger = fcm
	} else {
		log.Println("Push notifications disabled (FIREBASE_CREDENTIALS_FILE not set)")
	}

	// Domain services
	notificationService := notification.NewService(notificationRepo, messenger, msgs)
	tradeStore := trade.NewStore(tradeRepo, indexer).WithIndexTimeout(cfg.Indexing.Timeout)
	ledgerRepos := postgres.NewLedger(db)
	ledgerTx := postgres.NewLedgerTx(db)

	engine := reconcile.NewEngine(ledgerRepos, ledgerTx, tradeStore, postgres.NewAdvisoryLocker(db))
	resolverService := resolver.NewService(ledgerRepos, ledgerTx, tradeStore)

	accountService := account.NewService(accountRepo)
	ingestService := ingest.NewService(
		brokerageClient,
		connectionRepo,
		accountService,
		holdingRepo,
		transactionRepo,
		encryptor,
		ingest.Config{PageSize: cfg.Aggregator.PageSize, Workers: cfg.Aggregator.SyncWorkers},
	)
	lifecycleService := lifecycle.NewService(
		brokerageClient,
		connectionRepo,
		encryptor,
		ingestService,
		engine,
		notificationService,
		lifecycle.Config{RedirectURL: cfg.Aggregator.RedirectURL, StatusCacheTTL: cfg.Aggregator.StatusCacheTTL},
	)

	// Background work shares one pool for scheduled and on-demand jobs.
	pool := scheduler.NewWorkerPool(
		cfg.Scheduler.WorkerCount,
		cfg.Scheduler.JobDelay,
		cfg.Scheduler.JobTimeout,
		cfg.Scheduler.QueueSize,
	)
	dispatcher := scheduler.NewDispatcher(pool, lifecycleService, engine, connectionRepo)

	var ingestListener *listener.IngestListener
	if cfg.Reconcile.ListenerEnabled {
		ingestListener = listener.NewIngestListener(cfg.Database.ConnectionString(), dispatcher, cfg.Reconcile.QuietPeriod)
	}

	return &Dependencies{
		DB:                  db,
		HealthHandler:       httphandlers.NewHealthHandler(db),
		ConnectionHandler:   httphandlers.NewConnectionHandler(lifecycleService, dispatcher).WithAccounts(accountService),
		UnmatchedHandler:    httphandlers.NewUnmatchedHandler(resolverService),
		NotificationHandler: httphandlers.NewNotificationHandler(notificationService),
		JWT:                 auth.NewJWT(cfg.JWT.Secret),
		WorkerPool:          pool,
		Dispatcher:          dispatcher,
		Listener:            ingestListener,
	}, nil
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if d.DB != nil {
		d.DB.Close()
	}
}
