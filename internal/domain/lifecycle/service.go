// Package lifecycle links users to brokerages through the aggregator and
// drives ingest followed by reconciliation for linked connections.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"tradstry/internal/domain/connection"
	"tradstry/internal/domain/ingest"
	"tradstry/internal/domain/notification"
	"tradstry/internal/domain/reconcile"
	"tradstry/internal/infrastructure/brokerage"
)

// SecretCipher seals aggregator secrets at rest.
type SecretCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

type Ingestor interface {
	SyncConnection(ctx context.Context, conn *connection.Connection) (*ingest.ConnectionSyncResult, error)
	SyncUser(ctx context.Context, userID int64) (*ingest.UserSyncResult, error)
}

type Reconciler interface {
	Run(ctx context.Context, userID int64) (*reconcile.Summary, error)
}

type Notifier interface {
	SendSyncComplete(ctx context.Context, userID int64, counts notification.SyncCounts) error
}

type Config struct {
	RedirectURL    string
	StatusCacheTTL time.Duration
}

// SyncSummary is the best-effort outcome of ingest plus reconciliation.
type SyncSummary struct {
	UserID             int64                          `json:"userId"`
	Connections        []*ingest.ConnectionSyncResult `json:"connections"`
	AccountsSynced     int                            `json:"accountsSynced"`
	HoldingsSynced     int                            `json:"holdingsSynced"`
	TransactionsSynced int                            `json:"transactionsSynced"`
	TradesReconciled   int                            `json:"tradesReconciled"`
	UnmatchedQueued    int                            `json:"unmatchedQueued"`
	Reconcile          *reconcile.Summary             `json:"reconcile,omitempty"`
	Errors             []string                       `json:"errors"`
}

type Service struct {
	client     brokerage.ClientInterface
	repo       connection.Repository
	cipher     SecretCipher
	ingestor   Ingestor
	reconciler Reconciler
	notifier   Notifier
	cfg        Config
	status     *cache.Cache
}

// NewService creates the lifecycle service. notifier may be nil.
func NewService(
	client brokerage.ClientInterface,
	repo connection.Repository,
	cipher SecretCipher,
	ingestor Ingestor,
	reconciler Reconciler,
	notifier Notifier,
	cfg Config,
) *Service {
	if cfg.StatusCacheTTL <= 0 {
		cfg.StatusCacheTTL = 15 * time.Second
	}
	return &Service{
		client:     client,
		repo:       repo,
		cipher:     cipher,
		ingestor:   ingestor,
		reconciler: reconciler,
		notifier:   notifier,
		cfg:        cfg,
		status:     cache.New(cfg.StatusCacheTTL, 2*cfg.StatusCacheTTL),
	}
}

// Initiate registers a fresh aggregator identity for the link, stores a
// pending connection and returns the aggregator portal URL.
func (s *Service) Initiate(ctx context.Context, userID int64, brokerageName string) (*connection.InitiateResult, error) {
	brokerageName = strings.ToUpper(strings.TrimSpace(brokerageName))
	if brokerageName == "" {
		return nil, connection.ErrInvalidBrokerage
	}

	cred, err := s.client.RegisterUser(ctx, fmt.Sprintf("tradstry-%d-%s", userID, uuid.NewString()))
	if err != nil {
		return nil, fmt.Errorf("register with aggregator: %w", err)
	}

	sealed, err := s.cipher.Encrypt(cred.UserSecret)
	if err != nil {
		return nil, fmt.Errorf("encrypt credential: %w", err)
	}

	conn, err := s.repo.Create(ctx, connection.CreateParams{
		UserID:           userID,
		Brokerage:        brokerageName,
		AggregatorUserID: cred.UserID,
		EncryptedSecret:  sealed,
	})
	if err != nil {
		return nil, err
	}

	url, err := s.client.LoginURL(ctx, *cred, brokerageName, s.cfg.RedirectURL)
	if err != nil {
		if uerr := s.repo.UpdateStatus(ctx, conn.ID, connection.StatusError, nil); uerr != nil {
			log.Printf("User %d: failed to mark connection %s as errored: %v", userID, conn.ID, uerr)
		}
		return nil, fmt.Errorf("get aggregator login url: %w", err)
	}

	log.Printf("User %d: initiated %s connection %s", userID, brokerageName, conn.ID)
	return &connection.InitiateResult{Connection: conn, RedirectURL: url}, nil
}

// PollStatus asks the aggregator whether a pending link was authorized.
// Connections that are not pending are returned unchanged.
func (s *Service) PollStatus(ctx context.Context, userID int64, id string) (*connection.Connection, error) {
	conn, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if conn.Status != connection.StatusPending {
		return conn, nil
	}

	remote, err := s.remoteConnections(ctx, conn)
	if err != nil {
		return nil, err
	}

	var live, disabled *brokerage.Connection
	for i := range remote {
		rc := &remote[i]
		if rc.Brokerage != "" && !strings.EqualFold(rc.Brokerage, conn.Brokerage) {
			continue
		}
		if rc.Disabled {
			disabled = rc
			continue
		}
		live = rc
		break
	}

	switch {
	case live != nil:
		externalID := live.ID
		if err := s.repo.UpdateStatus(ctx, conn.ID, connection.StatusConnected, &externalID); err != nil {
			return nil, err
		}
		conn.Status = connection.StatusConnected
		conn.ExternalConnectionID = &externalID
		log.Printf("User %d: connection %s is now connected", userID, conn.ID)
	case disabled != nil:
		externalID := disabled.ID
		if err := s.repo.UpdateStatus(ctx, conn.ID, connection.StatusError, &externalID); err != nil {
			return nil, err
		}
		conn.Status = connection.StatusError
		conn.ExternalConnectionID = &externalID
		log.Printf("User %d: connection %s was disabled by the brokerage", userID, conn.ID)
	default:
		return conn, nil
	}

	s.status.Delete(conn.ID)
	return conn, nil
}

func (s *Service) remoteConnections(ctx context.Context, conn *connection.Connection) ([]brokerage.Connection, error) {
	if cached, ok := s.status.Get(conn.ID); ok {
		return cached.([]brokerage.Connection), nil
	}

	cred, err := s.credential(conn)
	if err != nil {
		return nil, err
	}
	remote, err := s.client.ListConnections(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("list aggregator connections: %w", err)
	}
	s.status.SetDefault(conn.ID, remote)
	return remote, nil
}

// CompleteSync ingests one connection, then reconciles its user. Ingest
// failures other than an unready connection are reported in the summary.
func (s *Service) CompleteSync(ctx context.Context, userID int64, id string) (*SyncSummary, error) {
	conn, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	summary := &SyncSummary{UserID: userID, Connections: []*ingest.ConnectionSyncResult{}, Errors: []string{}}

	res, err := s.ingestor.SyncConnection(ctx, conn)
	if errors.Is(err, connection.ErrConnectionNotReady) {
		return nil, err
	}
	if err != nil {
		log.Printf("User %d: ingest of connection %s failed: %v", userID, conn.ID, err)
		summary.Errors = append(summary.Errors, fmt.Sprintf("connection %s: %v", conn.ID, err))
	}
	if res != nil {
		summary.Connections = append(summary.Connections, res)
		summary.AccountsSynced = res.AccountsSynced
		summary.HoldingsSynced = res.HoldingsSynced
		summary.TransactionsSynced = res.TransactionsCreated
		summary.Errors = append(summary.Errors, res.Errors...)
	}

	s.reconcileAndNotify(ctx, summary)
	return summary, nil
}

// SyncUser ingests every connected connection of the user, joins, then
// reconciles once.
func (s *Service) SyncUser(ctx context.Context, userID int64) (*SyncSummary, error) {
	res, err := s.ingestor.SyncUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	summary := &SyncSummary{
		UserID:             userID,
		Connections:        res.Connections,
		AccountsSynced:     res.AccountsSynced,
		HoldingsSynced:     res.HoldingsSynced,
		TransactionsSynced: res.TransactionsCreated,
		Errors:             append([]string{}, res.Errors...),
	}

	s.reconcileAndNotify(ctx, summary)
	return summary, nil
}

func (s *Service) reconcileAndNotify(ctx context.Context, summary *SyncSummary) {
	rec, err := s.reconciler.Run(ctx, summary.UserID)
	if err != nil {
		log.Printf("User %d: reconciliation failed: %v", summary.UserID, err)
		summary.Errors = append(summary.Errors, fmt.Sprintf("reconcile: %v", err))
	} else {
		summary.Reconcile = rec
		summary.TradesReconciled = rec.TradesCreated + rec.OpenPositionsCreated
		summary.UnmatchedQueued = rec.UnmatchedCreated
		summary.Errors = append(summary.Errors, rec.Errors...)
	}

	if s.notifier == nil {
		return
	}
	counts := notification.SyncCounts{
		TransactionsCreated: summary.TransactionsSynced,
		TradesCreated:       summary.TradesReconciled,
		UnmatchedCreated:    summary.UnmatchedQueued,
	}
	if err := s.notifier.SendSyncComplete(ctx, summary.UserID, counts); err != nil {
		log.Printf("User %d: sync notification failed: %v", summary.UserID, err)
	}
}

// Delete removes the connection locally, cascading to its accounts,
// holdings and raw transactions. The aggregator is told best effort.
func (s *Service) Delete(ctx context.Context, userID int64, id string) error {
	conn, err := s.owned(ctx, userID, id)
	if err != nil {
		return err
	}

	if conn.ExternalConnectionID != nil {
		if cred, err := s.credential(conn); err != nil {
			log.Printf("User %d: cannot notify aggregator about deleting %s: %v", userID, conn.ID, err)
		} else if err := s.client.DeleteConnection(ctx, cred, *conn.ExternalConnectionID); err != nil {
			log.Printf("User %d: aggregator delete of %s failed, deleting locally: %v", userID, conn.ID, err)
		}
	}

	if err := s.repo.Delete(ctx, conn.ID); err != nil {
		return err
	}
	s.status.Delete(conn.ID)
	log.Printf("User %d: deleted connection %s", userID, conn.ID)
	return nil
}

// List returns the user's connections, newest first.
func (s *Service) List(ctx context.Context, userID int64) ([]*connection.Connection, error) {
	return s.repo.ListByUserID(ctx, userID)
}

// Get returns one connection owned by the user.
func (s *Service) Get(ctx context.Context, userID int64, id string) (*connection.Connection, error) {
	return s.owned(ctx, userID, id)
}

func (s *Service) owned(ctx context.Context, userID int64, id string) (*connection.Connection, error) {
	conn, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if conn.UserID != userID {
		return nil, connection.ErrConnectionNotFound
	}
	return conn, nil
}

func (s *Service) credential(conn *connection.Connection) (brokerage.Credential, error) {
	secret, err := s.cipher.Decrypt(conn.EncryptedSecret)
	if err != nil {
		return brokerage.Credential{}, fmt.Errorf("decrypt credential: %w", err)
	}
	return brokerage.Credential{UserID: conn.AggregatorUserID, UserSecret: secret}, nil
}
