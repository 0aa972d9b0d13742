package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"tradstry/internal/domain/connection"
	"tradstry/internal/domain/lifecycle"
	"tradstry/internal/domain/reconcile"
)

// Syncer runs brokerage syncs. Implemented by lifecycle.Service.
type Syncer interface {
	SyncUser(ctx context.Context, userID int64) (*lifecycle.SyncSummary, error)
	CompleteSync(ctx context.Context, userID int64, connectionID string) (*lifecycle.SyncSummary, error)
}

// Reconciler runs a reconciliation pass. Implemented by reconcile.Engine.
type Reconciler interface {
	Run(ctx context.Context, userID int64) (*reconcile.Summary, error)
}

// UserLister lists the users that have connections in a status.
type UserLister interface {
	ListUserIDsByStatus(ctx context.Context, status connection.Status) ([]int64, error)
}

func syncError(summary *lifecycle.SyncSummary) error {
	if summary == nil || len(summary.Errors) == 0 {
		return nil
	}
	return fmt.Errorf("sync completed with %d errors: %s", len(summary.Errors), strings.Join(summary.Errors, "; "))
}

// UserSyncJob syncs every connected brokerage of one user.
type UserSyncJob struct {
	userID int64
	syncer Syncer
}

func NewUserSyncJob(userID int64, syncer Syncer) *UserSyncJob {
	return &UserSyncJob{userID: userID, syncer: syncer}
}

func (j *UserSyncJob) Execute(ctx context.Context) error {
	summary, err := j.syncer.SyncUser(ctx, j.userID)
	if err != nil {
		return fmt.Errorf("sync user: %w", err)
	}
	log.Printf("User %d: scheduled sync finished: %d transactions, %d trades reconciled",
		j.userID, summary.TransactionsSynced, summary.TradesReconciled)
	return syncError(summary)
}

func (j *UserSyncJob) UserID() string      { return strconv.FormatInt(j.userID, 10) }
func (j *UserSyncJob) Key() string         { return "sync:user:" + j.UserID() }
func (j *UserSyncJob) Description() string { return "brokerage sync" }

// ConnectionSyncJob syncs a single connection on demand.
type ConnectionSyncJob struct {
	userID       int64
	connectionID string
	syncer       Syncer
}

func NewConnectionSyncJob(userID int64, connectionID string, syncer Syncer) *ConnectionSyncJob {
	return &ConnectionSyncJob{userID: userID, connectionID: connectionID, syncer: syncer}
}

func (j *ConnectionSyncJob) Execute(ctx context.Context) error {
	summary, err := j.syncer.CompleteSync(ctx, j.userID, j.connectionID)
	if err != nil {
		return fmt.Errorf("sync connection %s: %w", j.connectionID, err)
	}
	return syncError(summary)
}

func (j *ConnectionSyncJob) UserID() string { return strconv.FormatInt(j.userID, 10) }
func (j *ConnectionSyncJob) Key() string    { return "sync:connection:" + j.connectionID }
func (j *ConnectionSyncJob) Description() string {
	return "connection sync " + j.connectionID
}

// ReconcileJob runs reconciliation for one user.
type ReconcileJob struct {
	userID     int64
	reconciler Reconciler
}

func NewReconcileJob(userID int64, reconciler Reconciler) *ReconcileJob {
	return &ReconcileJob{userID: userID, reconciler: reconciler}
}

func (j *ReconcileJob) Execute(ctx context.Context) error {
	summary, err := j.reconciler.Run(ctx, j.userID)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	if summary.FailedSymbols > 0 {
		return fmt.Errorf("reconcile: %d symbols failed", summary.FailedSymbols)
	}
	return nil
}

func (j *ReconcileJob) UserID() string      { return strconv.FormatInt(j.userID, 10) }
func (j *ReconcileJob) Key() string         { return "reconcile:" + j.UserID() }
func (j *ReconcileJob) Description() string { return "reconciliation" }

// Dispatcher turns requests from the HTTP layer and the ingest listener into
// pool jobs.
type Dispatcher struct {
	pool       *WorkerPool
	syncer     Syncer
	reconciler Reconciler
	users      UserLister
}

func NewDispatcher(pool *WorkerPool, syncer Syncer, reconciler Reconciler, users UserLister) *Dispatcher {
	return &Dispatcher{pool: pool, syncer: syncer, reconciler: reconciler, users: users}
}

// SubmitConnectionSync queues a sync for one connection. An already pending
// sync for the same connection counts as queued.
func (d *Dispatcher) SubmitConnectionSync(userID int64, connectionID string) bool {
	err := d.pool.Submit(NewConnectionSyncJob(userID, connectionID, d.syncer))
	return err == nil || errors.Is(err, ErrDuplicateJob)
}

// TriggerReconcile queues a reconciliation pass for the user. The trigger is
// dropped while a sync of the user is queued or running, since that sync
// reconciles once all of its connections are ingested.
func (d *Dispatcher) TriggerReconcile(userID int64) {
	if d.syncPending(userID) {
		log.Printf("User %d: reconciliation left to the pending sync", userID)
		return
	}
	err := d.pool.Submit(NewReconcileJob(userID, d.reconciler))
	switch {
	case err == nil, errors.Is(err, ErrDuplicateJob):
	default:
		log.Printf("User %d: failed to queue reconciliation: %v", userID, err)
	}
}

func (d *Dispatcher) syncPending(userID int64) bool {
	uid := strconv.FormatInt(userID, 10)
	return d.pool.Pending(func(j Job) bool {
		switch j.(type) {
		case *UserSyncJob, *ConnectionSyncJob:
			return j.UserID() == uid
		}
		return false
	})
}

// UserSyncJobs is the scheduler's job provider: one sync per user with a
// connected brokerage.
func (d *Dispatcher) UserSyncJobs(ctx context.Context) ([]Job, error) {
	userIDs, err := d.users.ListUserIDsByStatus(ctx, connection.StatusConnected)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	jobs := make([]Job, 0, len(userIDs))
	for _, id := range userIDs {
		jobs = append(jobs, NewUserSyncJob(id, d.syncer))
	}
	return jobs, nil
}
