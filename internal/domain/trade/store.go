package trade

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

const defaultIndexTimeout = 10 * time.Second

// Store is the trade-creation API shared by reconciliation and manual
// resolution. Creation is deduplicated on the trade fingerprint.
type Store struct {
	repo         Repository
	indexer      Indexer
	indexTimeout time.Duration
}

// NewStore creates a trade store. indexer may be nil.
func NewStore(repo Repository, indexer Indexer) *Store {
	return &Store{repo: repo, indexer: indexer, indexTimeout: defaultIndexTimeout}
}

// WithIndexTimeout sets the deadline of each fire-and-forget indexing call.
func (s *Store) WithIndexTimeout(d time.Duration) *Store {
	if d > 0 {
		s.indexTimeout = d
	}
	return s
}

// WithRepository returns a copy of the store bound to repo, typically a
// transaction-scoped repository.
func (s *Store) WithRepository(repo Repository) *Store {
	cp := *s
	cp.repo = repo
	return &cp
}

// Create inserts the trade unless a non-deleted trade with the same
// fingerprint already exists. On a duplicate the existing trade is returned
// with created=false.
func (s *Store) Create(ctx context.Context, params CreateParams) (*Trade, bool, error) {
	params, err := s.prepare(params)
	if err != nil {
		return nil, false, err
	}

	existing, err := s.repo.FindByFingerprint(ctx, params.UserID, params.Fingerprint())
	if err != nil {
		return nil, false, fmt.Errorf("fingerprint lookup: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}
	return s.insert(ctx, params)
}

func (s *Store) prepare(params CreateParams) (CreateParams, error) {
	if params.Source == "" {
		params.Source = SourceSync
	}
	if params.TradeType == "" {
		params.TradeType = TypeStock
	}
	return params, params.Validate()
}

func (s *Store) insert(ctx context.Context, params CreateParams) (*Trade, bool, error) {
	t, err := s.repo.Create(ctx, params)
	if errors.Is(err, ErrDuplicate) {
		// Lost a race with a concurrent insert of the same row.
		existing, ferr := s.repo.FindByFingerprint(ctx, params.UserID, params.Fingerprint())
		if ferr != nil {
			return nil, false, fmt.Errorf("fingerprint lookup: %w", ferr)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("create trade: %w", err)
	}
	return t, true, nil
}

// Session returns a creation session for one batch of derived trades. Within
// a session a fingerprint is checked once, against the trades that existed
// before the session touched it, so identical lots created by the same batch
// are all kept.
func (s *Store) Session() *Session {
	return &Session{store: s, seen: make(map[string]*Trade)}
}

// Session deduplicates a batch of creations against pre-existing trades only.
// It is not safe for concurrent use.
type Session struct {
	store *Store
	seen  map[string]*Trade // fingerprint key -> pre-existing trade, nil if none
}

// Create behaves like Store.Create, except that trades inserted earlier in
// the same session never count as duplicates.
func (b *Session) Create(ctx context.Context, params CreateParams) (*Trade, bool, error) {
	params, err := b.store.prepare(params)
	if err != nil {
		return nil, false, err
	}

	key := params.Fingerprint().Key()
	existing, checked := b.seen[key]
	if !checked {
		existing, err = b.store.repo.FindByFingerprint(ctx, params.UserID, params.Fingerprint())
		if err != nil {
			return nil, false, fmt.Errorf("fingerprint lookup: %w", err)
		}
		b.seen[key] = existing
	}
	if existing != nil {
		return existing, false, nil
	}
	return b.store.insert(ctx, params)
}

// FindByFingerprint returns nil when no non-deleted trade matches.
func (s *Store) FindByFingerprint(ctx context.Context, userID int64, fp Fingerprint) (*Trade, error) {
	return s.repo.FindByFingerprint(ctx, userID, fp)
}

func (s *Store) FindByID(ctx context.Context, id string) (*Trade, error) {
	return s.repo.GetByID(ctx, id)
}

// Index hands the trades to the indexer without waiting. Failures are logged
// and never reach the caller.
func (s *Store) Index(ctx context.Context, trades ...*Trade) {
	if s.indexer == nil || len(trades) == 0 {
		return
	}

	ctx = context.WithoutCancel(ctx)
	for _, t := range trades {
		go func(t *Trade) {
			ictx, cancel := context.WithTimeout(ctx, s.indexTimeout)
			defer cancel()

			if err := s.indexer.Index(ictx, t.UserID, t.ID, Describe(t)); err != nil {
				log.Printf("User %d: indexing trade %s failed: %v", t.UserID, t.ID, err)
			}
		}(t)
	}
}
