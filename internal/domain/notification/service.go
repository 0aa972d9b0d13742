package notification

import (
	"context"
	"fmt"
	"log"
	"maps"
	"strconv"

	"tradstry/internal/shared/messages"
)

type Service struct {
	repo      Repository
	messenger Messenger
	messages  *messages.Messages
}

// NewService creates a new notification service. messenger may be nil, in
// which case nothing is pushed.
func NewService(repo Repository, messenger Messenger, msgs *messages.Messages) *Service {
	if msgs == nil {
		msgs = messages.Default()
	}
	return &Service{repo: repo, messenger: messenger, messages: msgs}
}

func (s *Service) RegisterDevice(ctx context.Context, params RegisterParams) (*Device, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return s.repo.SaveDevice(ctx, params)
}

// UnregisterDevice is called on logout so the device stops receiving the
// user's pushes.
func (s *Service) UnregisterDevice(ctx context.Context, userID int64, token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	return s.repo.RemoveDevice(ctx, userID, token)
}

// SendToUser pushes to every active device of the user. data is copied;
// "route" defaults to the category.
func (s *Service) SendToUser(ctx context.Context, userID int64, title, body, category string, data map[string]string) error {
	if !IsValidCategory(category) {
		return ErrInvalidCategory
	}
	if s.messenger == nil {
		return nil
	}

	tokens, err := s.repo.ActiveTokens(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get device tokens: %w", err)
	}
	if len(tokens) == 0 {
		log.Printf("No active device tokens for user %d", userID)
		return nil
	}

	payload := map[string]string{"route": category}
	maps.Copy(payload, data)
	return s.messenger.SendMulticast(ctx, tokens, Push{Title: title, Body: body, Data: payload})
}

// SendSyncComplete tells the user a sync finished. Pending review items get
// a second, separate push routed to the unmatched queue.
func (s *Service) SendSyncComplete(ctx context.Context, userID int64, counts SyncCounts) error {
	msg := s.messages.SyncComplete
	data := map[string]string{
		"transactions": strconv.Itoa(counts.TransactionsCreated),
		"trades":       strconv.Itoa(counts.TradesCreated),
	}
	if err := s.SendToUser(ctx, userID, msg.Title, msg.Format(counts.TransactionsCreated, counts.TradesCreated), CategorySync, data); err != nil {
		return err
	}

	if counts.UnmatchedCreated == 0 {
		return nil
	}
	pending := s.messages.UnmatchedPending
	return s.SendToUser(ctx, userID, pending.Title, pending.Format(counts.UnmatchedCreated), CategoryUnmatched,
		map[string]string{"count": strconv.Itoa(counts.UnmatchedCreated)})
}
