package notification

import (
	"context"
	"errors"
	"testing"
)

type MockRepository struct {
	SaveDeviceFunc      func(ctx context.Context, params RegisterParams) (*Device, error)
	ActiveTokensFunc    func(ctx context.Context, userID int64) ([]string, error)
	RemoveDeviceFunc    func(ctx context.Context, userID int64, token string) error
	DeactivateTokenFunc func(ctx context.Context, token string) error
}

func (m *MockRepository) SaveDevice(ctx context.Context, params RegisterParams) (*Device, error) {
	if m.SaveDeviceFunc != nil {
		return m.SaveDeviceFunc(ctx, params)
	}
	return &Device{UserID: params.UserID, Token: params.Token, Platform: params.Platform, Active: true}, nil
}

func (m *MockRepository) ActiveTokens(ctx context.Context, userID int64) ([]string, error) {
	if m.ActiveTokensFunc != nil {
		return m.ActiveTokensFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockRepository) RemoveDevice(ctx context.Context, userID int64, token string) error {
	if m.RemoveDeviceFunc != nil {
		return m.RemoveDeviceFunc(ctx, userID, token)
	}
	return nil
}

func (m *MockRepository) DeactivateToken(ctx context.Context, token string) error {
	if m.DeactivateTokenFunc != nil {
		return m.DeactivateTokenFunc(ctx, token)
	}
	return nil
}

// MockMessenger records every multicast
type MockMessenger struct {
	tokens [][]string
	pushes []Push
}

func (m *MockMessenger) SendMulticast(ctx context.Context, tokens []string, push Push) error {
	m.tokens = append(m.tokens, tokens)
	m.pushes = append(m.pushes, push)
	return nil
}

func tokensRepo(tokens ...string) *MockRepository {
	return &MockRepository{
		ActiveTokensFunc: func(ctx context.Context, userID int64) ([]string, error) {
			return tokens, nil
		},
	}
}

func TestRegisterDevice_Validation(t *testing.T) {
	svc := NewService(&MockRepository{}, nil, nil)

	tests := []struct {
		name    string
		params  RegisterParams
		wantErr error
	}{
		{"valid", RegisterParams{UserID: 1, Token: "abc", Platform: PlatformIOS}, nil},
		{"missing token", RegisterParams{UserID: 1, Platform: PlatformIOS}, ErrInvalidToken},
		{"bad platform", RegisterParams{UserID: 1, Token: "abc", Platform: "web"}, ErrInvalidDeviceType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RegisterDevice(context.Background(), tt.params)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestUnregisterDevice(t *testing.T) {
	var gotUser int64
	repo := &MockRepository{
		RemoveDeviceFunc: func(ctx context.Context, userID int64, token string) error {
			gotUser = userID
			if token != "tok" {
				return ErrDeviceNotFound
			}
			return nil
		},
	}
	svc := NewService(repo, nil, nil)

	if err := svc.UnregisterDevice(context.Background(), 4, "tok"); err != nil || gotUser != 4 {
		t.Errorf("UnregisterDevice() = %v, user %d", err, gotUser)
	}
	if err := svc.UnregisterDevice(context.Background(), 4, "other"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("error = %v, want ErrDeviceNotFound", err)
	}
	if err := svc.UnregisterDevice(context.Background(), 4, ""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("error = %v, want ErrInvalidToken", err)
	}
}

func TestSendSyncComplete(t *testing.T) {
	m := &MockMessenger{}
	svc := NewService(tokensRepo("t1", "t2"), m, nil)

	if err := svc.SendSyncComplete(context.Background(), 5, SyncCounts{TransactionsCreated: 7, TradesCreated: 3, UnmatchedCreated: 2}); err != nil {
		t.Fatalf("SendSyncComplete() failed: %v", err)
	}
	if len(m.pushes) != 2 {
		t.Fatalf("got %d pushes, want 2", len(m.pushes))
	}
	if m.pushes[0].Body != "7 new transactions imported, 3 trades reconciled." || m.pushes[0].Data["route"] != CategorySync {
		t.Errorf("first push = %+v", m.pushes[0])
	}
	if m.pushes[1].Data["route"] != CategoryUnmatched || m.pushes[1].Data["count"] != "2" || len(m.tokens[1]) != 2 {
		t.Errorf("second push = %+v to %v", m.pushes[1], m.tokens[1])
	}
}

func TestSendSyncComplete_NothingPendingSendsOnce(t *testing.T) {
	m := &MockMessenger{}
	if err := NewService(tokensRepo("t1"), m, nil).SendSyncComplete(context.Background(), 5, SyncCounts{}); err != nil {
		t.Fatalf("SendSyncComplete() failed: %v", err)
	}
	if len(m.pushes) != 1 {
		t.Errorf("got %d pushes, want 1", len(m.pushes))
	}
}

func TestSendToUser(t *testing.T) {
	t.Run("no tokens", func(t *testing.T) {
		m := &MockMessenger{}
		if err := NewService(tokensRepo(), m, nil).SendToUser(context.Background(), 5, "t", "b", CategorySync, nil); err != nil {
			t.Fatalf("SendToUser() failed: %v", err)
		}
		if len(m.pushes) != 0 {
			t.Error("nothing should be pushed without tokens")
		}
	})

	t.Run("caller data is not mutated", func(t *testing.T) {
		m := &MockMessenger{}
		data := map[string]string{"count": "1"}
		if err := NewService(tokensRepo("t1"), m, nil).SendToUser(context.Background(), 5, "t", "b", CategoryUnmatched, data); err != nil {
			t.Fatalf("SendToUser() failed: %v", err)
		}
		if _, ok := data["route"]; ok {
			t.Error("route was written into the caller's map")
		}
		if m.pushes[0].Data["route"] != CategoryUnmatched || m.pushes[0].Data["count"] != "1" {
			t.Errorf("push data = %v", m.pushes[0].Data)
		}
	})

	t.Run("invalid category", func(t *testing.T) {
		err := NewService(&MockRepository{}, nil, nil).SendToUser(context.Background(), 5, "t", "b", "budgets", nil)
		if !errors.Is(err, ErrInvalidCategory) {
			t.Errorf("error = %v, want ErrInvalidCategory", err)
		}
	})
}
