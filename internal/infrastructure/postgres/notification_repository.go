package postgres

import (
	"context"
	"fmt"

	"tradstry/internal/domain/notification"
)

type NotificationRepository struct {
	db Querier
}

func NewNotificationRepository(db Querier) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// SaveDevice keys on the token, so a phone that changes accounts moves to
// the new user instead of pushing to both.
func (r *NotificationRepository) SaveDevice(ctx context.Context, p notification.RegisterParams) (*notification.Device, error) {
	const query = `
		INSERT INTO device_tokens (user_id, token, device_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO UPDATE
			SET user_id = EXCLUDED.user_id,
			    device_type = EXCLUDED.device_type,
			    is_active = TRUE,
			    last_used = NOW()
		RETURNING id, user_id, token, device_type, is_active, created_at, last_used`

	var d notification.Device
	if err := r.db.QueryRowContext(ctx, query, p.UserID, p.Token, string(p.Platform)).Scan(
		&d.ID, &d.UserID, &d.Token, &d.Platform, &d.Active, &d.CreatedAt, &d.LastUsed,
	); err != nil {
		return nil, fmt.Errorf("failed to save device: %w", err)
	}
	return &d, nil
}

func (r *NotificationRepository) ActiveTokens(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT token FROM device_tokens
		WHERE user_id = $1 AND is_active
		ORDER BY last_used DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list device tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (r *NotificationRepository) RemoveDevice(ctx context.Context, userID int64, token string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM device_tokens WHERE user_id = $1 AND token = $2`, userID, token)
	if err != nil {
		return fmt.Errorf("failed to remove device: %w", err)
	}
	return expectRow(result, notification.ErrDeviceNotFound)
}

// DeactivateToken keeps the row so a later re-registration revives it.
func (r *NotificationRepository) DeactivateToken(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE device_tokens SET is_active = FALSE WHERE token = $1`, token); err != nil {
		return fmt.Errorf("failed to deactivate token: %w", err)
	}
	return nil
}
