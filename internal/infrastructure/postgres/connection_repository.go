package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tradstry/internal/domain/connection"
)

// ConnectionRepository implements the connection.Repository interface for PostgreSQL
type ConnectionRepository struct {
	db Querier
}

func NewConnectionRepository(db Querier) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

const connectionColumns = `id, user_id, brokerage, aggregator_user_id, encrypted_secret,
	external_connection_id, status, last_synced_at, created_at, updated_at`

func scanConnection(row Row) (*connection.Connection, error) {
	var c connection.Connection
	var externalID sql.NullString
	var lastSynced sql.NullTime

	err := row.Scan(
		&c.ID, &c.UserID, &c.Brokerage, &c.AggregatorUserID, &c.EncryptedSecret,
		&externalID, &c.Status, &lastSynced, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if externalID.Valid {
		c.ExternalConnectionID = &externalID.String
	}
	if lastSynced.Valid {
		c.LastSyncedAt = &lastSynced.Time
	}
	return &c, nil
}

func (r *ConnectionRepository) Create(ctx context.Context, params connection.CreateParams) (*connection.Connection, error) {
	query := `
		INSERT INTO connections (user_id, brokerage, aggregator_user_id, encrypted_secret, status)
		VALUES ($1, $2, $3, $4, 'pending')
		RETURNING ` + connectionColumns

	c, err := scanConnection(r.db.QueryRowContext(ctx, query,
		params.UserID, params.Brokerage, params.AggregatorUserID, params.EncryptedSecret,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}
	return c, nil
}

func (r *ConnectionRepository) GetByID(ctx context.Context, id string) (*connection.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = $1`

	c, err := scanConnection(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, connection.ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return c, nil
}

func (r *ConnectionRepository) ListByUserID(ctx context.Context, userID int64) ([]*connection.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var connections []*connection.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		connections = append(connections, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}
	return connections, nil
}

func (r *ConnectionRepository) ListUserIDsByStatus(ctx context.Context, status connection.Status) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM connections WHERE status = $1 ORDER BY user_id`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list users by connection status: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *ConnectionRepository) UpdateStatus(ctx context.Context, id string, status connection.Status, externalID *string) error {
	var ext sql.NullString
	if externalID != nil {
		ext = sql.NullString{String: *externalID, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE connections
		SET status = $2,
		    external_connection_id = COALESCE($3, external_connection_id),
		    updated_at = NOW()
		WHERE id = $1`,
		id, status, ext,
	)
	if err != nil {
		return fmt.Errorf("failed to update connection status: %w", err)
	}
	return expectRow(result, connection.ErrConnectionNotFound)
}

func (r *ConnectionRepository) MarkSynced(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE connections SET last_synced_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark connection synced: %w", err)
	}
	return expectRow(result, connection.ErrConnectionNotFound)
}

func (r *ConnectionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM connections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	return expectRow(result, connection.ErrConnectionNotFound)
}
