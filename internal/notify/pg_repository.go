package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) InsertAttempt(ctx context.Context, a NotificationAttempt) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notification_attempts (user_id, intent_id, channel, delivery_status, attempt_number, error, scheduled_at, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
	`, a.UserID, a.IntentID, a.Channel, a.Status, a.AttemptNumber, a.Error, a.ScheduledAt, a.Metadata)
	if err != nil {
		return fmt.Errorf("insert notification attempt: %w", err)
	}
	return nil
}

func (r *PgRepository) GetChannelBinding(ctx context.Context, userID uuid.UUID, channel Channel) (*ChannelBinding, error) {
	var b ChannelBinding

	row := r.pool.QueryRow(ctx, `
		SELECT user_id, channel, endpoint, enabled, created_at
		FROM channel_bindings
		WHERE user_id = $1 AND channel = $2
	`, userID, channel)

	err := row.Scan(&b.UserID, &b.Channel, &b.Endpoint, &b.Enabled, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBindingNotFound
		}
		return nil, err
	}

	return &b, nil
}

func (r *PgRepository) Metrics(ctx context.Context) (*Metrics, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT channel, delivery_status, count(*)
		FROM notification_attempts
		GROUP BY channel, delivery_status
	`)
	if err != nil {
		return nil, fmt.Errorf("aggregate notification attempts: %w", err)
	}
	defer rows.Close()

	m := &Metrics{
		ByStatus:  make(map[DeliveryStatus]int64),
		ByChannel: make(map[Channel]int64),
	}

	for rows.Next() {
		var channel Channel
		var status DeliveryStatus
		var count int64
		if err := rows.Scan(&channel, &status, &count); err != nil {
			return nil, err
		}

		m.Total += count
		m.ByStatus[status] += count
		m.ByChannel[channel] += count
		if status == StatusDelivered {
			m.Delivered += count
		}
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if m.Total > 0 {
		m.SuccessRate = float64(m.Delivered) / float64(m.Total)
	}

	return m, nil
}
