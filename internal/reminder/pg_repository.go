package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

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

const alarmColumns = `id, user_id, label, scheduled_at, recurrence, enabled, last_triggered, created_at, updated_at`

func scanAlarm(row pgx.Row) (*Alarm, error) {
	var a Alarm
	var lastTriggered *time.Time

	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.Label,
		&a.ScheduledAt,
		&a.Recurrence,
		&a.Enabled,
		&lastTriggered,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlarmNotFound
		}
		return nil, err
	}

	a.LastTriggered = lastTriggered
	return &a, nil
}

const intentColumns = `id, user_id, kind, dose_id, alarm_id, offset_minutes, fire_at, message, dispatched_at, created_at`

func scanIntent(row pgx.Row) (*Intent, error) {
	var in Intent
	var doseID, alarmID *uuid.UUID
	var dispatchedAt *time.Time

	err := row.Scan(
		&in.ID,
		&in.UserID,
		&in.Kind,
		&doseID,
		&alarmID,
		&in.OffsetMinutes,
		&in.FireAt,
		&in.Message,
		&dispatchedAt,
		&in.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}

	in.DoseID = doseID
	in.AlarmID = alarmID
	in.DispatchedAt = dispatchedAt
	return &in, nil
}

func (r *PgRepository) GetAlarmByID(ctx context.Context, id uuid.UUID) (*Alarm, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+alarmColumns+`
		FROM alarms
		WHERE id = $1
	`, id)
	return scanAlarm(row)
}

func (r *PgRepository) ListEnabledAlarms(ctx context.Context) ([]Alarm, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+alarmColumns+`
		FROM alarms
		WHERE enabled = true
		ORDER BY scheduled_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Alarm
	for rows.Next() {
		a, err := scanAlarm(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) UpdateAlarmSchedule(ctx context.Context, id uuid.UUID, scheduledAt time.Time, enabled bool, lastTriggered *time.Time) (*Alarm, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE alarms
		SET scheduled_at = $2,
		    enabled = $3,
		    last_triggered = COALESCE($4, last_triggered),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+alarmColumns+`
	`, id, scheduledAt, enabled, lastTriggered)
	return scanAlarm(row)
}

func (r *PgRepository) InsertIntents(ctx context.Context, intents []Intent) (int, error) {
	if len(intents) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	created := 0
	for _, in := range intents {
		tag, err := tx.Exec(ctx, `
			INSERT INTO reminder_intents (id, user_id, kind, dose_id, alarm_id, offset_minutes, fire_at, message, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
			ON CONFLICT DO NOTHING
		`, in.ID, in.UserID, in.Kind, in.DoseID, in.AlarmID, in.OffsetMinutes, in.FireAt, in.Message)
		if err != nil {
			return 0, fmt.Errorf("insert reminder intent: %w", err)
		}
		created += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	return created, nil
}

func (r *PgRepository) GetIntentByID(ctx context.Context, id uuid.UUID) (*Intent, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+intentColumns+`
		FROM reminder_intents
		WHERE id = $1
	`, id)
	return scanIntent(row)
}

func (r *PgRepository) ListUndispatchedDue(ctx context.Context, before time.Time) ([]Intent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+intentColumns+`
		FROM reminder_intents
		WHERE dispatched_at IS NULL AND fire_at <= $1
		ORDER BY fire_at
	`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Intent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *in)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) MarkDispatched(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE reminder_intents
		SET dispatched_at = $2
		WHERE id = $1 AND dispatched_at IS NULL
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark intent dispatched: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIntentNotFound
	}
	return nil
}
