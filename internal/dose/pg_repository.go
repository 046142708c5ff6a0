package dose

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

// Helpers

func scanItem(row pgx.Row) (*Item, error) {
	var it Item

	err := row.Scan(
		&it.ID,
		&it.UserID,
		&it.Name,
		&it.Category,
		&it.Active,
		&it.CreatedAt,
		&it.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}

	return &it, nil
}

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var s Schedule
	var times []string
	var days []int32

	err := row.Scan(
		&s.ID,
		&s.ItemID,
		&s.Frequency,
		&times,
		&days,
		&s.IntervalDays,
		&s.AnchorDate,
		&s.Timezone,
		&s.Enabled,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}

	for _, raw := range times {
		t, err := ParseTimeOfDay(raw)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", s.ID, err)
		}
		s.Times = append(s.Times, t)
	}
	for _, d := range days {
		s.DaysOfWeek = append(s.DaysOfWeek, time.Weekday(d))
	}

	return &s, nil
}

func scanDose(row pgx.Row) (*DoseInstance, error) {
	var d DoseInstance
	var takenAt *time.Time
	var delay *int

	err := row.Scan(
		&d.ID,
		&d.ItemID,
		&d.UserID,
		&d.DueAt,
		&d.Status,
		&takenAt,
		&delay,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoseNotFound
		}
		return nil, err
	}

	d.TakenAt = takenAt
	d.DelayMinutes = delay
	return &d, nil
}

func collectDoses(rows pgx.Rows) ([]DoseInstance, error) {
	defer rows.Close()

	var result []DoseInstance
	for rows.Next() {
		d, err := scanDose(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Interface methods

func (r *PgRepository) GetItemByID(ctx context.Context, id uuid.UUID) (*Item, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, name, category, active, created_at, updated_at
		FROM items
		WHERE id = $1
	`, id)
	return scanItem(row)
}

func (r *PgRepository) ListActiveItemsByUser(ctx context.Context, userID uuid.UUID) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, name, category, active, created_at, updated_at
		FROM items
		WHERE user_id = $1 AND active = true
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *it)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

const scheduleColumns = `id, item_id, frequency, times, days_of_week, interval_days, anchor_date, timezone, enabled, created_at, updated_at`

func (r *PgRepository) GetActiveScheduleForItem(ctx context.Context, itemID uuid.UUID) (*Schedule, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE item_id = $1 AND enabled = true
	`, itemID)
	return scanSchedule(row)
}

func (r *PgRepository) ListEnabledSchedules(ctx context.Context) ([]Schedule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE enabled = true
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

const doseColumns = `id, item_id, user_id, due_at, status, taken_at, delay_minutes, created_at, updated_at`

func (r *PgRepository) GetDoseByID(ctx context.Context, id uuid.UUID) (*DoseInstance, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+doseColumns+`
		FROM dose_instances
		WHERE id = $1
	`, id)
	return scanDose(row)
}

func (r *PgRepository) InsertDoseInstances(ctx context.Context, doses []DoseInstance) (int, error) {
	if len(doses) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	created := 0
	for _, d := range doses {
		tag, err := tx.Exec(ctx, `
			INSERT INTO dose_instances (id, item_id, user_id, due_at, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 'scheduled', now(), now())
			ON CONFLICT (item_id, due_at) DO NOTHING
		`, d.ID, d.ItemID, d.UserID, d.DueAt)
		if err != nil {
			return 0, fmt.Errorf("insert dose instance: %w", err)
		}
		created += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	return created, nil
}

func (r *PgRepository) UpdateDoseStatus(ctx context.Context, id uuid.UUID, from, to Status, takenAt *time.Time, delayMinutes *int) (*DoseInstance, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE dose_instances
		SET status = $2,
		    taken_at = $4,
		    delay_minutes = $5,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+doseColumns+`
	`, id, to, from, takenAt, delayMinutes)

	return scanDose(row)
}

func (r *PgRepository) ListDosesByItemBetween(ctx context.Context, itemID uuid.UUID, from, to time.Time) ([]DoseInstance, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+doseColumns+`
		FROM dose_instances
		WHERE item_id = $1 AND due_at >= $2 AND due_at < $3
		ORDER BY due_at
	`, itemID, from, to)
	if err != nil {
		return nil, err
	}
	return collectDoses(rows)
}

func (r *PgRepository) ListDosesByUserBetween(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]DoseInstance, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+doseColumns+`
		FROM dose_instances
		WHERE user_id = $1 AND due_at >= $2 AND due_at < $3
		ORDER BY due_at
	`, userID, from, to)
	if err != nil {
		return nil, err
	}
	return collectDoses(rows)
}

func (r *PgRepository) ListScheduledBetween(ctx context.Context, from, to time.Time) ([]DoseInstance, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+doseColumns+`
		FROM dose_instances
		WHERE status = 'scheduled' AND due_at >= $1 AND due_at < $2
		ORDER BY due_at
	`, from, to)
	if err != nil {
		return nil, err
	}
	return collectDoses(rows)
}

func (r *PgRepository) DeleteFutureScheduled(ctx context.Context, itemID uuid.UUID, after time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM dose_instances
		WHERE item_id = $1
		  AND status = 'scheduled'
		  AND due_at > $2
	`, itemID, after)
	if err != nil {
		return 0, fmt.Errorf("delete future scheduled doses: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, dose_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.DoseID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
