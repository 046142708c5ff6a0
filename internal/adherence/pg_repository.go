package adherence

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

func (r *PgRepository) GetProfile(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	var p Profile

	row := r.pool.QueryRow(ctx, `
		SELECT user_id, birth_date, weight_kg, height_cm
		FROM profiles
		WHERE user_id = $1
	`, userID)

	err := row.Scan(&p.UserID, &p.BirthDate, &p.WeightKg, &p.HeightCm)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}

	return &p, nil
}

func (r *PgRepository) InsertFreeze(ctx context.Context, f StreakFreeze) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO streak_freezes (user_id, used_on, iso_year, iso_week, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id, iso_year, iso_week) DO NOTHING
	`, f.UserID, f.UsedOn, f.ISOYear, f.ISOWeek)
	if err != nil {
		return fmt.Errorf("insert streak freeze: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFreezeAlreadyUsed
	}
	return nil
}

func (r *PgRepository) ListFreezesBetween(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]StreakFreeze, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, used_on, iso_year, iso_week, created_at
		FROM streak_freezes
		WHERE user_id = $1 AND used_on >= $2 AND used_on < $3
		ORDER BY used_on
	`, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []StreakFreeze
	for rows.Next() {
		var f StreakFreeze
		if err := rows.Scan(&f.UserID, &f.UsedOn, &f.ISOYear, &f.ISOWeek, &f.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, f)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) InsertDismissal(ctx context.Context, userID uuid.UUID, alertID string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO alert_dismissals (user_id, alert_id, dismissed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, alert_id) DO NOTHING
	`, userID, alertID, at)
	if err != nil {
		return fmt.Errorf("insert alert dismissal: %w", err)
	}
	return nil
}

func (r *PgRepository) ListDismissals(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT alert_id
		FROM alert_dismissals
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
