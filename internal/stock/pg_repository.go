package stock

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

const stockColumns = `item_id, units_left, units_total, projected_end_at, last_refill_at, created_at, updated_at`

func scanStock(row pgx.Row) (*StockRecord, error) {
	var s StockRecord
	var projectedEnd, lastRefill *time.Time

	err := row.Scan(
		&s.ItemID,
		&s.UnitsLeft,
		&s.UnitsTotal,
		&projectedEnd,
		&lastRefill,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStockNotFound
		}
		return nil, err
	}

	s.ProjectedEndAt = projectedEnd
	s.LastRefillAt = lastRefill
	return &s, nil
}

func (r *PgRepository) GetStockByItem(ctx context.Context, itemID uuid.UUID) (*StockRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+stockColumns+`
		FROM stock_records
		WHERE item_id = $1
	`, itemID)
	return scanStock(row)
}

func (r *PgRepository) ListStockByUser(ctx context.Context, userID uuid.UUID) ([]StockRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.item_id, s.units_left, s.units_total, s.projected_end_at, s.last_refill_at, s.created_at, s.updated_at
		FROM stock_records s
		JOIN items i ON i.id = s.item_id
		WHERE i.user_id = $1 AND i.active = true
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []StockRecord
	for rows.Next() {
		s, err := scanStock(rows)
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

func (r *PgRepository) AdjustUnits(ctx context.Context, itemID uuid.UUID, delta int) (*StockRecord, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE stock_records
		SET units_left = GREATEST(units_left + $2, 0),
		    updated_at = now()
		WHERE item_id = $1
		RETURNING `+stockColumns+`
	`, itemID, delta)
	return scanStock(row)
}

func (r *PgRepository) ApplyRefill(ctx context.Context, itemID uuid.UUID, units int, at time.Time) (*StockRecord, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE stock_records
		SET units_left = $2,
		    units_total = $2,
		    projected_end_at = NULL,
		    last_refill_at = $3,
		    updated_at = now()
		WHERE item_id = $1
		RETURNING `+stockColumns+`
	`, itemID, units, at)
	return scanStock(row)
}

func (r *PgRepository) SetProjectedEnd(ctx context.Context, itemID uuid.UUID, at *time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE stock_records
		SET projected_end_at = $2,
		    updated_at = now()
		WHERE item_id = $1
	`, itemID, at)
	if err != nil {
		return fmt.Errorf("set projected end: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStockNotFound
	}
	return nil
}

func (r *PgRepository) InsertConsumption(ctx context.Context, ev ConsumptionEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO consumption_events (item_id, amount, reason, occurred_at)
		VALUES ($1, $2, $3, $4)
	`, ev.ItemID, ev.Amount, ev.Reason, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert consumption event: %w", err)
	}
	return nil
}

func (r *PgRepository) ListConsumptionBetween(ctx context.Context, itemID uuid.UUID, from, to time.Time) ([]ConsumptionEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, item_id, amount, reason, occurred_at
		FROM consumption_events
		WHERE item_id = $1 AND occurred_at >= $2 AND occurred_at < $3
		ORDER BY occurred_at
	`, itemID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ConsumptionEvent
	for rows.Next() {
		var ev ConsumptionEvent
		if err := rows.Scan(&ev.ID, &ev.ItemID, &ev.Amount, &ev.Reason, &ev.OccurredAt); err != nil {
			return nil, err
		}
		result = append(result, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
