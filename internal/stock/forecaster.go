package stock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/medication-adherence-engine/internal/dose"
)

// avgWindow is the trailing window consumption averages are computed over.
const avgWindow = 7 * 24 * time.Hour

// DoseReader is the slice of the dose ledger the forecaster consumes.
type DoseReader interface {
	ListDosesByItemBetween(ctx context.Context, itemID uuid.UUID, from, to time.Time) ([]dose.DoseInstance, error)
}

// ItemReader resolves item ownership and names for projection views.
type ItemReader interface {
	GetItemByID(ctx context.Context, id uuid.UUID) (*dose.Item, error)
	ListActiveItemsByUser(ctx context.Context, userID uuid.UUID) ([]dose.Item, error)
}

type Forecaster struct {
	repo  Repository
	doses DoseReader
	items ItemReader

	// Now is injectable for tests.
	Now func() time.Time
}

func NewForecaster(repo Repository, doses DoseReader, items ItemReader) *Forecaster {
	return &Forecaster{
		repo:  repo,
		doses: doses,
		items: items,
		Now:   time.Now,
	}
}

// takenTimes returns the taken timestamps for the item inside [from, to).
// Doses are fetched by due time with slack on both sides so backdated or
// late entries near the window edges are not dropped.
func (f *Forecaster) takenTimes(ctx context.Context, itemID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	doses, err := f.doses.ListDosesByItemBetween(ctx, itemID, from.Add(-48*time.Hour), to.Add(48*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("list doses: %w", err)
	}

	var out []time.Time
	for _, d := range doses {
		if d.Status != dose.StatusTaken || d.TakenAt == nil {
			continue
		}
		at := *d.TakenAt
		if !at.Before(from) && at.Before(to) {
			out = append(out, at)
		}
	}
	return out, nil
}

// DailyConsumptionAvg is count(taken doses in the trailing 7 days) / 7.
func (f *Forecaster) DailyConsumptionAvg(ctx context.Context, itemID uuid.UUID) (float64, error) {
	now := f.Now()
	taken, err := f.takenTimes(ctx, itemID, now.Add(-avgWindow), now)
	if err != nil {
		return 0, err
	}
	return float64(len(taken)) / 7.0, nil
}

// DaysRemaining projects depletion for a stock record. A stored
// projected_end_at override wins; otherwise units divided by the consumption
// average. Returns ErrInsufficientData (surfaced as nil upstream) when neither
// is available. Never negative, never divides by zero.
func DaysRemaining(rec StockRecord, dailyAvg float64, now time.Time) (int, error) {
	if rec.ProjectedEndAt != nil {
		days := int(math.Ceil(rec.ProjectedEndAt.Sub(now).Hours() / 24))
		if days < 0 {
			days = 0
		}
		return days, nil
	}

	if dailyAvg > 0 {
		return int(math.Round(float64(rec.UnitsLeft) / dailyAvg)), nil
	}

	return 0, ErrInsufficientData
}

// TrendOf classifies consumption over the trailing week by splitting it into
// two 3.5-day halves.
func TrendOf(taken []time.Time, now time.Time) Trend {
	half := now.Add(-avgWindow / 2)
	windowStart := now.Add(-avgWindow)

	var first, second float64
	for _, at := range taken {
		if at.Before(windowStart) || !at.Before(now) {
			continue
		}
		if at.Before(half) {
			first++
		} else {
			second++
		}
	}

	switch {
	case second > first*1.2:
		return TrendIncreasing
	case second < first*0.8:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// ProjectionForItem recomputes the item's projection on read.
func (f *Forecaster) ProjectionForItem(ctx context.Context, itemID uuid.UUID) (*Projection, error) {
	item, err := f.items.GetItemByID(ctx, itemID)
	if err != nil {
		return nil, err
	}

	rec, err := f.repo.GetStockByItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	return f.buildProjection(ctx, *item, *rec)
}

func (f *Forecaster) buildProjection(ctx context.Context, item dose.Item, rec StockRecord) (*Projection, error) {
	now := f.Now()

	taken, err := f.takenTimes(ctx, item.ID, now.Add(-avgWindow), now)
	if err != nil {
		return nil, err
	}
	avg := float64(len(taken)) / 7.0

	p := Projection{
		ItemID:       item.ID,
		ItemName:     item.Name,
		UnitsLeft:    rec.UnitsLeft,
		DailyAvg:     avg,
		Trend:        TrendOf(taken, now),
		ProjectedEnd: rec.ProjectedEndAt,
	}

	days, err := DaysRemaining(rec, avg, now)
	if err == nil {
		p.DaysRemaining = &days
	} else if !errors.Is(err, ErrInsufficientData) {
		return nil, err
	}

	return &p, nil
}

// Projections recomputes projections for all of the user's active items,
// sorted most-critical first: ascending days remaining, unknowns last.
func (f *Forecaster) Projections(ctx context.Context, userID uuid.UUID) ([]Projection, error) {
	items, err := f.items.ListActiveItemsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	byItem := make(map[uuid.UUID]dose.Item, len(items))
	for _, it := range items {
		byItem[it.ID] = it
	}

	records, err := f.repo.ListStockByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list stock: %w", err)
	}

	var out []Projection
	for _, rec := range records {
		item, ok := byItem[rec.ItemID]
		if !ok {
			continue
		}
		p, err := f.buildProjection(ctx, item, rec)
		if err != nil {
			log.Printf("projection for item=%s error: %v", rec.ItemID, err)
			continue
		}
		out = append(out, *p)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].DaysRemaining, out[j].DaysRemaining
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})

	return out, nil
}

// Consume applies a stock decrement from a dose-taken (or adjustment) event
// and appends it to the consumption history. Implements dose.StockConsumer.
func (f *Forecaster) Consume(ctx context.Context, itemID uuid.UUID, amount int, reason string, at time.Time) error {
	if _, err := f.repo.AdjustUnits(ctx, itemID, -amount); err != nil {
		if errors.Is(err, ErrStockNotFound) {
			// Items without tracked stock simply have no inventory effect.
			return nil
		}
		return fmt.Errorf("adjust units: %w", err)
	}

	ev := ConsumptionEvent{
		ItemID:     itemID,
		Amount:     amount,
		Reason:     ConsumptionReason(reason),
		OccurredAt: at,
	}
	if err := f.repo.InsertConsumption(ctx, ev); err != nil {
		return err
	}

	return nil
}

// RecordRefill resets inventory after a refill: units restored, history
// appended, projection override cleared.
func (f *Forecaster) RecordRefill(ctx context.Context, itemID uuid.UUID, units int, at time.Time) (*StockRecord, error) {
	rec, err := f.repo.ApplyRefill(ctx, itemID, units, at)
	if err != nil {
		return nil, err
	}

	ev := ConsumptionEvent{
		ItemID:     itemID,
		Amount:     units,
		Reason:     ReasonRefill,
		OccurredAt: at,
	}
	if err := f.repo.InsertConsumption(ctx, ev); err != nil {
		log.Printf("record refill history for item=%s failed: %v", itemID, err)
	}

	return rec, nil
}

// SetProjectedEnd stores a manual depletion override.
func (f *Forecaster) SetProjectedEnd(ctx context.Context, itemID uuid.UUID, at *time.Time) error {
	return f.repo.SetProjectedEnd(ctx, itemID, at)
}
