package stock

import (
	"time"

	"github.com/google/uuid"
)

type ConsumptionReason string

const (
	ReasonTaken    ConsumptionReason = "taken"
	ReasonAdjusted ConsumptionReason = "adjusted"
	ReasonRefill   ConsumptionReason = "refill"
	ReasonLost     ConsumptionReason = "lost"
)

type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// StockRecord is the per-item inventory row. projected_end_at is normally
// derived on read; a stored value is a manual override (or left by a refill
// reset) and wins over the computed projection.
type StockRecord struct {
	ItemID         uuid.UUID
	UnitsLeft      int
	UnitsTotal     int
	ProjectedEndAt *time.Time
	LastRefillAt   *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ConsumptionEvent is one entry of an item's consumption history.
type ConsumptionEvent struct {
	ID         int64
	ItemID     uuid.UUID
	Amount     int
	Reason     ConsumptionReason
	OccurredAt time.Time
}

// Projection is the read-model returned to consumers: recomputed on demand,
// never persisted.
type Projection struct {
	ItemID        uuid.UUID
	ItemName      string
	UnitsLeft     int
	DailyAvg      float64
	DaysRemaining *int // nil when there is not enough signal
	Trend         Trend
	ProjectedEnd  *time.Time
}
