package stock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrStockNotFound = errors.New("stock record not found")

	// ErrInsufficientData means the forecaster cannot compute a projection
	// (no manual override and no consumption signal). Surfaced to callers as
	// a nil days-remaining, never as a failure.
	ErrInsufficientData = errors.New("insufficient consumption data")
)

// Repository contains all DB interactions needed by the forecaster.
type Repository interface {
	GetStockByItem(ctx context.Context, itemID uuid.UUID) (*StockRecord, error)
	ListStockByUser(ctx context.Context, userID uuid.UUID) ([]StockRecord, error)

	// AdjustUnits decrements (or increments) units_left, clamped at zero.
	AdjustUnits(ctx context.Context, itemID uuid.UUID, delta int) (*StockRecord, error)

	// ApplyRefill resets units and clears any projection override.
	ApplyRefill(ctx context.Context, itemID uuid.UUID, units int, at time.Time) (*StockRecord, error)

	SetProjectedEnd(ctx context.Context, itemID uuid.UUID, at *time.Time) error

	InsertConsumption(ctx context.Context, ev ConsumptionEvent) error
	ListConsumptionBetween(ctx context.Context, itemID uuid.UUID, from, to time.Time) ([]ConsumptionEvent, error)
}
