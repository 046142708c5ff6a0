package dose

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrItemNotFound     = errors.New("item not found")
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrDoseNotFound     = errors.New("dose not found")
)

// Repository contains all DB interactions needed by the ledger service.
type Repository interface {
	GetItemByID(ctx context.Context, id uuid.UUID) (*Item, error)
	ListActiveItemsByUser(ctx context.Context, userID uuid.UUID) ([]Item, error)

	GetActiveScheduleForItem(ctx context.Context, itemID uuid.UUID) (*Schedule, error)
	ListEnabledSchedules(ctx context.Context) ([]Schedule, error)

	GetDoseByID(ctx context.Context, id uuid.UUID) (*DoseInstance, error)

	// Upsert keyed by (item_id, due_at); returns the number of rows actually
	// inserted so a concurrent duplicate run reads as a no-op.
	InsertDoseInstances(ctx context.Context, doses []DoseInstance) (int, error)

	// Conditional transition: no rows match when the stored status is not
	// `from`, which is how a racing writer loses.
	UpdateDoseStatus(ctx context.Context, id uuid.UUID, from, to Status, takenAt *time.Time, delayMinutes *int) (*DoseInstance, error)

	ListDosesByItemBetween(ctx context.Context, itemID uuid.UUID, from, to time.Time) ([]DoseInstance, error)
	ListDosesByUserBetween(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]DoseInstance, error)
	ListScheduledBetween(ctx context.Context, from, to time.Time) ([]DoseInstance, error)

	// Supersede support: removes not-yet-actioned future instances so a new
	// schedule can rematerialize them. Past and terminal rows are preserved.
	DeleteFutureScheduled(ctx context.Context, itemID uuid.UUID, after time.Time) (int64, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
