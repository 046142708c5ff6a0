package reminder

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAlarmNotFound  = errors.New("alarm not found")
	ErrIntentNotFound = errors.New("intent not found")

	// ErrAlarmCompleted marks a transition attempt on a one-time alarm that
	// has already fired.
	ErrAlarmCompleted = errors.New("one-time alarm has already fired")
)

// Repository contains all DB interactions needed by the scheduler.
type Repository interface {
	GetAlarmByID(ctx context.Context, id uuid.UUID) (*Alarm, error)
	ListEnabledAlarms(ctx context.Context) ([]Alarm, error)

	// UpdateAlarmSchedule persists a recurrence advance.
	UpdateAlarmSchedule(ctx context.Context, id uuid.UUID, scheduledAt time.Time, enabled bool, lastTriggered *time.Time) (*Alarm, error)

	// InsertIntents upserts on the natural keys and reports how many rows
	// were actually created.
	InsertIntents(ctx context.Context, intents []Intent) (int, error)

	GetIntentByID(ctx context.Context, id uuid.UUID) (*Intent, error)
	ListUndispatchedDue(ctx context.Context, before time.Time) ([]Intent, error)
	MarkDispatched(ctx context.Context, id uuid.UUID, at time.Time) error
}
