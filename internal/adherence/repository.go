package adherence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrProfileNotFound   = errors.New("profile not found")
	ErrFreezeAlreadyUsed = errors.New("streak freeze already used this week")
)

// Repository contains all DB interactions needed by the evaluator.
type Repository interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*Profile, error)

	// InsertFreeze is an upsert keyed by (user_id, iso_year, iso_week);
	// a second freeze in the same week fails with ErrFreezeAlreadyUsed.
	InsertFreeze(ctx context.Context, f StreakFreeze) error
	ListFreezesBetween(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]StreakFreeze, error)

	InsertDismissal(ctx context.Context, userID uuid.UUID, alertID string, at time.Time) error
	ListDismissals(ctx context.Context, userID uuid.UUID) ([]string, error)
}
