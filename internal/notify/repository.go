package notify

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrBindingNotFound = errors.New("channel binding not found")

	// ErrDeliveryFailed marks a send that exhausted its retries. Recorded in
	// the attempt trail and surfaced only through metrics.
	ErrDeliveryFailed = errors.New("delivery failed after retries")
)

// Repository contains all DB interactions needed by the dispatcher.
type Repository interface {
	InsertAttempt(ctx context.Context, a NotificationAttempt) error
	GetChannelBinding(ctx context.Context, userID uuid.UUID, channel Channel) (*ChannelBinding, error)
	Metrics(ctx context.Context) (*Metrics, error)
}
