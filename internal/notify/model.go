package notify

import (
	"time"

	"github.com/google/uuid"
)

type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelLocal Channel = "local"
	ChannelWeb   Channel = "web"
	ChannelSound Channel = "sound"
)

// PriorityOrder is the fixed channel preference: first capable channel wins.
var PriorityOrder = []Channel{ChannelPush, ChannelLocal, ChannelWeb, ChannelSound}

type DeliveryStatus string

const (
	StatusScheduled DeliveryStatus = "scheduled"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusFailed    DeliveryStatus = "failed"
	StatusFallback  DeliveryStatus = "fallback"
)

// NotificationAttempt is one delivery try. Append-only; metrics are an
// aggregation over this trail.
type NotificationAttempt struct {
	ID            int64
	UserID        uuid.UUID
	IntentID      *uuid.UUID
	Channel       Channel
	Status        DeliveryStatus
	AttemptNumber int
	Error         *string
	ScheduledAt   time.Time
	Metadata      []byte
	CreatedAt     time.Time
}

// ChannelBinding records that a user has an endpoint for a channel (a push
// subscription, a webhook URL). Managed by the surrounding application; the
// dispatcher only reads it to decide capability.
type ChannelBinding struct {
	UserID    uuid.UUID
	Channel   Channel
	Endpoint  string
	Enabled   bool
	CreatedAt time.Time
}

// Metrics aggregates the attempt trail.
type Metrics struct {
	Total       int64
	Delivered   int64
	ByStatus    map[DeliveryStatus]int64
	ByChannel   map[Channel]int64
	SuccessRate float64
}

// DeliveryResult summarizes one dispatch of an intent.
type DeliveryResult struct {
	IntentID  uuid.UUID
	Delivered bool
	Channel   Channel // channel that delivered, empty if none did
	Fallback  bool    // delivered via a non-primary channel
	Attempts  int
}
