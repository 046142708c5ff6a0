package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/medication-adherence-engine/internal/config"
	"github.com/hackgods/medication-adherence-engine/internal/reminder"
)

// IntentSource yields the intents whose fire time has arrived.
type IntentSource interface {
	DueIntents(ctx context.Context) ([]reminder.Intent, error)
}

// IntentStore marks intents as dispatched so they are not re-delivered.
type IntentStore interface {
	MarkDispatched(ctx context.Context, id uuid.UUID, at time.Time) error
}

// AlarmAdvancer is notified when an alarm intent actually fired, so the
// scheduler can advance (or disable) the alarm.
type AlarmAdvancer interface {
	MarkAlarmTriggered(ctx context.Context, alarmID uuid.UUID, at time.Time) error
}

type Dispatcher struct {
	repo    Repository
	senders []ChannelSender // priority order
	source  IntentSource
	intents IntentStore
	alarms  AlarmAdvancer
	cfg     config.Config

	// Now is injectable for tests.
	Now func() time.Time
}

func NewDispatcher(repo Repository, senders []ChannelSender, source IntentSource, intents IntentStore, alarms AlarmAdvancer, cfg config.Config) *Dispatcher {
	return &Dispatcher{
		repo:    repo,
		senders: senders,
		source:  source,
		intents: intents,
		alarms:  alarms,
		cfg:     cfg,
		Now:     time.Now,
	}
}

// Dispatch delivers one intent through the first capable channel, falling
// back down the priority list. Delivery failures never propagate to the
// caller; they live in the attempt trail and metrics. The intent is marked
// dispatched either way so it is not retried indefinitely.
func (d *Dispatcher) Dispatch(ctx context.Context, intent reminder.Intent) (*DeliveryResult, error) {
	payload := Payload{
		UserID:  intent.UserID,
		Kind:    string(intent.Kind),
		Message: intent.Message,
		FireAt:  intent.FireAt,
	}

	result := &DeliveryResult{IntentID: intent.ID}

	for i, sender := range d.senders {
		ch := sender.Channel()

		capable, err := sender.Capable(ctx, intent.UserID)
		if err != nil {
			d.recordAttempt(ctx, intent, ch, StatusFailed, 0, err)
			continue
		}
		if !capable {
			// No active subscription/endpoint on this channel: record the
			// miss and log a fallback marker on the next channel in line.
			d.recordAttempt(ctx, intent, ch, StatusFailed, 0, fmt.Errorf("no active %s channel", ch))
			if i+1 < len(d.senders) {
				d.recordAttempt(ctx, intent, d.senders[i+1].Channel(), StatusFallback, 0, nil)
			}
			continue
		}

		attempts, err := d.sendWithRetry(ctx, sender, intent, payload)
		result.Attempts += attempts
		if err != nil {
			continue
		}

		result.Delivered = true
		result.Channel = ch
		result.Fallback = i > 0
		d.recordAttempt(ctx, intent, ch, StatusDelivered, attempts, nil)
		break
	}

	now := d.Now()
	if err := d.intents.MarkDispatched(ctx, intent.ID, now); err != nil {
		log.Printf("mark intent %s dispatched failed: %v", intent.ID, err)
	}

	if result.Delivered && intent.Kind == reminder.KindAlarm && intent.AlarmID != nil {
		if err := d.alarms.MarkAlarmTriggered(ctx, *intent.AlarmID, now); err != nil {
			log.Printf("advance alarm %s after delivery failed: %v", *intent.AlarmID, err)
		}
	}

	return result, nil
}

// sendWithRetry tries the channel up to DeliveryRetries times, each try under
// its own timeout, with linear backoff in between. Every failed try lands in
// the attempt trail.
func (d *Dispatcher) sendWithRetry(ctx context.Context, sender ChannelSender, intent reminder.Intent, payload Payload) (int, error) {
	retries := d.cfg.DeliveryRetries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
		err := sender.Send(sendCtx, payload)
		cancel()

		if err == nil {
			return attempt, nil
		}
		lastErr = err
		d.recordAttempt(ctx, intent, sender.Channel(), StatusFailed, attempt, err)

		if attempt < retries {
			select {
			case <-ctx.Done():
				return attempt, ctx.Err()
			case <-time.After(d.cfg.DeliveryBackoff * time.Duration(attempt)):
			}
		}
	}

	return retries, fmt.Errorf("%w: %v", ErrDeliveryFailed, lastErr)
}

// DispatchDue processes every due intent independently: one unreachable
// channel or bad intent never blocks the rest of the batch.
func (d *Dispatcher) DispatchDue(ctx context.Context) (dispatched, delivered int, err error) {
	due, err := d.source.DueIntents(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list due intents: %w", err)
	}

	for _, intent := range due {
		res, err := d.Dispatch(ctx, intent)
		if err != nil {
			log.Printf("dispatch intent=%s error: %v", intent.ID, err)
			continue
		}
		dispatched++
		if res.Delivered {
			delivered++
		}
	}

	return dispatched, delivered, nil
}

// Metrics aggregates the audit trail (counts by status and channel, success
// rate = delivered / total).
func (d *Dispatcher) Metrics(ctx context.Context) (*Metrics, error) {
	return d.repo.Metrics(ctx)
}

func (d *Dispatcher) recordAttempt(ctx context.Context, intent reminder.Intent, ch Channel, status DeliveryStatus, attemptNumber int, sendErr error) {
	meta := map[string]any{
		"kind":           intent.Kind,
		"offset_minutes": intent.OffsetMinutes,
	}
	if intent.DoseID != nil {
		meta["dose_id"] = intent.DoseID.String()
	}
	if intent.AlarmID != nil {
		meta["alarm_id"] = intent.AlarmID.String()
	}
	data, err := json.Marshal(meta)
	if err != nil {
		log.Printf("marshal attempt metadata: %v", err)
		data = nil
	}

	var errStr *string
	if sendErr != nil {
		s := sendErr.Error()
		errStr = &s
	}

	intentID := intent.ID
	a := NotificationAttempt{
		UserID:        intent.UserID,
		IntentID:      &intentID,
		Channel:       ch,
		Status:        status,
		AttemptNumber: attemptNumber,
		Error:         errStr,
		ScheduledAt:   intent.FireAt,
		Metadata:      data,
	}

	if err := d.repo.InsertAttempt(ctx, a); err != nil {
		log.Printf("record notification attempt for intent=%s failed: %v", intent.ID, err)
	}
}
