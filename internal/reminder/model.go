package reminder

import (
	"time"

	"github.com/google/uuid"
)

type Recurrence string

const (
	RecurrenceOnce    Recurrence = "once"
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
)

// Alarm is a user-facing recurring reminder independent of any dose. The
// scheduler advances scheduled_at after each trigger; one-time alarms are
// disabled after firing.
type Alarm struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Label         string
	ScheduledAt   time.Time
	Recurrence    Recurrence
	Enabled       bool
	LastTriggered *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type IntentKind string

const (
	KindDoseReminder IntentKind = "dose_reminder"
	KindAlarm        IntentKind = "alarm"
)

// Intent is a not-yet-delivered notification the scheduler has decided should
// fire. Natural keys: (dose_id, offset_minutes) for dose reminders,
// (alarm_id, fire_at) for alarms; regeneration upserts on those.
type Intent struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Kind          IntentKind
	DoseID        *uuid.UUID
	AlarmID       *uuid.UUID
	OffsetMinutes int
	FireAt        time.Time
	Message       string
	DispatchedAt  *time.Time
	CreatedAt     time.Time
}
