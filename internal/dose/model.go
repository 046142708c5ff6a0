package dose

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusTaken     Status = "taken"
	StatusSkipped   Status = "skipped"
	StatusMissed    Status = "missed"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusTaken || s == StatusSkipped || s == StatusMissed
}

type Frequency string

const (
	FrequencyDaily        Frequency = "daily"
	FrequencySpecificDays Frequency = "specific_days"
	FrequencyInterval     Frequency = "interval"
)

type ItemCategory string

const (
	CategoryMedication ItemCategory = "medication"
	CategorySupplement ItemCategory = "supplement"
)

// Item is a medication (or supplement) owned by a user. Items are created by
// the surrounding application; the engine only reads them.
type Item struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Name      string
	Category  ItemCategory
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TimeOfDay is a day-local clock time from a schedule's times list.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On returns the absolute timestamp of this clock time on the day of date,
// interpreted in loc.
func (t TimeOfDay) On(date time.Time, loc *time.Location) time.Time {
	y, m, d := date.In(loc).Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, loc)
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var t TimeOfDay
	if _, err := fmt.Sscanf(s, "%d:%d", &t.Hour, &t.Minute); err != nil {
		return TimeOfDay{}, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
		return TimeOfDay{}, fmt.Errorf("time of day %q out of range", s)
	}
	return t, nil
}

// Schedule defines when doses of an item are expected. One active schedule
// per item; editing a schedule supersedes future instances only.
type Schedule struct {
	ID           uuid.UUID
	ItemID       uuid.UUID
	Frequency    Frequency
	Times        []TimeOfDay
	DaysOfWeek   []time.Weekday // specific_days only
	IntervalDays int            // interval only, >= 1
	AnchorDate   time.Time      // interval only, first day doses are due
	Timezone     string         // IANA name, day-local interpretation of Times
	Enabled      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Location resolves the schedule's timezone, falling back to UTC.
func (s Schedule) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DoseInstance is one expected administration event. Exactly one instance
// exists per (item_id, due_at); regeneration upserts on that key.
type DoseInstance struct {
	ID           uuid.UUID
	ItemID       uuid.UUID
	UserID       uuid.UUID
	DueAt        time.Time
	Status       Status
	TakenAt      *time.Time
	DelayMinutes *int // only meaningful when taken
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type EventLog struct {
	ID        int64
	EventType string
	DoseID    *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}
