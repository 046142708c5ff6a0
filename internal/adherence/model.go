package adherence

import (
	"time"

	"github.com/google/uuid"
)

// Profile carries the attributes alert severity depends on. Owned by the
// surrounding application; the evaluator only reads it.
type Profile struct {
	UserID    uuid.UUID
	BirthDate time.Time
	WeightKg  float64
	HeightCm  float64
}

// Age is the single age computation used everywhere severity escalation
// needs it: calendar-aware, so it flips exactly on the birthday.
func Age(birthDate, now time.Time) int {
	years := now.Year() - birthDate.Year()
	anniversary := birthDate.AddDate(years, 0, 0)
	if anniversary.After(now) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}

// BMI is weight in kilograms over squared height in meters.
func (p Profile) BMI() float64 {
	if p.HeightCm <= 0 {
		return 0
	}
	m := p.HeightCm / 100
	return p.WeightKg / (m * m)
}

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityUrgent   Severity = "urgent"
	SeverityCritical Severity = "critical"
)

type AlertType string

const (
	AlertZeroStock       AlertType = "zero_stock"
	AlertMissedEssential AlertType = "missed_essential"
	AlertDuplicateDose   AlertType = "duplicate_dose"
	AlertPolypharmacy    AlertType = "polypharmacy"
	AlertBMIAdvisory     AlertType = "bmi_advisory"
)

// Alert is derived on demand, never stored as ledger state. The ID is
// deterministic per underlying condition so dismissals survive recomputation.
type Alert struct {
	ID         string
	UserID     uuid.UUID
	Type       AlertType
	Severity   Severity
	ItemID     *uuid.UUID
	Message    string
	DetectedAt time.Time
}

// StreakFreeze is the explicit per-user state record protecting one day per
// ISO week from breaking a streak.
type StreakFreeze struct {
	UserID    uuid.UUID
	UsedOn    time.Time // date the freeze protects
	ISOYear   int
	ISOWeek   int
	CreatedAt time.Time
}

// StreakResult is the evaluator's user-facing streak summary.
type StreakResult struct {
	Current          int
	Longest          int
	TodayAdherence   float64
	FrozenYesterday  bool
	RecoveryProgress int // consecutive on-time doses since the streak broke
	RecoveryTarget   int
}
