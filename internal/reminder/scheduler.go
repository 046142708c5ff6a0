package reminder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/medication-adherence-engine/internal/config"
	"github.com/hackgods/medication-adherence-engine/internal/dose"
	redisclient "github.com/hackgods/medication-adherence-engine/internal/redis"
)

// DoseReader is the slice of the dose ledger the scheduler consumes.
type DoseReader interface {
	ListScheduledBetween(ctx context.Context, from, to time.Time) ([]dose.DoseInstance, error)
	GetItemByID(ctx context.Context, id uuid.UUID) (*dose.Item, error)
}

type Scheduler struct {
	repo   Repository
	doses  DoseReader
	locker redisclient.Locker
	cfg    config.Config

	// Now is injectable for tests.
	Now func() time.Time
}

func NewScheduler(repo Repository, doses DoseReader, locker redisclient.Locker, cfg config.Config) *Scheduler {
	return &Scheduler{
		repo:   repo,
		doses:  doses,
		locker: locker,
		cfg:    cfg,
		Now:    time.Now,
	}
}

// NextOccurrence advances from the last scheduled time by whole recurrence
// units until the result lands strictly after now. A missed run therefore
// skips to the next future slot instead of firing in the past. Once alarms
// never advance.
func NextOccurrence(last time.Time, rec Recurrence, now time.Time) time.Time {
	if rec == RecurrenceOnce {
		return last
	}

	t := last
	for !t.After(now) {
		switch rec {
		case RecurrenceDaily:
			t = t.AddDate(0, 0, 1)
		case RecurrenceWeekly:
			t = t.AddDate(0, 0, 7)
		case RecurrenceMonthly:
			t = t.AddDate(0, 1, 0)
		default:
			return last
		}
	}
	return t
}

// DoseIntents computes the reminder intents for one scheduled dose at the
// configured lead offsets, dropping fire times that are already past.
func DoseIntents(d dose.DoseInstance, itemName string, offsets []time.Duration, now time.Time) []Intent {
	var out []Intent
	for _, offset := range offsets {
		fireAt := d.DueAt.Add(-offset)
		if !fireAt.After(now) {
			continue
		}

		doseID := d.ID
		msg := fmt.Sprintf("Time to take %s", itemName)
		if offset > 0 {
			msg = fmt.Sprintf("%s due in %d minutes", itemName, int(offset.Minutes()))
		}

		out = append(out, Intent{
			ID:            uuid.New(),
			UserID:        d.UserID,
			Kind:          KindDoseReminder,
			DoseID:        &doseID,
			OffsetMinutes: int(offset.Minutes()),
			FireAt:        fireAt,
			Message:       msg,
		})
	}
	return out
}

// GenerateIntents translates upcoming doses and due alarms into persisted
// notification intents. Safe to re-run for an overlapping window: intents
// upsert on (dose_id, offset) and (alarm_id, fire_at).
func (s *Scheduler) GenerateIntents(ctx context.Context) (int, error) {
	now := s.Now()
	horizon := now.Add(s.cfg.ReminderHorizon)

	var intents []Intent

	upcoming, err := s.doses.ListScheduledBetween(ctx, now, horizon)
	if err != nil {
		return 0, fmt.Errorf("list upcoming doses: %w", err)
	}

	names := make(map[uuid.UUID]string)
	for _, d := range upcoming {
		name, ok := names[d.ItemID]
		if !ok {
			item, err := s.doses.GetItemByID(ctx, d.ItemID)
			if err != nil {
				log.Printf("load item=%s for reminder error: %v", d.ItemID, err)
				continue
			}
			name = item.Name
			names[d.ItemID] = name
		}
		intents = append(intents, DoseIntents(d, name, s.cfg.ReminderOffsets, now)...)
	}

	alarmIntents, err := s.alarmIntents(ctx, now, horizon)
	if err != nil {
		return 0, err
	}
	intents = append(intents, alarmIntents...)

	created, err := s.repo.InsertIntents(ctx, intents)
	if err != nil {
		return 0, fmt.Errorf("insert intents: %w", err)
	}

	return created, nil
}

func (s *Scheduler) alarmIntents(ctx context.Context, now, horizon time.Time) ([]Intent, error) {
	alarms, err := s.repo.ListEnabledAlarms(ctx)
	if err != nil {
		return nil, fmt.Errorf("list alarms: %w", err)
	}

	var out []Intent
	for _, a := range alarms {
		fireAt := a.ScheduledAt

		if !fireAt.After(now) {
			if a.Recurrence == RecurrenceOnce {
				// A stale one-time alarm cannot fire retroactively.
				continue
			}
			fireAt = NextOccurrence(a.ScheduledAt, a.Recurrence, now)
			if err := s.advance(ctx, a.ID, fireAt, true, nil); err != nil {
				log.Printf("advance alarm=%s error: %v", a.ID, err)
				continue
			}
		}

		if fireAt.After(horizon) {
			continue
		}

		alarmID := a.ID
		out = append(out, Intent{
			ID:      uuid.New(),
			UserID:  a.UserID,
			Kind:    KindAlarm,
			AlarmID: &alarmID,
			FireAt:  fireAt,
			Message: a.Label,
		})
	}

	return out, nil
}

// MarkAlarmTriggered records a fired alarm: one-time alarms are disabled,
// recurring alarms advance to the next future slot.
func (s *Scheduler) MarkAlarmTriggered(ctx context.Context, alarmID uuid.UUID, at time.Time) error {
	a, err := s.repo.GetAlarmByID(ctx, alarmID)
	if err != nil {
		return err
	}

	if a.Recurrence == RecurrenceOnce {
		if !a.Enabled {
			return ErrAlarmCompleted
		}
		return s.advance(ctx, alarmID, a.ScheduledAt, false, &at)
	}

	next := NextOccurrence(a.ScheduledAt, a.Recurrence, at)
	return s.advance(ctx, alarmID, next, true, &at)
}

func (s *Scheduler) advance(ctx context.Context, alarmID uuid.UUID, scheduledAt time.Time, enabled bool, triggered *time.Time) error {
	err := s.locker.WithLock(ctx, "alarm", alarmID, func(lockCtx context.Context) error {
		_, err := s.repo.UpdateAlarmSchedule(lockCtx, alarmID, scheduledAt, enabled, triggered)
		return err
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		// A concurrent run is already advancing this alarm.
		return nil
	}
	return err
}

// DueIntents returns undispatched intents whose fire time has arrived.
func (s *Scheduler) DueIntents(ctx context.Context) ([]Intent, error) {
	return s.repo.ListUndispatchedDue(ctx, s.Now())
}
