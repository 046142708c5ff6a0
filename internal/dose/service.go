package dose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/medication-adherence-engine/internal/config"
	redisclient "github.com/hackgods/medication-adherence-engine/internal/redis"
)

const (
	EventDosesMaterialized = "DOSES_MATERIALIZED"
	EventDoseTaken         = "DOSE_TAKEN"
	EventDoseSkipped       = "DOSE_SKIPPED"
	EventDoseMissed        = "DOSE_MISSED"
)

var (
	ErrInvalidTransition = errors.New("dose is already in a terminal state")
	ErrDoseBeingRecorded = errors.New("dose is currently being recorded, please retry")
)

// StockConsumer is implemented by the stock forecaster. Taking a dose
// decrements inventory by one unit.
type StockConsumer interface {
	Consume(ctx context.Context, itemID uuid.UUID, amount int, reason string, at time.Time) error
}

type Service struct {
	repo   Repository
	locker redisclient.Locker
	stock  StockConsumer
	cfg    config.Config

	// Now is injectable for tests.
	Now func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, stock StockConsumer, cfg config.Config) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		stock:  stock,
		cfg:    cfg,
		Now:    time.Now,
	}
}

// EffectiveStatus derives the status visible to readers: a scheduled dose
// whose due time fell more than the grace threshold in the past counts as
// missed without any stored transition.
func EffectiveStatus(d DoseInstance, now time.Time, grace time.Duration) Status {
	if d.Status == StatusScheduled && now.Sub(d.DueAt) > grace {
		return StatusMissed
	}
	return d.Status
}

// Occurrences computes every due time of the schedule within [from, to).
func Occurrences(s Schedule, from, to time.Time) []time.Time {
	loc := s.Location()

	var out []time.Time
	day := from.In(loc).Truncate(0)
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)

	for !day.After(to.In(loc)) {
		if dayMatches(s, day) {
			for _, tod := range s.Times {
				due := tod.On(day, loc)
				if !due.Before(from) && due.Before(to) {
					out = append(out, due)
				}
			}
		}
		day = day.AddDate(0, 0, 1)
	}

	return out
}

func dayMatches(s Schedule, day time.Time) bool {
	switch s.Frequency {
	case FrequencyDaily:
		return true
	case FrequencySpecificDays:
		for _, wd := range s.DaysOfWeek {
			if day.Weekday() == wd {
				return true
			}
		}
		return false
	case FrequencyInterval:
		if s.IntervalDays < 1 {
			return false
		}
		anchor := s.AnchorDate.In(s.Location())
		anchor = time.Date(anchor.Year(), anchor.Month(), anchor.Day(), 0, 0, 0, 0, s.Location())
		if day.Before(anchor) {
			return false
		}
		days := int(day.Sub(anchor).Hours() / 24)
		return days%s.IntervalDays == 0
	default:
		return false
	}
}

// Materialize generates dose instances for the item's active schedule within
// [windowStart, windowEnd). Keyed by (item_id, due_at), so re-running for an
// overlapping window is a no-op for existing occurrences.
func (s *Service) Materialize(ctx context.Context, itemID uuid.UUID, windowStart, windowEnd time.Time) (int, error) {
	item, err := s.repo.GetItemByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("load item: %w", err)
	}

	sched, err := s.repo.GetActiveScheduleForItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, ErrScheduleNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("load schedule: %w", err)
	}

	occurrences := Occurrences(*sched, windowStart, windowEnd)
	doses := make([]DoseInstance, 0, len(occurrences))
	for _, due := range occurrences {
		doses = append(doses, DoseInstance{
			ID:     uuid.New(),
			ItemID: itemID,
			UserID: item.UserID,
			DueAt:  due,
		})
	}

	created, err := s.repo.InsertDoseInstances(ctx, doses)
	if err != nil {
		return 0, fmt.Errorf("materialize doses: %w", err)
	}

	if created > 0 {
		s.logEvent(ctx, nil, EventDosesMaterialized, map[string]any{
			"item_id":      itemID.String(),
			"window_start": windowStart,
			"window_end":   windowEnd,
			"created":      created,
		})
	}

	return created, nil
}

// MaterializeAll runs Materialize for every enabled schedule. Intended to be
// called by the periodic worker; a disabled schedule drops out from the next
// invocation onward.
func (s *Service) MaterializeAll(ctx context.Context, windowStart, windowEnd time.Time) (int, error) {
	schedules, err := s.repo.ListEnabledSchedules(ctx)
	if err != nil {
		return 0, fmt.Errorf("list schedules: %w", err)
	}

	total := 0
	for _, sched := range schedules {
		created, err := s.Materialize(ctx, sched.ItemID, windowStart, windowEnd)
		if err != nil {
			log.Printf("materialize item=%s error: %v", sched.ItemID, err)
			continue
		}
		total += created
	}

	return total, nil
}

// Rematerialize supersedes a changed schedule: future scheduled instances are
// dropped and regenerated, past and terminal instances are preserved.
func (s *Service) Rematerialize(ctx context.Context, itemID uuid.UUID, windowEnd time.Time) (int, error) {
	now := s.Now()

	if _, err := s.repo.DeleteFutureScheduled(ctx, itemID, now); err != nil {
		return 0, fmt.Errorf("supersede doses: %w", err)
	}

	return s.Materialize(ctx, itemID, now, windowEnd)
}

// RecordTaken moves a scheduled dose to taken. takenAt may precede due_at for
// backdated entries; delay_minutes never goes below zero.
func (s *Service) RecordTaken(ctx context.Context, doseID uuid.UUID, takenAt time.Time) (*DoseInstance, error) {
	d, err := s.loadActionable(ctx, doseID)
	if err != nil {
		return nil, err
	}

	delay := int(takenAt.Sub(d.DueAt).Minutes())
	if delay < 0 {
		delay = 0
	}

	var updated *DoseInstance
	err = s.locker.WithLock(ctx, "dose", doseID, func(lockCtx context.Context) error {
		u, err := s.repo.UpdateDoseStatus(lockCtx, doseID, StatusScheduled, StatusTaken, &takenAt, &delay)
		if err != nil {
			if errors.Is(err, ErrDoseNotFound) {
				// Row exists but status already left scheduled: a concurrent
				// writer won the race.
				return ErrInvalidTransition
			}
			return fmt.Errorf("record taken: %w", err)
		}
		updated = u
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrDoseBeingRecorded
		}
		return nil, err
	}

	if err := s.stock.Consume(ctx, updated.ItemID, 1, "taken", takenAt); err != nil {
		log.Printf("stock consume for dose %s failed: %v", doseID, err)
	}

	s.logEvent(ctx, &doseID, EventDoseTaken, map[string]any{
		"taken_at":      takenAt,
		"delay_minutes": delay,
	})

	return updated, nil
}

// RecordSkipped moves a scheduled dose to skipped. Skips have no stock effect.
func (s *Service) RecordSkipped(ctx context.Context, doseID uuid.UUID) (*DoseInstance, error) {
	return s.recordTerminal(ctx, doseID, StatusSkipped, EventDoseSkipped)
}

// RecordMissed marks a scheduled dose missed explicitly, ahead of the lazy
// grace-threshold derivation.
func (s *Service) RecordMissed(ctx context.Context, doseID uuid.UUID) (*DoseInstance, error) {
	return s.recordTerminal(ctx, doseID, StatusMissed, EventDoseMissed)
}

func (s *Service) recordTerminal(ctx context.Context, doseID uuid.UUID, to Status, eventType string) (*DoseInstance, error) {
	if _, err := s.loadActionable(ctx, doseID); err != nil {
		return nil, err
	}

	var updated *DoseInstance
	err := s.locker.WithLock(ctx, "dose", doseID, func(lockCtx context.Context) error {
		u, err := s.repo.UpdateDoseStatus(lockCtx, doseID, StatusScheduled, to, nil, nil)
		if err != nil {
			if errors.Is(err, ErrDoseNotFound) {
				return ErrInvalidTransition
			}
			return fmt.Errorf("record %s: %w", to, err)
		}
		updated = u
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrDoseBeingRecorded
		}
		return nil, err
	}

	s.logEvent(ctx, &doseID, eventType, map[string]any{})

	return updated, nil
}

// loadActionable fetches a dose and rejects transitions out of terminal
// states, including the lazily derived missed state. When the grace threshold
// has lapsed the stored row is flipped to missed best-effort, mirroring how
// an expiry would be caught by the worker.
func (s *Service) loadActionable(ctx context.Context, doseID uuid.UUID) (*DoseInstance, error) {
	d, err := s.repo.GetDoseByID(ctx, doseID)
	if err != nil {
		if errors.Is(err, ErrDoseNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load dose: %w", err)
	}

	if d.Status.Terminal() {
		return nil, ErrInvalidTransition
	}

	now := s.Now()
	if EffectiveStatus(*d, now, s.cfg.GraceThreshold) == StatusMissed {
		_, updErr := s.repo.UpdateDoseStatus(ctx, d.ID, StatusScheduled, StatusMissed, nil, nil)
		if updErr != nil && !errors.Is(updErr, ErrDoseNotFound) {
			log.Printf("failed to mark dose %s missed during action: %v", d.ID, updErr)
		}
		s.logEvent(ctx, &d.ID, EventDoseMissed, map[string]any{
			"reason": "grace_elapsed",
		})
		return nil, ErrInvalidTransition
	}

	return d, nil
}

// ListByUser returns the user's doses in [from, to) with the lazy missed
// derivation applied.
func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]DoseInstance, error) {
	doses, err := s.repo.ListDosesByUserBetween(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list doses by user: %w", err)
	}

	now := s.Now()
	for i := range doses {
		doses[i].Status = EffectiveStatus(doses[i], now, s.cfg.GraceThreshold)
	}

	return doses, nil
}

// ListByItem returns the item's doses in [from, to) with the lazy missed
// derivation applied.
func (s *Service) ListByItem(ctx context.Context, itemID uuid.UUID, from, to time.Time) ([]DoseInstance, error) {
	doses, err := s.repo.ListDosesByItemBetween(ctx, itemID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list doses by item: %w", err)
	}

	now := s.Now()
	for i := range doses {
		doses[i].Status = EffectiveStatus(doses[i], now, s.cfg.GraceThreshold)
	}

	return doses, nil
}

func (s *Service) logEvent(ctx context.Context, doseID *uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal event payload for %s: %v", eventType, err)
		data = nil
	}

	ev := EventLog{
		EventType: eventType,
		DoseID:    doseID,
		Payload:   data,
		CreatedAt: s.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		log.Printf("failed to insert event log %s: %v", eventType, err)
	}
}
