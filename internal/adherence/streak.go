package adherence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/medication-adherence-engine/internal/config"
	"github.com/hackgods/medication-adherence-engine/internal/dose"
	"github.com/hackgods/medication-adherence-engine/internal/stock"
)

const (
	// streakWindowDays bounds the longest-streak scan.
	streakWindowDays = 90

	// qualifyThreshold is the per-day adherence a day needs to count.
	qualifyThreshold = 0.8

	// onTimeDelayMinutes is the maximum delay for a dose to count toward
	// streak recovery.
	onTimeDelayMinutes = 30

	// recoveryTarget is how many consecutive on-time doses rebuild a broken
	// streak.
	recoveryTarget = 3
)

// DoseReader is the slice of the dose ledger the evaluator consumes.
type DoseReader interface {
	ListDosesByUserBetween(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]dose.DoseInstance, error)
}

// StockReader is the slice of the forecaster state the evaluator consumes.
type StockReader interface {
	ListStockByUser(ctx context.Context, userID uuid.UUID) ([]stock.StockRecord, error)
}

// ItemReader resolves the user's active items.
type ItemReader interface {
	ListActiveItemsByUser(ctx context.Context, userID uuid.UUID) ([]dose.Item, error)
}

type Evaluator struct {
	repo   Repository
	doses  DoseReader
	stocks StockReader
	items  ItemReader
	cfg    config.Config

	// Now is injectable for tests.
	Now func() time.Time
}

func NewEvaluator(repo Repository, doses DoseReader, stocks StockReader, items ItemReader, cfg config.Config) *Evaluator {
	return &Evaluator{
		repo:   repo,
		doses:  doses,
		stocks: stocks,
		items:  items,
		cfg:    cfg,
		Now:    time.Now,
	}
}

type dayStat struct {
	taken int
	total int
}

func (d dayStat) qualifies() bool {
	return d.total > 0 && float64(d.taken)/float64(d.total) >= qualifyThreshold
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Streak computes the user's current and longest adherence streaks over the
// trailing window. A day counts when at least 80% of its resolved doses were
// taken. The current streak walks backward from today; a today with no
// resolved doses yet is skipped rather than broken. Freeze-protected days
// keep a streak alive without extending it.
func (e *Evaluator) Streak(ctx context.Context, userID uuid.UUID) (*StreakResult, error) {
	now := e.Now()
	windowStart := now.AddDate(0, 0, -streakWindowDays)

	doses, err := e.doses.ListDosesByUserBetween(ctx, userID, windowStart, now.Add(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("list doses: %w", err)
	}

	days := make(map[string]dayStat)
	for _, d := range doses {
		st := dose.EffectiveStatus(d, now, e.cfg.GraceThreshold)
		if st == dose.StatusScheduled {
			// Unresolved doses are not evidence either way.
			continue
		}
		k := dayKey(d.DueAt)
		stat := days[k]
		stat.total++
		if st == dose.StatusTaken {
			stat.taken++
		}
		days[k] = stat
	}

	freezes, err := e.repo.ListFreezesBetween(ctx, userID, windowStart, now.Add(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("list freezes: %w", err)
	}
	frozen := make(map[string]bool, len(freezes))
	for _, f := range freezes {
		frozen[dayKey(f.UsedOn)] = true
	}

	res := &StreakResult{RecoveryTarget: recoveryTarget}

	today := time.Date(now.UTC().Year(), now.UTC().Month(), now.UTC().Day(), 0, 0, 0, 0, time.UTC)
	if stat, ok := days[dayKey(today)]; ok && stat.total > 0 {
		res.TodayAdherence = float64(stat.taken) / float64(stat.total)
	}
	res.FrozenYesterday = frozen[dayKey(today.AddDate(0, 0, -1))]

	// Current streak, walking backward from today.
	day := today
	if stat, ok := days[dayKey(day)]; !ok || stat.total == 0 {
		day = day.AddDate(0, 0, -1)
	}
walk:
	for !day.Before(windowStart) {
		k := dayKey(day)
		stat, ok := days[k]
		switch {
		case ok && stat.qualifies():
			res.Current++
		case frozen[k]:
			// protected day, streak continues without growing
		default:
			break walk
		}
		day = day.AddDate(0, 0, -1)
	}

	// Longest streak over the whole window.
	run := 0
	for day := windowStart; !day.After(today); day = day.AddDate(0, 0, 1) {
		k := dayKey(day)
		stat, ok := days[k]
		switch {
		case ok && stat.qualifies():
			run++
			if run > res.Longest {
				res.Longest = run
			}
		case frozen[k]:
			// run survives a frozen day
		default:
			run = 0
		}
	}

	if res.Current == 0 {
		res.RecoveryProgress = recoveryProgress(doses, now, e.cfg.GraceThreshold)
	}

	return res, nil
}

// recoveryProgress counts trailing consecutive on-time taken doses, capped at
// the recovery target.
func recoveryProgress(doses []dose.DoseInstance, now time.Time, grace time.Duration) int {
	progress := 0
	for i := len(doses) - 1; i >= 0; i-- {
		d := doses[i]
		st := dose.EffectiveStatus(d, now, grace)
		if st == dose.StatusScheduled {
			continue
		}
		onTime := st == dose.StatusTaken && (d.DelayMinutes == nil || *d.DelayMinutes <= onTimeDelayMinutes)
		if !onTime {
			break
		}
		progress++
		if progress == recoveryTarget {
			break
		}
	}
	return progress
}

// UseFreeze spends this week's streak freeze on yesterday, the one day a
// freeze can retroactively protect. At most one freeze per ISO week.
func (e *Evaluator) UseFreeze(ctx context.Context, userID uuid.UUID) error {
	now := e.Now()
	yesterday := now.UTC().AddDate(0, 0, -1)
	yesterday = time.Date(yesterday.Year(), yesterday.Month(), yesterday.Day(), 0, 0, 0, 0, time.UTC)

	isoYear, isoWeek := yesterday.ISOWeek()
	return e.repo.InsertFreeze(ctx, StreakFreeze{
		UserID:  userID,
		UsedOn:  yesterday,
		ISOYear: isoYear,
		ISOWeek: isoWeek,
	})
}
