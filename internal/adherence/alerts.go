package adherence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/medication-adherence-engine/internal/dose"
)

const (
	// missedEssentialWindow is how long past due a scheduled medication dose
	// stays alertable before the ledger's lazy missed derivation takes over.
	missedEssentialWindow = 4 * time.Hour

	// missedEscalateAfter is the elapsed time past due at which a missed
	// essential dose escalates from urgent to critical.
	missedEscalateAfter = 2 * time.Hour

	// duplicateWindow is the maximum gap between two taken events of the
	// same item to flag a duplicate dose.
	duplicateWindow = 4 * time.Hour

	elderlyAge      = 65
	polypharmacyMin = 3
	bmiUnderweight  = 18.5
	bmiObesity      = 30.0
)

var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityUrgent:   1,
	SeverityWarning:  2,
}

// CriticalAlerts derives the user's safety alerts from the dose ledger,
// stock state and profile. Recomputed on every call; dismissals filter by
// the alert's deterministic ID without touching the ledger.
func (e *Evaluator) CriticalAlerts(ctx context.Context, userID uuid.UUID) ([]Alert, error) {
	now := e.Now()

	items, err := e.items.ListActiveItemsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	byItem := make(map[uuid.UUID]dose.Item, len(items))
	for _, it := range items {
		byItem[it.ID] = it
	}

	var profile *Profile
	p, err := e.repo.GetProfile(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrProfileNotFound) {
			return nil, fmt.Errorf("load profile: %w", err)
		}
		log.Printf("no profile for user=%s, skipping profile-derived alerts", userID)
	} else {
		profile = p
	}

	var alerts []Alert
	alerts = append(alerts, e.zeroStockAlerts(ctx, userID, byItem, now)...)

	doseAlerts, err := e.doseAlerts(ctx, userID, byItem, profile, now)
	if err != nil {
		return nil, err
	}
	alerts = append(alerts, doseAlerts...)

	alerts = append(alerts, profileAlerts(userID, profile, len(items), now)...)

	dismissed, err := e.repo.ListDismissals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list dismissals: %w", err)
	}
	dismissedSet := make(map[string]bool, len(dismissed))
	for _, id := range dismissed {
		dismissedSet[id] = true
	}

	out := alerts[:0]
	for _, a := range alerts {
		if !dismissedSet[a.ID] {
			out = append(out, a)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return severityRank[out[i].Severity] < severityRank[out[j].Severity]
	})

	return out, nil
}

func (e *Evaluator) zeroStockAlerts(ctx context.Context, userID uuid.UUID, byItem map[uuid.UUID]dose.Item, now time.Time) []Alert {
	records, err := e.stocks.ListStockByUser(ctx, userID)
	if err != nil {
		log.Printf("list stock for user=%s error: %v", userID, err)
		return nil
	}

	var alerts []Alert
	for _, rec := range records {
		if rec.UnitsLeft != 0 {
			continue
		}
		item, ok := byItem[rec.ItemID]
		if !ok {
			continue
		}
		itemID := rec.ItemID
		alerts = append(alerts, Alert{
			ID:         fmt.Sprintf("zero_stock:%s", itemID),
			UserID:     userID,
			Type:       AlertZeroStock,
			Severity:   SeverityCritical,
			ItemID:     &itemID,
			Message:    fmt.Sprintf("%s is out of stock", item.Name),
			DetectedAt: now,
		})
	}
	return alerts
}

func (e *Evaluator) doseAlerts(ctx context.Context, userID uuid.UUID, byItem map[uuid.UUID]dose.Item, profile *Profile, now time.Time) ([]Alert, error) {
	doses, err := e.doses.ListDosesByUserBetween(ctx, userID, now.Add(-24*time.Hour), now.Add(time.Hour))
	if err != nil {
		return nil, fmt.Errorf("list recent doses: %w", err)
	}

	var alerts []Alert

	// Missed essential: still-scheduled medication doses 0-4h past due.
	for _, d := range doses {
		if d.Status != dose.StatusScheduled {
			continue
		}
		item, ok := byItem[d.ItemID]
		if !ok || item.Category != dose.CategoryMedication {
			continue
		}
		elapsed := now.Sub(d.DueAt)
		if elapsed < 0 || elapsed > missedEssentialWindow {
			continue
		}

		severity := SeverityUrgent
		if elapsed >= missedEscalateAfter {
			severity = SeverityCritical
		}
		if profile != nil && Age(profile.BirthDate, now) >= elderlyAge && elapsed >= missedEscalateAfter {
			severity = SeverityCritical
		}

		itemID := d.ItemID
		alerts = append(alerts, Alert{
			ID:         fmt.Sprintf("missed_essential:%s", d.ID),
			UserID:     userID,
			Type:       AlertMissedEssential,
			Severity:   severity,
			ItemID:     &itemID,
			Message:    fmt.Sprintf("%s dose overdue by %d minutes", item.Name, int(elapsed.Minutes())),
			DetectedAt: now,
		})
	}

	// Duplicate dose: two taken events of the same item within 4 hours.
	takenByItem := make(map[uuid.UUID][]time.Time)
	for _, d := range doses {
		if d.Status == dose.StatusTaken && d.TakenAt != nil {
			takenByItem[d.ItemID] = append(takenByItem[d.ItemID], *d.TakenAt)
		}
	}
	for itemID, times := range takenByItem {
		item, ok := byItem[itemID]
		if !ok {
			continue
		}
		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
		for i := 1; i < len(times); i++ {
			if times[i].Sub(times[i-1]) > duplicateWindow {
				continue
			}
			id := itemID
			alerts = append(alerts, Alert{
				ID:         fmt.Sprintf("duplicate_dose:%s:%d", itemID, times[i-1].Unix()),
				UserID:     userID,
				Type:       AlertDuplicateDose,
				Severity:   SeverityWarning,
				ItemID:     &id,
				Message:    fmt.Sprintf("Two doses of %s taken within 4 hours", item.Name),
				DetectedAt: now,
			})
			break
		}
	}

	return alerts, nil
}

func profileAlerts(userID uuid.UUID, profile *Profile, activeItems int, now time.Time) []Alert {
	if profile == nil {
		return nil
	}

	var alerts []Alert

	if Age(profile.BirthDate, now) >= elderlyAge && activeItems >= polypharmacyMin {
		alerts = append(alerts, Alert{
			ID:         fmt.Sprintf("polypharmacy:%s", userID),
			UserID:     userID,
			Type:       AlertPolypharmacy,
			Severity:   SeverityWarning,
			Message:    fmt.Sprintf("%d active medications at age %d, consider a medication review", activeItems, Age(profile.BirthDate, now)),
			DetectedAt: now,
		})
	}

	if bmi := profile.BMI(); bmi > 0 && (bmi < bmiUnderweight || bmi > bmiObesity) {
		alerts = append(alerts, Alert{
			ID:         fmt.Sprintf("bmi_advisory:%s", userID),
			UserID:     userID,
			Type:       AlertBMIAdvisory,
			Severity:   SeverityWarning,
			Message:    fmt.Sprintf("BMI %.1f is outside the recommended range", bmi),
			DetectedAt: now,
		})
	}

	return alerts
}

// Dismiss hides one alert for the user without mutating the dose ledger.
func (e *Evaluator) Dismiss(ctx context.Context, userID uuid.UUID, alertID string) error {
	return e.repo.InsertDismissal(ctx, userID, alertID, e.Now())
}
