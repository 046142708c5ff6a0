package dose_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/medication-adherence-engine/internal/config"
	"github.com/hackgods/medication-adherence-engine/internal/dose"
)

// In-memory repository mirroring the conditional-update semantics of the
// Postgres implementation.
type memRepo struct {
	items     map[uuid.UUID]*dose.Item
	schedules map[uuid.UUID]*dose.Schedule // keyed by item
	doses     map[uuid.UUID]*dose.DoseInstance
	byKey     map[string]uuid.UUID // item_id|due_at
	events    []dose.EventLog
}

func newMemRepo() *memRepo {
	return &memRepo{
		items:     make(map[uuid.UUID]*dose.Item),
		schedules: make(map[uuid.UUID]*dose.Schedule),
		doses:     make(map[uuid.UUID]*dose.DoseInstance),
		byKey:     make(map[string]uuid.UUID),
	}
}

func doseKey(itemID uuid.UUID, dueAt time.Time) string {
	return fmt.Sprintf("%s|%d", itemID, dueAt.Unix())
}

func (r *memRepo) GetItemByID(ctx context.Context, id uuid.UUID) (*dose.Item, error) {
	it, ok := r.items[id]
	if !ok {
		return nil, dose.ErrItemNotFound
	}
	cp := *it
	return &cp, nil
}

func (r *memRepo) ListActiveItemsByUser(ctx context.Context, userID uuid.UUID) ([]dose.Item, error) {
	var out []dose.Item
	for _, it := range r.items {
		if it.UserID == userID && it.Active {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (r *memRepo) GetActiveScheduleForItem(ctx context.Context, itemID uuid.UUID) (*dose.Schedule, error) {
	s, ok := r.schedules[itemID]
	if !ok || !s.Enabled {
		return nil, dose.ErrScheduleNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memRepo) ListEnabledSchedules(ctx context.Context) ([]dose.Schedule, error) {
	var out []dose.Schedule
	for _, s := range r.schedules {
		if s.Enabled {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *memRepo) GetDoseByID(ctx context.Context, id uuid.UUID) (*dose.DoseInstance, error) {
	d, ok := r.doses[id]
	if !ok {
		return nil, dose.ErrDoseNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *memRepo) InsertDoseInstances(ctx context.Context, doses []dose.DoseInstance) (int, error) {
	created := 0
	for _, d := range doses {
		k := doseKey(d.ItemID, d.DueAt)
		if _, exists := r.byKey[k]; exists {
			continue
		}
		cp := d
		cp.Status = dose.StatusScheduled
		r.doses[cp.ID] = &cp
		r.byKey[k] = cp.ID
		created++
	}
	return created, nil
}

func (r *memRepo) UpdateDoseStatus(ctx context.Context, id uuid.UUID, from, to dose.Status, takenAt *time.Time, delayMinutes *int) (*dose.DoseInstance, error) {
	d, ok := r.doses[id]
	if !ok || d.Status != from {
		return nil, dose.ErrDoseNotFound
	}
	d.Status = to
	d.TakenAt = takenAt
	d.DelayMinutes = delayMinutes
	cp := *d
	return &cp, nil
}

func (r *memRepo) ListDosesByItemBetween(ctx context.Context, itemID uuid.UUID, from, to time.Time) ([]dose.DoseInstance, error) {
	var out []dose.DoseInstance
	for _, d := range r.doses {
		if d.ItemID == itemID && !d.DueAt.Before(from) && d.DueAt.Before(to) {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *memRepo) ListDosesByUserBetween(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]dose.DoseInstance, error) {
	var out []dose.DoseInstance
	for _, d := range r.doses {
		if d.UserID == userID && !d.DueAt.Before(from) && d.DueAt.Before(to) {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *memRepo) ListScheduledBetween(ctx context.Context, from, to time.Time) ([]dose.DoseInstance, error) {
	var out []dose.DoseInstance
	for _, d := range r.doses {
		if d.Status == dose.StatusScheduled && !d.DueAt.Before(from) && d.DueAt.Before(to) {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *memRepo) DeleteFutureScheduled(ctx context.Context, itemID uuid.UUID, after time.Time) (int64, error) {
	var n int64
	for id, d := range r.doses {
		if d.ItemID == itemID && d.Status == dose.StatusScheduled && d.DueAt.After(after) {
			delete(r.byKey, doseKey(d.ItemID, d.DueAt))
			delete(r.doses, id)
			n++
		}
	}
	return n, nil
}

func (r *memRepo) InsertEvent(ctx context.Context, ev dose.EventLog) error {
	r.events = append(r.events, ev)
	return nil
}

type passLocker struct{}

func (passLocker) WithLock(ctx context.Context, kind string, id uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type consumeCall struct {
	itemID uuid.UUID
	amount int
	reason string
}

type fakeStock struct {
	calls []consumeCall
}

func (f *fakeStock) Consume(ctx context.Context, itemID uuid.UUID, amount int, reason string, at time.Time) error {
	f.calls = append(f.calls, consumeCall{itemID: itemID, amount: amount, reason: reason})
	return nil
}

var testNow = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC) // a Monday

func testConfig() config.Config {
	return config.Config{
		GraceThreshold:  4 * time.Hour,
		ReminderHorizon: 24 * time.Hour,
	}
}

type env struct {
	repo  *memRepo
	stock *fakeStock
	svc   *dose.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	repo := newMemRepo()
	st := &fakeStock{}
	svc := dose.NewService(repo, passLocker{}, st, testConfig())
	svc.Now = func() time.Time { return testNow }
	return &env{repo: repo, stock: st, svc: svc}
}

func (e *env) addItem(t *testing.T, category dose.ItemCategory) *dose.Item {
	t.Helper()
	it := &dose.Item{
		ID:       uuid.New(),
		UserID:   uuid.New(),
		Name:     "Lisinopril",
		Category: category,
		Active:   true,
	}
	e.repo.items[it.ID] = it
	return it
}

func (e *env) addDailySchedule(t *testing.T, itemID uuid.UUID, times ...string) *dose.Schedule {
	t.Helper()
	s := &dose.Schedule{
		ID:        uuid.New(),
		ItemID:    itemID,
		Frequency: dose.FrequencyDaily,
		Timezone:  "UTC",
		Enabled:   true,
	}
	for _, raw := range times {
		tod, err := dose.ParseTimeOfDay(raw)
		require.NoError(t, err)
		s.Times = append(s.Times, tod)
	}
	e.repo.schedules[itemID] = s
	return s
}

func TestMaterializeIdempotent(t *testing.T) {
	e := newEnv(t)
	item := e.addItem(t, dose.CategoryMedication)
	e.addDailySchedule(t, item.ID, "08:00", "20:00")

	ctx := context.Background()
	windowEnd := testNow.Add(72 * time.Hour)

	created, err := e.svc.Materialize(ctx, item.ID, testNow, windowEnd)
	require.NoError(t, err)
	assert.Equal(t, 6, created) // 20:00 today, then 2 a day for 2 full days, 08:00 on day 3

	again, err := e.svc.Materialize(ctx, item.ID, testNow, windowEnd)
	require.NoError(t, err)
	assert.Zero(t, again, "re-running materialize must not duplicate instances")
	assert.Len(t, e.repo.doses, 6)
}

func TestOccurrencesSpecificDays(t *testing.T) {
	tod, err := dose.ParseTimeOfDay("09:30")
	require.NoError(t, err)

	s := dose.Schedule{
		Frequency:  dose.FrequencySpecificDays,
		Times:      []dose.TimeOfDay{tod},
		DaysOfWeek: []time.Weekday{time.Monday, time.Thursday},
		Timezone:   "UTC",
		Enabled:    true,
	}

	from := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC) // Monday
	to := from.AddDate(0, 0, 7)

	occ := dose.Occurrences(s, from, to)
	require.Len(t, occ, 2)
	assert.Equal(t, time.Monday, occ[0].Weekday())
	assert.Equal(t, time.Thursday, occ[1].Weekday())
}

func TestOccurrencesInterval(t *testing.T) {
	tod, err := dose.ParseTimeOfDay("08:00")
	require.NoError(t, err)

	anchor := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	s := dose.Schedule{
		Frequency:    dose.FrequencyInterval,
		Times:        []dose.TimeOfDay{tod},
		IntervalDays: 3,
		AnchorDate:   anchor,
		Timezone:     "UTC",
		Enabled:      true,
	}

	occ := dose.Occurrences(s, anchor, anchor.AddDate(0, 0, 9))
	require.Len(t, occ, 3)
	assert.Equal(t, anchor.Add(8*time.Hour), occ[0])
	assert.Equal(t, anchor.AddDate(0, 0, 3).Add(8*time.Hour), occ[1])
	assert.Equal(t, anchor.AddDate(0, 0, 6).Add(8*time.Hour), occ[2])
}

func TestRecordTakenEmitsConsumption(t *testing.T) {
	e := newEnv(t)
	item := e.addItem(t, dose.CategoryMedication)
	e.addDailySchedule(t, item.ID, "13:00")

	ctx := context.Background()
	_, err := e.svc.Materialize(ctx, item.ID, testNow, testNow.Add(24*time.Hour))
	require.NoError(t, err)

	var d *dose.DoseInstance
	for _, v := range e.repo.doses {
		d = v
	}
	require.NotNil(t, d)

	takenAt := d.DueAt.Add(20 * time.Minute)
	updated, err := e.svc.RecordTaken(ctx, d.ID, takenAt)
	require.NoError(t, err)

	assert.Equal(t, dose.StatusTaken, updated.Status)
	require.NotNil(t, updated.DelayMinutes)
	assert.Equal(t, 20, *updated.DelayMinutes)

	require.Len(t, e.stock.calls, 1)
	assert.Equal(t, item.ID, e.stock.calls[0].itemID)
	assert.Equal(t, 1, e.stock.calls[0].amount)
	assert.Equal(t, "taken", e.stock.calls[0].reason)
}

func TestBackdatedTakenHasZeroDelay(t *testing.T) {
	e := newEnv(t)
	item := e.addItem(t, dose.CategoryMedication)
	e.addDailySchedule(t, item.ID, "13:00")

	ctx := context.Background()
	_, err := e.svc.Materialize(ctx, item.ID, testNow, testNow.Add(24*time.Hour))
	require.NoError(t, err)

	var d *dose.DoseInstance
	for _, v := range e.repo.doses {
		d = v
	}

	updated, err := e.svc.RecordTaken(ctx, d.ID, d.DueAt.Add(-45*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, updated.DelayMinutes)
	assert.Zero(t, *updated.DelayMinutes)
}

func TestTerminalStateRejectsTransitions(t *testing.T) {
	e := newEnv(t)
	item := e.addItem(t, dose.CategoryMedication)
	e.addDailySchedule(t, item.ID, "13:00")

	ctx := context.Background()
	_, err := e.svc.Materialize(ctx, item.ID, testNow, testNow.Add(24*time.Hour))
	require.NoError(t, err)

	var d *dose.DoseInstance
	for _, v := range e.repo.doses {
		d = v
	}

	_, err = e.svc.RecordTaken(ctx, d.ID, testNow)
	require.NoError(t, err)

	_, err = e.svc.RecordTaken(ctx, d.ID, testNow)
	assert.ErrorIs(t, err, dose.ErrInvalidTransition)
	_, err = e.svc.RecordSkipped(ctx, d.ID)
	assert.ErrorIs(t, err, dose.ErrInvalidTransition)
	_, err = e.svc.RecordMissed(ctx, d.ID)
	assert.ErrorIs(t, err, dose.ErrInvalidTransition)
}

func TestEffectiveStatusLazyMissed(t *testing.T) {
	d := dose.DoseInstance{Status: dose.StatusScheduled, DueAt: testNow.Add(-5 * time.Hour)}
	assert.Equal(t, dose.StatusMissed, dose.EffectiveStatus(d, testNow, 4*time.Hour))

	d.DueAt = testNow.Add(-3 * time.Hour)
	assert.Equal(t, dose.StatusScheduled, dose.EffectiveStatus(d, testNow, 4*time.Hour))

	d.Status = dose.StatusTaken
	d.DueAt = testNow.Add(-10 * time.Hour)
	assert.Equal(t, dose.StatusTaken, dose.EffectiveStatus(d, testNow, 4*time.Hour))
}

func TestOverdueDoseRejectsTakenAndFlipsMissed(t *testing.T) {
	e := newEnv(t)
	item := e.addItem(t, dose.CategoryMedication)

	d := &dose.DoseInstance{
		ID:     uuid.New(),
		ItemID: item.ID,
		UserID: item.UserID,
		DueAt:  testNow.Add(-6 * time.Hour),
		Status: dose.StatusScheduled,
	}
	e.repo.doses[d.ID] = d
	e.repo.byKey[doseKey(d.ItemID, d.DueAt)] = d.ID

	_, err := e.svc.RecordTaken(context.Background(), d.ID, testNow)
	assert.ErrorIs(t, err, dose.ErrInvalidTransition)
	assert.Equal(t, dose.StatusMissed, e.repo.doses[d.ID].Status,
		"grace-elapsed dose should be persisted as missed when caught")
}

func TestRematerializePreservesHistory(t *testing.T) {
	e := newEnv(t)
	item := e.addItem(t, dose.CategoryMedication)
	e.addDailySchedule(t, item.ID, "13:00")

	ctx := context.Background()
	_, err := e.svc.Materialize(ctx, item.ID, testNow, testNow.Add(72*time.Hour))
	require.NoError(t, err)

	// Take today's dose, then change the schedule time and rematerialize.
	var today *dose.DoseInstance
	for _, v := range e.repo.doses {
		if v.DueAt.Day() == testNow.Day() {
			today = v
		}
	}
	require.NotNil(t, today)
	_, err = e.svc.RecordTaken(ctx, today.ID, today.DueAt)
	require.NoError(t, err)

	e.addDailySchedule(t, item.ID, "18:00")
	_, err = e.svc.Rematerialize(ctx, item.ID, testNow.Add(72*time.Hour))
	require.NoError(t, err)

	taken := 0
	for _, v := range e.repo.doses {
		if v.Status == dose.StatusTaken {
			taken++
		}
		if v.Status == dose.StatusScheduled {
			assert.Equal(t, 18, v.DueAt.Hour(), "future scheduled doses follow the new schedule")
		}
	}
	assert.Equal(t, 1, taken, "past taken dose survives the schedule change")
}

func TestListByUserAppliesLazyMissed(t *testing.T) {
	e := newEnv(t)
	item := e.addItem(t, dose.CategoryMedication)

	d := &dose.DoseInstance{
		ID:     uuid.New(),
		ItemID: item.ID,
		UserID: item.UserID,
		DueAt:  testNow.Add(-6 * time.Hour),
		Status: dose.StatusScheduled,
	}
	e.repo.doses[d.ID] = d

	doses, err := e.svc.ListByUser(context.Background(), item.UserID, testNow.Add(-24*time.Hour), testNow)
	require.NoError(t, err)
	require.Len(t, doses, 1)
	assert.Equal(t, dose.StatusMissed, doses[0].Status)
}
