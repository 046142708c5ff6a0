package notify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/medication-adherence-engine/internal/config"
	"github.com/hackgods/medication-adherence-engine/internal/notify"
	"github.com/hackgods/medication-adherence-engine/internal/reminder"
)

var testNow = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

type memNotifyRepo struct {
	attempts []notify.NotificationAttempt
	bindings map[uuid.UUID]map[notify.Channel]*notify.ChannelBinding
}

func newMemNotifyRepo() *memNotifyRepo {
	return &memNotifyRepo{bindings: make(map[uuid.UUID]map[notify.Channel]*notify.ChannelBinding)}
}

func (r *memNotifyRepo) InsertAttempt(ctx context.Context, a notify.NotificationAttempt) error {
	r.attempts = append(r.attempts, a)
	return nil
}

func (r *memNotifyRepo) GetChannelBinding(ctx context.Context, userID uuid.UUID, ch notify.Channel) (*notify.ChannelBinding, error) {
	if b, ok := r.bindings[userID][ch]; ok {
		cp := *b
		return &cp, nil
	}
	return nil, notify.ErrBindingNotFound
}

func (r *memNotifyRepo) Metrics(ctx context.Context) (*notify.Metrics, error) {
	m := &notify.Metrics{
		ByStatus:  make(map[notify.DeliveryStatus]int64),
		ByChannel: make(map[notify.Channel]int64),
	}
	for _, a := range r.attempts {
		m.Total++
		m.ByStatus[a.Status]++
		m.ByChannel[a.Channel]++
		if a.Status == notify.StatusDelivered {
			m.Delivered++
		}
	}
	if m.Total > 0 {
		m.SuccessRate = float64(m.Delivered) / float64(m.Total)
	}
	return m, nil
}

func (r *memNotifyRepo) byStatus(status notify.DeliveryStatus) []notify.NotificationAttempt {
	var out []notify.NotificationAttempt
	for _, a := range r.attempts {
		if a.Status == status {
			out = append(out, a)
		}
	}
	return out
}

// fakeSender fails the first failures sends, then succeeds.
type fakeSender struct {
	channel  notify.Channel
	capable  bool
	failures int
	sends    int
}

func (f *fakeSender) Channel() notify.Channel { return f.channel }

func (f *fakeSender) Capable(ctx context.Context, userID uuid.UUID) (bool, error) {
	return f.capable, nil
}

func (f *fakeSender) Send(ctx context.Context, p notify.Payload) error {
	f.sends++
	if f.sends <= f.failures {
		return errors.New("gateway unreachable")
	}
	return nil
}

type fakeIntents struct {
	due        []reminder.Intent
	dispatched map[uuid.UUID]time.Time
}

func (f *fakeIntents) DueIntents(ctx context.Context) ([]reminder.Intent, error) {
	return f.due, nil
}

func (f *fakeIntents) MarkDispatched(ctx context.Context, id uuid.UUID, at time.Time) error {
	if f.dispatched == nil {
		f.dispatched = make(map[uuid.UUID]time.Time)
	}
	f.dispatched[id] = at
	return nil
}

type fakeAlarms struct {
	triggered []uuid.UUID
}

func (f *fakeAlarms) MarkAlarmTriggered(ctx context.Context, alarmID uuid.UUID, at time.Time) error {
	f.triggered = append(f.triggered, alarmID)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		DeliveryRetries: 3,
		DeliveryTimeout: 50 * time.Millisecond,
		DeliveryBackoff: time.Millisecond,
	}
}

func doseIntent() reminder.Intent {
	doseID := uuid.New()
	return reminder.Intent{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		Kind:          reminder.KindDoseReminder,
		DoseID:        &doseID,
		OffsetMinutes: 5,
		FireAt:        testNow,
		Message:       "Aspirin due in 5 minutes",
	}
}

func newDispatcher(repo *memNotifyRepo, intents *fakeIntents, alarms *fakeAlarms, senders ...notify.ChannelSender) *notify.Dispatcher {
	d := notify.NewDispatcher(repo, senders, intents, intents, alarms, testConfig())
	d.Now = func() time.Time { return testNow }
	return d
}

func TestDispatchPrimaryChannel(t *testing.T) {
	repo := newMemNotifyRepo()
	intents := &fakeIntents{}
	push := &fakeSender{channel: notify.ChannelPush, capable: true}

	d := newDispatcher(repo, intents, &fakeAlarms{}, push)

	intent := doseIntent()
	res, err := d.Dispatch(context.Background(), intent)
	require.NoError(t, err)

	assert.True(t, res.Delivered)
	assert.Equal(t, notify.ChannelPush, res.Channel)
	assert.False(t, res.Fallback)
	assert.Equal(t, 1, res.Attempts)

	delivered := repo.byStatus(notify.StatusDelivered)
	require.Len(t, delivered, 1)
	assert.Equal(t, notify.ChannelPush, delivered[0].Channel)

	_, ok := intents.dispatched[intent.ID]
	assert.True(t, ok, "dispatched mark always set")
}

func TestDispatchFallsBackWhenPrimaryIncapable(t *testing.T) {
	repo := newMemNotifyRepo()
	intents := &fakeIntents{}
	push := &fakeSender{channel: notify.ChannelPush, capable: false}
	local := &fakeSender{channel: notify.ChannelLocal, capable: true}

	d := newDispatcher(repo, intents, &fakeAlarms{}, push, local)

	res, err := d.Dispatch(context.Background(), doseIntent())
	require.NoError(t, err)

	assert.True(t, res.Delivered)
	assert.Equal(t, notify.ChannelLocal, res.Channel)
	assert.True(t, res.Fallback)
	assert.Zero(t, push.sends, "an incapable channel is never tried")

	failed := repo.byStatus(notify.StatusFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, notify.ChannelPush, failed[0].Channel)

	fallback := repo.byStatus(notify.StatusFallback)
	require.Len(t, fallback, 1)
	assert.Equal(t, notify.ChannelLocal, fallback[0].Channel)
}

func TestDispatchRetriesThenSucceeds(t *testing.T) {
	repo := newMemNotifyRepo()
	intents := &fakeIntents{}
	push := &fakeSender{channel: notify.ChannelPush, capable: true, failures: 2}

	d := newDispatcher(repo, intents, &fakeAlarms{}, push)

	res, err := d.Dispatch(context.Background(), doseIntent())
	require.NoError(t, err)

	assert.True(t, res.Delivered)
	assert.Equal(t, 3, res.Attempts)
	assert.Len(t, repo.byStatus(notify.StatusFailed), 2, "each failed try lands in the trail")
	assert.Len(t, repo.byStatus(notify.StatusDelivered), 1)
}

func TestDispatchExhaustsRetriesAndMovesOn(t *testing.T) {
	repo := newMemNotifyRepo()
	intents := &fakeIntents{}
	push := &fakeSender{channel: notify.ChannelPush, capable: true, failures: 99}
	local := &fakeSender{channel: notify.ChannelLocal, capable: true}

	d := newDispatcher(repo, intents, &fakeAlarms{}, push, local)

	intent := doseIntent()
	res, err := d.Dispatch(context.Background(), intent)
	require.NoError(t, err, "delivery failures never propagate")

	assert.True(t, res.Delivered)
	assert.Equal(t, notify.ChannelLocal, res.Channel)
	assert.True(t, res.Fallback)
	assert.Equal(t, 3, push.sends, "bounded retries on the failing channel")

	_, ok := intents.dispatched[intent.ID]
	assert.True(t, ok)
}

func TestDispatchAllChannelsFailStillMarksDispatched(t *testing.T) {
	repo := newMemNotifyRepo()
	intents := &fakeIntents{}
	push := &fakeSender{channel: notify.ChannelPush, capable: true, failures: 99}

	d := newDispatcher(repo, intents, &fakeAlarms{}, push)

	intent := doseIntent()
	res, err := d.Dispatch(context.Background(), intent)
	require.NoError(t, err)

	assert.False(t, res.Delivered)
	assert.Len(t, repo.byStatus(notify.StatusFailed), 3)

	_, ok := intents.dispatched[intent.ID]
	assert.True(t, ok, "undeliverable intents are not retried indefinitely")
}

func TestDispatchDeliveredAlarmAdvances(t *testing.T) {
	repo := newMemNotifyRepo()
	intents := &fakeIntents{}
	alarms := &fakeAlarms{}
	local := &fakeSender{channel: notify.ChannelLocal, capable: true}

	d := newDispatcher(repo, intents, alarms, local)

	alarmID := uuid.New()
	intent := reminder.Intent{
		ID:      uuid.New(),
		UserID:  uuid.New(),
		Kind:    reminder.KindAlarm,
		AlarmID: &alarmID,
		FireAt:  testNow,
		Message: "Evening check-in",
	}

	res, err := d.Dispatch(context.Background(), intent)
	require.NoError(t, err)
	require.True(t, res.Delivered)

	require.Len(t, alarms.triggered, 1)
	assert.Equal(t, alarmID, alarms.triggered[0])
}

func TestDispatchDueProcessesBatchIndependently(t *testing.T) {
	repo := newMemNotifyRepo()
	alarms := &fakeAlarms{}
	sound := &fakeSender{channel: notify.ChannelSound, capable: true}

	intents := &fakeIntents{due: []reminder.Intent{doseIntent(), doseIntent(), doseIntent()}}
	d := newDispatcher(repo, intents, alarms, sound)

	dispatched, delivered, err := d.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, dispatched)
	assert.Equal(t, 3, delivered)
	assert.Len(t, intents.dispatched, 3)
}

func TestMetricsAggregation(t *testing.T) {
	repo := newMemNotifyRepo()
	intents := &fakeIntents{}
	push := &fakeSender{channel: notify.ChannelPush, capable: true, failures: 1}

	d := newDispatcher(repo, intents, &fakeAlarms{}, push)

	_, err := d.Dispatch(context.Background(), doseIntent())
	require.NoError(t, err)

	m, err := d.Metrics(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 2, m.Total) // one failed try, one delivered
	assert.EqualValues(t, 1, m.Delivered)
	assert.EqualValues(t, 1, m.ByStatus[notify.StatusFailed])
	assert.InDelta(t, 0.5, m.SuccessRate, 0.001)
}
