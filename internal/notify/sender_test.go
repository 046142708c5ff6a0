package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/medication-adherence-engine/internal/notify"
)

func TestPushSenderCapability(t *testing.T) {
	userID := uuid.New()
	repo := newMemNotifyRepo()

	s := notify.NewPushSender(http.DefaultClient, "http://gateway.invalid/send", repo)

	capable, err := s.Capable(context.Background(), userID)
	require.NoError(t, err)
	assert.False(t, capable, "no binding means not capable")

	repo.bindings[userID] = map[notify.Channel]*notify.ChannelBinding{
		notify.ChannelPush: {UserID: userID, Channel: notify.ChannelPush, Endpoint: "https://fcm.example/abc", Enabled: false},
	}
	capable, err = s.Capable(context.Background(), userID)
	require.NoError(t, err)
	assert.False(t, capable, "disabled binding means not capable")

	repo.bindings[userID][notify.ChannelPush].Enabled = true
	capable, err = s.Capable(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, capable)

	unconfigured := notify.NewPushSender(http.DefaultClient, "", repo)
	capable, err = unconfigured.Capable(context.Background(), userID)
	require.NoError(t, err)
	assert.False(t, capable, "no gateway configured means not capable")
}

func TestPushSenderPostsToGateway(t *testing.T) {
	userID := uuid.New()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	repo := newMemNotifyRepo()
	repo.bindings[userID] = map[notify.Channel]*notify.ChannelBinding{
		notify.ChannelPush: {UserID: userID, Channel: notify.ChannelPush, Endpoint: "https://fcm.example/abc", Enabled: true},
	}

	s := notify.NewPushSender(srv.Client(), srv.URL, repo)
	err := s.Send(context.Background(), notify.Payload{
		UserID:  userID,
		Kind:    "dose_reminder",
		Message: "Time to take Aspirin",
		FireAt:  testNow,
	})
	require.NoError(t, err)

	assert.Equal(t, "https://fcm.example/abc", got["endpoint"])
	payload, ok := got["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Time to take Aspirin", payload["message"])
}

func TestPushSenderGatewayError(t *testing.T) {
	userID := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	repo := newMemNotifyRepo()
	repo.bindings[userID] = map[notify.Channel]*notify.ChannelBinding{
		notify.ChannelPush: {UserID: userID, Channel: notify.ChannelPush, Endpoint: "https://fcm.example/abc", Enabled: true},
	}

	s := notify.NewPushSender(srv.Client(), srv.URL, repo)
	err := s.Send(context.Background(), notify.Payload{UserID: userID, Message: "x", FireAt: testNow})
	assert.Error(t, err)
}

func TestWebSenderPostsToBoundEndpoint(t *testing.T) {
	userID := uuid.New()

	var got notify.Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	repo := newMemNotifyRepo()
	repo.bindings[userID] = map[notify.Channel]*notify.ChannelBinding{
		notify.ChannelWeb: {UserID: userID, Channel: notify.ChannelWeb, Endpoint: srv.URL, Enabled: true},
	}

	s := notify.NewWebSender(srv.Client(), repo)

	capable, err := s.Capable(context.Background(), userID)
	require.NoError(t, err)
	require.True(t, capable)

	err = s.Send(context.Background(), notify.Payload{UserID: userID, Message: "Evening check-in", FireAt: testNow})
	require.NoError(t, err)
	assert.Equal(t, "Evening check-in", got.Message)
}

func TestSoundSenderAlwaysDelivers(t *testing.T) {
	s := notify.NewSoundSender()

	capable, err := s.Capable(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, capable)

	assert.NoError(t, s.Send(context.Background(), notify.Payload{FireAt: time.Now()}))
}
