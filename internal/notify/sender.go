package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Payload is what a channel sender delivers. Transport details stay behind
// the sender; the dispatcher only knows success or failure.
type Payload struct {
	UserID  uuid.UUID `json:"user_id"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	FireAt  time.Time `json:"fire_at"`
}

// ChannelSender is the capability interface the dispatcher iterates over.
// One implementation per channel; the dispatcher never implements transport.
type ChannelSender interface {
	Channel() Channel
	Capable(ctx context.Context, userID uuid.UUID) (bool, error)
	Send(ctx context.Context, p Payload) error
}

// BindingReader is the capability lookup shared by endpoint-backed senders.
type BindingReader interface {
	GetChannelBinding(ctx context.Context, userID uuid.UUID, channel Channel) (*ChannelBinding, error)
}

// PushSender delivers through an external push gateway over HTTP. The
// subscription itself (keys, endpoints) is owned by the surrounding
// application; this sender only needs an enabled binding.
type PushSender struct {
	client     *http.Client
	gatewayURL string
	bindings   BindingReader
}

func NewPushSender(client *http.Client, gatewayURL string, bindings BindingReader) *PushSender {
	return &PushSender{client: client, gatewayURL: gatewayURL, bindings: bindings}
}

func (s *PushSender) Channel() Channel { return ChannelPush }

func (s *PushSender) Capable(ctx context.Context, userID uuid.UUID) (bool, error) {
	if s.gatewayURL == "" {
		return false, nil
	}
	b, err := s.bindings.GetChannelBinding(ctx, userID, ChannelPush)
	if err != nil {
		if errors.Is(err, ErrBindingNotFound) {
			return false, nil
		}
		return false, err
	}
	return b.Enabled, nil
}

func (s *PushSender) Send(ctx context.Context, p Payload) error {
	b, err := s.bindings.GetChannelBinding(ctx, p.UserID, ChannelPush)
	if err != nil {
		return fmt.Errorf("load push binding: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"endpoint": b.Endpoint,
		"payload":  p,
	})
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.gatewayURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("push gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("push gateway returned %d", resp.StatusCode)
	}
	return nil
}

// LocalSender enqueues the notification on a per-user Redis list that the
// user's devices drain. Always capable: the queue exists whether or not a
// device is currently listening.
type LocalSender struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLocalSender(client *redis.Client, ttl time.Duration) *LocalSender {
	return &LocalSender{client: client, ttl: ttl}
}

func (s *LocalSender) Channel() Channel { return ChannelLocal }

func (s *LocalSender) Capable(ctx context.Context, userID uuid.UUID) (bool, error) {
	return true, nil
}

func (s *LocalSender) Send(ctx context.Context, p Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal local payload: %w", err)
	}

	key := fmt.Sprintf("notify:local:%s", p.UserID.String())
	if err := s.client.LPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("enqueue local notification: %w", err)
	}
	if s.ttl > 0 {
		_ = s.client.Expire(ctx, key, s.ttl).Err()
	}
	return nil
}

// WebSender posts to a per-user webhook endpoint.
type WebSender struct {
	client   *http.Client
	bindings BindingReader
}

func NewWebSender(client *http.Client, bindings BindingReader) *WebSender {
	return &WebSender{client: client, bindings: bindings}
}

func (s *WebSender) Channel() Channel { return ChannelWeb }

func (s *WebSender) Capable(ctx context.Context, userID uuid.UUID) (bool, error) {
	b, err := s.bindings.GetChannelBinding(ctx, userID, ChannelWeb)
	if err != nil {
		if errors.Is(err, ErrBindingNotFound) {
			return false, nil
		}
		return false, err
	}
	return b.Enabled, nil
}

func (s *WebSender) Send(ctx context.Context, p Payload) error {
	b, err := s.bindings.GetChannelBinding(ctx, p.UserID, ChannelWeb)
	if err != nil {
		return fmt.Errorf("load web binding: %w", err)
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal web payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// SoundSender is the last-resort channel: the client plays a sound cue the
// next time it syncs. Delivery is just the audit record, so sending never
// fails.
type SoundSender struct{}

func NewSoundSender() *SoundSender { return &SoundSender{} }

func (s *SoundSender) Channel() Channel { return ChannelSound }

func (s *SoundSender) Capable(ctx context.Context, userID uuid.UUID) (bool, error) {
	return true, nil
}

func (s *SoundSender) Send(ctx context.Context, p Payload) error {
	return nil
}
