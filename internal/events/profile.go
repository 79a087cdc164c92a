// Package events carries profile-change signals from the REST layer to the
// WebSocket gateway over Redis pub/sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// ProfileChannel is the Redis channel profile changes are published on.
const ProfileChannel = "chat:profile-changes"

type ProfileKind string

const (
	ColorChanged  ProfileKind = "color"
	AvatarChanged ProfileKind = "avatar"
)

// ProfileChange is emitted after a user's color or avatar has been persisted.
type ProfileChange struct {
	Kind     ProfileKind `json:"kind"`
	UserID   int         `json:"user_id"`
	Username string      `json:"username"`
	Value    string      `json:"value"`
}

func (p ProfileChange) Validate() error {
	if p.UserID <= 0 {
		return fmt.Errorf("profile change: invalid user id %d", p.UserID)
	}
	switch p.Kind {
	case ColorChanged, AvatarChanged:
		return nil
	default:
		return fmt.Errorf("profile change: unknown kind %q", p.Kind)
	}
}

// RedisBus publishes and consumes ProfileChange events.
type RedisBus struct {
	client  *redis.Client
	channel string
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client, channel: ProfileChannel}
}

func (b *RedisBus) PublishProfileChange(ctx context.Context, change ProfileChange) error {
	if err := change.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish profile change: %w", err)
	}
	return nil
}

// Subscribe delivers decoded changes until ctx is cancelled. The returned
// channel is closed when the subscription ends.
func (b *RedisBus) Subscribe(ctx context.Context) (<-chan ProfileChange, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	// Receive once so a bad connection surfaces here and not in the loop.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	out := make(chan ProfileChange)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				change, err := Decode([]byte(msg.Payload))
				if err != nil {
					log.Printf("[events] dropping profile change: %v", err)
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Decode parses and validates a published payload.
func Decode(payload []byte) (ProfileChange, error) {
	var change ProfileChange
	if err := json.Unmarshal(payload, &change); err != nil {
		return ProfileChange{}, err
	}
	if err := change.Validate(); err != nil {
		return ProfileChange{}, err
	}
	return change, nil
}
