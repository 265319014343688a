package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/muster-io/muster/pkg/fleet"
)

// envelope wraps a payload with its origin for the trip across Redis.
// The payload round-trips as base64 inside the JSON envelope, so the
// bytes themselves stay opaque.
type envelope struct {
	Origin  string `json:"origin"`
	Payload []byte `json:"payload"`
}

// DecodeEnvelope unwraps a raw wire message into its origin and payload.
// Used by observers tailing wire channels directly.
func DecodeEnvelope(data []byte) (string, []byte, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("failed to unmarshal wire envelope: %w", err)
	}
	return env.Origin, env.Payload, nil
}

// Redis is a Transport over Redis Pub/Sub wire channels. Each endpoint
// listens on its own channel (muster:{instance}:wire:{name}) and publishes
// to the destination's channel. Delivery is at-most-once, matching the
// bus's best-effort contract.
type Redis struct {
	rdb          *redis.Client
	instanceName string
	self         string
	pubsub       *redis.PubSub
	messages     <-chan *redis.Message
}

// NewRedis creates a Redis transport endpoint identified by self.
// The subscription on this endpoint's wire channel is established before
// returning, so payloads sent after NewRedis succeeds are receivable.
func NewRedis(ctx context.Context, redisOpts *redis.Options, instanceName, self string) (*Redis, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	if self == "" {
		return nil, fmt.Errorf("endpoint name cannot be empty")
	}

	rdb := redis.NewClient(redisOpts)
	pubsub := rdb.Subscribe(ctx, fleet.WireChannel(instanceName, self))

	// Force the subscription onto the wire before the first Send races it.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		rdb.Close()
		return nil, fmt.Errorf("failed to subscribe to wire channel: %w", err)
	}

	return &Redis{
		rdb:          rdb,
		instanceName: instanceName,
		self:         self,
		pubsub:       pubsub,
		messages:     pubsub.Channel(),
	}, nil
}

// Send publishes a payload to the destination's wire channel.
func (t *Redis) Send(ctx context.Context, destination string, payload []byte) error {
	data, err := json.Marshal(envelope{Origin: t.self, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal wire envelope: %w", err)
	}

	channel := fleet.WireChannel(t.instanceName, destination)
	if err := t.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to wire channel %s: %w", channel, err)
	}
	return nil
}

// Receive blocks until a payload arrives on this endpoint's wire channel,
// the context is cancelled, or the transport is closed.
func (t *Redis) Receive(ctx context.Context) (string, []byte, error) {
	for {
		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case msg, ok := <-t.messages:
			if !ok {
				return "", nil, fmt.Errorf("transport closed")
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				return "", nil, fmt.Errorf("failed to unmarshal wire envelope: %w", err)
			}
			return env.Origin, env.Payload, nil
		}
	}
}

// Close tears down the subscription and the Redis connection.
// After Close, Receive returns an error and the transport must not be used.
func (t *Redis) Close() error {
	if err := t.pubsub.Close(); err != nil {
		t.rdb.Close()
		return err
	}
	return t.rdb.Close()
}
