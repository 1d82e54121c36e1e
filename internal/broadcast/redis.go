package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultChannel is the Redis channel used when none is configured.
const DefaultChannel = "wirechat-events"

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Redis fans events out to every instance subscribed to the same channel.
// Each instance delivers to its own sessions from the subscription, including
// the instance that published.
type Redis struct {
	client  *redis.Client
	channel string
	target  Deliverer
	log     *zerolog.Logger
}

// NewRedis creates a Redis-backed bus.
func NewRedis(client *redis.Client, channel string, target Deliverer, logger *zerolog.Logger) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{
		client:  client,
		channel: channel,
		target:  target,
		log:     logger,
	}
}

// Publish encodes ev and publishes it to the channel.
func (r *Redis) Publish(ctx context.Context, ev Event) error {
	payload, err := encodeEnvelope(ev)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Run subscribes to the channel and delivers events until ctx is done.
func (r *Redis) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("redis subscribe: %w", err)
	}
	r.log.Info().Str("channel", r.channel).Msg("subscribed to redis channel")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscription closed")
			}
			ev, err := decodeEnvelope([]byte(msg.Payload))
			if err != nil {
				r.log.Warn().Err(err).Msg("drop malformed redis event")
				continue
			}
			r.target.Deliver(ev)
		}
	}
}

func encodeEnvelope(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", ev.Name, err)
	}
	return json.Marshal(envelope{Event: ev.Name, Data: data})
}

func decodeEnvelope(payload []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Event{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Event == "" {
		return Event{}, errors.New("envelope without event name")
	}
	return Event{Name: env.Event, Data: env.Data}, nil
}
