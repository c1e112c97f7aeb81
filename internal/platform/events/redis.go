package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const DefaultRedisChannel = "klinik:events"

// redisPublisher is the part of *redis.Client used on the outbound path.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisBridge relays bus envelopes between server instances over Redis
// pub/sub, so a display connected to one replica sees changes made through
// another. Outbound envelopes are queued and published by Run; a full queue
// drops the envelope.
type RedisBridge struct {
	client  *redis.Client
	pub     redisPublisher
	bus     *Bus
	channel string
	out     chan Envelope
	timeout time.Duration
	logger  zerolog.Logger
}

func NewRedisBridge(client *redis.Client, bus *Bus, logger zerolog.Logger) *RedisBridge {
	return newRedisBridge(client, client, bus, logger)
}

func newRedisBridge(client *redis.Client, pub redisPublisher, bus *Bus, logger zerolog.Logger) *RedisBridge {
	return &RedisBridge{
		client:  client,
		pub:     pub,
		bus:     bus,
		channel: DefaultRedisChannel,
		out:     make(chan Envelope, 256),
		timeout: 2 * time.Second,
		logger:  logger.With().Str("component", "redis_bridge").Logger(),
	}
}

// Deliver implements Subscriber for the outbound direction.
func (r *RedisBridge) Deliver(env Envelope) {
	select {
	case r.out <- env:
	default:
		r.logger.Warn().Str("event", env.Event).Str("topic", env.Topic).Msg("outbound queue full, dropping event")
	}
}

// Run publishes queued envelopes and injects envelopes from other instances
// until ctx is cancelled.
func (r *RedisBridge) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	incoming := sub.Channel()
	r.logger.Info().Str("channel", r.channel).Msg("redis bridge started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-r.out:
			r.publish(ctx, env)
		case msg, ok := <-incoming:
			if !ok {
				return nil
			}
			r.handleMessage(msg.Payload)
		}
	}
}

func (r *RedisBridge) publish(ctx context.Context, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		r.logger.Error().Err(err).Msg("encode envelope")
		return
	}
	pctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.pub.Publish(pctx, r.channel, data).Err(); err != nil {
		r.logger.Warn().Err(err).Str("event", env.Event).Msg("redis publish failed")
	}
}

func (r *RedisBridge) handleMessage(payload string) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Warn().Err(err).Msg("ignoring malformed envelope")
		return
	}
	r.bus.Inject(env)
}
