package progress

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RelayChannel is the Redis pub/sub channel shared by all instances
const RelayChannel = "sync:progress"

const relayBuffer = 256

type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// RedisRelay fans progress events out across service instances
type RedisRelay struct {
	client *redis.Client
	hub    *Hub
	origin string
	outbox chan Event
	logger *logrus.Entry
}

// NewRedisRelay wires the relay into the hub's forwarder
func NewRedisRelay(client *redis.Client, hub *Hub, logger *logrus.Logger) *RedisRelay {
	r := &RedisRelay{
		client: client,
		hub:    hub,
		origin: uuid.NewString(),
		outbox: make(chan Event, relayBuffer),
		logger: logger.WithField("component", "progress.relay"),
	}
	hub.SetForwarder(r.enqueue)
	return r
}

// Origin returns the id this instance stamps on outgoing messages
func (r *RedisRelay) Origin() string {
	return r.origin
}

// Run publishes local events and delivers remote ones until ctx is done
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, RelayChannel)
	defer pubsub.Close()

	// Wait for confirmation that subscription is created
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	r.logger.WithField("channel", RelayChannel).Info("Progress relay subscribed")

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-r.outbox:
			r.send(ctx, event)
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.receive(msg.Payload)
		}
	}
}

func (r *RedisRelay) enqueue(event Event) {
	select {
	case r.outbox <- event:
	default:
		r.logger.WithField("job_id", event.JobID).Warn("Relay outbox full, dropping progress event")
	}
}

func (r *RedisRelay) send(ctx context.Context, event Event) {
	payload, err := json.Marshal(envelope{Origin: r.origin, Event: event})
	if err != nil {
		r.logger.WithError(err).Error("Failed to encode progress event")
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.client.Publish(pubCtx, RelayChannel, payload).Err(); err != nil {
		r.logger.WithError(err).WithField("job_id", event.JobID).Warn("Failed to relay progress event")
	}
}

func (r *RedisRelay) receive(payload string) {
	var msg envelope
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		r.logger.WithError(err).Warn("Ignoring malformed relay message")
		return
	}
	if msg.Origin == r.origin {
		return
	}
	r.hub.Deliver(msg.Event)
}
