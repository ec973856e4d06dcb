package broadcast

import (
	"context"
	"fmt"
	"time"

	"RacePool/internal/observability"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/sugawarayuuta/sonnet"
)

// NATSPublisher fans room events out over NATS JetStream on subjects
// race.rooms.{room_id}.{event}. Publish never blocks: messages go through
// a buffered channel and are dropped (and counted) when it is full.
type NATSPublisher struct {
	js      jetstream.JetStream
	queue   chan Message
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewNATSPublisher(js jetstream.JetStream, bufSize int, metrics *observability.Metrics) *NATSPublisher {
	return &NATSPublisher{
		js:      js,
		queue:   make(chan Message, bufSize),
		metrics: metrics,
		log:     observability.NewLogger("broadcast"),
	}
}

// Publish enqueues an event for delivery. Drops on a full queue.
func (p *NATSPublisher) Publish(roomID uuid.UUID, event string, payload interface{}) {
	select {
	case p.queue <- Message{RoomID: roomID, Event: event, Payload: payload}:
	default:
		if p.metrics != nil {
			p.metrics.PublishDrops.Inc()
		}
	}
}

// Run drains the queue and publishes until the context ends.
func (p *NATSPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-p.queue:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, msg); err != nil {
				if p.metrics != nil {
					p.metrics.PublishErrors.Inc()
				}
				p.log.Warn().
					Str("room_id", msg.RoomID.String()).
					Str("event", msg.Event).
					Err(err).
					Msg("publish failed")
			}
		}
	}
}

func (p *NATSPublisher) publish(ctx context.Context, msg Message) error {
	// GAME_STATE runs at tick rate per room; sonnet keeps the encode cheap.
	data, err := sonnet.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("race.rooms.%s.%s", msg.RoomID, msg.Event)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	if p.metrics != nil {
		p.metrics.EventsPublished.WithLabelValues(msg.Event).Inc()
	}
	return nil
}

// EnsureStream creates the room-events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "RACE_ROOM_EVENTS",
		Subjects:  []string{"race.rooms.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create room events stream: %w", err)
	}
	return nil
}
