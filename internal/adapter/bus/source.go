// internal/adapter/bus/source.go

package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"nearchat/internal/domain/geo"
	"nearchat/internal/domain/message"
)

// Store is the fetch/create half of a message backend. bus.Source layers
// live subscriptions over it via NATS events.
type Store interface {
	FetchAll(ctx context.Context) ([]message.GeoMessage, error)
	Create(ctx context.Context, msg message.GeoMessage) error
}

// CreatedTopic is the NATS subject announcing new messages. Subscribers
// re-fetch the collection on every event rather than trusting the payload,
// so a lost event only delays convergence until the next one.
const CreatedTopic = "nearchat.messages.created"

// Source combines a Store with a NATS connection into a full
// message.Source: creates publish an event, subscriptions re-fetch on
// events and push the updated collection.
type Source struct {
	store Store
	conn  *nats.Conn
	log   *zap.SugaredLogger
}

// NewSource creates a NATS-backed live source over the given store.
func NewSource(store Store, conn *nats.Conn, log *zap.SugaredLogger) *Source {
	return &Source{
		store: store,
		conn:  conn,
		log:   log,
	}
}

// FetchAll delegates to the store.
func (s *Source) FetchAll(ctx context.Context) ([]message.GeoMessage, error) {
	msgs, err := s.store.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", message.ErrFetchFailed, err)
	}
	return msgs, nil
}

// FetchNear narrows server-side when the store supports it, otherwise it
// falls back to the full collection.
func (s *Source) FetchNear(ctx context.Context, center geo.Point, radiusMeters float64) ([]message.GeoMessage, error) {
	near, ok := s.store.(message.NearFetcher)
	if !ok {
		return s.FetchAll(ctx)
	}

	msgs, err := near.FetchNear(ctx, center, radiusMeters)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", message.ErrFetchFailed, err)
	}
	return msgs, nil
}

// Create persists through the store, then announces the new message. A
// failed publish is logged, not surfaced: the message is durable and will
// reach subscribers on their next refresh.
func (s *Source) Create(ctx context.Context, msg message.GeoMessage) error {
	if err := s.store.Create(ctx, msg); err != nil {
		return err
	}

	if err := s.conn.Publish(CreatedTopic, []byte(msg.ID)); err != nil {
		s.log.Warnw("failed to publish message event", "error", err, "message_id", msg.ID)
	}

	return nil
}

// Subscribe delivers the full refreshed collection on every created event.
func (s *Source) Subscribe(ctx context.Context, fn func([]message.GeoMessage)) (message.Subscription, error) {
	sub, err := s.conn.Subscribe(CreatedTopic, func(_ *nats.Msg) {
		msgs, err := s.store.FetchAll(ctx)
		if err != nil {
			s.log.Warnw("refresh after message event failed", "error", err)
			return
		}
		fn(msgs)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", CreatedTopic, err)
	}

	return &subscription{sub: sub}, nil
}

type subscription struct {
	sub  *nats.Subscription
	once sync.Once
}

// Cancel unsubscribes. Idempotent.
func (s *subscription) Cancel() {
	s.once.Do(func() {
		_ = s.sub.Unsubscribe()
	})
}
