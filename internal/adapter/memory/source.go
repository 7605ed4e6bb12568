// internal/adapter/memory/source.go

package memory

import (
	"context"
	"sync"

	"nearchat/internal/domain/message"
)

// Source is an in-memory message.Source used for development and tests.
// Creates fan out synchronously to all live subscribers.
type Source struct {
	mu       sync.Mutex
	messages []message.GeoMessage
	subs     map[int]func([]message.GeoMessage)
	nextID   int
}

// NewSource creates an empty in-memory source.
func NewSource() *Source {
	return &Source{
		subs: make(map[int]func([]message.GeoMessage)),
	}
}

// Seed inserts messages without notifying subscribers.
func (s *Source) Seed(msgs ...message.GeoMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, msgs...)
}

// FetchAll returns a copy of the collection, newest first.
func (s *Source) FetchAll(_ context.Context) ([]message.GeoMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshotLocked(), nil
}

// Subscribe registers a callback for collection changes.
func (s *Source) Subscribe(_ context.Context, fn func([]message.GeoMessage)) (message.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	return &subscription{source: s, id: id}, nil
}

// Create appends a message and notifies subscribers with the updated
// collection.
func (s *Source) Create(_ context.Context, msg message.GeoMessage) error {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	snapshot := s.snapshotLocked()
	subs := make([]func([]message.GeoMessage), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}

	return nil
}

// Notify re-delivers the current collection to all subscribers. Tests use
// it to simulate backend-driven changes.
func (s *Source) Notify() {
	s.mu.Lock()
	snapshot := s.snapshotLocked()
	subs := make([]func([]message.GeoMessage), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}

func (s *Source) snapshotLocked() []message.GeoMessage {
	snapshot := append([]message.GeoMessage(nil), s.messages...)
	message.SortByRecency(snapshot)
	return snapshot
}

type subscription struct {
	source *Source
	id     int
	once   sync.Once
}

// Cancel unregisters the callback. Idempotent.
func (s *subscription) Cancel() {
	s.once.Do(func() {
		s.source.mu.Lock()
		defer s.source.mu.Unlock()

		delete(s.source.subs, s.id)
	})
}
