// internal/adapter/memory/source_test.go

package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nearchat/internal/domain/geo"
	"nearchat/internal/domain/message"
)

func testMsg(id string, ts int64) message.GeoMessage {
	return message.GeoMessage{
		ID:        id,
		SenderID:  "sender-" + id,
		Kind:      message.KindText,
		Text:      "hi",
		Timestamp: ts,
		Location:  geo.Point{Latitude: 41.7151, Longitude: 44.8271},
	}
}

func TestFetchAllNewestFirst(t *testing.T) {
	s := NewSource()
	s.Seed(testMsg("old", 100), testMsg("new", 300), testMsg("mid", 200))

	msgs, err := s.FetchAll(context.Background())
	require.NoError(t, err)

	require.Len(t, msgs, 3)
	assert.Equal(t, "new", msgs[0].ID)
	assert.Equal(t, "mid", msgs[1].ID)
	assert.Equal(t, "old", msgs[2].ID)
}

func TestCreateNotifiesSubscribers(t *testing.T) {
	s := NewSource()

	var delivered [][]message.GeoMessage
	_, err := s.Subscribe(context.Background(), func(msgs []message.GeoMessage) {
		delivered = append(delivered, msgs)
	})
	require.NoError(t, err)

	require.NoError(t, s.Create(context.Background(), testMsg("a", 1)))
	require.NoError(t, s.Create(context.Background(), testMsg("b", 2)))

	require.Len(t, delivered, 2)
	assert.Len(t, delivered[0], 1)
	require.Len(t, delivered[1], 2)
	assert.Equal(t, "b", delivered[1][0].ID)
}

func TestSeedDoesNotNotify(t *testing.T) {
	s := NewSource()

	notified := 0
	_, err := s.Subscribe(context.Background(), func([]message.GeoMessage) {
		notified++
	})
	require.NoError(t, err)

	s.Seed(testMsg("a", 1))
	assert.Zero(t, notified)

	s.Notify()
	assert.Equal(t, 1, notified)
}

func TestCancelStopsDelivery(t *testing.T) {
	s := NewSource()

	notified := 0
	sub, err := s.Subscribe(context.Background(), func([]message.GeoMessage) {
		notified++
	})
	require.NoError(t, err)

	require.NoError(t, s.Create(context.Background(), testMsg("a", 1)))
	assert.Equal(t, 1, notified)

	sub.Cancel()
	sub.Cancel() // idempotent

	require.NoError(t, s.Create(context.Background(), testMsg("b", 2)))
	assert.Equal(t, 1, notified)
}

func TestIndependentSubscribers(t *testing.T) {
	s := NewSource()

	first, second := 0, 0
	subA, err := s.Subscribe(context.Background(), func([]message.GeoMessage) { first++ })
	require.NoError(t, err)
	_, err = s.Subscribe(context.Background(), func([]message.GeoMessage) { second++ })
	require.NoError(t, err)

	require.NoError(t, s.Create(context.Background(), testMsg("a", 1)))

	subA.Cancel()
	require.NoError(t, s.Create(context.Background(), testMsg("b", 2)))

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
}
