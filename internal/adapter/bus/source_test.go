// internal/adapter/bus/source_test.go

package bus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nearchat/internal/domain/geo"
	"nearchat/internal/domain/message"
)

// The decorator must not hide the store's narrowed-fetch capability.
var _ message.NearFetcher = (*Source)(nil)

// fakeStore records calls and allows error injection.
type fakeStore struct {
	msgs      []message.GeoMessage
	fetchErr  error
	fetchAlls int
}

func (f *fakeStore) FetchAll(context.Context) ([]message.GeoMessage, error) {
	f.fetchAlls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.msgs, nil
}

func (f *fakeStore) Create(context.Context, message.GeoMessage) error { return nil }

// nearStore adds the narrowed fetch on top of fakeStore.
type nearStore struct {
	fakeStore
	nearMsgs   []message.GeoMessage
	nearErr    error
	lastCenter geo.Point
	lastRadius float64
}

func (f *nearStore) FetchNear(_ context.Context, center geo.Point, radiusMeters float64) ([]message.GeoMessage, error) {
	f.lastCenter = center
	f.lastRadius = radiusMeters
	if f.nearErr != nil {
		return nil, f.nearErr
	}
	return f.nearMsgs, nil
}

func testMsg(id string) message.GeoMessage {
	return message.GeoMessage{ID: id, Kind: message.KindText, Text: "hi"}
}

func TestFetchNearDelegatesToStore(t *testing.T) {
	store := &nearStore{
		fakeStore: fakeStore{msgs: []message.GeoMessage{testMsg("all")}},
		nearMsgs:  []message.GeoMessage{testMsg("near")},
	}
	source := NewSource(store, nil, zap.NewNop().Sugar())

	center := geo.Point{Latitude: 41.7151, Longitude: 44.8271}
	msgs, err := source.FetchNear(context.Background(), center, 500)
	require.NoError(t, err)

	require.Len(t, msgs, 1)
	assert.Equal(t, "near", msgs[0].ID)
	assert.Equal(t, center, store.lastCenter)
	assert.Equal(t, 500.0, store.lastRadius)
	assert.Zero(t, store.fetchAlls, "narrowed fetch must not fall back")
}

func TestFetchNearFallsBackWithoutCapability(t *testing.T) {
	store := &fakeStore{msgs: []message.GeoMessage{testMsg("all")}}
	source := NewSource(store, nil, zap.NewNop().Sugar())

	msgs, err := source.FetchNear(context.Background(), geo.Point{}, 500)
	require.NoError(t, err)

	require.Len(t, msgs, 1)
	assert.Equal(t, "all", msgs[0].ID)
	assert.Equal(t, 1, store.fetchAlls)
}

func TestFetchFailuresWrapSentinel(t *testing.T) {
	t.Run("fetch all", func(t *testing.T) {
		store := &fakeStore{fetchErr: errors.New("connection refused")}
		source := NewSource(store, nil, zap.NewNop().Sugar())

		_, err := source.FetchAll(context.Background())
		assert.ErrorIs(t, err, message.ErrFetchFailed)
	})

	t.Run("fetch near", func(t *testing.T) {
		store := &nearStore{nearErr: errors.New("connection refused")}
		source := NewSource(store, nil, zap.NewNop().Sugar())

		_, err := source.FetchNear(context.Background(), geo.Point{}, 500)
		assert.ErrorIs(t, err, message.ErrFetchFailed)
	})
}
