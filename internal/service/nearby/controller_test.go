// internal/service/nearby/controller_test.go

package nearby

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nearchat/internal/domain/geo"
	"nearchat/internal/domain/message"
	"nearchat/internal/domain/session"
)

// metersPerDegree is one degree of latitude on the distance sphere.
const metersPerDegree = 111194.92664455873

var tbilisi = geo.Point{Latitude: 41.7151, Longitude: 44.8271}

func offsetNorth(p geo.Point, meters float64) geo.Point {
	return geo.Point{
		Latitude:  p.Latitude + meters/metersPerDegree,
		Longitude: p.Longitude,
	}
}

// fakeSource records calls and allows error injection.
type fakeSource struct {
	mu             sync.Mutex
	msgs           []message.GeoMessage
	fetchCalls     int
	subscribeCalls int
	fetchErr       error
	createErr      error
	subs           []*fakeSub
}

type fakeSub struct {
	fn        func([]message.GeoMessage)
	cancelled bool
}

func (s *fakeSub) Cancel() { s.cancelled = true }

func (f *fakeSource) FetchAll(context.Context) ([]message.GeoMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]message.GeoMessage(nil), f.msgs...), nil
}

func (f *fakeSource) Subscribe(_ context.Context, fn func([]message.GeoMessage)) (message.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.subscribeCalls++
	sub := &fakeSub{fn: fn}
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeSource) Create(_ context.Context, msg message.GeoMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return f.createErr
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeSource) counts() (fetch, subscribe int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls, f.subscribeCalls
}

func (f *fakeSource) deliverAll() {
	f.mu.Lock()
	snapshot := append([]message.GeoMessage(nil), f.msgs...)
	subs := append([]*fakeSub(nil), f.subs...)
	f.mu.Unlock()

	for _, sub := range subs {
		if !sub.cancelled {
			sub.fn(snapshot)
		}
	}
}

func msgAt(id string, p geo.Point, ts int64) message.GeoMessage {
	return message.GeoMessage{
		ID:           id,
		SenderID:     "sender-" + id,
		SenderName:   "Sender " + id,
		Kind:         message.KindText,
		Text:         "hello from " + id,
		Timestamp:    ts,
		Location:     p,
		RadiusMeters: message.DefaultRadiusMeters,
	}
}

func newTestController(source message.Source, limiter RateLimiter) *Controller {
	return NewController(
		source,
		session.Session{UserID: "viewer-1", DisplayName: "Viewer One"},
		limiter,
		Config{RadiusMeters: 500, ResubscribeThresholdMeters: 100},
		zap.NewNop().Sugar(),
	)
}

func TestSetViewerLocationIdempotent(t *testing.T) {
	source := &fakeSource{msgs: []message.GeoMessage{msgAt("a", tbilisi, 1)}}
	ctrl := newTestController(source, nil)
	defer ctrl.Dispose()

	ctrl.SetViewerLocation(context.Background(), tbilisi)
	first := ctrl.Snapshot()

	ctrl.SetViewerLocation(context.Background(), tbilisi)
	second := ctrl.Snapshot()

	fetch, subscribe := source.counts()
	assert.Equal(t, 1, fetch, "same point must not refetch")
	assert.Equal(t, 1, subscribe, "same point must not resubscribe")
	assert.Equal(t, first, second)
	assert.Len(t, second.Messages, 1)
}

func TestResubscribeThreshold(t *testing.T) {
	source := &fakeSource{}
	ctrl := newTestController(source, nil)
	defer ctrl.Dispose()

	ctrl.SetViewerLocation(context.Background(), tbilisi)

	// A 99 m move stays on the existing subscription.
	ctrl.SetViewerLocation(context.Background(), offsetNorth(tbilisi, 99))
	fetch, subscribe := source.counts()
	assert.Equal(t, 1, fetch)
	assert.Equal(t, 1, subscribe)
	assert.False(t, source.subs[0].cancelled)

	// A 101 m move replaces it, cancelling the old one.
	ctrl.SetViewerLocation(context.Background(), offsetNorth(tbilisi, 101))
	fetch, subscribe = source.counts()
	assert.Equal(t, 2, fetch)
	assert.Equal(t, 2, subscribe)
	assert.True(t, source.subs[0].cancelled)
	assert.False(t, source.subs[1].cancelled)
}

func TestSmallJitterStillReappliesPredicate(t *testing.T) {
	// A message sits 460 m from the initial fix. Moving the viewer 50 m
	// away from it pushes it past the radius without a resubscribe.
	source := &fakeSource{msgs: []message.GeoMessage{msgAt("edge", offsetNorth(tbilisi, 460), 1)}}
	ctrl := newTestController(source, nil)
	defer ctrl.Dispose()

	ctrl.SetViewerLocation(context.Background(), tbilisi)
	require.Len(t, ctrl.Snapshot().Messages, 1)

	ctrl.SetViewerLocation(context.Background(), offsetNorth(tbilisi, -50))

	fetch, _ := source.counts()
	assert.Equal(t, 1, fetch, "jitter below threshold must not refetch")
	assert.Empty(t, ctrl.Snapshot().Messages)
}

func TestOrderingByDescendingTimestamp(t *testing.T) {
	near := offsetNorth(tbilisi, 10)
	source := &fakeSource{msgs: []message.GeoMessage{
		msgAt("old", near, 100),
		msgAt("newest", near, 300),
		msgAt("middle", near, 200),
	}}
	ctrl := newTestController(source, nil)
	defer ctrl.Dispose()

	ctrl.SetViewerLocation(context.Background(), tbilisi)

	snap := ctrl.Snapshot()
	require.Len(t, snap.Messages, 3)
	assert.Equal(t, "newest", snap.Messages[0].ID)
	assert.Equal(t, "middle", snap.Messages[1].ID)
	assert.Equal(t, "old", snap.Messages[2].ID)
}

func TestNearbyScenario(t *testing.T) {
	// Viewer at Tbilisi with radius 500 m; messages at 100 m, 600 m, and
	// exactly the boundary distance. The boundary message is included.
	at100 := msgAt("at100", offsetNorth(tbilisi, 100), 3)
	at600 := msgAt("at600", offsetNorth(tbilisi, 600), 2)
	boundary := msgAt("boundary", offsetNorth(tbilisi, 500), 1)

	source := &fakeSource{msgs: []message.GeoMessage{boundary, at600, at100}}

	ctrl := NewController(
		source,
		session.Session{UserID: "viewer-1"},
		nil,
		Config{
			RadiusMeters:               geo.DistanceMeters(tbilisi, boundary.Location),
			ResubscribeThresholdMeters: 100,
		},
		zap.NewNop().Sugar(),
	)
	defer ctrl.Dispose()

	ctrl.SetViewerLocation(context.Background(), tbilisi)

	snap := ctrl.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "at100", snap.Messages[0].ID)
	assert.Equal(t, "boundary", snap.Messages[1].ID)
}

func TestLiveUpdateRepublishes(t *testing.T) {
	source := &fakeSource{}
	ctrl := newTestController(source, nil)
	defer ctrl.Dispose()

	ctrl.SetViewerLocation(context.Background(), tbilisi)
	<-ctrl.Updates() // initial empty emission

	require.NoError(t, source.Create(context.Background(), msgAt("live", offsetNorth(tbilisi, 50), 10)))
	source.deliverAll()

	snap := <-ctrl.Updates()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "live", snap.Messages[0].ID)
}

func TestNoEmissionsAfterDispose(t *testing.T) {
	source := &fakeSource{}
	ctrl := newTestController(source, nil)

	ctrl.SetViewerLocation(context.Background(), tbilisi)

	ctrl.Dispose()
	ctrl.Dispose() // idempotent

	require.NoError(t, source.Create(context.Background(), msgAt("late", tbilisi, 10)))
	source.deliverAll()

	// The stream is closed and drained of anything but the pre-dispose
	// emission.
	for snap := range ctrl.Updates() {
		assert.Empty(t, snap.Messages)
	}
}

func TestStaleSubscriptionDeliveriesDropped(t *testing.T) {
	source := &fakeSource{}
	ctrl := newTestController(source, nil)
	defer ctrl.Dispose()

	ctrl.SetViewerLocation(context.Background(), tbilisi)
	oldSub := source.subs[0]

	moved := offsetNorth(tbilisi, 200)
	ctrl.SetViewerLocation(context.Background(), moved)

	// A straggler from the replaced subscription must not clobber state.
	oldSub.fn([]message.GeoMessage{msgAt("stale", moved, 99)})

	assert.Empty(t, ctrl.Snapshot().Messages)
}

func TestFetchFailureKeepsLastKnownSetAndMarksStale(t *testing.T) {
	source := &fakeSource{msgs: []message.GeoMessage{msgAt("kept", offsetNorth(tbilisi, 50), 1)}}
	ctrl := newTestController(source, nil)
	defer ctrl.Dispose()

	ctrl.SetViewerLocation(context.Background(), tbilisi)
	require.False(t, ctrl.Snapshot().Stale)

	source.mu.Lock()
	source.fetchErr = errors.New("backend down")
	source.mu.Unlock()

	ctrl.SetViewerLocation(context.Background(), offsetNorth(tbilisi, 200))

	snap := ctrl.Snapshot()
	assert.True(t, snap.Stale)
	require.Len(t, snap.Messages, 1, "last known set is kept")
	assert.Equal(t, "kept", snap.Messages[0].ID)
}

func TestSendMessage(t *testing.T) {
	source := &fakeSource{}
	ctrl := newTestController(source, nil)
	defer ctrl.Dispose()

	ctrl.SetViewerLocation(context.Background(), tbilisi)

	msg, err := ctrl.SendMessage(context.Background(), "hello nearby")
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "viewer-1", msg.SenderID)
	assert.Equal(t, message.KindText, msg.Kind)
	assert.Equal(t, tbilisi, msg.Location)
	assert.Equal(t, message.DefaultRadiusMeters, msg.RadiusMeters)

	source.deliverAll()
	snap := ctrl.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, msg.ID, snap.Messages[0].ID)
}

func TestSendWithoutLocationFails(t *testing.T) {
	ctrl := newTestController(&fakeSource{}, nil)
	defer ctrl.Dispose()

	_, err := ctrl.SendMessage(context.Background(), "hello")

	assert.ErrorIs(t, err, message.ErrSendFailed)
	assert.ErrorIs(t, err, message.ErrLocationUnavailable)
}

func TestSendFailureSurfacesAndDoesNotAppear(t *testing.T) {
	source := &fakeSource{createErr: errors.New("write denied")}
	ctrl := newTestController(source, nil)
	defer ctrl.Dispose()

	ctrl.SetViewerLocation(context.Background(), tbilisi)

	_, err := ctrl.SendMessage(context.Background(), "hello")
	assert.ErrorIs(t, err, message.ErrSendFailed)

	source.deliverAll()
	assert.Empty(t, ctrl.Snapshot().Messages, "failed send must never appear")
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (bool, error) { return false, nil }

func TestSendRateLimited(t *testing.T) {
	ctrl := newTestController(&fakeSource{}, denyLimiter{})
	defer ctrl.Dispose()

	ctrl.SetViewerLocation(context.Background(), tbilisi)

	_, err := ctrl.SendMessage(context.Background(), "hello")

	assert.ErrorIs(t, err, message.ErrSendFailed)
	assert.ErrorIs(t, err, message.ErrRateLimited)
}
