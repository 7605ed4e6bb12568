// internal/domain/message/model.go

package message

import (
	"context"
	"sort"

	"nearchat/internal/domain/geo"
)

// Kind identifies the shape of a message. The set is closed; display code
// is expected to switch over it exhaustively.
type Kind string

const (
	KindText   Kind = "text"
	KindSystem Kind = "system"
)

// DefaultRadiusMeters is the visibility radius applied when a sender does
// not declare one.
const DefaultRadiusMeters = 500.0

// GeoMessage is a chat message anchored to a geographic point with a
// sender-declared visibility radius. Messages are immutable once created.
type GeoMessage struct {
	ID           string    `json:"id"`
	SenderID     string    `json:"sender_id"`
	SenderName   string    `json:"sender_name"`
	Kind         Kind      `json:"kind"`
	Text         string    `json:"text"`
	Timestamp    int64     `json:"timestamp"` // milliseconds since epoch, assigned at creation
	Location     geo.Point `json:"location"`
	RadiusMeters float64   `json:"radius_meters"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
}

// Subscription is a handle to a live message feed. Cancel is idempotent and
// guarantees no further callbacks after it returns.
type Subscription interface {
	Cancel()
}

// Source provides access to the backing message collection. Implementations
// deliver FetchAll results and subscription updates ordered by descending
// timestamp.
type Source interface {
	// FetchAll returns the current message collection, newest first.
	FetchAll(ctx context.Context) ([]GeoMessage, error)

	// Subscribe registers a callback invoked with the full updated
	// collection whenever the backing store changes. The callback may be
	// invoked from an arbitrary goroutine.
	Subscribe(ctx context.Context, fn func([]GeoMessage)) (Subscription, error)

	// Create persists a new message. It does not retry on failure.
	Create(ctx context.Context, msg GeoMessage) error
}

// NearFetcher is an optional Source capability for backends that can narrow
// the candidate fetch around a point server-side. The result is still a
// superset; callers apply the proximity predicate themselves.
type NearFetcher interface {
	FetchNear(ctx context.Context, center geo.Point, radiusMeters float64) ([]GeoMessage, error)
}

// SortByRecency orders messages by descending timestamp in place. Equal
// timestamps fall back to ID order so the result is deterministic.
func SortByRecency(msgs []GeoMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Timestamp != msgs[j].Timestamp {
			return msgs[i].Timestamp > msgs[j].Timestamp
		}
		return msgs[i].ID < msgs[j].ID
	})
}
