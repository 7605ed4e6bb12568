// internal/adapter/firestore/source.go

package firestore

import (
	"context"
	"fmt"
	"os"
	"sync"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"nearchat/internal/domain/geo"
	"nearchat/internal/domain/message"
)

// DefaultCollection is the Firestore collection holding geo messages.
const DefaultCollection = "messages"

// messageDoc is the Firestore document shape, one flat document per
// message keyed by message id.
type messageDoc struct {
	ID           string  `firestore:"id"`
	SenderID     string  `firestore:"senderId"`
	SenderName   string  `firestore:"senderName"`
	Kind         string  `firestore:"kind"`
	Text         string  `firestore:"text"`
	Timestamp    int64   `firestore:"timestamp"`
	Latitude     float64 `firestore:"latitude"`
	Longitude    float64 `firestore:"longitude"`
	RadiusMeters float64 `firestore:"radiusMeters"`
	AvatarURL    string  `firestore:"avatarUrl"`
}

// Source implements message.Source on Firestore, using the native snapshot
// listener for live updates.
type Source struct {
	client     *firestore.Client
	collection string
	limit      int
	log        *zap.SugaredLogger
}

// NewClient creates a Firestore client. On managed runtimes (detected via
// K_SERVICE/PORT) it relies on default credentials; locally it falls back
// to GOOGLE_APPLICATION_CREDENTIALS when the file exists.
func NewClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	isManaged := os.Getenv("K_SERVICE") != "" || os.Getenv("PORT") != ""

	if !isManaged {
		if credentialsFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credentialsFile != "" {
			if _, err := os.Stat(credentialsFile); err == nil {
				client, err := firestore.NewClient(ctx, projectID, option.WithCredentialsFile(credentialsFile))
				if err != nil {
					return nil, fmt.Errorf("failed to create firestore client: %w", err)
				}
				return client, nil
			}
		}
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client with default auth: %w", err)
	}

	return client, nil
}

// NewSource creates a Firestore-backed message source. limit caps fetch and
// listener results; zero means the default of 500.
func NewSource(client *firestore.Client, collection string, limit int, log *zap.SugaredLogger) *Source {
	if collection == "" {
		collection = DefaultCollection
	}
	if limit <= 0 {
		limit = 500
	}

	return &Source{
		client:     client,
		collection: collection,
		limit:      limit,
		log:        log,
	}
}

// FetchAll returns the most recent messages, newest first.
func (s *Source) FetchAll(ctx context.Context) ([]message.GeoMessage, error) {
	docs := s.client.Collection(s.collection).
		OrderBy("timestamp", firestore.Desc).
		Limit(s.limit).
		Documents(ctx)

	msgs, err := collectMessages(docs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", message.ErrFetchFailed, err)
	}
	return msgs, nil
}

// FetchNear narrows candidates with a latitude range from the bounding box
// around the center. Firestore only allows one range field per query and
// requires ordering by it, so results are re-sorted by recency client-side
// and longitude is left to the caller's proximity predicate.
func (s *Source) FetchNear(ctx context.Context, center geo.Point, radiusMeters float64) ([]message.GeoMessage, error) {
	bound := geo.BoundAround(center, radiusMeters)

	docs := s.client.Collection(s.collection).
		Where("latitude", ">=", bound.Min.Lat()).
		Where("latitude", "<=", bound.Max.Lat()).
		OrderBy("latitude", firestore.Asc).
		Limit(s.limit).
		Documents(ctx)

	msgs, err := collectMessages(docs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", message.ErrFetchFailed, err)
	}

	message.SortByRecency(msgs)
	return msgs, nil
}

// Create persists a message document keyed by its id.
func (s *Source) Create(ctx context.Context, msg message.GeoMessage) error {
	doc := messageDoc{
		ID:           msg.ID,
		SenderID:     msg.SenderID,
		SenderName:   msg.SenderName,
		Kind:         string(msg.Kind),
		Text:         msg.Text,
		Timestamp:    msg.Timestamp,
		Latitude:     msg.Location.Latitude,
		Longitude:    msg.Location.Longitude,
		RadiusMeters: msg.RadiusMeters,
		AvatarURL:    msg.AvatarURL,
	}

	if _, err := s.client.Collection(s.collection).Doc(msg.ID).Create(ctx, doc); err != nil {
		return fmt.Errorf("error creating message document: %w", err)
	}

	return nil
}

// Subscribe attaches a Firestore snapshot listener and delivers the full
// updated collection on every change.
func (s *Source) Subscribe(ctx context.Context, fn func([]message.GeoMessage)) (message.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)

	snaps := s.client.Collection(s.collection).
		OrderBy("timestamp", firestore.Desc).
		Limit(s.limit).
		Snapshots(ctx)

	go func() {
		defer snaps.Stop()

		for {
			snap, err := snaps.Next()
			if err != nil {
				if ctx.Err() == nil {
					s.log.Warnw("firestore listener stopped", "error", err)
				}
				return
			}

			msgs, err := collectMessages(snap.Documents)
			if err != nil {
				s.log.Warnw("failed to read snapshot documents", "error", err)
				continue
			}

			fn(msgs)
		}
	}()

	return &subscription{cancel: cancel}, nil
}

type subscription struct {
	cancel context.CancelFunc
	once   sync.Once
}

// Cancel stops the snapshot listener. Idempotent.
func (s *subscription) Cancel() {
	s.once.Do(s.cancel)
}

func collectMessages(docs *firestore.DocumentIterator) ([]message.GeoMessage, error) {
	defer docs.Stop()

	var msgs []message.GeoMessage

	for {
		doc, err := docs.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating documents: %w", err)
		}

		var d messageDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, fmt.Errorf("error decoding document %s: %w", doc.Ref.ID, err)
		}

		msgs = append(msgs, message.GeoMessage{
			ID:           d.ID,
			SenderID:     d.SenderID,
			SenderName:   d.SenderName,
			Kind:         message.Kind(d.Kind),
			Text:         d.Text,
			Timestamp:    d.Timestamp,
			Location:     geo.Point{Latitude: d.Latitude, Longitude: d.Longitude},
			RadiusMeters: d.RadiusMeters,
			AvatarURL:    d.AvatarURL,
		})
	}

	return msgs, nil
}
