// internal/adapter/storage/message_store.go

package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"nearchat/internal/domain/geo"
	"nearchat/internal/domain/message"
)

// MessageStore implements message persistence on Postgres/PostGIS. It covers
// fetch and create; live subscriptions are layered on top by bus.Source.
type MessageStore struct {
	db    *pgxpool.Pool
	limit int
}

// NewMessageStore creates a message store. limit caps FetchAll results;
// zero means the default of 500.
func NewMessageStore(db *pgxpool.Pool, limit int) *MessageStore {
	if limit <= 0 {
		limit = 500
	}

	return &MessageStore{
		db:    db,
		limit: limit,
	}
}

// FetchAll returns the most recent messages, newest first.
func (s *MessageStore) FetchAll(ctx context.Context) ([]message.GeoMessage, error) {
	query := `
		SELECT
			id, sender_id, sender_name, kind, text, timestamp_ms,
			ST_Y(location::geometry) as lat, ST_X(location::geometry) as lng,
			radius_meters, avatar_url
		FROM messages
		ORDER BY timestamp_ms DESC
		LIMIT $1
	`

	rows, err := s.db.Query(ctx, query, s.limit)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// FetchNear returns recent messages whose point lies within radiusMeters of
// the center, newest first. This narrows the candidate set server-side; the
// caller still applies the proximity predicate against the viewer.
func (s *MessageStore) FetchNear(ctx context.Context, center geo.Point, radiusMeters float64) ([]message.GeoMessage, error) {
	query := `
		SELECT
			id, sender_id, sender_name, kind, text, timestamp_ms,
			ST_Y(location::geometry) as lat, ST_X(location::geometry) as lng,
			radius_meters, avatar_url
		FROM messages
		WHERE ST_DWithin(
			geography(location),
			geography(ST_MakePoint($1, $2)),
			$3
		)
		ORDER BY timestamp_ms DESC
		LIMIT $4
	`

	rows, err := s.db.Query(ctx, query, center.Longitude, center.Latitude, radiusMeters, s.limit)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// Create inserts a message. Messages are immutable; conflicts on id fail.
func (s *MessageStore) Create(ctx context.Context, msg message.GeoMessage) error {
	query := `
		INSERT INTO messages (
			id, sender_id, sender_name, kind, text, timestamp_ms,
			location, radius_meters, avatar_url
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			ST_MakePoint($7, $8)::geography, $9, $10
		)
	`

	_, err := s.db.Exec(
		ctx,
		query,
		msg.ID,
		msg.SenderID,
		msg.SenderName,
		string(msg.Kind),
		msg.Text,
		msg.Timestamp,
		msg.Location.Longitude,
		msg.Location.Latitude,
		msg.RadiusMeters,
		msg.AvatarURL,
	)
	if err != nil {
		return fmt.Errorf("error inserting message: %w", err)
	}

	return nil
}

// rowScanner matches the pgx Rows subset scanMessages needs.
type rowScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanMessages(rows rowScanner) ([]message.GeoMessage, error) {
	var msgs []message.GeoMessage

	for rows.Next() {
		var m message.GeoMessage
		var kind string
		var lat, lng float64

		if err := rows.Scan(
			&m.ID,
			&m.SenderID,
			&m.SenderName,
			&kind,
			&m.Text,
			&m.Timestamp,
			&lat,
			&lng,
			&m.RadiusMeters,
			&m.AvatarURL,
		); err != nil {
			return nil, fmt.Errorf("error scanning message: %w", err)
		}

		m.Kind = message.Kind(kind)
		m.Location = geo.Point{Latitude: lat, Longitude: lng}

		msgs = append(msgs, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return msgs, nil
}
