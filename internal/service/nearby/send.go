// internal/service/nearby/send.go

package nearby

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nearchat/internal/domain/geo"
	"nearchat/internal/domain/message"
	"nearchat/internal/domain/session"
)

// Send builds a text message from the session identity and location and
// persists it through the source. Failures are surfaced to the caller and
// never retried, so a send cannot silently duplicate. The limiter may be
// nil.
func Send(
	ctx context.Context,
	source message.Source,
	limiter RateLimiter,
	sess session.Session,
	at *geo.Point,
	radiusMeters float64,
	text string,
	log *zap.SugaredLogger,
) (*message.GeoMessage, error) {
	if at == nil {
		return nil, fmt.Errorf("%w: %w", message.ErrSendFailed, message.ErrLocationUnavailable)
	}
	if !sess.Valid() {
		return nil, fmt.Errorf("%w: missing sender identity", message.ErrSendFailed)
	}
	if radiusMeters <= 0 {
		radiusMeters = message.DefaultRadiusMeters
	}

	if limiter != nil {
		allowed, err := limiter.Allow(ctx, sess.UserID)
		if err != nil {
			// A broken limiter should not block sends.
			log.Warnw("rate limiter error, allowing send", "error", err, "sender", sess.UserID)
		} else if !allowed {
			return nil, fmt.Errorf("%w: %w", message.ErrSendFailed, message.ErrRateLimited)
		}
	}

	msg := message.GeoMessage{
		ID:           uuid.New().String(),
		SenderID:     sess.UserID,
		SenderName:   sess.DisplayName,
		Kind:         message.KindText,
		Text:         text,
		Timestamp:    time.Now().UnixMilli(),
		Location:     *at,
		RadiusMeters: radiusMeters,
		AvatarURL:    sess.AvatarURL,
	}

	if err := source.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", message.ErrSendFailed, err)
	}

	return &msg, nil
}
