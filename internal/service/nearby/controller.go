// internal/service/nearby/controller.go

package nearby

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"nearchat/internal/domain/geo"
	"nearchat/internal/domain/message"
	"nearchat/internal/domain/session"
)

// RateLimiter gates message sends per sender.
type RateLimiter interface {
	// Allow reports whether senderID may send another message now.
	Allow(ctx context.Context, senderID string) (bool, error)
}

// Config contains configuration for a nearby controller.
type Config struct {
	// RadiusMeters is the viewer's query radius.
	RadiusMeters float64

	// ResubscribeThresholdMeters is how far the viewer must move before the
	// candidate set is refetched and the live subscription replaced.
	ResubscribeThresholdMeters float64

	// MessageRadiusMeters is the visibility radius stamped on sent messages.
	MessageRadiusMeters float64
}

// Snapshot is one emission of the nearby set. Stale marks a set that could
// not be refreshed after a fetch or subscription failure.
type Snapshot struct {
	Messages []message.GeoMessage `json:"messages"`
	Stale    bool                 `json:"stale"`
}

// Controller owns the viewer context and the latest candidate snapshot for
// one viewer, and republishes the proximity-filtered nearby set whenever the
// viewer location or the backing collection changes. All updates funnel
// through a single mutex so emissions always reflect the newest location and
// candidate set.
type Controller struct {
	source  message.Source
	sess    session.Session
	limiter RateLimiter
	cfg     Config
	log     *zap.SugaredLogger

	mu         sync.Mutex
	viewer     *geo.Point
	anchor     *geo.Point // location the active subscription was established at
	candidates []message.GeoMessage
	stale      bool
	sub        message.Subscription
	generation uint64
	disposed   bool
	updates    chan Snapshot
}

// NewController creates a controller for one viewer session. The limiter may
// be nil, which disables send rate limiting.
func NewController(
	source message.Source,
	sess session.Session,
	limiter RateLimiter,
	cfg Config,
	log *zap.SugaredLogger,
) *Controller {
	if cfg.RadiusMeters <= 0 {
		cfg.RadiusMeters = message.DefaultRadiusMeters
	}
	if cfg.ResubscribeThresholdMeters <= 0 {
		cfg.ResubscribeThresholdMeters = 100
	}
	if cfg.MessageRadiusMeters <= 0 {
		cfg.MessageRadiusMeters = message.DefaultRadiusMeters
	}

	return &Controller{
		source:  source,
		sess:    sess,
		limiter: limiter,
		cfg:     cfg,
		log:     log,
		updates: make(chan Snapshot, 1),
	}
}

// Updates returns the nearby set stream. The channel holds at most the
// latest snapshot; a pending emission is replaced rather than queued. It is
// closed by Dispose.
func (c *Controller) Updates() <-chan Snapshot {
	return c.updates
}

// SetViewerLocation records a new location fix. The first fix, or a move
// beyond the resubscribe threshold, refetches candidates and replaces the
// live subscription; smaller jitter only reapplies the proximity predicate
// to the held candidate set.
func (c *Controller) SetViewerLocation(ctx context.Context, p geo.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return
	}

	c.viewer = &p

	if c.anchor == nil || geo.DistanceMeters(*c.anchor, p) > c.cfg.ResubscribeThresholdMeters {
		c.resubscribeLocked(ctx, p)
	}

	c.publishLocked()
}

// resubscribeLocked replaces the live subscription and refreshes candidates.
// The previous subscription is cancelled before the new one is established;
// the generation counter drops any straggler deliveries from it.
func (c *Controller) resubscribeLocked(ctx context.Context, p geo.Point) {
	if c.sub != nil {
		c.sub.Cancel()
		c.sub = nil
	}
	c.anchor = nil
	c.generation++
	gen := c.generation

	msgs, err := c.source.FetchAll(ctx)
	if err != nil {
		c.log.Warnw("candidate fetch failed, keeping last known set",
			"error", err, "viewer", c.sess.UserID)
		c.stale = true
	} else {
		c.setCandidatesLocked(msgs)
	}

	sub, err := c.source.Subscribe(ctx, func(msgs []message.GeoMessage) {
		c.onMessagesChanged(gen, msgs)
	})
	if err != nil {
		c.log.Warnw("subscribe failed, live updates disabled until next fix",
			"error", err, "viewer", c.sess.UserID)
		c.stale = true
		return
	}

	c.sub = sub
	c.anchor = &p
}

// onMessagesChanged is the single entry point for live deliveries from the
// source. Deliveries from a replaced subscription are ignored.
func (c *Controller) onMessagesChanged(gen uint64, msgs []message.GeoMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed || gen != c.generation {
		return
	}

	c.setCandidatesLocked(msgs)
	c.publishLocked()
}

func (c *Controller) setCandidatesLocked(msgs []message.GeoMessage) {
	c.candidates = append([]message.GeoMessage(nil), msgs...)
	message.SortByRecency(c.candidates)
	c.stale = false
}

// publishLocked recomputes the nearby set and replaces any pending emission.
func (c *Controller) publishLocked() {
	if c.disposed {
		return
	}

	snap := Snapshot{Messages: c.visibleLocked(), Stale: c.stale}

	select {
	case <-c.updates:
	default:
	}
	select {
	case c.updates <- snap:
	default:
	}
}

// visibleLocked applies the proximity predicate to the candidate set.
// Candidates are already in recency order.
func (c *Controller) visibleLocked() []message.GeoMessage {
	visible := make([]message.GeoMessage, 0, len(c.candidates))
	for _, m := range c.candidates {
		if geo.WithinRadius(c.viewer, c.cfg.RadiusMeters, m.Location) {
			visible = append(visible, m)
		}
	}
	return visible
}

// Snapshot returns the current nearby set without waiting for an emission.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{Messages: c.visibleLocked(), Stale: c.stale}
}

// SendMessage persists a text message at the viewer's current location with
// the controller's message radius. See Send for the failure contract.
func (c *Controller) SendMessage(ctx context.Context, text string) (*message.GeoMessage, error) {
	c.mu.Lock()
	viewer := c.viewer
	disposed := c.disposed
	c.mu.Unlock()

	if disposed {
		return nil, fmt.Errorf("%w: controller disposed", message.ErrSendFailed)
	}

	return Send(ctx, c.source, c.limiter, c.sess, viewer, c.cfg.MessageRadiusMeters, text, c.log)
}

// Dispose cancels the live subscription and closes the update stream. It is
// idempotent; no emissions occur after it returns.
func (c *Controller) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return
	}
	c.disposed = true

	if c.sub != nil {
		c.sub.Cancel()
		c.sub = nil
	}

	close(c.updates)
}
