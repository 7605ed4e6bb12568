// internal/service/grouping/grouper.go

package grouping

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"nearchat/internal/domain/geo"
	"nearchat/internal/domain/message"
	"nearchat/internal/service/geocode"
)

// bucketPrecision rounds to 2 decimal places, roughly 1 km buckets.
const bucketPrecision = 2

// cachePrecision rounds geocode cache keys to 3 decimal places, roughly
// 100 m buckets.
const cachePrecision = 3

// LocationGroup is a display grouping of nearby messages sharing a coarse
// coordinate bucket.
type LocationGroup struct {
	Key      string               `json:"key"`
	Label    string               `json:"label"`
	Center   geo.Point            `json:"center"`
	Messages []message.GeoMessage `json:"messages"`
}

// Grouper buckets a nearby set for display and resolves a place name per
// bucket through a reverse geocoder. Resolved names are cached in an
// unbounded in-memory map; ClearCache is the only eviction.
type Grouper struct {
	geocoder geocode.Geocoder
	log      *zap.SugaredLogger

	mu      sync.RWMutex
	cache   map[string]string
	pending map[string]struct{}
}

// NewGrouper creates a display grouper backed by the given geocoder.
func NewGrouper(geocoder geocode.Geocoder, log *zap.SugaredLogger) *Grouper {
	return &Grouper{
		geocoder: geocoder,
		log:      log,
		cache:    make(map[string]string),
		pending:  make(map[string]struct{}),
	}
}

// Group buckets messages by coarse coordinate. Messages are expected in
// recency order and keep that order within each group; groups are ordered
// by their newest message. Labels come from the geocode cache when
// available and degrade to a coordinate label otherwise, with the real
// lookup running in the background to populate the cache for later calls.
// Group itself never blocks on geocoding, so it takes no context.
func (g *Grouper) Group(msgs []message.GeoMessage) []LocationGroup {
	var groups []LocationGroup
	index := make(map[string]int)

	for _, m := range msgs {
		key := bucketKey(m.Location)

		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, LocationGroup{
				Key:    key,
				Center: roundPoint(m.Location, bucketPrecision),
			})
		}
		groups[i].Messages = append(groups[i].Messages, m)
	}

	for i := range groups {
		groups[i].Label = g.labelFor(groups[i].Messages[0].Location)
	}

	return groups
}

// labelFor returns the cached place name for a point, or the coordinate
// fallback while a background lookup is in flight.
func (g *Grouper) labelFor(p geo.Point) string {
	key := cacheKey(p)

	g.mu.RLock()
	name, ok := g.cache[key]
	g.mu.RUnlock()
	if ok {
		return name
	}

	g.resolveAsync(key, p)

	return geocode.FallbackLabel(p)
}

// resolveAsync starts at most one lookup per cache key.
func (g *Grouper) resolveAsync(key string, p geo.Point) {
	g.mu.Lock()
	if _, inFlight := g.pending[key]; inFlight {
		g.mu.Unlock()
		return
	}
	g.pending[key] = struct{}{}
	g.mu.Unlock()

	go func() {
		// Lookups outlive the request that triggered them; the result is
		// only an opportunistic cache fill.
		name, err := g.geocoder.NameFor(context.Background(), p)

		g.mu.Lock()
		defer g.mu.Unlock()

		delete(g.pending, key)
		if err != nil {
			g.log.Debugw("reverse geocode failed", "key", key, "error", err)
			return
		}
		g.cache[key] = name
	}()
}

// ClearCache drops all resolved place names.
func (g *Grouper) ClearCache() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.cache = make(map[string]string)
}

func bucketKey(p geo.Point) string {
	rounded := roundPoint(p, bucketPrecision)
	return fmt.Sprintf("%.2f,%.2f", rounded.Latitude, rounded.Longitude)
}

func cacheKey(p geo.Point) string {
	rounded := roundPoint(p, cachePrecision)
	return fmt.Sprintf("%.3f,%.3f", rounded.Latitude, rounded.Longitude)
}

func roundPoint(p geo.Point, decimals int) geo.Point {
	factor := math.Pow(10, float64(decimals))
	return geo.Point{
		Latitude:  math.Round(p.Latitude*factor) / factor,
		Longitude: math.Round(p.Longitude*factor) / factor,
	}
}
