package geo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/listing-scanner/internal/logging"
	"github.com/redis/go-redis/v9"
)

const (
	cacheKeyPrefix = "geocode:"
	missMarker     = "miss"
)

// CachedGeocoder memoizes lookups in Redis. Misses are cached too, for a
// shorter TTL, so unresolvable hints don't hit the backend every cycle.
// Redis failures degrade to an uncached lookup.
type CachedGeocoder struct {
	next    Geocoder
	client  redis.Cmdable
	ttl     time.Duration
	missTTL time.Duration
}

// NewCachedGeocoder wraps next with a Redis cache
func NewCachedGeocoder(next Geocoder, client redis.Cmdable, ttl, missTTL time.Duration) *CachedGeocoder {
	return &CachedGeocoder{next: next, client: client, ttl: ttl, missTTL: missTTL}
}

// Geocode implements Geocoder
func (c *CachedGeocoder) Geocode(ctx context.Context, hint string) (Point, error) {
	key := cacheKeyPrefix + NormalizeHint(hint)
	logger := logging.FromContext(ctx)

	cached, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if cached == missMarker {
			return Point{}, ErrNotFound
		}
		if p, perr := parsePoint(cached); perr == nil {
			return p, nil
		}
		logger.WithField("key", key).Warn("Discarding malformed geocode cache entry")
	case !errors.Is(err, redis.Nil):
		logger.WithError(err).Debug("Geocode cache read failed")
	}

	p, err := c.next.Geocode(ctx, hint)
	switch {
	case err == nil:
		c.store(ctx, key, p.String(), c.ttl)
	case errors.Is(err, ErrNotFound):
		c.store(ctx, key, missMarker, c.missTTL)
	}
	return p, err
}

func (c *CachedGeocoder) store(ctx context.Context, key, value string, ttl time.Duration) {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		logging.FromContext(ctx).WithError(err).Debug("Geocode cache write failed")
	}
}

func parsePoint(s string) (Point, error) {
	latStr, lngStr, ok := strings.Cut(s, ",")
	if !ok {
		return Point{}, fmt.Errorf("malformed point %q", s)
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return Point{}, err
	}
	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		return Point{}, err
	}
	return Point{Lat: lat, Lng: lng}, nil
}
