package geo

import (
	"context"
	"errors"

	"github.com/listing-scanner/internal/circuitbreaker"
	"golang.org/x/time/rate"
)

// ThrottledGeocoder bounds the request rate towards the backend, which is
// usually a public service with a usage policy
type ThrottledGeocoder struct {
	next    Geocoder
	limiter *rate.Limiter
}

// NewThrottledGeocoder allows rps requests per second with a burst of one
func NewThrottledGeocoder(next Geocoder, rps float64) *ThrottledGeocoder {
	return &ThrottledGeocoder{next: next, limiter: rate.NewLimiter(rate.Limit(rps), 1)}
}

// Geocode implements Geocoder
func (t *ThrottledGeocoder) Geocode(ctx context.Context, hint string) (Point, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return Point{}, err
	}
	return t.next.Geocode(ctx, hint)
}

// BreakerGeocoder stops calling a failing backend for a while. A miss is an
// answer, not a failure, and does not trip the breaker.
type BreakerGeocoder struct {
	next    Geocoder
	breaker *circuitbreaker.CircuitBreaker
}

// NewBreakerGeocoder wraps next with a circuit breaker named name
func NewBreakerGeocoder(next Geocoder, name string) *BreakerGeocoder {
	cfg := circuitbreaker.DefaultConfig(name)
	cfg.IsFailure = func(err error) bool { return !errors.Is(err, ErrNotFound) }
	return &BreakerGeocoder{next: next, breaker: circuitbreaker.NewCircuitBreaker(cfg)}
}

// Geocode implements Geocoder
func (b *BreakerGeocoder) Geocode(ctx context.Context, hint string) (Point, error) {
	var p Point
	err := b.breaker.Execute(ctx, func() error {
		var err error
		p, err = b.next.Geocode(ctx, hint)
		return err
	})
	return p, err
}

// State exposes the breaker state for health reporting
func (b *BreakerGeocoder) State() circuitbreaker.State {
	return b.breaker.GetState()
}
