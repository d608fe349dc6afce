package remote

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Endpoint names a remote service family. Each family gets its own limiter.
type Endpoint string

// Known endpoints.
const (
	EndpointArcDPS    Endpoint = "arcdps"
	EndpointDPSReport Endpoint = "dpsreport"
	EndpointRegistry  Endpoint = "registry"
)

// Default rate limits per endpoint (requests per second).
var defaultRateLimits = map[Endpoint]rate.Limit{
	EndpointArcDPS:    1,
	EndpointDPSReport: 1,
	EndpointRegistry:  10,
}

// RateLimiterMap holds one rate.Limiter per endpoint, created once at startup.
type RateLimiterMap struct {
	mu       sync.RWMutex
	limiters map[Endpoint]*rate.Limiter
}

// NewRateLimiterMap creates limiters for every known endpoint.
func NewRateLimiterMap() *RateLimiterMap {
	m := &RateLimiterMap{
		limiters: make(map[Endpoint]*rate.Limiter, len(defaultRateLimits)),
	}
	for name, limit := range defaultRateLimits {
		m.limiters[name] = rate.NewLimiter(limit, 1)
	}
	return m
}

// Unlimited returns a map with no limiters; Wait never blocks.
func Unlimited() *RateLimiterMap {
	return &RateLimiterMap{limiters: make(map[Endpoint]*rate.Limiter)}
}

// SetLimit replaces the limit for an endpoint. A non-positive rps removes
// the limiter entirely.
func (m *RateLimiterMap) SetLimit(name Endpoint, rps float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rps <= 0 {
		delete(m.limiters, name)
		return
	}
	if l, ok := m.limiters[name]; ok {
		l.SetLimit(rate.Limit(rps))
		return
	}
	m.limiters[name] = rate.NewLimiter(rate.Limit(rps), 1)
}

// Wait blocks until the limiter for the endpoint allows a request,
// or the context is canceled.
func (m *RateLimiterMap) Wait(ctx context.Context, name Endpoint) error {
	m.mu.RLock()
	limiter, ok := m.limiters[name]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return limiter.Wait(ctx)
}
