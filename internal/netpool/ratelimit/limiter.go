// Package ratelimit provides a per-host token-bucket limiter built on
// golang.org/x/time/rate, following the same double-checked-locking
// per-host map shape the teacher used for its provider rate limiter.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter wraps a per-host golang.org/x/time/rate.Limiter map.
type Limiter struct {
	mu       sync.RWMutex
	hosts    map[string]*rate.Limiter
	rps      float64
	burst    int
}

// New creates a Limiter applying rps/burst to any host not explicitly
// configured otherwise via SetHostLimit.
func New(rps float64, burst int) *Limiter {
	return &Limiter{
		hosts: make(map[string]*rate.Limiter),
		rps:   rps,
		burst: burst,
	}
}

func (l *Limiter) getLimiter(host string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.hosts[host]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok = l.hosts[host]; ok {
		return lim
	}
	lim = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.hosts[host] = lim
	return lim
}

// SetHostLimit overrides the rps/burst for one host, e.g. a provider with
// a documented per-minute weight budget distinct from the pool default.
func (l *Limiter) SetHostLimit(host string, rps float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hosts[host] = rate.NewLimiter(rate.Limit(rps), burst)
}

// Wait blocks until a token for host is available or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context, host string) error {
	return l.getLimiter(host).Wait(ctx)
}

// Allow reports whether a request to host may proceed immediately,
// consuming a token if so.
func (l *Limiter) Allow(host string) bool {
	return l.getLimiter(host).Allow()
}

// Manager keys independent Limiter instances by provider name, so each
// provider's rate envelope is isolated from the others.
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewManager returns an empty provider-keyed Manager.
func NewManager() *Manager {
	return &Manager{limiters: make(map[string]*Limiter)}
}

// Register installs a Limiter for provider, replacing any existing one.
func (m *Manager) Register(provider string, lim *Limiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[provider] = lim
}

// For returns the Limiter registered for provider, or nil if none.
func (m *Manager) For(provider string) *Limiter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.limiters[provider]
}
