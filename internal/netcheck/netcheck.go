// Package netcheck answers "is the network reachable right now?" for the sync repository.
package netcheck

import (
	"context"
	"sync"
	"time"
)

// Static always reports the same answer. Used for --offline and tests.
type Static bool

// Available implements repository.Connectivity.
func (s Static) Available(context.Context) bool { return bool(s) }

// Prober runs a health check and caches the answer for TTL.
type Prober struct {
	check   func(context.Context) error
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time

	mu      sync.Mutex
	checked time.Time
	ok      bool
}

// NewProber wraps check (typically the REST client's Health).
func NewProber(check func(context.Context) error, ttl, timeout time.Duration) *Prober {
	if ttl < 0 {
		ttl = 0
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Prober{check: check, ttl: ttl, timeout: timeout, now: time.Now}
}

// Available reports the cached answer or probes again once it has expired.
func (p *Prober) Available(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if !p.checked.IsZero() && now.Sub(p.checked) < p.ttl {
		return p.ok
	}
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	p.ok = p.check(cctx) == nil
	p.checked = now
	return p.ok
}

// Invalidate forces the next call to probe.
func (p *Prober) Invalidate() {
	p.mu.Lock()
	p.checked = time.Time{}
	p.mu.Unlock()
}
