package server

import (
	"sync"

	"github.com/brewkit/assistant-engine/internal/metrics"
)

// ConnectionLimiter caps concurrent streaming connections per client IP.
// It is the only state shared across turns; increment-check and decrement
// both run under the mutex and the returned release func is safe to call
// on every exit path.
type ConnectionLimiter struct {
	mu      sync.Mutex
	max     int
	active  map[string]int
	metrics *metrics.Metrics
}

// NewConnectionLimiter creates a limiter allowing max connections per IP.
// A non-positive max disables limiting.
func NewConnectionLimiter(max int, m *metrics.Metrics) *ConnectionLimiter {
	return &ConnectionLimiter{
		max:     max,
		active:  make(map[string]int),
		metrics: m,
	}
}

// Acquire reserves a connection slot for ip. When ok is true the caller must
// invoke release exactly when the connection ends; calling it more than once
// is harmless.
func (l *ConnectionLimiter) Acquire(ip string) (release func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max > 0 && l.active[ip] >= l.max {
		if l.metrics != nil {
			l.metrics.RateLimitRejected.Inc()
		}
		return nil, false
	}

	l.active[ip]++

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.active[ip]--
			if l.active[ip] <= 0 {
				delete(l.active, ip)
			}
		})
	}, true
}

// Active returns the number of live connections for ip.
func (l *ConnectionLimiter) Active(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active[ip]
}
