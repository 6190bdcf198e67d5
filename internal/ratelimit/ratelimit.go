package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a token bucket refilled at rate tokens per second up to burst.
type Limiter struct {
	rate       float64
	burst      int
	tokens     float64
	lastUpdate time.Time
	mu         sync.Mutex
	now        func() time.Time
}

func NewLimiter(rate float64, burst int) *Limiter {
	return &Limiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: time.Now(),
		now:        time.Now,
	}
}

func (l *Limiter) Allow() bool {
	return l.AllowN(1)
}

// AllowN takes n tokens if available. A cost above the burst size is
// clamped to the burst so large frames are throttled rather than banned.
func (l *Limiter) AllowN(n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n > l.burst {
		n = l.burst
	}
	l.refill()

	if l.tokens >= float64(n) {
		l.tokens -= float64(n)
		return true
	}
	return false
}

func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastUpdate).Seconds()
	l.lastUpdate = now

	l.tokens += elapsed * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}
}

func (l *Limiter) idleSince() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastUpdate
}

// ClientLimiters hands out one Limiter per client key (e.g. remote address)
// and forgets limiters that have been idle for a cleanup interval.
type ClientLimiters struct {
	limiters        map[string]*Limiter
	rate            float64
	burst           int
	mu              sync.RWMutex
	cleanupInterval time.Duration
	stop            chan struct{}
	stopOnce        sync.Once
}

func NewClientLimiters(rate float64, burst int) *ClientLimiters {
	cl := &ClientLimiters{
		limiters:        make(map[string]*Limiter),
		rate:            rate,
		burst:           burst,
		cleanupInterval: 5 * time.Minute,
		stop:            make(chan struct{}),
	}
	go cl.cleanup()
	return cl
}

func (cl *ClientLimiters) Get(clientID string) *Limiter {
	cl.mu.RLock()
	limiter, ok := cl.limiters[clientID]
	cl.mu.RUnlock()

	if ok {
		return limiter
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if limiter, ok := cl.limiters[clientID]; ok {
		return limiter
	}

	limiter = NewLimiter(cl.rate, cl.burst)
	cl.limiters[clientID] = limiter
	return limiter
}

func (cl *ClientLimiters) Remove(clientID string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	delete(cl.limiters, clientID)
}

// Len returns the number of tracked clients.
func (cl *ClientLimiters) Len() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.limiters)
}

func (cl *ClientLimiters) Stop() {
	cl.stopOnce.Do(func() { close(cl.stop) })
}

func (cl *ClientLimiters) cleanup() {
	ticker := time.NewTicker(cl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cl.stop:
			return
		case now := <-ticker.C:
			cl.prune(now.Add(-cl.cleanupInterval))
		}
	}
}

// prune drops limiters untouched since cutoff.
func (cl *ClientLimiters) prune(cutoff time.Time) int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	removed := 0
	for id, l := range cl.limiters {
		if l.idleSince().Before(cutoff) {
			delete(cl.limiters, id)
			removed++
		}
	}
	return removed
}
