// Package limiter implements the per-host AIMD concurrency limiter: one
// full unit of limit gained per limit-many successes, a 0.9 multiplicative
// backoff on drops.
package limiter

import (
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/skywalker-88/stormline/pkg/metrics"
)

const (
	initialLimit = 20.0
	minLimit     = 1.0
	maxLimit     = 1000.0
	backoffRatio = 0.9
)

// Limiter gates outstanding requests against one host. Acquire is
// non-blocking; there is no fairness between callers.
type Limiter struct {
	behavior    Behavior
	channelName string

	mu       sync.Mutex
	limit    float64
	inflight int
}

func New(behavior Behavior, channelName string) *Limiter {
	return &Limiter{
		behavior:    behavior,
		channelName: channelName,
		limit:       initialLimit,
	}
}

// Acquire returns a permit while inflight is below the current ceiling.
// The permit must be released exactly once; a permit that becomes
// unreachable without a release is released as Ignore and counted as a leak.
func (l *Limiter) Acquire() (*Permit, bool) {
	l.mu.Lock()
	if l.inflight >= int(math.Floor(l.limit)) {
		l.mu.Unlock()
		return nil, false
	}
	l.inflight++
	l.mu.Unlock()

	s := &permitState{l: l}
	p := &Permit{s: s}
	p.cleanup = runtime.AddCleanup(p, leakRelease, s)
	return p, true
}

func leakRelease(s *permitState) {
	if s.release(Ignore) {
		metrics.PermitLeak.WithLabelValues(s.l.channelName).Inc()
		log.Warn().Str("channel", s.l.channelName).Msg("concurrency permit dropped without release")
	}
}

func (l *Limiter) apply(o Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch o {
	case Success:
		l.limit = min(maxLimit, l.limit+1.0/l.limit)
	case Drop:
		l.limit = max(minLimit, l.limit*backoffRatio)
	}
	l.inflight--
}

// Limit reports the current concurrency ceiling.
func (l *Limiter) Limit() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit
}

// Inflight reports the number of outstanding permits.
func (l *Limiter) Inflight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inflight
}

// Permit is one outstanding request against one host. Exactly one of
// Success/Dropped/Ignore/Release takes effect; the rest are no-ops.
type Permit struct {
	s       *permitState
	cleanup runtime.Cleanup
}

type permitState struct {
	l        *Limiter
	released atomic.Bool
}

func (s *permitState) release(o Outcome) bool {
	if !s.released.CompareAndSwap(false, true) {
		return false
	}
	s.l.apply(o)
	return true
}

func (p *Permit) Success() { p.settle(Success) }
func (p *Permit) Dropped() { p.settle(Drop) }
func (p *Permit) Ignore()  { p.settle(Ignore) }

// Release classifies a completed attempt through the limiter's behavior and
// releases the permit with the resulting outcome.
func (p *Permit) Release(status int, err error) {
	p.settle(p.s.l.behavior.Classify(status, err))
}

func (p *Permit) settle(o Outcome) {
	p.cleanup.Stop()
	p.s.release(o)
}
