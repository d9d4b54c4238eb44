package eventbus

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned while publishing is suspended after repeated
// failures.
var ErrBreakerOpen = errors.New("publish circuit breaker is open")

// BreakerState is the state of a publish breaker.
type BreakerState int

const (
	// BreakerClosed lets every publish through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects publishes until the reset timeout elapses.
	BreakerOpen
	// BreakerHalfOpen lets one trial publish through to the broker.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// breaker stops publish attempts after maxFailures consecutive failures and
// tries again once reset has elapsed.
type breaker struct {
	maxFailures int
	reset       time.Duration
	now         func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
}

func newBreaker(maxFailures int, reset time.Duration) *breaker {
	return &breaker{maxFailures: maxFailures, reset: reset, now: time.Now}
}

// execute runs fn unless the breaker is open.
func (b *breaker) execute(fn func() error) error {
	if !b.allow() {
		return ErrBreakerOpen
	}
	err := fn()
	b.record(err)
	return err
}

func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.reset {
			return false
		}
		b.state = BreakerHalfOpen
		return true
	default:
		return true
	}
}

func (b *breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.state = BreakerClosed
		b.failures = 0
		return
	}
	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.maxFailures {
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}

func (b *breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
