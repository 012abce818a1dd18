package archive

import (
	"sync"
	"time"

	"github.com/heyitswin/zipsea-sub004/internal/pricesync"
)

// BreakerState is the circuit breaker state machine position.
type BreakerState string

// Breaker states.
const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerConfig tunes the failure-isolation state machine.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the breaker.
	FailureThreshold int
	// Cooldown is the initial open period before a probe is allowed.
	Cooldown time.Duration
	// MaxCooldown caps the backoff applied when a probe fails.
	MaxCooldown time.Duration
}

// BreakerStats is an observable snapshot for monitoring.
type BreakerStats struct {
	State               BreakerState
	ConsecutiveFailures int
	LastFailure         time.Time
	OpenedAt            time.Time
	Cooldown            time.Duration
}

// Breaker tracks consecutive archive failures and fails fast while the
// remote service is unhealthy. One probe is admitted per half-open window.
type Breaker struct {
	cfg   BreakerConfig
	clock pricesync.Clock

	mu            sync.Mutex
	state         BreakerState
	failures      int
	lastFailure   time.Time
	openedAt      time.Time
	cooldown      time.Duration
	probeInFlight bool
}

// NewBreaker constructs a closed Breaker.
func NewBreaker(cfg BreakerConfig, clock pricesync.Clock) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.MaxCooldown <= 0 {
		cfg.MaxCooldown = 5 * time.Minute
	}
	return &Breaker{
		cfg:      cfg,
		clock:    clock,
		state:    BreakerClosed,
		cooldown: cfg.Cooldown,
	}
}

// Ready reports whether the breaker would admit an operation without
// consuming the half-open probe slot. Used for fail-fast checks ahead of
// any waiting or network work.
func (b *Breaker) Ready() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.clock.Now().Sub(b.openedAt) < b.cooldown {
			return pricesync.ErrBreakerOpen
		}
	case BreakerHalfOpen:
		if b.probeInFlight {
			return pricesync.ErrBreakerOpen
		}
	}
	return nil
}

// Allow reports whether an archive operation may proceed. It returns
// ErrBreakerOpen without any network attempt while the breaker is open, and
// admits exactly one probe once the cooldown has elapsed. Every Allow must
// be answered by RecordSuccess or RecordFailure.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.clock.Now().Sub(b.openedAt) < b.cooldown {
			return pricesync.ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
		b.probeInFlight = true
		return nil
	case BreakerHalfOpen:
		if b.probeInFlight {
			return pricesync.ErrBreakerOpen
		}
		b.probeInFlight = true
		return nil
	}
	return nil
}

// RecordSuccess resets the failure count; a successful probe closes the
// breaker and restores the base cooldown.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probeInFlight = false
	if b.state != BreakerClosed {
		b.state = BreakerClosed
		b.cooldown = b.cfg.Cooldown
	}
}

// RecordFailure counts a connection failure; at the threshold the breaker
// opens, and a failed probe re-opens with doubled cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.lastFailure = now

	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = BreakerOpen
			b.openedAt = now
		}
	case BreakerHalfOpen:
		b.probeInFlight = false
		b.state = BreakerOpen
		b.openedAt = now
		b.cooldown *= 2
		if b.cooldown > b.cfg.MaxCooldown {
			b.cooldown = b.cfg.MaxCooldown
		}
	case BreakerOpen:
		// Late failures from in-flight operations do not extend the window.
	}
}

// Stats returns an observable snapshot.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		State:               b.state,
		ConsecutiveFailures: b.failures,
		LastFailure:         b.lastFailure,
		OpenedAt:            b.openedAt,
		Cooldown:            b.cooldown,
	}
}
