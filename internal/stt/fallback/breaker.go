// Package fallback coordinates transcription across an ordered chain of
// providers, isolating unhealthy backends behind per-provider circuit
// breakers.
package fallback

import (
	"fmt"
	"sync"
	"time"
)

// State represents the circuit state of one provider.
type State int

const (
	// StateClosed - requests pass through.
	StateClosed State = iota
	// StateOpen - requests short-circuit to the next provider, no network call.
	StateOpen
	// StateHalfOpen - a single probe request is in flight.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Breaker is the circuit breaker for a single provider. Each provider gets
// its own breaker with its own lock, so one provider's failures never stall
// traffic to another.
//
// State transitions:
//
//	CLOSED ──(threshold consecutive failures)──> OPEN
//	OPEN ──(cooldown elapsed)──> HALF_OPEN (one probe allowed)
//	HALF_OPEN ──(probe success)──> CLOSED
//	HALF_OPEN ──(probe failure)──> OPEN (cooldown doubles, capped)
type Breaker struct {
	mu sync.Mutex

	state       State
	failures    int
	openedAt    time.Time
	lastChecked time.Time

	threshold   int
	cooldown    time.Duration
	maxCooldown time.Duration
	backoff     time.Duration

	now func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(threshold int, cooldown, maxCooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 15 * time.Second
	}
	if maxCooldown < cooldown {
		maxCooldown = cooldown
	}
	return &Breaker{
		state:       StateClosed,
		threshold:   threshold,
		cooldown:    cooldown,
		maxCooldown: maxCooldown,
		backoff:     cooldown,
		now:         time.Now,
	}
}

// Allow reports whether a request may proceed, and whether that request is
// the single half-open probe. An open breaker whose cooldown has elapsed
// transitions to half-open and admits exactly one probe.
func (b *Breaker) Allow() (allowed, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastChecked = b.now()

	switch b.state {
	case StateClosed:
		return true, false
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.backoff {
			b.state = StateHalfOpen
			return true, true
		}
		return false, false
	case StateHalfOpen:
		// A probe is already in flight.
		return false, false
	default:
		return false, false
	}
}

// RecordSuccess resets the breaker. A successful half-open probe closes the
// circuit and restores the base cooldown.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = 0
	b.backoff = b.cooldown
}

// RecordFailure counts a failure. Returns true if the circuit transitioned
// to open as a consequence.
func (b *Breaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.state = StateOpen
			b.openedAt = b.now()
			return true
		}
		return false
	case StateHalfOpen:
		// Failed probe: back to open with a longer cooldown.
		b.state = StateOpen
		b.openedAt = b.now()
		b.backoff *= 2
		if b.backoff > b.maxCooldown {
			b.backoff = b.maxCooldown
		}
		return true
	default:
		return false
	}
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Health is a read-only snapshot of the breaker for observability.
type Health struct {
	Provider    string    `json:"provider"`
	State       string    `json:"state"`
	Failures    int       `json:"consecutiveFailures"`
	LastChecked time.Time `json:"lastChecked"`
}

func (b *Breaker) snapshot(provider string) Health {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Health{
		Provider:    provider,
		State:       b.state.String(),
		Failures:    b.failures,
		LastChecked: b.lastChecked,
	}
}
