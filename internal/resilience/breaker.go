// Package resilience provides the circuit breaker and provider failover
// primitives that keep a meeting session alive when an AI backend degrades.
//
// [Breaker] is a three-state breaker (closed, open, half-open) guarding a
// single backend. [Chain] composes several instances of one provider type,
// each behind its own breaker, so a failing primary is bypassed in favour of
// healthy fallbacks. The insight layer uses a bare Breaker around its LLM
// calls; provider construction uses Chains when the configuration lists
// fallback backends.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] while the breaker is open and the
// cooldown has not elapsed.
var ErrBreakerOpen = errors.New("resilience: breaker is open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrBreakerOpen] until the cooldown elapses.
	StateOpen

	// StateHalfOpen admits a limited number of probe calls after the cooldown.
	// Enough consecutive probe successes close the breaker; any probe failure
	// re-opens it.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero values fall back to defaults suited
// for remote AI backends with multi-second latencies.
type BreakerConfig struct {
	// Name labels the breaker in log output, typically the backend it guards.
	Name string

	// FailureThreshold is the number of consecutive failures that trip the
	// breaker from closed to open. Default: 5.
	FailureThreshold int

	// Cooldown is how long the breaker stays open before admitting probes.
	// Default: 30s.
	Cooldown time.Duration

	// ProbeQuota is the number of consecutive probe successes required to
	// close a half-open breaker. A probe failure re-opens it immediately.
	// Default: 2.
	ProbeQuota int
}

// Breaker guards a single backend with the circuit breaker pattern.
type Breaker struct {
	name       string
	threshold  int
	cooldown   time.Duration
	probeQuota int
	log        *slog.Logger

	mu         sync.Mutex
	state      State
	failures   int
	openedAt   time.Time
	probes     int
	probeWins  int
}

// NewBreaker creates a closed [Breaker]. A nil logger falls back to
// slog.Default.
func NewBreaker(cfg BreakerConfig, log *slog.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ProbeQuota <= 0 {
		cfg.ProbeQuota = 2
	}
	if log == nil {
		log = slog.Default()
	}
	return &Breaker{
		name:       cfg.Name,
		threshold:  cfg.FailureThreshold,
		cooldown:   cfg.Cooldown,
		probeQuota: cfg.ProbeQuota,
		log:        log.With("breaker", cfg.Name),
	}
}

// Do runs fn if the breaker admits the call. While open it returns
// [ErrBreakerOpen] without invoking fn. In half-open it admits at most
// ProbeQuota in-flight probes.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.state = StateHalfOpen
		b.probes = 0
		b.probeWins = 0
		b.log.Info("breaker half-open, probing backend")

	case StateHalfOpen:
		if b.probes >= b.probeQuota {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
	}
	probing := b.state == StateHalfOpen
	if probing {
		b.probes++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure(probing bool) {
	if probing {
		b.state = StateOpen
		b.openedAt = time.Now()
		b.failures = b.threshold
		b.log.Warn("probe failed, breaker re-opened")
		return
	}
	b.failures++
	if b.failures >= b.threshold && b.state == StateClosed {
		b.state = StateOpen
		b.openedAt = time.Now()
		b.log.Warn("breaker opened", "consecutive_failures", b.failures)
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess(probing bool) {
	if probing {
		b.probeWins++
		if b.probeWins >= b.probeQuota {
			b.state = StateClosed
			b.failures = 0
			b.log.Info("breaker closed after successful probes")
		}
		return
	}
	b.failures = 0
}

// State reports the breaker's mode. An open breaker whose cooldown has elapsed
// reports half-open; the actual transition happens on the next Do call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probes = 0
	b.probeWins = 0
}
