package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrChainExhausted is returned when every entry in a [Chain] fails or has an
// open breaker.
var ErrChainExhausted = errors.New("resilience: all backends failed")

// chainEntry pairs one backend with its dedicated breaker.
type chainEntry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Chain tries a primary and zero or more fallback backends of the same
// provider type in registration order. Each entry has its own [Breaker];
// open-breaker entries are skipped without being called.
type Chain[T any] struct {
	log     *slog.Logger
	cfg     BreakerConfig
	entries []chainEntry[T]
}

// NewChain creates an empty chain. cfg configures the breaker created for
// each entry; the Name field is overridden per entry.
func NewChain[T any](cfg BreakerConfig, log *slog.Logger) *Chain[T] {
	if log == nil {
		log = slog.Default()
	}
	return &Chain[T]{log: log, cfg: cfg}
}

// Add appends a backend. The first Add registers the primary; later calls
// register fallbacks tried in order.
func (c *Chain[T]) Add(name string, backend T) {
	cfg := c.cfg
	cfg.Name = name
	c.entries = append(c.entries, chainEntry[T]{
		name:    name,
		value:   backend,
		breaker: NewBreaker(cfg, c.log),
	})
}

// Len returns the number of registered backends.
func (c *Chain[T]) Len() int { return len(c.entries) }

// Primary returns the first registered backend. It panics on an empty chain;
// callers register at least the primary during construction.
func (c *Chain[T]) Primary() T { return c.entries[0].value }

// Run tries fn against each backend until one succeeds. It returns
// [ErrChainExhausted] wrapping the last error when every entry fails or is
// skipped.
func (c *Chain[T]) Run(fn func(T) error) error {
	var lastErr error
	for i := range c.entries {
		entry := &c.entries[i]
		err := entry.breaker.Do(func() error { return fn(entry.value) })
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			c.log.Debug("skipping backend, breaker open", "backend", entry.name)
		} else {
			c.log.Warn("backend failed, trying next", "backend", entry.name, "error", err)
		}
	}
	return fmt.Errorf("%w: %v", ErrChainExhausted, lastErr)
}

// RunResult is [Chain.Run] for calls that produce a value. It is a package
// function because Go methods cannot introduce the result type parameter.
func RunResult[T, R any](c *Chain[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range c.entries {
		entry := &c.entries[i]
		var result R
		err := entry.breaker.Do(func() error {
			var callErr error
			result, callErr = fn(entry.value)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			c.log.Debug("skipping backend, breaker open", "backend", entry.name)
		} else {
			c.log.Warn("backend failed, trying next", "backend", entry.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrChainExhausted, lastErr)
}
