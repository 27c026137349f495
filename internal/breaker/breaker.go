// Package breaker wraps sony/gobreaker with the trip policy shared by agents
// and feed fetchers.
package breaker

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrOpen is returned instead of calling through while the breaker is open.
var ErrOpen = gobreaker.ErrOpenState

// Breaker guards calls to one external collaborator.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// New creates a breaker that trips after three consecutive failures and
// probes again after cooldown.
func New(name string, cooldown time.Duration) *Breaker {
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    cooldown,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(st)}
}

// Execute runs fn unless the breaker is open.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	return b.cb.Execute(fn)
}

// State reports closed, half-open or open.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// IsOpen reports whether err came from an open or saturated breaker.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
