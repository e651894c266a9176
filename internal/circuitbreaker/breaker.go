// Package circuitbreaker guards calls to a remote dependency. Each key moves
// closed -> open after consecutive failures, then half-open for a single
// probe once the cool-down has passed.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrOpen is returned by Do when the circuit for a key rejects the call.
var ErrOpen = errors.New("circuit breaker open")

// State is the circuit state for one key.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	}
	return "unknown"
}

var transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "riskd",
	Subsystem: "circuitbreaker",
	Name:      "transitions_total",
	Help:      "Circuit state changes by key and target state.",
}, []string{"key", "to"})

func init() {
	prometheus.MustRegister(transitions)
}

type circuit struct {
	state    State
	failures int
	openedAt time.Time
}

// Breaker tracks circuits per key.
type Breaker struct {
	threshold int
	coolDown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	circuits map[string]*circuit
}

// New returns a breaker that opens after threshold consecutive failures and
// probes again after coolDown. Non-positive values fall back to 5 and 30s.
func New(threshold int, coolDown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if coolDown <= 0 {
		coolDown = 30 * time.Second
	}
	return &Breaker{
		threshold: threshold,
		coolDown:  coolDown,
		now:       time.Now,
		circuits:  make(map[string]*circuit),
	}
}

// Allow reports whether a call for key may proceed. An open circuit whose
// cool-down has elapsed becomes half-open and admits exactly one caller.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return true
	}
	switch c.state {
	case Open:
		if b.now().Sub(c.openedAt) < b.coolDown {
			return false
		}
		b.move(key, c, HalfOpen)
		return true
	case HalfOpen:
		return false
	}
	return true
}

// Success closes the circuit and clears its failure count.
func (b *Breaker) Success(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return
	}
	c.failures = 0
	b.move(key, c, Closed)
}

// Failure counts a failed call. A failed half-open probe reopens at once.
func (b *Breaker) Failure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{}
		b.circuits[key] = c
	}
	c.failures++
	if c.state == HalfOpen || c.failures >= b.threshold {
		c.openedAt = b.now()
		b.move(key, c, Open)
	}
}

// State returns the state for key; unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[key]; ok {
		return c.state
	}
	return Closed
}

// Do runs fn when the circuit allows it. fn reports whether its outcome
// counts as a failure separately from the error it returns, so callers can
// pass client errors through without tripping the circuit.
func (b *Breaker) Do(key string, fn func() (failed bool, err error)) error {
	if !b.Allow(key) {
		return ErrOpen
	}
	failed, err := fn()
	if failed {
		b.Failure(key)
	} else {
		b.Success(key)
	}
	return err
}

// caller holds b.mu
func (b *Breaker) move(key string, c *circuit, to State) {
	if c.state == to {
		return
	}
	c.state = to
	transitions.WithLabelValues(key, to.String()).Inc()
}
