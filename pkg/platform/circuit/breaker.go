// Package circuit implements a counting circuit breaker. Callers record the
// outcome of each attempt against a dependency; once failures reach the
// threshold the breaker opens and the caller is told to use its fallback
// until enough consecutive successes close it again.
package circuit

import "sync"

// State is the breaker position.
type State string

const (
	StateClosed State = "closed"
	StateOpen   State = "open"
)

// StateChange reports a transition caused by a recorded outcome, so callers
// can log or count flips without polling.
type StateChange struct {
	Opened bool
	Closed bool
}

// Breaker tracks consecutive outcomes for one named dependency.
type Breaker struct {
	name             string
	failureThreshold int
	successThreshold int

	mu        sync.Mutex
	state     State
	failures  int
	successes int
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets how many consecutive failures open the breaker.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithSuccessThreshold sets how many consecutive successes close an open
// breaker.
func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.successThreshold = n
		}
	}
}

// New builds a closed breaker. Defaults: 5 failures to open, 1 success to
// close.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: 5,
		successThreshold: 1,
		state:            StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the dependency name the breaker guards.
func (b *Breaker) Name() string { return b.name }

// State returns the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsOpen reports whether callers should go straight to the fallback.
func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}

// RecordFailure registers a failed attempt. It returns whether the caller
// should use the fallback from now on, and whether this outcome flipped the
// breaker open.
func (b *Breaker) RecordFailure() (useFallback bool, change StateChange) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		b.successes = 0
		return true, StateChange{}
	}

	b.successes = 0
	b.failures++
	if b.failures < b.failureThreshold {
		return false, StateChange{}
	}
	b.state = StateOpen
	b.failures = 0
	return true, StateChange{Opened: true}
}

// RecordSuccess registers a successful attempt. It returns whether the caller
// can use the primary path, and whether this outcome closed the breaker.
func (b *Breaker) RecordSuccess() (usePrimary bool, change StateChange) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateClosed {
		b.failures = 0
		return true, StateChange{}
	}

	b.successes++
	if b.successes < b.successThreshold {
		return false, StateChange{}
	}
	b.state = StateClosed
	b.successes = 0
	return true, StateChange{Closed: true}
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
}
