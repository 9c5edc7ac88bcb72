package chat

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen reports that the provider breaker is rejecting calls.
var ErrCircuitOpen = errors.New("chat: circuit open")

type circuitState int

const (
	stateClosed circuitState = iota
	stateOpen
	stateHalfOpen
)

// Breaker is a circuit breaker around the generation provider. After
// Threshold consecutive failures it opens and rejects calls for Cooldown,
// then lets a single probe through; a successful probe closes it again.
type Breaker struct {
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	state    circuitState
	failures int
	openedAt time.Time
	probing  bool

	now func() time.Time
}

// NewBreaker creates a closed breaker. Non-positive arguments fall back to
// five failures and thirty seconds.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. In the open state it returns
// ErrCircuitOpen until the cooldown elapses, then admits one probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return nil
	case stateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrCircuitOpen
		}
		b.state = stateHalfOpen
		b.probing = true
		return nil
	default: // half-open
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
		return nil
	}
}

// cancelProbe releases the probe slot when an admitted call was abandoned
// before reaching the provider. The call said nothing about provider
// health, so the breaker stays half-open and the next Allow may probe.
func (b *Breaker) cancelProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateHalfOpen {
		b.probing = false
	}
}

// Record feeds the outcome of an allowed call back into the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.state = stateClosed
		b.failures = 0
		b.probing = false
		return
	}

	switch b.state {
	case stateHalfOpen:
		// Failed probe reopens for a full cooldown.
		b.state = stateOpen
		b.openedAt = b.now()
		b.probing = false
	default:
		b.failures++
		if b.failures >= b.threshold {
			b.state = stateOpen
			b.openedAt = b.now()
		}
	}
}
