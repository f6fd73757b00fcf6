package concurrency

import (
	"errors"
	"sync"
	"time"
)

// State is a circuit breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

// ErrBreakerOpen is returned by Call when the breaker is open and fast-failing.
var ErrBreakerOpen = errors.New("circuit breaker open")

// Breaker implements the closed -> open -> half-open -> closed state machine
// described for the per-dependency breakers (embedding, LLM, vector, graph).
// It opens after FailureThreshold consecutive failures and stays open for
// CoolOff before allowing a single probe call through.
type Breaker struct {
	mu               sync.Mutex
	state            State
	failureThreshold int
	coolOff          time.Duration
	consecutiveFails int
	openedAt         time.Time
}

// NewBreaker builds a breaker with the given threshold and cool-off.
func NewBreaker(failureThreshold int, coolOff time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if coolOff <= 0 {
		coolOff = 60 * time.Second
	}
	return &Breaker{failureThreshold: failureThreshold, coolOff: coolOff}
}

// Call runs fn if the breaker permits it, recording success/failure.
func (b *Breaker) Call(fn func() error) error {
	if !b.allow() {
		return ErrBreakerOpen
	}
	err := fn()
	b.record(err == nil)
	return err
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) >= b.coolOff {
			b.state = HalfOpen
			return true
		}
		return false
	case HalfOpen:
		// Only one probe call is allowed through at a time; once in
		// half-open, subsequent callers fail fast until it resolves.
		return false
	default:
		return true
	}
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if success {
		b.consecutiveFails = 0
		b.state = Closed
		return
	}
	if b.state == HalfOpen {
		b.state = Open
		b.openedAt = time.Now()
		return
	}
	b.consecutiveFails++
	if b.consecutiveFails >= b.failureThreshold {
		b.state = Open
		b.openedAt = time.Now()
	}
}

// CurrentState reports the current breaker state, useful for health checks and
// deciding whether the graph/vector backend should be treated as available.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && time.Since(b.openedAt) >= b.coolOff {
		return HalfOpen
	}
	return b.state
}
