package upstream

import "sync"

// Breaker tracks consecutive upstream failures:
// - Open the circuit after N consecutive retryable failures.
// - While open, calls fail fast as unavailable without touching the network, except
//   that every probeEvery-th call is let through to test recovery.
// - Close the circuit after M consecutive successes.
type Breaker struct {
	mu               sync.Mutex
	state            breakerState
	failureCount     int
	successCount     int
	skipped          int
	failureThreshold int
	successThreshold int
	probeEvery       int
}

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
)

// NewBreaker returns a closed breaker. Non-positive thresholds fall back to 5 failures,
// 2 successes and a probe every 10 calls.
func NewBreaker(failureThreshold, successThreshold int) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if successThreshold <= 0 {
		successThreshold = 2
	}
	return &Breaker{
		state:            breakerClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		probeEvery:       10,
	}
}

// Allow reports whether a call may go out.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == breakerClosed {
		return true
	}
	b.skipped++
	if b.skipped >= b.probeEvery {
		b.skipped = 0
		return true
	}
	return false
}

func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == breakerOpen
}

// RecordFailure returns true when the circuit is open after recording.
func (b *Breaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount++
	b.successCount = 0
	if b.state == breakerOpen {
		return true
	}
	if b.failureCount >= b.failureThreshold {
		b.state = breakerOpen
		b.skipped = 0
		return true
	}
	return false
}

// RecordSuccess returns true when the circuit is closed after recording.
func (b *Breaker) RecordSuccess() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == breakerOpen {
		b.successCount++
		if b.successCount >= b.successThreshold {
			b.state = breakerClosed
			b.failureCount = 0
			b.successCount = 0
			return true
		}
		return false
	}
	b.failureCount = 0
	return true
}
