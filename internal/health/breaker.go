package health

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker position for one venue.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// Breaker is the per-venue failure-isolation state machine. Transitions are
// explicit only; the state never silently decays.
type Breaker struct {
	State                  BreakerState `json:"state"`
	TripCount              int          `json:"tripCount"`
	LastTrippedAt          *time.Time   `json:"lastTrippedAt,omitempty"`
	LastRecoveredAt        *time.Time   `json:"lastRecoveredAt,omitempty"`
	FailureThreshold       int          `json:"failureThreshold"`
	RecoveryTimeoutSeconds int          `json:"recoveryTimeoutSeconds"`
}

// CircuitBreakerStore holds one breaker per configured venue. Operations on
// an unconfigured venue are silent no-ops: the pipeline may trip a venue
// before an operator has configured breaker thresholds for it, and report
// code relies on Get returning nil rather than an error.
type CircuitBreakerStore struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

func NewCircuitBreakerStore() *CircuitBreakerStore {
	return &CircuitBreakerStore{breakers: make(map[string]*Breaker)}
}

// Configure creates the venue's breaker in the closed state if absent.
// Re-configuring an existing breaker resets its thresholds but not its
// current state or counters.
func (s *CircuitBreakerStore) Configure(venue string, failureThreshold, recoveryTimeoutSeconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.breakers[venue]; ok {
		b.FailureThreshold = failureThreshold
		b.RecoveryTimeoutSeconds = recoveryTimeoutSeconds
		return
	}
	s.breakers[venue] = &Breaker{
		State:                  BreakerClosed,
		FailureThreshold:       failureThreshold,
		RecoveryTimeoutSeconds: recoveryTimeoutSeconds,
	}
}

// Trip moves the breaker to open, increments the trip count and records the
// trip time.
func (s *CircuitBreakerStore) Trip(venue string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[venue]
	if !ok {
		return
	}
	b.State = BreakerOpen
	b.TripCount++
	t := at
	b.LastTrippedAt = &t
}

// HalfOpen moves an open breaker to half-open for a recovery probe.
func (s *CircuitBreakerStore) HalfOpen(venue string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[venue]
	if !ok || b.State != BreakerOpen {
		return
	}
	b.State = BreakerHalfOpen
}

// Recover closes the breaker from any state and records the recovery time.
func (s *CircuitBreakerStore) Recover(venue string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[venue]
	if !ok {
		return
	}
	b.State = BreakerClosed
	t := at
	b.LastRecoveredAt = &t
}

// Get returns a snapshot of the venue's breaker, or nil when the venue was
// never configured.
func (s *CircuitBreakerStore) Get(venue string) *Breaker {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.breakers[venue]
	if !ok {
		return nil
	}
	snapshot := *b
	return &snapshot
}
