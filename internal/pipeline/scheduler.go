package pipeline

import (
	"sync"
	"time"
)

// Scheduler owns the per-venue reconnect backoff state: an attempt counter
// and a delay that doubles on each failure up to a cap. Scheduling is
// fire-and-forget on its own timer, so one venue's backoff never delays
// another's, and the pending task can be cancelled deterministically on
// shutdown.
type Scheduler struct {
	mu          sync.Mutex
	base        time.Duration
	max         time.Duration
	maxAttempts int
	attempts    int
	delay       time.Duration
	timer       *time.Timer
}

func NewScheduler(base, max time.Duration, maxAttempts int) *Scheduler {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Scheduler{
		base:        base,
		max:         max,
		maxAttempts: maxAttempts,
		delay:       base,
	}
}

// Fail schedules fire after the current delay and advances the backoff.
// Once the attempt ceiling is reached it schedules nothing and reports
// tripped; that outcome is terminal until Reset.
func (s *Scheduler) Fail(fire func()) (attempt int, delay time.Duration, tripped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attempts >= s.maxAttempts {
		return s.attempts, 0, true
	}

	s.attempts++
	attempt = s.attempts
	delay = s.delay

	s.timer = time.AfterFunc(delay, fire)

	s.delay *= 2
	if s.delay > s.max {
		s.delay = s.max
	}
	return attempt, delay, false
}

// Reset returns the backoff to its base state after a successful connect.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.attempts = 0
	s.delay = s.base
	s.mu.Unlock()
}

// Cancel stops the pending reconnect task, if any, and reports whether one
// was actually stopped before firing.
func (s *Scheduler) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer == nil {
		return false
	}
	stopped := s.timer.Stop()
	s.timer = nil
	return stopped
}

// Attempts returns the current attempt counter.
func (s *Scheduler) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}
