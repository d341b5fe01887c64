package queue

import (
	"context"
	"sync"
	"time"
)

// SimulatedTimeProvider is a virtual clock for tests. Sleep advances the clock
// instantly, so minute-scale waits cost nothing. Timers either fire right away
// (moving the clock up to their due time) or are held until FireTimers is called.
type SimulatedTimeProvider struct {
	mu          sync.Mutex
	now         time.Time
	sleeps      []time.Duration
	timerDelays []time.Duration
	holdTimers  bool
	held        []*simulatedTimer
}

// NewSimulatedTimeProvider creates a virtual clock starting at start
func NewSimulatedTimeProvider(start time.Time) *SimulatedTimeProvider {
	return &SimulatedTimeProvider{now: start}
}

// Now returns the virtual time
func (s *SimulatedTimeProvider) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Since returns the virtual time elapsed since t
func (s *SimulatedTimeProvider) Since(t time.Time) time.Duration {
	return s.Now().Sub(t)
}

// Sleep advances the clock by d without blocking
func (s *SimulatedTimeProvider) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	if d > 0 {
		s.now = s.now.Add(d)
	}
	s.mu.Unlock()
	return nil
}

// Advance moves the clock forward by d
func (s *SimulatedTimeProvider) Advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	s.mu.Unlock()
}

// AfterFunc schedules f on the virtual clock
func (s *SimulatedTimeProvider) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &simulatedTimer{clock: s, due: s.now.Add(d), f: f}
	s.timerDelays = append(s.timerDelays, d)
	if s.holdTimers {
		s.held = append(s.held, t)
		return t
	}
	go t.fire()
	return t
}

// HoldTimers keeps scheduled callbacks pending until FireTimers is called
func (s *SimulatedTimeProvider) HoldTimers() {
	s.mu.Lock()
	s.holdTimers = true
	s.mu.Unlock()
}

// PendingTimers returns the number of held timers that were neither fired nor stopped
func (s *SimulatedTimeProvider) PendingTimers() int {
	s.mu.Lock()
	held := append([]*simulatedTimer(nil), s.held...)
	s.mu.Unlock()

	n := 0
	for _, t := range held {
		if t.pending() {
			n++
		}
	}
	return n
}

// FireTimers runs every held timer that has not been stopped and returns how many ran
func (s *SimulatedTimeProvider) FireTimers() int {
	s.mu.Lock()
	held := s.held
	s.held = nil
	s.mu.Unlock()

	n := 0
	for _, t := range held {
		if t.fire() {
			n++
		}
	}
	return n
}

// Sleeps returns every duration passed to Sleep
func (s *SimulatedTimeProvider) Sleeps() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}

// TimerDelays returns every delay passed to AfterFunc
func (s *SimulatedTimeProvider) TimerDelays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.timerDelays...)
}

type simulatedTimer struct {
	clock *SimulatedTimeProvider
	due   time.Time
	f     func()

	mu   sync.Mutex
	done bool
}

func (t *simulatedTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

func (t *simulatedTimer) pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.done
}

func (t *simulatedTimer) fire() bool {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return false
	}
	t.done = true
	t.mu.Unlock()

	t.clock.mu.Lock()
	if t.due.After(t.clock.now) {
		t.clock.now = t.due
	}
	t.clock.mu.Unlock()

	t.f()
	return true
}
