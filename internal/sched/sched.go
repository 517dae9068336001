// Package sched fires handlers at wall-clock instants, decoupling cycle
// logic from the host clock. The next-fire arithmetic is pure so it can be
// tested without sleeping.
package sched

import (
	"sync"
	"time"
)

// Spec describes the wall-clock instants a handler fires at: every listed
// minute of every listed hour, at the given second. A nil Hours slice means
// every hour.
type Spec struct {
	Hours   []int
	Minutes []int
	Second  int
}

// Handler is invoked with the wall-clock instant it was scheduled for.
type Handler func(now time.Time)

// Next returns the earliest instant strictly after t that matches the spec.
func Next(t time.Time, spec Spec) time.Time {
	candidate := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), spec.Second, 0, t.Location())
	if !candidate.After(t) {
		candidate = candidate.Add(time.Minute)
	}
	// A matching minute exists within any 24h span.
	for i := 0; i < 24*60; i++ {
		if matches(candidate, spec) {
			return candidate
		}
		candidate = candidate.Add(time.Minute)
	}
	return candidate
}

func matches(t time.Time, spec Spec) bool {
	if !containsOrNil(spec.Hours, t.Hour()) {
		return false
	}
	return containsOrNil(spec.Minutes, t.Minute())
}

func containsOrNil(set []int, v int) bool {
	if set == nil {
		return true
	}
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Scheduler runs handlers at their scheduled wall-clock instants. One
// goroutine per registration; handlers for the same registration never
// overlap.
type Scheduler struct {
	now func() time.Time

	mu      sync.Mutex
	cancels []func()
	stopped bool
	wg      sync.WaitGroup
}

// New creates a Scheduler. A nil now func uses time.Now.
func New(now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{now: now}
}

// Schedule registers a handler and returns a cancel function. Cancel is
// idempotent.
func (s *Scheduler) Schedule(spec Spec, h Handler) (cancel func()) {
	stop := make(chan struct{})
	var once sync.Once
	cancel = func() { once.Do(func() { close(stop) }) }

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return func() {}
	}
	s.cancels = append(s.cancels, cancel)
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		for {
			now := s.now()
			next := Next(now, spec)
			timer := time.NewTimer(next.Sub(now))
			select {
			case <-stop:
				timer.Stop()
				return
			case <-timer.C:
				h(next)
			}
		}
	}()

	return cancel
}

// Close cancels all registrations and waits for their goroutines to exit.
// In-flight handlers run to completion.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	s.wg.Wait()
}
