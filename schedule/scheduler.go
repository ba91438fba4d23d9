// Package schedule coalesces bursts of update requests into throttled
// recomputations.
//
// A Scheduler is either idle or pending. Request moves an idle scheduler to
// pending with two instants: readyAt, no sooner than the throttle after the
// previous firing started, and a deadline, by which it fires even if the
// host never offers a frame. Hosts that drive frames (WithFrames) get the
// firing on the first Frame call at or after readyAt; otherwise the
// scheduler fires at readyAt. Requests while pending are no-ops and never
// move an already scheduled firing.
package schedule

import (
	"sync"
	"time"

	"github.com/keilerkonzept/chat-trending/clock"
)

type Option func(*Scheduler)

// WithFrames tells the scheduler the host calls Frame at its preferred yield
// points, so firings wait for a frame up to the deadline.
func WithFrames() Option {
	return func(s *Scheduler) { s.frames = true }
}

type Scheduler struct {
	clock  clock.Clock
	fire   func()
	frames bool

	mu       sync.Mutex
	throttle time.Duration
	fallback time.Duration

	pending   bool
	readyAt   time.Time
	deadline  time.Time
	lastStart time.Time
	timer     clock.Timer
	gen       uint64
	fired     uint64
	stopped   bool
}

// New returns an idle scheduler that calls fire for every firing. fire runs
// without any scheduler lock held and may call Request.
func New(c clock.Clock, throttle, fallback time.Duration, fire func(), opts ...Option) *Scheduler {
	s := &Scheduler{clock: c, fire: fire}
	s.SetTiming(throttle, fallback)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetTiming applies to the next Request.
func (s *Scheduler) SetTiming(throttle, fallback time.Duration) {
	if throttle < 0 {
		throttle = 0
	}
	if fallback <= 0 {
		fallback = time.Millisecond
	}
	s.mu.Lock()
	s.throttle = throttle
	s.fallback = fallback
	s.mu.Unlock()
}

// Request asks for a firing. It never blocks and never fires inline.
func (s *Scheduler) Request() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.pending {
		return
	}
	now := s.clock.Now()
	readyAt := now
	if !s.lastStart.IsZero() {
		if t := s.lastStart.Add(s.throttle); t.After(readyAt) {
			readyAt = t
		}
	}
	deadline := now.Add(s.fallback)
	if readyAt.After(deadline) {
		deadline = readyAt
	}

	s.pending = true
	s.readyAt = readyAt
	s.deadline = deadline
	at := readyAt
	if s.frames {
		at = deadline
	}
	gen := s.gen
	s.timer = s.clock.AfterFunc(at.Sub(now), func() { s.expire(gen) })
}

// Frame is the host's preferred yield point. It fires a pending request whose
// throttle has elapsed and reports whether it did.
func (s *Scheduler) Frame() bool {
	s.mu.Lock()
	if !s.pending || s.clock.Now().Before(s.readyAt) {
		s.mu.Unlock()
		return false
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.startLocked()
	s.mu.Unlock()

	s.fire()
	return true
}

func (s *Scheduler) expire(gen uint64) {
	s.mu.Lock()
	if !s.pending || s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.startLocked()
	s.mu.Unlock()

	s.fire()
}

// startLocked clears the pending state before fire runs, so requests made
// while fire runs schedule the next firing.
func (s *Scheduler) startLocked() {
	s.pending = false
	s.timer = nil
	s.gen++
	s.fired++
	s.lastStart = s.clock.Now()
}

// Pending reports whether a firing is outstanding and when it is due at the
// latest.
func (s *Scheduler) Pending() (bool, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending, s.deadline
}

// Fired counts firings since construction.
func (s *Scheduler) Fired() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired
}

// Start undoes Stop. A new scheduler is already started.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.stopped = false
	s.mu.Unlock()
}

// Stop cancels any pending firing and ignores later requests until Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.pending = false
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
