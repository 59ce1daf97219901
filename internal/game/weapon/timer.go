package weapon

import (
	"sync"
	"time"
)

// timerKey identifies the purpose of a pending timer. Every timer the firing
// machine arms is registered under one of these keys so that any state exit
// can cancel exactly the tokens it owns.
type timerKey int

const (
	timerCooldown timerKey = iota
	timerBurst
	timerAutoReload
)

// timer fires a callback after a duration unless stopped. Safe for
// concurrent use.
type timer struct {
	mu      sync.Mutex
	t       *time.Timer
	stopped bool
}

// startTimer creates and starts a timer that calls onFire after duration.
// onFire runs in a separate goroutine.
//
// Precondition: duration >= 0; onFire must not be nil.
func startTimer(duration time.Duration, onFire func()) *timer {
	tm := &timer{}
	tm.t = time.AfterFunc(duration, func() {
		tm.mu.Lock()
		stopped := tm.stopped
		tm.mu.Unlock()
		if !stopped {
			onFire()
		}
	})
	return tm
}

// Stop prevents the callback from firing. Safe to call multiple times.
func (tm *timer) Stop() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.stopped = true
	tm.t.Stop()
}

// timerSet is the table of pending timers owned by one weapon instance.
// Keyed timers replace their predecessor, so a key never has two live
// timers; in-flight timers each get their own token and may overlap freely.
type timerSet struct {
	mu     sync.Mutex
	active map[timerKey]*timer
	flight map[uint64]*timer
	seq    uint64
}

func newTimerSet() *timerSet {
	return &timerSet{
		active: make(map[timerKey]*timer),
		flight: make(map[uint64]*timer),
	}
}

// Arm registers a timer under key, cancelling any previous timer for key.
func (s *timerSet) Arm(key timerKey, d time.Duration, onFire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.active[key]; ok {
		prev.Stop()
	}
	s.active[key] = startTimer(d, onFire)
}

// ArmEach registers a timer under a fresh token, never replacing an earlier
// one. Used for per-shot work (fire confirmations, tracer launches) where
// several instances may legitimately be pending at once; the token is
// released when the timer fires, and CancelAll still stops every pending one.
func (s *timerSet) ArmEach(d time.Duration, onFire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := s.seq
	s.flight[id] = startTimer(d, func() {
		s.mu.Lock()
		delete(s.flight, id)
		s.mu.Unlock()
		onFire()
	})
}

// Cancel stops and removes the timer registered under key, if any.
func (s *timerSet) Cancel(key timerKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tm, ok := s.active[key]; ok {
		tm.Stop()
		delete(s.active, key)
	}
}

// CancelAll stops and removes every pending timer. Called on input release,
// authority loss, and disposal; leaving a timer live across any of those is
// the stale-callback bug this table exists to prevent.
func (s *timerSet) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, tm := range s.active {
		tm.Stop()
		delete(s.active, key)
	}
	for id, tm := range s.flight {
		tm.Stop()
		delete(s.flight, id)
	}
}
