package weapon

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the firing machine's current phase.
type State int

const (
	// StateIdle accepts new trigger pulls.
	StateIdle State = iota
	// StateCooldown rejects trigger pulls until the attack-rate timer elapses.
	StateCooldown
	// StateBurstPending has follow-up burst shots scheduled.
	StateBurstPending
	// StateAutoFiring is a cooldown that will re-fire on completion while the
	// trigger is held.
	StateAutoFiring
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCooldown:
		return "cooldown"
	case StateBurstPending:
		return "burst_pending"
	case StateAutoFiring:
		return "auto_firing"
	default:
		return "unknown"
	}
}

// Default scheduling delays. The confirmation delay models wind-up between a
// shot being accepted and its effects executing; the reload window gates
// trigger pulls after a completed reload.
const (
	defaultFireConfirmDelay = 50 * time.Millisecond
	defaultAutoReloadDelay  = 500 * time.Millisecond
	defaultReloadWindow     = 1000 * time.Millisecond
)

// Machine is the firing state machine for one weapon instance: cooldown,
// burst and auto-fire scheduling, and reload gating. It decides when a shot
// is permitted and consumes ammo atomically at the moment a shot is accepted,
// before any asynchronous hit resolution.
//
// All methods are safe for concurrent use; timer callbacks re-enter under the
// machine's lock. Every callback captures the epoch current when it was
// scheduled and aborts if the epoch has advanced, so a timer that slipped
// past cancellation can never act on a successor authority's state.
type Machine struct {
	mu     sync.Mutex
	spec   *Spec
	ledger *Ledger
	timers *timerSet
	logger *zap.Logger

	state          State
	held           bool
	burstRemaining int
	reloadUntil    time.Time
	epoch          uint64
	disposed       bool

	// fire executes hit resolution for one accepted shot. Runs outside the
	// machine lock after the confirmation delay.
	fire func()
	// outOfAmmo plays the out-of-ammo cue. May be nil.
	outOfAmmo func()

	confirmDelay    time.Duration
	autoReloadDelay time.Duration
	reloadWindow    time.Duration
}

// NewMachine creates a Machine in StateIdle.
//
// Precondition: spec and ledger must be non-nil; logger must be non-nil.
// fire and outOfAmmo may be nil.
func NewMachine(spec *Spec, ledger *Ledger, fire, outOfAmmo func(), logger *zap.Logger) *Machine {
	return &Machine{
		spec:            spec,
		ledger:          ledger,
		timers:          newTimerSet(),
		logger:          logger,
		fire:            fire,
		outOfAmmo:       outOfAmmo,
		confirmDelay:    defaultFireConfirmDelay,
		autoReloadDelay: defaultAutoReloadDelay,
		reloadWindow:    defaultReloadWindow,
	}
}

// State returns the machine's current phase.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Trigger handles a trigger pull. A pull during any non-idle phase is
// ignored; a pull without ammo available plays the out-of-ammo cue and stays
// idle. Insufficient ammo is an expected condition, never an error.
//
// Postcondition: returns true iff a shot was accepted (and its ammo
// consumed).
func (m *Machine) Trigger() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return false
	}
	m.held = true
	if m.state != StateIdle {
		return false
	}
	return m.fireShotLocked(true, true)
}

// Release handles trigger release: the universal escape hatch. Pending burst
// and auto-fire continuations are cancelled. A cooldown already in flight for
// an accepted shot runs to completion so the attack rate stays honest.
func (m *Machine) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held = false
	m.burstRemaining = 0
	m.timers.Cancel(timerBurst)
	switch m.state {
	case StateBurstPending:
		m.state = StateIdle
	case StateAutoFiring:
		m.state = StateCooldown
	}
}

// Reload handles a manual reload request. With unlimited ammo it is a no-op.
//
// Postcondition: returns true iff rounds moved; on success further trigger
// pulls fail the ammo check until the reload window elapses.
func (m *Machine) Reload() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return false
	}
	if !m.ledger.Reload() {
		return false
	}
	m.reloadUntil = time.Now().Add(m.reloadWindow)
	return true
}

// Ammo returns the ledger counters under the machine lock.
func (m *Machine) Ammo() (loaded, reserve int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.Loaded(), m.ledger.Reserve()
}

// GrantReserve adds amount rounds to the reserve through the ledger's clamp
// path. Serialized under the machine lock so grants cannot race reload
// timers.
//
// Postcondition: returns true iff the reserve actually changed.
func (m *Machine) GrantReserve(amount int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed || amount <= 0 {
		return false
	}
	return m.ledger.SetReserve(m.ledger.Reserve() + amount)
}

// Halt forces the machine to StateIdle and cancels every pending timer:
// cooldown completion, burst interval, fire confirmation, auto-reload, and
// tracer launch. Called when authority is relinquished.
func (m *Machine) Halt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.haltLocked()
}

// Dispose permanently stops the machine. All timers are cancelled and every
// subsequent call is a no-op.
func (m *Machine) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.haltLocked()
	m.disposed = true
}

func (m *Machine) haltLocked() {
	m.epoch++
	m.timers.CancelAll()
	m.state = StateIdle
	m.held = false
	m.burstRemaining = 0
	m.reloadUntil = time.Time{}
}

// fireShotLocked attempts to accept one shot. initial is true for the shot
// that opens a trigger pull (as opposed to burst/auto continuations); cue
// controls whether an ammo failure plays the out-of-ammo cue.
func (m *Machine) fireShotLocked(initial, cue bool) bool {
	if m.inReloadWindowLocked() || !m.ledger.Consume(m.spec.AmmoPerFire) {
		if cue && m.outOfAmmo != nil {
			m.outOfAmmo()
		}
		return false
	}

	// Ammo is gone as of this instant; hit resolution happens after the
	// confirmation delay and may never complete at all. Each accepted shot
	// owns its confirmation token: rapid shots (burst or auto-fire intervals
	// shorter than the confirmation delay) overlap without displacing each
	// other.
	epoch := m.epoch
	m.timers.ArmEach(m.confirmDelay, func() { m.confirm(epoch) })
	m.scheduleAutoReloadLocked(epoch)

	if initial && m.spec.IsBurst() {
		m.burstRemaining = m.spec.BurstCount - 1
		m.state = StateBurstPending
		m.timers.Arm(timerBurst, m.spec.BurstDelay(), func() { m.burstTick(epoch) })
		return true
	}

	m.state = StateCooldown
	if !initial && m.spec.AutoAttack && m.held {
		m.state = StateAutoFiring
	}
	m.timers.Arm(timerCooldown, m.spec.AttackRate(), func() { m.cooldownDone(epoch) })
	return true
}

// confirm executes hit resolution for one accepted shot after the wind-up
// delay. The resolver runs outside the machine lock; it only touches the
// effect pools and external primitives, which synchronize themselves.
func (m *Machine) confirm(epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch || m.disposed {
		m.mu.Unlock()
		return
	}
	fire := m.fire
	m.mu.Unlock()
	if fire != nil {
		fire()
	}
}

// burstTick fires one scheduled burst follow-up. Ammo is re-checked per shot;
// exhaustion terminates the burst early and silently.
func (m *Machine) burstTick(epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch || m.state != StateBurstPending || m.burstRemaining <= 0 {
		return
	}

	if m.inReloadWindowLocked() || !m.ledger.Consume(m.spec.AmmoPerFire) {
		m.burstRemaining = 0
		m.state = StateCooldown
		m.timers.Arm(timerCooldown, m.spec.AttackRate(), func() { m.cooldownDone(epoch) })
		return
	}

	m.timers.ArmEach(m.confirmDelay, func() { m.confirm(epoch) })
	m.scheduleAutoReloadLocked(epoch)

	m.burstRemaining--
	if m.burstRemaining > 0 {
		m.timers.Arm(timerBurst, m.spec.BurstDelay(), func() { m.burstTick(epoch) })
		return
	}
	m.state = StateCooldown
	m.timers.Arm(timerCooldown, m.spec.AttackRate(), func() { m.cooldownDone(epoch) })
}

// cooldownDone re-arms auto-fire continuation when the trigger is still held,
// otherwise returns to StateIdle.
func (m *Machine) cooldownDone(epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch {
		return
	}
	if m.state != StateCooldown && m.state != StateAutoFiring {
		return
	}
	m.state = StateIdle
	if m.spec.AutoAttack && m.held {
		// Continuation failures (ammo exhaustion) terminate silently.
		m.fireShotLocked(false, false)
	}
}

// scheduleAutoReloadLocked arms the auto-reload timer when the shot that was
// just accepted emptied the clip.
func (m *Machine) scheduleAutoReloadLocked(epoch uint64) {
	if m.ledger.HasUnlimitedAmmo() || !m.spec.AutoReload || m.ledger.Loaded() != 0 {
		return
	}
	m.timers.Arm(timerAutoReload, m.autoReloadDelay, func() { m.autoReloadTick(epoch) })
}

func (m *Machine) autoReloadTick(epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch || m.disposed {
		return
	}
	if m.ledger.Reload() {
		m.reloadUntil = time.Now().Add(m.reloadWindow)
		m.logger.Debug("auto reload complete",
			zap.String("weapon", m.spec.ID),
			zap.Int("loaded", m.ledger.Loaded()),
			zap.Int("reserve", m.ledger.Reserve()),
		)
	}
}

func (m *Machine) inReloadWindowLocked() bool {
	return time.Now().Before(m.reloadUntil)
}
