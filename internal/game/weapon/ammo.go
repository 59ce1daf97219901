package weapon

// AmmoChange describes a single observed counter change.
type AmmoChange struct {
	Current  int
	Previous int
}

// AmmoListener receives notifications when a counter actually changes.
// A mutation that leaves the clamped value unchanged emits nothing.
type AmmoListener interface {
	LoadedChanged(AmmoChange)
	ReserveChanged(AmmoChange)
}

// Ledger owns the loaded and reserve ammo counters for one weapon instance
// and enforces the clamp invariants on every mutation:
//
//	0 <= loaded <= clipSize
//	0 <= reserve <= maxAmmo - loaded
//
// Ledger is not self-synchronizing; the owning Weapon serializes all access.
type Ledger struct {
	clipSize int
	maxAmmo  int
	perFire  int

	loaded   int
	reserve  int
	listener AmmoListener
}

// NewLedger creates a Ledger seeded with the spec's starting counts. The
// starting values pass through the normal clamp path, so an out-of-range
// catalog value cannot violate the invariants.
//
// Precondition: spec must be non-nil and validated. listener may be nil.
func NewLedger(spec *Spec, listener AmmoListener) *Ledger {
	l := &Ledger{
		clipSize: spec.ClipSize,
		maxAmmo:  spec.MaxAmmo,
		perFire:  spec.AmmoPerFire,
		listener: listener,
	}
	l.SetLoaded(spec.StartingAmmo)
	l.SetReserve(spec.StartingReserveAmmo)
	return l
}

// Loaded returns the current loaded round count.
func (l *Ledger) Loaded() int { return l.loaded }

// Reserve returns the current reserve round count.
func (l *Ledger) Reserve() int { return l.reserve }

// HasUnlimitedAmmo reports whether ammo accounting is disabled
// (ammo-per-fire sentinel <= 0).
func (l *Ledger) HasUnlimitedAmmo() bool { return l.perFire <= 0 }

// SetLoaded sets the loaded counter, clamped to [0, clipSize].
//
// Postcondition: returns true iff the clamped value differs from the previous
// value; a listener notification is emitted exactly when true is returned.
func (l *Ledger) SetLoaded(v int) bool {
	clamped := clampInt(v, 0, l.clipSize)
	if clamped == l.loaded {
		return false
	}
	prev := l.loaded
	l.loaded = clamped
	// Shrinking headroom can invalidate reserve; re-clamp it through the
	// same notification path.
	if over := l.maxAmmo - l.loaded; l.reserve > over {
		l.SetReserve(l.reserve)
	}
	if l.listener != nil {
		l.listener.LoadedChanged(AmmoChange{Current: clamped, Previous: prev})
	}
	return true
}

// SetReserve sets the reserve counter, clamped to [0, maxAmmo - loaded].
//
// Postcondition: returns true iff the clamped value differs from the previous
// value; a listener notification is emitted exactly when true is returned.
func (l *Ledger) SetReserve(v int) bool {
	clamped := clampInt(v, 0, l.maxAmmo-l.loaded)
	if clamped == l.reserve {
		return false
	}
	prev := l.reserve
	l.reserve = clamped
	if l.listener != nil {
		l.listener.ReserveChanged(AmmoChange{Current: clamped, Previous: prev})
	}
	return true
}

// Consume removes amount rounds from the loaded counter. With unlimited ammo
// it always succeeds without mutating anything.
//
// Postcondition: returns false and deducts nothing when loaded < amount;
// loaded never goes negative regardless of call sequence.
func (l *Ledger) Consume(amount int) bool {
	if l.HasUnlimitedAmmo() {
		return true
	}
	if amount <= 0 || l.loaded < amount {
		return false
	}
	l.SetLoaded(l.loaded - amount)
	return true
}

// Reload moves min(clipSize - loaded, reserve) rounds from reserve to loaded.
// A transfer smaller than ammo-per-fire is refused: it would leave the weapon
// still unable to fire.
//
// Postcondition: returns true iff rounds moved; loaded + reserve is unchanged
// either way.
func (l *Ledger) Reload() bool {
	if l.HasUnlimitedAmmo() {
		return false
	}
	transfer := l.clipSize - l.loaded
	if l.reserve < transfer {
		transfer = l.reserve
	}
	if transfer <= 0 || transfer < l.perFire {
		return false
	}
	// Order matters: raising loaded first would shrink the reserve ceiling
	// and silently drop rounds, so drain reserve before topping up loaded.
	l.SetReserve(l.reserve - transfer)
	l.SetLoaded(l.loaded + transfer)
	return true
}

// restore installs counters directly from a transfer snapshot, bypassing the
// clamp path. Hand-off is a transport of existing, already-valid state, not a
// fresh mutation. Listener notifications still fire so a successor's UI seeds
// itself from the installed values.
func (l *Ledger) restore(loaded, reserve int) {
	prevLoaded, prevReserve := l.loaded, l.reserve
	l.loaded = loaded
	l.reserve = reserve
	if l.listener == nil {
		return
	}
	if loaded != prevLoaded {
		l.listener.LoadedChanged(AmmoChange{Current: loaded, Previous: prevLoaded})
	}
	if reserve != prevReserve {
		l.listener.ReserveChanged(AmmoChange{Current: reserve, Previous: prevReserve})
	}
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
