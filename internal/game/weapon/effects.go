package weapon

import (
	"fmt"
	"sync"
)

// EffectHandle is an opaque reference to one spawned effect instance. Handles
// are minted by the EffectDriver and mean nothing to the core beyond
// identity.
type EffectHandle string

// EffectGroup is a set of handles triggered together for one shot outcome.
type EffectGroup struct {
	Handles []EffectHandle
}

// EffectDriver is the external spawner collaborator. It owns the actual
// visual/audio instances; the core only decides when and where to trigger,
// stop, or discard them.
type EffectDriver interface {
	// Spawn creates a new effect instance of the given kind and returns its
	// handle. Only the root authority may spawn; see SpawnGroups.
	Spawn(kind string) (EffectHandle, error)
	// Despawn schedules the instance behind h for destruction.
	Despawn(h EffectHandle)
	// Stop resets the instance behind h if it is currently playing.
	Stop(h EffectHandle)
	// PlayAt triggers the instance behind h at a world position.
	PlayAt(h EffectHandle, at Vec3)
	// SetOwner reassigns the driver's owning identity, migrating control of
	// all spawned instances to the new authority.
	SetOwner(identity string)
}

// EffectPool is a round-robin registry of pooled effect groups for one shot
// outcome (impact or miss). Safe for concurrent use.
//
// Invariant: the next index always resolves modulo the group count when the
// pool is non-empty.
type EffectPool struct {
	mu     sync.Mutex
	driver EffectDriver
	groups []EffectGroup
	next   int
}

// NewEffectPool creates a pool over the given groups.
//
// Precondition: driver must be non-nil; groups may be empty.
func NewEffectPool(driver EffectDriver, groups []EffectGroup) *EffectPool {
	return &EffectPool{driver: driver, groups: groups}
}

// NextGroup returns a copy of the next group in round-robin order, advancing
// the index. All handles in the returned group are stopped first, so a
// pooled effect retriggers cleanly even if it was still playing.
//
// Postcondition: returns (zero, false) when the pool is empty.
func (p *EffectPool) NextGroup() (EffectGroup, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.groups) == 0 {
		return EffectGroup{}, false
	}
	g := p.groups[p.next%len(p.groups)]
	p.next = (p.next + 1) % len(p.groups)
	for _, h := range g.Handles {
		p.driver.Stop(h)
	}
	return EffectGroup{Handles: append([]EffectHandle(nil), g.Handles...)}, true
}

// PlayNext triggers the next group at the given position.
func (p *EffectPool) PlayNext(at Vec3) {
	g, ok := p.NextGroup()
	if !ok {
		return
	}
	for _, h := range g.Handles {
		p.driver.PlayAt(h, at)
	}
}

// StopAll stops every handle in every group.
func (p *EffectPool) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, g := range p.groups {
		for _, h := range g.Handles {
			p.driver.Stop(h)
		}
	}
}

// Groups returns a deep copy of the current group membership, suitable for
// embedding in a transfer snapshot.
func (p *EffectPool) Groups() []EffectGroup {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EffectGroup, len(p.groups))
	for i, g := range p.groups {
		out[i] = EffectGroup{Handles: append([]EffectHandle(nil), g.Handles...)}
	}
	return out
}

// SyncGroups installs newGroups as the pool's membership and schedules any
// handle present in the old set but absent from the new one for despawn.
// This is how a successor authority reconciles spawned instances it received
// with whatever it already believed it owned, without leaking handles.
//
// Postcondition: the round-robin index is reset.
func (p *EffectPool) SyncGroups(newGroups []EffectGroup) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fresh := make(map[EffectHandle]bool)
	for _, g := range newGroups {
		for _, h := range g.Handles {
			fresh[h] = true
		}
	}
	for _, g := range p.groups {
		for _, h := range g.Handles {
			if !fresh[h] {
				p.driver.Despawn(h)
			}
		}
	}
	p.groups = newGroups
	p.next = 0
}

// SpawnGroups requests groupCount groups of perGroup fresh instances of kind
// from the driver. Spawning is authority-once: only the identity recognized
// as the root authority may request new instances; a successor authority
// must receive its groups through a transfer snapshot instead, which
// prevents duplicate spawns under concurrent hand-offs.
//
// Precondition: caller must hold root authority (enforced by the Weapon).
func SpawnGroups(driver EffectDriver, kind string, groupCount, perGroup int) ([]EffectGroup, error) {
	groups := make([]EffectGroup, 0, groupCount)
	for i := 0; i < groupCount; i++ {
		g := EffectGroup{Handles: make([]EffectHandle, 0, perGroup)}
		for j := 0; j < perGroup; j++ {
			h, err := driver.Spawn(kind)
			if err != nil {
				return nil, fmt.Errorf("spawning %s effect %d/%d: %w", kind, i, j, err)
			}
			g.Handles = append(g.Handles, h)
		}
		groups = append(groups, g)
	}
	return groups, nil
}
