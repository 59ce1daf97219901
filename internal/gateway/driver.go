package gateway

import (
	"sync"

	"github.com/google/uuid"

	"github.com/cory-johannsen/arsenal/internal/game/weapon"
)

// BroadcastDriver implements weapon.EffectDriver by minting opaque handles
// and publishing every lifecycle transition to the hub's subscribers. The
// server holds no renderer; clients mirror effect instances from these
// frames.
//
// One driver serves one weapon instance: the owner it stamps on frames is
// that weapon's holder, so a hand-off never re-parents another weapon's
// effects.
type BroadcastDriver struct {
	publish func(v any)

	mu    sync.Mutex
	kinds map[weapon.EffectHandle]string
	owner string
}

// NewBroadcastDriver creates a driver that publishes through the given
// function.
//
// Precondition: publish must be non-nil.
func NewBroadcastDriver(publish func(v any)) *BroadcastDriver {
	return &BroadcastDriver{
		publish: publish,
		kinds:   make(map[weapon.EffectHandle]string),
	}
}

// Spawn implements weapon.EffectDriver.
func (d *BroadcastDriver) Spawn(kind string) (weapon.EffectHandle, error) {
	h := weapon.EffectHandle(uuid.NewString())
	d.mu.Lock()
	d.kinds[h] = kind
	owner := d.owner
	d.mu.Unlock()

	d.publish(EffectEvent{Type: EventEffectSpawn, Handle: string(h), Kind: kind, Owner: owner})
	return h, nil
}

// Despawn implements weapon.EffectDriver.
func (d *BroadcastDriver) Despawn(h weapon.EffectHandle) {
	d.mu.Lock()
	kind := d.kinds[h]
	delete(d.kinds, h)
	owner := d.owner
	d.mu.Unlock()

	d.publish(EffectEvent{Type: EventEffectDespawn, Handle: string(h), Kind: kind, Owner: owner})
}

// Stop implements weapon.EffectDriver.
func (d *BroadcastDriver) Stop(h weapon.EffectHandle) {
	d.mu.Lock()
	kind := d.kinds[h]
	owner := d.owner
	d.mu.Unlock()

	d.publish(EffectEvent{Type: EventEffectStop, Handle: string(h), Kind: kind, Owner: owner})
}

// PlayAt implements weapon.EffectDriver.
func (d *BroadcastDriver) PlayAt(h weapon.EffectHandle, at weapon.Vec3) {
	d.mu.Lock()
	kind := d.kinds[h]
	owner := d.owner
	d.mu.Unlock()

	d.publish(EffectEvent{
		Type:   EventEffectPlay,
		Handle: string(h),
		Kind:   kind,
		Owner:  owner,
		Point:  &Vec{X: at.X, Y: at.Y, Z: at.Z},
	})
}

// SetOwner implements weapon.EffectDriver. Subsequent frames carry the new
// owner so clients can re-parent mirrored instances after a hand-off.
func (d *BroadcastDriver) SetOwner(owner string) {
	d.mu.Lock()
	d.owner = owner
	d.mu.Unlock()
}

// Adopt records handles spawned by a predecessor authority's driver under
// kind, so frames for effect groups arriving through a transfer snapshot
// still carry their kind.
func (d *BroadcastDriver) Adopt(kind string, groups []weapon.EffectGroup) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, g := range groups {
		for _, h := range g.Handles {
			d.kinds[h] = kind
		}
	}
}

// Kind returns the recorded effect kind for a live handle.
func (d *BroadcastDriver) Kind(h weapon.EffectHandle) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	kind, ok := d.kinds[h]
	return kind, ok
}
