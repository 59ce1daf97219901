package session

import (
	"encoding/json"

	"github.com/cory-johannsen/arsenal/internal/game/weapon"
)

// Event type identifiers pushed to a holder's bridge entity.
const (
	EventAmmoLoaded  = "ammo_loaded"
	EventAmmoReserve = "ammo_reserve"
	EventOutOfAmmo   = "out_of_ammo"
)

// AmmoEvent is the wire payload for an ammo counter change.
type AmmoEvent struct {
	Type       string `json:"type"`
	InstanceID string `json:"instance_id"`
	Current    int    `json:"current"`
	Previous   int    `json:"previous"`
}

// CueEvent is the wire payload for a one-shot cue such as out-of-ammo.
type CueEvent struct {
	Type       string `json:"type"`
	InstanceID string `json:"instance_id"`
}

// AmmoBridge forwards a weapon's ammo notifications to a holder's event
// channel as JSON frames. A full or closed entity drops the frame; counters
// are state, and the next change carries the fresh values.
type AmmoBridge struct {
	entity     *BridgeEntity
	instanceID string
}

// NewAmmoBridge creates an AmmoBridge for one weapon instance.
//
// Precondition: entity must be non-nil; instanceID must be non-empty.
func NewAmmoBridge(entity *BridgeEntity, instanceID string) *AmmoBridge {
	return &AmmoBridge{entity: entity, instanceID: instanceID}
}

// LoadedChanged implements weapon.AmmoListener.
func (b *AmmoBridge) LoadedChanged(c weapon.AmmoChange) {
	b.push(EventAmmoLoaded, c)
}

// ReserveChanged implements weapon.AmmoListener.
func (b *AmmoBridge) ReserveChanged(c weapon.AmmoChange) {
	b.push(EventAmmoReserve, c)
}

// OutOfAmmo returns a cue callback suitable for weapon.Options.OutOfAmmo.
func (b *AmmoBridge) OutOfAmmo() func() {
	return func() {
		data, err := json.Marshal(CueEvent{Type: EventOutOfAmmo, InstanceID: b.instanceID})
		if err != nil {
			return
		}
		_ = b.entity.Push(data)
	}
}

func (b *AmmoBridge) push(eventType string, c weapon.AmmoChange) {
	data, err := json.Marshal(AmmoEvent{
		Type:       eventType,
		InstanceID: b.instanceID,
		Current:    c.Current,
		Previous:   c.Previous,
	})
	if err != nil {
		return
	}
	_ = b.entity.Push(data)
}
