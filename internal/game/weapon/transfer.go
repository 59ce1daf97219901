package weapon

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// AuthorityUnowned is the sentinel holder identity: no one may mutate the
// weapon while it is in effect.
const AuthorityUnowned = ""

// ErrSnapshotDigest is returned when a transfer snapshot fails integrity
// verification.
var ErrSnapshotDigest = errors.New("weapon: snapshot digest mismatch")

// errInvalidTransferKey is returned by New when the hand-off key is missing
// or longer than BLAKE2b permits.
var errInvalidTransferKey = errors.New("weapon: transfer key must be 1-64 bytes")

// Snapshot carries a weapon's transferable state across an authority
// hand-off. The counters inside are assumed already valid: they were clamped
// when first written, and hand-off transports them without re-clamping.
type Snapshot struct {
	WeaponID     string        `json:"weapon_id"`
	Loaded       int           `json:"loaded"`
	Reserve      int           `json:"reserve"`
	ImpactGroups []EffectGroup `json:"impact_groups"`
	MissGroups   []EffectGroup `json:"miss_groups"`
	Digest       []byte        `json:"digest"`
}

// TransferCoordinator snapshots ledger and effect-pool state when authority
// is handed off, and rehydrates it on the receiving side. Snapshots carry a
// keyed BLAKE2b digest so a successor can reject payloads corrupted or
// tampered with in transit.
type TransferCoordinator struct {
	key      []byte
	weaponID string
	ledger   *Ledger
	machine  *Machine
	resolver *HitResolver
	impact   *EffectPool
	miss     *EffectPool
	driver   EffectDriver
}

// NewTransferCoordinator wires a coordinator for one weapon instance.
//
// Precondition: all components must be non-nil; key must be the hand-off key
// shared by every party that exchanges snapshots for this weapon.
func NewTransferCoordinator(
	key []byte,
	weaponID string,
	ledger *Ledger,
	machine *Machine,
	resolver *HitResolver,
	impact, miss *EffectPool,
	driver EffectDriver,
) *TransferCoordinator {
	return &TransferCoordinator{
		key:      key,
		weaponID: weaponID,
		ledger:   ledger,
		machine:  machine,
		resolver: resolver,
		impact:   impact,
		miss:     miss,
		driver:   driver,
	}
}

// TransferOut prepares the weapon for a new authority: every pending timer
// is cancelled and the machine forced idle, all pooled effects are stopped,
// the spawner's owning identity is reassigned, and the transferable state is
// returned as a sealed snapshot.
//
// Postcondition: no timer scheduled before the call can fire afterwards.
func (c *TransferCoordinator) TransferOut(newAuthority string) Snapshot {
	c.machine.Halt()
	c.resolver.Cancel()
	c.impact.StopAll()
	c.miss.StopAll()
	c.driver.SetOwner(newAuthority)

	s := Snapshot{
		WeaponID:     c.weaponID,
		Loaded:       c.ledger.Loaded(),
		Reserve:      c.ledger.Reserve(),
		ImpactGroups: c.impact.Groups(),
		MissGroups:   c.miss.Groups(),
	}
	s.Digest = c.digest(s)
	return s
}

// TransferIn installs a snapshot on the receiving side: counters go in
// directly (transport of already-valid state, not a fresh mutation) and the
// effect groups replace the pools' membership, despawning anything stale.
//
// Postcondition: returns ErrSnapshotDigest and changes nothing when the
// snapshot fails verification.
func (c *TransferCoordinator) TransferIn(s Snapshot) error {
	if err := c.Verify(s); err != nil {
		return err
	}
	c.ledger.restore(s.Loaded, s.Reserve)
	c.impact.SyncGroups(s.ImpactGroups)
	c.miss.SyncGroups(s.MissGroups)
	return nil
}

// Verify checks a snapshot's digest without installing it.
func (c *TransferCoordinator) Verify(s Snapshot) error {
	if subtle.ConstantTimeCompare(c.digest(s), s.Digest) != 1 {
		return ErrSnapshotDigest
	}
	return nil
}

// digest computes the keyed BLAKE2b-256 digest over the snapshot's canonical
// byte encoding. The Digest field itself is excluded.
func (c *TransferCoordinator) digest(s Snapshot) []byte {
	h, err := blake2b.New256(c.key)
	if err != nil {
		// Only reachable with a key longer than 64 bytes, which the config
		// layer rejects.
		panic(fmt.Sprintf("weapon: building snapshot digest: %v", err))
	}
	var buf [8]byte
	h.Write([]byte(s.WeaponID))
	h.Write([]byte{0})
	binary.LittleEndian.PutUint64(buf[:], uint64(int64(s.Loaded)))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(int64(s.Reserve)))
	h.Write(buf[:])
	for _, groups := range [][]EffectGroup{s.ImpactGroups, s.MissGroups} {
		binary.LittleEndian.PutUint64(buf[:], uint64(len(groups)))
		h.Write(buf[:])
		for _, g := range groups {
			binary.LittleEndian.PutUint64(buf[:], uint64(len(g.Handles)))
			h.Write(buf[:])
			for _, handle := range g.Handles {
				h.Write([]byte(handle))
				h.Write([]byte{0})
			}
		}
	}
	return h.Sum(nil)
}
