package weapon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

var testTransferKey = []byte("transfer-test-key")

type transferRig struct {
	coordinator *TransferCoordinator
	ledger      *Ledger
	machine     *Machine
	impact      *EffectPool
	miss        *EffectPool
	driver      *fakeDriver
	trace       *fakeTrace
}

func newTransferRig(spec *Spec) *transferRig {
	d := newFakeDriver()
	impact := NewEffectPool(d, []EffectGroup{
		{Handles: []EffectHandle{"imp-1"}},
		{Handles: []EffectHandle{"imp-2"}},
	})
	miss := NewEffectPool(d, []EffectGroup{{Handles: []EffectHandle{"miss-1"}}})
	trace := &fakeTrace{}
	ledger := NewLedger(spec, nil)
	resolver := NewHitResolver(spec, trace, nil, nil, staticPose(), nil,
		nil, nil, func() string { return "holder-1" }, impact, miss, zap.NewNop())
	machine := NewMachine(spec, ledger, resolver.Resolve, nil, zap.NewNop())
	machine.confirmDelay = 5 * time.Millisecond
	return &transferRig{
		coordinator: NewTransferCoordinator(testTransferKey, spec.ID, ledger, machine, resolver, impact, miss, d),
		ledger:      ledger,
		machine:     machine,
		impact:      impact,
		miss:        miss,
		driver:      d,
		trace:       trace,
	}
}

// TestTransfer_RoundTripReproducesState verifies the round-trip property: a
// snapshot taken by one side and installed by another reproduces identical
// loaded, reserve, and effect-group membership.
func TestTransfer_RoundTripReproducesState(t *testing.T) {
	spec := machineSpec()
	out := newTransferRig(spec)
	out.ledger.Consume(3)

	snap := out.coordinator.TransferOut("holder-2")
	assert.Equal(t, "holder-2", out.driver.owner)

	in := newTransferRig(spec)
	in.ledger.restore(0, 0)
	require.NoError(t, in.coordinator.TransferIn(snap))

	assert.Equal(t, 7, in.ledger.Loaded())
	assert.Equal(t, 20, in.ledger.Reserve())
	assert.Equal(t, snap.ImpactGroups, in.impact.Groups())
	assert.Equal(t, snap.MissGroups, in.miss.Groups())
}

// TestTransfer_TamperedSnapshotRejected verifies every field participates in
// the digest: any mutation after sealing fails verification and changes
// nothing on the receiving side.
func TestTransfer_TamperedSnapshotRejected(t *testing.T) {
	spec := machineSpec()
	snap := newTransferRig(spec).coordinator.TransferOut("holder-2")

	mutations := map[string]func(*Snapshot){
		"loaded":  func(s *Snapshot) { s.Loaded++ },
		"reserve": func(s *Snapshot) { s.Reserve += 100 },
		"weapon":  func(s *Snapshot) { s.WeaponID = "other" },
		"groups":  func(s *Snapshot) { s.ImpactGroups[0].Handles[0] = "forged" },
		"digest":  func(s *Snapshot) { s.Digest[0] ^= 0xff },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			in := newTransferRig(spec)
			forged := Snapshot{
				WeaponID: snap.WeaponID,
				Loaded:   snap.Loaded,
				Reserve:  snap.Reserve,
				ImpactGroups: []EffectGroup{
					{Handles: append([]EffectHandle(nil), snap.ImpactGroups[0].Handles...)},
					{Handles: append([]EffectHandle(nil), snap.ImpactGroups[1].Handles...)},
				},
				MissGroups: []EffectGroup{
					{Handles: append([]EffectHandle(nil), snap.MissGroups[0].Handles...)},
				},
				Digest: append([]byte(nil), snap.Digest...),
			}
			mutate(&forged)

			loadedBefore := in.ledger.Loaded()
			err := in.coordinator.TransferIn(forged)
			require.ErrorIs(t, err, ErrSnapshotDigest)
			assert.Equal(t, loadedBefore, in.ledger.Loaded())
			assert.Empty(t, in.driver.despawned)
		})
	}
}

// TestTransfer_WrongKeyRejected verifies two sides must share the hand-off
// key.
func TestTransfer_WrongKeyRejected(t *testing.T) {
	spec := machineSpec()
	snap := newTransferRig(spec).coordinator.TransferOut("holder-2")

	in := newTransferRig(spec)
	in.coordinator.key = []byte("some-other-key")
	assert.ErrorIs(t, in.coordinator.TransferIn(snap), ErrSnapshotDigest)
}

// TestTransfer_MidCooldownCancelsPendingTimers checks that a hand-off
// while a shot's cooldown and confirmation are pending leaves no timer alive,
// the successor starts idle with the snapshot counters, and no duplicate shot
// fires.
func TestTransfer_MidCooldownCancelsPendingTimers(t *testing.T) {
	spec := machineSpec()
	spec.AttackRateMs = 200
	out := newTransferRig(spec)

	require.True(t, out.machine.Trigger())
	require.Equal(t, StateCooldown, out.machine.State())

	snap := out.coordinator.TransferOut("holder-2")
	assert.Equal(t, StateIdle, out.machine.State())
	assert.Equal(t, 9, snap.Loaded)

	in := newTransferRig(spec)
	require.NoError(t, in.coordinator.TransferIn(snap))
	assert.Equal(t, StateIdle, in.machine.State())
	assert.Equal(t, 9, in.ledger.Loaded())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, out.trace.callCount(), "cancelled confirmation must not resolve")
	loaded, _ := out.machine.Ammo()
	assert.Equal(t, 9, loaded, "no stale timer consumed ammo after hand-off")
}

// TestTransfer_SnapshotStopsPlayingEffects verifies every pooled handle is
// stopped on the way out.
func TestTransfer_SnapshotStopsPlayingEffects(t *testing.T) {
	out := newTransferRig(machineSpec())
	out.coordinator.TransferOut("holder-2")

	assert.ElementsMatch(t,
		[]EffectHandle{"imp-1", "imp-2", "miss-1"}, out.driver.stopped)
}

// TestProperty_Transfer_RoundTrip holds the round-trip property over
// arbitrary in-range counters.
func TestProperty_Transfer_RoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		spec := machineSpec()
		out := newTransferRig(spec)
		loaded := rapid.IntRange(0, spec.ClipSize).Draw(rt, "loaded")
		reserve := rapid.IntRange(0, spec.MaxAmmo-loaded).Draw(rt, "reserve")
		out.ledger.restore(loaded, reserve)

		snap := out.coordinator.TransferOut("holder-2")
		in := newTransferRig(spec)
		if err := in.coordinator.TransferIn(snap); err != nil {
			rt.Fatalf("transfer in: %v", err)
		}
		if in.ledger.Loaded() != loaded || in.ledger.Reserve() != reserve {
			rt.Fatalf("counters diverged: want %d/%d got %d/%d",
				loaded, reserve, in.ledger.Loaded(), in.ledger.Reserve())
		}
	})
}
