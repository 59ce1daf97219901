package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/arsenal/internal/game/weapon"
)

func TestTargetIndex_TraceHitsNearestTarget(t *testing.T) {
	idx := NewTargetIndex()
	idx.Upsert("near", weapon.Vec3{Z: 5}, 1)
	idx.Upsert("far", weapon.Vec3{Z: 20}, 1)

	res := idx.Perspective("shooter").Trace(weapon.Vec3{}, weapon.Vec3{Z: 1}, 100)

	require.True(t, res.Hit)
	assert.Equal(t, "near", res.TargetID)
	assert.InDelta(t, 4, res.Distance, 1e-9)
	assert.InDelta(t, 4, res.Point.Z, 1e-9)
}

func TestTargetIndex_TraceIgnoresShooter(t *testing.T) {
	idx := NewTargetIndex()
	idx.Upsert("shooter", weapon.Vec3{Z: 2}, 1)
	idx.Upsert("victim", weapon.Vec3{Z: 10}, 1)

	res := idx.Perspective("shooter").Trace(weapon.Vec3{}, weapon.Vec3{Z: 1}, 100)

	require.True(t, res.Hit)
	assert.Equal(t, "victim", res.TargetID)
}

func TestTargetIndex_TraceMissReportsTerminalPoint(t *testing.T) {
	idx := NewTargetIndex()
	idx.Upsert("aside", weapon.Vec3{X: 50, Z: 5}, 1)

	res := idx.Perspective("shooter").Trace(weapon.Vec3{}, weapon.Vec3{Z: 1}, 40)

	assert.False(t, res.Hit)
	assert.InDelta(t, 40, res.Point.Z, 1e-9)
}

func TestTargetIndex_TraceRespectsRange(t *testing.T) {
	idx := NewTargetIndex()
	idx.Upsert("distant", weapon.Vec3{Z: 60}, 1)

	res := idx.Perspective("shooter").Trace(weapon.Vec3{}, weapon.Vec3{Z: 1}, 40)
	assert.False(t, res.Hit)

	res = idx.Perspective("shooter").Trace(weapon.Vec3{}, weapon.Vec3{Z: 1}, 100)
	assert.True(t, res.Hit)
}

func TestTargetIndex_TraceIgnoresTargetsBehind(t *testing.T) {
	idx := NewTargetIndex()
	idx.Upsert("behind", weapon.Vec3{Z: -10}, 1)

	res := idx.Perspective("shooter").Trace(weapon.Vec3{}, weapon.Vec3{Z: 1}, 100)
	assert.False(t, res.Hit)
}

func TestTargetIndex_RemoveClearsTarget(t *testing.T) {
	idx := NewTargetIndex()
	idx.Upsert("victim", weapon.Vec3{Z: 5}, 1)
	idx.Remove("victim")

	res := idx.Perspective("shooter").Trace(weapon.Vec3{}, weapon.Vec3{Z: 1}, 100)
	assert.False(t, res.Hit)

	_, ok := idx.Position("victim")
	assert.False(t, ok)
}

func TestTargetIndex_TraceFromInsideSphere(t *testing.T) {
	idx := NewTargetIndex()
	idx.Upsert("envelope", weapon.Vec3{Z: 0.2}, 1)

	res := idx.Perspective("shooter").Trace(weapon.Vec3{}, weapon.Vec3{Z: 1}, 100)

	require.True(t, res.Hit)
	assert.Equal(t, "envelope", res.TargetID)
	assert.InDelta(t, 1.2, res.Distance, 1e-9)
}
