package weapon

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeDriver records driver calls for effect assertions.
type fakeDriver struct {
	mu        sync.Mutex
	spawned   int
	stopped   []EffectHandle
	despawned []EffectHandle
	played    map[EffectHandle][]Vec3
	owner     string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{played: make(map[EffectHandle][]Vec3)}
}

func (d *fakeDriver) Spawn(kind string) (EffectHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spawned++
	return EffectHandle(kind + "-" + string(rune('a'+d.spawned))), nil
}

func (d *fakeDriver) Despawn(h EffectHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.despawned = append(d.despawned, h)
}

func (d *fakeDriver) Stop(h EffectHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = append(d.stopped, h)
}

func (d *fakeDriver) PlayAt(h EffectHandle, at Vec3) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.played[h] = append(d.played[h], at)
}

func (d *fakeDriver) SetOwner(identity string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.owner = identity
}

func (d *fakeDriver) playCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, plays := range d.played {
		n += len(plays)
	}
	return n
}

// fakeTrace returns a canned result and records the trace inputs.
type fakeTrace struct {
	mu     sync.Mutex
	result TraceResult
	origin Vec3
	dir    Vec3
	rng    float64
	calls  int
}

func (f *fakeTrace) Trace(origin, dir Vec3, maxRange float64) TraceResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.origin, f.dir, f.rng = origin, dir, maxRange
	f.calls++
	return f.result
}

func (f *fakeTrace) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeLaunch records orientation and completes via an explicit callback.
type fakeLaunch struct {
	mu       sync.Mutex
	oriented []Vec3
	aimedAt  []Vec3
	launches int
	done     func(LaunchResult)
}

func (f *fakeLaunch) Orient(dir Vec3) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.oriented = append(f.oriented, dir)
}

func (f *fakeLaunch) AimAt(p Vec3) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aimedAt = append(f.aimedAt, p)
}

func (f *fakeLaunch) Launch(travel time.Duration, done func(LaunchResult)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launches++
	f.done = done
}

func (f *fakeLaunch) launchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.launches
}

func (f *fakeLaunch) complete(res LaunchResult) {
	f.mu.Lock()
	done := f.done
	f.mu.Unlock()
	done(res)
}

// fakeSink records dispatched damage events.
type fakeSink struct {
	mu     sync.Mutex
	events []DamageEvent
	target []string
}

func (s *fakeSink) Dispatch(targetID string, ev DamageEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = append(s.target, targetID)
	s.events = append(s.events, ev)
}

// constSource yields a fixed sequence of uniform draws.
type constSource struct {
	vals []float64
	i    int
}

func (s *constSource) Float64() float64 {
	v := s.vals[s.i%len(s.vals)]
	s.i++
	return v
}

func resolverSpec() *Spec {
	return &Spec{
		ID:              "hs-rifle",
		Name:            "Hitscan Rifle",
		Damage:          25,
		Range:           100,
		SprayAngleDeg:   0,
		ProjectileSpeed: 200,
		AmmoPerFire:     1,
		ClipSize:        10,
		MaxAmmo:         30,
	}
}

func staticPose() func() Pose {
	return func() Pose {
		return Pose{
			Muzzle:  Vec3{0, 1.5, 0},
			Forward: Vec3{0, 0, 1},
			Up:      Vec3{0, 1, 0},
			Right:   Vec3{1, 0, 0},
		}
	}
}

func poolsFor(d *fakeDriver) (*EffectPool, *EffectPool) {
	impact := NewEffectPool(d, []EffectGroup{{Handles: []EffectHandle{"imp-1"}}, {Handles: []EffectHandle{"imp-2"}}})
	miss := NewEffectPool(d, []EffectGroup{{Handles: []EffectHandle{"miss-1"}}})
	return impact, miss
}

func newHitscanResolver(trace TracePrimitive, launch LaunchPrimitive, sink DamageSink, src floatSource, d *fakeDriver) *HitResolver {
	impact, miss := poolsFor(d)
	return NewHitResolver(
		resolverSpec(), trace, launch, nil, staticPose(), src,
		sink, nil, func() string { return "holder-1" }, impact, miss, zap.NewNop(),
	)
}

// TestHitResolver_ZeroSpray_UsesBaseDirectionExactly checks that a
// zero-width cone injects no randomness and the trace direction equals the
// weapon's forward axis bit for bit.
func TestHitResolver_ZeroSpray_UsesBaseDirectionExactly(t *testing.T) {
	trace := &fakeTrace{result: TraceResult{Hit: false}}
	r := newHitscanResolver(trace, nil, nil, nil, newFakeDriver())

	r.Resolve()

	require.Equal(t, 1, trace.calls)
	assert.Equal(t, Vec3{0, 0, 1}, trace.dir)
	assert.Equal(t, Vec3{0, 1.5, 0}, trace.origin)
	assert.Equal(t, 100.0, trace.rng)
}

// TestHitResolver_Spray_PerturbsWithinCone verifies the perturbed direction
// stays unit length and within the configured angular bound of the base.
func TestHitResolver_Spray_PerturbsWithinCone(t *testing.T) {
	spec := resolverSpec()
	spec.SprayAngleDeg = 10
	trace := &fakeTrace{result: TraceResult{Hit: false}}
	d := newFakeDriver()
	impact, miss := poolsFor(d)
	src := &constSource{vals: []float64{0.9, 0.2}}
	r := NewHitResolver(spec, trace, nil, nil, staticPose(), src,
		nil, nil, func() string { return "holder-1" }, impact, miss, zap.NewNop())

	r.Resolve()

	dir := trace.dir
	assert.InDelta(t, 1.0, dir.Length(), 1e-9)
	cos := dir.Dot(Vec3{0, 0, 1})
	maxOff := 2 * 10 * math.Pi / 180 // both axes at full deflection
	assert.Greater(t, cos, math.Cos(maxOff))
	assert.NotEqual(t, Vec3{0, 0, 1}, dir)
}

// TestHitResolver_HitscanHit_PlaysImpactAndDispatchesDamage verifies the hit
// path: impact group at the hit point, one damage event to the struck id.
func TestHitResolver_HitscanHit_PlaysImpactAndDispatchesDamage(t *testing.T) {
	hit := Vec3{0, 1.5, 42}
	trace := &fakeTrace{result: TraceResult{Hit: true, Point: hit, TargetID: "victim-7", Distance: 42}}
	sink := &fakeSink{}
	d := newFakeDriver()
	r := newHitscanResolver(trace, nil, sink, nil, d)

	r.Resolve()

	require.Len(t, sink.events, 1)
	assert.Equal(t, "victim-7", sink.target[0])
	assert.Equal(t, 25, sink.events[0].Damage)
	assert.Equal(t, "holder-1", sink.events[0].SourceID)
	assert.Equal(t, []Vec3{hit}, sink.events[0].HitLocations)
	assert.Equal(t, []Vec3{hit}, d.played["imp-1"])
}

// TestHitResolver_HitscanMiss_PlaysMissAtTerminalPoint verifies the miss
// path plays the miss group at the trace's terminal point.
func TestHitResolver_HitscanMiss_PlaysMissAtTerminalPoint(t *testing.T) {
	trace := &fakeTrace{result: TraceResult{Hit: false}}
	sink := &fakeSink{}
	d := newFakeDriver()
	r := newHitscanResolver(trace, nil, sink, nil, d)

	r.Resolve()

	assert.Empty(t, sink.events)
	require.Len(t, d.played["miss-1"], 1)
	assert.Equal(t, Vec3{0, 1.5, 100}, d.played["miss-1"][0], "muzzle + forward*range")
}

// TestHitResolver_HitscanWithTracer_AimsThenLaunches verifies the secondary
// launch primitive visualizes the hitscan: aimed at the hit point, launched
// after the single-frame delay, and never dispatching damage itself.
func TestHitResolver_HitscanWithTracer_AimsThenLaunches(t *testing.T) {
	hit := Vec3{0, 1.5, 30}
	trace := &fakeTrace{result: TraceResult{Hit: true, Point: hit, TargetID: "victim-2", Distance: 30}}
	launch := &fakeLaunch{}
	sink := &fakeSink{}
	r := newHitscanResolver(trace, launch, sink, nil, newFakeDriver())

	r.Resolve()
	assert.Equal(t, []Vec3{hit}, launch.aimedAt)
	assert.Equal(t, 0, launch.launchCount(), "launch waits one frame for the rotation")

	require.Eventually(t, func() bool { return launch.launchCount() == 1 },
		time.Second, time.Millisecond)
	assert.Len(t, sink.events, 1, "hitscan remains authoritative for damage")
}

// TestHitResolver_Tracer_BackToBackShotsEachLaunch verifies that two shots
// resolved within one frame delay of each other both get their tracer: the
// second pending launch must not displace the first.
func TestHitResolver_Tracer_BackToBackShotsEachLaunch(t *testing.T) {
	hit := Vec3{0, 1.5, 30}
	trace := &fakeTrace{result: TraceResult{Hit: true, Point: hit, TargetID: "victim-2", Distance: 30}}
	launch := &fakeLaunch{}
	r := newHitscanResolver(trace, launch, &fakeSink{}, nil, newFakeDriver())

	r.Resolve()
	r.Resolve()

	require.Eventually(t, func() bool { return launch.launchCount() == 2 },
		time.Second, time.Millisecond)
}

// TestHitResolver_ProjectileOnly_DispatchesOnHitPlayer verifies the
// asynchronous projectile path end to end.
func TestHitResolver_ProjectileOnly_DispatchesOnHitPlayer(t *testing.T) {
	launch := &fakeLaunch{}
	sink := &fakeSink{}
	d := newFakeDriver()
	impact, miss := poolsFor(d)
	r := NewHitResolver(resolverSpec(), nil, launch, nil, staticPose(), nil,
		sink, nil, func() string { return "holder-1" }, impact, miss, zap.NewNop())

	r.Resolve()
	require.Equal(t, 1, launch.launchCount())
	assert.Equal(t, []Vec3{{0, 0, 1}}, launch.oriented)
	assert.Empty(t, sink.events, "outcome has not arrived yet")

	point := Vec3{3, 0, 60}
	launch.complete(LaunchResult{Outcome: LaunchHitPlayer, Point: point, TargetID: "victim-9"})

	require.Len(t, sink.events, 1)
	assert.Equal(t, "victim-9", sink.target[0])
	assert.Equal(t, []Vec3{point}, d.played["imp-1"])
}

// TestHitResolver_ProjectileOnly_WorldAndMissOutcomes verifies hit-world
// plays impact without damage and miss plays the miss group.
func TestHitResolver_ProjectileOnly_WorldAndMissOutcomes(t *testing.T) {
	launch := &fakeLaunch{}
	sink := &fakeSink{}
	d := newFakeDriver()
	impact, miss := poolsFor(d)
	r := NewHitResolver(resolverSpec(), nil, launch, nil, staticPose(), nil,
		sink, nil, func() string { return "holder-1" }, impact, miss, zap.NewNop())

	r.Resolve()
	launch.complete(LaunchResult{Outcome: LaunchHitWorld, Point: Vec3{1, 0, 9}})
	assert.Empty(t, sink.events)
	assert.Len(t, d.played["imp-1"], 1)

	r.Resolve()
	launch.complete(LaunchResult{Outcome: LaunchMiss, Point: Vec3{0, 0, 100}})
	assert.Empty(t, sink.events)
	assert.Len(t, d.played["miss-1"], 1)
}

// TestHitResolver_DamageHook_RewritesOutgoingDamage verifies the scripted
// modifier path.
func TestHitResolver_DamageHook_RewritesOutgoingDamage(t *testing.T) {
	trace := &fakeTrace{result: TraceResult{Hit: true, Point: Vec3{0, 0, 5}, TargetID: "victim-1", Distance: 5}}
	sink := &fakeSink{}
	d := newFakeDriver()
	impact, miss := poolsFor(d)
	hook := func(damage int, targetID string) int { return damage * 2 }
	r := NewHitResolver(resolverSpec(), trace, nil, nil, staticPose(), nil,
		sink, hook, func() string { return "holder-1" }, impact, miss, zap.NewNop())

	r.Resolve()

	require.Len(t, sink.events, 1)
	assert.Equal(t, 50, sink.events[0].Damage)
}

// TestHitResolver_Viewpoint_RecentersOrigin verifies the camera-ray
// reprojection: the trace starts on the camera ray at the point nearest the
// muzzle and follows the camera direction.
func TestHitResolver_Viewpoint_RecentersOrigin(t *testing.T) {
	trace := &fakeTrace{result: TraceResult{Hit: false}}
	d := newFakeDriver()
	impact, miss := poolsFor(d)
	view := viewpointFunc(func() (Vec3, Vec3) {
		return Vec3{0, 2, -3}, Vec3{0, 0, 1}
	})
	r := NewHitResolver(resolverSpec(), trace, nil, view, staticPose(), nil,
		nil, nil, func() string { return "holder-1" }, impact, miss, zap.NewNop())

	r.Resolve()

	// Muzzle z=0 projects to t=3 along the camera ray from z=-3.
	assert.Equal(t, Vec3{0, 2, 0}, trace.origin)
	assert.Equal(t, Vec3{0, 0, 1}, trace.dir)
}

// viewpointFunc adapts a closure to the Viewpoint interface.
type viewpointFunc func() (Vec3, Vec3)

func (f viewpointFunc) Ray() (Vec3, Vec3) { return f() }

// TestHitResolver_NoPrimitives_IsInert verifies the configuration-error
// path: resolution proceeds with no gameplay effect and no panic.
func TestHitResolver_NoPrimitives_IsInert(t *testing.T) {
	sink := &fakeSink{}
	d := newFakeDriver()
	impact, miss := poolsFor(d)
	r := NewHitResolver(resolverSpec(), nil, nil, nil, staticPose(), nil,
		sink, nil, func() string { return "holder-1" }, impact, miss, zap.NewNop())

	r.Resolve()
	r.Resolve()

	assert.Empty(t, sink.events)
	assert.Equal(t, 0, d.playCount())
}
