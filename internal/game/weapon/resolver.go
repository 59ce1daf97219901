package weapon

import (
	"time"

	"go.uber.org/zap"
)

// TraceResult is the outcome of one instantaneous line trace.
type TraceResult struct {
	Hit      bool
	Point    Vec3
	TargetID string
	Distance float64
}

// TracePrimitive is the external hitscan collaborator: it traces a ray and
// reports what it struck. The core never interprets geometry itself.
type TracePrimitive interface {
	Trace(origin, dir Vec3, maxRange float64) TraceResult
}

// LaunchOutcome classifies how a simulated projectile terminated.
type LaunchOutcome int

const (
	LaunchHitPlayer LaunchOutcome = iota
	LaunchHitWorld
	LaunchMiss
)

// LaunchResult is delivered asynchronously when a projectile terminates.
type LaunchResult struct {
	Outcome  LaunchOutcome
	Point    Vec3
	TargetID string
}

// LaunchPrimitive is the external projectile collaborator.
type LaunchPrimitive interface {
	// Orient points the projectile along dir before launch.
	Orient(dir Vec3)
	// AimAt rotates the projectile to face a world point.
	AimAt(point Vec3)
	// Launch fires the projectile with the given travel duration. done is
	// invoked at most once when the projectile terminates; it may never be
	// invoked if the projectile is destroyed externally.
	Launch(travel time.Duration, done func(LaunchResult))
}

// Viewpoint is the optional camera collaborator used to center hitscan aim.
type Viewpoint interface {
	// Ray returns the current camera origin and unit direction.
	Ray() (origin, dir Vec3)
}

// Pose is the weapon's world transform at fire time.
type Pose struct {
	Muzzle  Vec3
	Forward Vec3
	Up      Vec3
	Right   Vec3
}

// DamageEvent is the single message dispatched to a struck identity. The
// core does not interpret or retry it; delivery is the sink's concern.
type DamageEvent struct {
	Damage       int
	SourceID     string
	HitLocations []Vec3
}

// DamageSink delivers damage events to struck identities.
type DamageSink interface {
	Dispatch(targetID string, ev DamageEvent)
}

// DamageHook optionally rewrites outgoing damage, e.g. a scripted modifier.
// It receives the base damage and the struck identity and returns the damage
// to dispatch.
type DamageHook func(damage int, targetID string) int

// tracerDelay approximates a single frame: enough for an AimAt rotation to
// take effect before the visual tracer launches.
const tracerDelay = 17 * time.Millisecond

// HitResolver computes fire direction with random spray, selects the hitscan
// or projectile path, and turns a primitive's result into a hit-or-miss
// outcome plus damage dispatch.
//
// The two modes are mutually exclusive and selected at construction by which
// primitive is present; the trace primitive takes precedence when both are
// configured, and in that case the launch primitive only visualizes the shot
// (hitscan stays authoritative for damage, so nothing is ever hit twice).
type HitResolver struct {
	spec   *Spec
	trace  TracePrimitive
	launch LaunchPrimitive
	view   Viewpoint
	pose   func() Pose
	src    floatSource
	damage DamageSink
	hook   DamageHook
	source func() string
	impact *EffectPool
	miss   *EffectPool
	timers *timerSet
	logger *zap.Logger
	inert  bool
}

// floatSource matches rng.Source without importing it; a local interface
// keeps the core decoupled the same way the combat resolver treats its dice.
type floatSource interface {
	Float64() float64
}

// NewHitResolver wires a resolver for one weapon instance.
//
// trace and launch may each be nil. When both are nil the weapon is
// misconfigured: this is logged once here, and every subsequent resolution
// proceeds inert with no gameplay effect rather than failing.
//
// Precondition: spec, pose, src, impact, miss, and logger must be non-nil.
// view, damage, and hook may be nil; source must return the identity to
// attribute damage to.
func NewHitResolver(
	spec *Spec,
	trace TracePrimitive,
	launch LaunchPrimitive,
	view Viewpoint,
	pose func() Pose,
	src floatSource,
	damage DamageSink,
	hook DamageHook,
	source func() string,
	impact, miss *EffectPool,
	logger *zap.Logger,
) *HitResolver {
	r := &HitResolver{
		spec:   spec,
		trace:  trace,
		launch: launch,
		view:   view,
		pose:   pose,
		src:    src,
		damage: damage,
		hook:   hook,
		source: source,
		impact: impact,
		miss:   miss,
		timers: newTimerSet(),
		logger: logger,
	}
	if trace == nil && launch == nil {
		r.inert = true
		logger.Error("no hit-detection primitive configured; shots will have no effect",
			zap.String("weapon", spec.ID),
		)
	}
	return r
}

// Resolve executes hit detection for one accepted shot.
func (r *HitResolver) Resolve() {
	if r.inert {
		return
	}
	if r.trace != nil {
		r.resolveHitscan()
		return
	}
	r.resolveProjectile()
}

// Cancel stops any pending tracer launch. Called on authority loss and
// disposal.
func (r *HitResolver) Cancel() {
	r.timers.CancelAll()
}

// resolveHitscan traces instantly from the computed origin. When a viewpoint
// is available the trace starts on the camera ray at the point nearest the
// muzzle, keeping aim visually centered; otherwise it starts at the muzzle
// along the weapon's forward axis.
func (r *HitResolver) resolveHitscan() {
	pose := r.pose()
	origin := pose.Muzzle
	base := pose.Forward
	if r.view != nil {
		camOrigin, camDir := r.view.Ray()
		if t := pose.Muzzle.Sub(camOrigin).Dot(camDir); t > 0 {
			origin = camOrigin.Add(camDir.Scale(t))
			base = camDir
		}
	}
	dir := r.sprayDirection(base, pose.Up, pose.Right)

	res := r.trace.Trace(origin, dir, r.spec.Range)
	if res.Hit {
		r.impact.PlayNext(res.Point)
		r.dispatchDamage(res.TargetID, res.Point)
		r.launchTracer(origin, res.Point, res.Distance)
		return
	}

	end := res.Point
	if end.IsZero() {
		end = origin.Add(dir.Scale(r.spec.Range))
	}
	r.miss.PlayNext(end)
	r.launchTracer(origin, end, 0)
}

// launchTracer visualizes a hitscan shot as a travelling projectile when a
// secondary launch primitive is configured. The launch waits one frame so
// the AimAt rotation takes effect first.
func (r *HitResolver) launchTracer(origin, target Vec3, distance float64) {
	if r.launch == nil {
		return
	}
	if distance <= 0 {
		distance = target.Sub(origin).Length()
	}
	r.launch.AimAt(target)
	travel := travelTime(distance, r.spec.ProjectileSpeed)
	// Per-shot token: shots closer together than the frame delay each still
	// get their tracer.
	r.timers.ArmEach(tracerDelay, func() {
		// Purely visual; the hitscan already resolved damage.
		r.launch.Launch(travel, func(LaunchResult) {})
	})
}

// resolveProjectile applies the spray cone to the launch orientation and
// fires. The outcome arrives later through one of three terminal callbacks;
// the firing machine does not wait on it.
func (r *HitResolver) resolveProjectile() {
	pose := r.pose()
	dir := r.sprayDirection(pose.Forward, pose.Up, pose.Right)
	r.launch.Orient(dir)
	r.launch.Launch(travelTime(r.spec.Range, r.spec.ProjectileSpeed), r.projectileDone)
}

func (r *HitResolver) projectileDone(res LaunchResult) {
	switch res.Outcome {
	case LaunchHitPlayer:
		r.impact.PlayNext(res.Point)
		// With a trace primitive also active, hitscan is authoritative for
		// damage; this callback must not double-hit.
		if r.trace == nil {
			r.dispatchDamage(res.TargetID, res.Point)
		}
	case LaunchHitWorld:
		r.impact.PlayNext(res.Point)
	case LaunchMiss:
		r.miss.PlayNext(res.Point)
	}
}

// sprayDirection perturbs base by independent uniform samples in
// [-sprayAngle, +sprayAngle]: x about the up axis, then y about the right
// axis. A zero-width cone returns base exactly, with no randomness drawn.
func (r *HitResolver) sprayDirection(base, up, right Vec3) Vec3 {
	angle := r.spec.SprayAngleDeg
	if angle <= 0 {
		return base
	}
	x := (r.src.Float64()*2 - 1) * angle
	y := (r.src.Float64()*2 - 1) * angle
	// q applies its right factor first: x before y.
	q := QuatAxisAngle(right, y).Mul(QuatAxisAngle(up, x))
	return q.Rotate(base)
}

func (r *HitResolver) dispatchDamage(targetID string, at Vec3) {
	if r.damage == nil || targetID == "" {
		return
	}
	dmg := r.spec.Damage
	if r.hook != nil {
		dmg = r.hook(dmg, targetID)
	}
	ev := DamageEvent{
		Damage:       dmg,
		SourceID:     r.source(),
		HitLocations: []Vec3{at},
	}
	r.damage.Dispatch(targetID, ev)
	r.logger.Debug("damage dispatched",
		zap.String("weapon", r.spec.ID),
		zap.String("target", targetID),
		zap.Int("damage", dmg),
	)
}

// travelTime converts a distance and speed into a projectile travel
// duration. A non-positive speed collapses to instantaneous travel.
func travelTime(distance, speed float64) time.Duration {
	if speed <= 0 || distance <= 0 {
		return 0
	}
	return time.Duration(distance / speed * float64(time.Second))
}
