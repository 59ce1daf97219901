package weapon

import (
	"sync"

	"go.uber.org/zap"
)

// Options configures construction of one Weapon instance. Collaborators the
// hosting environment does not provide may be left nil; the core degrades
// per its error taxonomy instead of failing.
type Options struct {
	// Spec is the immutable weapon configuration. Required.
	Spec *Spec
	// Authority is the initial holder identity; AuthorityUnowned is valid.
	Authority string
	// RootAuthority is the identity permitted to spawn fresh effect
	// instances. Non-root holders receive effects via transfer snapshots.
	RootAuthority string
	// TransferKey seals hand-off snapshots. Required, at most 64 bytes.
	TransferKey []byte

	Trace     TracePrimitive
	Launch    LaunchPrimitive
	Viewpoint Viewpoint
	// Pose supplies the weapon's world transform at fire time. Required.
	Pose func() Pose
	// Random drives the spray cone. Required unless SprayAngleDeg == 0.
	Random floatSource
	Damage DamageSink
	// Hook optionally rewrites outgoing damage (e.g. a scripted modifier).
	Hook DamageHook
	// Effects is the external spawner collaborator. Required.
	Effects EffectDriver
	// OutOfAmmo plays the out-of-ammo cue. May be nil.
	OutOfAmmo func()
	// AmmoListener receives loaded/reserve change notifications. May be nil.
	AmmoListener AmmoListener

	Logger *zap.Logger
}

// Weapon is a single logical ranged weapon: the aggregate that wires the
// ammo ledger, firing machine, hit resolver, effect pools, and transfer
// coordinator behind one authority-gated API.
//
// All mutating calls are rejected unless issued while an authority holds the
// weapon; authority changes only through the TransferOut/TransferIn
// protocol.
type Weapon struct {
	mu        sync.Mutex
	authority string
	root      string

	spec        *Spec
	ledger      *Ledger
	machine     *Machine
	resolver    *HitResolver
	impact      *EffectPool
	miss        *EffectPool
	coordinator *TransferCoordinator
	logger      *zap.Logger
}

// Effect kinds the core spawns for its shot outcomes. Drivers that mirror
// effect instances elsewhere key their bookkeeping on these.
const (
	EffectKindImpact = "impact"
	EffectKindMiss   = "miss"
)

// Pool sizing for spawned effect groups. Two groups per outcome lets a
// second shot retrigger while the first group is still playing.
const (
	effectGroupCount  = 2
	effectsPerGroup   = 1
	maxTransferKeyLen = 64
)

// New constructs a Weapon from opts. Effect groups are spawned only when the
// initial authority is the root authority; any other holder starts with
// empty pools and receives groups through its first TransferIn.
//
// Precondition: opts.Spec must be validated; required collaborators set.
func New(opts Options) (*Weapon, error) {
	if len(opts.TransferKey) == 0 || len(opts.TransferKey) > maxTransferKeyLen {
		return nil, errInvalidTransferKey
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &Weapon{
		authority: opts.Authority,
		root:      opts.RootAuthority,
		spec:      opts.Spec,
		logger:    logger,
	}

	var impactGroups, missGroups []EffectGroup
	if opts.Authority == opts.RootAuthority && opts.Authority != AuthorityUnowned {
		var err error
		impactGroups, err = SpawnGroups(opts.Effects, EffectKindImpact, effectGroupCount, effectsPerGroup)
		if err != nil {
			return nil, err
		}
		missGroups, err = SpawnGroups(opts.Effects, EffectKindMiss, effectGroupCount, effectsPerGroup)
		if err != nil {
			return nil, err
		}
	}
	w.impact = NewEffectPool(opts.Effects, impactGroups)
	w.miss = NewEffectPool(opts.Effects, missGroups)

	w.ledger = NewLedger(opts.Spec, opts.AmmoListener)
	w.resolver = NewHitResolver(
		opts.Spec,
		opts.Trace,
		opts.Launch,
		opts.Viewpoint,
		opts.Pose,
		opts.Random,
		opts.Damage,
		opts.Hook,
		w.Authority,
		w.impact,
		w.miss,
		logger,
	)
	w.machine = NewMachine(opts.Spec, w.ledger, w.resolver.Resolve, opts.OutOfAmmo, logger)
	w.coordinator = NewTransferCoordinator(
		opts.TransferKey,
		opts.Spec.ID,
		w.ledger,
		w.machine,
		w.resolver,
		w.impact,
		w.miss,
		opts.Effects,
	)
	return w, nil
}

// ID returns the weapon's spec identifier.
func (w *Weapon) ID() string { return w.spec.ID }

// Spec returns the weapon's immutable configuration.
func (w *Weapon) Spec() *Spec { return w.spec }

// Authority returns the current holder identity, or AuthorityUnowned.
func (w *Weapon) Authority() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.authority
}

// Loaded returns the current loaded round count.
func (w *Weapon) Loaded() int {
	loaded, _ := w.machine.Ammo()
	return loaded
}

// Reserve returns the current reserve round count.
func (w *Weapon) Reserve() int {
	_, reserve := w.machine.Ammo()
	return reserve
}

// TriggerAttack handles a trigger pull from the input collaborator.
//
// Postcondition: returns true iff a shot was accepted. Always false while
// the weapon is unowned (mid hand-off calls are dropped, never queued).
func (w *Weapon) TriggerAttack() bool {
	if !w.owned() {
		return false
	}
	return w.machine.Trigger()
}

// ReleaseAttack handles trigger release, cancelling burst and auto-fire
// continuations.
func (w *Weapon) ReleaseAttack() {
	if !w.owned() {
		return
	}
	w.machine.Release()
}

// TriggerReload handles a manual reload request.
func (w *Weapon) TriggerReload() bool {
	if !w.owned() {
		return false
	}
	return w.machine.Reload()
}

// GrantAmmo adds amount rounds to the reserve, clamped per the ledger rules.
//
// Postcondition: returns true iff the reserve actually changed.
func (w *Weapon) GrantAmmo(amount int) bool {
	w.mu.Lock()
	owned := w.authority != AuthorityUnowned
	w.mu.Unlock()
	if !owned || amount <= 0 {
		return false
	}
	return w.machine.GrantReserve(amount)
}

// TransferOut relinquishes authority to newAuthority and returns the sealed
// state snapshot. Until the matching TransferIn lands, the weapon is unowned
// and every mutating call fails.
func (w *Weapon) TransferOut(newAuthority string) Snapshot {
	w.mu.Lock()
	from := w.authority
	w.authority = AuthorityUnowned
	w.mu.Unlock()

	snap := w.coordinator.TransferOut(newAuthority)
	w.logger.Info("authority transfer out",
		zap.String("weapon", w.spec.ID),
		zap.String("from", from),
		zap.String("to", newAuthority),
		zap.Int("loaded", snap.Loaded),
		zap.Int("reserve", snap.Reserve),
	)
	return snap
}

// TransferIn installs a snapshot and assumes authority as newAuthority.
//
// Postcondition: on success the weapon starts in StateIdle with the
// transferred counters and effect groups; on digest failure nothing changes
// and the weapon stays unowned.
func (w *Weapon) TransferIn(snap Snapshot, newAuthority string) error {
	if err := w.coordinator.TransferIn(snap); err != nil {
		w.logger.Warn("authority transfer rejected",
			zap.String("weapon", w.spec.ID),
			zap.String("to", newAuthority),
			zap.Error(err),
		)
		return err
	}
	w.mu.Lock()
	w.authority = newAuthority
	w.mu.Unlock()
	// Re-stamp the spawner: a rolled-back hand-off lands back on the sender,
	// whose driver was already pointed at the recipient.
	w.coordinator.driver.SetOwner(newAuthority)
	w.logger.Info("authority transfer in",
		zap.String("weapon", w.spec.ID),
		zap.String("to", newAuthority),
		zap.Int("loaded", snap.Loaded),
		zap.Int("reserve", snap.Reserve),
	)
	return nil
}

// Dispose permanently shuts the weapon down, cancelling every outstanding
// timer. The weapon accepts no further input.
func (w *Weapon) Dispose() {
	w.mu.Lock()
	w.authority = AuthorityUnowned
	w.mu.Unlock()
	w.machine.Dispose()
	w.resolver.Cancel()
	w.impact.StopAll()
	w.miss.StopAll()
}

func (w *Weapon) owned() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.authority != AuthorityUnowned
}
