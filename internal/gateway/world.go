package gateway

import (
	"math"
	"sync"

	"github.com/cory-johannsen/arsenal/internal/game/weapon"
)

// Target is a shootable entity registered with the index.
type Target struct {
	Position weapon.Vec3
	Radius   float64
}

// TargetIndex is the server-side hit-detection world: a registry of target
// spheres that instantaneous traces run against. Safe for concurrent use.
type TargetIndex struct {
	mu      sync.RWMutex
	targets map[string]Target
}

// NewTargetIndex creates an empty index.
func NewTargetIndex() *TargetIndex {
	return &TargetIndex{targets: make(map[string]Target)}
}

// Upsert registers or moves a target.
//
// Precondition: id must be non-empty; radius must be > 0.
func (i *TargetIndex) Upsert(id string, pos weapon.Vec3, radius float64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.targets[id] = Target{Position: pos, Radius: radius}
}

// Remove deregisters a target.
func (i *TargetIndex) Remove(id string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.targets, id)
}

// Position returns a target's current position.
func (i *TargetIndex) Position(id string) (weapon.Vec3, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	t, ok := i.targets[id]
	return t.Position, ok
}

// Perspective returns a trace primitive that sees every target except the
// shooter itself.
func (i *TargetIndex) Perspective(selfID string) weapon.TracePrimitive {
	return &perspective{index: i, selfID: selfID}
}

type perspective struct {
	index  *TargetIndex
	selfID string
}

// Trace finds the nearest target sphere intersected by the ray, ignoring the
// shooter. A miss reports the ray's terminal point so effects land somewhere
// sensible.
func (p *perspective) Trace(origin, dir weapon.Vec3, maxRange float64) weapon.TraceResult {
	p.index.mu.RLock()
	defer p.index.mu.RUnlock()

	best := weapon.TraceResult{
		Hit:   false,
		Point: origin.Add(dir.Scale(maxRange)),
	}
	bestT := math.Inf(1)

	for id, t := range p.index.targets {
		if id == p.selfID {
			continue
		}
		oc := t.Position.Sub(origin)
		tca := oc.Dot(dir)
		if tca < 0 {
			continue
		}
		d2 := oc.Dot(oc) - tca*tca
		r2 := t.Radius * t.Radius
		if d2 > r2 {
			continue
		}
		thc := math.Sqrt(r2 - d2)
		hit := tca - thc
		if hit < 0 {
			hit = tca + thc
		}
		if hit <= 0 || hit > maxRange || hit >= bestT {
			continue
		}
		bestT = hit
		best = weapon.TraceResult{
			Hit:      true,
			Point:    origin.Add(dir.Scale(hit)),
			TargetID: id,
			Distance: hit,
		}
	}
	return best
}
