// Package weapon implements the networked ranged-weapon core: ammo ledger,
// firing state machine, hit resolution, pooled effects, and the authority
// hand-off protocol that moves weapon state between holders.
package weapon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Spec defines the immutable configuration of a weapon, loaded from YAML.
//
// Invariant: all counts are >= 0. AmmoPerFire == 0 is the sentinel for
// unlimited ammo and disables reload entirely.
type Spec struct {
	ID                  string  `yaml:"id"`
	Name                string  `yaml:"name"`
	AttackRateMs        int     `yaml:"attack_rate_ms"`
	Damage              int     `yaml:"damage"`
	AutoAttack          bool    `yaml:"auto_attack"`
	Range               float64 `yaml:"range"`
	AmmoPerFire         int     `yaml:"ammo_per_fire"`
	ClipSize            int     `yaml:"clip_size"`
	MaxAmmo             int     `yaml:"max_ammo"`
	StartingAmmo        int     `yaml:"starting_ammo"`
	StartingReserveAmmo int     `yaml:"starting_reserve_ammo"`
	AutoReload          bool    `yaml:"auto_reload"`
	BurstCount          int     `yaml:"burst_count"`
	BurstDelayMs        int     `yaml:"burst_delay_ms"`
	SprayAngleDeg       float64 `yaml:"spray_angle_deg"`
	ProjectileSpeed     float64 `yaml:"projectile_speed"`
}

// AttackRate returns the minimum interval between accepted shots.
func (s *Spec) AttackRate() time.Duration {
	return time.Duration(s.AttackRateMs) * time.Millisecond
}

// BurstDelay returns the interval between shots within a burst.
func (s *Spec) BurstDelay() time.Duration {
	return time.Duration(s.BurstDelayMs) * time.Millisecond
}

// HasUnlimitedAmmo reports whether the weapon never consumes ammo
// (AmmoPerFire <= 0).
func (s *Spec) HasUnlimitedAmmo() bool {
	return s.AmmoPerFire <= 0
}

// IsBurst reports whether a single trigger pull fires more than one shot.
func (s *Spec) IsBurst() bool {
	return s.BurstCount > 1
}

// Validate checks that the Spec satisfies its invariants.
//
// Precondition: s is non-nil.
// Postcondition: returns nil iff all fields are valid.
func (s *Spec) Validate() error {
	var errs []error
	if s.ID == "" {
		errs = append(errs, errors.New("ID must not be empty"))
	}
	if s.Name == "" {
		errs = append(errs, errors.New("Name must not be empty"))
	}
	if s.AttackRateMs < 0 {
		errs = append(errs, fmt.Errorf("AttackRateMs must be >= 0, got %d", s.AttackRateMs))
	}
	if s.Damage < 0 {
		errs = append(errs, fmt.Errorf("Damage must be >= 0, got %d", s.Damage))
	}
	if s.Range < 0 {
		errs = append(errs, fmt.Errorf("Range must be >= 0, got %v", s.Range))
	}
	if s.AmmoPerFire < 0 {
		errs = append(errs, fmt.Errorf("AmmoPerFire must be >= 0, got %d", s.AmmoPerFire))
	}
	if s.ClipSize < 0 {
		errs = append(errs, fmt.Errorf("ClipSize must be >= 0, got %d", s.ClipSize))
	}
	if s.MaxAmmo < 0 {
		errs = append(errs, fmt.Errorf("MaxAmmo must be >= 0, got %d", s.MaxAmmo))
	}
	if s.StartingAmmo < 0 {
		errs = append(errs, fmt.Errorf("StartingAmmo must be >= 0, got %d", s.StartingAmmo))
	}
	if s.StartingReserveAmmo < 0 {
		errs = append(errs, fmt.Errorf("StartingReserveAmmo must be >= 0, got %d", s.StartingReserveAmmo))
	}
	if s.BurstCount < 0 {
		errs = append(errs, fmt.Errorf("BurstCount must be >= 0, got %d", s.BurstCount))
	}
	if s.BurstDelayMs < 0 {
		errs = append(errs, fmt.Errorf("BurstDelayMs must be >= 0, got %d", s.BurstDelayMs))
	}
	if s.SprayAngleDeg < 0 {
		errs = append(errs, fmt.Errorf("SprayAngleDeg must be >= 0, got %v", s.SprayAngleDeg))
	}
	if s.ProjectileSpeed < 0 {
		errs = append(errs, fmt.Errorf("ProjectileSpeed must be >= 0, got %v", s.ProjectileSpeed))
	}
	if !s.HasUnlimitedAmmo() && s.ClipSize <= 0 {
		errs = append(errs, errors.New("ClipSize must be > 0 when ammo is limited"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("weapon spec validation failed: %v", errs)
	}
	return nil
}

// LoadSpecs reads all *.yaml files from dir, parses each as a Spec,
// validates it, and returns the collected slice.
//
// Precondition: dir is a readable directory path.
// Postcondition: returns all valid Specs or the first encountered error.
func LoadSpecs(dir string) ([]*Spec, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("LoadSpecs: cannot read directory %q: %w", dir, err)
	}

	var specs []*Spec
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("LoadSpecs: cannot read file %q: %w", path, err)
		}
		var s Spec
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("LoadSpecs: cannot parse file %q: %w", path, err)
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("LoadSpecs: invalid weapon in %q: %w", path, err)
		}
		specs = append(specs, &s)
	}
	return specs, nil
}
