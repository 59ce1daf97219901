package weapon_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/arsenal/internal/game/weapon"
)

const rifleYAML = `id: assault-rifle
name: Assault Rifle
attack_rate_ms: 120
damage: 25
auto_attack: true
range: 80
ammo_per_fire: 1
clip_size: 30
max_ammo: 120
starting_ammo: 30
starting_reserve_ammo: 90
auto_reload: true
spray_angle_deg: 2.5
projectile_speed: 300
`

const burstYAML = `id: burst-pistol
name: Burst Pistol
attack_rate_ms: 400
damage: 15
range: 40
ammo_per_fire: 1
clip_size: 12
max_ammo: 48
starting_ammo: 12
starting_reserve_ammo: 24
burst_count: 3
burst_delay_ms: 60
`

func writeSpecDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

// TestLoadSpecs_ParsesAllYAMLFiles verifies directory loading, parsing, and
// that non-YAML entries are skipped.
func TestLoadSpecs_ParsesAllYAMLFiles(t *testing.T) {
	dir := writeSpecDir(t, map[string]string{
		"rifle.yaml":  rifleYAML,
		"pistol.yaml": burstYAML,
		"notes.txt":   "not a weapon",
	})

	specs, err := weapon.LoadSpecs(dir)
	require.NoError(t, err)
	require.Len(t, specs, 2)

	byID := map[string]*weapon.Spec{}
	for _, s := range specs {
		byID[s.ID] = s
	}
	rifle := byID["assault-rifle"]
	require.NotNil(t, rifle)
	assert.Equal(t, 120*time.Millisecond, rifle.AttackRate())
	assert.True(t, rifle.AutoAttack)
	assert.Equal(t, 30, rifle.ClipSize)
	assert.Equal(t, 2.5, rifle.SprayAngleDeg)

	pistol := byID["burst-pistol"]
	require.NotNil(t, pistol)
	assert.True(t, pistol.IsBurst())
	assert.Equal(t, 60*time.Millisecond, pistol.BurstDelay())
}

// TestLoadSpecs_RejectsInvalidSpec verifies validation failures surface with
// the offending file path.
func TestLoadSpecs_RejectsInvalidSpec(t *testing.T) {
	dir := writeSpecDir(t, map[string]string{
		"bad.yaml": "id: broken\nname: Broken\ndamage: -5\n",
	})

	_, err := weapon.LoadSpecs(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.yaml")
}

// TestLoadSpecs_RejectsMalformedYAML verifies parse failures surface.
func TestLoadSpecs_RejectsMalformedYAML(t *testing.T) {
	dir := writeSpecDir(t, map[string]string{
		"garbage.yaml": "id: [unterminated\n",
	})

	_, err := weapon.LoadSpecs(dir)
	require.Error(t, err)
}

// TestLoadSpecs_MissingDirectory verifies the error path for an absent dir.
func TestLoadSpecs_MissingDirectory(t *testing.T) {
	_, err := weapon.LoadSpecs(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

// TestSpec_Validate_CollectsEveryViolation verifies all field violations
// report together.
func TestSpec_Validate_CollectsEveryViolation(t *testing.T) {
	s := &weapon.Spec{
		AttackRateMs: -1,
		Damage:       -1,
		AmmoPerFire:  -1,
	}
	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ID")
	assert.Contains(t, err.Error(), "AttackRateMs")
	assert.Contains(t, err.Error(), "Damage")
}

// TestSpec_Validate_LimitedAmmoNeedsClip verifies the limited-ammo clip
// constraint and the unlimited sentinel exemption.
func TestSpec_Validate_LimitedAmmoNeedsClip(t *testing.T) {
	s := &weapon.Spec{ID: "x", Name: "X", AmmoPerFire: 1}
	require.Error(t, s.Validate())

	s.AmmoPerFire = 0
	assert.NoError(t, s.Validate(), "unlimited ammo needs no clip")
	assert.True(t, s.HasUnlimitedAmmo())
}
