package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/arsenal/internal/game/rng"
)

// globalKey is the reserved key for shared scripts loaded via LoadGlobal.
// CallHook falls back to this VM when no weapon-specific VM is found.
const globalKey = "__global__"

// damageHookName is the Lua global each weapon hook script may define to
// rewrite outgoing damage.
const damageHookName = "on_damage"

// Manager owns one sandboxed LState per weapon and exposes hook dispatch.
// Each weapon's hook script lives in its own VM so a runaway script cannot
// corrupt another weapon's state.
//
// Manager is safe for concurrent CallHook after all Load calls complete; an
// LState is single-threaded, so dispatch is serialized under the manager lock.
type Manager struct {
	mu      sync.Mutex
	states  map[string]*lua.LState
	cancels map[string]func()
	random  rng.Source
	logger  *zap.Logger
}

// NewManager creates a Manager.
//
// Precondition: random and logger must be non-nil; violations panic.
// Postcondition: Returns a non-nil Manager with an empty VM map.
func NewManager(random rng.Source, logger *zap.Logger) *Manager {
	if random == nil {
		panic("scripting: random source must not be nil")
	}
	if logger == nil {
		panic("scripting: logger must not be nil")
	}
	return &Manager{
		states:  make(map[string]*lua.LState),
		cancels: make(map[string]func()),
		random:  random,
		logger:  logger,
	}
}

// LoadHooks creates one sandboxed VM per *.lua file in scriptDir, keyed by
// the file's base name without extension (the weapon ID).
//
// Precondition: scriptDir must be a readable directory.
// Postcondition: One VM per script is registered; returns error on Lua load
// failure.
func (m *Manager) LoadHooks(scriptDir string, instLimit int) error {
	entries, err := os.ReadDir(scriptDir)
	if err != nil {
		return fmt.Errorf("scripting: reading script dir %q: %w", scriptDir, err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".lua" {
			continue
		}
		key := strings.TrimSuffix(e.Name(), ".lua")
		if err := m.loadInto(key, []string{filepath.Join(scriptDir, e.Name())}, instLimit); err != nil {
			return err
		}
	}
	return nil
}

// LoadGlobal creates the "__global__" VM from every *.lua file in scriptDir,
// executed in lexicographic order, accessible as a CallHook fallback for any
// weapon.
//
// Precondition: scriptDir must be a readable directory.
// Postcondition: Global VM is registered; returns error on Lua load failure.
func (m *Manager) LoadGlobal(scriptDir string, instLimit int) error {
	entries, err := os.ReadDir(scriptDir)
	if err != nil {
		return fmt.Errorf("scripting: reading script dir %q: %w", scriptDir, err)
	}
	var luaFiles []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".lua" {
			luaFiles = append(luaFiles, filepath.Join(scriptDir, e.Name()))
		}
	}
	sort.Strings(luaFiles)
	return m.loadInto(globalKey, luaFiles, instLimit)
}

func (m *Manager) loadInto(key string, paths []string, instLimit int) error {
	L, cancel := NewSandboxedState(instLimit)
	m.RegisterModules(L)

	for _, path := range paths {
		if err := L.DoFile(path); err != nil {
			cancel()
			L.Close()
			return fmt.Errorf("scripting: loading %q for %q: %w", path, key, err)
		}
	}

	m.mu.Lock()
	if old, ok := m.states[key]; ok {
		if oldCancel := m.cancels[key]; oldCancel != nil {
			oldCancel()
		}
		old.Close()
	}
	m.states[key] = L
	m.cancels[key] = cancel
	m.mu.Unlock()
	return nil
}

// CallHook calls the named Lua global function in the weapon's VM. If the
// weapon has no VM, the __global__ VM is tried as a fallback. Returns
// (LNil, nil) if the hook is not defined or no VM exists. Lua runtime errors
// are logged at Warn level and never propagated.
//
// Precondition: args must be valid lua.LValue instances.
// Postcondition: Returns the first return value of the hook, or LNil.
func (m *Manager) CallHook(weaponID, hook string, args ...lua.LValue) (lua.LValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	L, ok := m.states[weaponID]
	if !ok {
		L = m.states[globalKey]
	}
	if L == nil {
		m.logger.Debug("scripting: no VM for weapon",
			zap.String("weapon", weaponID),
			zap.String("hook", hook),
		)
		return lua.LNil, nil
	}

	fn := L.GetGlobal(hook)
	if fn == lua.LNil {
		return lua.LNil, nil
	}

	if err := L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, args...); err != nil {
		m.logger.Warn("scripting: Lua runtime error",
			zap.String("weapon", weaponID),
			zap.String("hook", hook),
			zap.Error(err),
		)
		return lua.LNil, nil
	}

	ret := L.Get(-1)
	L.Pop(1)
	return ret, nil
}

// DamageHook returns a damage-modifier function backed by the weapon's
// on_damage Lua hook. When the hook is absent, errors, or returns a
// non-number, the base damage passes through unchanged; a negative return is
// clamped to zero.
func (m *Manager) DamageHook(weaponID string) func(damage int, targetID string) int {
	return func(damage int, targetID string) int {
		ret, err := m.CallHook(weaponID, damageHookName,
			lua.LNumber(damage), lua.LString(targetID))
		if err != nil {
			return damage
		}
		n, ok := ret.(lua.LNumber)
		if !ok {
			return damage
		}
		if n < 0 {
			return 0
		}
		return int(n)
	}
}

// Close releases every VM. The manager accepts no further Load calls.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, L := range m.states {
		if cancel := m.cancels[key]; cancel != nil {
			cancel()
		}
		L.Close()
	}
	m.states = make(map[string]*lua.LState)
	m.cancels = make(map[string]func())
}
