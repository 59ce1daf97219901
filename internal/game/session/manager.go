package session

import (
	"fmt"
	"sync"

	"github.com/cory-johannsen/arsenal/internal/game/weapon"
)

// HolderSession tracks a connected holder and the weapon instances they
// currently hold authority over.
type HolderSession struct {
	// UID is the unique holder identity, used as the weapon authority string.
	UID string
	// Entity is the bridge entity for pushing events to the holder.
	Entity *BridgeEntity

	mu      sync.Mutex
	weapons map[string]*weapon.Weapon // instanceID → weapon
}

// Attach records authority over a weapon instance.
//
// Postcondition: Returns an error if the instance ID is already attached.
func (s *HolderSession) Attach(instanceID string, w *weapon.Weapon) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.weapons[instanceID]; exists {
		return fmt.Errorf("weapon instance %q already attached to %q", instanceID, s.UID)
	}
	s.weapons[instanceID] = w
	return nil
}

// Detach releases a weapon instance from this holder without disposing it.
//
// Postcondition: Returns the weapon, or an error if not attached.
func (s *HolderSession) Detach(instanceID string) (*weapon.Weapon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, exists := s.weapons[instanceID]
	if !exists {
		return nil, fmt.Errorf("weapon instance %q not attached to %q", instanceID, s.UID)
	}
	delete(s.weapons, instanceID)
	return w, nil
}

// Weapon returns the attached weapon for the given instance ID.
//
// Postcondition: Returns (weapon, true) if attached, or (nil, false).
func (s *HolderSession) Weapon(instanceID string) (*weapon.Weapon, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.weapons[instanceID]
	return w, ok
}

// WeaponIDs returns the instance IDs of every attached weapon.
func (s *HolderSession) WeaponIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.weapons))
	for id := range s.weapons {
		ids = append(ids, id)
	}
	return ids
}

// Manager tracks all active holder sessions and weapon ownership.
// All methods are safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	holders map[string]*HolderSession // uid → session
}

// NewManager creates an empty session Manager.
func NewManager() *Manager {
	return &Manager{
		holders: make(map[string]*HolderSession),
	}
}

// AddHolder registers a new holder session.
//
// Precondition: uid must be non-empty.
// Postcondition: Returns the created HolderSession, or an error if the UID
// is already registered.
func (m *Manager) AddHolder(uid string) (*HolderSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.holders[uid]; exists {
		return nil, fmt.Errorf("holder %q already connected", uid)
	}

	sess := &HolderSession{
		UID:     uid,
		Entity:  NewBridgeEntity(uid, 64),
		weapons: make(map[string]*weapon.Weapon),
	}
	m.holders[uid] = sess
	return sess, nil
}

// RemoveHolder removes a holder session, disposing every weapon they still
// hold and closing the event entity.
//
// Precondition: uid must be non-empty.
// Postcondition: The holder is removed from all tracking. Returns an error
// if not found.
func (m *Manager) RemoveHolder(uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, exists := m.holders[uid]
	if !exists {
		return fmt.Errorf("holder %q not found", uid)
	}

	sess.mu.Lock()
	for _, w := range sess.weapons {
		w.Dispose()
	}
	sess.weapons = make(map[string]*weapon.Weapon)
	sess.mu.Unlock()

	_ = sess.Entity.Close()

	delete(m.holders, uid)
	return nil
}

// GetHolder returns the session for the given UID.
//
// Postcondition: Returns (session, true) if found, or (nil, false) otherwise.
func (m *Manager) GetHolder(uid string) (*HolderSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.holders[uid]
	return sess, ok
}

// FindWeapon locates a weapon instance across all holders.
//
// Postcondition: Returns (session, weapon, true) for the holder that has the
// instance attached, or zero values otherwise.
func (m *Manager) FindWeapon(instanceID string) (*HolderSession, *weapon.Weapon, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sess := range m.holders {
		if w, ok := sess.Weapon(instanceID); ok {
			return sess, w, true
		}
	}
	return nil, nil, false
}

// HolderCount returns the total number of connected holders.
func (m *Manager) HolderCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.holders)
}
