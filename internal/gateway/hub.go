// Package gateway exposes the weapon backend over WebSocket: holders join,
// issue fire-control commands as JSON frames, and receive ammo, damage, and
// effect events in return.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/arsenal/internal/game/rng"
	"github.com/cory-johannsen/arsenal/internal/game/session"
	"github.com/cory-johannsen/arsenal/internal/game/weapon"
	"github.com/cory-johannsen/arsenal/internal/scripting"
)

const (
	defaultWriteWait    = 5 * time.Second
	maxMessageSize      = 4096
	defaultTargetRadius = 0.5
	muzzleHeight        = 1.5
	eyeHeight           = 1.6
	storeTimeout        = 5 * time.Second
)

// StoredWeapon is one persisted weapon instance awaiting restoration.
type StoredWeapon struct {
	InstanceID string
	Snapshot   weapon.Snapshot
}

// SnapshotStore persists sealed weapon snapshots across holder disconnects.
// May be nil on the hub, in which case weapons die with their session.
type SnapshotStore interface {
	Save(ctx context.Context, instanceID, authority string, snap weapon.Snapshot) error
	ListByAuthority(ctx context.Context, authority string) ([]StoredWeapon, error)
	Delete(ctx context.Context, instanceID string) error
}

// Options configures a Hub.
type Options struct {
	// Specs maps weapon IDs to validated specifications. Required.
	Specs map[string]*weapon.Spec
	// Sessions tracks connected holders. Required.
	Sessions *session.Manager
	// Scripts supplies scripted damage hooks. May be nil.
	Scripts *scripting.Manager
	// Random drives spray cones. Required.
	Random rng.Source
	// World is the hit-detection index holders are registered in. Required.
	World *TargetIndex
	// TransferKey seals hand-off snapshots. Required.
	TransferKey []byte
	// WriteTimeout bounds each WebSocket write. Zero means the default.
	WriteTimeout time.Duration
	// Store persists weapons across disconnects. May be nil.
	Store SnapshotStore

	Logger *zap.Logger
}

type subscriber struct {
	conn *websocket.Conn
	// mu guards writes; gorilla/websocket allows one concurrent writer.
	mu sync.Mutex
}

// Hub owns the WebSocket fan-in/fan-out for every connected holder: it
// upgrades connections, dispatches command frames to weapon instances, pumps
// per-holder event channels back out, and broadcasts effect frames to all
// subscribers.
type Hub struct {
	specs       map[string]*weapon.Spec
	sessions    *session.Manager
	scripts     *scripting.Manager
	random      rng.Source
	world       *TargetIndex
	transferKey []byte
	writeWait   time.Duration
	store       SnapshotStore
	logger      *zap.Logger
	// publish fans an effect frame out to every subscriber; each weapon's
	// BroadcastDriver writes through it.
	publish  func(v any)
	upgrader websocket.Upgrader

	mu          sync.Mutex
	subscribers map[string]*subscriber
	aims        map[string]weapon.Vec3
}

// NewHub creates a Hub from opts.
//
// Precondition: Specs, Sessions, Random, World, and TransferKey must be set.
func NewHub(opts Options) (*Hub, error) {
	if len(opts.Specs) == 0 {
		return nil, errors.New("gateway: no weapon specs configured")
	}
	if opts.Sessions == nil || opts.Random == nil || opts.World == nil {
		return nil, errors.New("gateway: sessions, random, and world are required")
	}
	if len(opts.TransferKey) == 0 {
		return nil, errors.New("gateway: transfer key is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	writeWait := opts.WriteTimeout
	if writeWait <= 0 {
		writeWait = defaultWriteWait
	}

	h := &Hub{
		specs:       opts.Specs,
		sessions:    opts.Sessions,
		scripts:     opts.Scripts,
		random:      opts.Random,
		world:       opts.World,
		transferKey: opts.TransferKey,
		writeWait:   writeWait,
		store:       opts.Store,
		logger:      logger,
		subscribers: make(map[string]*subscriber),
		aims:        make(map[string]weapon.Vec3),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	h.publish = h.broadcast
	return h, nil
}

// ServeHTTP upgrades the request and runs the holder's session until the
// connection drops. The holder identity comes from the "holder" query
// parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	uid := r.URL.Query().Get("holder")
	if uid == "" {
		http.Error(w, "missing holder parameter", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("holder", uid), zap.Error(err))
		return
	}

	sess, err := h.Join(uid, conn)
	if err != nil {
		h.logger.Warn("holder join rejected", zap.String("holder", uid), zap.Error(err))
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(h.writeWait),
		)
		_ = conn.Close()
		return
	}

	h.readLoop(sess, conn)
	h.Disconnect(uid)
}

// Join registers a holder connection, placing them in the world and
// restoring any persisted weapons.
//
// Precondition: uid must be non-empty; conn must be an upgraded connection.
func (h *Hub) Join(uid string, conn *websocket.Conn) (*session.HolderSession, error) {
	sess, err := h.sessions.AddHolder(uid)
	if err != nil {
		return nil, err
	}

	h.world.Upsert(uid, weapon.Vec3{}, defaultTargetRadius)

	h.mu.Lock()
	h.aims[uid] = weapon.Vec3{Z: 1}
	sub := &subscriber{conn: conn}
	h.subscribers[uid] = sub
	h.mu.Unlock()

	go h.writePump(uid, sub, sess.Entity.Events())

	if h.store != nil {
		h.restore(sess)
	}

	h.logger.Info("holder joined", zap.String("holder", uid))
	return sess, nil
}

// Disconnect tears a holder down: persists their weapons when a store is
// configured, removes them from the world, and closes the connection.
func (h *Hub) Disconnect(uid string) {
	h.mu.Lock()
	sub := h.subscribers[uid]
	delete(h.subscribers, uid)
	delete(h.aims, uid)
	h.mu.Unlock()

	if sess, ok := h.sessions.GetHolder(uid); ok {
		if h.store != nil {
			h.persist(sess)
		}
		_ = h.sessions.RemoveHolder(uid)
	}
	h.world.Remove(uid)

	if sub != nil {
		_ = sub.conn.Close()
	}
	h.logger.Info("holder disconnected", zap.String("holder", uid))
}

// Dispatch implements weapon.DamageSink by delivering a damage notice to the
// struck holder's event channel.
func (h *Hub) Dispatch(targetID string, ev weapon.DamageEvent) {
	sess, ok := h.sessions.GetHolder(targetID)
	if !ok {
		return
	}
	notice := DamageNotice{Type: EventDamage, SourceID: ev.SourceID, Damage: ev.Damage}
	if len(ev.HitLocations) > 0 {
		p := ev.HitLocations[0]
		notice.Point = &Vec{X: p.X, Y: p.Y, Z: p.Z}
	}
	h.push(sess, notice)
	h.logger.Debug("damage dispatched",
		zap.String("target", targetID),
		zap.String("source", ev.SourceID),
		zap.Int("damage", ev.Damage),
	)
}

func (h *Hub) readLoop(sess *session.HolderSession, conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.ack(sess, cmd.Op, "", false, "malformed command frame")
			continue
		}
		h.handleCommand(sess, cmd)
	}
}

func (h *Hub) handleCommand(sess *session.HolderSession, cmd Command) {
	switch cmd.Op {
	case OpSpawn:
		h.handleSpawn(sess, cmd)
	case OpTrigger:
		if w, ok := sess.Weapon(cmd.InstanceID); ok {
			h.ack(sess, cmd.Op, cmd.InstanceID, w.TriggerAttack(), "")
		} else {
			h.ack(sess, cmd.Op, cmd.InstanceID, false, "unknown weapon instance")
		}
	case OpRelease:
		if w, ok := sess.Weapon(cmd.InstanceID); ok {
			w.ReleaseAttack()
			h.ack(sess, cmd.Op, cmd.InstanceID, true, "")
		} else {
			h.ack(sess, cmd.Op, cmd.InstanceID, false, "unknown weapon instance")
		}
	case OpReload:
		if w, ok := sess.Weapon(cmd.InstanceID); ok {
			h.ack(sess, cmd.Op, cmd.InstanceID, w.TriggerReload(), "")
		} else {
			h.ack(sess, cmd.Op, cmd.InstanceID, false, "unknown weapon instance")
		}
	case OpGrant:
		if w, ok := sess.Weapon(cmd.InstanceID); ok {
			h.ack(sess, cmd.Op, cmd.InstanceID, w.GrantAmmo(cmd.Amount), "")
		} else {
			h.ack(sess, cmd.Op, cmd.InstanceID, false, "unknown weapon instance")
		}
	case OpTransfer:
		h.handleTransfer(sess, cmd)
	case OpMove:
		if cmd.Position == nil {
			h.ack(sess, cmd.Op, "", false, "move requires a position")
			return
		}
		h.world.Upsert(sess.UID, weapon.Vec3{X: cmd.Position.X, Y: cmd.Position.Y, Z: cmd.Position.Z}, defaultTargetRadius)
		h.ack(sess, cmd.Op, "", true, "")
	case OpAim:
		if cmd.Forward == nil {
			h.ack(sess, cmd.Op, "", false, "aim requires a forward vector")
			return
		}
		fwd := weapon.Vec3{X: cmd.Forward.X, Y: cmd.Forward.Y, Z: cmd.Forward.Z}.Normalized()
		if fwd.IsZero() {
			h.ack(sess, cmd.Op, "", false, "aim vector must be non-zero")
			return
		}
		h.mu.Lock()
		h.aims[sess.UID] = fwd
		h.mu.Unlock()
		h.ack(sess, cmd.Op, "", true, "")
	default:
		h.ack(sess, cmd.Op, cmd.InstanceID, false, fmt.Sprintf("unknown op %q", cmd.Op))
	}
}

func (h *Hub) handleSpawn(sess *session.HolderSession, cmd Command) {
	spec, ok := h.specs[cmd.WeaponID]
	if !ok {
		h.ack(sess, cmd.Op, "", false, fmt.Sprintf("unknown weapon %q", cmd.WeaponID))
		return
	}
	instanceID := uuid.NewString()
	w, _, err := h.buildWeapon(sess, instanceID, spec, sess.UID)
	if err != nil {
		h.ack(sess, cmd.Op, "", false, err.Error())
		return
	}
	if err := sess.Attach(instanceID, w); err != nil {
		w.Dispose()
		h.ack(sess, cmd.Op, "", false, err.Error())
		return
	}
	h.ack(sess, cmd.Op, instanceID, true, "")
	h.logger.Info("weapon spawned",
		zap.String("holder", sess.UID),
		zap.String("weapon", spec.ID),
		zap.String("instance", instanceID),
	)
}

// handleTransfer hands a weapon instance to another connected holder. The
// sender's instance is sealed into a snapshot, a fresh instance wired to the
// recipient's pose and viewpoint is built, and the snapshot is installed
// there. A rejected snapshot rolls authority back to the sender.
func (h *Hub) handleTransfer(sess *session.HolderSession, cmd Command) {
	w, ok := sess.Weapon(cmd.InstanceID)
	if !ok {
		h.ack(sess, cmd.Op, cmd.InstanceID, false, "unknown weapon instance")
		return
	}
	recipient, ok := h.sessions.GetHolder(cmd.To)
	if !ok {
		h.ack(sess, cmd.Op, cmd.InstanceID, false, fmt.Sprintf("holder %q not connected", cmd.To))
		return
	}
	if recipient.UID == sess.UID {
		h.ack(sess, cmd.Op, cmd.InstanceID, false, "cannot transfer to self")
		return
	}

	snap := w.TransferOut(recipient.UID)
	if _, err := sess.Detach(cmd.InstanceID); err != nil {
		h.ack(sess, cmd.Op, cmd.InstanceID, false, err.Error())
		return
	}

	installed, err := h.install(recipient, cmd.InstanceID, snap)
	if err != nil {
		// Roll back so the weapon is not stranded unowned.
		if rbErr := w.TransferIn(snap, sess.UID); rbErr == nil {
			_ = sess.Attach(cmd.InstanceID, w)
		}
		h.ack(sess, cmd.Op, cmd.InstanceID, false, err.Error())
		return
	}

	h.ack(sess, cmd.Op, cmd.InstanceID, true, "")
	h.push(recipient, TransferNotice{
		Type:       EventTransferIn,
		InstanceID: cmd.InstanceID,
		WeaponID:   installed.ID(),
		From:       sess.UID,
		Loaded:     installed.Loaded(),
		Reserve:    installed.Reserve(),
	})
	h.logger.Info("weapon transferred",
		zap.String("instance", cmd.InstanceID),
		zap.String("from", sess.UID),
		zap.String("to", recipient.UID),
	)
}

// install builds a fresh unowned instance wired to the recipient and lands
// the snapshot in it. The snapshot's effect handles were minted by the
// sender's driver, so the recipient's driver adopts them before they arrive
// through the transfer.
func (h *Hub) install(sess *session.HolderSession, instanceID string, snap weapon.Snapshot) (*weapon.Weapon, error) {
	spec, ok := h.specs[snap.WeaponID]
	if !ok {
		return nil, fmt.Errorf("snapshot references unknown weapon %q", snap.WeaponID)
	}
	w, driver, err := h.buildWeapon(sess, instanceID, spec, weapon.AuthorityUnowned)
	if err != nil {
		return nil, err
	}
	driver.Adopt(weapon.EffectKindImpact, snap.ImpactGroups)
	driver.Adopt(weapon.EffectKindMiss, snap.MissGroups)
	if err := w.TransferIn(snap, sess.UID); err != nil {
		return nil, err
	}
	if err := sess.Attach(instanceID, w); err != nil {
		w.Dispose()
		return nil, err
	}
	return w, nil
}

// buildWeapon wires a weapon instance for one holder, with its own broadcast
// driver stamping that holder as the owner of every effect frame.
func (h *Hub) buildWeapon(sess *session.HolderSession, instanceID string, spec *weapon.Spec, authority string) (*weapon.Weapon, *BroadcastDriver, error) {
	bridge := session.NewAmmoBridge(sess.Entity, instanceID)
	var hook weapon.DamageHook
	if h.scripts != nil {
		hook = h.scripts.DamageHook(spec.ID)
	}
	driver := NewBroadcastDriver(h.publish)
	driver.SetOwner(sess.UID)
	w, err := weapon.New(weapon.Options{
		Spec:          spec,
		Authority:     authority,
		RootAuthority: sess.UID,
		TransferKey:   h.transferKey,
		Trace:         h.world.Perspective(sess.UID),
		Viewpoint:     holderViewpoint{hub: h, uid: sess.UID},
		Pose:          h.poseFor(sess.UID),
		Random:        h.random,
		Damage:        h,
		Hook:          hook,
		Effects:       driver,
		OutOfAmmo:     bridge.OutOfAmmo(),
		AmmoListener:  bridge,
		Logger: h.logger.With(
			zap.String("holder", sess.UID),
			zap.String("instance", instanceID),
		),
	})
	if err != nil {
		return nil, nil, err
	}
	return w, driver, nil
}

// persist seals every weapon the holder still owns and saves the snapshots
// keyed to the holder so a reconnect restores them.
func (h *Hub) persist(sess *session.HolderSession) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	for _, id := range sess.WeaponIDs() {
		w, err := sess.Detach(id)
		if err != nil {
			continue
		}
		snap := w.TransferOut(sess.UID)
		if err := h.store.Save(ctx, id, sess.UID, snap); err != nil {
			h.logger.Warn("snapshot persist failed",
				zap.String("holder", sess.UID),
				zap.String("instance", id),
				zap.Error(err),
			)
		}
	}
}

// restore rebuilds persisted weapons for a reconnecting holder.
func (h *Hub) restore(sess *session.HolderSession) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	stored, err := h.store.ListByAuthority(ctx, sess.UID)
	if err != nil {
		h.logger.Warn("snapshot restore failed", zap.String("holder", sess.UID), zap.Error(err))
		return
	}
	for _, rec := range stored {
		if _, err := h.install(sess, rec.InstanceID, rec.Snapshot); err != nil {
			h.logger.Warn("snapshot install failed",
				zap.String("holder", sess.UID),
				zap.String("instance", rec.InstanceID),
				zap.Error(err),
			)
			continue
		}
		if err := h.store.Delete(ctx, rec.InstanceID); err != nil {
			h.logger.Warn("snapshot cleanup failed",
				zap.String("instance", rec.InstanceID),
				zap.Error(err),
			)
		}
	}
}

func (h *Hub) poseFor(uid string) func() weapon.Pose {
	return func() weapon.Pose {
		pos, _ := h.world.Position(uid)
		fwd := h.forward(uid)
		up := weapon.Vec3{Y: 1}
		right := up.Cross(fwd).Normalized()
		if right.IsZero() {
			right = weapon.Vec3{X: 1}
		}
		return weapon.Pose{
			Muzzle:  pos.Add(weapon.Vec3{Y: muzzleHeight}),
			Forward: fwd,
			Up:      up,
			Right:   right,
		}
	}
}

func (h *Hub) forward(uid string) weapon.Vec3 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if fwd, ok := h.aims[uid]; ok {
		return fwd
	}
	return weapon.Vec3{Z: 1}
}

func (h *Hub) ack(sess *session.HolderSession, op, instanceID string, accepted bool, detail string) {
	eventType := EventAck
	if !accepted {
		eventType = EventError
	}
	h.push(sess, AckEvent{
		Type:       eventType,
		Op:         op,
		InstanceID: instanceID,
		Accepted:   accepted,
		Detail:     detail,
	})
}

// push marshals v onto the holder's event channel; the writer pump delivers
// it. Drops are acceptable, the channel buffer bounds slow consumers.
func (h *Hub) push(sess *session.HolderSession, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = sess.Entity.Push(data)
}

// broadcast sends one frame to every subscriber. Marshals once; a failed
// write closes that subscriber's connection and lets its read loop clean up.
func (h *Hub) broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}

	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.mu.Lock()
		_ = sub.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
		err := sub.conn.WriteMessage(websocket.TextMessage, data)
		sub.mu.Unlock()
		if err != nil {
			_ = sub.conn.Close()
		}
	}
}

// writePump drains a holder's event channel to their connection. Exits when
// the channel closes on session removal or when a write fails.
func (h *Hub) writePump(uid string, sub *subscriber, events <-chan []byte) {
	for data := range events {
		sub.mu.Lock()
		_ = sub.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
		err := sub.conn.WriteMessage(websocket.TextMessage, data)
		sub.mu.Unlock()
		if err != nil {
			h.logger.Debug("event write failed", zap.String("holder", uid), zap.Error(err))
			_ = sub.conn.Close()
			return
		}
	}
}

// holderViewpoint centers hitscan aim on the holder's eye position.
type holderViewpoint struct {
	hub *Hub
	uid string
}

func (v holderViewpoint) Ray() (weapon.Vec3, weapon.Vec3) {
	pos, _ := v.hub.world.Position(v.uid)
	return pos.Add(weapon.Vec3{Y: eyeHeight}), v.hub.forward(v.uid)
}
