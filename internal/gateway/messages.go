package gateway

// Client command operations.
const (
	OpSpawn    = "spawn"
	OpTrigger  = "trigger"
	OpRelease  = "release"
	OpReload   = "reload"
	OpGrant    = "grant"
	OpTransfer = "transfer"
	OpMove     = "move"
	OpAim      = "aim"
)

// Server event type identifiers. Ammo and cue event types are defined by the
// session package; the gateway adds command acks, damage, and effect frames.
const (
	EventAck           = "ack"
	EventError         = "error"
	EventDamage        = "damage"
	EventEffectSpawn   = "effect_spawn"
	EventEffectDespawn = "effect_despawn"
	EventEffectStop    = "effect_stop"
	EventEffectPlay    = "effect_play"
	EventTransferIn    = "transfer_in"
)

// Vec is the wire form of a 3D vector.
type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Command is a single client request frame.
type Command struct {
	Op         string `json:"op"`
	WeaponID   string `json:"weapon_id,omitempty"`
	InstanceID string `json:"instance_id,omitempty"`
	Amount     int    `json:"amount,omitempty"`
	To         string `json:"to,omitempty"`
	Position   *Vec   `json:"position,omitempty"`
	Forward    *Vec   `json:"forward,omitempty"`
}

// AckEvent reports the outcome of a command back to its sender.
type AckEvent struct {
	Type       string `json:"type"`
	Op         string `json:"op"`
	InstanceID string `json:"instance_id,omitempty"`
	Accepted   bool   `json:"accepted"`
	Detail     string `json:"detail,omitempty"`
}

// DamageNotice is delivered to a struck holder.
type DamageNotice struct {
	Type     string `json:"type"`
	SourceID string `json:"source_id"`
	Damage   int    `json:"damage"`
	Point    *Vec   `json:"point,omitempty"`
}

// TransferNotice tells a holder a weapon instance just landed in their
// session.
type TransferNotice struct {
	Type       string `json:"type"`
	InstanceID string `json:"instance_id"`
	WeaponID   string `json:"weapon_id"`
	From       string `json:"from"`
	Loaded     int    `json:"loaded"`
	Reserve    int    `json:"reserve"`
}

// EffectEvent is broadcast to every subscriber so clients can mirror the
// server's effect instances.
type EffectEvent struct {
	Type   string `json:"type"`
	Handle string `json:"handle"`
	Kind   string `json:"kind,omitempty"`
	Owner  string `json:"owner,omitempty"`
	Point  *Vec   `json:"point,omitempty"`
}
